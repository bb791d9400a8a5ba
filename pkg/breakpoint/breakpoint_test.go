package breakpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracewalk/dbgcore/pkg/dwarf/line"
	"github.com/tracewalk/dbgcore/pkg/regnum"
)

// fakeMem is a sparse byte-addressable memory.
type fakeMem map[uint64]byte

func (f fakeMem) ReadMemory(addr uint64, size int) ([]byte, error) {
	out := make([]byte, size)
	for i := range out {
		out[i] = f[addr+uint64(i)]
	}
	return out, nil
}

func (f fakeMem) WriteMemory(addr uint64, data []byte) error {
	for i, b := range data {
		f[addr+uint64(i)] = b
	}
	return nil
}

func testProgram() *line.Program {
	return &line.Program{
		Version: 4,
		Files:   []line.FileEntry{{Name: "main.c"}},
		Entries: []line.LineEntry{
			{Address: 0x1000, File: 1, Line: 10, IsStmt: true},
			{Address: 0x1010, File: 1, Line: 12, IsStmt: true},
			{Address: 0x1014, File: 1, Line: 12, IsStmt: false},
			{Address: 0x1020, File: 1, Line: 15, IsStmt: true},
			{Address: 0x1030, File: 1, Line: 15, EndSequence: true},
		},
	}
}

func TestResolveAndSetExactLine(t *testing.T) {
	m := NewManager(regnum.ArchAMD64)
	bp, err := m.ResolveAndSet("main.c", 12, testProgram(), "")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1010), bp.Addr)
	assert.Equal(t, uint32(1), bp.ID)
}

func TestResolveAndSetSnapsToNextStatement(t *testing.T) {
	m := NewManager(regnum.ArchAMD64)
	bp, err := m.ResolveAndSet("main.c", 13, testProgram(), "")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1020), bp.Addr, "line 13 has no row, should snap to line 15")
}

func TestResolveAndSetNoAddress(t *testing.T) {
	m := NewManager(regnum.ArchAMD64)
	_, err := m.ResolveAndSet("main.c", 99, testProgram(), "")
	var want *NoAddressForLineError
	require.ErrorAs(t, err, &want)
}

func TestWriteAndRemoveRoundTrip(t *testing.T) {
	mem := fakeMem{0x1010: 0x55, 0x1011: 0x48}
	m := NewManager(regnum.ArchAMD64)
	bp, err := m.ResolveAndSet("main.c", 12, testProgram(), "")
	require.NoError(t, err)

	require.NoError(t, m.Write(bp.ID, mem))
	assert.Equal(t, byte(0xcc), mem[0x1010], "trap byte installed")
	assert.Equal(t, []byte{0x55}, bp.OriginalData)

	found, ok := m.FindByAddress(0x1010)
	require.True(t, ok)
	assert.Same(t, bp, found)

	require.NoError(t, m.RemoveBreakpoint(bp.ID, mem))
	assert.Equal(t, byte(0x55), mem[0x1010], "original byte restored")
	_, ok = m.FindByID(bp.ID)
	assert.False(t, ok)
}

func TestWriteFailureRollsBack(t *testing.T) {
	m := NewManager(regnum.ArchAMD64)
	bp := m.SetAtAddress(0x1000, "main.c", 10)
	err := m.Write(bp.ID, failingMem{})
	require.Error(t, err)
	_, ok := m.FindByID(bp.ID)
	assert.False(t, ok, "failed write must roll the entry back")
}

type failingMem struct{}

func (failingMem) ReadMemory(addr uint64, size int) ([]byte, error) {
	return nil, assert.AnError
}

func (failingMem) WriteMemory(addr uint64, data []byte) error { return assert.AnError }

func TestIDsMonotonicAndListOrdered(t *testing.T) {
	m := NewManager(regnum.ArchAMD64)
	m.SetAtAddress(0x3000, "a.c", 3)
	m.SetAtAddress(0x1000, "a.c", 1)
	m.SetAtAddress(0x2000, "a.c", 2)
	list := m.List()
	require.Len(t, list, 3)
	for i, bp := range list {
		assert.Equal(t, uint32(i+1), bp.ID)
	}
}

func TestSetAtAddressDeduplicates(t *testing.T) {
	m := NewManager(regnum.ArchAMD64)
	a := m.SetAtAddress(0x1000, "a.c", 1)
	b := m.SetAtAddress(0x1000, "a.c", 1)
	assert.Same(t, a, b)
}

func TestShouldStop(t *testing.T) {
	m := NewManager(regnum.ArchAMD64)
	bp := m.SetAtAddress(0x1000, "a.c", 1)

	assert.True(t, m.ShouldStop(bp, nil), "unconditional always stops")

	bp.Condition = "x > 3"
	assert.True(t, m.ShouldStop(bp, func(string) (bool, error) { return true, nil }))
	assert.False(t, m.ShouldStop(bp, func(string) (bool, error) { return false, nil }))
	assert.True(t, m.ShouldStop(bp, func(string) (bool, error) { return false, assert.AnError }),
		"evaluator errors fail open")
}

func TestRecordHit(t *testing.T) {
	m := NewManager(regnum.ArchAMD64)
	bp := m.SetAtAddress(0x1000, "a.c", 1)
	m.RecordHit(bp.ID)
	m.RecordHit(bp.ID)
	assert.Equal(t, uint32(2), bp.HitCount)
}

func TestARM64TrapWidth(t *testing.T) {
	mem := fakeMem{0x2000: 0x11, 0x2001: 0x22, 0x2002: 0x33, 0x2003: 0x44}
	m := NewManager(regnum.ArchARM64)
	bp := m.SetAtAddress(0x2000, "a.c", 1)
	require.NoError(t, m.Write(bp.ID, mem))
	assert.Equal(t, []byte{0x11, 0x22, 0x33, 0x44}, bp.OriginalData)
	assert.Equal(t, byte(0xd4), mem[0x2003], "BRK #0 is 4 bytes")
}
