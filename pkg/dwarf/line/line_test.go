package line

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildV4Program builds a minimal DWARF4 .debug_line unit with one sequence:
// a single DW_LNE_set_address to 0x1000, DW_LNS_copy (line 10), advance_pc
// by 12 and advance_line by +2, copy (line 12), then
// end_sequence at 0x100c.
func buildV4Program(t *testing.T) []byte {
	t.Helper()
	var body bytes.Buffer // everything after header_length field

	minInstrLen := byte(1)
	body.WriteByte(minInstrLen)
	body.WriteByte(1)    // max_ops_per_instruction (v4)
	body.WriteByte(1)    // default_is_stmt
	body.WriteByte(0xfb) // line_base = -5
	body.WriteByte(14)   // line_range
	body.WriteByte(13)   // opcode_base
	// standard_opcode_lengths for opcodes 1..12
	body.Write([]byte{0, 1, 1, 1, 1, 0, 0, 0, 1, 0, 0, 1})
	// include_directories: none
	body.WriteByte(0)
	// file_names: one entry "main.c"
	body.WriteString("main.c")
	body.WriteByte(0)
	writeULEB(&body, 0) // dir index
	writeULEB(&body, 0) // mtime
	writeULEB(&body, 0) // length
	body.WriteByte(0)   // end of file list

	headerLength := uint32(body.Len())

	var prog bytes.Buffer
	// DW_LNE_set_address
	prog.WriteByte(0x00)
	prog.WriteByte(9) // length: 1 (sub-opcode) + 8 (address)
	prog.WriteByte(2) // DW_LNE_set_address
	addr := make([]byte, 8)
	binary.LittleEndian.PutUint64(addr, 0x1000)
	prog.Write(addr)

	// DW_LNS_advance_line by +9 (line starts at 1, want 10)
	prog.WriteByte(3)
	writeSLEB(&prog, 9)
	// DW_LNS_copy
	prog.WriteByte(1)
	// DW_LNS_advance_pc by 12
	prog.WriteByte(2)
	writeULEB(&prog, 12)
	// DW_LNS_advance_line by +2
	prog.WriteByte(3)
	writeSLEB(&prog, 2)
	// DW_LNS_copy
	prog.WriteByte(1)
	// DW_LNE_end_sequence
	prog.WriteByte(0x00)
	prog.WriteByte(1)
	prog.WriteByte(1)

	var unit bytes.Buffer
	unit.Write(uint16le(4)) // version
	unit.Write(uint32le(headerLength))
	unit.Write(body.Bytes())
	unit.Write(prog.Bytes())

	var out bytes.Buffer
	out.Write(uint32le(uint32(unit.Len())))
	out.Write(unit.Bytes())
	return out.Bytes()
}

func writeULEB(buf *bytes.Buffer, v uint64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		buf.WriteByte(b)
		if v == 0 {
			break
		}
	}
}

func writeSLEB(buf *bytes.Buffer, v int64) {
	more := true
	for more {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			more = false
		} else {
			b |= 0x80
		}
		buf.WriteByte(b)
	}
}

func uint16le(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func uint32le(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func TestParseV4AndResolve(t *testing.T) {
	data := buildV4Program(t)
	prog, err := Parse(data, Sections{})
	require.NoError(t, err)
	require.Len(t, prog.Entries, 3)

	assert.Equal(t, uint64(0x1000), prog.Entries[0].Address)
	assert.Equal(t, uint32(10), prog.Entries[0].Line)
	assert.Equal(t, uint64(0x100c), prog.Entries[1].Address)
	assert.Equal(t, uint32(12), prog.Entries[1].Line)
	assert.True(t, prog.Entries[2].EndSequence)

	loc := prog.Resolve(0x1005)
	require.NotNil(t, loc)
	assert.Equal(t, "main.c", loc.File)
	assert.Equal(t, uint32(10), loc.Line)

	loc2 := prog.Resolve(0x100c)
	require.NotNil(t, loc2)
	assert.Equal(t, uint32(12), loc2.Line)

	assert.Nil(t, prog.Resolve(0x0fff))
}

func TestLineToPCExactStmt(t *testing.T) {
	data := buildV4Program(t)
	prog, err := Parse(data, Sections{})
	require.NoError(t, err)

	pc, ok := prog.LineToPC("main.c", 12)
	require.True(t, ok)
	assert.Equal(t, uint64(0x100c), pc)
}

func TestShiftAddressesPreservesOrder(t *testing.T) {
	data := buildV4Program(t)
	prog, err := Parse(data, Sections{})
	require.NoError(t, err)
	prog.Resolve(0x1000) // force the sorted index to be built before the shift

	prog.ShiftAddresses(0x2000000)
	loc := prog.Resolve(0x1000 + 0x2000000)
	require.NotNil(t, loc)
	assert.Equal(t, uint32(10), loc.Line)
}
