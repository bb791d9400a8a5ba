package core

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracewalk/dbgcore/pkg/regnum"
)

func u16(b []byte, off int, v uint16) { binary.LittleEndian.PutUint16(b[off:], v) }
func u32(b []byte, off int, v uint32) { binary.LittleEndian.PutUint32(b[off:], v) }
func u64(b []byte, off int, v uint64) { binary.LittleEndian.PutUint64(b[off:], v) }

// buildELFCore assembles a minimal x86-64 ELF core: one PT_NOTE carrying an
// NT_PRSTATUS, one PT_LOAD at vaddr 0x1000 backed by four bytes.
func buildELFCore(t *testing.T) []byte {
	t.Helper()

	const (
		ehsize    = 64
		phentsize = 56
		phnum     = 2
		noteOff   = ehsize + phnum*phentsize // 176
	)

	// NT_PRSTATUS note: header (12) + "CORE\0" padded (8) + desc.
	descsz := prRegOffset + 27*8
	note := make([]byte, 12+8+descsz)
	u32(note, 0, 5)              // namesz
	u32(note, 4, uint32(descsz)) // descsz
	u32(note, 8, ntPrstatus)
	copy(note[12:], "CORE\x00")
	reg := 12 + 8 + prRegOffset
	u64(note, reg+16*8, 0x1122) // rip
	u64(note, reg+19*8, 0x7f00) // rsp
	u64(note, reg+4*8, 0x7f40)  // rbp

	loadOff := noteOff + len(note)
	payload := []byte{0xde, 0xad, 0xbe, 0xef}

	img := make([]byte, loadOff+len(payload))
	img[0], img[1], img[2], img[3] = 0x7f, 'E', 'L', 'F'
	img[4], img[5] = 2, 1 // ELFCLASS64, little-endian
	u16(img, 16, etCore)
	u16(img, 18, emX8664)
	u64(img, 32, ehsize) // e_phoff
	u16(img, 54, phentsize)
	u16(img, 56, phnum)

	// PT_NOTE.
	ph := ehsize
	u32(img, ph, ptNote)
	u64(img, ph+8, uint64(noteOff))
	u64(img, ph+32, uint64(len(note))) // p_filesz
	u64(img, ph+40, uint64(len(note))) // p_memsz

	// PT_LOAD: vaddr 0x1000, four bytes on file, one page in memory.
	ph += phentsize
	u32(img, ph, ptLoad)
	u64(img, ph+8, uint64(loadOff))
	u64(img, ph+16, 0x1000)
	u64(img, ph+32, uint64(len(payload)))
	u64(img, ph+40, 0x1000)

	copy(img[noteOff:], note)
	copy(img[loadOff:], payload)
	return img
}

func TestELFCoreReadMemory(t *testing.T) {
	d, err := LoadFromMemory(buildELFCore(t))
	require.NoError(t, err)
	assert.Equal(t, regnum.ArchAMD64, d.Arch)

	got, err := d.ReadMemory(0x1000, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, got)
}

func TestELFCoreElidedBytesReadZero(t *testing.T) {
	d, err := LoadFromMemory(buildELFCore(t))
	require.NoError(t, err)
	// Bytes past filesz but inside memsz existed as zero pages.
	got, err := d.ReadMemory(0x1004, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0}, got)
}

func TestELFCoreUnmappedAddress(t *testing.T) {
	d, err := LoadFromMemory(buildELFCore(t))
	require.NoError(t, err)
	_, err = d.ReadMemory(0x9000, 4)
	var want *AddressNotMappedError
	require.ErrorAs(t, err, &want)
	assert.Equal(t, uint64(0x9000), want.Addr)
}

func TestELFCoreRegisters(t *testing.T) {
	d, err := LoadFromMemory(buildELFCore(t))
	require.NoError(t, err)
	regs := d.Registers()
	require.NotNil(t, regs)
	assert.Equal(t, uint64(0x1122), regs.PC)
	assert.Equal(t, uint64(0x7f00), regs.SP)
	assert.Equal(t, uint64(0x7f40), regs.FP)
}

func TestNotACore(t *testing.T) {
	_, err := LoadFromMemory([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrNotCore)

	// A valid-magic ELF that is not ET_CORE.
	img := make([]byte, 64)
	img[0], img[1], img[2], img[3] = 0x7f, 'E', 'L', 'F'
	u16(img, 16, 2) // ET_EXEC
	_, err = LoadFromMemory(img)
	assert.ErrorIs(t, err, ErrNotCore)
}

// buildMachOCore assembles a minimal arm64 Mach-O core: one LC_SEGMENT_64
// and one LC_THREAD with an ARM_THREAD_STATE64 flavor.
func buildMachOCore(t *testing.T) []byte {
	t.Helper()

	const hdrSize = 32
	seg := make([]byte, 72)
	u32(seg, 0, lcSegment64)
	u32(seg, 4, uint32(len(seg)))

	stateWords := 34 // x0..x28, fp, lr, sp, pc, cpsr as u64 slots
	thr := make([]byte, 8+8+stateWords*8)
	u32(thr, 0, lcThread)
	u32(thr, 4, uint32(len(thr)))
	u32(thr, 8, armThreadState64)
	u32(thr, 12, uint32(stateWords*2)) // count in 32-bit words
	st := 16
	u64(thr, st+29*8, 0xfb00)  // fp
	u64(thr, st+31*8, 0xfc00)  // sp
	u64(thr, st+32*8, 0x4400)  // pc

	payload := []byte{0xca, 0xfe}
	dataOff := hdrSize + len(seg) + len(thr)

	u64(seg, 24, 0x2000)               // vmaddr
	u64(seg, 32, 0x1000)               // vmsize
	u64(seg, 40, uint64(dataOff))      // fileoff
	u64(seg, 48, uint64(len(payload))) // filesize

	img := make([]byte, dataOff+len(payload))
	u32(img, 0, 0xfeedfacf)
	u32(img, 4, cpuTypeArm64)
	u32(img, 12, mhCore)
	u32(img, 16, 2) // ncmds
	copy(img[hdrSize:], seg)
	copy(img[hdrSize+len(seg):], thr)
	copy(img[dataOff:], payload)
	return img
}

func TestMachOCore(t *testing.T) {
	d, err := LoadFromMemory(buildMachOCore(t))
	require.NoError(t, err)
	assert.Equal(t, regnum.ArchARM64, d.Arch)

	got, err := d.ReadMemory(0x2000, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xca, 0xfe}, got)

	regs := d.Registers()
	require.NotNil(t, regs)
	assert.Equal(t, uint64(0x4400), regs.PC)
	assert.Equal(t, uint64(0xfc00), regs.SP)
	assert.Equal(t, uint64(0xfb00), regs.FP)
}
