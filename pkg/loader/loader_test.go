package loader

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromMemoryTooSmall(t *testing.T) {
	_, err := LoadFromMemory(make([]byte, 10))
	assert.ErrorIs(t, err, ErrTooSmall)
}

func TestLoadFromMemoryInvalidMagic(t *testing.T) {
	_, err := LoadFromMemory(append([]byte{0, 1, 2, 3, 4, 5, 6, 7}, make([]byte, 56)...))
	assert.ErrorIs(t, err, ErrInvalidMagic)
}

// buildMinimalELF64 constructs a valid, minimal little-endian ELF64 header
// with zero sections, to exercise the "valid header, zero commands" path.
func buildMinimalELF64(t *testing.T) []byte {
	t.Helper()
	buf := make([]byte, elfeHdrSize)
	buf[0], buf[1], buf[2], buf[3] = 0x7f, 'E', 'L', 'F'
	buf[4] = elfClass64
	buf[5] = elfDataLSB
	// Everything else (phoff/shoff/counts) stays zero.
	return buf
}

func TestLoadFromMemoryZeroSections(t *testing.T) {
	data := buildMinimalELF64(t)
	b, err := LoadFromMemory(data)
	require.NoError(t, err)
	assert.Equal(t, FormatELF, b.Format)
	_, ok := b.GetSectionData("info")
	assert.False(t, ok)
}

func TestLoadFromMemoryRejects32Bit(t *testing.T) {
	buf := make([]byte, elfeHdrSize)
	buf[0], buf[1], buf[2], buf[3] = 0x7f, 'E', 'L', 'F'
	buf[4] = 1 // ELFCLASS32
	buf[5] = elfDataLSB
	_, err := LoadFromMemory(buf)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestLoadFromMemoryRejectsBigEndian(t *testing.T) {
	buf := make([]byte, elfeHdrSize)
	buf[0], buf[1], buf[2], buf[3] = 0x7f, 'E', 'L', 'F'
	buf[4] = elfClass64
	buf[5] = 2 // ELFDATA2MSB
	_, err := LoadFromMemory(buf)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestMachOMagicDetection(t *testing.T) {
	buf := make([]byte, 32)
	binary.LittleEndian.PutUint32(buf, machMagic64)
	b, err := LoadFromMemory(buf)
	require.NoError(t, err)
	assert.Equal(t, FormatMachO, b.Format)
}

func TestELFDebugSectionEnumeration(t *testing.T) {
	// Build a minimal ELF with one section header (.debug_line) plus the
	// shstrtab section itself.
	const shstrtabIdx = 1
	strtab := append([]byte{0}, []byte(".debug_line\x00.shstrtab\x00")...)
	lineData := []byte{0xde, 0xad, 0xbe, 0xef}

	hdr := buildMinimalELF64(t)
	bo := binary.LittleEndian

	shoff := uint64(len(hdr))
	shnum := uint16(2)
	shentsize := uint16(elfShdrSize)

	bo.PutUint64(hdr[40:48], shoff) // e_shoff
	bo.PutUint16(hdr[58:60], shentsize)
	bo.PutUint16(hdr[60:62], shnum)
	bo.PutUint16(hdr[62:64], shstrtabIdx)

	var out bytes.Buffer
	out.Write(hdr)

	// Section 0: .debug_line
	dataOff := uint64(len(hdr)) + uint64(shentsize)*uint64(shnum)
	sh0 := make([]byte, elfShdrSize)
	bo.PutUint32(sh0[0:4], 1) // name offset into strtab: ".debug_line"
	bo.PutUint64(sh0[24:32], dataOff)
	bo.PutUint64(sh0[32:40], uint64(len(lineData)))
	out.Write(sh0)

	// Section 1: .shstrtab
	sh1 := make([]byte, elfShdrSize)
	bo.PutUint32(sh1[0:4], uint32(1+len(".debug_line\x00")))
	strtabOff := dataOff + uint64(len(lineData))
	bo.PutUint64(sh1[24:32], strtabOff)
	bo.PutUint64(sh1[32:40], uint64(len(strtab)))
	out.Write(sh1)

	out.Write(lineData)
	out.Write(strtab)

	b, err := LoadFromMemory(out.Bytes())
	require.NoError(t, err)
	got, ok := b.GetSectionData("line")
	require.True(t, ok)
	assert.Equal(t, lineData, got)
	assert.True(t, b.HasDebugInfo())
}
