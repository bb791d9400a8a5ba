// Package loader locates debug info in executables: it
// memory-maps an executable, classifies it as Mach-O or ELF, and enumerates
// the DWARF debug sections by name. Nothing here parses the DWARF data
// itself; that is the job of pkg/dwarf/*.
package loader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tracewalk/dbgcore/internal/dbglog"
)

// Format identifies the container format of a loaded binary.
type Format int

const (
	FormatUnknown Format = iota
	FormatELF
	FormatMachO
)

func (f Format) String() string {
	switch f {
	case FormatELF:
		return "elf"
	case FormatMachO:
		return "macho"
	default:
		return "unknown"
	}
}

// Errors returned by Load/LoadFromMemory.
var (
	ErrTooSmall         = errors.New("loader: file too small to be a valid binary")
	ErrInvalidMagic     = errors.New("loader: unrecognized magic number")
	ErrUnsupportedFormat = errors.New("loader: unsupported binary format (32-bit, big-endian, or non-native class)")
	ErrIncompleteRead   = errors.New("loader: truncated file, section/command table runs past EOF")
)

// section records where one named debug section lives in the file.
type section struct {
	offset uint64
	size   uint64
	data   []byte // decompressed bytes; nil means the section is read in place from Binary.Data
}

// Binary is a loaded executable with its debug sections located but not yet
// parsed.
type Binary struct {
	Path     string
	Format   Format
	Data     []byte // the full file image; uncompressed sections are borrowed slices of this
	AddrSize int    // 4 or 8; always 8 for the formats this loader accepts

	// TextAddr/TextSize describe the primary executable segment/section as
	// recorded in the binary's own headers (link-time, pre-ASLR-slide).
	TextAddr uint64
	TextSize uint64
	Entry    uint64

	sections map[string]section
}

var log = dbglog.For(dbglog.DWARF)

// knownSections are the section names the engine cares about, keyed by the
// canonical (ELF) name; macho.go/elf.go translate to/from the Mach-O
// `__debug_*` spelling.
var knownSections = []string{
	"info", "abbrev", "line", "str", "str_offsets", "addr",
	"ranges", "aranges", "line_str",
}

// Load reads path and classifies it as ELF or Mach-O.
func Load(path string) (*Binary, error) {
	data, err := mmapOrRead(path)
	if err != nil {
		return nil, err
	}
	b, err := LoadFromMemory(data)
	if err != nil {
		return nil, err
	}
	b.Path = path
	return b, nil
}

// LoadFromMemory classifies an in-memory image as ELF or Mach-O.
func LoadFromMemory(data []byte) (*Binary, error) {
	// 32 bytes is the smallest complete header of either accepted format
	// (a Mach-O 64 header); anything shorter cannot be a valid binary.
	if len(data) < 32 {
		return nil, ErrTooSmall
	}
	switch {
	case data[0] == 0x7f && data[1] == 'E' && data[2] == 'L' && data[3] == 'F':
		return parseELF(data)
	case isMachO64Magic(data):
		return parseMachO(data)
	default:
		return nil, ErrInvalidMagic
	}
}

// GetSectionData returns the bytes of a named debug section (e.g. "info",
// "abbrev", "line", "eh_frame"), or false if the binary carries none by that
// name. Absent optional sections are not an error.
func (b *Binary) GetSectionData(name string) ([]byte, bool) {
	s, ok := b.sections[name]
	if !ok {
		return nil, false
	}
	if s.data != nil {
		return s.data, true
	}
	if s.offset+s.size > uint64(len(b.Data)) {
		return nil, false
	}
	return b.Data[s.offset : s.offset+s.size], true
}

// HasDebugInfo reports whether the binary carries a usable line table,
// which the Engine uses to decide whether setBreakpoint can ever resolve.
func (b *Binary) HasDebugInfo() bool {
	_, ok := b.GetSectionData("line")
	return ok
}

// LoadWithDSYMFallback loads path and, on macOS, falls back to the
// `<path>.dSYM/Contents/Resources/DWARF/<basename>` companion bundle when
// the primary binary has no `__debug_line` section.
func LoadWithDSYMFallback(path string) (*Binary, error) {
	b, err := Load(path)
	if err != nil {
		return nil, err
	}
	if b.HasDebugInfo() {
		return b, nil
	}
	dsymPath := filepath.Join(path+".dSYM", "Contents", "Resources", "DWARF", filepath.Base(path))
	if _, statErr := os.Stat(dsymPath); statErr != nil {
		log.Debugf("no dSYM bundle at %s, continuing without debug info", dsymPath)
		return b, nil
	}
	dsym, err := Load(dsymPath)
	if err != nil {
		return nil, fmt.Errorf("loader: found dSYM bundle but failed to load it: %w", err)
	}
	if !dsym.HasDebugInfo() {
		return b, nil
	}
	// Keep the original binary's text address/entry point (the dSYM bundle
	// has its own, unrelated, Mach-O header) but borrow its sections.
	dsym.TextAddr = b.TextAddr
	dsym.TextSize = b.TextSize
	dsym.Entry = b.Entry
	dsym.Path = b.Path
	log.Infof("loaded debug info from dSYM bundle %s", dsymPath)
	return dsym, nil
}
