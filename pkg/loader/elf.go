package loader

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"io"
)

// Minimal ELF64 little-endian structures, decoded by hand.
// Only the fields the debug-section enumeration needs are kept.
const (
	elfIdentSize = 16
	elfeHdrSize  = elfIdentSize + 2 + 2 + 4 + 8 + 8 + 8 + 4 + 2 + 2 + 2 + 2 + 2 + 2
	elfShdrSize  = 64

	elfClass64   = 2
	elfDataLSB   = 1
	shtNoBits    = 8
	shfCompressed = 1 << 11
)

type elf64Shdr struct {
	Name      uint32
	Type      uint32
	Flags     uint64
	Addr      uint64
	Off       uint64
	Size      uint64
	Link      uint32
	Info      uint32
	AddrAlign uint64
	EntSize   uint64
}

type elf64Phdr struct {
	Type   uint32
	Flags  uint32
	Off    uint64
	Vaddr  uint64
	Paddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

const (
	ptLoad = 1
	ptNote = 4
)

// debugSectionNames maps the canonical names this loader exposes to the
// on-disk ELF section name (with and without the zlib-compressed spelling).
var debugSectionNames = map[string]string{
	"info":        ".debug_info",
	"abbrev":      ".debug_abbrev",
	"line":        ".debug_line",
	"str":         ".debug_str",
	"str_offsets": ".debug_str_offsets",
	"addr":        ".debug_addr",
	"ranges":      ".debug_ranges",
	"aranges":     ".debug_aranges",
	"line_str":    ".debug_line_str",
	"eh_frame":    ".eh_frame",
}

func parseELF(data []byte) (*Binary, error) {
	if len(data) < elfeHdrSize {
		return nil, ErrTooSmall
	}
	ident := data[:elfIdentSize]
	if ident[4] != elfClass64 {
		return nil, ErrUnsupportedFormat
	}
	if ident[5] != elfDataLSB {
		return nil, ErrUnsupportedFormat
	}

	var (
		byteOrder = binary.LittleEndian
		off       = elfIdentSize
	)
	_ = byteOrder.Uint16(data[off : off+2]) // e_type, unused here
	off += 2
	_ = byteOrder.Uint16(data[off : off+2]) // e_machine, unused here
	off += 2
	off += 4 // e_version
	entry := byteOrder.Uint64(data[off : off+8])
	off += 8
	phoff := byteOrder.Uint64(data[off : off+8])
	off += 8
	shoff := byteOrder.Uint64(data[off : off+8])
	off += 8
	off += 4 // e_flags
	off += 2 // e_ehsize
	phentsize := byteOrder.Uint16(data[off : off+2])
	off += 2
	phnum := byteOrder.Uint16(data[off : off+2])
	off += 2
	shentsize := byteOrder.Uint16(data[off : off+2])
	off += 2
	shnum := byteOrder.Uint16(data[off : off+2])
	off += 2
	shstrndx := byteOrder.Uint16(data[off : off+2])

	if shoff == 0 || shnum == 0 {
		// Valid header, but no section table (e.g. a stripped static blob).
		return &Binary{Format: FormatELF, Data: data, AddrSize: 8, Entry: entry, sections: map[string]section{}}, nil
	}

	shdrs := make([]elf64Shdr, shnum)
	for i := 0; i < int(shnum); i++ {
		base := int(shoff) + i*int(shentsize)
		if base+int(elfShdrSize) > len(data) {
			return nil, ErrIncompleteRead
		}
		raw := data[base : base+elfShdrSize]
		shdrs[i] = elf64Shdr{
			Name:      byteOrder.Uint32(raw[0:4]),
			Type:      byteOrder.Uint32(raw[4:8]),
			Flags:     byteOrder.Uint64(raw[8:16]),
			Addr:      byteOrder.Uint64(raw[16:24]),
			Off:       byteOrder.Uint64(raw[24:32]),
			Size:      byteOrder.Uint64(raw[32:40]),
			Link:      byteOrder.Uint32(raw[40:44]),
			Info:      byteOrder.Uint32(raw[44:48]),
			AddrAlign: byteOrder.Uint64(raw[48:56]),
			EntSize:   byteOrder.Uint64(raw[56:64]),
		}
	}

	if int(shstrndx) >= len(shdrs) {
		return nil, ErrIncompleteRead
	}
	strtab := shdrs[shstrndx]
	if strtab.Off+strtab.Size > uint64(len(data)) {
		return nil, ErrIncompleteRead
	}
	strtabData := data[strtab.Off : strtab.Off+strtab.Size]

	sections := map[string]section{}
	for _, sh := range shdrs {
		name := cstr(strtabData, int(sh.Name))
		for canon, elfName := range debugSectionNames {
			if name != elfName && name != ".zdebug_"+elfName[len(".debug_"):] {
				continue
			}
			if sh.Off+sh.Size > uint64(len(data)) {
				continue
			}
			raw := data[sh.Off : sh.Off+sh.Size]
			if sh.Flags&shfCompressed != 0 || bytes.HasPrefix(raw, []byte("ZLIB")) {
				decompressed, err := decompressSection(raw, sh.Flags&shfCompressed != 0)
				if err == nil {
					sections[canon] = section{data: decompressed}
					continue
				}
			}
			sections[canon] = section{offset: sh.Off, size: sh.Size}
		}
	}

	// Locate the first executable PT_LOAD segment to report a text base,
	// needed by the ASLR-slide reconciler in pkg/engine.
	var textAddr, textSize uint64
	if phoff != 0 && phnum != 0 {
		for i := 0; i < int(phnum); i++ {
			base := int(phoff) + i*int(phentsize)
			if base+56 > len(data) {
				break
			}
			raw := data[base : base+56]
			typ := byteOrder.Uint32(raw[0:4])
			flags := byteOrder.Uint32(raw[4:8])
			vaddr := byteOrder.Uint64(raw[16:24])
			memsz := byteOrder.Uint64(raw[40:48])
			const pfX = 1
			if typ == ptLoad && flags&pfX != 0 && textAddr == 0 {
				textAddr = vaddr
				textSize = memsz
			}
		}
	}

	return &Binary{
		Format:   FormatELF,
		Data:     data,
		AddrSize: 8,
		Entry:    entry,
		TextAddr: textAddr,
		TextSize: textSize,
		sections: sections,
	}, nil
}

// decompressSection handles both the legacy ".zdebug_*"/"ZLIB" prefix
// encoding and the ELF64 SHF_COMPRESSED Elf64_Chdr header.
func decompressSection(raw []byte, chdr bool) ([]byte, error) {
	var body []byte
	var sizeHint uint64
	if chdr {
		if len(raw) < 24 {
			return nil, ErrIncompleteRead
		}
		sizeHint = binary.LittleEndian.Uint64(raw[8:16])
		body = raw[24:]
	} else {
		if len(raw) < 12 || string(raw[:4]) != "ZLIB" {
			return nil, ErrIncompleteRead
		}
		sizeHint = binary.BigEndian.Uint64(raw[4:12])
		body = raw[12:]
	}
	zr, err := zlib.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	out := make([]byte, 0, sizeHint)
	buf := bytes.NewBuffer(out)
	if _, err := io.Copy(buf, zr); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func cstr(b []byte, off int) string {
	if off < 0 || off >= len(b) {
		return ""
	}
	end := off
	for end < len(b) && b[end] != 0 {
		end++
	}
	return string(b[off:end])
}
