// Package line decodes DWARF line-number programs: it runs
// the DWARF line-number state machine over .debug_line (versions 4 and 5,
// 32- and 64-bit DWARF formats) and produces the (address -> file, line,
// column) rows the rest of the engine resolves addresses against.
package line

import (
	"sort"

	lru "github.com/hashicorp/golang-lru"
	"github.com/tracewalk/dbgcore/internal/leb128"
)

// LineEntry is one row of the line-number matrix.
type LineEntry struct {
	Address     uint64
	File        uint32
	Line        uint32
	Column      uint32
	IsStmt      bool
	EndSequence bool
}

// FileEntry is one entry of the file-name table. DirIndex is 1-indexed into
// Directories for DWARF 4, 0-indexed for DWARF 5.
type FileEntry struct {
	Name     string
	DirIndex uint32
}

// SourceLocation is the result of resolving a PC through a line program.
type SourceLocation struct {
	File   string
	Line   uint32
	Column uint32
}

// Program is the parsed product of one .debug_line unit: every function's
// line program, as well as the file/directory tables it resolves file
// indices against.
type Program struct {
	Version      int
	Entries      []LineEntry // emission order, as produced by the state machine
	Files        []FileEntry
	Directories  []string

	sortedOnce []int // indices into Entries, sorted by Address, non-terminator only
	cache      *lru.Cache
}

// DWARF line-number opcode constants.
const (
	lnsCopy             = 1
	lnsAdvancePC        = 2
	lnsAdvanceLine      = 3
	lnsSetFile          = 4
	lnsSetColumn        = 5
	lnsNegateStmt       = 6
	lnsSetBasicBlock    = 7
	lnsConstAddPC       = 8
	lnsFixedAdvancePC   = 9
	lnsSetPrologueEnd   = 10
	lnsSetEpilogueBegin = 11
	lnsSetISA           = 12

	lneEndSequence     = 1
	lneSetAddress      = 2
	lneDefineFile      = 3
	lneSetDiscriminator = 4
)

// DW_FORM / DW_LNCT constants used by the DWARF 5 directory/file tables.
const (
	formString   = 0x08
	formStrp     = 0x0e
	formLineStrp = 0x1f
	formUdata    = 0x0f
	formData1    = 0x0b
	formData2    = 0x05
	formData4    = 0x06
	formData8    = 0x07
	formData16   = 0x1e
	formBlock    = 0x09
	formStrx     = 0x1a
	formStrx1    = 0x25
	formStrx2    = 0x26
	formStrx3    = 0x27
	formStrx4    = 0x28

	lnctPath           = 1
	lnctDirectoryIndex = 2
	lnctTimestamp      = 3
	lnctSize           = 4
	lnctMD5            = 5
)

// Sections bundles the auxiliary sections a DWARF 5 directory/file table may
// need to resolve string-form entries.
type Sections struct {
	DebugStr     []byte
	DebugLineStr []byte
}

type fieldFormat struct {
	contentType uint64
	form        uint64
}

type stateMachine struct {
	address     uint64
	file        uint32
	line        uint32
	column      uint32
	isStmt      bool
	endSequence bool
}

// Parse runs the DWARF line-number program in section and returns every
// emitted row. A malformed header or premature EOF returns whatever rows
// were produced before the malformation.
func Parse(section []byte, sec Sections) (*Program, error) {
	r := leb128.NewReader(section)
	prog := &Program{}

	unitLength, is64, err := readInitialLength(r)
	if err != nil {
		return prog, err
	}
	unitEnd := r.Pos() + int(unitLength)
	if unitEnd > len(section) {
		unitEnd = len(section)
	}

	version, err := r.ReadU16()
	if err != nil {
		return prog, err
	}
	prog.Version = int(version)

	addressSize := 8
	if version >= 5 {
		asz, err := r.ReadByte()
		if err != nil {
			return prog, err
		}
		addressSize = int(asz)
		if _, err := r.ReadByte(); err != nil { // segment_selector_size
			return prog, err
		}
	}

	var headerLength uint64
	if is64 {
		headerLength, err = r.ReadU64()
	} else {
		var v uint32
		v, err = r.ReadU32()
		headerLength = uint64(v)
	}
	if err != nil {
		return prog, err
	}
	programStart := r.Pos() + int(headerLength)

	minInstrLen, err := r.ReadByte()
	if err != nil {
		return prog, err
	}
	maxOpsPerInstr := byte(1)
	if version >= 4 {
		maxOpsPerInstr, err = r.ReadByte()
		if err != nil {
			return prog, err
		}
	}
	_ = maxOpsPerInstr // VLIW op-index tracking is out of scope; address-only stepping.

	defaultIsStmtByte, err := r.ReadByte()
	if err != nil {
		return prog, err
	}
	defaultIsStmt := defaultIsStmtByte != 0

	lineBaseByte, err := r.ReadByte()
	if err != nil {
		return prog, err
	}
	lineBase := int8(lineBaseByte)

	lineRange, err := r.ReadByte()
	if err != nil {
		return prog, err
	}
	if lineRange == 0 {
		lineRange = 1 // guard against divide-by-zero on malformed input
	}

	opcodeBase, err := r.ReadByte()
	if err != nil {
		return prog, err
	}

	stdOpcodeLengths := make([]byte, 0, int(opcodeBase)-1)
	for i := 0; i < int(opcodeBase)-1; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return prog, err
		}
		stdOpcodeLengths = append(stdOpcodeLengths, b)
	}

	if version >= 5 {
		if err := parseV5Tables(r, prog, sec, addressSize); err != nil {
			return prog, err
		}
	} else {
		if err := parseV4Tables(r, prog); err != nil {
			return prog, err
		}
	}

	// Resume exactly at the program start recorded by header_length, in
	// case the directory/file tables didn't consume precisely that many
	// bytes (e.g. unknown DWARF 5 content types we skip conservatively).
	if programStart >= 0 && programStart <= len(section) {
		r.SeekTo(programStart)
	}

	sm := stateMachine{isStmt: defaultIsStmt, file: initialFileIndex(int(version)), line: 1}
	emit := func(endSeq bool) {
		prog.Entries = append(prog.Entries, LineEntry{
			Address: sm.address, File: sm.file, Line: sm.line,
			Column: sm.column, IsStmt: sm.isStmt, EndSequence: endSeq,
		})
	}
	reset := func() {
		sm = stateMachine{isStmt: defaultIsStmt, file: initialFileIndex(int(version)), line: 1}
	}

	for r.Pos() < unitEnd {
		opcode, err := r.ReadByte()
		if err != nil {
			return prog, nil
		}
		switch {
		case opcode == 0:
			length, err := r.ReadULEB128()
			if err != nil {
				return prog, nil
			}
			opStart := r.Pos()
			if length == 0 {
				continue
			}
			sub, err := r.ReadByte()
			if err != nil {
				return prog, nil
			}
			switch sub {
			case lneEndSequence:
				sm.endSequence = true
				emit(true)
				reset()
			case lneSetAddress:
				addr, err := r.ReadAddress(addressSize)
				if err != nil {
					return prog, nil
				}
				sm.address = addr
			case lneSetDiscriminator:
				if _, err := r.ReadULEB128(); err != nil {
					return prog, nil
				}
			default:
				// DW_LNE_define_file and vendor extensions: skip remaining bytes.
			}
			r.SeekTo(opStart + int(length))

		case int(opcode) < int(opcodeBase):
			switch opcode {
			case lnsCopy:
				emit(false)
			case lnsAdvancePC:
				adv, err := r.ReadULEB128()
				if err != nil {
					return prog, nil
				}
				sm.address += adv * uint64(minInstrLen)
			case lnsAdvanceLine:
				adv, err := r.ReadSLEB128()
				if err != nil {
					return prog, nil
				}
				sm.line = uint32(int64(sm.line) + adv)
			case lnsSetFile:
				f, err := r.ReadULEB128()
				if err != nil {
					return prog, nil
				}
				sm.file = uint32(f)
			case lnsSetColumn:
				c, err := r.ReadULEB128()
				if err != nil {
					return prog, nil
				}
				sm.column = uint32(c)
			case lnsNegateStmt:
				sm.isStmt = !sm.isStmt
			case lnsSetBasicBlock:
				// no operand
			case lnsConstAddPC:
				adj := uint64(255 - int(opcodeBase))
				sm.address += (adj / uint64(lineRange)) * uint64(minInstrLen)
			case lnsFixedAdvancePC:
				adv, err := r.ReadU16()
				if err != nil {
					return prog, nil
				}
				sm.address += uint64(adv)
			case lnsSetPrologueEnd, lnsSetEpilogueBegin:
				// no operand
			case lnsSetISA:
				if _, err := r.ReadULEB128(); err != nil {
					return prog, nil
				}
			default:
				// Unknown standard opcode: skip its declared operand count.
				if int(opcode)-1 < len(stdOpcodeLengths) {
					n := stdOpcodeLengths[opcode-1]
					for i := byte(0); i < n; i++ {
						if _, err := r.ReadULEB128(); err != nil {
							return prog, nil
						}
					}
				}
			}

		default:
			adj := uint64(opcode) - uint64(opcodeBase)
			sm.address += (adj / uint64(lineRange)) * uint64(minInstrLen)
			sm.line = uint32(int64(sm.line) + int64(lineBase) + int64(adj%uint64(lineRange)))
			emit(false)
		}
	}

	return prog, nil
}

func initialFileIndex(version int) uint32 {
	if version >= 5 {
		return 0
	}
	return 1
}

func readInitialLength(r *leb128.Reader) (length uint64, is64 bool, err error) {
	v, err := r.ReadU32()
	if err != nil {
		return 0, false, err
	}
	if v == 0xffffffff {
		l, err := r.ReadU64()
		return l, true, err
	}
	return uint64(v), false, nil
}

func parseV4Tables(r *leb128.Reader, prog *Program) error {
	for {
		s, err := r.ReadCString()
		if err != nil {
			return err
		}
		if s == "" {
			break
		}
		prog.Directories = append(prog.Directories, s)
	}
	for {
		name, err := r.ReadCString()
		if err != nil {
			return err
		}
		if name == "" {
			break
		}
		dirIdx, err := r.ReadULEB128()
		if err != nil {
			return err
		}
		if _, err := r.ReadULEB128(); err != nil { // mtime
			return err
		}
		if _, err := r.ReadULEB128(); err != nil { // length
			return err
		}
		prog.Files = append(prog.Files, FileEntry{Name: name, DirIndex: uint32(dirIdx)})
	}
	return nil
}

func parseV5Tables(r *leb128.Reader, prog *Program, sec Sections, addrSize int) error {
	dirFormats, err := readFormatDescriptors(r)
	if err != nil {
		return err
	}
	dirCount, err := r.ReadULEB128()
	if err != nil {
		return err
	}
	for i := uint64(0); i < dirCount; i++ {
		name, err := readEntryByFormats(r, dirFormats, sec, addrSize)
		if err != nil {
			return err
		}
		prog.Directories = append(prog.Directories, name)
	}

	fileFormats, err := readFormatDescriptors(r)
	if err != nil {
		return err
	}
	fileCount, err := r.ReadULEB128()
	if err != nil {
		return err
	}
	for i := uint64(0); i < fileCount; i++ {
		name, dirIdx, err := readFileEntryByFormats(r, fileFormats, sec, addrSize)
		if err != nil {
			return err
		}
		prog.Files = append(prog.Files, FileEntry{Name: name, DirIndex: dirIdx})
	}
	return nil
}

func readFormatDescriptors(r *leb128.Reader) ([]fieldFormat, error) {
	count, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	formats := make([]fieldFormat, 0, count)
	for i := byte(0); i < count; i++ {
		ct, err := r.ReadULEB128()
		if err != nil {
			return nil, err
		}
		form, err := r.ReadULEB128()
		if err != nil {
			return nil, err
		}
		formats = append(formats, fieldFormat{contentType: ct, form: form})
	}
	return formats, nil
}

// readEntryByFormats reads one directory-table row, returning the path if
// any DW_LNCT_path field was present.
func readEntryByFormats(r *leb128.Reader, formats []fieldFormat, sec Sections, addrSize int) (string, error) {
	var path string
	for _, f := range formats {
		v, s, err := readFormValue(r, f.form, sec, addrSize)
		if err != nil {
			return "", err
		}
		_ = v
		if f.contentType == lnctPath {
			path = s
		}
	}
	return path, nil
}

func readFileEntryByFormats(r *leb128.Reader, formats []fieldFormat, sec Sections, addrSize int) (string, uint32, error) {
	var path string
	var dirIdx uint32
	for _, f := range formats {
		v, s, err := readFormValue(r, f.form, sec, addrSize)
		if err != nil {
			return "", 0, err
		}
		switch f.contentType {
		case lnctPath:
			path = s
		case lnctDirectoryIndex:
			dirIdx = uint32(v)
		}
	}
	return path, dirIdx, nil
}

// readFormValue reads one field value per its DW_FORM, returning a numeric
// interpretation (v) and/or string interpretation (s), whichever applies.
func readFormValue(r *leb128.Reader, form uint64, sec Sections, addrSize int) (v uint64, s string, err error) {
	switch form {
	case formString:
		s, err = r.ReadCString()
		return 0, s, err
	case formStrp:
		off, err := r.ReadU32()
		if err != nil {
			return 0, "", err
		}
		return 0, cstrAt(sec.DebugStr, int(off)), nil
	case formLineStrp:
		off, err := r.ReadU32()
		if err != nil {
			return 0, "", err
		}
		return 0, cstrAt(sec.DebugLineStr, int(off)), nil
	case formUdata:
		u, err := r.ReadULEB128()
		return u, "", err
	case formData1:
		b, err := r.ReadByte()
		return uint64(b), "", err
	case formData2:
		u, err := r.ReadU16()
		return uint64(u), "", err
	case formData4:
		u, err := r.ReadU32()
		return uint64(u), "", err
	case formData8:
		u, err := r.ReadU64()
		return u, "", err
	case formData16:
		_, err := r.ReadBytes(16)
		return 0, "", err
	case formBlock:
		n, err := r.ReadULEB128()
		if err != nil {
			return 0, "", err
		}
		_, err = r.ReadBytes(int(n))
		return 0, "", err
	case formStrx:
		idx, err := r.ReadULEB128()
		return idx, "", err
	case formStrx1:
		b, err := r.ReadByte()
		return uint64(b), "", err
	case formStrx2:
		u, err := r.ReadU16()
		return uint64(u), "", err
	case formStrx3:
		b, err := r.ReadBytes(3)
		if err != nil {
			return 0, "", err
		}
		return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16, "", nil
	case formStrx4:
		u, err := r.ReadU32()
		return uint64(u), "", err
	default:
		return 0, "", nil
	}
}

func cstrAt(b []byte, off int) string {
	if off < 0 || off >= len(b) {
		return ""
	}
	end := off
	for end < len(b) && b[end] != 0 {
		end++
	}
	return string(b[off:end])
}

// ensureSorted builds (once) an index of non-terminator Entries sorted by
// Address, used by Resolve for the "greatest address <= pc" query.
func (p *Program) ensureSorted() {
	if p.sortedOnce != nil {
		return
	}
	idx := make([]int, 0, len(p.Entries))
	for i, e := range p.Entries {
		if !e.EndSequence {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return p.Entries[idx[a]].Address < p.Entries[idx[b]].Address
	})
	p.sortedOnce = idx
}

// ShiftAddresses adds delta (which may wrap) to every entry's address. Used
// exactly once per session by the ASLR-slide reconciler; adding a constant
// preserves the sort order ensureSorted computed. Cached Resolve results
// are dropped since they were computed against the old addresses.
func (p *Program) ShiftAddresses(delta uint64) {
	for i := range p.Entries {
		p.Entries[i].Address += delta
	}
	p.cache = nil
}

// Resolve returns the SourceLocation for a stopped-at pc: the entry with the
// greatest address <= pc among non-terminator rows, or nil if none.
func (p *Program) Resolve(pc uint64) *SourceLocation {
	if p.cache == nil {
		p.cache, _ = lru.New(512)
	}
	if v, ok := p.cache.Get(pc); ok {
		loc, _ := v.(*SourceLocation)
		return loc
	}
	loc := p.resolveUncached(pc)
	p.cache.Add(pc, loc)
	return loc
}

func (p *Program) resolveUncached(pc uint64) *SourceLocation {
	p.ensureSorted()
	idx := p.sortedOnce
	// Binary search for the rightmost entry with Address <= pc.
	lo, hi := 0, len(idx)
	for lo < hi {
		mid := (lo + hi) / 2
		if p.Entries[idx[mid]].Address <= pc {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return nil
	}
	e := p.Entries[idx[lo-1]]
	return &SourceLocation{File: p.FileName(e.File), Line: e.Line, Column: e.Column}
}

// FileName resolves a file-table index per the version's indexing
// convention (DWARF 4 is 1-indexed, DWARF 5 is 0-indexed).
func (p *Program) FileName(index uint32) string {
	i := int(index)
	if p.Version < 5 {
		i--
	}
	if i < 0 || i >= len(p.Files) {
		return ""
	}
	return p.Files[i].Name
}

// LineToPC returns the address of the first is_stmt row on file:line: an
// exact is_stmt match wins; otherwise the is_stmt row with the smallest
// line >= the requested one.
func (p *Program) LineToPC(file string, wantLine uint32) (uint64, bool) {
	fileIdx := func() (uint32, bool) {
		for i, f := range p.Files {
			if f.Name == file || baseNameEq(f.Name, file) {
				if p.Version < 5 {
					return uint32(i + 1), true
				}
				return uint32(i), true
			}
		}
		return 0, false
	}
	wantIdx, ok := fileIdx()
	if !ok {
		return 0, false
	}

	var bestAddr uint64
	var bestLine uint32
	found := false
	for _, e := range p.Entries {
		if e.EndSequence || !e.IsStmt || e.File != wantIdx {
			continue
		}
		if e.Line == wantLine {
			return e.Address, true
		}
		if e.Line > wantLine && (!found || e.Line < bestLine) {
			bestAddr, bestLine, found = e.Address, e.Line, true
		}
	}
	return bestAddr, found
}

func baseNameEq(a, b string) bool {
	return lastElem(a) == lastElem(b)
}

func lastElem(s string) string {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return s[i+1:]
		}
	}
	return s
}
