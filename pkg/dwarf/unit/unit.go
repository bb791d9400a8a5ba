// Package unit parses compilation units: it
// walks each compilation unit's DIE tree in .debug_info against its
// .debug_abbrev table and produces the function, variable, and base-type
// products the rest of the engine queries.
package unit

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/tracewalk/dbgcore/internal/leb128"
	"github.com/tracewalk/dbgcore/pkg/dwarf/abbrev"
)

// DWARF tag constants used by this parser.
const (
	tagCompileUnit     = 0x11
	tagSubprogram      = 0x2e
	tagFormalParameter = 0x05
	tagVariable        = 0x34
	tagBaseType        = 0x24
	tagLexicalBlock    = 0x0b
)

// DWARF attribute constants.
const (
	atName          = 0x03
	atLocation      = 0x02
	atLowPC         = 0x11
	atHighPC        = 0x12
	atType          = 0x49
	atFrameBase     = 0x40
	atByteSize      = 0x0b
	atEncoding      = 0x3e
	atDeclFile      = 0x3a
	atDeclLine      = 0x3b
	atRanges        = 0x55
	atStrOffsBase   = 0x72
	atAddrBase      = 0x73
	atCompDir       = 0x1b
	atProducer      = 0x25
	atStmtList      = 0x10
)

// DWARF form constants.
const (
	formAddr         = 0x01
	formBlock2       = 0x03
	formBlock4       = 0x04
	formData2        = 0x05
	formData4        = 0x06
	formData8        = 0x07
	formString       = 0x08
	formBlock        = 0x09
	formBlock1       = 0x0a
	formData1        = 0x0b
	formFlag         = 0x0c
	formSdata        = 0x0d
	formStrp         = 0x0e
	formUdata        = 0x0f
	formRefAddr      = 0x10
	formRef1         = 0x11
	formRef2         = 0x12
	formRef4         = 0x13
	formRef8         = 0x14
	formRefUdata     = 0x15
	formIndirect     = 0x16
	formSecOffset    = 0x17
	formExprloc      = 0x18
	formFlagPresent  = 0x19
	formStrx         = 0x1a
	formAddrx        = 0x1b
	formData16       = 0x1e
	formLineStrp     = 0x1f
	formRefSig8      = 0x20
	formImplicitConst = 0x21
	formLoclistx     = 0x22
	formRnglistx     = 0x23
	formStrx1        = 0x25
	formStrx2        = 0x26
	formStrx3        = 0x27
	formStrx4        = 0x28
	formAddrx1       = 0x29
	formAddrx2       = 0x2a
	formAddrx3       = 0x2b
	formAddrx4       = 0x2c
)

// AttrValue is a resolved attribute value. Exactly the fields relevant to
// Form are meaningful; Bytes and Str slices/strings are views into the
// section buffers the parser was given, never copies.
type AttrValue struct {
	Form  uint64
	Uint  uint64
	Int   int64
	Bytes []byte
	Str   string
	Flag  bool

	pendingStrx  bool
	pendingAddrx bool
}

// DIE is one Debugging Information Entry.
type DIE struct {
	Offset   uint64
	Tag      uint64
	Attrs    map[uint64]*AttrValue
	Children []*DIE
	Parent   *DIE
}

// ResolveBaseType looks up a base type by DIE offset, caching the result
// since the same type is typically referenced by many variables.
func (cu *CompUnit) ResolveBaseType(offset uint64) (*BaseType, bool) {
	if cu.typeCache == nil {
		cu.typeCache, _ = lru.New(256)
	}
	if v, ok := cu.typeCache.Get(offset); ok {
		bt, _ := v.(*BaseType)
		return bt, bt != nil
	}
	bt, ok := cu.BaseTypes[offset]
	cu.typeCache.Add(offset, bt)
	return bt, ok
}

// Attr looks up an attribute by its DW_AT_* code.
func (d *DIE) Attr(name uint64) (*AttrValue, bool) {
	v, ok := d.Attrs[name]
	return v, ok
}

// BaseType is a decoded DW_TAG_base_type entry.
type BaseType struct {
	Name     string
	ByteSize uint64
	Encoding uint64
}

// AddrRange is one [Low, High) half-open address range, used for
// non-contiguous function bodies (DW_AT_ranges).
type AddrRange struct {
	Low, High uint64
}

// VariableInfo is a formal parameter or local/global variable.
type VariableInfo struct {
	Name       string
	TypeOffset uint64
	Location   []byte // DW_AT_location exprloc, borrowed
	DeclLine   uint32
}

// FunctionInfo is a decoded DW_TAG_subprogram.
type FunctionInfo struct {
	Name       string
	LowPC      uint64
	HighPC     uint64 // exclusive; absolute, already resolved from the constant-offset form if needed
	Ranges     []AddrRange
	FrameBase  []byte // DW_AT_frame_base exprloc, borrowed
	DeclFile   uint32
	DeclLine   uint32
	Parameters []VariableInfo
	Variables  []VariableInfo
	DIEOffset  uint64
}

// Contains reports whether pc falls inside the function's contiguous range
// or, for non-contiguous functions, any of its Ranges.
func (f *FunctionInfo) Contains(pc uint64) bool {
	if len(f.Ranges) > 0 {
		for _, r := range f.Ranges {
			if pc >= r.Low && pc < r.High {
				return true
			}
		}
		return false
	}
	return pc >= f.LowPC && pc < f.HighPC
}

// CompUnit is one fully parsed compilation unit.
type CompUnit struct {
	Version   int
	AddrSize  int
	Name      string
	CompDir   string
	StmtList  uint64
	HasStmtList bool

	Root      *DIE
	Functions []*FunctionInfo
	Globals   []*VariableInfo
	BaseTypes map[uint64]*BaseType

	typeCache *lru.Cache
}

// Sections bundles the auxiliary .debug_* sections a CU's DIEs may need to
// resolve indirect (strx/addrx) or indirect-ranges forms.
type Sections struct {
	DebugStr        []byte
	DebugLineStr    []byte
	DebugStrOffsets []byte
	DebugAddr       []byte
	DebugRanges     []byte
	DebugRngLists   []byte
}

// ParseAll walks every compilation unit in debugInfo, each against the
// abbreviation table found at its declared offset into debugAbbrev.
//
// A malformed unit stops the walk and returns every unit successfully
// parsed so far, together with the error.
func ParseAll(debugInfo, debugAbbrev []byte, sec Sections) ([]*CompUnit, error) {
	var units []*CompUnit
	r := leb128.NewReader(debugInfo)
	for r.Pos() < len(debugInfo) {
		cuStart := r.Pos()
		cu, nextPos, err := parseOneUnit(r, cuStart, debugInfo, debugAbbrev, sec)
		if cu != nil {
			units = append(units, cu)
		}
		if err != nil {
			return units, err
		}
		if nextPos <= cuStart {
			break // guard against zero-progress loops on malformed headers
		}
		r.SeekTo(nextPos)
	}
	return units, nil
}

func parseOneUnit(r *leb128.Reader, cuStart int, debugInfo, debugAbbrev []byte, sec Sections) (*CompUnit, int, error) {
	unitLength, is64, err := readInitialLength(r)
	if err != nil {
		return nil, r.Pos(), err
	}
	unitEnd := r.Pos() + int(unitLength)
	if unitEnd > len(debugInfo) {
		unitEnd = len(debugInfo)
	}

	version, err := r.ReadU16()
	if err != nil {
		return nil, unitEnd, err
	}

	var addrSize int
	var abbrevOffset uint64
	if version >= 5 {
		if _, err := r.ReadByte(); err != nil { // unit_type
			return nil, unitEnd, err
		}
		asz, err := r.ReadByte()
		if err != nil {
			return nil, unitEnd, err
		}
		addrSize = int(asz)
		abbrevOffset, err = readOffset(r, is64)
		if err != nil {
			return nil, unitEnd, err
		}
	} else {
		abbrevOffset, err = readOffset(r, is64)
		if err != nil {
			return nil, unitEnd, err
		}
		asz, err := r.ReadByte()
		if err != nil {
			return nil, unitEnd, err
		}
		addrSize = int(asz)
	}

	var abbrevSlice []byte
	if int(abbrevOffset) < len(debugAbbrev) {
		abbrevSlice = debugAbbrev[abbrevOffset:]
	}
	table, err := abbrev.Parse(abbrevSlice)
	if err != nil && len(table) == 0 {
		return nil, unitEnd, err
	}

	cu := &CompUnit{
		Version:   int(version),
		AddrSize:  addrSize,
		BaseTypes: map[uint64]*BaseType{},
	}

	root, _, derr := readDIE(r, cuStart, unitEnd, table, addrSize)
	if derr != nil && root == nil {
		return cu, unitEnd, derr
	}
	cu.Root = root

	resolveIndirect(cu.Root, cu, sec, addrSize)
	collectProducts(cu, cu.Root, sec)

	if root != nil {
		if v, ok := root.Attr(atName); ok {
			cu.Name = v.Str
		}
		if v, ok := root.Attr(atCompDir); ok {
			cu.CompDir = v.Str
		}
		if v, ok := root.Attr(atStmtList); ok {
			cu.StmtList = v.Uint
			cu.HasStmtList = true
		}
	}

	return cu, unitEnd, derr
}

// readDIE reads one DIE (and, recursively, its children) starting at the
// reader's current position. offset is recorded as cuStart-relative to the
// start of debugInfo so that reference forms can be compared across CUs.
func readDIE(r *leb128.Reader, cuStart, unitEnd int, table abbrev.Table, addrSize int) (*DIE, int, error) {
	offset := r.Pos()
	code, err := r.ReadULEB128()
	if err != nil {
		return nil, r.Pos(), err
	}
	if code == 0 {
		return nil, r.Pos(), nil // null entry: end of sibling chain
	}
	entry, ok := table[code]
	if !ok {
		return nil, r.Pos(), errUnknownAbbrevCode
	}

	die := &DIE{Offset: uint64(offset), Tag: entry.Tag, Attrs: map[uint64]*AttrValue{}}
	for _, a := range entry.Attributes {
		val, err := readAttrValue(r, a, cuStart, addrSize)
		if err != nil {
			return die, r.Pos(), err
		}
		die.Attrs[a.Name] = val
	}

	if entry.HasChildren {
		for r.Pos() < unitEnd {
			child, _, err := readDIE(r, cuStart, unitEnd, table, addrSize)
			if child == nil {
				if err != nil {
					return die, r.Pos(), err
				}
				break // consumed the null terminator
			}
			child.Parent = die
			die.Children = append(die.Children, child)
			if err != nil {
				// Partial child attached; stop walking this unit's tree
				// rather than risk misaligned reads on the sibling chain.
				return die, r.Pos(), err
			}
		}
	}
	return die, r.Pos(), nil
}

func readAttrValue(r *leb128.Reader, a abbrev.Attribute, cuStart, addrSize int) (*AttrValue, error) {
	if a.HasImplicitConst {
		return &AttrValue{Form: a.Form, Int: a.ImplicitConst, Uint: uint64(a.ImplicitConst)}, nil
	}
	switch a.Form {
	case formAddr:
		v, err := r.ReadAddress(addrSize)
		return &AttrValue{Form: a.Form, Uint: v}, err
	case formBlock1, formBlock2, formBlock4, formBlock, formExprloc:
		n, err := blockLen(r, a.Form)
		if err != nil {
			return nil, err
		}
		b, err := r.ReadBytes(int(n))
		return &AttrValue{Form: a.Form, Bytes: b}, err
	case formData1:
		v, err := r.ReadByte()
		return &AttrValue{Form: a.Form, Uint: uint64(v)}, err
	case formData2:
		v, err := r.ReadU16()
		return &AttrValue{Form: a.Form, Uint: uint64(v)}, err
	case formData4:
		v, err := r.ReadU32()
		return &AttrValue{Form: a.Form, Uint: uint64(v)}, err
	case formData8, formRefSig8:
		v, err := r.ReadU64()
		return &AttrValue{Form: a.Form, Uint: v}, err
	case formData16:
		b, err := r.ReadBytes(16)
		return &AttrValue{Form: a.Form, Bytes: b}, err
	case formString:
		s, err := r.ReadCString()
		return &AttrValue{Form: a.Form, Str: s}, err
	case formStrp, formLineStrp:
		off, err := r.ReadU32()
		return &AttrValue{Form: a.Form, Uint: uint64(off)}, err
	case formSdata:
		v, err := r.ReadSLEB128()
		return &AttrValue{Form: a.Form, Int: v}, err
	case formUdata, formRefUdata, formRnglistx, formLoclistx:
		v, err := r.ReadULEB128()
		return &AttrValue{Form: a.Form, Uint: v}, err
	case formRefAddr:
		off, err := r.ReadU32()
		return &AttrValue{Form: a.Form, Uint: uint64(off)}, err
	case formRef1:
		v, err := r.ReadByte()
		return &AttrValue{Form: a.Form, Uint: uint64(cuStart) + uint64(v)}, err
	case formRef2:
		v, err := r.ReadU16()
		return &AttrValue{Form: a.Form, Uint: uint64(cuStart) + uint64(v)}, err
	case formRef4:
		v, err := r.ReadU32()
		return &AttrValue{Form: a.Form, Uint: uint64(cuStart) + uint64(v)}, err
	case formRef8:
		v, err := r.ReadU64()
		return &AttrValue{Form: a.Form, Uint: uint64(cuStart) + v}, err
	case formSecOffset:
		off, err := r.ReadU32()
		return &AttrValue{Form: a.Form, Uint: uint64(off)}, err
	case formFlag:
		v, err := r.ReadByte()
		return &AttrValue{Form: a.Form, Flag: v != 0}, err
	case formFlagPresent:
		return &AttrValue{Form: a.Form, Flag: true}, nil
	case formStrx:
		v, err := r.ReadULEB128()
		return &AttrValue{Form: a.Form, Uint: v, pendingStrx: true}, err
	case formStrx1, formAddrx1:
		v, err := r.ReadByte()
		return &AttrValue{Form: a.Form, Uint: uint64(v), pendingStrx: a.Form == formStrx1, pendingAddrx: a.Form == formAddrx1}, err
	case formStrx2, formAddrx2:
		v, err := r.ReadU16()
		return &AttrValue{Form: a.Form, Uint: uint64(v), pendingStrx: a.Form == formStrx2, pendingAddrx: a.Form == formAddrx2}, err
	case formStrx3:
		b, err := r.ReadBytes(3)
		if err != nil {
			return nil, err
		}
		return &AttrValue{Form: a.Form, Uint: uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16, pendingStrx: true}, nil
	case 0x2b: // DW_FORM_addrx3
		b, err := r.ReadBytes(3)
		if err != nil {
			return nil, err
		}
		return &AttrValue{Form: a.Form, Uint: uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16, pendingAddrx: true}, nil
	case formStrx4, formAddrx4:
		v, err := r.ReadU32()
		return &AttrValue{Form: a.Form, Uint: uint64(v), pendingStrx: a.Form == formStrx4, pendingAddrx: a.Form == formAddrx4}, err
	case formAddrx:
		v, err := r.ReadULEB128()
		return &AttrValue{Form: a.Form, Uint: v, pendingAddrx: true}, err
	case formIndirect:
		innerForm, err := r.ReadULEB128()
		if err != nil {
			return nil, err
		}
		return readAttrValue(r, abbrev.Attribute{Name: a.Name, Form: innerForm}, cuStart, addrSize)
	default:
		return &AttrValue{Form: a.Form}, nil
	}
}

func blockLen(r *leb128.Reader, form uint64) (uint64, error) {
	switch form {
	case formBlock1:
		v, err := r.ReadByte()
		return uint64(v), err
	case formBlock2:
		v, err := r.ReadU16()
		return uint64(v), err
	case formBlock4:
		v, err := r.ReadU32()
		return uint64(v), err
	default: // formBlock, formExprloc
		return r.ReadULEB128()
	}
}

// resolveIndirect walks the DIE tree resolving strx/addrx index forms into
// their actual strings/addresses, using the CU's DW_AT_str_offsets_base /
// DW_AT_addr_base (defaulting to 8, the size of each section's header, when
// absent — the common producer convention).
func resolveIndirect(root *DIE, cu *CompUnit, sec Sections, addrSize int) {
	if root == nil {
		return
	}
	strOffsetsBase := uint64(8)
	addrBase := uint64(8)
	if v, ok := root.Attr(atStrOffsBase); ok {
		strOffsetsBase = v.Uint
	}
	if v, ok := root.Attr(atAddrBase); ok {
		addrBase = v.Uint
	}

	var walk func(d *DIE)
	walk = func(d *DIE) {
		for _, v := range d.Attrs {
			if v.pendingStrx {
				v.Str = resolveStrx(sec, strOffsetsBase, v.Uint)
				v.pendingStrx = false
			}
			if v.pendingAddrx {
				v.Uint = resolveAddrx(sec, addrBase, v.Uint, addrSize)
				v.pendingAddrx = false
			}
		}
		for _, c := range d.Children {
			walk(c)
		}
	}
	walk(root)
}

func resolveStrx(sec Sections, base, idx uint64) string {
	off := base + idx*4
	if int(off)+4 > len(sec.DebugStrOffsets) {
		return ""
	}
	strOff := leb128.NewReader(sec.DebugStrOffsets[off:])
	v, err := strOff.ReadU32()
	if err != nil {
		return ""
	}
	return cstrAt(sec.DebugStr, int(v))
}

func resolveAddrx(sec Sections, base, idx uint64, addrSize int) uint64 {
	if addrSize == 0 {
		addrSize = 8
	}
	off := base + idx*uint64(addrSize)
	if int(off)+addrSize > len(sec.DebugAddr) {
		return 0
	}
	ar := leb128.NewReader(sec.DebugAddr[off:])
	v, _ := ar.ReadAddress(addrSize)
	return v
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

// collectProducts walks the resolved DIE tree collecting FunctionInfo,
// top-level VariableInfo (globals), and the base-type table.
func collectProducts(cu *CompUnit, root *DIE, sec Sections) {
	if root == nil {
		return
	}
	var walk func(d *DIE, inFunc *FunctionInfo)
	walk = func(d *DIE, inFunc *FunctionInfo) {
		switch d.Tag {
		case tagBaseType:
			bt := &BaseType{}
			if v, ok := d.Attr(atName); ok {
				bt.Name = v.Str
			}
			if v, ok := d.Attr(atByteSize); ok {
				bt.ByteSize = v.Uint
			}
			if v, ok := d.Attr(atEncoding); ok {
				bt.Encoding = v.Uint
			}
			cu.BaseTypes[d.Offset] = bt

		case tagSubprogram:
			fn := buildFunctionInfo(d, sec)
			cu.Functions = append(cu.Functions, fn)
			for _, c := range d.Children {
				walk(c, fn)
			}
			return

		case tagFormalParameter:
			if inFunc != nil {
				inFunc.Parameters = append(inFunc.Parameters, buildVariableInfo(d))
			}

		case tagVariable:
			vi := buildVariableInfo(d)
			if inFunc != nil {
				inFunc.Variables = append(inFunc.Variables, vi)
			} else if d.Tag == tagVariable && d.Parent != nil && d.Parent.Tag == tagCompileUnit {
				cu.Globals = append(cu.Globals, &vi)
			}
		}

		for _, c := range d.Children {
			walk(c, inFunc)
		}
	}
	walk(root, nil)
}

func buildVariableInfo(d *DIE) VariableInfo {
	vi := VariableInfo{}
	if v, ok := d.Attr(atName); ok {
		vi.Name = v.Str
	}
	if v, ok := d.Attr(atType); ok {
		vi.TypeOffset = v.Uint
	}
	if v, ok := d.Attr(atLocation); ok {
		vi.Location = v.Bytes
	}
	if v, ok := d.Attr(atDeclLine); ok {
		vi.DeclLine = uint32(v.Uint)
	}
	return vi
}

func buildFunctionInfo(d *DIE, sec Sections) *FunctionInfo {
	fn := &FunctionInfo{DIEOffset: d.Offset}
	if v, ok := d.Attr(atName); ok {
		fn.Name = v.Str
	}
	if v, ok := d.Attr(atDeclFile); ok {
		fn.DeclFile = uint32(v.Uint)
	}
	if v, ok := d.Attr(atDeclLine); ok {
		fn.DeclLine = uint32(v.Uint)
	}
	if v, ok := d.Attr(atFrameBase); ok {
		fn.FrameBase = v.Bytes
	}

	var lowPC uint64
	var haveLow bool
	if v, ok := d.Attr(atLowPC); ok {
		lowPC = v.Uint
		haveLow = true
		fn.LowPC = v.Uint
	}
	if v, ok := d.Attr(atHighPC); ok {
		if v.Form == formAddr || v.Form == formAddrx {
			fn.HighPC = v.Uint
		} else if haveLow {
			fn.HighPC = lowPC + v.Uint
		}
	}
	if v, ok := d.Attr(atRanges); ok {
		fn.Ranges = decodeRanges(v, sec)
	}
	return fn
}

// decodeRanges decodes DW_AT_ranges: either a DWARF4 offset into
// .debug_ranges (a list of (begin, end) pairs terminated by (0,0), with an
// all-ones begin marking a new base address), or a DWARF5 offset/index into
// .debug_rnglists (DW_RLE_* records). Both are a best-effort SUPPLEMENTED
// decode beyond the distilled spec's contiguous-function assumption.
func decodeRanges(v *AttrValue, sec Sections) []AddrRange {
	if v.Form == formSecOffset && len(sec.DebugRanges) > 0 {
		return decodeDebugRanges(sec.DebugRanges, v.Uint)
	}
	if len(sec.DebugRngLists) > 0 {
		return decodeRngLists(sec.DebugRngLists, v.Uint)
	}
	return nil
}

func decodeDebugRanges(buf []byte, off uint64) []AddrRange {
	if off >= uint64(len(buf)) {
		return nil
	}
	r := leb128.NewReader(buf[off:])
	var ranges []AddrRange
	var base uint64
	for r.Len() > 0 {
		begin, err := r.ReadU64()
		if err != nil {
			break
		}
		end, err := r.ReadU64()
		if err != nil {
			break
		}
		if begin == 0 && end == 0 {
			break
		}
		if begin == ^uint64(0) {
			base = end
			continue
		}
		ranges = append(ranges, AddrRange{Low: base + begin, High: base + end})
	}
	return ranges
}

// DW_RLE_* constants for .debug_rnglists entries.
const (
	rleEndOfList     = 0x00
	rleBaseAddressx  = 0x01
	rleStartxEndx    = 0x02
	rleStartxLength  = 0x03
	rleOffsetPair    = 0x04
	rleBaseAddress   = 0x05
	rleStartEnd      = 0x06
	rleStartLength   = 0x07
)

func decodeRngLists(buf []byte, off uint64) []AddrRange {
	if off >= uint64(len(buf)) {
		return nil
	}
	r := leb128.NewReader(buf[off:])
	var ranges []AddrRange
	var base uint64
	for r.Len() > 0 {
		kind, err := r.ReadByte()
		if err != nil {
			break
		}
		switch kind {
		case rleEndOfList:
			return ranges
		case rleBaseAddress:
			v, err := r.ReadU64()
			if err != nil {
				return ranges
			}
			base = v
		case rleOffsetPair:
			lo, err1 := r.ReadULEB128()
			hi, err2 := r.ReadULEB128()
			if err1 != nil || err2 != nil {
				return ranges
			}
			ranges = append(ranges, AddrRange{Low: base + lo, High: base + hi})
		case rleStartEnd:
			lo, err1 := r.ReadU64()
			hi, err2 := r.ReadU64()
			if err1 != nil || err2 != nil {
				return ranges
			}
			ranges = append(ranges, AddrRange{Low: lo, High: hi})
		case rleStartLength:
			lo, err1 := r.ReadU64()
			ln, err2 := r.ReadULEB128()
			if err1 != nil || err2 != nil {
				return ranges
			}
			ranges = append(ranges, AddrRange{Low: lo, High: lo + ln})
		default:
			// Index-based forms (base_addressx, startx_endx, startx_length)
			// need the .debug_addr indirection; not resolved here, so stop
			// conservatively rather than misparse the remaining stream.
			return ranges
		}
	}
	return ranges
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

func readOffset(r *leb128.Reader, is64 bool) (uint64, error) {
	if is64 {
		return r.ReadU64()
	}
	v, err := r.ReadU32()
	return uint64(v), err
}

var errUnknownAbbrevCode = unknownAbbrevCodeErr{}

type unknownAbbrevCodeErr struct{}

func (unknownAbbrevCodeErr) Error() string { return "unit: DIE references unknown abbreviation code" }
