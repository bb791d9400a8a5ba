// Package frame decodes .eh_frame Call Frame Information: CIE/FDE records and the DW_CFA_* program that
// tracks, for each PC, how to compute the Canonical Frame Address and how
// to recover the caller's saved registers. It exists to bound and assist
// the frame-pointer walk in pkg/stack, not to replace it.
package frame

import (
	"errors"

	"github.com/tracewalk/dbgcore/internal/leb128"
)

// DW_CFA_* opcodes (ConradIrwin-go-dwarf's unwind.go grounds this table).
const (
	cfaNop              = 0x00
	cfaSetLoc           = 0x01
	cfaAdvanceLoc1      = 0x02
	cfaAdvanceLoc2      = 0x03
	cfaAdvanceLoc4      = 0x04
	cfaOffsetExtended   = 0x05
	cfaRestoreExtended  = 0x06
	cfaUndefined        = 0x07
	cfaSameValue        = 0x08
	cfaRegister         = 0x09
	cfaRememberState    = 0x0a
	cfaRestoreState     = 0x0b
	cfaDefCFA           = 0x0c
	cfaDefCFARegister   = 0x0d
	cfaDefCFAOffset     = 0x0e
	cfaDefCFAExpression = 0x0f
	cfaExpression       = 0x10
	cfaOffsetExtendedSf = 0x11
	cfaDefCFASf         = 0x12
	cfaDefCFAOffsetSf   = 0x13
	cfaValOffset        = 0x14
	cfaValOffsetSf      = 0x15
	cfaValExpression    = 0x16

	// High two bits encode an opcode, low six bits an operand.
	cfaAdvanceLoc = 0x1 << 6
	cfaOffset     = 0x2 << 6
	cfaRestore    = 0x3 << 6
)

// DW_EH_PE_* pointer-encoding bits used by .eh_frame augmentation data.
const (
	peFormMask  = 0x0f
	peApplMask  = 0x70
	peIndirect  = 0x80
	peOmit      = 0xff
	peAbsptr    = 0x00
	peULEB128   = 0x01
	peUData2    = 0x02
	peUData4    = 0x03
	peUData8    = 0x04
	peSLEB128   = 0x09
	peSData2    = 0x0a
	peSData4    = 0x0b
	peSData8    = 0x0c
	pePCRel     = 0x10
)

// ErrTruncated is returned when a CIE/FDE record runs past the end of the
// section.
var ErrTruncated = errors.New("frame: truncated .eh_frame record")

// CFAKind classifies how the Canonical Frame Address is computed at a row.
type CFAKind int

const (
	CFAUndefined CFAKind = iota
	CFARegisterOffset         // CFA = register's value + Offset
	CFAExpression             // CFA = evaluate(Expr) — not decoded further here
)

// CFARule is the row's rule for computing the CFA.
type CFARule struct {
	Kind     CFAKind
	Register uint64
	Offset   int64
	Expr     []byte
}

// RegKind classifies how a callee-saved register is recovered at a row.
type RegKind int

const (
	RegUndefined RegKind = iota
	RegSameValue
	RegOffsetFromCFA // saved at CFA + Offset
	RegInRegister    // value is in a different register
)

// RegisterRule is one row's rule for recovering a single register.
type RegisterRule struct {
	Kind     RegKind
	Offset   int64
	Register uint64
}

// Row is the unwind state effective from Address up to (but not including)
// the next row's Address within the same FDE.
type Row struct {
	Address   uint64
	CFA       CFARule
	Registers map[uint64]RegisterRule
}

// FDE is one Frame Description Entry: the unwind program for one function's
// (or range's) address span.
type FDE struct {
	Low, High uint64
	Rows      []Row
}

// Contains reports whether pc falls within the FDE's address span.
func (f *FDE) Contains(pc uint64) bool { return pc >= f.Low && pc < f.High }

// RowAt returns the row effective at pc, or false if pc is out of range or
// no rows were produced.
func (f *FDE) RowAt(pc uint64) (Row, bool) {
	if !f.Contains(pc) || len(f.Rows) == 0 {
		return Row{}, false
	}
	best := f.Rows[0]
	for _, row := range f.Rows {
		if row.Address > pc {
			break
		}
		best = row
	}
	return best, true
}

// Table is every FDE decoded from one .eh_frame section.
type Table struct {
	FDEs []*FDE
}

// RowForPC finds the FDE spanning pc and returns its effective row.
func (t *Table) RowForPC(pc uint64) (Row, bool) {
	for _, f := range t.FDEs {
		if f.Contains(pc) {
			return f.RowAt(pc)
		}
	}
	return Row{}, false
}

type cie struct {
	codeAlignment    uint64
	dataAlignment    int64
	retAddrReg       uint64
	fdeEncoding      byte
	hasZAugmentation bool
	initialOps       []byte
}

// Parse decodes an .eh_frame section. sectionVA is the virtual address at
// which the section is loaded, used to resolve PC-relative pointer
// encodings in FDE headers (the common producer convention on Linux/macOS);
// pass 0 if unknown and only absolute-pointer encodings will resolve
// correctly.
//
// A malformed record stops the walk and returns every FDE decoded so far
// together with the error.
func Parse(data []byte, sectionVA uint64) (*Table, error) {
	table := &Table{}
	cies := map[int]*cie{}

	r := leb128.NewReader(data)
	for r.Pos() < len(data) {
		recordStart := r.Pos()
		length, err := r.ReadU32()
		if err != nil {
			return table, nil
		}
		if length == 0 {
			break // zero-length terminator entry
		}
		recordEnd := r.Pos() + int(length)
		if recordEnd > len(data) {
			return table, ErrTruncated
		}

		cieID, err := r.ReadU32()
		if err != nil {
			return table, err
		}

		if cieID == 0 {
			c, err := parseCIE(r, recordEnd)
			if err != nil {
				return table, err
			}
			cies[recordStart] = c
			r.SeekTo(recordEnd)
			continue
		}

		cieOffset := recordStart + 4 - int(cieID)
		c, ok := cies[cieOffset]
		if !ok {
			r.SeekTo(recordEnd)
			continue // FDE referencing a CIE we haven't (or can't) parse
		}

		fdePos := r.Pos()
		initialLoc, err := readEncodedPointer(r, c.fdeEncoding, sectionVA+uint64(fdePos))
		if err != nil {
			return table, err
		}
		rangeLen, err := readEncodedPointer(r, c.fdeEncoding&peFormMask, 0)
		if err != nil {
			return table, err
		}
		// Augmentation data length, present only when the CIE's
		// augmentation string had a leading 'z'.
		if c.hasZAugmentation {
			augLen, err := r.ReadULEB128()
			if err != nil {
				return table, err
			}
			r.SeekTo(r.Pos() + int(augLen))
		}

		fde := &FDE{Low: initialLoc, High: initialLoc + rangeLen}
		instrs, err := r.ReadBytes(recordEnd - r.Pos())
		if err != nil {
			return table, err
		}
		rows, err := runProgram(c, append(append([]byte{}, c.initialOps...), instrs...), fde.Low)
		fde.Rows = rows
		table.FDEs = append(table.FDEs, fde)
		if err != nil {
			return table, err
		}
		r.SeekTo(recordEnd)
	}
	return table, nil
}

func parseCIE(r *leb128.Reader, end int) (*cie, error) {
	version, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	aug, err := r.ReadCString()
	if err != nil {
		return nil, err
	}

	if version >= 4 {
		if _, err := r.ReadByte(); err != nil { // address_size
			return nil, err
		}
		if _, err := r.ReadByte(); err != nil { // segment_selector_size
			return nil, err
		}
	}

	codeAlign, err := r.ReadULEB128()
	if err != nil {
		return nil, err
	}
	dataAlign, err := r.ReadSLEB128()
	if err != nil {
		return nil, err
	}

	var retReg uint64
	if version == 1 {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		retReg = uint64(b)
	} else {
		retReg, err = r.ReadULEB128()
		if err != nil {
			return nil, err
		}
	}

	// Default: FDE initial_location/address_range are plain absolute,
	// pointer-width values, as for a CIE with no augmentation string at
	// all. A 'z'-prefixed augmentation with an 'R' entry overrides this.
	c := &cie{codeAlignment: codeAlign, dataAlignment: dataAlign, retAddrReg: retReg, fdeEncoding: peAbsptr}

	if len(aug) > 0 && aug[0] == 'z' {
		c.hasZAugmentation = true
		augLen, err := r.ReadULEB128()
		if err != nil {
			return nil, err
		}
		augEnd := r.Pos() + int(augLen)
		for _, ch := range aug[1:] {
			switch ch {
			case 'R':
				enc, err := r.ReadByte()
				if err != nil {
					return nil, err
				}
				c.fdeEncoding = enc
			case 'L':
				if _, err := r.ReadByte(); err != nil {
					return nil, err
				}
			case 'P':
				enc, err := r.ReadByte()
				if err != nil {
					return nil, err
				}
				if _, err := readEncodedPointer(r, enc, 0); err != nil {
					return nil, err
				}
			case 'S', 'B', 'G':
				// Flags with no associated augmentation-data bytes.
			}
		}
		r.SeekTo(augEnd)
	}

	if end > r.Pos() {
		ops, err := r.ReadBytes(end - r.Pos())
		if err != nil {
			return nil, err
		}
		c.initialOps = ops
	}
	return c, nil
}

func readEncodedPointer(r *leb128.Reader, encoding byte, pcRelBase uint64) (uint64, error) {
	if encoding == peOmit {
		return 0, nil
	}
	form := encoding & peFormMask
	var v uint64
	var err error
	switch form {
	case peAbsptr:
		v, err = r.ReadU64()
	case peUData2:
		var u uint16
		u, err = r.ReadU16()
		v = uint64(u)
	case peUData4:
		var u uint32
		u, err = r.ReadU32()
		v = uint64(u)
	case peUData8:
		v, err = r.ReadU64()
	case peSData2:
		var u uint16
		u, err = r.ReadU16()
		v = uint64(int64(int16(u)))
	case peSData4:
		var u uint32
		u, err = r.ReadU32()
		v = uint64(int64(int32(u)))
	case peSData8:
		v, err = r.ReadU64()
	case peULEB128:
		v, err = r.ReadULEB128()
	case peSLEB128:
		var s int64
		s, err = r.ReadSLEB128()
		v = uint64(s)
	default:
		v, err = r.ReadU64()
	}
	if err != nil {
		return 0, err
	}
	if encoding&peApplMask == pePCRel {
		v += pcRelBase
	}
	return v, nil
}

// runProgram executes a CIE's initial instructions followed by an FDE's
// instructions. Each time the location advances it emits a Row holding the
// state in effect up to the new location, and at the end it emits the final
// state; a remember/restore-state stack is tracked per DW_CFA_ semantics.
func runProgram(c *cie, ops []byte, initialLoc uint64) ([]Row, error) {
	r := leb128.NewReader(ops)
	loc := initialLoc
	cur := Row{Address: loc, Registers: map[uint64]RegisterRule{}}
	rowAddr := loc // start address of the row being built
	var rows []Row
	var stateStack []Row

	cloneRow := func(row Row) Row {
		regs := make(map[uint64]RegisterRule, len(row.Registers))
		for k, v := range row.Registers {
			regs[k] = v
		}
		return Row{Address: row.Address, CFA: row.CFA, Registers: regs}
	}
	emit := func() {
		snapshot := cloneRow(cur)
		snapshot.Address = rowAddr
		rows = append(rows, snapshot)
		rowAddr = cur.Address
	}

	for r.Len() > 0 {
		op, err := r.ReadByte()
		if err != nil {
			break
		}
		hi := op & 0xc0
		lo := op & 0x3f

		switch {
		case hi == cfaAdvanceLoc:
			loc += uint64(lo) * c.codeAlignment
			cur.Address = loc
			emit()
		case hi == cfaOffset:
			off, err := r.ReadULEB128()
			if err != nil {
				return rows, err
			}
			cur.Registers[uint64(lo)] = RegisterRule{Kind: RegOffsetFromCFA, Offset: int64(off) * c.dataAlignment}
		case hi == cfaRestore:
			delete(cur.Registers, uint64(lo))

		case op == cfaNop:
			// no-op

		case op == cfaSetLoc:
			addr, err := r.ReadU64()
			if err != nil {
				return rows, err
			}
			loc = addr
			cur.Address = loc
			emit()
		case op == cfaAdvanceLoc1:
			d, err := r.ReadByte()
			if err != nil {
				return rows, err
			}
			loc += uint64(d) * c.codeAlignment
			cur.Address = loc
			emit()
		case op == cfaAdvanceLoc2:
			d, err := r.ReadU16()
			if err != nil {
				return rows, err
			}
			loc += uint64(d) * c.codeAlignment
			cur.Address = loc
			emit()
		case op == cfaAdvanceLoc4:
			d, err := r.ReadU32()
			if err != nil {
				return rows, err
			}
			loc += uint64(d) * c.codeAlignment
			cur.Address = loc
			emit()

		case op == cfaDefCFA:
			reg, err1 := r.ReadULEB128()
			off, err2 := r.ReadULEB128()
			if err1 != nil || err2 != nil {
				return rows, errors.New("frame: truncated DW_CFA_def_cfa")
			}
			cur.CFA = CFARule{Kind: CFARegisterOffset, Register: reg, Offset: int64(off)}
		case op == cfaDefCFASf:
			reg, err1 := r.ReadULEB128()
			off, err2 := r.ReadSLEB128()
			if err1 != nil || err2 != nil {
				return rows, errors.New("frame: truncated DW_CFA_def_cfa_sf")
			}
			cur.CFA = CFARule{Kind: CFARegisterOffset, Register: reg, Offset: off * c.dataAlignment}
		case op == cfaDefCFARegister:
			reg, err := r.ReadULEB128()
			if err != nil {
				return rows, err
			}
			cur.CFA.Register = reg
			cur.CFA.Kind = CFARegisterOffset
		case op == cfaDefCFAOffset:
			off, err := r.ReadULEB128()
			if err != nil {
				return rows, err
			}
			cur.CFA.Offset = int64(off)
			cur.CFA.Kind = CFARegisterOffset
		case op == cfaDefCFAOffsetSf:
			off, err := r.ReadSLEB128()
			if err != nil {
				return rows, err
			}
			cur.CFA.Offset = off * c.dataAlignment
			cur.CFA.Kind = CFARegisterOffset
		case op == cfaDefCFAExpression:
			n, err := r.ReadULEB128()
			if err != nil {
				return rows, err
			}
			b, err := r.ReadBytes(int(n))
			if err != nil {
				return rows, err
			}
			cur.CFA = CFARule{Kind: CFAExpression, Expr: b}

		case op == cfaOffsetExtended:
			reg, err1 := r.ReadULEB128()
			off, err2 := r.ReadULEB128()
			if err1 != nil || err2 != nil {
				return rows, errors.New("frame: truncated DW_CFA_offset_extended")
			}
			cur.Registers[reg] = RegisterRule{Kind: RegOffsetFromCFA, Offset: int64(off) * c.dataAlignment}
		case op == cfaOffsetExtendedSf:
			reg, err1 := r.ReadULEB128()
			off, err2 := r.ReadSLEB128()
			if err1 != nil || err2 != nil {
				return rows, errors.New("frame: truncated DW_CFA_offset_extended_sf")
			}
			cur.Registers[reg] = RegisterRule{Kind: RegOffsetFromCFA, Offset: off * c.dataAlignment}
		case op == cfaRestoreExtended:
			reg, err := r.ReadULEB128()
			if err != nil {
				return rows, err
			}
			delete(cur.Registers, reg)
		case op == cfaUndefined:
			reg, err := r.ReadULEB128()
			if err != nil {
				return rows, err
			}
			cur.Registers[reg] = RegisterRule{Kind: RegUndefined}
		case op == cfaSameValue:
			reg, err := r.ReadULEB128()
			if err != nil {
				return rows, err
			}
			cur.Registers[reg] = RegisterRule{Kind: RegSameValue}
		case op == cfaRegister:
			reg, err1 := r.ReadULEB128()
			other, err2 := r.ReadULEB128()
			if err1 != nil || err2 != nil {
				return rows, errors.New("frame: truncated DW_CFA_register")
			}
			cur.Registers[reg] = RegisterRule{Kind: RegInRegister, Register: other}

		case op == cfaRememberState:
			stateStack = append(stateStack, cloneRow(cur))
		case op == cfaRestoreState:
			if len(stateStack) > 0 {
				saved := stateStack[len(stateStack)-1]
				stateStack = stateStack[:len(stateStack)-1]
				addr := cur.Address
				cur = cloneRow(saved)
				cur.Address = addr
			}

		case op == cfaExpression:
			reg, err := r.ReadULEB128()
			if err != nil {
				return rows, err
			}
			n, err := r.ReadULEB128()
			if err != nil {
				return rows, err
			}
			if _, err := r.ReadBytes(int(n)); err != nil {
				return rows, err
			}
			_ = reg // location-expression registers aren't resolved by this table; pkg/stack falls back to the frame-pointer walk for these

		case op == cfaValOffset, op == cfaValOffsetSf, op == cfaValExpression:
			// Value-producing rules are rare in practice for the two
			// targets this engine supports; skip their operands safely.
			if op == cfaValExpression {
				if _, err := r.ReadULEB128(); err != nil {
					return rows, err
				}
				n, err := r.ReadULEB128()
				if err != nil {
					return rows, err
				}
				if _, err := r.ReadBytes(int(n)); err != nil {
					return rows, err
				}
			} else {
				if _, err := r.ReadULEB128(); err != nil {
					return rows, err
				}
				if op == cfaValOffsetSf {
					if _, err := r.ReadSLEB128(); err != nil {
						return rows, err
					}
				} else {
					if _, err := r.ReadULEB128(); err != nil {
						return rows, err
					}
				}
			}

		default:
			return rows, errors.New("frame: unknown CFA opcode")
		}
	}

	emit()
	return rows, nil
}
