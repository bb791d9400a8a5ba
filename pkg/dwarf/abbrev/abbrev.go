// Package abbrev decodes DWARF .debug_abbrev tables: for each
// abbreviation code, a tag, a has-children flag, and a list of
// (attribute name, form[, implicit_const]) tuples.
package abbrev

import "github.com/tracewalk/dbgcore/internal/leb128"

// DWARF form constant used to detect the implicit_const trailing SLEB128.
const formImplicitConst = 0x21 // DW_FORM_implicit_const

// Attribute is one (name, form) pair from an abbreviation's attribute list.
type Attribute struct {
	Name           uint64
	Form           uint64
	ImplicitConst  int64
	HasImplicitConst bool
}

// Entry is a single decoded abbreviation.
type Entry struct {
	Code         uint64
	Tag          uint64
	HasChildren  bool
	Attributes   []Attribute
}

// Table is abbreviation code -> Entry for one compilation unit's abbrev set.
type Table map[uint64]*Entry

// Parse decodes the abbreviation table starting at byte offset 0 of buf
// (buf should already be sliced to start at the CU's abbrev offset). A code
// of 0 terminates the table; an attribute list is terminated by the pair
// (0, 0).
//
// Malformed input after at least one entry has been read returns the
// partial table together with the error, so callers keep whatever was
// decoded before the malformation.
func Parse(buf []byte) (Table, error) {
	r := leb128.NewReader(buf)
	table := Table{}
	for {
		code, err := r.ReadULEB128()
		if err != nil {
			return table, err
		}
		if code == 0 {
			return table, nil
		}
		tag, err := r.ReadULEB128()
		if err != nil {
			return table, err
		}
		childByte, err := r.ReadByte()
		if err != nil {
			return table, err
		}

		entry := &Entry{Code: code, Tag: tag, HasChildren: childByte != 0}
		for {
			name, err := r.ReadULEB128()
			if err != nil {
				return table, err
			}
			form, err := r.ReadULEB128()
			if err != nil {
				return table, err
			}
			if name == 0 && form == 0 {
				break
			}
			attr := Attribute{Name: name, Form: form}
			if form == formImplicitConst {
				v, err := r.ReadSLEB128()
				if err != nil {
					return table, err
				}
				attr.ImplicitConst = v
				attr.HasImplicitConst = true
			}
			entry.Attributes = append(entry.Attributes, attr)
		}
		table[code] = entry
	}
}
