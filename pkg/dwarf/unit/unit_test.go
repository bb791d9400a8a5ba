package unit

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildFixture assembles a minimal DWARF4 CU: one DW_TAG_compile_unit with
// a single DW_TAG_subprogram child ("main", low_pc 0x1000, high_pc offset
// 0x20) that itself has one DW_TAG_formal_parameter ("argc").
func buildFixture(t *testing.T) (debugInfo, debugAbbrev []byte) {
	t.Helper()

	var ab bytes.Buffer
	// Abbrev code 1: compile_unit, has children, DW_AT_name/DW_FORM_string
	ab.WriteByte(1)
	ab.WriteByte(0x11) // DW_TAG_compile_unit
	ab.WriteByte(1)    // has children
	ab.WriteByte(0x03)
	ab.WriteByte(0x08) // DW_FORM_string
	ab.WriteByte(0)
	ab.WriteByte(0)

	// Abbrev code 2: subprogram, has children: name(string), low_pc(addr), high_pc(data4)
	ab.WriteByte(2)
	ab.WriteByte(0x2e) // DW_TAG_subprogram
	ab.WriteByte(1)
	ab.WriteByte(0x03)
	ab.WriteByte(0x08) // name, string
	ab.WriteByte(0x11)
	ab.WriteByte(0x01) // low_pc, addr
	ab.WriteByte(0x12)
	ab.WriteByte(0x06) // high_pc, data4
	ab.WriteByte(0)
	ab.WriteByte(0)

	// Abbrev code 3: formal_parameter, no children: name(string)
	ab.WriteByte(3)
	ab.WriteByte(0x05) // DW_TAG_formal_parameter
	ab.WriteByte(0)
	ab.WriteByte(0x03)
	ab.WriteByte(0x08)
	ab.WriteByte(0)
	ab.WriteByte(0)
	ab.WriteByte(0) // end table

	var body bytes.Buffer
	// compile_unit DIE
	writeULEB(&body, 1)
	body.WriteString("test.c")
	body.WriteByte(0)

	// subprogram DIE
	writeULEB(&body, 2)
	body.WriteString("main")
	body.WriteByte(0)
	addr := make([]byte, 8)
	binary.LittleEndian.PutUint64(addr, 0x1000)
	body.Write(addr)
	body.Write(uint32le(0x20))

	// formal_parameter DIE
	writeULEB(&body, 3)
	body.WriteString("argc")
	body.WriteByte(0)

	body.WriteByte(0) // end subprogram children
	body.WriteByte(0) // end compile_unit children

	var cu bytes.Buffer
	cu.Write(uint16le(4)) // version
	cu.Write(uint32le(0)) // debug_abbrev_offset
	cu.WriteByte(8)       // address_size
	cu.Write(body.Bytes())

	var out bytes.Buffer
	out.Write(uint32le(uint32(cu.Len())))
	out.Write(cu.Bytes())

	return out.Bytes(), ab.Bytes()
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

func TestParseAllFixture(t *testing.T) {
	debugInfo, debugAbbrev := buildFixture(t)
	units, err := ParseAll(debugInfo, debugAbbrev, Sections{})
	if err != nil {
		t.Fatalf("ParseAll: %v", err)
	}
	if len(units) != 1 {
		t.Fatalf("want 1 unit, got %d", len(units))
	}
	cu := units[0]
	if cu.Name != "test.c" {
		t.Errorf("cu.Name = %q, want test.c", cu.Name)
	}
	if len(cu.Functions) != 1 {
		t.Fatalf("want 1 function, got %d", len(cu.Functions))
	}
	fn := cu.Functions[0]
	if fn.Name != "main" {
		t.Errorf("fn.Name = %q, want main", fn.Name)
	}
	if fn.LowPC != 0x1000 {
		t.Errorf("fn.LowPC = %#x, want 0x1000", fn.LowPC)
	}
	if fn.HighPC != 0x1020 {
		t.Errorf("fn.HighPC = %#x, want 0x1020", fn.HighPC)
	}
	if !fn.Contains(0x1010) {
		t.Error("fn.Contains(0x1010) should be true")
	}
	if fn.Contains(0x1020) {
		t.Error("fn.Contains(0x1020) should be false (exclusive end)")
	}
	if len(fn.Parameters) != 1 || fn.Parameters[0].Name != "argc" {
		t.Fatalf("want 1 parameter named argc, got %+v", fn.Parameters)
	}
}
