package frame

import (
	"bytes"
	"encoding/binary"
	"testing"
)

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

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func u64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// buildFixture builds a no-augmentation CIE (def_cfa rsp(7)+8, advance none)
// followed by one FDE covering [0x1000, 0x1010) whose program does
// DW_CFA_advance_loc(4) then DW_CFA_def_cfa_offset(16).
func buildFixture(t *testing.T) []byte {
	t.Helper()

	var cieBody bytes.Buffer
	cieBody.WriteByte(1)        // version
	cieBody.WriteByte(0)        // augmentation string: ""
	writeULEB(&cieBody, 1)      // code_alignment_factor
	writeSLEB(&cieBody, -8)     // data_alignment_factor
	cieBody.WriteByte(16)       // return_address_register (rip)
	// initial instructions: DW_CFA_def_cfa(7, 8)
	cieBody.WriteByte(cfaDefCFA)
	writeULEB(&cieBody, 7)
	writeULEB(&cieBody, 8)

	var cieRec bytes.Buffer
	cieRec.Write(u32(0)) // cie_id == 0 marks a CIE
	cieRec.Write(cieBody.Bytes())

	var cieFull bytes.Buffer
	cieFull.Write(u32(uint32(cieRec.Len())))
	cieFull.Write(cieRec.Bytes())

	cieRecordStart := 0

	var fdeBody bytes.Buffer
	// cie_pointer computed below once we know fdeRecordStart
	var fdeAfterCIEPtr bytes.Buffer
	fdeAfterCIEPtr.Write(u64(0x1000)) // initial_location
	fdeAfterCIEPtr.Write(u64(0x10))   // address_range
	// DW_CFA_advance_loc(4): hi=0x40, lo=4
	fdeAfterCIEPtr.WriteByte(cfaAdvanceLoc | 4)
	fdeAfterCIEPtr.WriteByte(cfaDefCFAOffset)
	writeULEB(&fdeAfterCIEPtr, 16)

	fdeRecordStart := cieFull.Len()
	ciePointer := uint32(fdeRecordStart + 4 - cieRecordStart)
	fdeBody.Write(u32(ciePointer))
	fdeBody.Write(fdeAfterCIEPtr.Bytes())

	var fdeFull bytes.Buffer
	fdeFull.Write(u32(uint32(fdeBody.Len())))
	fdeFull.Write(fdeBody.Bytes())

	var out bytes.Buffer
	out.Write(cieFull.Bytes())
	out.Write(fdeFull.Bytes())
	return out.Bytes()
}

func TestParseAndRowAt(t *testing.T) {
	data := buildFixture(t)
	table, err := Parse(data, 0)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(table.FDEs) != 1 {
		t.Fatalf("want 1 FDE, got %d", len(table.FDEs))
	}
	fde := table.FDEs[0]
	if fde.Low != 0x1000 || fde.High != 0x1010 {
		t.Fatalf("fde span = [%#x, %#x)", fde.Low, fde.High)
	}

	row, ok := fde.RowAt(0x1000)
	if !ok {
		t.Fatal("expected row at 0x1000")
	}
	if row.CFA.Kind != CFARegisterOffset || row.CFA.Register != 7 || row.CFA.Offset != 8 {
		t.Fatalf("initial CFA rule = %+v", row.CFA)
	}

	row2, ok := fde.RowAt(0x1004)
	if !ok {
		t.Fatal("expected row at 0x1004")
	}
	if row2.CFA.Offset != 16 {
		t.Fatalf("post-advance CFA offset = %d, want 16", row2.CFA.Offset)
	}

	if _, ok := fde.RowAt(0x2000); ok {
		t.Fatal("0x2000 is outside the FDE's span")
	}
}

func TestRowForPCNoMatch(t *testing.T) {
	data := buildFixture(t)
	table, err := Parse(data, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := table.RowForPC(0xdead); ok {
		t.Fatal("expected no row for an address outside every FDE")
	}
}
