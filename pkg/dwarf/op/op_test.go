package op

import "testing"

func TestEvaluateEmpty(t *testing.T) {
	r, err := Evaluate(nil, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if r.Kind != KindEmpty {
		t.Fatalf("want KindEmpty, got %v", r.Kind)
	}
}

func TestEvaluateFbreg(t *testing.T) {
	// DW_OP_fbreg -8
	expr := []byte{opFbreg, 0x78} // SLEB128(-8) = 0x78
	fb := int64(0x1000)
	r, err := Evaluate(expr, nil, &fb, nil)
	if err != nil {
		t.Fatal(err)
	}
	if r.Kind != KindAddress || r.Value != 0x1000-8 {
		t.Fatalf("got %+v", r)
	}
}

func TestEvaluateFbregNoFrameBase(t *testing.T) {
	expr := []byte{opFbreg, 0x78}
	r, err := Evaluate(expr, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if r.Kind != KindEmpty {
		t.Fatalf("want KindEmpty without frame base, got %+v", r)
	}
}

func TestEvaluateBregPlusStackValue(t *testing.T) {
	// DW_OP_breg0 +4, DW_OP_stack_value
	expr := []byte{opBreg0 + 0, 0x04, opStackValue}
	regs := func(n uint64) (uint64, bool) {
		if n == 0 {
			return 100, true
		}
		return 0, false
	}
	r, err := Evaluate(expr, regs, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if r.Kind != KindValue || r.Value != 104 {
		t.Fatalf("got %+v", r)
	}
}

func TestEvaluateRegDirect(t *testing.T) {
	expr := []byte{opReg0 + 3} // DW_OP_reg3
	r, err := Evaluate(expr, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if r.Kind != KindRegister || r.Value != 3 {
		t.Fatalf("got %+v", r)
	}
}

func TestEvaluateConstAndArith(t *testing.T) {
	// DW_OP_lit5, DW_OP_lit3, DW_OP_plus, DW_OP_const1u 2, DW_OP_mul
	expr := []byte{opLit0 + 5, opLit0 + 3, opPlus, opConst1u, 2, opMul}
	r, err := Evaluate(expr, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if r.Kind != KindAddress || r.Value != 16 {
		t.Fatalf("got %+v", r)
	}
}

func TestEvaluateDerefWithoutMemoryReturnsAddress(t *testing.T) {
	expr := []byte{opAddr, 0, 0x10, 0, 0, 0, 0, 0, 0, opDeref}
	r, err := Evaluate(expr, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if r.Kind != KindAddress || r.Value != 0x1000 {
		t.Fatalf("got %+v", r)
	}
}

func TestEvaluateStackUnderflowOnBarePlus(t *testing.T) {
	expr := []byte{opPlus}
	_, err := Evaluate(expr, nil, nil, nil)
	if err != ErrStackUnderflow {
		t.Fatalf("want ErrStackUnderflow, got %v", err)
	}
}
