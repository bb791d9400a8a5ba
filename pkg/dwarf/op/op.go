// Package op evaluates DWARF location expressions: a depth-64
// stack machine that interprets a DWARF location expression against a
// register provider and an optional memory reader, producing an address,
// a register number, an immediate value, or "empty" (unresolved).
package op

import (
	"encoding/binary"
	"errors"

	"github.com/tracewalk/dbgcore/internal/leb128"
)

// Kind classifies the evaluator's result.
type Kind int

const (
	// KindEmpty means the expression could not be resolved (optimized out,
	// unknown opcode, or no result produced).
	KindEmpty Kind = iota
	// KindAddress means Value is a memory address.
	KindAddress
	// KindRegister means Value is a DWARF register number whose contents
	// are the variable's value.
	KindRegister
	// KindValue means Value is itself the variable's value (DW_OP_stack_value).
	KindValue
)

// Result is the outcome of evaluating a location expression.
type Result struct {
	Kind  Kind
	Value uint64
}

// ErrStackDepth is returned when the expression pushes more than maxDepth
// values.
var ErrStackDepth = errors.New("op: location expression stack overflow")

// ErrStackUnderflow is returned when an operator needs more operands than
// the stack has.
var ErrStackUnderflow = errors.New("op: location expression stack underflow")

const maxDepth = 64

// RegisterReader resolves a DWARF register number to its current value. It
// returns ok=false if the register isn't available (e.g. out of range for
// the target's register file).
type RegisterReader func(dwarfRegNum uint64) (value uint64, ok bool)

// MemoryReader reads size bytes of target memory at addr, used for
// DW_OP_deref and friends. It is optional; when nil, a dereference that
// cannot be performed statically returns KindAddress of the value that
// would have been dereferenced, for the caller to resolve itself.
type MemoryReader func(addr uint64, size int) ([]byte, error)

// DWARF expression opcodes used by this evaluator.
const (
	opAddr       = 0x03
	opDeref      = 0x06
	opConst1u    = 0x08
	opConst1s    = 0x09
	opConst2u    = 0x0a
	opConst2s    = 0x0b
	opConst4u    = 0x0c
	opConst4s    = 0x0d
	opConst8u    = 0x0e
	opConst8s    = 0x0f
	opConstu     = 0x10
	opConsts     = 0x11
	opDup        = 0x12
	opDrop       = 0x13
	opMinus      = 0x1c
	opMul        = 0x1e
	opPlus       = 0x22
	opPlusUconst = 0x23
	opLit0       = 0x30
	opLit31      = 0x4f
	opReg0       = 0x50
	opReg31      = 0x6f
	opBreg0      = 0x70
	opBreg31     = 0x8f
	opRegx       = 0x90
	opFbreg      = 0x91
	opPiece      = 0x93
	opStackValue = 0x9f
)

// Evaluate executes expr on a fresh stack machine.
//
// regs resolves DWARF register numbers. frameBase, if non-nil, supplies the
// value for DW_OP_fbreg (the caller has typically already evaluated
// DW_AT_frame_base for the enclosing function). mem is used by DW_OP_deref;
// if nil, a dereference returns Result{KindAddress, addr} instead of
// reading through it.
func Evaluate(expr []byte, regs RegisterReader, frameBase *int64, mem MemoryReader) (Result, error) {
	if len(expr) == 0 {
		return Result{Kind: KindEmpty}, nil
	}

	r := leb128.NewReader(expr)
	stack := make([]uint64, 0, 8)

	push := func(v uint64) error {
		if len(stack) >= maxDepth {
			return ErrStackDepth
		}
		stack = append(stack, v)
		return nil
	}
	pop := func() (uint64, error) {
		if len(stack) == 0 {
			return 0, ErrStackUnderflow
		}
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v, nil
	}
	top := func() (uint64, error) {
		if len(stack) == 0 {
			return 0, ErrStackUnderflow
		}
		return stack[len(stack)-1], nil
	}

	for r.Len() > 0 {
		opcode, err := r.ReadByte()
		if err != nil {
			return Result{Kind: KindEmpty}, nil
		}

		switch {
		case opcode >= opLit0 && opcode <= opLit31:
			if err := push(uint64(opcode - opLit0)); err != nil {
				return Result{}, err
			}

		case opcode >= opReg0 && opcode <= opReg31:
			return Result{Kind: KindRegister, Value: uint64(opcode - opReg0)}, nil

		case opcode == opRegx:
			n, err := r.ReadULEB128()
			if err != nil {
				return Result{Kind: KindEmpty}, nil
			}
			return Result{Kind: KindRegister, Value: n}, nil

		case opcode >= opBreg0 && opcode <= opBreg31:
			regNum := uint64(opcode - opBreg0)
			offset, err := r.ReadSLEB128()
			if err != nil {
				return Result{Kind: KindEmpty}, nil
			}
			if regs == nil {
				return Result{Kind: KindEmpty}, nil
			}
			regVal, ok := regs(regNum)
			if !ok {
				return Result{Kind: KindEmpty}, nil
			}
			if err := push(uint64(int64(regVal) + offset)); err != nil {
				return Result{}, err
			}

		case opcode == opAddr:
			addr, err := r.ReadU64()
			if err != nil {
				return Result{Kind: KindEmpty}, nil
			}
			if err := push(addr); err != nil {
				return Result{}, err
			}

		case opcode == opFbreg:
			offset, err := r.ReadSLEB128()
			if err != nil {
				return Result{Kind: KindEmpty}, nil
			}
			if frameBase == nil {
				return Result{Kind: KindEmpty}, nil
			}
			if err := push(uint64(*frameBase + offset)); err != nil {
				return Result{}, err
			}

		case opcode == opConstu:
			v, err := r.ReadULEB128()
			if err != nil {
				return Result{Kind: KindEmpty}, nil
			}
			if err := push(v); err != nil {
				return Result{}, err
			}
		case opcode == opConsts:
			v, err := r.ReadSLEB128()
			if err != nil {
				return Result{Kind: KindEmpty}, nil
			}
			if err := push(uint64(v)); err != nil {
				return Result{}, err
			}
		case opcode == opConst1u:
			v, err := r.ReadByte()
			if err != nil {
				return Result{Kind: KindEmpty}, nil
			}
			if err := push(uint64(v)); err != nil {
				return Result{}, err
			}
		case opcode == opConst1s:
			v, err := r.ReadByte()
			if err != nil {
				return Result{Kind: KindEmpty}, nil
			}
			if err := push(uint64(int64(int8(v)))); err != nil {
				return Result{}, err
			}
		case opcode == opConst2u:
			v, err := r.ReadU16()
			if err != nil {
				return Result{Kind: KindEmpty}, nil
			}
			if err := push(uint64(v)); err != nil {
				return Result{}, err
			}
		case opcode == opConst2s:
			v, err := r.ReadU16()
			if err != nil {
				return Result{Kind: KindEmpty}, nil
			}
			if err := push(uint64(int64(int16(v)))); err != nil {
				return Result{}, err
			}
		case opcode == opConst4u:
			v, err := r.ReadU32()
			if err != nil {
				return Result{Kind: KindEmpty}, nil
			}
			if err := push(uint64(v)); err != nil {
				return Result{}, err
			}
		case opcode == opConst4s:
			v, err := r.ReadU32()
			if err != nil {
				return Result{Kind: KindEmpty}, nil
			}
			if err := push(uint64(int64(int32(v)))); err != nil {
				return Result{}, err
			}
		case opcode == opConst8u:
			v, err := r.ReadU64()
			if err != nil {
				return Result{Kind: KindEmpty}, nil
			}
			if err := push(v); err != nil {
				return Result{}, err
			}
		case opcode == opConst8s:
			v, err := r.ReadU64()
			if err != nil {
				return Result{Kind: KindEmpty}, nil
			}
			if err := push(v); err != nil {
				return Result{}, err
			}

		case opcode == opPlus:
			b, err := pop()
			if err != nil {
				return Result{}, err
			}
			a, err := pop()
			if err != nil {
				return Result{}, err
			}
			if err := push(a + b); err != nil {
				return Result{}, err
			}
		case opcode == opPlusUconst:
			v, err := r.ReadULEB128()
			if err != nil {
				return Result{Kind: KindEmpty}, nil
			}
			a, err := pop()
			if err != nil {
				return Result{}, err
			}
			if err := push(a + v); err != nil {
				return Result{}, err
			}
		case opcode == opMinus:
			b, err := pop()
			if err != nil {
				return Result{}, err
			}
			a, err := pop()
			if err != nil {
				return Result{}, err
			}
			if err := push(a - b); err != nil {
				return Result{}, err
			}
		case opcode == opMul:
			b, err := pop()
			if err != nil {
				return Result{}, err
			}
			a, err := pop()
			if err != nil {
				return Result{}, err
			}
			if err := push(a * b); err != nil {
				return Result{}, err
			}

		case opcode == opDup:
			v, err := top()
			if err != nil {
				return Result{}, err
			}
			if err := push(v); err != nil {
				return Result{}, err
			}
		case opcode == opDrop:
			if _, err := pop(); err != nil {
				return Result{}, err
			}

		case opcode == opDeref:
			addr, err := pop()
			if err != nil {
				return Result{}, err
			}
			if mem == nil {
				return Result{Kind: KindAddress, Value: addr}, nil
			}
			data, err := mem(addr, 8)
			if err != nil || len(data) < 8 {
				return Result{Kind: KindEmpty}, nil
			}
			if err := push(binary.LittleEndian.Uint64(data)); err != nil {
				return Result{}, err
			}

		case opcode == opStackValue:
			v, err := pop()
			if err != nil {
				return Result{}, err
			}
			return Result{Kind: KindValue, Value: v}, nil

		case opcode == opPiece:
			if _, err := r.ReadULEB128(); err != nil {
				return Result{Kind: KindEmpty}, nil
			}
			// Multi-piece values: report the address of the last computed
			// piece for external resolution.
			if v, err := top(); err == nil {
				return Result{Kind: KindAddress, Value: v}, nil
			}

		default:
			return Result{Kind: KindEmpty}, nil
		}
	}

	if len(stack) == 0 {
		return Result{Kind: KindEmpty}, nil
	}
	return Result{Kind: KindAddress, Value: stack[len(stack)-1]}, nil
}
