package op

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-delve/dwarfcfa/pkg/dwarf/util"
)

// maxSteps bounds the number of instructions executed by a program with
// backward branches.
const maxSteps = 1 << 16

// ReadMemoryFunc reads len(buf) bytes of target memory at addr.
type ReadMemoryFunc func(buf []byte, addr uint64) (int, error)

type context struct {
	expr       LocExpr
	format     Format
	stack      []int64
	pieces     []Piece
	reg        bool
	value      bool
	ptrSize    int
	readMemory ReadMemoryFunc

	DwarfRegisters
}

// Piece is a piece of memory stored either at an address or in a register.
// When IsValue is set the piece has no location and Addr holds its value.
type Piece struct {
	Size       int
	Addr       int64
	RegNum     uint64
	IsRegister bool
	IsValue    bool
}

var errEmptyStack = errors.New("empty OP stack")

// ExecuteStackProgram executes a DWARF location expression and returns
// either an address (int64), or a slice of Pieces for location expressions
// that don't evaluate to an address (such as register and composite expressions).
// Expressions ending in DW_OP_stack_value return the computed value instead
// of an address. readMemory may be nil if the expression does not
// dereference memory.
func ExecuteStackProgram(regs DwarfRegisters, expr LocExpr, ptrSize int, readMemory ReadMemoryFunc) (int64, []Piece, error) {
	ctxt := &context{
		expr:           expr,
		format:         Format{Spec: DWARF4, PtrSize: ptrSize, ByteOrder: regs.ByteOrder},
		stack:          make([]int64, 0, 3),
		DwarfRegisters: regs,
		ptrSize:        ptrSize,
		readMemory:     readMemory,
	}

	steps := 0
	for i := 0; i < len(expr.Instrs); {
		if steps++; steps > maxSteps {
			return 0, nil, fmt.Errorf("stack program did not terminate after %d steps", maxSteps)
		}
		in := expr.Instrs[i]
		if (ctxt.reg || ctxt.value) && in.Opcode != DW_OP_piece && in.Opcode != DW_OP_bit_piece {
			break
		}
		next, err := ctxt.step(i, in)
		if err != nil {
			return 0, nil, fmt.Errorf("%s at offset %#x: %w", in.Opcode, in.Offset, err)
		}
		i = next
	}

	if ctxt.pieces != nil {
		return 0, ctxt.pieces, nil
	}

	if len(ctxt.stack) == 0 {
		return 0, nil, errEmptyStack
	}

	return ctxt.stack[len(ctxt.stack)-1], nil, nil
}

func (ctxt *context) push(v int64) {
	ctxt.stack = append(ctxt.stack, v)
}

func (ctxt *context) pop() (int64, error) {
	if len(ctxt.stack) == 0 {
		return 0, errEmptyStack
	}
	v := ctxt.stack[len(ctxt.stack)-1]
	ctxt.stack = ctxt.stack[:len(ctxt.stack)-1]
	return v, nil
}

func (ctxt *context) pop2() (second, top int64, err error) {
	if len(ctxt.stack) < 2 {
		return 0, 0, errEmptyStack
	}
	top, _ = ctxt.pop()
	second, _ = ctxt.pop()
	return second, top, nil
}

// step executes the instruction at index i and returns the index of the
// next instruction.
func (ctxt *context) step(i int, in Instr) (int, error) {
	op := in.Opcode
	switch {
	case op.IsLit():
		ctxt.push(int64(op - DW_OP_lit0))
	case op.IsReg():
		ctxt.register(uint64(op - DW_OP_reg0))
	case op.IsBreg():
		ctxt.push(int64(ctxt.Uint64Val(uint64(op-DW_OP_breg0))) + in.Signed())
	default:
		return ctxt.stepOther(i, in)
	}
	return i + 1, nil
}

func (ctxt *context) stepOther(i int, in Instr) (int, error) {
	switch in.Opcode {
	case DW_OP_nop:
	case DW_OP_addr:
		ctxt.push(int64(in.Number + ctxt.StaticBase))
	case DW_OP_const1u, DW_OP_const2u, DW_OP_const4u, DW_OP_const8u, DW_OP_constu,
		DW_OP_const1s, DW_OP_const2s, DW_OP_const4s, DW_OP_const8s, DW_OP_consts:
		ctxt.push(int64(in.Number))
	case DW_OP_regx:
		ctxt.register(in.Number)
	case DW_OP_bregx:
		ctxt.push(int64(ctxt.Uint64Val(in.Number)) + in.Signed2())
	case DW_OP_fbreg:
		ctxt.push(ctxt.FrameBase + in.Signed())
	case DW_OP_call_frame_cfa:
		if ctxt.CFA == 0 {
			return 0, fmt.Errorf("could not retrieve CFA for current PC")
		}
		ctxt.push(ctxt.CFA)
	case DW_OP_deref:
		return i + 1, ctxt.deref(ctxt.ptrSize)
	case DW_OP_deref_size:
		return i + 1, ctxt.deref(int(in.Number))
	case DW_OP_dup, DW_OP_drop, DW_OP_over, DW_OP_pick, DW_OP_swap, DW_OP_rot:
		return i + 1, ctxt.stackop(in)
	case DW_OP_abs, DW_OP_neg, DW_OP_not, DW_OP_plus_uconst:
		v, err := ctxt.pop()
		if err != nil {
			return 0, err
		}
		switch in.Opcode {
		case DW_OP_abs:
			if v < 0 {
				v = -v
			}
		case DW_OP_neg:
			v = -v
		case DW_OP_not:
			v = ^v
		case DW_OP_plus_uconst:
			v += int64(in.Number)
		}
		ctxt.push(v)
	case DW_OP_and, DW_OP_div, DW_OP_minus, DW_OP_mod, DW_OP_mul, DW_OP_or, DW_OP_plus,
		DW_OP_shl, DW_OP_shr, DW_OP_shra, DW_OP_xor,
		DW_OP_eq, DW_OP_ge, DW_OP_gt, DW_OP_le, DW_OP_lt, DW_OP_ne:
		return i + 1, ctxt.binop(in.Opcode)
	case DW_OP_skip:
		return ctxt.jump(in)
	case DW_OP_bra:
		v, err := ctxt.pop()
		if err != nil {
			return 0, err
		}
		if v != 0 {
			return ctxt.jump(in)
		}
	case DW_OP_piece:
		return i + 1, ctxt.piece(int(in.Number))
	case DW_OP_bit_piece:
		return i + 1, ctxt.piece(int((in.Number + 7) / 8))
	case DW_OP_stack_value:
		if len(ctxt.stack) == 0 {
			return 0, errEmptyStack
		}
		ctxt.value = true
	case DW_OP_implicit_value:
		if len(in.Block) > 8 {
			return 0, fmt.Errorf("implicit value of %d bytes", len(in.Block))
		}
		var buf [8]byte
		copy(buf[:], in.Block)
		ctxt.push(int64(ctxt.format.order().Uint64(buf[:])))
		ctxt.value = true
	default:
		return 0, fmt.Errorf("evaluation not supported")
	}
	return i + 1, nil
}

func (ctxt *context) jump(in Instr) (int, error) {
	idx, ok := ctxt.expr.IndexOfOffset(in.BranchTarget(), ctxt.format)
	if !ok {
		return 0, fmt.Errorf("branch target %#x is not an instruction", in.BranchTarget())
	}
	return idx, nil
}

func (ctxt *context) register(n uint64) {
	ctxt.reg = true
	ctxt.pieces = append(ctxt.pieces, Piece{IsRegister: true, RegNum: n})
}

func (ctxt *context) piece(sz int) error {
	if ctxt.reg {
		ctxt.reg = false
		ctxt.pieces[len(ctxt.pieces)-1].Size = sz
		return nil
	}

	if len(ctxt.stack) == 0 {
		return errEmptyStack
	}

	addr := ctxt.stack[len(ctxt.stack)-1]
	ctxt.pieces = append(ctxt.pieces, Piece{Size: sz, Addr: addr, IsValue: ctxt.value})
	ctxt.stack = ctxt.stack[:0]
	ctxt.value = false
	return nil
}

func (ctxt *context) deref(sz int) error {
	addr, err := ctxt.pop()
	if err != nil {
		return err
	}
	if ctxt.readMemory == nil {
		return fmt.Errorf("no memory to dereference %#x", addr)
	}
	if sz <= 0 || sz > 8 {
		return fmt.Errorf("bad dereference size %d", sz)
	}
	var buf [8]byte
	n, err := ctxt.readMemory(buf[:sz], uint64(addr))
	if err != nil {
		return err
	}
	if n != sz {
		return fmt.Errorf("short read at %#x", addr)
	}
	var full [8]byte
	order := ctxt.format.order()
	if order == binary.BigEndian {
		copy(full[8-sz:], buf[:sz])
	} else {
		copy(full[:], buf[:sz])
	}
	v := order.Uint64(full[:])
	ctxt.push(int64(v))
	return nil
}

func (ctxt *context) stackop(in Instr) error {
	n := len(ctxt.stack)
	switch in.Opcode {
	case DW_OP_dup:
		if n < 1 {
			return errEmptyStack
		}
		ctxt.push(ctxt.stack[n-1])
	case DW_OP_drop:
		_, err := ctxt.pop()
		return err
	case DW_OP_over:
		if n < 2 {
			return errEmptyStack
		}
		ctxt.push(ctxt.stack[n-2])
	case DW_OP_pick:
		if in.Number >= uint64(n) {
			return errEmptyStack
		}
		ctxt.push(ctxt.stack[n-1-int(in.Number)])
	case DW_OP_swap:
		if n < 2 {
			return errEmptyStack
		}
		ctxt.stack[n-1], ctxt.stack[n-2] = ctxt.stack[n-2], ctxt.stack[n-1]
	case DW_OP_rot:
		if n < 3 {
			return errEmptyStack
		}
		ctxt.stack[n-1], ctxt.stack[n-2], ctxt.stack[n-3] = ctxt.stack[n-2], ctxt.stack[n-3], ctxt.stack[n-1]
	}
	return nil
}

func (ctxt *context) binop(op Opcode) error {
	a, b, err := ctxt.pop2()
	if err != nil {
		return err
	}
	var r int64
	switch op {
	case DW_OP_and:
		r = a & b
	case DW_OP_or:
		r = a | b
	case DW_OP_xor:
		r = a ^ b
	case DW_OP_plus:
		r = a + b
	case DW_OP_minus:
		r = a - b
	case DW_OP_mul:
		r = a * b
	case DW_OP_div:
		if b == 0 {
			return errors.New("division by zero")
		}
		r = a / b
	case DW_OP_mod:
		if b == 0 {
			return errors.New("division by zero")
		}
		r = int64(uint64(a) % uint64(b))
	case DW_OP_shl:
		r = a << uint64(b)
	case DW_OP_shr:
		r = int64(uint64(a) >> uint64(b))
	case DW_OP_shra:
		r = a >> uint64(b)
	case DW_OP_eq:
		r = boolToInt(a == b)
	case DW_OP_ne:
		r = boolToInt(a != b)
	case DW_OP_ge:
		r = boolToInt(a >= b)
	case DW_OP_gt:
		r = boolToInt(a > b)
	case DW_OP_le:
		r = boolToInt(a <= b)
	case DW_OP_lt:
		r = boolToInt(a < b)
	}
	ctxt.push(r)
	return nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// PrettyPrint prints the DWARF stack program instructions to `out`.
// Undecodable trailing bytes are printed in hex.
func PrettyPrint(out io.Writer, instructions []byte) {
	c := util.NewCursor(instructions, DefaultFormat.ByteOrder)
	for !c.Done() {
		start := c.Off()
		in, err := decodeInstr(c, DefaultFormat)
		if err != nil {
			fmt.Fprintf(out, "<%v> [%x]", err, instructions[start:])
			return
		}
		io.WriteString(out, in.String())
		out.Write([]byte{' '})
	}
}
