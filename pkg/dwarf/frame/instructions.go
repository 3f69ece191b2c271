package frame

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/go-delve/dwarfcfa/pkg/dwarf/op"
	"github.com/go-delve/dwarfcfa/pkg/dwarf/util"
)

// Opcode is a call frame instruction opcode. The three packed opcodes
// (DW_CFA_advance_loc, DW_CFA_offset and DW_CFA_restore) are represented
// with their low 6 bits cleared.
type Opcode byte

// Instructions used to recreate the table from the .debug_frame data.
const (
	DW_CFA_nop                Opcode = 0x00       // No ops
	DW_CFA_set_loc            Opcode = 0x01       // op1: address
	DW_CFA_advance_loc1       Opcode = 0x02       // op1: 1-bytes delta
	DW_CFA_advance_loc2       Opcode = 0x03       // op1: 2-byte delta
	DW_CFA_advance_loc4       Opcode = 0x04       // op1: 4-byte delta
	DW_CFA_offset_extended    Opcode = 0x05       // op1: ULEB128 register, op2: ULEB128 offset
	DW_CFA_restore_extended   Opcode = 0x06       // op1: ULEB128 register
	DW_CFA_undefined          Opcode = 0x07       // op1: ULEB128 register
	DW_CFA_same_value         Opcode = 0x08       // op1: ULEB128 register
	DW_CFA_register           Opcode = 0x09       // op1: ULEB128 register, op2: ULEB128 register
	DW_CFA_remember_state     Opcode = 0x0a       // No ops
	DW_CFA_restore_state      Opcode = 0x0b       // No ops
	DW_CFA_def_cfa            Opcode = 0x0c       // op1: ULEB128 register, op2: ULEB128 offset
	DW_CFA_def_cfa_register   Opcode = 0x0d       // op1: ULEB128 register
	DW_CFA_def_cfa_offset     Opcode = 0x0e       // op1: ULEB128 offset
	DW_CFA_def_cfa_expression Opcode = 0x0f       // op1: BLOCK
	DW_CFA_expression         Opcode = 0x10       // op1: ULEB128 register, op2: BLOCK
	DW_CFA_offset_extended_sf Opcode = 0x11       // op1: ULEB128 register, op2: SLEB128 offset
	DW_CFA_def_cfa_sf         Opcode = 0x12       // op1: ULEB128 register, op2: SLEB128 offset
	DW_CFA_def_cfa_offset_sf  Opcode = 0x13       // op1: SLEB128 offset
	DW_CFA_val_offset         Opcode = 0x14       // op1: ULEB128, op2: ULEB128
	DW_CFA_val_offset_sf      Opcode = 0x15       // op1: ULEB128, op2: SLEB128
	DW_CFA_val_expression     Opcode = 0x16       // op1: ULEB128, op2: BLOCK
	DW_CFA_lo_user            Opcode = 0x1c       // vendor extensions start here
	DW_CFA_hi_user            Opcode = 0x3f
	DW_CFA_advance_loc        Opcode = (0x1 << 6) // High 2 bits: 0x1, low 6: delta
	DW_CFA_offset             Opcode = (0x2 << 6) // High 2 bits: 0x2, low 6: register
	DW_CFA_restore            Opcode = (0x3 << 6) // High 2 bits: 0x3, low 6: register
)

const (
	high_2_bits  = 0xc0
	low_6_offset = 0x3f
)

// shape is the operand layout of an opcode.
type shape uint8

const (
	shapeNone          shape = iota
	shapeAddr                // target address
	shapeDelta1              // 1 byte delta
	shapeDelta2              // 2 byte delta
	shapeDelta4              // 4 byte delta
	shapeReg                 // ULEB128 register
	shapeRegReg              // ULEB128 register, ULEB128 register
	shapeRegFactoredU        // ULEB128 register, ULEB128 offset * data alignment
	shapeRegFactoredS        // ULEB128 register, SLEB128 offset * data alignment
	shapeRegOffset           // ULEB128 register, ULEB128 offset
	shapeOffset              // ULEB128 offset
	shapeFactoredS           // SLEB128 offset * data alignment
	shapeBlock               // ULEB128 length, bytes
	shapeRegBlock            // ULEB128 register, ULEB128 length, bytes
)

var opcodeInfo = map[Opcode]struct {
	name  string
	shape shape
}{
	DW_CFA_nop:                {"DW_CFA_nop", shapeNone},
	DW_CFA_set_loc:            {"DW_CFA_set_loc", shapeAddr},
	DW_CFA_advance_loc1:       {"DW_CFA_advance_loc1", shapeDelta1},
	DW_CFA_advance_loc2:       {"DW_CFA_advance_loc2", shapeDelta2},
	DW_CFA_advance_loc4:       {"DW_CFA_advance_loc4", shapeDelta4},
	DW_CFA_offset_extended:    {"DW_CFA_offset_extended", shapeRegFactoredU},
	DW_CFA_restore_extended:   {"DW_CFA_restore_extended", shapeReg},
	DW_CFA_undefined:          {"DW_CFA_undefined", shapeReg},
	DW_CFA_same_value:         {"DW_CFA_same_value", shapeReg},
	DW_CFA_register:           {"DW_CFA_register", shapeRegReg},
	DW_CFA_remember_state:     {"DW_CFA_remember_state", shapeNone},
	DW_CFA_restore_state:      {"DW_CFA_restore_state", shapeNone},
	DW_CFA_def_cfa:            {"DW_CFA_def_cfa", shapeRegOffset},
	DW_CFA_def_cfa_register:   {"DW_CFA_def_cfa_register", shapeReg},
	DW_CFA_def_cfa_offset:     {"DW_CFA_def_cfa_offset", shapeOffset},
	DW_CFA_def_cfa_expression: {"DW_CFA_def_cfa_expression", shapeBlock},
	DW_CFA_expression:         {"DW_CFA_expression", shapeRegBlock},
	DW_CFA_offset_extended_sf: {"DW_CFA_offset_extended_sf", shapeRegFactoredS},
	DW_CFA_def_cfa_sf:         {"DW_CFA_def_cfa_sf", shapeRegFactoredS},
	DW_CFA_def_cfa_offset_sf:  {"DW_CFA_def_cfa_offset_sf", shapeFactoredS},
	DW_CFA_val_offset:         {"DW_CFA_val_offset", shapeRegFactoredU},
	DW_CFA_val_offset_sf:      {"DW_CFA_val_offset_sf", shapeRegFactoredS},
	DW_CFA_val_expression:     {"DW_CFA_val_expression", shapeRegBlock},
	DW_CFA_advance_loc:        {"DW_CFA_advance_loc", shapeNone},
	DW_CFA_offset:             {"DW_CFA_offset", shapeNone},
	DW_CFA_restore:            {"DW_CFA_restore", shapeNone},
}

func (opcode Opcode) String() string {
	if info, ok := opcodeInfo[opcode]; ok {
		return info.name
	}
	return fmt.Sprintf("DW_CFA_%#x", byte(opcode))
}

// Instr is a decoded call frame instruction.
//
// Operand holds, depending on the opcode, the offset (already multiplied
// by the data alignment factor and stored as two's complement), the
// unscaled advance delta, the target address of DW_CFA_set_loc, the
// second register of DW_CFA_register or the length of Expr. Expr is the
// raw DWARF expression of the block forms, Loc its decoded form, nil if
// Expr could not be decoded.
type Instr struct {
	Op      Opcode
	Reg     uint64
	Operand uint64
	Expr    []byte
	Loc     *op.LocExpr
	Off     int // byte offset of the instruction in its stream
}

// BaseOp returns the top two bits of the opcode.
func (in Instr) BaseOp() byte { return byte(in.Op) & high_2_bits }

// ExtendedOp returns the low six bits of the opcode. It is only
// meaningful when BaseOp is zero.
func (in Instr) ExtendedOp() byte { return byte(in.Op) & low_6_offset }

// Offset returns Operand as a signed value.
func (in Instr) Offset() int64 { return int64(in.Operand) }

func (in Instr) hasReg() bool {
	switch in.Op {
	case DW_CFA_offset, DW_CFA_restore:
		return true
	}
	switch opcodeInfo[in.Op].shape {
	case shapeReg, shapeRegReg, shapeRegFactoredU, shapeRegFactoredS, shapeRegOffset, shapeRegBlock:
		return true
	}
	return false
}

func (in Instr) String() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "<%s: ", in.Op)
	if in.hasReg() {
		fmt.Fprintf(&buf, "reg %d, ", in.Reg)
	}
	switch sh := opcodeInfo[in.Op].shape; {
	case in.Op == DW_CFA_advance_loc || sh == shapeDelta1 || sh == shapeDelta2 || sh == shapeDelta4:
		fmt.Fprintf(&buf, "delta %d, ", in.Operand)
	case sh == shapeAddr:
		fmt.Fprintf(&buf, "addr %#x, ", in.Operand)
	case sh == shapeRegReg:
		fmt.Fprintf(&buf, "reg2 %d, ", in.Operand)
	case (sh == shapeBlock || sh == shapeRegBlock) && in.Loc != nil:
		fmt.Fprintf(&buf, "blklen %d, expr {%s}, ", in.Operand, instrsString(in.Loc.Instrs))
	case sh == shapeBlock || sh == shapeRegBlock:
		fmt.Fprintf(&buf, "blklen %d, expr %x, ", in.Operand, in.Expr)
	case in.Op == DW_CFA_offset || sh == shapeRegFactoredU || sh == shapeRegFactoredS || sh == shapeRegOffset || sh == shapeOffset || sh == shapeFactoredS:
		fmt.Fprintf(&buf, "offset %d, ", in.Offset())
	}
	fmt.Fprintf(&buf, "instroff %d>", in.Off)
	return buf.String()
}

// InstrList is a decoded instruction stream.
type InstrList []Instr

func (l InstrList) String() string {
	var buf strings.Builder
	for i, in := range l {
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(in.String())
	}
	return buf.String()
}

// DecodeInstructions decodes a CIE initial instruction stream or a FDE
// instruction stream. Factored offsets are multiplied by dataAlignment;
// advance deltas are returned unscaled. DW_CFA_set_loc operands are read
// as absolute addresses.
func DecodeInstructions(data []byte, ptrSize int, dataAlignment int64, order binary.ByteOrder) (InstrList, error) {
	return instrDecoder{ptrSize: ptrSize, dataAlignment: dataAlignment, order: order}.decode(data)
}

// instrDecoder holds what decoding an instruction stream needs to know
// about its CIE.
type instrDecoder struct {
	ptrSize       int
	dataAlignment int64
	order         binary.ByteOrder
	ptrEnc        ptrEnc // encoding of DW_CFA_set_loc operands
	addr          uint64 // address of the stream, for pc relative operands
}

func (d instrDecoder) decode(data []byte) (InstrList, error) {
	var (
		c = util.NewCursor(data, d.order)
		r InstrList
	)
	for !c.Done() {
		in, err := d.decodeInstr(c)
		if err != nil {
			return nil, &DecodeError{Entry: -1, Off: in.Off, Err: err}
		}
		r = append(r, in)
	}
	return r, nil
}

func (d instrDecoder) decodeInstr(c *util.Cursor) (Instr, error) {
	in := Instr{Off: c.Off()}
	b, err := c.ReadByte()
	if err != nil {
		return in, err
	}

	// The 3 opcodes that have their argument encoded in the opcode itself.
	switch Opcode(b & high_2_bits) {
	case DW_CFA_advance_loc:
		in.Op = DW_CFA_advance_loc
		in.Operand = uint64(b & low_6_offset)
		return in, nil
	case DW_CFA_offset:
		in.Op = DW_CFA_offset
		in.Reg = uint64(b & low_6_offset)
		off, err := c.ULEB128()
		in.Operand = uint64(int64(off) * d.dataAlignment)
		return in, err
	case DW_CFA_restore:
		in.Op = DW_CFA_restore
		in.Reg = uint64(b & low_6_offset)
		return in, nil
	}

	in.Op = Opcode(b)
	info, ok := opcodeInfo[in.Op]
	if !ok {
		return in, &op.UnsupportedOpcodeError{Opcode: b, Off: in.Off}
	}

	switch info.shape {
	case shapeNone:
	case shapeAddr:
		in.Operand, err = readEncodedPtr(c, d.ptrEnc, d.ptrSize, d.addr+uint64(c.Off()))
	case shapeDelta1:
		var x uint8
		x, err = c.Uint8()
		in.Operand = uint64(x)
	case shapeDelta2:
		var x uint16
		x, err = c.Uint16()
		in.Operand = uint64(x)
	case shapeDelta4:
		var x uint32
		x, err = c.Uint32()
		in.Operand = uint64(x)
	case shapeReg:
		in.Reg, err = c.ULEB128()
	case shapeRegReg:
		if in.Reg, err = c.ULEB128(); err == nil {
			in.Operand, err = c.ULEB128()
		}
	case shapeRegFactoredU:
		if in.Reg, err = c.ULEB128(); err == nil {
			var off uint64
			off, err = c.ULEB128()
			in.Operand = uint64(int64(off) * d.dataAlignment)
		}
	case shapeRegFactoredS:
		if in.Reg, err = c.ULEB128(); err == nil {
			var off int64
			off, err = c.SLEB128()
			in.Operand = uint64(off * d.dataAlignment)
		}
	case shapeRegOffset:
		if in.Reg, err = c.ULEB128(); err == nil {
			in.Operand, err = c.ULEB128()
		}
	case shapeOffset:
		in.Operand, err = c.ULEB128()
	case shapeFactoredS:
		var off int64
		off, err = c.SLEB128()
		in.Operand = uint64(off * d.dataAlignment)
	case shapeRegBlock:
		if in.Reg, err = c.ULEB128(); err != nil {
			break
		}
		fallthrough
	case shapeBlock:
		if in.Operand, err = c.ULEB128(); err == nil {
			if in.Expr, err = c.Bytes(in.Operand); err == nil {
				in.Loc = d.decodeExpr(in.Expr)
			}
		}
	}
	return in, err
}

// decodeExpr decodes the DWARF expression of a block form. Expressions
// using opcodes unknown to DWARF4 are left undecoded.
func (d instrDecoder) decodeExpr(data []byte) *op.LocExpr {
	e, err := op.DecodeLocExpr(data, 0, 0, op.Format{Spec: op.DWARF4, PtrSize: d.ptrSize, ByteOrder: d.order})
	if err != nil {
		return nil
	}
	return &e
}

func instrsString(instrs []op.Instr) string {
	s := make([]string, len(instrs))
	for i := range instrs {
		s[i] = instrs[i].String()
	}
	return strings.Join(s, "; ")
}
