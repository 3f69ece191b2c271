package op

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-delve/dwarfcfa/pkg/dwarf/leb128"
	"github.com/go-delve/dwarfcfa/pkg/dwarf/util"
)

// Instr is one decoded stack program instruction. Signed operands are
// stored as two's complement in Number and Number2.
type Instr struct {
	Opcode  Opcode
	Number  uint64
	Number2 uint64
	Offset  int    // byte offset of the opcode within the expression
	Block   []byte // operand of DW_OP_implicit_value
}

// Signed returns Number as a signed value.
func (in Instr) Signed() int64 { return int64(in.Number) }

// Signed2 returns Number2 as a signed value.
func (in Instr) Signed2() int64 { return int64(in.Number2) }

// BranchTarget returns the offset DW_OP_skip and DW_OP_bra transfer
// control to.
func (in Instr) BranchTarget() int {
	return in.Offset + 3 + int(int16(in.Number))
}

func (in Instr) equal(other Instr) bool {
	return in.Opcode == other.Opcode && in.Number == other.Number && in.Number2 == other.Number2 && bytes.Equal(in.Block, other.Block)
}

func (in Instr) String() string {
	info, ok := DWARF4.Lookup(in.Opcode)
	if !ok {
		return in.Opcode.String()
	}
	return in.format(info)
}

func (in Instr) format(info OpcodeInfo) string {
	var buf strings.Builder
	buf.WriteString(info.Name)
	for i, form := range info.Args {
		v := in.Number
		if i == 1 {
			v = in.Number2
		}
		switch {
		case form == FormBlock:
			fmt.Fprintf(&buf, " %d [%x]", len(in.Block), in.Block)
		case form == FormAddr:
			fmt.Fprintf(&buf, " %#x", v)
		case form.signed():
			fmt.Fprintf(&buf, " %d", signExtend(v, form))
		default:
			fmt.Fprintf(&buf, " %d", v)
		}
	}
	return buf.String()
}

func signExtend(v uint64, form Form) int64 {
	switch form {
	case FormSdata1:
		return int64(int8(v))
	case FormSdata2:
		return int64(int16(v))
	case FormSdata4:
		return int64(int32(v))
	}
	return int64(v)
}

// LocExpr is a location expression valid for pc in [LowPC, HighPC). A zero
// range means the expression is valid everywhere.
type LocExpr struct {
	Instrs []Instr
	LowPC  uint64
	HighPC uint64
}

// DecodeLocExpr decodes the stack program in data.
func DecodeLocExpr(data []byte, lowpc, highpc uint64, f Format) (LocExpr, error) {
	e := LocExpr{LowPC: lowpc, HighPC: highpc}
	c := util.NewCursor(data, f.order())
	for !c.Done() {
		in, err := decodeInstr(c, f)
		if err != nil {
			return LocExpr{}, err
		}
		e.Instrs = append(e.Instrs, in)
	}
	return e, nil
}

func decodeInstr(c *util.Cursor, f Format) (Instr, error) {
	off := c.Off()
	b, err := c.ReadByte()
	if err != nil {
		return Instr{}, err
	}
	info, ok := f.spec().Lookup(Opcode(b))
	if !ok {
		return Instr{}, &UnsupportedOpcodeError{Opcode: b, Off: off}
	}
	in := Instr{Opcode: Opcode(b), Offset: off}
	for i, form := range info.Args {
		v, blk, err := readOperand(c, form, f)
		if err != nil {
			return Instr{}, err
		}
		if i == 0 {
			in.Number = v
		} else {
			in.Number2 = v
		}
		if blk != nil {
			in.Block = blk
		}
	}
	return in, nil
}

func readOperand(c *util.Cursor, form Form, f Format) (uint64, []byte, error) {
	switch form {
	case FormAddr:
		v, err := c.Addr(f.ptrSize())
		return v, nil, err
	case FormData1:
		v, err := c.Uint8()
		return uint64(v), nil, err
	case FormSdata1:
		v, err := c.Uint8()
		return uint64(int64(int8(v))), nil, err
	case FormData2:
		v, err := c.Uint16()
		return uint64(v), nil, err
	case FormSdata2:
		v, err := c.Uint16()
		return uint64(int64(int16(v))), nil, err
	case FormData4:
		v, err := c.Uint32()
		return uint64(v), nil, err
	case FormSdata4:
		v, err := c.Uint32()
		return uint64(int64(int32(v))), nil, err
	case FormData8, FormSdata8:
		v, err := c.Uint64()
		return v, nil, err
	case FormUdata:
		v, err := c.ULEB128()
		return v, nil, err
	case FormSdata:
		v, err := c.SLEB128()
		return uint64(v), nil, err
	case FormBlock:
		n, err := c.ULEB128()
		if err != nil {
			return 0, nil, err
		}
		blk, err := c.Bytes(n)
		return n, blk, err
	case FormRefAddr:
		if f.Dwarf64 {
			v, err := c.Uint64()
			return v, nil, err
		}
		v, err := c.Uint32()
		return uint64(v), nil, err
	}
	return 0, nil, fmt.Errorf("unknown operand form %d", form)
}

// Encode serializes the expression. It is the inverse of DecodeLocExpr.
func (e LocExpr) Encode(f Format) ([]byte, error) {
	var buf bytes.Buffer
	for _, in := range e.Instrs {
		info, ok := f.spec().Lookup(in.Opcode)
		if !ok {
			return nil, &UnsupportedOpcodeError{Opcode: byte(in.Opcode), Off: buf.Len()}
		}
		buf.WriteByte(byte(in.Opcode))
		for i, form := range info.Args {
			v := in.Number
			if i == 1 {
				v = in.Number2
			}
			if err := writeOperand(&buf, form, v, in.Block, f); err != nil {
				return nil, err
			}
		}
	}
	return buf.Bytes(), nil
}

func writeOperand(buf *bytes.Buffer, form Form, v uint64, blk []byte, f Format) error {
	switch form {
	case FormAddr:
		return util.WriteUint(buf, f.order(), f.ptrSize(), v)
	case FormData1, FormSdata1:
		buf.WriteByte(byte(v))
	case FormData2, FormSdata2:
		return util.WriteUint(buf, f.order(), 2, v)
	case FormData4, FormSdata4:
		return util.WriteUint(buf, f.order(), 4, v)
	case FormData8, FormSdata8:
		return util.WriteUint(buf, f.order(), 8, v)
	case FormUdata:
		leb128.EncodeUnsigned(buf, v)
	case FormSdata:
		leb128.EncodeSigned(buf, int64(v))
	case FormBlock:
		leb128.EncodeUnsigned(buf, uint64(len(blk)))
		buf.Write(blk)
	case FormRefAddr:
		if f.Dwarf64 {
			return util.WriteUint(buf, f.order(), 8, v)
		}
		return util.WriteUint(buf, f.order(), 4, v)
	default:
		return fmt.Errorf("unknown operand form %d", form)
	}
	return nil
}

// InstrSize returns the encoded size of in.
func (f Format) InstrSize(in Instr) int {
	info, ok := f.spec().Lookup(in.Opcode)
	if !ok {
		return 1
	}
	sz := 1
	for i, form := range info.Args {
		v := in.Number
		if i == 1 {
			v = in.Number2
		}
		switch form {
		case FormAddr:
			sz += f.ptrSize()
		case FormData1, FormSdata1:
			sz++
		case FormData2, FormSdata2:
			sz += 2
		case FormData4, FormSdata4:
			sz += 4
		case FormData8, FormSdata8:
			sz += 8
		case FormUdata:
			sz += leb128.UnsignedSize(v)
		case FormSdata:
			sz += leb128.SignedSize(int64(v))
		case FormBlock:
			sz += leb128.UnsignedSize(uint64(len(in.Block))) + len(in.Block)
		case FormRefAddr:
			if f.Dwarf64 {
				sz += 8
			} else {
				sz += 4
			}
		}
	}
	return sz
}

// Layout assigns byte offsets to instrs, in place, and returns the total
// encoded length.
func (f Format) Layout(instrs []Instr) int {
	off := 0
	for i := range instrs {
		instrs[i].Offset = off
		off += f.InstrSize(instrs[i])
	}
	return off
}

// Len returns the encoded length of the expression.
func (e LocExpr) Len(f Format) int {
	if len(e.Instrs) == 0 {
		return 0
	}
	last := e.Instrs[len(e.Instrs)-1]
	return last.Offset + f.InstrSize(last)
}

// IndexOfOffset returns the index of the instruction starting at byte
// offset off. An offset equal to the end of the expression returns
// len(e.Instrs).
func (e LocExpr) IndexOfOffset(off int, f Format) (int, bool) {
	for i := range e.Instrs {
		if e.Instrs[i].Offset == off {
			return i, true
		}
		if e.Instrs[i].Offset > off {
			return 0, false
		}
	}
	if off == e.Len(f) {
		return len(e.Instrs), true
	}
	return 0, false
}

// IsEverywhere reports whether the expression has no range restriction.
func (e LocExpr) IsEverywhere() bool {
	return e.LowPC == 0 && e.HighPC == 0
}

// Covers reports whether addr is inside the range of e.
func (e LocExpr) Covers(addr uint64) bool {
	return e.IsEverywhere() || (addr >= e.LowPC && addr < e.HighPC)
}

// Equal compares ranges and instructions, byte offsets are ignored.
func (e LocExpr) Equal(other LocExpr) bool {
	if e.LowPC != other.LowPC || e.HighPC != other.HighPC {
		return false
	}
	return e.SameInstrs(other)
}

// SameInstrs compares only the instructions of the two expressions.
func (e LocExpr) SameInstrs(other LocExpr) bool {
	if len(e.Instrs) != len(other.Instrs) {
		return false
	}
	for i := range e.Instrs {
		if !e.Instrs[i].equal(other.Instrs[i]) {
			return false
		}
	}
	return true
}

func (e LocExpr) String() string {
	return e.render(false)
}

// StringWithOffsets is like String but prefixes every instruction with its
// byte offset.
func (e LocExpr) StringWithOffsets() string {
	return e.render(true)
}

func (e LocExpr) render(offsets bool) string {
	var buf strings.Builder
	if e.IsEverywhere() {
		buf.WriteString("everywhere:")
	} else {
		fmt.Fprintf(&buf, "[%#x, %#x):", e.LowPC, e.HighPC)
	}
	for i, in := range e.Instrs {
		if i > 0 {
			buf.WriteByte(';')
		}
		buf.WriteByte(' ')
		if offsets {
			fmt.Fprintf(&buf, "%d: ", in.Offset)
		}
		buf.WriteString(in.String())
	}
	return buf.String()
}

// ExprPiece is one piece of a composite location.
type ExprPiece struct {
	Expr       LocExpr
	SizeBits   uint64 // zero means the whole object
	OffsetBits uint64 // position of the piece inside the object
}

// Pieces splits the expression at DW_OP_piece and DW_OP_bit_piece. An
// expression without piece operators is returned as a single piece of
// size zero.
func (e LocExpr) Pieces() []ExprPiece {
	var (
		r     []ExprPiece
		start int
		pos   uint64
	)
	sub := func(end int) LocExpr {
		instrs := make([]Instr, end-start)
		copy(instrs, e.Instrs[start:end])
		if len(instrs) > 0 {
			base := instrs[0].Offset
			for i := range instrs {
				instrs[i].Offset -= base
			}
		}
		return LocExpr{Instrs: instrs, LowPC: e.LowPC, HighPC: e.HighPC}
	}
	for i, in := range e.Instrs {
		var size uint64
		switch in.Opcode {
		case DW_OP_piece:
			size = in.Number * 8
		case DW_OP_bit_piece:
			size = in.Number
		default:
			continue
		}
		r = append(r, ExprPiece{Expr: sub(i), SizeBits: size, OffsetBits: pos})
		pos += size
		start = i + 1
	}
	if start < len(e.Instrs) || len(r) == 0 {
		r = append(r, ExprPiece{Expr: sub(len(e.Instrs)), OffsetBits: pos})
	}
	return r
}

// PieceForOffset returns the piece containing byte offset off of the
// object.
func (e LocExpr) PieceForOffset(off uint64) (ExprPiece, bool) {
	bit := off * 8
	for _, p := range e.Pieces() {
		if bit < p.OffsetBits {
			continue
		}
		if p.SizeBits == 0 || bit < p.OffsetBits+p.SizeBits {
			return p, true
		}
	}
	return ExprPiece{}, false
}

// RegRef is a register based address computation found in an expression.
type RegRef struct {
	Index     int // index of the instruction in LocExpr.Instrs
	Reg       uint64
	Offset    int64
	FrameBase bool // DW_OP_fbreg, Reg is meaningless
}

// RegisterRefs lists every DW_OP_bregN, DW_OP_bregx and DW_OP_fbreg.
func (e LocExpr) RegisterRefs() []RegRef {
	var r []RegRef
	for i, in := range e.Instrs {
		switch {
		case in.Opcode.IsBreg():
			r = append(r, RegRef{Index: i, Reg: uint64(in.Opcode - DW_OP_breg0), Offset: in.Signed()})
		case in.Opcode == DW_OP_bregx:
			r = append(r, RegRef{Index: i, Reg: in.Number, Offset: in.Signed2()})
		case in.Opcode == DW_OP_fbreg:
			r = append(r, RegRef{Index: i, Offset: in.Signed(), FrameBase: true})
		}
	}
	return r
}
