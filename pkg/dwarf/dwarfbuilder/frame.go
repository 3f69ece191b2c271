package dwarfbuilder

import (
	"bytes"
	"encoding/binary"

	"github.com/go-delve/dwarfcfa/pkg/dwarf/leb128"
	"github.com/go-delve/dwarfcfa/pkg/dwarf/util"
)

// CFAProgram builds a stream of call frame instructions.
type CFAProgram struct {
	buf     bytes.Buffer
	order   binary.ByteOrder
	ptrSize int
}

// NewCFAProgram returns an empty instruction stream.
func NewCFAProgram(order binary.ByteOrder, ptrSize int) *CFAProgram {
	return &CFAProgram{order: order, ptrSize: ptrSize}
}

// Bytes returns the encoded instructions.
func (p *CFAProgram) Bytes() []byte {
	return p.buf.Bytes()
}

func (p *CFAProgram) op(opcode byte) *CFAProgram {
	p.buf.WriteByte(opcode)
	return p
}

func (p *CFAProgram) uleb(x uint64) *CFAProgram {
	leb128.EncodeUnsigned(&p.buf, x)
	return p
}

func (p *CFAProgram) sleb(x int64) *CFAProgram {
	leb128.EncodeSigned(&p.buf, x)
	return p
}

func (p *CFAProgram) block(expr []byte) *CFAProgram {
	p.uleb(uint64(len(expr)))
	p.buf.Write(expr)
	return p
}

// Raw appends arbitrary bytes.
func (p *CFAProgram) Raw(b ...byte) *CFAProgram {
	p.buf.Write(b)
	return p
}

func (p *CFAProgram) Nop() *CFAProgram { return p.op(0x00) }

// AdvanceLoc advances the location by delta code alignment units using the
// shortest encoding.
func (p *CFAProgram) AdvanceLoc(delta uint64) *CFAProgram {
	switch {
	case delta < 0x40:
		return p.op(0x40 | byte(delta))
	case delta <= 0xff:
		return p.op(0x02).Raw(byte(delta))
	case delta <= 0xffff:
		p.op(0x03)
		util.WriteUint(&p.buf, p.order, 2, delta)
	default:
		p.op(0x04)
		util.WriteUint(&p.buf, p.order, 4, delta)
	}
	return p
}

// AdvanceLoc4 always uses DW_CFA_advance_loc4.
func (p *CFAProgram) AdvanceLoc4(delta uint32) *CFAProgram {
	p.op(0x04)
	util.WriteUint(&p.buf, p.order, 4, uint64(delta))
	return p
}

func (p *CFAProgram) SetLoc(addr uint64) *CFAProgram {
	p.op(0x01)
	util.WriteUint(&p.buf, p.order, p.ptrSize, addr)
	return p
}

func (p *CFAProgram) DefCFA(reg, offset uint64) *CFAProgram {
	return p.op(0x0c).uleb(reg).uleb(offset)
}

// DefCFASf takes an offset in data alignment units.
func (p *CFAProgram) DefCFASf(reg uint64, factored int64) *CFAProgram {
	return p.op(0x12).uleb(reg).sleb(factored)
}

func (p *CFAProgram) DefCFARegister(reg uint64) *CFAProgram {
	return p.op(0x0d).uleb(reg)
}

func (p *CFAProgram) DefCFAOffset(offset uint64) *CFAProgram {
	return p.op(0x0e).uleb(offset)
}

func (p *CFAProgram) DefCFAOffsetSf(factored int64) *CFAProgram {
	return p.op(0x13).sleb(factored)
}

func (p *CFAProgram) DefCFAExpression(expr []byte) *CFAProgram {
	return p.op(0x0f).block(expr)
}

// Offset records reg saved at CFA + factored*data alignment, using the
// packed form when reg fits in 6 bits.
func (p *CFAProgram) Offset(reg, factored uint64) *CFAProgram {
	if reg < 0x40 {
		return p.op(0x80 | byte(reg)).uleb(factored)
	}
	return p.op(0x05).uleb(reg).uleb(factored)
}

func (p *CFAProgram) OffsetExtendedSf(reg uint64, factored int64) *CFAProgram {
	return p.op(0x11).uleb(reg).sleb(factored)
}

func (p *CFAProgram) ValOffset(reg, factored uint64) *CFAProgram {
	return p.op(0x14).uleb(reg).uleb(factored)
}

func (p *CFAProgram) ValOffsetSf(reg uint64, factored int64) *CFAProgram {
	return p.op(0x15).uleb(reg).sleb(factored)
}

// Restore uses the packed form when reg fits in 6 bits.
func (p *CFAProgram) Restore(reg uint64) *CFAProgram {
	if reg < 0x40 {
		return p.op(0xc0 | byte(reg))
	}
	return p.op(0x06).uleb(reg)
}

func (p *CFAProgram) Undefined(reg uint64) *CFAProgram { return p.op(0x07).uleb(reg) }
func (p *CFAProgram) SameValue(reg uint64) *CFAProgram { return p.op(0x08).uleb(reg) }

func (p *CFAProgram) Register(reg, reg2 uint64) *CFAProgram {
	return p.op(0x09).uleb(reg).uleb(reg2)
}

func (p *CFAProgram) RememberState() *CFAProgram { return p.op(0x0a) }
func (p *CFAProgram) RestoreState() *CFAProgram  { return p.op(0x0b) }

func (p *CFAProgram) Expression(reg uint64, expr []byte) *CFAProgram {
	return p.op(0x10).uleb(reg).block(expr)
}

func (p *CFAProgram) ValExpression(reg uint64, expr []byte) *CFAProgram {
	return p.op(0x16).uleb(reg).block(expr)
}

// FrameSection builds a .debug_frame or .eh_frame section.
type FrameSection struct {
	buf         bytes.Buffer
	order       binary.ByteOrder
	ptrSize     int
	eh          bool
	sectionAddr uint64
}

// NewDebugFrame returns a builder for a .debug_frame section using 32bit
// DWARF and version 4 CIEs.
func NewDebugFrame(order binary.ByteOrder, ptrSize int) *FrameSection {
	return &FrameSection{order: order, ptrSize: ptrSize}
}

// NewEHFrame returns a builder for a .eh_frame section loaded at
// sectionAddr. FDE addresses are encoded pc relative.
func NewEHFrame(order binary.ByteOrder, ptrSize int, sectionAddr uint64) *FrameSection {
	return &FrameSection{order: order, ptrSize: ptrSize, eh: true, sectionAddr: sectionAddr}
}

func (s *FrameSection) u32(x uint32) {
	util.WriteUint(&s.buf, s.order, 4, uint64(x))
}

func (s *FrameSection) openEntry() int {
	start := s.buf.Len()
	s.u32(0) // length, patched by closeEntry
	return start
}

func (s *FrameSection) closeEntry(start int) {
	s.order.PutUint32(s.buf.Bytes()[start:], uint32(s.buf.Len()-start-4))
}

// CIE appends a CIE and returns its offset.
func (s *FrameSection) CIE(codeAlignment uint64, dataAlignment int64, returnAddressRegister uint64, initialInstructions []byte) int {
	start := s.openEntry()
	if s.eh {
		s.u32(0)
		s.buf.WriteByte(1)
		s.buf.WriteString("zR\x00")
		leb128.EncodeUnsigned(&s.buf, codeAlignment)
		leb128.EncodeSigned(&s.buf, dataAlignment)
		s.buf.WriteByte(byte(returnAddressRegister))
		leb128.EncodeUnsigned(&s.buf, 1)
		s.buf.WriteByte(0x1b) // pcrel | sdata4
	} else {
		s.u32(0xffffffff)
		s.buf.WriteByte(4)
		s.buf.WriteByte(0) // augmentation
		s.buf.WriteByte(byte(s.ptrSize))
		s.buf.WriteByte(0) // segment selector size
		leb128.EncodeUnsigned(&s.buf, codeAlignment)
		leb128.EncodeSigned(&s.buf, dataAlignment)
		leb128.EncodeUnsigned(&s.buf, returnAddressRegister)
	}
	s.buf.Write(initialInstructions)
	s.closeEntry(start)
	return start
}

// FDE appends a FDE, using the CIE at offset cie, and returns its offset.
func (s *FrameSection) FDE(cie int, begin, size uint64, instructions []byte) int {
	start := s.openEntry()
	if s.eh {
		s.u32(uint32(s.buf.Len() - cie))
		fieldAddr := s.sectionAddr + uint64(s.buf.Len())
		s.u32(uint32(int32(int64(begin) - int64(fieldAddr))))
		s.u32(uint32(size))
		leb128.EncodeUnsigned(&s.buf, 0) // augmentation data length
	} else {
		s.u32(uint32(cie))
		util.WriteUint(&s.buf, s.order, s.ptrSize, begin)
		util.WriteUint(&s.buf, s.order, s.ptrSize, size)
	}
	s.buf.Write(instructions)
	s.closeEntry(start)
	return start
}

// Bytes returns the section contents.
func (s *FrameSection) Bytes() []byte {
	if s.eh {
		r := make([]byte, s.buf.Len(), s.buf.Len()+4)
		copy(r, s.buf.Bytes())
		return append(r, 0, 0, 0, 0)
	}
	return s.buf.Bytes()
}
