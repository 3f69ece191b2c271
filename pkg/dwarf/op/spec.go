package op

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Form describes how a single operand of a stack program instruction is
// encoded.
type Form uint8

const (
	FormAddr Form = iota + 1 // target address, Format.PtrSize bytes
	FormData1
	FormData2
	FormData4
	FormData8
	FormSdata1
	FormSdata2
	FormSdata4
	FormSdata8
	FormUdata // ULEB128
	FormSdata // SLEB128
	FormBlock // ULEB128 length followed by that many bytes
	FormRefAddr
)

func (f Form) signed() bool {
	switch f {
	case FormSdata1, FormSdata2, FormSdata4, FormSdata8, FormSdata:
		return true
	}
	return false
}

// OpcodeInfo is the name and operand list of one opcode.
type OpcodeInfo struct {
	Name string
	Args []Form
}

// Spec maps opcodes to their operand layout. Vendor extensions are added by
// deriving a new Spec with Extend.
type Spec struct {
	name string
	ops  map[Opcode]OpcodeInfo
}

// Lookup returns the operand layout of opcode.
func (s *Spec) Lookup(opcode Opcode) (OpcodeInfo, bool) {
	info, ok := s.ops[opcode]
	return info, ok
}

func (s *Spec) String() string { return s.name }

// Extend returns a copy of s that also knows the opcodes in extra.
func (s *Spec) Extend(name string, extra map[Opcode]OpcodeInfo) *Spec {
	ns := &Spec{name: name, ops: make(map[Opcode]OpcodeInfo, len(s.ops)+len(extra))}
	for k, v := range s.ops {
		ns.ops[k] = v
	}
	for k, v := range extra {
		ns.ops[k] = v
	}
	return ns
}

// DWARF4 is the standard DWARF version 4 opcode table.
var DWARF4 = newDWARF4()

func newDWARF4() *Spec {
	s := &Spec{name: "DWARF4", ops: map[Opcode]OpcodeInfo{
		DW_OP_addr:                {"DW_OP_addr", []Form{FormAddr}},
		DW_OP_deref:               {"DW_OP_deref", nil},
		DW_OP_const1u:             {"DW_OP_const1u", []Form{FormData1}},
		DW_OP_const1s:             {"DW_OP_const1s", []Form{FormSdata1}},
		DW_OP_const2u:             {"DW_OP_const2u", []Form{FormData2}},
		DW_OP_const2s:             {"DW_OP_const2s", []Form{FormSdata2}},
		DW_OP_const4u:             {"DW_OP_const4u", []Form{FormData4}},
		DW_OP_const4s:             {"DW_OP_const4s", []Form{FormSdata4}},
		DW_OP_const8u:             {"DW_OP_const8u", []Form{FormData8}},
		DW_OP_const8s:             {"DW_OP_const8s", []Form{FormSdata8}},
		DW_OP_constu:              {"DW_OP_constu", []Form{FormUdata}},
		DW_OP_consts:              {"DW_OP_consts", []Form{FormSdata}},
		DW_OP_dup:                 {"DW_OP_dup", nil},
		DW_OP_drop:                {"DW_OP_drop", nil},
		DW_OP_over:                {"DW_OP_over", nil},
		DW_OP_pick:                {"DW_OP_pick", []Form{FormData1}},
		DW_OP_swap:                {"DW_OP_swap", nil},
		DW_OP_rot:                 {"DW_OP_rot", nil},
		DW_OP_xderef:              {"DW_OP_xderef", nil},
		DW_OP_abs:                 {"DW_OP_abs", nil},
		DW_OP_and:                 {"DW_OP_and", nil},
		DW_OP_div:                 {"DW_OP_div", nil},
		DW_OP_minus:               {"DW_OP_minus", nil},
		DW_OP_mod:                 {"DW_OP_mod", nil},
		DW_OP_mul:                 {"DW_OP_mul", nil},
		DW_OP_neg:                 {"DW_OP_neg", nil},
		DW_OP_not:                 {"DW_OP_not", nil},
		DW_OP_or:                  {"DW_OP_or", nil},
		DW_OP_plus:                {"DW_OP_plus", nil},
		DW_OP_plus_uconst:         {"DW_OP_plus_uconst", []Form{FormUdata}},
		DW_OP_shl:                 {"DW_OP_shl", nil},
		DW_OP_shr:                 {"DW_OP_shr", nil},
		DW_OP_shra:                {"DW_OP_shra", nil},
		DW_OP_xor:                 {"DW_OP_xor", nil},
		DW_OP_bra:                 {"DW_OP_bra", []Form{FormSdata2}},
		DW_OP_eq:                  {"DW_OP_eq", nil},
		DW_OP_ge:                  {"DW_OP_ge", nil},
		DW_OP_gt:                  {"DW_OP_gt", nil},
		DW_OP_le:                  {"DW_OP_le", nil},
		DW_OP_lt:                  {"DW_OP_lt", nil},
		DW_OP_ne:                  {"DW_OP_ne", nil},
		DW_OP_skip:                {"DW_OP_skip", []Form{FormSdata2}},
		DW_OP_regx:                {"DW_OP_regx", []Form{FormUdata}},
		DW_OP_fbreg:               {"DW_OP_fbreg", []Form{FormSdata}},
		DW_OP_bregx:               {"DW_OP_bregx", []Form{FormUdata, FormSdata}},
		DW_OP_piece:               {"DW_OP_piece", []Form{FormUdata}},
		DW_OP_deref_size:          {"DW_OP_deref_size", []Form{FormData1}},
		DW_OP_xderef_size:         {"DW_OP_xderef_size", []Form{FormData1}},
		DW_OP_nop:                 {"DW_OP_nop", nil},
		DW_OP_push_object_address: {"DW_OP_push_object_address", nil},
		DW_OP_call2:               {"DW_OP_call2", []Form{FormData2}},
		DW_OP_call4:               {"DW_OP_call4", []Form{FormData4}},
		DW_OP_call_ref:            {"DW_OP_call_ref", []Form{FormRefAddr}},
		DW_OP_form_tls_address:    {"DW_OP_form_tls_address", nil},
		DW_OP_call_frame_cfa:      {"DW_OP_call_frame_cfa", nil},
		DW_OP_bit_piece:           {"DW_OP_bit_piece", []Form{FormUdata, FormUdata}},
		DW_OP_implicit_value:      {"DW_OP_implicit_value", []Form{FormBlock}},
		DW_OP_stack_value:         {"DW_OP_stack_value", nil},
	}}
	for i := 0; i < 32; i++ {
		s.ops[DW_OP_lit0+Opcode(i)] = OpcodeInfo{Name: fmt.Sprintf("DW_OP_lit%d", i)}
		s.ops[DW_OP_reg0+Opcode(i)] = OpcodeInfo{Name: fmt.Sprintf("DW_OP_reg%d", i)}
		s.ops[DW_OP_breg0+Opcode(i)] = OpcodeInfo{Name: fmt.Sprintf("DW_OP_breg%d", i), Args: []Form{FormSdata}}
	}
	return s
}

// Format is the layout of the target the expressions were produced for.
type Format struct {
	Spec      *Spec
	PtrSize   int
	ByteOrder binary.ByteOrder

	// Dwarf64 selects 8 byte DW_FORM_ref_addr operands.
	Dwarf64 bool
}

// DefaultFormat is DWARF4 on a 64bit little endian target.
var DefaultFormat = Format{Spec: DWARF4, PtrSize: 8, ByteOrder: binary.LittleEndian}

func (f Format) spec() *Spec {
	if f.Spec == nil {
		return DWARF4
	}
	return f.Spec
}

func (f Format) order() binary.ByteOrder {
	if f.ByteOrder == nil {
		return binary.LittleEndian
	}
	return f.ByteOrder
}

func (f Format) ptrSize() int {
	if f.PtrSize == 0 {
		return 8
	}
	return f.PtrSize
}

// ErrUnsupportedOpcode is returned, wrapped in an *UnsupportedOpcodeError,
// for opcodes missing from the Spec in use.
var ErrUnsupportedOpcode = errors.New("unsupported opcode")

// UnsupportedOpcodeError records an unknown opcode and the byte offset it
// was found at.
type UnsupportedOpcodeError struct {
	Opcode byte
	Off    int
}

func (err *UnsupportedOpcodeError) Error() string {
	return fmt.Sprintf("unsupported opcode %#x at offset %#x", err.Opcode, err.Off)
}

func (err *UnsupportedOpcodeError) Unwrap() error {
	return ErrUnsupportedOpcode
}
