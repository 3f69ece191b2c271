package op

import (
	"encoding/binary"
	"testing"
)

func mustParse(t *testing.T, src string) LocExpr {
	t.Helper()
	e, err := ParseAssembly(src, DefaultFormat)
	if err != nil {
		t.Fatalf("could not parse %q: %v", src, err)
	}
	return e
}

func TestExecuteStackProgram(t *testing.T) {
	var (
		instructions = []byte{byte(DW_OP_consts), 0x1c, byte(DW_OP_consts), 0x1c, byte(DW_OP_plus)}
		expected     = int64(56)
	)
	expr, err := DecodeLocExpr(instructions, 0, 0, DefaultFormat)
	if err != nil {
		t.Fatal(err)
	}
	actual, _, err := ExecuteStackProgram(DwarfRegisters{}, expr, 8, nil)
	if err != nil {
		t.Fatal(err)
	}

	if actual != expected {
		t.Fatalf("actual %d != expected %d", actual, expected)
	}
}

func TestExecuteRegisterBased(t *testing.T) {
	regs := DwarfRegisters{CFA: 0x1008, FrameBase: 0x2000, ByteOrder: binary.LittleEndian}
	regs.AddReg(7, DwarfRegisterFromUint64(0x1000))
	regs.AddReg(33, DwarfRegisterFromUint64(0x3000))

	tests := []struct {
		src  string
		want int64
	}{
		{"DW_OP_breg7 -8", 0xff8},
		{"DW_OP_call_frame_cfa | DW_OP_consts -16 | DW_OP_plus", 0xff8},
		{"DW_OP_fbreg 16", 0x2010},
		{"DW_OP_bregx 33 -1", 0x2fff},
		{"DW_OP_lit3 | DW_OP_lit4 | DW_OP_minus", -1},
		{"DW_OP_lit9 | DW_OP_lit4 | DW_OP_mod", 1},
		{"DW_OP_lit1 | DW_OP_lit2 | DW_OP_lit3 | DW_OP_rot", 2},
		{"DW_OP_lit1 | DW_OP_lit2 | DW_OP_pick 1", 1},
		{"DW_OP_const1s -2 | DW_OP_abs", 2},
		{"DW_OP_lit16 | DW_OP_plus_uconst 16", 32},
	}
	for _, tc := range tests {
		got, _, err := ExecuteStackProgram(regs, mustParse(t, tc.src), 8, nil)
		if err != nil {
			t.Fatalf("%s: %v", tc.src, err)
		}
		if got != tc.want {
			t.Errorf("%s: expected %#x, got %#x", tc.src, tc.want, got)
		}
	}
}

func TestExecuteBranches(t *testing.T) {
	for cond, want := range map[string]int64{"DW_OP_lit0": 5, "DW_OP_lit1": 6} {
		expr := mustParse(t, cond+" | DW_OP_bra 4 | DW_OP_lit5 | DW_OP_skip 1 | DW_OP_lit6")
		got, _, err := ExecuteStackProgram(DwarfRegisters{}, expr, 8, nil)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("%s: expected %d, got %d", cond, want, got)
		}
	}

	expr := mustParse(t, "DW_OP_skip 1 | DW_OP_const2u 7 | DW_OP_lit2")
	if _, _, err := ExecuteStackProgram(DwarfRegisters{}, expr, 8, nil); err == nil {
		t.Fatal("expected error for branch into the middle of an instruction")
	}
}

func TestExecuteDeref(t *testing.T) {
	mem := map[uint64][]byte{
		0x1000: {0xef, 0xbe, 0xad, 0xde, 0, 0, 0, 0},
	}
	readMemory := func(buf []byte, addr uint64) (int, error) {
		return copy(buf, mem[addr]), nil
	}
	got, _, err := ExecuteStackProgram(DwarfRegisters{ByteOrder: binary.LittleEndian}, mustParse(t, "DW_OP_const2u 0x1000 | DW_OP_deref"), 8, readMemory)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0xdeadbeef {
		t.Fatalf("expected %#x, got %#x", 0xdeadbeef, got)
	}
	got, _, err = ExecuteStackProgram(DwarfRegisters{ByteOrder: binary.LittleEndian}, mustParse(t, "DW_OP_const2u 0x1000 | DW_OP_deref_size 2"), 8, readMemory)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0xbeef {
		t.Fatalf("expected %#x, got %#x", 0xbeef, got)
	}
	if _, _, err := ExecuteStackProgram(DwarfRegisters{}, mustParse(t, "DW_OP_lit0 | DW_OP_deref"), 8, nil); err == nil {
		t.Fatal("expected error without a memory reader")
	}
}

func TestExecutePieces(t *testing.T) {
	regs := DwarfRegisters{}
	regs.AddReg(7, DwarfRegisterFromUint64(0x1000))
	_, pieces, err := ExecuteStackProgram(regs, mustParse(t, "DW_OP_reg0 | DW_OP_piece 4 | DW_OP_breg7 -8 | DW_OP_piece 4"), 8, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(pieces) != 2 {
		t.Fatalf("expected 2 pieces, got %d", len(pieces))
	}
	if !pieces[0].IsRegister || pieces[0].RegNum != 0 || pieces[0].Size != 4 {
		t.Errorf("bad first piece %#v", pieces[0])
	}
	if pieces[1].IsRegister || pieces[1].Addr != 0xff8 || pieces[1].Size != 4 {
		t.Errorf("bad second piece %#v", pieces[1])
	}
}

func TestExecuteStackValue(t *testing.T) {
	got, pieces, err := ExecuteStackProgram(DwarfRegisters{}, mustParse(t, "DW_OP_lit7 | DW_OP_stack_value"), 8, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != 7 || pieces != nil {
		t.Fatalf("expected 7 without pieces, got %d %v", got, pieces)
	}
}

func TestExecuteEmptyStack(t *testing.T) {
	for _, src := range []string{"DW_OP_plus", "DW_OP_lit1 | DW_OP_drop", "DW_OP_lit1 | DW_OP_swap"} {
		if _, _, err := ExecuteStackProgram(DwarfRegisters{}, mustParse(t, src), 8, nil); err == nil {
			t.Errorf("%s: expected error", src)
		}
	}
}
