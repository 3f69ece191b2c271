package cmds

import (
	"bytes"
	"debug/dwarf"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-delve/dwarfcfa/pkg/config"
	dwarfimg "github.com/go-delve/dwarfcfa/pkg/dwarf"
	"github.com/go-delve/dwarfcfa/pkg/dwarf/cfa"
	"github.com/go-delve/dwarfcfa/pkg/dwarf/dwarfbuilder"
	"github.com/go-delve/dwarfcfa/pkg/dwarf/frame"
	"github.com/go-delve/dwarfcfa/pkg/dwarf/op"
	"github.com/go-delve/dwarfcfa/pkg/dwarf/regnum"
)

func prog() *dwarfbuilder.CFAProgram {
	return dwarfbuilder.NewCFAProgram(binary.LittleEndian, 8)
}

// testImage has a function f in [0x1000, 0x1020) with rows
//
//	[0x1000, 0x1001) cfa=rsp+8
//	[0x1001, 0x1004) cfa=rsp+16
//	[0x1004, 0x1020) cfa=rbp+16
func testImage(t *testing.T) *dwarfimg.Image {
	b := dwarfbuilder.New()
	intType := b.AddBaseType("int", dwarfbuilder.DW_ATE_signed, 4)
	b.AddSubprogram("f", 0x1000, 0x1020, dwarfbuilder.LocationBlock(op.DW_OP_call_frame_cfa))
	b.AddParameter("a", intType, dwarfbuilder.LocationBlock(op.DW_OP_fbreg, -20))
	b.AddVariable("b", intType, []dwarfbuilder.LocEntry{
		{Lowpc: 0x1000, Highpc: 0x1008, Loc: dwarfbuilder.LocationBlock(op.DW_OP_breg7, -8)},
		{Lowpc: 0x1008, Highpc: 0x1020, Loc: dwarfbuilder.LocationBlock(op.DW_OP_breg6, -16)},
	})
	b.TagOpen(dwarf.TagLexDwarfBlock, "")
	b.AddVariable("c", intType, dwarfbuilder.LocationBlock(op.DW_OP_lit5, op.DW_OP_stack_value))
	b.TagClose()
	b.TagClose()
	abbrev, info, loc, err := b.Build()
	require.NoError(t, err)

	df := dwarfbuilder.NewDebugFrame(binary.LittleEndian, 8)
	cie := df.CIE(1, -8, 16, prog().DefCFA(7, 8).Offset(16, 1).Bytes())
	df.FDE(cie, 0x1000, 0x20, prog().AdvanceLoc(1).DefCFAOffset(16).Offset(6, 2).AdvanceLoc(3).DefCFARegister(6).Bytes())

	img, err := dwarfimg.New("amd64", binary.LittleEndian, 8, &dwarfimg.Sections{
		Abbrev:   abbrev,
		Info:     info,
		Loc:      loc,
		Frame:    df.Bytes(),
		Text:     []byte{0x55, 0x48, 0x89, 0xe5, 0xc3},
		TextAddr: 0x1000,
	})
	require.NoError(t, err)
	return img
}

func run(t *testing.T, args ...string) (string, error) {
	return runImage(t, testImage, args...)
}

func runImage(t *testing.T, mk func(*testing.T) *dwarfimg.Image, args ...string) (string, error) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	old := openImage
	openImage = func(path string) (*dwarfimg.Image, error) {
		return mk(t), nil
	}
	t.Cleanup(func() { openImage = old })

	var out bytes.Buffer
	cmd := New()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestFramesCommand(t *testing.T) {
	out, err := run(t, "frames", "prog", "-i")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "[0x1000, 0x1020) fde 0x14 cie 0x0\n"), out)
	assert.Contains(t, out, "  cie <DW_CFA_def_cfa: reg 7, ")
	assert.Contains(t, out, "  <DW_CFA_def_cfa_register: reg 6, ")
}

func TestRowsCommand(t *testing.T) {
	out, err := run(t, "rows", "prog")
	require.NoError(t, err)
	assert.Equal(t, "fde [0x1000, 0x1020)\n"+
		"[0x1000, 0x1001) cfa=rsp+8 rip=[cfa-8]\n"+
		"[0x1001, 0x1004) cfa=rsp+16 rbp=[cfa-16] rip=[cfa-8]\n"+
		"[0x1004, 0x1020) cfa=rbp+16 rbp=[cfa-16] rip=[cfa-8]\n", out)

	out, err = run(t, "rows", "prog", "--pc", "0x1002", "--disasm")
	require.NoError(t, err)
	assert.Equal(t, "[0x1001, 0x1004) cfa=rsp+16 rbp=[cfa-16] rip=[cfa-8]\n\tmov %rsp,%rbp\n", out)

	_, err = run(t, "rows", "prog", "--pc", "0x3000")
	var nofde *frame.ErrNoFDEForPC
	assert.ErrorAs(t, err, &nofde)
}

func TestRewriteCommand(t *testing.T) {
	out, err := run(t, "rewrite", "prog", "--expr", "DW_OP_breg7 -8 | DW_OP_deref", "--range", "0x1000,0x1020")
	require.NoError(t, err)
	assert.Equal(t, "rewritten      [0x1000, 0x1001): DW_OP_call_frame_cfa; DW_OP_consts -16; DW_OP_plus; DW_OP_deref\n"+
		"rewritten      [0x1001, 0x1004): DW_OP_call_frame_cfa; DW_OP_consts -24; DW_OP_plus; DW_OP_deref\n"+
		"not rewritable [0x1004, 0x1020): DW_OP_breg7 -8; DW_OP_deref\n"+
		"2 rewritten, 1 not rewritable, 0 unchanged\n", out)

	// 0x77 0x78 is DW_OP_breg7 -8
	out, err = run(t, "rewrite", "prog", "--hex", "--expr", "77 78", "--range", "0x1000,0x1001")
	require.NoError(t, err)
	assert.Contains(t, out, "[0x1000, 0x1001): DW_OP_call_frame_cfa; DW_OP_consts -16; DW_OP_plus\n")

	out, err = run(t, "rewrite", "prog", "--expr", "DW_OP_fbreg -4", "--range", "0x1004,0x1008", "--frame-base", "DW_OP_breg6 16")
	require.NoError(t, err)
	assert.Contains(t, out, "[0x1004, 0x1008): DW_OP_call_frame_cfa; DW_OP_consts -4; DW_OP_plus\n")

	_, err = run(t, "rewrite", "prog", "--expr", "DW_OP_breg7 0")
	assert.ErrorIs(t, err, cfa.ErrUnboundedExpr)

	_, err = run(t, "rewrite", "prog")
	assert.Error(t, err)
}

func TestVarsCommand(t *testing.T) {
	out, err := run(t, "vars", "prog", "--func", "f")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "f [0x1000, 0x1020)\n"), out)
	for _, s := range []string{
		"[0x1000, 0x1020): DW_OP_call_frame_cfa; DW_OP_consts -20; DW_OP_plus\n",
		"[0x1008, 0x1020): DW_OP_call_frame_cfa; DW_OP_consts -32; DW_OP_plus\n",
		"not rewritable [0x1004, 0x1008): DW_OP_breg7 -8\n",
		"unchanged      [0x1000, 0x1020): DW_OP_lit5; DW_OP_stack_value\n",
	} {
		assert.Contains(t, out, s)
	}

	_, err = run(t, "vars", "prog", "--func", "g")
	assert.EqualError(t, err, `function "g" not found`)
}

func TestVarsCommandUndecodableLocation(t *testing.T) {
	mk := func(t *testing.T) *dwarfimg.Image {
		b := dwarfbuilder.New()
		intType := b.AddBaseType("int", dwarfbuilder.DW_ATE_signed, 4)
		b.AddSubprogram("f", 0x1000, 0x1020, nil)
		b.AddVariable("good", intType, dwarfbuilder.LocationBlock(op.DW_OP_breg7, -8))
		b.AddVariable("bad", intType, []byte{0xf3, 0x01, 0x55, 0x9f}) // DW_OP_GNU_entry_value
		b.TagClose()
		abbrev, info, _, err := b.Build()
		require.NoError(t, err)
		df := dwarfbuilder.NewDebugFrame(binary.LittleEndian, 8)
		cie := df.CIE(1, -8, 16, prog().DefCFA(7, 8).Bytes())
		df.FDE(cie, 0x1000, 0x20, nil)
		img, err := dwarfimg.New("amd64", binary.LittleEndian, 8, &dwarfimg.Sections{Abbrev: abbrev, Info: info, Frame: df.Bytes()})
		require.NoError(t, err)
		return img
	}
	out, err := runImage(t, mk, "vars", "prog")
	require.NoError(t, err)
	assert.Equal(t, "f [0x1000, 0x1020)\n"+
		"  good\n"+
		"    rewritten      [0x1000, 0x1020): DW_OP_call_frame_cfa; DW_OP_consts -16; DW_OP_plus\n"+
		"  bad: location of bad: unsupported opcode 0xf3 at offset 0x0\n", out)
}

func TestExprCommand(t *testing.T) {
	out, err := run(t, "expr", "DW_OP_breg7 -8 | DW_OP_plus_uconst 2", "--reg", "rsp=0x1000")
	require.NoError(t, err)
	assert.Equal(t, "everywhere: DW_OP_breg7 -8; DW_OP_plus_uconst 2\n0xffa\n", out)

	out, err = run(t, "expr", "DW_OP_call_frame_cfa", "--cfa", "256", "--offsets")
	require.NoError(t, err)
	assert.Equal(t, "everywhere: 0: DW_OP_call_frame_cfa\n0x100\n", out)

	out, err = run(t, "expr", "--hex", "56")
	require.NoError(t, err)
	assert.Equal(t, "everywhere: DW_OP_reg6\nin rbp\n", out)

	_, err = run(t, "expr", "DW_OP_breg7 0", "--reg", "nosuchreg=1")
	assert.Error(t, err)
}

func TestColorFlag(t *testing.T) {
	out, err := run(t, "expr", "DW_OP_lit1", "--color", "always")
	require.NoError(t, err)
	assert.Equal(t, "everywhere: DW_OP_lit1\n"+colorGreen+"0x1"+colorReset+"\n", out)

	_, err = run(t, "expr", "DW_OP_lit1", "--color", "sometimes")
	assert.Error(t, err)
}

func TestLogFlags(t *testing.T) {
	_, err := run(t, "expr", "DW_OP_lit1", "--log-output", "rewrite")
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "dwarfcfa\nVersion: 0.3.0\n"), out)
	assert.NotContains(t, out, "Build Details")

	out, err = run(t, "version", "-v")
	require.NoError(t, err)
	assert.Contains(t, out, "Build Details: ")
}

func TestParseRange(t *testing.T) {
	r, err := parseRange("0x1000, 4128")
	require.NoError(t, err)
	assert.Equal(t, cfa.Range{Low: 0x1000, High: 0x1020}, r)

	for _, s := range []string{"0x1000", "0x1000,0x1000", "a,b", "1,2,3"} {
		_, err := parseRange(s)
		assert.Error(t, err, s)
	}
}

func TestParseRegs(t *testing.T) {
	regs, err := parseRegs("amd64", []string{"rsp=0x100", "rbp = -8", "r12=1", "xmm1=0xffffffffffffffff"})
	require.NoError(t, err)
	assert.Equal(t, map[uint64]uint64{
		regnum.AMD64_Rsp:      0x100,
		regnum.AMD64_Rbp:      ^uint64(7),
		12:                    1,
		regnum.AMD64_XMM0 + 1: ^uint64(0),
	}, regs)

	for _, a := range []string{"rsp", "rsp=x", "nosuchreg=1"} {
		_, err := parseRegs("amd64", []string{a})
		assert.Error(t, err, a)
	}
}

func TestFormatRules(t *testing.T) {
	rules := []frame.RegRule{
		{Reg: 3, Def: frame.RegisterPlusOffset{Reg: 6}},
		{Reg: 16, Def: frame.SameValue{}},
		{Reg: frame.RegCFA, Def: frame.RegisterPlusOffset{Reg: 7, Offset: 0}},
	}
	assert.Equal(t, "cfa=rsp+0 rbx=rbp rip=same value", formatRules("amd64", rules))
	assert.Equal(t, "cfa=x7+0 x3=x6 x16=same value", formatRules("arm64", rules))
	assert.Equal(t, "", formatRules("amd64", nil))
}

func TestDisassemble(t *testing.T) {
	text, err := disassemble("amd64", []byte{0x55}, 0x1000)
	require.NoError(t, err)
	assert.Equal(t, "push %rbp", text)

	_, err = disassemble("mips", []byte{0}, 0)
	assert.Error(t, err)
}

func TestNewPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf, config.ColorNever, false)
	p.printf("%s\n", p.status(cfa.Rewritten))
	assert.Equal(t, "rewritten     \n", buf.String())
}
