package cfa

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-delve/dwarfcfa/pkg/dwarf/dwarfbuilder"
	"github.com/go-delve/dwarfcfa/pkg/dwarf/frame"
	"github.com/go-delve/dwarfcfa/pkg/dwarf/op"
)

func prog() *dwarfbuilder.CFAProgram {
	return dwarfbuilder.NewCFAProgram(binary.LittleEndian, 8)
}

// cie returns a CIE with CFA = r7+8 and code and data alignment 1.
func cie() *frame.CommonInformationEntry {
	return frame.NewCommonInformationEntry(1, 1, 16, prog().DefCFA(7, 8).Bytes(), 8, binary.LittleEndian)
}

func fde(begin, size uint64, p *dwarfbuilder.CFAProgram) *frame.FrameDescriptionEntry {
	return frame.NewFrameDescriptionEntry(cie(), begin, size, p.Bytes())
}

func expr(t *testing.T, src string, lo, hi uint64) op.LocExpr {
	t.Helper()
	e, err := op.ParseAssembly(src, op.DefaultFormat)
	require.NoError(t, err)
	e.LowPC, e.HighPC = lo, hi
	return e
}

func strs(l op.LocList) []string {
	r := make([]string, len(l))
	for i := range l {
		r[i] = l[i].String()
	}
	return r
}

// checkSound evaluates the original and the rewritten expression with a
// register file consistent with the rules of the row at pc.
func checkSound(t *testing.T, frames frame.FrameDescriptionEntries, orig, rewritten op.LocExpr, pc uint64, regs map[uint64]uint64, frameBase int64) {
	t.Helper()
	f, err := frames.FDEForPC(pc)
	require.NoError(t, err)
	row, err := f.EstablishFrame(pc)
	require.NoError(t, err)
	cfaRule, ok := row.CFA()
	require.True(t, ok)
	cfaDef, ok := cfaRule.(frame.RegisterPlusOffset)
	require.True(t, ok)

	dregs := op.NewDwarfRegisters(0, nil, binary.LittleEndian)
	for reg, v := range regs {
		dregs.AddReg(reg, op.DwarfRegisterFromUint64(v))
	}
	dregs.CFA = int64(regs[cfaDef.Reg]) + cfaDef.Offset
	dregs.FrameBase = frameBase

	want, _, err := op.ExecuteStackProgram(*dregs, orig, 8, nil)
	require.NoError(t, err)
	got, _, err := op.ExecuteStackProgram(*dregs, rewritten, 8, nil)
	require.NoError(t, err)
	assert.Equal(t, want, got, "%s vs %s at %#x", orig, rewritten, pc)
}

func TestRewriteBreg(t *testing.T) {
	frames := frame.FrameDescriptionEntries{fde(0x1000, 0x20, prog())}
	rw := New(frames, op.DefaultFormat)

	e := expr(t, "DW_OP_breg7 -8", 0x1000, 0x1020)
	res, err := rw.RewriteLocExpr(e, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"[0x1000, 0x1020): DW_OP_call_frame_cfa; DW_OP_consts -16; DW_OP_plus"}, strs(res.LocList))
	assert.Equal(t, []RangeResult{{0x1000, 0x1020, Rewritten}}, res.Ranges)

	checkSound(t, frames, e, res.LocList[0], 0x1010, map[uint64]uint64{7: 0x7ffe0000}, 0)
}

func TestRewriteSplitsAtRows(t *testing.T) {
	frames := frame.FrameDescriptionEntries{
		fde(0x1000, 0x20, prog().AdvanceLoc(4).DefCFAOffset(16).AdvanceLoc(4).DefCFAOffset(16).AdvanceLoc(8).DefCFAOffset(8)),
	}
	rw := New(frames, op.DefaultFormat)

	e := expr(t, "DW_OP_breg7 -8 | DW_OP_deref", 0x1000, 0x1020)
	res, err := rw.RewriteLocExpr(e, nil)
	require.NoError(t, err)
	// the two rows with CFA = r7+16 are merged
	assert.Equal(t, []string{
		"[0x1000, 0x1004): DW_OP_call_frame_cfa; DW_OP_consts -16; DW_OP_plus; DW_OP_deref",
		"[0x1004, 0x1010): DW_OP_call_frame_cfa; DW_OP_consts -24; DW_OP_plus; DW_OP_deref",
		"[0x1010, 0x1020): DW_OP_call_frame_cfa; DW_OP_consts -16; DW_OP_plus; DW_OP_deref",
	}, strs(res.LocList))
	assert.Equal(t, 3, res.Count(Rewritten))
}

func TestRewriteZeroOffset(t *testing.T) {
	frames := frame.FrameDescriptionEntries{fde(0x1000, 0x20, prog())}
	res, err := New(frames, op.DefaultFormat).RewriteLocExpr(expr(t, "DW_OP_breg7 8", 0x1000, 0x1010), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"[0x1000, 0x1010): DW_OP_call_frame_cfa"}, strs(res.LocList))
}

func TestRewriteThroughRegisters(t *testing.T) {
	// r6 = r7, then CFA = r6+8 and r3 = r6
	frames := frame.FrameDescriptionEntries{
		fde(0x1000, 0x20, prog().Register(6, 7).AdvanceLoc(8).DefCFARegister(6).Register(3, 6)),
	}
	rw := New(frames, op.DefaultFormat)

	e := expr(t, "DW_OP_breg3 4 | DW_OP_bregx 6 -4 | DW_OP_plus", 0x1008, 0x1020)
	res, err := rw.RewriteLocExpr(e, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"[0x1008, 0x1020): DW_OP_call_frame_cfa; DW_OP_consts -4; DW_OP_plus; DW_OP_call_frame_cfa; DW_OP_consts -12; DW_OP_plus; DW_OP_plus",
	}, strs(res.LocList))

	const x = 0x7ffe1000
	checkSound(t, frames, e, res.LocList[0], 0x1010, map[uint64]uint64{3: x, 6: x, 7: x}, 0)
}

func TestRewriteNotRewritable(t *testing.T) {
	frames := frame.FrameDescriptionEntries{
		fde(0x1000, 0x20, prog().AdvanceLoc(0x10).Register(5, 7)),
	}
	rw := New(frames, op.DefaultFormat)

	e := expr(t, "DW_OP_breg5 0", 0x1000, 0x1020)
	res, err := rw.RewriteLocExpr(e, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"[0x1000, 0x1010): DW_OP_breg5 0",
		"[0x1010, 0x1020): DW_OP_call_frame_cfa; DW_OP_consts -8; DW_OP_plus",
	}, strs(res.LocList))
	assert.Equal(t, []RangeResult{{0x1000, 0x1010, NotRewritable}, {0x1010, 0x1020, Rewritten}}, res.Ranges)
}

func TestRewriteUnchanged(t *testing.T) {
	rw := New(frame.FrameDescriptionEntries{}, op.DefaultFormat)

	res, err := rw.RewriteLocExpr(expr(t, "DW_OP_addr 0x601000", 0, 0), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"everywhere: DW_OP_addr 0x601000"}, strs(res.LocList))
	assert.Equal(t, Unchanged, res.Ranges[0].Status)

	_, err = rw.RewriteLocExpr(expr(t, "DW_OP_breg7 0", 0, 0), nil)
	assert.True(t, errors.Is(err, ErrUnboundedExpr))
}

func TestRewriteWithin(t *testing.T) {
	frames := frame.FrameDescriptionEntries{fde(0x1000, 0x40, prog())}
	rw := New(frames, op.DefaultFormat)

	l := op.LocList{
		expr(t, "DW_OP_breg7 0", 0, 0),
	}
	res, err := rw.Rewrite(l, Range{0x1010, 0x1020}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"[0x1010, 0x1020): DW_OP_call_frame_cfa; DW_OP_consts -8; DW_OP_plus"}, strs(res.LocList))

	l = op.LocList{
		expr(t, "DW_OP_reg0", 0x1000, 0x1018),
		expr(t, "DW_OP_breg7 0", 0x1018, 0x1030),
		expr(t, "DW_OP_reg1", 0x1030, 0x1040),
	}
	res, err = rw.Rewrite(l, Range{0x1010, 0x1020}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"[0x1010, 0x1018): DW_OP_reg0",
		"[0x1018, 0x1020): DW_OP_call_frame_cfa; DW_OP_consts -8; DW_OP_plus",
	}, strs(res.LocList))
	assert.Equal(t, []RangeResult{{0x1010, 0x1018, Unchanged}, {0x1018, 0x1020, Rewritten}}, res.Ranges)
}

func TestRewriteFrameBase(t *testing.T) {
	frames := frame.FrameDescriptionEntries{fde(0x1000, 0x20, prog())}
	rw := New(frames, op.DefaultFormat)

	frameBase := op.LocList{
		expr(t, "DW_OP_call_frame_cfa", 0x1000, 0x1010),
		expr(t, "DW_OP_breg7 0", 0x1010, 0x1020),
	}
	e := expr(t, "DW_OP_fbreg -20", 0x1000, 0x1020)
	res, err := rw.RewriteLocExpr(e, frameBase)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"[0x1000, 0x1010): DW_OP_call_frame_cfa; DW_OP_consts -20; DW_OP_plus",
		"[0x1010, 0x1020): DW_OP_call_frame_cfa; DW_OP_consts -28; DW_OP_plus",
	}, strs(res.LocList))

	const x = 0x7ffe2000
	checkSound(t, frames, e, res.LocList[1], 0x1018, map[uint64]uint64{7: x}, x)

	// no frame base: fbreg has no relation to the CFA
	res, err = rw.RewriteLocExpr(e, nil)
	require.NoError(t, err)
	assert.Equal(t, []RangeResult{{0x1000, 0x1020, NotRewritable}}, res.Ranges)

	// frame base computed from the CFA with an addition
	res, err = rw.RewriteLocExpr(e, op.LocList{expr(t, "DW_OP_call_frame_cfa | DW_OP_plus_uconst 16", 0, 0)})
	require.NoError(t, err)
	assert.Equal(t, []string{"[0x1000, 0x1020): DW_OP_call_frame_cfa; DW_OP_consts -4; DW_OP_plus"}, strs(res.LocList))
}

func TestRewriteMultipleFDEs(t *testing.T) {
	frames := frame.FrameDescriptionEntries{
		fde(0x1000, 0x10, prog()),
		fde(0x1010, 0x20, prog().DefCFAOffset(16)),
		fde(0x1040, 0x10, prog()),
	}
	rw := New(frames, op.DefaultFormat)

	res, err := rw.RewriteLocExpr(expr(t, "DW_OP_breg7 0", 0x1008, 0x1020), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"[0x1008, 0x1010): DW_OP_call_frame_cfa; DW_OP_consts -8; DW_OP_plus",
		"[0x1010, 0x1020): DW_OP_call_frame_cfa; DW_OP_consts -16; DW_OP_plus",
	}, strs(res.LocList))

	_, err = rw.RewriteLocExpr(expr(t, "DW_OP_breg7 0", 0x1008, 0x1048), nil)
	var nofde *frame.ErrNoFDEForPC
	require.True(t, errors.As(err, &nofde), "got %v", err)
	assert.Equal(t, uint64(0x1030), nofde.PC)
}

func TestRewriteBranches(t *testing.T) {
	frames := frame.FrameDescriptionEntries{fde(0x1000, 0x20, prog())}
	rw := New(frames, op.DefaultFormat)

	// skip jumps over the first breg7 to the second one
	e := expr(t, "DW_OP_skip 2 | DW_OP_breg7 0 | DW_OP_breg7 8", 0x1000, 0x1020)
	res, err := rw.RewriteLocExpr(e, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"[0x1000, 0x1020): DW_OP_skip 4; DW_OP_call_frame_cfa; DW_OP_consts -8; DW_OP_plus; DW_OP_call_frame_cfa",
	}, strs(res.LocList))
	checkSound(t, frames, e, res.LocList[0], 0x1000, map[uint64]uint64{7: 0x7ffe3000}, 0)

	// conditional branch backwards
	e = expr(t, "DW_OP_breg7 0 | DW_OP_lit0 | DW_OP_bra -6 | DW_OP_lit1 | DW_OP_plus", 0x1000, 0x1020)
	res, err = rw.RewriteLocExpr(e, nil)
	require.NoError(t, err)
	require.Equal(t, Rewritten, res.Ranges[0].Status)
	assert.Equal(t, "DW_OP_bra -8", res.LocList[0].Instrs[4].String())
	checkSound(t, frames, e, res.LocList[0], 0x1000, map[uint64]uint64{7: 0x7ffe3000}, 0)

	// branch into the middle of an instruction
	e = expr(t, "DW_OP_skip 1 | DW_OP_breg7 0", 0x1000, 0x1020)
	res, err = rw.RewriteLocExpr(e, nil)
	require.NoError(t, err)
	assert.Equal(t, []RangeResult{{0x1000, 0x1020, NotRewritable}}, res.Ranges)
}

func TestRewriteTableCache(t *testing.T) {
	cache, err := frame.NewTableCache(4)
	require.NoError(t, err)
	frames := frame.FrameDescriptionEntries{fde(0x1000, 0x20, prog().AdvanceLoc(4).DefCFAOffset(16))}
	rw := New(frames, op.DefaultFormat, WithTableCache(cache))

	e := expr(t, "DW_OP_breg7 0", 0x1000, 0x1020)
	a, err := rw.RewriteLocExpr(e, nil)
	require.NoError(t, err)
	b, err := rw.RewriteLocExpr(e, nil)
	require.NoError(t, err)
	assert.Equal(t, strs(a.LocList), strs(b.LocList))
	assert.Equal(t, 1, cache.Len())
}

func TestRewriteDecodeError(t *testing.T) {
	frames := frame.FrameDescriptionEntries{fde(0x1000, 0x20, prog().RestoreState())}
	_, err := New(frames, op.DefaultFormat).RewriteLocExpr(expr(t, "DW_OP_breg7 0", 0x1000, 0x1020), nil)
	assert.True(t, errors.Is(err, frame.ErrStateUnderflow))
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "rewritten", Rewritten.String())
	assert.Equal(t, "not rewritable", NotRewritable.String())
	assert.Equal(t, "Status(9)", Status(9).String())
}
