package cfa

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/go-delve/dwarfcfa/pkg/dwarf/frame"
	"github.com/go-delve/dwarfcfa/pkg/dwarf/op"
	"github.com/go-delve/dwarfcfa/pkg/logflags"
)

// ErrUnboundedExpr is returned when an expression valid everywhere uses
// registers and no range to rewrite it over was given.
var ErrUnboundedExpr = errors.New("register based expression valid everywhere needs a range")

// FrameSource finds the FDE covering an address.
// frame.FrameDescriptionEntries implements it.
type FrameSource interface {
	FDEForPC(pc uint64) (*frame.FrameDescriptionEntry, error)
}

// Status is the outcome of rewriting one address range.
type Status uint8

const (
	// Unchanged ranges contain no register based address.
	Unchanged Status = iota
	// Rewritten ranges compute every address from the CFA.
	Rewritten
	// NotRewritable ranges use a register with no relation to the CFA,
	// they keep the original expression.
	NotRewritable
)

func (s Status) String() string {
	switch s {
	case Unchanged:
		return "unchanged"
	case Rewritten:
		return "rewritten"
	case NotRewritable:
		return "not rewritable"
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Range is a half open address range. The zero Range is unrestricted.
type Range struct {
	Low, High uint64
}

// IsZero reports whether r is the zero range.
func (r Range) IsZero() bool {
	return r.Low == 0 && r.High == 0
}

// RangeResult is the status of one entry of Result.LocList.
type RangeResult struct {
	Low, High uint64
	Status    Status
}

// Result of a rewrite. Ranges[i] describes LocList[i].
type Result struct {
	LocList op.LocList
	Ranges  []RangeResult
}

// Count returns the number of ranges with status s.
func (r *Result) Count(s Status) int {
	n := 0
	for _, rr := range r.Ranges {
		if rr.Status == s {
			n++
		}
	}
	return n
}

func (r *Result) add(e op.LocExpr, status Status) {
	if n := len(r.LocList); n > 0 {
		prev := &r.LocList[n-1]
		if !prev.IsEverywhere() && prev.HighPC == e.LowPC && r.Ranges[n-1].Status == status && prev.SameInstrs(e) {
			prev.HighPC = e.HighPC
			r.Ranges[n-1].High = e.HighPC
			return
		}
	}
	r.LocList = append(r.LocList, e)
	r.Ranges = append(r.Ranges, RangeResult{Low: e.LowPC, High: e.HighPC, Status: status})
}

// Option configures a Rewriter.
type Option func(*Rewriter)

// WithTableCache makes the rewriter get row tables from c instead of
// decoding FDEs at every call.
func WithTableCache(c *frame.TableCache) Option {
	return func(rw *Rewriter) {
		rw.tables = c
	}
}

// Rewriter rewrites location expressions in terms of the CFA.
type Rewriter struct {
	frames FrameSource
	format op.Format
	tables *frame.TableCache
	logger logflags.Logger
}

// New returns a Rewriter reading call frame information from frames.
// format is used to lay out rewritten expressions.
func New(frames FrameSource, format op.Format, opts ...Option) *Rewriter {
	rw := &Rewriter{frames: frames, format: format}
	for _, opt := range opts {
		opt(rw)
	}
	if logflags.Rewrite() {
		rw.logger = logflags.RewriteLogger()
	}
	return rw
}

func (rw *Rewriter) table(fde *frame.FrameDescriptionEntry) (*frame.RowTable, error) {
	if rw.tables != nil {
		return rw.tables.Get(fde)
	}
	return fde.Decode()
}

// RewriteLocExpr rewrites a single expression. See Rewrite.
func (rw *Rewriter) RewriteLocExpr(e op.LocExpr, frameBase op.LocList) (*Result, error) {
	return rw.Rewrite(op.LocList{e}, Range{}, frameBase)
}

// Rewrite rewrites every entry of l so that DW_OP_bregN, DW_OP_bregx and
// DW_OP_fbreg are replaced by DW_OP_call_frame_cfa plus a constant.
//
// Entries are clipped to within, unless within is zero, and split at the
// row boundaries of the FDEs covering them and at the boundaries of the
// entries of frameBase. Each piece is rewritten as a whole or left
// unchanged. Adjacent pieces with the same instructions and status are
// merged.
func (rw *Rewriter) Rewrite(l op.LocList, within Range, frameBase op.LocList) (*Result, error) {
	res := &Result{}
	for _, e := range l {
		lo, hi := e.LowPC, e.HighPC
		switch {
		case e.IsEverywhere() && !within.IsZero():
			lo, hi = within.Low, within.High
		case !within.IsZero():
			lo, hi = maxU64(lo, within.Low), minU64(hi, within.High)
		}
		if !(lo == 0 && hi == 0) && lo >= hi {
			continue
		}

		if len(e.RegisterRefs()) == 0 {
			res.add(op.LocExpr{Instrs: e.Instrs, LowPC: lo, HighPC: hi}, Unchanged)
			continue
		}
		if lo == 0 && hi == 0 {
			return nil, ErrUnboundedExpr
		}
		if err := rw.rewriteRange(res, e, lo, hi, frameBase); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// rewriteRange walks [lo, hi) one FDE at a time.
func (rw *Rewriter) rewriteRange(res *Result, e op.LocExpr, lo, hi uint64, frameBase op.LocList) error {
	for pc := lo; pc < hi; {
		fde, err := rw.frames.FDEForPC(pc)
		if err != nil {
			return err
		}
		table, err := rw.table(fde)
		if err != nil {
			return err
		}
		end := minU64(hi, fde.End())
		for i := range table.Rows {
			row := &table.Rows[i]
			if row.High <= pc || row.Low >= end {
				continue
			}
			for _, sub := range splitAt(maxU64(pc, row.Low), minU64(end, row.High), frameBase) {
				var fb *op.LocExpr
				if frameBase != nil {
					if x := frameBase.LocForAddr(sub.Low); len(x.Instrs) > 0 {
						fb = &x
					}
				}
				out, status := rw.rewriteExpr(e, NewGraph(row, fb))
				out.LowPC, out.HighPC = sub.Low, sub.High
				if rw.logger != nil {
					rw.logger.Debugf("[%#x, %#x) %s: %s", sub.Low, sub.High, status, out)
				}
				res.add(out, status)
			}
		}
		pc = end
	}
	return nil
}

// splitAt splits [lo, hi) at the boundaries of the entries of l.
func splitAt(lo, hi uint64, l op.LocList) []Range {
	cuts := []uint64{lo, hi}
	for _, iv := range l.Intervals() {
		for _, x := range []uint64{iv.Low, iv.High} {
			if x > lo && x < hi {
				cuts = append(cuts, x)
			}
		}
	}
	sort.Slice(cuts, func(i, j int) bool { return cuts[i] < cuts[j] })
	r := make([]Range, 0, len(cuts)-1)
	for i := 1; i < len(cuts); i++ {
		if cuts[i] > cuts[i-1] {
			r = append(r, Range{Low: cuts[i-1], High: cuts[i]})
		}
	}
	return r
}

// rewriteExpr rewrites e using the relations of g. On failure the original
// instructions are returned.
func (rw *Rewriter) rewriteExpr(e op.LocExpr, g *Graph) (op.LocExpr, Status) {
	orig := op.LocExpr{Instrs: append([]op.Instr(nil), e.Instrs...)}
	rw.format.Layout(orig.Instrs)

	refs := orig.RegisterRefs()
	if len(refs) == 0 {
		return orig, Unchanged
	}
	if rw.logger != nil {
		rw.logger.Debugf("graph: %s", g)
	}

	repl := make(map[int]int64, len(refs))
	for _, ref := range refs {
		node := ref.Reg
		if ref.FrameBase {
			node = FrameBaseNode
		}
		path, ok := g.PathToCFA(node)
		if !ok {
			if rw.logger != nil {
				rw.logger.Debugf("no path from %s to cfa", nodeName(node))
			}
			return orig, NotRewritable
		}
		if rw.logger != nil {
			rw.logger.Debugf("path %s", path)
		}
		repl[ref.Index] = ref.Offset - path.Offset
	}

	// start[i] is the index in out of the first instruction replacing
	// orig.Instrs[i].
	start := make([]int, len(orig.Instrs)+1)
	out := make([]op.Instr, 0, len(orig.Instrs)+2*len(repl))
	for i, in := range orig.Instrs {
		start[i] = len(out)
		k, ok := repl[i]
		if !ok {
			out = append(out, in)
			continue
		}
		out = append(out, op.Instr{Opcode: op.DW_OP_call_frame_cfa})
		if k != 0 {
			out = append(out, op.Instr{Opcode: op.DW_OP_consts, Number: uint64(k)}, op.Instr{Opcode: op.DW_OP_plus})
		}
	}
	start[len(orig.Instrs)] = len(out)
	total := rw.format.Layout(out)

	for i, in := range orig.Instrs {
		if in.Opcode != op.DW_OP_skip && in.Opcode != op.DW_OP_bra {
			continue
		}
		ti, ok := orig.IndexOfOffset(in.BranchTarget(), rw.format)
		if !ok {
			return orig, NotRewritable
		}
		target := total
		if start[ti] < len(out) {
			target = out[start[ti]].Offset
		}
		b := &out[start[i]]
		disp := target - (b.Offset + 3)
		if disp < math.MinInt16 || disp > math.MaxInt16 {
			return orig, NotRewritable
		}
		b.Number = uint64(int64(disp))
	}
	return op.LocExpr{Instrs: out}, Rewritten
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
