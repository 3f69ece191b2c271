// Package cfa rewrites DWARF location expressions so that register based
// addresses are computed from the canonical frame address.
//
// For every row of the call frame table the register rules of the form
// "reg = other + constant" define a graph. A DW_OP_bregN whose register is
// connected to the CFA node can be replaced by DW_OP_call_frame_cfa plus
// the accumulated constant.
package cfa

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-delve/dwarfcfa/pkg/dwarf/frame"
	"github.com/go-delve/dwarfcfa/pkg/dwarf/op"
)

// FrameBaseNode is the node standing for the value of DW_AT_frame_base,
// the base of DW_OP_fbreg.
const FrameBaseNode = ^uint64(0) - 1

// Edge states that the value of To equals the value of From plus Diff.
type Edge struct {
	From, To uint64
	Diff     int64
}

func (e Edge) String() string {
	return fmt.Sprintf("%s = %s%+d", nodeName(e.To), nodeName(e.From), e.Diff)
}

func nodeName(n uint64) string {
	switch n {
	case frame.RegCFA:
		return "cfa"
	case FrameBaseNode:
		return "fb"
	}
	return fmt.Sprintf("r%d", n)
}

// Graph is the relation graph of one row.
type Graph struct {
	adj map[uint64][]Edge
}

// NewGraph builds the graph of row. If frameBase is not nil and has the
// form of a register plus a constant, or of the CFA plus a constant, it
// adds edges for FrameBaseNode.
func NewGraph(row *frame.Row, frameBase *op.LocExpr) *Graph {
	g := &Graph{adj: make(map[uint64][]Edge)}
	for _, rule := range row.Rules {
		if def, ok := rule.Def.(frame.RegisterPlusOffset); ok {
			g.addRelation(def.Reg, rule.Reg, def.Offset)
		}
	}
	if frameBase != nil {
		if base, off, ok := frameBaseRelation(frameBase.Instrs); ok {
			g.addRelation(base, FrameBaseNode, off)
		}
	}
	for _, edges := range g.adj {
		sort.Slice(edges, func(i, j int) bool { return edges[i].To < edges[j].To })
	}
	return g
}

// addRelation records to = from + diff and its reverse.
func (g *Graph) addRelation(from, to uint64, diff int64) {
	if from == to {
		return
	}
	g.adj[from] = append(g.adj[from], Edge{From: from, To: to, Diff: diff})
	g.adj[to] = append(g.adj[to], Edge{From: to, To: from, Diff: -diff})
}

// frameBaseRelation recognizes frame base expressions computing a register
// (or the CFA) plus a constant.
func frameBaseRelation(instrs []op.Instr) (base uint64, off int64, ok bool) {
	if len(instrs) == 0 {
		return 0, 0, false
	}
	in := instrs[0]
	switch {
	case in.Opcode == op.DW_OP_call_frame_cfa:
		base = frame.RegCFA
	case in.Opcode.IsBreg():
		base, off = uint64(in.Opcode-op.DW_OP_breg0), in.Signed()
	case in.Opcode == op.DW_OP_bregx:
		base, off = in.Number, in.Signed2()
	case in.Opcode.IsReg():
		base = uint64(in.Opcode - op.DW_OP_reg0)
	case in.Opcode == op.DW_OP_regx:
		base = in.Number
	default:
		return 0, 0, false
	}
	rest := instrs[1:]
	switch {
	case len(rest) == 0:
		return base, off, true
	case len(rest) == 1 && rest[0].Opcode == op.DW_OP_plus_uconst:
		return base, off + int64(rest[0].Number), true
	case len(rest) == 2 && rest[0].Opcode == op.DW_OP_consts && rest[1].Opcode == op.DW_OP_plus:
		return base, off + rest[0].Signed(), true
	}
	return 0, 0, false
}

// Edges returns all the edges of the graph, sorted.
func (g *Graph) Edges() []Edge {
	var r []Edge
	for _, edges := range g.adj {
		r = append(r, edges...)
	}
	sort.Slice(r, func(i, j int) bool {
		if r[i].From != r[j].From {
			return r[i].From < r[j].From
		}
		return r[i].To < r[j].To
	})
	return r
}

func (g *Graph) String() string {
	edges := g.Edges()
	s := make([]string, 0, len(edges))
	for _, e := range edges {
		if e.From < e.To {
			s = append(s, e.String())
		}
	}
	return strings.Join(s, ", ")
}

// Path is a chain of relations from a register to the CFA.
type Path struct {
	Regs   []uint64 // nodes visited, first is the start, last is frame.RegCFA
	Offset int64    // CFA - start
}

func (p Path) String() string {
	s := make([]string, len(p.Regs))
	for i, n := range p.Regs {
		s[i] = nodeName(n)
	}
	return fmt.Sprintf("%s (%+d)", strings.Join(s, " -> "), p.Offset)
}

// PathToCFA returns the path from reg to the CFA with the fewest edges.
// Among those it prefers the smallest absolute offset, then the
// lexicographically lowest sequence of nodes.
func (g *Graph) PathToCFA(reg uint64) (Path, bool) {
	if reg == frame.RegCFA {
		return Path{Regs: []uint64{reg}}, true
	}

	// Partial paths reaching the same node with the same offset are
	// interchangeable, only the lowest node sequence is kept.
	frontier := map[uint64]map[int64][]uint64{reg: {0: {reg}}}
	visited := map[uint64]bool{reg: true}

	for len(frontier) > 0 {
		next := make(map[uint64]map[int64][]uint64)
		for node, bySum := range frontier {
			for sum, regs := range bySum {
				for _, e := range g.adj[node] {
					if visited[e.To] {
						continue
					}
					nsum := sum + e.Diff
					nregs := make([]uint64, len(regs), len(regs)+1)
					copy(nregs, regs)
					nregs = append(nregs, e.To)
					if next[e.To] == nil {
						next[e.To] = make(map[int64][]uint64)
					}
					if old, ok := next[e.To][nsum]; !ok || lexLess(nregs, old) {
						next[e.To][nsum] = nregs
					}
				}
			}
		}
		for node := range next {
			visited[node] = true
		}
		if cands, ok := next[frame.RegCFA]; ok {
			return bestPath(cands), true
		}
		frontier = next
	}
	return Path{}, false
}

func bestPath(cands map[int64][]uint64) Path {
	var (
		best  Path
		found bool
	)
	for sum, regs := range cands {
		if !found || better(sum, regs, best) {
			best, found = Path{Regs: regs, Offset: sum}, true
		}
	}
	return best
}

func better(sum int64, regs []uint64, than Path) bool {
	switch {
	case abs(sum) != abs(than.Offset):
		return abs(sum) < abs(than.Offset)
	case lexLess(regs, than.Regs):
		return true
	case lexLess(than.Regs, regs):
		return false
	}
	// inconsistent rules can give the same nodes two offsets
	return sum < than.Offset
}

func lexLess(a, b []uint64) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

func abs(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}
