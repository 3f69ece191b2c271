package frame

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/go-delve/dwarfcfa/pkg/dwarf/op"
)

// RegCFA is the pseudo register number under which the rule computing the
// canonical frame address is stored.
const RegCFA = ^uint64(0)

// RegisterDef is the rule recovering the value a register had in the
// caller's frame. It is one of Undefined, SameValue, RegisterPlusOffset,
// SavedAtOffsetFromCFA, SavedAtExpr, ValIsOffsetFromCFA and ValOfExpr.
type RegisterDef interface {
	isRegisterDef()
	String() string
}

// Undefined means the register can not be recovered.
type Undefined struct{}

// SameValue means the register was not modified.
type SameValue struct{}

// RegisterPlusOffset means the value is Reg + Offset. As the rule of
// RegCFA it is the usual CFA definition, for other registers it
// describes DW_CFA_register, with Offset always zero.
type RegisterPlusOffset struct {
	Reg    uint64
	Offset int64
}

// SavedAtOffsetFromCFA means the value is saved at address CFA + Offset.
type SavedAtOffsetFromCFA struct {
	Offset int64
}

// SavedAtExpr means the value is saved at the address computed by Expr.
// Raw holds the expression bytes when they could not be decoded, Expr is
// then empty.
type SavedAtExpr struct {
	Expr op.LocExpr
	Raw  []byte
}

// ValIsOffsetFromCFA means the value is CFA + Offset.
type ValIsOffsetFromCFA struct {
	Offset int64
}

// ValOfExpr means the value is computed by Expr. Raw is as in
// SavedAtExpr.
type ValOfExpr struct {
	Expr op.LocExpr
	Raw  []byte
}

func (Undefined) isRegisterDef()            {}
func (SameValue) isRegisterDef()            {}
func (RegisterPlusOffset) isRegisterDef()   {}
func (SavedAtOffsetFromCFA) isRegisterDef() {}
func (SavedAtExpr) isRegisterDef()          {}
func (ValIsOffsetFromCFA) isRegisterDef()   {}
func (ValOfExpr) isRegisterDef()            {}

func (Undefined) String() string { return "undefined" }
func (SameValue) String() string { return "same value" }
func (r RegisterPlusOffset) String() string {
	return fmt.Sprintf("r%d%+d", r.Reg, r.Offset)
}
func (r SavedAtOffsetFromCFA) String() string { return fmt.Sprintf("[cfa%+d]", r.Offset) }
func (r SavedAtExpr) String() string          { return "[" + exprString(r.Expr, r.Raw) + "]" }
func (r ValIsOffsetFromCFA) String() string   { return fmt.Sprintf("cfa%+d", r.Offset) }
func (r ValOfExpr) String() string            { return exprString(r.Expr, r.Raw) }

func exprString(e op.LocExpr, raw []byte) string {
	if raw != nil {
		return fmt.Sprintf("expr %x", raw)
	}
	return "{" + instrsString(e.Instrs) + "}"
}

// blockExpr returns the expression of a block form instruction as stored
// in SavedAtExpr and ValOfExpr.
func blockExpr(in Instr) (op.LocExpr, []byte) {
	if in.Loc != nil {
		return *in.Loc, nil
	}
	return op.LocExpr{}, in.Expr
}

// EqualDefs compares two register rules.
func EqualDefs(a, b RegisterDef) bool {
	switch x := a.(type) {
	case SavedAtExpr:
		y, ok := b.(SavedAtExpr)
		return ok && x.Expr.SameInstrs(y.Expr) && bytes.Equal(x.Raw, y.Raw)
	case ValOfExpr:
		y, ok := b.(ValOfExpr)
		return ok && x.Expr.SameInstrs(y.Expr) && bytes.Equal(x.Raw, y.Raw)
	}
	switch b.(type) {
	case SavedAtExpr, ValOfExpr:
		return false
	}
	return a == b
}

// RegRule associates a register with its rule.
type RegRule struct {
	Reg uint64
	Def RegisterDef
}

func (r RegRule) String() string {
	if r.Reg == RegCFA {
		return "cfa=" + r.Def.String()
	}
	return fmt.Sprintf("r%d=%s", r.Reg, r.Def)
}

func sortedRules(regs map[uint64]RegisterDef) []RegRule {
	r := make([]RegRule, 0, len(regs))
	for reg, def := range regs {
		r = append(r, RegRule{Reg: reg, Def: def})
	}
	sort.Slice(r, func(i, j int) bool { return r[i].Reg < r[j].Reg })
	return r
}

func rulesString(rules []RegRule) string {
	s := make([]string, len(rules))
	for i := range rules {
		s[i] = rules[i].String()
	}
	return strings.Join(s, " ")
}
