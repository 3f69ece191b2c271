package frame

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-delve/dwarfcfa/pkg/logflags"
)

// Row is the set of register rules valid for pc in [Low, High). Rules are
// sorted by register number, the CFA rule, if any, is last.
type Row struct {
	Low, High uint64
	Rules     []RegRule
}

// Rule returns the rule for reg.
func (row *Row) Rule(reg uint64) (RegisterDef, bool) {
	i := sort.Search(len(row.Rules), func(i int) bool { return row.Rules[i].Reg >= reg })
	if i < len(row.Rules) && row.Rules[i].Reg == reg {
		return row.Rules[i].Def, true
	}
	return nil, false
}

// CFA returns the rule computing the canonical frame address.
func (row *Row) CFA() (RegisterDef, bool) {
	return row.Rule(RegCFA)
}

// Covers reports whether pc is inside the row.
func (row *Row) Covers(pc uint64) bool {
	return pc >= row.Low && pc < row.High
}

func (row *Row) String() string {
	return fmt.Sprintf("[%#x, %#x) %s", row.Low, row.High, rulesString(row.Rules))
}

// RowTable is the decoded form of a FDE: rows partitioning the address
// range of the FDE in increasing address order. Unfinished holds the rules
// in effect at the end of the instruction stream.
type RowTable struct {
	Rows       []Row
	Unfinished []RegRule
}

// RowForPC returns the row covering pc.
func (t *RowTable) RowForPC(pc uint64) (*Row, bool) {
	i := sort.Search(len(t.Rows), func(i int) bool { return t.Rows[i].High > pc })
	if i < len(t.Rows) && t.Rows[i].Covers(pc) {
		return &t.Rows[i], true
	}
	return nil, false
}

func (t *RowTable) String() string {
	var buf strings.Builder
	for i := range t.Rows {
		buf.WriteString(t.Rows[i].String())
		buf.WriteByte('\n')
	}
	return buf.String()
}

// RowTableBuilder accumulates rows with strictly increasing addresses.
type RowTableBuilder struct {
	cur  uint64
	rows []Row
}

// NewRowTableBuilder returns a builder whose first row starts at start.
func NewRowTableBuilder(start uint64) *RowTableBuilder {
	return &RowTableBuilder{cur: start}
}

// Addr returns the start address of the open row.
func (b *RowTableBuilder) Addr() uint64 {
	return b.cur
}

// CloseRowAt closes the open row at addr with the given rules and opens a
// new one starting at addr.
func (b *RowTableBuilder) CloseRowAt(addr uint64, rules []RegRule) error {
	if addr <= b.cur {
		return malformed("row address %#x does not increase past %#x", addr, b.cur)
	}
	b.rows = append(b.rows, Row{Low: b.cur, High: addr, Rules: rules})
	b.cur = addr
	return nil
}

// Commit closes the open row at end and returns the table.
func (b *RowTableBuilder) Commit(end uint64, rules []RegRule) (*RowTable, error) {
	if end <= b.cur {
		return nil, malformed("last row [%#x, %#x) is empty", b.cur, end)
	}
	rows := make([]Row, len(b.rows), len(b.rows)+1)
	copy(rows, b.rows)
	rows = append(rows, Row{Low: b.cur, High: end, Rules: rules})
	return &RowTable{Rows: rows, Unfinished: rules}, nil
}

// FrameContext wrapper of FDE context
type FrameContext struct {
	fde             *FrameDescriptionEntry
	cie             *CommonInformationEntry
	Regs            map[uint64]RegisterDef
	initialRegs     map[uint64]RegisterDef
	RetAddrReg      uint64
	codeAlignment   uint64
	dataAlignment   int64
	rememberedState *stateStack
	builder         *RowTableBuilder
	logger          logflags.Logger
}

// stateStack is a stack where `DW_CFA_remember_state` pushes
// its register state and `DW_CFA_restore_state`
// pops them.
type stateStack struct {
	items []map[uint64]RegisterDef
}

func newStateStack() *stateStack {
	return &stateStack{
		items: make([]map[uint64]RegisterDef, 0),
	}
}

func (stack *stateStack) push(state map[uint64]RegisterDef) {
	stack.items = append(stack.items, state)
}

func (stack *stateStack) pop() (map[uint64]RegisterDef, bool) {
	if len(stack.items) == 0 {
		return nil, false
	}
	restored := stack.items[len(stack.items)-1]
	stack.items = stack.items[0 : len(stack.items)-1]
	return restored, true
}

func cloneRegs(regs map[uint64]RegisterDef) map[uint64]RegisterDef {
	r := make(map[uint64]RegisterDef, len(regs))
	for k, v := range regs {
		r[k] = v
	}
	return r
}

// Decode interprets the instructions of the CIE and of fde and returns the
// resulting row table. The rows cover exactly [fde.Begin(), fde.End()).
// On error nothing is returned: a FDE is either fully decoded or not at
// all.
func (fde *FrameDescriptionEntry) Decode() (*RowTable, error) {
	cie := fde.CIE
	if cie == nil {
		return nil, malformed("FDE at %#x has no CIE", fde.off)
	}
	cieInstrs, err := cie.Instructions()
	if err != nil {
		return nil, err
	}
	fdeInstrs, err := fde.DecodeInstructions()
	if err != nil {
		return nil, err
	}

	frame := &FrameContext{
		fde:           fde,
		cie:           cie,
		Regs:          make(map[uint64]RegisterDef),
		RetAddrReg:    cie.ReturnAddressRegister,
		codeAlignment: cie.CodeAlignmentFactor,
		dataAlignment: cie.DataAlignmentFactor,
		builder:       NewRowTableBuilder(fde.Begin()),
	}
	if logflags.Frame() {
		frame.logger = logflags.FrameLogger().WithField("fde", fmt.Sprintf("%#x", fde.Begin()))
	}

	if err := frame.execute(cieInstrs, cie.off); err != nil {
		return nil, err
	}
	frame.initialRegs = cloneRegs(frame.Regs)

	if err := frame.execute(fdeInstrs, fde.off); err != nil {
		return nil, err
	}
	table, err := frame.builder.Commit(fde.End(), frame.rules())
	if err != nil {
		return nil, &DecodeError{Entry: fde.off, Off: len(fde.Instructions), Err: err}
	}
	return table, nil
}

func withEntry(err error, entry int) error {
	if derr, ok := err.(*DecodeError); ok {
		derr.Entry = entry
		return derr
	}
	return &DecodeError{Entry: entry, Err: err}
}

// EstablishFrame returns the row of the decoded table covering pc.
func (fde *FrameDescriptionEntry) EstablishFrame(pc uint64) (*Row, error) {
	t, err := fde.Decode()
	if err != nil {
		return nil, err
	}
	row, ok := t.RowForPC(pc)
	if !ok {
		return nil, &ErrNoFDEForPC{pc}
	}
	return row, nil
}

// execute runs one instruction list. The remember/restore stack does not
// outlive the list.
func (frame *FrameContext) execute(instrs InstrList, entry int) error {
	frame.rememberedState = newStateStack()
	for _, in := range instrs {
		if frame.logger != nil {
			frame.logger.Debugf("%#x: %s", frame.builder.Addr(), in)
		}
		if err := frame.executeInstr(in); err != nil {
			return &DecodeError{Entry: entry, Off: in.Off, Err: err}
		}
	}
	return nil
}

func (frame *FrameContext) rules() []RegRule {
	return sortedRules(frame.Regs)
}

func (frame *FrameContext) executeInstr(in Instr) error {
	switch in.Op {
	case DW_CFA_nop:
		return nil
	case DW_CFA_advance_loc, DW_CFA_advance_loc1, DW_CFA_advance_loc2, DW_CFA_advance_loc4:
		return frame.builder.CloseRowAt(frame.builder.Addr()+in.Operand*frame.codeAlignment, frame.rules())
	case DW_CFA_set_loc:
		return frame.builder.CloseRowAt(in.Operand+frame.cie.staticBase, frame.rules())
	case DW_CFA_def_cfa, DW_CFA_def_cfa_sf:
		frame.Regs[RegCFA] = RegisterPlusOffset{Reg: in.Reg, Offset: in.Offset()}
		return nil
	case DW_CFA_def_cfa_register, DW_CFA_def_cfa_offset, DW_CFA_def_cfa_offset_sf:
		cfa, ok := frame.Regs[RegCFA].(RegisterPlusOffset)
		if !ok {
			return malformed("%s without a register based CFA rule", in.Op)
		}
		if in.Op == DW_CFA_def_cfa_register {
			cfa.Reg = in.Reg
		} else {
			cfa.Offset = in.Offset()
		}
		frame.Regs[RegCFA] = cfa
		return nil
	case DW_CFA_def_cfa_expression:
		e, raw := blockExpr(in)
		frame.Regs[RegCFA] = ValOfExpr{Expr: e, Raw: raw}
		return nil
	case DW_CFA_remember_state:
		frame.rememberedState.push(cloneRegs(frame.Regs))
		return nil
	case DW_CFA_restore_state:
		restored, ok := frame.rememberedState.pop()
		if !ok {
			return ErrStateUnderflow
		}
		frame.Regs = restored
		return nil
	}

	if in.Reg == RegCFA {
		return malformed("%s targets the reserved CFA register", in.Op)
	}

	switch in.Op {
	case DW_CFA_offset, DW_CFA_offset_extended, DW_CFA_offset_extended_sf:
		frame.Regs[in.Reg] = SavedAtOffsetFromCFA{Offset: in.Offset()}
	case DW_CFA_val_offset, DW_CFA_val_offset_sf:
		frame.Regs[in.Reg] = ValIsOffsetFromCFA{Offset: in.Offset()}
	case DW_CFA_restore, DW_CFA_restore_extended:
		frame.Regs[in.Reg] = frame.initialRule(in.Reg)
	case DW_CFA_undefined:
		frame.Regs[in.Reg] = Undefined{}
	case DW_CFA_same_value:
		frame.Regs[in.Reg] = SameValue{}
	case DW_CFA_register:
		frame.Regs[in.Reg] = RegisterPlusOffset{Reg: in.Operand}
	case DW_CFA_expression:
		e, raw := blockExpr(in)
		frame.Regs[in.Reg] = SavedAtExpr{Expr: e, Raw: raw}
	case DW_CFA_val_expression:
		e, raw := blockExpr(in)
		frame.Regs[in.Reg] = ValOfExpr{Expr: e, Raw: raw}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedOpcode, in.Op)
	}
	return nil
}

// initialRule returns the rule reg had after the CIE initial instructions.
func (frame *FrameContext) initialRule(reg uint64) RegisterDef {
	if def, ok := frame.initialRegs[reg]; ok {
		return def
	}
	if frame.logger != nil {
		frame.logger.Debugf("restore of r%d at %#x: no initial rule, using undefined", reg, frame.builder.Addr())
	}
	return Undefined{}
}
