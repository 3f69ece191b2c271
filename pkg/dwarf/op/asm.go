package op

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/cosiner/argv"
)

// ByName returns the opcode called name. The DW_OP_ prefix is optional.
func (s *Spec) ByName(name string) (Opcode, bool) {
	if !strings.HasPrefix(name, "DW_OP_") {
		name = "DW_OP_" + name
	}
	for op, info := range s.ops {
		if info.Name == name {
			return op, true
		}
	}
	return 0, false
}

// ParseAssembly parses a location expression written as a '|' separated
// list of instructions, for example:
//
//	DW_OP_breg7 -8 | DW_OP_deref
//
// Operands are decimal or 0x prefixed hexadecimal numbers, the operand of
// DW_OP_implicit_value is a hex string. DW_OP_skip and DW_OP_bra take the
// raw byte displacement.
func ParseAssembly(src string, f Format) (LocExpr, error) {
	if strings.TrimSpace(src) == "" {
		return LocExpr{}, nil
	}
	v, err := argv.Argv(src,
		func(s string) (string, error) {
			return "", fmt.Errorf("backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return LocExpr{}, err
	}
	var e LocExpr
	for _, w := range v {
		if len(w) == 0 {
			return LocExpr{}, fmt.Errorf("empty instruction in %q", src)
		}
		in, err := parseInstr(w, f)
		if err != nil {
			return LocExpr{}, err
		}
		e.Instrs = append(e.Instrs, in)
	}
	f.Layout(e.Instrs)
	return e, nil
}

func parseInstr(w []string, f Format) (Instr, error) {
	opcode, ok := f.spec().ByName(w[0])
	if !ok {
		return Instr{}, fmt.Errorf("unknown opcode %q", w[0])
	}
	info, _ := f.spec().Lookup(opcode)
	args := w[1:]
	if len(args) != len(info.Args) {
		return Instr{}, fmt.Errorf("%s: expected %d operands, got %d", info.Name, len(info.Args), len(args))
	}
	in := Instr{Opcode: opcode}
	for i, form := range info.Args {
		var (
			v   uint64
			err error
		)
		switch {
		case form == FormBlock:
			in.Block, err = hex.DecodeString(strings.TrimPrefix(args[i], "0x"))
			v = uint64(len(in.Block))
		case form.signed():
			var n int64
			n, err = strconv.ParseInt(args[i], 0, 64)
			v = uint64(n)
		default:
			v, err = strconv.ParseUint(args[i], 0, 64)
		}
		if err != nil {
			return Instr{}, fmt.Errorf("%s: bad operand %q: %v", info.Name, args[i], err)
		}
		if i == 0 {
			in.Number = v
		} else {
			in.Number2 = v
		}
	}
	return in, nil
}
