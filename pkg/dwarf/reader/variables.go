package reader

import (
	"debug/dwarf"

	"github.com/go-delve/dwarfcfa/pkg/dwarf/godwarf"
)

type Variable struct {
	*godwarf.Tree
	Depth int
}

// VariablesFlags specifies some configuration flags for the Variables function.
type VariablesFlags uint8

const (
	VariablesOnlyVisible VariablesFlags = 1 << iota
	VariablesSkipInlinedSubroutines
)

// Variables returns the variables and formal parameters contained inside
// 'root'. If VariablesOnlyVisible is set only variables in scopes
// containing pc are returned.
func Variables(root *godwarf.Tree, pc uint64, flags VariablesFlags) []Variable {
	return variablesInternal(nil, root, 0, pc, flags)
}

func variablesInternal(v []Variable, root *godwarf.Tree, depth int, pc uint64, flags VariablesFlags) []Variable {
	switch root.Tag {
	case dwarf.TagInlinedSubroutine:
		if flags&VariablesSkipInlinedSubroutines != 0 {
			return v
		}
		fallthrough
	case dwarf.TagLexDwarfBlock, dwarf.TagSubprogram:
		if (flags&VariablesOnlyVisible == 0) || root.ContainsPC(pc) {
			for _, child := range root.Children {
				v = variablesInternal(v, child, depth+1, pc, flags)
			}
		}
		return v
	case dwarf.TagVariable, dwarf.TagFormalParameter:
		return append(v, Variable{root, depth})
	}
	return v
}
