package reader

import (
	"debug/dwarf"
	"testing"

	"github.com/go-delve/dwarfcfa/pkg/dwarf/dwarfbuilder"
	"github.com/go-delve/dwarfcfa/pkg/dwarf/godwarf"
	"github.com/go-delve/dwarfcfa/pkg/dwarf/op"
)

func loadData(t *testing.T) (*dwarf.Data, dwarf.Offset) {
	b := dwarfbuilder.New()
	intType := b.AddBaseType("int", dwarfbuilder.DW_ATE_signed, 4)

	b.TagOpen(dwarf.TagSubprogram, "decl")
	b.TagClose()

	f := b.AddSubprogram("f", 0x1000, 0x1020, dwarfbuilder.LocationBlock(op.DW_OP_call_frame_cfa))
	b.AddParameter("a", intType, dwarfbuilder.LocationBlock(op.DW_OP_fbreg, -8))
	b.TagOpen(dwarf.TagLexDwarfBlock, "")
	b.Attr(dwarf.AttrLowpc, dwarfbuilder.Address(0x1010))
	b.Attr(dwarf.AttrHighpc, dwarfbuilder.Address(0x1018))
	b.AddVariable("c", intType, dwarfbuilder.LocationBlock(op.DW_OP_fbreg, -16))
	b.TagClose()
	b.TagOpen(dwarf.TagInlinedSubroutine, "")
	b.AddVariable("d", intType, dwarfbuilder.LocationBlock(op.DW_OP_fbreg, -24))
	b.TagClose()
	b.TagClose()

	b.AddSubprogram("g", 0x2000, 0x2010, nil)
	b.TagClose()

	abbrev, info, _, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	data, err := dwarf.New(abbrev, nil, nil, info, nil, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	return data, f
}

func TestNextSubprogram(t *testing.T) {
	data, _ := loadData(t)
	rdr := New(data)
	var names []string
	for {
		entry, err := rdr.NextSubprogram()
		if err != nil {
			t.Fatal(err)
		}
		if entry == nil {
			break
		}
		names = append(names, entry.Val(dwarf.AttrName).(string))
		if cu := rdr.CompileUnit(); cu == nil || cu.Tag != dwarf.TagCompileUnit {
			t.Errorf("expected compile unit for %s, got %v", names[len(names)-1], cu)
		}
	}
	if len(names) != 2 || names[0] != "f" || names[1] != "g" {
		t.Fatalf("expected [f g], got %v", names)
	}
}

func TestNextCompileUnit(t *testing.T) {
	data, _ := loadData(t)
	rdr := New(data)
	cu, err := rdr.NextCompileUnit()
	if err != nil {
		t.Fatal(err)
	}
	if cu == nil || cu.Val(dwarf.AttrName) != "main.c" {
		t.Fatalf("expected main.c, got %v", cu)
	}
	if cu, _ := rdr.NextCompileUnit(); cu != nil {
		t.Fatalf("expected a single compile unit, got %v", cu)
	}

	rdr.Seek(0)
	if rdr.CompileUnit() != nil {
		t.Errorf("expected Seek to forget the compile unit")
	}
}

func TestVariables(t *testing.T) {
	data, off := loadData(t)
	root, err := godwarf.LoadTree(off, data, 0)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		pc     uint64
		flags  VariablesFlags
		names  []string
		depths []int
	}{
		{0, 0, []string{"a", "c", "d"}, []int{1, 2, 2}},
		{0, VariablesSkipInlinedSubroutines, []string{"a", "c"}, []int{1, 2}},
		{0x1004, VariablesOnlyVisible, []string{"a"}, []int{1}},
		{0x1012, VariablesOnlyVisible, []string{"a", "c"}, []int{1, 2}},
	}
	for _, tc := range tests {
		vars := Variables(root, tc.pc, tc.flags)
		if len(vars) != len(tc.names) {
			t.Errorf("pc %#x flags %d: expected %v, got %d variables", tc.pc, tc.flags, tc.names, len(vars))
			continue
		}
		for i, v := range vars {
			if v.Name() != tc.names[i] || v.Depth != tc.depths[i] {
				t.Errorf("pc %#x flags %d: expected %s at depth %d, got %s at depth %d", tc.pc, tc.flags, tc.names[i], tc.depths[i], v.Name(), v.Depth)
			}
		}
	}
}
