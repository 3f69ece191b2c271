// Package regnum maps DWARF register numbers to register names.
package regnum

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/derekparker/trie"
)

type archRegs struct {
	name   func(num uint64) (string, bool)
	byName *trie.Trie
}

func newArchRegs(name func(uint64) (string, bool), max uint64, aliases map[string]uint64) *archRegs {
	regs := &archRegs{name: name, byName: trie.New()}
	for num := uint64(0); num <= max; num++ {
		if n, ok := name(num); ok {
			regs.byName.Add(n, num)
		}
	}
	for alias, num := range aliases {
		regs.byName.Add(alias, num)
	}
	return regs
}

var arches = map[string]*archRegs{
	"amd64": newArchRegs(amd64Name, AMD64MaxRegNum, amd64Aliases),
	"arm64": newArchRegs(arm64Name, ARM64MaxRegNum, arm64Aliases),
}

// Arches returns the names of the supported architectures.
func Arches() []string {
	r := make([]string, 0, len(arches))
	for arch := range arches {
		r = append(r, arch)
	}
	sort.Strings(r)
	return r
}

// Name returns the name of register num of arch. Registers without a name,
// or of an unsupported architecture, are called r<num>.
func Name(arch string, num uint64) string {
	if regs, ok := arches[arch]; ok {
		if name, ok := regs.name(num); ok {
			return name
		}
	}
	return fmt.Sprintf("r%d", num)
}

// Lookup returns the DWARF number of the register of arch called name.
// Names are case insensitive and can be abbreviated to a unique prefix.
// The forms r<num> and <num> are accepted for every architecture.
func Lookup(arch, name string) (uint64, error) {
	name = strings.ToLower(name)
	if num, err := strconv.ParseUint(strings.TrimPrefix(name, "r"), 10, 64); err == nil {
		return num, nil
	}
	regs, ok := arches[arch]
	if !ok {
		return 0, fmt.Errorf("unknown architecture %q", arch)
	}
	if node, ok := regs.byName.Find(name); ok {
		return node.Meta().(uint64), nil
	}

	matches := regs.byName.PrefixSearch(name)
	if len(matches) == 0 {
		return 0, fmt.Errorf("unknown register %q", name)
	}
	nums := make(map[uint64]bool)
	var num uint64
	for _, m := range matches {
		node, _ := regs.byName.Find(m)
		num = node.Meta().(uint64)
		nums[num] = true
	}
	if len(nums) > 1 {
		sort.Strings(matches)
		return 0, fmt.Errorf("ambiguous register %q: %s", name, strings.Join(matches, ", "))
	}
	return num, nil
}
