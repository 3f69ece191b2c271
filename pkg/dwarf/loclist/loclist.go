// Package loclist reads DWARF location lists from the .debug_loc (DWARF 2
// through 4) and .debug_loclists (DWARF 5) sections.
package loclist

import (
	"github.com/go-delve/dwarfcfa/pkg/dwarf/op"
)

// Reader represents a loclist reader.
type Reader interface {
	Find(off int, staticBase, base, pc uint64, debugAddr *DebugAddr) (*Entry, error)
	Read(off int, staticBase, base uint64, debugAddr *DebugAddr) ([]Entry, error)
	Empty() bool
}

// Entry represents a single entry in the loclist section.
// Entries returned by Read have absolute addresses. The default location of
// a DWARF 5 list is returned last with LowPC and HighPC set to zero.
type Entry struct {
	LowPC, HighPC uint64
	Instr         []byte
}

// BaseAddressSelection returns true if entry.highpc should
// be used as the base address for subsequent entries.
func (e *Entry) BaseAddressSelection() bool {
	return e.LowPC == ^uint64(0)
}

// ToLocList decodes the expressions of entries. Entries with an empty range
// are dropped, an entry with LowPC == HighPC == 0 is valid everywhere.
func ToLocList(entries []Entry, f op.Format) (op.LocList, error) {
	r := make(op.LocList, 0, len(entries))
	for _, e := range entries {
		everywhere := e.LowPC == 0 && e.HighPC == 0
		if !everywhere && e.LowPC >= e.HighPC {
			continue
		}
		expr, err := op.DecodeLocExpr(e.Instr, e.LowPC, e.HighPC, f)
		if err != nil {
			return nil, err
		}
		r = append(r, expr)
	}
	return r, nil
}
