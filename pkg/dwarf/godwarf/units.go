package godwarf

import (
	"debug/dwarf"
	"encoding/binary"
	"sort"

	"github.com/go-delve/dwarfcfa/pkg/dwarf/util"
)

// Unit is the header of a unit of .debug_info.
type Unit struct {
	Offset  dwarf.Offset // offset of the unit header
	End     dwarf.Offset // offset of the first byte after the unit
	Version uint8
	Dwarf64 bool
}

// Units lists the units of a .debug_info section. Reading stops at the
// first truncated header.
func Units(info []byte, order binary.ByteOrder) []Unit {
	var r []Unit
	c := util.NewCursor(info, order)
	for !c.Done() {
		off := c.Off()
		length, err := readUnitLength(c)
		if err != nil {
			break
		}
		start := c.Off()
		version, err := c.Uint16()
		if err != nil || length > uint64(c.Len()+2) {
			break
		}
		u := Unit{
			Offset:  dwarf.Offset(off),
			End:     dwarf.Offset(uint64(start) + length),
			Version: uint8(version),
			Dwarf64: start-off == 12,
		}
		r = append(r, u)
		if c.Skip(length-2) != nil {
			break
		}
	}
	return r
}

func readUnitLength(c *util.Cursor) (uint64, error) {
	l, err := c.Uint32()
	if err != nil {
		return 0, err
	}
	if l != 0xffffffff {
		return uint64(l), nil
	}
	return c.Uint64()
}

// UnitFor returns the unit containing the entry at off.
func UnitFor(units []Unit, off dwarf.Offset) (Unit, bool) {
	i := sort.Search(len(units), func(i int) bool { return units[i].End > off })
	if i < len(units) && units[i].Offset <= off {
		return units[i], true
	}
	return Unit{}, false
}
