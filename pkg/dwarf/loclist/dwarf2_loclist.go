package loclist

import (
	"encoding/binary"
	"fmt"

	"github.com/go-delve/dwarfcfa/pkg/dwarf/util"
	"github.com/go-delve/dwarfcfa/pkg/logflags"
)

// Dwarf2Reader parses and presents DWARF loclist information for DWARF versions 2 through 4.
type Dwarf2Reader struct {
	data  []byte
	c     *util.Cursor
	order binary.ByteOrder
	ptrSz int
}

// NewDwarf2Reader returns an initialized loclist Reader for DWARF versions 2 through 4.
func NewDwarf2Reader(data []byte, ptrSz int, order binary.ByteOrder) *Dwarf2Reader {
	return &Dwarf2Reader{data: data, ptrSz: ptrSz, order: order}
}

// Empty returns true if this reader has no data.
func (rdr *Dwarf2Reader) Empty() bool {
	return rdr.data == nil
}

// Seek moves the data pointer to the specified offset.
func (rdr *Dwarf2Reader) Seek(off int) error {
	rdr.c = util.NewCursor(rdr.data, rdr.order)
	if off < 0 {
		return &util.BoundsError{Off: off, Len: len(rdr.data)}
	}
	return rdr.c.Skip(uint64(off))
}

// Next advances the reader to the next loclist entry, returning
// the entry and true if successful, or false at the end of the list.
func (rdr *Dwarf2Reader) Next(e *Entry) (bool, error) {
	var err error
	if e.LowPC, err = rdr.oneAddr(); err != nil {
		return false, err
	}
	if e.HighPC, err = rdr.oneAddr(); err != nil {
		return false, err
	}

	if e.LowPC == 0 && e.HighPC == 0 {
		return false, nil
	}

	if e.BaseAddressSelection() {
		e.Instr = nil
		return true, nil
	}

	instrlen, err := rdr.c.Uint16()
	if err != nil {
		return false, err
	}
	e.Instr, err = rdr.c.Bytes(uint64(instrlen))
	return err == nil, err
}

// Find returns the loclist entry for the specified PC address, inside the
// loclist stating at off. Base is the base address of the compile unit and
// staticBase is the static base at which the image is loaded.
func (rdr *Dwarf2Reader) Find(off int, staticBase, base, pc uint64, debugAddr *DebugAddr) (*Entry, error) {
	entries, err := rdr.Read(off, staticBase, base, debugAddr)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if pc >= entries[i].LowPC && pc < entries[i].HighPC {
			return &entries[i], nil
		}
	}
	return nil, nil
}

// Read returns all the entries of the loclist starting at off, with
// absolute addresses.
func (rdr *Dwarf2Reader) Read(off int, staticBase, base uint64, debugAddr *DebugAddr) ([]Entry, error) {
	if err := rdr.Seek(off); err != nil {
		return nil, err
	}
	var r []Entry
	for {
		var e Entry
		ok, err := rdr.Next(&e)
		if err != nil {
			return nil, fmt.Errorf("loclist at %#x: %w", off, err)
		}
		if !ok {
			break
		}
		if e.BaseAddressSelection() {
			base = e.HighPC + staticBase
			continue
		}
		e.LowPC += base
		e.HighPC += base
		if logflags.LocList() {
			logflags.LocListLogger().Debugf("loclist %#x: [%#x, %#x) %x", off, e.LowPC, e.HighPC, e.Instr)
		}
		r = append(r, e)
	}
	return r, nil
}

func (rdr *Dwarf2Reader) oneAddr() (uint64, error) {
	switch rdr.ptrSz {
	case 4:
		addr, err := rdr.c.Uint32()
		if addr == ^uint32(0) {
			return ^uint64(0), err
		}
		return uint64(addr), err
	case 8:
		return rdr.c.Uint64()
	default:
		return 0, fmt.Errorf("bad address size %d", rdr.ptrSz)
	}
}
