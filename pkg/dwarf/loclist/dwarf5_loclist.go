package loclist

import (
	"encoding/binary"
	"fmt"

	"github.com/go-delve/dwarfcfa/pkg/dwarf/util"
	"github.com/go-delve/dwarfcfa/pkg/logflags"
)

// Dwarf5Reader parses and presents DWARF loclist information for DWARF version 5 and later.
// See DWARFv5 section 7.29 page 243 and following.
type Dwarf5Reader struct {
	byteOrder binary.ByteOrder
	ptrSz     int
	data      []byte
}

// NewDwarf5Reader returns a reader for the .debug_loclists section data, nil
// if data is too short to hold a header.
func NewDwarf5Reader(data []byte) *Dwarf5Reader {
	if len(data) < 12 {
		return nil
	}
	r := &Dwarf5Reader{data: data}

	_, dwarf64, _, byteOrder := util.ReadDwarfLengthVersion(data)
	r.byteOrder = byteOrder

	data = data[6:]
	if dwarf64 {
		if len(data) < 14 {
			return nil
		}
		data = data[8:]
	}

	addrSz := data[0]
	segSelSz := data[1]
	r.ptrSz = int(addrSz + segSelSz)

	// Not read:
	// - offset_entry_count (4 bytes)
	// - offset table (offset_entry_count*4 or offset_entry_count*8 if dwarf64 is set)

	return r
}

func (rdr *Dwarf5Reader) Empty() bool {
	return rdr == nil
}

func (rdr *Dwarf5Reader) iterator(off int, staticBase, base uint64, debugAddr *DebugAddr) (*loclistsIterator, error) {
	it := &loclistsIterator{rdr: rdr, debugAddr: debugAddr, c: util.NewCursor(rdr.data, rdr.byteOrder), base: base, staticBase: staticBase}
	if off < 0 {
		return nil, &util.BoundsError{Off: off, Len: len(rdr.data)}
	}
	if err := it.c.Skip(uint64(off)); err != nil {
		return nil, err
	}
	return it, nil
}

// Find returns the loclist entry for the specified PC address, inside the
// loclist stating at off. Base is the base address of the compile unit and
// staticBase is the static base at which the image is loaded.
func (rdr *Dwarf5Reader) Find(off int, staticBase, base, pc uint64, debugAddr *DebugAddr) (*Entry, error) {
	it, err := rdr.iterator(off, staticBase, base, debugAddr)
	if err != nil {
		return nil, err
	}

	for it.next() {
		if !it.onRange {
			continue
		}
		if it.start <= pc && pc < it.end {
			return &Entry{it.start, it.end, it.instr}, nil
		}
	}

	if it.err != nil {
		return nil, it.err
	}

	if it.defaultInstr != nil {
		return &Entry{pc, pc + 1, it.defaultInstr}, nil
	}

	return nil, nil
}

// Read returns all the entries of the loclist starting at off. The default
// location, if any, is returned last as an entry with an empty range at
// address zero.
func (rdr *Dwarf5Reader) Read(off int, staticBase, base uint64, debugAddr *DebugAddr) ([]Entry, error) {
	it, err := rdr.iterator(off, staticBase, base, debugAddr)
	if err != nil {
		return nil, err
	}
	var r []Entry
	for it.next() {
		if !it.onRange {
			continue
		}
		if logflags.LocList() {
			logflags.LocListLogger().Debugf("loclists %#x: [%#x, %#x) %x", off, it.start, it.end, it.instr)
		}
		r = append(r, Entry{it.start, it.end, it.instr})
	}
	if it.err != nil {
		return nil, fmt.Errorf("loclist at %#x: %w", off, it.err)
	}
	if it.defaultInstr != nil {
		r = append(r, Entry{0, 0, it.defaultInstr})
	}
	return r, nil
}

type loclistsIterator struct {
	rdr        *Dwarf5Reader
	debugAddr  *DebugAddr
	c          *util.Cursor
	staticBase uint64
	base       uint64 // base for offsets in the list

	onRange      bool
	atEnd        bool
	start, end   uint64
	instr        []byte
	defaultInstr []byte
	err          error
}

const (
	_DW_LLE_end_of_list      uint8 = 0x0
	_DW_LLE_base_addressx    uint8 = 0x1
	_DW_LLE_startx_endx      uint8 = 0x2
	_DW_LLE_startx_length    uint8 = 0x3
	_DW_LLE_offset_pair      uint8 = 0x4
	_DW_LLE_default_location uint8 = 0x5
	_DW_LLE_base_address     uint8 = 0x6
	_DW_LLE_start_end        uint8 = 0x7
	_DW_LLE_start_length     uint8 = 0x8
)

func (it *loclistsIterator) next() bool {
	if it.err != nil || it.atEnd {
		return false
	}
	opcodeOff := it.c.Off()
	opcode, err := it.c.Uint8()
	if err != nil {
		it.err = err
		return false
	}
	switch opcode {
	case _DW_LLE_end_of_list:
		it.atEnd = true
		it.onRange = false
		return false

	case _DW_LLE_base_addressx:
		var baseIdx uint64
		if baseIdx, it.err = it.c.ULEB128(); it.err == nil {
			it.base, it.err = it.debugAddr.Get(baseIdx)
		}
		it.base += it.staticBase
		it.onRange = false

	case _DW_LLE_startx_endx:
		startIdx := it.uleb()
		endIdx := it.uleb()
		it.readInstr()

		if it.err == nil {
			it.start, it.err = it.debugAddr.Get(startIdx)
		}
		if it.err == nil {
			it.end, it.err = it.debugAddr.Get(endIdx)
		}
		it.onRange = true

	case _DW_LLE_startx_length:
		startIdx := it.uleb()
		length := it.uleb()
		it.readInstr()

		if it.err == nil {
			it.start, it.err = it.debugAddr.Get(startIdx)
		}
		it.end = it.start + length
		it.onRange = true

	case _DW_LLE_offset_pair:
		off1 := it.uleb()
		off2 := it.uleb()
		it.readInstr()

		it.start = it.base + off1
		it.end = it.base + off2
		it.onRange = true

	case _DW_LLE_default_location:
		it.readInstr()
		it.defaultInstr = it.instr
		it.onRange = false

	case _DW_LLE_base_address:
		it.base = it.addr()
		it.base += it.staticBase
		it.onRange = false

	case _DW_LLE_start_end:
		it.start = it.addr()
		it.end = it.addr()
		it.readInstr()
		it.onRange = true

	case _DW_LLE_start_length:
		it.start = it.addr()
		length := it.uleb()
		it.readInstr()
		it.end = it.start + length
		it.onRange = true

	default:
		it.err = fmt.Errorf("unknown opcode %#x at %#x", opcode, opcodeOff)
		it.onRange = false
		it.atEnd = true
		return false
	}

	return it.err == nil
}

func (it *loclistsIterator) uleb() uint64 {
	if it.err != nil {
		return 0
	}
	var v uint64
	v, it.err = it.c.ULEB128()
	return v
}

func (it *loclistsIterator) addr() uint64 {
	if it.err != nil {
		return 0
	}
	var v uint64
	v, it.err = it.c.Addr(it.rdr.ptrSz)
	return v
}

func (it *loclistsIterator) readInstr() {
	length := it.uleb()
	if it.err != nil {
		return
	}
	it.instr, it.err = it.c.Bytes(length)
}
