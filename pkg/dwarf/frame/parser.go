// Package frame contains data structures and
// related functions for parsing and searching
// through Dwarf .debug_frame data.
package frame

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/go-delve/dwarfcfa/pkg/dwarf/util"
)

type parsefunc func(*parseContext) (parsefunc, error)

type parseContext struct {
	staticBase uint64

	data     []byte
	c        *util.Cursor
	order    binary.ByteOrder
	entries  FrameDescriptionEntries
	cies     map[int]*CommonInformationEntry
	frame    *FrameDescriptionEntry
	entryOff int // offset of the length field of the current entry
	end      int // offset of the first byte after the current entry
	dwarf64  bool
	ptrSize  int

	eh          bool
	sectionAddr uint64
}

// Parse takes in data (a byte slice) and returns FrameDescriptionEntries,
// which is a slice of FrameDescriptionEntry. Each FrameDescriptionEntry
// has a pointer to CommonInformationEntry.
// The entries are sorted by start address.
func Parse(data []byte, order binary.ByteOrder, staticBase uint64, ptrSize int) (FrameDescriptionEntries, error) {
	return parse(&parseContext{data: data, order: order, staticBase: staticBase, ptrSize: ptrSize})
}

// ParseEH is like Parse for the .eh_frame section, loaded at sectionAddr.
func ParseEH(data []byte, order binary.ByteOrder, sectionAddr, staticBase uint64, ptrSize int) (FrameDescriptionEntries, error) {
	return parse(&parseContext{data: data, order: order, staticBase: staticBase, ptrSize: ptrSize, eh: true, sectionAddr: sectionAddr})
}

func parse(ctx *parseContext) (FrameDescriptionEntries, error) {
	ctx.c = util.NewCursor(ctx.data, ctx.order)
	ctx.entries = newFrameIndex()
	ctx.cies = make(map[int]*CommonInformationEntry)

	for fn := parsefunc(parselength); fn != nil && !ctx.c.Done(); {
		var err error
		fn, err = fn(ctx)
		if err != nil {
			return nil, fmt.Errorf("entry at %#x: %w", ctx.entryOff, err)
		}
	}

	sort.SliceStable(ctx.entries, func(i, j int) bool {
		return ctx.entries[i].Begin() < ctx.entries[j].Begin()
	})
	return ctx.entries, nil
}

// readLength reads the initial length field of an entry.
func readLength(c *util.Cursor) (length uint64, dwarf64 bool, err error) {
	l32, err := c.Uint32()
	if err != nil {
		return 0, false, err
	}
	if l32 != 0xffffffff {
		return uint64(l32), false, nil
	}
	length, err = c.Uint64()
	return length, true, err
}

func (ctx *parseContext) readID(c *util.Cursor, dwarf64 bool) (uint64, error) {
	if dwarf64 && !ctx.eh {
		return c.Uint64()
	}
	id, err := c.Uint32()
	return uint64(id), err
}

func (ctx *parseContext) isCIE(id uint64, dwarf64 bool) bool {
	switch {
	case ctx.eh:
		return id == 0
	case dwarf64:
		return id == ^uint64(0)
	default:
		return id == 0xffffffff
	}
}

func parselength(ctx *parseContext) (parsefunc, error) {
	ctx.entryOff = ctx.c.Off()
	length, dwarf64, err := readLength(ctx.c)
	if err != nil {
		return nil, err
	}

	if length == 0 {
		if ctx.eh {
			// ZERO terminator
			return nil, nil
		}
		return parselength, nil
	}

	if length > uint64(ctx.c.Len()) {
		return nil, &util.BoundsError{Off: ctx.c.Off(), Size: int(length), Len: len(ctx.data)}
	}
	ctx.end = ctx.c.Off() + int(length)
	ctx.dwarf64 = dwarf64

	idOff := ctx.c.Off()
	id, err := ctx.readID(ctx.c, dwarf64)
	if err != nil {
		return nil, err
	}

	if ctx.isCIE(id, dwarf64) {
		if _, err := ctx.cieAt(ctx.entryOff); err != nil {
			return nil, err
		}
		return parselength, ctx.c.Skip(uint64(ctx.end - ctx.c.Off()))
	}

	cieOff := int(id)
	if ctx.eh {
		cieOff = idOff - int(id)
	}
	cie, err := ctx.cieAt(cieOff)
	if err != nil {
		return nil, err
	}
	ctx.frame = &FrameDescriptionEntry{Length: length, CIE: cie, off: ctx.entryOff}
	return parseFDE, nil
}

func parseFDE(ctx *parseContext) (parsefunc, error) {
	var (
		fde     = ctx.frame
		cie     = fde.CIE
		bodyOff = ctx.c.Off()
	)
	body, err := ctx.c.Bytes(uint64(ctx.end - bodyOff))
	if err != nil {
		return nil, err
	}
	c := util.NewCursor(body, ctx.order)

	var begin, size uint64
	if ctx.eh {
		begin, err = readEncodedPtr(c, cie.ptrEncAddr, cie.ptrSize, ctx.sectionAddr+uint64(bodyOff))
		if err == nil {
			size, err = readEncodedPtr(c, cie.ptrEncAddr&0x0f, cie.ptrSize, 0)
		}
		if err == nil && strings.HasPrefix(cie.Augmentation, "z") {
			var n uint64
			if n, err = c.ULEB128(); err == nil {
				err = c.Skip(n)
			}
		}
	} else {
		begin, err = c.Addr(cie.ptrSize)
		if err == nil {
			size, err = c.Addr(cie.ptrSize)
		}
	}
	if err != nil {
		return nil, err
	}

	fde.begin = begin + ctx.staticBase
	fde.size = size

	// The rest of this entry consists of the instructions.
	fde.instrAddr = ctx.sectionAddr + uint64(bodyOff+c.Off())
	fde.Instructions, _ = c.Bytes(uint64(c.Len()))
	ctx.entries = append(ctx.entries, fde)

	return parselength, nil
}

// cieAt returns the CIE whose length field is at off, parsing it if it
// was not seen yet.
func (ctx *parseContext) cieAt(off int) (*CommonInformationEntry, error) {
	if cie, ok := ctx.cies[off]; ok {
		return cie, nil
	}
	if off < 0 || off >= len(ctx.data) {
		return nil, malformed("CIE pointer %#x outside of section", off)
	}
	c := util.NewCursor(ctx.data, ctx.order)
	c.Skip(uint64(off))
	length, dwarf64, err := readLength(c)
	if err != nil {
		return nil, err
	}
	start := c.Off()
	id, err := ctx.readID(c, dwarf64)
	if err != nil {
		return nil, err
	}
	if !ctx.isCIE(id, dwarf64) {
		return nil, malformed("entry at %#x is not a CIE", off)
	}
	if length < uint64(c.Off()-start) {
		return nil, malformed("CIE at %#x is too short", off)
	}
	bodyOff := c.Off()
	body, err := c.Bytes(length - uint64(c.Off()-start))
	if err != nil {
		return nil, err
	}

	cie := &CommonInformationEntry{
		Length:     length,
		staticBase: ctx.staticBase,
		ptrSize:    ctx.ptrSize,
		order:      ctx.order,
		off:        off,
	}
	if err := parseCIE(cie, util.NewCursor(body, ctx.order)); err != nil {
		return nil, fmt.Errorf("CIE at %#x: %w", off, err)
	}
	cie.instrAddr = ctx.sectionAddr + uint64(bodyOff+len(body)-len(cie.InitialInstructions))
	ctx.cies[off] = cie
	return cie, nil
}

func parseCIE(cie *CommonInformationEntry, c *util.Cursor) error {
	var err error

	// parse version
	if cie.Version, err = c.Uint8(); err != nil {
		return err
	}
	switch cie.Version {
	case 1, 3, 4:
	default:
		return malformed("unsupported CIE version %d", cie.Version)
	}

	// parse augmentation
	if cie.Augmentation, err = c.CString(); err != nil {
		return err
	}

	if cie.Version >= 4 {
		if cie.AddressSize, err = c.Uint8(); err != nil {
			return err
		}
		if _, err = c.Uint8(); err != nil { // segment selector size
			return err
		}
		if cie.AddressSize != 0 {
			cie.ptrSize = int(cie.AddressSize)
		}
	}

	// parse code alignment factor
	if cie.CodeAlignmentFactor, err = c.ULEB128(); err != nil {
		return err
	}

	// parse data alignment factor
	if cie.DataAlignmentFactor, err = c.SLEB128(); err != nil {
		return err
	}

	// parse return address register
	if cie.Version == 1 {
		var ra uint8
		ra, err = c.Uint8()
		cie.ReturnAddressRegister = uint64(ra)
	} else {
		cie.ReturnAddressRegister, err = c.ULEB128()
	}
	if err != nil {
		return err
	}

	if err := parseAugmentation(cie, c); err != nil {
		return err
	}

	// The rest of this entry consists of the instructions.
	cie.InitialInstructions, _ = c.Bytes(uint64(c.Len()))
	return nil
}

func parseAugmentation(cie *CommonInformationEntry, c *util.Cursor) error {
	switch {
	case cie.Augmentation == "":
		return nil
	case cie.Augmentation == "eh":
		_, err := c.Addr(cie.ptrSize)
		return err
	case !strings.HasPrefix(cie.Augmentation, "z"):
		return malformed("unsupported augmentation %q", cie.Augmentation)
	}

	n, err := c.ULEB128()
	if err != nil {
		return err
	}
	data, err := c.Bytes(n)
	if err != nil {
		return err
	}
	ac := util.NewCursor(data, c.ByteOrder())
	for _, ch := range cie.Augmentation[1:] {
		switch ch {
		case 'R':
			enc, err := ac.Uint8()
			if err != nil {
				return err
			}
			cie.ptrEncAddr = ptrEnc(enc)
			if !cie.ptrEncAddr.Supported() {
				return malformed("pointer encoding not supported %#x", enc)
			}
		case 'P':
			enc, err := ac.Uint8()
			if err != nil {
				return err
			}
			// The personality routine address is not needed, only skipped.
			if _, err := readEncodedPtr(ac, ptrEnc(enc)&0x0f, cie.ptrSize, 0); err != nil {
				return err
			}
		case 'L':
			if _, err := ac.Uint8(); err != nil {
				return err
			}
		case 'S':
		default:
			// Unknown augmentations end the parsable part; the length
			// prefix lets the rest be skipped.
			return nil
		}
	}
	return nil
}

// readEncodedPtr reads a pointer encoded as specified by enc. fieldAddr is
// the address of the field, used by pc relative encodings.
func readEncodedPtr(c *util.Cursor, enc ptrEnc, ptrSize int, fieldAddr uint64) (uint64, error) {
	if enc == ptrEncOmit {
		return 0, nil
	}
	if !enc.Supported() {
		return 0, malformed("pointer encoding not supported %#x", byte(enc))
	}

	var (
		v   uint64
		err error
	)
	switch enc & 0x0f {
	case ptrEncAbs, ptrEncSigned:
		v, err = c.Addr(ptrSize)
	case ptrEncUleb:
		v, err = c.ULEB128()
	case ptrEncUdata2:
		var x uint16
		x, err = c.Uint16()
		v = uint64(x)
	case ptrEncSdata2:
		var x uint16
		x, err = c.Uint16()
		v = uint64(int16(x))
	case ptrEncUdata4:
		var x uint32
		x, err = c.Uint32()
		v = uint64(x)
	case ptrEncSdata4:
		var x uint32
		x, err = c.Uint32()
		v = uint64(int32(x))
	case ptrEncUdata8, ptrEncSdata8:
		v, err = c.Uint64()
	case ptrEncSleb:
		var x int64
		x, err = c.SLEB128()
		v = uint64(x)
	}
	if err != nil {
		return 0, err
	}

	if enc&ptrEncFlagsMask == ptrEncPCRel {
		v += fieldAddr
	}
	return v, nil
}
