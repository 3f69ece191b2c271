// Package dwarf loads the call frame and debug information of an
// executable and connects it to the CFA rewriter.
package dwarf

import (
	"debug/dwarf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-delve/dwarfcfa/pkg/dwarf/cfa"
	"github.com/go-delve/dwarfcfa/pkg/dwarf/frame"
	"github.com/go-delve/dwarfcfa/pkg/dwarf/godwarf"
	"github.com/go-delve/dwarfcfa/pkg/dwarf/loclist"
	"github.com/go-delve/dwarfcfa/pkg/dwarf/op"
	"github.com/go-delve/dwarfcfa/pkg/dwarf/reader"
	"github.com/go-delve/dwarfcfa/pkg/dwarf/util"
)

// ErrNoDebugInfo is returned by the operations needing .debug_info when the
// image has none.
var ErrNoDebugInfo = errors.New("no .debug_info section")

// Sections holds the raw contents of the sections an Image is built from.
// Missing sections are nil.
type Sections struct {
	Abbrev, Info, Str, Line, Ranges []byte
	// DWARF 5 sections
	Addr, LocLists, RngLists, StrOffsets, LineStr []byte

	Loc []byte

	Frame       []byte
	EHFrame     []byte
	EHFrameAddr uint64

	Text     []byte
	TextAddr uint64
}

// Image is an executable with its call frame information and, optionally,
// its debug information. Images are not relocated: addresses are the
// link time addresses.
type Image struct {
	Arch   string // GOARCH style name
	Format op.Format
	Data   *dwarf.Data // nil without .debug_info
	Frames frame.FrameDescriptionEntries

	units     []godwarf.Unit
	loc2      *loclist.Dwarf2Reader
	loc5      *loclist.Dwarf5Reader
	locLists  []byte
	debugAddr *loclist.DebugAddrSection
	text      []byte
	textAddr  uint64
	closer    io.Closer
}

// New builds an Image from raw section contents. Frames are read from
// .debug_frame and .eh_frame, an address range described by both uses the
// .debug_frame entry.
func New(arch string, order binary.ByteOrder, ptrSize int, secs *Sections) (*Image, error) {
	img := &Image{
		Arch:     arch,
		Format:   op.Format{Spec: op.DWARF4, PtrSize: ptrSize, ByteOrder: order},
		locLists: secs.LocLists,
		text:     secs.Text,
		textAddr: secs.TextAddr,
	}

	if len(secs.Info) > 0 {
		data, err := dwarf.New(secs.Abbrev, nil, nil, secs.Info, secs.Line, nil, secs.Ranges, secs.Str)
		if err != nil {
			return nil, err
		}
		for _, sec := range []struct {
			name string
			data []byte
		}{
			{".debug_addr", secs.Addr},
			{".debug_rnglists", secs.RngLists},
			{".debug_str_offsets", secs.StrOffsets},
			{".debug_line_str", secs.LineStr},
		} {
			if len(sec.data) == 0 {
				continue
			}
			if err := data.AddSection(sec.name, sec.data); err != nil {
				return nil, err
			}
		}
		img.Data = data
		img.units = godwarf.Units(secs.Info, order)
	}

	if len(secs.Loc) > 0 {
		img.loc2 = loclist.NewDwarf2Reader(secs.Loc, ptrSize, order)
	}
	img.loc5 = loclist.NewDwarf5Reader(secs.LocLists)
	img.debugAddr = loclist.ParseAddr(secs.Addr)

	if len(secs.Frame) > 0 {
		frames, err := frame.Parse(secs.Frame, order, 0, ptrSize)
		if err != nil {
			return nil, fmt.Errorf("could not parse .debug_frame: %w", err)
		}
		img.Frames = frames
	}
	if len(secs.EHFrame) > 0 {
		frames, err := frame.ParseEH(secs.EHFrame, order, secs.EHFrameAddr, 0, ptrSize)
		if err != nil {
			return nil, fmt.Errorf("could not parse .eh_frame: %w", err)
		}
		img.Frames = img.Frames.Append(frames)
	}
	return img, nil
}

// Close releases the file the image was read from.
func (img *Image) Close() error {
	if img.closer == nil {
		return nil
	}
	return img.closer.Close()
}

// Rewriter returns a CFA rewriter using the frames of img.
func (img *Image) Rewriter(opts ...cfa.Option) *cfa.Rewriter {
	return cfa.New(img.Frames, img.Format, opts...)
}

// Text returns up to n bytes of code starting at addr.
func (img *Image) Text(addr uint64, n int) ([]byte, error) {
	if addr < img.textAddr || addr-img.textAddr >= uint64(len(img.text)) {
		return nil, fmt.Errorf("address %#x outside of .text", addr)
	}
	off := addr - img.textAddr
	end := off + uint64(n)
	if end > uint64(len(img.text)) {
		end = uint64(len(img.text))
	}
	return img.text[off:end], nil
}

// Loc returns the location list reader used by units of the given DWARF
// version, nil if the image has no such section.
func (img *Image) Loc(version uint8) loclist.Reader {
	if version >= 5 {
		if img.loc5 == nil {
			return nil
		}
		return img.loc5
	}
	if img.loc2 == nil {
		return nil
	}
	return img.loc2
}

type unitInfo struct {
	version      uint8
	dwarf64      bool
	base         uint64
	addrBase     uint64
	loclistsBase uint64
}

func (img *Image) unitInfo(cu *dwarf.Entry) *unitInfo {
	u := &unitInfo{}
	if cu == nil {
		return u
	}
	if h, ok := godwarf.UnitFor(img.units, cu.Offset); ok {
		u.version, u.dwarf64 = h.Version, h.Dwarf64
	}
	if lowpc, ok := cu.Val(dwarf.AttrLowpc).(uint64); ok {
		u.base = lowpc
	}
	if v, ok := cu.Val(dwarf.AttrAddrBase).(int64); ok {
		u.addrBase = uint64(v)
	}
	if v, ok := cu.Val(dwarf.AttrLoclistsBase).(int64); ok {
		u.loclistsBase = uint64(v)
	}
	return u
}

// Function is a subprogram with code.
type Function struct {
	Name      string
	Offset    dwarf.Offset
	Ranges    [][2]uint64
	FrameBase op.LocList // nil without DW_AT_frame_base
	Tree      *godwarf.Tree

	// FrameBaseErr is set when DW_AT_frame_base could not be decoded,
	// FrameBase is then nil and DW_OP_fbreg is never rewritten.
	FrameBaseErr error

	unit *unitInfo
}

// Functions returns every subprogram with code, in .debug_info order.
func (img *Image) Functions() ([]*Function, error) {
	if img.Data == nil {
		return nil, ErrNoDebugInfo
	}
	var (
		fns   []*Function
		units = make(map[dwarf.Offset]*unitInfo)
		rdr   = reader.New(img.Data)
	)
	for {
		entry, err := rdr.NextSubprogram()
		if err != nil {
			return nil, err
		}
		if entry == nil {
			break
		}

		var u *unitInfo
		if cu := rdr.CompileUnit(); cu != nil {
			if u = units[cu.Offset]; u == nil {
				u = img.unitInfo(cu)
				units[cu.Offset] = u
			}
		} else {
			u = img.unitInfo(nil)
		}

		tree, err := godwarf.LoadTree(entry.Offset, img.Data, 0)
		if err != nil {
			return nil, fmt.Errorf("subprogram at %#x: %w", entry.Offset, err)
		}
		fn := &Function{Name: tree.Name(), Offset: entry.Offset, Ranges: tree.Ranges, Tree: tree, unit: u}
		fn.FrameBase, fn.FrameBaseErr = img.location(u, tree.Entry, dwarf.AttrFrameBase)
		fns = append(fns, fn)
	}
	return fns, nil
}

// Variable is a variable or formal parameter of a function.
type Variable struct {
	Name     string
	Tag      dwarf.Tag
	Offset   dwarf.Offset
	Depth    int        // nesting depth inside the function
	Location op.LocList // nil if the variable has no location
	Err      error      // the location could not be decoded
}

// Variables returns the variables and parameters of fn, including the ones
// of nested scopes and inlined calls. A location that can not be decoded
// is reported in the Err field of its variable.
func (img *Image) Variables(fn *Function) []Variable {
	var r []Variable
	for _, v := range reader.Variables(fn.Tree, 0, 0) {
		loc, err := img.location(fn.unit, v.Entry, dwarf.AttrLocation)
		if err != nil {
			err = fmt.Errorf("location of %s: %w", v.Name(), err)
		}
		r = append(r, Variable{Name: v.Name(), Tag: v.Tag, Offset: v.Offset, Depth: v.Depth, Location: loc, Err: err})
	}
	return r
}

// RewriteVariable rewrites the location of v over every address range of
// fn, using the frame base of fn.
func (img *Image) RewriteVariable(rw *cfa.Rewriter, fn *Function, v Variable) (*cfa.Result, error) {
	if v.Err != nil {
		return nil, v.Err
	}
	res := &cfa.Result{}
	for _, rng := range fn.Ranges {
		r, err := rw.Rewrite(v.Location, cfa.Range{Low: rng[0], High: rng[1]}, fn.FrameBase)
		if err != nil {
			return nil, err
		}
		res.LocList = append(res.LocList, r.LocList...)
		res.Ranges = append(res.Ranges, r.Ranges...)
	}
	return res, nil
}

// location decodes attribute attr of e, an expression or a reference to a
// location list.
func (img *Image) location(u *unitInfo, e godwarf.Entry, attr dwarf.Attr) (op.LocList, error) {
	var off uint64
	switch v := e.Val(attr).(type) {
	case nil:
		return nil, nil
	case []byte:
		expr, err := op.DecodeLocExpr(v, 0, 0, img.Format)
		if err != nil {
			return nil, err
		}
		return op.LocList{expr}, nil
	case int64:
		off = uint64(v)
	case uint64:
		off = v
	default:
		return nil, fmt.Errorf("could not interpret location attribute %s", attr)
	}

	if f := godwarf.Field(e, attr); f != nil && f.Class == dwarf.ClassLocList {
		var err error
		off, err = img.loclistx(u, off)
		if err != nil {
			return nil, err
		}
	}

	rdr := img.Loc(u.version)
	if rdr == nil || rdr.Empty() {
		return nil, fmt.Errorf("location list at %#x: no location list section for DWARF %d", off, u.version)
	}
	var debugAddr *loclist.DebugAddr
	if img.debugAddr != nil {
		debugAddr = img.debugAddr.GetSubsection(u.addrBase)
	}
	entries, err := rdr.Read(int(off), 0, u.base, debugAddr)
	if err != nil {
		return nil, err
	}
	return loclist.ToLocList(entries, img.Format)
}

// loclistx resolves a DW_FORM_loclistx index through the offset table of
// the unit.
func (img *Image) loclistx(u *unitInfo, idx uint64) (uint64, error) {
	sz := 4
	if u.dwarf64 {
		sz = 8
	}
	c := util.NewCursor(img.locLists, img.Format.ByteOrder)
	if err := c.Skip(u.loclistsBase + idx*uint64(sz)); err != nil {
		return 0, err
	}
	off, err := c.Addr(sz)
	if err != nil {
		return 0, err
	}
	return u.loclistsBase + off, nil
}
