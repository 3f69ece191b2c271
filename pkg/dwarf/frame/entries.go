package frame

import (
	"encoding/binary"
	"sort"
)

// CommonInformationEntry represents a Common Information Entry in
// the Dwarf .debug_frame section.
type CommonInformationEntry struct {
	Length                uint64
	Version               uint8
	Augmentation          string
	AddressSize           uint8
	CodeAlignmentFactor   uint64
	DataAlignmentFactor   int64
	ReturnAddressRegister uint64
	InitialInstructions   []byte
	staticBase            uint64
	ptrSize               int
	order                 binary.ByteOrder
	off                   int

	// eh_frame pointer encoding
	ptrEncAddr ptrEnc
	instrAddr  uint64
}

// NewCommonInformationEntry returns a version 4 CIE for a target with
// the given pointer size and byte order.
func NewCommonInformationEntry(codeAlignment uint64, dataAlignment int64, returnAddressRegister uint64, initialInstructions []byte, ptrSize int, order binary.ByteOrder) *CommonInformationEntry {
	return &CommonInformationEntry{
		Version:               4,
		AddressSize:           uint8(ptrSize),
		CodeAlignmentFactor:   codeAlignment,
		DataAlignmentFactor:   dataAlignment,
		ReturnAddressRegister: returnAddressRegister,
		InitialInstructions:   initialInstructions,
		ptrSize:               ptrSize,
		order:                 order,
		off:                   -1,
	}
}

// Offset returns the offset of the CIE in its section.
func (cie *CommonInformationEntry) Offset() int { return cie.off }

// Instructions decodes the initial instructions of the CIE.
func (cie *CommonInformationEntry) Instructions() (InstrList, error) {
	l, err := cie.decoder(cie.instrAddr).decode(cie.InitialInstructions)
	if err != nil {
		return nil, withEntry(err, cie.off)
	}
	return l, nil
}

// decoder returns the decoder for an instruction stream of this CIE or of
// one of its FDEs, starting at addr.
func (cie *CommonInformationEntry) decoder(addr uint64) instrDecoder {
	return instrDecoder{
		ptrSize:       cie.ptrSize,
		dataAlignment: cie.DataAlignmentFactor,
		order:         cie.order,
		ptrEnc:        cie.ptrEncAddr,
		addr:          addr,
	}
}

// FrameDescriptionEntry represents a Frame Descriptor Entry in the
// Dwarf .debug_frame section.
type FrameDescriptionEntry struct {
	Length       uint64
	CIE          *CommonInformationEntry
	Instructions []byte
	begin, size  uint64
	instrAddr    uint64
	off          int
}

// NewFrameDescriptionEntry returns a FDE covering [begin, begin+size)
// with the given instructions.
func NewFrameDescriptionEntry(cie *CommonInformationEntry, begin, size uint64, instructions []byte) *FrameDescriptionEntry {
	return &FrameDescriptionEntry{CIE: cie, begin: begin, size: size, Instructions: instructions, off: -1}
}

// Cover returns whether or not the given address is within the
// bounds of this frame.
func (fde *FrameDescriptionEntry) Cover(addr uint64) bool {
	return (addr - fde.begin) < fde.size
}

// Begin returns address of first location for this frame.
func (fde *FrameDescriptionEntry) Begin() uint64 {
	return fde.begin
}

// End returns address of last location for this frame.
func (fde *FrameDescriptionEntry) End() uint64 {
	return fde.begin + fde.size
}

// Translate moves the beginning of fde forward by delta.
func (fde *FrameDescriptionEntry) Translate(delta uint64) {
	fde.begin += delta
}

// Offset returns the offset of the FDE in its section, -1 for FDEs that
// were not parsed from a section.
func (fde *FrameDescriptionEntry) Offset() int { return fde.off }

// DecodeInstructions decodes the instructions of the FDE without
// interpreting them.
func (fde *FrameDescriptionEntry) DecodeInstructions() (InstrList, error) {
	l, err := fde.CIE.decoder(fde.instrAddr).decode(fde.Instructions)
	if err != nil {
		return nil, withEntry(err, fde.off)
	}
	return l, nil
}

type FrameDescriptionEntries []*FrameDescriptionEntry

func newFrameIndex() FrameDescriptionEntries {
	return make(FrameDescriptionEntries, 0, 1000)
}

// FDEForPC returns the Frame Description Entry for the given PC.
func (fdes FrameDescriptionEntries) FDEForPC(pc uint64) (*FrameDescriptionEntry, error) {
	idx := sort.Search(len(fdes), func(i int) bool {
		return fdes[i].Cover(pc) || fdes[i].Begin() >= pc
	})
	if idx == len(fdes) || !fdes[idx].Cover(pc) {
		return nil, &ErrNoFDEForPC{pc}
	}
	return fdes[idx], nil
}

// Append appends otherFDEs to fdes and returns the result sorted by
// address. Entries of otherFDEs overlapping an entry of fdes are dropped,
// so are entries covering the same range as an earlier entry.
func (fdes FrameDescriptionEntries) Append(otherFDEs FrameDescriptionEntries) FrameDescriptionEntries {
	base := make(FrameDescriptionEntries, len(fdes))
	copy(base, fdes)
	sort.SliceStable(base, func(i, j int) bool {
		return base[i].Begin() < base[j].Begin()
	})
	// maxEnd[i] is the highest end address in base[:i+1].
	maxEnd := make([]uint64, len(base))
	for i, fde := range base {
		maxEnd[i] = fde.End()
		if i > 0 && maxEnd[i-1] > maxEnd[i] {
			maxEnd[i] = maxEnd[i-1]
		}
	}

	r := make(FrameDescriptionEntries, 0, len(fdes)+len(otherFDEs))
	r = append(r, base...)
	for _, fde := range otherFDEs {
		n := sort.Search(len(base), func(i int) bool { return base[i].Begin() >= fde.End() })
		if n > 0 && maxEnd[n-1] > fde.Begin() {
			continue
		}
		r = append(r, fde)
	}
	sort.SliceStable(r, func(i, j int) bool {
		return r[i].Begin() < r[j].Begin()
	})
	// remove duplicates
	uniqFDEs := r[:0]
	for _, fde := range r {
		if len(uniqFDEs) > 0 {
			last := uniqFDEs[len(uniqFDEs)-1]
			if last.Begin() == fde.Begin() && last.End() == fde.End() {
				continue
			}
		}
		uniqFDEs = append(uniqFDEs, fde)
	}
	return uniqFDEs
}

// ptrEnc represents a pointer encoding value, used during eh_frame decoding
// to determine how pointers were encoded.
// Least significant 4 (0xf) bytes encode the size  as well as its
// signed-ness,  most significant 4 bytes (0xf0 == ptrEncFlagsMask) are flags
// describing how the value should be interpreted (absolute, relative...)
// See https://www.airs.com/blog/archives/460.
type ptrEnc uint8

const (
	ptrEncAbs    ptrEnc = 0x00 // pointer-sized unsigned integer
	ptrEncOmit   ptrEnc = 0xff // omitted
	ptrEncUleb   ptrEnc = 0x01 // ULEB128
	ptrEncUdata2 ptrEnc = 0x02 // 2 bytes
	ptrEncUdata4 ptrEnc = 0x03 // 4 bytes
	ptrEncUdata8 ptrEnc = 0x04 // 8 bytes
	ptrEncSigned ptrEnc = 0x08 // pointer-sized signed integer
	ptrEncSleb   ptrEnc = 0x09 // SLEB128
	ptrEncSdata2 ptrEnc = 0x0a // 2 bytes, signed
	ptrEncSdata4 ptrEnc = 0x0b // 4 bytes, signed
	ptrEncSdata8 ptrEnc = 0x0c // 8 bytes, signed

	ptrEncFlagsMask ptrEnc = 0xf0

	ptrEncPCRel    ptrEnc = 0x10 // value is relative to the memory address where it appears
	ptrEncTextRel  ptrEnc = 0x20 // value is relative to the address of the text section
	ptrEncDataRel  ptrEnc = 0x30 // value is relative to the address of the data section
	ptrEncFuncRel  ptrEnc = 0x40 // value is relative to the start of the function
	ptrEncAligned  ptrEnc = 0x50 // value should be aligned
	ptrEncIndirect ptrEnc = 0x80 // value is an address where the real value of the pointer is stored

	ptrEncSupportedFlags = ptrEncPCRel
)

// Supported returns true if this pointer encoding is supported.
func (ptrEnc ptrEnc) Supported() bool {
	if ptrEnc != ptrEncOmit {
		szenc := ptrEnc & 0x0f
		if ((szenc > ptrEncUdata8) && (szenc < ptrEncSigned)) || (szenc > ptrEncSdata8) {
			// These values aren't defined at the moment
			return false
		}
		if (ptrEnc&ptrEncFlagsMask)&^ptrEncSupportedFlags != 0 {
			// Currently only the PC relative flag is supported
			return false
		}
	}
	return true
}
