package reader

import (
	"debug/dwarf"
)

// Reader walks the entries of .debug_info keeping track of the compile
// unit they belong to.
type Reader struct {
	*dwarf.Reader
	cu *dwarf.Entry
}

// New returns a reader for the specified dwarf data.
func New(data *dwarf.Data) *Reader {
	return &Reader{Reader: data.Reader()}
}

// Seek moves the reader to an arbitrary offset.
func (reader *Reader) Seek(off dwarf.Offset) {
	reader.cu = nil
	reader.Reader.Seek(off)
}

// CompileUnit returns the last compile unit entry read.
func (reader *Reader) CompileUnit() *dwarf.Entry {
	return reader.cu
}

// Next reads the next entry.
func (reader *Reader) Next() (*dwarf.Entry, error) {
	entry, err := reader.Reader.Next()
	if entry != nil && entry.Tag == dwarf.TagCompileUnit {
		reader.cu = entry
	}
	return entry, err
}

func (reader *Reader) NextCompileUnit() (*dwarf.Entry, error) {
	for entry, err := reader.Next(); entry != nil; entry, err = reader.Next() {
		if err != nil {
			return nil, err
		}

		if entry.Tag == dwarf.TagCompileUnit {
			return entry, nil
		}
	}

	return nil, nil
}

// NextSubprogram moves the reader to the next subprogram with code, that
// is with DW_AT_low_pc or DW_AT_ranges. Declarations and abstract
// instances of inlined functions are skipped.
func (reader *Reader) NextSubprogram() (*dwarf.Entry, error) {
	for entry, err := reader.Next(); entry != nil; entry, err = reader.Next() {
		if err != nil {
			return nil, err
		}

		if entry.Tag != dwarf.TagSubprogram {
			continue
		}
		if decl, _ := entry.Val(dwarf.AttrDeclaration).(bool); decl {
			continue
		}
		if entry.Val(dwarf.AttrLowpc) != nil || entry.Val(dwarf.AttrRanges) != nil {
			return entry, nil
		}
	}

	return nil, nil
}
