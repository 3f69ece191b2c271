package dwarf

import (
	"debug/elf"
	"fmt"
	"strings"

	"github.com/go-delve/dwarfcfa/pkg/dwarf/godwarf"
)

// Open reads the ELF executable at path.
func Open(path string) (*Image, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	img, err := newFromELF(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	img.closer = f
	return img, nil
}

func newFromELF(f *elf.File) (*Image, error) {
	secs := &Sections{}
	for _, sec := range []struct {
		name string
		dst  *[]byte
	}{
		{"abbrev", &secs.Abbrev},
		{"info", &secs.Info},
		{"str", &secs.Str},
		{"line", &secs.Line},
		{"ranges", &secs.Ranges},
		{"addr", &secs.Addr},
		{"loclists", &secs.LocLists},
		{"rnglists", &secs.RngLists},
		{"str_offsets", &secs.StrOffsets},
		{"line_str", &secs.LineStr},
		{"loc", &secs.Loc},
		{"frame", &secs.Frame},
	} {
		data, err := godwarf.GetDebugSectionElf(f, sec.name)
		if err != nil {
			return nil, fmt.Errorf("could not get .debug_%s section: %v", sec.name, err)
		}
		*sec.dst = data
	}

	if sec := f.Section(".eh_frame"); sec != nil && sec.Type != elf.SHT_NOBITS {
		data, err := sec.Data()
		if err != nil {
			return nil, fmt.Errorf("could not get .eh_frame section: %v", err)
		}
		secs.EHFrame, secs.EHFrameAddr = data, sec.Addr
	}
	if sec := f.Section(".text"); sec != nil && sec.Type != elf.SHT_NOBITS {
		data, err := sec.Data()
		if err != nil {
			return nil, fmt.Errorf("could not get .text section: %v", err)
		}
		secs.Text, secs.TextAddr = data, sec.Addr
	}
	if len(secs.Frame) == 0 && len(secs.EHFrame) == 0 {
		return nil, fmt.Errorf("no .debug_frame or .eh_frame section")
	}

	ptrSize := 8
	if f.Class == elf.ELFCLASS32 {
		ptrSize = 4
	}
	return New(archName(f.Machine), f.ByteOrder, ptrSize, secs)
}

func archName(m elf.Machine) string {
	switch m {
	case elf.EM_X86_64:
		return "amd64"
	case elf.EM_AARCH64:
		return "arm64"
	case elf.EM_386:
		return "386"
	}
	return strings.ToLower(strings.TrimPrefix(m.String(), "EM_"))
}
