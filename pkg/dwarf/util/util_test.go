package util

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/go-delve/dwarfcfa/pkg/dwarf/leb128"
)

func TestCursorFixedWidth(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		c := NewCursor(data, order)
		x16, err := c.Uint16()
		if err != nil {
			t.Fatal(err)
		}
		x32, err := c.Uint32()
		if err != nil {
			t.Fatal(err)
		}
		if x16 != order.Uint16(data) || x32 != order.Uint32(data[2:]) {
			t.Fatalf("%v: got %#x %#x", order, x16, x32)
		}
		if c.Off() != 6 || c.Len() != 2 {
			t.Fatalf("%v: wrong position %d/%d", order, c.Off(), c.Len())
		}
	}
}

func TestCursorAddr(t *testing.T) {
	data := []byte{0x10, 0x20, 0x30, 0x40, 0x50, 0x60, 0x70, 0x80}
	tests := []struct {
		size  int
		order binary.ByteOrder
		want  uint64
	}{
		{4, binary.LittleEndian, 0x40302010},
		{4, binary.BigEndian, 0x10203040},
		{8, binary.LittleEndian, 0x8070605040302010},
		{8, binary.BigEndian, 0x1020304050607080},
	}
	for _, tc := range tests {
		c := NewCursor(data, tc.order)
		got, err := c.Addr(tc.size)
		if err != nil {
			t.Fatal(err)
		}
		if got != tc.want {
			t.Errorf("Addr(%d) %v: expected %#x, got %#x", tc.size, tc.order, tc.want, got)
		}
	}
	if _, err := NewCursor(data, binary.LittleEndian).Addr(2); err == nil {
		t.Fatal("expected error for address size 2")
	}
}

func TestCursorBounds(t *testing.T) {
	c := NewCursor([]byte{1, 2, 3}, binary.LittleEndian)
	if _, err := c.Uint32(); !errors.Is(err, ErrBounds) {
		t.Fatalf("expected bounds error, got %v", err)
	}
	if c.Off() != 0 {
		t.Fatalf("failed read moved the cursor to %d", c.Off())
	}
	if _, err := c.Bytes(3); err != nil {
		t.Fatal(err)
	}
	if !c.Done() {
		t.Fatal("expected cursor to be done")
	}
	var berr *BoundsError
	if _, err := c.ReadByte(); !errors.As(err, &berr) || berr.Off != 3 || berr.Len != 3 {
		t.Fatalf("expected BoundsError at offset 3, got %v", err)
	}
}

func TestCursorLEB128(t *testing.T) {
	var buf bytes.Buffer
	leb128.EncodeUnsigned(&buf, 624485)
	leb128.EncodeSigned(&buf, -624485)
	c := NewCursor(buf.Bytes(), binary.LittleEndian)
	u, err := c.ULEB128()
	if err != nil || u != 624485 {
		t.Fatalf("ULEB128: got %d %v", u, err)
	}
	s, err := c.SLEB128()
	if err != nil || s != -624485 {
		t.Fatalf("SLEB128: got %d %v", s, err)
	}

	c = NewCursor([]byte{0x80, 0x80}, binary.LittleEndian)
	if _, err := c.ULEB128(); !errors.Is(err, ErrBounds) {
		t.Fatalf("expected bounds error, got %v", err)
	}
	if c.Off() != 0 {
		t.Fatalf("truncated LEB128 moved the cursor to %d", c.Off())
	}
}

func TestCursorCString(t *testing.T) {
	c := NewCursor([]byte{'h', 'i', 0x0, 0xFF, 0xCC}, binary.LittleEndian)
	str, err := c.CString()
	if err != nil {
		t.Fatal(err)
	}
	if str != "hi" || c.Off() != 3 {
		t.Fatalf("String was not parsed correctly %#v", str)
	}
	if _, err := c.CString(); err == nil {
		t.Fatal("expected error for unterminated string")
	}
}

func TestParseString(t *testing.T) {
	bstr := bytes.NewBuffer([]byte{'h', 'i', 0x0, 0xFF, 0xCC})
	str, _, err := ParseString(bstr)
	if err != nil {
		t.Fatal(err)
	}

	if str != "hi" {
		t.Fatalf("String was not parsed correctly %#v", str)
	}
}

func TestReadDwarfLengthVersion(t *testing.T) {
	le := []byte{0x20, 0, 0, 0, 5, 0}
	length, dwarf64, version, order := ReadDwarfLengthVersion(le)
	if length != 0x20 || dwarf64 || version != 5 || order != binary.LittleEndian {
		t.Fatalf("got %d %v %d %v", length, dwarf64, version, order)
	}
	be := []byte{0, 0, 0, 0x20, 0, 4}
	length, _, version, order = ReadDwarfLengthVersion(be)
	if length != 0x20 || version != 4 || order != binary.BigEndian {
		t.Fatalf("got %d %d %v", length, version, order)
	}
}
