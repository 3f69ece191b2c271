package util

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/go-delve/dwarfcfa/pkg/dwarf/leb128"
)

// ErrBounds is returned, wrapped in a *BoundsError, by every read that would
// cross the end of the data a Cursor was created over.
var ErrBounds = errors.New("read past end of data")

// BoundsError describes a read of Size bytes at offset Off of a buffer of
// Len bytes.
type BoundsError struct {
	Off  int
	Size int
	Len  int
}

func (err *BoundsError) Error() string {
	return fmt.Sprintf("read of %d bytes at offset %#x exceeds limit %#x", err.Size, err.Off, err.Len)
}

func (err *BoundsError) Unwrap() error {
	return ErrBounds
}

// Cursor reads fixed and variable length integers from an immutable byte
// slice. The offset only moves forward and never passes the end of the
// data: a read that does not fit fails with a *BoundsError and leaves the
// cursor where it was.
type Cursor struct {
	data  []byte
	off   int
	order binary.ByteOrder
}

// NewCursor returns a cursor positioned at the start of data.
func NewCursor(data []byte, order binary.ByteOrder) *Cursor {
	return &Cursor{data: data, order: order}
}

// Off returns the number of bytes consumed so far.
func (c *Cursor) Off() int { return c.off }

// Len returns the number of unread bytes.
func (c *Cursor) Len() int { return len(c.data) - c.off }

// Done reports whether every byte has been consumed.
func (c *Cursor) Done() bool { return c.off >= len(c.data) }

// ByteOrder returns the byte order used for fixed width reads.
func (c *Cursor) ByteOrder() binary.ByteOrder { return c.order }

func (c *Cursor) next(n int) ([]byte, error) {
	if n < 0 || n > len(c.data)-c.off {
		return nil, &BoundsError{Off: c.off, Size: n, Len: len(c.data)}
	}
	b := c.data[c.off : c.off+n]
	c.off += n
	return b, nil
}

// ReadByte implements io.ByteReader.
func (c *Cursor) ReadByte() (byte, error) {
	if c.off >= len(c.data) {
		return 0, &BoundsError{Off: c.off, Size: 1, Len: len(c.data)}
	}
	b := c.data[c.off]
	c.off++
	return b, nil
}

func (c *Cursor) Uint8() (uint8, error) {
	return c.ReadByte()
}

func (c *Cursor) Uint16() (uint16, error) {
	b, err := c.next(2)
	if err != nil {
		return 0, err
	}
	return c.order.Uint16(b), nil
}

func (c *Cursor) Uint32() (uint32, error) {
	b, err := c.next(4)
	if err != nil {
		return 0, err
	}
	return c.order.Uint32(b), nil
}

func (c *Cursor) Uint64() (uint64, error) {
	b, err := c.next(8)
	if err != nil {
		return 0, err
	}
	return c.order.Uint64(b), nil
}

// Addr reads an address of size bytes, size must be 4 or 8.
func (c *Cursor) Addr(size int) (uint64, error) {
	switch size {
	case 4:
		n, err := c.Uint32()
		return uint64(n), err
	case 8:
		return c.Uint64()
	}
	return 0, fmt.Errorf("unsupported address size %d", size)
}

// ULEB128 reads an unsigned LEB128 number. On a truncated encoding the
// cursor is left at the start of the number.
func (c *Cursor) ULEB128() (uint64, error) {
	start := c.off
	n, _, err := leb128.DecodeUnsigned(c)
	if err != nil {
		c.off = start
		return 0, &BoundsError{Off: start, Size: len(c.data) - start + 1, Len: len(c.data)}
	}
	return n, nil
}

// SLEB128 reads a signed LEB128 number.
func (c *Cursor) SLEB128() (int64, error) {
	start := c.off
	n, _, err := leb128.DecodeSigned(c)
	if err != nil {
		c.off = start
		return 0, &BoundsError{Off: start, Size: len(c.data) - start + 1, Len: len(c.data)}
	}
	return n, nil
}

// Bytes returns the next n bytes without copying them.
func (c *Cursor) Bytes(n uint64) ([]byte, error) {
	if n > uint64(len(c.data)-c.off) {
		return nil, &BoundsError{Off: c.off, Size: int(n), Len: len(c.data)}
	}
	return c.next(int(n))
}

// Skip discards the next n bytes.
func (c *Cursor) Skip(n uint64) error {
	_, err := c.Bytes(n)
	return err
}

// CString reads a NUL terminated string, the terminator is discarded.
func (c *Cursor) CString() (string, error) {
	for i := c.off; i < len(c.data); i++ {
		if c.data[i] == 0 {
			s := string(c.data[c.off:i])
			c.off = i + 1
			return s, nil
		}
	}
	return "", &BoundsError{Off: c.off, Size: len(c.data) - c.off + 1, Len: len(c.data)}
}
