package leb128

import (
	"io"
)

// DecodeUnsigned decodes an unsigned Little Endian Base 128
// represented number. It returns the value, the number of bytes consumed
// and the error returned by buf if the encoding is truncated.
// Bits past the 64th are discarded but their bytes are still consumed.
func DecodeUnsigned(buf io.ByteReader) (uint64, uint32, error) {
	var (
		result uint64
		shift  uint
		length uint32
	)

	for {
		b, err := buf.ReadByte()
		if err != nil {
			return 0, length, err
		}
		length++

		if shift < 64 {
			result |= uint64(b&0x7f) << shift
		}

		// If high order bit is 1.
		if b&0x80 == 0 {
			break
		}

		shift += 7
	}

	return result, length, nil
}

// DecodeSigned decodes a signed Little Endian Base 128
// represented number. The result is sign extended from the number of bits
// actually read.
func DecodeSigned(buf io.ByteReader) (int64, uint32, error) {
	var (
		b      byte
		err    error
		result int64
		shift  uint
		length uint32
	)

	for {
		b, err = buf.ReadByte()
		if err != nil {
			return 0, length, err
		}
		length++

		if shift < 64 {
			result |= int64(b&0x7f) << shift
		}
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}

	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}

	return result, length, nil
}
