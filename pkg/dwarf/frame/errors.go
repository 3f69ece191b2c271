package frame

import (
	"errors"
	"fmt"

	"github.com/go-delve/dwarfcfa/pkg/dwarf/op"
)

// ErrUnsupportedOpcode is matched by every error caused by a call frame
// instruction opcode this package does not know, including vendor
// extensions.
var ErrUnsupportedOpcode = op.ErrUnsupportedOpcode

// ErrMalformedFrameData is matched by errors caused by instruction streams
// that decode correctly but can not be interpreted.
var ErrMalformedFrameData = errors.New("malformed frame data")

// ErrStateUnderflow is returned for a DW_CFA_restore_state without a
// matching DW_CFA_remember_state.
var ErrStateUnderflow = fmt.Errorf("%w: restore_state with empty state stack", ErrMalformedFrameData)

// ErrNoFDEForPC FDE for PC not found error
type ErrNoFDEForPC struct {
	PC uint64
}

func (err *ErrNoFDEForPC) Error() string {
	return fmt.Sprintf("could not find FDE for PC %#v", err.PC)
}

// DecodeError is returned when the instructions of a CIE or FDE can not be
// decoded or interpreted.
type DecodeError struct {
	Entry int // section offset of the CIE or FDE, -1 if unknown
	Off   int // offset of the failing instruction in its stream
	Err   error
}

func (err *DecodeError) Error() string {
	if err.Entry < 0 {
		return fmt.Sprintf("instruction at %#x: %v", err.Off, err.Err)
	}
	return fmt.Sprintf("entry at %#x, instruction at %#x: %v", err.Entry, err.Off, err.Err)
}

func (err *DecodeError) Unwrap() error {
	return err.Err
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedFrameData, fmt.Sprintf(format, args...))
}
