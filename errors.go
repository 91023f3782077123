package texstream

import (
	"errors"
	"fmt"
)

// Pipeline errors.
var (
	// ErrPoolStopped is returned instead of blocking once the streamer is
	// closing.
	ErrPoolStopped = errors.New("texstream: pool stopped")

	// ErrInvalidTransfer is wrapped by every TransferError. Invalid
	// transfers are rejected at Submit and never enter the pipeline.
	ErrInvalidTransfer = errors.New("texstream: invalid transfer parameters")

	// ErrDeviceError is wrapped by every DeviceError.
	ErrDeviceError = errors.New("texstream: device error")

	// ErrInvalidSlot is returned for slot ids outside the pool.
	ErrInvalidSlot = errors.New("texstream: invalid slot id")

	// ErrTokenFailed is the cause recorded when a completion token polls
	// as device.Error.
	ErrTokenFailed = errors.New("texstream: completion token failed")
)

// Device operations named in DeviceError.
const (
	OpCommit = "commit"
	OpCopy   = "copy"
	OpToken  = "create-token"
	OpPoll   = "poll"
	OpDecode = "decode"
)

// TransferError describes why Submit rejected transfer parameters.
type TransferError struct {
	// Field is the TransferParams field at fault.
	Field string

	// Reason says what is wrong with it.
	Reason string
}

// Error implements the error interface.
func (e *TransferError) Error() string {
	return fmt.Sprintf("texstream: invalid transfer parameters: %s: %s", e.Field, e.Reason)
}

// Unwrap returns ErrInvalidTransfer.
func (e *TransferError) Unwrap() error { return ErrInvalidTransfer }

// invalid builds a TransferError with a formatted reason.
func invalid(field, format string, args ...any) error {
	return &TransferError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// DeviceError is a failure of one slot's transfer, reported by Drive after
// the slot was recycled.
type DeviceError struct {
	// Slot is the slot whose transfer failed.
	Slot SlotID

	// Op is the failing operation (OpCommit, OpCopy, ...).
	Op string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *DeviceError) Error() string {
	return fmt.Sprintf("texstream: slot %d: %s: %v", e.Slot, e.Op, e.Err)
}

// Unwrap returns both ErrDeviceError and the cause so errors.Is matches
// either.
func (e *DeviceError) Unwrap() []error { return []error{ErrDeviceError, e.Err} }
