package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrIncomplete indicates the buffer ends before the frame does.
	// Streaming callers should read more bytes and parse again.
	ErrIncomplete = errors.New("incomplete frame")

	// ErrMalformed indicates a frame that can never become valid
	ErrMalformed = errors.New("malformed frame")

	// ErrNotString indicates a string accessor was used on a non-string value
	ErrNotString = errors.New("value is not a string")
)

// ProtocolError represents a RESP framing error
type ProtocolError struct {
	Message string
	Offset  int
	Err     error
}

// Error implements the error interface
func (e *ProtocolError) Error() string {
	if e.Offset > 0 {
		return fmt.Sprintf("protocol error at byte %d: %s", e.Offset, e.Message)
	}
	return fmt.Sprintf("protocol error: %s", e.Message)
}

// Unwrap returns the wrapped error
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func incomplete(offset int, format string, args ...interface{}) error {
	return &ProtocolError{Message: fmt.Sprintf(format, args...), Offset: offset, Err: ErrIncomplete}
}

func malformed(offset int, format string, args ...interface{}) error {
	return &ProtocolError{Message: fmt.Sprintf(format, args...), Offset: offset, Err: ErrMalformed}
}

// IsIncomplete reports whether err means more input is needed
func IsIncomplete(err error) bool {
	return errors.Is(err, ErrIncomplete)
}
