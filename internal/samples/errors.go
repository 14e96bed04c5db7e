package samples

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is matched when a sample or artifact file does not exist.
	ErrNotFound = errors.New("sample file not found")
	// ErrFormat is matched when a file has the wrong shape, dtype or modulus.
	ErrFormat = errors.New("malformed sample file")
	// ErrRange is matched when a value lies outside [0, q) or a slice is out of bounds.
	ErrRange = errors.New("sample value out of range")
)

// NotFoundError reports a missing input file.
type NotFoundError struct {
	Path  string
	cause error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("sample file not found: %s", e.Path)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func (e *NotFoundError) Unwrap() error { return e.cause }

// FormatError reports a structurally invalid input file.
type FormatError struct {
	Path   string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed sample file %s: %s", e.Path, e.Reason)
}

func (e *FormatError) Is(target error) bool { return target == ErrFormat }

// RangeError reports a value outside [0, q). Index is the flat element index.
type RangeError struct {
	Path  string
	Index int
	Value int64
	Q     uint64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("value %d at element %d of %s is outside [0, %d)", e.Value, e.Index, e.Path, e.Q)
}

func (e *RangeError) Is(target error) bool { return target == ErrRange }
