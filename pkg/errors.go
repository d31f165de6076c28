package coincidences

import (
	"errors"
	"fmt"
)

var (
	ErrFitFailed            = errors.New("exponential fit did not converge")
	ErrInvalidAxis          = errors.New("invalid histogram axis")
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// ErrOpenFile represents an error when opening a file.
type ErrOpenFile struct {
	Filename string
	Err      error
}

func (e *ErrOpenFile) Error() string {
	return fmt.Sprintf("error opening file %q: %v", e.Filename, e.Err)
}

func (e *ErrOpenFile) Unwrap() error {
	return e.Err
}

// ErrCreateGroup represents an error when creating a group.
type ErrCreateGroup struct {
	GroupName string
	Err       error
}

func (e *ErrCreateGroup) Error() string {
	return fmt.Sprintf("error creating group %q: %v", e.GroupName, e.Err)
}

func (e *ErrCreateGroup) Unwrap() error {
	return e.Err
}

// ErrCreateTable represents an error when creating a table or dataset.
type ErrCreateTable struct {
	TableName string
	Err       error
}

func (e *ErrCreateTable) Error() string {
	return fmt.Sprintf("error creating table %q: %v", e.TableName, e.Err)
}

func (e *ErrCreateTable) Unwrap() error {
	return e.Err
}

// ErrMalformedRecord is returned when fewer than EventSize bytes are left to
// decode. Readers treat it as the end of the stream.
type ErrMalformedRecord struct {
	Remaining int
}

func (e *ErrMalformedRecord) Error() string {
	return fmt.Sprintf("malformed record: %d bytes left, %d needed", e.Remaining, EventSize)
}

// ErrMalformedBatch is returned when a batch does not hold a whole number of
// records.
type ErrMalformedBatch struct {
	Batch int
	Size  int
}

func (e *ErrMalformedBatch) Error() string {
	return fmt.Sprintf("malformed batch %d: size %d is not a multiple of %d", e.Batch, e.Size, EventSize)
}
