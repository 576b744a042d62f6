package aave

import (
	"errors"
	"fmt"
)

var ErrRead = errors.New("aave: read failed")

// ReadError wraps any failure inside a read sequence.
type ReadError struct {
	Op        string
	NetworkID uint64
	Err       error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("aave %s on network %d: %v", e.Op, e.NetworkID, e.Err)
}

func (e *ReadError) Unwrap() []error {
	return []error{ErrRead, e.Err}
}

func readErr(op string, networkID uint64, err error) error {
	return &ReadError{Op: op, NetworkID: networkID, Err: err}
}
