package attr

import (
	"errors"
	"fmt"
)

var (
	// ErrMissing is returned when a requested attribute does not exist.
	ErrMissing = errors.New("attribute missing")
	// ErrType is returned when the stored type differs from the requested one.
	ErrType = errors.New("attribute type mismatch")
	// ErrWrite is returned for any failed attribute write.
	ErrWrite = errors.New("attribute write failed")
	// ErrReadOnly is returned when writing to a scope opened read-only.
	ErrReadOnly = fmt.Errorf("%w: scope is read-only", ErrWrite)
	// ErrCorrupt is returned when no valid attribute table can be decoded.
	ErrCorrupt = errors.New("attribute table corrupt")
)

// Error describes a failed attribute operation.
type Error struct {
	Op    string // "read" or "write"
	Scope Scope
	Name  string
	Err   error
}

func (e *Error) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("attr %s %s: %v", e.Op, e.Scope, e.Err)
	}
	return fmt.Sprintf("attr %s %s/%s: %v", e.Op, e.Scope, e.Name, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
