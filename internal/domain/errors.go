package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceNotFound is returned when a device credential does not resolve to a device.
	ErrDeviceNotFound = errors.New("device credential is not recognised")
	// ErrSchoolNotFound is returned when a recognition key does not resolve to a school.
	ErrSchoolNotFound = errors.New("recognition_key does not match a school")
	// ErrStudentNotFound is returned when no student matches the roster coordinates.
	ErrStudentNotFound = errors.New("student not found")
	// ErrUnavailable wraps failures of the relational or object store.
	ErrUnavailable = errors.New("dependency unavailable")
)

// ValidationError describes the first invalid field found in a submission.
// Index is the item position within a batch, or -1 for single submissions.
type ValidationError struct {
	Index   int
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("items[%d]: %s", e.Index, e.Message)
	}
	return e.Message
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}
