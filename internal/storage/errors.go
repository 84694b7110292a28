package storage

import "errors"

// Sentinel errors for the storage layer.
// HTTP handlers should use errors.Is() to map these to appropriate HTTP status codes.
var (
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates the operation conflicts with existing state
	// (e.g., a duplicate task id).
	ErrConflict = errors.New("conflict")

	// ErrValidation indicates the input failed validation
	// (e.g., an empty spec id or an invalid document name).
	ErrValidation = errors.New("validation error")
)

// Error is returned by every sink write. Op names the failed operation.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap returns err as a *Error tagged with op, or nil if err is nil.
// An existing *Error keeps its original op.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Err: err}
}
