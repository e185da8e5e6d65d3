package repositories

import "fmt"

// Error is a RepositoryError for stores that are not backed by Firestore.
type Error struct {
	Op          string
	Err         error
	NotFound    bool
	Conflict    bool
	Unavailable bool
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Err != nil && e.Op != "":
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Op
	}
}

func (e *Error) Unwrap() error       { return e.Err }
func (e *Error) IsNotFound() bool    { return e != nil && e.NotFound }
func (e *Error) IsConflict() bool    { return e != nil && e.Conflict }
func (e *Error) IsUnavailable() bool { return e != nil && e.Unavailable }

// NewNotFoundError reports a missing record.
func NewNotFoundError(op string) *Error {
	return &Error{Op: op, Err: fmt.Errorf("not found"), NotFound: true}
}

// NewConflictError reports a concurrent modification or duplicate record.
func NewConflictError(op string) *Error {
	return &Error{Op: op, Err: fmt.Errorf("conflict"), Conflict: true}
}

// NewUnavailableError reports a transient backend failure.
func NewUnavailableError(op string, err error) *Error {
	return &Error{Op: op, Err: err, Unavailable: true}
}

var _ RepositoryError = (*Error)(nil)
