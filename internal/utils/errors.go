package utils

import "fmt"

// Op names the operation that produced an error, in package.Method form
// (for example "loader.LoadSeed").
type Op string

// AppError attaches the failing operation and a human-facing message to
// an underlying error, keeping the cause reachable through errors.Is and
// errors.As.
type AppError struct {
	Op  Op
	Msg string
	Err error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error { return e.Err }

// NewAppError constructs an AppError.
func NewAppError(op Op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}
