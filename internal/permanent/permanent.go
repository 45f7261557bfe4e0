package permanent

import "errors"

// Error marks delivery failures that are not retryable.
// Params: wrapped root cause and optional remote status code.
// Returns: typed permanent error marker.
type Error struct {
	Err    error
	Status int
}

// Error returns wrapped error message.
func (e Error) Error() string {
	if e.Err == nil {
		return "permanent error"
	}
	return e.Err.Error()
}

// Unwrap exposes wrapped cause for errors.Is/errors.As.
func (e Error) Unwrap() error {
	return e.Err
}

// Permanent marks error as non-retryable.
func (Error) Permanent() bool {
	return true
}

// Mark wraps error with permanent marker.
// Params: source error.
// Returns: wrapped error or nil.
func Mark(err error) error {
	if err == nil {
		return nil
	}
	return Error{Err: err}
}

// MarkStatus wraps error with permanent marker and remote status code.
// Params: source error and HTTP-like status.
// Returns: wrapped error or nil.
func MarkStatus(err error, status int) error {
	if err == nil {
		return nil
	}
	return Error{Err: err, Status: status}
}

// Is reports whether error has permanent marker.
// Params: candidate error.
// Returns: true when non-retryable marker is present.
func Is(err error) bool {
	if err == nil {
		return false
	}
	type marker interface {
		Permanent() bool
	}
	var tagged marker
	if !errors.As(err, &tagged) {
		return false
	}
	return tagged.Permanent()
}

// Status extracts remote status code from a permanent error.
// Params: candidate error.
// Returns: status and true when error carries one.
func Status(err error) (int, bool) {
	var tagged Error
	if !errors.As(err, &tagged) || tagged.Status == 0 {
		return 0, false
	}
	return tagged.Status, true
}

// IsClientStatus reports whether status code is a non-retryable 4xx.
// Params: HTTP status code.
// Returns: true for 4xx except 408 and 429.
func IsClientStatus(status int) bool {
	if status == 408 || status == 429 {
		return false
	}
	return status >= 400 && status < 500
}
