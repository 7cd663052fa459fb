package errors

import (
	baseErrors "errors"
)

// Is reports whether any error in err's chain matches target. Thin wrapper
// around the standard library so callers only import one errors package.
func Is(err, target error) bool {
	return baseErrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return baseErrors.As(err, target)
}

// Unwrap returns the result of calling the Unwrap method on err.
func Unwrap(err error) error {
	return baseErrors.Unwrap(err)
}

// Join returns an error that wraps the given errors.
func Join(errs ...error) error {
	return baseErrors.Join(errs...)
}
