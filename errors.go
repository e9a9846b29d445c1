package topodata

import (
	"errors"
	"fmt"
)

// An InputError is returned when a request cannot be served because of its
// input: an invalid projection, or a point outside a raster or outside a
// dataset. Its message is safe to return to clients.
type InputError struct {
	Message string
}

func newInputError(format string, args ...any) *InputError {
	inputErrorsTotal.Inc()
	return &InputError{
		Message: fmt.Sprintf(format, args...),
	}
}

func (e *InputError) Error() string {
	return e.Message
}

// IsInputError returns whether err is or wraps an *InputError.
func IsInputError(err error) bool {
	var inputError *InputError
	return errors.As(err, &inputError)
}
