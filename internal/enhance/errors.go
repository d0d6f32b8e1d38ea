package enhance

import (
	"errors"
	"fmt"
)

// ErrNoModel is returned when the model required by the options was not
// supplied in the ModelSet.
var ErrNoModel = errors.New("no model for requested options")

// DecodeError means the source file is missing or not a readable image.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode %s: %v", e.Path, e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError means the result could not be written to the destination.
type EncodeError struct {
	Path string
	Err  error
}

func (e *EncodeError) Error() string { return fmt.Sprintf("encode %s: %v", e.Path, e.Err) }
func (e *EncodeError) Unwrap() error { return e.Err }

// InferenceError wraps a model execution failure. ResourceExhausted is set
// for out-of-memory conditions.
type InferenceError struct {
	Model             string
	Err               error
	ResourceExhausted bool
}

func (e *InferenceError) Error() string {
	if e.ResourceExhausted {
		return fmt.Sprintf("inference %s: resource exhausted: %v", e.Model, e.Err)
	}
	return fmt.Sprintf("inference %s: %v", e.Model, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

func IsDecodeError(err error) bool {
	var e *DecodeError
	return errors.As(err, &e)
}

func IsEncodeError(err error) bool {
	var e *EncodeError
	return errors.As(err, &e)
}

func IsInferenceError(err error) bool {
	var e *InferenceError
	return errors.As(err, &e)
}

// IsResourceExhausted reports whether err is an out-of-memory InferenceError.
func IsResourceExhausted(err error) bool {
	var e *InferenceError
	return errors.As(err, &e) && e.ResourceExhausted
}
