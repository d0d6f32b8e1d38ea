package inference

import (
	"context"
	"errors"

	"upscaled/internal/blob"
	"upscaled/internal/enhance"
	"upscaled/internal/modelcache"
	"upscaled/pkg/types"
)

// ValidationError rejects a malformed invocation (HTTP 400).
type ValidationError struct{ msg string }

func (e ValidationError) Error() string { return e.msg }

// StatusCode lets the HTTP layer map the error without importing this package.
func (e ValidationError) StatusCode() int { return 400 }

func errValidation(msg string) error { return ValidationError{msg: msg} }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v ValidationError
	return errors.As(err, &v)
}

// kindOf classifies an item error. Typed component errors are checked
// before context errors because timeouts inside inference wrap
// context.DeadlineExceeded.
func kindOf(err error) types.ErrorKind {
	switch {
	case err == nil:
		return types.KindNone
	case IsValidation(err):
		return types.KindInvalidRequest
	case modelcache.IsUnsupportedKind(err):
		return types.KindUnsupportedModel
	case modelcache.IsModelLoad(err):
		return types.KindModelLoad
	case blob.IsTransferError(err):
		return types.KindTransfer
	case enhance.IsDecodeError(err):
		return types.KindDecode
	case enhance.IsResourceExhausted(err):
		return types.KindResourceExhausted
	case enhance.IsInferenceError(err):
		return types.KindInference
	case enhance.IsEncodeError(err):
		return types.KindEncode
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return types.KindCanceled
	default:
		return types.KindInternal
	}
}
