package modelcache

import (
	"errors"
	"fmt"

	"upscaled/pkg/types"
)

// UnsupportedKindError is returned for families no loader can serve.
type UnsupportedKindError struct{ Family types.ModelFamily }

func (e UnsupportedKindError) Error() string {
	return fmt.Sprintf("unsupported model kind: %q", string(e.Family))
}

// IsUnsupportedKind reports whether err is an UnsupportedKindError.
func IsUnsupportedKind(err error) bool {
	var e UnsupportedKindError
	return errors.As(err, &e)
}

// ModelLoadError wraps a loader failure (missing or unreadable weights,
// runtime unavailable).
type ModelLoadError struct {
	Key types.ModelKey
	Err error
}

func (e ModelLoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Key.Name(), e.Err)
}

func (e ModelLoadError) Unwrap() error { return e.Err }

// IsModelLoad reports whether err is a ModelLoadError.
func IsModelLoad(err error) bool {
	var e ModelLoadError
	return errors.As(err, &e)
}
