package domain

import (
	"github.com/cockroachdb/errors"
)

// Error kinds. Concrete errors are marked with one of these so callers can
// branch with errors.Is while keeping the original message and stack.
var (
	// ErrConfiguration is fatal at load time: malformed rule pattern,
	// invalid category in static config, bad settings.
	ErrConfiguration = errors.New("configuration error")

	// ErrValidation is local and recoverable: a correction or model
	// response references a category outside the taxonomy.
	ErrValidation = errors.New("validation error")

	// ErrAdapter is retryable: the generative endpoint is unreachable,
	// timed out or returned unparsable output.
	ErrAdapter = errors.New("adapter error")

	// ErrStore is fatal on init and recoverable on append.
	ErrStore = errors.New("store error")
)

func Configurationf(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrConfiguration)
}

func Validationf(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrValidation)
}

// MarkAdapter wraps err with msg and marks it as an adapter failure.
func MarkAdapter(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, msg), ErrAdapter)
}

// MarkStore wraps err with msg and marks it as a store failure.
func MarkStore(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, msg), ErrStore)
}

// MarkConfiguration wraps err with msg and marks it as a configuration failure.
func MarkConfiguration(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, msg), ErrConfiguration)
}

// IsRetryable reports whether the caller may retry the whole operation.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrAdapter)
}
