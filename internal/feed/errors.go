package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidInput is returned before any store call when arguments are unusable.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidCursor indicates a pagination token that was not issued by GetFeed.
	ErrInvalidCursor = fmt.Errorf("%w: malformed cursor", ErrInvalidInput)

	// ErrTransient marks store failures that are safe to retry (throttling,
	// timeouts). Store implementations wrap their errors with it.
	ErrTransient = errors.New("transient store error")

	// ErrBatchTooLarge is returned by stores when a batch exceeds the write limit.
	ErrBatchTooLarge = errors.New("batch exceeds store write limit")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func validateID(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return invalidf("%s is required", field)
	}
	if len(id) > maxIDLength {
		return invalidf("%s exceeds %d bytes", field, maxIDLength)
	}
	return nil
}

// isRetryable reports whether a store call error may be retried. A per-call
// deadline counts as transient while the caller's own context is still alive.
func isRetryable(parent context.Context, err error) bool {
	if errors.Is(err, ErrTransient) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil
}
