package audit

import "errors"

// Domain-specific errors for the diagnostic log.
var (
	// ErrEmptyMessage is returned when an entry carries no message.
	ErrEmptyMessage = errors.New("audit: empty message")

	// ErrNoPath is returned when a file sink is created without a path.
	ErrNoPath = errors.New("audit: no diagnostic file path")
)
