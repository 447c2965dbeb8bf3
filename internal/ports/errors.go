package ports

import "errors"

// Common errors shared across adapters and services.
var (
	// ErrNotFound is returned by Bus and DurableStore lookups for missing
	// keys or documents.
	ErrNotFound = errors.New("not found")

	// ErrGenerationInProgress is surfaced by respond() when the concurrency
	// guard rejects a second concurrent turn for the same conversation.
	ErrGenerationInProgress = errors.New("a generation is already in progress for this conversation")

	// ErrToolNotFound is returned by the tool registry when no registered
	// server exposes the requested tool.
	ErrToolNotFound = errors.New("tool not found")

	// ErrNoStreamState is returned when subscribing to a message that has no
	// generation state.
	ErrNoStreamState = errors.New("no generation state for message")

	// ErrEmptyContent rejects blank message stores.
	ErrEmptyContent = errors.New("content cannot be empty")
)
