package ads

import "errors"

var (
	// ErrNotFound is returned by a CacheStore when no record exists for a week.
	ErrNotFound = errors.New("weekly record not found")
	// ErrAlreadyExists reports that a first-writer-wins write lost the race. Callers treat it as success.
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidWeek is returned when a week key is malformed, not a Saturday, or in the future.
	ErrInvalidWeek = errors.New("invalid week")
	// ErrRendererDisabled is returned by the noop renderer.
	ErrRendererDisabled = errors.New("headless rendering disabled")
	// ErrQueueFull is returned by a non-blocking enqueue on a full fill queue.
	ErrQueueFull = errors.New("fill queue full")
	// ErrQueueClosed is returned once a fill queue has been closed.
	ErrQueueClosed = errors.New("fill queue closed")
)
