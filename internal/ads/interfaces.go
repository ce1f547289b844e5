package ads

import (
	"context"
	"time"
)

// Resolver finds the archive capture closest to target. Failures are reported through
// Snapshot.Error, never as a Go error.
type Resolver interface {
	Resolve(ctx context.Context, url string, target time.Time, label string, windowDays int) Snapshot
}

// CacheStore persists one record per week-ending key.
type CacheStore interface {
	// Get returns ErrNotFound when no record exists.
	Get(ctx context.Context, weekKey string) (WeeklyRecord, error)
	// Put inserts the record only if absent, returning ErrAlreadyExists otherwise.
	Put(ctx context.Context, weekKey string, data Response) error
	// MergeScreenshots sets screenshot URLs following the ApplyScreenshots rule.
	MergeScreenshots(ctx context.Context, weekKey string, updates []ScreenshotUpdate) error
	// Recent lists up to limit records, newest week first.
	Recent(ctx context.Context, limit int) ([]WeeklyRecord, error)
	Ping(ctx context.Context) error
}

// BlobStore writes immutable artifacts and returns their public URL. An existing
// object yields its URL together with ErrAlreadyExists.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Fetcher performs a plain HTTP GET.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Renderer opens browser sessions for screenshot capture.
type Renderer interface {
	Open(ctx context.Context) (BrowserSession, error)
}

// BrowserSession is one browser process shared by every item of a fill run.
// Screenshot opens an isolated tab per call and is safe for concurrent use.
type BrowserSession interface {
	Screenshot(ctx context.Context, url string) ([]byte, error)
	Close() error
}

// Memo caches resolved snapshots by key.
type Memo interface {
	Get(ctx context.Context, key string) (Snapshot, bool, error)
	Set(ctx context.Context, key string, snap Snapshot) error
}

// Publisher pushes fill completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// FillQueue carries fill tasks from request handlers to the worker pool.
type FillQueue interface {
	Enqueue(ctx context.Context, task FillTask) error
	// TryEnqueue never blocks; it returns ErrQueueFull when there is no room.
	TryEnqueue(task FillTask) error
	Dequeue(ctx context.Context) (FillTask, error)
}

// FillScheduler hands a week off to the background fill pool without blocking.
// It reports whether the task was accepted.
type FillScheduler interface {
	Schedule(weekKey string, data Response) bool
}

// Hasher computes digests for response validators.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run and request IDs.
type IDGenerator interface {
	NewID() (string, error)
}
