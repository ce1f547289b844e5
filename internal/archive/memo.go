package archive

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/adsnap/internal/ads"
	"github.com/JakeFAU/adsnap/internal/metrics"
)

// Memoized wraps a Resolver with a snapshot memo keyed by site, target day and window.
// Only successful resolutions with a capture are stored, so failures and empty windows
// are always retried.
type Memoized struct {
	next   ads.Resolver
	memo   ads.Memo
	logger *zap.Logger
}

// NewMemoized returns next unchanged when memo is nil.
func NewMemoized(next ads.Resolver, memo ads.Memo, logger *zap.Logger) ads.Resolver {
	if memo == nil {
		return next
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Memoized{next: next, memo: memo, logger: logger.Named("archive_memo")}
}

// MemoKey identifies a resolution independent of its display label.
func MemoKey(site string, target time.Time, windowDays int) string {
	return site + ":" + target.UTC().Format(ads.ArchiveDayLayout) + ":" + strconv.Itoa(windowDays)
}

// Resolve serves from the memo when possible and records cacheable results.
func (m *Memoized) Resolve(
	ctx context.Context,
	site string,
	target time.Time,
	label string,
	windowDays int,
) ads.Snapshot {
	key := MemoKey(site, target, windowDays)
	snap, ok, err := m.memo.Get(ctx, key)
	switch {
	case err != nil:
		m.logger.Warn("memo get failed", zap.String("key", key), zap.Error(err))
	case ok && snap.HasArchive():
		metrics.ObserveMemoHit(site)
		snap.Label = label
		snap.Error = nil
		snap.ScreenshotURL = nil
		return snap
	}

	snap = m.next.Resolve(ctx, site, target, label, windowDays)
	if snap.Error != nil || !snap.HasArchive() {
		return snap
	}
	stored := snap
	stored.ScreenshotURL = nil
	if err := m.memo.Set(ctx, key, stored); err != nil {
		m.logger.Warn("memo set failed", zap.String("key", key), zap.Error(err))
	}
	return snap
}
