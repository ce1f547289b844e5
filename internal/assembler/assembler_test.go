package assembler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/adsnap/internal/ads"
	"github.com/JakeFAU/adsnap/internal/clock/system"
)

type fakeResolver struct {
	mu       sync.Mutex
	calls    []string
	inFlight atomic.Int32
	peak     atomic.Int32
	gate     chan struct{}
	resolve  func(url string, target time.Time, label string) ads.Snapshot
}

func (f *fakeResolver) Resolve(_ context.Context, url string, target time.Time, label string, windowDays int) ads.Snapshot {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	f.mu.Lock()
	f.calls = append(f.calls, fmt.Sprintf("%s@%s/%d", url, target.Format(ads.ArchiveDayLayout), windowDays))
	f.mu.Unlock()
	if f.gate != nil {
		<-f.gate
	}
	return f.resolve(url, target, label)
}

func found(url string, target time.Time, label string) ads.Snapshot {
	ts := ads.FormatArchiveTimestamp(target)
	return ads.Snapshot{
		ArchiveURL: ads.StringPtr("https://web.archive.org/web/" + ts + "/" + url),
		Timestamp:  ads.StringPtr(ts),
		Date:       ads.StringPtr(ads.CaptureDateLabel(ts)),
		Label:      label,
	}
}

var (
	weekEnd     = time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC)
	generatedAt = time.Date(2026, 2, 16, 10, 0, 0, 0, time.UTC)
)

func newTestAssembler(t *testing.T, resolver ads.Resolver) *Assembler {
	t.Helper()
	a, err := New(Config{}, resolver, system.NewFixed(generatedAt), zap.NewNop())
	require.NoError(t, err)
	return a
}

func TestAssembleTargetsAndOrder(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{resolve: found}
	resp := newTestAssembler(t, resolver).Assemble(context.Background(), weekEnd)

	require.Equal(t, "2026-02-14", resp.WeekEnd)
	require.Equal(t, "Feb 11, 2026", resp.PrevWeekLabel)
	require.Equal(t, "Feb 12, 2025", resp.LastYearLabel)
	require.Equal(t, generatedAt, resp.GeneratedAt)
	require.Len(t, resp.Retailers, 5)

	for i, retailer := range ads.DefaultRetailers() {
		entry := resp.Retailers[i]
		require.Equal(t, retailer.ID, entry.ID)
		require.Equal(t, retailer.DirectURL, entry.DirectURL)
		require.Equal(t, "20260211120000", *entry.PrevWeek.Timestamp)
		require.Equal(t, "20250212120000", *entry.LastYear.Timestamp)
		require.Equal(t, resp.PrevWeekLabel, entry.PrevWeek.Label)
		require.Equal(t, resp.LastYearLabel, entry.LastYear.Label)
	}

	require.Len(t, resolver.calls, 10)
	require.Contains(t, resolver.calls, "www.cvs.com/shop@20260211/5")
	require.Contains(t, resolver.calls, "www.kroger.com@20250212/5")
}

func TestAssembleRunsAllLookupsConcurrently(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{resolve: found, gate: make(chan struct{})}
	a := newTestAssembler(t, resolver)
	done := make(chan ads.Response, 1)
	go func() {
		done <- a.Assemble(context.Background(), weekEnd)
	}()

	require.Eventually(t, func() bool {
		return resolver.inFlight.Load() == 10
	}, time.Second, 5*time.Millisecond)
	close(resolver.gate)

	select {
	case resp := <-done:
		require.Len(t, resp.Retailers, 5)
	case <-time.After(time.Second):
		t.Fatal("assemble did not finish")
	}
	require.Equal(t, int32(10), resolver.peak.Load())
}

func TestAssembleIsolatesPartialFailure(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{resolve: func(url string, target time.Time, label string) ads.Snapshot {
		if url == "www.walmart.com" {
			panic("index exploded")
		}
		return found(url, target, label)
	}}
	resp := newTestAssembler(t, resolver).Assemble(context.Background(), weekEnd)

	for i, entry := range resp.Retailers {
		if i == 2 {
			for _, snap := range []ads.Snapshot{entry.PrevWeek, entry.LastYear} {
				require.Nil(t, snap.ArchiveURL)
				require.Nil(t, snap.Timestamp)
				require.Nil(t, snap.Date)
				require.NotNil(t, snap.Error)
				require.Equal(t, RequestFailed, *snap.Error)
			}
			require.Equal(t, "Feb 11, 2026", entry.PrevWeek.Label)
			require.Equal(t, "walmart", entry.ID)
			continue
		}
		require.NotNil(t, entry.PrevWeek.ArchiveURL, entry.ID)
		require.NotNil(t, entry.LastYear.ArchiveURL, entry.ID)
		require.Nil(t, entry.PrevWeek.Error)
	}
}

func TestAssembleKeepsResolverErrors(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{resolve: func(_ string, _ time.Time, label string) ads.Snapshot {
		return ads.FailedSnapshot(label, "archive index returned status 503")
	}}
	resp := newTestAssembler(t, resolver).Assemble(context.Background(), weekEnd)
	require.Equal(t, "archive index returned status 503", *resp.Retailers[0].PrevWeek.Error)
	require.Equal(t, ads.StateWarmComplete, ads.StateOf(resp))
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil, system.New(), nil)
	require.Error(t, err)
	_, err = New(Config{}, &fakeResolver{}, nil, nil)
	require.Error(t, err)

	a, err := New(Config{Retailers: ads.DefaultRetailers()[:1], WindowDays: 3}, &fakeResolver{resolve: found}, system.New(), nil)
	require.NoError(t, err)
	require.Len(t, a.Assemble(context.Background(), weekEnd).Retailers, 1)
}
