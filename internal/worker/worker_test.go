package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/adsnap/internal/ads"
	queuemem "github.com/JakeFAU/adsnap/internal/queue/memory"
)

type fakeSession struct {
	mu       sync.Mutex
	urls     []string
	inFlight atomic.Int32
	peak     atomic.Int32
	closed   atomic.Int32
	calls    atomic.Int32
	delay    time.Duration
	fail     map[string]bool
	panicOn  map[string]bool
	slow     map[string]time.Duration
	// events records "start:<url>" and "end:<url>" in call order.
	events []string
	// Calls after the first blockAfter wait for cancellation.
	blockAfter int32
}

func (s *fakeSession) Screenshot(ctx context.Context, url string) ([]byte, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	s.mu.Lock()
	s.urls = append(s.urls, url)
	s.events = append(s.events, "start:"+url)
	s.mu.Unlock()
	defer s.record("end:" + url)
	if d := s.slow[url]; d > 0 {
		time.Sleep(d)
	}
	if s.panicOn[url] {
		panic("tab crashed")
	}
	if s.blockAfter > 0 && s.calls.Add(1) > s.blockAfter {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.fail[url] {
		return nil, errors.New("navigation timeout")
	}
	return []byte("png:" + url), nil
}

func (s *fakeSession) record(event string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *fakeSession) eventIndex(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.events {
		if e == event {
			return i
		}
	}
	return -1
}

func (s *fakeSession) Close() error {
	s.closed.Add(1)
	return nil
}

type fakeRenderer struct {
	opens   atomic.Int32
	session *fakeSession
	err     error
}

func (r *fakeRenderer) Open(context.Context) (ads.BrowserSession, error) {
	r.opens.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	return r.session, nil
}

type fakeBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	failOn  string
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (b *fakeBlobStore) PutObject(_ context.Context, path, contentType string, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failOn != "" && strings.Contains(path, b.failOn) {
		return "", errors.New("bucket unavailable")
	}
	url := "https://cdn.example/" + path
	if _, ok := b.objects[path]; ok {
		return url, ads.ErrAlreadyExists
	}
	b.objects[path] = data
	b.types[path] = contentType
	return url, nil
}

type fakeStore struct {
	mu     sync.Mutex
	merges [][]ads.ScreenshotUpdate
	err    error
}

func (s *fakeStore) Get(context.Context, string) (ads.WeeklyRecord, error) {
	return ads.WeeklyRecord{}, ads.ErrNotFound
}

func (s *fakeStore) Put(context.Context, string, ads.Response) error { return nil }

func (s *fakeStore) MergeScreenshots(ctx context.Context, _ string, updates []ads.ScreenshotUpdate) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merges = append(s.merges, append([]ads.ScreenshotUpdate(nil), updates...))
	return s.err
}

func (s *fakeStore) Recent(context.Context, int) ([]ads.WeeklyRecord, error) { return nil, nil }

func (s *fakeStore) Ping(context.Context) error { return nil }

func (s *fakeStore) mergeCalls() [][]ads.ScreenshotUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]ads.ScreenshotUpdate(nil), s.merges...)
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []any
}

func (p *fakePublisher) Publish(_ context.Context, _ string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, payload)
	return "msg-1", nil
}

type fixedIDs struct{}

func (fixedIDs) NewID() (string, error) { return "run-1", nil }

// weekWithCaptures builds a payload where the first n retailers have both slots resolved.
func weekWithCaptures(n int) ads.Response {
	resp := ads.Response{WeekEnd: "2026-02-14", PrevWeekLabel: "Feb 11, 2026", LastYearLabel: "Feb 12, 2025"}
	for i, target := range ads.DefaultRetailers() {
		entry := ads.NewRetailerAdData(target)
		entry.PrevWeek.Label = resp.PrevWeekLabel
		entry.LastYear.Label = resp.LastYearLabel
		if i < n {
			entry.PrevWeek.ArchiveURL = ads.StringPtr("https://web.archive.org/web/20260211120000/" + target.URL)
			entry.PrevWeek.Timestamp = ads.StringPtr("20260211120000")
			entry.LastYear.ArchiveURL = ads.StringPtr("https://web.archive.org/web/20250212120000/" + target.URL)
			entry.LastYear.Timestamp = ads.StringPtr("20250212120000")
		}
		resp.Retailers = append(resp.Retailers, entry)
	}
	return resp
}

func newTestWorker(store *fakeStore, blobs *fakeBlobStore, renderer ads.Renderer, publisher ads.Publisher, cfg Config) *Worker {
	return New(nil, store, blobs, renderer, publisher, fixedIDs{}, nil, cfg, zap.NewNop())
}

func TestFillNoWorkSkipsBrowser(t *testing.T) {
	t.Parallel()

	renderer := &fakeRenderer{session: &fakeSession{}}
	store := &fakeStore{}
	w := newTestWorker(store, newFakeBlobStore(), renderer, nil, Config{})

	result := w.Fill(context.Background(), "2026-02-14", weekWithCaptures(0))
	require.Zero(t, result.Discovered)
	require.Zero(t, renderer.opens.Load())
	require.Empty(t, store.mergeCalls())

	filled := weekWithCaptures(1)
	filled.Retailers[0].PrevWeek.ScreenshotURL = ads.StringPtr("https://cdn.example/a.png")
	filled.Retailers[0].LastYear.ScreenshotURL = ads.StringPtr("https://cdn.example/b.png")
	w.Fill(context.Background(), "2026-02-14", filled)
	require.Zero(t, renderer.opens.Load())
}

func TestFillRendersUploadsAndMergesOnce(t *testing.T) {
	t.Parallel()

	session := &fakeSession{}
	renderer := &fakeRenderer{session: session}
	store := &fakeStore{}
	blobs := newFakeBlobStore()
	publisher := &fakePublisher{}
	w := newTestWorker(store, blobs, renderer, publisher, Config{BlobPrefix: "/competitor-ads/", Topic: "fills"})

	result := w.Fill(context.Background(), "2026-02-14", weekWithCaptures(5))

	require.Equal(t, FillResult{RunID: "run-1", WeekKey: "2026-02-14", Discovered: 10, Filled: 10, Pending: 0, Merged: true}, result)
	require.EqualValues(t, 1, renderer.opens.Load(), "one browser per fill")
	require.EqualValues(t, 1, session.closed.Load())
	require.Len(t, session.urls, 10)

	merges := store.mergeCalls()
	require.Len(t, merges, 1)
	require.Len(t, merges[0], 10)
	require.Contains(t, merges[0], ads.ScreenshotUpdate{
		RetailerIdx: 3,
		Slot:        ads.SlotLastYear,
		URL:         "https://cdn.example/competitor-ads/2026-02-14/costco/lastYear.png",
	})
	require.Equal(t, "image/png", blobs.types["competitor-ads/2026-02-14/cvs/prevWeek.png"])

	require.Len(t, publisher.messages, 1)
	event, ok := publisher.messages[0].(ads.FillEvent)
	require.True(t, ok)
	require.Equal(t, "2026-02-14", event.WeekEnd)
	require.Equal(t, 10, event.Filled)
	require.Zero(t, event.Pending)
}

func TestFillBatchesAreBounded(t *testing.T) {
	t.Parallel()

	session := &fakeSession{delay: 20 * time.Millisecond}
	w := newTestWorker(&fakeStore{}, newFakeBlobStore(), &fakeRenderer{session: session}, nil, Config{})

	result := w.Fill(context.Background(), "2026-02-14", weekWithCaptures(5))
	require.Equal(t, 10, result.Filled)
	require.LessOrEqual(t, session.peak.Load(), int32(DefaultBatchSize))
	require.GreaterOrEqual(t, session.peak.Load(), int32(2), "items within a batch run concurrently")
}

func TestFillNextBatchWaitsForSlowestItem(t *testing.T) {
	t.Parallel()

	resp := weekWithCaptures(3)
	items := ads.PendingWork(resp)
	require.Len(t, items, 6)
	slowURL := items[0].ArchiveURL
	session := &fakeSession{slow: map[string]time.Duration{slowURL: 150 * time.Millisecond}}
	w := newTestWorker(&fakeStore{}, newFakeBlobStore(), &fakeRenderer{session: session}, nil, Config{BatchSize: 3})

	result := w.Fill(context.Background(), "2026-02-14", resp)
	require.Equal(t, 6, result.Filled)

	slowEnd := session.eventIndex("end:" + slowURL)
	require.GreaterOrEqual(t, slowEnd, 0)
	for _, item := range items[:3] {
		require.Less(t, session.eventIndex("start:"+item.ArchiveURL), slowEnd)
	}
	for _, item := range items[3:] {
		start := session.eventIndex("start:" + item.ArchiveURL)
		require.Greater(t, start, slowEnd, "second batch started before the first batch finished: %s", item.ArchiveURL)
	}
}

func TestFillOmitsFailedItems(t *testing.T) {
	t.Parallel()

	resp := weekWithCaptures(3)
	session := &fakeSession{
		fail:    map[string]bool{*resp.Retailers[0].PrevWeek.ArchiveURL: true},
		panicOn: map[string]bool{*resp.Retailers[1].LastYear.ArchiveURL: true},
	}
	blobs := newFakeBlobStore()
	blobs.failOn = "walmart/prevWeek"
	store := &fakeStore{}
	w := newTestWorker(store, blobs, &fakeRenderer{session: session}, nil, Config{})

	result := w.Fill(context.Background(), "2026-02-14", resp)
	require.Equal(t, 6, result.Discovered)
	require.Equal(t, 3, result.Filled)
	require.Equal(t, 3, result.Pending)
	require.True(t, result.Merged)

	merges := store.mergeCalls()
	require.Len(t, merges, 1)
	var merged []string
	for _, u := range merges[0] {
		merged = append(merged, resp.Retailers[u.RetailerIdx].ID+"/"+string(u.Slot))
	}
	require.ElementsMatch(t, []string{"cvs/lastYear", "walgreens/prevWeek", "walmart/lastYear"}, merged)
}

func TestFillTreatsExistingObjectAsSuccess(t *testing.T) {
	t.Parallel()

	blobs := newFakeBlobStore()
	blobs.objects["2026-02-14/cvs/prevWeek.png"] = []byte("earlier run")
	store := &fakeStore{}
	w := newTestWorker(store, blobs, &fakeRenderer{session: &fakeSession{}}, nil, Config{})

	result := w.Fill(context.Background(), "2026-02-14", weekWithCaptures(1))
	require.Equal(t, 2, result.Filled)
	require.Contains(t, store.mergeCalls()[0], ads.ScreenshotUpdate{
		RetailerIdx: 0,
		Slot:        ads.SlotPrevWeek,
		URL:         "https://cdn.example/2026-02-14/cvs/prevWeek.png",
	})
	require.Equal(t, "earlier run", string(blobs.objects["2026-02-14/cvs/prevWeek.png"]))
}

func TestFillAllFailuresSkipsMerge(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	w := newTestWorker(store, newFakeBlobStore(), &fakeRenderer{err: ads.ErrRendererDisabled}, nil, Config{})
	result := w.Fill(context.Background(), "2026-02-14", weekWithCaptures(2))
	require.Equal(t, 4, result.Pending)
	require.False(t, result.Merged)
	require.Empty(t, store.mergeCalls())

	resp := weekWithCaptures(1)
	session := &fakeSession{fail: map[string]bool{
		*resp.Retailers[0].PrevWeek.ArchiveURL: true,
		*resp.Retailers[0].LastYear.ArchiveURL: true,
	}}
	w = newTestWorker(store, newFakeBlobStore(), &fakeRenderer{session: session}, nil, Config{})
	result = w.Fill(context.Background(), "2026-02-14", resp)
	require.Zero(t, result.Filled)
	require.Empty(t, store.mergeCalls())
	require.EqualValues(t, 1, session.closed.Load())
}

func TestFillMergesPartialProgressAfterTimeout(t *testing.T) {
	t.Parallel()

	session := &fakeSession{blockAfter: 2}
	store := &fakeStore{}
	w := newTestWorker(store, newFakeBlobStore(), &fakeRenderer{session: session}, nil, Config{BatchSize: 2})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	result := w.Fill(ctx, "2026-02-14", weekWithCaptures(5))

	require.Equal(t, 2, result.Filled)
	require.Equal(t, 8, result.Pending)
	require.True(t, result.Merged)
	require.Len(t, store.mergeCalls(), 1)
	require.Len(t, store.mergeCalls()[0], 2)
	require.EqualValues(t, 4, session.calls.Load(), "no batch starts after the deadline")
}

func TestWorkerRunProcessesQueue(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := queuemem.NewQueue(2)
	store := &fakeStore{}
	w := New(queue, store, newFakeBlobStore(), &fakeRenderer{session: &fakeSession{}}, nil, fixedIDs{}, nil, Config{}, zap.NewNop())

	var done atomic.Bool
	require.NoError(t, queue.TryEnqueue(ads.FillTask{
		WeekKey:  "2026-02-14",
		Data:     weekWithCaptures(2),
		Enqueued: time.Now().UTC(),
		Done:     func() { done.Store(true) },
	}))

	stopped := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(stopped)
	}()

	require.Eventually(t, done.Load, time.Second, 10*time.Millisecond)
	require.Len(t, store.mergeCalls(), 1)

	queue.Close()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after queue close")
	}
}

func TestObjectPath(t *testing.T) {
	t.Parallel()

	require.Equal(t, "2026-02-14/cvs/prevWeek.png", ObjectPath("", "2026-02-14", "cvs", ads.SlotPrevWeek))
	require.Equal(t, "shots/2026-02-14/kroger/lastYear.png", ObjectPath("/shots/", "2026-02-14", "kroger", ads.SlotLastYear))
}
