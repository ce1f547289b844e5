package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/adsnap/internal/ads"
	"github.com/JakeFAU/adsnap/internal/config"
	"github.com/JakeFAU/adsnap/internal/hash/sha256"
	"github.com/JakeFAU/adsnap/internal/service"
)

var weekEnd = time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC)

func TestCompetitorAds_IncompleteWeek(t *testing.T) {
	t.Parallel()

	svc := &fakeService{result: service.Result{Data: pendingWeek(), State: ads.StateCold, Scheduled: true}}
	rec := serve(t, newTestServer(svc), "/v1/competitor-ads?week=2026-02-14", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.Equal(t, CacheControlIncomplete, rec.Header().Get("Cache-Control"))
	require.Equal(t, "cold", rec.Header().Get("X-Cache-State"))
	require.Equal(t, "true", rec.Header().Get("X-Fill-Scheduled"))
	require.NotEmpty(t, rec.Header().Get("ETag"))
	require.Equal(t, "2026-02-14", svc.lastWeek())

	var body ads.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "2026-02-14", body.WeekEnd)
	require.Len(t, body.Retailers, 1)
	require.Nil(t, body.Retailers[0].PrevWeek.ScreenshotURL)
	require.Contains(t, rec.Body.String(), `"screenshotUrl":null`)
}

func TestCompetitorAds_CompleteWeekIsImmutable(t *testing.T) {
	t.Parallel()

	data := pendingWeek()
	data.Retailers[0].PrevWeek.ScreenshotURL = ads.StringPtr("https://storage.googleapis.com/b/a.png")
	svc := &fakeService{result: service.Result{Data: data, State: ads.StateWarmComplete}}
	rec := serve(t, newTestServer(svc), "/v1/competitor-ads", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, CacheControlComplete, rec.Header().Get("Cache-Control"))
	require.Equal(t, "warm_complete", rec.Header().Get("X-Cache-State"))
	require.Empty(t, rec.Header().Get("X-Fill-Scheduled"))
}

func TestCompetitorAds_IfNoneMatch(t *testing.T) {
	t.Parallel()

	svc := &fakeService{result: service.Result{Data: pendingWeek(), State: ads.StateWarmIncomplete}}
	server := newTestServer(svc)

	first := serve(t, server, "/v1/competitor-ads?week=2026-02-14", nil)
	etag := first.Header().Get("ETag")
	require.NotEmpty(t, etag)

	second := serve(t, server, "/v1/competitor-ads?week=2026-02-14", http.Header{"If-None-Match": {etag}})
	require.Equal(t, http.StatusNotModified, second.Code)
	require.Empty(t, second.Body.Bytes())
	require.Equal(t, etag, second.Header().Get("ETag"))

	stale := serve(t, server, "/v1/competitor-ads?week=2026-02-14", http.Header{"If-None-Match": {`"other"`}})
	require.Equal(t, http.StatusOK, stale.Code)
}

func TestCompetitorAds_InvalidWeek(t *testing.T) {
	t.Parallel()

	svc := &fakeService{resolveErr: fmt.Errorf("%w: 2026-02-13 is a Friday, not a Saturday", ads.ErrInvalidWeek)}
	rec := serve(t, newTestServer(svc), "/v1/competitor-ads?week=2026-02-13", nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "not a Saturday")
	require.Zero(t, svc.weeklyCalls())
}

func TestCompetitorAds_StoreFailure(t *testing.T) {
	t.Parallel()

	svc := &fakeService{weeklyErr: errors.New("get weekly record: connection refused")}
	rec := serve(t, newTestServer(svc), "/v1/competitor-ads", nil)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestCompetitorAds_CanceledRequest(t *testing.T) {
	t.Parallel()

	svc := &fakeService{weeklyErr: fmt.Errorf("assemble 2026-02-14: %w", context.Canceled)}
	rec := serve(t, newTestServer(svc), "/v1/competitor-ads", nil)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatus(t *testing.T) {
	t.Parallel()

	svc := &fakeService{status: []service.WeekStatus{{WeekEnd: "2026-02-14", State: ads.StateWarmIncomplete, Done: 4, Total: 9}}}
	server := newTestServer(svc)

	rec := serve(t, server, "/v1/competitor-ads/status?limit=4", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"done":4`)
	require.Contains(t, rec.Body.String(), `"total":9`)
	require.Equal(t, 4, svc.lastLimit())

	bad := serve(t, server, "/v1/competitor-ads/status?limit=zero", nil)
	require.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	ok := serve(t, newTestServer(&fakeService{}), "/readyz", nil)
	require.Equal(t, http.StatusOK, ok.Code)

	down := serve(t, newTestServer(&fakeService{readyErr: errors.New("ping failed")}), "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, down.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeService{})
	serve(t, server, "/healthz", nil)
	rec := serve(t, server, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "adsnap_http_requests_total")
	require.Contains(t, rec.Body.String(), "adsnap_http_request_duration_seconds")
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	svc := &fakeService{result: service.Result{Data: pendingWeek(), State: ads.StateWarmIncomplete}}
	server := NewServer(svc, sha256.New(), cfg, zap.NewNop())

	rec := serve(t, server, "/v1/competitor-ads", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(t, server, "/v1/competitor-ads", http.Header{"X-API-Key": {"secret"}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, server, "/v1/competitor-ads?api_key=secret", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	probe := serve(t, server, "/healthz", nil)
	require.Equal(t, http.StatusOK, probe.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeService{})
	rec := serve(t, server, "/healthz", nil)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = serve(t, server, "/healthz", http.Header{"X-Request-ID": {"abc-123"}})
	require.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	svc := &fakeService{panicOnWeekly: true}
	rec := serve(t, newTestServer(svc), "/v1/competitor-ads", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRecoverMiddlewareKeepsWrittenStatus(t *testing.T) {
	t.Parallel()

	handler := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("partial"))
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/competitor-ads", nil))

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, "partial", rec.Body.String())
}

func TestRecoverMiddlewareWrapsLoggedWriter(t *testing.T) {
	t.Parallel()

	handler := loggingMiddleware(zap.NewNop())(recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/competitor-ads", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "internal server error")
}

func TestEtagMatches(t *testing.T) {
	t.Parallel()

	require.True(t, etagMatches(`"a", "b"`, `"b"`))
	require.True(t, etagMatches(`W/"b"`, `"b"`))
	require.True(t, etagMatches(`*`, `"b"`))
	require.False(t, etagMatches(``, `"b"`))
	require.False(t, etagMatches(`"c"`, `"b"`))
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

// --- helpers/fakes ---

type fakeService struct {
	mu            sync.Mutex
	result        service.Result
	resolveErr    error
	weeklyErr     error
	readyErr      error
	status        []service.WeekStatus
	panicOnWeekly bool
	weeks         []string
	limits        []int
}

func (f *fakeService) ResolveWeekKey(raw string) (time.Time, error) {
	if f.resolveErr != nil {
		return time.Time{}, f.resolveErr
	}
	if raw == "" {
		return weekEnd, nil
	}
	return ads.ParseWeekKey(raw)
}

func (f *fakeService) WeeklyAds(_ context.Context, week time.Time) (service.Result, error) {
	if f.panicOnWeekly {
		panic("boom")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.weeks = append(f.weeks, ads.WeekKey(week))
	if f.weeklyErr != nil {
		return service.Result{}, f.weeklyErr
	}
	return f.result, nil
}

func (f *fakeService) Status(_ context.Context, limit int) ([]service.WeekStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limits = append(f.limits, limit)
	return f.status, nil
}

func (f *fakeService) Ready(context.Context) error {
	return f.readyErr
}

func (f *fakeService) weeklyCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.weeks)
}

func (f *fakeService) lastWeek() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.weeks) == 0 {
		return ""
	}
	return f.weeks[len(f.weeks)-1]
}

func (f *fakeService) lastLimit() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.limits) == 0 {
		return -1
	}
	return f.limits[len(f.limits)-1]
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}

func pendingWeek() ads.Response {
	return ads.Response{
		WeekEnd:       "2026-02-14",
		PrevWeekLabel: "Feb 11, 2026",
		LastYearLabel: "Feb 12, 2025",
		Retailers: []ads.RetailerAdData{{
			ID:   "cvs",
			Name: "CVS",
			PrevWeek: ads.Snapshot{
				ArchiveURL: ads.StringPtr("https://web.archive.org/web/20260211120000/https://www.cvs.com/shop"),
				Label:      "Feb 11, 2026",
			},
			LastYear: ads.FailedSnapshot("Feb 12, 2025", "No archive found"),
		}},
	}
}

func testConfig() config.Config {
	return config.Config{
		Server:  config.ServerConfig{Port: 8080, RequestTimeoutSeconds: 5},
		Logging: config.LoggingConfig{Development: true},
	}
}

func newTestServer(svc WeeklyService) *Server {
	return NewServer(svc, sha256.New(), testConfig(), zap.NewNop())
}

func serve(t *testing.T, server *Server, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}
