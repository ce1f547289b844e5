// Package archive resolves retailer homepages to their closest web-archive capture.
package archive

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/adsnap/internal/ads"
	"github.com/JakeFAU/adsnap/internal/metrics"
	"github.com/JakeFAU/adsnap/internal/telemetry"
)

// Defaults applied by NewResolver.
const (
	DefaultIndexURL       = "https://web.archive.org/cdx/search/cdx"
	DefaultCaptureHost    = "web.archive.org"
	DefaultResultLimit    = 10
	DefaultWideWindowDays = 14
)

const (
	outcomeFound = "found"
	outcomeEmpty = "empty"
	outcomeError = "error"
)

// Config controls index queries and capture URL construction.
type Config struct {
	IndexURL       string
	CaptureHost    string
	ResultLimit    int
	WideWindowDays int
}

// Waiter blocks until an outbound call may proceed.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// Resolver implements ads.Resolver against a CDX index.
type Resolver struct {
	cfg     Config
	fetcher ads.Fetcher
	limiter Waiter
	logger  *zap.Logger
}

// NewResolver wires a resolver. limiter may be nil.
func NewResolver(cfg Config, fetcher ads.Fetcher, limiter Waiter, logger *zap.Logger) (*Resolver, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("archive resolver requires a fetcher")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.IndexURL == "" {
		cfg.IndexURL = DefaultIndexURL
	}
	if _, err := url.Parse(cfg.IndexURL); err != nil {
		return nil, fmt.Errorf("parse index url: %w", err)
	}
	cfg.CaptureHost = normalizeHost(cfg.CaptureHost)
	if cfg.CaptureHost == "" {
		cfg.CaptureHost = DefaultCaptureHost
	}
	if cfg.ResultLimit <= 0 {
		cfg.ResultLimit = DefaultResultLimit
	}
	if cfg.WideWindowDays <= 0 {
		cfg.WideWindowDays = DefaultWideWindowDays
	}
	return &Resolver{
		cfg:     cfg,
		fetcher: fetcher,
		limiter: limiter,
		logger:  logger.Named("archive"),
	}, nil
}

// Resolve returns the capture of target closest to the target time. When the narrow
// window is empty it retries once with the wide window. Errors are reported in the
// returned snapshot.
func (r *Resolver) Resolve(
	ctx context.Context,
	site string,
	target time.Time,
	label string,
	windowDays int,
) ads.Snapshot {
	ctx, span := telemetry.Tracer().Start(ctx, "archive.resolve", trace.WithAttributes(
		attribute.String("archive.site", site),
		attribute.String("archive.target", ads.FormatArchiveTimestamp(target)),
		attribute.Int("archive.window_days", windowDays),
	))
	defer span.End()

	start := time.Now()
	snap, outcome := r.resolve(ctx, site, target, label, windowDays)
	metrics.ObserveResolve(site, outcome, time.Since(start))

	span.SetAttributes(attribute.String("archive.outcome", outcome))
	if snap.Error != nil {
		span.SetStatus(codes.Error, *snap.Error)
	}
	return snap
}

func (r *Resolver) resolve(
	ctx context.Context,
	site string,
	target time.Time,
	label string,
	windowDays int,
) (ads.Snapshot, string) {
	if windowDays < 0 {
		windowDays = 0
	}
	logger := r.logger.With(zap.String("site", site), zap.String("label", label))

	captures, err := r.lookup(ctx, site, target, windowDays)
	if err == nil && len(captures) == 0 && windowDays < r.cfg.WideWindowDays {
		metrics.ObserveWidened()
		logger.Debug("no captures in window, widening",
			zap.Int("window_days", windowDays),
			zap.Int("wide_window_days", r.cfg.WideWindowDays),
		)
		captures, err = r.lookup(ctx, site, target, r.cfg.WideWindowDays)
	}
	if err != nil {
		logger.Warn("archive lookup failed", zap.Error(err))
		return ads.FailedSnapshot(label, err.Error()), outcomeError
	}

	best, ok := Closest(captures, target)
	if !ok {
		return ads.Snapshot{Label: label}, outcomeEmpty
	}
	return ads.Snapshot{
		ArchiveURL: ads.StringPtr(r.captureURL(best)),
		Timestamp:  ads.StringPtr(best.Timestamp),
		Date:       ads.StringPtr(ads.CaptureDateLabel(best.Timestamp)),
		Label:      label,
	}, outcomeFound
}

func (r *Resolver) lookup(ctx context.Context, site string, target time.Time, windowDays int) ([]Capture, error) {
	queryURL := r.queryURL(site, target, windowDays)
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx, queryURL); err != nil {
			return nil, err
		}
	}
	resp, err := r.fetcher.Fetch(ctx, ads.FetchRequest{
		URL:     queryURL,
		Headers: http.Header{"Accept": {"application/json"}},
	})
	if err != nil {
		return nil, fmt.Errorf("query archive index: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("archive index returned status %d", resp.StatusCode)
	}
	return ParseCDX(resp.Body)
}

func (r *Resolver) queryURL(site string, target time.Time, windowDays int) string {
	window := time.Duration(windowDays) * 24 * time.Hour
	params := url.Values{}
	params.Set("url", site)
	params.Set("from", target.Add(-window).UTC().Format(ads.ArchiveDayLayout))
	params.Set("to", target.Add(window).UTC().Format(ads.ArchiveDayLayout))
	params.Set("output", "json")
	params.Set("fl", "timestamp,original")
	params.Set("filter", "statuscode:200")
	params.Set("limit", strconv.Itoa(r.cfg.ResultLimit))
	params.Set("collapse", "timestamp:8")

	sep := "?"
	if strings.Contains(r.cfg.IndexURL, "?") {
		sep = "&"
	}
	return r.cfg.IndexURL + sep + params.Encode()
}

func (r *Resolver) captureURL(c Capture) string {
	return fmt.Sprintf("https://%s/web/%s/%s", r.cfg.CaptureHost, c.Timestamp, c.Original)
}

func normalizeHost(host string) string {
	host = strings.TrimSpace(host)
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	return strings.TrimRight(host, "/")
}
