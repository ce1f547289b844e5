// Package worker fills screenshot URLs for cached weeks in the background.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/adsnap/internal/ads"
	"github.com/JakeFAU/adsnap/internal/metrics"
	"github.com/JakeFAU/adsnap/internal/telemetry"
)

// Defaults applied by New.
const (
	DefaultBatchSize   = 3
	DefaultFillTimeout = 30 * time.Minute
	DefaultContentType = "image/png"
	mergeTimeout       = 30 * time.Second
)

// Item outcomes recorded in metrics.
const (
	outcomeFilled       = "filled"
	outcomeRenderFailed = "render_failed"
	outcomeUploadFailed = "upload_failed"
	outcomePanic        = "panic"
	outcomeNoSession    = "no_session"
)

// Config controls Worker behavior.
type Config struct {
	BatchSize   int
	BlobPrefix  string
	ContentType string
	Topic       string
	FillTimeout time.Duration
}

// FillResult summarises one fill run.
type FillResult struct {
	RunID      string
	WeekKey    string
	Discovered int
	Filled     int
	Pending    int
	Merged     bool
}

// Worker consumes fill tasks and renders, uploads and merges screenshots.
type Worker struct {
	queue     ads.FillQueue
	store     ads.CacheStore
	blobStore ads.BlobStore
	renderer  ads.Renderer
	publisher ads.Publisher
	ids       ads.IDGenerator
	clock     ads.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. queue may be nil when Fill is driven directly.
func New(
	queue ads.FillQueue,
	store ads.CacheStore,
	blobStore ads.BlobStore,
	renderer ads.Renderer,
	publisher ads.Publisher,
	ids ads.IDGenerator,
	clock ads.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FillTimeout <= 0 {
		cfg.FillTimeout = DefaultFillTimeout
	}
	if cfg.ContentType == "" {
		cfg.ContentType = DefaultContentType
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		store:     store,
		blobStore: blobStore,
		renderer:  renderer,
		publisher: publisher,
		ids:       ids,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.Named("worker"),
	}
}

// Run blocks, consuming fill tasks until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ads.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued fill", zap.String("week_end", task.WeekKey))
		w.runTask(ctx, task)
	}
}

func (w *Worker) runTask(ctx context.Context, task ads.FillTask) {
	if task.Done != nil {
		defer task.Done()
	}
	fillCtx, cancel := context.WithTimeout(ctx, w.cfg.FillTimeout)
	defer cancel()

	result := w.Fill(fillCtx, task.WeekKey, task.Data)
	w.logger.Info("fill finished",
		zap.String("run_id", result.RunID),
		zap.String("week_end", task.WeekKey),
		zap.Int("discovered", result.Discovered),
		zap.Int("filled", result.Filled),
		zap.Int("pending", result.Pending),
		zap.Bool("merged", result.Merged),
		zap.Duration("queued_for", w.now().Sub(task.Enqueued)),
	)
}

// Fill renders every slot of data that has a capture and no screenshot, uploads the
// images and merges the successful URLs into the cached record with a single call.
// Failed items are left unfilled for a later run. Fill never panics.
func (w *Worker) Fill(ctx context.Context, weekKey string, data ads.Response) (result FillResult) {
	items := ads.PendingWork(data)
	result = FillResult{RunID: w.newRunID(), WeekKey: weekKey, Discovered: len(items), Pending: len(items)}
	logger := w.logger.With(zap.String("week_end", weekKey), zap.String("run_id", result.RunID))
	if len(items) == 0 {
		logger.Debug("nothing to fill")
		return result
	}

	ctx, span := telemetry.Tracer().Start(ctx, "worker.fill", trace.WithAttributes(
		attribute.String("week_end", weekKey),
		attribute.Int("items", len(items)),
	))
	defer span.End()

	start := time.Now()
	metrics.IncActiveFills()
	defer func() {
		metrics.DecActiveFills()
		metrics.ObserveFillRun(time.Since(start))
		span.SetAttributes(attribute.Int("filled", result.Filled))
	}()
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("fill run panicked", zap.Any("panic", rec))
		}
	}()

	session, err := w.renderer.Open(ctx)
	if err != nil {
		logger.Warn("open browser session failed", zap.Error(err))
		for range items {
			metrics.ObserveFillItem(outcomeNoSession)
		}
		return result
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			logger.Warn("close browser session failed", zap.Error(closeErr))
		}
	}()

	updates := w.renderBatches(ctx, session, weekKey, items, logger)
	result.Filled = len(updates)
	result.Pending = len(items) - len(updates)
	if len(updates) == 0 {
		logger.Warn("no screenshots captured", zap.Int("discovered", len(items)))
		return result
	}

	// Uploaded objects are permanent, so the merge outlives a fill timeout.
	mergeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mergeTimeout)
	defer cancel()
	if err := w.store.MergeScreenshots(mergeCtx, weekKey, updates); err != nil {
		logger.Error("merge screenshots failed", zap.Int("updates", len(updates)), zap.Error(err))
		return result
	}
	result.Merged = true
	w.publishResult(mergeCtx, result, logger)
	return result
}

func (w *Worker) renderBatches(
	ctx context.Context,
	session ads.BrowserSession,
	weekKey string,
	items []ads.WorkItem,
	logger *zap.Logger,
) []ads.ScreenshotUpdate {
	var updates []ads.ScreenshotUpdate
	for start := 0; start < len(items); start += w.cfg.BatchSize {
		if ctx.Err() != nil {
			logger.Warn("fill interrupted", zap.Int("remaining", len(items)-start), zap.Error(ctx.Err()))
			break
		}
		batch := items[start:min(start+w.cfg.BatchSize, len(items))]
		results := make([]*ads.ScreenshotUpdate, len(batch))

		var wg sync.WaitGroup
		for i, item := range batch {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i] = w.processItem(ctx, session, weekKey, item, logger)
			}()
		}
		wg.Wait()

		for _, u := range results {
			if u != nil {
				updates = append(updates, *u)
			}
		}
	}
	return updates
}

func (w *Worker) processItem(
	ctx context.Context,
	session ads.BrowserSession,
	weekKey string,
	item ads.WorkItem,
	logger *zap.Logger,
) (update *ads.ScreenshotUpdate) {
	logger = logger.With(zap.String("retailer", item.RetailerID), zap.String("slot", string(item.Slot)))
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("screenshot item panicked", zap.Any("panic", rec))
			metrics.ObserveFillItem(outcomePanic)
			update = nil
		}
	}()

	png, err := session.Screenshot(ctx, item.ArchiveURL)
	if err != nil {
		logger.Warn("screenshot failed", zap.String("archive_url", item.ArchiveURL), zap.Error(err))
		metrics.ObserveFillItem(outcomeRenderFailed)
		return nil
	}

	path := ObjectPath(w.cfg.BlobPrefix, weekKey, item.RetailerID, item.Slot)
	url, err := w.blobStore.PutObject(ctx, path, w.cfg.ContentType, png)
	if err != nil && !errors.Is(err, ads.ErrAlreadyExists) {
		logger.Warn("upload screenshot failed", zap.String("path", path), zap.Error(err))
		metrics.ObserveFillItem(outcomeUploadFailed)
		return nil
	}
	if url == "" {
		logger.Warn("upload returned no url", zap.String("path", path))
		metrics.ObserveFillItem(outcomeUploadFailed)
		return nil
	}
	metrics.ObserveFillItem(outcomeFilled)
	logger.Debug("screenshot stored", zap.String("url", url), zap.Bool("existing", err != nil))
	return &ads.ScreenshotUpdate{RetailerIdx: item.RetailerIdx, Slot: item.Slot, URL: url}
}

func (w *Worker) publishResult(ctx context.Context, result FillResult, logger *zap.Logger) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	event := ads.FillEvent{
		RunID:      result.RunID,
		WeekEnd:    result.WeekKey,
		Discovered: result.Discovered,
		Filled:     result.Filled,
		Pending:    result.Pending,
		FinishedAt: w.now(),
	}
	id, err := w.publisher.Publish(ctx, w.cfg.Topic, event)
	if err != nil {
		logger.Warn("publish fill event failed", zap.String("topic", w.cfg.Topic), zap.Error(err))
		return
	}
	logger.Debug("fill event published", zap.String("message_id", id))
}

// ObjectPath builds the deterministic object key for one slot's screenshot.
func ObjectPath(prefix, weekKey, retailerID string, slot ads.Slot) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s/%s.png", weekKey, retailerID, slot)
	}
	return fmt.Sprintf("%s/%s/%s/%s.png", prefix, weekKey, retailerID, slot)
}

func (w *Worker) newRunID() string {
	if w.ids == nil {
		return ""
	}
	id, err := w.ids.NewID()
	if err != nil {
		w.logger.Warn("generate run id failed", zap.Error(err))
		return ""
	}
	return id
}

func (w *Worker) now() time.Time {
	if w.clock == nil {
		return time.Now().UTC()
	}
	return w.clock.Now()
}
