// Package assembler builds the weekly competitor-ads payload by resolving every
// retailer's two comparison captures concurrently.
package assembler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/adsnap/internal/ads"
	"github.com/JakeFAU/adsnap/internal/telemetry"
)

// RequestFailed is the error recorded for a slot whose lookup did not complete.
const RequestFailed = "request failed"

// DefaultWindowDays is the narrow search window around each target.
const DefaultWindowDays = 5

// Config controls assembly.
type Config struct {
	Retailers  []ads.RetailerTarget
	WindowDays int
}

// Assembler implements the synchronous compute path for a cold week.
type Assembler struct {
	cfg      Config
	resolver ads.Resolver
	clock    ads.Clock
	logger   *zap.Logger
}

// New builds an Assembler.
func New(cfg Config, resolver ads.Resolver, clock ads.Clock, logger *zap.Logger) (*Assembler, error) {
	if resolver == nil {
		return nil, fmt.Errorf("assembler requires a resolver")
	}
	if clock == nil {
		return nil, fmt.Errorf("assembler requires a clock")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Retailers) == 0 {
		cfg.Retailers = ads.DefaultRetailers()
	}
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = DefaultWindowDays
	}
	return &Assembler{cfg: cfg, resolver: resolver, clock: clock, logger: logger.Named("assembler")}, nil
}

// Assemble resolves both slots of every retailer for the week ending at weekEnd. All
// lookups run concurrently and the call returns once every one has settled; a lookup
// that panics yields a failed snapshot for its slot only.
func (a *Assembler) Assemble(ctx context.Context, weekEnd time.Time) ads.Response {
	weekKey := ads.WeekKey(weekEnd)
	ctx, span := telemetry.Tracer().Start(ctx, "assembler.assemble", trace.WithAttributes(
		attribute.String("week_end", weekKey),
		attribute.Int("retailers", len(a.cfg.Retailers)),
	))
	defer span.End()

	prevTarget := ads.PrevWeekTarget(weekEnd)
	lastTarget := ads.LastYearTarget(weekEnd)
	resp := ads.Response{
		WeekEnd:       weekKey,
		PrevWeekLabel: ads.PeriodLabel(prevTarget),
		LastYearLabel: ads.PeriodLabel(lastTarget),
		Retailers:     make([]ads.RetailerAdData, len(a.cfg.Retailers)),
	}

	var wg sync.WaitGroup
	for i, retailer := range a.cfg.Retailers {
		resp.Retailers[i] = ads.NewRetailerAdData(retailer)
		entry := &resp.Retailers[i]
		wg.Add(2)
		go a.resolveInto(ctx, &wg, &entry.PrevWeek, retailer, prevTarget, resp.PrevWeekLabel)
		go a.resolveInto(ctx, &wg, &entry.LastYear, retailer, lastTarget, resp.LastYearLabel)
	}
	wg.Wait()

	resp.GeneratedAt = a.clock.Now().UTC()
	a.logger.Info("assembled week",
		zap.String("week_end", weekKey),
		zap.Int("retailers", len(resp.Retailers)),
		zap.Int("resolved", countResolved(resp)),
	)
	return resp
}

func (a *Assembler) resolveInto(
	ctx context.Context,
	wg *sync.WaitGroup,
	dst *ads.Snapshot,
	retailer ads.RetailerTarget,
	target time.Time,
	label string,
) {
	defer wg.Done()
	defer func() {
		if rec := recover(); rec != nil {
			a.logger.Error("snapshot lookup panicked",
				zap.String("retailer", retailer.ID),
				zap.String("label", label),
				zap.Any("panic", rec),
			)
			*dst = ads.FailedSnapshot(label, RequestFailed)
		}
	}()
	snap := a.resolver.Resolve(ctx, retailer.URL, target, label, a.cfg.WindowDays)
	snap.Label = label
	if !snap.HasArchive() {
		snap.ArchiveURL, snap.Timestamp, snap.Date, snap.ScreenshotURL = nil, nil, nil, nil
	}
	*dst = snap
}

func countResolved(resp ads.Response) int {
	_, total := ads.Progress(resp)
	return total
}
