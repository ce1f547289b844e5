// Package warmer runs the weekly request path on a cron schedule so the first
// interactive request of a week finds a cached record.
package warmer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/adsnap/internal/ads"
	"github.com/JakeFAU/adsnap/internal/service"
)

// DefaultSchedule fires at 06:00 every Sunday.
const DefaultSchedule = "0 6 * * 0"

// DefaultTimeout bounds one warm run.
const DefaultTimeout = 2 * time.Minute

// WeeklyService is the slice of the request service the warmer drives.
type WeeklyService interface {
	WeeklyAds(ctx context.Context, weekEnd time.Time) (service.Result, error)
}

// Config controls warmer scheduling.
type Config struct {
	Schedule string
	Timeout  time.Duration
	// Location is the time zone the schedule is evaluated in. Nil means UTC.
	Location *time.Location
}

// Warmer owns a cron runner with a single weekly entry.
type Warmer struct {
	cfg    Config
	svc    WeeklyService
	clock  ads.Clock
	cron   *cron.Cron
	entry  cron.EntryID
	logger *zap.Logger
}

// New parses the schedule and registers the warm job. The job does not fire until Start.
func New(cfg Config, svc WeeklyService, clock ads.Clock, logger *zap.Logger) (*Warmer, error) {
	if svc == nil {
		return nil, errors.New("warmer requires a weekly service")
	}
	if clock == nil {
		return nil, errors.New("warmer requires a clock")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	w := &Warmer{cfg: cfg, svc: svc, clock: clock, logger: logger.Named("warmer")}
	cronLog := cronLogger{s: w.logger.Sugar()}
	w.cron = cron.New(
		cron.WithLocation(cfg.Location),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		cron.WithLogger(cronLog),
	)
	entry, err := w.cron.AddFunc(cfg.Schedule, w.run)
	if err != nil {
		return nil, fmt.Errorf("parse warmer schedule %q: %w", cfg.Schedule, err)
	}
	w.entry = entry
	return w, nil
}

// Start begins firing the schedule in the background.
func (w *Warmer) Start() {
	w.cron.Start()
	w.logger.Info("warmer started", zap.String("schedule", w.cfg.Schedule), zap.Time("next_run", w.Next()))
}

// Stop halts the schedule and waits for a running warm to finish or ctx to end.
func (w *Warmer) Stop(ctx context.Context) error {
	done := w.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for warm run: %w", ctx.Err())
	}
}

// Next reports when the warm job fires next. It is zero until Start.
func (w *Warmer) Next() time.Time {
	return w.cron.Entry(w.entry).Next
}

// Warm requests the most recent completed week once.
func (w *Warmer) Warm(ctx context.Context) (service.Result, error) {
	weekEnd := ads.MostRecentSaturday(w.clock.Now())
	key := ads.WeekKey(weekEnd)
	ctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	result, err := w.svc.WeeklyAds(ctx, weekEnd)
	if err != nil {
		return service.Result{}, fmt.Errorf("warm %s: %w", key, err)
	}
	w.logger.Info("week warmed",
		zap.String("week_end", key),
		zap.String("state", string(result.State)),
		zap.Bool("scheduled", result.Scheduled),
	)
	return result, nil
}

func (w *Warmer) run() {
	if _, err := w.Warm(context.Background()); err != nil {
		w.logger.Error("warm run failed", zap.Error(err))
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
