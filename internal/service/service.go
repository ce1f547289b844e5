// Package service implements the request-side state machine for weekly payloads:
// serve from the cache when possible, assemble and persist on a cold week, and hand
// incomplete weeks to the background fill pool.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/adsnap/internal/ads"
	"github.com/JakeFAU/adsnap/internal/metrics"
)

// DefaultStatusLimit caps the status listing when no limit is given.
const DefaultStatusLimit = 12

// Assembler builds a fresh payload for a week.
type Assembler interface {
	Assemble(ctx context.Context, weekEnd time.Time) ads.Response
}

// Result is what a weekly request resolved to.
type Result struct {
	Data      ads.Response
	State     ads.CacheState
	Scheduled bool
}

// Complete reports whether every resolved capture has its screenshot.
func (r Result) Complete() bool {
	return ads.StateOf(r.Data) == ads.StateWarmComplete
}

// WeekStatus summarises fill progress for one cached week.
type WeekStatus struct {
	WeekEnd   string         `json:"weekEnd"`
	State     ads.CacheState `json:"state"`
	Done      int            `json:"done"`
	Total     int            `json:"total"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Service wires the cache store, assembler and fill scheduler.
type Service struct {
	store     ads.CacheStore
	assembler Assembler
	scheduler ads.FillScheduler
	clock     ads.Clock
	logger    *zap.Logger
}

// New constructs a Service. scheduler may be nil, in which case fills are never queued.
func New(store ads.CacheStore, assembler Assembler, scheduler ads.FillScheduler, clock ads.Clock, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("service requires a cache store")
	}
	if assembler == nil {
		return nil, errors.New("service requires an assembler")
	}
	if clock == nil {
		return nil, errors.New("service requires a clock")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		assembler: assembler,
		scheduler: scheduler,
		clock:     clock,
		logger:    logger.Named("service"),
	}, nil
}

// ResolveWeekKey parses a requested week. An empty key means the most recent Saturday;
// weeks that have not ended yet are rejected with ads.ErrInvalidWeek.
func (s *Service) ResolveWeekKey(raw string) (time.Time, error) {
	latest := ads.MostRecentSaturday(s.clock.Now())
	if raw == "" {
		return latest, nil
	}
	weekEnd, err := ads.ParseWeekKey(raw)
	if err != nil {
		return time.Time{}, err
	}
	if weekEnd.After(latest) {
		return time.Time{}, fmt.Errorf("%w: %s has not ended yet", ads.ErrInvalidWeek, raw)
	}
	return weekEnd, nil
}

// WeeklyAds returns the payload for the week ending at weekEnd. Only cache store
// failures are returned as errors; lookup and screenshot failures live in the payload.
func (s *Service) WeeklyAds(ctx context.Context, weekEnd time.Time) (Result, error) {
	key := ads.WeekKey(weekEnd)
	logger := s.logger.With(zap.String("week_end", key))

	rec, err := s.store.Get(ctx, key)
	switch {
	case err == nil:
		state := ads.StateOf(rec.Data)
		metrics.ObserveCacheState(string(state))
		result := Result{Data: rec.Data, State: state}
		if state == ads.StateWarmIncomplete {
			result.Scheduled = s.schedule(key, rec.Data)
		}
		logger.Debug("served cached week", zap.String("state", string(state)), zap.Bool("scheduled", result.Scheduled))
		return result, nil
	case !errors.Is(err, ads.ErrNotFound):
		return Result{}, fmt.Errorf("get weekly record %s: %w", key, err)
	}

	metrics.ObserveCacheState(string(ads.StateCold))
	data := s.assembler.Assemble(ctx, weekEnd)
	if ctx.Err() != nil {
		// An abandoned request may have failed lookups that are not real results.
		return Result{}, fmt.Errorf("assemble %s: %w", key, ctx.Err())
	}

	fillData := data
	if err := s.store.Put(ctx, key, data); err != nil {
		if !errors.Is(err, ads.ErrAlreadyExists) {
			return Result{}, fmt.Errorf("put weekly record %s: %w", key, err)
		}
		logger.Info("weekly record written concurrently, keeping first writer")
		if winner, getErr := s.store.Get(ctx, key); getErr == nil {
			fillData = winner.Data
		}
	}

	result := Result{Data: data, State: ads.StateCold}
	if ads.StateOf(fillData) == ads.StateWarmIncomplete {
		result.Scheduled = s.schedule(key, fillData)
	}
	done, total := ads.Progress(data)
	logger.Info("assembled cold week", zap.Int("captures", total), zap.Int("screenshots", done), zap.Bool("scheduled", result.Scheduled))
	return result, nil
}

// Status lists fill progress for the most recent cached weeks.
func (s *Service) Status(ctx context.Context, limit int) ([]WeekStatus, error) {
	if limit <= 0 {
		limit = DefaultStatusLimit
	}
	records, err := s.store.Recent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent weeks: %w", err)
	}
	out := make([]WeekStatus, 0, len(records))
	for _, rec := range records {
		done, total := ads.Progress(rec.Data)
		out = append(out, WeekStatus{
			WeekEnd:   rec.WeekEnd,
			State:     ads.StateOf(rec.Data),
			Done:      done,
			Total:     total,
			CreatedAt: rec.CreatedAt,
			UpdatedAt: rec.UpdatedAt,
		})
	}
	return out, nil
}

// Ready reports whether the cache store is reachable.
func (s *Service) Ready(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("cache store ping: %w", err)
	}
	return nil
}

func (s *Service) schedule(key string, data ads.Response) bool {
	if s.scheduler == nil {
		return false
	}
	return s.scheduler.Schedule(key, data)
}
