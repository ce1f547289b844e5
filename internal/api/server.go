package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/adsnap/internal/ads"
	"github.com/JakeFAU/adsnap/internal/config"
	"github.com/JakeFAU/adsnap/internal/metrics"
	"github.com/JakeFAU/adsnap/internal/service"
)

// Response headers describing how a weekly payload was served.
const (
	headerCacheState    = "X-Cache-State"
	headerFillScheduled = "X-Fill-Scheduled"
)

// Cache-Control values for weekly payloads.
const (
	CacheControlIncomplete = "public, s-maxage=86400, stale-while-revalidate=604800"
	CacheControlComplete   = "public, max-age=31536000, immutable"
)

// WeeklyService is the request-side surface the handlers depend on.
type WeeklyService interface {
	ResolveWeekKey(raw string) (time.Time, error)
	WeeklyAds(ctx context.Context, weekEnd time.Time) (service.Result, error)
	Status(ctx context.Context, limit int) ([]service.WeekStatus, error)
	Ready(ctx context.Context) error
}

// ETagger computes entity tags for response bodies.
type ETagger interface {
	ETag(body []byte) string
}

// Server wires HTTP handlers to the weekly service.
type Server struct {
	router chi.Router
	svc    WeeklyService
	etags  ETagger
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(svc WeeklyService, etags ETagger, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		svc:    svc,
		etags:  etags,
		logger: logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	if timeout := cfg.RequestTimeout(); timeout > 0 {
		r.Use(timeoutMiddleware(timeout))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Get("/competitor-ads", s.competitorAds)
		r.Get("/competitor-ads/status", s.status)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Ready(r.Context()); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "cache store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) competitorAds(w http.ResponseWriter, r *http.Request) {
	weekEnd, err := s.svc.ResolveWeekKey(r.URL.Query().Get("week"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.svc.WeeklyAds(r.Context(), weekEnd)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			writeError(w, http.StatusServiceUnavailable, "request canceled")
			return
		}
		s.logger.Error("weekly ads failed",
			zap.String("week_end", ads.WeekKey(weekEnd)),
			zap.String("request_id", RequestID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	body, err := json.Marshal(result.Data)
	if err != nil {
		s.logger.Error("encode weekly ads failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	etag := s.etags.ETag(body)

	h := w.Header()
	h.Set("ETag", etag)
	h.Set(headerCacheState, string(result.State))
	if result.Complete() {
		h.Set("Cache-Control", CacheControlComplete)
	} else {
		h.Set("Cache-Control", CacheControlIncomplete)
	}
	if result.Scheduled {
		h.Set(headerFillScheduled, "true")
	}
	if etagMatches(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	h.Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		s.logger.Debug("write weekly ads failed", zap.Error(err))
	}
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 104 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 104")
			return
		}
		limit = n
	}
	weeks, err := s.svc.Status(r.Context(), limit)
	if err != nil {
		s.logger.Error("status listing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"weeks": weeks})
}

// etagMatches implements the weak comparison used for If-None-Match.
func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
