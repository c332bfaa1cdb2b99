// SPDX-License-Identifier: MIT

// Package adminhttp is the minimal external admin surface named in
// spec.md §6/SPEC_FULL.md §6: a gate manual-open endpoint and a rule
// enable/disable toggle, built on the teacher's go-chi router with its
// structured-logging middleware and the adapted rate limiter, rather than
// the teacher's full CSRF/CORS/tracing stack — that stack exists to guard
// a public video-streaming surface; this admin API has exactly two
// mutating routes behind a single operator-facing reverse proxy, so only
// request-ID logging and rate limiting are carried over.
package adminhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	xglog "github.com/accessctl/core/internal/log"
	"github.com/accessctl/core/internal/override"
	"github.com/accessctl/core/internal/ratelimit"
)

// mutatingRouteLimit is the sliding-window budget for each of the two
// mutating routes, enforced per client IP independently of the
// router-wide token-bucket limiter.
const mutatingRouteLimit = 30

// RuleToggler flips a ValidationRule's enabled flag. Implemented by
// whatever store the caller wires in (kept minimal and storage-agnostic
// rather than depending on persistence.Store directly, since toggling a
// rule needs no other Store method).
type RuleToggler interface {
	ToggleRule(ctx context.Context, ruleID int64, enabled bool) error
}

// Config configures the admin router.
type Config struct {
	Logger    zerolog.Logger
	Override  *override.Service
	Rules     RuleToggler
	Limiter   *ratelimit.Limiter
}

// NewRouter builds the chi router for the admin HTTP surface.
func NewRouter(cfg Config) *chi.Mux {
	r := chi.NewRouter()
	r.Use(xglog.Middleware())
	if cfg.Limiter != nil {
		r.Use(rateLimitMiddleware(cfg.Limiter))
	}

	r.With(mutatingRouteRateLimit()).Post("/api/gates/{id}/open", handleOpenGate(cfg))
	r.With(mutatingRouteRateLimit()).Post("/api/rules/{id}/toggle", handleToggleRule(cfg))

	return r
}

// mutatingRouteRateLimit applies a per-IP sliding-window limit to a single
// mutating route, independent of the router-wide token-bucket limiter.
func mutatingRouteRateLimit() func(http.Handler) http.Handler {
	return httprate.Limit(
		mutatingRouteLimit,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		}),
	)
}

func rateLimitMiddleware(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ratelimit.GetClientIP(r)
			if !limiter.Allow(ip) {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func handleOpenGate(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gateID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, "invalid gate id", http.StatusBadRequest)
			return
		}

		actor := r.Header.Get("X-Actor-Email")
		if actor == "" {
			actor = "unknown-operator"
		}

		if err := cfg.Override.Open(r.Context(), gateID, actor); err != nil {
			cfg.Logger.Error().Err(err).Int64("gate_id", gateID).Msg("adminhttp: manual open failed")
			http.Error(w, "failed to open gate", http.StatusBadGateway)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"opened": true, "gate_id": gateID})
	}
}

func handleToggleRule(cfg Config) http.HandlerFunc {
	type request struct {
		Enabled bool `json:"enabled"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ruleID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, "invalid rule id", http.StatusBadRequest)
			return
		}

		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		if err := cfg.Rules.ToggleRule(r.Context(), ruleID, req.Enabled); err != nil {
			cfg.Logger.Error().Err(err).Int64("rule_id", ruleID).Msg("adminhttp: rule toggle failed")
			http.Error(w, "failed to toggle rule", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"rule_id": ruleID, "enabled": req.Enabled})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
