package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/maltedev/grocery-scraper/internal/database"
	"github.com/maltedev/grocery-scraper/internal/models"
	"github.com/maltedev/grocery-scraper/internal/service"
)

// Runner triggers scrape runs.
type Runner interface {
	RunNow(ctx context.Context) (*models.RunResult, error)
	Stores() []string
}

// RunReader reads stored runs.
type RunReader interface {
	Get(ctx context.Context, id uuid.UUID) (*database.Run, error)
	List(ctx context.Context, limit int) ([]*database.Run, error)
}

// OutboxStats reports the relay backlog for health checks.
type OutboxStats interface {
	Stats(ctx context.Context) (database.RelayStats, error)
}

const (
	pendingWarnThreshold    = 1000
	deadLetterFailThreshold = 100
	maxListLimit            = 100
)

type Handlers struct {
	runner Runner
	runs   RunReader
	outbox OutboxStats
	logger *slog.Logger
}

// NewHandlers wires the HTTP handlers. runs and outbox may be nil when the
// service runs without a database.
func NewHandlers(runner Runner, runs RunReader, outbox OutboxStats, logger *slog.Logger) *Handlers {
	return &Handlers{
		runner: runner,
		runs:   runs,
		outbox: outbox,
		logger: logger.With("component", "api"),
	}
}

// RunNow crawls every store and returns the outcome. Partial failure is
// still a 200; each outcome carries its own status.
func (h *Handlers) RunNow(w http.ResponseWriter, r *http.Request) {
	result, err := h.runner.RunNow(r.Context())
	if errors.Is(err, service.ErrRunInProgress) {
		h.respondError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("scrape run failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to save scrape run")
		return
	}

	h.respondJSON(w, http.StatusOK, result)
}

func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		h.respondError(w, http.StatusServiceUnavailable, "run history is not available")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid run ID")
		return
	}

	run, err := h.runs.Get(r.Context(), id)
	if errors.Is(err, database.ErrRunNotFound) {
		h.respondError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get run", "run_id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	h.respondJSON(w, http.StatusOK, run)
}

// ListRuns returns recent runs, newest first. ?limit caps the count.
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		h.respondError(w, http.StatusServiceUnavailable, "run history is not available")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	runs, err := h.runs.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	h.respondJSON(w, http.StatusOK, runs)
}

func (h *Handlers) ListStores(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string][]string{"stores": h.runner.Stores()})
}

// Health reports ok unless the outbox backlog suggests the relay is stuck.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{"status": "ok"}
	status := http.StatusOK

	if h.outbox != nil {
		stats, err := h.outbox.Stats(r.Context())
		switch {
		case err != nil:
			h.logger.Warn("failed to read outbox stats", "error", err)
			health["status"] = "error"
			health["message"] = "outbox unavailable"
			status = http.StatusServiceUnavailable
		case stats.DeadLetter > deadLetterFailThreshold:
			health["status"] = "error"
			health["message"] = "High number of dead letter events"
			status = http.StatusServiceUnavailable
		case stats.Pending > pendingWarnThreshold:
			health["status"] = "warning"
			health["message"] = "High number of pending outbox events"
		}
		if err == nil {
			health["outbox"] = stats
		}
	}

	h.respondJSON(w, status, health)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
