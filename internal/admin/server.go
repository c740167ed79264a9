package admin

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/wlmyng/merge-coin-scripts/internal/domain/model"
	"github.com/wlmyng/merge-coin-scripts/internal/pipeline"
	"github.com/wlmyng/merge-coin-scripts/internal/store"
)

const (
	maxRequestBodyBytes = 1 << 20
	defaultListLimit    = 100
	maxListLimit        = 1000
)

// HealthProvider reports the state of the current pass.
type HealthProvider interface {
	Snapshot() pipeline.HealthSnapshot
}

// Stopper cancels the running pass. Stop reports false when nothing is
// running.
type Stopper interface {
	Stop(reason string) bool
}

// StopFunc adapts a plain function to Stopper.
type StopFunc func(reason string) bool

func (f StopFunc) Stop(reason string) bool { return f(reason) }

// Server is the operator API: ledger counts, per-status listings, pass
// health and a graceful stop.
type Server struct {
	repo    store.UnitRepository
	health  HealthProvider
	stopper Stopper
	logger  *slog.Logger
}

type ServerOption func(*Server)

func WithHealthProvider(hp HealthProvider) ServerOption {
	return func(s *Server) { s.health = hp }
}

func WithStopper(st Stopper) ServerOption {
	return func(s *Server) { s.stopper = st }
}

func NewServer(repo store.UnitRepository, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		repo:   repo,
		logger: logger.With("component", "admin"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/v1/status", s.handleGetStatus)
	mux.HandleFunc("GET /admin/v1/units", s.handleListUnits)
	mux.HandleFunc("GET /admin/v1/health", s.handleHealth)
	mux.HandleFunc("POST /admin/v1/stop", s.handleStop)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type statusResponse struct {
	Counts map[model.UnitStatus]int64 `json:"counts"`
	Total  int64                      `json:"total"`
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.repo.CountByStatus(r.Context())
	if err != nil {
		s.logger.Error("count by status failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	resp := statusResponse{Counts: counts}
	for _, n := range counts {
		resp.Total += n
	}
	writeJSON(w, http.StatusOK, resp)
}

type unitResponse struct {
	Position  int64     `json:"position"`
	ObjectID  string    `json:"object_id"`
	Balance   string    `json:"balance"`
	Version   int64     `json:"version"`
	Digest    string    `json:"digest"`
	CoinType  string    `json:"coin_type"`
	Status    string    `json:"status"`
	Error     *string   `json:"error,omitempty"`
	PayerHint *string   `json:"payer_hint,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type listUnitsResponse struct {
	Units     []unitResponse `json:"units"`
	NextAfter *int64         `json:"next_after,omitempty"`
}

// handleListUnits pages through one status in ledger order. Pass next_after
// back as after to continue.
func (s *Server) handleListUnits(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := model.UnitStatus(q.Get("status"))
	if !status.Valid() {
		writeError(w, http.StatusBadRequest, "status query param must be one of pending, processing, merged, failed, payer_exhausted")
		return
	}
	after, err := parseInt64Param(q.Get("after"), 0)
	if err != nil || after < 0 {
		writeError(w, http.StatusBadRequest, "after must be a non-negative integer")
		return
	}
	limit, err := parseInt64Param(q.Get("limit"), defaultListLimit)
	if err != nil || limit < 1 || limit > maxListLimit {
		writeError(w, http.StatusBadRequest, "limit must be in [1, 1000]")
		return
	}

	units, err := s.repo.ListByStatus(r.Context(), status, after, int(limit))
	if err != nil {
		s.logger.Error("list units failed", "status", status, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := listUnitsResponse{Units: make([]unitResponse, 0, len(units))}
	for _, u := range units {
		resp.Units = append(resp.Units, unitResponse{
			Position:  u.Position,
			ObjectID:  u.ExternalID,
			Balance:   u.Balance,
			Version:   u.Version,
			Digest:    u.Digest,
			CoinType:  u.UnitType,
			Status:    string(u.Status),
			Error:     u.Error,
			PayerHint: u.OwnerPayerHint,
			UpdatedAt: u.UpdatedAt,
		})
	}
	if int64(len(units)) == limit {
		next := units[len(units)-1].Position
		resp.NextAfter = &next
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseInt64Param(raw string, fallback int64) (int64, error) {
	if raw == "" {
		return fallback, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeError(w, http.StatusServiceUnavailable, "health provider not available")
		return
	}
	writeJSON(w, http.StatusOK, s.health.Snapshot())
}

type stopRequest struct {
	Reason string `json:"reason"`
}

type stopResponse struct {
	Stopping bool   `json:"stopping"`
	Reason   string `json:"reason"`
}

// handleStop cancels the pass as a signal would. In-flight batches stay
// processing for a later readmission pass.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if s.stopper == nil {
		writeError(w, http.StatusServiceUnavailable, "stop not available")
		return
	}

	var req stopRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Reason == "" {
		req.Reason = "operator request"
	}

	if !s.stopper.Stop(req.Reason) {
		writeError(w, http.StatusConflict, "no pass running")
		return
	}
	s.logger.Warn("pass stop requested", "reason", req.Reason, "remote_addr", r.RemoteAddr)
	writeJSON(w, http.StatusAccepted, stopResponse{Stopping: true, Reason: req.Reason})
}
