package pipeline

import (
	"sync"
	"time"

	"github.com/wlmyng/merge-coin-scripts/internal/domain/event"
	"github.com/wlmyng/merge-coin-scripts/internal/domain/model"
)

// HealthStatus represents the state of the current pass.
type HealthStatus string

const (
	HealthStatusIdle      HealthStatus = "IDLE"
	HealthStatusRunning   HealthStatus = "RUNNING"
	HealthStatusDegraded  HealthStatus = "DEGRADED"
	HealthStatusCompleted HealthStatus = "COMPLETED"
	HealthStatusAborted   HealthStatus = "ABORTED"

	// DefaultDegradedThreshold is the number of consecutive unmerged
	// batches before a running pass is reported degraded.
	DefaultDegradedThreshold = 5
)

// PassHealth tracks the outcome stream of one pass for the health endpoint.
type PassHealth struct {
	mu                  sync.RWMutex
	network             string
	passID              string
	status              HealthStatus
	consecutiveFailures int
	merged              int64
	unmerged            int64
	startedAt           *time.Time
	finishedAt          *time.Time
	lastSuccessAt       *time.Time
	lastFailureAt       *time.Time
	lastError           string
	degradedThreshold   int
}

func NewPassHealth(network string) *PassHealth {
	return &PassHealth{
		network:           network,
		status:            HealthStatusIdle,
		degradedThreshold: DefaultDegradedThreshold,
	}
}

// Start resets the tracker for a new pass.
func (h *PassHealth) Start(passID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	h.passID = passID
	h.status = HealthStatusRunning
	h.consecutiveFailures = 0
	h.merged = 0
	h.unmerged = 0
	h.startedAt = &now
	h.finishedAt = nil
	h.lastSuccessAt = nil
	h.lastFailureAt = nil
	h.lastError = ""
}

// Observe feeds one applied status event into the tracker. Processing
// events carry no outcome and are ignored.
func (h *PassHealth) Observe(ev event.StatusEvent) {
	switch ev.Status {
	case model.UnitStatusMerged:
		h.RecordSuccess()
	case model.UnitStatusFailed, model.UnitStatusPayerExhausted:
		h.RecordFailure()
	}
}

// RecordSuccess records a merged batch.
func (h *PassHealth) RecordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	h.merged++
	h.consecutiveFailures = 0
	h.lastSuccessAt = &now
	if h.status == HealthStatusDegraded {
		h.status = HealthStatusRunning
	}
}

// RecordFailure records an unmerged batch. Returns true if the pass
// transitioned to degraded on this call.
func (h *PassHealth) RecordFailure() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	h.unmerged++
	h.consecutiveFailures++
	h.lastFailureAt = &now
	if h.status == HealthStatusRunning && h.consecutiveFailures >= h.degradedThreshold {
		h.status = HealthStatusDegraded
		return true
	}
	return false
}

// Finish marks the pass completed, or aborted when err is non-nil.
func (h *PassHealth) Finish(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	h.finishedAt = &now
	if err != nil {
		h.status = HealthStatusAborted
		h.lastError = err.Error()
		return
	}
	h.status = HealthStatusCompleted
}

// Healthy reports whether the process should answer the health check with 200.
func (h *PassHealth) Healthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status != HealthStatusAborted
}

// Snapshot returns the current health state.
func (h *PassHealth) Snapshot() HealthSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HealthSnapshot{
		Network:             h.network,
		PassID:              h.passID,
		Status:              string(h.status),
		ConsecutiveFailures: h.consecutiveFailures,
		MergedBatches:       h.merged,
		UnmergedBatches:     h.unmerged,
		StartedAt:           h.startedAt,
		FinishedAt:          h.finishedAt,
		LastSuccessAt:       h.lastSuccessAt,
		LastFailureAt:       h.lastFailureAt,
		LastError:           h.lastError,
	}
}

// HealthSnapshot is a point-in-time view of pass health (JSON-safe).
type HealthSnapshot struct {
	Network             string     `json:"network"`
	PassID              string     `json:"pass_id,omitempty"`
	Status              string     `json:"status"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	MergedBatches       int64      `json:"merged_batches"`
	UnmergedBatches     int64      `json:"unmerged_batches"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	FinishedAt          *time.Time `json:"finished_at,omitempty"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
}
