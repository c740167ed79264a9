//go:generate mockgen -source=repository.go -destination=mocks/mock_repository.go -package=mocks

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wlmyng/merge-coin-scripts/internal/domain/model"
)

// ErrPayerLeased is returned when another process already holds a payer.
var ErrPayerLeased = errors.New("payer already leased")

// ErrPayerLeaseLost aborts a pass whose payer claim expired or was taken.
var ErrPayerLeaseLost = errors.New("payer lease lost")

// EligibleFilter selects the next units a scan may dispatch.
type EligibleFilter struct {
	Statuses           []model.UnitStatus
	AfterPosition      int64
	Limit              int
	ExcludeExternalIDs []string
}

func (f EligibleFilter) Validate() error {
	if len(f.Statuses) == 0 {
		return fmt.Errorf("eligible filter: at least one status is required")
	}
	for _, s := range f.Statuses {
		if !s.Valid() {
			return fmt.Errorf("eligible filter: unknown status %q", s)
		}
		if s.Terminal() {
			return fmt.Errorf("eligible filter: status %q is terminal", s)
		}
	}
	if f.Limit <= 0 {
		return fmt.Errorf("eligible filter: limit must be positive, got %d", f.Limit)
	}
	return nil
}

// Transition moves a set of positions to one status in a single atomic write.
type Transition struct {
	Positions []int64
	Status    model.UnitStatus
	Error     *string
	PayerHint *string
}

func (t Transition) Validate() error {
	if !t.Status.Valid() {
		return fmt.Errorf("transition: unknown status %q", t.Status)
	}
	if len(t.Positions) == 0 {
		return fmt.Errorf("transition: no positions")
	}
	return nil
}

// Diagnostics returns the error and hint columns to write. Merged clears
// both, processing keeps what is stored (keep=true), and the dead-letter
// states record the values carried by the transition.
func (t Transition) Diagnostics() (errText, hint *string, keep bool) {
	switch t.Status {
	case model.UnitStatusMerged, model.UnitStatusPending:
		return nil, nil, false
	case model.UnitStatusProcessing:
		return nil, nil, true
	default:
		return t.Error, t.PayerHint, false
	}
}

// StatusStrings converts statuses for driver parameters.
func StatusStrings(statuses []model.UnitStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// EmptyCounts returns a count map with every status present.
func EmptyCounts() map[model.UnitStatus]int64 {
	counts := make(map[model.UnitStatus]int64, 5)
	for _, s := range model.AllUnitStatuses() {
		counts[s] = 0
	}
	return counts
}

// UnitRepository provides access to the unit ledger. ApplyTransition never
// moves a merged record.
type UnitRepository interface {
	SelectEligible(ctx context.Context, filter EligibleFilter) ([]model.UnitRecord, error)
	ApplyTransition(ctx context.Context, t Transition) (int64, error)
	CountByStatus(ctx context.Context) (map[model.UnitStatus]int64, error)
	ListByStatus(ctx context.Context, status model.UnitStatus, afterPosition int64, limit int) ([]model.UnitRecord, error)
	BulkInsert(ctx context.Context, units []model.UnitRecord) (int64, error)
}

// Purger empties the ledger before a fresh ingest. Positions are not
// reused after a purge.
type Purger interface {
	Purge(ctx context.Context) (int64, error)
}

// PayerLeaser guards payers against concurrent use by separate processes.
// lost is closed once any claim can no longer be guaranteed; a nil lost
// channel means claims never lapse while held.
type PayerLeaser interface {
	Acquire(ctx context.Context, payerIDs []string, ttl time.Duration) (release func(context.Context) error, lost <-chan struct{}, err error)
}
