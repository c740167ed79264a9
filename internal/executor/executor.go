//go:generate mockgen -source=executor.go -destination=mocks/mock_executor.go -package=mocks

package executor

import (
	"context"

	"github.com/wlmyng/merge-coin-scripts/internal/domain/model"
)

// Receipt describes a merge the remote ledger accepted.
type Receipt struct {
	Digest   string
	Consumed int
}

// Executor merges units into payer in one remote transaction. Failures are
// returned as *MergeError so callers can inspect the kind and implicated ids.
type Executor interface {
	Merge(ctx context.Context, units []model.UnitRef, payer model.Payer) (*Receipt, error)
}

// Func adapts a plain function to Executor.
type Func func(ctx context.Context, units []model.UnitRef, payer model.Payer) (*Receipt, error)

func (f Func) Merge(ctx context.Context, units []model.UnitRef, payer model.Payer) (*Receipt, error) {
	return f(ctx, units, payer)
}
