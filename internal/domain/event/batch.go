package event

import "github.com/wlmyng/merge-coin-scripts/internal/domain/model"

// Batch is a contiguous run of units dispatched to one worker.
type Batch struct {
	Seq      int64 // pass-global, assigned by the scanner
	WorkerID int
	Units    []model.UnitRecord
}

func (b Batch) Positions() []int64 {
	positions := make([]int64, len(b.Units))
	for i, u := range b.Units {
		positions[i] = u.Position
	}
	return positions
}

func (b Batch) Refs() []model.UnitRef {
	refs := make([]model.UnitRef, len(b.Units))
	for i, u := range b.Units {
		refs[i] = u.Ref()
	}
	return refs
}
