package event

import "github.com/wlmyng/merge-coin-scripts/internal/domain/model"

// Source identifies which stage emitted a StatusEvent.
type Source string

const (
	SourceScanner Source = "scanner"
	SourceWorker  Source = "worker"
)

// StatusEvent asks the result writer to move a set of positions to Status.
type StatusEvent struct {
	Positions []int64
	Status    model.UnitStatus
	Error     *string
	PayerHint *string
	Category  string // classifier category, empty for scanner events
	Source    Source
	WorkerID  int
	BatchSeq  int64
}
