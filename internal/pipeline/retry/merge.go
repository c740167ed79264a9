package retry

import (
	"errors"
	"fmt"

	"github.com/wlmyng/merge-coin-scripts/internal/domain/model"
	"github.com/wlmyng/merge-coin-scripts/internal/executor"
)

// Category is the dead-letter taxonomy recorded for a failed batch.
type Category string

const (
	CategoryRemoteTransient Category = "remote_transient"
	CategoryPayerExhausted  Category = "payer_exhausted"
	CategoryExecutionError  Category = "execution_error"
	CategoryLedgerIO        Category = "ledger_io_error"
)

func (c Category) String() string {
	return string(c)
}

// ErrLedgerIO marks a ledger read or write failure. It always aborts the pass.
var ErrLedgerIO = errors.New(string(CategoryLedgerIO))

func LedgerIO(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrLedgerIO, err)
}

func IsLedgerIO(err error) bool {
	return errors.Is(err, ErrLedgerIO)
}

// MergeDecision is the outcome of classifying one failed merge.
type MergeDecision struct {
	Category   Category
	Reason     string
	Status     model.UnitStatus
	PayerHint  *string
	Diagnostic string
}

func (d MergeDecision) Retryable() bool {
	return d.Category == CategoryRemoteTransient
}

// ClassifyMerge maps a failed merge by payer to a ledger status. Only a
// failure that names payer as missing or unusable exhausts it; everything
// else is recorded as failed for a later retry pass. The diagnostic is always
// err.Error() unchanged.
func ClassifyMerge(err error, payer model.Payer) MergeDecision {
	if err == nil {
		return MergeDecision{Status: model.UnitStatusMerged, Reason: "success"}
	}
	diagnostic := err.Error()

	if me, ok := executor.AsMergeError(err); ok {
		if me.Implicates(payer.ObjectID) && (me.Kind.ObjectScoped() || me.Kind == executor.FailureQuorum) {
			hint := payer.ObjectID
			return MergeDecision{
				Category:   CategoryPayerExhausted,
				Reason:     "payer_" + string(me.Kind),
				Status:     model.UnitStatusPayerExhausted,
				PayerHint:  &hint,
				Diagnostic: diagnostic,
			}
		}

		switch me.Kind {
		case executor.FailureTransport:
			return failed(CategoryRemoteTransient, "transport_"+Classify(me.Err).Reason, diagnostic)
		case executor.FailureQuorum:
			// A quorum failure that does not name the payer says nothing
			// about whether the merge landed.
			return failed(CategoryExecutionError, "quorum_unattributed", diagnostic)
		case executor.FailureObjectNotFound, executor.FailureObjectInvalid:
			return failed(CategoryExecutionError, "unit_"+string(me.Kind), diagnostic)
		case executor.FailureExecution:
			return failed(CategoryExecutionError, "execution_failed", diagnostic)
		}
	}

	decision := Classify(err)
	if decision.IsTransient() {
		return failed(CategoryRemoteTransient, decision.Reason, diagnostic)
	}
	return failed(CategoryExecutionError, decision.Reason, diagnostic)
}

func failed(category Category, reason, diagnostic string) MergeDecision {
	return MergeDecision{
		Category:   category,
		Reason:     reason,
		Status:     model.UnitStatusFailed,
		Diagnostic: diagnostic,
	}
}
