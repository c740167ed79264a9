package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wlmyng/merge-coin-scripts/internal/domain/model"
	"github.com/wlmyng/merge-coin-scripts/internal/executor"
)

const (
	ownPayer   = "0x00000000000000000000000000000000000000000000000000000000000000a2"
	otherPayer = "0x00000000000000000000000000000000000000000000000000000000000000b7"
	someCoin   = "0x00000000000000000000000000000000000000000000000000000000000000c9"
)

func TestClassifyMerge(t *testing.T) {
	payer := model.Payer{ObjectID: ownPayer, WorkerID: 1}
	quorum := "Transaction has non recoverable errors from at least 1/3 of validators"

	testCases := []struct {
		name     string
		err      error
		category Category
		status   model.UnitStatus
		hint     bool
	}{
		{
			name:     "own payer deleted",
			err:      executor.ParseRemoteFailure(-32002, fmt.Sprintf("Object %s deleted", ownPayer)),
			category: CategoryPayerExhausted,
			status:   model.UnitStatusPayerExhausted,
			hint:     true,
		},
		{
			name:     "own payer version unavailable",
			err:      executor.ParseRemoteFailure(-32002, fmt.Sprintf("Object %s version unavailable for consumption", ownPayer)),
			category: CategoryPayerExhausted,
			status:   model.UnitStatusPayerExhausted,
			hint:     true,
		},
		{
			name:     "own payer missing at version none",
			err:      executor.ParseRemoteFailure(-32002, fmt.Sprintf("Could not find the referenced object %s at version None", ownPayer)),
			category: CategoryPayerExhausted,
			status:   model.UnitStatusPayerExhausted,
			hint:     true,
		},
		{
			name:     "own payer not available for consumption",
			err:      executor.ParseRemoteFailure(-32002, fmt.Sprintf("Object %s is not available for consumption, its current version: 7", ownPayer)),
			category: CategoryPayerExhausted,
			status:   model.UnitStatusPayerExhausted,
			hint:     true,
		},
		{
			name:     "quorum naming own payer",
			err:      executor.ParseRemoteFailure(-32002, fmt.Sprintf("%s: [ObjectNotFound %s]", quorum, ownPayer)),
			category: CategoryPayerExhausted,
			status:   model.UnitStatusPayerExhausted,
			hint:     true,
		},
		{
			name:     "another worker's payer is not ours",
			err:      executor.ParseRemoteFailure(-32002, fmt.Sprintf("Object %s deleted", otherPayer)),
			category: CategoryExecutionError,
			status:   model.UnitStatusFailed,
		},
		{
			name:     "quorum not naming payer is never success",
			err:      executor.ParseRemoteFailure(-32002, quorum),
			category: CategoryExecutionError,
			status:   model.UnitStatusFailed,
		},
		{
			name:     "consumed unit in batch",
			err:      executor.ParseRemoteFailure(-32002, fmt.Sprintf("Object %s not found", someCoin)),
			category: CategoryExecutionError,
			status:   model.UnitStatusFailed,
		},
		{
			name:     "transport timeout",
			err:      executor.Transport(fmt.Errorf("http request: %w", context.DeadlineExceeded)),
			category: CategoryRemoteTransient,
			status:   model.UnitStatusFailed,
		},
		{
			name:     "effects failure",
			err:      executor.ParseExecutionFailure("InsufficientCoinBalance in command 0"),
			category: CategoryExecutionError,
			status:   model.UnitStatusFailed,
		},
		{
			name:     "unstructured transient",
			err:      errors.New("connection reset by peer"),
			category: CategoryRemoteTransient,
			status:   model.UnitStatusFailed,
		},
		{
			name:     "unstructured unknown",
			err:      errors.New("something odd"),
			category: CategoryExecutionError,
			status:   model.UnitStatusFailed,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			d := ClassifyMerge(tc.err, payer)
			assert.Equal(t, tc.category, d.Category)
			assert.Equal(t, tc.status, d.Status)
			assert.Equal(t, tc.err.Error(), d.Diagnostic)
			assert.NotEmpty(t, d.Reason)
			if tc.hint {
				require.NotNil(t, d.PayerHint)
				assert.Equal(t, ownPayer, *d.PayerHint)
			} else {
				assert.Nil(t, d.PayerHint)
			}
		})
	}
}

func TestClassifyMerge_WrappedMergeError(t *testing.T) {
	payer := model.Payer{ObjectID: ownPayer}
	inner := executor.ParseRemoteFailure(0, fmt.Sprintf("Object %s not found", ownPayer))
	err := fmt.Errorf("merge 3 units: %w", inner)

	d := ClassifyMerge(err, payer)
	assert.Equal(t, CategoryPayerExhausted, d.Category)
	assert.Equal(t, err.Error(), d.Diagnostic)
}

func TestClassifyMerge_ShortPayerMatchesFullWidthDiagnostic(t *testing.T) {
	payers, err := model.NewPayers([]string{"0xA2"})
	require.NoError(t, err)

	d := ClassifyMerge(executor.ParseRemoteFailure(-32002,
		fmt.Sprintf("Could not find the referenced object %s at version None", ownPayer)), payers[0])
	assert.Equal(t, CategoryPayerExhausted, d.Category)
	require.NotNil(t, d.PayerHint)
	assert.Equal(t, ownPayer, *d.PayerHint)
}

func TestClassifyMerge_NilIsMerged(t *testing.T) {
	d := ClassifyMerge(nil, model.Payer{})
	assert.Equal(t, model.UnitStatusMerged, d.Status)
	assert.Empty(t, d.Category)
}

func TestMergeDecision_Retryable(t *testing.T) {
	assert.True(t, MergeDecision{Category: CategoryRemoteTransient}.Retryable())
	assert.False(t, MergeDecision{Category: CategoryExecutionError}.Retryable())
	assert.False(t, MergeDecision{Category: CategoryPayerExhausted}.Retryable())
}

func TestLedgerIO(t *testing.T) {
	cause := errors.New("disk I/O error")
	err := LedgerIO(cause)
	assert.True(t, IsLedgerIO(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "ledger_io_error")
	assert.Nil(t, LedgerIO(nil))
	assert.False(t, IsLedgerIO(cause))
}
