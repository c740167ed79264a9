package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wlmyng/merge-coin-scripts/internal/domain/event"
	"github.com/wlmyng/merge-coin-scripts/internal/domain/model"
)

func TestPassHealth_StartsIdle(t *testing.T) {
	h := NewPassHealth("mainnet")

	snap := h.Snapshot()
	assert.Equal(t, string(HealthStatusIdle), snap.Status)
	assert.Equal(t, "mainnet", snap.Network)
	assert.True(t, h.Healthy())
}

func TestPassHealth_DegradesAfterConsecutiveFailures(t *testing.T) {
	h := NewPassHealth("mainnet")
	h.Start("pass-1")

	for i := 0; i < DefaultDegradedThreshold-1; i++ {
		assert.False(t, h.RecordFailure(), "should not degrade before threshold")
	}
	assert.True(t, h.RecordFailure(), "should degrade at threshold")
	assert.Equal(t, string(HealthStatusDegraded), h.Snapshot().Status)
	assert.True(t, h.Healthy())

	h.RecordSuccess()
	snap := h.Snapshot()
	assert.Equal(t, string(HealthStatusRunning), snap.Status)
	assert.Equal(t, 0, snap.ConsecutiveFailures)
	assert.Equal(t, int64(DefaultDegradedThreshold), snap.UnmergedBatches)
}

func TestPassHealth_ObserveIgnoresProcessing(t *testing.T) {
	h := NewPassHealth("testnet")
	h.Start("pass-2")

	h.Observe(event.StatusEvent{Status: model.UnitStatusProcessing})
	h.Observe(event.StatusEvent{Status: model.UnitStatusMerged})
	h.Observe(event.StatusEvent{Status: model.UnitStatusPayerExhausted})
	h.Observe(event.StatusEvent{Status: model.UnitStatusFailed})

	snap := h.Snapshot()
	assert.Equal(t, int64(1), snap.MergedBatches)
	assert.Equal(t, int64(2), snap.UnmergedBatches)
	assert.Equal(t, 2, snap.ConsecutiveFailures)
	assert.NotNil(t, snap.LastSuccessAt)
	assert.NotNil(t, snap.LastFailureAt)
}

func TestPassHealth_Finish(t *testing.T) {
	h := NewPassHealth("testnet")
	h.Start("pass-3")
	h.Finish(nil)
	assert.Equal(t, string(HealthStatusCompleted), h.Snapshot().Status)
	assert.NotNil(t, h.Snapshot().FinishedAt)

	h.Start("pass-4")
	assert.Nil(t, h.Snapshot().FinishedAt)
	h.Finish(errors.New("ledger_io_error: disk full"))
	snap := h.Snapshot()
	assert.Equal(t, string(HealthStatusAborted), snap.Status)
	assert.Equal(t, "ledger_io_error: disk full", snap.LastError)
	assert.Equal(t, "pass-4", snap.PassID)
	assert.False(t, h.Healthy())
}
