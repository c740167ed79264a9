package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wlmyng/merge-coin-scripts/internal/domain/model"
)

func TestEligibleFilter_Validate(t *testing.T) {
	ok := EligibleFilter{Statuses: []model.UnitStatus{model.UnitStatusPending}, Limit: 10}
	require.NoError(t, ok.Validate())

	tests := []struct {
		name   string
		filter EligibleFilter
		msg    string
	}{
		{"no statuses", EligibleFilter{Limit: 1}, "at least one status"},
		{"unknown status", EligibleFilter{Statuses: []model.UnitStatus{"processed"}, Limit: 1}, "unknown status"},
		{"merged is never eligible", EligibleFilter{Statuses: []model.UnitStatus{model.UnitStatusMerged}, Limit: 1}, "terminal"},
		{"zero limit", EligibleFilter{Statuses: []model.UnitStatus{model.UnitStatusFailed}}, "limit"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.filter.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.msg)
		})
	}
}

func TestTransition_Diagnostics(t *testing.T) {
	msg := "boom"
	hint := "0xpayer"

	e, h, keep := Transition{Status: model.UnitStatusMerged, Error: &msg, PayerHint: &hint}.Diagnostics()
	assert.Nil(t, e)
	assert.Nil(t, h)
	assert.False(t, keep)

	_, _, keep = Transition{Status: model.UnitStatusProcessing}.Diagnostics()
	assert.True(t, keep)

	e, h, keep = Transition{Status: model.UnitStatusPayerExhausted, Error: &msg, PayerHint: &hint}.Diagnostics()
	assert.Equal(t, &msg, e)
	assert.Equal(t, &hint, h)
	assert.False(t, keep)
}

func TestTransition_Validate(t *testing.T) {
	require.NoError(t, Transition{Positions: []int64{1}, Status: model.UnitStatusFailed}.Validate())
	require.Error(t, Transition{Positions: []int64{1}, Status: "done"}.Validate())
	require.Error(t, Transition{Status: model.UnitStatusFailed}.Validate())
}

func TestEmptyCounts(t *testing.T) {
	counts := EmptyCounts()
	assert.Len(t, counts, 5)
	for _, s := range model.AllUnitStatuses() {
		assert.Zero(t, counts[s])
	}
}
