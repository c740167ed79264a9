//go:build integration

package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/wlmyng/merge-coin-scripts/internal/domain/model"
	"github.com/wlmyng/merge-coin-scripts/internal/executor"
	"github.com/wlmyng/merge-coin-scripts/internal/store"
	redisstore "github.com/wlmyng/merge-coin-scripts/internal/store/redis"
)

func TestRun_AbortsWhenRedisLeaseDeleted(t *testing.T) {
	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(context.Background()))
	})
	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	lease, err := redisstore.NewLease(url, "pass:payer:", testLogger())
	require.NoError(t, err)
	defer lease.Close()

	repo := newLedger(t)
	seedN(t, repo, 8)
	payers := payerList(t, 1)

	var once sync.Once
	exec := executor.Func(func(ctx context.Context, _ []model.UnitRef, payer model.Payer) (*executor.Receipt, error) {
		once.Do(func() {
			require.NoError(t, lease.Client().Del(context.Background(), "pass:payer:"+payer.ObjectID).Err())
		})
		<-ctx.Done()
		return nil, ctx.Err()
	})

	p := New(Config{Network: "testnet", BatchSize: 2, LeaseTTL: 300 * time.Millisecond},
		repo, exec, payers, testLogger(), WithLeaser(lease))

	runCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	summary, err := p.Run(runCtx)
	require.ErrorIs(t, err, store.ErrPayerLeaseLost)
	require.NotNil(t, summary)
	assert.True(t, summary.Interrupted)
	assert.Zero(t, summary.Counts[model.UnitStatusMerged])
}
