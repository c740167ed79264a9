package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	suirpc "github.com/wlmyng/merge-coin-scripts/internal/chain/sui/rpc"
	"github.com/wlmyng/merge-coin-scripts/internal/chain/sui/rpc/mocks"
	"github.com/wlmyng/merge-coin-scripts/internal/domain/model"
	"go.uber.org/mock/gomock"
)

const fetchOwner = "0x00000000000000000000000000000000000000000000000000000000000000ee"

func coin(id, version string) suirpc.Coin {
	return suirpc.Coin{
		CoinType:     model.SuiCoinType,
		CoinObjectID: id,
		Version:      version,
		Digest:       "d" + version,
		Balance:      "10",
	}
}

func strPtr(s string) *string { return &s }

func TestFetcher_PagesIntoLedger(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockRPCClient(ctrl)
	repo := newLedger(t)

	gomock.InOrder(
		client.EXPECT().GetCoins(gomock.Any(), fetchOwner, model.SuiCoinType, (*string)(nil), 2).
			Return(&suirpc.CoinPage{
				Data:        []suirpc.Coin{coin("0x01", "1"), coin("0x02", "2")},
				NextCursor:  strPtr("c1"),
				HasNextPage: true,
			}, nil),
		client.EXPECT().GetCoins(gomock.Any(), fetchOwner, model.SuiCoinType, strPtr("c1"), 2).
			Return(&suirpc.CoinPage{
				Data:        []suirpc.Coin{coin("0x03", "3"), coin("0x99", "bad")},
				HasNextPage: false,
			}, nil),
	)

	loader := NewLoader(repo, testLogger(), WithExclude([]string{"0x02"}))
	stats, err := NewFetcher(client, loader, testLogger(), WithPageSize(2)).Fetch(context.Background(), fetchOwner)
	require.NoError(t, err)

	assert.Equal(t, int64(2), stats.Inserted)
	assert.Equal(t, int64(1), stats.Skipped[SkipPayer])
	assert.Equal(t, int64(1), stats.Skipped[SkipMalformed])
	assert.Equal(t, []string{fullID("0x01"), fullID("0x03")}, pendingIDs(t, repo))
}

func TestFetcher_RetriesTransientPageErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockRPCClient(ctrl)
	repo := newLedger(t)

	gomock.InOrder(
		client.EXPECT().GetCoins(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, errors.New("suix_getCoins(0xee): http status 429: too many requests")),
		client.EXPECT().GetCoins(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(&suirpc.CoinPage{Data: []suirpc.Coin{coin("0x01", "1")}}, nil),
	)

	f := NewFetcher(client, NewLoader(repo, testLogger()), testLogger(), WithFetchRetry(3, 20*time.Millisecond, time.Second))
	var slept []time.Duration
	f.sleepFn = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	stats, err := f.Fetch(context.Background(), fetchOwner)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Inserted)
	assert.Equal(t, []time.Duration{20 * time.Millisecond}, slept)
}

func TestFetcher_TerminalErrorStops(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockRPCClient(ctrl)

	client.EXPECT().GetCoins(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, &suirpc.RPCError{Code: -32602, Message: "Invalid params"}).Times(1)

	_, err := NewFetcher(client, NewLoader(newLedger(t), testLogger()), testLogger()).Fetch(context.Background(), "0xbad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "terminal_failure stage=fetcher.get_coins")

	var rpcErr *suirpc.RPCError
	assert.ErrorAs(t, err, &rpcErr)
}
