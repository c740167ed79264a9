package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wlmyng/merge-coin-scripts/internal/domain/model"
	"github.com/wlmyng/merge-coin-scripts/internal/store"
	"github.com/wlmyng/merge-coin-scripts/internal/store/mocks"
	"github.com/wlmyng/merge-coin-scripts/internal/store/sqlite"
	"go.uber.org/mock/gomock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLedger(t *testing.T) *sqlite.UnitRepo {
	t.Helper()
	db, err := sqlite.Open(sqlite.Config{Path: filepath.Join(t.TempDir(), "ledger.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlite.NewUnitRepo(db)
}

func csvRow(id string, version int, coinType string) string {
	return fmt.Sprintf("1000,1,%s,%d,dig%d,AddressOwner,0xowner,,0xprev,%s,Active,true,0,AA\n", id, version, version, coinType)
}

// fullID widens a short test id to the form stored in the ledger.
func fullID(short string) string {
	return model.NormalizeObjectID(short)
}

func pendingIDs(t *testing.T, repo store.UnitRepository) []string {
	t.Helper()
	units, err := repo.SelectEligible(context.Background(), store.EligibleFilter{
		Statuses: []model.UnitStatus{model.UnitStatusPending},
		Limit:    1000,
	})
	require.NoError(t, err)
	ids := make([]string, len(units))
	for i, u := range units {
		ids[i] = u.ExternalID
	}
	return ids
}

func TestLoader_LoadsInChunksAndExcludesPayers(t *testing.T) {
	repo := newLedger(t)
	payer := "0x00ff"

	var b strings.Builder
	for i := 1; i <= 5; i++ {
		b.WriteString(csvRow(fmt.Sprintf("0x%04x", i), i, model.SuiCoinType))
	}
	b.WriteString(csvRow("0x00FF", 9, model.SuiCoinType))
	b.WriteString(csvRow("0x0100", 10, "0xdead::usdc::USDC"))
	b.WriteString("broken,row\n")
	b.WriteString(csvRow("0x0001", 1, model.SuiCoinType))

	loader := NewLoader(repo, testLogger(), WithChunkSize(2), WithExclude([]string{payer}), WithCoinType(model.SuiCoinType))
	stats, err := loader.Load(context.Background(), NewCSVReader(strings.NewReader(b.String())), string(FormatCSV))
	require.NoError(t, err)

	assert.Equal(t, int64(9), stats.Read)
	assert.Equal(t, int64(5), stats.Inserted)
	assert.Equal(t, int64(1), stats.Skipped[SkipPayer])
	assert.Equal(t, int64(1), stats.Skipped[SkipCoinType])
	assert.Equal(t, int64(1), stats.Skipped[SkipMalformed])
	assert.Equal(t, int64(1), stats.Skipped[SkipDuplicate])

	assert.Equal(t, []string{fullID("0x1"), fullID("0x2"), fullID("0x3"), fullID("0x4"), fullID("0x5")}, pendingIDs(t, repo))
}

func TestLoader_ChunkBoundaries(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockUnitRepository(ctrl)

	var sizes []int
	repo.EXPECT().BulkInsert(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, units []model.UnitRecord) (int64, error) {
			sizes = append(sizes, len(units))
			return int64(len(units)), nil
		}).Times(3)

	var b strings.Builder
	for i := 1; i <= 7; i++ {
		b.WriteString(csvRow(fmt.Sprintf("0x%04x", i), i, model.SuiCoinType))
	}
	stats, err := NewLoader(repo, testLogger(), WithChunkSize(3)).
		Load(context.Background(), NewCSVReader(strings.NewReader(b.String())), "csv")
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3, 1}, sizes)
	assert.Equal(t, int64(7), stats.Inserted)
}

func TestLoader_InsertErrorStopsLoad(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockUnitRepository(ctrl)

	repo.EXPECT().BulkInsert(gomock.Any(), gomock.Any()).
		Return(int64(0), errors.New("disk full")).Times(1)

	input := csvRow("0x0001", 1, model.SuiCoinType) + csvRow("0x0002", 2, model.SuiCoinType)
	_, err := NewLoader(repo, testLogger(), WithChunkSize(1)).
		Load(context.Background(), NewCSVReader(strings.NewReader(input)), "csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestLoader_HonorsCancellation(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockUnitRepository(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLoader(repo, testLogger()).
		Load(ctx, NewCSVReader(strings.NewReader(csvRow("0x0001", 1, model.SuiCoinType))), "csv")
	assert.ErrorIs(t, err, context.Canceled)
}
