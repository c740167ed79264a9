package ingest

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	suirpc "github.com/wlmyng/merge-coin-scripts/internal/chain/sui/rpc"
	"github.com/wlmyng/merge-coin-scripts/internal/domain/model"
)

func drainReader(t *testing.T, r RecordReader) ([]model.UnitRecord, int) {
	t.Helper()
	var (
		units     []model.UnitRecord
		malformed int
	)
	for {
		u, err := r.Next()
		if errors.Is(err, io.EOF) {
			return units, malformed
		}
		if errors.Is(err, ErrMalformed) {
			malformed++
			continue
		}
		require.NoError(t, err)
		units = append(units, u)
	}
}

func TestCSVReader_ParsesExportColumns(t *testing.T) {
	input := "balance,checkpoint,coin_object_id,version,digest,owner_type,owner_address,initial_shared_version,previous_transaction,coin_type,object_status,has_public_transfer,storage_rebate,bcs\n" +
		"18446744073709551615,10,0xA1,5,digA,AddressOwner,0xowner,,0xprev,0x2::sui::SUI,Active,true,988000,AAA\n" +
		"7,11,a2,6,digB,AddressOwner,0xowner,,0xprev,,Active,true,988000,BBB\n"

	units, malformed := drainReader(t, NewCSVReader(strings.NewReader(input)))
	assert.Zero(t, malformed)
	require.Len(t, units, 2)

	assert.Equal(t, model.UnitRecord{
		ExternalID: fullID("0xa1"),
		Balance:    "18446744073709551615",
		Version:    5,
		Digest:     "digA",
		UnitType:   model.SuiCoinType,
		Status:     model.UnitStatusPending,
	}, units[0])
	assert.Equal(t, fullID("0xa2"), units[1].ExternalID)
	assert.Equal(t, model.SuiCoinType, units[1].UnitType)
}

func TestCSVReader_SkipsMalformedRows(t *testing.T) {
	input := "1,10,0xa1,notanumber,digA,o,a,,p,0x2::sui::SUI\n" +
		"1,10,0xa2\n" +
		"-5,10,0xa3,1,digC,o,a,,p,0x2::sui::SUI\n" +
		"1,10,0xa4,1,,o,a,,p,0x2::sui::SUI\n" +
		"1,10,0xa5,1,digE,o,a,,p,0x2::sui::SUI\n"

	units, malformed := drainReader(t, NewCSVReader(strings.NewReader(input)))
	assert.Equal(t, 4, malformed)
	require.Len(t, units, 1)
	assert.Equal(t, fullID("0xa5"), units[0].ExternalID)
}

func TestJSONReader_ParsesCoinArray(t *testing.T) {
	input := `[
		{"coinType":"0x2::sui::SUI","coinObjectId":"0xb1","version":"42","digest":"d1","balance":"100","previousTransaction":"p"},
		{"coinType":"0x2::sui::SUI","coinObjectId":"0xb2","version":"x","digest":"d2","balance":"100"},
		{"coinType":"0x2::sui::SUI","coinObjectId":"0xb3","version":"43","digest":"d3","balance":"200"}
	]`

	units, malformed := drainReader(t, NewJSONReader(strings.NewReader(input)))
	assert.Equal(t, 1, malformed)
	require.Len(t, units, 2)
	assert.Equal(t, int64(42), units[0].Version)
	assert.Equal(t, fullID("0xb3"), units[1].ExternalID)
	assert.Equal(t, "200", units[1].Balance)
}

func TestJSONReader_RejectsNonArray(t *testing.T) {
	_, err := NewJSONReader(strings.NewReader(`{"data":[]}`)).Next()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMalformed)
}

func TestJSONReader_EmptyInput(t *testing.T) {
	_, err := NewJSONReader(strings.NewReader("")).Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestUnitFromCoin(t *testing.T) {
	u, err := UnitFromCoin(suirpc.Coin{CoinObjectID: "0xC", Version: "1", Digest: "d", Balance: ""})
	require.NoError(t, err)
	assert.Equal(t, fullID("0xc"), u.ExternalID)
	assert.Equal(t, "0", u.Balance)

	_, err = UnitFromCoin(suirpc.Coin{CoinObjectID: "", Version: "1", Digest: "d"})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestNewRecordReader(t *testing.T) {
	_, err := NewRecordReader(strings.NewReader(""), FormatCSV)
	assert.NoError(t, err)
	_, err = NewRecordReader(strings.NewReader(""), Format("xml"))
	assert.Error(t, err)
}
