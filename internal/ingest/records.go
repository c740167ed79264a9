package ingest

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	suirpc "github.com/wlmyng/merge-coin-scripts/internal/chain/sui/rpc"
	"github.com/wlmyng/merge-coin-scripts/internal/domain/model"
)

// ErrMalformed marks a single record that cannot be converted. Readers keep
// going after returning it.
var ErrMalformed = errors.New("malformed record")

// RecordReader yields units one at a time and returns io.EOF at the end.
type RecordReader interface {
	Next() (model.UnitRecord, error)
}

// Column order of the analytics coin export.
const (
	colBalance = iota
	colCheckpoint
	colCoinObjectID
	colVersion
	colDigest
	colOwnerType
	colOwnerAddress
	colInitialSharedVersion
	colPreviousTransaction
	colCoinType
	colObjectStatus
	colHasPublicTransfer
	colStorageRebate
	colBCS

	csvColumns
)

type csvReader struct {
	r    *csv.Reader
	line int
}

// NewCSVReader reads the headerless coin export. A header row is skipped if
// present.
func NewCSVReader(r io.Reader) RecordReader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	return &csvReader{r: cr}
}

func (c *csvReader) Next() (model.UnitRecord, error) {
	for {
		row, err := c.r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return model.UnitRecord{}, io.EOF
			}
			return model.UnitRecord{}, fmt.Errorf("read csv: %w", err)
		}
		c.line++
		if c.line == 1 && strings.EqualFold(strings.TrimSpace(row[0]), "balance") {
			continue
		}
		if len(row) <= colCoinType {
			return model.UnitRecord{}, fmt.Errorf("%w: line %d has %d columns, want %d", ErrMalformed, c.line, len(row), csvColumns)
		}
		unit, err := unitFromFields(row[colCoinObjectID], row[colVersion], row[colDigest], row[colBalance], row[colCoinType])
		if err != nil {
			return model.UnitRecord{}, fmt.Errorf("line %d: %w", c.line, err)
		}
		return unit, nil
	}
}

type jsonReader struct {
	dec     *json.Decoder
	started bool
	index   int
}

// NewJSONReader reads a JSON array of suix_getCoins entries.
func NewJSONReader(r io.Reader) RecordReader {
	return &jsonReader{dec: json.NewDecoder(r)}
}

func (j *jsonReader) Next() (model.UnitRecord, error) {
	if !j.started {
		tok, err := j.dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return model.UnitRecord{}, io.EOF
			}
			return model.UnitRecord{}, fmt.Errorf("read json: %w", err)
		}
		if delim, ok := tok.(json.Delim); !ok || delim != '[' {
			return model.UnitRecord{}, fmt.Errorf("read json: expected array, got %v", tok)
		}
		j.started = true
	}
	if !j.dec.More() {
		return model.UnitRecord{}, io.EOF
	}
	var coin suirpc.Coin
	if err := j.dec.Decode(&coin); err != nil {
		return model.UnitRecord{}, fmt.Errorf("decode coin %d: %w", j.index, err)
	}
	j.index++
	unit, err := UnitFromCoin(coin)
	if err != nil {
		return model.UnitRecord{}, fmt.Errorf("coin %d: %w", j.index-1, err)
	}
	return unit, nil
}

// NewRecordReader picks the reader for format.
func NewRecordReader(r io.Reader, format Format) (RecordReader, error) {
	switch format {
	case FormatCSV:
		return NewCSVReader(r), nil
	case FormatJSON:
		return NewJSONReader(r), nil
	}
	return nil, fmt.Errorf("unknown dump format %q", format)
}

// UnitFromCoin converts one suix_getCoins entry.
func UnitFromCoin(c suirpc.Coin) (model.UnitRecord, error) {
	return unitFromFields(c.CoinObjectID, c.Version, c.Digest, c.Balance, c.CoinType)
}

func unitFromFields(objectID, version, digest, balance, coinType string) (model.UnitRecord, error) {
	id := model.NormalizeObjectID(objectID)
	if id == "" {
		return model.UnitRecord{}, fmt.Errorf("%w: empty object id", ErrMalformed)
	}
	v, err := strconv.ParseInt(strings.TrimSpace(version), 10, 64)
	if err != nil || v < 0 {
		return model.UnitRecord{}, fmt.Errorf("%w: object %s version %q", ErrMalformed, id, version)
	}
	digest = strings.TrimSpace(digest)
	if digest == "" {
		return model.UnitRecord{}, fmt.Errorf("%w: object %s has no digest", ErrMalformed, id)
	}
	bal := strings.TrimSpace(balance)
	if bal == "" {
		bal = "0"
	}
	if _, err := strconv.ParseUint(bal, 10, 64); err != nil {
		return model.UnitRecord{}, fmt.Errorf("%w: object %s balance %q", ErrMalformed, id, balance)
	}
	coinType = strings.TrimSpace(coinType)
	if coinType == "" {
		coinType = model.SuiCoinType
	}
	return model.UnitRecord{
		ExternalID: id,
		Balance:    bal,
		Version:    v,
		Digest:     digest,
		UnitType:   coinType,
		Status:     model.UnitStatusPending,
	}, nil
}
