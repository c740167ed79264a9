package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/wlmyng/merge-coin-scripts/internal/domain/model"
	"github.com/wlmyng/merge-coin-scripts/internal/metrics"
	"github.com/wlmyng/merge-coin-scripts/internal/store"
)

const defaultChunkSize = 50000

// Skip reasons reported in LoadStats and metrics.
const (
	SkipMalformed = "malformed"
	SkipPayer     = "payer"
	SkipCoinType  = "coin_type"
	SkipDuplicate = "duplicate"
)

// LoadStats summarizes one load.
type LoadStats struct {
	Read     int64            `json:"read"`
	Inserted int64            `json:"inserted"`
	Skipped  map[string]int64 `json:"skipped"`
	Elapsed  time.Duration    `json:"elapsed_ns"`
}

func newLoadStats() LoadStats {
	return LoadStats{Skipped: make(map[string]int64)}
}

func (s *LoadStats) merge(o LoadStats) {
	s.Read += o.Read
	s.Inserted += o.Inserted
	for k, v := range o.Skipped {
		s.Skipped[k] += v
	}
}

// Loader inserts dump records into the ledger in chunks. Payer ids are never
// inserted, so they can never be selected for a merge.
type Loader struct {
	repo      store.UnitRepository
	chunkSize int
	exclude   map[string]struct{}
	coinType  string
	logger    *slog.Logger
}

type LoaderOption func(*Loader)

func WithChunkSize(n int) LoaderOption {
	return func(l *Loader) {
		l.chunkSize = n
	}
}

// WithExclude sets ids that are dropped instead of inserted.
func WithExclude(ids []string) LoaderOption {
	return func(l *Loader) {
		for _, id := range ids {
			if norm := model.NormalizeObjectID(id); norm != "" {
				l.exclude[norm] = struct{}{}
			}
		}
	}
}

// WithCoinType keeps only records of the given coin type.
func WithCoinType(coinType string) LoaderOption {
	return func(l *Loader) {
		l.coinType = coinType
	}
}

func NewLoader(repo store.UnitRepository, logger *slog.Logger, opts ...LoaderOption) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loader{
		repo:      repo,
		chunkSize: defaultChunkSize,
		exclude:   make(map[string]struct{}),
		logger:    logger.With("component", "loader"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	if l.chunkSize <= 0 {
		l.chunkSize = defaultChunkSize
	}
	return l
}

// Load drains r into the ledger. Malformed records are counted and skipped;
// any other read error or a failed insert stops the load.
func (l *Loader) Load(ctx context.Context, r RecordReader, format string) (LoadStats, error) {
	start := time.Now()
	stats := newLoadStats()
	chunk := make([]model.UnitRecord, 0, l.chunkSize)

	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		res, err := l.Insert(ctx, chunk, format)
		stats.merge(res)
		chunk = chunk[:0]
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		unit, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if errors.Is(err, ErrMalformed) {
				stats.Read++
				stats.Skipped[SkipMalformed]++
				metrics.IngestRowsRead.WithLabelValues(format).Inc()
				metrics.IngestRowsSkipped.WithLabelValues(format, SkipMalformed).Inc()
				l.logger.Warn("skipping malformed record", "error", err)
				continue
			}
			return stats, err
		}
		chunk = append(chunk, unit)
		if len(chunk) >= l.chunkSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}
	if err := flush(); err != nil {
		return stats, err
	}

	stats.Elapsed = time.Since(start)
	l.logger.Info("load complete",
		"format", format,
		"read", stats.Read,
		"inserted", stats.Inserted,
		"skipped", stats.Skipped,
		"elapsed", stats.Elapsed,
	)
	return stats, nil
}

// Insert filters one chunk and writes it in a single ledger call. Records
// already present are counted as duplicates.
func (l *Loader) Insert(ctx context.Context, units []model.UnitRecord, format string) (LoadStats, error) {
	stats := newLoadStats()
	stats.Read = int64(len(units))
	metrics.IngestRowsRead.WithLabelValues(format).Add(float64(len(units)))

	keep := make([]model.UnitRecord, 0, len(units))
	for _, u := range units {
		if _, excluded := l.exclude[model.NormalizeObjectID(u.ExternalID)]; excluded {
			stats.Skipped[SkipPayer]++
			metrics.IngestRowsSkipped.WithLabelValues(format, SkipPayer).Inc()
			continue
		}
		if l.coinType != "" && u.UnitType != l.coinType {
			stats.Skipped[SkipCoinType]++
			metrics.IngestRowsSkipped.WithLabelValues(format, SkipCoinType).Inc()
			continue
		}
		keep = append(keep, u)
	}
	if len(keep) == 0 {
		return stats, nil
	}

	inserted, err := l.repo.BulkInsert(ctx, keep)
	if err != nil {
		return stats, fmt.Errorf("insert chunk of %d: %w", len(keep), err)
	}
	stats.Inserted = inserted
	if dup := int64(len(keep)) - inserted; dup > 0 {
		stats.Skipped[SkipDuplicate] += dup
		metrics.IngestRowsSkipped.WithLabelValues(format, SkipDuplicate).Add(float64(dup))
	}
	metrics.IngestRowsInserted.WithLabelValues(format).Add(float64(inserted))
	l.logger.Debug("chunk inserted", "format", format, "rows", len(keep), "inserted", inserted)
	return stats, nil
}
