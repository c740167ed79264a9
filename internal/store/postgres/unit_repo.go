package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/wlmyng/merge-coin-scripts/internal/domain/model"
	"github.com/wlmyng/merge-coin-scripts/internal/store"
)

const unitColumns = `position, external_id, balance::text, version, digest, unit_type, status, error, owner_payer_hint, updated_at`

type UnitRepo struct {
	db *DB
}

func NewUnitRepo(db *DB) *UnitRepo {
	return &UnitRepo{db: db}
}

var (
	_ store.UnitRepository = (*UnitRepo)(nil)
	_ store.Purger         = (*UnitRepo)(nil)
)

func (r *UnitRepo) SelectEligible(ctx context.Context, filter store.EligibleFilter) ([]model.UnitRecord, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	exclude := filter.ExcludeExternalIDs
	if exclude == nil {
		exclude = []string{}
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+unitColumns+`
		FROM units
		WHERE status = ANY($1) AND position > $2 AND NOT (external_id = ANY($3))
		ORDER BY position ASC
		LIMIT $4
	`, pq.Array(store.StatusStrings(filter.Statuses)), filter.AfterPosition, pq.Array(exclude), filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("select eligible units: %w", err)
	}
	defer rows.Close()
	return scanUnits(rows)
}

func (r *UnitRepo) ApplyTransition(ctx context.Context, t store.Transition) (int64, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	errText, hint, keep := t.Diagnostics()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback()

	var res sql.Result
	if keep {
		res, err = tx.ExecContext(ctx, `
			UPDATE units SET status = $1, updated_at = now()
			WHERE position = ANY($2) AND status <> 'merged'
		`, string(t.Status), pq.Array(t.Positions))
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE units SET status = $1, error = $2, owner_payer_hint = $3, updated_at = now()
			WHERE position = ANY($4) AND status <> 'merged'
		`, string(t.Status), errText, hint, pq.Array(t.Positions))
	}
	if err != nil {
		return 0, fmt.Errorf("apply transition to %s: %w", t.Status, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("apply transition rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transition: %w", err)
	}
	return affected, nil
}

func (r *UnitRepo) CountByStatus(ctx context.Context) (map[model.UnitStatus]int64, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM units GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count units by status: %w", err)
	}
	defer rows.Close()

	counts := store.EmptyCounts()
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[model.UnitStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return counts, nil
}

func (r *UnitRepo) ListByStatus(ctx context.Context, status model.UnitStatus, afterPosition int64, limit int) ([]model.UnitRecord, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("list units: unknown status %q", status)
	}
	if limit <= 0 {
		limit = 100
	}
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+unitColumns+`
		FROM units
		WHERE status = $1 AND position > $2
		ORDER BY position ASC
		LIMIT $3
	`, string(status), afterPosition, limit)
	if err != nil {
		return nil, fmt.Errorf("list units by status: %w", err)
	}
	defer rows.Close()
	return scanUnits(rows)
}

// BulkInsert adds pending units in input order; positions follow the
// ordinality of the input arrays.
func (r *UnitRepo) BulkInsert(ctx context.Context, units []model.UnitRecord) (int64, error) {
	if len(units) == 0 {
		return 0, nil
	}
	ctx, cancel := withTimeout(ctx, LongQueryTimeout)
	defer cancel()

	ids := make([]string, len(units))
	balances := make([]string, len(units))
	versions := make([]int64, len(units))
	digests := make([]string, len(units))
	types := make([]string, len(units))
	for i, u := range units {
		ids[i] = u.ExternalID
		balances[i] = u.Balance
		if balances[i] == "" {
			balances[i] = "0"
		}
		versions[i] = u.Version
		digests[i] = u.Digest
		types[i] = u.UnitType
		if types[i] == "" {
			types[i] = model.SuiCoinType
		}
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO units (external_id, balance, version, digest, unit_type, status)
		SELECT u.external_id, u.balance::numeric, u.version, u.digest, u.unit_type, 'pending'
		FROM unnest($1::text[], $2::text[], $3::bigint[], $4::text[], $5::text[])
			WITH ORDINALITY AS u(external_id, balance, version, digest, unit_type, ord)
		ORDER BY u.ord
		ON CONFLICT (external_id) DO NOTHING
	`, pq.Array(ids), pq.Array(balances), pq.Array(versions), pq.Array(digests), pq.Array(types))
	if err != nil {
		return 0, fmt.Errorf("bulk insert units: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("bulk insert rows affected: %w", err)
	}
	return inserted, nil
}

func scanUnits(rows *sql.Rows) ([]model.UnitRecord, error) {
	var units []model.UnitRecord
	for rows.Next() {
		var (
			u      model.UnitRecord
			status string
		)
		if err := rows.Scan(
			&u.Position, &u.ExternalID, &u.Balance, &u.Version, &u.Digest, &u.UnitType,
			&status, &u.Error, &u.OwnerPayerHint, &u.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		u.Status = model.UnitStatus(status)
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate units: %w", err)
	}
	return units, nil
}

// Purge deletes every unit. The identity sequence is not reset.
func (r *UnitRepo) Purge(ctx context.Context) (int64, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM units`)
	if err != nil {
		return 0, fmt.Errorf("purge units: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge units rows affected: %w", err)
	}
	return n, nil
}
