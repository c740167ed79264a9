package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/wlmyng/merge-coin-scripts/internal/domain/model"
	"github.com/wlmyng/merge-coin-scripts/internal/store"
)

const unitColumns = `position, external_id, balance, version, digest, unit_type, status, error, owner_payer_hint, updated_at`

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

	var (
		b    strings.Builder
		args = make([]any, 0, len(filter.Statuses)+len(filter.ExcludeExternalIDs)+2)
	)
	b.WriteString(`SELECT ` + unitColumns + ` FROM units WHERE status IN (`)
	b.WriteString(placeholders(len(filter.Statuses)))
	b.WriteString(`) AND position > ?`)
	for _, s := range filter.Statuses {
		args = append(args, string(s))
	}
	args = append(args, filter.AfterPosition)
	if len(filter.ExcludeExternalIDs) > 0 {
		b.WriteString(` AND external_id NOT IN (`)
		b.WriteString(placeholders(len(filter.ExcludeExternalIDs)))
		b.WriteString(`)`)
		for _, id := range filter.ExcludeExternalIDs {
			args = append(args, id)
		}
	}
	b.WriteString(` ORDER BY position ASC LIMIT ?`)
	args = append(args, filter.Limit)

	rows, err := r.db.QueryContext(ctx, b.String(), args...)
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

	args := make([]any, 0, len(t.Positions)+4)
	query := `UPDATE units SET status = ?, updated_at = ?`
	args = append(args, string(t.Status), time.Now().UTC())
	if !keep {
		query += `, error = ?, owner_payer_hint = ?`
		args = append(args, errText, hint)
	}
	query += ` WHERE position IN (` + placeholders(len(t.Positions)) + `) AND status <> 'merged'`
	for _, p := range t.Positions {
		args = append(args, p)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, query, args...)
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
	rows, err := r.db.QueryContext(ctx, `SELECT `+unitColumns+` FROM units
		WHERE status = ? AND position > ?
		ORDER BY position ASC LIMIT ?`, string(status), afterPosition, limit)
	if err != nil {
		return nil, fmt.Errorf("list units by status: %w", err)
	}
	defer rows.Close()
	return scanUnits(rows)
}

// BulkInsert adds pending units in input order. Units whose external id is
// already present are skipped, so re-running an ingest is harmless.
func (r *UnitRepo) BulkInsert(ctx context.Context, units []model.UnitRecord) (int64, error) {
	if len(units) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin bulk insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO units (external_id, balance, version, digest, unit_type, status)
		VALUES (?, ?, ?, ?, ?, 'pending')
		ON CONFLICT (external_id) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare bulk insert: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, u := range units {
		balance := u.Balance
		if balance == "" {
			balance = "0"
		}
		unitType := u.UnitType
		if unitType == "" {
			unitType = model.SuiCoinType
		}
		res, err := stmt.ExecContext(ctx, u.ExternalID, balance, u.Version, u.Digest, unitType)
		if err != nil {
			return 0, fmt.Errorf("insert unit %s: %w", u.ExternalID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("insert unit rows affected: %w", err)
		}
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit bulk insert: %w", err)
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

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// Purge deletes every unit. AUTOINCREMENT keeps later positions above any
// position handed out before.
func (r *UnitRepo) Purge(ctx context.Context) (int64, error) {
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
