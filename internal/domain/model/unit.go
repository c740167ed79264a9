package model

import (
	"fmt"
	"strings"
	"time"
)

type UnitStatus string

const (
	UnitStatusPending        UnitStatus = "pending"
	UnitStatusProcessing     UnitStatus = "processing"
	UnitStatusMerged         UnitStatus = "merged"
	UnitStatusFailed         UnitStatus = "failed"
	UnitStatusPayerExhausted UnitStatus = "payer_exhausted"
)

func (s UnitStatus) String() string {
	return string(s)
}

// Valid reports whether s is one of the five ledger states.
func (s UnitStatus) Valid() bool {
	switch s {
	case UnitStatusPending, UnitStatusProcessing, UnitStatusMerged, UnitStatusFailed, UnitStatusPayerExhausted:
		return true
	}
	return false
}

// Terminal reports whether no later pass may move a record out of s.
func (s UnitStatus) Terminal() bool {
	return s == UnitStatusMerged
}

// AllUnitStatuses returns every status in lifecycle order.
func AllUnitStatuses() []UnitStatus {
	return []UnitStatus{
		UnitStatusPending,
		UnitStatusProcessing,
		UnitStatusMerged,
		UnitStatusFailed,
		UnitStatusPayerExhausted,
	}
}

func ParseUnitStatus(raw string) (UnitStatus, error) {
	s := UnitStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown unit status %q", raw)
	}
	return s, nil
}

// MaxBatchSize is the most units one merge may consume. The remote caps gas
// payment at 256 objects and the payer occupies one slot.
const MaxBatchSize = 255

// DefaultBatchSize stays under MaxBatchSize to leave headroom for the
// transaction size limit.
const DefaultBatchSize = 250

// SuiCoinType is the unit type merged when no other type is configured.
const SuiCoinType = "0x2::sui::SUI"

// UnitRecord is one mergeable unit tracked by the ledger.
type UnitRecord struct {
	Position       int64      `db:"position"`
	ExternalID     string     `db:"external_id"`
	Balance        string     `db:"balance"` // decimal u64
	Version        int64      `db:"version"`
	Digest         string     `db:"digest"`
	UnitType       string     `db:"unit_type"`
	Status         UnitStatus `db:"status"`
	Error          *string    `db:"error"`
	OwnerPayerHint *string    `db:"owner_payer_hint"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

// Ref returns the object reference the executor needs to spend the unit.
func (r UnitRecord) Ref() UnitRef {
	return UnitRef{
		ObjectID: r.ExternalID,
		Version:  r.Version,
		Digest:   r.Digest,
	}
}

// UnitRef identifies one unit at a specific version.
type UnitRef struct {
	ObjectID string
	Version  int64
	Digest   string
}
