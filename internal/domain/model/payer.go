package model

import (
	"fmt"
	"strings"
)

// Payer is the gas object that funds and absorbs a merge. Each one is owned
// by exactly one worker for the lifetime of the process.
type Payer struct {
	ObjectID string
	WorkerID int
}

func (p Payer) String() string {
	return p.ObjectID
}

// NewPayers assigns worker ids in input order and rejects blanks and duplicates.
func NewPayers(objectIDs []string) ([]Payer, error) {
	if len(objectIDs) == 0 {
		return nil, fmt.Errorf("at least one payer is required")
	}
	seen := make(map[string]struct{}, len(objectIDs))
	payers := make([]Payer, 0, len(objectIDs))
	for i, raw := range objectIDs {
		id := NormalizeObjectID(raw)
		if id == "" {
			return nil, fmt.Errorf("payer %d is empty", i)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("payer %s listed more than once", id)
		}
		seen[id] = struct{}{}
		payers = append(payers, Payer{ObjectID: id, WorkerID: i})
	}
	return payers, nil
}

// PayerIDs returns the object ids of payers, used as the scan exclusion set.
func PayerIDs(payers []Payer) []string {
	ids := make([]string, len(payers))
	for i, p := range payers {
		ids[i] = p.ObjectID
	}
	return ids
}

// ObjectIDHexLen is the number of hex digits in a full-width object id.
const ObjectIDHexLen = 64

// NormalizeObjectID lowercases, 0x-prefixes and left-pads a hex object id to
// full width, so 0xabc and the id the chain prints for it compare equal.
// Input that is not hex is only lowercased.
func NormalizeObjectID(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	withoutPrefix := strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X"))
	if withoutPrefix == "" {
		return ""
	}
	if len(withoutPrefix) < ObjectIDHexLen && isHex(withoutPrefix) {
		withoutPrefix = strings.Repeat("0", ObjectIDHexLen-len(withoutPrefix)) + withoutPrefix
	}
	return "0x" + withoutPrefix
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
