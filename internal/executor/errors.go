package executor

import (
	"errors"
	"regexp"
	"strings"

	"github.com/wlmyng/merge-coin-scripts/internal/domain/model"
)

type FailureKind string

const (
	FailureTransport      FailureKind = "transport"
	FailureQuorum         FailureKind = "quorum"
	FailureObjectNotFound FailureKind = "object_not_found"
	FailureObjectInvalid  FailureKind = "object_invalid"
	FailureExecution      FailureKind = "execution"
	FailureRejected       FailureKind = "rejected"
)

// ObjectScoped reports whether the kind says a specific object is gone or unusable.
func (k FailureKind) ObjectScoped() bool {
	return k == FailureObjectNotFound || k == FailureObjectInvalid
}

// MergeError is the structured failure of one merge. Message is the remote
// diagnostic exactly as received.
type MergeError struct {
	Kind      FailureKind
	Code      int
	Message   string
	ObjectIDs []string
	Err       error
}

func (e *MergeError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *MergeError) Unwrap() error {
	return e.Err
}

// Implicates reports whether objectID is named by the failure.
func (e *MergeError) Implicates(objectID string) bool {
	want := model.NormalizeObjectID(objectID)
	if want == "" {
		return false
	}
	for _, id := range e.ObjectIDs {
		if id == want {
			return true
		}
	}
	return false
}

// AsMergeError unwraps err to a *MergeError when one is present.
func AsMergeError(err error) (*MergeError, bool) {
	var me *MergeError
	if errors.As(err, &me) {
		return me, true
	}
	return nil, false
}

// Transport wraps a failure to reach the remote at all.
func Transport(err error) *MergeError {
	if err == nil {
		return nil
	}
	return &MergeError{
		Kind:    FailureTransport,
		Message: err.Error(),
		Err:     err,
	}
}

var objectIDPattern = regexp.MustCompile(`0x[0-9a-fA-F]{1,64}`)

var quorumTokens = []string{
	"non recoverable errors from at least 1/3 of validators",
	"failed to get a quorum",
	"quorum",
}

var notFoundTokens = []string{
	"could not find",
	"not found",
	"notexists",
	"not exist",
	"does not exist",
	"deleted",
	"objectnotfound",
	"no longer available",
}

var invalidTokens = []string{
	"invalid",
	"version unavailable",
	"versionunavailable",
	"objectversionunavailableforconsumption",
	"not available for consumption",
	"locked",
	"equivocat",
	"reserved for another transaction",
	"insufficient",
}

// ParseRemoteFailure turns a remote error code and message into a
// MergeError. It is the only place remote diagnostic text is interpreted.
func ParseRemoteFailure(code int, message string) *MergeError {
	return &MergeError{
		Kind:      kindOf(message, FailureRejected),
		Code:      code,
		Message:   message,
		ObjectIDs: ExtractObjectIDs(message),
	}
}

// ParseExecutionFailure handles a transaction that was sequenced but whose
// effects report failure.
func ParseExecutionFailure(message string) *MergeError {
	return &MergeError{
		Kind:      kindOf(message, FailureExecution),
		Message:   message,
		ObjectIDs: ExtractObjectIDs(message),
	}
}

func kindOf(message string, fallback FailureKind) FailureKind {
	lower := strings.ToLower(message)
	switch {
	case containsAny(lower, quorumTokens):
		return FailureQuorum
	case containsAny(lower, notFoundTokens):
		return FailureObjectNotFound
	case containsAny(lower, invalidTokens):
		return FailureObjectInvalid
	default:
		return fallback
	}
}

// ExtractObjectIDs returns the distinct 0x-prefixed ids in message, normalized.
func ExtractObjectIDs(message string) []string {
	matches := objectIDPattern.FindAllString(message, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		id := model.NormalizeObjectID(m)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

func containsAny(msg string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}
