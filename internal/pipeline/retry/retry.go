package retry

import (
	"context"
	"errors"
	"net"
	"strings"

	suirpc "github.com/wlmyng/merge-coin-scripts/internal/chain/sui/rpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Class says whether repeating the same call may succeed.
type Class string

const (
	ClassTerminal  Class = "terminal"
	ClassTransient Class = "transient"
)

type Decision struct {
	Class  Class
	Reason string
}

func (d Decision) IsTransient() bool {
	return d.Class == ClassTransient
}

type classifiedError struct {
	err    error
	class  Class
	reason string
}

func (e *classifiedError) Error() string {
	return e.err.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.err
}

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{
		err:    err,
		class:  ClassTransient,
		reason: "explicit_transient",
	}
}

func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{
		err:    err,
		class:  ClassTerminal,
		reason: "explicit_terminal",
	}
}

// Classify decides whether err is worth retrying with the same inputs.
// Unknown errors are terminal.
func Classify(err error) Decision {
	if err == nil {
		return Decision{Class: ClassTerminal, Reason: "nil_error"}
	}

	var marked *classifiedError
	if errors.As(err, &marked) {
		return Decision{Class: marked.class, Reason: marked.reason}
	}

	if errors.Is(err, context.Canceled) {
		return Decision{Class: ClassTerminal, Reason: "context_canceled"}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Decision{Class: ClassTransient, Reason: "context_deadline_exceeded"}
	}

	if grpcStatus, ok := status.FromError(err); ok {
		switch grpcStatus.Code() {
		case codes.Canceled:
			return Decision{Class: ClassTerminal, Reason: "grpc_canceled"}
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal:
			return Decision{Class: ClassTransient, Reason: "grpc_" + strings.ToLower(grpcStatus.Code().String())}
		default:
			return Decision{Class: ClassTerminal, Reason: "grpc_" + strings.ToLower(grpcStatus.Code().String())}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Decision{Class: ClassTransient, Reason: "net_timeout"}
		}
	}

	var rpcErr *suirpc.RPCError
	if errors.As(err, &rpcErr) {
		return classifyJSONRPCCode(rpcErr.Code)
	}

	lower := strings.ToLower(err.Error())
	for _, rule := range messageRules {
		if containsAny(lower, rule.tokens) {
			return Decision{Class: rule.class, Reason: rule.reason}
		}
	}
	return Decision{Class: ClassTerminal, Reason: "unknown_terminal_default"}
}

func classifyJSONRPCCode(code int) Decision {
	switch {
	case code == -32603 || code == -32005:
		return Decision{Class: ClassTransient, Reason: "jsonrpc_server_transient"}
	case code <= -32000 && code >= -32099:
		return Decision{Class: ClassTransient, Reason: "jsonrpc_server_range"}
	default:
		return Decision{Class: ClassTerminal, Reason: "jsonrpc_terminal"}
	}
}

func containsAny(msg string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}

// messageRules match lower-cased error text, first rule wins. Terminal rules
// come first so "object not found: timed out waiting" stays terminal.
var messageRules = []struct {
	reason string
	class  Class
	tokens []string
}{
	{"message_bad_request", ClassTerminal, []string{"invalid argument", "invalid params", "method not found", "parse error"}},
	{"message_gas", ClassTerminal, []string{"insufficient gas", "insufficient funds"}},
	{"message_missing", ClassTerminal, []string{"not found", "constraint violation"}},
	{"message_ledger_busy", ClassTransient, []string{
		"database is locked", "database table is locked", "sqlite_busy",
		"deadlock detected", "could not serialize access",
	}},
	{"message_rate_limited", ClassTransient, []string{"too many requests", "rate limit", "http status 429"}},
	{"message_upstream", ClassTransient, []string{
		"http status 502", "http status 503", "http status 504",
		"unavailable", "payload too large",
	}},
	{"message_network", ClassTransient, []string{
		"timeout", "timed out", "temporar",
		"connection reset", "connection refused", "broken pipe",
		"econnreset", "econnrefused", "server closed idle connection",
	}},
}
