package retry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	suirpc "github.com/wlmyng/merge-coin-scripts/internal/chain/sui/rpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestClassify_ExplicitMarkers(t *testing.T) {
	transient := Classify(Transient(errors.New("rpc timed out")))
	assert.Equal(t, ClassTransient, transient.Class)
	assert.Equal(t, "explicit_transient", transient.Reason)

	terminal := Classify(Terminal(errors.New("invalid params")))
	assert.Equal(t, ClassTerminal, terminal.Class)
	assert.Equal(t, "explicit_terminal", terminal.Reason)
}

func TestClassify_RepresentativeRuntimeErrors(t *testing.T) {
	testCases := []struct {
		name          string
		err           error
		expectedClass Class
	}{
		{
			name:          "grpc unavailable transient",
			err:           status.Error(codes.Unavailable, "sidecar unavailable"),
			expectedClass: ClassTransient,
		},
		{
			name:          "context deadline transient",
			err:           context.DeadlineExceeded,
			expectedClass: ClassTransient,
		},
		{
			name:          "object not found terminal",
			err:           errors.New("object 0xabc not found"),
			expectedClass: ClassTerminal,
		},
		{
			name:          "sqlite busy transient",
			err:           errors.New("apply transition to merged: database is locked"),
			expectedClass: ClassTransient,
		},
		{
			name:          "http 503 transient",
			err:           errors.New("http status 503: upstream busy"),
			expectedClass: ClassTransient,
		},
		{
			name:          "jsonrpc server range transient",
			err:           &suirpc.RPCError{Code: -32050, Message: "server overloaded"},
			expectedClass: ClassTransient,
		},
		{
			name:          "jsonrpc invalid params terminal",
			err:           &suirpc.RPCError{Code: -32602, Message: "bad"},
			expectedClass: ClassTerminal,
		},
		{
			name:          "unknown defaults terminal",
			err:           errors.New("unexpected failure"),
			expectedClass: ClassTerminal,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			decision := Classify(tc.err)
			assert.Equal(t, tc.expectedClass, decision.Class)
		})
	}
}

func TestClassify_MessageReasons(t *testing.T) {
	for msg, want := range map[string]Decision{
		"update units: database is locked":             {Class: ClassTransient, Reason: "message_ledger_busy"},
		"http status 429: slow down":                   {Class: ClassTransient, Reason: "message_rate_limited"},
		"dial tcp 10.0.0.1:443: connection refused":    {Class: ClassTransient, Reason: "message_network"},
		"object 0x5 not found after request timed out": {Class: ClassTerminal, Reason: "message_missing"},
		"insufficient gas for merge":                   {Class: ClassTerminal, Reason: "message_gas"},
	} {
		assert.Equal(t, want, Classify(errors.New(msg)), msg)
	}
}
