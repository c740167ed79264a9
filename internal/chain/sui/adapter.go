package sui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wlmyng/merge-coin-scripts/internal/chain/ratelimit"
	"github.com/wlmyng/merge-coin-scripts/internal/chain/sui/rpc"
	"github.com/wlmyng/merge-coin-scripts/internal/domain/model"
	"github.com/wlmyng/merge-coin-scripts/internal/executor"
)

const (
	chainName        = "sui"
	defaultGasBudget = uint64(50_000_000)
)

// Adapter merges coins into the payer with unsafe_payAllSui: the payer is
// the first input and the gas coin, and the signer is the recipient, so every
// input balance ends up in the payer.
type Adapter struct {
	client      rpc.RPCClient
	signer      *Signer
	gasBudget   uint64
	requestType string
	logger      *slog.Logger
}

var _ executor.Executor = (*Adapter)(nil)

type AdapterOption func(*Adapter)

func WithGasBudget(budget uint64) AdapterOption {
	return func(a *Adapter) { a.gasBudget = budget }
}

func WithRequestType(requestType string) AdapterOption {
	return func(a *Adapter) { a.requestType = requestType }
}

func NewAdapter(rpcURL string, signer *Signer, logger *slog.Logger, opts ...AdapterOption) *Adapter {
	return NewAdapterWithClient(rpc.NewClient(rpcURL, logger), signer, logger, opts...)
}

func NewAdapterWithClient(client rpc.RPCClient, signer *Signer, logger *slog.Logger, opts ...AdapterOption) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Adapter{
		client:      client,
		signer:      signer,
		gasBudget:   defaultGasBudget,
		requestType: rpc.WaitForLocalExecution,
		logger:      logger.With("chain", chainName),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// SetRateLimiter applies a rate limiter to the underlying RPC client.
func (a *Adapter) SetRateLimiter(l *ratelimit.Limiter) {
	if c, ok := a.client.(*rpc.Client); ok {
		c.SetRateLimiter(l)
	}
}

func (a *Adapter) Chain() string {
	return chainName
}

func (a *Adapter) Signer() *Signer {
	return a.signer
}

// Merge consumes units into payer in one transaction.
func (a *Adapter) Merge(ctx context.Context, units []model.UnitRef, payer model.Payer) (*executor.Receipt, error) {
	if len(units) == 0 {
		return &executor.Receipt{}, nil
	}
	if len(units) > model.MaxBatchSize {
		return nil, &executor.MergeError{
			Kind:    executor.FailureRejected,
			Message: fmt.Sprintf("batch of %d units exceeds max %d", len(units), model.MaxBatchSize),
		}
	}

	coins := make([]string, 0, len(units)+1)
	coins = append(coins, payer.ObjectID)
	for _, u := range units {
		coins = append(coins, u.ObjectID)
	}

	owner := a.signer.Address()
	txb, err := a.client.UnsafePayAllSui(ctx, owner, coins, owner, a.gasBudget)
	if err != nil {
		return nil, toMergeError(err)
	}

	sig, err := a.signer.SignTransaction(txb.TxBytes)
	if err != nil {
		return nil, &executor.MergeError{Kind: executor.FailureRejected, Message: err.Error(), Err: err}
	}

	resp, err := a.client.ExecuteTransactionBlock(ctx, txb.TxBytes, []string{sig}, rpc.ExecuteOptions{ShowEffects: true}, a.requestType)
	if err != nil {
		return nil, toMergeError(err)
	}
	if len(resp.Errors) > 0 {
		return nil, executor.ParseExecutionFailure(fmt.Sprintf("transaction %s: %v", resp.Digest, resp.Errors))
	}
	if resp.Effects == nil {
		return nil, executor.ParseExecutionFailure(fmt.Sprintf("transaction %s returned no effects", resp.Digest))
	}
	if !resp.Effects.Status.Success() {
		msg := resp.Effects.Status.Error
		if msg == "" {
			msg = fmt.Sprintf("transaction %s finished with status %q", resp.Digest, resp.Effects.Status.Status)
		}
		return nil, executor.ParseExecutionFailure(msg)
	}

	a.logger.Debug("merge executed",
		"digest", resp.Digest,
		"payer", payer.ObjectID,
		"units", len(units),
	)
	return &executor.Receipt{Digest: resp.Digest, Consumed: len(units)}, nil
}

// toMergeError keeps the remote message verbatim. A JSON-RPC error means the
// node answered; anything else never reached a verdict.
func toMergeError(err error) error {
	var rpcErr *rpc.RPCError
	if errors.As(err, &rpcErr) {
		me := executor.ParseRemoteFailure(rpcErr.Code, rpcErr.Message)
		me.Err = rpcErr
		return me
	}
	return executor.Transport(err)
}
