package rpc

import (
	"encoding/json"
	"fmt"
	"time"
)

// JSON-RPC request/response types

type Request struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return e.Message
}

func (e *RPCError) RPCCode() int { return e.Code }

// HTTPStatusError is a non-200 answer from the fullnode.
type HTTPStatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPStatusError) HTTPStatus() int { return e.StatusCode }

// ObjectRef is the (id, version, digest) triple the node reports for an object.
type ObjectRef struct {
	ObjectID string `json:"objectId"`
	Version  uint64 `json:"version"`
	Digest   string `json:"digest"`
}

// unsafe_payAllSui response
type TransactionBlockBytes struct {
	TxBytes      string            `json:"txBytes"`
	Gas          []ObjectRef       `json:"gas"`
	InputObjects []json.RawMessage `json:"inputObjects"`
}

// sui_executeTransactionBlock response
type TransactionBlockResponse struct {
	Digest                  string                   `json:"digest"`
	Effects                 *TransactionBlockEffects `json:"effects,omitempty"`
	ConfirmedLocalExecution *bool                    `json:"confirmedLocalExecution,omitempty"`
	Errors                  []string                 `json:"errors,omitempty"`
}

type TransactionBlockEffects struct {
	Status  ExecutionStatus `json:"status"`
	Deleted []ObjectRef     `json:"deleted,omitempty"`
	GasUsed *GasCostSummary `json:"gasUsed,omitempty"`
}

type ExecutionStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (s ExecutionStatus) Success() bool {
	return s.Status == "success"
}

type GasCostSummary struct {
	ComputationCost string `json:"computationCost"`
	StorageCost     string `json:"storageCost"`
	StorageRebate   string `json:"storageRebate"`
}

type ExecuteOptions struct {
	ShowEffects bool `json:"showEffects"`
	ShowInput   bool `json:"showInput,omitempty"`
}

// Request types accepted by sui_executeTransactionBlock.
const (
	WaitForLocalExecution = "WaitForLocalExecution"
	WaitForEffectsCert    = "WaitForEffectsCert"
)

// suix_getCoins response
type CoinPage struct {
	Data        []Coin  `json:"data"`
	NextCursor  *string `json:"nextCursor"`
	HasNextPage bool    `json:"hasNextPage"`
}

// Coin is one entry of suix_getCoins. Version and balance are decimal strings.
type Coin struct {
	CoinType            string `json:"coinType"`
	CoinObjectID        string `json:"coinObjectId"`
	Version             string `json:"version"`
	Digest              string `json:"digest"`
	Balance             string `json:"balance"`
	PreviousTransaction string `json:"previousTransaction,omitempty"`
}
