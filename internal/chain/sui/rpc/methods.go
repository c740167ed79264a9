package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// UnsafePayAllSui builds a transaction that sends the full balance of every
// input coin to recipient. The first coin pays gas and absorbs the rest when
// recipient is the signer.
func (c *Client) UnsafePayAllSui(ctx context.Context, signer string, coins []string, recipient string, gasBudget uint64) (*TransactionBlockBytes, error) {
	params := []interface{}{
		signer,
		coins,
		recipient,
		strconv.FormatUint(gasBudget, 10),
	}
	result, err := c.call(ctx, "unsafe_payAllSui", params)
	if err != nil {
		return nil, fmt.Errorf("unsafe_payAllSui: %w", err)
	}

	var out TransactionBlockBytes
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("unmarshal tx bytes: %w", err)
	}
	if out.TxBytes == "" {
		return nil, fmt.Errorf("unsafe_payAllSui: empty txBytes")
	}
	return &out, nil
}

// ExecuteTransactionBlock submits signed transaction bytes.
func (c *Client) ExecuteTransactionBlock(ctx context.Context, txBytes string, signatures []string, opts ExecuteOptions, requestType string) (*TransactionBlockResponse, error) {
	if requestType == "" {
		requestType = WaitForLocalExecution
	}
	params := []interface{}{
		txBytes,
		signatures,
		opts,
		requestType,
	}
	result, err := c.call(ctx, "sui_executeTransactionBlock", params)
	if err != nil {
		return nil, fmt.Errorf("sui_executeTransactionBlock: %w", err)
	}

	var out TransactionBlockResponse
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("unmarshal execution response: %w", err)
	}
	return &out, nil
}

// GetCoins returns one page of coins of coinType owned by owner.
func (c *Client) GetCoins(ctx context.Context, owner, coinType string, cursor *string, limit int) (*CoinPage, error) {
	params := []interface{}{owner, coinType, cursor, limit}
	result, err := c.call(ctx, "suix_getCoins", params)
	if err != nil {
		return nil, fmt.Errorf("suix_getCoins(%s): %w", owner, err)
	}

	var page CoinPage
	if err := json.Unmarshal(result, &page); err != nil {
		return nil, fmt.Errorf("unmarshal coin page: %w", err)
	}
	return &page, nil
}
