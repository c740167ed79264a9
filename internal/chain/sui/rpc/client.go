//go:generate mockgen -source=client.go -destination=mocks/mock_client.go -package=mocks

package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/wlmyng/merge-coin-scripts/internal/chain/ratelimit"
)

const chainName = "sui"

// RPCClient abstracts the Sui JSON-RPC methods the merger uses.
type RPCClient interface {
	UnsafePayAllSui(ctx context.Context, signer string, coins []string, recipient string, gasBudget uint64) (*TransactionBlockBytes, error)
	ExecuteTransactionBlock(ctx context.Context, txBytes string, signatures []string, opts ExecuteOptions, requestType string) (*TransactionBlockResponse, error)
	GetCoins(ctx context.Context, owner, coinType string, cursor *string, limit int) (*CoinPage, error)
}

type Client struct {
	httpClient *http.Client
	rpcURL     string
	requestID  atomic.Int64
	logger     *slog.Logger
	limiter    *ratelimit.Limiter
}

var _ RPCClient = (*Client)(nil)

func NewClient(rpcURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		rpcURL: rpcURL,
		logger: logger,
	}
}

// SetRateLimiter sets the RPC rate limiter for this client.
func (c *Client) SetRateLimiter(l *ratelimit.Limiter) {
	c.limiter = l
}

// SetTimeout overrides the HTTP client timeout. It is the only deadline
// applied to a remote call.
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.httpClient.Timeout = d
	}
}

func (c *Client) call(ctx context.Context, method string, params []interface{}) (result json.RawMessage, err error) {
	network := chainName
	if c.limiter != nil {
		network = c.limiter.Network()
	}
	defer func() {
		ratelimit.RecordRPCCall(network, method, err)
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, method); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	req := c.newRequest(method, params)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := &HTTPStatusError{
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
		if resp.StatusCode == http.StatusTooManyRequests && c.limiter != nil {
			c.limiter.Throttle(statusErr.RetryAfter)
			c.logger.Warn("fullnode throttling calls", "method", method, "retry_after", statusErr.RetryAfter)
		}
		return nil, statusErr
	}

	var rpcResp Response
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}

	return rpcResp.Result, nil
}

// parseRetryAfter reads the delay-seconds form of Retry-After; 0 when absent.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func (c *Client) newRequest(method string, params []interface{}) Request {
	id := int(c.requestID.Add(1))
	return Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}
}
