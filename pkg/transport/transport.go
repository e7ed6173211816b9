package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/sigweihq/solwallet/pkg/constants"
	"github.com/sigweihq/solwallet/pkg/utils"
)

// Backoff selects how the delay grows between attempts
type Backoff string

const (
	BackoffExponential Backoff = "exponential"
	BackoffLinear      Backoff = "linear"
)

// RequestInfo describes an outgoing attempt
type RequestInfo struct {
	ID      string
	Method  string
	Attempt int
}

// ResponseInfo describes a completed attempt
type ResponseInfo struct {
	ID         string
	Method     string
	Attempt    int
	StatusCode int
	Duration   time.Duration
}

// ErrorInfo describes a failed attempt
type ErrorInfo struct {
	ID        string
	Method    string
	Attempt   int
	Err       error
	WillRetry bool
}

// Options configures a Client. Zero values take the defaults from constants.
type Options struct {
	Timeout     time.Duration // per attempt
	MaxAttempts int
	Backoff     Backoff
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool

	OnRequest  func(RequestInfo)
	OnResponse func(ResponseInfo)
	OnError    func(ErrorInfo)
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = constants.RPCRequestTimeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = constants.RPCMaxAttempts
	}
	if o.Backoff == "" {
		o.Backoff = BackoffExponential
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = constants.RPCBaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = constants.RPCMaxDelay
	}
	return o
}

// Client is a JSON-RPC 2.0 client for a Solana RPC endpoint
type Client struct {
	endpoint string
	client   *http.Client
	opts     Options
	logger   *slog.Logger
	counter  atomic.Uint64
}

// NewClient creates a client for endpoint. The endpoint must use HTTPS unless
// it points at a local validator.
func NewClient(endpoint string, opts Options, logger *slog.Logger) (*Client, error) {
	if err := utils.ValidateEndpointURL(endpoint); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()
	return &Client{
		endpoint: endpoint,
		client:   utils.NewHTTPClient(opts.Timeout),
		opts:     opts,
		logger:   logger,
	}, nil
}

// Endpoint returns the RPC endpoint URL
func (c *Client) Endpoint() string {
	return c.endpoint
}

type jsonrpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

func (c *Client) nextID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		return strconv.FormatUint(c.counter.Add(1), 10)
	}
	return id.String()
}

// Call performs a JSON-RPC request and decodes the result into result, which
// may be nil. Network failures, 5xx and 429 responses are retried with
// backoff; JSON-RPC errors are returned immediately.
func (c *Client) Call(ctx context.Context, method string, params []any, result any) error {
	if params == nil {
		params = []any{}
	}
	id := c.nextID()
	body, err := json.Marshal(jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := c.sleep(ctx, attempt-1); err != nil {
				return err
			}
		}

		if c.opts.OnRequest != nil {
			c.opts.OnRequest(RequestInfo{ID: id, Method: method, Attempt: attempt})
		}

		raw, err := c.attempt(ctx, id, method, attempt, body)
		if err == nil {
			if result == nil || len(raw) == 0 {
				return nil
			}
			if err := json.Unmarshal(raw, result); err != nil {
				return fmt.Errorf("failed to decode %s result: %w", method, err)
			}
			return nil
		}

		lastErr = err
		retry := c.retryable(ctx, err) && attempt < c.opts.MaxAttempts
		if c.opts.OnError != nil {
			c.opts.OnError(ErrorInfo{ID: id, Method: method, Attempt: attempt, Err: err, WillRetry: retry})
		}
		if !retry {
			break
		}
		c.logger.Warn("rpc attempt failed, retrying", "method", method, "attempt", attempt, "error", err)
	}

	return lastErr
}

func (c *Client) attempt(ctx context.Context, id, method string, attempt int, body []byte) (json.RawMessage, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send %s request: %w", method, err)
	}
	defer resp.Body.Close()

	if c.opts.OnResponse != nil {
		c.opts.OnResponse(ResponseInfo{
			ID:         id,
			Method:     method,
			Attempt:    attempt,
			StatusCode: resp.StatusCode,
			Duration:   time.Since(start),
		})
	}

	limitedReader := io.LimitReader(resp.Body, int64(constants.MaxResponseBodySize))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(limitedReader)
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       bodyBytes,
		}
	}

	var rpcResp jsonrpcResponse
	if err := json.NewDecoder(limitedReader).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

func (c *Client) retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.IsRetryable()
	}
	// network failures and per-attempt timeouts
	return true
}

// delay returns the wait before retry number n (1-based)
func (c *Client) delay(n int) time.Duration {
	var d time.Duration
	switch c.opts.Backoff {
	case BackoffLinear:
		d = c.opts.BaseDelay * time.Duration(n)
	default:
		d = c.opts.BaseDelay << (n - 1)
	}
	if d <= 0 || d > c.opts.MaxDelay {
		d = c.opts.MaxDelay
	}
	if c.opts.Jitter {
		d = d/2 + rand.N(d/2+1)
	}
	return d
}

func (c *Client) sleep(ctx context.Context, n int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timer := time.NewTimer(c.delay(n))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SendOptions are the sendTransaction RPC options
type SendOptions struct {
	SkipPreflight       bool
	PreflightCommitment string
	MaxRetries          *uint
}

// Map returns the options in the shape wallets accept for sign-and-send
func (o SendOptions) Map() map[string]any {
	m := map[string]any{}
	if o.SkipPreflight {
		m["skipPreflight"] = true
	}
	if o.PreflightCommitment != "" {
		m["preflightCommitment"] = o.PreflightCommitment
	}
	if o.MaxRetries != nil {
		m["maxRetries"] = *o.MaxRetries
	}
	return m
}

// SendTransaction submits a signed wire transaction and returns its
// base58 signature
func (c *Client) SendTransaction(ctx context.Context, wire []byte, opts SendOptions) (string, error) {
	config := opts.Map()
	config["encoding"] = "base64"

	var signature string
	if err := c.Call(ctx, "sendTransaction", []any{base64.StdEncoding.EncodeToString(wire), config}, &signature); err != nil {
		return "", err
	}
	return signature, nil
}

// GetHealth returns nil when the node reports "ok"
func (c *Client) GetHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, constants.HealthCheckTimeout)
	defer cancel()

	var status string
	if err := c.Call(ctx, "getHealth", nil, &status); err != nil {
		return err
	}
	if status != "ok" {
		return fmt.Errorf("node unhealthy: %s", status)
	}
	return nil
}

// GetLatestBlockhash returns the latest blockhash and the last block height
// at which it is valid
func (c *Client) GetLatestBlockhash(ctx context.Context) (solana.Hash, uint64, error) {
	var result struct {
		Value struct {
			Blockhash            string `json:"blockhash"`
			LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
		} `json:"value"`
	}
	if err := c.Call(ctx, "getLatestBlockhash", []any{map[string]any{"commitment": "finalized"}}, &result); err != nil {
		return solana.Hash{}, 0, err
	}
	hash, err := solana.HashFromBase58(result.Value.Blockhash)
	if err != nil {
		return solana.Hash{}, 0, fmt.Errorf("invalid blockhash %q: %w", result.Value.Blockhash, err)
	}
	return hash, result.Value.LastValidBlockHeight, nil
}

// SignatureStatus is the cluster's view of a submitted transaction
type SignatureStatus struct {
	Slot               uint64  `json:"slot"`
	Confirmations      *uint64 `json:"confirmations"`
	Err                any     `json:"err"`
	ConfirmationStatus string  `json:"confirmationStatus"`
}

// Succeeded reports whether the transaction executed without error
func (s *SignatureStatus) Succeeded() bool {
	return s != nil && s.Err == nil
}

// GetSignatureStatus looks up a transaction signature, searching the full
// transaction history. It returns nil when the cluster does not know the
// signature.
func (c *Client) GetSignatureStatus(ctx context.Context, signature string) (*SignatureStatus, error) {
	var result struct {
		Value []*SignatureStatus `json:"value"`
	}
	params := []any{[]string{signature}, map[string]any{"searchTransactionHistory": true}}
	if err := c.Call(ctx, "getSignatureStatuses", params, &result); err != nil {
		return nil, err
	}
	if len(result.Value) == 0 {
		return nil, nil
	}
	return result.Value[0], nil
}
