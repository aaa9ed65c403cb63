package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"watchtower/internal/adapters/config"
	domainledger "watchtower/internal/domain/ledger"
	"watchtower/internal/metrics"
	"watchtower/pkg/errors"
	"watchtower/pkg/logger"
	"watchtower/pkg/retry"
)

// Compile-time check
var _ domainledger.Gateway = (*Client)(nil)

// Client talks JSON-RPC to the lending ledger node. Every call is
// rate-limited, carries a bounded timeout, and goes through a single
// shared retry/circuit-breaker policy, so callers see one failure per
// exhausted call.
type Client struct {
	httpClient *http.Client
	endpoint   string

	lendingPool     string
	auctionHouse    string
	protectionVault string

	callTimeout time.Duration
	limiter     *rate.Limiter
	policy      *retry.Policy
	log         *logger.Logger

	reqID atomic.Int64
}

// NewClient creates a ledger gateway client
func NewClient(cfg config.LedgerConfig, policy *retry.Policy, log *logger.Logger) *Client {
	return &Client{
		httpClient:      &http.Client{Timeout: cfg.CallTimeout},
		endpoint:        cfg.RPCEndpoint,
		lendingPool:     cfg.LendingPool,
		auctionHouse:    cfg.AuctionHouse,
		protectionVault: cfg.ProtectionVault,
		callTimeout:     cfg.CallTimeout,
		limiter:         rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		policy:          policy,
		log:             log.With("component", "ledger_client"),
	}
}

// AuctionConfigured reports whether an auction contract address is set
func (c *Client) AuctionConfigured() bool {
	return c.auctionHouse != ""
}

// ProtectionConfigured reports whether a protection vault address is set
func (c *Client) ProtectionConfigured() bool {
	return c.protectionVault != ""
}

// PolicyStats exposes the breaker state for health/status surfaces
func (c *Client) PolicyStats() retry.Stats {
	return c.policy.GetStats()
}

// Health performs a cheap liveness probe against the RPC endpoint
func (c *Client) Health(ctx context.Context) error {
	var height uint64
	return c.call(ctx, "ledger_blockNumber", nil, &height)
}

// GetDebt returns the borrower's outstanding debt value
func (c *Client) GetDebt(ctx context.Context, address string) (decimal.Decimal, error) {
	var out string
	if err := c.call(ctx, "lending_getDebt", []interface{}{c.lendingPool, address}, &out); err != nil {
		return decimal.Zero, err
	}
	return parseAmount("debt", out)
}

// GetCollateral returns the borrower's collateral value
func (c *Client) GetCollateral(ctx context.Context, address string) (decimal.Decimal, error) {
	var out string
	if err := c.call(ctx, "lending_getCollateral", []interface{}{c.lendingPool, address}, &out); err != nil {
		return decimal.Zero, err
	}
	return parseAmount("collateral", out)
}

// ListActiveBorrowers returns all addresses with an open position
func (c *Client) ListActiveBorrowers(ctx context.Context) ([]string, error) {
	var out []string
	if err := c.call(ctx, "lending_listActiveBorrowers", []interface{}{c.lendingPool}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// HasActiveProtection reports whether a protection grant is active.
// Returns false without an RPC when no vault is configured.
func (c *Client) HasActiveProtection(ctx context.Context, address string) (bool, error) {
	if c.protectionVault == "" {
		return false, nil
	}
	var out bool
	if err := c.call(ctx, "protection_hasActiveGrant", []interface{}{c.protectionVault, address}, &out); err != nil {
		return false, err
	}
	return out, nil
}

// ActivateProtection triggers the borrower's flash-loan protection
func (c *Client) ActivateProtection(ctx context.Context, address string) (domainledger.TxResult, error) {
	if c.protectionVault == "" {
		return domainledger.TxResult{}, errors.ErrNoProtection
	}
	var out txReceipt
	if err := c.call(ctx, "protection_activate", []interface{}{c.protectionVault, address}, &out); err != nil {
		return domainledger.TxResult{}, err
	}
	return out.toResult(), nil
}

// StartAuction asks the auction contract to open a Dutch auction
func (c *Client) StartAuction(ctx context.Context, params domainledger.StartAuctionParams) (domainledger.StartedAuction, error) {
	if c.auctionHouse == "" {
		return domainledger.StartedAuction{}, errors.ErrAuctionNotConfigured
	}

	req := map[string]interface{}{
		"contract":     c.auctionHouse,
		"borrower":     params.Borrower,
		"collateral":   params.CollateralAmount.String(),
		"startPrice":   params.StartPrice.String(),
		"reservePrice": params.ReservePrice.String(),
		"durationSec":  int64(params.Duration.Seconds()),
	}

	var out struct {
		AuctionID string `json:"auctionId"`
		txReceipt
	}
	if err := c.call(ctx, "auction_start", []interface{}{req}, &out); err != nil {
		return domainledger.StartedAuction{}, err
	}

	return domainledger.StartedAuction{
		AuctionID: out.AuctionID,
		Tx:        out.toResult(),
	}, nil
}

// Liquidate seizes the borrower's full position
func (c *Client) Liquidate(ctx context.Context, address string) (domainledger.TxResult, error) {
	var out txReceipt
	if err := c.call(ctx, "lending_liquidate", []interface{}{c.lendingPool, address}, &out); err != nil {
		return domainledger.TxResult{}, err
	}
	return out.toResult(), nil
}

// JSON-RPC plumbing

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type txReceipt struct {
	TxHash      string `json:"txHash"`
	BlockNumber uint64 `json:"blockNumber"`
}

func (r txReceipt) toResult() domainledger.TxResult {
	return domainledger.TxResult{TxHash: r.TxHash, BlockNumber: r.BlockNumber}
}

// call runs one JSON-RPC method under the shared policy
func (c *Client) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	start := time.Now()
	err := c.policy.Do(ctx, method, func(ctx context.Context) error {
		return c.doOnce(ctx, method, params, result)
	})
	elapsed := time.Since(start)

	metrics.BreakerState.Set(float64(c.policy.State()))
	metrics.LedgerCallLatency.WithLabelValues(method).Observe(elapsed.Seconds())
	if err != nil {
		metrics.LedgerCalls.WithLabelValues(method, "error").Inc()
		return err
	}

	metrics.LedgerCalls.WithLabelValues(method, "success").Inc()
	return nil
}

// doOnce performs a single attempt with its own deadline
func (c *Client) doOnce(ctx context.Context, method string, params []interface{}, result interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.reqID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return retry.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(errors.ErrGatewayUnavailable, "%s: %v", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Wrapf(errors.ErrGatewayUnavailable, "%s: http %d", method, resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return errors.Wrap(err, "decode rpc response")
	}

	if rpcResp.Error != nil {
		// Contract-level rejection: the node answered, retrying is pointless
		return retry.Permanent(mapContractError(method, rpcResp.Error))
	}

	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return retry.Permanent(errors.Wrapf(err, "decode %s result", method))
		}
	}
	return nil
}

// mapContractError translates known revert reasons to domain errors
func mapContractError(method string, rpcErr *rpcError) error {
	msg := strings.ToLower(rpcErr.Message)
	switch {
	case strings.Contains(msg, "not undercollateralized"):
		return errors.Wrapf(errors.ErrNotUndercollateralized, "%s", method)
	case strings.Contains(msg, "no active grant"), strings.Contains(msg, "no protection"):
		return errors.Wrapf(errors.ErrNoProtection, "%s", method)
	default:
		return errors.Wrapf(errors.ErrContractReverted, "%s: %s", method, rpcErr.Message)
	}
}

// parseAmount validates a ledger-native decimal string
func parseAmount(field, raw string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.NewValidationError(field, "malformed decimal from ledger", raw)
	}
	return value, nil
}
