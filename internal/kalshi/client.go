// client.go implements the Kalshi REST API client: the six endpoints
// named in the spec's external-interfaces section. Grounded on the
// teacher's internal/exchange/client.go resty-based client (rate
// limiting, retry-on-5xx, auth-header injection per request), with
// Polymarket's order-payload/on-chain-signing machinery replaced by
// Kalshi's flat order schema and RSA-PSS headers.
package kalshi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"kalshi-binary-trader/internal/errs"
	"kalshi-binary-trader/internal/metrics"
)

// Client is the Kalshi trading REST API client.
type Client struct {
	http   *resty.Client
	auth   *Auth
	rl     *RateLimiter
	dryRun bool
	logger *slog.Logger
}

// NewClient creates a REST client with rate limiting and retry,
// matching spec §5's timeouts: 5s default per request, 3 retries with
// exponential backoff starting at 100ms, on network errors, 5xx and
// 429 responses.
func NewClient(baseURL string, auth *Auth, dryRun bool, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(5 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(100 * time.Millisecond).
		SetRetryMaxWaitTime(1600 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500 || r.StatusCode() == http.StatusTooManyRequests
		}).
		SetHeader("Content-Type", "application/json")

	httpClient.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		metrics.RESTLatency.WithLabelValues(resp.Request.Method + " " + resp.Request.URL).Observe(resp.Time().Seconds())
		return nil
	})

	return &Client{
		http:   httpClient,
		auth:   auth,
		rl:     NewRateLimiter(),
		dryRun: dryRun,
		logger: logger.With("component", "rest_client"),
	}
}

func (c *Client) authHeaders(method, path string) (map[string]string, error) {
	headers, err := c.auth.Headers(method, path)
	if err != nil {
		return nil, &errs.TransportError{Kind: errs.AuthFailed, Err: err}
	}
	return headers, nil
}

func classifyStatus(code int) error {
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusUnauthorized:
		return &errs.TransportError{Kind: errs.AuthFailed, StatusCode: code}
	case code == http.StatusTooManyRequests:
		return &errs.TransportError{Kind: errs.RateLimited, StatusCode: code}
	default:
		return &errs.TransportError{Kind: errs.HttpStatus, StatusCode: code}
	}
}

// GetOrderbook fetches order book depth for ticker.
func (c *Client) GetOrderbook(ctx context.Context, ticker string, depth int) (*OrderbookSnapshotResponse, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}
	path := fmt.Sprintf("/trade-api/v2/markets/%s/orderbook", ticker)
	headers, err := c.authHeaders(http.MethodGet, path)
	if err != nil {
		return nil, err
	}

	var result OrderbookSnapshotResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParam("depth", fmt.Sprintf("%d", depth)).
		SetResult(&result).
		Get(path)
	if err != nil {
		return nil, &errs.TransportError{Kind: errs.NetworkError, Err: err}
	}
	if err := classifyStatus(resp.StatusCode()); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetRestingOrders fetches open orders for ticker with status=resting,
// the shape Executor.reconcile replaces its resting_orders map with.
func (c *Client) GetRestingOrders(ctx context.Context, ticker string) (*OrdersResponse, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}
	path := "/trade-api/v2/portfolio/orders"
	headers, err := c.authHeaders(http.MethodGet, path)
	if err != nil {
		return nil, err
	}

	var result OrdersResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParam("ticker", ticker).
		SetQueryParam("status", "resting").
		SetResult(&result).
		Get(path)
	if err != nil {
		return nil, &errs.TransportError{Kind: errs.NetworkError, Err: err}
	}
	if err := classifyStatus(resp.StatusCode()); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetPositions fetches the signed position for ticker.
func (c *Client) GetPositions(ctx context.Context, ticker string) (*PositionsResponse, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}
	path := "/trade-api/v2/portfolio/positions"
	headers, err := c.authHeaders(http.MethodGet, path)
	if err != nil {
		return nil, err
	}

	var result PositionsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParam("ticker", ticker).
		SetResult(&result).
		Get(path)
	if err != nil {
		return nil, &errs.TransportError{Kind: errs.NetworkError, Err: err}
	}
	if err := classifyStatus(resp.StatusCode()); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetBalance fetches account balance, converting the cents response
// to plain float64 dollars (cents / 100). The value is a dollar
// amount, not a contract price, and is not clamped to [0, 1].
func (c *Client) GetBalance(ctx context.Context) (float64, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return 0, err
	}
	path := "/trade-api/v2/portfolio/balance"
	headers, err := c.authHeaders(http.MethodGet, path)
	if err != nil {
		return 0, err
	}

	var result BalanceResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get(path)
	if err != nil {
		return 0, &errs.TransportError{Kind: errs.NetworkError, Err: err}
	}
	if err := classifyStatus(resp.StatusCode()); err != nil {
		return 0, err
	}
	return float64(result.BalanceCents) / 100.0, nil
}

// PlaceBatch submits up to the exchange's batch limit of orders.
func (c *Client) PlaceBatch(ctx context.Context, orders []OrderRequest) (*BatchOrderResponse, error) {
	if len(orders) == 0 {
		return &BatchOrderResponse{}, nil
	}
	if c.dryRun {
		c.logger.Info("dry-run: would place orders", "count", len(orders))
		results := make([]OrderResult, len(orders))
		for i, o := range orders {
			results[i] = OrderResult{OrderID: fmt.Sprintf("dry-run-%d", i), ClientOrderID: o.ClientOrderID, RemainingCount: o.Count}
		}
		return &BatchOrderResponse{Orders: results}, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return nil, err
	}

	path := "/trade-api/v2/portfolio/orders/batched"
	headers, err := c.authHeaders(http.MethodPost, path)
	if err != nil {
		return nil, err
	}

	body := BatchOrderRequest{Orders: orders}
	var result BatchOrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(body).
		SetResult(&result).
		Post(path)
	if err != nil {
		return nil, &errs.TransportError{Kind: errs.NetworkError, Err: err}
	}
	if err := classifyStatus(resp.StatusCode()); err != nil {
		return nil, err
	}
	return &result, nil
}

// CancelBatch cancels the given order ids in one batched call.
func (c *Client) CancelBatch(ctx context.Context, ids []string) (*CancelBatchResponse, error) {
	if len(ids) == 0 {
		return &CancelBatchResponse{}, nil
	}
	if c.dryRun {
		c.logger.Info("dry-run: would cancel orders", "count", len(ids))
		results := make([]CancelResult, len(ids))
		for i, id := range ids {
			results[i] = CancelResult{OrderID: id}
		}
		return &CancelBatchResponse{Orders: results}, nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return nil, err
	}

	path := "/trade-api/v2/portfolio/orders/batched"
	headers, err := c.authHeaders(http.MethodDelete, path)
	if err != nil {
		return nil, err
	}

	body := CancelBatchRequest{IDs: ids}
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("kalshi: marshal cancel request: %w", err)
	}

	var result CancelBatchResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(encoded)).
		SetResult(&result).
		Delete(path)
	if err != nil {
		return nil, &errs.TransportError{Kind: errs.NetworkError, Err: err}
	}
	if err := classifyStatus(resp.StatusCode()); err != nil {
		return nil, err
	}
	c.logger.Info("orders cancelled", "count", len(result.Orders))
	return &result, nil
}
