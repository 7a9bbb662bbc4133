// Package executor implements the portfolio state machine described in
// the source's §4.4: inventory/balance/open-order accounting under
// concurrent fills, periodic reconciliation against REST, and
// risk-limit enforcement. The live and simulated variants are the same
// Base type wired to different RESTClient implementations, so the
// portfolio accounting (clamp, flip-sale translation, fill bookkeeping)
// lives in exactly one place regardless of which one is running.
package executor

import (
	"context"

	"github.com/google/uuid"

	"kalshi-binary-trader/internal/kalshi"
	"kalshi-binary-trader/internal/money"
)

// Config holds the per-session risk limits and identifying fields an
// Executor needs. Field names mirror the config surface's risk/market
// blocks.
type Config struct {
	Ticker          string
	StartingBalance float64
	MaxInventory    int
	MinBalance      float64
	MaxInventoryDev float64
	MaxBalanceDev   float64
	MinEdge         money.FixedPrice
	MaxTickOrder    int // per-action order size cap used by OptionsExecutor (spec's "min(10, ...)")
}

// OrderIntent is the executor's in-process representation of a desired
// order, before translation to the wire-level kalshi.OrderRequest.
type OrderIntent struct {
	Side          kalshi.Side
	Action        kalshi.Action
	Count         int
	Price         money.FixedPrice
	Type          kalshi.OrderType
	ClientOrderID string
}

// RESTClient is the REST surface the Executor depends on. kalshi.Client
// satisfies it directly for live trading; SimExecutor supplies an
// in-memory matcher that satisfies it instead, so Base's accounting
// logic never has to know which one it's talking to.
type RESTClient interface {
	GetRestingOrders(ctx context.Context, ticker string) (*kalshi.OrdersResponse, error)
	GetPositions(ctx context.Context, ticker string) (*kalshi.PositionsResponse, error)
	GetBalance(ctx context.Context) (float64, error)
	PlaceBatch(ctx context.Context, orders []kalshi.OrderRequest) (*kalshi.BatchOrderResponse, error)
	CancelBatch(ctx context.Context, ids []string) (*kalshi.CancelBatchResponse, error)
}

// Executor is the trait the source asks for: on_fill, on_market_update,
// reconcile, place_batch, cancel_all, close_position, get_balance.
type Executor interface {
	OnFill(msg kalshi.FillMsg) error
	OnMarketUpdate()
	OnTick()
	Reconcile(ctx context.Context) error
	PlaceBatch(ctx context.Context, orders []OrderIntent) error
	CancelAll(ctx context.Context) error
	ClosePosition(ctx context.Context) error
	GetBalance() float64
}

// Snapshot is a point-in-time copy of the portfolio state, safe to
// read without holding any of the Executor's internal locks.
type Snapshot struct {
	Inventory         int
	Balance           float64
	RestingOrders     map[string]int
	UnregisteredFills map[string]int
	LastFillTS        int64
}

// toOrderRequest translates an intent to its wire request, generating
// a client_order_id when the caller hasn't supplied one (the common
// case — OptionsExecutor builds bare OrderIntents and relies on this
// to give the exchange an idempotency key per spec §3's Order shape).
func toOrderRequest(o OrderIntent, ticker string) kalshi.OrderRequest {
	clientOrderID := o.ClientOrderID
	if clientOrderID == "" {
		clientOrderID = uuid.NewString()
	}
	return kalshi.OrderRequest{
		Ticker:         ticker,
		Side:           o.Side,
		Action:         o.Action,
		Count:          o.Count,
		Type:           o.Type,
		YesPriceDollar: yesPriceDollars(o),
		ClientOrderID:  clientOrderID,
	}
}

// yesPriceDollars reports the order's price in YES-dollar terms: a NO
// order's price is stored as the NO price, whose YES-equivalent is its
// complement.
func yesPriceDollars(o OrderIntent) float64 {
	if o.Side == kalshi.SideNo {
		return o.Price.Complement().Float64()
	}
	return o.Price.Float64()
}

func fromOrderRequest(r kalshi.OrderRequest) OrderIntent {
	price := money.New(r.YesPriceDollar)
	if r.Side == kalshi.SideNo {
		price = price.Complement()
	}
	return OrderIntent{
		Side:          r.Side,
		Action:        r.Action,
		Count:         r.Count,
		Price:         price,
		Type:          r.Type,
		ClientOrderID: r.ClientOrderID,
	}
}

// signedDelta is the change to signed inventory (positive = long YES)
// that one fully-filled contract of this intent produces.
func signedDelta(o OrderIntent) int {
	switch {
	case o.Side == kalshi.SideYes && o.Action == kalshi.ActionBuy:
		return 1
	case o.Side == kalshi.SideYes && o.Action == kalshi.ActionSell:
		return -1
	case o.Side == kalshi.SideNo && o.Action == kalshi.ActionBuy:
		return -1
	default: // NO sell
		return 1
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
