package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"kalshi-binary-trader/internal/book"
	"kalshi-binary-trader/internal/kalshi"
	"kalshi-binary-trader/internal/pricing"
)

// simMatcher is an in-memory RESTClient that fills orders against a
// live order book instead of the real exchange. Wiring it into
// newBase lets Base's reconcile/place_batch/cancel_all logic run
// completely unmodified in simulation: LiveExecutor and SimExecutor
// are the same Base, differing only in which RESTClient they hold,
// per the source's note that the two must share accounting as a plain
// struct rather than through inheritance.
//
// Matching is simplified to immediate fills against the book's cached
// best bid/ask, up to the size shown at that touch, with any
// remainder left resting (no resting-order price-time priority book
// of its own, and resting remainders are never matched later); that's proportionate to this executor's
// job of exercising the accounting and risk paths, not to replace the
// historical backtesting framework the source explicitly excludes.
type simMatcher struct {
	mu     sync.Mutex
	book   *book.Book
	ticker string

	inventory int
	balance   float64
	orders    map[string]simOrder
	nextID    int

	// base is the executor this matcher fills for; PlaceBatch copies the
	// post-fill inventory and balance into it.
	base *Base
}

type simOrder struct {
	intent    OrderIntent
	remaining int
}

// NewSimExecutor builds an Executor whose fills are synthesized
// against book rather than a live exchange connection.
func NewSimExecutor(b *book.Book, cfg Config, logger *slog.Logger) *Base {
	m := &simMatcher{
		book:    b,
		ticker:  cfg.Ticker,
		balance: cfg.StartingBalance,
		orders:  make(map[string]simOrder),
	}
	m.base = newBase(m, cfg, logger)
	return m.base
}

func (m *simMatcher) GetRestingOrders(ctx context.Context, ticker string) (*kalshi.OrdersResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	resp := &kalshi.OrdersResponse{}
	for id, o := range m.orders {
		resp.Orders = append(resp.Orders, kalshi.RestingOrder{
			OrderID:        id,
			Ticker:         ticker,
			Side:           o.intent.Side,
			Action:         o.intent.Action,
			RemainingCount: o.remaining,
			Status:         "resting",
		})
	}
	return resp, nil
}

func (m *simMatcher) GetPositions(ctx context.Context, ticker string) (*kalshi.PositionsResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &kalshi.PositionsResponse{Positions: []kalshi.Position{{Ticker: ticker, Position: m.inventory}}}, nil
}

func (m *simMatcher) GetBalance(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance, nil
}

// PlaceBatch splits each requested order through Portfolio's
// flip-sale translation (mirroring the exchange's own policy, per the
// source's explicit instruction that the simulator must match it
// exactly), then fills each resulting leg immediately if it is
// marketable against the book's current touch.
func (m *simMatcher) PlaceBatch(ctx context.Context, reqs []kalshi.OrderRequest) (*kalshi.BatchOrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	resp := &kalshi.BatchOrderResponse{}
	for _, r := range reqs {
		intent := fromOrderRequest(r)
		portfolio := Portfolio{Inventory: m.inventory, MaxInventory: math.MaxInt32}
		for _, leg := range portfolio.SplitFlipSale(intent) {
			id := fmt.Sprintf("sim-%d", m.nextID)
			m.nextID++

			filled := m.matchableCount(leg)
			if filled > 0 {
				m.applyFill(leg, filled)
				portfolio.Inventory = m.inventory
			}
			remaining := leg.Count - filled
			if remaining > 0 {
				m.orders[id] = simOrder{intent: leg, remaining: remaining}
			}
			resp.Orders = append(resp.Orders, kalshi.OrderResult{OrderID: id, ClientOrderID: leg.ClientOrderID, RemainingCount: remaining})
		}
	}
	if m.base != nil {
		m.base.portMu.Lock()
		m.base.inventory = m.inventory
		m.base.balance = m.balance
		m.base.portMu.Unlock()
	}
	return resp, nil
}

func (m *simMatcher) applyFill(leg OrderIntent, filled int) {
	fee := pricing.TakerFee(filled, leg.Price)
	m.inventory += signedDelta(leg) * filled
	notional := leg.Price.Float64() * float64(filled)
	if leg.Action == kalshi.ActionBuy {
		m.balance -= notional + fee.Float64()
	} else {
		m.balance += notional - fee.Float64()
	}
}

// matchableCount reports how much of leg fills immediately against
// the book's current best bid/ask. NO-side orders are evaluated via
// their YES-equivalent complement price, since the book only caches
// YES-terms best bid/ask.
func (m *simMatcher) matchableCount(o OrderIntent) int {
	bestBid, bidSize, bestAsk, askSize := m.book.BestBidAsk()
	market := o.Type == kalshi.OrderTypeMarket

	switch {
	case o.Side == kalshi.SideYes && o.Action == kalshi.ActionBuy:
		if market || !o.Price.LessThan(bestAsk) {
			return minInt(o.Count, askSize)
		}
	case o.Side == kalshi.SideYes && o.Action == kalshi.ActionSell:
		if market || !o.Price.GreaterThan(bestBid) {
			return minInt(o.Count, bidSize)
		}
	case o.Side == kalshi.SideNo && o.Action == kalshi.ActionBuy:
		if yesEquiv := o.Price.Complement(); market || !yesEquiv.GreaterThan(bestBid) {
			return minInt(o.Count, bidSize)
		}
	case o.Side == kalshi.SideNo && o.Action == kalshi.ActionSell:
		if yesEquiv := o.Price.Complement(); market || !yesEquiv.LessThan(bestAsk) {
			return minInt(o.Count, askSize)
		}
	}
	return 0
}

func (m *simMatcher) CancelBatch(ctx context.Context, ids []string) (*kalshi.CancelBatchResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	resp := &kalshi.CancelBatchResponse{}
	for _, id := range ids {
		delete(m.orders, id)
		resp.Orders = append(resp.Orders, kalshi.CancelResult{OrderID: id})
	}
	return resp, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
