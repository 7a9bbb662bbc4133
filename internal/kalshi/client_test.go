package kalshi

import (
	"context"
	"log/slog"
	"os"
	"testing"
)

func newDryRunClient() *Client {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return &Client{
		dryRun: true,
		rl:     NewRateLimiter(),
		logger: logger,
	}
}

func TestDryRunPlaceBatch(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	orders := []OrderRequest{
		{Ticker: "KXETHD-X", Side: SideYes, Action: ActionBuy, Count: 10, Type: OrderTypeLimit, YesPriceDollar: 0.40, ClientOrderID: "co-1"},
	}

	resp, err := c.PlaceBatch(context.Background(), orders)
	if err != nil {
		t.Fatalf("PlaceBatch: %v", err)
	}
	if len(resp.Orders) != 1 {
		t.Fatalf("expected 1 result, got %d", len(resp.Orders))
	}
	if resp.Orders[0].RemainingCount != 10 {
		t.Errorf("RemainingCount = %d, want 10", resp.Orders[0].RemainingCount)
	}
}

func TestDryRunPlaceBatchEmpty(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	resp, err := c.PlaceBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("PlaceBatch: %v", err)
	}
	if len(resp.Orders) != 0 {
		t.Errorf("expected no results for empty batch, got %d", len(resp.Orders))
	}
}

func TestDryRunCancelBatch(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	resp, err := c.CancelBatch(context.Background(), []string{"o1", "o2"})
	if err != nil {
		t.Fatalf("CancelBatch: %v", err)
	}
	if len(resp.Orders) != 2 {
		t.Fatalf("expected 2 results, got %d", len(resp.Orders))
	}
}

func TestClassifyStatus(t *testing.T) {
	if err := classifyStatus(200); err != nil {
		t.Errorf("200 should classify as nil, got %v", err)
	}
	if err := classifyStatus(401); err == nil {
		t.Error("401 should classify as an error")
	}
	if err := classifyStatus(429); err == nil {
		t.Error("429 should classify as an error")
	}
}
