package book

import (
	"testing"

	"kalshi-binary-trader/internal/money"
)

func TestScenarioSubscribeSnapshotDelta(t *testing.T) {
	b := NewBook()

	b.ApplySnapshot(10,
		[]PriceLevel{{Price: money.New(0.30), Count: 5}, {Price: money.New(0.31), Count: 7}},
		[]PriceLevel{{Price: money.New(0.68), Count: 2}},
	)

	bid, bidSize, ask, askSize := b.BestBidAsk()
	if got := bid.String(); got != "0.3100" {
		t.Errorf("best_bid = %s, want 0.3100", got)
	}
	if bidSize != 7 {
		t.Errorf("bid_size = %d, want 7", bidSize)
	}
	if got := ask.String(); got != "0.3200" {
		t.Errorf("best_ask = %s, want 0.3200", got)
	}
	if askSize != 2 {
		t.Errorf("ask_size = %d, want 2", askSize)
	}
	if got := b.Spread().String(); got != "0.0100" {
		t.Errorf("spread = %s, want 0.0100", got)
	}

	b.ApplyDelta(11, Yes, money.New(0.31), -7, 1000)

	bid, bidSize, _, _ = b.BestBidAsk()
	if got := bid.String(); got != "0.3000" {
		t.Errorf("after delta best_bid = %s, want 0.3000", got)
	}
	if bidSize != 5 {
		t.Errorf("after delta bid_size = %d, want 5", bidSize)
	}
}

func TestGapDetectionSuppressesApply(t *testing.T) {
	m := New("KXETHD-X", 64, nil, nil)
	m.Book.ApplySnapshot(10,
		[]PriceLevel{{Price: money.New(0.30), Count: 5}},
		[]PriceLevel{{Price: money.New(0.68), Count: 2}},
	)

	var gapped string
	m.onGap = func(ticker string) { gapped = ticker }

	m.Update(Envelope{Kind: DeltaEnvelope, Seq: 13, Side: Yes, Price: money.New(0.30), Delta: -1, TS: 1})

	if gapped != "KXETHD-X" {
		t.Fatalf("expected on_gap to fire with ticker, got %q", gapped)
	}
	_, bidSize, _, _ := m.Book.BestBidAsk()
	if bidSize != 5 {
		t.Fatalf("book mutated despite gap: bid_size = %d, want 5", bidSize)
	}

	// A fresh snapshot fully replaces the book and clears the buffer.
	m.Update(Envelope{Kind: SnapshotEnvelope, Seq: 20, Yes: []PriceLevel{{Price: money.New(0.40), Count: 9}}, No: []PriceLevel{{Price: money.New(0.55), Count: 3}}})
	bid, bidSize, _, _ := m.Book.BestBidAsk()
	if got := bid.String(); got != "0.4000" || bidSize != 9 {
		t.Fatalf("snapshot did not fully replace book: bid=%s size=%d", got, bidSize)
	}
}

func TestEmptySideDefaults(t *testing.T) {
	b := NewBook()
	bid, bidSize, ask, askSize := b.BestBidAsk()
	if !bid.Equal(money.Zero) || bidSize != 0 {
		t.Errorf("empty yes side: bid=%s size=%d, want 0/0", bid, bidSize)
	}
	if !ask.Equal(money.One) || askSize != 0 {
		t.Errorf("empty no side: ask=%s size=%d, want 1/0", ask, askSize)
	}
	if got := b.Mid().String(); got != "0.5000" {
		t.Errorf("empty book mid = %s, want 0.5000", got)
	}
}

func TestDeltaNoOpAtAbsentLevelWithNonPositiveDelta(t *testing.T) {
	b := NewBook()
	b.ApplyDelta(1, Yes, money.New(0.20), -3, 1)
	yes, _ := b.Snapshot()
	if len(yes) != 0 {
		t.Fatalf("expected no-op insert, got %d levels", len(yes))
	}

	b.ApplyDelta(2, Yes, money.New(0.20), 3, 1)
	yes, _ = b.Snapshot()
	if len(yes) != 1 || yes[0].Count != 3 {
		t.Fatalf("expected one level of 3, got %+v", yes)
	}
}

func TestBestBidInvariants(t *testing.T) {
	b := NewBook()
	b.ApplySnapshot(1,
		[]PriceLevel{{Price: money.New(0.10), Count: 1}, {Price: money.New(0.20), Count: 2}},
		[]PriceLevel{{Price: money.New(0.70), Count: 1}},
	)
	bid, bidSize, ask, _ := b.BestBidAsk()
	mid := b.Mid()
	if !(bid.LessThan(mid) || bid.Equal(mid)) || !(mid.LessThan(ask) || mid.Equal(ask)) {
		t.Fatalf("invariant best_bid <= mid <= best_ask violated: bid=%s mid=%s ask=%s", bid, mid, ask)
	}
	if bid.Cmp(money.New(0.20)) != 0 || bidSize != 2 {
		t.Fatalf("best_bid should be max yes key: got %s/%d", bid, bidSize)
	}
}

func TestVolatilityInsufficientData(t *testing.T) {
	m := New("X", 8, nil, nil)
	if _, ok := m.Volatility(); ok {
		t.Fatal("expected insufficient-data with zero samples")
	}
	m.Update(Envelope{Kind: SnapshotEnvelope, Seq: 1, Yes: []PriceLevel{{Price: money.New(0.5), Count: 1}}, No: []PriceLevel{{Price: money.New(0.5), Count: 1}}})
	m.Update(Envelope{Kind: DeltaEnvelope, Seq: 2, Side: Yes, Price: money.New(0.5), Delta: 1, TS: 1})
	if _, ok := m.Volatility(); ok {
		t.Fatal("expected insufficient-data with a single delta sample")
	}
}

func TestVolatilityTwoSamples(t *testing.T) {
	m := New("X", 8, nil, nil)
	m.Update(Envelope{Kind: SnapshotEnvelope, Seq: 1, Yes: []PriceLevel{{Price: money.New(0.50), Count: 1}}, No: []PriceLevel{{Price: money.New(0.50), Count: 1}}})
	m.Update(Envelope{Kind: DeltaEnvelope, Seq: 2, Side: Yes, Price: money.New(0.50), Delta: 1, TS: 1_000_000_000})
	m.Update(Envelope{Kind: DeltaEnvelope, Seq: 3, Side: Yes, Price: money.New(0.51), Delta: -1, TS: 2_000_000_000})

	vol, ok := m.Volatility()
	if !ok {
		t.Fatal("expected a volatility estimate with two consecutive samples")
	}
	if vol < 0 {
		t.Fatalf("volatility must be non-negative, got %v", vol)
	}
}
