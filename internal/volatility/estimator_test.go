package volatility

import (
	"context"
	"testing"
)

type fakeFetcher struct {
	candles []Candle
}

func (f *fakeFetcher) FetchCandles(ctx context.Context, since int64) ([]Candle, error) {
	var out []Candle
	for _, c := range f.candles {
		if c.OpenTime > since {
			out = append(out, c)
		}
	}
	return out, nil
}

func makeCandles(n int) []Candle {
	out := make([]Candle, n)
	base := 100.0
	for i := 0; i < n; i++ {
		out[i] = Candle{
			OpenTime: int64(i) * int64(5*60*1e9),
			Open:     base,
			High:     base + 1,
			Low:      base - 1,
			Close:    base + 0.5,
		}
		base += 0.1
	}
	return out
}

func TestAddCandleOnlyAppendsNewer(t *testing.T) {
	f := &fakeFetcher{candles: makeCandles(5)}
	e := New(f, 24)

	if err := e.AddCandle(context.Background()); err != nil {
		t.Fatalf("AddCandle: %v", err)
	}
	if len(e.Candles()) != 5 {
		t.Fatalf("expected 5 candles, got %d", len(e.Candles()))
	}

	// No new candles available: second call is a no-op.
	if err := e.AddCandle(context.Background()); err != nil {
		t.Fatalf("AddCandle: %v", err)
	}
	if len(e.Candles()) != 5 {
		t.Fatalf("expected still 5 candles after no-op fetch, got %d", len(e.Candles()))
	}
}

func TestParkinsonInsufficientData(t *testing.T) {
	e := New(&fakeFetcher{}, 24)
	if _, err := e.Parkinson(); err != ErrInsufficientData {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestParkinsonWithData(t *testing.T) {
	f := &fakeFetcher{candles: makeCandles(30)}
	e := New(f, 24)
	_ = e.AddCandle(context.Background())

	vol, err := e.Parkinson()
	if err != nil {
		t.Fatalf("Parkinson: %v", err)
	}
	if vol <= 0 {
		t.Fatalf("expected positive volatility, got %v", vol)
	}
}

func TestRogersSatchellRequiresTwelveCandles(t *testing.T) {
	f := &fakeFetcher{candles: makeCandles(10)}
	e := New(f, 24)
	_ = e.AddCandle(context.Background())

	if _, err := e.RogersSatchell(); err != ErrInsufficientData {
		t.Fatalf("expected ErrInsufficientData with 10 candles, got %v", err)
	}

	f2 := &fakeFetcher{candles: makeCandles(12)}
	e2 := New(f2, 24)
	_ = e2.AddCandle(context.Background())
	if _, err := e2.RogersSatchell(); err != nil {
		t.Fatalf("expected success with 12 candles, got %v", err)
	}
}

func TestRingCapacityEviction(t *testing.T) {
	f := &fakeFetcher{candles: makeCandles(150)}
	e := New(f, 24)
	_ = e.AddCandle(context.Background())

	if got := len(e.Candles()); got != 24 {
		t.Fatalf("expected ring capped at %d, got %d", 24, got)
	}
}

func TestNewDefaultsWindowWhenUnset(t *testing.T) {
	f := &fakeFetcher{candles: makeCandles(150)}
	e := New(f, 0)
	_ = e.AddCandle(context.Background())

	if got := len(e.Candles()); got != defaultWindow {
		t.Fatalf("expected ring capped at defaultWindow=%d, got %d", defaultWindow, got)
	}
}
