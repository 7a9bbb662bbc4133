package signal

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"kalshi-binary-trader/internal/volatility"
)

// BinanceCandleFetcher implements volatility.Fetcher over Binance's
// public k-lines REST endpoint, grounded on the teacher's resty usage
// in internal/exchange/client.go (GET with query params, unmarshal
// into a typed result).
type BinanceCandleFetcher struct {
	http   *resty.Client
	symbol string
	logger *slog.Logger
}

// NewBinanceCandleFetcher constructs a candle fetcher for symbol
// against baseURL (e.g. "https://api.binance.com").
func NewBinanceCandleFetcher(baseURL, symbol string, logger *slog.Logger) *BinanceCandleFetcher {
	return &BinanceCandleFetcher{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(5 * time.Second).
			SetRetryCount(3).
			SetRetryWaitTime(100 * time.Millisecond),
		symbol: symbol,
		logger: logger.With("component", "volatility_fetcher", "symbol", symbol),
	}
}

// binanceKline is one row of Binance's /api/v3/klines array-of-arrays
// response: [openTime, open, high, low, close, volume, closeTime, ...].
type binanceKline [12]interface{}

// FetchCandles returns five-minute candles opened strictly after
// sinceOpenTime (unix nanoseconds), matching volatility.Fetcher.
func (f *BinanceCandleFetcher) FetchCandles(ctx context.Context, sinceOpenTime int64) ([]volatility.Candle, error) {
	var raw []binanceKline
	resp, err := f.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":   f.symbol,
			"interval": "5m",
			"limit":    "96",
		}).
		SetResult(&raw).
		Get("/api/v3/klines")
	if err != nil {
		return nil, fmt.Errorf("fetch klines: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch klines: status %d", resp.StatusCode())
	}

	out := make([]volatility.Candle, 0, len(raw))
	for _, row := range raw {
		openMs, ok := row[0].(float64)
		if !ok {
			continue
		}
		openTime := int64(openMs) * int64(time.Millisecond)
		if openTime <= sinceOpenTime {
			continue
		}
		open, err1 := klineFloat(row[1])
		high, err2 := klineFloat(row[2])
		low, err3 := klineFloat(row[3])
		close, err4 := klineFloat(row[4])
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			f.logger.Debug("skipping unparseable kline row")
			continue
		}
		out = append(out, volatility.Candle{
			OpenTime: openTime,
			Open:     open,
			High:     high,
			Low:      low,
			Close:    close,
		})
	}
	return out, nil
}

func klineFloat(v interface{}) (float64, error) {
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("not a string: %v", v)
	}
	return strconv.ParseFloat(s, 64)
}
