package market

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"golang.org/x/time/rate"
)

// Feed is the market-data transport boundary. BinanceFeed implements it for
// live data; tests use an in-process fake.
type Feed interface {
	// Backfill fetches the last limit finalized candles for a timeframe
	Backfill(ctx context.Context, instrument string, tf Timeframe, limit int) ([]Candle, error)

	// Subscribe streams candle events until stop is called. The error handler
	// is invoked on transport failure; the subscription is dead afterwards
	// and must be re-established by the caller.
	Subscribe(instrument string, tf Timeframe, handler func(CandleEvent), errHandler func(error)) (stop func(), err error)
}

// BinanceFeed streams klines from Binance
type BinanceFeed struct {
	client  *binance.Client
	limiter *rate.Limiter
}

// BinanceFeedConfig configures the Binance market-data feed
type BinanceFeedConfig struct {
	APIKey          string
	SecretKey       string
	Testnet         bool
	RateLimitPerSec float64
}

// NewBinanceFeed creates a Binance-backed feed
func NewBinanceFeed(cfg BinanceFeedConfig) *BinanceFeed {
	if cfg.Testnet {
		binance.UseTestnet = true
	}
	perSec := cfg.RateLimitPerSec
	if perSec <= 0 {
		perSec = 10
	}
	return &BinanceFeed{
		client:  binance.NewClient(cfg.APIKey, cfg.SecretKey),
		limiter: rate.NewLimiter(rate.Limit(perSec), int(perSec)),
	}
}

// Backfill fetches historical klines through the REST API
func (f *BinanceFeed) Backfill(ctx context.Context, instrument string, tf Timeframe, limit int) ([]Candle, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	klines, err := f.client.NewKlinesService().
		Symbol(instrument).
		Interval(string(tf)).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch klines for %s %s: %w", instrument, tf, err)
	}

	candles := make([]Candle, 0, len(klines))
	now := time.Now()
	for _, k := range klines {
		c, err := klineToCandle(k.OpenTime, k.CloseTime, k.Open, k.High, k.Low, k.Close, k.Volume)
		if err != nil {
			return nil, err
		}
		// The newest kline may still be forming; only finalized bars backfill
		if c.CloseTime.After(now) {
			continue
		}
		candles = append(candles, c)
	}
	return candles, nil
}

// Subscribe opens a websocket kline stream
func (f *BinanceFeed) Subscribe(instrument string, tf Timeframe, handler func(CandleEvent), errHandler func(error)) (func(), error) {
	wsHandler := func(event *binance.WsKlineEvent) {
		c, err := klineToCandle(event.Kline.StartTime, event.Kline.EndTime,
			event.Kline.Open, event.Kline.High, event.Kline.Low, event.Kline.Close, event.Kline.Volume)
		if err != nil {
			errHandler(fmt.Errorf("malformed kline event: %w", err))
			return
		}
		handler(CandleEvent{
			Instrument: event.Symbol,
			Timeframe:  tf,
			Candle:     c,
			IsFinal:    event.Kline.IsFinal,
		})
	}

	_, stopC, err := binance.WsKlineServe(instrument, string(tf), wsHandler, errHandler)
	if err != nil {
		return nil, fmt.Errorf("failed to open kline stream for %s %s: %w", instrument, tf, err)
	}

	return func() { close(stopC) }, nil
}

func klineToCandle(openTime, closeTime int64, open, high, low, closePrice, volume string) (Candle, error) {
	o, err := strconv.ParseFloat(open, 64)
	if err != nil {
		return Candle{}, fmt.Errorf("invalid open price %q: %w", open, err)
	}
	h, err := strconv.ParseFloat(high, 64)
	if err != nil {
		return Candle{}, fmt.Errorf("invalid high price %q: %w", high, err)
	}
	l, err := strconv.ParseFloat(low, 64)
	if err != nil {
		return Candle{}, fmt.Errorf("invalid low price %q: %w", low, err)
	}
	c, err := strconv.ParseFloat(closePrice, 64)
	if err != nil {
		return Candle{}, fmt.Errorf("invalid close price %q: %w", closePrice, err)
	}
	v, err := strconv.ParseFloat(volume, 64)
	if err != nil {
		return Candle{}, fmt.Errorf("invalid volume %q: %w", volume, err)
	}
	return Candle{
		OpenTime:  time.UnixMilli(openTime),
		CloseTime: time.UnixMilli(closeTime),
		Open:      o,
		High:      h,
		Low:       l,
		Close:     c,
		Volume:    v,
	}, nil
}
