package broker

import (
	"context"
	"fmt"
	"strconv"

	binance "github.com/adshao/go-binance/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/quantpulse/quantpulse/internal/agents"
	"github.com/quantpulse/quantpulse/internal/metrics"
)

// BinanceConfig contains configuration for the Binance broker
type BinanceConfig struct {
	APIKey          string
	SecretKey       string
	Testnet         bool
	QuoteCurrency   string
	RateLimitPerSec float64
	Retry           RetryConfig
}

// BinanceBroker places spot orders through the Binance REST API
type BinanceBroker struct {
	client  *binance.Client
	quote   string
	limiter *rate.Limiter
	retry   RetryConfig
	log     zerolog.Logger
}

// NewBinanceBroker creates a Binance broker
func NewBinanceBroker(cfg BinanceConfig, log zerolog.Logger) *BinanceBroker {
	if cfg.Testnet {
		binance.UseTestnet = true
		log.Info().Msg("Binance broker initialized (TESTNET mode)")
	} else {
		log.Warn().Msg("Binance broker initialized (LIVE TRADING mode)")
	}
	if cfg.QuoteCurrency == "" {
		cfg.QuoteCurrency = "USDT"
	}
	if cfg.RateLimitPerSec == 0 {
		cfg.RateLimitPerSec = 10
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	return &BinanceBroker{
		client:  binance.NewClient(cfg.APIKey, cfg.SecretKey),
		quote:   cfg.QuoteCurrency,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), 1),
		retry:   cfg.Retry,
		log:     log.With().Str("component", "binance_broker").Logger(),
	}
}

// PlaceMarketOrder submits a market order. Binance spot cannot attach both
// stop and target to a market order, so an OCO order follows the fill.
func (b *BinanceBroker) PlaceMarketOrder(ctx context.Context, agent agents.Agent, symbol string, side Side, qty, stop, target float64) (*OrderResult, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	orderSide := binance.SideTypeBuy
	if side == SideSell {
		orderSide = binance.SideTypeSell
	}

	var resp *binance.CreateOrderResponse
	err := WithRetry(ctx, b.retry, func() error {
		var err error
		resp, err = b.client.NewCreateOrderService().
			Symbol(symbol).
			Side(orderSide).
			Type(binance.OrderTypeMarket).
			Quantity(fmt.Sprintf("%.8f", qty)).
			Do(ctx)
		return err
	})
	if err != nil {
		metrics.BrokerErrors.WithLabelValues(metrics.NormalizeBrokerError(err)).Inc()
		return &OrderResult{Status: OrderRejected, Error: err.Error()}, nil
	}

	fill := avgFillPrice(resp)
	result := &OrderResult{
		Status:       OrderFilled,
		BrokerTicket: strconv.FormatInt(resp.OrderID, 10),
		FillPrice:    fill,
	}

	if stop > 0 && target > 0 {
		if err := b.attachProtection(ctx, symbol, orderSide, qty, stop, target); err != nil {
			// The entry is live; protection failures are surfaced, not fatal
			b.log.Error().Err(err).
				Str("symbol", symbol).
				Str("ticket", result.BrokerTicket).
				Msg("Failed to attach protective orders")
		}
	}

	b.log.Info().
		Str("symbol", symbol).
		Str("side", string(side)).
		Float64("qty", qty).
		Float64("fill", fill).
		Str("ticket", result.BrokerTicket).
		Msg("Market order filled")
	return result, nil
}

// attachProtection places the OCO stop/target pair opposite the entry
func (b *BinanceBroker) attachProtection(ctx context.Context, symbol string, entrySide binance.SideType, qty, stop, target float64) error {
	exitSide := binance.SideTypeSell
	if entrySide == binance.SideTypeSell {
		exitSide = binance.SideTypeBuy
	}

	return WithRetry(ctx, b.retry, func() error {
		_, err := b.client.NewCreateOCOService().
			Symbol(symbol).
			Side(exitSide).
			Quantity(fmt.Sprintf("%.8f", qty)).
			Price(fmt.Sprintf("%.8f", target)).
			StopPrice(fmt.Sprintf("%.8f", stop)).
			StopLimitPrice(fmt.Sprintf("%.8f", stop)).
			StopLimitTimeInForce(binance.TimeInForceTypeGTC).
			Do(ctx)
		return err
	})
}

// ClosePosition closes a spot position by selling (or buying back) the base
// asset. Fractional closes are supported by sizing the closing order.
func (b *BinanceBroker) ClosePosition(ctx context.Context, agent agents.Agent, brokerTicket string, fraction float64) (*CloseResult, error) {
	if fraction <= 0 || fraction > 1 {
		return nil, fmt.Errorf("invalid close fraction: %f", fraction)
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	orderID, err := strconv.ParseInt(brokerTicket, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid broker ticket %q: %w", brokerTicket, err)
	}

	var order *binance.Order
	err = WithRetry(ctx, b.retry, func() error {
		var err error
		order, err = b.client.NewGetOrderService().OrderID(orderID).Do(ctx)
		return err
	})
	if err != nil {
		metrics.BrokerErrors.WithLabelValues(metrics.NormalizeBrokerError(err)).Inc()
		return &CloseResult{Status: OrderRejected, Error: err.Error()}, nil
	}

	qty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)
	closeQty := qty * fraction

	closeSide := binance.SideTypeSell
	if order.Side == binance.SideTypeSell {
		closeSide = binance.SideTypeBuy
	}

	var resp *binance.CreateOrderResponse
	err = WithRetry(ctx, b.retry, func() error {
		var err error
		resp, err = b.client.NewCreateOrderService().
			Symbol(order.Symbol).
			Side(closeSide).
			Type(binance.OrderTypeMarket).
			Quantity(fmt.Sprintf("%.8f", closeQty)).
			Do(ctx)
		return err
	})
	if err != nil {
		metrics.BrokerErrors.WithLabelValues(metrics.NormalizeBrokerError(err)).Inc()
		return &CloseResult{Status: OrderRejected, Error: err.Error()}, nil
	}

	entryPrice, _ := strconv.ParseFloat(order.Price, 64)
	exitPrice := avgFillPrice(resp)
	pnl := (exitPrice - entryPrice) * closeQty
	if order.Side == binance.SideTypeSell {
		pnl = -pnl
	}

	return &CloseResult{Status: OrderFilled, RealizedPnL: pnl}, nil
}

// GetBalance returns the agent's free quote-currency balance
func (b *BinanceBroker) GetBalance(ctx context.Context, agent agents.Agent) (Balance, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return Balance{}, err
	}

	var account *binance.Account
	err := WithRetry(ctx, b.retry, func() error {
		var err error
		account, err = b.client.NewGetAccountService().Do(ctx)
		return err
	})
	if err != nil {
		return Balance{}, fmt.Errorf("failed to fetch account: %w", err)
	}

	for _, bal := range account.Balances {
		if bal.Asset == b.quote {
			free, _ := strconv.ParseFloat(bal.Free, 64)
			return Balance{Currency: b.quote, Available: free}, nil
		}
	}
	return Balance{Currency: b.quote, Available: 0}, nil
}

// Ticker returns the current quote for a symbol
func (b *BinanceBroker) Ticker(ctx context.Context, symbol string) (Ticker, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return Ticker{}, err
	}

	var stats []*binance.PriceChangeStats
	err := WithRetry(ctx, b.retry, func() error {
		var err error
		stats, err = b.client.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
		return err
	})
	if err != nil {
		return Ticker{}, fmt.Errorf("failed to fetch ticker: %w", err)
	}
	if len(stats) == 0 {
		return Ticker{}, fmt.Errorf("no ticker for symbol %s", symbol)
	}

	s := stats[0]
	bid, _ := strconv.ParseFloat(s.BidPrice, 64)
	ask, _ := strconv.ParseFloat(s.AskPrice, 64)
	last, _ := strconv.ParseFloat(s.LastPrice, 64)
	change, _ := strconv.ParseFloat(s.PriceChangePercent, 64)
	volume, _ := strconv.ParseFloat(s.QuoteVolume, 64)

	return Ticker{Bid: bid, Ask: ask, Last: last, ChangePct: change, QuoteVolume: volume}, nil
}

func avgFillPrice(resp *binance.CreateOrderResponse) float64 {
	var qty, quote float64
	for _, f := range resp.Fills {
		p, _ := strconv.ParseFloat(f.Price, 64)
		q, _ := strconv.ParseFloat(f.Quantity, 64)
		qty += q
		quote += p * q
	}
	if qty == 0 {
		return 0
	}
	return quote / qty
}
