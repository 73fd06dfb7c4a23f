package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quantpulse/quantpulse/internal/agents"
)

// paperPosition is one simulated open position
type paperPosition struct {
	symbol     string
	side       Side
	entryPrice float64
	quantity   float64
}

// PaperBroker simulates fills against a settable market price. Used for
// development and tests; balances are tracked per agent.
type PaperBroker struct {
	mu          sync.Mutex
	prices      map[string]float64
	balances    map[string]float64
	positions   map[string]*paperPosition
	slippagePct float64
	allowPartial bool
	log         zerolog.Logger
}

// NewPaperBroker creates a paper broker with a default slippage of 5 bps
func NewPaperBroker(log zerolog.Logger) *PaperBroker {
	return &PaperBroker{
		prices:       make(map[string]float64),
		balances:     make(map[string]float64),
		positions:    make(map[string]*paperPosition),
		slippagePct:  0.05,
		allowPartial: true,
		log:          log.With().Str("component", "paper_broker").Logger(),
	}
}

// SetMarketPrice sets the simulated price for a symbol
func (p *PaperBroker) SetMarketPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

// SetBalance sets an agent's simulated balance
func (p *PaperBroker) SetBalance(agentID string, balance float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances[agentID] = balance
}

// SetAllowPartial toggles fractional close support
func (p *PaperBroker) SetAllowPartial(allow bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowPartial = allow
}

// PlaceMarketOrder fills immediately at the simulated price plus slippage
func (p *PaperBroker) PlaceMarketOrder(ctx context.Context, agent agents.Agent, symbol string, side Side, qty, stop, target float64) (*OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	price, ok := p.prices[symbol]
	if !ok {
		return &OrderResult{Status: OrderRejected, Error: fmt.Sprintf("no market price for %s", symbol)}, nil
	}
	if qty <= 0 {
		return &OrderResult{Status: OrderRejected, Error: "invalid quantity"}, nil
	}

	slip := price * p.slippagePct / 100
	fill := price + slip
	if side == SideSell {
		fill = price - slip
	}

	cost := fill * qty
	if side == SideBuy {
		if p.balances[agent.ID] < cost {
			return &OrderResult{Status: OrderRejected, Error: "insufficient balance"}, nil
		}
		p.balances[agent.ID] -= cost
	}

	ticket := uuid.NewString()
	p.positions[ticket] = &paperPosition{symbol: symbol, side: side, entryPrice: fill, quantity: qty}

	p.log.Info().
		Str("symbol", symbol).
		Str("side", string(side)).
		Float64("qty", qty).
		Float64("fill", fill).
		Msg("Paper order filled")

	return &OrderResult{Status: OrderFilled, BrokerTicket: ticket, FillPrice: fill}, nil
}

// ClosePosition closes a fraction of a simulated position
func (p *PaperBroker) ClosePosition(ctx context.Context, agent agents.Agent, brokerTicket string, fraction float64) (*CloseResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if fraction <= 0 || fraction > 1 {
		return nil, fmt.Errorf("invalid close fraction: %f", fraction)
	}
	if fraction < 1 && !p.allowPartial {
		return nil, ErrPartialCloseUnsupported
	}

	pos, ok := p.positions[brokerTicket]
	if !ok {
		return &CloseResult{Status: OrderRejected, Error: "unknown position"}, nil
	}

	price, ok := p.prices[pos.symbol]
	if !ok {
		return &CloseResult{Status: OrderRejected, Error: "no market price"}, nil
	}

	closeQty := pos.quantity * fraction
	pnl := (price - pos.entryPrice) * closeQty
	if pos.side == SideSell {
		pnl = -pnl
	}

	if pos.side == SideBuy {
		p.balances[agent.ID] += price * closeQty
	} else {
		p.balances[agent.ID] += pnl
	}

	pos.quantity -= closeQty
	if pos.quantity <= 1e-12 {
		delete(p.positions, brokerTicket)
	}

	return &CloseResult{Status: OrderFilled, RealizedPnL: pnl}, nil
}

// GetBalance returns the agent's simulated balance
func (p *PaperBroker) GetBalance(ctx context.Context, agent agents.Agent) (Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Balance{Currency: "USDT", Available: p.balances[agent.ID]}, nil
}

// Ticker returns a synthetic quote around the simulated price
func (p *PaperBroker) Ticker(ctx context.Context, symbol string) (Ticker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	price, ok := p.prices[symbol]
	if !ok {
		return Ticker{}, fmt.Errorf("no market price for %s", symbol)
	}
	spread := price * 0.0002
	return Ticker{
		Bid:         price - spread/2,
		Ask:         price + spread/2,
		Last:        price,
		QuoteVolume: 1_000_000,
	}, nil
}
