// Package broker defines the exchange boundary: market orders with attached
// protection, position closes, balances, and tickers, plus per-broker symbol
// admissibility.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/quantpulse/quantpulse/internal/agents"
)

// ErrPartialCloseUnsupported is returned by brokers that can only close a
// position in full. Callers downgrade the decision to a logged no-op.
var ErrPartialCloseUnsupported = errors.New("partial close not supported by broker")

// Side is the order side
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderStatus is the broker's answer to an order submission
type OrderStatus string

const (
	OrderFilled   OrderStatus = "FILLED"
	OrderRejected OrderStatus = "REJECTED"
)

// OrderResult is the outcome of a market order
type OrderResult struct {
	Status       OrderStatus `json:"status"`
	BrokerTicket string      `json:"broker_ticket,omitempty"`
	FillPrice    float64     `json:"fill_price,omitempty"`
	Error        string      `json:"error,omitempty"`
}

// CloseResult is the outcome of a position close
type CloseResult struct {
	Status      OrderStatus `json:"status"`
	RealizedPnL float64     `json:"realized_pnl"`
	Error       string      `json:"error,omitempty"`
}

// Balance is an agent's available balance at the broker
type Balance struct {
	Currency  string  `json:"currency"`
	Available float64 `json:"available"`
}

// Ticker is a live market quote
type Ticker struct {
	Bid         float64 `json:"bid"`
	Ask         float64 `json:"ask"`
	Last        float64 `json:"last"`
	ChangePct   float64 `json:"change_pct_24h"`
	QuoteVolume float64 `json:"quote_volume"`
}

// Broker is the exchange adapter capability set
type Broker interface {
	// PlaceMarketOrder submits a market order with attached stop and target.
	// Brokers that cannot attach both emulate them server-side or leave the
	// monitor to enforce exits.
	PlaceMarketOrder(ctx context.Context, agent agents.Agent, symbol string, side Side, qty, stop, target float64) (*OrderResult, error)

	// ClosePosition closes a fraction of an open position (1.0 = full)
	ClosePosition(ctx context.Context, agent agents.Agent, brokerTicket string, fraction float64) (*CloseResult, error)

	// GetBalance returns the agent's available balance
	GetBalance(ctx context.Context, agent agents.Agent) (Balance, error)

	// Ticker returns the current quote for a symbol
	Ticker(ctx context.Context, symbol string) (Ticker, error)
}

// Registry resolves brokers by name
type Registry struct {
	mu      sync.RWMutex
	brokers map[string]Broker
}

// NewRegistry creates an empty broker registry
func NewRegistry() *Registry {
	return &Registry{brokers: make(map[string]Broker)}
}

// Register adds a broker under a name
func (r *Registry) Register(name string, b Broker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.brokers[name] = b
}

// Resolve returns the broker registered under the name
func (r *Registry) Resolve(name string) (Broker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.brokers[name]
	if !ok {
		return nil, fmt.Errorf("unknown broker: %s", name)
	}
	return b, nil
}
