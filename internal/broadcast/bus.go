package broadcast

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Pipeline event subjects
const (
	SubjectAgentValidated    = "signal.agent.validated"
	SubjectBroadcastComplete = "signal.broadcast.complete"
	SubjectPositionOpened    = "position.opened"
	SubjectPositionClosed    = "position.closed"
)

// BroadcastSummary is published on broadcast completion
type BroadcastSummary struct {
	SignalID   string    `json:"signal_id"`
	Instrument string    `json:"instrument"`
	Eligible   int       `json:"eligible"`
	Accepted   int       `json:"accepted"`
	Rejected   int       `json:"rejected"`
	Excluded   int       `json:"excluded"`
	FinishedAt time.Time `json:"finished_at"`
}

// PositionEvent is published when an agent position opens or closes
type PositionEvent struct {
	SignalID     string    `json:"signal_id"`
	AgentID      string    `json:"agent_id"`
	Instrument   string    `json:"instrument"`
	Direction    string    `json:"direction"`
	Quantity     float64   `json:"quantity"`
	FillPrice    float64   `json:"fill_price,omitempty"`
	RealizedPnL  float64   `json:"realized_pnl,omitempty"`
	PartialClose bool      `json:"partial_close,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Bus publishes pipeline lifecycle events over NATS. Publishing is
// fire-and-forget: a failed publish is logged, never propagated, so the
// trading path does not depend on the bus being up.
type Bus struct {
	nc  *nats.Conn
	log zerolog.Logger
}

// NewBus connects to NATS and returns a pipeline event bus
func NewBus(natsURL string, log zerolog.Logger) (*Bus, error) {
	nc, err := nats.Connect(
		natsURL,
		nats.Name("quantpulse-pipeline"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &Bus{
		nc:  nc,
		log: log.With().Str("component", "event_bus").Logger(),
	}, nil
}

// WrapBus adapts an existing NATS connection, used by tests with an embedded
// server.
func WrapBus(nc *nats.Conn, log zerolog.Logger) *Bus {
	return &Bus{nc: nc, log: log.With().Str("component", "event_bus").Logger()}
}

// Publish serializes the payload and publishes it on the subject
func (b *Bus) Publish(subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.log.Error().Err(err).Str("subject", subject).Msg("Failed to marshal event")
		return
	}
	if !b.nc.IsConnected() {
		b.log.Warn().Str("subject", subject).Msg("Event bus not connected, dropping event")
		return
	}
	if err := b.nc.Publish(subject, data); err != nil {
		b.log.Warn().Err(err).Str("subject", subject).Msg("Failed to publish event")
	}
}

// Close drains and closes the connection
func (b *Bus) Close() {
	if err := b.nc.Drain(); err != nil {
		b.log.Warn().Err(err).Msg("Failed to drain NATS connection")
	}
}
