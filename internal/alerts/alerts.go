// Package alerts surfaces the two operator-facing events of the pipeline:
// broker-rejected orders and fatal component halts. Everything else is an
// audit record, not an alert.
package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Severity levels for alerts
type Severity string

const (
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Alert is one operator notification
type Alert struct {
	Title     string
	Message   string
	Severity  Severity
	Timestamp time.Time
	Metadata  map[string]any
}

// Alerter delivers alerts over one channel
type Alerter interface {
	Send(ctx context.Context, alert Alert) error
}

// Manager fans alerts out to every configured channel. Delivery failures are
// logged; the last failure is returned.
type Manager struct {
	alerters []Alerter
}

// NewManager creates an alert manager
func NewManager(alerters ...Alerter) *Manager {
	return &Manager{alerters: alerters}
}

// Send delivers an alert to all channels
func (m *Manager) Send(ctx context.Context, alert Alert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}

	var lastErr error
	for _, alerter := range m.alerters {
		if err := alerter.Send(ctx, alert); err != nil {
			log.Error().
				Err(err).
				Str("title", alert.Title).
				Msg("Failed to send alert")
			lastErr = err
		}
	}
	return lastErr
}

// BrokerRejected raises the order-rejection alert
func (m *Manager) BrokerRejected(ctx context.Context, instrument, side, agentID, reason string) {
	_ = m.Send(ctx, Alert{
		Title:    "Order Rejected",
		Message:  fmt.Sprintf("Broker rejected %s %s for agent %s: %s", side, instrument, agentID, reason),
		Severity: SeverityWarning,
		Metadata: map[string]any{
			"instrument": instrument,
			"side":       side,
			"agent_id":   agentID,
			"reason":     reason,
		},
	})
}

// ComponentHalted raises the fatal-halt alert
func (m *Manager) ComponentHalted(ctx context.Context, component string, err error) {
	_ = m.Send(ctx, Alert{
		Title:    "Component Halted",
		Message:  fmt.Sprintf("%s halted: %v", component, err),
		Severity: SeverityCritical,
		Metadata: map[string]any{
			"component": component,
			"error":     err.Error(),
		},
	})
}

// LogAlerter delivers alerts into the structured log
type LogAlerter struct{}

// NewLogAlerter creates a log-based alerter
func NewLogAlerter() *LogAlerter {
	return &LogAlerter{}
}

// Send logs the alert at a level matching its severity
func (l *LogAlerter) Send(ctx context.Context, alert Alert) error {
	event := log.Warn()
	if alert.Severity == SeverityCritical {
		event = log.Error()
	}

	for key, value := range alert.Metadata {
		event = event.Interface(key, value)
	}

	event.
		Str("alert_title", alert.Title).
		Str("alert_severity", string(alert.Severity)).
		Time("alert_time", alert.Timestamp).
		Msg(alert.Message)

	return nil
}
