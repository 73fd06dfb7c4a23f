package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// Client talks to the pattern-analysis service. The service is an opaque
// grader: it receives a snapshot and returns a recommendation plus
// confidence; its internals (prompts, models) are not this pipeline's
// concern.
type Client struct {
	endpoint   string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	log        zerolog.Logger
}

// ClientConfig configures the analysis client
type ClientConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// analysisRequest is the wire request to the grader service
type analysisRequest struct {
	Kind     Kind     `json:"kind"`
	Snapshot Snapshot `json:"snapshot"`
}

// analysisResponse is the grader service's wire response. Recommendation may
// be absent; the caller then extracts a direction from the reasoning text.
type analysisResponse struct {
	Recommendation string          `json:"recommendation,omitempty"`
	Confidence     float64         `json:"confidence"`
	Reasoning      string          `json:"reasoning"`
	Fields         json.RawMessage `json:"fields,omitempty"`
}

// NewClient creates an analysis client
func NewClient(cfg ClientConfig, log zerolog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "oracle",
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
	})

	return &Client{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		timeout:    cfg.Timeout,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    breaker,
		log:        log.With().Str("component", "oracle_client").Logger(),
	}
}

// Analyze submits a snapshot to the grader service for one kind
func (c *Client) Analyze(ctx context.Context, kind Kind, snap Snapshot) (*analysisResponse, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doAnalyze(ctx, kind, snap)
	})
	if err != nil {
		return nil, err
	}
	return result.(*analysisResponse), nil
}

func (c *Client) doAnalyze(ctx context.Context, kind Kind, snap Snapshot) (*analysisResponse, error) {
	body, err := json.Marshal(analysisRequest{Kind: kind, Snapshot: snap})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal analysis request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analysis request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read analysis response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("analysis service error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var parsed analysisResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("malformed analysis response: %w", err)
	}

	c.log.Debug().
		Str("kind", string(kind)).
		Str("timeframe", string(snap.Timeframe)).
		Dur("duration", time.Since(start)).
		Msg("Analysis request completed")

	return &parsed, nil
}
