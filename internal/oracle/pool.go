package oracle

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Analyzer is the narrow grader capability
type Analyzer interface {
	Kind() Kind
	Analyze(ctx context.Context, snap Snapshot) (Verdict, error)
}

// remoteOracle is one grader variant backed by the analysis client
type remoteOracle struct {
	kind   Kind
	client *Client
}

func (o *remoteOracle) Kind() Kind { return o.kind }

func (o *remoteOracle) Analyze(ctx context.Context, snap Snapshot) (Verdict, error) {
	resp, err := o.client.Analyze(ctx, o.kind, snap)
	if err != nil {
		return Verdict{}, err
	}
	return verdictFromResponse(o.kind, resp), nil
}

// Pool runs the four graders in parallel against one snapshot. A grader
// failure or timeout substitutes the HOLD/0 sentinel; the pool itself never
// fails.
type Pool struct {
	oracles []Analyzer
	log     zerolog.Logger
}

// NewPool creates a pool of the four remote graders sharing one client
func NewPool(client *Client, log zerolog.Logger) *Pool {
	oracles := make([]Analyzer, 0, len(Kinds()))
	for _, kind := range Kinds() {
		oracles = append(oracles, &remoteOracle{kind: kind, client: client})
	}
	return NewPoolWith(oracles, log)
}

// NewPoolWith creates a pool over explicit analyzers (tests inject fakes)
func NewPoolWith(oracles []Analyzer, log zerolog.Logger) *Pool {
	return &Pool{
		oracles: oracles,
		log:     log.With().Str("component", "oracle_pool").Logger(),
	}
}

// Analyze fans the snapshot out to all graders and collects verdicts in
// canonical kind order.
func (p *Pool) Analyze(ctx context.Context, snap Snapshot) []Verdict {
	verdicts := make([]Verdict, len(p.oracles))

	g, gctx := errgroup.WithContext(ctx)
	for i, o := range p.oracles {
		g.Go(func() error {
			v, err := o.Analyze(gctx, snap)
			if err != nil {
				p.log.Warn().Err(err).
					Str("kind", string(o.Kind())).
					Str("timeframe", string(snap.Timeframe)).
					Msg("Grader failed, substituting sentinel")
				verdicts[i] = Sentinel(o.Kind())
				return nil
			}
			verdicts[i] = v
			return nil
		})
	}
	_ = g.Wait() // goroutines never return errors; sentinels absorb failures

	return verdicts
}
