// Package agents models the trading-agent population and its catalog. The
// pipeline reads agent state; ownership stays with the catalog.
package agents

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/quantpulse/quantpulse/internal/db"
)

// Agent is one trading agent's posture as the pipeline sees it
type Agent struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	IsActive            bool     `json:"is_active"`
	Category            string   `json:"category"`
	RiskLevel           int      `json:"risk_level"` // 1..5
	Budget              float64  `json:"budget"`
	AllowedCategories   []string `json:"allowed_categories,omitempty"`
	MinConfidence       float64  `json:"min_confidence"`
	MaxOpenPositions    int      `json:"max_open_positions"`
	ExpensiveValidation bool     `json:"expensive_validation"`
	Broker              string   `json:"broker"`
}

// AllowsCategory reports whether the agent admits a signal category. An
// empty allow-list admits everything.
func (a Agent) AllowsCategory(category string) bool {
	if len(a.AllowedCategories) == 0 {
		return true
	}
	for _, c := range a.AllowedCategories {
		if c == category {
			return true
		}
	}
	return false
}

// Catalog lists agents from the population store
type Catalog struct {
	pool db.PoolInterface
}

// NewCatalog creates an agent catalog
func NewCatalog(pool db.PoolInterface) *Catalog {
	return &Catalog{pool: pool}
}

const agentColumns = `id, name, is_active, category, risk_level, budget,
       allowed_categories, min_confidence, max_open_positions,
       expensive_validation, broker`

// List returns the current agent population
func (c *Catalog) List(ctx context.Context) ([]Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents ORDER BY name ASC`

	rows, err := c.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var out []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate agents: %w", err)
	}
	return out, nil
}

// Get returns one agent by id
func (c *Catalog) Get(ctx context.Context, id string) (*Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE id = $1`

	row := c.pool.QueryRow(ctx, query, id)
	a, err := scanAgent(row)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, fmt.Errorf("agent %s not found", id)
		}
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return &a, nil
}

func scanAgent(row pgx.Row) (Agent, error) {
	var a Agent
	err := row.Scan(
		&a.ID, &a.Name, &a.IsActive, &a.Category, &a.RiskLevel, &a.Budget,
		&a.AllowedCategories, &a.MinConfidence, &a.MaxOpenPositions,
		&a.ExpensiveValidation, &a.Broker,
	)
	if err != nil {
		return Agent{}, err
	}
	return a, nil
}
