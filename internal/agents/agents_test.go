package agents

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func agentRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "name", "is_active", "category", "risk_level", "budget",
		"allowed_categories", "min_confidence", "max_open_positions",
		"expensive_validation", "broker",
	})
}

func TestCatalogList(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT (.+) FROM agents").
		WillReturnRows(agentRows().
			AddRow("a1", "alpha", true, "scalping", 3, 5000.0,
				[]string{"scalping"}, 60.0, 3, true, "binance").
			AddRow("a2", "beta", false, "swing", 2, 1000.0,
				[]string(nil), 50.0, 5, false, "paper"))

	catalog := NewCatalog(mock)
	list, err := catalog.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.Equal(t, "alpha", list[0].Name)
	assert.True(t, list[0].IsActive)
	assert.Equal(t, []string{"scalping"}, list[0].AllowedCategories)
	assert.False(t, list[1].IsActive)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogGetNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT (.+) FROM agents WHERE").
		WithArgs("missing").
		WillReturnRows(agentRows())

	catalog := NewCatalog(mock)
	_, err = catalog.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestAllowsCategory(t *testing.T) {
	open := Agent{}
	assert.True(t, open.AllowsCategory("anything"))

	constrained := Agent{AllowedCategories: []string{"scalping", "swing"}}
	assert.True(t, constrained.AllowsCategory("swing"))
	assert.False(t, constrained.AllowsCategory("grid"))
}
