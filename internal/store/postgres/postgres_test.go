package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/oddsarb/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/arb?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "arb", User: "u", Password: "p"}))
	assert.Equal(t, "postgres://u:p@db:6543/arb?sslmode=require",
		DSN(ClientConfig{Host: "db", Port: 6543, Database: "arb", User: "u", Password: "p", SSLMode: "require"}))
	assert.Equal(t, "postgres://explicit", DSN(ClientConfig{DSN: "postgres://explicit", Host: "ignored"}))
}

func TestClientConfig_Configured(t *testing.T) {
	assert.False(t, ClientConfig{}.Configured())
	assert.True(t, ClientConfig{Host: "db"}.Configured())
	assert.True(t, ClientConfig{DSN: "postgres://x"}.Configured())
}

func TestMigrations_Embedded(t *testing.T) {
	names, err := Migrations()
	require.NoError(t, err)
	assert.Equal(t, []string{"001_opportunities.sql", "002_audit_log.sql"}, names)
}

func TestBuildOpportunityQuery_Defaults(t *testing.T) {
	query, args := buildOpportunityQuery(domain.OpportunityFilter{})
	assert.Contains(t, query, "WHERE NOT expired")
	assert.Contains(t, query, "ORDER BY detected_at DESC, id LIMIT $1")
	assert.NotContains(t, query, "OFFSET")
	assert.Equal(t, []any{maxQueryLimit}, args)
}

func TestBuildOpportunityQuery_AllFilters(t *testing.T) {
	since := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	query, args := buildOpportunityQuery(domain.OpportunityFilter{
		Sport:          "basketball_nba",
		EventID:        "ev1",
		IncludeExpired: true,
		MinProfit:      2.5,
		Since:          &since,
		Limit:          10,
		Offset:         20,
	})

	assert.Contains(t, query,
		"WHERE sport = $1 AND event_id = $2 AND profit_percentage >= $3 AND detected_at >= $4")
	assert.NotContains(t, query, "NOT expired")
	assert.Contains(t, query, "LIMIT $5 OFFSET $6")
	assert.Equal(t, []any{"basketball_nba", "ev1", 2.5, since, 10, 20}, args)
}

func TestBuildOpportunityQuery_CapsLimit(t *testing.T) {
	_, args := buildOpportunityQuery(domain.OpportunityFilter{Limit: 10_000})
	assert.Equal(t, []any{maxQueryLimit}, args)
}

func TestNullTime(t *testing.T) {
	assert.Nil(t, nullTime(time.Time{}))
	now := time.Now()
	require.NotNil(t, nullTime(now))
	assert.Equal(t, now, *nullTime(now))
}
