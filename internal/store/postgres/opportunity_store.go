package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/oddsarb/internal/domain"
)

// maxQueryLimit caps unbounded or oversized Query requests.
const maxQueryLimit = 500

// OpportunityStore implements domain.OpportunityStore using PostgreSQL.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates a new OpportunityStore backed by the given
// connection pool.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

const opportunitySelectCols = `id, event_id, sport, event_name, commence_time,
	implied_total, profit_percentage, return_percentage,
	total_stake, guaranteed_return, guaranteed_profit,
	bets, detected_at, expired`

// Save inserts opp, or refreshes every computed field when the id is
// already stored. The expired flag is never cleared by Save.
func (s *OpportunityStore) Save(ctx context.Context, opp domain.Opportunity) error {
	bets, err := json.Marshal(opp.Bets)
	if err != nil {
		return fmt.Errorf("postgres: marshal bets %s: %w", opp.ID, err)
	}

	const query = `
		INSERT INTO opportunities (
			id, event_id, sport, event_name, commence_time,
			implied_total, profit_percentage, return_percentage,
			total_stake, guaranteed_return, guaranteed_profit,
			bets, detected_at, expired
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10, $11,
			$12, $13, $14
		)
		ON CONFLICT (id) DO UPDATE SET
			implied_total     = EXCLUDED.implied_total,
			profit_percentage = EXCLUDED.profit_percentage,
			return_percentage = EXCLUDED.return_percentage,
			total_stake       = EXCLUDED.total_stake,
			guaranteed_return = EXCLUDED.guaranteed_return,
			guaranteed_profit = EXCLUDED.guaranteed_profit,
			bets              = EXCLUDED.bets,
			detected_at       = EXCLUDED.detected_at,
			expired           = opportunities.expired OR EXCLUDED.expired`

	_, err = s.pool.Exec(ctx, query,
		opp.ID, opp.EventID, opp.SportKey, opp.EventName, nullTime(opp.CommenceTime),
		opp.ImpliedTotal, opp.ProfitPercentage, opp.ReturnPercentage,
		opp.TotalStake, opp.GuaranteedReturn, opp.GuaranteedProfit,
		bets, opp.DetectedAt, opp.Expired,
	)
	if err != nil {
		return fmt.Errorf("postgres: save opportunity %s: %w", opp.ID, err)
	}
	return nil
}

// MarkExpired flags one opportunity as expired. It returns
// domain.ErrNotFound when the id is unknown.
func (s *OpportunityStore) MarkExpired(ctx context.Context, id string) error {
	const query = `
		UPDATE opportunities SET
			expired    = TRUE,
			expired_at = COALESCE(expired_at, NOW())
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("postgres: mark expired %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ExpireCommenced marks every open opportunity whose event started at or
// before now and returns their ids.
func (s *OpportunityStore) ExpireCommenced(ctx context.Context, now time.Time) ([]string, error) {
	const query = `
		UPDATE opportunities SET
			expired    = TRUE,
			expired_at = $1
		WHERE NOT expired
		  AND commence_time IS NOT NULL
		  AND commence_time <= $1
		RETURNING id`

	rows, err := s.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: expire commenced: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: expire commenced rows: %w", err)
	}
	return ids, nil
}

// GetByID returns one opportunity or domain.ErrNotFound.
func (s *OpportunityStore) GetByID(ctx context.Context, id string) (domain.Opportunity, error) {
	query := `SELECT ` + opportunitySelectCols + ` FROM opportunities WHERE id = $1`

	opp, err := scanOpportunity(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return domain.Opportunity{}, domain.ErrNotFound
		}
		return domain.Opportunity{}, fmt.Errorf("postgres: get opportunity %s: %w", id, err)
	}
	return opp, nil
}

// Query returns opportunities matching f, newest first.
func (s *OpportunityStore) Query(ctx context.Context, f domain.OpportunityFilter) ([]domain.Opportunity, error) {
	query, args := buildOpportunityQuery(f)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query opportunities: %w", err)
	}
	defer rows.Close()

	var out []domain.Opportunity
	for rows.Next() {
		opp, err := scanOpportunity(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity: %w", err)
		}
		out = append(out, opp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: query opportunities rows: %w", err)
	}
	return out, nil
}

// buildOpportunityQuery renders f into SQL with positional arguments.
func buildOpportunityQuery(f domain.OpportunityFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if f.Sport != "" {
		add("sport = $%d", f.Sport)
	}
	if f.EventID != "" {
		add("event_id = $%d", f.EventID)
	}
	if !f.IncludeExpired {
		where = append(where, "NOT expired")
	}
	if f.MinProfit > 0 {
		add("profit_percentage >= $%d", f.MinProfit)
	}
	if f.Since != nil {
		add("detected_at >= $%d", *f.Since)
	}

	var b strings.Builder
	b.WriteString("SELECT " + opportunitySelectCols + " FROM opportunities")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY detected_at DESC, id")

	limit := f.Limit
	if limit <= 0 || limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	args = append(args, limit)
	fmt.Fprintf(&b, " LIMIT $%d", len(args))

	if f.Offset > 0 {
		args = append(args, f.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}
	return b.String(), args
}

func scanOpportunity(row pgx.Row) (domain.Opportunity, error) {
	var (
		opp      domain.Opportunity
		commence *time.Time
		bets     []byte
	)
	if err := row.Scan(
		&opp.ID, &opp.EventID, &opp.SportKey, &opp.EventName, &commence,
		&opp.ImpliedTotal, &opp.ProfitPercentage, &opp.ReturnPercentage,
		&opp.TotalStake, &opp.GuaranteedReturn, &opp.GuaranteedProfit,
		&bets, &opp.DetectedAt, &opp.Expired,
	); err != nil {
		return domain.Opportunity{}, err
	}
	if commence != nil {
		opp.CommenceTime = commence.UTC()
	}
	if len(bets) > 0 {
		if err := json.Unmarshal(bets, &opp.Bets); err != nil {
			return domain.Opportunity{}, fmt.Errorf("unmarshal bets: %w", err)
		}
	}
	return opp, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Compile-time interface check.
var _ domain.OpportunityStore = (*OpportunityStore)(nil)
