package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyoptions/internal/domain"
)

var _ domain.LiquidityEventStore = (*LiquidityEventStore)(nil)

// LiquidityEventStore records provider deposits and withdrawals.
type LiquidityEventStore struct {
	pool *pgxpool.Pool
}

// NewLiquidityEventStore creates a new LiquidityEventStore.
func NewLiquidityEventStore(pool *pgxpool.Pool) *LiquidityEventStore {
	return &LiquidityEventStore{pool: pool}
}

// Insert appends one liquidity event.
func (s *LiquidityEventStore) Insert(ctx context.Context, evt domain.LiquidityEvent) error {
	const query = `
		INSERT INTO liquidity_events (
			contract_key, provider_id, type, amount, liquidity_after,
			pool_price, impermanent_loss, timestamp
		) VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7, $8)`

	if _, err := s.pool.Exec(ctx, query,
		evt.Contract.Key(), evt.ProviderID, string(evt.Type),
		evt.Amount.String(), evt.LiquidityAfter.String(),
		evt.PoolPrice, evt.ImpermanentLoss, evt.Timestamp,
	); err != nil {
		return fmt.Errorf("postgres: insert liquidity event: %w", err)
	}
	return nil
}

// ListByProvider returns a provider's liquidity history, newest first.
func (s *LiquidityEventStore) ListByProvider(ctx context.Context, providerID string, opts domain.ListOpts) ([]domain.LiquidityEvent, error) {
	query, args := listClause(
		`SELECT id, contract_key, provider_id, type, amount::text, liquidity_after::text,
			pool_price, impermanent_loss, timestamp
		 FROM liquidity_events WHERE provider_id = $1`,
		[]any{providerID}, "timestamp", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list liquidity events: %w", err)
	}
	defer rows.Close()

	var events []domain.LiquidityEvent
	for rows.Next() {
		var (
			e                   domain.LiquidityEvent
			key, typ            string
			amount, liquidityAt string
		)
		if err := rows.Scan(&e.ID, &key, &e.ProviderID, &typ, &amount, &liquidityAt,
			&e.PoolPrice, &e.ImpermanentLoss, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan liquidity event: %w", err)
		}
		if e.Contract, err = domain.ParseContractKey(key); err != nil {
			return nil, fmt.Errorf("postgres: liquidity event %d: %w", e.ID, err)
		}
		e.Type = domain.LiquidityEventType(typ)
		if e.Amount, e.LiquidityAfter, err = parseLiquidityAmounts(amount, liquidityAt); err != nil {
			return nil, fmt.Errorf("postgres: liquidity event %d: %w", e.ID, err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list liquidity events rows: %w", err)
	}
	return events, nil
}

func parseLiquidityAmounts(amount, liquidityAfter string) (decimal.Decimal, decimal.Decimal, error) {
	a, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("amount %q: %w", amount, err)
	}
	l, err := decimal.NewFromString(liquidityAfter)
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("liquidity_after %q: %w", liquidityAfter, err)
	}
	return a, l, nil
}
