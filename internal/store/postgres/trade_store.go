package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyoptions/internal/domain"
)

var _ domain.TradeStore = (*TradeStore)(nil)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, contract_key, buy_order_id, sell_order_id,
	price, quantity, fee::text, venue, timestamp`

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var (
			t        domain.Trade
			key, fee string
			venue    string
		)
		if err := rows.Scan(&t.ID, &key, &t.BuyOrderID, &t.SellOrderID,
			&t.Price, &t.Quantity, &fee, &venue, &t.Timestamp); err != nil {
			return nil, err
		}
		c, err := domain.ParseContractKey(key)
		if err != nil {
			return nil, err
		}
		if t.Fee, err = decimal.NewFromString(fee); err != nil {
			return nil, fmt.Errorf("trade %s fee %q: %w", t.ID, fee, err)
		}
		t.Contract = c
		t.Venue = domain.Venue(venue)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// InsertBatch inserts trades in one pgx batch. Trades already stored are
// skipped.
func (s *TradeStore) InsertBatch(ctx context.Context, trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	const query = `
		INSERT INTO trades (
			id, contract_key, market_id, buy_order_id, sell_order_id,
			price, quantity, fee, venue, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10)
		ON CONFLICT (id) DO NOTHING`

	batch := &pgx.Batch{}
	for _, t := range trades {
		batch.Queue(query,
			t.ID, t.Contract.Key(), t.Contract.MarketID, t.BuyOrderID, t.SellOrderID,
			t.Price, t.Quantity, t.Fee.String(), string(t.Venue), t.Timestamp,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range trades {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert trade batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListByContract returns a contract's trades, newest first.
func (s *TradeStore) ListByContract(ctx context.Context, contractKey string, opts domain.ListOpts) ([]domain.Trade, error) {
	query, args := listClause(
		`SELECT `+tradeSelectCols+` FROM trades WHERE contract_key = $1`,
		[]any{contractKey}, "timestamp", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by contract: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades by contract: %w", err)
	}
	return trades, nil
}

// ListBefore returns every trade executed strictly before the cutoff.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE timestamp < $1 ORDER BY timestamp`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades before: %w", err)
	}
	return trades, nil
}

// DeleteBefore removes trades executed strictly before the cutoff.
func (s *TradeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trades WHERE timestamp < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before: %w", err)
	}
	return tag.RowsAffected(), nil
}
