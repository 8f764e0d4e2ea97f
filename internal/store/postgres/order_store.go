package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polyoptions/internal/domain"
)

var _ domain.OrderStore = (*OrderStore)(nil)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderSelectCols = `id, contract_key, owner_id, side, limit_price,
	quantity, filled, status, seq, created_at, updated_at, filled_at, cancelled_at`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		o                 domain.Order
		key, side, status string
		seq               int64
	)
	if err := row.Scan(&o.ID, &key, &o.OwnerID, &side, &o.LimitPrice,
		&o.Quantity, &o.Filled, &status, &seq,
		&o.CreatedAt, &o.UpdatedAt, &o.FilledAt, &o.CancelledAt); err != nil {
		return domain.Order{}, err
	}
	c, err := domain.ParseContractKey(key)
	if err != nil {
		return domain.Order{}, err
	}
	o.Contract = c
	o.Side = domain.OrderSide(side)
	o.Status = domain.OrderStatus(status)
	o.Seq = uint64(seq)
	return o, nil
}

func scanOrderRows(rows pgx.Rows) ([]domain.Order, error) {
	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// Upsert inserts an order or overwrites its mutable fields.
func (s *OrderStore) Upsert(ctx context.Context, o domain.Order) error {
	const query = `
		INSERT INTO orders (
			id, contract_key, market_id, owner_id, side, limit_price,
			quantity, filled, status, seq, created_at, updated_at,
			filled_at, cancelled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			limit_price  = EXCLUDED.limit_price,
			quantity     = EXCLUDED.quantity,
			filled       = EXCLUDED.filled,
			status       = EXCLUDED.status,
			seq          = EXCLUDED.seq,
			updated_at   = EXCLUDED.updated_at,
			filled_at    = EXCLUDED.filled_at,
			cancelled_at = EXCLUDED.cancelled_at`

	_, err := s.pool.Exec(ctx, query,
		o.ID, o.Contract.Key(), o.Contract.MarketID, o.OwnerID,
		string(o.Side), o.LimitPrice, o.Quantity, o.Filled,
		string(o.Status), int64(o.Seq), o.CreatedAt, o.UpdatedAt,
		o.FilledAt, o.CancelledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert order %s: %w", o.ID, err)
	}
	return nil
}

// GetByID returns a single order.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, fmt.Errorf("postgres: order %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// ListByOwner returns an owner's orders, newest first.
func (s *OrderStore) ListByOwner(ctx context.Context, ownerID string, opts domain.ListOpts) ([]domain.Order, error) {
	query, args := listClause(
		`SELECT `+orderSelectCols+` FROM orders WHERE owner_id = $1`,
		[]any{ownerID}, "created_at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders by owner: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan orders by owner: %w", err)
	}
	return orders, nil
}

// ListBefore returns terminal orders created strictly before the cutoff.
// Active orders are never archived.
func (s *OrderStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 WHERE created_at < $1 AND status <> 'active' ORDER BY created_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders before: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan orders before: %w", err)
	}
	return orders, nil
}

// DeleteBefore removes terminal orders created strictly before the cutoff.
func (s *OrderStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM orders WHERE created_at < $1 AND status <> 'active'`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete orders before: %w", err)
	}
	return tag.RowsAffected(), nil
}
