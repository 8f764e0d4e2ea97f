package domain

import "time"

// OrderSide is the side of a resting limit order.
type OrderSide string

const (
	OrderSideBid OrderSide = "bid"
	OrderSideAsk OrderSide = "ask"
)

// OrderStatus tracks the order lifecycle. Active moves to Filled or
// Cancelled exactly once.
type OrderStatus string

const (
	OrderStatusActive    OrderStatus = "active"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order is a limit order in a contract's book. Orders are never deleted;
// terminal orders are retained for audit.
type Order struct {
	ID          string      `json:"id"`
	Contract    ContractID  `json:"contract"`
	OwnerID     string      `json:"owner_id"`
	Side        OrderSide   `json:"side"`
	LimitPrice  float64     `json:"limit_price"`
	Quantity    int64       `json:"quantity"`
	Filled      int64       `json:"filled"`
	Status      OrderStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	CancelledAt *time.Time  `json:"cancelled_at,omitempty"`
	FilledAt    *time.Time  `json:"filled_at,omitempty"`

	// Seq is the book's arrival sequence; lower arrived earlier.
	Seq uint64 `json:"seq"`
}

// Remaining returns the unfilled quantity.
func (o Order) Remaining() int64 {
	return o.Quantity - o.Filled
}

// IsActive reports whether the order can still trade.
func (o Order) IsActive() bool {
	return o.Status == OrderStatusActive
}
