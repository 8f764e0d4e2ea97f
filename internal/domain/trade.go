package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AMMCounterparty is the order id recorded for the pool side of AMM fills.
const AMMCounterparty = "amm"

// Trade is an immutable execution record from a book match or an AMM fill.
type Trade struct {
	ID          string          `json:"id"`
	Contract    ContractID      `json:"contract"`
	BuyOrderID  string          `json:"buy_order_id"`
	SellOrderID string          `json:"sell_order_id"`
	Price       float64         `json:"price"`
	Quantity    int64           `json:"quantity"`
	Fee         decimal.Decimal `json:"fee"`
	Venue       Venue           `json:"venue"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Notional returns price times quantity as a decimal.
func (t Trade) Notional() decimal.Decimal {
	return decimal.NewFromFloat(t.Price).Mul(decimal.NewFromInt(t.Quantity))
}
