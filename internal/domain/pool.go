package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PoolStats is a consistent copy of one AMM pool's state.
type PoolStats struct {
	Contract       ContractID      `json:"contract"`
	Price          float64         `json:"price"`
	TotalLiquidity decimal.Decimal `json:"total_liquidity"`
	SeedLiquidity  decimal.Decimal `json:"seed_liquidity"`
	BuyVolume      decimal.Decimal `json:"buy_volume"`
	SellVolume     decimal.Decimal `json:"sell_volume"`
	FeesLP         decimal.Decimal `json:"fees_lp"`
	FeesProtocol   decimal.Decimal `json:"fees_protocol"`
	Providers      int             `json:"providers"`
	LastUpdate     time.Time       `json:"last_update"`
}

// ProviderLiquidity returns the liquidity contributed by providers.
func (p PoolStats) ProviderLiquidity() decimal.Decimal {
	return p.TotalLiquidity.Sub(p.SeedLiquidity)
}

// LiquidityEventType distinguishes additions from withdrawals.
type LiquidityEventType string

const (
	LiquidityEventAdd    LiquidityEventType = "add"
	LiquidityEventRemove LiquidityEventType = "remove"
)

// LiquidityEvent records one provider liquidity change.
type LiquidityEvent struct {
	ID              int64              `json:"id"`
	Contract        ContractID         `json:"contract"`
	ProviderID      string             `json:"provider_id"`
	Type            LiquidityEventType `json:"type"`
	Amount          decimal.Decimal    `json:"amount"`
	LiquidityAfter  decimal.Decimal    `json:"liquidity_after"`
	PoolPrice       float64            `json:"pool_price"`
	ImpermanentLoss float64            `json:"impermanent_loss"`
	Timestamp       time.Time          `json:"timestamp"`
}
