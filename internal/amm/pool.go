package amm

import (
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyoptions/internal/domain"
)

// pool is one contract's liquidity pool. All fields are guarded by mu.
type pool struct {
	mu sync.Mutex

	contract domain.ContractID
	price    float64
	priced   bool
	lastIV   float64

	total        decimal.Decimal
	seed         decimal.Decimal
	buyVolume    decimal.Decimal
	sellVolume   decimal.Decimal
	feesLP       decimal.Decimal
	feesProtocol decimal.Decimal

	providers map[string]decimal.Decimal
	// entry is each provider's volume-weighted entry price.
	entry map[string]float64

	lastUpdate time.Time
}

func newPool(contract domain.ContractID, seed decimal.Decimal, now time.Time) *pool {
	return &pool{
		contract:     contract,
		price:        initialPrice(contract),
		total:        seed,
		seed:         seed,
		buyVolume:    decimal.Zero,
		sellVolume:   decimal.Zero,
		feesLP:       decimal.Zero,
		feesProtocol: decimal.Zero,
		providers:    make(map[string]decimal.Decimal),
		entry:        make(map[string]float64),
		lastUpdate:   now,
	}
}

// initialPrice is the moneyness heuristic used before any quote: a call
// struck at K is worth roughly 1-K under an uninformed prior.
func initialPrice(c domain.ContractID) float64 {
	k := c.StrikeProb()
	p := 1 - k
	if c.Type == domain.OptionTypePut {
		p = k
	}
	return math.Max(0.01, math.Min(0.99, p))
}

// statsLocked copies the pool state. Caller holds mu.
func (p *pool) statsLocked() domain.PoolStats {
	return domain.PoolStats{
		Contract:       p.contract,
		Price:          p.price,
		TotalLiquidity: p.total,
		SeedLiquidity:  p.seed,
		BuyVolume:      p.buyVolume,
		SellVolume:     p.sellVolume,
		FeesLP:         p.feesLP,
		FeesProtocol:   p.feesProtocol,
		Providers:      len(p.providers),
		LastUpdate:     p.lastUpdate,
	}
}

func (p *pool) stats() domain.PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statsLocked()
}
