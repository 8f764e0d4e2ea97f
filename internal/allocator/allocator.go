// Package allocator spreads pooled capital from a contributor across many
// contracts' AMM pools.
package allocator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polyoptions/internal/amm"
	"github.com/alanyoungcy/polyoptions/internal/domain"
)

// Strategy selects how capital is weighted across targets.
type Strategy string

const (
	StrategyEqual  Strategy = "equal"
	StrategyVolume Strategy = "volume"
	StrategyATM    Strategy = "atm"
	StrategyExpiry Strategy = "expiry"
)

// ParseStrategy validates a strategy name. Empty means equal.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "":
		return StrategyEqual, nil
	case StrategyEqual, StrategyVolume, StrategyATM, StrategyExpiry:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("allocator: unknown strategy %q: %w", s, domain.ErrInvalidAmount)
}

// amountPlaces is the decimal precision of leg amounts.
const amountPlaces = 6

// Pools is the AMM surface the allocator funds.
type Pools interface {
	AddLiquidity(ctx context.Context, contract domain.ContractID, providerID string, amount decimal.Decimal) (domain.PoolStats, error)
	RemoveLiquidity(ctx context.Context, contract domain.ContractID, providerID string, amount decimal.Decimal) (amm.Withdrawal, error)
	PoolStats(contract domain.ContractID) (domain.PoolStats, error)
	ProviderBalance(contract domain.ContractID, providerID string) (decimal.Decimal, error)
}

// Target is a contract eligible for allocation. Spot is the underlying
// market probability, used by the atm strategy.
type Target struct {
	Contract domain.ContractID `json:"contract"`
	Spot     float64           `json:"spot"`
}

// Leg is one contract's share of an allocation.
type Leg struct {
	Contract domain.ContractID `json:"contract"`
	Weight   float64           `json:"weight"`
	Amount   decimal.Decimal   `json:"amount"`
}

// Allocation is the result of one Allocate call.
type Allocation struct {
	ContributorID string          `json:"contributor_id"`
	Strategy      Strategy        `json:"strategy"`
	Total         decimal.Decimal `json:"total"`
	Legs          []Leg           `json:"legs"`
}

// Withdrawal summarises a contributor's exit from every pool.
type Withdrawal struct {
	ContributorID string           `json:"contributor_id"`
	Total         decimal.Decimal  `json:"total"`
	Legs          []amm.Withdrawal `json:"legs"`
}

// Allocator tracks each contributor's allocated amount per contract.
type Allocator struct {
	pools  Pools
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	holdings map[string]map[string]Leg
}

// New creates an Allocator over pools.
func New(pools Pools, logger *slog.Logger) *Allocator {
	return &Allocator{
		pools:    pools,
		logger:   logger.With(slog.String("component", "allocator")),
		now:      time.Now,
		holdings: make(map[string]map[string]Leg),
	}
}

// Allocate splits amount across targets by strategy and funds each pool.
// Either every leg is funded or none is.
func (a *Allocator) Allocate(ctx context.Context, contributorID string, amount decimal.Decimal, targets []Target, strategy Strategy) (Allocation, error) {
	if contributorID == "" {
		return Allocation{}, fmt.Errorf("allocator: contributor required: %w", domain.ErrInvalidAmount)
	}
	if amount.Sign() <= 0 {
		return Allocation{}, fmt.Errorf("allocator: amount %s: %w", amount, domain.ErrInvalidAmount)
	}
	if len(targets) == 0 {
		return Allocation{}, fmt.Errorf("allocator: no targets: %w", domain.ErrInvalidAmount)
	}
	seen := make(map[string]bool, len(targets))
	for _, t := range targets {
		if err := t.Contract.Validate(); err != nil {
			return Allocation{}, fmt.Errorf("allocator: %w", err)
		}
		if seen[t.Contract.Key()] {
			return Allocation{}, fmt.Errorf("allocator: duplicate target %s: %w", t.Contract.Key(), domain.ErrInvalidContract)
		}
		seen[t.Contract.Key()] = true
	}

	weights, err := a.weights(ctx, targets, strategy)
	if err != nil {
		return Allocation{}, err
	}
	legs := Split(amount, targets, weights)

	var funded []Leg
	for _, leg := range legs {
		if leg.Amount.Sign() == 0 {
			continue
		}
		if _, err := a.pools.AddLiquidity(ctx, leg.Contract, contributorID, leg.Amount); err != nil {
			a.rollback(ctx, contributorID, funded)
			return Allocation{}, fmt.Errorf("allocator: fund %s: %w", leg.Contract.Key(), err)
		}
		funded = append(funded, leg)
	}

	a.hold(contributorID, funded)

	a.logger.InfoContext(ctx, "allocator: capital allocated",
		slog.String("contributor_id", contributorID),
		slog.String("strategy", string(strategy)),
		slog.String("amount", amount.String()),
		slog.Int("legs", len(funded)),
	)
	return Allocation{ContributorID: contributorID, Strategy: strategy, Total: amount, Legs: legs}, nil
}

func (a *Allocator) rollback(ctx context.Context, contributorID string, funded []Leg) {
	for _, leg := range funded {
		if _, err := a.pools.RemoveLiquidity(ctx, leg.Contract, contributorID, leg.Amount); err != nil {
			a.logger.ErrorContext(ctx, "allocator: rollback failed",
				slog.String("contributor_id", contributorID),
				slog.String("contract", leg.Contract.Key()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Withdraw removes the contributor's allocated liquidity from every pool.
// Amounts the contributor already withdrew directly are skipped. Legs whose
// removal fails stay allocated.
func (a *Allocator) Withdraw(ctx context.Context, contributorID string) (Withdrawal, error) {
	a.mu.Lock()
	held := a.holdings[contributorID]
	delete(a.holdings, contributorID)
	a.mu.Unlock()

	if len(held) == 0 {
		return Withdrawal{}, fmt.Errorf("allocator: contributor %q: %w", contributorID, domain.ErrNotFound)
	}

	out := Withdrawal{ContributorID: contributorID, Total: decimal.Zero}
	var (
		errs   []error
		failed []Leg
	)
	for _, leg := range sortedLegs(held) {
		balance, err := a.pools.ProviderBalance(leg.Contract, contributorID)
		if err != nil {
			errs = append(errs, err)
			failed = append(failed, leg)
			continue
		}
		amount := decimal.Min(balance, leg.Amount)
		if amount.Sign() <= 0 {
			continue
		}
		w, err := a.pools.RemoveLiquidity(ctx, leg.Contract, contributorID, amount)
		if err != nil {
			errs = append(errs, fmt.Errorf("allocator: withdraw %s: %w", leg.Contract.Key(), err))
			failed = append(failed, leg)
			continue
		}
		out.Legs = append(out.Legs, w)
		out.Total = out.Total.Add(w.Amount)
	}
	if len(failed) > 0 {
		a.hold(contributorID, failed)
	}

	a.logger.InfoContext(ctx, "allocator: capital withdrawn",
		slog.String("contributor_id", contributorID),
		slog.String("total", out.Total.String()),
	)
	return out, errors.Join(errs...)
}

// hold adds legs to the contributor's tracked holdings.
func (a *Allocator) hold(contributorID string, legs []Leg) {
	a.mu.Lock()
	defer a.mu.Unlock()
	held, ok := a.holdings[contributorID]
	if !ok {
		held = make(map[string]Leg)
		a.holdings[contributorID] = held
	}
	for _, leg := range legs {
		if prev, ok := held[leg.Contract.Key()]; ok {
			leg.Amount = leg.Amount.Add(prev.Amount)
		}
		held[leg.Contract.Key()] = leg
	}
}

// Allocations returns the contributor's current legs ordered by contract.
func (a *Allocator) Allocations(contributorID string) []Leg {
	a.mu.Lock()
	defer a.mu.Unlock()
	return sortedLegs(a.holdings[contributorID])
}

func (a *Allocator) weights(ctx context.Context, targets []Target, strategy Strategy) ([]float64, error) {
	w := make([]float64, len(targets))
	switch strategy {
	case StrategyEqual, "":
		for i := range w {
			w[i] = 1
		}
	case StrategyVolume:
		g, _ := errgroup.WithContext(ctx)
		for i, t := range targets {
			g.Go(func() error {
				stats, err := a.pools.PoolStats(t.Contract)
				if err != nil {
					return fmt.Errorf("allocator: pool stats %s: %w", t.Contract.Key(), err)
				}
				w[i], _ = stats.BuyVolume.Add(stats.SellVolume).Float64()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	case StrategyATM:
		for i, t := range targets {
			w[i] = math.Max(0.01, 1-math.Abs(t.Spot-t.Contract.StrikeProb()))
		}
	case StrategyExpiry:
		now := a.now()
		for i, t := range targets {
			w[i] = 1 / math.Sqrt(math.Max(1, t.Contract.DaysToExpiry(now)))
		}
	default:
		return nil, fmt.Errorf("allocator: unknown strategy %q: %w", strategy, domain.ErrInvalidAmount)
	}
	return Normalize(w), nil
}

// Normalize scales weights to sum to 1. All-zero input becomes equal.
func Normalize(w []float64) []float64 {
	var sum float64
	for _, v := range w {
		if v > 0 && !math.IsInf(v, 0) {
			sum += v
		}
	}
	out := make([]float64, len(w))
	if sum == 0 {
		for i := range out {
			out[i] = 1 / float64(len(w))
		}
		return out
	}
	for i, v := range w {
		if v > 0 && !math.IsInf(v, 0) {
			out[i] = v / sum
		}
	}
	return out
}

// Split divides amount by weight. Leg amounts are truncated to six places
// and the remainder is added to the largest-weight leg so the legs sum to
// amount exactly.
func Split(amount decimal.Decimal, targets []Target, weights []float64) []Leg {
	legs := make([]Leg, len(targets))
	allocated := decimal.Zero
	largest := 0
	for i, t := range targets {
		share := amount.Mul(decimal.NewFromFloat(weights[i])).Truncate(amountPlaces)
		legs[i] = Leg{Contract: t.Contract, Weight: weights[i], Amount: share}
		allocated = allocated.Add(share)
		if weights[i] > weights[largest] {
			largest = i
		}
	}
	legs[largest].Amount = legs[largest].Amount.Add(amount.Sub(allocated))
	return legs
}

func sortedLegs(m map[string]Leg) []Leg {
	out := make([]Leg, 0, len(m))
	for _, l := range m {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Contract.Key() < out[j].Contract.Key() })
	return out
}
