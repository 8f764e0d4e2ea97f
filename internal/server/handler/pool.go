package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyoptions/internal/amm"
	"github.com/alanyoungcy/polyoptions/internal/domain"
)

// PoolService manages AMM liquidity.
type PoolService interface {
	AddLiquidity(ctx context.Context, contract domain.ContractID, providerID string, amount decimal.Decimal) (domain.PoolStats, error)
	RemoveLiquidity(ctx context.Context, contract domain.ContractID, providerID string, amount decimal.Decimal) (amm.Withdrawal, error)
	PoolStats(contract domain.ContractID) (domain.PoolStats, error)
	ListPools() []domain.PoolStats
}

// PoolHandler serves liquidity endpoints.
type PoolHandler struct {
	pools  PoolService
	logger *slog.Logger
}

// NewPoolHandler creates a PoolHandler.
func NewPoolHandler(pools PoolService, logger *slog.Logger) *PoolHandler {
	return &PoolHandler{pools: pools, logger: logger}
}

type liquidityRequest struct {
	contractRequest
	ProviderID string          `json:"provider_id"`
	Amount     decimal.Decimal `json:"amount"`
}

func (h *PoolHandler) decode(w http.ResponseWriter, r *http.Request, op string) (liquidityRequest, domain.ContractID, bool) {
	var req liquidityRequest
	if !decodeJSON(w, r, &req) {
		return req, domain.ContractID{}, false
	}
	if req.ProviderID == "" {
		writeError(w, http.StatusBadRequest, "provider_id is required")
		return req, domain.ContractID{}, false
	}
	c, err := req.parse()
	if err != nil {
		writeServiceError(w, r, h.logger, op, err)
		return req, domain.ContractID{}, false
	}
	return req, c, true
}

// AddLiquidity deposits into a pool.
// POST /api/liquidity
func (h *PoolHandler) AddLiquidity(w http.ResponseWriter, r *http.Request) {
	req, c, ok := h.decode(w, r, "add liquidity")
	if !ok {
		return
	}
	stats, err := h.pools.AddLiquidity(r.Context(), c, req.ProviderID, req.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "add liquidity", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// RemoveLiquidity withdraws from a pool.
// DELETE /api/liquidity
func (h *PoolHandler) RemoveLiquidity(w http.ResponseWriter, r *http.Request) {
	req, c, ok := h.decode(w, r, "remove liquidity")
	if !ok {
		return
	}
	wd, err := h.pools.RemoveLiquidity(r.Context(), c, req.ProviderID, req.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "remove liquidity", err)
		return
	}
	writeJSON(w, http.StatusOK, wd)
}

// ListPools returns every pool, or one pool when a contract is given.
// GET /api/pools
func (h *PoolHandler) ListPools(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("contract") == "" && q.Get("market_id") == "" {
		pools := h.pools.ListPools()
		if pools == nil {
			pools = []domain.PoolStats{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"pools": pools})
		return
	}
	c, err := contractFromQuery(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "pool stats", err)
		return
	}
	stats, err := h.pools.PoolStats(c)
	if err != nil {
		writeServiceError(w, r, h.logger, "pool stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
