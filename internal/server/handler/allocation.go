package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyoptions/internal/allocator"
	"github.com/alanyoungcy/polyoptions/internal/domain"
)

// AllocationService spreads pooled capital across contracts.
type AllocationService interface {
	Allocate(ctx context.Context, contributorID string, amount decimal.Decimal, contracts []domain.ContractID, strategy allocator.Strategy) (allocator.Allocation, error)
	Withdraw(ctx context.Context, contributorID string) (allocator.Withdrawal, error)
	Allocations(contributorID string) []allocator.Leg
}

// AllocationHandler serves pooled liquidity endpoints.
type AllocationHandler struct {
	allocs          AllocationService
	defaultStrategy allocator.Strategy
	logger          *slog.Logger
}

// NewAllocationHandler creates an AllocationHandler. defaultStrategy applies
// when a request names none.
func NewAllocationHandler(allocs AllocationService, defaultStrategy allocator.Strategy, logger *slog.Logger) *AllocationHandler {
	return &AllocationHandler{allocs: allocs, defaultStrategy: defaultStrategy, logger: logger}
}

type allocateRequest struct {
	ContributorID string            `json:"contributor_id"`
	Amount        decimal.Decimal   `json:"amount"`
	Strategy      string            `json:"strategy,omitempty"`
	Contracts     []contractRequest `json:"contracts"`
}

// Allocate spreads a contribution across the listed contracts.
// POST /api/allocations
func (h *AllocationHandler) Allocate(w http.ResponseWriter, r *http.Request) {
	var req allocateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	strategy := h.defaultStrategy
	if req.Strategy != "" {
		s, err := allocator.ParseStrategy(req.Strategy)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		strategy = s
	}
	contracts := make([]domain.ContractID, 0, len(req.Contracts))
	for _, cr := range req.Contracts {
		c, err := cr.parse()
		if err != nil {
			writeServiceError(w, r, h.logger, "allocate", err)
			return
		}
		contracts = append(contracts, c)
	}

	alloc, err := h.allocs.Allocate(r.Context(), req.ContributorID, req.Amount, contracts, strategy)
	if err != nil {
		writeServiceError(w, r, h.logger, "allocate", err)
		return
	}
	writeJSON(w, http.StatusCreated, alloc)
}

// ListAllocations returns a contributor's current legs.
// GET /api/allocations?contributor_id=...
func (h *AllocationHandler) ListAllocations(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("contributor_id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "contributor_id query parameter required")
		return
	}
	legs := h.allocs.Allocations(id)
	if legs == nil {
		legs = []allocator.Leg{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"legs": legs})
}

// Withdraw removes all of a contributor's allocated liquidity.
// DELETE /api/allocations?contributor_id=...
func (h *AllocationHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("contributor_id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "contributor_id query parameter required")
		return
	}
	wd, err := h.allocs.Withdraw(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "withdraw", err)
		return
	}
	writeJSON(w, http.StatusOK, wd)
}
