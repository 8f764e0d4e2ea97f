package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/polyoptions/internal/domain"
	"github.com/alanyoungcy/polyoptions/internal/router"
)

// TradeService executes taker trades.
type TradeService interface {
	ExecuteAMMTrade(ctx context.Context, contract domain.ContractID, isBuy bool, quantity int64) (domain.ExecutionResult, error)
	Route(ctx context.Context, contract domain.ContractID, isBuy bool, quantity int64) (domain.VenueDecision, error)
	ExecuteBest(ctx context.Context, contract domain.ContractID, ownerID string, isBuy bool, quantity int64) (router.Execution, error)
}

// TradeHandler serves AMM and routed trades.
type TradeHandler struct {
	trades TradeService
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(trades TradeService, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, logger: logger}
}

type tradeRequest struct {
	contractRequest
	OwnerID  string `json:"owner_id,omitempty"`
	Side     string `json:"side"`
	Quantity int64  `json:"quantity"`
	Execute  bool   `json:"execute,omitempty"`
}

func (h *TradeHandler) decode(w http.ResponseWriter, r *http.Request, op string) (tradeRequest, domain.ContractID, bool, bool) {
	var req tradeRequest
	if !decodeJSON(w, r, &req) {
		return req, domain.ContractID{}, false, false
	}
	c, err := req.parse()
	if err != nil {
		writeServiceError(w, r, h.logger, op, err)
		return req, domain.ContractID{}, false, false
	}
	isBuy, err := sideIsBuy(req.Side)
	if err != nil {
		writeServiceError(w, r, h.logger, op, err)
		return req, domain.ContractID{}, false, false
	}
	return req, c, isBuy, true
}

// ExecuteAMM fills a trade directly against the contract's pool.
// POST /api/trades
func (h *TradeHandler) ExecuteAMM(w http.ResponseWriter, r *http.Request) {
	req, c, isBuy, ok := h.decode(w, r, "amm trade")
	if !ok {
		return
	}
	res, err := h.trades.ExecuteAMMTrade(r.Context(), c, isBuy, req.Quantity)
	if err != nil {
		writeServiceError(w, r, h.logger, "amm trade", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Route reports the better venue, and fills there when execute is set.
// POST /api/route
func (h *TradeHandler) Route(w http.ResponseWriter, r *http.Request) {
	req, c, isBuy, ok := h.decode(w, r, "route")
	if !ok {
		return
	}
	if !req.Execute {
		dec, err := h.trades.Route(r.Context(), c, isBuy, req.Quantity)
		if err != nil {
			writeServiceError(w, r, h.logger, "route", err)
			return
		}
		writeJSON(w, http.StatusOK, dec)
		return
	}
	exec, err := h.trades.ExecuteBest(r.Context(), c, req.OwnerID, isBuy, req.Quantity)
	if err != nil {
		writeServiceError(w, r, h.logger, "route", err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}
