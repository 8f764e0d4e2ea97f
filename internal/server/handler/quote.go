package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/polyoptions/internal/domain"
	"github.com/alanyoungcy/polyoptions/internal/service"
)

// QuoteService prices contracts.
type QuoteService interface {
	Quote(ctx context.Context, contract domain.ContractID) (service.QuoteView, error)
}

// QuoteHandler serves contract quotes.
type QuoteHandler struct {
	quotes QuoteService
	logger *slog.Logger
}

// NewQuoteHandler creates a QuoteHandler.
func NewQuoteHandler(quotes QuoteService, logger *slog.Logger) *QuoteHandler {
	return &QuoteHandler{quotes: quotes, logger: logger}
}

// GetQuote returns the model price, greeks and pool quote for a contract.
// GET /api/quote?market_id=...&strike=60&type=call&expiry=2026-12-31
func (h *QuoteHandler) GetQuote(w http.ResponseWriter, r *http.Request) {
	c, err := contractFromQuery(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "quote", err)
		return
	}
	q, err := h.quotes.Quote(r.Context(), c)
	if err != nil {
		writeServiceError(w, r, h.logger, "quote", err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}
