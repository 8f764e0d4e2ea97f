package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/polyoptions/internal/domain"
	"github.com/alanyoungcy/polyoptions/internal/orderbook"
)

// OrderService is the order book surface the handler needs.
type OrderService interface {
	PlaceOrder(ctx context.Context, contract domain.ContractID, ownerID string, side domain.OrderSide, price float64, quantity int64) (orderbook.Outcome, error)
	CancelOrder(ctx context.Context, orderID, ownerID string) (domain.Order, error)
	UpdateOrder(ctx context.Context, orderID, ownerID string, a orderbook.Amendment) (orderbook.Outcome, error)
	ExecuteMarketOrder(ctx context.Context, contract domain.ContractID, ownerID string, isBuy bool, quantity int64) (domain.ExecutionResult, error)
	BookState(ctx context.Context, contract domain.ContractID) (domain.BookState, error)
	GetOrder(orderID string) (domain.Order, error)
	OrdersByOwner(ownerID string) []domain.Order
}

// OrderHandler serves order book endpoints.
type OrderHandler struct {
	orders OrderService
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler.
func NewOrderHandler(orders OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, logger: logger}
}

type placeOrderRequest struct {
	contractRequest
	OwnerID  string  `json:"owner_id"`
	Side     string  `json:"side"`
	Price    float64 `json:"price"`
	Quantity int64   `json:"quantity"`
}

// PlaceOrder submits a limit order.
// POST /api/orders
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := req.parse()
	if err != nil {
		writeServiceError(w, r, h.logger, "place order", err)
		return
	}
	out, err := h.orders.PlaceOrder(r.Context(), c, req.OwnerID, domain.OrderSide(req.Side), req.Price, req.Quantity)
	if err != nil {
		writeServiceError(w, r, h.logger, "place order", err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// GetOrder returns one order.
// GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetOrder(pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get order", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// ListOrders returns an owner's orders.
// GET /api/orders?owner_id=...
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner_id")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner_id query parameter required")
		return
	}
	orders := h.orders.OrdersByOwner(owner)
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

// CancelOrder cancels a resting order.
// DELETE /api/orders/{id}?owner_id=...
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.CancelOrder(r.Context(), pathParam(r, "id"), r.URL.Query().Get("owner_id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "cancel order", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type updateOrderRequest struct {
	OwnerID  string   `json:"owner_id"`
	Price    *float64 `json:"price,omitempty"`
	Quantity *int64   `json:"quantity,omitempty"`
}

// UpdateOrder amends the price or quantity of a resting order.
// PATCH /api/orders/{id}
func (h *OrderHandler) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	var req updateOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	out, err := h.orders.UpdateOrder(r.Context(), pathParam(r, "id"), req.OwnerID,
		orderbook.Amendment{LimitPrice: req.Price, Quantity: req.Quantity})
	if err != nil {
		writeServiceError(w, r, h.logger, "update order", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type marketOrderRequest struct {
	contractRequest
	OwnerID  string `json:"owner_id"`
	Side     string `json:"side"`
	Quantity int64  `json:"quantity"`
}

// MarketOrder sweeps the book; it fails without trading when depth is short.
// POST /api/orders/market
func (h *OrderHandler) MarketOrder(w http.ResponseWriter, r *http.Request) {
	var req marketOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := req.parse()
	if err != nil {
		writeServiceError(w, r, h.logger, "market order", err)
		return
	}
	isBuy, err := sideIsBuy(req.Side)
	if err != nil {
		writeServiceError(w, r, h.logger, "market order", err)
		return
	}
	res, err := h.orders.ExecuteMarketOrder(r.Context(), c, req.OwnerID, isBuy, req.Quantity)
	if err != nil {
		writeServiceError(w, r, h.logger, "market order", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetBook returns the aggregated book for a contract.
// GET /api/book?contract=...
func (h *OrderHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	c, err := contractFromQuery(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "book", err)
		return
	}
	state, err := h.orders.BookState(r.Context(), c)
	if err != nil {
		writeServiceError(w, r, h.logger, "book", err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}
