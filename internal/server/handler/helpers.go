package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/polyoptions/internal/domain"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// writeJSON marshals v as JSON and writes it with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps engine sentinel errors to HTTP statuses. Anything
// unrecognised is logged and reported as a 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status := http.StatusInternalServerError
	// Stale-data errors also wrap the provider's cause, so they match first.
	switch {
	case errors.Is(err, domain.ErrStaleOrMissingMarketData):
		status = http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidOrder),
		errors.Is(err, domain.ErrInvalidContract):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientLiquidity):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrRateLimited):
		status = http.StatusTooManyRequests
	}
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("error", err.Error()),
		)
		writeError(w, status, op+" failed")
		return
	}
	writeError(w, status, err.Error())
}

// decodeJSON reads a bounded JSON body into dst, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// contractRequest identifies a contract either by its canonical key or by
// its parts.
type contractRequest struct {
	Contract string `json:"contract,omitempty"`
	MarketID string `json:"market_id,omitempty"`
	Strike   *int   `json:"strike,omitempty"`
	Type     string `json:"type,omitempty"`
	Expiry   string `json:"expiry,omitempty"`
}

func (c contractRequest) parse() (domain.ContractID, error) {
	if c.Contract != "" {
		return domain.ParseContractKey(c.Contract)
	}
	if c.Strike == nil {
		return domain.ContractID{}, fmt.Errorf("%w: strike is required", domain.ErrInvalidContract)
	}
	typ, err := domain.ParseOptionType(c.Type)
	if err != nil {
		return domain.ContractID{}, err
	}
	expiry, err := time.Parse(time.DateOnly, c.Expiry)
	if err != nil {
		return domain.ContractID{}, fmt.Errorf("%w: expiry %q must be YYYY-MM-DD", domain.ErrInvalidContract, c.Expiry)
	}
	return domain.NewContractID(c.MarketID, *c.Strike, typ, expiry)
}

// contractFromQuery reads a contract from ?contract= or from ?market_id=,
// ?strike=, ?type= and ?expiry=.
func contractFromQuery(r *http.Request) (domain.ContractID, error) {
	q := r.URL.Query()
	req := contractRequest{
		Contract: q.Get("contract"),
		MarketID: q.Get("market_id"),
		Type:     q.Get("type"),
		Expiry:   q.Get("expiry"),
	}
	if s := q.Get("strike"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return domain.ContractID{}, fmt.Errorf("%w: strike %q", domain.ErrInvalidContract, s)
		}
		req.Strike = &n
	}
	return req.parse()
}

// sideIsBuy maps "buy"/"sell" to a boolean.
func sideIsBuy(side string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(side)) {
	case "buy":
		return true, nil
	case "sell":
		return false, nil
	default:
		return false, fmt.Errorf("%w: side %q must be buy or sell", domain.ErrInvalidOrder, side)
	}
}

// pathParam extracts a named path parameter (Go 1.22+ routing).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}
