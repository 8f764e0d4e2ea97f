package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexFloat unmarshals from a JSON number or a numeric string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(n)
	return nil
}

// APIMarket is the subset of the Gamma market payload the engine uses.
type APIMarket struct {
	ID            string    `json:"id"`
	Question      string    `json:"question"`
	ConditionID   string    `json:"conditionId"`
	Slug          string    `json:"slug"`
	Active        flexBool  `json:"active"`
	Closed        bool      `json:"closed"`
	Outcomes      string    `json:"outcomes"`      // JSON-encoded: e.g. "[\"Yes\",\"No\"]"
	OutcomePrices string    `json:"outcomePrices"` // JSON-encoded: e.g. "[\"0.5\",\"0.5\"]"
	Volume        flexFloat `json:"volume"`
	Liquidity     flexFloat `json:"liquidity"`
	ClobTokenIDs  string    `json:"clobTokenIds"` // JSON-encoded: e.g. "[\"123\",\"456\"]"
	UpdatedAt     string    `json:"updatedAt"`
}

// YesProbability returns the first outcome price, which Gamma orders as Yes.
func (m APIMarket) YesProbability() (float64, bool) {
	prices := decodeStringArray(m.OutcomePrices)
	if len(prices) == 0 {
		return 0, false
	}
	p, err := strconv.ParseFloat(prices[0], 64)
	if err != nil || p < 0 || p > 1 {
		return 0, false
	}
	return p, true
}

// YesTokenID returns the CLOB token id of the Yes outcome.
func (m APIMarket) YesTokenID() string {
	ids := decodeStringArray(m.ClobTokenIDs)
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

func decodeStringArray(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

// PricePoint is one sample from the CLOB prices-history endpoint.
type PricePoint struct {
	T int64   `json:"t"`
	P float64 `json:"p"`
}

// PriceHistory is the CLOB prices-history response.
type PriceHistory struct {
	History []PricePoint `json:"history"`
}
