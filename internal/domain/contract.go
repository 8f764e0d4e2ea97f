package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// OptionType is the payoff direction of a binary option.
type OptionType string

const (
	OptionTypeCall OptionType = "call"
	OptionTypePut  OptionType = "put"
)

// ParseOptionType accepts "call"/"put" in any case.
func ParseOptionType(s string) (OptionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "call", "c":
		return OptionTypeCall, nil
	case "put", "p":
		return OptionTypePut, nil
	default:
		return "", fmt.Errorf("%w: unknown option type %q", ErrInvalidContract, s)
	}
}

// expiryLayout is the date format used in contract keys.
const expiryLayout = "2006-01-02"

// DaysPerYear is the day-count basis used for all year fractions.
const DaysPerYear = 365.0

// ContractID identifies one binary-option instrument written on a market.
// Strike is expressed in probability points (0-100).
type ContractID struct {
	MarketID string     `json:"market_id"`
	Strike   int        `json:"strike"`
	Type     OptionType `json:"type"`
	Expiry   time.Time  `json:"expiry"`
}

// NewContractID builds and validates a ContractID. The expiry is truncated
// to its UTC calendar date.
func NewContractID(marketID string, strike int, typ OptionType, expiry time.Time) (ContractID, error) {
	e := expiry.UTC()
	c := ContractID{
		MarketID: marketID,
		Strike:   strike,
		Type:     typ,
		Expiry:   time.Date(e.Year(), e.Month(), e.Day(), 0, 0, 0, 0, time.UTC),
	}
	if err := c.Validate(); err != nil {
		return ContractID{}, err
	}
	return c, nil
}

// Validate checks the strike range, type, and presence of market and expiry.
func (c ContractID) Validate() error {
	if strings.TrimSpace(c.MarketID) == "" {
		return fmt.Errorf("%w: market id is required", ErrInvalidContract)
	}
	if strings.Contains(c.MarketID, ":") {
		return fmt.Errorf("%w: market id must not contain ':'", ErrInvalidContract)
	}
	if c.Strike < 0 || c.Strike > 100 {
		return fmt.Errorf("%w: strike %d outside 0-100", ErrInvalidContract, c.Strike)
	}
	if c.Type != OptionTypeCall && c.Type != OptionTypePut {
		return fmt.Errorf("%w: unknown option type %q", ErrInvalidContract, c.Type)
	}
	if c.Expiry.IsZero() {
		return fmt.Errorf("%w: expiry is required", ErrInvalidContract)
	}
	return nil
}

// Key returns the canonical string form "market:strike:type:YYYY-MM-DD".
func (c ContractID) Key() string {
	return c.MarketID + ":" + strconv.Itoa(c.Strike) + ":" + string(c.Type) + ":" + c.Expiry.UTC().Format(expiryLayout)
}

func (c ContractID) String() string { return c.Key() }

// ParseContractKey is the inverse of Key.
func ParseContractKey(key string) (ContractID, error) {
	parts := strings.Split(key, ":")
	if len(parts) != 4 {
		return ContractID{}, fmt.Errorf("%w: malformed key %q", ErrInvalidContract, key)
	}
	strike, err := strconv.Atoi(parts[1])
	if err != nil {
		return ContractID{}, fmt.Errorf("%w: strike %q: %v", ErrInvalidContract, parts[1], err)
	}
	typ, err := ParseOptionType(parts[2])
	if err != nil {
		return ContractID{}, err
	}
	expiry, err := time.Parse(expiryLayout, parts[3])
	if err != nil {
		return ContractID{}, fmt.Errorf("%w: expiry %q: %v", ErrInvalidContract, parts[3], err)
	}
	return NewContractID(parts[0], strike, typ, expiry)
}

// StrikeProb returns the strike as a probability in [0,1].
func (c ContractID) StrikeProb() float64 {
	return float64(c.Strike) / 100
}

// TimeToExpiry returns the year fraction between now and the end of the
// expiry date. It is never negative.
func (c ContractID) TimeToExpiry(now time.Time) float64 {
	end := c.Expiry.UTC().Add(24 * time.Hour)
	d := end.Sub(now.UTC())
	if d <= 0 {
		return 0
	}
	return d.Hours() / 24 / DaysPerYear
}

// DaysToExpiry is TimeToExpiry expressed in days.
func (c ContractID) DaysToExpiry(now time.Time) float64 {
	return c.TimeToExpiry(now) * DaysPerYear
}
