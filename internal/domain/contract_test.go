package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContractKeyRoundTrip(t *testing.T) {
	c, err := NewContractID("will-it-rain", 60, OptionTypeCall, time.Date(2026, 3, 1, 15, 4, 5, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "will-it-rain:60:call:2026-03-01", c.Key())

	parsed, err := ParseContractKey(c.Key())
	require.NoError(t, err)
	assert.Equal(t, c, parsed)
}

func TestContractValidate(t *testing.T) {
	exp := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	cases := []ContractID{
		{MarketID: "", Strike: 50, Type: OptionTypeCall, Expiry: exp},
		{MarketID: "a:b", Strike: 50, Type: OptionTypeCall, Expiry: exp},
		{MarketID: "m", Strike: 101, Type: OptionTypeCall, Expiry: exp},
		{MarketID: "m", Strike: -1, Type: OptionTypeCall, Expiry: exp},
		{MarketID: "m", Strike: 50, Type: "straddle", Expiry: exp},
		{MarketID: "m", Strike: 50, Type: OptionTypePut},
	}
	for _, c := range cases {
		err := c.Validate()
		assert.True(t, errors.Is(err, ErrInvalidContract), "%+v", c)
	}
}

func TestTimeToExpiry(t *testing.T) {
	c, err := NewContractID("m", 50, OptionTypePut, time.Date(2026, 1, 11, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.InDelta(t, 11.0, c.DaysToExpiry(now), 1e-9)
	assert.Equal(t, 0.0, c.TimeToExpiry(now.AddDate(0, 1, 0)))
}

func TestParseOptionType(t *testing.T) {
	typ, err := ParseOptionType("PUT")
	require.NoError(t, err)
	assert.Equal(t, OptionTypePut, typ)

	_, err = ParseOptionType("binary")
	assert.ErrorIs(t, err, ErrInvalidContract)
}

func TestLiquidityFactor(t *testing.T) {
	assert.Equal(t, 0.0, MarketSnapshot{Liquidity: -5}.LiquidityFactor())
	assert.InDelta(t, 0.25, MarketSnapshot{Liquidity: 250_000}.LiquidityFactor(), 1e-12)
	assert.Equal(t, 1.0, MarketSnapshot{Liquidity: 5_000_000}.LiquidityFactor())
}
