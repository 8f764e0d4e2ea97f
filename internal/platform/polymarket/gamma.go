package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/alanyoungcy/polyoptions/internal/domain"
)

// GammaClient is the REST client for the Polymarket Gamma API. It serves
// market snapshots for the engine.
type GammaClient struct {
	baseURL string
	t       *transport
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string, opts Options, logger *slog.Logger) *GammaClient {
	return &GammaClient{
		baseURL: baseURL,
		t:       newTransport(opts, logger.With(slog.String("component", "gamma"))),
	}
}

// GetMarket returns the raw market payload by id.
func (g *GammaClient) GetMarket(ctx context.Context, marketID string) (APIMarket, error) {
	body, err := g.t.get(ctx, g.baseURL+"/markets/"+url.PathEscape(marketID))
	if err != nil {
		return APIMarket{}, fmt.Errorf("polymarket/gamma: get market %s: %w", marketID, err)
	}
	var m APIMarket
	if err := json.Unmarshal(body, &m); err != nil {
		return APIMarket{}, fmt.Errorf("polymarket/gamma: decode market: %w", err)
	}
	return m, nil
}

// YesTokenID resolves a market's Yes outcome token, used by the live feed.
func (g *GammaClient) YesTokenID(ctx context.Context, marketID string) (string, error) {
	m, err := g.GetMarket(ctx, marketID)
	if err != nil {
		return "", err
	}
	id := m.YesTokenID()
	if id == "" {
		return "", fmt.Errorf("polymarket/gamma: market %s has no clob token: %w", marketID, domain.ErrNotFound)
	}
	return id, nil
}

// GetSnapshot implements domain.MarketDataProvider.
func (g *GammaClient) GetSnapshot(ctx context.Context, marketID string) (domain.MarketSnapshot, error) {
	m, err := g.GetMarket(ctx, marketID)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}
	p, ok := m.YesProbability()
	if !ok {
		return domain.MarketSnapshot{}, fmt.Errorf("polymarket/gamma: market %s has no usable price: %w",
			marketID, domain.ErrStaleOrMissingMarketData)
	}
	ts := time.Now().UTC()
	if m.UpdatedAt != "" {
		if parsed, err := time.Parse(time.RFC3339, m.UpdatedAt); err == nil {
			ts = parsed.UTC()
		}
	}
	return domain.MarketSnapshot{
		MarketID:    marketID,
		Probability: p,
		Timestamp:   ts,
		Volume:      float64(m.Volume),
		Liquidity:   float64(m.Liquidity),
	}, nil
}

var _ domain.MarketDataProvider = (*GammaClient)(nil)
