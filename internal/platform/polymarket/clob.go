package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/polyoptions/internal/domain"
)

// dailyFidelity is the prices-history sampling interval in minutes.
const dailyFidelity = 1440

// ClobClient reads probability history from the CLOB prices-history
// endpoint. Market ids are resolved to Yes token ids through Gamma.
type ClobClient struct {
	baseURL string
	gamma   *GammaClient
	t       *transport
	now     func() time.Time

	mu     sync.Mutex
	tokens map[string]string
}

// NewClobClient creates a CLOB history client.
func NewClobClient(baseURL string, gamma *GammaClient, opts Options, logger *slog.Logger) *ClobClient {
	return &ClobClient{
		baseURL: baseURL,
		gamma:   gamma,
		t:       newTransport(opts, logger.With(slog.String("component", "clob"))),
		now:     time.Now,
		tokens:  make(map[string]string),
	}
}

func (c *ClobClient) tokenID(ctx context.Context, marketID string) (string, error) {
	c.mu.Lock()
	id, ok := c.tokens[marketID]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	m, err := c.gamma.GetMarket(ctx, marketID)
	if err != nil {
		return "", err
	}
	id = m.YesTokenID()
	if id == "" {
		return "", fmt.Errorf("polymarket/clob: market %s has no clob token: %w", marketID, domain.ErrNotFound)
	}

	c.mu.Lock()
	c.tokens[marketID] = id
	c.mu.Unlock()
	return id, nil
}

// GetSeries implements domain.HistoricalStore.
func (c *ClobClient) GetSeries(ctx context.Context, marketID string, days int) ([]domain.HistoricalPoint, error) {
	token, err := c.tokenID(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("polymarket/clob: resolve token: %w", err)
	}

	end := c.now().UTC()
	start := end.AddDate(0, 0, -days)
	params := url.Values{}
	params.Set("market", token)
	params.Set("startTs", strconv.FormatInt(start.Unix(), 10))
	params.Set("endTs", strconv.FormatInt(end.Unix(), 10))
	params.Set("fidelity", strconv.Itoa(dailyFidelity))

	body, err := c.t.get(ctx, c.baseURL+"/prices-history?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/clob: prices history %s: %w", marketID, err)
	}
	var hist PriceHistory
	if err := json.Unmarshal(body, &hist); err != nil {
		return nil, fmt.Errorf("polymarket/clob: decode prices history: %w", err)
	}

	points := make([]domain.HistoricalPoint, 0, len(hist.History))
	for _, p := range hist.History {
		points = append(points, domain.HistoricalPoint{
			Probability: p.P,
			Timestamp:   time.Unix(p.T, 0).UTC(),
		})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) })
	return points, nil
}

var _ domain.HistoricalStore = (*ClobClient)(nil)
