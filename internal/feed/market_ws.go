// Package feed streams live Yes-token prices from the Polymarket CLOB
// market WebSocket into the market service.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/polyoptions/internal/domain"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// TokenResolver maps a market id to its Yes outcome token id.
type TokenResolver interface {
	YesTokenID(ctx context.Context, marketID string) (string, error)
}

// Observer receives live snapshots. LastKnown supplies the volume and
// liquidity the price stream does not carry.
type Observer interface {
	Observe(ctx context.Context, snap domain.MarketSnapshot)
	LastKnown(marketID string) (domain.MarketSnapshot, bool)
}

// MarketFeed subscribes to the market channel for a fixed set of markets and
// forwards every price it sees as a snapshot. It reconnects with
// exponential backoff until ctx is cancelled.
type MarketFeed struct {
	url      string
	markets  []string
	resolver TokenResolver
	observer Observer
	dialer   *websocket.Dialer
	logger   *slog.Logger
}

// NewMarketFeed creates a feed for markets on the given WebSocket URL.
func NewMarketFeed(url string, markets []string, resolver TokenResolver, observer Observer, logger *slog.Logger) *MarketFeed {
	return &MarketFeed{
		url:      url,
		markets:  markets,
		resolver: resolver,
		observer: observer,
		dialer:   &websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		logger:   logger.With(slog.String("component", "market_feed")),
	}
}

// subscribeCommand is the market-channel subscription payload.
type subscribeCommand struct {
	Type   string   `json:"type"`
	Assets []string `json:"assets_ids"`
}

// Run resolves token ids and streams until ctx is cancelled. Markets whose
// token cannot be resolved are skipped with a warning.
func (f *MarketFeed) Run(ctx context.Context) error {
	tokens := f.resolve(ctx)
	if len(tokens) == 0 {
		f.logger.InfoContext(ctx, "feed: no resolvable markets, idle")
		<-ctx.Done()
		return nil
	}

	delay := reconnectDelay
	for {
		start := time.Now()
		err := f.stream(ctx, tokens)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(start) > maxReconnectDelay {
			delay = reconnectDelay
		}
		f.logger.WarnContext(ctx, "feed: disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

func (f *MarketFeed) resolve(ctx context.Context) map[string]string {
	tokens := make(map[string]string, len(f.markets))
	for _, id := range f.markets {
		token, err := f.resolver.YesTokenID(ctx, id)
		if err != nil {
			f.logger.WarnContext(ctx, "feed: token lookup failed",
				slog.String("market_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		tokens[token] = id
	}
	return tokens
}

// stream runs one connection until it fails or ctx is cancelled.
func (f *MarketFeed) stream(ctx context.Context, tokens map[string]string) error {
	conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("feed: dial: %w", err)
	}
	defer conn.Close()

	assets := make([]string, 0, len(tokens))
	for t := range tokens {
		assets = append(assets, t)
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(subscribeCommand{Type: "market", Assets: assets}); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	f.logger.InfoContext(ctx, "feed: subscribed", slog.Int("assets", len(assets)))

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", err)
		}
		for _, u := range parseUpdates(raw) {
			marketID, ok := tokens[u.assetID]
			if !ok {
				continue
			}
			f.observe(ctx, marketID, u)
		}
	}
}

func (f *MarketFeed) observe(ctx context.Context, marketID string, u update) {
	snap := domain.MarketSnapshot{MarketID: marketID}
	if last, ok := f.observer.LastKnown(marketID); ok {
		snap = last
	}
	snap.Probability = u.price
	snap.Timestamp = u.at
	if !snap.Valid() {
		f.logger.DebugContext(ctx, "feed: dropping invalid update",
			slog.String("market_id", marketID),
			slog.Float64("price", u.price),
		)
		return
	}
	f.observer.Observe(ctx, snap)
}

// update is one price observation for a token.
type update struct {
	assetID string
	price   float64
	at      time.Time
}

type wsLevel struct {
	Price string `json:"price"`
}

type wsPriceChange struct {
	AssetID string `json:"asset_id"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

type wsEvent struct {
	EventType    string          `json:"event_type"`
	AssetID      string          `json:"asset_id"`
	Price        string          `json:"price"`
	Timestamp    string          `json:"timestamp"`
	Bids         []wsLevel       `json:"bids"`
	Asks         []wsLevel       `json:"asks"`
	PriceChanges []wsPriceChange `json:"price_changes"`
}

// parseUpdates decodes a frame, which may hold one event or an array of
// them. Trades report their price; book and price_change events report the
// bid/ask midpoint when both sides exist.
func parseUpdates(raw []byte) []update {
	var events []wsEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		var one wsEvent
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil
		}
		events = []wsEvent{one}
	}

	var out []update
	for _, e := range events {
		at := parseMillis(e.Timestamp)
		switch e.EventType {
		case "last_trade_price":
			if p, err := strconv.ParseFloat(e.Price, 64); err == nil {
				out = append(out, update{assetID: e.AssetID, price: p, at: at})
			}
		case "book":
			bid, okBid := bestPrice(e.Bids, func(a, b float64) bool { return a > b })
			ask, okAsk := bestPrice(e.Asks, func(a, b float64) bool { return a < b })
			if okBid && okAsk {
				out = append(out, update{assetID: e.AssetID, price: (bid + ask) / 2, at: at})
			}
		case "price_change":
			for _, pc := range e.PriceChanges {
				bid, errBid := strconv.ParseFloat(pc.BestBid, 64)
				ask, errAsk := strconv.ParseFloat(pc.BestAsk, 64)
				if errors.Join(errBid, errAsk) == nil && bid > 0 && ask > 0 {
					out = append(out, update{assetID: pc.AssetID, price: (bid + ask) / 2, at: at})
				}
			}
		}
	}
	return out
}

func bestPrice(levels []wsLevel, better func(a, b float64) bool) (float64, bool) {
	var best float64
	found := false
	for _, l := range levels {
		p, err := strconv.ParseFloat(l.Price, 64)
		if err != nil {
			continue
		}
		if !found || better(p, best) {
			best, found = p, true
		}
	}
	return best, found
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(ms).UTC()
}
