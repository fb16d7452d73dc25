package exec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/web3guy0/pipbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MT5 BRIDGE CLIENT
// ═══════════════════════════════════════════════════════════════════════════════
//
// Talks to the MetaTrader 5 sidecar bridge:
//   GET  /tick/{symbol}                         → latest bid/ask
//   GET  /rates/{symbol}?from=&timeframe=&count → bars at-or-before "from"
//   POST /order/market                          → market order
//   POST /positions/{symbol}/close              → close all positions for symbol
//   WS   /ws/ticks                              → live quote stream (see stream.go)
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	DefaultBridgeURL = "http://127.0.0.1:8787"
	orderComment     = "pipbot"
)

// ClientConfig configures the bridge client
type ClientConfig struct {
	BaseURL   string
	Token     string
	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 = unlimited
	RateBurst int
	Deviation int // max slippage in points
}

// Client is the HTTP client for the MT5 bridge
type Client struct {
	baseURL    string
	token      string
	deviation  int
	httpClient *http.Client
	limiter    *rate.Limiter
	stream     *TickStream
}

// NewClient creates a new bridge client
func NewClient(cfg ClientConfig) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBridgeURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	c := &Client{
		baseURL:    base,
		token:      cfg.Token,
		deviation:  cfg.Deviation,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
	}

	log.Info().
		Str("bridge", base).
		Float64("rate_limit", cfg.RateLimit).
		Msg("🔌 MT5 bridge client initialized")

	return c
}

// Name identifies the broker in logs
func (c *Client) Name() string { return "mt5-bridge" }

// AttachStream lets LatestQuote serve from a live WebSocket cache
func (c *Client) AttachStream(s *TickStream) {
	c.stream = s
}

// LatestQuote returns the current bid/ask for a symbol
func (c *Client) LatestQuote(ctx context.Context, symbol string) (types.Quote, error) {
	if c.stream != nil {
		if q, ok := c.stream.Quote(symbol); ok {
			return q, nil
		}
	}

	body, status, err := c.get(ctx, "/tick/"+url.PathEscape(symbol))
	if err != nil {
		return types.Quote{}, fmt.Errorf("%w: %s: %v", ErrUnavailable, symbol, err)
	}
	if status == http.StatusNotFound {
		return types.Quote{}, fmt.Errorf("%w: %s", ErrUnavailable, symbol)
	}

	var tick bridgeTick
	if err := json.Unmarshal(body, &tick); err != nil {
		return types.Quote{}, fmt.Errorf("%w: %s: parse tick: %v", ErrUnavailable, symbol, err)
	}
	if tick.Ask.IsZero() && tick.Bid.IsZero() {
		return types.Quote{}, fmt.Errorf("%w: %s: empty tick", ErrUnavailable, symbol)
	}
	return tick.quote(symbol), nil
}

// HistoricalBar returns the bar at-or-before the given instant
func (c *Client) HistoricalBar(ctx context.Context, symbol string, at time.Time, granularity Granularity) (types.Bar, error) {
	q := url.Values{}
	q.Set("from", fmt.Sprintf("%d", at.Unix()))
	q.Set("timeframe", string(granularity))
	q.Set("count", "1")

	body, status, err := c.get(ctx, "/rates/"+url.PathEscape(symbol)+"?"+q.Encode())
	if err != nil {
		return types.Bar{}, err
	}
	if status == http.StatusNotFound {
		return types.Bar{}, ErrNoData
	}

	var result struct {
		Bars []bridgeBar `json:"bars"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return types.Bar{}, fmt.Errorf("parse rates: %w", err)
	}
	if len(result.Bars) == 0 {
		return types.Bar{}, ErrNoData
	}

	b := result.Bars[len(result.Bars)-1]
	return types.Bar{
		Symbol: symbol,
		Open:   b.Open,
		High:   b.High,
		Low:    b.Low,
		Close:  b.Close,
		Time:   time.Unix(b.Time, 0).UTC(),
	}, nil
}

// PlaceMarketOrder sends a market order through the bridge
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side types.Side, volume decimal.Decimal) (*types.OrderResult, error) {
	clientID := uuid.New().String()

	payload := map[string]interface{}{
		"symbol":    symbol,
		"side":      string(side),
		"volume":    volume.String(),
		"deviation": c.deviation,
		"comment":   orderComment,
		"client_id": clientID,
	}

	body, _, err := c.post(ctx, "/order/market", payload)
	if err != nil {
		return nil, err
	}

	var result struct {
		Order   int64           `json:"order"`
		Retcode int             `json:"retcode"`
		Comment string          `json:"comment"`
		Price   decimal.Decimal `json:"price"`
		Volume  decimal.Decimal `json:"volume"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse order response: %w", err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("bridge error: %s", result.Error)
	}
	if result.Retcode != retcodeDone {
		return nil, fmt.Errorf("order rejected: retcode=%d comment=%s", result.Retcode, result.Comment)
	}

	filled := result.Volume
	if filled.IsZero() {
		filled = volume
	}

	log.Info().
		Int64("ticket", result.Order).
		Str("symbol", symbol).
		Str("side", string(side)).
		Str("volume", filled.String()).
		Str("price", result.Price.String()).
		Msg("✅ Order placed")

	return &types.OrderResult{
		OrderID:  fmt.Sprintf("%d", result.Order),
		ClientID: clientID,
		Symbol:   symbol,
		Side:     side,
		Volume:   filled,
		Price:    result.Price,
		Time:     time.Now().UTC(),
	}, nil
}

// ClosePosition closes every open position for the symbol
func (c *Client) ClosePosition(ctx context.Context, symbol string) error {
	body, status, err := c.post(ctx, "/positions/"+url.PathEscape(symbol)+"/close", map[string]interface{}{
		"deviation": c.deviation,
		"comment":   orderComment,
	})
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return ErrNoOpenPosition
	}

	var result struct {
		Closed int      `json:"closed"`
		Failed []string `json:"failed"`
		Error  string   `json:"error"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("parse close response: %w", err)
	}
	if result.Error != "" {
		return fmt.Errorf("bridge error: %s", result.Error)
	}
	if len(result.Failed) > 0 {
		return fmt.Errorf("close failed for tickets %s", strings.Join(result.Failed, ","))
	}
	if result.Closed == 0 {
		return ErrNoOpenPosition
	}

	log.Info().
		Str("symbol", symbol).
		Int("closed", result.Closed).
		Msg("📊 Positions closed")
	return nil
}

// TRADE_RETCODE_DONE in MetaTrader 5
const retcodeDone = 10009

type bridgeTick struct {
	Symbol string          `json:"symbol"`
	Bid    decimal.Decimal `json:"bid"`
	Ask    decimal.Decimal `json:"ask"`
	Time   int64           `json:"time"`
}

func (t bridgeTick) quote(fallbackSymbol string) types.Quote {
	sym := t.Symbol
	if sym == "" {
		sym = fallbackSymbol
	}
	ts := time.Now().UTC()
	if t.Time > 0 {
		ts = time.Unix(t.Time, 0).UTC()
	}
	return types.Quote{Symbol: sym, Bid: t.Bid, Ask: t.Ask, Time: ts}
}

type bridgeBar struct {
	Time  int64           `json:"time"`
	Open  decimal.Decimal `json:"open"`
	High  decimal.Decimal `json:"high"`
	Low   decimal.Decimal `json:"low"`
	Close decimal.Decimal `json:"close"`
}

// ═══════════════════════════════════════════════════════════════════════════════
// HTTP HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func (c *Client) get(ctx context.Context, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, err
	}
	c.addHeaders(req)
	return c.doRequest(req)
}

func (c *Client) post(ctx context.Context, path string, body interface{}) ([]byte, int, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.addHeaders(req)
	return c.doRequest(req)
}

func (c *Client) addHeaders(req *http.Request) {
	req.Header.Set("User-Agent", "pipbot/bridge")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// doRequest returns the body for 2xx and 404; other statuses are errors
func (c *Client) doRequest(req *http.Request) ([]byte, int, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	if resp.StatusCode == http.StatusNotFound {
		return body, resp.StatusCode, nil
	}
	if resp.StatusCode >= 400 {
		return nil, resp.StatusCode, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	return body, resp.StatusCode, nil
}
