package exec

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/pipbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TICK STREAM - Live quote cache from the bridge WebSocket
// ═══════════════════════════════════════════════════════════════════════════════
//
// The bridge pushes {"symbol","bid","ask","time"} frames on /ws/ticks.
// Quotes older than maxAge are ignored so a dead stream falls back to HTTP.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	reconnectDelay = 5 * time.Second
	pingInterval   = 30 * time.Second
)

// TickStream manages the WebSocket connection and quote cache
type TickStream struct {
	mu sync.RWMutex

	wsURL     string
	token     string
	symbols   []string
	maxAge    time.Duration
	conn      *websocket.Conn
	connected bool
	running   bool
	stopCh    chan struct{}

	quotes map[string]types.Quote
	seenAt map[string]time.Time
}

// NewTickStream creates a stream for the bridge at baseURL
func NewTickStream(baseURL, token string, symbols []string, maxAge time.Duration) *TickStream {
	if maxAge <= 0 {
		maxAge = 10 * time.Second
	}
	return &TickStream{
		wsURL:   streamURL(baseURL),
		token:   token,
		symbols: symbols,
		maxAge:  maxAge,
		stopCh:  make(chan struct{}),
		quotes:  make(map[string]types.Quote),
		seenAt:  make(map[string]time.Time),
	}
}

// streamURL maps http(s)://host to ws(s)://host/ws/ticks
func streamURL(baseURL string) string {
	u := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws/ticks"
}

// Start connects and begins processing
func (s *TickStream) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go s.connectionLoop()
	log.Info().Str("url", s.wsURL).Msg("📡 Tick stream started")
}

// Stop closes the connection
func (s *TickStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.running = false
	close(s.stopCh)

	if s.conn != nil {
		s.conn.Close()
	}

	log.Info().Msg("Tick stream stopped")
}

// Connected reports whether the socket is currently up
func (s *TickStream) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Quote returns a fresh cached quote for symbol
func (s *TickStream) Quote(symbol string) (types.Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.quotes[symbol]
	if !ok {
		return types.Quote{}, false
	}
	if time.Since(s.seenAt[symbol]) > s.maxAge {
		return types.Quote{}, false
	}
	return q, true
}

// connectionLoop maintains the WebSocket connection
func (s *TickStream) connectionLoop() {
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		if err := s.connect(); err != nil {
			log.Error().Err(err).Msg("Tick stream connection failed, retrying...")
			if !s.sleep(reconnectDelay) {
				return
			}
			continue
		}

		s.readLoop()
		if !s.sleep(reconnectDelay) {
			return
		}
	}
}

func (s *TickStream) sleep(d time.Duration) bool {
	select {
	case <-s.stopCh:
		return false
	case <-time.After(d):
		return true
	}
}

// connect establishes the WebSocket connection and subscribes
func (s *TickStream) connect() error {
	header := http.Header{}
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}

	conn, _, err := websocket.DefaultDialer.Dial(s.wsURL, header)
	if err != nil {
		return err
	}

	if len(s.symbols) > 0 {
		sub := map[string]interface{}{
			"type":    "subscribe",
			"symbols": s.symbols,
		}
		if err := conn.WriteJSON(sub); err != nil {
			conn.Close()
			return err
		}
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()

	log.Info().Int("symbols", len(s.symbols)).Msg("🔌 Tick stream connected")

	go s.pingLoop(conn)

	return nil
}

// pingLoop sends periodic pings to keep connection alive
func (s *TickStream) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.RLock()
			current := s.conn
			connected := s.connected
			s.mu.RUnlock()

			if current != conn || !connected {
				return
			}
			conn.WriteMessage(websocket.PingMessage, nil)
		}
	}
}

// readLoop reads frames until the socket fails
func (s *TickStream) readLoop() {
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Msg("Tick stream read error")
			s.mu.Lock()
			s.connected = false
			s.mu.Unlock()
			conn.Close()
			return
		}

		s.processMessage(message)
	}
}

// processMessage accepts a single tick or an array of ticks
func (s *TickStream) processMessage(data []byte) {
	var ticks []bridgeTick
	if err := json.Unmarshal(data, &ticks); err != nil {
		var tick bridgeTick
		if err := json.Unmarshal(data, &tick); err != nil {
			return
		}
		ticks = []bridgeTick{tick}
	}

	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range ticks {
		if t.Symbol == "" || (t.Ask.IsZero() && t.Bid.IsZero()) {
			continue
		}
		s.quotes[t.Symbol] = t.quote(t.Symbol)
		s.seenAt[t.Symbol] = now
	}
}
