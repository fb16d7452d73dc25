package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// METRICS - Prometheus counters and gauges
// ═══════════════════════════════════════════════════════════════════════════════
//
//   pipbot_ticks_total{symbol}                 – prices evaluated
//   pipbot_price_errors_total{symbol}          – quote fetch failures / timeouts
//   pipbot_threshold_events_total{symbol,kind} – open / continuation / reversal
//   pipbot_orders_total{mode,action,status}    – order attempts by outcome
//   pipbot_reference_failures_total{symbol}    – daily reference resolution failures
//   pipbot_persist_errors_total                – snapshot upsert failures
//   pipbot_position_open{symbol}               – 1 while tracking, 0 otherwise
//   pipbot_pips_from_reference{symbol}         – signed distance at last tick
//   pipbot_paused                              – 1 while entries are paused
//
// ═══════════════════════════════════════════════════════════════════════════════

var (
	Ticks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipbot_ticks_total",
			Help: "Prices evaluated by the tracker",
		},
		[]string{"symbol"},
	)

	PriceErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipbot_price_errors_total",
			Help: "Quote fetch failures, including timeouts",
		},
		[]string{"symbol"},
	)

	ThresholdEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipbot_threshold_events_total",
			Help: "Committed threshold crossings",
		},
		[]string{"symbol", "kind"},
	)

	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipbot_orders_total",
			Help: "Order attempts by outcome",
		},
		[]string{"mode", "action", "status"},
	)

	ReferenceFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipbot_reference_failures_total",
			Help: "Daily reference price resolution failures",
		},
		[]string{"symbol"},
	)

	PersistErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pipbot_persist_errors_total",
			Help: "Tracker snapshot upsert failures",
		},
	)

	PositionOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipbot_position_open",
			Help: "1 while the tracker holds an open position",
		},
		[]string{"symbol"},
	)

	PipsFromReference = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipbot_pips_from_reference",
			Help: "Signed pip distance from the daily reference at the last tick",
		},
		[]string{"symbol"},
	)

	Paused = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipbot_paused",
			Help: "1 while new entries are paused",
		},
	)
)

func init() {
	prometheus.MustRegister(
		Ticks,
		PriceErrors,
		ThresholdEvents,
		Orders,
		ReferenceFailures,
		PersistErrors,
		PositionOpen,
		PipsFromReference,
		Paused,
	)
}

// SetPosition flips the open-position gauge for symbol
func SetPosition(symbol string, open bool) {
	v := 0.0
	if open {
		v = 1
	}
	PositionOpen.WithLabelValues(symbol).Set(v)
}

// Server exposes /metrics and /healthz
type Server struct {
	srv *http.Server
}

// NewServer creates a metrics server listening on addr
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// Start serves in the background
func (s *Server) Start() {
	go func() {
		log.Info().Str("addr", s.srv.Addr).Msg("📈 Serving metrics on /metrics")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()
}

// Stop shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
