// Package metrics exposes Prometheus metrics and the health endpoint for
// the trading pipeline.
package metrics

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the trading pipeline.
type Metrics struct {
	// Feed and candle pipeline
	TicksTotal      prometheus.Counter
	CandlesTotal    prometheus.Counter
	GapCandlesTotal prometheus.Counter
	DroppedTicks    prometheus.Counter
	WSReconnects    prometheus.Counter
	RingBufOverflow prometheus.Counter
	FanoutDrops     *prometheus.CounterVec // labels: subscriber

	// Signals and orders
	SignalsTotal      *prometheus.CounterVec // labels: direction
	SignalsSuppressed *prometheus.CounterVec // labels: reason
	OrdersPlaced      prometheus.Counter
	OrdersRetried     prometheus.Counter
	OrdersFilled      prometheus.Counter
	OrdersFailed      prometheus.Counter

	// Position and risk
	TradesTotal  *prometheus.CounterVec // labels: reason
	RealizedPnL  prometheus.Gauge       // paise, day cumulative
	PositionQty  prometheus.Gauge       // signed: + long, - short
	RiskHalted   prometheus.Gauge       // 0/1
	MarketState  prometheus.Gauge       // 0=closed, 1=open
	TradeLatency prometheus.Histogram   // signal to entry fill
}

// New registers and returns all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scalpbot_ticks_total",
			Help: "Total ticks received from the feed",
		}),
		CandlesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scalpbot_candles_total",
			Help: "Total finalized candles emitted",
		}),
		GapCandlesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scalpbot_gap_candles_total",
			Help: "Synthetic zero-volume candles emitted for empty buckets",
		}),
		DroppedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scalpbot_dropped_ticks_total",
			Help: "Ticks dropped (late for a finalized bucket)",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scalpbot_ws_reconnects_total",
			Help: "Total feed WebSocket reconnection attempts",
		}),
		RingBufOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scalpbot_ringbuf_overflow_total",
			Help: "Ingest ring buffer push overflows (dropped ticks)",
		}),
		FanoutDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalpbot_fanout_drops_total",
			Help: "Candles dropped by the fanout bus per subscriber",
		}, []string{"subscriber"}),

		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalpbot_signals_total",
			Help: "Strategy signals emitted by direction",
		}, []string{"direction"}),
		SignalsSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalpbot_signals_suppressed_total",
			Help: "Entries suppressed by gate reason",
		}, []string{"reason"}),
		OrdersPlaced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scalpbot_orders_placed_total",
			Help: "Orders submitted to the broker",
		}),
		OrdersRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scalpbot_orders_retried_total",
			Help: "Order placements retried after transient rejects",
		}),
		OrdersFilled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scalpbot_orders_filled_total",
			Help: "Orders that reached FILLED",
		}),
		OrdersFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scalpbot_orders_failed_total",
			Help: "Orders that failed permanently or exhausted retries",
		}),

		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scalpbot_trades_total",
			Help: "Closed round trips by exit reason",
		}, []string{"reason"}),
		RealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scalpbot_realized_pnl_paise",
			Help: "Cumulative realized P&L for the trading day in paise",
		}),
		PositionQty: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scalpbot_position_qty",
			Help: "Current position quantity (positive long, negative short)",
		}),
		RiskHalted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scalpbot_risk_halted",
			Help: "Daily loss limit halt state (0=trading, 1=halted)",
		}),
		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scalpbot_market_state",
			Help: "Market session state (0=closed, 1=open)",
		}),
		TradeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scalpbot_entry_latency_seconds",
			Help:    "Latency from signal generation to entry fill",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}

	prometheus.MustRegister(
		m.TicksTotal,
		m.CandlesTotal,
		m.GapCandlesTotal,
		m.DroppedTicks,
		m.WSReconnects,
		m.RingBufOverflow,
		m.FanoutDrops,
		m.SignalsTotal,
		m.SignalsSuppressed,
		m.OrdersPlaced,
		m.OrdersRetried,
		m.OrdersFilled,
		m.OrdersFailed,
		m.TradesTotal,
		m.RealizedPnL,
		m.PositionQty,
		m.RiskHalted,
		m.MarketState,
		m.TradeLatency,
	)

	return m
}

// HealthStatus aggregates component health for the /healthz endpoint.
type HealthStatus struct {
	mu sync.RWMutex

	WSConnected    bool
	RedisConnected bool
	LastTickTime   time.Time
	RiskHalted     bool
	PositionState  string
	RedisLatencyMs float64
	LastCheckAt    time.Time
	StartedAt      time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetWSConnected(v bool) {
	h.mu.Lock()
	h.WSConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRiskHalted(v bool) {
	h.mu.Lock()
	h.RiskHalted = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetPositionState(s string) {
	h.mu.Lock()
	h.PositionState = s
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency and connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks until ctx ends.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if rdb == nil {
					continue
				}
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				h.CheckRedis(probeCtx, rdb)
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.WSConnected {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status         string  `json:"status"`
		Uptime         string  `json:"uptime"`
		WSConnected    bool    `json:"ws_connected"`
		LastTickTime   string  `json:"last_tick_time"`
		TickAge        string  `json:"tick_age"`
		RedisConnected bool    `json:"redis_connected"`
		RedisLatencyMs float64 `json:"redis_latency_ms"`
		RiskHalted     bool    `json:"risk_halted"`
		PositionState  string  `json:"position_state"`
		LastCheckAt    string  `json:"last_check_at"`
	}{
		Status:         overallStatus,
		Uptime:         time.Since(h.StartedAt).Round(time.Second).String(),
		WSConnected:    h.WSConnected,
		LastTickTime:   h.LastTickTime.Format(time.RFC3339),
		TickAge:        tickAge,
		RedisConnected: h.RedisConnected,
		RedisLatencyMs: h.RedisLatencyMs,
		RiskHalted:     h.RiskHalted,
		PositionState:  h.PositionState,
		LastCheckAt:    h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: mux},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
