// Command tickserver is a simulated index tick feed for paper runs.
// It broadcasts random-walk ticks over WebSocket in the same JSON shape
// the live feed produces (model.Tick, prices in paise), and can inject
// periodic quiet spells so downstream candle gap handling gets exercised.
//
// Config (env vars):
//
//	TICK_SERVER_ADDR   listen address (default ":9001")
//	TICK_TOKENS        comma-separated TOKEN:EXCHANGE pairs (default "25:IDX")
//	TICK_INTERVAL_MS   broadcast interval in milliseconds (default 100)
//	TICK_DRIFT_BP      per-tick drift in basis points, signed (default 0)
//	TICK_QUIET_EVERY   inject a quiet spell every N ticks, 0 = never (default 0)
//	TICK_QUIET_MS      quiet spell duration in milliseconds (default 3000)
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"scalpbotv1/internal/model"
)

// instrument holds per-symbol simulation state.
type instrument struct {
	Token    string
	Exchange string
	Price    int64 // paise
}

// generator produces the simulated tick stream and owns the connected
// client set.
type generator struct {
	instruments []instrument
	interval    time.Duration
	driftBP     float64 // signed per-tick drift, basis points
	quietEvery  int
	quietFor    time.Duration
	rng         *rand.Rand

	ticksSent atomic.Int64

	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

func newGenerator(instruments []instrument, interval time.Duration, driftBP float64, quietEvery int, quietFor time.Duration) *generator {
	return &generator{
		instruments: instruments,
		interval:    interval,
		driftBP:     driftBP,
		quietEvery:  quietEvery,
		quietFor:    quietFor,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		clients:     make(map[*websocket.Conn]chan []byte),
	}
}

func (g *generator) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	g.mu.Lock()
	g.clients[conn] = ch
	g.mu.Unlock()
	return ch
}

func (g *generator) unregister(conn *websocket.Conn) {
	g.mu.Lock()
	if ch, ok := g.clients[conn]; ok {
		close(ch)
		delete(g.clients, conn)
	}
	g.mu.Unlock()
}

func (g *generator) broadcast(msg []byte) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, ch := range g.clients {
		select {
		case ch <- msg:
		default: // slow client, drop tick
		}
	}
}

// step applies drift plus a ±0.1% random walk to the price.
func (g *generator) step(price int64) int64 {
	pct := g.driftBP/10000.0 + (g.rng.Float64()*0.2-0.1)/100.0
	next := price + int64(float64(price)*pct)
	if next < 100 {
		next = 100
	}
	return next
}

func (g *generator) run() {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	rounds := 0
	for range ticker.C {
		if g.quietEvery > 0 && rounds > 0 && rounds%g.quietEvery == 0 {
			log.Printf("[tickserver] quiet spell: pausing %v", g.quietFor)
			time.Sleep(g.quietFor)
		}
		for i := range g.instruments {
			g.instruments[i].Price = g.step(g.instruments[i].Price)
			b, err := json.Marshal(model.Tick{
				Token:    g.instruments[i].Token,
				Exchange: g.instruments[i].Exchange,
				Price:    g.instruments[i].Price,
				Qty:      int64(g.rng.Intn(100) + 1),
				TickTS:   time.Now().UTC(),
			})
			if err != nil {
				continue
			}
			g.broadcast(b)
			g.ticksSent.Add(1)
		}
		rounds++
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func (g *generator) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[tickserver] upgrade error: %v", err)
		return
	}
	log.Printf("[tickserver] client connected: %s", r.RemoteAddr)

	ch := g.register(conn)
	defer func() {
		g.unregister(conn)
		conn.Close()
		log.Printf("[tickserver] client disconnected: %s", r.RemoteAddr)
	}()

	for msg := range ch {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (g *generator) handleStats(w http.ResponseWriter, _ *http.Request) {
	g.mu.RLock()
	clients := len(g.clients)
	g.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"clients":     clients,
		"ticks_sent":  g.ticksSent.Load(),
		"instruments": len(g.instruments),
	})
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[tickserver] starting simulated tick server...")

	addr := envOrDefault("TICK_SERVER_ADDR", ":9001")
	tokensEnv := envOrDefault("TICK_TOKENS", "25:IDX")
	intervalMs := envIntOrDefault("TICK_INTERVAL_MS", 100)
	driftBP := envIntOrDefault("TICK_DRIFT_BP", 0)
	quietEvery := envIntOrDefault("TICK_QUIET_EVERY", 0)
	quietMs := envIntOrDefault("TICK_QUIET_MS", 3000)

	instruments := parseInstruments(tokensEnv)
	if len(instruments) == 0 {
		log.Fatalf("[tickserver] no instruments configured via TICK_TOKENS")
	}
	log.Printf("[tickserver] instruments: %+v", instruments)
	log.Printf("[tickserver] interval=%dms drift=%dbp", intervalMs, driftBP)
	if quietEvery > 0 {
		log.Printf("[tickserver] quiet spell every %d rounds for %dms", quietEvery, quietMs)
	}

	g := newGenerator(instruments,
		time.Duration(intervalMs)*time.Millisecond,
		float64(driftBP),
		quietEvery,
		time.Duration(quietMs)*time.Millisecond)
	go g.run()

	http.HandleFunc("/ws", g.handleWS)
	http.HandleFunc("/stats", g.handleStats)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"tickserver"}`)
	})

	log.Printf("[tickserver] listening on %s (WebSocket: ws://localhost%s/ws)", addr, addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("[tickserver] server error: %v", err)
	}
}

func parseInstruments(s string) []instrument {
	// Starting prices in paise for common simulated tokens.
	defaultPrices := map[string]int64{
		"25":       45000_00, // BANKNIFTY index sim
		"99926000": 25660_00, // NIFTY 50 index sim
	}

	var result []instrument
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		seg := strings.SplitN(part, ":", 2)
		if len(seg) != 2 {
			log.Printf("[tickserver] skipping invalid token spec: %q", part)
			continue
		}
		token, exchange := strings.TrimSpace(seg[0]), strings.TrimSpace(seg[1])
		price := defaultPrices[token]
		if price == 0 {
			price = 10000_00
		}
		result = append(result, instrument{Token: token, Exchange: exchange, Price: price})
	}
	return result
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
