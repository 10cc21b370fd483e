package feed

import (
	"context"
	"math/rand"
	"time"

	"scalpbotv1/internal/model"
	"scalpbotv1/internal/ringbuf"
)

// MockConfig configures the random-walk mock feed.
type MockConfig struct {
	Token      string
	Exchange   string
	StartPrice int64         // paise
	Interval   time.Duration // time between ticks, default 100ms
	Seed       int64         // 0 = time-based
}

// Mock generates a random-walk tick stream without any network. It is a
// drop-in replacement for the WebSocket client in paper runs when no
// tick server is available.
type Mock struct {
	cfg MockConfig
	rng *rand.Rand
}

// NewMock creates a mock feed.
func NewMock(cfg MockConfig) *Mock {
	if cfg.Interval <= 0 {
		cfg.Interval = 100 * time.Millisecond
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Mock{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

// Start pushes simulated ticks into the ring until ctx is cancelled.
func (m *Mock) Start(ctx context.Context, ring *ringbuf.Ring) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	price := m.cfg.StartPrice
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			price = m.walk(price)
			ring.Push(model.Tick{
				Token:    m.cfg.Token,
				Exchange: m.cfg.Exchange,
				Price:    price,
				Qty:      int64(m.rng.Intn(100) + 1),
				TickTS:   now.UTC(),
			})
		}
	}
}

// walk applies a tiny random move (up to ±0.1%) to the price.
func (m *Mock) walk(price int64) int64 {
	pct := (m.rng.Float64()*0.2 - 0.1) / 100.0
	next := price + int64(float64(price)*pct)
	if next < 100 {
		next = 100
	}
	return next
}
