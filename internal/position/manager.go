// Package position owns the single live position: entry leasing, stop,
// target and trailing-stop supervision, and realized P&L booking.
//
// Exactly one non-closed position may exist at a time. Entries go through
// an exclusive lease so a signal burst can never double-enter, and exits
// retry until the broker confirms the position is gone.
package position

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"scalpbotv1/internal/execution"
	"scalpbotv1/internal/model"
	"scalpbotv1/internal/risk"
)

// ExitReason labels why a position was closed.
type ExitReason string

const (
	ExitStopLoss     ExitReason = "stop_loss"
	ExitTarget       ExitReason = "target"
	ExitTrailingStop ExitReason = "trailing_stop"
	ExitFlatten      ExitReason = "flatten"
)

// Config holds the position manager tunables. All prices are paise.
type Config struct {
	StopLossPaise   int64
	TargetPaise     int64
	SlippagePaise   int64 // marketable-limit buffer on entries and exits
	TrailActivation int64 // unrealized profit per unit that arms the trail
	TrailDistance   int64 // distance the trail follows the best price
	TrailBeatsStop  bool  // label when trail and stop sit at the same level
}

// Lease grants its holder the exclusive right to open the next position.
type Lease struct {
	id string
}

// Trade is the record of one closed round trip.
type Trade struct {
	Direction  model.Direction `json:"direction"`
	Qty        int64           `json:"qty"`
	EntryPrice int64           `json:"entry_price"`
	ExitPrice  int64           `json:"exit_price"`
	PnL        int64           `json:"pnl"` // paise
	Reason     ExitReason      `json:"reason"`
	OpenedAt   time.Time       `json:"opened_at"`
	ClosedAt   time.Time       `json:"closed_at"`
}

// Manager supervises the position lifecycle:
//
//	FLAT -> (lease + fill) -> OPEN -> (exit trigger) -> CLOSING -> CLOSED -> FLAT
type Manager struct {
	cfg    Config
	orders *execution.Manager
	ledger *risk.Ledger

	mu       sync.Mutex
	state    model.PositionState
	pos      model.Position
	leaseID  string // non-empty while an entry is in flight
	bestSeen int64  // best price since entry, drives the trailing ratchet

	// OnTrade fires after a round trip is booked (optional).
	OnTrade func(tr Trade)

	// OnCriticalAlert fires when a closing order keeps failing (optional).
	OnCriticalAlert func(msg string)
}

// NewManager creates a position manager starting FLAT.
func NewManager(cfg Config, orders *execution.Manager, ledger *risk.Ledger) *Manager {
	m := &Manager{
		cfg:    cfg,
		orders: orders,
		ledger: ledger,
		state:  model.PositionFlat,
	}
	orders.OnCriticalAlert = func(msg string) {
		log.Printf("[position] CRITICAL: %s", msg)
		if m.OnCriticalAlert != nil {
			m.OnCriticalAlert(msg)
		}
	}
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() model.PositionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Flat reports whether a new entry may be attempted: no live position
// and no entry already in flight. Strategy entry gate.
func (m *Manager) Flat() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == model.PositionFlat && m.leaseID == ""
}

// Position returns a copy of the current position (zero value when flat).
func (m *Manager) Position() model.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos
}

// TryLease claims the exclusive right to open the next position.
// Fails when a position is live or another entry is already in flight.
func (m *Manager) TryLease() (Lease, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != model.PositionFlat || m.leaseID != "" {
		return Lease{}, false
	}
	m.leaseID = uuid.NewString()
	return Lease{id: m.leaseID}, true
}

// Release returns an unused lease, re-opening the entry gate. Called when
// the entry order failed or filled nothing.
func (m *Manager) Release(l Lease) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.leaseID == l.id {
		m.leaseID = ""
	}
}

// Open converts a filled entry into the live position. Qty and price come
// from the actual fill, never the requested size. Stop and target are
// anchored to the fill VWAP.
func (m *Manager) Open(l Lease, dir model.Direction, token, exchange string, fillQty, avgPrice int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.leaseID != l.id || m.state != model.PositionFlat {
		log.Printf("[position] open rejected: stale lease or state=%s", m.state)
		return false
	}
	m.leaseID = ""

	sign := dir.SideSign()
	m.pos = model.Position{
		Token:        token,
		Exchange:     exchange,
		Direction:    dir,
		Qty:          fillQty,
		EntryPrice:   avgPrice,
		StopLoss:     avgPrice - sign*m.cfg.StopLossPaise,
		Target:       avgPrice + sign*m.cfg.TargetPaise,
		TrailingStop: 0,
		OpenedAt:     time.Now().UTC(),
		State:        model.PositionOpen,
	}
	m.state = model.PositionOpen
	m.bestSeen = avgPrice

	log.Printf("[position] opened %s %s qty=%d entry=%d stop=%d target=%d",
		dir, token, fillQty, avgPrice, m.pos.StopLoss, m.pos.Target)
	return true
}

// OnTick evaluates exits against the latest trade price. Runs on the tick
// path, so the actual closing order is dispatched on its own goroutine.
func (m *Manager) OnTick(ctx context.Context, tick model.Tick) {
	m.mu.Lock()
	if m.state != model.PositionOpen || tick.Token != m.pos.Token {
		m.mu.Unlock()
		return
	}

	price := tick.Price
	m.ratchetTrail(price)

	reason, triggered := m.exitTriggered(price)
	if !triggered {
		m.mu.Unlock()
		return
	}

	m.state = model.PositionClosing
	m.pos.State = model.PositionClosing
	pos := m.pos
	m.mu.Unlock()

	log.Printf("[position] exit triggered: %s at price=%d (stop=%d trail=%d target=%d)",
		reason, price, pos.StopLoss, pos.TrailingStop, pos.Target)

	go m.close(ctx, pos, price, reason)
}

// ratchetTrail advances the trailing stop monotonically. Caller holds mu.
func (m *Manager) ratchetTrail(price int64) {
	sign := m.pos.Direction.SideSign()

	// Track the best price seen since entry.
	if (price-m.bestSeen)*sign > 0 {
		m.bestSeen = price
	}

	// Arm once unrealized profit per unit reaches the activation level.
	profit := (m.bestSeen - m.pos.EntryPrice) * sign
	if profit < m.cfg.TrailActivation {
		return
	}

	candidate := m.bestSeen - sign*m.cfg.TrailDistance
	if m.pos.TrailingStop == 0 || (candidate-m.pos.TrailingStop)*sign > 0 {
		m.pos.TrailingStop = candidate
	}
}

// exitTriggered checks stop, trailing stop, and target against the price.
// Stop and trailing stop are evaluated together and the nearer one fires;
// the target is independent. Caller holds mu.
func (m *Manager) exitTriggered(price int64) (ExitReason, bool) {
	sign := m.pos.Direction.SideSign()

	// Effective protective level: the nearer of hard stop and trail.
	stop := m.pos.StopLoss
	reason := ExitStopLoss
	if t := m.pos.TrailingStop; t != 0 {
		if (t-stop)*sign > 0 || ((t == stop) && m.cfg.TrailBeatsStop) {
			stop = t
			reason = ExitTrailingStop
		}
	}

	if (price-stop)*sign <= 0 {
		return reason, true
	}
	if (price-m.pos.Target)*sign >= 0 {
		return ExitTarget, true
	}
	return "", false
}

// close submits the closing order and books the result. Closing orders
// retry indefinitely: an unclosed position is unbounded risk. An exit that
// terminates short of the position size books only what filled, keeps the
// residual CLOSING, and re-submits the remainder.
func (m *Manager) close(ctx context.Context, pos model.Position, refPrice int64, reason ExitReason) {
	side := model.Sell
	limit := refPrice - m.cfg.SlippagePaise
	if pos.Direction == model.Short {
		side = model.Buy
		limit = refPrice + m.cfg.SlippagePaise
	}

	remaining := pos.Qty
	var exitQty, exitNotional int64
	for remaining > 0 {
		final, err := m.orders.SubmitClosing(ctx, model.Order{
			Token:     pos.Token,
			Exchange:  pos.Exchange,
			Side:      side,
			Qty:       remaining,
			OrderType: model.Limit,
			Price:     limit,
		})
		if final.FilledQty > 0 {
			exitQty += final.FilledQty
			exitNotional += final.FilledQty * final.AvgPrice
			remaining -= final.FilledQty
		}

		m.mu.Lock()
		m.pos.Qty = remaining
		m.mu.Unlock()

		if err != nil {
			// Only context cancellation escapes SubmitClosing. What
			// filled gets booked; the residual stays CLOSING and a
			// restart reconciles it against the broker.
			log.Printf("[position] closing order abandoned, %d of %d unfilled: %v",
				remaining, pos.Qty, err)
			if exitQty > 0 {
				m.book(pos, exitQty, exitNotional/exitQty, reason, false)
			}
			return
		}
		if remaining > 0 {
			log.Printf("[position] exit filled %d/%d, re-submitting remainder qty=%d",
				exitQty, pos.Qty, remaining)
		}
	}

	m.book(pos, exitQty, exitNotional/exitQty, reason, true)
}

// book records the realized P&L for the closed quantity against the
// ledger and fires OnTrade. flat marks the position fully gone.
func (m *Manager) book(pos model.Position, qty, exitPrice int64, reason ExitReason, flat bool) {
	pnl := (exitPrice - pos.EntryPrice) * qty * pos.Direction.SideSign()
	breached := m.ledger.Record(pnl)

	if flat {
		m.mu.Lock()
		m.state = model.PositionFlat
		m.pos = model.Position{}
		m.bestSeen = 0
		m.mu.Unlock()
	}

	tr := Trade{
		Direction:  pos.Direction,
		Qty:        qty,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		PnL:        pnl,
		Reason:     reason,
		OpenedAt:   pos.OpenedAt,
		ClosedAt:   time.Now().UTC(),
	}
	log.Printf("[position] closed %s %s qty=%d entry=%d exit=%d pnl=%+d reason=%s flat=%v halted=%v",
		pos.Direction, pos.Token, qty, pos.EntryPrice, exitPrice, pnl, reason, flat, breached)

	if m.OnTrade != nil {
		m.OnTrade(tr)
	}
}

// ForceFlatten closes any live position at the given reference price.
// Used on shutdown. Blocks until the position is gone or ctx ends.
func (m *Manager) ForceFlatten(ctx context.Context, refPrice int64) {
	m.mu.Lock()
	if m.state != model.PositionOpen {
		m.mu.Unlock()
		return
	}
	m.state = model.PositionClosing
	m.pos.State = model.PositionClosing
	pos := m.pos
	m.mu.Unlock()

	log.Printf("[position] flattening %s %s qty=%d on shutdown", pos.Direction, pos.Token, pos.Qty)
	m.close(ctx, pos, refPrice, ExitFlatten)
}
