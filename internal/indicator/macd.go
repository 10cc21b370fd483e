package indicator

import (
	"fmt"

	"scalpbotv1/internal/model"
)

// MACD calculates Moving Average Convergence Divergence: the spread
// between a fast and slow EMA of closes, a signal EMA over that spread,
// and the histogram (spread minus signal). Value() returns the histogram,
// which is what the momentum strategy keys on.
type MACD struct {
	fast   *EMA
	slow   *EMA
	signal *EMA

	line      float64
	histogram float64
}

// NewMACD creates a MACD with the given fast/slow/signal periods
// (typically 12, 26, 9).
func NewMACD(fastPeriod, slowPeriod, signalPeriod int) *MACD {
	return &MACD{
		fast:   NewEMA(fastPeriod),
		slow:   NewEMA(slowPeriod),
		signal: NewEMA(signalPeriod),
	}
}

func (m *MACD) Name() string {
	return fmt.Sprintf("MACD_%d_%d_%d", m.fast.period, m.slow.period, m.signal.period)
}

func (m *MACD) Update(candle model.Candle) {
	m.fast.Update(candle)
	m.slow.Update(candle)

	// The MACD line only exists once the slow EMA is seeded; the signal
	// EMA accumulates from that point.
	if !m.slow.Ready() {
		return
	}
	m.line = m.fast.Value() - m.slow.Value()
	m.signal.update(m.line)
	if m.signal.Ready() {
		m.histogram = m.line - m.signal.Value()
	}
}

// Value returns the MACD histogram (line minus signal).
func (m *MACD) Value() float64 { return m.histogram }

// Line returns the raw MACD line (fast EMA minus slow EMA).
func (m *MACD) Line() float64 { return m.line }

// SignalLine returns the signal EMA over the MACD line.
func (m *MACD) SignalLine() float64 { return m.signal.Value() }

func (m *MACD) Ready() bool {
	return m.slow.Ready() && m.signal.Ready()
}

// Snapshot serializes the MACD state for checkpoint persistence.
func (m *MACD) Snapshot() Snapshot {
	fast := m.fast.Snapshot()
	slow := m.slow.Snapshot()
	sig := m.signal.Snapshot()
	return Snapshot{
		Type:     "MACD",
		Period:   m.fast.period,
		Current:  m.histogram,
		MACDLine: m.line,
		Sub:      []Snapshot{fast, slow, sig},
	}
}

// Restore rebuilds the MACD state from a checkpoint.
func (m *MACD) Restore(snap Snapshot) error {
	if snap.Type != "MACD" {
		return fmt.Errorf("snapshot type %q is not MACD", snap.Type)
	}
	if len(snap.Sub) != 3 {
		return fmt.Errorf("MACD snapshot needs 3 sub-states, got %d", len(snap.Sub))
	}
	if err := m.fast.Restore(snap.Sub[0]); err != nil {
		return err
	}
	if err := m.slow.Restore(snap.Sub[1]); err != nil {
		return err
	}
	if err := m.signal.Restore(snap.Sub[2]); err != nil {
		return err
	}
	m.histogram = snap.Current
	m.line = snap.MACDLine
	return nil
}
