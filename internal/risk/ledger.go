// Package risk tracks realized P&L against the daily loss limit and
// halts new entries when the limit is breached.
package risk

import (
	"log"
	"sync"
)

// Ledger accumulates realized P&L per trading day. Once cumulative loss
// reaches the configured limit the ledger halts and stays halted for the
// rest of the day; only a day roll clears it.
type Ledger struct {
	mu sync.RWMutex

	maxDailyLoss int64 // paise, positive number
	tradingDay   string

	realizedPnL int64
	trades      int
	wins        int
	halted      bool

	// OnHalt fires once per breach, outside hot paths (optional).
	OnHalt func(pnl int64)
}

// LedgerState is the serializable snapshot used for warm restarts.
type LedgerState struct {
	TradingDay  string `json:"trading_day"`
	RealizedPnL int64  `json:"realized_pnl"`
	Trades      int    `json:"trades"`
	Wins        int    `json:"wins"`
	Halted      bool   `json:"halted"`
}

// NewLedger creates a Ledger for the given trading day with the given
// max daily loss in paise.
func NewLedger(tradingDay string, maxDailyLoss int64) *Ledger {
	return &Ledger{
		maxDailyLoss: maxDailyLoss,
		tradingDay:   tradingDay,
	}
}

// Record books the realized P&L of one closed trade. Returns true when
// the booking breached the daily loss limit (transition into halt).
func (l *Ledger) Record(pnl int64) bool {
	l.mu.Lock()

	l.realizedPnL += pnl
	l.trades++
	if pnl > 0 {
		l.wins++
	}

	breached := false
	if !l.halted && l.maxDailyLoss > 0 && l.realizedPnL <= -l.maxDailyLoss {
		l.halted = true
		breached = true
	}
	pnlNow := l.realizedPnL
	hook := l.OnHalt
	l.mu.Unlock()

	log.Printf("[risk] realized P&L booked: %+d, day total: %+d, halted: %v", pnl, pnlNow, l.halted)

	if breached && hook != nil {
		hook(pnlNow)
	}
	return breached
}

// Halted reports whether the daily loss limit has been reached.
func (l *Ledger) Halted() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.halted
}

// RealizedPnL returns the cumulative realized P&L for the day in paise.
func (l *Ledger) RealizedPnL() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.realizedPnL
}

// Stats returns trade count, win count, and realized P&L for the day.
func (l *Ledger) Stats() (trades, wins int, pnl int64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.trades, l.wins, l.realizedPnL
}

// Roll resets the ledger if day is a new trading day. The halt flag
// clears with the roll.
func (l *Ledger) Roll(day string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if day == l.tradingDay {
		return
	}
	log.Printf("[risk] rolling ledger %s -> %s (closed day P&L: %+d, trades: %d)",
		l.tradingDay, day, l.realizedPnL, l.trades)
	l.tradingDay = day
	l.realizedPnL = 0
	l.trades = 0
	l.wins = 0
	l.halted = false
}

// TradingDay returns the day this ledger is tracking (IST date).
func (l *Ledger) TradingDay() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tradingDay
}

// Snapshot captures the ledger state for checkpoint persistence.
func (l *Ledger) Snapshot() LedgerState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return LedgerState{
		TradingDay:  l.tradingDay,
		RealizedPnL: l.realizedPnL,
		Trades:      l.trades,
		Wins:        l.wins,
		Halted:      l.halted,
	}
}

// Restore loads a checkpointed state. A checkpoint from a previous
// trading day is discarded so the new day starts clean.
func (l *Ledger) Restore(st LedgerState, now string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if st.TradingDay != now {
		log.Printf("[risk] stale checkpoint for %s ignored (today is %s)", st.TradingDay, now)
		return
	}
	l.tradingDay = st.TradingDay
	l.realizedPnL = st.RealizedPnL
	l.trades = st.Trades
	l.wins = st.Wins
	l.halted = st.Halted
	log.Printf("[risk] ledger restored: day=%s pnl=%+d trades=%d halted=%v",
		l.tradingDay, l.realizedPnL, l.trades, l.halted)
}
