package risk

import "testing"

func TestLedger_HaltOnBreach(t *testing.T) {
	l := NewLedger("2026-08-26", 500000) // ₹5,000 limit

	var haltPnL int64
	l.OnHalt = func(pnl int64) { haltPnL = pnl }

	if breached := l.Record(-200000); breached {
		t.Fatal("first loss should not breach")
	}
	if l.Halted() {
		t.Fatal("ledger should not be halted yet")
	}

	if breached := l.Record(-300000); !breached {
		t.Fatal("cumulative -500000 must breach the limit")
	}
	if !l.Halted() {
		t.Fatal("ledger must be halted after breach")
	}
	if haltPnL != -500000 {
		t.Errorf("halt hook got pnl=%d, want -500000", haltPnL)
	}

	// Further losses do not re-fire the transition.
	if breached := l.Record(-100000); breached {
		t.Error("already-halted ledger must not report a second breach")
	}
}

func TestLedger_WinsDoNotUnhalt(t *testing.T) {
	l := NewLedger("2026-08-26", 100000)
	l.Record(-100000)
	if !l.Halted() {
		t.Fatal("should be halted")
	}

	// A profitable trade after the halt does not resume trading.
	l.Record(150000)
	if !l.Halted() {
		t.Error("halt must persist for the rest of the day")
	}
}

func TestLedger_Roll(t *testing.T) {
	l := NewLedger("2026-08-26", 100000)
	l.Record(-100000)

	l.Roll("2026-08-26") // same day, no-op
	if !l.Halted() {
		t.Fatal("same-day roll must not clear the halt")
	}

	l.Roll("2026-08-27")
	if l.Halted() {
		t.Error("new-day roll must clear the halt")
	}
	if l.RealizedPnL() != 0 {
		t.Errorf("new-day roll must zero P&L, got %d", l.RealizedPnL())
	}
	trades, wins, _ := l.Stats()
	if trades != 0 || wins != 0 {
		t.Errorf("new-day roll must zero stats, got trades=%d wins=%d", trades, wins)
	}
}

func TestLedger_RestoreDiscardStale(t *testing.T) {
	l := NewLedger("2026-08-26", 500000)
	l.Restore(LedgerState{TradingDay: "2026-08-25", RealizedPnL: -400000, Halted: false}, "2026-08-26")
	if l.RealizedPnL() != 0 {
		t.Error("stale checkpoint must be ignored")
	}

	l.Restore(LedgerState{TradingDay: "2026-08-26", RealizedPnL: -400000, Trades: 3, Halted: false}, "2026-08-26")
	if l.RealizedPnL() != -400000 {
		t.Error("same-day checkpoint must restore P&L")
	}

	// Restored loss counts toward the limit.
	if breached := l.Record(-100000); !breached {
		t.Error("restored loss plus new loss must breach")
	}
}
