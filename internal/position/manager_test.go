package position

import (
	"context"
	"testing"
	"time"

	"scalpbotv1/internal/execution"
	"scalpbotv1/internal/model"
	"scalpbotv1/internal/risk"
)

func testSetup(t *testing.T, maxDailyLoss int64) (*Manager, *execution.PaperBroker, *risk.Ledger, context.Context) {
	t.Helper()
	broker := execution.NewPaperBroker(0)
	broker.UpdatePrice(4500000)

	orders := execution.NewManager(execution.ManagerConfig{MaxOrdersPerSecond: 25, RetryLimit: 3}, broker)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go orders.Run(ctx)

	ledger := risk.NewLedger("2026-08-26", maxDailyLoss)

	cfg := Config{
		StopLossPaise:   2000, // 20 points
		TargetPaise:     4000, // 40 points
		SlippagePaise:   0,
		TrailActivation: 1500,
		TrailDistance:   1000,
		TrailBeatsStop:  true,
	}
	return NewManager(cfg, orders, ledger), broker, ledger, ctx
}

func signal(dir model.Direction, qty, trigger int64) model.Signal {
	return model.Signal{
		Strategy:     "dual_momentum",
		Direction:    dir,
		Token:        "26009",
		Exchange:     "NSE",
		Qty:          qty,
		TriggerPrice: trigger,
	}
}

func tickAt(price int64) model.Tick {
	return model.Tick{Token: "26009", Exchange: "NSE", Price: price, Qty: 15, TickTS: time.Now()}
}

func waitTrade(t *testing.T, ch <-chan Trade) Trade {
	t.Helper()
	select {
	case tr := <-ch:
		return tr
	case <-time.After(2 * time.Second):
		t.Fatal("trade did not complete")
		return Trade{}
	}
}

func TestManager_EntrySetsStopAndTarget(t *testing.T) {
	m, _, _, ctx := testSetup(t, 500000)

	m.HandleSignal(ctx, signal(model.Long, 30, 4500000))

	if m.State() != model.PositionOpen {
		t.Fatalf("state: got %s want OPEN", m.State())
	}
	pos := m.Position()
	if pos.EntryPrice != 4500000 || pos.Qty != 30 {
		t.Fatalf("position: %+v", pos)
	}
	if pos.StopLoss != 4498000 {
		t.Errorf("stop: got %d want 4498000", pos.StopLoss)
	}
	if pos.Target != 4504000 {
		t.Errorf("target: got %d want 4504000", pos.Target)
	}
	if pos.TrailingStop != 0 {
		t.Errorf("trail must start unarmed, got %d", pos.TrailingStop)
	}
	if m.Flat() {
		t.Error("Flat() must be false with an open position")
	}
}

func TestManager_PartialFillSizesPosition(t *testing.T) {
	m, broker, _, ctx := testSetup(t, 500000)
	broker.PartialFillNext(15)

	m.HandleSignal(ctx, signal(model.Long, 30, 4500000))

	pos := m.Position()
	if pos.Qty != 15 {
		t.Fatalf("position qty must match the fill: got %d want 15", pos.Qty)
	}
}

func TestManager_StopLossClosesAndBooksLoss(t *testing.T) {
	m, _, ledger, ctx := testSetup(t, 500000)
	trades := make(chan Trade, 1)
	m.OnTrade = func(tr Trade) { trades <- tr }

	m.HandleSignal(ctx, signal(model.Long, 30, 4500000))

	// Above the stop: nothing happens.
	m.OnTick(ctx, tickAt(4499000))
	if m.State() != model.PositionOpen {
		t.Fatal("tick above stop must not close")
	}

	m.OnTick(ctx, tickAt(4497900))
	tr := waitTrade(t, trades)

	if tr.Reason != ExitStopLoss {
		t.Errorf("reason: got %s want stop_loss", tr.Reason)
	}
	// Exit fills at the trigger price: (4497900-4500000)*30 = -63000.
	if tr.PnL != -63000 {
		t.Errorf("pnl: got %d want -63000", tr.PnL)
	}
	if ledger.RealizedPnL() != -63000 {
		t.Errorf("ledger: got %d want -63000", ledger.RealizedPnL())
	}
	if m.State() != model.PositionFlat || !m.Flat() {
		t.Errorf("position must return to FLAT, got %s", m.State())
	}
}

func TestManager_TargetClosesWithProfit(t *testing.T) {
	m, _, _, ctx := testSetup(t, 500000)
	trades := make(chan Trade, 1)
	m.OnTrade = func(tr Trade) { trades <- tr }

	m.HandleSignal(ctx, signal(model.Short, 30, 4500000))

	pos := m.Position()
	// Short: stop above entry, target below.
	if pos.StopLoss != 4502000 || pos.Target != 4496000 {
		t.Fatalf("short levels wrong: stop=%d target=%d", pos.StopLoss, pos.Target)
	}

	m.OnTick(ctx, tickAt(4495900))
	tr := waitTrade(t, trades)

	if tr.Reason != ExitTarget {
		t.Errorf("reason: got %s want target", tr.Reason)
	}
	if tr.PnL != (4500000-4495900)*30 {
		t.Errorf("pnl: got %d", tr.PnL)
	}
}

func TestManager_TrailingStopRatchetsAndFires(t *testing.T) {
	m, _, _, ctx := testSetup(t, 500000)
	trades := make(chan Trade, 1)
	m.OnTrade = func(tr Trade) { trades <- tr }

	m.HandleSignal(ctx, signal(model.Long, 30, 4500000))

	// Below activation: trail stays unarmed.
	m.OnTick(ctx, tickAt(4501000))
	if m.Position().TrailingStop != 0 {
		t.Fatal("trail must not arm below the activation profit")
	}

	// Profit reaches activation: trail arms at best - distance.
	m.OnTick(ctx, tickAt(4501500))
	if got := m.Position().TrailingStop; got != 4500500 {
		t.Fatalf("trail arm: got %d want 4500500", got)
	}

	// New high ratchets the trail up.
	m.OnTick(ctx, tickAt(4503000))
	if got := m.Position().TrailingStop; got != 4502000 {
		t.Fatalf("trail ratchet: got %d want 4502000", got)
	}

	// Pullback that stays above the trail must not lower it.
	m.OnTick(ctx, tickAt(4502500))
	if got := m.Position().TrailingStop; got != 4502000 {
		t.Fatalf("trail must be monotonic: got %d", got)
	}

	// Pullback through the trail closes with a profit.
	m.OnTick(ctx, tickAt(4501900))
	tr := waitTrade(t, trades)

	if tr.Reason != ExitTrailingStop {
		t.Errorf("reason: got %s want trailing_stop", tr.Reason)
	}
	if tr.PnL != (4501900-4500000)*30 {
		t.Errorf("pnl: got %d", tr.PnL)
	}
}

func TestManager_PartialExitResubmitsRemainder(t *testing.T) {
	m, broker, ledger, ctx := testSetup(t, 500000)
	trades := make(chan Trade, 1)
	m.OnTrade = func(tr Trade) { trades <- tr }

	m.HandleSignal(ctx, signal(model.Long, 30, 4500000))

	// The exit fills 15 of 30 and the broker cancels the rest. The
	// residual must be re-submitted, never dropped on the floor.
	broker.PartialFillNext(15)
	m.OnTick(ctx, tickAt(4497900))
	tr := waitTrade(t, trades)

	if tr.Qty != 30 {
		t.Fatalf("booked qty must be the true filled size: got %d want 30", tr.Qty)
	}
	if tr.ExitPrice != 4497900 {
		t.Errorf("exit vwap: got %d want 4497900", tr.ExitPrice)
	}
	if tr.PnL != -63000 || ledger.RealizedPnL() != -63000 {
		t.Errorf("pnl: trade=%d ledger=%d want -63000", tr.PnL, ledger.RealizedPnL())
	}
	if m.State() != model.PositionFlat || !m.Flat() {
		t.Errorf("position must return to FLAT, got %s", m.State())
	}

	// Entry, the partial exit, and the re-submitted remainder.
	placed := broker.Placed()
	if len(placed) != 3 {
		t.Fatalf("expected 3 placements, got %d", len(placed))
	}
	last := placed[2]
	if last.Side != model.Sell || last.Qty != 15 {
		t.Errorf("remainder order: side=%s qty=%d want SELL 15", last.Side, last.Qty)
	}
}

func TestManager_LeaseIsExclusive(t *testing.T) {
	m, _, _, _ := testSetup(t, 500000)

	l1, ok := m.TryLease()
	if !ok {
		t.Fatal("first lease must succeed")
	}
	if _, ok := m.TryLease(); ok {
		t.Fatal("second lease must fail while one is held")
	}
	if m.Flat() {
		t.Error("Flat() must be false while a lease is held")
	}

	m.Release(l1)
	if _, ok := m.TryLease(); !ok {
		t.Error("lease must be available again after release")
	}
}

func TestManager_HaltBlocksNewEntries(t *testing.T) {
	// Limit so small the first stop-out breaches it.
	m, _, ledger, ctx := testSetup(t, 50000)
	trades := make(chan Trade, 1)
	m.OnTrade = func(tr Trade) { trades <- tr }

	m.HandleSignal(ctx, signal(model.Long, 30, 4500000))
	m.OnTick(ctx, tickAt(4497900))
	waitTrade(t, trades)

	if !ledger.Halted() {
		t.Fatal("63000 loss must breach the 50000 limit")
	}

	m.HandleSignal(ctx, signal(model.Long, 30, 4500000))
	if m.State() != model.PositionFlat {
		t.Error("halted ledger must block new entries")
	}
}

func TestManager_ForceFlatten(t *testing.T) {
	m, _, _, ctx := testSetup(t, 500000)
	trades := make(chan Trade, 1)
	m.OnTrade = func(tr Trade) { trades <- tr }

	m.HandleSignal(ctx, signal(model.Long, 30, 4500000))
	m.ForceFlatten(ctx, 4500800)

	tr := waitTrade(t, trades)
	if tr.Reason != ExitFlatten {
		t.Errorf("reason: got %s want flatten", tr.Reason)
	}
	if m.State() != model.PositionFlat {
		t.Errorf("state after flatten: %s", m.State())
	}

	// Flatten with nothing open is a no-op.
	m.ForceFlatten(ctx, 4500800)
}
