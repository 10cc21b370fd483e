package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"scalpbotv1/internal/model"
)

func newTestManager(t *testing.T, cfg ManagerConfig, broker *PaperBroker) (*Manager, context.Context) {
	t.Helper()
	m := NewManager(cfg, broker)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go m.Run(ctx)
	return m, ctx
}

func entryOrder(qty int64) model.Order {
	return model.Order{
		Token:     "26009",
		Exchange:  "NSE",
		Side:      model.Buy,
		Qty:       qty,
		OrderType: model.Limit,
		Price:     4500000,
	}
}

func TestManager_FillCarriesQtyAndPrice(t *testing.T) {
	broker := NewPaperBroker(500)
	m, ctx := newTestManager(t, ManagerConfig{MaxOrdersPerSecond: 25, RetryLimit: 3}, broker)

	final, err := m.Submit(ctx, entryOrder(30))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if final.Status != model.OrderFilled {
		t.Fatalf("status: got %s", final.Status)
	}
	if final.FilledQty != 30 {
		t.Errorf("filled qty: got %d want 30", final.FilledQty)
	}
	// Buy fills slip against us.
	if final.AvgPrice != 4500500 {
		t.Errorf("avg price: got %d want 4500500", final.AvgPrice)
	}
}

func TestManager_RateLimitPacesSubmissions(t *testing.T) {
	broker := NewPaperBroker(0)
	m, ctx := newTestManager(t, ManagerConfig{MaxOrdersPerSecond: 5, RetryLimit: 0}, broker)

	// At 5 orders/s the 6th submission must come at least a full second
	// after the 1st: no burst may front-run the per-second ceiling.
	start := time.Now()
	for i := 0; i < 6; i++ {
		if _, err := m.Submit(ctx, entryOrder(15)); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed < time.Second {
		t.Errorf("6 orders at 5/s finished in %v, rate limit not enforced", elapsed)
	}
}

func TestManager_TransientRejectRetriesThenFills(t *testing.T) {
	broker := NewPaperBroker(0)
	broker.UpdatePrice(4500000)
	broker.RejectNext("throttled", true)
	m, ctx := newTestManager(t, ManagerConfig{MaxOrdersPerSecond: 25, RetryLimit: 3}, broker)

	var retries int
	m.OnOrderRetried = func() { retries++ }

	final, err := m.Submit(ctx, entryOrder(30))
	if err != nil {
		t.Fatalf("submit should recover from a transient reject: %v", err)
	}
	if final.Status != model.OrderFilled || final.FilledQty != 30 {
		t.Fatalf("final: %+v", final)
	}
	if retries != 1 {
		t.Errorf("retries: got %d want 1", retries)
	}
}

func TestManager_PermanentRejectFailsFast(t *testing.T) {
	broker := NewPaperBroker(0)
	broker.RejectNext("insufficient funds", false)
	m, ctx := newTestManager(t, ManagerConfig{MaxOrdersPerSecond: 25, RetryLimit: 3}, broker)

	_, err := m.Submit(ctx, entryOrder(30))
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
}

func TestManager_RetriesExhausted(t *testing.T) {
	broker := NewPaperBroker(0)
	broker.RejectNext("throttled", true)
	broker.RejectNext("throttled", true)
	m, ctx := newTestManager(t, ManagerConfig{MaxOrdersPerSecond: 25, RetryLimit: 1}, broker)

	_, err := m.Submit(ctx, entryOrder(30))
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
}

func TestManager_PartialFillKeepsFilledQty(t *testing.T) {
	broker := NewPaperBroker(0)
	broker.UpdatePrice(4500000)
	broker.PartialFillNext(15)
	m, ctx := newTestManager(t, ManagerConfig{MaxOrdersPerSecond: 25, RetryLimit: 3}, broker)

	final, err := m.Submit(ctx, entryOrder(30))
	if err != nil {
		t.Fatalf("partial fill is not an error: %v", err)
	}
	if final.Status != model.OrderCancelled {
		t.Fatalf("status: got %s want CANCELLED remainder", final.Status)
	}
	if final.FilledQty != 15 {
		t.Errorf("filled qty: got %d want 15", final.FilledQty)
	}
	if final.AvgPrice == 0 {
		t.Error("partial fill must carry an average price")
	}
}

func TestManager_ClosingPartialFillRetriesRemainder(t *testing.T) {
	broker := NewPaperBroker(0)
	broker.UpdatePrice(4500000)
	broker.PartialThenRejectNext(10, "exchange throttled")
	m, ctx := newTestManager(t, ManagerConfig{MaxOrdersPerSecond: 25, RetryLimit: 0}, broker)

	ord := entryOrder(30)
	ord.Side = model.Sell

	// The first attempt fills 10 then gets a transient reject; a closing
	// order must keep the fill and work off the remaining 20.
	final, err := m.SubmitClosing(ctx, ord)
	if err != nil {
		t.Fatalf("closing order must retry the remainder: %v", err)
	}
	if final.Status != model.OrderFilled {
		t.Fatalf("final status: %s", final.Status)
	}
	if final.FilledQty != 30 {
		t.Errorf("combined fill: got %d want 30", final.FilledQty)
	}
	if final.AvgPrice != 4500000 {
		t.Errorf("combined vwap: got %d want 4500000", final.AvgPrice)
	}

	placed := broker.Placed()
	if len(placed) != 2 {
		t.Fatalf("expected 2 placements, got %d", len(placed))
	}
	if placed[1].Qty != 20 {
		t.Errorf("remainder qty: got %d want 20", placed[1].Qty)
	}
}

func TestManager_ClosingRetriesBeyondEntryLimit(t *testing.T) {
	broker := NewPaperBroker(0)
	broker.UpdatePrice(4500000)
	broker.RejectNext("throttled", true)
	broker.RejectNext("throttled", true)
	// Entry limit is 0 retries; a closing order must still get through.
	m, ctx := newTestManager(t, ManagerConfig{MaxOrdersPerSecond: 25, RetryLimit: 0}, broker)

	ord := entryOrder(30)
	ord.Side = model.Sell

	final, err := m.SubmitClosing(ctx, ord)
	if err != nil {
		t.Fatalf("closing order must retry until filled: %v", err)
	}
	if final.Status != model.OrderFilled {
		t.Fatalf("final status: %s", final.Status)
	}
}
