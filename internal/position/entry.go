package position

import (
	"context"
	"log"

	"scalpbotv1/internal/model"
)

// HandleSignal turns a strategy signal into an entry: it claims the
// exclusive entry lease, places a marketable limit order at the trigger
// price plus the slippage buffer, and opens the position at whatever
// actually filled. Blocks until the entry order is terminal.
func (m *Manager) HandleSignal(ctx context.Context, sig model.Signal) {
	// The strategy gates on the ledger too, but the halt may have landed
	// between signal generation and now.
	if m.ledger.Halted() {
		log.Printf("[position] signal dropped, daily loss halt active")
		return
	}

	lease, ok := m.TryLease()
	if !ok {
		log.Printf("[position] signal dropped, entry not available (state=%s)", m.State())
		return
	}

	side := model.Buy
	limit := sig.TriggerPrice + m.cfg.SlippagePaise
	if sig.Direction == model.Short {
		side = model.Sell
		limit = sig.TriggerPrice - m.cfg.SlippagePaise
	}

	final, err := m.orders.Submit(ctx, model.Order{
		Token:     sig.Token,
		Exchange:  sig.Exchange,
		Side:      side,
		Qty:       sig.Qty,
		OrderType: model.Limit,
		Price:     limit,
	})
	if err != nil {
		log.Printf("[position] entry failed: %v", err)
		m.Release(lease)
		return
	}
	if final.FilledQty == 0 {
		log.Printf("[position] entry filled nothing (status=%s), lease released", final.Status)
		m.Release(lease)
		return
	}

	// Position is sized to the actual fill, not the requested quantity.
	m.Open(lease, sig.Direction, sig.Token, sig.Exchange, final.FilledQty, final.AvgPrice)
}
