package execution

import (
	"context"
	"log"
	"sync"
	"time"

	"scalpbotv1/internal/model"
)

// PaperBroker simulates the broker gateway without real API calls.
// Fills are immediate at the last seen market price (market orders) or
// the limit price, shifted by the configured slippage. Rejects and
// partial fills can be scripted for tests.
type PaperBroker struct {
	mu        sync.Mutex
	lastPrice int64
	updates   chan model.OrderUpdate

	slippage int64 // paise added against the order side on market fills

	// scripted behaviors, consumed in order
	rejects        []scriptedReject
	partialFills   []int64 // fill quantities for upcoming orders
	partialRejects []scriptedPartialReject

	placed []model.Order // every order placed, in order
}

type scriptedReject struct {
	reason    string
	transient bool
}

type scriptedPartialReject struct {
	qty    int64
	reason string
}

// NewPaperBroker creates a paper gateway with the given simulated
// slippage in paise.
func NewPaperBroker(slippagePaise int64) *PaperBroker {
	return &PaperBroker{
		updates:  make(chan model.OrderUpdate, 64),
		slippage: slippagePaise,
	}
}

// UpdatePrice feeds the latest market price, used to fill market orders.
func (p *PaperBroker) UpdatePrice(price int64) {
	p.mu.Lock()
	p.lastPrice = price
	p.mu.Unlock()
}

// RejectNext scripts a reject for the next placed order.
func (p *PaperBroker) RejectNext(reason string, transient bool) {
	p.mu.Lock()
	p.rejects = append(p.rejects, scriptedReject{reason: reason, transient: transient})
	p.mu.Unlock()
}

// PartialFillNext scripts the next placed order to fill only qty and
// have the remainder cancelled.
func (p *PaperBroker) PartialFillNext(qty int64) {
	p.mu.Lock()
	p.partialFills = append(p.partialFills, qty)
	p.mu.Unlock()
}

// PartialThenRejectNext scripts the next placed order to fill only qty
// and have the remainder rejected transiently.
func (p *PaperBroker) PartialThenRejectNext(qty int64, reason string) {
	p.mu.Lock()
	p.partialRejects = append(p.partialRejects, scriptedPartialReject{qty: qty, reason: reason})
	p.mu.Unlock()
}

// Placed returns a copy of every order placed so far, in order.
func (p *PaperBroker) Placed() []model.Order {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.Order, len(p.placed))
	copy(out, p.placed)
	return out
}

func (p *PaperBroker) Updates() <-chan model.OrderUpdate {
	return p.updates
}

func (p *PaperBroker) PlaceOrder(ctx context.Context, ord model.Order) error {
	p.mu.Lock()
	p.placed = append(p.placed, ord)

	if len(p.rejects) > 0 {
		rej := p.rejects[0]
		p.rejects = p.rejects[1:]
		p.mu.Unlock()
		p.emit(ctx, model.OrderUpdate{
			OrderID:   ord.OrderID,
			Status:    model.OrderRejected,
			Reason:    rej.reason,
			Transient: rej.transient,
		})
		return nil
	}

	fillPrice := ord.Price
	if ord.OrderType == model.Market || fillPrice == 0 {
		fillPrice = p.lastPrice
	}
	if ord.Side == model.Buy {
		fillPrice += p.slippage
	} else {
		fillPrice -= p.slippage
	}

	if len(p.partialRejects) > 0 {
		pr := p.partialRejects[0]
		p.partialRejects = p.partialRejects[1:]
		p.mu.Unlock()
		p.emit(ctx, model.OrderUpdate{OrderID: ord.OrderID, Status: model.OrderAcknowledged})
		p.emit(ctx, model.OrderUpdate{
			OrderID:   ord.OrderID,
			Status:    model.OrderPartiallyFilled,
			FilledQty: pr.qty,
			AvgPrice:  fillPrice,
		})
		p.emit(ctx, model.OrderUpdate{
			OrderID:   ord.OrderID,
			Status:    model.OrderRejected,
			FilledQty: pr.qty,
			AvgPrice:  fillPrice,
			Reason:    pr.reason,
			Transient: true,
		})
		return nil
	}

	fillQty := ord.Qty
	partial := false
	if len(p.partialFills) > 0 {
		fillQty = p.partialFills[0]
		p.partialFills = p.partialFills[1:]
		partial = fillQty < ord.Qty
	}
	p.mu.Unlock()

	log.Printf("[paper] %s %s qty=%d fill=%d price=%d id=%s",
		ord.Side, ord.Token, ord.Qty, fillQty, fillPrice, ord.OrderID)

	p.emit(ctx, model.OrderUpdate{OrderID: ord.OrderID, Status: model.OrderAcknowledged})

	if partial {
		p.emit(ctx, model.OrderUpdate{
			OrderID:   ord.OrderID,
			Status:    model.OrderPartiallyFilled,
			FilledQty: fillQty,
			AvgPrice:  fillPrice,
		})
		// Broker cancels the unfilled remainder.
		p.emit(ctx, model.OrderUpdate{
			OrderID:   ord.OrderID,
			Status:    model.OrderCancelled,
			FilledQty: fillQty,
			AvgPrice:  fillPrice,
			Reason:    "remainder cancelled",
		})
		return nil
	}

	p.emit(ctx, model.OrderUpdate{
		OrderID:   ord.OrderID,
		Status:    model.OrderFilled,
		FilledQty: fillQty,
		AvgPrice:  fillPrice,
	})
	return nil
}

func (p *PaperBroker) CancelOrder(ctx context.Context, orderID string) error {
	p.emit(ctx, model.OrderUpdate{
		OrderID: orderID,
		Status:  model.OrderCancelled,
		Reason:  "cancelled by client",
	})
	return nil
}

func (p *PaperBroker) emit(ctx context.Context, upd model.OrderUpdate) {
	select {
	case p.updates <- upd:
	case <-ctx.Done():
	case <-time.After(time.Second):
		log.Printf("[paper] update channel stalled, dropping %s %s", upd.OrderID, upd.Status)
	}
}
