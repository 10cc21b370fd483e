package dhanhq

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"scalpbotv1/internal/model"
)

const (
	defaultPollInterval = 300 * time.Millisecond
	defaultPollTimeout  = 90 * time.Second
	updateBuffer        = 64
)

// Gateway adapts the DhanHQ REST client to the order manager's broker
// interface. REST has no push channel for fills, so each placed order is
// polled until it reaches a terminal state and the transitions are
// replayed on Updates.
type Gateway struct {
	client          *Client
	exchangeSegment string
	productType     string
	pollInterval    time.Duration
	pollTimeout     time.Duration

	updates chan model.OrderUpdate

	mu      sync.Mutex
	brokers map[string]string // client order ID -> broker order ID

	// OnCriticalAlert fires when polling for an order is abandoned and
	// the order had to be force-cancelled (optional, notification hook).
	OnCriticalAlert func(msg string)
}

// GatewayConfig tunes the live gateway.
type GatewayConfig struct {
	ExchangeSegment string        // default NSE_FNO
	ProductType     string        // default INTRADAY
	PollInterval    time.Duration // default 300ms
	PollTimeout     time.Duration // default 90s
}

// NewGateway wraps a logged-in client.
func NewGateway(client *Client, cfg GatewayConfig) *Gateway {
	if cfg.ExchangeSegment == "" {
		cfg.ExchangeSegment = "NSE_FNO"
	}
	if cfg.ProductType == "" {
		cfg.ProductType = "INTRADAY"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	return &Gateway{
		client:          client,
		exchangeSegment: cfg.ExchangeSegment,
		productType:     cfg.ProductType,
		pollInterval:    cfg.PollInterval,
		pollTimeout:     cfg.PollTimeout,
		updates:         make(chan model.OrderUpdate, updateBuffer),
		brokers:         make(map[string]string),
	}
}

// Updates streams order state transitions keyed by client order ID.
func (g *Gateway) Updates() <-chan model.OrderUpdate { return g.updates }

// PlaceOrder submits the order to Dhan and starts polling for fills.
// A rejected REST call is reported as an update, not an error, so the
// order manager's retry classification sees it the same way as a
// post-acknowledgement reject.
func (g *Gateway) PlaceOrder(ctx context.Context, ord model.Order) error {
	req := OrderRequest{
		CorrelationID:   ord.OrderID,
		TransactionType: string(ord.Side),
		ExchangeSegment: g.exchangeSegment,
		ProductType:     g.productType,
		OrderType:       string(ord.OrderType),
		Validity:        "DAY",
		SecurityID:      ord.Token,
		Quantity:        ord.Qty,
	}
	if ord.OrderType == model.Limit {
		req.Price = paiseToRupees(ord.Price)
	}

	brokerID, err := g.client.PlaceOrder(ctx, req)
	if err != nil {
		transient := isTransient(err)
		go g.push(model.OrderUpdate{
			OrderID:   ord.OrderID,
			Status:    model.OrderRejected,
			Reason:    err.Error(),
			Transient: transient,
		})
		return nil
	}

	g.mu.Lock()
	g.brokers[ord.OrderID] = brokerID
	g.mu.Unlock()

	go g.poll(ord.OrderID, brokerID)
	return nil
}

// CancelOrder cancels by client order ID.
func (g *Gateway) CancelOrder(ctx context.Context, orderID string) error {
	g.mu.Lock()
	brokerID, ok := g.brokers[orderID]
	g.mu.Unlock()
	if !ok {
		return errors.New("dhanhq: unknown order " + orderID)
	}
	return g.client.CancelOrder(ctx, brokerID)
}

// poll fetches order status until terminal, emitting an update on every
// observed transition. Runs detached from the placement context so a
// timed-out Submit still learns the order's fate. An order still working
// past the poll timeout is force-cancelled and closed out with a
// synthetic terminal update; a waiting Submit must never block forever
// on a fill that will not be reported.
func (g *Gateway) poll(clientID, brokerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), g.pollTimeout)
	defer cancel()

	var last model.OrderUpdate
	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	for {
		st, err := g.client.OrderStatus(ctx, brokerID)
		if err != nil {
			if ctx.Err() != nil {
				g.abandon(clientID, brokerID, last)
				return
			}
			log.Printf("[dhanhq] status poll error for order %s: %v", brokerID, err)
		} else {
			upd := g.translate(clientID, st)
			if upd.Status != last.Status || upd.FilledQty != last.FilledQty {
				last = upd
				g.push(upd)
			}
			if upd.Status.Terminal() {
				g.forget(clientID)
				return
			}
		}
		select {
		case <-ctx.Done():
			g.abandon(clientID, brokerID, last)
			return
		case <-ticker.C:
		}
	}
}

// abandon gives up on polling: best-effort cancel at the broker, one last
// status check in case the cancel raced a fill, then a synthetic terminal
// update so the order manager can unwind.
func (g *Gateway) abandon(clientID, brokerID string, last model.OrderUpdate) {
	msg := fmt.Sprintf("order %s unresolved after %v (last status %s filled=%d), force-cancelling",
		brokerID, g.pollTimeout, last.Status, last.FilledQty)
	log.Printf("[dhanhq] CRITICAL: %s", msg)
	if g.OnCriticalAlert != nil {
		g.OnCriticalAlert(msg)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.client.CancelOrder(ctx, brokerID); err != nil {
		log.Printf("[dhanhq] cancel of abandoned order %s failed: %v", brokerID, err)
	}

	g.forget(clientID)
	if st, err := g.client.OrderStatus(ctx, brokerID); err == nil {
		if upd := g.translate(clientID, st); upd.Status.Terminal() {
			g.push(upd)
			return
		}
	}
	g.push(model.OrderUpdate{
		OrderID:   clientID,
		Status:    model.OrderCancelled,
		FilledQty: last.FilledQty,
		AvgPrice:  last.AvgPrice,
		Reason:    "status polling timed out",
	})
}

func (g *Gateway) forget(clientID string) {
	g.mu.Lock()
	delete(g.brokers, clientID)
	g.mu.Unlock()
}

// translate maps a Dhan order snapshot onto the internal update shape.
func (g *Gateway) translate(clientID string, st *OrderResponse) model.OrderUpdate {
	upd := model.OrderUpdate{
		OrderID:   clientID,
		FilledQty: st.FilledQty,
		AvgPrice:  rupeesToPaise(st.AverageTradedP),
		Reason:    st.OMSErrorDesc,
	}
	switch st.OrderStatus {
	case "TRADED":
		upd.Status = model.OrderFilled
	case "PART_TRADED":
		upd.Status = model.OrderPartiallyFilled
	case "CANCELLED":
		upd.Status = model.OrderCancelled
	case "REJECTED":
		upd.Status = model.OrderRejected
		upd.Transient = transientRejectReason(st.OMSErrorDesc)
	case "PENDING", "TRANSIT":
		upd.Status = model.OrderAcknowledged
	default:
		upd.Status = model.OrderAcknowledged
	}
	return upd
}

func (g *Gateway) push(upd model.OrderUpdate) {
	select {
	case g.updates <- upd:
	case <-time.After(time.Second):
		log.Printf("[dhanhq] update channel stalled, dropping update for %s", upd.OrderID)
	}
}

func isTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	// network-level failures (timeouts, resets) are retryable
	return true
}

// transientRejectReason classifies OMS reject messages. Throttle and
// connectivity rejects clear on retry; margin and validation rejects
// do not.
func transientRejectReason(reason string) bool {
	r := strings.ToLower(reason)
	for _, kw := range []string{"throttle", "rate limit", "try again", "timed out", "timeout", "connection"} {
		if strings.Contains(r, kw) {
			return true
		}
	}
	return false
}

func paiseToRupees(p int64) float64 {
	return float64(p) / 100.0
}

func rupeesToPaise(r float64) int64 {
	return int64(math.Round(r * 100.0))
}
