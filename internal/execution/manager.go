package execution

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"scalpbotv1/internal/model"
)

// ErrRetriesExhausted is returned when an order keeps getting transiently
// rejected past the retry limit.
var ErrRetriesExhausted = errors.New("order retries exhausted")

// ErrRejected is returned for permanent broker rejects.
var ErrRejected = errors.New("order rejected")

const (
	backoffBase = 250 * time.Millisecond
	backoffMax  = 5 * time.Second

	// closingAlertAfter is the retry count past which a stuck closing
	// order escalates to a critical alert.
	closingAlertAfter = 5
)

// ManagerConfig holds the order manager tunables.
type ManagerConfig struct {
	MaxOrdersPerSecond int // token bucket refill rate
	RetryLimit         int // max transient-reject retries for entry orders
}

// Manager paces orders through the broker rate limit and tracks each one
// to a terminal state. Entry orders retry transient rejects up to the
// configured limit; closing orders retry indefinitely because an
// unclosed position is an unbounded risk.
type Manager struct {
	cfg     ManagerConfig
	gateway BrokerGateway
	limiter *rate.Limiter

	mu      sync.Mutex
	pending map[string]chan model.OrderUpdate // client order ID -> update stream

	// OnCriticalAlert fires when a closing order is still being rejected
	// after repeated retries (optional, notification hook).
	OnCriticalAlert func(msg string)

	// Metrics hooks (optional, set externally).
	OnOrderPlaced  func()
	OnOrderRetried func()
	OnOrderFilled  func()
	OnOrderFailed  func()
}

// NewManager creates an order manager over the given gateway.
func NewManager(cfg ManagerConfig, gw BrokerGateway) *Manager {
	if cfg.MaxOrdersPerSecond <= 0 {
		cfg.MaxOrdersPerSecond = 25
	}
	return &Manager{
		cfg:     cfg,
		gateway: gw,
		// Burst 1: submissions are spaced 1/n apart, so any n+1
		// consecutive orders span at least a full second. A burst-sized
		// bucket would let a signal storm fire the whole ceiling at once.
		limiter: rate.NewLimiter(rate.Limit(cfg.MaxOrdersPerSecond), 1),
		pending: make(map[string]chan model.OrderUpdate),
	}
}

// Run routes gateway updates to the orders waiting on them.
// Blocks until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-m.gateway.Updates():
			if !ok {
				return
			}
			m.mu.Lock()
			ch, exists := m.pending[upd.OrderID]
			m.mu.Unlock()
			if !exists {
				log.Printf("[orders] update for unknown order %s status=%s", upd.OrderID, upd.Status)
				continue
			}
			select {
			case ch <- upd:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Submit places an entry order and blocks until it reaches a terminal
// state. Returns the final order; callers must inspect FilledQty, which
// can be less than Qty when the broker cancelled the remainder of a
// partial fill. Transient rejects retry up to the configured limit.
func (m *Manager) Submit(ctx context.Context, ord model.Order) (model.Order, error) {
	return m.execute(ctx, ord, m.cfg.RetryLimit, false)
}

// SubmitClosing places a position-closing order and blocks until it
// reaches a terminal state, retrying transient rejects indefinitely.
// A partial fill before a transient reject is kept and only the
// remainder is retried; the final order reports the combined fill.
// A stuck closing order escalates through OnCriticalAlert but keeps
// retrying until the context is cancelled.
func (m *Manager) SubmitClosing(ctx context.Context, ord model.Order) (model.Order, error) {
	return m.execute(ctx, ord, -1, true)
}

// Cancel requests cancellation of a working order.
func (m *Manager) Cancel(ctx context.Context, orderID string) error {
	return m.gateway.CancelOrder(ctx, orderID)
}

func (m *Manager) execute(ctx context.Context, ord model.Order, retryLimit int, closing bool) (model.Order, error) {
	// Fills carried across attempts when a closing order partially fills
	// before a transient reject. The remainder is resubmitted and the
	// final order reports the combined quantity at its VWAP.
	var carriedQty, carriedNotional int64

	for attempt := 0; ; attempt++ {
		final, err := m.placeOnce(ctx, ord)
		if err == nil || !errors.Is(err, errTransientReject) {
			return mergeFills(final, carriedQty, carriedNotional), err
		}

		// Transient reject after a partial fill. An entry keeps what it
		// got and the position sizes to FilledQty; a closing order keeps
		// the fill but must still work off the remainder.
		if final.FilledQty > 0 {
			if !closing {
				return final, nil
			}
			carriedQty += final.FilledQty
			carriedNotional += final.FilledQty * final.AvgPrice
			ord.Qty -= final.FilledQty
			if ord.Qty <= 0 {
				final.Status = model.OrderFilled
				final.FilledQty = 0
				return mergeFills(final, carriedQty, carriedNotional), nil
			}
			log.Printf("[orders] closing order filled %d before reject, retrying remainder qty=%d",
				final.FilledQty, ord.Qty)
		}

		if retryLimit >= 0 && attempt >= retryLimit {
			if m.OnOrderFailed != nil {
				m.OnOrderFailed()
			}
			return final, fmt.Errorf("%w after %d attempts: %s", ErrRetriesExhausted, attempt+1, final.Status)
		}

		if closing && attempt+1 == closingAlertAfter && m.OnCriticalAlert != nil {
			m.OnCriticalAlert(fmt.Sprintf(
				"closing order %s %s qty=%d still rejected after %d attempts",
				ord.Side, ord.Token, ord.Qty, attempt+1))
		}

		backoff := backoffBase << uint(attempt)
		if backoff > backoffMax || backoff <= 0 {
			backoff = backoffMax
		}
		if m.OnOrderRetried != nil {
			m.OnOrderRetried()
		}
		log.Printf("[orders] transient reject, retrying in %v (attempt %d): %s %s qty=%d",
			backoff, attempt+1, ord.Side, ord.Token, ord.Qty)

		select {
		case <-ctx.Done():
			return final, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// errTransientReject is an internal sentinel distinguishing retryable
// rejects from permanent ones inside execute.
var errTransientReject = errors.New("transient reject")

// mergeFills folds fills carried from earlier attempts into the final
// order, reporting the combined quantity at its VWAP.
func mergeFills(final model.Order, qty, notional int64) model.Order {
	if qty == 0 {
		return final
	}
	total := final.FilledQty + qty
	final.AvgPrice = (final.FilledQty*final.AvgPrice + notional) / total
	final.FilledQty = total
	return final
}

// placeOnce runs one full submit-to-terminal cycle for the order.
func (m *Manager) placeOnce(ctx context.Context, ord model.Order) (model.Order, error) {
	// Blocks until a rate token is available. Orders queue here rather
	// than getting rejected for pacing.
	if err := m.limiter.Wait(ctx); err != nil {
		return ord, err
	}

	ord.OrderID = uuid.NewString()
	ord.Status = model.OrderSubmitted
	ord.CreatedAt = time.Now().UTC()
	ord.UpdatedAt = ord.CreatedAt

	updCh := make(chan model.OrderUpdate, 8)
	m.mu.Lock()
	m.pending[ord.OrderID] = updCh
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.pending, ord.OrderID)
		m.mu.Unlock()
	}()

	if err := m.gateway.PlaceOrder(ctx, ord); err != nil {
		return ord, fmt.Errorf("place order: %w", err)
	}
	if m.OnOrderPlaced != nil {
		m.OnOrderPlaced()
	}
	log.Printf("[orders] placed %s %s %s qty=%d type=%s id=%s",
		ord.Side, ord.Exchange, ord.Token, ord.Qty, ord.OrderType, ord.OrderID)

	for {
		select {
		case <-ctx.Done():
			return ord, ctx.Err()
		case upd := <-updCh:
			ord.Status = upd.Status
			ord.UpdatedAt = time.Now().UTC()
			if upd.FilledQty > 0 {
				ord.FilledQty = upd.FilledQty
				ord.AvgPrice = upd.AvgPrice
			}
			if !upd.Status.Terminal() {
				continue
			}

			switch upd.Status {
			case model.OrderFilled:
				if m.OnOrderFilled != nil {
					m.OnOrderFilled()
				}
				log.Printf("[orders] filled %s qty=%d avg=%d", ord.OrderID, ord.FilledQty, ord.AvgPrice)
				return ord, nil

			case model.OrderCancelled:
				// A cancel after partial fills is a success for what
				// filled; the position layer sizes to FilledQty.
				log.Printf("[orders] cancelled %s filled=%d/%d", ord.OrderID, ord.FilledQty, ord.Qty)
				return ord, nil

			case model.OrderRejected:
				if upd.Transient {
					return ord, errTransientReject
				}
				if m.OnOrderFailed != nil {
					m.OnOrderFailed()
				}
				return ord, fmt.Errorf("%w: %s", ErrRejected, upd.Reason)
			}
		}
	}
}
