// Package execution handles order placement and lifecycle tracking through
// a broker gateway.
//
// The Manager receives orders, paces them through a token-bucket rate
// limiter, and tracks each one to a terminal state through the gateway's
// asynchronous update stream. Transient rejects are retried with
// exponential backoff.
package execution

import (
	"context"

	"scalpbotv1/internal/model"
)

// BrokerGateway abstracts the broker API so paper and live trading share
// the same order manager.
//
// PlaceOrder must be non-blocking beyond the API call itself: fills,
// rejects, and cancels arrive on Updates, keyed by the client order ID
// set on the order before placement. A gateway may emit updates as soon
// as the order is placed, even before PlaceOrder returns; the Manager
// registers the order's update channel before calling it.
type BrokerGateway interface {
	// PlaceOrder submits the order to the broker.
	PlaceOrder(ctx context.Context, ord model.Order) error

	// CancelOrder requests cancellation of a working order.
	CancelOrder(ctx context.Context, orderID string) error

	// Updates returns the stream of asynchronous order state changes.
	Updates() <-chan model.OrderUpdate
}
