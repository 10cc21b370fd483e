package model

import "time"

// Side represents the transaction side of an order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// OrderType represents the broker order type.
type OrderType string

const (
	Market OrderType = "MARKET"
	Limit  OrderType = "LIMIT"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderPending         OrderStatus = "PENDING"
	OrderSubmitted       OrderStatus = "SUBMITTED"
	OrderAcknowledged    OrderStatus = "ACKNOWLEDGED"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderRejected        OrderStatus = "REJECTED"
	OrderCancelled       OrderStatus = "CANCELLED"
)

// Terminal reports whether the status ends the order's lifecycle.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderFilled, OrderRejected, OrderCancelled:
		return true
	}
	return false
}

// Order represents a broker order tracked by the order manager.
// The order manager owns it until a terminal state is reached, at which
// point the fill fact transfers to the position manager.
type Order struct {
	OrderID   string      `json:"order_id"`
	Token     string      `json:"token"`
	Exchange  string      `json:"exchange"`
	Side      Side        `json:"side"`
	Qty       int64       `json:"qty"`
	OrderType OrderType   `json:"order_type"`
	Price     int64       `json:"price"` // limit price in paise (0 for market)
	Status    OrderStatus `json:"status"`
	FilledQty int64       `json:"filled_qty"`
	AvgPrice  int64       `json:"avg_price"` // volume-weighted fill price in paise
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// OrderUpdate is an asynchronous fill/state notification pushed by the
// broker gateway, keyed by order ID.
type OrderUpdate struct {
	OrderID   string      `json:"order_id"`
	Status    OrderStatus `json:"status"`
	FilledQty int64       `json:"filled_qty"` // cumulative filled quantity
	AvgPrice  int64       `json:"avg_price"`  // volume-weighted average fill price in paise
	Reason    string      `json:"reason"`     // broker message on reject/cancel
	Transient bool        `json:"transient"`  // reject cause is retryable (throttle, network)
}
