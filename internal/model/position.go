package model

import "time"

// PositionState is the lifecycle state of the single tracked position.
type PositionState string

const (
	PositionFlat    PositionState = "FLAT"
	PositionOpen    PositionState = "OPEN"
	PositionClosing PositionState = "CLOSING"
	PositionClosed  PositionState = "CLOSED"
)

// Position represents the at-most-one open position of the pipeline.
// Exactly one non-CLOSED position may exist system-wide at any time.
type Position struct {
	Token        string        `json:"token"`
	Exchange     string        `json:"exchange"`
	Direction    Direction     `json:"direction"`
	Qty          int64         `json:"qty"`           // actually-filled quantity, never the requested size
	EntryPrice   int64         `json:"entry_price"`   // paise (fill VWAP)
	StopLoss     int64         `json:"stop_loss"`     // paise
	Target       int64         `json:"target"`        // paise
	TrailingStop int64         `json:"trailing_stop"` // paise, 0 = not armed
	OpenedAt     time.Time     `json:"opened_at"`
	State        PositionState `json:"state"`
}

// UnrealizedPnL computes unrealized profit/loss in paise at the given price.
func (p *Position) UnrealizedPnL(price int64) int64 {
	return (price - p.EntryPrice) * p.Qty * p.Direction.SideSign()
}

// Key returns a unique key for this position: "exchange:token".
func (p *Position) Key() string {
	return p.Exchange + ":" + p.Token
}
