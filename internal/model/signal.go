package model

import (
	"encoding/json"
	"time"
)

// Direction represents the side of a trade signal.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// SideSign returns +1 for LONG and -1 for SHORT, used in P&L math.
func (d Direction) SideSign() int64 {
	if d == Short {
		return -1
	}
	return 1
}

// Signal is an immutable directional trade signal produced by the strategy
// engine for a finalized candle. It is a stateless fact: the engine never
// tracks whether a signal was acted upon.
type Signal struct {
	Strategy     string    `json:"strategy"`
	Direction    Direction `json:"direction"`
	Token        string    `json:"token"`
	Exchange     string    `json:"exchange"`
	Qty          int64     `json:"qty"`
	TriggerPrice int64     `json:"trigger_price"` // candle close in paise
	GeneratedAt  time.Time `json:"generated_at"`

	// Supporting indicator values at signal time.
	EMA      float64 `json:"ema"`
	RSI      float64 `json:"rsi"`
	MACDHist float64 `json:"macd_hist"`
	ATR      float64 `json:"atr"`

	Reason string `json:"reason"`
}

// JSON returns the JSON-encoded signal (ignoring errors for hot-path usage).
func (s *Signal) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}
