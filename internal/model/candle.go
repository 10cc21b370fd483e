package model

import (
	"encoding/json"
	"time"
)

// Candle represents one fixed-duration OHLCV bar for a single instrument.
// All prices are in paise (int64) to avoid floating-point drift.
//
// A candle is mutated in place while Final=false (the forming bar for the
// current bucket) and becomes immutable the moment it is finalized.
// Synthetic candles are zero-volume gap fillers carrying the prior close
// forward so downstream indicator math never sees a missing period.
type Candle struct {
	Token      string    `json:"token"`
	Exchange   string    `json:"exchange"`
	TS         time.Time `json:"ts"` // bucket start time (UTC, bucket-aligned)
	TF         int       `json:"tf"` // bucket duration in seconds
	Open       int64     `json:"open"`
	High       int64     `json:"high"`
	Low        int64     `json:"low"`
	Close      int64     `json:"close"`
	Volume     int64     `json:"volume"`
	TicksCount int       `json:"ticks_count"`
	Synthetic  bool      `json:"synthetic"`
	Final      bool      `json:"final"`
}

// Key returns a unique key for this candle's instrument: "exchange:token".
func (c *Candle) Key() string {
	return c.Exchange + ":" + c.Token
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
