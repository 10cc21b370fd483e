// Package indicator provides technical indicator calculations over candle data.
//
// All indicators implement the Indicator interface, receiving finalized
// candles and producing float64 values. Updates are O(1) per candle with
// no history scans, so a full indicator set adds negligible latency to
// the candle-to-signal path.
package indicator

import "scalpbotv1/internal/model"

// Indicator is the interface for all technical indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "EMA_9", "RSI_14").
	Name() string

	// Update feeds a new finalized candle and recalculates.
	Update(candle model.Candle)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}
