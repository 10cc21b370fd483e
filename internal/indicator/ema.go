package indicator

import (
	"fmt"

	"scalpbotv1/internal/model"
)

// EMA calculates the Exponential Moving Average of candle closes.
// Works in rupee terms (paise / 100) like the rest of the indicator set.
type EMA struct {
	period     int
	multiplier float64
	current    float64
	count      int
	sum        float64
}

// NewEMA creates a new EMA indicator with the given period.
func NewEMA(period int) *EMA {
	return &EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *EMA) Name() string { return fmt.Sprintf("EMA_%d", e.period) }

func (e *EMA) Update(candle model.Candle) {
	price := float64(candle.Close) / 100.0
	e.count++

	if e.count <= e.period {
		// Accumulate for initial SMA seed
		e.sum += price
		if e.count == e.period {
			e.current = e.sum / float64(e.period)
		}
		return
	}

	// EMA = (Price * multiplier) + (EMA_prev * (1 - multiplier))
	e.current = (price * e.multiplier) + (e.current * (1 - e.multiplier))
}

func (e *EMA) Value() float64 { return e.current }
func (e *EMA) Ready() bool    { return e.count >= e.period }

// update feeds a raw value instead of a candle close. Used by MACD,
// whose signal line is an EMA over the MACD line rather than prices.
func (e *EMA) update(v float64) {
	e.count++
	if e.count <= e.period {
		e.sum += v
		if e.count == e.period {
			e.current = e.sum / float64(e.period)
		}
		return
	}
	e.current = (v * e.multiplier) + (e.current * (1 - e.multiplier))
}

// Snapshot serializes the EMA state for checkpoint persistence.
func (e *EMA) Snapshot() Snapshot {
	return Snapshot{
		Type:       "EMA",
		Period:     e.period,
		Multiplier: e.multiplier,
		Current:    e.current,
		Count:      e.count,
		Sum:        e.sum,
	}
}

// Restore rebuilds the EMA state from a checkpoint.
func (e *EMA) Restore(snap Snapshot) error {
	if snap.Type != "EMA" {
		return fmt.Errorf("snapshot type %q is not EMA", snap.Type)
	}
	e.period = snap.Period
	e.multiplier = snap.Multiplier
	e.current = snap.Current
	e.count = snap.Count
	e.sum = snap.Sum
	return nil
}
