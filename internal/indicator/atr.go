package indicator

import (
	"fmt"
	"math"

	"scalpbotv1/internal/model"
)

// ATR calculates the Average True Range using Wilder's smoothing.
// Values are in rupee terms.
type ATR struct {
	period    int
	count     int
	prevClose float64
	sum       float64
	current   float64
}

// NewATR creates a new ATR indicator with the given period (typically 14).
func NewATR(period int) *ATR {
	return &ATR{period: period}
}

func (a *ATR) Name() string { return fmt.Sprintf("ATR_%d", a.period) }

func (a *ATR) Update(candle model.Candle) {
	high := float64(candle.High) / 100.0
	low := float64(candle.Low) / 100.0
	close := float64(candle.Close) / 100.0
	a.count++

	if a.count == 1 {
		a.prevClose = close
		return
	}

	tr := math.Max(high-low, math.Max(math.Abs(high-a.prevClose), math.Abs(low-a.prevClose)))
	a.prevClose = close

	if a.count <= a.period+1 {
		a.sum += tr
		if a.count == a.period+1 {
			a.current = a.sum / float64(a.period)
		}
		return
	}

	p := float64(a.period)
	a.current = (a.current*(p-1) + tr) / p
}

func (a *ATR) Value() float64 { return a.current }
func (a *ATR) Ready() bool    { return a.count > a.period }

// Snapshot serializes the ATR state for checkpoint persistence.
func (a *ATR) Snapshot() Snapshot {
	return Snapshot{
		Type:      "ATR",
		Period:    a.period,
		Count:     a.count,
		PrevClose: a.prevClose,
		Sum:       a.sum,
		Current:   a.current,
	}
}

// Restore rebuilds the ATR state from a checkpoint.
func (a *ATR) Restore(snap Snapshot) error {
	if snap.Type != "ATR" {
		return fmt.Errorf("snapshot type %q is not ATR", snap.Type)
	}
	a.period = snap.Period
	a.count = snap.Count
	a.prevClose = snap.PrevClose
	a.sum = snap.Sum
	a.current = snap.Current
	return nil
}
