package indicator

// Snapshottable is implemented by indicators that support state serialization
// for warm restarts.
type Snapshottable interface {
	Indicator
	Snapshot() Snapshot
	Restore(snap Snapshot) error
}

// Snapshot holds the serialized state of a single indicator instance.
// A composite indicator (MACD) nests its component states under Sub.
type Snapshot struct {
	Type   string `json:"type"` // "EMA", "RSI", "MACD", "ATR"
	Period int    `json:"period"`

	Count   int     `json:"count"`
	Sum     float64 `json:"sum,omitempty"`
	Current float64 `json:"current"`

	// EMA fields
	Multiplier float64 `json:"multiplier,omitempty"`

	// RSI/ATR fields
	PrevClose float64 `json:"prev_close,omitempty"`
	AvgGain   float64 `json:"avg_gain,omitempty"`
	AvgLoss   float64 `json:"avg_loss,omitempty"`

	// MACD fields
	MACDLine float64    `json:"macd_line,omitempty"`
	Sub      []Snapshot `json:"sub,omitempty"`
}
