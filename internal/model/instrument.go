package model

// Instrument identifies the single instrument this pipeline trades.
type Instrument struct {
	Token    string `json:"token"`
	Exchange string `json:"exchange"`
	Symbol   string `json:"symbol"`
	LotSize  int64  `json:"lot_size"`
	TickSize int64  `json:"tick_size"` // minimum price movement in paise
}

// Key returns a unique key for this instrument: "exchange:token".
func (i *Instrument) Key() string {
	return i.Exchange + ":" + i.Token
}
