package strategy

import (
	"fmt"
	"log"
	"time"

	"scalpbotv1/internal/indicator"
	"scalpbotv1/internal/markethours"
	"scalpbotv1/internal/model"
)

// DualMomentumConfig holds the tunables for the dual momentum strategy.
type DualMomentumConfig struct {
	Qty           int64 // order quantity (lot size * num lots)
	EMAPeriod     int
	RSIPeriod     int
	RSIOverbought float64 // long side threshold, typically 60
	RSIOversold   float64 // short side threshold, typically 40
	MACDFast      int
	MACDSlow      int
	MACDSignal    int
	ATRPeriod     int
	SkipMinutes   int // minutes after open during which no entries fire
}

// DualMomentum emits a LONG signal when price, RSI, and MACD momentum all
// agree on the upside, and a SHORT signal when they all agree on the
// downside:
//
//	LONG:  close > EMA  and  RSI > overbought  and  MACD histogram > 0
//	SHORT: close < EMA  and  RSI < oversold    and  MACD histogram < 0
//
// Every finalized candle, synthetic ones included, feeds the indicators.
// Entries are suppressed on synthetic candles, during indicator warmup,
// inside the post-open skip window, while a position is live, and while
// the daily loss ledger is halted.
type DualMomentum struct {
	name string
	cfg  DualMomentumConfig

	ema  *indicator.EMA
	rsi  *indicator.RSI
	macd *indicator.MACD
	atr  *indicator.ATR

	// Entry gates, wired by the caller. A nil gate allows entries.
	Halted func() bool // daily loss ledger
	Flat   func() bool // position manager

	// OnSuppressed is called with a reason each time indicator conditions
	// lined up but a gate blocked the entry (optional, metrics hook).
	OnSuppressed func(reason string)
}

// NewDualMomentum creates the strategy with its own indicator set.
func NewDualMomentum(cfg DualMomentumConfig) *DualMomentum {
	return &DualMomentum{
		name: "dual_momentum",
		cfg:  cfg,
		ema:  indicator.NewEMA(cfg.EMAPeriod),
		rsi:  indicator.NewRSI(cfg.RSIPeriod),
		macd: indicator.NewMACD(cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal),
		atr:  indicator.NewATR(cfg.ATRPeriod),
	}
}

func (d *DualMomentum) Name() string { return d.name }

// Indicators exposes the strategy's indicator set for checkpointing.
func (d *DualMomentum) Indicators() []indicator.Snapshottable {
	return []indicator.Snapshottable{d.ema, d.rsi, d.macd, d.atr}
}

func (d *DualMomentum) OnCandle(candle model.Candle) *model.Signal {
	// Indicators always see the candle, even when entries are gated.
	d.ema.Update(candle)
	d.rsi.Update(candle)
	d.macd.Update(candle)
	d.atr.Update(candle)

	if !d.ema.Ready() || !d.rsi.Ready() || !d.macd.Ready() {
		return nil
	}

	close := float64(candle.Close) / 100.0
	ema := d.ema.Value()
	rsi := d.rsi.Value()
	hist := d.macd.Value()

	var dir model.Direction
	switch {
	case close > ema && rsi > d.cfg.RSIOverbought && hist > 0:
		dir = model.Long
	case close < ema && rsi < d.cfg.RSIOversold && hist < 0:
		dir = model.Short
	default:
		return nil
	}

	// Momentum lined up. Check the entry gates.
	if reason := d.gate(candle); reason != "" {
		if d.OnSuppressed != nil {
			d.OnSuppressed(reason)
		}
		log.Printf("[strategy] %s: %s entry suppressed (%s)", d.name, dir, reason)
		return nil
	}

	return &model.Signal{
		Strategy:     d.name,
		Direction:    dir,
		Token:        candle.Token,
		Exchange:     candle.Exchange,
		Qty:          d.cfg.Qty,
		TriggerPrice: candle.Close,
		GeneratedAt:  time.Now().UTC(),
		EMA:          ema,
		RSI:          rsi,
		MACDHist:     hist,
		ATR:          d.atr.Value(),
		Reason: fmt.Sprintf("%s momentum: close=%.2f ema=%.2f rsi=%.1f hist=%.3f",
			dir, close, ema, rsi, hist),
	}
}

// gate returns a non-empty suppression reason when entries are blocked.
func (d *DualMomentum) gate(candle model.Candle) string {
	if candle.Synthetic {
		return "synthetic candle"
	}
	if !markethours.IsMarketOpen(candle.TS) {
		return "market closed"
	}
	if markethours.InSkipWindow(candle.TS, d.cfg.SkipMinutes) {
		return "post-open skip window"
	}
	if d.Halted != nil && d.Halted() {
		return "daily loss limit halt"
	}
	if d.Flat != nil && !d.Flat() {
		return "position not flat"
	}
	return ""
}
