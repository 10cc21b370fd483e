// Package strategy provides the strategy engine for turning finalized
// candles into directional trade signals.
//
// A Strategy receives candles and emits signals; the Engine manages
// strategy lifecycle: registration, candle routing, and signal collection.
// Signals are stateless facts. Whether one becomes an order is decided
// downstream by the execution and position layers.
package strategy

import (
	"context"
	"log"

	"scalpbotv1/internal/model"
)

// Strategy is the interface that all trading strategies must implement.
type Strategy interface {
	// Name returns the unique name of the strategy.
	Name() string

	// OnCandle is called for each finalized candle, in order.
	// Return a Signal if the strategy wants to act, or nil to skip.
	OnCandle(candle model.Candle) *model.Signal
}

// Engine manages registered strategies and routes candles to them.
type Engine struct {
	strategies []Strategy
	signalCh   chan model.Signal

	// OnSignal is called for every emitted signal (optional, metrics hook).
	OnSignal func(sig model.Signal)
}

// NewEngine creates a new strategy engine with the given signal buffer size.
func NewEngine(signalBufferSize int) *Engine {
	return &Engine{
		signalCh: make(chan model.Signal, signalBufferSize),
	}
}

// Register adds a strategy to the engine.
func (e *Engine) Register(s Strategy) {
	e.strategies = append(e.strategies, s)
}

// Signals returns the channel of signals emitted by strategies.
func (e *Engine) Signals() <-chan model.Signal {
	return e.signalCh
}

// Run consumes candles and routes them to all registered strategies.
// Blocks until ctx is cancelled or candleCh is closed.
func (e *Engine) Run(ctx context.Context, candleCh <-chan model.Candle) {
	for {
		select {
		case <-ctx.Done():
			return
		case candle, ok := <-candleCh:
			if !ok {
				return
			}
			for _, s := range e.strategies {
				sig := s.OnCandle(candle)
				if sig == nil {
					continue
				}
				if e.OnSignal != nil {
					e.OnSignal(*sig)
				}
				select {
				case e.signalCh <- *sig:
				default:
					log.Printf("[strategy] signal channel full, dropping %s %s", sig.Strategy, sig.Direction)
				}
			}
		}
	}
}
