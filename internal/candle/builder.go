package candle

import (
	"context"
	"log"
	"sync"
	"time"

	"scalpbotv1/internal/markethours"
	"scalpbotv1/internal/model"
)

// barState holds the forming candle for one instrument in the current bucket.
type barState struct {
	token     string
	exchange  string
	bucket    int64 // bucket index since session start
	candle    model.Candle
	lastClose int64 // close of the most recently finalized candle, for gap fill
}

// Builder aggregates ticks into fixed-timeframe OHLCV candles.
// Buckets are anchored to the trading session start, so a 60s timeframe
// produces bars at 9:15:00, 9:16:00, ... regardless of when the first
// tick arrives. It runs in a single goroutine and emits finalized
// candles when a bucket rolls over, inserting synthetic zero-volume
// candles for buckets that received no ticks.
type Builder struct {
	mu     sync.Mutex
	tf     int64 // timeframe in seconds
	states map[string]*barState

	flushInterval time.Duration

	// Metrics hooks (optional, set externally)
	OnDroppedTick func()
	OnGapCandle   func()
}

// New creates a Builder for the given timeframe in seconds.
func New(timeframeSeconds int) *Builder {
	if timeframeSeconds <= 0 {
		timeframeSeconds = 60
	}
	return &Builder{
		tf:            int64(timeframeSeconds),
		states:        make(map[string]*barState),
		flushInterval: 250 * time.Millisecond, // check frequency for bucket rollover
	}
}

// Run consumes ticks from tickCh, aggregates into candles of the configured
// timeframe, and sends finalized candles to candleCh. A periodic ticker
// finalizes bars whose bucket has passed even when no new tick arrives.
// Blocks until ctx is cancelled or tickCh closes.
func (b *Builder) Run(ctx context.Context, tickCh <-chan model.Tick, candleCh chan<- model.Candle) {
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.FlushAll(candleCh)
			return

		case tick, ok := <-tickCh:
			if !ok {
				b.FlushAll(candleCh)
				return
			}
			b.Ingest(tick, candleCh)

		case now := <-ticker.C:
			b.FlushAt(now, candleCh)
		}
	}
}

// Ingest incorporates a single tick, emitting any candles finalized as a
// side effect (the previous bucket's bar plus synthetic gap fillers).
func (b *Builder) Ingest(tick model.Tick, candleCh chan<- model.Candle) {
	key := tick.Key()
	start := markethours.SessionStart(tick.TickTS)
	bucket := (tick.TickTS.Unix() - start.Unix()) / b.tf

	b.mu.Lock()

	state, exists := b.states[key]

	if exists && bucket < state.bucket {
		// Late tick, belongs to an already-finalized bucket. Drop it:
		// finalized candles are immutable.
		current := state.bucket
		dropped := b.OnDroppedTick
		b.mu.Unlock()
		if dropped != nil {
			dropped()
		}
		log.Printf("[candle] dropped late tick %s ts=%v bucket=%d current=%d",
			key, tick.TickTS, bucket, current)
		return
	}

	if exists && bucket > state.bucket {
		// Bucket rolled over. Finalize the forming bar, then fill any
		// empty buckets between it and the tick's bucket with synthetic
		// zero-volume candles carrying the close forward.
		last, emitted := b.finalize(state, candleCh)
		gapFrom := state.bucket
		if emitted {
			gapFrom++
		}
		b.fillGaps(state, gapFrom, bucket, start, last, candleCh)
		delete(b.states, key)
		exists = false
	}

	if !exists {
		prevClose := int64(0)
		if state != nil {
			prevClose = state.lastClose
		}
		b.states[key] = &barState{
			token:     tick.Token,
			exchange:  tick.Exchange,
			bucket:    bucket,
			lastClose: prevClose,
			candle: model.Candle{
				Token:      tick.Token,
				Exchange:   tick.Exchange,
				TS:         start.Add(time.Duration(bucket*b.tf) * time.Second).UTC(),
				TF:         int(b.tf),
				Open:       tick.Price,
				High:       tick.Price,
				Low:        tick.Price,
				Close:      tick.Price,
				Volume:     tick.Qty,
				TicksCount: 1,
			},
		}
		b.mu.Unlock()
		return
	}

	// Same bucket, update OHLC in place. A zero-tick bar left behind by
	// a quiet-market flush starts fresh from this tick.
	c := &state.candle
	if c.TicksCount == 0 {
		*c = model.Candle{
			Token:      tick.Token,
			Exchange:   tick.Exchange,
			TS:         start.Add(time.Duration(bucket*b.tf) * time.Second).UTC(),
			TF:         int(b.tf),
			Open:       tick.Price,
			High:       tick.Price,
			Low:        tick.Price,
			Close:      tick.Price,
			Volume:     tick.Qty,
			TicksCount: 1,
		}
		b.mu.Unlock()
		return
	}
	if tick.Price > c.High {
		c.High = tick.Price
	}
	if tick.Price < c.Low {
		c.Low = tick.Price
	}
	c.Close = tick.Price
	c.Volume += tick.Qty
	c.TicksCount++
	b.mu.Unlock()
}

// FlushAt finalizes every forming bar whose bucket ended at or before now,
// filling the gap up to now's bucket with synthetic candles. Called from
// the rollover ticker so bars close on time during quiet markets.
func (b *Builder) FlushAt(now time.Time, candleCh chan<- model.Candle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := markethours.SessionStart(now)
	nowBucket := (now.Unix() - start.Unix()) / b.tf
	for _, state := range b.states {
		if nowBucket <= state.bucket {
			continue
		}
		last, emitted := b.finalize(state, candleCh)
		gapFrom := state.bucket
		if emitted {
			gapFrom++
		}
		b.fillGaps(state, gapFrom, nowBucket, start, last, candleCh)
		// Keep the state so lastClose survives for gap fill. The forming
		// bar is cleared; the next tick or flush starts from nowBucket.
		state.bucket = nowBucket
		state.candle = model.Candle{}
		state.lastClose = last
	}
}

// FlushAll finalizes every forming bar regardless of bucket. Used on shutdown.
func (b *Builder) FlushAll(candleCh chan<- model.Candle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, state := range b.states {
		if state.candle.TicksCount > 0 {
			b.finalize(state, candleCh)
		}
		delete(b.states, key)
	}
}

// finalize marks the forming bar Final and emits it. Returns the close to
// carry forward and whether a real candle was emitted (a zero-tick bar is
// left to the synthetic gap fill instead).
func (b *Builder) finalize(state *barState, candleCh chan<- model.Candle) (int64, bool) {
	if state.candle.TicksCount == 0 {
		return state.lastClose, false
	}
	state.candle.Final = true
	b.emit(state.candle, candleCh)
	state.lastClose = state.candle.Close
	return state.candle.Close, true
}

// fillGaps emits synthetic candles for buckets [from, to) with OHLC pinned
// to the prior close and zero volume. Skipped when no close exists yet
// (no real candle has been finalized for this instrument).
func (b *Builder) fillGaps(state *barState, from, to int64, start time.Time, close int64, candleCh chan<- model.Candle) {
	if close == 0 {
		return
	}
	for bk := from; bk < to; bk++ {
		c := model.Candle{
			Token:     state.token,
			Exchange:  state.exchange,
			TS:        start.Add(time.Duration(bk*b.tf) * time.Second).UTC(),
			TF:        int(b.tf),
			Open:      close,
			High:      close,
			Low:       close,
			Close:     close,
			Synthetic: true,
			Final:     true,
		}
		b.emit(c, candleCh)
		if b.OnGapCandle != nil {
			b.OnGapCandle()
		}
	}
}

// emit sends a finalized candle to candleCh. Non-blocking to avoid deadlocks.
func (b *Builder) emit(c model.Candle, candleCh chan<- model.Candle) {
	select {
	case candleCh <- c:
	default:
		log.Printf("[candle] candleCh full, dropping candle %s ts=%v", c.Key(), c.TS)
	}
}
