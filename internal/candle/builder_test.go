package candle

import (
	"testing"
	"time"

	"scalpbotv1/internal/markethours"
	"scalpbotv1/internal/model"
)

// sessionTime returns a timestamp offset from the 9:15 IST session open
// on a regular trading day.
func sessionTime(offset time.Duration) time.Time {
	open := time.Date(2026, 8, 26, 9, 15, 0, 0, markethours.IST)
	return open.Add(offset)
}

func tick(price, qty int64, ts time.Time) model.Tick {
	return model.Tick{Token: "26009", Exchange: "NSE", Price: price, Qty: qty, TickTS: ts}
}

func drain(ch chan model.Candle) []model.Candle {
	var out []model.Candle
	for {
		select {
		case c := <-ch:
			out = append(out, c)
		default:
			return out
		}
	}
}

func TestBuilder_OHLCV(t *testing.T) {
	b := New(60)
	ch := make(chan model.Candle, 16)

	b.Ingest(tick(4500000, 15, sessionTime(10*time.Second)), ch)
	b.Ingest(tick(4510000, 30, sessionTime(20*time.Second)), ch)
	b.Ingest(tick(4490000, 15, sessionTime(30*time.Second)), ch)
	b.Ingest(tick(4505000, 45, sessionTime(50*time.Second)), ch)

	if got := drain(ch); len(got) != 0 {
		t.Fatalf("no candle should finalize mid-bucket, got %d", len(got))
	}

	// First tick of the next bucket finalizes the bar.
	b.Ingest(tick(4500000, 15, sessionTime(60*time.Second)), ch)

	got := drain(ch)
	if len(got) != 1 {
		t.Fatalf("expected 1 finalized candle, got %d", len(got))
	}
	c := got[0]
	if c.Open != 4500000 || c.High != 4510000 || c.Low != 4490000 || c.Close != 4505000 {
		t.Errorf("OHLC mismatch: %+v", c)
	}
	if c.Volume != 105 || c.TicksCount != 4 {
		t.Errorf("volume/ticks mismatch: vol=%d ticks=%d", c.Volume, c.TicksCount)
	}
	if !c.Final || c.Synthetic {
		t.Errorf("expected final non-synthetic candle, got final=%v synthetic=%v", c.Final, c.Synthetic)
	}
	wantTS := sessionTime(0).UTC()
	if !c.TS.Equal(wantTS) {
		t.Errorf("bucket not aligned to session start: got %v want %v", c.TS, wantTS)
	}
}

func TestBuilder_LateTickDropped(t *testing.T) {
	b := New(60)
	ch := make(chan model.Candle, 16)

	var dropped int
	b.OnDroppedTick = func() { dropped++ }

	b.Ingest(tick(4500000, 15, sessionTime(10*time.Second)), ch)
	b.Ingest(tick(4501000, 15, sessionTime(70*time.Second)), ch) // rolls over bucket 0

	finalized := drain(ch)
	if len(finalized) != 1 {
		t.Fatalf("expected 1 finalized candle, got %d", len(finalized))
	}

	// Tick for the already-finalized bucket must be dropped, not applied.
	b.Ingest(tick(9999999, 15, sessionTime(30*time.Second)), ch)

	if dropped != 1 {
		t.Errorf("expected 1 dropped tick, got %d", dropped)
	}
	if extra := drain(ch); len(extra) != 0 {
		t.Errorf("late tick must not produce candles, got %d", len(extra))
	}

	// The open bucket is unaffected by the dropped tick.
	b.Ingest(tick(4502000, 15, sessionTime(130*time.Second)), ch)
	got := drain(ch)
	if len(got) != 1 {
		t.Fatalf("expected 1 more finalized candle, got %d", len(got))
	}
	if got[0].High == 9999999 {
		t.Error("dropped tick leaked into the next candle")
	}
}

func TestBuilder_SyntheticGapFill(t *testing.T) {
	b := New(60)
	ch := make(chan model.Candle, 16)

	var gaps int
	b.OnGapCandle = func() { gaps++ }

	b.Ingest(tick(4500000, 15, sessionTime(10*time.Second)), ch)
	// Next tick lands three buckets later: buckets 1 and 2 had no ticks.
	b.Ingest(tick(4520000, 15, sessionTime(3*time.Minute+5*time.Second)), ch)

	got := drain(ch)
	if len(got) != 3 {
		t.Fatalf("expected 1 real + 2 synthetic candles, got %d", len(got))
	}
	if got[0].Synthetic {
		t.Error("first candle should be real")
	}
	for i, c := range got[1:] {
		if !c.Synthetic || !c.Final {
			t.Errorf("gap candle %d: synthetic=%v final=%v", i, c.Synthetic, c.Final)
		}
		if c.Open != 4500000 || c.Close != 4500000 || c.High != 4500000 || c.Low != 4500000 {
			t.Errorf("gap candle %d: OHLC should pin prior close, got %+v", i, c)
		}
		if c.Volume != 0 || c.TicksCount != 0 {
			t.Errorf("gap candle %d: must be zero volume, got vol=%d", i, c.Volume)
		}
	}
	if got[1].TS.After(got[2].TS) {
		t.Error("gap candles out of order")
	}
	if gaps != 2 {
		t.Errorf("expected 2 gap candles counted, got %d", gaps)
	}
}

func TestBuilder_FlushAtQuietMarket(t *testing.T) {
	b := New(60)
	ch := make(chan model.Candle, 16)

	b.Ingest(tick(4500000, 15, sessionTime(10*time.Second)), ch)

	// Rollover ticker fires with no new ticks: bar must close on time.
	b.FlushAt(sessionTime(65*time.Second), ch)

	got := drain(ch)
	if len(got) != 1 {
		t.Fatalf("expected 1 candle from flush, got %d", len(got))
	}
	if !got[0].Final || got[0].Close != 4500000 {
		t.Errorf("flushed candle wrong: %+v", got[0])
	}

	// Still quiet: next flush emits a synthetic bar for the empty bucket.
	b.FlushAt(sessionTime(125*time.Second), ch)
	got = drain(ch)
	if len(got) != 1 || !got[0].Synthetic {
		t.Fatalf("expected 1 synthetic candle, got %+v", got)
	}
	if got[0].Close != 4500000 {
		t.Errorf("synthetic close should carry forward, got %d", got[0].Close)
	}

	// A tick in the now-current bucket starts a fresh bar.
	b.Ingest(tick(4503000, 15, sessionTime(130*time.Second)), ch)
	b.Ingest(tick(4504000, 15, sessionTime(190*time.Second)), ch)
	got = drain(ch)
	if len(got) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(got))
	}
	if got[0].Open != 4503000 || got[0].Synthetic {
		t.Errorf("fresh bar after quiet flush wrong: %+v", got[0])
	}
}

func TestBuilder_FlushAllOnShutdown(t *testing.T) {
	b := New(60)
	ch := make(chan model.Candle, 16)

	b.Ingest(tick(4500000, 15, sessionTime(10*time.Second)), ch)
	b.FlushAll(ch)

	got := drain(ch)
	if len(got) != 1 {
		t.Fatalf("expected 1 candle on shutdown flush, got %d", len(got))
	}
	if !got[0].Final {
		t.Error("shutdown flush must finalize the candle")
	}
}
