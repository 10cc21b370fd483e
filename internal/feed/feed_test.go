package feed

import (
	"context"
	"testing"
	"time"

	"scalpbotv1/internal/model"
	"scalpbotv1/internal/ringbuf"
)

func TestMockFeedThroughPump(t *testing.T) {
	ring := ringbuf.New(256)
	mock := NewMock(MockConfig{
		Token:      "26009",
		Exchange:   "NSE",
		StartPrice: 4500000,
		Interval:   time.Millisecond,
		Seed:       42,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan model.Tick, 64)
	go mock.Start(ctx, ring)
	go Pump(ctx, ring, out)

	var got []model.Tick
	deadline := time.After(2 * time.Second)
	for len(got) < 10 {
		select {
		case tk := <-out:
			got = append(got, tk)
		case <-deadline:
			t.Fatalf("only %d ticks arrived before deadline", len(got))
		}
	}

	for i, tk := range got {
		if tk.Token != "26009" || tk.Exchange != "NSE" {
			t.Fatalf("tick %d has wrong instrument: %+v", i, tk)
		}
		if tk.Price <= 0 {
			t.Fatalf("tick %d has non-positive price: %d", i, tk.Price)
		}
		if i > 0 && got[i].TickTS.Before(got[i-1].TickTS) {
			t.Fatalf("ticks out of order at %d", i)
		}
	}
}

func TestPumpStopsOnCancel(t *testing.T) {
	ring := ringbuf.New(16)
	ctx, cancel := context.WithCancel(context.Background())

	out := make(chan model.Tick)
	done := make(chan struct{})
	go func() {
		Pump(ctx, ring, out)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pump did not stop on context cancel")
	}
}
