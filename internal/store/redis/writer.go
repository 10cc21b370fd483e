// Package redis publishes live pipeline state (candles, signals, trades)
// to Redis for dashboards and stores the warm-restart checkpoint.
//
// Redis is a live transport here, not a system of record: every write
// degrades gracefully, and a dead Redis never stops the trading loop.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"scalpbotv1/internal/model"
	"scalpbotv1/internal/position"
)

const (
	defaultLatestTTL = 30 * time.Minute

	signalStream = "scalpbot:signals"
	tradeStream  = "scalpbot:trades"
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer publishes candles, signals, and trades to Redis.
type Writer struct {
	client *goredis.Client
}

// New creates a Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{client: client}, nil
}

// Client returns the underlying client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// Run reads finalized candles from candleCh and writes them to Redis.
// Blocks until ctx is cancelled or candleCh is closed.
func (w *Writer) Run(ctx context.Context, candleCh <-chan model.Candle) {
	for {
		select {
		case <-ctx.Done():
			return
		case candle, ok := <-candleCh:
			if !ok {
				return
			}
			w.writeCandle(ctx, candle)
		}
	}
}

// writeCandle performs pipelined writes for one finalized candle:
// XADD to the capped stream, SET latest, PUBLISH for subscribers.
func (w *Writer) writeCandle(ctx context.Context, candle model.Candle) {
	suffix := fmt.Sprintf("%ds:%s:%s", candle.TF, candle.Exchange, candle.Token)
	jsonData := string(candle.JSON())

	// ~3h of candles per stream.
	maxLen := int64(10800 / max(candle.TF, 1))
	if maxLen < 200 {
		maxLen = 200
	}

	pipe := w.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: "candle:" + suffix,
		MaxLen: maxLen,
		Approx: true,
		Values: map[string]interface{}{"data": jsonData},
	})
	pipe.Set(ctx, "candle:latest:"+suffix, jsonData, defaultLatestTTL)
	pipe.Publish(ctx, "pub:candle:"+suffix, jsonData)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] candle pipeline error for %s: %v", candle.Key(), err)
	}
}

// PublishSignal records a strategy signal on the signal stream and pubsub.
func (w *Writer) PublishSignal(ctx context.Context, sig model.Signal) {
	jsonData := string(sig.JSON())

	pipe := w.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: signalStream,
		MaxLen: 1000,
		Approx: true,
		Values: map[string]interface{}{"data": jsonData},
	})
	pipe.Publish(ctx, "pub:"+signalStream, jsonData)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] signal pipeline error: %v", err)
	}
}

// PublishTrade records a closed round trip on the trade stream and pubsub.
func (w *Writer) PublishTrade(ctx context.Context, tr position.Trade) {
	b, err := json.Marshal(tr)
	if err != nil {
		log.Printf("[redis] trade marshal error: %v", err)
		return
	}
	jsonData := string(b)

	pipe := w.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: tradeStream,
		MaxLen: 1000,
		Approx: true,
		Values: map[string]interface{}{"data": jsonData},
	})
	pipe.Publish(ctx, "pub:"+tradeStream, jsonData)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] trade pipeline error: %v", err)
	}
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
