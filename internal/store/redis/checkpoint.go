package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"scalpbotv1/internal/indicator"
	"scalpbotv1/internal/model"
	"scalpbotv1/internal/risk"
)

const (
	checkpointKey = "scalpbot:checkpoint"
	checkpointTTL = 18 * time.Hour // never survives into the next session
)

// Checkpoint is the warm-restart state: indicator internals and the
// day's loss ledger. A restart mid-session restores both so indicators
// need no re-warmup and the loss limit cannot be reset by a crash.
// A position still open at save time is recorded so a restart can flag
// it for reconciliation against the broker.
type Checkpoint struct {
	TradingDay string               `json:"trading_day"`
	SavedAt    time.Time            `json:"saved_at"`
	Indicators []indicator.Snapshot `json:"indicators"`
	Ledger     risk.LedgerState     `json:"ledger"`
	Position   *model.Position      `json:"position,omitempty"`
	Version    int                  `json:"version"`
}

// SaveCheckpoint writes the checkpoint. Errors are logged, not returned:
// a failed checkpoint must not interrupt trading.
func (w *Writer) SaveCheckpoint(ctx context.Context, cp Checkpoint) {
	cp.SavedAt = time.Now().UTC()
	cp.Version = 1

	b, err := json.Marshal(cp)
	if err != nil {
		log.Printf("[redis] checkpoint marshal error: %v", err)
		return
	}
	if err := w.client.Set(ctx, checkpointKey, b, checkpointTTL).Err(); err != nil {
		log.Printf("[redis] checkpoint save error: %v", err)
	}
}

// LoadCheckpoint reads the stored checkpoint. Returns (nil, nil) when no
// checkpoint exists.
func (w *Writer) LoadCheckpoint(ctx context.Context) (*Checkpoint, error) {
	b, err := w.client.Get(ctx, checkpointKey).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint get: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(b, &cp); err != nil {
		return nil, fmt.Errorf("checkpoint decode: %w", err)
	}
	return &cp, nil
}

// RunCheckpoints saves a checkpoint every interval using the snapshot
// function. Blocks until ctx is cancelled.
func (w *Writer) RunCheckpoints(ctx context.Context, interval time.Duration, snapshot func() Checkpoint) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final checkpoint on the way out.
			saveCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			w.SaveCheckpoint(saveCtx, snapshot())
			cancel()
			return
		case <-ticker.C:
			w.SaveCheckpoint(ctx, snapshot())
		}
	}
}
