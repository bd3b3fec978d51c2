// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/melon-hub/melon-rank/internal/domain/progression"
	"github.com/melon-hub/melon-rank/internal/domain/shared"
	"github.com/melon-hub/melon-rank/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// FLUSH
// Persists a snapshot of the in-memory table. Every award path ends here:
// one flush per chat award, one flush per voice tick.
// ══════════════════════════════════════════════════════════════════════════════

// Flusher writes engine snapshots to the store one at a time.
type Flusher struct {
	engine         *progression.Engine
	store          progression.Store
	eventPublisher shared.EventPublisher
	logger         *slog.Logger
	storeName      string

	// mu keeps snapshots reaching the store in the order they were taken.
	mu sync.Mutex

	lastFlush time.Time
	lastErr   error
}

// NewFlusher creates a Flusher. eventPublisher may be nil.
func NewFlusher(
	engine *progression.Engine,
	store progression.Store,
	eventPublisher shared.EventPublisher,
	log *slog.Logger,
) *Flusher {
	name := "store"
	if n, ok := store.(interface{ Name() string }); ok {
		name = n.Name()
	}
	return &Flusher{
		engine:         engine,
		store:          store,
		eventPublisher: eventPublisher,
		logger:         logger.OrDefault(log),
		storeName:      name,
	}
}

// Flush saves the current table. On failure the error is logged and
// returned; the in-memory table stays authoritative.
func (f *Flusher) Flush(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	start := time.Now()
	snapshot := f.engine.Snapshot()

	if err := f.store.SaveAll(ctx, snapshot); err != nil {
		f.lastErr = err
		f.logger.Error("failed to persist progression snapshot",
			"store", f.storeName,
			"records", len(snapshot),
			logger.Err(err),
		)
		return err
	}

	elapsed := time.Since(start)
	f.lastFlush = start
	f.lastErr = nil

	f.logger.Debug("progression snapshot persisted",
		"store", f.storeName,
		"records", len(snapshot),
		logger.Duration("duration", elapsed),
	)
	publish(f.eventPublisher, f.logger, shared.NewSnapshotFlushedEvent(f.storeName, len(snapshot), elapsed))
	return nil
}

// LastFlush returns the time of the last successful flush and the error of
// the most recent attempt.
func (f *Flusher) LastFlush() (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastFlush, f.lastErr
}

// publish sends events, logging failures. A nil publisher is a no-op.
func publish(p shared.EventPublisher, log *slog.Logger, events ...shared.Event) {
	if p == nil {
		return
	}
	for _, event := range events {
		if err := p.Publish(event); err != nil {
			log.Warn("failed to publish event",
				"event_type", event.EventType(),
				logger.Err(err),
			)
		}
	}
}
