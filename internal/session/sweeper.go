package session

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often the background sweeper runs.
const DefaultSweepInterval = 5 * time.Minute

// SweepCallback is called after each sweep that removed sessions.
type SweepCallback func(removed int)

// StartSweeper runs a background goroutine that periodically removes expired
// sessions until ctx is canceled. The returned channel is closed once the
// goroutine has exited.
func StartSweeper(ctx context.Context, store *Store, interval time.Duration, onSweep SweepCallback) <-chan struct{} {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", interval, "ttl", store.TTL())

		for {
			select {
			case <-ticker.C:
				sweep(store, onSweep)
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
	return done
}

func sweep(store *Store, onSweep SweepCallback) {
	removed := store.SweepExpired(store.now())
	if removed == 0 {
		return
	}
	slog.Info("Session sweeper removed expired sessions", "count", removed, "remaining", store.Len())
	if onSweep != nil {
		onSweep(removed)
	}
}
