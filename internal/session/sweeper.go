package session

import (
	"context"
	"log/slog"
	"time"
)

// Sweep deletes sessions idle for longer than idle and returns how many
// were removed. Sessions with a turn in flight are skipped.
func (s *Store) Sweep(idle time.Duration) int {
	if idle <= 0 {
		return 0
	}
	cutoff := s.now().Add(-idle)

	s.mu.RLock()
	candidates := make(map[string]*entry)
	for id, e := range s.entries {
		candidates[id] = e
	}
	s.mu.RUnlock()

	removed := 0
	for id, e := range candidates {
		if !e.turn.TryLock() {
			continue
		}
		e.mu.RLock()
		expired := e.snap.UpdatedAt.Before(cutoff)
		e.mu.RUnlock()
		if expired && s.Delete(id) {
			removed++
		}
		e.turn.Unlock()
	}
	return removed
}

// StartSweeper periodically evicts idle sessions until ctx is done.
// onEvict, if set, receives the number of sessions removed per pass.
func (s *Store) StartSweeper(ctx context.Context, interval, idle time.Duration, onEvict func(int)) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		s.logger.Info("Session sweeper started", "interval", interval, "idle_ttl", idle)

		for {
			select {
			case <-ticker.C:
				n := s.Sweep(idle)
				if n > 0 {
					s.logger.Info("Session sweeper evicted idle sessions", "count", n, "remaining", s.Len())
				}
				if onEvict != nil {
					onEvict(n)
				}
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
