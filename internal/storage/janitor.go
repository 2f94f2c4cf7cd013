package storage

import (
	"context"
	"log/slog"
	"time"
)

// RunJanitor deletes expired entries every interval until ctx is done.
// onSweep, if set, receives the entry count after each sweep.
func RunJanitor(ctx context.Context, s Store, interval time.Duration, logger *slog.Logger, onSweep func(n int)) {
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			deleted, err := s.DeleteExpired(now)
			if err != nil {
				logger.Error("expire results failed", "err", err)
				continue
			}
			if deleted > 0 {
				logger.Debug("expired results", "deleted", deleted)
			}
			if onSweep != nil {
				if n, err := s.Len(); err == nil {
					onSweep(n)
				}
			}
		}
	}
}
