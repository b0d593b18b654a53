package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
)

// CleanupService periodically removes archived transfer logs older than the
// retention period.
type CleanupService struct {
	store     Store
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	done      chan struct{}
}

func NewCleanupService(store Store, retention, interval time.Duration) *CleanupService {
	return &CleanupService{
		store:     store,
		retention: retention,
		interval:  interval,
		now:       time.Now,
		done:      make(chan struct{}),
	}
}

// Start begins the cleanup loop in a background goroutine.
func (cs *CleanupService) Start(ctx context.Context) {
	slog.Info("archive cleanup started", "interval", cs.interval, "retention", cs.retention)

	go func() {
		defer close(cs.done)

		ticker := time.NewTicker(cs.interval)
		defer ticker.Stop()

		cs.runCleanup()

		for {
			select {
			case <-ticker.C:
				cs.runCleanup()
			case <-ctx.Done():
				slog.Info("archive cleanup stopping")
				return
			}
		}
	}()
}

// Wait blocks until the cleanup service has fully stopped.
func (cs *CleanupService) Wait() {
	<-cs.done
}

func (cs *CleanupService) runCleanup() {
	entries, err := cs.store.List()
	if err != nil {
		slog.Error("failed to list archived logs", "error", err)
		return
	}

	cutoff := cs.now().Add(-cs.retention)
	var removed, failed int
	var freed int64
	for _, e := range entries {
		if !e.ModTime.Before(cutoff) {
			// Entries are oldest first.
			break
		}
		if err := cs.store.Delete(e.Digest); err != nil {
			slog.Error("failed to delete archived log", "digest", e.Digest, "error", err)
			failed++
			continue
		}
		removed++
		freed += e.Size
	}

	if removed > 0 || failed > 0 {
		slog.Info("archive cleanup cycle complete",
			"removed", removed,
			"failed", failed,
			"freed", humanize.Bytes(uint64(freed)),
		)
	}
}
