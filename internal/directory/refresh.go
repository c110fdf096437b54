package directory

import (
	"context"
	"time"
)

// Start runs SyncIfNeeded every interval until ctx is done. onSynced is called after
// each sync that actually wrote new data.
func (s *Syncer) Start(ctx context.Context, interval time.Duration, onSynced func(SyncResult)) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.log.Info("directory refresher stopping")
				return
			case <-ticker.C:
				res, err := s.SyncIfNeeded(ctx)
				if err != nil {
					s.log.Warnf("scheduled ticker sync failed: %v", err)
					continue
				}
				if res.Status == Synced && onSynced != nil {
					onSynced(res)
				}
			}
		}
	}()
}
