package ledger

import (
	"context"
	"time"
)

// pruneBatch bounds each delete so pruning never holds the write path
// for long.
const pruneBatch = 512

// PruneExpired removes expired rows from the durable ledger and dead
// entries from the recent set. Returns the number of durable rows
// removed. Loops in bounded batches until none remain.
func (l *Ledger) PruneExpired(ctx context.Context) (int64, error) {
	now := l.now()

	var total int64
	for {
		n, err := l.store.PruneNonces(ctx, now, pruneBatch)
		total += n
		if err != nil {
			return total, &StorageError{Op: "prune", Err: err}
		}
		if n < pruneBatch {
			break
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}

	cutoff := now.Unix()
	l.mu.Lock()
	for k, exp := range l.recent {
		if exp <= cutoff {
			delete(l.recent, k)
		}
	}
	l.mu.Unlock()

	if total > 0 {
		l.logger.Debug("pruned expired nonces", "removed", total)
	}
	return total, nil
}

// StartPruner runs PruneExpired on a fixed interval until ctx is
// canceled. The returned channel closes when the pruner goroutine
// exits. Prune failures are logged and the loop keeps going; a
// missed prune only delays reclamation, it never affects admission.
func (l *Ledger) StartPruner(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := l.PruneExpired(ctx); err != nil && ctx.Err() == nil {
					l.logger.Warn("nonce prune failed", "error", err)
				}
			}
		}
	}()
	return done
}
