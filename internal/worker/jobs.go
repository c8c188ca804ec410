package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrRunning is returned when a job of the same kind is already in flight.
var ErrRunning = errors.New("job already running")

const backfillKey = "embedding-backfill"

// BackfillRunner is satisfied by embedding.Indexer.
type BackfillRunner interface {
	Backfill(ctx context.Context) (int, error)
}

// Backfiller runs embedding backfills on the pool, at most one at a time.
type Backfiller struct {
	pool     *Pool
	locks    *KeyLock
	debounce *Debouncer
	runner   BackfillRunner
	timeout  time.Duration
}

func NewBackfiller(pool *Pool, locks *KeyLock, runner BackfillRunner, debounce time.Duration, timeout time.Duration) *Backfiller {
	return &Backfiller{
		pool:     pool,
		locks:    locks,
		debounce: NewDebouncer(debounce),
		runner:   runner,
		timeout:  timeout,
	}
}

// Trigger queues a backfill. It returns ErrRunning if one is queued or
// running, or the pool's error if the job cannot be queued.
func (b *Backfiller) Trigger() error {
	if !b.locks.TryLock(backfillKey) {
		return ErrRunning
	}
	err := b.pool.Submit(func(ctx context.Context) error {
		defer b.locks.Unlock(backfillKey)
		if b.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, b.timeout)
			defer cancel()
		}
		_, err := b.runner.Backfill(ctx)
		return err
	})
	if err != nil {
		b.locks.Unlock(backfillKey)
		return err
	}
	return nil
}

// Schedule triggers a backfill once writes have been quiet for the debounce
// delay.
func (b *Backfiller) Schedule() {
	b.debounce.Add(backfillKey, func() {
		if err := b.Trigger(); err != nil && !errors.Is(err, ErrRunning) {
			slog.Warn("scheduled backfill not queued", "error", err)
		}
	})
}

// Stop cancels a pending scheduled backfill.
func (b *Backfiller) Stop() {
	b.debounce.Stop()
}
