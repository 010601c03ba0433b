package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"depth-safety-alerts/internal/queue"
	"depth-safety-alerts/internal/storage"
)

// DrainOptions configure the queue drain job.
type DrainOptions struct {
	DryRun   bool
	MaxLoops int
}

// Drain flushes the offline submission queue until it is empty.
func (a *App) Drain(ctx context.Context, opts DrainOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot drain queue")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.DryRun {
		depths, err := store.QueueDepths(ctx)
		if err != nil {
			return err
		}
		for state, count := range depths {
			fmt.Fprintf(os.Stdout, "%s: %d\n", state, count)
		}
		return nil
	}

	syncer := queue.NewSyncer(store, queue.SubmitterFunc(store.InsertReading), queue.Options{
		BatchSize:   a.Config.Queue.BatchSize,
		MaxAttempts: a.Config.Queue.MaxAttempts,
		BaseDelay:   a.Config.Queue.BaseDelay,
		Retention:   a.Config.Queue.Retention,
		Lease:       a.Config.Queue.Lease,
	}, a.Logger)

	maxLoops := opts.MaxLoops
	if maxLoops <= 0 {
		maxLoops = 100
	}

	total := 0
	for i := 0; i < maxLoops; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		synced, err := syncer.DrainOnce(ctx)
		if err != nil {
			return err
		}
		total += synced
		if synced == 0 {
			break
		}
	}

	depths, err := store.QueueDepths(ctx)
	if err != nil {
		return err
	}
	pending := depths[storage.QueuePending] + depths[storage.QueueFailed]

	a.Logger.Info().Int("synced", total).Int64("remaining", pending).Msg("queue drain complete")
	if pending > 0 {
		return fmt.Errorf("%d items still pending after drain", pending)
	}
	return nil
}
