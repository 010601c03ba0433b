package app

import (
	"context"
	"fmt"
	"os"

	"depth-safety-alerts/internal/geo"
	"depth-safety-alerts/internal/model"
	"depth-safety-alerts/internal/queue"
)

// Submit records one crowdsourced depth reading. When the database is
// unreachable the reading lands in the offline sync queue instead.
func (a *App) Submit(ctx context.Context, opts SubmitOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("database not configured; cannot submit")
	}
	if closeStore != nil {
		defer closeStore()
	}

	syncer := queue.NewSyncer(store, queue.SubmitterFunc(store.InsertReading), queue.Options{
		BatchSize:   a.Config.Queue.BatchSize,
		MaxAttempts: a.Config.Queue.MaxAttempts,
		BaseDelay:   a.Config.Queue.BaseDelay,
		Retention:   a.Config.Queue.Retention,
	}, a.Logger)

	svc := a.newIngest(store, syncer)

	src := model.SourceCrowd
	if opts.Source != "" {
		src = model.Source(opts.Source)
	}

	reading := model.DepthReading{
		Location:    geo.Point{Lat: opts.Lat, Lon: opts.Lon},
		DepthMeters: opts.DepthMeters,
		DraftMeters: opts.DraftMeters,
		Confidence:  opts.Confidence,
		Source:      src,
	}
	if opts.Method != "" || opts.Notes != "" {
		reading.Metadata = &model.ReadingMetadata{Method: opts.Method, Notes: opts.Notes}
	}

	result, err := svc.Submit(ctx, reading)
	if err != nil {
		return err
	}

	state := "stored"
	if result.Queued {
		state = "queued for sync"
	}
	fmt.Fprintf(os.Stdout, "reading %s %s at %s\n", result.ReadingID, state, result.SubmittedAt.Format("2006-01-02 15:04:05 MST"))
	return nil
}
