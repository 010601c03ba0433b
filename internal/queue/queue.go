package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"depth-safety-alerts/internal/model"
	"depth-safety-alerts/internal/storage"
)

// Submitter delivers a queued reading to the upstream community store.
type Submitter interface {
	Submit(ctx context.Context, reading model.DepthReading) error
}

// SubmitterFunc adapts a function to the Submitter interface.
type SubmitterFunc func(ctx context.Context, reading model.DepthReading) error

// Submit implements Submitter.
func (f SubmitterFunc) Submit(ctx context.Context, reading model.DepthReading) error {
	return f(ctx, reading)
}

// Options tune the background syncer.
type Options struct {
	BatchSize   int
	Interval    time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	Retention   time.Duration
	// Lease bounds how long a claimed item may sit in syncing before a
	// later drain reclaims it. Protects against a process dying mid-batch.
	Lease time.Duration
}

func (o *Options) applyDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 25
	}
	if o.Interval <= 0 {
		o.Interval = 15 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 30 * time.Second
	}
	if o.Retention <= 0 {
		o.Retention = 7 * 24 * time.Hour
	}
	if o.Lease <= 0 {
		o.Lease = 5 * time.Minute
	}
}

// Syncer drains the offline submission queue in bounded batches.
// Items that keep failing back off exponentially and stay in the
// queue until they either sync or age past MaxAttempts, at which
// point they are parked far in the future rather than dropped.
type Syncer struct {
	store     storage.QueueStore
	submitter Submitter
	opts      Options
	logger    zerolog.Logger
	clock     func() time.Time
}

// NewSyncer constructs a Syncer.
func NewSyncer(store storage.QueueStore, submitter Submitter, opts Options, logger zerolog.Logger) *Syncer {
	opts.applyDefaults()
	return &Syncer{
		store:     store,
		submitter: submitter,
		opts:      opts,
		logger:    logger.With().Str("component", "queue").Logger(),
		clock:     time.Now,
	}
}

// WithClock overrides the time source for tests.
func (s *Syncer) WithClock(clock func() time.Time) *Syncer {
	s.clock = clock
	return s
}

// Enqueue stores a reading for deferred submission. Duplicate ids are
// ignored, so callers may retry freely.
func (s *Syncer) Enqueue(ctx context.Context, reading model.DepthReading) error {
	return s.store.EnqueueReading(ctx, reading)
}

// Run drains the queue on the configured interval until ctx is cancelled.
func (s *Syncer) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.DrainOnce(ctx); err != nil {
				s.logger.Error().Err(err).Msg("queue drain failed")
			}
		}
	}
}

// DrainOnce claims one batch of due items and attempts each submission.
// Returns the number of items successfully synced.
func (s *Syncer) DrainOnce(ctx context.Context) (int, error) {
	now := s.clock().UTC()

	items, err := s.store.ClaimBatch(ctx, now, now.Add(-s.opts.Lease), s.opts.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, s.store.PurgeSynced(ctx, now.Add(-s.opts.Retention))
	}

	synced := 0
	for _, item := range items {
		if err := s.submitter.Submit(ctx, item.Reading); err != nil {
			s.recordFailure(ctx, item, err)
			continue
		}
		if err := s.store.MarkSynced(ctx, item.ReadingID, s.clock().UTC()); err != nil {
			s.logger.Error().Err(err).Str("reading_id", item.ReadingID).Msg("mark synced failed")
			continue
		}
		synced++
	}

	s.logger.Info().
		Int("claimed", len(items)).
		Int("synced", synced).
		Msg("queue batch drained")

	if err := s.store.PurgeSynced(ctx, now.Add(-s.opts.Retention)); err != nil {
		s.logger.Warn().Err(err).Msg("purge synced failed")
	}
	return synced, nil
}

// Depths reports queue depth per state.
func (s *Syncer) Depths(ctx context.Context) (map[storage.QueueState]int64, error) {
	return s.store.QueueDepths(ctx)
}

func (s *Syncer) recordFailure(ctx context.Context, item storage.QueueItem, cause error) {
	attempts := item.Attempts + 1
	next := s.clock().UTC().Add(s.backoff(attempts))
	if attempts >= s.opts.MaxAttempts {
		// Parked: operator intervention required, item stays inspectable.
		next = s.clock().UTC().Add(365 * 24 * time.Hour)
		s.logger.Warn().
			Str("reading_id", item.ReadingID).
			Int("attempts", attempts).
			Err(cause).
			Msg("queued reading exhausted retry budget")
	}

	if err := s.store.MarkFailed(ctx, item.ReadingID, cause.Error(), next); err != nil {
		s.logger.Error().Err(err).Str("reading_id", item.ReadingID).Msg("mark failed errored")
	}
}

func (s *Syncer) backoff(attempts int) time.Duration {
	delay := s.opts.BaseDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay > time.Hour {
			return time.Hour
		}
	}
	return delay
}
