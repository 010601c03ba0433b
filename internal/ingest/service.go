package ingest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"depth-safety-alerts/internal/geo"
	"depth-safety-alerts/internal/grid"
	"depth-safety-alerts/internal/model"
	"depth-safety-alerts/internal/storage"
)

// Enqueuer defers a submission for later upstream sync.
type Enqueuer interface {
	Enqueue(ctx context.Context, reading model.DepthReading) error
}

// Options tune ingest behaviour.
type Options struct {
	SafetyMarginMeters float64
	StalenessWindow    time.Duration
}

func (o *Options) applyDefaults() {
	if o.SafetyMarginMeters <= 0 {
		o.SafetyMarginMeters = 0.5
	}
	if o.StalenessWindow <= 0 {
		o.StalenessWindow = 24 * time.Hour
	}
}

// Service accepts crowdsourced depth submissions and answers area queries.
type Service struct {
	readings storage.ReadingStore
	cells    storage.CellStore
	agg      *grid.Aggregator
	queue    Enqueuer
	opts     Options
	logger   zerolog.Logger
	clock    func() time.Time
}

// NewService constructs the ingest service. cells and queue may be nil
// when running without a database or offline sync.
func NewService(readings storage.ReadingStore, cells storage.CellStore, agg *grid.Aggregator, queue Enqueuer, opts Options, logger zerolog.Logger) *Service {
	opts.applyDefaults()
	return &Service{
		readings: readings,
		cells:    cells,
		agg:      agg,
		queue:    queue,
		opts:     opts,
		logger:   logger.With().Str("component", "ingest").Logger(),
		clock:    time.Now,
	}
}

// WithClock overrides the time source for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// SubmitResult acknowledges an accepted submission.
type SubmitResult struct {
	ReadingID   string
	SubmittedAt time.Time
	Queued      bool
}

// Submit validates and records a depth reading. Malformed readings are
// rejected outright, never silently coerced.
func (s *Service) Submit(ctx context.Context, reading model.DepthReading) (SubmitResult, error) {
	if reading.ID == "" {
		reading.ID = uuid.NewString()
	}
	if reading.Timestamp.IsZero() {
		reading.Timestamp = s.clock().UTC()
	}

	if err := reading.Validate(); err != nil {
		return SubmitResult{}, fmt.Errorf("invalid reading: %w", err)
	}

	result := SubmitResult{ReadingID: reading.ID, SubmittedAt: s.clock().UTC()}

	if s.readings != nil {
		if err := s.readings.InsertReading(ctx, reading); err != nil {
			// Persistence failure falls back to the offline queue.
			if s.queue == nil {
				return SubmitResult{}, err
			}
			if qErr := s.queue.Enqueue(ctx, reading); qErr != nil {
				return SubmitResult{}, fmt.Errorf("insert failed (%v), enqueue failed: %w", err, qErr)
			}
			result.Queued = true
			s.logger.Warn().Err(err).Str("reading_id", reading.ID).Msg("reading queued after insert failure")
		}
	} else if s.queue != nil {
		if err := s.queue.Enqueue(ctx, reading); err != nil {
			return SubmitResult{}, err
		}
		result.Queued = true
	}

	s.fold(ctx, reading)

	s.logger.Info().
		Str("reading_id", reading.ID).
		Float64("depth_m", reading.DepthMeters).
		Str("source", string(reading.Source)).
		Bool("queued", result.Queued).
		Msg("depth reading accepted")
	return result, nil
}

func (s *Service) fold(ctx context.Context, reading model.DepthReading) {
	sample := grid.Sample{
		Location:   reading.Location,
		Depth:      reading.DepthMeters,
		Confidence: reading.Confidence,
		Source:     reading.Source,
		Timestamp:  reading.Timestamp,
	}
	if s.agg != nil {
		s.agg.Add(sample)
	}
	if s.cells == nil || s.agg == nil {
		return
	}
	for _, res := range s.agg.Resolutions() {
		if err := s.cells.ApplyCellSample(ctx, res, sample); err != nil {
			s.logger.Error().Err(err).Float64("resolution", res).Msg("cell aggregate update failed")
		}
	}
}

// AreaQuery scopes an area data request.
type AreaQuery struct {
	Bounds        geo.BoundingBox
	VesselDraft   float64
	MinConfidence float64
	Limit         int
}

// AreaResult bundles readings, aggregates, and derived area quality.
type AreaResult struct {
	Readings         []model.DepthReading
	Cells            []storage.GridCellRecord
	SafetyWarnings   []string
	DataQualityScore float64
}

// DepthDataForArea returns raw readings and grid aggregates for a
// bounding box, with safety warnings relative to the given draft.
func (s *Service) DepthDataForArea(ctx context.Context, q AreaQuery) (AreaResult, error) {
	if err := q.Bounds.Validate(); err != nil {
		return AreaResult{}, err
	}
	if s.readings == nil {
		return AreaResult{}, storage.ErrNotConfigured
	}

	readings, err := s.readings.ListReadingsInBounds(ctx, q.Bounds, q.MinConfidence, q.Limit)
	if err != nil {
		return AreaResult{}, err
	}

	result := AreaResult{Readings: readings}

	if s.cells != nil && s.agg != nil {
		resolutions := s.agg.Resolutions()
		if len(resolutions) > 0 {
			// Finest resolution carries the most navigational detail.
			finest := resolutions[0]
			for _, res := range resolutions[1:] {
				if res < finest {
					finest = res
				}
			}
			cells, cellErr := s.cells.ListCells(ctx, finest, q.Bounds)
			if cellErr != nil {
				s.logger.Warn().Err(cellErr).Msg("cell listing failed")
			} else {
				result.Cells = cells
			}
		}
	}

	result.SafetyWarnings = s.warningsFor(readings, q.VesselDraft)
	result.DataQualityScore = s.areaQuality(readings)
	return result, nil
}

// NearbyReading pairs a reading with its distance from a query point.
type NearbyReading struct {
	Reading   model.DepthReading
	DistanceM float64
}

// Nearest returns readings within radius of center, closest first.
func (s *Service) Nearest(ctx context.Context, center geo.Point, radiusMeters float64, limit int) ([]NearbyReading, error) {
	if s.readings == nil {
		return nil, storage.ErrNotConfigured
	}
	readings, distances, err := s.readings.NearestReadings(ctx, center, radiusMeters, limit)
	if err != nil {
		return nil, err
	}
	nearby := make([]NearbyReading, 0, len(readings))
	for i, r := range readings {
		nearby = append(nearby, NearbyReading{Reading: r, DistanceM: distances[i]})
	}
	sort.SliceStable(nearby, func(i, j int) bool { return nearby[i].DistanceM < nearby[j].DistanceM })
	return nearby, nil
}

func (s *Service) warningsFor(readings []model.DepthReading, draft float64) []string {
	if draft <= 0 {
		return nil
	}
	var warnings []string
	for _, r := range readings {
		clearance := r.DepthMeters - draft
		if clearance < s.opts.SafetyMarginMeters {
			warnings = append(warnings, fmt.Sprintf(
				"reading %s at (%.5f, %.5f): depth %.2fm leaves %.2fm under keel",
				r.ID, r.Location.Lat, r.Location.Lon, r.DepthMeters, clearance))
		}
	}
	return warnings
}

// areaQuality blends average confidence with freshness coverage into a
// 0..100 score for the area as a whole.
func (s *Service) areaQuality(readings []model.DepthReading) float64 {
	if len(readings) == 0 {
		return 0
	}
	now := s.clock().UTC()
	var confSum, freshSum float64
	for _, r := range readings {
		confSum += r.Confidence
		age := now.Sub(r.Timestamp)
		switch {
		case age <= 0:
			freshSum += 1
		case age >= s.opts.StalenessWindow:
			// stale readings contribute nothing to freshness
		default:
			freshSum += 1 - age.Seconds()/s.opts.StalenessWindow.Seconds()
		}
	}
	n := float64(len(readings))
	score := (confSum/n*0.6 + freshSum/n*0.4) * 100
	if score > 100 {
		score = 100
	}
	return score
}
