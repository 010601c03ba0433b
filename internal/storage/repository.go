package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"depth-safety-alerts/internal/geo"
	"depth-safety-alerts/internal/model"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertReadingSQL = `INSERT INTO depth_readings (
        id,
        lat,
        lon,
        depth_m,
        reading_ts,
        draft_m,
        confidence,
        source,
        gps_accuracy_m,
        method,
        notes
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
    )
    ON CONFLICT (id) DO NOTHING;`

	listReadingsInBoundsSQL = `SELECT
        id, lat, lon, depth_m, reading_ts, draft_m, confidence, source,
        gps_accuracy_m, method, notes
    FROM depth_readings
    WHERE lat <= $1 AND lat >= $2
      AND lon >= $3 AND lon <= $4
      AND confidence >= $5
    ORDER BY reading_ts DESC
    LIMIT $6;`

	nearestReadingsSQL = `SELECT id, lat, lon, depth_m, reading_ts, draft_m, confidence, source,
        gps_accuracy_m, method, notes, distance_m
    FROM (
        SELECT *,
            2 * 6371000 * asin(sqrt(
                pow(sin(radians(lat - $1) / 2), 2) +
                cos(radians($1)) * cos(radians(lat)) *
                pow(sin(radians(lon - $2) / 2), 2)
            )) AS distance_m
        FROM depth_readings
    ) ranked
    WHERE distance_m <= $3
    ORDER BY distance_m
    LIMIT $4;`

	upsertProcessedSQL = `INSERT INTO processed_readings (
        reading_id,
        reading_ts,
        raw_depth_m,
        corrected_depth_m,
        safety_margin_m,
        tide_method,
        tide_height_m,
        station_id,
        station_distance_m,
        confidence,
        quality_overall,
        reliability,
        warnings,
        processed_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
    )
    ON CONFLICT (reading_id) DO UPDATE
    SET
        corrected_depth_m  = EXCLUDED.corrected_depth_m,
        safety_margin_m    = EXCLUDED.safety_margin_m,
        tide_method        = EXCLUDED.tide_method,
        tide_height_m      = EXCLUDED.tide_height_m,
        station_id         = EXCLUDED.station_id,
        station_distance_m = EXCLUDED.station_distance_m,
        confidence         = EXCLUDED.confidence,
        quality_overall    = EXCLUDED.quality_overall,
        reliability        = EXCLUDED.reliability,
        warnings           = EXCLUDED.warnings,
        processed_at       = EXCLUDED.processed_at;`

	listProcessedBetweenSQL = `SELECT
        reading_id, reading_ts, raw_depth_m, corrected_depth_m, safety_margin_m,
        tide_method, confidence, quality_overall, reliability, warnings, processed_at
    FROM processed_readings
    WHERE reading_ts >= $1
      AND reading_ts < $2
    ORDER BY reading_ts;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// ReadingStore defines raw depth reading persistence.
type ReadingStore interface {
	InsertReading(ctx context.Context, reading model.DepthReading) error
	ListReadingsInBounds(ctx context.Context, bounds geo.BoundingBox, minConfidence float64, limit int) ([]model.DepthReading, error)
	NearestReadings(ctx context.Context, center geo.Point, radiusMeters float64, limit int) ([]model.DepthReading, []float64, error)
}

// ProcessedStore defines processed reading persistence.
type ProcessedStore interface {
	UpsertProcessed(ctx context.Context, processed model.ProcessedDepthReading) error
	ListProcessedBetween(ctx context.Context, from, to time.Time) ([]ProcessedRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers for cross-process
// skip-if-running semantics.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to all pipeline tables.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

// InsertReading persists a raw reading. Re-inserting the same id is a no-op
// so queued submissions stay idempotent.
func (s *Store) InsertReading(ctx context.Context, reading model.DepthReading) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	depth := decimal.NewFromFloat(reading.DepthMeters).String()
	draft := decimal.NewFromFloat(reading.DraftMeters).String()

	var gpsAccuracy, method, notes interface{}
	if reading.Metadata != nil {
		if reading.Metadata.GPSAccuracyMeters > 0 {
			gpsAccuracy = reading.Metadata.GPSAccuracyMeters
		}
		if reading.Metadata.Method != "" {
			method = reading.Metadata.Method
		}
		if reading.Metadata.Notes != "" {
			notes = reading.Metadata.Notes
		}
	}

	_, execErr := pool.Exec(ctx, insertReadingSQL,
		reading.ID,
		reading.Location.Lat,
		reading.Location.Lon,
		depth,
		reading.Timestamp,
		draft,
		reading.Confidence,
		string(reading.Source),
		gpsAccuracy,
		method,
		notes,
	)
	if execErr != nil {
		return fmt.Errorf("insert reading: %w", execErr)
	}
	return nil
}

// ListReadingsInBounds lists readings inside the box at or above the
// confidence floor, newest first.
func (s *Store) ListReadingsInBounds(ctx context.Context, bounds geo.BoundingBox, minConfidence float64, limit int) ([]model.DepthReading, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 500
	}

	rows, queryErr := pool.Query(ctx, listReadingsInBoundsSQL,
		bounds.North, bounds.South, bounds.West, bounds.East, minConfidence, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list readings in bounds: %w", queryErr)
	}
	defer rows.Close()

	readings := make([]model.DepthReading, 0)
	for rows.Next() {
		reading, scanErr := scanReading(rows, false)
		if scanErr != nil {
			return nil, scanErr
		}
		readings = append(readings, reading)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return readings, nil
}

// NearestReadings returns readings within the radius ordered by distance,
// along with the matching distances in meters.
func (s *Store) NearestReadings(ctx context.Context, center geo.Point, radiusMeters float64, limit int) ([]model.DepthReading, []float64, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	rows, queryErr := pool.Query(ctx, nearestReadingsSQL, center.Lat, center.Lon, radiusMeters, limit)
	if queryErr != nil {
		return nil, nil, fmt.Errorf("nearest readings: %w", queryErr)
	}
	defer rows.Close()

	readings := make([]model.DepthReading, 0, limit)
	distances := make([]float64, 0, limit)
	for rows.Next() {
		reading, distance, scanErr := scanReadingWithDistance(rows)
		if scanErr != nil {
			return nil, nil, scanErr
		}
		readings = append(readings, reading)
		distances = append(distances, distance)
	}
	if rows.Err() != nil {
		return nil, nil, rows.Err()
	}
	return readings, distances, nil
}

// UpsertProcessed persists the pipeline output for a reading.
func (s *Store) UpsertProcessed(ctx context.Context, processed model.ProcessedDepthReading) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	rawDepth := decimal.NewFromFloat(processed.Reading.DepthMeters).String()
	corrected := decimal.NewFromFloat(processed.CorrectedDepth).String()
	margin := decimal.NewFromFloat(processed.SafetyMarginMeters).String()
	tideHeight := decimal.NewFromFloat(processed.Tide.TideHeightMeters).String()

	var stationID, stationDistance interface{}
	if processed.Tide.StationID != "" {
		stationID = processed.Tide.StationID
		stationDistance = processed.Tide.StationDistanceM
	}

	_, execErr := pool.Exec(ctx, upsertProcessedSQL,
		processed.Reading.ID,
		processed.Reading.Timestamp,
		rawDepth,
		corrected,
		margin,
		string(processed.Tide.Method),
		tideHeight,
		stationID,
		stationDistance,
		processed.CombinedConfidence(),
		processed.Quality.Overall,
		string(processed.Reliability),
		processed.Quality.Warnings,
		processed.ProcessedAt,
	)
	if execErr != nil {
		return fmt.Errorf("upsert processed reading: %w", execErr)
	}
	return nil
}

// ListProcessedBetween lists processed readings within a time window.
func (s *Store) ListProcessedBetween(ctx context.Context, from, to time.Time) ([]ProcessedRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listProcessedBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list processed between: %w", queryErr)
	}
	defer rows.Close()

	records := make([]ProcessedRecord, 0)
	for rows.Next() {
		var (
			rec          ProcessedRecord
			rawStr       string
			correctedStr string
			marginStr    string
		)
		if err := rows.Scan(
			&rec.ReadingID,
			&rec.Timestamp,
			&rawStr,
			&correctedStr,
			&marginStr,
			&rec.TideMethod,
			&rec.Confidence,
			&rec.QualityOverall,
			&rec.Reliability,
			&rec.Warnings,
			&rec.ProcessedAt,
		); err != nil {
			return nil, err
		}

		var convErr error
		rec.RawDepth, convErr = decimal.NewFromString(rawStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse raw depth: %w", convErr)
		}
		rec.CorrectedDepth, convErr = decimal.NewFromString(correctedStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse corrected depth: %w", convErr)
		}
		rec.SafetyMargin, convErr = decimal.NewFromString(marginStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse safety margin: %w", convErr)
		}

		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanReading(rows pgx.Rows, withDistance bool) (model.DepthReading, error) {
	reading, _, err := scanReadingFields(rows, withDistance)
	return reading, err
}

func scanReadingWithDistance(rows pgx.Rows) (model.DepthReading, float64, error) {
	return scanReadingFields(rows, true)
}

func scanReadingFields(rows pgx.Rows, withDistance bool) (model.DepthReading, float64, error) {
	var (
		id          string
		lat, lon    float64
		depthStr    string
		readingTS   time.Time
		draftStr    string
		confidence  float64
		source      string
		gpsAccuracy *float64
		method      *string
		notes       *string
		distance    float64
	)

	dest := []interface{}{&id, &lat, &lon, &depthStr, &readingTS, &draftStr, &confidence, &source, &gpsAccuracy, &method, &notes}
	if withDistance {
		dest = append(dest, &distance)
	}
	if err := rows.Scan(dest...); err != nil {
		return model.DepthReading{}, 0, err
	}

	depth, err := decimal.NewFromString(depthStr)
	if err != nil {
		return model.DepthReading{}, 0, fmt.Errorf("parse depth: %w", err)
	}
	draft, err := decimal.NewFromString(draftStr)
	if err != nil {
		return model.DepthReading{}, 0, fmt.Errorf("parse draft: %w", err)
	}

	reading := model.DepthReading{
		ID:          id,
		Location:    geo.Point{Lat: lat, Lon: lon},
		DepthMeters: depth.InexactFloat64(),
		Timestamp:   readingTS,
		DraftMeters: draft.InexactFloat64(),
		Confidence:  confidence,
		Source:      model.Source(source),
	}
	if gpsAccuracy != nil || method != nil || notes != nil {
		meta := &model.ReadingMetadata{}
		if gpsAccuracy != nil {
			meta.GPSAccuracyMeters = *gpsAccuracy
		}
		if method != nil {
			meta.Method = *method
		}
		if notes != nil {
			meta.Notes = *notes
		}
		reading.Metadata = meta
	}

	return reading, distance, nil
}
