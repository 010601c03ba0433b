package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"depth-safety-alerts/internal/geo"
	"depth-safety-alerts/internal/grid"
	"depth-safety-alerts/internal/model"
)

const (
	// applyCellSampleSQL folds one sample into its cell in a single atomic
	// statement. The incremental statistics are computed in the SET clause
	// so concurrent writers to the same cell serialize on the row instead
	// of racing a SELECT-then-UPDATE.
	applyCellSampleSQL = `INSERT INTO grid_cells (
        resolution,
        cell_lat,
        cell_lon,
        reading_count,
        avg_depth,
        min_depth,
        max_depth,
        sum_squares,
        avg_confidence,
        max_confidence,
        earliest_ts,
        latest_ts,
        crowd_count,
        official_count,
        predicted_count
    ) VALUES (
        $1,$2,$3,1,$4,$4,$4,$5,$6,$6,$7,$7,$8,$9,$10
    )
    ON CONFLICT (resolution, cell_lat, cell_lon) DO UPDATE
    SET
        reading_count   = grid_cells.reading_count + 1,
        avg_depth       = (grid_cells.avg_depth * grid_cells.reading_count + EXCLUDED.avg_depth)
                          / (grid_cells.reading_count + 1),
        min_depth       = LEAST(grid_cells.min_depth, EXCLUDED.min_depth),
        max_depth       = GREATEST(grid_cells.max_depth, EXCLUDED.max_depth),
        sum_squares     = grid_cells.sum_squares + EXCLUDED.sum_squares,
        avg_confidence  = (grid_cells.avg_confidence * grid_cells.reading_count + EXCLUDED.avg_confidence)
                          / (grid_cells.reading_count + 1),
        max_confidence  = GREATEST(grid_cells.max_confidence, EXCLUDED.max_confidence),
        earliest_ts     = LEAST(grid_cells.earliest_ts, EXCLUDED.earliest_ts),
        latest_ts       = GREATEST(grid_cells.latest_ts, EXCLUDED.latest_ts),
        crowd_count     = grid_cells.crowd_count + EXCLUDED.crowd_count,
        official_count  = grid_cells.official_count + EXCLUDED.official_count,
        predicted_count = grid_cells.predicted_count + EXCLUDED.predicted_count;`

	listCellsSQL = `SELECT
        resolution, cell_lat, cell_lon, reading_count, avg_depth, min_depth,
        max_depth, sum_squares, avg_confidence, max_confidence, earliest_ts,
        latest_ts, crowd_count, official_count, predicted_count
    FROM grid_cells
    WHERE resolution = $1
      AND cell_lat <= $2 AND cell_lat >= $3
      AND cell_lon >= $4 AND cell_lon <= $5
    ORDER BY cell_lat, cell_lon;`
)

// CellStore persists grid cell aggregates.
type CellStore interface {
	ApplyCellSample(ctx context.Context, resolution float64, sample grid.Sample) error
	ListCells(ctx context.Context, resolution float64, bounds geo.BoundingBox) ([]GridCellRecord, error)
}

// maxCellRetries bounds optimistic retries on serialization conflicts.
const maxCellRetries = 3

// ApplyCellSample atomically folds one sample into the cell for the given
// resolution. Serialization conflicts are retried a bounded number of
// times rather than dropped.
func (s *Store) ApplyCellSample(ctx context.Context, resolution float64, sample grid.Sample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	key := grid.Snap(sample.Location, resolution)
	depth := decimal.NewFromFloat(sample.Depth).String()
	sumSquares := decimal.NewFromFloat(sample.Depth * sample.Depth).String()

	crowd, official, predicted := 0, 0, 0
	switch sample.Source {
	case model.SourceCrowd:
		crowd = 1
	case model.SourceOfficial:
		official = 1
	case model.SourcePredicted:
		predicted = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxCellRetries; attempt++ {
		_, execErr := pool.Exec(ctx, applyCellSampleSQL,
			resolution,
			key.Lat,
			key.Lon,
			depth,
			sumSquares,
			sample.Confidence,
			sample.Timestamp,
			crowd,
			official,
			predicted,
		)
		if execErr == nil {
			return nil
		}
		lastErr = execErr
		if !isSerializationError(execErr) {
			break
		}
	}
	return fmt.Errorf("apply cell sample: %w", lastErr)
}

// ListCells lists persisted cells at a resolution whose corner lies in the box.
func (s *Store) ListCells(ctx context.Context, resolution float64, bounds geo.BoundingBox) ([]GridCellRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listCellsSQL,
		resolution, bounds.North, bounds.South, bounds.West, bounds.East)
	if queryErr != nil {
		return nil, fmt.Errorf("list cells: %w", queryErr)
	}
	defer rows.Close()

	records := make([]GridCellRecord, 0)
	for rows.Next() {
		var (
			rec                                   GridCellRecord
			avgStr, minStr, maxStr, sumSquaresStr string
		)
		if err := rows.Scan(
			&rec.Resolution,
			&rec.CellLat,
			&rec.CellLon,
			&rec.ReadingCount,
			&avgStr,
			&minStr,
			&maxStr,
			&sumSquaresStr,
			&rec.AvgConfidence,
			&rec.MaxConfidence,
			&rec.Earliest,
			&rec.Latest,
			&rec.CrowdCount,
			&rec.OfficialCount,
			&rec.PredictCount,
		); err != nil {
			return nil, err
		}

		var convErr error
		if rec.AvgDepth, convErr = decimal.NewFromString(avgStr); convErr != nil {
			return nil, fmt.Errorf("parse avg depth: %w", convErr)
		}
		if rec.MinDepth, convErr = decimal.NewFromString(minStr); convErr != nil {
			return nil, fmt.Errorf("parse min depth: %w", convErr)
		}
		if rec.MaxDepth, convErr = decimal.NewFromString(maxStr); convErr != nil {
			return nil, fmt.Errorf("parse max depth: %w", convErr)
		}
		if rec.SumSquares, convErr = decimal.NewFromString(sumSquaresStr); convErr != nil {
			return nil, fmt.Errorf("parse sum squares: %w", convErr)
		}

		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// isSerializationError detects postgres serialization/deadlock failures
// worth an optimistic retry.
func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
