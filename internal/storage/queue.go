package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"depth-safety-alerts/internal/geo"
	"depth-safety-alerts/internal/model"
)

const (
	enqueueReadingSQL = `INSERT INTO sync_queue (
        reading_id,
        payload,
        state,
        attempts,
        next_attempt_at,
        enqueued_at
    ) VALUES (
        $1,$2,'pending',0,$3,$3
    )
    ON CONFLICT (reading_id) DO NOTHING;`

	// claimBatchSQL atomically flips a bounded batch of due items to
	// syncing. SKIP LOCKED keeps concurrent drain workers from claiming
	// the same rows. Rows whose claim lease expired (a drain that died
	// mid-flight) are reclaimed alongside pending and failed rows.
	claimBatchSQL = `UPDATE sync_queue
    SET state = 'syncing', claimed_at = $1
    WHERE reading_id IN (
        SELECT reading_id FROM sync_queue
        WHERE (
            (state IN ('pending', 'failed') AND next_attempt_at <= $1)
            OR (state = 'syncing' AND claimed_at <= $2)
        )
        ORDER BY enqueued_at
        LIMIT $3
        FOR UPDATE SKIP LOCKED
    )
    RETURNING reading_id, payload, state, attempts, last_error, next_attempt_at, enqueued_at, claimed_at, synced_at;`

	markSyncedSQL = `UPDATE sync_queue
    SET state = 'synced', synced_at = $2, last_error = NULL
    WHERE reading_id = $1;`

	markFailedSQL = `UPDATE sync_queue
    SET state = 'failed', attempts = attempts + 1, last_error = $2, next_attempt_at = $3
    WHERE reading_id = $1;`

	purgeSyncedSQL = `DELETE FROM sync_queue
    WHERE state = 'synced' AND synced_at < $1;`

	countQueueByStateSQL = `SELECT state, COUNT(*) FROM sync_queue GROUP BY state;`
)

// QueueStore persists the offline submission queue.
type QueueStore interface {
	EnqueueReading(ctx context.Context, reading model.DepthReading) error
	ClaimBatch(ctx context.Context, now, staleBefore time.Time, limit int) ([]QueueItem, error)
	MarkSynced(ctx context.Context, readingID string, at time.Time) error
	MarkFailed(ctx context.Context, readingID, errMsg string, nextAttempt time.Time) error
	PurgeSynced(ctx context.Context, olderThan time.Time) error
	QueueDepths(ctx context.Context) (map[QueueState]int64, error)
}

type queuedReadingPayload struct {
	ID          string    `json:"id"`
	Lat         float64   `json:"lat"`
	Lon         float64   `json:"lon"`
	DepthMeters float64   `json:"depth_m"`
	Timestamp   time.Time `json:"timestamp"`
	DraftMeters float64   `json:"draft_m"`
	Confidence  float64   `json:"confidence"`
	Source      string    `json:"source"`
	GPSAccuracy float64   `json:"gps_accuracy_m,omitempty"`
	Method      string    `json:"method,omitempty"`
	Notes       string    `json:"notes,omitempty"`
}

// EnqueueReading stores a reading for later sync. Enqueueing the same
// reading id twice is a no-op.
func (s *Store) EnqueueReading(ctx context.Context, reading model.DepthReading) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	payload := queuedReadingPayload{
		ID:          reading.ID,
		Lat:         reading.Location.Lat,
		Lon:         reading.Location.Lon,
		DepthMeters: reading.DepthMeters,
		Timestamp:   reading.Timestamp,
		DraftMeters: reading.DraftMeters,
		Confidence:  reading.Confidence,
		Source:      string(reading.Source),
	}
	if reading.Metadata != nil {
		payload.GPSAccuracy = reading.Metadata.GPSAccuracyMeters
		payload.Method = reading.Metadata.Method
		payload.Notes = reading.Metadata.Notes
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal queued reading: %w", err)
	}

	if _, execErr := pool.Exec(ctx, enqueueReadingSQL, reading.ID, body, time.Now().UTC()); execErr != nil {
		return fmt.Errorf("enqueue reading: %w", execErr)
	}
	return nil
}

// ClaimBatch atomically claims up to limit due items for syncing. Items
// already in syncing whose claim predates staleBefore are treated as
// abandoned and claimed again.
func (s *Store) ClaimBatch(ctx context.Context, now, staleBefore time.Time, limit int) ([]QueueItem, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 25
	}

	rows, queryErr := pool.Query(ctx, claimBatchSQL, now, staleBefore, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("claim queue batch: %w", queryErr)
	}
	defer rows.Close()

	items := make([]QueueItem, 0, limit)
	for rows.Next() {
		var (
			item    QueueItem
			body    []byte
			state   string
			lastErr *string
		)
		if err := rows.Scan(
			&item.ReadingID,
			&body,
			&state,
			&item.Attempts,
			&lastErr,
			&item.NextAttemptAt,
			&item.EnqueuedAt,
			&item.ClaimedAt,
			&item.SyncedAt,
		); err != nil {
			return nil, err
		}
		item.State = QueueState(state)
		if lastErr != nil {
			item.LastError = *lastErr
		}

		var payload queuedReadingPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, fmt.Errorf("unmarshal queued reading %s: %w", item.ReadingID, err)
		}
		item.Reading = model.DepthReading{
			ID:          payload.ID,
			Location:    geo.Point{Lat: payload.Lat, Lon: payload.Lon},
			DepthMeters: payload.DepthMeters,
			Timestamp:   payload.Timestamp,
			DraftMeters: payload.DraftMeters,
			Confidence:  payload.Confidence,
			Source:      model.Source(payload.Source),
		}
		if payload.GPSAccuracy > 0 || payload.Method != "" || payload.Notes != "" {
			item.Reading.Metadata = &model.ReadingMetadata{
				GPSAccuracyMeters: payload.GPSAccuracy,
				Method:            payload.Method,
				Notes:             payload.Notes,
			}
		}

		items = append(items, item)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}

// MarkSynced finalises a queued item after successful submission.
func (s *Store) MarkSynced(ctx context.Context, readingID string, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, markSyncedSQL, readingID, at); execErr != nil {
		return fmt.Errorf("mark synced: %w", execErr)
	}
	return nil
}

// MarkFailed records a failed attempt and schedules the next one.
func (s *Store) MarkFailed(ctx context.Context, readingID, errMsg string, nextAttempt time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, markFailedSQL, readingID, errMsg, nextAttempt); execErr != nil {
		return fmt.Errorf("mark failed: %w", execErr)
	}
	return nil
}

// PurgeSynced removes synced items older than the retention cutoff.
func (s *Store) PurgeSynced(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, purgeSyncedSQL, olderThan); execErr != nil {
		return fmt.Errorf("purge synced: %w", execErr)
	}
	return nil
}

// QueueDepths reports the number of items in each state.
func (s *Store) QueueDepths(ctx context.Context) (map[QueueState]int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, countQueueByStateSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("count queue states: %w", queryErr)
	}
	defer rows.Close()

	depths := make(map[QueueState]int64)
	for rows.Next() {
		var state string
		var count int64
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		depths[QueueState(state)] = count
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return depths, nil
}
