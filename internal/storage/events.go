package storage

import (
	"context"
	"fmt"
	"time"
)

const (
	upsertAlertSQL = `INSERT INTO alerts (
        id,
        domain,
        cause,
        severity,
        title,
        message,
        lat,
        lon,
        status,
        broadcast_required,
        created_at,
        updated_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
    )
    ON CONFLICT (id) DO UPDATE
    SET severity   = EXCLUDED.severity,
        message    = EXCLUDED.message,
        status     = EXCLUDED.status,
        updated_at = EXCLUDED.updated_at;`

	listRecentAlertsSQL = `SELECT
        id, domain, cause, severity, title, message, lat, lon, status,
        broadcast_required, created_at, updated_at
    FROM alerts
    ORDER BY updated_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE updated_at < $1;`

	upsertIncidentSQL = `INSERT INTO incidents (
        id,
        incident_type,
        severity,
        lat,
        lon,
        vessel_name,
        call_sign,
        mmsi,
        persons_on_board,
        state,
        attempts,
        acknowledged_by,
        reported_at,
        updated_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
    )
    ON CONFLICT (id) DO UPDATE
    SET state           = EXCLUDED.state,
        attempts        = EXCLUDED.attempts,
        acknowledged_by = EXCLUDED.acknowledged_by,
        updated_at      = EXCLUDED.updated_at;`

	listOpenIncidentsSQL = `SELECT
        id, incident_type, severity, lat, lon, vessel_name, call_sign, mmsi,
        persons_on_board, state, attempts, acknowledged_by, reported_at, updated_at
    FROM incidents
    WHERE state NOT IN ('resolved', 'failed')
    ORDER BY reported_at;`
)

// AlertEventStore audits alert emissions.
type AlertEventStore interface {
	UpsertAlert(ctx context.Context, alert AlertRecord) error
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// IncidentStore persists emergency incident lifecycles.
type IncidentStore interface {
	UpsertIncident(ctx context.Context, incident IncidentRecord) error
	ListOpenIncidents(ctx context.Context) ([]IncidentRecord, error)
}

// UpsertAlert persists or refreshes an alert audit row.
func (s *Store) UpsertAlert(ctx context.Context, alert AlertRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertAlertSQL,
		alert.ID,
		alert.Domain,
		alert.Cause,
		alert.Severity,
		alert.Title,
		alert.Message,
		alert.Lat,
		alert.Lon,
		alert.Status,
		alert.BroadcastRequired,
		alert.CreatedAt,
		alert.UpdatedAt,
	)
	if execErr != nil {
		return fmt.Errorf("upsert alert: %w", execErr)
	}
	return nil
}

// ListRecentAlerts lists the most recently touched alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		var rec AlertRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.Domain,
			&rec.Cause,
			&rec.Severity,
			&rec.Title,
			&rec.Message,
			&rec.Lat,
			&rec.Lon,
			&rec.Status,
			&rec.BroadcastRequired,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		); err != nil {
			return nil, err
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

// UpsertIncident persists or refreshes an incident row.
func (s *Store) UpsertIncident(ctx context.Context, incident IncidentRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertIncidentSQL,
		incident.ID,
		incident.Type,
		incident.Severity,
		incident.Lat,
		incident.Lon,
		incident.VesselName,
		incident.CallSign,
		incident.MMSI,
		incident.PersonsOnBoard,
		incident.State,
		incident.Attempts,
		incident.AcknowledgedBy,
		incident.ReportedAt,
		incident.UpdatedAt,
	)
	if execErr != nil {
		return fmt.Errorf("upsert incident: %w", execErr)
	}
	return nil
}

// ListOpenIncidents lists incidents that have not reached a terminal state.
func (s *Store) ListOpenIncidents(ctx context.Context) ([]IncidentRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listOpenIncidentsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list open incidents: %w", queryErr)
	}
	defer rows.Close()

	incidents := make([]IncidentRecord, 0)
	for rows.Next() {
		var rec IncidentRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.Type,
			&rec.Severity,
			&rec.Lat,
			&rec.Lon,
			&rec.VesselName,
			&rec.CallSign,
			&rec.MMSI,
			&rec.PersonsOnBoard,
			&rec.State,
			&rec.Attempts,
			&rec.AcknowledgedBy,
			&rec.ReportedAt,
			&rec.UpdatedAt,
		); err != nil {
			return nil, err
		}
		incidents = append(incidents, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return incidents, nil
}
