package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"depth-safety-alerts/internal/model"
)

// GridCellRecord is the persisted form of one aggregate cell. Depth
// statistics round-trip through NUMERIC columns as decimals.
type GridCellRecord struct {
	Resolution    float64
	CellLat       float64
	CellLon       float64
	ReadingCount  int64
	AvgDepth      decimal.Decimal
	MinDepth      decimal.Decimal
	MaxDepth      decimal.Decimal
	SumSquares    decimal.Decimal
	AvgConfidence float64
	MaxConfidence float64
	Earliest      time.Time
	Latest        time.Time
	CrowdCount    int64
	OfficialCount int64
	PredictCount  int64
}

// SourceCount returns the stored counter for a source tag.
func (r GridCellRecord) SourceCount(s model.Source) int64 {
	switch s {
	case model.SourceCrowd:
		return r.CrowdCount
	case model.SourceOfficial:
		return r.OfficialCount
	case model.SourcePredicted:
		return r.PredictCount
	}
	return 0
}

// ProcessedRecord is the persisted summary of one pipeline result, the
// unit listed by the export and history commands.
type ProcessedRecord struct {
	ReadingID      string
	Timestamp      time.Time
	RawDepth       decimal.Decimal
	CorrectedDepth decimal.Decimal
	SafetyMargin   decimal.Decimal
	TideMethod     string
	Confidence     float64
	QualityOverall float64
	Reliability    string
	Warnings       []string
	ProcessedAt    time.Time
}

// AlertRecord captures an emitted alert for auditing and the alerts CLI.
type AlertRecord struct {
	ID                string
	Domain            string
	Cause             string
	Severity          string
	Title             string
	Message           string
	Lat               float64
	Lon               float64
	Status            string
	BroadcastRequired bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IncidentRecord is the persisted emergency incident row.
type IncidentRecord struct {
	ID             string
	Type           string
	Severity       string
	Lat            float64
	Lon            float64
	VesselName     string
	CallSign       string
	MMSI           string
	PersonsOnBoard int
	State          string
	Attempts       int
	AcknowledgedBy string
	ReportedAt     time.Time
	UpdatedAt      time.Time
}

// QueueState tracks an offline submission through the sync lifecycle.
type QueueState string

const (
	QueuePending QueueState = "pending"
	QueueSyncing QueueState = "syncing"
	QueueFailed  QueueState = "failed"
	QueueSynced  QueueState = "synced"
)

// QueueItem is one offline-captured reading awaiting sync. Keyed by
// reading id so repeated enqueues and retries never double-submit.
type QueueItem struct {
	ReadingID     string
	Reading       model.DepthReading
	State         QueueState
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
	EnqueuedAt    time.Time
	ClaimedAt     *time.Time
	SyncedAt      *time.Time
}
