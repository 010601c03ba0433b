package emergency

import (
	"time"

	"depth-safety-alerts/internal/geo"
)

// IncidentType classifies what triggered the emergency.
type IncidentType string

const (
	IncidentGrounding IncidentType = "grounding"
	IncidentCollision IncidentType = "collision"
	IncidentWeather   IncidentType = "weather"
	IncidentManual    IncidentType = "manual"
)

// IncidentSeverity distinguishes urgency (pan-pan) from distress (mayday).
type IncidentSeverity string

const (
	SeverityPanPan IncidentSeverity = "pan-pan"
	SeverityMayday IncidentSeverity = "mayday"
)

// IncidentState is the lifecycle position of an incident.
type IncidentState string

const (
	StateReported     IncidentState = "reported"
	StateBroadcasting IncidentState = "broadcasting"
	StateAcknowledged IncidentState = "acknowledged"
	StateRetrying     IncidentState = "retrying"
	StateResolved     IncidentState = "resolved"
	// StateFailed means the retry budget is exhausted without an
	// acknowledgment; manual escalation is required.
	StateFailed IncidentState = "failed"
)

// validTransitions is the closed transition table for the state machine.
var validTransitions = map[IncidentState][]IncidentState{
	StateReported:     {StateBroadcasting, StateResolved},
	StateBroadcasting: {StateAcknowledged, StateRetrying, StateFailed, StateResolved},
	StateRetrying:     {StateBroadcasting, StateFailed, StateResolved},
	StateAcknowledged: {StateResolved},
	StateFailed:       {StateResolved},
}

func canTransition(from, to IncidentState) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// VesselProfile is the vessel snapshot frozen at report time.
type VesselProfile struct {
	Name        string
	CallSign    string
	MMSI        string
	LengthM     float64
	DraftMeters float64
}

// Incident is one tracked emergency with its broadcast lifecycle.
type Incident struct {
	ID             string
	Type           IncidentType
	Severity       IncidentSeverity
	Location       geo.Point
	Vessel         VesselProfile
	PersonsOnBoard int
	State          IncidentState
	ReportedAt     time.Time
	UpdatedAt      time.Time
	AcknowledgedBy string
	Attempts       int
	// ChannelResults records the latest delivery outcome per channel name.
	ChannelResults map[string]error
}

// Open reports whether the incident still runs its broadcast lifecycle.
func (i Incident) Open() bool {
	return i.State != StateResolved && i.State != StateFailed
}
