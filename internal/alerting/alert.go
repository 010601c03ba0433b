package alerting

import (
	"time"

	"depth-safety-alerts/internal/geo"
)

// Severity ranks alerts from advisory to life-threatening.
type Severity int

const (
	SeverityCaution Severity = iota + 1
	SeverityWarning
	SeverityCritical
	SeverityEmergency
)

// String returns the lowercase label used in logs and persistence.
func (s Severity) String() string {
	switch s {
	case SeverityCaution:
		return "caution"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	case SeverityEmergency:
		return "emergency"
	}
	return "unknown"
}

// BroadcastRequired reports whether this severity must reach the
// emergency broadcast path.
func (s Severity) BroadcastRequired() bool {
	return s >= SeverityCritical
}

// Domain groups alerts by the condition family that raised them.
type Domain string

const (
	DomainDepth      Domain = "depth"
	DomainWeather    Domain = "weather"
	DomainNavigation Domain = "navigation"
	DomainEmergency  Domain = "emergency"
	DomainSystem     Domain = "system"
)

// Status is the lifecycle state of an alert.
type Status string

const (
	StatusActive       Status = "active"
	StatusAcknowledged Status = "acknowledged"
	StatusExpired      Status = "expired"
	StatusSuperseded   Status = "superseded"
)

// Alert is one deduplicated safety condition.
type Alert struct {
	ID                string
	Severity          Severity
	Domain            Domain
	Cause             string
	Title             string
	Message           string
	Location          geo.Point
	Status            Status
	CreatedAt         time.Time
	UpdatedAt         time.Time
	AcknowledgedAt    *time.Time
	BroadcastRequired bool
}

// Active reports whether the alert still demands attention.
func (a Alert) Active() bool {
	return a.Status == StatusActive || a.Status == StatusAcknowledged
}

// Condition describes a triggering observation before deduplication.
type Condition struct {
	Severity Severity
	Domain   Domain
	// Cause is a stable machine key for the condition, e.g. "shallow_water".
	Cause    string
	Title    string
	Message  string
	Location geo.Point
}
