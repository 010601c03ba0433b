package model

import (
	"fmt"
	"math"
	"time"

	"depth-safety-alerts/internal/geo"
)

// Source identifies where a depth reading originated.
type Source string

const (
	SourceCrowd     Source = "crowdsource"
	SourceOfficial  Source = "official"
	SourcePredicted Source = "predicted"
)

// Valid reports whether the source tag is one of the known values.
func (s Source) Valid() bool {
	switch s {
	case SourceCrowd, SourceOfficial, SourcePredicted:
		return true
	}
	return false
}

// ReadingMetadata carries optional capture context.
type ReadingMetadata struct {
	GPSAccuracyMeters float64
	Method            string
	Notes             string
}

// DepthReading is a single raw sounding. Immutable once created.
type DepthReading struct {
	ID          string
	Location    geo.Point
	DepthMeters float64
	Timestamp   time.Time
	DraftMeters float64
	Confidence  float64
	Source      Source
	Metadata    *ReadingMetadata
}

// Validate applies the ingest rejection rules.
func (r DepthReading) Validate() error {
	if err := r.Location.Validate(); err != nil {
		return err
	}
	if math.IsNaN(r.DepthMeters) || r.DepthMeters <= 0 {
		return fmt.Errorf("depth must be greater than zero, got %v", r.DepthMeters)
	}
	if math.IsNaN(r.DraftMeters) || r.DraftMeters <= 0 {
		return fmt.Errorf("vessel draft must be greater than zero, got %v", r.DraftMeters)
	}
	if !r.Source.Valid() {
		return fmt.Errorf("unknown reading source %q", r.Source)
	}
	if r.Confidence < 0 || r.Confidence > 1 || math.IsNaN(r.Confidence) {
		return fmt.Errorf("confidence must be within [0, 1], got %v", r.Confidence)
	}
	return nil
}

// TideModel distinguishes harmonic from subordinate prediction stations.
type TideModel string

const (
	TideModelHarmonic    TideModel = "harmonic"
	TideModelSubordinate TideModel = "subordinate"
)

// TideStation is reference data for a tide prediction station.
type TideStation struct {
	ID       string
	Name     string
	Location geo.Point
	Model    TideModel
	Region   string
	Timezone string
}

// ExtremumType marks a prediction as a high or low water event.
type ExtremumType string

const (
	ExtremumHigh ExtremumType = "H"
	ExtremumLow  ExtremumType = "L"
)

// TidePrediction is one point of a station's predicted tide curve.
type TidePrediction struct {
	StationID    string
	Time         time.Time
	HeightMeters float64
	Type         ExtremumType
}

// ObservationQuality flags a water level sample as verified or preliminary.
type ObservationQuality string

const (
	ObservationVerified    ObservationQuality = "verified"
	ObservationPreliminary ObservationQuality = "preliminary"
)

// WaterLevelObservation is a live measured water level at a station.
type WaterLevelObservation struct {
	StationID    string
	Time         time.Time
	HeightMeters float64
	Quality      ObservationQuality
}

// EnvironmentalSnapshot captures conditions at a location and time.
// Sourced externally; any field may be missing and is then zero with
// the matching Has* flag unset.
type EnvironmentalSnapshot struct {
	Location       geo.Point
	Time           time.Time
	WaterTempC     float64
	HasWaterTemp   bool
	WindSpeedKnots float64
	WindDirDeg     float64
	HasWind        bool
	WaveHeightM    float64
	HasWaveHeight  bool
	VisibilityNM   float64
	HasVisibility  bool
	SeaState       int
	HasSeaState    bool
	PressureHPa    float64
	HasPressure    bool
}
