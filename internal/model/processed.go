package model

import "time"

// TideMethod names the fallback level used to derive a tide correction.
type TideMethod string

const (
	TideMethodObserved     TideMethod = "observed"
	TideMethodInterpolated TideMethod = "interpolated"
	TideMethodEstimated    TideMethod = "estimated"
)

// TideCorrection is the tide normalisation applied to one reading.
type TideCorrection struct {
	Method           TideMethod
	TideHeightMeters float64
	CorrectedDepth   float64
	Confidence       float64
	StationID        string
	StationDistanceM float64
}

// EnvironmentalFactors breaks the environmental correction into causes.
type EnvironmentalFactors struct {
	WindCorrection        float64
	CurrentCorrection     float64
	PressureCorrection    float64
	TemperatureCorrection float64
	SalinityCorrection    float64
	TotalCorrection       float64
	Confidence            float64
}

// QualityScore grades a reading 0-100 across named sub-factors.
type QualityScore struct {
	Overall         float64
	AgeScore        float64
	DistanceScore   float64
	ConditionsScore float64
	SourceScore     float64
	Warnings        []string
}

// Reliability is the categorical trust label on a processed reading.
type Reliability string

const (
	ReliabilityHigh       Reliability = "high"
	ReliabilityMedium     Reliability = "medium"
	ReliabilityLow        Reliability = "low"
	ReliabilityUnreliable Reliability = "unreliable"
)

// ProcessedDepthReading is the canonical pipeline output: the original
// reading plus every derived correction, score, and the safety margin.
type ProcessedDepthReading struct {
	Reading       DepthReading
	Tide          TideCorrection
	Environmental EnvironmentalFactors
	Quality       QualityScore
	// CorrectedDepth includes both tide and environmental corrections.
	CorrectedDepth     float64
	SafetyMarginMeters float64
	Reliability        Reliability
	ProcessedAt        time.Time
}

// CombinedConfidence multiplies the tide and environmental confidences.
func (p ProcessedDepthReading) CombinedConfidence() float64 {
	return p.Tide.Confidence * p.Environmental.Confidence
}
