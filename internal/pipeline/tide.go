package pipeline

import (
	"math"
	"time"

	"depth-safety-alerts/internal/geo"
	"depth-safety-alerts/internal/model"
)

// TideOptions parameterise the tide correction fallback chain.
type TideOptions struct {
	// ObservationWindow bounds how far a live water level sample may sit
	// from the reading time before it is ignored.
	ObservationWindow time.Duration
	// DistanceDecayMeters is where the distance confidence factor bottoms out.
	DistanceDecayMeters float64
	// DistanceFloor is the minimum distance confidence factor.
	DistanceFloor float64
	// MaxBracketGap bounds the spacing between interpolation predictions
	// before the interpolation confidence starts to degrade.
	MaxBracketGap time.Duration
}

// DefaultTideOptions mirror typical coastal station spacing.
func DefaultTideOptions() TideOptions {
	return TideOptions{
		ObservationWindow:   30 * time.Minute,
		DistanceDecayMeters: 30000,
		DistanceFloor:       0.5,
		MaxBracketGap:       8 * time.Hour,
	}
}

const (
	observedBaseConfidence     = 0.9
	interpolatedBaseConfidence = 0.7
	estimatedConfidence        = 0.5
)

// TideEngine converts raw depths into tide-normalised depths using an
// ordered fallback chain: observed, interpolated, estimated.
type TideEngine struct {
	opts TideOptions
}

// NewTideEngine constructs a tide correction engine.
func NewTideEngine(opts TideOptions) *TideEngine {
	if opts.ObservationWindow <= 0 {
		opts.ObservationWindow = DefaultTideOptions().ObservationWindow
	}
	if opts.DistanceDecayMeters <= 0 {
		opts.DistanceDecayMeters = DefaultTideOptions().DistanceDecayMeters
	}
	if opts.DistanceFloor <= 0 || opts.DistanceFloor > 1 {
		opts.DistanceFloor = DefaultTideOptions().DistanceFloor
	}
	if opts.MaxBracketGap <= 0 {
		opts.MaxBracketGap = DefaultTideOptions().MaxBracketGap
	}
	return &TideEngine{opts: opts}
}

// Correct derives the tide correction for a reading. The station may be nil
// and the prediction list empty; the chain then falls through to the
// estimated method with tide height zero. Negative corrected depth is
// returned as-is so downstream stages can flag it.
func (e *TideEngine) Correct(reading model.DepthReading, station *model.TideStation, predictions []model.TidePrediction, obs *model.WaterLevelObservation) model.TideCorrection {
	distance := math.Inf(1)
	stationID := ""
	if station != nil {
		distance = geo.Distance(reading.Location, station.Location)
		stationID = station.ID
	}

	if station != nil && obs != nil {
		if gap := absDuration(reading.Timestamp.Sub(obs.Time)); gap <= e.opts.ObservationWindow {
			confidence := observedBaseConfidence * e.distanceFactor(distance)
			return model.TideCorrection{
				Method:           model.TideMethodObserved,
				TideHeightMeters: obs.HeightMeters,
				CorrectedDepth:   reading.DepthMeters - obs.HeightMeters,
				Confidence:       confidence,
				StationID:        stationID,
				StationDistanceM: distance,
			}
		}
	}

	if station != nil {
		if before, after, ok := bracket(predictions, reading.Timestamp); ok {
			height := interpolateHeight(before, after, reading.Timestamp)
			confidence := interpolatedBaseConfidence * e.distanceFactor(distance) * e.gapFactor(after.Time.Sub(before.Time))
			return model.TideCorrection{
				Method:           model.TideMethodInterpolated,
				TideHeightMeters: height,
				CorrectedDepth:   reading.DepthMeters - height,
				Confidence:       confidence,
				StationID:        stationID,
				StationDistanceM: distance,
			}
		}
	}

	return model.TideCorrection{
		Method:           model.TideMethodEstimated,
		TideHeightMeters: 0,
		CorrectedDepth:   reading.DepthMeters,
		Confidence:       estimatedConfidence,
		StationID:        stationID,
		StationDistanceM: distance,
	}
}

// distanceFactor decays linearly from 1.0 at the station to the floor at
// DistanceDecayMeters and beyond.
func (e *TideEngine) distanceFactor(distance float64) float64 {
	if math.IsInf(distance, 1) {
		return e.opts.DistanceFloor
	}
	fraction := distance / e.opts.DistanceDecayMeters
	if fraction > 1 {
		fraction = 1
	}
	return 1 - fraction*(1-e.opts.DistanceFloor)
}

// gapFactor penalises interpolation across widely spaced predictions.
func (e *TideEngine) gapFactor(gap time.Duration) float64 {
	if gap <= 0 {
		return 1
	}
	fraction := float64(gap) / float64(e.opts.MaxBracketGap)
	if fraction <= 1 {
		return 1
	}
	factor := 1 / fraction
	if factor < 0.5 {
		factor = 0.5
	}
	return factor
}

// bracket finds the latest prediction at or before t and the earliest after it.
func bracket(predictions []model.TidePrediction, t time.Time) (model.TidePrediction, model.TidePrediction, bool) {
	var before, after *model.TidePrediction
	for i := range predictions {
		p := predictions[i]
		if !p.Time.After(t) {
			if before == nil || p.Time.After(before.Time) {
				before = &predictions[i]
			}
		} else {
			if after == nil || p.Time.Before(after.Time) {
				after = &predictions[i]
			}
		}
	}
	if before == nil || after == nil {
		return model.TidePrediction{}, model.TidePrediction{}, false
	}
	return *before, *after, true
}

// interpolateHeight linearly interpolates tide height by elapsed-time fraction.
func interpolateHeight(before, after model.TidePrediction, t time.Time) float64 {
	span := after.Time.Sub(before.Time)
	if span <= 0 {
		return before.HeightMeters
	}
	fraction := float64(t.Sub(before.Time)) / float64(span)
	return before.HeightMeters + (after.HeightMeters-before.HeightMeters)*fraction
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
