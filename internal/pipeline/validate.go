package pipeline

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"depth-safety-alerts/internal/model"
)

// ValidationOptions tune the safety margin and reliability derivation.
type ValidationOptions struct {
	// SafetyMarginMeters is the configured buffer added to vessel draft.
	SafetyMarginMeters float64
	// MinConfidence below which a result is forced unreliable.
	MinConfidence float64
}

// DefaultValidationOptions apply a half-meter buffer.
func DefaultValidationOptions() ValidationOptions {
	return ValidationOptions{SafetyMarginMeters: 0.5, MinConfidence: 0.2}
}

// Engine fuses tide correction, environmental correction, and quality
// scoring into a ProcessedDepthReading. It never fails: malformed input
// degrades to an unreliable result with a descriptive warning.
type Engine struct {
	tide    *TideEngine
	env     *EnvCalculator
	scorer  *QualityScorer
	opts    ValidationOptions
	logger  zerolog.Logger
	nowFunc func() time.Time
}

// NewEngine wires the three correction stages behind one entry point.
func NewEngine(tide *TideEngine, env *EnvCalculator, scorer *QualityScorer, opts ValidationOptions, logger zerolog.Logger) *Engine {
	if opts.MinConfidence <= 0 {
		opts.MinConfidence = DefaultValidationOptions().MinConfidence
	}
	return &Engine{
		tide:    tide,
		env:     env,
		scorer:  scorer,
		opts:    opts,
		logger:  logger.With().Str("component", "pipeline").Logger(),
		nowFunc: func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the clock, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.nowFunc = now
	return e
}

// Input bundles the external data resolved for one reading. Station,
// predictions, observation, and snapshot may all be absent.
type Input struct {
	Reading     model.DepthReading
	Station     *model.TideStation
	Predictions []model.TidePrediction
	Observation *model.WaterLevelObservation
	Environment model.EnvironmentalSnapshot
	HasSnapshot bool
}

// Process runs the full correction chain for one reading.
func (e *Engine) Process(in Input) model.ProcessedDepthReading {
	now := e.nowFunc()

	if malformed, reason := malformedReading(in.Reading); malformed {
		e.logger.Warn().Str("reading_id", in.Reading.ID).Str("reason", reason).Msg("malformed reading short-circuited")
		return model.ProcessedDepthReading{
			Reading: in.Reading,
			Tide: model.TideCorrection{
				Method:           model.TideMethodEstimated,
				CorrectedDepth:   in.Reading.DepthMeters,
				Confidence:       0,
				StationDistanceM: math.Inf(1),
			},
			Environmental: model.EnvironmentalFactors{Confidence: 0},
			Quality: model.QualityScore{
				Warnings: []string{fmt.Sprintf("malformed reading: %s", reason)},
			},
			CorrectedDepth: in.Reading.DepthMeters,
			Reliability:    model.ReliabilityUnreliable,
			ProcessedAt:    now,
		}
	}

	tide := e.tide.Correct(in.Reading, in.Station, in.Predictions, in.Observation)

	env := model.EnvironmentalFactors{Confidence: 1.0}
	if in.HasSnapshot {
		env = e.env.Calculate(in.Reading, in.Environment)
	}

	quality := e.scorer.Score(ScoreInput{
		Reading: in.Reading,
		Tide:    tide,
		Env:     in.Environment,
		EnvConf: env.Confidence,
		Now:     now,
	})

	corrected := tide.CorrectedDepth + env.TotalCorrection
	margin := corrected - (in.Reading.DraftMeters + e.opts.SafetyMarginMeters)

	processed := model.ProcessedDepthReading{
		Reading:            in.Reading,
		Tide:               tide,
		Environmental:      env,
		Quality:            quality,
		CorrectedDepth:     corrected,
		SafetyMarginMeters: margin,
		ProcessedAt:        now,
	}
	processed.Reliability = e.deriveReliability(processed)
	return processed
}

// deriveReliability maps combined confidence and quality score onto the
// categorical label. Non-positive corrected depth or very low confidence
// force unreliable regardless of the other scores.
func (e *Engine) deriveReliability(p model.ProcessedDepthReading) model.Reliability {
	combined := p.CombinedConfidence()
	if p.Tide.CorrectedDepth <= 0 || p.CorrectedDepth <= 0 {
		return model.ReliabilityUnreliable
	}
	if combined < e.opts.MinConfidence {
		return model.ReliabilityUnreliable
	}
	switch {
	case combined >= 0.7 && p.Quality.Overall >= 70:
		return model.ReliabilityHigh
	case combined >= 0.45 && p.Quality.Overall >= 45:
		return model.ReliabilityMedium
	default:
		return model.ReliabilityLow
	}
}

func malformedReading(r model.DepthReading) (bool, string) {
	switch {
	case math.IsNaN(r.DepthMeters):
		return true, "depth is NaN"
	case r.DepthMeters <= 0:
		return true, fmt.Sprintf("non-positive raw depth %.2f", r.DepthMeters)
	case math.IsNaN(r.DraftMeters) || r.DraftMeters <= 0:
		return true, fmt.Sprintf("non-positive vessel draft %.2f", r.DraftMeters)
	}
	return false, ""
}
