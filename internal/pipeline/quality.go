package pipeline

import (
	"fmt"
	"math"
	"time"

	"depth-safety-alerts/internal/model"
)

// Scoring thresholds. A reading under the freshness threshold scores full
// marks on age; beyond the staleness threshold it scores near zero.
const (
	freshnessThreshold = time.Hour
	stalenessThreshold = 24 * time.Hour

	fullScoreDistanceM = 1000.0
	zeroScoreDistanceM = 50000.0

	lowSubScore     = 40.0
	confidenceFloor = 0.3
)

// Fixed source reliability ranking: official > crowdsource > predicted.
var sourceScores = map[model.Source]float64{
	model.SourceOfficial:  100,
	model.SourceCrowd:     70,
	model.SourcePredicted: 40,
}

// QualityScorer combines data age, station distance, environmental severity,
// and source type into a 0-100 score plus warning strings.
type QualityScorer struct{}

// NewQualityScorer constructs a scorer with equal sub-factor weighting.
func NewQualityScorer() *QualityScorer {
	return &QualityScorer{}
}

// ScoreInput bundles everything the scorer inspects.
type ScoreInput struct {
	Reading model.DepthReading
	Tide    model.TideCorrection
	Env     model.EnvironmentalSnapshot
	EnvConf float64
	Now     time.Time
}

// Score computes the weighted quality score and appends warnings for
// low-confidence, stale, or invalid-depth conditions.
func (s *QualityScorer) Score(in ScoreInput) model.QualityScore {
	age := in.Now.Sub(in.Reading.Timestamp)

	score := model.QualityScore{
		AgeScore:        ageScore(age),
		DistanceScore:   distanceScore(in.Tide.StationDistanceM),
		ConditionsScore: conditionsScore(in.Env),
		SourceScore:     sourceScore(in.Reading.Source),
	}
	score.Overall = 0.25*score.AgeScore +
		0.25*score.DistanceScore +
		0.25*score.ConditionsScore +
		0.25*score.SourceScore

	combined := in.Tide.Confidence * in.EnvConf
	if combined < confidenceFloor {
		score.Warnings = append(score.Warnings, fmt.Sprintf("combined confidence %.2f below floor %.2f", combined, confidenceFloor))
	}
	if age > stalenessThreshold {
		score.Warnings = append(score.Warnings, fmt.Sprintf("reading is stale: %s old", age.Round(time.Minute)))
	}
	if in.Tide.CorrectedDepth <= 0 {
		score.Warnings = append(score.Warnings, fmt.Sprintf("negative/invalid corrected depth %.2fm after tide correction", in.Tide.CorrectedDepth))
	}
	for _, sub := range []struct {
		name  string
		value float64
	}{
		{"age", score.AgeScore},
		{"distance", score.DistanceScore},
		{"conditions", score.ConditionsScore},
		{"source", score.SourceScore},
	} {
		if sub.value < lowSubScore {
			score.Warnings = append(score.Warnings, fmt.Sprintf("low %s score %.0f", sub.name, sub.value))
		}
	}

	return score
}

func ageScore(age time.Duration) float64 {
	if age <= freshnessThreshold {
		return 100
	}
	if age >= stalenessThreshold {
		return 5
	}
	fraction := float64(age-freshnessThreshold) / float64(stalenessThreshold-freshnessThreshold)
	return 100 - fraction*95
}

func distanceScore(distanceM float64) float64 {
	if math.IsInf(distanceM, 1) || math.IsNaN(distanceM) {
		return 20
	}
	if distanceM <= fullScoreDistanceM {
		return 100
	}
	if distanceM >= zeroScoreDistanceM {
		return 10
	}
	fraction := (distanceM - fullScoreDistanceM) / (zeroScoreDistanceM - fullScoreDistanceM)
	return 100 - fraction*90
}

func conditionsScore(env model.EnvironmentalSnapshot) float64 {
	score := 100.0
	if env.HasWind && env.WindSpeedKnots > calmWindKnots {
		score -= math.Min((env.WindSpeedKnots-calmWindKnots)*2, 50)
	}
	if env.HasWaveHeight && env.WaveHeightM > 1 {
		score -= math.Min((env.WaveHeightM-1)*10, 30)
	}
	if env.HasSeaState && env.SeaState >= seaStateRough {
		score -= 10
	}
	return math.Max(score, 0)
}

func sourceScore(source model.Source) float64 {
	if score, ok := sourceScores[source]; ok {
		return score
	}
	return 0
}
