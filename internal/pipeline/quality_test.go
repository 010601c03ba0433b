package pipeline

import (
	"strings"
	"testing"
	"time"

	"depth-safety-alerts/internal/model"
)

func scoreAt(t *testing.T, age time.Duration, source model.Source) model.QualityScore {
	t.Helper()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	scorer := NewQualityScorer()
	return scorer.Score(ScoreInput{
		Reading: model.DepthReading{
			DepthMeters: 10,
			DraftMeters: 1.5,
			Timestamp:   now.Add(-age),
			Source:      source,
		},
		Tide: model.TideCorrection{
			CorrectedDepth:   9,
			Confidence:       0.8,
			StationDistanceM: 500,
		},
		EnvConf: 1.0,
		Now:     now,
	})
}

func TestScoreFreshBeatsStale(t *testing.T) {
	fresh := scoreAt(t, 5*time.Minute, model.SourceOfficial)
	stale := scoreAt(t, 25*time.Hour, model.SourceOfficial)

	if fresh.Overall <= stale.Overall {
		t.Fatalf("5-minute reading (%.1f) must outscore 25-hour reading (%.1f)", fresh.Overall, stale.Overall)
	}
	if fresh.AgeScore != 100 {
		t.Fatalf("fresh age score = %v, want 100", fresh.AgeScore)
	}
	if stale.AgeScore != 5 {
		t.Fatalf("stale age score = %v, want 5", stale.AgeScore)
	}

	found := false
	for _, w := range stale.Warnings {
		if strings.Contains(w, "stale") {
			found = true
		}
	}
	if !found {
		t.Fatalf("stale reading should carry a staleness warning, got %v", stale.Warnings)
	}
}

func TestScoreSourceRanking(t *testing.T) {
	official := scoreAt(t, time.Minute, model.SourceOfficial)
	crowd := scoreAt(t, time.Minute, model.SourceCrowd)
	predicted := scoreAt(t, time.Minute, model.SourcePredicted)

	if !(official.SourceScore > crowd.SourceScore && crowd.SourceScore > predicted.SourceScore) {
		t.Fatalf("source ranking broken: official=%v crowd=%v predicted=%v",
			official.SourceScore, crowd.SourceScore, predicted.SourceScore)
	}
	if !(official.Overall > crowd.Overall && crowd.Overall > predicted.Overall) {
		t.Fatalf("overall ranking broken: official=%v crowd=%v predicted=%v",
			official.Overall, crowd.Overall, predicted.Overall)
	}
}

func TestScoreWarnsOnNegativeCorrectedDepth(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	scorer := NewQualityScorer()

	score := scorer.Score(ScoreInput{
		Reading: model.DepthReading{DepthMeters: 5, DraftMeters: 1.5, Timestamp: now, Source: model.SourceOfficial},
		Tide:    model.TideCorrection{CorrectedDepth: -1, Confidence: 0.9, StationDistanceM: 100},
		EnvConf: 1.0,
		Now:     now,
	})

	found := false
	for _, w := range score.Warnings {
		if strings.Contains(w, "corrected depth") {
			found = true
		}
	}
	if !found {
		t.Fatalf("negative corrected depth should warn, got %v", score.Warnings)
	}
}

func TestScoreWarnsOnLowConfidence(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	scorer := NewQualityScorer()

	score := scorer.Score(ScoreInput{
		Reading: model.DepthReading{DepthMeters: 5, DraftMeters: 1.5, Timestamp: now, Source: model.SourceOfficial},
		Tide:    model.TideCorrection{CorrectedDepth: 4, Confidence: 0.5, StationDistanceM: 100},
		EnvConf: 0.5,
		Now:     now,
	})

	found := false
	for _, w := range score.Warnings {
		if strings.Contains(w, "below floor") {
			found = true
		}
	}
	if !found {
		t.Fatalf("combined confidence 0.25 should warn, got %v", score.Warnings)
	}
}

func TestDistanceScoreBounds(t *testing.T) {
	if got := distanceScore(500); got != 100 {
		t.Fatalf("close station = %v, want 100", got)
	}
	if got := distanceScore(60000); got != 10 {
		t.Fatalf("distant station = %v, want 10", got)
	}
	near := distanceScore(2000)
	far := distanceScore(40000)
	if near <= far {
		t.Fatalf("distance score must decrease: f(2km)=%v f(40km)=%v", near, far)
	}
}

func TestLowScoreWarningsHaveStableOrder(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	scorer := NewQualityScorer()
	in := ScoreInput{
		Reading: model.DepthReading{
			DepthMeters: 10,
			DraftMeters: 1.5,
			Timestamp:   now.Add(-48 * time.Hour),
			Source:      model.SourcePredicted,
		},
		Tide: model.TideCorrection{
			CorrectedDepth:   9,
			Confidence:       0.8,
			StationDistanceM: 60000,
		},
		Env: model.EnvironmentalSnapshot{
			WindSpeedKnots: 60,
			HasWind:        true,
			WaveHeightM:    5,
			HasWaveHeight:  true,
			SeaState:       6,
			HasSeaState:    true,
		},
		EnvConf: 1.0,
		Now:     now,
	}

	want := []string{
		"reading is stale: 48h0m0s old",
		"low age score 5",
		"low distance score 10",
		"low conditions score 10",
	}
	for run := 0; run < 20; run++ {
		got := scorer.Score(in).Warnings
		if len(got) != len(want) {
			t.Fatalf("run %d: warnings = %v, want %v", run, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("run %d: warning[%d] = %q, want %q", run, i, got[i], want[i])
			}
		}
	}
}
