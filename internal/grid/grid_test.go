package grid

import (
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"depth-safety-alerts/internal/geo"
	"depth-safety-alerts/internal/model"
)

func TestSnapFloorsToSouthWestCorner(t *testing.T) {
	key := Snap(geo.Point{Lat: 37.8199, Lon: -122.4783}, 0.01)

	if got, want := key.Lat, 37.81; math.Abs(got-want) > 1e-9 {
		t.Fatalf("cell lat = %v, want %v", got, want)
	}
	if got, want := key.Lon, -122.48; math.Abs(got-want) > 1e-9 {
		t.Fatalf("cell lon = %v, want %v", got, want)
	}

	// Negative coordinates floor toward more negative values.
	key = Snap(geo.Point{Lat: -0.001, Lon: -0.001}, 0.01)
	if key.Lat != -0.01 || key.Lon != -0.01 {
		t.Fatalf("negative snap = (%v, %v), want (-0.01, -0.01)", key.Lat, key.Lon)
	}
}

func TestAddAccumulatesStats(t *testing.T) {
	agg := NewAggregator([]float64{0.01})
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	loc := geo.Point{Lat: 37.815, Lon: -122.475}

	agg.Add(Sample{Location: loc, Depth: 10, Confidence: 0.9, Source: model.SourceOfficial, Timestamp: base})
	agg.Add(Sample{Location: loc, Depth: 14, Confidence: 0.5, Source: model.SourceCrowd, Timestamp: base.Add(time.Hour)})
	agg.Add(Sample{Location: loc, Depth: 12, Confidence: 0.7, Source: model.SourceCrowd, Timestamp: base.Add(-time.Hour)})

	stats, ok := agg.Cell(Snap(loc, 0.01))
	if !ok {
		t.Fatal("cell missing after adds")
	}
	if stats.Count != 3 {
		t.Fatalf("count = %d, want 3", stats.Count)
	}
	if got, want := stats.AvgDepth, 12.0; math.Abs(got-want) > 1e-9 {
		t.Fatalf("avg depth = %v, want %v", got, want)
	}
	if stats.MinDepth != 10 || stats.MaxDepth != 14 {
		t.Fatalf("min/max = %v/%v, want 10/14", stats.MinDepth, stats.MaxDepth)
	}
	if stats.MaxConfidence != 0.9 {
		t.Fatalf("max confidence = %v, want 0.9", stats.MaxConfidence)
	}
	if !stats.Earliest.Equal(base.Add(-time.Hour)) || !stats.Latest.Equal(base.Add(time.Hour)) {
		t.Fatalf("time range = %v..%v", stats.Earliest, stats.Latest)
	}
	if stats.SourceCounts[model.SourceCrowd] != 2 || stats.SourceCounts[model.SourceOfficial] != 1 {
		t.Fatalf("source counts = %v", stats.SourceCounts)
	}
}

func TestAddOrderIndependence(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	loc := geo.Point{Lat: 37.815, Lon: -122.475}

	samples := make([]Sample, 0, 50)
	for i := 0; i < 50; i++ {
		samples = append(samples, Sample{
			Location:   loc,
			Depth:      5 + float64(i)*0.1,
			Confidence: 0.5 + float64(i%5)*0.1,
			Source:     model.SourceCrowd,
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
		})
	}

	forward := NewAggregator([]float64{0.01})
	for _, s := range samples {
		forward.Add(s)
	}

	shuffled := NewAggregator([]float64{0.01})
	perm := rand.New(rand.NewSource(1)).Perm(len(samples))
	for _, i := range perm {
		shuffled.Add(samples[i])
	}

	a, _ := forward.Cell(Snap(loc, 0.01))
	b, _ := shuffled.Cell(Snap(loc, 0.01))

	if a.Count != b.Count {
		t.Fatalf("counts differ: %d vs %d", a.Count, b.Count)
	}
	if math.Abs(a.AvgDepth-b.AvgDepth) > 1e-9 {
		t.Fatalf("avg differs: %v vs %v", a.AvgDepth, b.AvgDepth)
	}
	if a.MinDepth != b.MinDepth || a.MaxDepth != b.MaxDepth {
		t.Fatalf("min/max differ: %v/%v vs %v/%v", a.MinDepth, a.MaxDepth, b.MinDepth, b.MaxDepth)
	}
	if math.Abs(a.StdDev()-b.StdDev()) > 1e-9 {
		t.Fatalf("stddev differs: %v vs %v", a.StdDev(), b.StdDev())
	}
}

func TestAddConcurrentNoLostUpdates(t *testing.T) {
	agg := NewAggregator([]float64{0.01, 0.05})
	loc := geo.Point{Lat: 37.815, Lon: -122.475}
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	const workers = 8
	const perWorker = 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				agg.Add(Sample{
					Location:   loc,
					Depth:      10,
					Confidence: 0.5,
					Source:     model.SourceCrowd,
					Timestamp:  base.Add(time.Duration(w*perWorker+i) * time.Second),
				})
			}
		}(w)
	}
	wg.Wait()

	for _, res := range []float64{0.01, 0.05} {
		stats, ok := agg.Cell(Snap(loc, res))
		if !ok {
			t.Fatalf("resolution %v: cell missing", res)
		}
		if stats.Count != workers*perWorker {
			t.Fatalf("resolution %v: count = %d, want %d", res, stats.Count, workers*perWorker)
		}
	}
}

func TestCellsInBounds(t *testing.T) {
	agg := NewAggregator([]float64{0.1})
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	inside := geo.Point{Lat: 37.85, Lon: -122.45}
	outside := geo.Point{Lat: 40.0, Lon: -120.0}
	agg.Add(Sample{Location: inside, Depth: 8, Confidence: 0.8, Source: model.SourceCrowd, Timestamp: base})
	agg.Add(Sample{Location: outside, Depth: 20, Confidence: 0.8, Source: model.SourceCrowd, Timestamp: base})

	cells := agg.CellsInBounds(0.1, geo.BoundingBox{North: 38, South: 37, East: -122, West: -123})
	if len(cells) != 1 {
		t.Fatalf("cells in bounds = %d, want 1", len(cells))
	}
	if cells[0].AvgDepth != 8 {
		t.Fatalf("wrong cell returned: avg depth %v", cells[0].AvgDepth)
	}
}

func TestStdDevSmallCounts(t *testing.T) {
	stats := CellStats{Count: 1, AvgDepth: 10, SumSquares: 100}
	if stats.StdDev() != 0 {
		t.Fatalf("single sample stddev = %v, want 0", stats.StdDev())
	}
}
