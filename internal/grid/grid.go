// Package grid folds point depth readings into fixed-size geographic cells
// so area queries render from pre-aggregated statistics instead of raw rows.
package grid

import (
	"math"
	"sync"
	"time"

	"depth-safety-alerts/internal/geo"
	"depth-safety-alerts/internal/model"
)

// CellKey identifies one cell at one resolution. Coordinates are the
// south-west corner snapped to the resolution grid.
type CellKey struct {
	Resolution float64
	Lat        float64
	Lon        float64
}

// Snap maps a point onto the cell key for the given resolution (degrees).
func Snap(p geo.Point, resolution float64) CellKey {
	return CellKey{
		Resolution: resolution,
		Lat:        math.Floor(p.Lat/resolution) * resolution,
		Lon:        math.Floor(p.Lon/resolution) * resolution,
	}
}

// Sample is one contribution to a cell.
type Sample struct {
	Location   geo.Point
	Depth      float64
	Confidence float64
	Source     model.Source
	Timestamp  time.Time
}

// CellStats are the running statistics held per cell.
type CellStats struct {
	Key           CellKey
	Count         int64
	AvgDepth      float64
	MinDepth      float64
	MaxDepth      float64
	SumSquares    float64
	AvgConfidence float64
	MaxConfidence float64
	Earliest      time.Time
	Latest        time.Time
	SourceCounts  map[model.Source]int64
}

// StdDev derives the population standard deviation from the running sums.
func (c CellStats) StdDev() float64 {
	if c.Count < 2 {
		return 0
	}
	variance := c.SumSquares/float64(c.Count) - c.AvgDepth*c.AvgDepth
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

type cell struct {
	mu    sync.Mutex
	stats CellStats
}

// Aggregator maintains per-resolution cell tables in memory. Each cell
// update happens under that cell's own lock so concurrent writers to the
// same cell never lose contributions.
type Aggregator struct {
	resolutions []float64

	mu    sync.RWMutex
	cells map[CellKey]*cell
}

// NewAggregator builds an aggregator maintaining the given resolutions
// (degrees per cell side) independently.
func NewAggregator(resolutions []float64) *Aggregator {
	if len(resolutions) == 0 {
		resolutions = []float64{0.01}
	}
	return &Aggregator{
		resolutions: resolutions,
		cells:       make(map[CellKey]*cell),
	}
}

// Resolutions returns the configured cell sizes.
func (a *Aggregator) Resolutions() []float64 {
	out := make([]float64, len(a.resolutions))
	copy(out, a.resolutions)
	return out
}

// Add folds one sample into every resolution's cell table and returns the
// updated statistics per resolution.
func (a *Aggregator) Add(sample Sample) []CellStats {
	updated := make([]CellStats, 0, len(a.resolutions))
	for _, res := range a.resolutions {
		key := Snap(sample.Location, res)
		c := a.cellFor(key)

		c.mu.Lock()
		apply(&c.stats, sample)
		snapshot := cloneStats(c.stats)
		c.mu.Unlock()

		updated = append(updated, snapshot)
	}
	return updated
}

// Cell returns a copy of the statistics for a key, if present.
func (a *Aggregator) Cell(key CellKey) (CellStats, bool) {
	a.mu.RLock()
	c, ok := a.cells[key]
	a.mu.RUnlock()
	if !ok {
		return CellStats{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneStats(c.stats), true
}

// CellsInBounds returns copies of every cell at the resolution whose
// south-west corner lies inside the box.
func (a *Aggregator) CellsInBounds(resolution float64, bounds geo.BoundingBox) []CellStats {
	a.mu.RLock()
	keys := make([]*cell, 0)
	for key, c := range a.cells {
		if key.Resolution != resolution {
			continue
		}
		if bounds.Contains(geo.Point{Lat: key.Lat, Lon: key.Lon}) {
			keys = append(keys, c)
		}
	}
	a.mu.RUnlock()

	out := make([]CellStats, 0, len(keys))
	for _, c := range keys {
		c.mu.Lock()
		out = append(out, cloneStats(c.stats))
		c.mu.Unlock()
	}
	return out
}

func (a *Aggregator) cellFor(key CellKey) *cell {
	a.mu.RLock()
	c, ok := a.cells[key]
	a.mu.RUnlock()
	if ok {
		return c
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok = a.cells[key]; ok {
		return c
	}
	c = &cell{stats: CellStats{
		Key:          key,
		MinDepth:     math.Inf(1),
		MaxDepth:     math.Inf(-1),
		SourceCounts: make(map[model.Source]int64),
	}}
	a.cells[key] = c
	return c
}

// apply performs the incremental read-modify-write for one sample. Caller
// holds the cell lock.
func apply(stats *CellStats, sample Sample) {
	n := float64(stats.Count + 1)
	stats.AvgDepth = (stats.AvgDepth*float64(stats.Count) + sample.Depth) / n
	stats.AvgConfidence = (stats.AvgConfidence*float64(stats.Count) + sample.Confidence) / n
	stats.Count++
	stats.SumSquares += sample.Depth * sample.Depth

	if sample.Depth < stats.MinDepth {
		stats.MinDepth = sample.Depth
	}
	if sample.Depth > stats.MaxDepth {
		stats.MaxDepth = sample.Depth
	}
	if sample.Confidence > stats.MaxConfidence {
		stats.MaxConfidence = sample.Confidence
	}
	if stats.Earliest.IsZero() || sample.Timestamp.Before(stats.Earliest) {
		stats.Earliest = sample.Timestamp
	}
	if sample.Timestamp.After(stats.Latest) {
		stats.Latest = sample.Timestamp
	}
	stats.SourceCounts[sample.Source]++
}

func cloneStats(stats CellStats) CellStats {
	out := stats
	out.SourceCounts = make(map[model.Source]int64, len(stats.SourceCounts))
	for k, v := range stats.SourceCounts {
		out.SourceCounts[k] = v
	}
	return out
}
