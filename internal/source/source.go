// Package source provides the external tide and weather data contracts and
// their HTTP client implementations.
package source

import (
	"context"
	"time"

	"depth-safety-alerts/internal/geo"
	"depth-safety-alerts/internal/model"
)

// TideSource resolves tide reference data for the correction engine. Every
// method may return empty results; the pipeline's fallback chain absorbs
// partial availability.
type TideSource interface {
	// NearestStation returns the closest station to the point, or nil when
	// none is known for the region.
	NearestStation(ctx context.Context, p geo.Point) (*model.TideStation, error)
	// Predictions returns the time-ordered predicted tide curve for the
	// window. May be empty.
	Predictions(ctx context.Context, stationID string, from, to time.Time) ([]model.TidePrediction, error)
	// LatestObservation returns the live water level sample nearest to the
	// given time, or nil when the station reports none.
	LatestObservation(ctx context.Context, stationID string, at time.Time) (*model.WaterLevelObservation, error)
}

// WeatherSource resolves environmental conditions for a location. Snapshots
// may be partially populated; absent fields carry unset Has* flags.
type WeatherSource interface {
	Snapshot(ctx context.Context, p geo.Point) (model.EnvironmentalSnapshot, error)
}
