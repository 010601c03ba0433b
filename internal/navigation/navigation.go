// Package navigation compares vessel position and speed against a planned
// route and emits deviation observations for the alert hierarchy.
package navigation

import (
	"errors"
	"math"
	"time"

	"depth-safety-alerts/internal/geo"
)

const metersPerNauticalMile = 1852.0

// Waypoint is one ordered stop on a planned route.
type Waypoint struct {
	Name     string
	Location geo.Point
}

// Route is an ordered sequence of waypoints with a planned speed.
type Route struct {
	Waypoints         []Waypoint
	PlannedSpeedKnots float64
}

// VesselState is the current fix from the position source.
type VesselState struct {
	Position   geo.Point
	SpeedKnots float64
	HeadingDeg float64
	FixTime    time.Time
}

// Observation is the navigation assessment for one fix.
type Observation struct {
	// CrossTrackMeters is the signed perpendicular distance from the
	// active route leg; negative means left of track.
	CrossTrackMeters    float64
	DistanceToNextM     float64
	BearingToNextDeg    float64
	NextWaypointIndex   int
	SpeedVarianceKnots  float64
	EstimatedTimeToNext time.Duration
	ObservedAt          time.Time
}

// ErrEmptyRoute is returned when the route carries fewer than one waypoint.
var ErrEmptyRoute = errors.New("navigation: route has no waypoints")

// Observe computes the deviation record for the current vessel state.
// The active leg ends at the nearest not-yet-reached waypoint.
func Observe(route Route, state VesselState) (Observation, error) {
	if len(route.Waypoints) == 0 {
		return Observation{}, ErrEmptyRoute
	}

	next := nextWaypointIndex(route, state.Position)
	target := route.Waypoints[next]

	obs := Observation{
		NextWaypointIndex: next,
		DistanceToNextM:   geo.Distance(state.Position, target.Location),
		BearingToNextDeg:  geo.Bearing(state.Position, target.Location),
		ObservedAt:        state.FixTime,
	}

	if next > 0 {
		prev := route.Waypoints[next-1]
		obs.CrossTrackMeters = geo.CrossTrack(prev.Location, target.Location, state.Position)
	}

	if route.PlannedSpeedKnots > 0 {
		obs.SpeedVarianceKnots = state.SpeedKnots - route.PlannedSpeedKnots
	}

	if state.SpeedKnots > 0.1 {
		hours := obs.DistanceToNextM / metersPerNauticalMile / state.SpeedKnots
		obs.EstimatedTimeToNext = time.Duration(hours * float64(time.Hour))
	}

	return obs, nil
}

// nextWaypointIndex picks the first waypoint not yet passed: the closest
// waypoint, advanced by one when the vessel has already closed within a
// tenth of the leg length.
func nextWaypointIndex(route Route, pos geo.Point) int {
	closest := 0
	closestDist := math.Inf(1)
	for i, wp := range route.Waypoints {
		if d := geo.Distance(pos, wp.Location); d < closestDist {
			closest = i
			closestDist = d
		}
	}
	if closest == len(route.Waypoints)-1 {
		return closest
	}
	legLen := geo.Distance(route.Waypoints[closest].Location, route.Waypoints[closest+1].Location)
	if legLen > 0 && closestDist < legLen*0.1 {
		return closest + 1
	}
	return closest
}
