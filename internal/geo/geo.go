package geo

import (
	"fmt"
	"math"
)

// EarthRadiusMeters is the mean earth radius used for haversine math.
const EarthRadiusMeters = 6371000.0

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64
	Lon float64
}

// BoundingBox delimits a rectangular query area.
type BoundingBox struct {
	North float64
	South float64
	East  float64
	West  float64
}

// Validate checks the point lies within valid WGS84 ranges.
func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) {
		return fmt.Errorf("coordinate is NaN")
	}
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("latitude %.6f out of range [-90, 90]", p.Lat)
	}
	if p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("longitude %.6f out of range [-180, 180]", p.Lon)
	}
	return nil
}

// Validate checks corner ordering and coordinate ranges.
func (b BoundingBox) Validate() error {
	corners := []Point{
		{Lat: b.North, Lon: b.West},
		{Lat: b.South, Lon: b.East},
	}
	for _, c := range corners {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	if b.North <= b.South {
		return fmt.Errorf("bounds north (%.6f) must be greater than south (%.6f)", b.North, b.South)
	}
	return nil
}

// Contains reports whether the point falls inside the box.
func (b BoundingBox) Contains(p Point) bool {
	if p.Lat > b.North || p.Lat < b.South {
		return false
	}
	if b.West <= b.East {
		return p.Lon >= b.West && p.Lon <= b.East
	}
	// box straddles the antimeridian
	return p.Lon >= b.West || p.Lon <= b.East
}

// Distance returns the great-circle distance between two points in meters.
func Distance(a, b Point) float64 {
	latA := radians(a.Lat)
	latB := radians(b.Lat)
	dLat := radians(b.Lat - a.Lat)
	dLon := radians(b.Lon - a.Lon)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(latA)*math.Cos(latB)*sinLon*sinLon
	return 2 * EarthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Bearing returns the initial great-circle bearing from a to b in degrees [0, 360).
func Bearing(a, b Point) float64 {
	latA := radians(a.Lat)
	latB := radians(b.Lat)
	dLon := radians(b.Lon - a.Lon)

	y := math.Sin(dLon) * math.Cos(latB)
	x := math.Cos(latA)*math.Sin(latB) - math.Sin(latA)*math.Cos(latB)*math.Cos(dLon)
	deg := degrees(math.Atan2(y, x))
	return math.Mod(deg+360, 360)
}

// CrossTrack returns the signed perpendicular distance in meters from p to the
// great-circle path from start to end. Negative means left of the path.
func CrossTrack(start, end, p Point) float64 {
	d13 := Distance(start, p) / EarthRadiusMeters
	theta13 := radians(Bearing(start, p))
	theta12 := radians(Bearing(start, end))
	return math.Asin(math.Sin(d13)*math.Sin(theta13-theta12)) * EarthRadiusMeters
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func degrees(rad float64) float64 { return rad * 180 / math.Pi }
