package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"depth-safety-alerts/internal/alerting"
	"depth-safety-alerts/internal/emergency"
	"depth-safety-alerts/internal/geo"
	"depth-safety-alerts/internal/model"
	"depth-safety-alerts/internal/navigation"
	"depth-safety-alerts/internal/service"
	"depth-safety-alerts/internal/storage"
)

// SimulateOptions describe the synthetic conditions to evaluate.
type SimulateOptions struct {
	Lat         float64
	Lon         float64
	DepthMeters float64
	TideHeightM float64
	WindKnots   float64
	WaveHeightM float64
}

// Simulate runs a single monitoring cycle against synthetic data and
// prints the alerts it would raise. Nothing is persisted.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	position := geo.Point{Lat: opts.Lat, Lon: opts.Lon}
	now := time.Now().UTC()

	reading := model.DepthReading{
		ID:          "simulated",
		Location:    position,
		DepthMeters: opts.DepthMeters,
		Timestamp:   now,
		DraftMeters: a.Config.Vessel.DraftMeters,
		Confidence:  0.9,
		Source:      model.SourceOfficial,
	}

	tides := &staticTideSource{
		station: model.TideStation{
			ID:       "SIM0001",
			Name:     "Simulated Station",
			Location: position,
		},
		observation: model.WaterLevelObservation{
			StationID:    "SIM0001",
			Time:         now,
			HeightMeters: opts.TideHeightM,
			Quality:      model.ObservationVerified,
		},
	}

	weather := &staticWeatherSource{snapshot: model.EnvironmentalSnapshot{
		Location:       position,
		Time:           now,
		WindSpeedKnots: opts.WindKnots,
		HasWind:        opts.WindKnots > 0,
		WaveHeightM:    opts.WaveHeightM,
		HasWaveHeight:  opts.WaveHeightM > 0,
	}}

	hierarchy := alerting.NewHierarchy(alerting.Options{
		ProximityMeters: a.Config.Alerting.ProximityMeters,
		TTL:             a.Config.Alerting.TTL,
	}, a.Logger)

	manager := emergency.NewManager(emergency.Options{
		AckWindow:   time.Second,
		MaxAttempts: 1,
		RequireAck:  false,
	}, []emergency.Channel{emergency.NewRadioChannel("VHF_16", emergency.NewLogTransmitter(a.Logger), a.Logger)}, a.Logger)

	monitor := service.New(a.Config, service.Deps{
		Engine:      a.newEngine(),
		Tides:       tides,
		Weather:     weather,
		Readings:    &staticReadingStore{readings: []model.DepthReading{reading}},
		Alerts:      hierarchy,
		Emergencies: manager,
		Position: service.PositionFunc(func(ctx context.Context) (navigation.VesselState, error) {
			return navigation.VesselState{
				Position:   position,
				SpeedKnots: a.Config.Vessel.PlannedSpeedKnots,
				FixTime:    now,
			}, nil
		}),
	}, a.Logger)

	if err := monitor.ProcessCycle(ctx, now.Truncate(a.Config.Scheduler.Interval)); err != nil {
		return err
	}
	manager.Wait()

	active := hierarchy.Active()
	if len(active) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts raised")
		return nil
	}
	for _, alert := range active {
		fmt.Fprintf(os.Stdout, "[%s] %s/%s: %s\n", alert.Severity, alert.Domain, alert.Cause, alert.Message)
	}
	for _, incident := range manager.Open() {
		fmt.Fprintf(os.Stdout, "incident %s: %s %s (%s)\n", incident.ID, incident.Severity, incident.Type, incident.State)
	}
	return nil
}

type staticTideSource struct {
	station     model.TideStation
	observation model.WaterLevelObservation
}

func (s *staticTideSource) NearestStation(ctx context.Context, p geo.Point) (*model.TideStation, error) {
	station := s.station
	return &station, nil
}

func (s *staticTideSource) Predictions(ctx context.Context, stationID string, from, to time.Time) ([]model.TidePrediction, error) {
	return nil, nil
}

func (s *staticTideSource) LatestObservation(ctx context.Context, stationID string, at time.Time) (*model.WaterLevelObservation, error) {
	obs := s.observation
	return &obs, nil
}

type staticWeatherSource struct {
	snapshot model.EnvironmentalSnapshot
}

func (s *staticWeatherSource) Snapshot(ctx context.Context, p geo.Point) (model.EnvironmentalSnapshot, error) {
	return s.snapshot, nil
}

type staticReadingStore struct {
	readings []model.DepthReading
}

func (s *staticReadingStore) InsertReading(ctx context.Context, reading model.DepthReading) error {
	return nil
}

func (s *staticReadingStore) ListReadingsInBounds(ctx context.Context, bounds geo.BoundingBox, minConfidence float64, limit int) ([]model.DepthReading, error) {
	return s.readings, nil
}

func (s *staticReadingStore) NearestReadings(ctx context.Context, center geo.Point, radiusMeters float64, limit int) ([]model.DepthReading, []float64, error) {
	distances := make([]float64, len(s.readings))
	for i, r := range s.readings {
		distances[i] = geo.Distance(center, r.Location)
	}
	return s.readings, distances, nil
}

var _ storage.ReadingStore = (*staticReadingStore)(nil)
