package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"depth-safety-alerts/internal/alerting"
	"depth-safety-alerts/internal/config"
	"depth-safety-alerts/internal/emergency"
	"depth-safety-alerts/internal/geo"
	"depth-safety-alerts/internal/model"
	"depth-safety-alerts/internal/navigation"
	"depth-safety-alerts/internal/pipeline"
	"depth-safety-alerts/internal/source"
	"depth-safety-alerts/internal/storage"
)

var gateBridge = geo.Point{Lat: 37.8199, Lon: -122.4783}

type stubReadingStore struct {
	readings []model.DepthReading
}

func (s *stubReadingStore) InsertReading(context.Context, model.DepthReading) error { return nil }

func (s *stubReadingStore) ListReadingsInBounds(context.Context, geo.BoundingBox, float64, int) ([]model.DepthReading, error) {
	return s.readings, nil
}

func (s *stubReadingStore) NearestReadings(_ context.Context, center geo.Point, _ float64, _ int) ([]model.DepthReading, []float64, error) {
	distances := make([]float64, len(s.readings))
	for i, r := range s.readings {
		distances[i] = geo.Distance(center, r.Location)
	}
	return s.readings, distances, nil
}

type stubProcessedStore struct {
	upserts []model.ProcessedDepthReading
}

func (s *stubProcessedStore) UpsertProcessed(_ context.Context, p model.ProcessedDepthReading) error {
	s.upserts = append(s.upserts, p)
	return nil
}

func (s *stubProcessedStore) ListProcessedBetween(context.Context, time.Time, time.Time) ([]storage.ProcessedRecord, error) {
	return nil, nil
}

type stubAlertStore struct {
	records []storage.AlertRecord
}

func (s *stubAlertStore) UpsertAlert(_ context.Context, alert storage.AlertRecord) error {
	s.records = append(s.records, alert)
	return nil
}

func (s *stubAlertStore) ListRecentAlerts(context.Context, int) ([]storage.AlertRecord, error) {
	return nil, nil
}

func (s *stubAlertStore) DeleteAlertsBefore(context.Context, time.Time) error { return nil }

// stubIncidentStore keys records by incident so repeated lifecycle upserts
// overwrite rather than accumulate. The protocol goroutine writes
// concurrently with the monitor.
type stubIncidentStore struct {
	mu      sync.Mutex
	records map[string]storage.IncidentRecord
	states  []string
}

func (s *stubIncidentStore) UpsertIncident(_ context.Context, incident storage.IncidentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records == nil {
		s.records = make(map[string]storage.IncidentRecord)
	}
	s.records[incident.ID] = incident
	s.states = append(s.states, incident.State)
	return nil
}

func (s *stubIncidentStore) ListOpenIncidents(context.Context) ([]storage.IncidentRecord, error) {
	return nil, nil
}

func (s *stubIncidentStore) snapshot() []storage.IncidentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.IncidentRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out
}

func (s *stubIncidentStore) statesSeen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.states...)
}

type stubTideSource struct {
	observation float64
}

func (s *stubTideSource) NearestStation(context.Context, geo.Point) (*model.TideStation, error) {
	return &model.TideStation{
		ID:       "9414290",
		Name:     "San Francisco",
		Location: geo.Point{Lat: 37.8063, Lon: -122.4659},
		Model:    model.TideModelHarmonic,
	}, nil
}

func (s *stubTideSource) Predictions(context.Context, string, time.Time, time.Time) ([]model.TidePrediction, error) {
	return nil, nil
}

func (s *stubTideSource) LatestObservation(_ context.Context, stationID string, at time.Time) (*model.WaterLevelObservation, error) {
	return &model.WaterLevelObservation{
		StationID:    stationID,
		Time:         at.Add(-5 * time.Minute),
		HeightMeters: s.observation,
		Quality:      model.ObservationVerified,
	}, nil
}

type stubWeatherSource struct {
	snapshot model.EnvironmentalSnapshot
	err      error
}

func (s *stubWeatherSource) Snapshot(_ context.Context, p geo.Point) (model.EnvironmentalSnapshot, error) {
	if s.err != nil {
		return model.EnvironmentalSnapshot{}, s.err
	}
	snap := s.snapshot
	snap.Location = p
	return snap, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Safety: config.SafetyConfig{
			MarginMeters:          0.5,
			MinConfidence:         0.2,
			CautionMarginMeters:   2.0,
			WarningMarginMeters:   1.0,
			CriticalMarginMeters:  0.3,
			GroundingTimeToImpact: 2 * time.Minute,
			DeepAnomalyFactor:     3.0,
			DangerWindKnots:       34,
			DangerWaveMeters:      4,
			DeviationLimitMeters:  500,
			RecommendationTTL:     10 * time.Minute,
		},
		Vessel: config.VesselConfig{
			Name:           "Sea Otter",
			CallSign:       "WDE1234",
			MMSI:           "366123456",
			DraftMeters:    1.8,
			PersonsOnBoard: 2,
		},
		Tide: config.TideConfig{PredictionWindow: 24 * time.Hour},
	}
}

func testEngine() *pipeline.Engine {
	return pipeline.NewEngine(
		pipeline.NewTideEngine(pipeline.DefaultTideOptions()),
		pipeline.NewEnvCalculator(),
		pipeline.NewQualityScorer(),
		pipeline.DefaultValidationOptions(),
		zerolog.Nop(),
	)
}

func depthReading(id string, depth float64, at time.Time) model.DepthReading {
	return model.DepthReading{
		ID:          id,
		Location:    gateBridge,
		DepthMeters: depth,
		DraftMeters: 1.8,
		Confidence:  0.8,
		Source:      model.SourceOfficial,
		Timestamp:   at,
	}
}

type monitorFixture struct {
	monitor   *Monitor
	readings  *stubReadingStore
	processed *stubProcessedStore
	alerts    *stubAlertStore
	incidents *stubIncidentStore
	manager   *emergency.Manager
	hierarchy *alerting.Hierarchy
	now       time.Time
}

func newMonitorFixture(t *testing.T, depths []model.DepthReading, weather *stubWeatherSource, speedKnots float64) *monitorFixture {
	t.Helper()
	return newMonitorFixtureOpts(t, depths, weather, speedKnots, emergency.Options{
		AckWindow:   10 * time.Millisecond,
		MaxAttempts: 1,
		RequireAck:  false,
	}, nil)
}

func newMonitorFixtureOpts(t *testing.T, depths []model.DepthReading, weather *stubWeatherSource, speedKnots float64, opts emergency.Options, channels []emergency.Channel) *monitorFixture {
	t.Helper()
	now := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)

	hierarchy := alerting.NewHierarchy(alerting.Options{}, zerolog.Nop()).
		WithClock(func() time.Time { return now })
	manager := emergency.NewManager(opts, channels, zerolog.Nop())

	readings := &stubReadingStore{readings: depths}
	processed := &stubProcessedStore{}
	alertStore := &stubAlertStore{}
	incidentStore := &stubIncidentStore{}

	var weatherSource source.WeatherSource
	if weather != nil {
		weatherSource = weather
	}

	monitor := New(testConfig(), Deps{
		Engine:        testEngine(),
		Tides:         &stubTideSource{observation: 0.8},
		Weather:       weatherSource,
		Readings:      readings,
		Processed:     processed,
		AlertStore:    alertStore,
		IncidentStore: incidentStore,
		Alerts:        hierarchy,
		Emergencies:   manager,
		Position: PositionFunc(func(context.Context) (navigation.VesselState, error) {
			return navigation.VesselState{
				Position:   gateBridge,
				SpeedKnots: speedKnots,
				FixTime:    now,
			}, nil
		}),
		Route: navigation.Route{
			PlannedSpeedKnots: 6,
			Waypoints: []navigation.Waypoint{
				{Name: "start", Location: gateBridge},
				{Name: "end", Location: geo.Point{Lat: 37.9, Lon: -122.4783}},
			},
		},
	}, zerolog.Nop()).WithClock(func() time.Time { return now })

	return &monitorFixture{
		monitor:   monitor,
		readings:  readings,
		processed: processed,
		alerts:    alertStore,
		incidents: incidentStore,
		manager:   manager,
		hierarchy: hierarchy,
		now:       now,
	}
}

func TestProcessCycleQuietWater(t *testing.T) {
	fx := newMonitorFixture(t, []model.DepthReading{
		depthReading("deep", 18.0, time.Date(2026, 5, 2, 8, 30, 0, 0, time.UTC)),
	}, nil, 5)

	if err := fx.monitor.ProcessCycle(context.Background(), fx.now); err != nil {
		t.Fatalf("process cycle: %v", err)
	}

	metrics, ok := fx.monitor.Metrics()
	if !ok {
		t.Fatal("no metrics after cycle")
	}
	if metrics.ReadingsEvaluated != 1 {
		t.Fatalf("readings evaluated = %d, want 1", metrics.ReadingsEvaluated)
	}
	if metrics.ActiveAlerts != 0 {
		t.Fatalf("active alerts = %d, want 0", metrics.ActiveAlerts)
	}
	if len(fx.processed.upserts) != 1 {
		t.Fatalf("processed upserts = %d, want 1", len(fx.processed.upserts))
	}
	// Raw 18.0 minus 0.8m tide observation.
	if got := fx.processed.upserts[0].CorrectedDepth; got != 17.2 {
		t.Fatalf("corrected depth = %v, want 17.2", got)
	}
}

func TestProcessCycleRaisesShallowWaterAlert(t *testing.T) {
	// Raw 3.9m minus 0.8m tide leaves 3.1m; margin over draft+buffer is 0.8m.
	fx := newMonitorFixture(t, []model.DepthReading{
		depthReading("shoal", 3.9, time.Date(2026, 5, 2, 8, 45, 0, 0, time.UTC)),
	}, nil, 5)

	if err := fx.monitor.ProcessCycle(context.Background(), fx.now); err != nil {
		t.Fatalf("process cycle: %v", err)
	}

	active := fx.hierarchy.Active()
	if len(active) != 1 {
		t.Fatalf("active alerts = %d, want 1", len(active))
	}
	if active[0].Cause != "shallow_water" || active[0].Severity != alerting.SeverityWarning {
		t.Fatalf("alert = %+v", active[0])
	}
	if len(fx.alerts.records) != 1 {
		t.Fatalf("persisted alerts = %d, want 1", len(fx.alerts.records))
	}

	recs := fx.monitor.Recommendations()
	if len(recs) == 0 || recs[0].Action != "reduce speed and post lookout" {
		t.Fatalf("recommendations = %+v", recs)
	}
}

func TestProcessCycleTriggersGroundingEmergency(t *testing.T) {
	// Raw 3.0m minus 0.8m tide leaves 2.2m against a 2.3m requirement:
	// negative margin at the vessel's position means impact now.
	fx := newMonitorFixture(t, []model.DepthReading{
		depthReading("grounding", 3.0, time.Date(2026, 5, 2, 8, 50, 0, 0, time.UTC)),
	}, nil, 5)

	if err := fx.monitor.ProcessCycle(context.Background(), fx.now); err != nil {
		t.Fatalf("process cycle: %v", err)
	}
	fx.manager.Wait()

	persisted := fx.incidents.snapshot()
	if len(persisted) != 1 {
		t.Fatalf("persisted incidents = %d, want 1", len(persisted))
	}
	record := persisted[0]
	if record.Type != string(emergency.IncidentGrounding) || record.Severity != string(emergency.SeverityMayday) {
		t.Fatalf("incident record = %+v", record)
	}
	if record.MMSI != "366123456" || record.PersonsOnBoard != 2 {
		t.Fatalf("vessel details missing: %+v", record)
	}

	if fx.hierarchy.MaxSeverity() != alerting.SeverityCritical {
		t.Fatalf("max severity = %v, want critical", fx.hierarchy.MaxSeverity())
	}
}

func TestProcessCycleStationaryVesselSkipsGroundingProtocol(t *testing.T) {
	fx := newMonitorFixture(t, []model.DepthReading{
		depthReading("grounding", 3.0, time.Date(2026, 5, 2, 8, 50, 0, 0, time.UTC)),
	}, nil, 0)

	if err := fx.monitor.ProcessCycle(context.Background(), fx.now); err != nil {
		t.Fatalf("process cycle: %v", err)
	}
	fx.manager.Wait()

	// Critical alert still raised, but no distress broadcast for a
	// vessel that is not making way.
	if got := fx.incidents.snapshot(); len(got) != 0 {
		t.Fatalf("incidents = %d, want 0", len(got))
	}
	if fx.hierarchy.MaxSeverity() != alerting.SeverityCritical {
		t.Fatalf("max severity = %v, want critical", fx.hierarchy.MaxSeverity())
	}
}

func TestProcessCycleDangerousWeather(t *testing.T) {
	weather := &stubWeatherSource{snapshot: model.EnvironmentalSnapshot{
		WindSpeedKnots: 40,
		HasWind:        true,
		WaveHeightM:    5.5,
		HasWaveHeight:  true,
		Time:           time.Date(2026, 5, 2, 8, 55, 0, 0, time.UTC),
	}}
	fx := newMonitorFixture(t, []model.DepthReading{
		depthReading("deep", 18.0, time.Date(2026, 5, 2, 8, 30, 0, 0, time.UTC)),
	}, weather, 5)

	if err := fx.monitor.ProcessCycle(context.Background(), fx.now); err != nil {
		t.Fatalf("process cycle: %v", err)
	}
	fx.manager.Wait()

	causes := make(map[string]alerting.Severity)
	for _, a := range fx.hierarchy.Active() {
		causes[a.Cause] = a.Severity
	}
	if causes["dangerous_wind"] != alerting.SeverityCritical {
		t.Fatalf("wind alert missing: %v", causes)
	}
	if causes["dangerous_waves"] != alerting.SeverityCritical {
		t.Fatalf("wave alert missing: %v", causes)
	}

	// Wind and waves together escalate to a pan-pan weather incident.
	persisted := fx.incidents.snapshot()
	if len(persisted) != 1 {
		t.Fatalf("incidents = %d, want 1", len(persisted))
	}
	if persisted[0].Type != string(emergency.IncidentWeather) {
		t.Fatalf("incident type = %s", persisted[0].Type)
	}
	if persisted[0].Severity != string(emergency.SeverityPanPan) {
		t.Fatalf("incident severity = %s", persisted[0].Severity)
	}

	found := false
	for _, rec := range fx.monitor.Recommendations() {
		if rec.Action == "seek shelter" {
			found = true
		}
	}
	if !found {
		t.Fatal("no shelter recommendation under dangerous wind")
	}
}

func TestProcessCycleWeatherFailureDegradesGracefully(t *testing.T) {
	weather := &stubWeatherSource{err: context.DeadlineExceeded}
	fx := newMonitorFixture(t, []model.DepthReading{
		depthReading("deep", 18.0, time.Date(2026, 5, 2, 8, 30, 0, 0, time.UTC)),
	}, weather, 5)

	if err := fx.monitor.ProcessCycle(context.Background(), fx.now); err != nil {
		t.Fatalf("cycle failed on weather outage: %v", err)
	}
	if len(fx.processed.upserts) != 1 {
		t.Fatalf("processing skipped on weather outage")
	}
	// Without a snapshot the environmental stage must not cut confidence.
	if got := fx.processed.upserts[0].Environmental.Confidence; got != 1.0 {
		t.Fatalf("env confidence = %v, want 1.0", got)
	}
}

func TestProcessCycleRepeatedShallowRefreshesAlert(t *testing.T) {
	fx := newMonitorFixture(t, []model.DepthReading{
		depthReading("shoal", 3.9, time.Date(2026, 5, 2, 8, 45, 0, 0, time.UTC)),
	}, nil, 5)

	ctx := context.Background()
	if err := fx.monitor.ProcessCycle(ctx, fx.now); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if err := fx.monitor.ProcessCycle(ctx, fx.now.Add(30*time.Second)); err != nil {
		t.Fatalf("second cycle: %v", err)
	}

	if got := len(fx.hierarchy.Active()); got != 1 {
		t.Fatalf("active alerts after refresh = %d, want 1", got)
	}
}

type captureChannel struct {
	mu   sync.Mutex
	sent []emergency.BroadcastMessage
}

func (c *captureChannel) Name() string { return "capture" }

func (c *captureChannel) Send(_ context.Context, msg emergency.BroadcastMessage) error {
	c.mu.Lock()
	c.sent = append(c.sent, msg)
	c.mu.Unlock()
	return nil
}

func (c *captureChannel) messages() []emergency.BroadcastMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]emergency.BroadcastMessage(nil), c.sent...)
}

func TestCriticalAlertGoesOutAsAdvisoryBroadcast(t *testing.T) {
	// Dangerous wind without dangerous waves raises a critical alert but
	// opens no incident. The alert still has to reach every channel.
	weather := &stubWeatherSource{snapshot: model.EnvironmentalSnapshot{
		WindSpeedKnots: 40,
		HasWind:        true,
		Time:           time.Date(2026, 5, 2, 8, 55, 0, 0, time.UTC),
	}}
	channel := &captureChannel{}
	fx := newMonitorFixtureOpts(t, []model.DepthReading{
		depthReading("deep", 18.0, time.Date(2026, 5, 2, 8, 30, 0, 0, time.UTC)),
	}, weather, 5, emergency.Options{
		AckWindow:   10 * time.Millisecond,
		MaxAttempts: 1,
		RequireAck:  false,
	}, []emergency.Channel{channel})

	if err := fx.monitor.ProcessCycle(context.Background(), fx.now); err != nil {
		t.Fatalf("process cycle: %v", err)
	}
	fx.manager.Wait()

	if got := fx.incidents.snapshot(); len(got) != 0 {
		t.Fatalf("incidents = %d, want none for wind alone", len(got))
	}

	var advisory *emergency.BroadcastMessage
	for _, msg := range channel.messages() {
		if msg.IncidentType == "dangerous_wind" {
			m := msg
			advisory = &m
		}
	}
	if advisory == nil {
		t.Fatalf("no wind advisory on channel, got %+v", channel.messages())
	}
	if advisory.IncidentID != "" {
		t.Fatalf("advisory carries incident id %q", advisory.IncidentID)
	}
	if advisory.Severity != "critical" {
		t.Fatalf("advisory severity = %q, want critical", advisory.Severity)
	}
	if advisory.VesselName != "Sea Otter" || advisory.MMSI != "366123456" {
		t.Fatalf("advisory vessel details = %+v", advisory)
	}
}

func TestUnacknowledgedDistressEscalatesToManualAlert(t *testing.T) {
	channel := &captureChannel{}
	fx := newMonitorFixtureOpts(t, []model.DepthReading{
		depthReading("grounding", 3.0, time.Date(2026, 5, 2, 8, 50, 0, 0, time.UTC)),
	}, nil, 5, emergency.Options{
		AckWindow:   5 * time.Millisecond,
		MaxAttempts: 2,
		RequireAck:  true,
	}, []emergency.Channel{channel})

	if err := fx.monitor.ProcessCycle(context.Background(), fx.now); err != nil {
		t.Fatalf("process cycle: %v", err)
	}
	fx.manager.Wait()

	attempts := 0
	for _, msg := range channel.messages() {
		if msg.IncidentID != "" {
			attempts++
		}
	}
	if attempts != 2 {
		t.Fatalf("distress broadcasts = %d, want 2", attempts)
	}

	failed := false
	for _, state := range fx.incidents.statesSeen() {
		if state == string(emergency.StateFailed) {
			failed = true
		}
	}
	if !failed {
		t.Fatalf("failed state never persisted, saw %v", fx.incidents.statesSeen())
	}

	var escalation *alerting.Alert
	for _, a := range fx.hierarchy.Active() {
		if a.Cause == "manual_escalation_required" {
			found := a
			escalation = &found
		}
	}
	if escalation == nil {
		t.Fatalf("no manual escalation alert, active = %+v", fx.hierarchy.Active())
	}
	if escalation.Severity != alerting.SeverityEmergency || escalation.Domain != alerting.DomainEmergency {
		t.Fatalf("escalation alert = %+v", escalation)
	}
}
