package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"depth-safety-alerts/internal/alerting"
	"depth-safety-alerts/internal/config"
	"depth-safety-alerts/internal/emergency"
	"depth-safety-alerts/internal/geo"
	"depth-safety-alerts/internal/model"
	"depth-safety-alerts/internal/navigation"
	"depth-safety-alerts/internal/pipeline"
	"depth-safety-alerts/internal/scheduler"
	"depth-safety-alerts/internal/source"
	"depth-safety-alerts/internal/storage"
)

// PositionSource yields the vessel's current fix.
type PositionSource interface {
	Fix(ctx context.Context) (navigation.VesselState, error)
}

// PositionFunc adapts a function to the PositionSource interface.
type PositionFunc func(ctx context.Context) (navigation.VesselState, error)

// Fix implements PositionSource.
func (f PositionFunc) Fix(ctx context.Context) (navigation.VesselState, error) { return f(ctx) }

// searchRadiusMeters bounds the nearby-reading lookup per cycle.
const searchRadiusMeters = 2000

// historyDepth is how many recent corrected depths feed the
// unexpected-deep-water heuristic.
const historyDepth = 10

// Metrics is one cycle's safety snapshot.
type Metrics struct {
	Cycle              time.Time
	Position           geo.Point
	ReadingsEvaluated  int
	MinCorrectedDepth  float64
	MinMarginMeters    float64
	SafetyStatus       alerting.Severity
	ActiveAlerts       int
	OpenIncidents      int
	NavigationDeviance float64
}

// Recommendation is a ranked advisory derived from current conditions.
type Recommendation struct {
	Rank      int
	Action    string
	Reason    string
	ExpiresAt time.Time
}

// Monitor orchestrates the per-cycle safety evaluation: resolve the
// vessel fix, correct and score nearby depth data, raise alerts, and
// trigger the emergency protocol when thresholds are crossed.
type Monitor struct {
	sched         *scheduler.Scheduler
	engine        *pipeline.Engine
	tides         source.TideSource
	weather       source.WeatherSource
	readings      storage.ReadingStore
	processed     storage.ProcessedStore
	alertStore    storage.AlertEventStore
	incidentStore storage.IncidentStore
	alerts        *alerting.Hierarchy
	emergencies   *emergency.Manager
	position      PositionSource
	route         navigation.Route
	vessel        config.VesselConfig
	safety        config.SafetyConfig
	tideWindow    time.Duration
	locker        storage.AdvisoryLocker
	lockKey       int64
	logger        zerolog.Logger
	clock         func() time.Time

	mu              sync.Mutex
	depthHistory    []float64
	recommendations []Recommendation
	lastMetrics     Metrics
	hasMetrics      bool
}

// Deps bundles the monitor's collaborators.
type Deps struct {
	Scheduler     *scheduler.Scheduler
	Engine        *pipeline.Engine
	Tides         source.TideSource
	Weather       source.WeatherSource
	Readings      storage.ReadingStore
	Processed     storage.ProcessedStore
	AlertStore    storage.AlertEventStore
	IncidentStore storage.IncidentStore
	Alerts        *alerting.Hierarchy
	Emergencies   *emergency.Manager
	Position      PositionSource
	Route         navigation.Route
}

// New constructs the monitoring service.
func New(cfg *config.Config, deps Deps, logger zerolog.Logger) *Monitor {
	var locker storage.AdvisoryLocker
	if l, ok := deps.Readings.(storage.AdvisoryLocker); ok {
		locker = l
	}

	m := &Monitor{
		sched:         deps.Scheduler,
		engine:        deps.Engine,
		tides:         deps.Tides,
		weather:       deps.Weather,
		readings:      deps.Readings,
		processed:     deps.Processed,
		alertStore:    deps.AlertStore,
		incidentStore: deps.IncidentStore,
		alerts:        deps.Alerts,
		emergencies:   deps.Emergencies,
		position:      deps.Position,
		route:         deps.Route,
		vessel:        cfg.Vessel,
		safety:        cfg.Safety,
		tideWindow:    cfg.Tide.PredictionWindow,
		locker:        locker,
		lockKey:       cfg.Scheduler.AdvisoryLockKey,
		logger:        logger.With().Str("component", "monitor").Logger(),
		clock:         time.Now,
	}
	m.registerHooks()
	return m
}

// registerHooks connects the alert bus to the emergency broadcast path and
// ties incident lifecycle changes back to persistence and the bus.
func (m *Monitor) registerHooks() {
	if m.alerts != nil && m.emergencies != nil {
		m.alerts.OnBroadcast(func(alert alerting.Alert) {
			m.emergencies.Broadcast(context.Background(), emergency.BroadcastMessage{
				Severity:       alert.Severity.String(),
				IncidentType:   alert.Cause,
				Latitude:       alert.Location.Lat,
				Longitude:      alert.Location.Lon,
				VesselName:     m.vessel.Name,
				CallSign:       m.vessel.CallSign,
				MMSI:           m.vessel.MMSI,
				PersonsOnBoard: m.vessel.PersonsOnBoard,
				Text:           alert.Message,
			})
		})
	}
	if m.emergencies != nil {
		m.emergencies.OnTransition(func(incident emergency.Incident) {
			m.persistIncident(context.Background(), incident)
		})
		m.emergencies.OnEscalationRequired(func(incident emergency.Incident) {
			m.raise(context.Background(), alerting.Condition{
				Severity: alerting.SeverityEmergency,
				Domain:   alerting.DomainEmergency,
				Cause:    "manual_escalation_required",
				Title:    "Broadcast unacknowledged",
				Message: fmt.Sprintf("incident %s (%s) exhausted %d broadcast attempts without acknowledgment",
					incident.ID, incident.Type, incident.Attempts),
				Location: incident.Location,
			})
		})
	}
}

// WithClock overrides the time source for tests.
func (m *Monitor) WithClock(clock func() time.Time) *Monitor {
	m.clock = clock
	return m
}

// Run begins the monitoring loop.
func (m *Monitor) Run(ctx context.Context) error {
	if m.sched == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return m.sched.Run(ctx, m.ProcessCycle)
}

// ProcessCycle executes one monitoring cycle under the advisory lock.
func (m *Monitor) ProcessCycle(ctx context.Context, cycle time.Time) error {
	unlock, proceed, err := m.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		m.logger.Debug().Time("cycle", cycle).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return m.executeCycle(ctx, cycle)
}

func (m *Monitor) executeCycle(ctx context.Context, cycle time.Time) error {
	state, err := m.position.Fix(ctx)
	if err != nil {
		return fmt.Errorf("resolve vessel fix: %w", err)
	}

	snapshot, hasSnapshot := m.resolveWeather(ctx, state.Position)

	processed, err := m.evaluateDepths(ctx, state, snapshot, hasSnapshot)
	if err != nil {
		return err
	}

	metrics := Metrics{
		Cycle:             cycle,
		Position:          state.Position,
		ReadingsEvaluated: len(processed),
		MinCorrectedDepth: math.Inf(1),
		MinMarginMeters:   math.Inf(1),
	}

	for _, p := range processed {
		if p.Reliability == model.ReliabilityUnreliable {
			continue
		}
		if p.CorrectedDepth < metrics.MinCorrectedDepth {
			metrics.MinCorrectedDepth = p.CorrectedDepth
		}
		if p.SafetyMarginMeters < metrics.MinMarginMeters {
			metrics.MinMarginMeters = p.SafetyMarginMeters
		}
		m.evaluateDepthAlerts(ctx, p, state)
	}

	if hasSnapshot {
		m.evaluateWeatherAlerts(ctx, snapshot, state)
	}

	if nav, navErr := navigation.Observe(m.route, state); navErr == nil {
		metrics.NavigationDeviance = math.Abs(nav.CrossTrackMeters)
		m.evaluateNavigationAlerts(ctx, nav, state)
	}

	m.refreshRecommendations(processed, snapshot, hasSnapshot, state)

	metrics.SafetyStatus = m.alerts.MaxSeverity()
	metrics.ActiveAlerts = len(m.alerts.Active())
	if m.emergencies != nil {
		metrics.OpenIncidents = len(m.emergencies.Open())
	}

	m.mu.Lock()
	m.lastMetrics = metrics
	m.hasMetrics = true
	m.mu.Unlock()

	m.logger.Info().
		Time("cycle", cycle).
		Int("readings", metrics.ReadingsEvaluated).
		Float64("min_margin_m", metrics.MinMarginMeters).
		Str("safety_status", metrics.SafetyStatus.String()).
		Msg("cycle complete")
	return nil
}

// Metrics returns the latest cycle snapshot.
func (m *Monitor) Metrics() (Metrics, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastMetrics, m.hasMetrics
}

// Recommendations returns the current unexpired advisories, best first.
func (m *Monitor) Recommendations() []Recommendation {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock().UTC()
	out := make([]Recommendation, 0, len(m.recommendations))
	for _, rec := range m.recommendations {
		if rec.ExpiresAt.After(now) {
			out = append(out, rec)
		}
	}
	return out
}

func (m *Monitor) resolveWeather(ctx context.Context, at geo.Point) (model.EnvironmentalSnapshot, bool) {
	if m.weather == nil {
		return model.EnvironmentalSnapshot{}, false
	}
	snapshot, err := m.weather.Snapshot(ctx, at)
	if err != nil {
		m.logger.Warn().Err(err).Msg("weather snapshot unavailable")
		return model.EnvironmentalSnapshot{}, false
	}
	return snapshot, true
}

func (m *Monitor) evaluateDepths(ctx context.Context, state navigation.VesselState, snapshot model.EnvironmentalSnapshot, hasSnapshot bool) ([]model.ProcessedDepthReading, error) {
	readings, _, err := m.readings.NearestReadings(ctx, state.Position, searchRadiusMeters, 50)
	if err != nil {
		return nil, fmt.Errorf("nearest readings: %w", err)
	}

	now := m.clock().UTC()
	var station *model.TideStation
	var predictions []model.TidePrediction
	var observation *model.WaterLevelObservation

	if m.tides != nil && len(readings) > 0 {
		station, err = m.tides.NearestStation(ctx, state.Position)
		if err != nil {
			m.logger.Warn().Err(err).Msg("tide station lookup failed")
		}
		if station != nil {
			window := m.tideWindow
			if window <= 0 {
				window = 24 * time.Hour
			}
			predictions, err = m.tides.Predictions(ctx, station.ID, now.Add(-window), now.Add(window))
			if err != nil {
				m.logger.Warn().Err(err).Str("station", station.ID).Msg("tide predictions failed")
			}
			observation, err = m.tides.LatestObservation(ctx, station.ID, now)
			if err != nil {
				m.logger.Warn().Err(err).Str("station", station.ID).Msg("water level observation failed")
			}
		}
	}

	out := make([]model.ProcessedDepthReading, 0, len(readings))
	for _, reading := range readings {
		p := m.engine.Process(pipeline.Input{
			Reading:     reading,
			Station:     station,
			Predictions: predictions,
			Observation: observation,
			Environment: snapshot,
			HasSnapshot: hasSnapshot,
		})
		out = append(out, p)

		if m.processed != nil {
			if err := m.processed.UpsertProcessed(ctx, p); err != nil {
				m.logger.Error().Err(err).Str("reading_id", reading.ID).Msg("persist processed reading failed")
			}
		}
	}
	return out, nil
}

func (m *Monitor) evaluateDepthAlerts(ctx context.Context, p model.ProcessedDepthReading, state navigation.VesselState) {
	margin := p.SafetyMarginMeters

	switch {
	case margin <= m.safety.CriticalMarginMeters:
		impact := m.timeToImpact(p, state)
		if impact >= 0 && impact <= m.safety.GroundingTimeToImpact {
			m.triggerEmergency(ctx, emergency.IncidentGrounding, emergency.SeverityMayday, p.Reading.Location,
				fmt.Sprintf("grounding imminent: margin %.2fm, impact in %s", margin, impact.Round(time.Second)))
		}
		m.raise(ctx, alerting.Condition{
			Severity: alerting.SeverityCritical,
			Domain:   alerting.DomainDepth,
			Cause:    "grounding_risk",
			Title:    "Grounding risk",
			Message:  fmt.Sprintf("corrected depth %.2fm leaves %.2fm margin", p.CorrectedDepth, margin),
			Location: p.Reading.Location,
		})
	case margin <= m.safety.WarningMarginMeters:
		m.raise(ctx, alerting.Condition{
			Severity: alerting.SeverityWarning,
			Domain:   alerting.DomainDepth,
			Cause:    "shallow_water",
			Title:    "Shallow water",
			Message:  fmt.Sprintf("corrected depth %.2fm leaves %.2fm margin", p.CorrectedDepth, margin),
			Location: p.Reading.Location,
		})
	case margin <= m.safety.CautionMarginMeters:
		m.raise(ctx, alerting.Condition{
			Severity: alerting.SeverityCaution,
			Domain:   alerting.DomainDepth,
			Cause:    "reduced_clearance",
			Title:    "Reduced clearance",
			Message:  fmt.Sprintf("corrected depth %.2fm leaves %.2fm margin", p.CorrectedDepth, margin),
			Location: p.Reading.Location,
		})
	}

	m.trackDepthAnomaly(ctx, p)
}

// trackDepthAnomaly flags a sudden deep reading after a run of shallow
// ones, which usually means position error rather than real bathymetry.
func (m *Monitor) trackDepthAnomaly(ctx context.Context, p model.ProcessedDepthReading) {
	m.mu.Lock()
	history := append([]float64(nil), m.depthHistory...)
	m.depthHistory = append(m.depthHistory, p.CorrectedDepth)
	if len(m.depthHistory) > historyDepth {
		m.depthHistory = m.depthHistory[len(m.depthHistory)-historyDepth:]
	}
	m.mu.Unlock()

	if len(history) < 3 || m.safety.DeepAnomalyFactor <= 1 {
		return
	}
	var sum float64
	for _, d := range history {
		sum += d
	}
	avg := sum / float64(len(history))
	if avg > 0 && p.CorrectedDepth > avg*m.safety.DeepAnomalyFactor {
		m.raise(ctx, alerting.Condition{
			Severity: alerting.SeverityCaution,
			Domain:   alerting.DomainDepth,
			Cause:    "depth_anomaly",
			Title:    "Unexpected deep reading",
			Message:  fmt.Sprintf("depth %.1fm vs recent average %.1fm, verify position fix", p.CorrectedDepth, avg),
			Location: p.Reading.Location,
		})
	}
}

func (m *Monitor) evaluateWeatherAlerts(ctx context.Context, snapshot model.EnvironmentalSnapshot, state navigation.VesselState) {
	dangerousWind := snapshot.HasWind && snapshot.WindSpeedKnots >= m.safety.DangerWindKnots
	dangerousWaves := snapshot.HasWaveHeight && snapshot.WaveHeightM >= m.safety.DangerWaveMeters

	if dangerousWind && dangerousWaves {
		m.triggerEmergency(ctx, emergency.IncidentWeather, emergency.SeverityPanPan, state.Position,
			fmt.Sprintf("severe conditions: wind %.0fkt, waves %.1fm", snapshot.WindSpeedKnots, snapshot.WaveHeightM))
	}

	if dangerousWind {
		m.raise(ctx, alerting.Condition{
			Severity: alerting.SeverityCritical,
			Domain:   alerting.DomainWeather,
			Cause:    "dangerous_wind",
			Title:    "Dangerous wind",
			Message:  fmt.Sprintf("sustained wind %.0f knots", snapshot.WindSpeedKnots),
			Location: state.Position,
		})
	}
	if dangerousWaves {
		m.raise(ctx, alerting.Condition{
			Severity: alerting.SeverityCritical,
			Domain:   alerting.DomainWeather,
			Cause:    "dangerous_waves",
			Title:    "Dangerous sea state",
			Message:  fmt.Sprintf("wave height %.1fm", snapshot.WaveHeightM),
			Location: state.Position,
		})
	}
}

func (m *Monitor) evaluateNavigationAlerts(ctx context.Context, nav navigation.Observation, state navigation.VesselState) {
	deviation := math.Abs(nav.CrossTrackMeters)
	if m.safety.DeviationLimitMeters <= 0 || deviation < m.safety.DeviationLimitMeters {
		return
	}
	side := "starboard"
	if nav.CrossTrackMeters < 0 {
		side = "port"
	}
	m.raise(ctx, alerting.Condition{
		Severity: alerting.SeverityWarning,
		Domain:   alerting.DomainNavigation,
		Cause:    "route_deviation",
		Title:    "Off track",
		Message:  fmt.Sprintf("%.0fm %s of planned route", deviation, side),
		Location: state.Position,
	})
}

// timeToImpact projects how long until clearance runs out assuming the
// margin keeps shrinking at the rate implied by the vessel's speed over
// the distance to the reading. A stationary vessel yields no projection.
func (m *Monitor) timeToImpact(p model.ProcessedDepthReading, state navigation.VesselState) time.Duration {
	if state.SpeedKnots <= 0.1 {
		return -1
	}
	distance := geo.Distance(state.Position, p.Reading.Location)
	speedMS := state.SpeedKnots * 1852.0 / 3600.0
	return time.Duration(distance / speedMS * float64(time.Second))
}

func (m *Monitor) raise(ctx context.Context, cond alerting.Condition) {
	if m.alerts == nil {
		return
	}
	alert, outcome := m.alerts.Raise(cond)

	if m.alertStore != nil {
		record := storage.AlertRecord{
			ID:                alert.ID,
			Domain:            string(alert.Domain),
			Cause:             alert.Cause,
			Severity:          alert.Severity.String(),
			Title:             alert.Title,
			Message:           alert.Message,
			Lat:               alert.Location.Lat,
			Lon:               alert.Location.Lon,
			Status:            string(alert.Status),
			BroadcastRequired: alert.BroadcastRequired,
			CreatedAt:         alert.CreatedAt,
			UpdatedAt:         alert.UpdatedAt,
		}
		if err := m.alertStore.UpsertAlert(ctx, record); err != nil {
			m.logger.Error().Err(err).Str("alert_id", alert.ID).Msg("persist alert failed")
		}
	}

	if outcome != alerting.OutcomeRefreshed {
		m.logger.Warn().
			Str("alert_id", alert.ID).
			Str("cause", alert.Cause).
			Str("severity", alert.Severity.String()).
			Msg("alert raised")
	}
}

func (m *Monitor) triggerEmergency(ctx context.Context, incType emergency.IncidentType, severity emergency.IncidentSeverity, location geo.Point, detail string) {
	if m.emergencies == nil {
		return
	}
	for _, open := range m.emergencies.Open() {
		if open.Type == incType {
			return
		}
	}

	profile := emergency.VesselProfile{
		Name:        m.vessel.Name,
		CallSign:    m.vessel.CallSign,
		MMSI:        m.vessel.MMSI,
		LengthM:     m.vessel.LengthMeters,
		DraftMeters: m.vessel.DraftMeters,
	}
	incident := m.emergencies.Report(ctx, incType, severity, location, profile, m.vessel.PersonsOnBoard)
	m.persistIncident(ctx, incident)

	m.logger.Error().
		Str("incident_id", incident.ID).
		Str("type", string(incType)).
		Str("severity", string(severity)).
		Str("detail", detail).
		Msg("emergency protocol triggered")
}

// persistIncident mirrors the incident's current lifecycle position into
// the audit table. Called at report time and on every state transition.
func (m *Monitor) persistIncident(ctx context.Context, incident emergency.Incident) {
	if m.incidentStore == nil {
		return
	}
	record := storage.IncidentRecord{
		ID:             incident.ID,
		Type:           string(incident.Type),
		Severity:       string(incident.Severity),
		Lat:            incident.Location.Lat,
		Lon:            incident.Location.Lon,
		VesselName:     incident.Vessel.Name,
		CallSign:       incident.Vessel.CallSign,
		MMSI:           incident.Vessel.MMSI,
		PersonsOnBoard: incident.PersonsOnBoard,
		State:          string(incident.State),
		Attempts:       incident.Attempts,
		AcknowledgedBy: incident.AcknowledgedBy,
		ReportedAt:     incident.ReportedAt,
		UpdatedAt:      incident.UpdatedAt,
	}
	if err := m.incidentStore.UpsertIncident(ctx, record); err != nil {
		m.logger.Error().Err(err).Str("incident_id", incident.ID).Msg("persist incident failed")
	}
}

func (m *Monitor) refreshRecommendations(processed []model.ProcessedDepthReading, snapshot model.EnvironmentalSnapshot, hasSnapshot bool, state navigation.VesselState) {
	now := m.clock().UTC()
	ttl := m.safety.RecommendationTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	expires := now.Add(ttl)

	var recs []Recommendation
	minMargin := math.Inf(1)
	for _, p := range processed {
		if p.Reliability != model.ReliabilityUnreliable && p.SafetyMarginMeters < minMargin {
			minMargin = p.SafetyMarginMeters
		}
	}

	switch {
	case minMargin <= m.safety.CriticalMarginMeters:
		recs = append(recs, Recommendation{Rank: 1, Action: "stop and reverse course",
			Reason: fmt.Sprintf("under-keel margin %.2fm", minMargin), ExpiresAt: expires})
	case minMargin <= m.safety.WarningMarginMeters:
		recs = append(recs, Recommendation{Rank: 1, Action: "reduce speed and post lookout",
			Reason: fmt.Sprintf("under-keel margin %.2fm", minMargin), ExpiresAt: expires})
	case minMargin <= m.safety.CautionMarginMeters:
		recs = append(recs, Recommendation{Rank: 2, Action: "verify depth sounder against chart",
			Reason: fmt.Sprintf("under-keel margin %.2fm", minMargin), ExpiresAt: expires})
	}

	if hasSnapshot && snapshot.HasWind && snapshot.WindSpeedKnots >= m.safety.DangerWindKnots {
		recs = append(recs, Recommendation{Rank: 1, Action: "seek shelter",
			Reason: fmt.Sprintf("wind %.0f knots", snapshot.WindSpeedKnots), ExpiresAt: expires})
	}

	if nav, err := navigation.Observe(m.route, state); err == nil &&
		m.safety.DeviationLimitMeters > 0 && math.Abs(nav.CrossTrackMeters) >= m.safety.DeviationLimitMeters {
		recs = append(recs, Recommendation{Rank: 3, Action: "steer back to planned track",
			Reason: fmt.Sprintf("%.0fm off route", math.Abs(nav.CrossTrackMeters)), ExpiresAt: expires})
	}

	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Rank < recs[j].Rank })

	m.mu.Lock()
	m.recommendations = recs
	m.mu.Unlock()
}

func (m *Monitor) acquireLock(ctx context.Context) (func(), bool, error) {
	if m.lockKey == 0 || m.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := m.locker.TryAdvisoryLock(ctx, m.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
