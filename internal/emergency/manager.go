package emergency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"depth-safety-alerts/internal/geo"
)

// VesselStatus classifies the vessel's operational state for position
// reporting purposes.
type VesselStatus string

const (
	VesselActive   VesselStatus = "active"
	VesselUnderway VesselStatus = "underway"
	VesselAnchored VesselStatus = "anchored"
	VesselMoored   VesselStatus = "moored"
	VesselOffline  VesselStatus = "offline"
)

// reportable statuses trigger periodic position sends.
func (s VesselStatus) reportable() bool {
	switch s {
	case VesselActive, VesselUnderway, VesselAnchored, VesselMoored:
		return true
	}
	return false
}

// Options tune the broadcast retry protocol.
type Options struct {
	// AckWindow is how long each broadcast waits for an authority
	// acknowledgment before re-broadcasting.
	AckWindow time.Duration
	// MaxAttempts bounds the number of broadcasts per incident.
	MaxAttempts int
	// RequireAck disables the retry loop when false (fire-and-forget).
	RequireAck bool
}

// DefaultOptions follow the two-minute, three-attempt distress convention.
func DefaultOptions() Options {
	return Options{AckWindow: 2 * time.Minute, MaxAttempts: 3, RequireAck: true}
}

type incidentRun struct {
	incident *Incident
	ack      chan string
	cancel   context.CancelFunc
}

// Manager owns the incident lifecycle: reporting, multi-channel broadcast
// with bounded acknowledgment retries, and periodic position reporting.
type Manager struct {
	opts     Options
	channels []Channel
	logger   zerolog.Logger
	clock    func() time.Time

	// onEscalationRequired fires when the retry budget is exhausted
	// without an acknowledgment.
	onEscalationRequired func(Incident)
	// onTransition observes every accepted state change.
	onTransition func(Incident)

	mu        sync.Mutex
	incidents map[string]*incidentRun
	wg        sync.WaitGroup
}

// NewManager constructs the protocol manager over the enabled channels.
func NewManager(opts Options, channels []Channel, logger zerolog.Logger) *Manager {
	def := DefaultOptions()
	if opts.AckWindow <= 0 {
		opts.AckWindow = def.AckWindow
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	return &Manager{
		opts:      opts,
		channels:  channels,
		logger:    logger.With().Str("component", "emergency_manager").Logger(),
		clock:     func() time.Time { return time.Now().UTC() },
		incidents: make(map[string]*incidentRun),
	}
}

// WithClock overrides the clock, for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.clock = now
	return m
}

// OnEscalationRequired registers the manual-escalation hook.
func (m *Manager) OnEscalationRequired(fn func(Incident)) {
	m.mu.Lock()
	m.onEscalationRequired = fn
	m.mu.Unlock()
}

// OnTransition registers an observer invoked with an incident snapshot
// after every accepted state change. Persisting the lifecycle hangs off
// this hook.
func (m *Manager) OnTransition(fn func(Incident)) {
	m.mu.Lock()
	m.onTransition = fn
	m.mu.Unlock()
}

func (m *Manager) notifyTransition(snapshot Incident) {
	m.mu.Lock()
	fn := m.onTransition
	m.mu.Unlock()
	if fn != nil {
		fn(snapshot)
	}
}

// Report opens a new incident, snapshots the vessel profile, and starts the
// broadcast protocol in the background. The ctx bounds the whole protocol;
// Resolve cancels it early.
func (m *Manager) Report(ctx context.Context, incType IncidentType, severity IncidentSeverity, location geo.Point, vessel VesselProfile, personsOnBoard int) Incident {
	now := m.clock()
	incident := &Incident{
		ID:             uuid.NewString(),
		Type:           incType,
		Severity:       severity,
		Location:       location,
		Vessel:         vessel,
		PersonsOnBoard: personsOnBoard,
		State:          StateReported,
		ReportedAt:     now,
		UpdatedAt:      now,
		ChannelResults: make(map[string]error),
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := &incidentRun{
		incident: incident,
		ack:      make(chan string, 1),
		cancel:   cancel,
	}

	m.mu.Lock()
	m.incidents[incident.ID] = run
	snapshot := *incident
	m.mu.Unlock()

	m.logger.Warn().
		Str("incident_id", incident.ID).
		Str("type", string(incType)).
		Str("severity", string(severity)).
		Int("persons_on_board", personsOnBoard).
		Msg("emergency incident reported")

	m.wg.Add(1)
	go m.runProtocol(runCtx, run)

	return snapshot
}

// Acknowledge records an authority acknowledgment and stops the retry loop.
func (m *Manager) Acknowledge(incidentID, authority string) bool {
	m.mu.Lock()
	run, ok := m.incidents[incidentID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case run.ack <- authority:
		return true
	default:
		return false
	}
}

// Resolve closes the incident and cancels any in-flight broadcast retry.
func (m *Manager) Resolve(incidentID string) bool {
	m.mu.Lock()
	run, ok := m.incidents[incidentID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	m.transitionLocked(run.incident, StateResolved)
	snapshot := cloneIncident(run.incident)
	m.mu.Unlock()

	run.cancel()
	m.notifyTransition(snapshot)
	return true
}

// Incident returns a copy of the incident by id.
func (m *Manager) Incident(incidentID string) (Incident, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.incidents[incidentID]
	if !ok {
		return Incident{}, false
	}
	return cloneIncident(run.incident), true
}

// Open returns copies of every unresolved incident.
func (m *Manager) Open() []Incident {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Incident, 0, len(m.incidents))
	for _, run := range m.incidents {
		if run.incident.Open() {
			out = append(out, cloneIncident(run.incident))
		}
	}
	return out
}

// Wait blocks until every background protocol goroutine has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) runProtocol(ctx context.Context, run *incidentRun) {
	defer m.wg.Done()
	defer run.cancel()

	for attempt := 1; attempt <= m.opts.MaxAttempts; attempt++ {
		m.mu.Lock()
		if !run.incident.Open() {
			m.mu.Unlock()
			return
		}
		m.transitionLocked(run.incident, StateBroadcasting)
		run.incident.Attempts = attempt
		msg := broadcastMessage(run.incident, attempt)
		snapshot := cloneIncident(run.incident)
		m.mu.Unlock()

		m.notifyTransition(snapshot)
		m.broadcastAll(ctx, run, msg)

		if !m.opts.RequireAck {
			return
		}

		timer := time.NewTimer(m.opts.AckWindow)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case authority := <-run.ack:
			timer.Stop()
			m.mu.Lock()
			run.incident.AcknowledgedBy = authority
			m.transitionLocked(run.incident, StateAcknowledged)
			acked := cloneIncident(run.incident)
			m.mu.Unlock()
			m.notifyTransition(acked)
			m.logger.Info().Str("incident_id", acked.ID).Str("authority", authority).Msg("incident acknowledged")
			return
		case <-timer.C:
		}

		if attempt < m.opts.MaxAttempts {
			m.mu.Lock()
			m.transitionLocked(run.incident, StateRetrying)
			retrying := cloneIncident(run.incident)
			m.mu.Unlock()
			m.notifyTransition(retrying)
			m.logger.Warn().Str("incident_id", retrying.ID).Int("attempt", attempt).Msg("no acknowledgment, re-broadcasting")
		}
	}

	m.mu.Lock()
	m.transitionLocked(run.incident, StateFailed)
	snapshot := cloneIncident(run.incident)
	fn := m.onEscalationRequired
	m.mu.Unlock()

	m.notifyTransition(snapshot)
	m.logger.Error().Str("incident_id", snapshot.ID).Int("attempts", snapshot.Attempts).Msg("broadcast retries exhausted, manual escalation required")
	if fn != nil {
		fn(snapshot)
	}
}

// Broadcast sends a one-shot advisory on every channel without opening an
// incident. Alerts that require broadcast but fall short of a distress
// condition go out this way. Delivery runs in the background; Wait blocks
// until it completes.
func (m *Manager) Broadcast(ctx context.Context, msg BroadcastMessage) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		var wg sync.WaitGroup
		for _, ch := range m.channels {
			wg.Add(1)
			go func(ch Channel) {
				defer wg.Done()
				if err := ch.Send(ctx, msg); err != nil {
					m.logger.Warn().Err(err).Str("channel", ch.Name()).Msg("advisory broadcast failed")
				}
			}(ch)
		}
		wg.Wait()
	}()
}

// broadcastAll sends on every channel simultaneously and records outcomes.
func (m *Manager) broadcastAll(ctx context.Context, run *incidentRun, msg BroadcastMessage) {
	var wg sync.WaitGroup
	results := make([]error, len(m.channels))
	for i, ch := range m.channels {
		wg.Add(1)
		go func(i int, ch Channel) {
			defer wg.Done()
			results[i] = ch.Send(ctx, msg)
		}(i, ch)
	}
	wg.Wait()

	m.mu.Lock()
	for i, ch := range m.channels {
		run.incident.ChannelResults[ch.Name()] = results[i]
	}
	run.incident.UpdatedAt = m.clock()
	m.mu.Unlock()

	for i, ch := range m.channels {
		if results[i] != nil {
			m.logger.Error().Err(results[i]).Str("incident_id", run.incident.ID).Str("channel", ch.Name()).Msg("broadcast channel failed")
		}
	}
}

// transitionLocked applies a state change if the transition table allows it.
func (m *Manager) transitionLocked(incident *Incident, to IncidentState) {
	if incident.State == to {
		return
	}
	if !canTransition(incident.State, to) {
		m.logger.Debug().
			Str("incident_id", incident.ID).
			Str("from", string(incident.State)).
			Str("to", string(to)).
			Msg("rejected invalid state transition")
		return
	}
	incident.State = to
	incident.UpdatedAt = m.clock()
}

// RunPositionReports periodically sends a routine position report on the
// given channels whenever the vessel status is reportable. It is not gated
// on incident state and runs until ctx is cancelled.
func (m *Manager) RunPositionReports(ctx context.Context, interval time.Duration, channels []Channel, state func() (geo.Point, VesselProfile, VesselStatus)) error {
	if interval <= 0 {
		return fmt.Errorf("position report interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		pos, vessel, status := state()
		if !status.reportable() {
			continue
		}

		msg := BroadcastMessage{
			IncidentID:   "",
			Severity:     "routine",
			IncidentType: "position_report",
			Latitude:     pos.Lat,
			Longitude:    pos.Lon,
			VesselName:   vessel.Name,
			CallSign:     vessel.CallSign,
			MMSI:         vessel.MMSI,
			Text:         fmt.Sprintf("Routine position report (%s).", status),
		}
		for _, ch := range channels {
			if err := ch.Send(ctx, msg); err != nil {
				m.logger.Warn().Err(err).Str("channel", ch.Name()).Msg("position report failed")
			}
		}
	}
}

func broadcastMessage(incident *Incident, attempt int) BroadcastMessage {
	return BroadcastMessage{
		IncidentID:     incident.ID,
		Severity:       string(incident.Severity),
		IncidentType:   string(incident.Type),
		Latitude:       incident.Location.Lat,
		Longitude:      incident.Location.Lon,
		VesselName:     incident.Vessel.Name,
		CallSign:       incident.Vessel.CallSign,
		MMSI:           incident.Vessel.MMSI,
		PersonsOnBoard: incident.PersonsOnBoard,
		Attempt:        attempt,
	}
}

func cloneIncident(incident *Incident) Incident {
	out := *incident
	out.ChannelResults = make(map[string]error, len(incident.ChannelResults))
	for k, v := range incident.ChannelResults {
		out.ChannelResults[k] = v
	}
	return out
}
