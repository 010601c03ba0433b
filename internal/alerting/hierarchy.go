package alerting

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"depth-safety-alerts/internal/geo"
)

// Outcome reports what Raise did with a condition.
type Outcome int

const (
	OutcomeCreated Outcome = iota
	OutcomeRefreshed
	OutcomeEscalated
)

// Options tune deduplication and expiry.
type Options struct {
	// ProximityMeters is the radius within which two conditions of the
	// same domain and cause are the same alert.
	ProximityMeters float64
	// TTL after which an unrefreshed alert expires.
	TTL time.Duration
	// SubscriberBuffer sizes each subscriber's delivery queue.
	SubscriberBuffer int
}

// DefaultOptions match close-quarters coastal navigation.
func DefaultOptions() Options {
	return Options{ProximityMeters: 200, TTL: 15 * time.Minute, SubscriberBuffer: 64}
}

// Subscription is one listener on the alert bus. Receive from C until
// Unsubscribe is called; the channel closes afterwards.
type Subscription struct {
	C chan Alert

	id      int64
	domains map[Domain]struct{}
}

func (s *Subscription) wants(d Domain) bool {
	if len(s.domains) == 0 {
		return true
	}
	_, ok := s.domains[d]
	return ok
}

// Hierarchy is the severity-ranked alert bus: it deduplicates incoming
// conditions against active alerts, escalates severity in place, publishes
// to subscribers, and hands broadcast-required alerts to the escalation hook.
type Hierarchy struct {
	opts   Options
	logger zerolog.Logger
	clock  func() time.Time

	// onBroadcast receives every alert whose severity requires broadcast.
	onBroadcast func(Alert)

	mu     sync.Mutex
	active []*Alert
	subs   map[int64]*Subscription
	nextID int64

	// dispatchMu keeps delivery FIFO while sends happen outside mu.
	dispatchMu sync.Mutex
}

// NewHierarchy constructs the alert bus.
func NewHierarchy(opts Options, logger zerolog.Logger) *Hierarchy {
	def := DefaultOptions()
	if opts.ProximityMeters <= 0 {
		opts.ProximityMeters = def.ProximityMeters
	}
	if opts.TTL <= 0 {
		opts.TTL = def.TTL
	}
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = def.SubscriberBuffer
	}
	return &Hierarchy{
		opts:   opts,
		logger: logger.With().Str("component", "alert_hierarchy").Logger(),
		clock:  func() time.Time { return time.Now().UTC() },
		subs:   make(map[int64]*Subscription),
	}
}

// WithClock overrides the clock, for tests.
func (h *Hierarchy) WithClock(now func() time.Time) *Hierarchy {
	h.clock = now
	return h
}

// OnBroadcast registers the escalation hook for critical/emergency alerts.
func (h *Hierarchy) OnBroadcast(fn func(Alert)) {
	h.mu.Lock()
	h.onBroadcast = fn
	h.mu.Unlock()
}

// Raise deduplicates the condition against active alerts. A duplicate
// refreshes the timestamp; a duplicate at higher severity escalates the
// existing alert in place. Severity never silently de-escalates.
func (h *Hierarchy) Raise(cond Condition) (Alert, Outcome) {
	now := h.clock()

	h.mu.Lock()
	h.expireLocked(now)

	existing := h.findLocked(cond)
	if existing != nil {
		outcome := OutcomeRefreshed
		existing.UpdatedAt = now
		existing.Message = cond.Message
		if cond.Severity > existing.Severity {
			existing.Severity = cond.Severity
			existing.BroadcastRequired = cond.Severity.BroadcastRequired()
			outcome = OutcomeEscalated
		}
		snapshot := *existing
		h.mu.Unlock()

		if outcome == OutcomeEscalated {
			h.publish(snapshot)
			h.maybeBroadcast(snapshot)
		}
		return snapshot, outcome
	}

	alert := &Alert{
		ID:                uuid.NewString(),
		Severity:          cond.Severity,
		Domain:            cond.Domain,
		Cause:             cond.Cause,
		Title:             cond.Title,
		Message:           cond.Message,
		Location:          cond.Location,
		Status:            StatusActive,
		CreatedAt:         now,
		UpdatedAt:         now,
		BroadcastRequired: cond.Severity.BroadcastRequired(),
	}
	h.active = append(h.active, alert)
	snapshot := *alert
	h.mu.Unlock()

	h.logger.Info().
		Str("alert_id", snapshot.ID).
		Str("domain", string(snapshot.Domain)).
		Str("cause", snapshot.Cause).
		Str("severity", snapshot.Severity.String()).
		Msg("alert created")

	h.publish(snapshot)
	h.maybeBroadcast(snapshot)
	return snapshot, OutcomeCreated
}

// Acknowledge marks an active alert acknowledged.
func (h *Hierarchy) Acknowledge(id string) bool {
	now := h.clock()
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, a := range h.active {
		if a.ID == id && a.Status == StatusActive {
			a.Status = StatusAcknowledged
			a.AcknowledgedAt = &now
			a.UpdatedAt = now
			return true
		}
	}
	return false
}

// Clear resolves every active alert matching domain, cause, and proximity.
// This is the explicit clearing condition required before de-escalation.
func (h *Hierarchy) Clear(domain Domain, cause string, location geo.Point) int {
	now := h.clock()
	h.mu.Lock()
	defer h.mu.Unlock()
	cleared := 0
	for _, a := range h.active {
		if !a.Active() || a.Domain != domain || a.Cause != cause {
			continue
		}
		if geo.Distance(a.Location, location) > h.opts.ProximityMeters {
			continue
		}
		a.Status = StatusSuperseded
		a.UpdatedAt = now
		cleared++
	}
	h.compactLocked()
	return cleared
}

// Active returns copies of every live alert, most severe first.
func (h *Hierarchy) Active() []Alert {
	h.mu.Lock()
	h.expireLocked(h.clock())
	out := make([]Alert, 0, len(h.active))
	for _, a := range h.active {
		if a.Active() {
			out = append(out, *a)
		}
	}
	h.mu.Unlock()

	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Severity > out[j-1].Severity; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// MaxSeverity returns the highest severity among live alerts, or zero.
func (h *Hierarchy) MaxSeverity() Severity {
	var max Severity
	for _, a := range h.Active() {
		if a.Severity > max {
			max = a.Severity
		}
	}
	return max
}

// Subscribe registers a listener. With no domains every alert is delivered;
// otherwise only the named domains. Delivery is at-least-once and FIFO
// within a domain; a subscriber that stops draining stalls the bus once its
// buffer fills, so consumers must keep reading until Unsubscribe.
func (h *Hierarchy) Subscribe(domains ...Domain) *Subscription {
	sub := &Subscription{
		C:       make(chan Alert, h.opts.SubscriberBuffer),
		domains: make(map[Domain]struct{}, len(domains)),
	}
	for _, d := range domains {
		sub.domains[d] = struct{}{}
	}

	h.mu.Lock()
	h.nextID++
	sub.id = h.nextID
	h.subs[sub.id] = sub
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes the listener and closes its channel. No further
// deliveries happen after Unsubscribe returns.
func (h *Hierarchy) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	_, present := h.subs[sub.id]
	delete(h.subs, sub.id)
	h.mu.Unlock()

	if present {
		// Take the dispatch lock so no send is in flight on the channel.
		h.dispatchMu.Lock()
		close(sub.C)
		h.dispatchMu.Unlock()
	}
}

func (h *Hierarchy) publish(alert Alert) {
	h.mu.Lock()
	targets := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		if sub.wants(alert.Domain) {
			targets = append(targets, sub)
		}
	}
	h.mu.Unlock()

	h.dispatchMu.Lock()
	defer h.dispatchMu.Unlock()
	for _, sub := range targets {
		// Re-check registration: the subscriber may have unsubscribed
		// between snapshotting and acquiring the dispatch lock.
		h.mu.Lock()
		_, live := h.subs[sub.id]
		h.mu.Unlock()
		if live {
			sub.C <- alert
		}
	}
}

func (h *Hierarchy) maybeBroadcast(alert Alert) {
	if !alert.BroadcastRequired {
		return
	}
	h.mu.Lock()
	fn := h.onBroadcast
	h.mu.Unlock()
	if fn != nil {
		fn(alert)
	}
}

// findLocked locates an active duplicate of the condition.
func (h *Hierarchy) findLocked(cond Condition) *Alert {
	for _, a := range h.active {
		if !a.Active() || a.Domain != cond.Domain || a.Cause != cond.Cause {
			continue
		}
		if geo.Distance(a.Location, cond.Location) <= h.opts.ProximityMeters {
			return a
		}
	}
	return nil
}

func (h *Hierarchy) expireLocked(now time.Time) {
	changed := false
	for _, a := range h.active {
		if a.Active() && now.Sub(a.UpdatedAt) > h.opts.TTL {
			a.Status = StatusExpired
			changed = true
		}
	}
	if changed {
		h.compactLocked()
	}
}

func (h *Hierarchy) compactLocked() {
	live := h.active[:0]
	for _, a := range h.active {
		if a.Active() {
			live = append(live, a)
		}
	}
	h.active = live
}
