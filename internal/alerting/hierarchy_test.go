package alerting

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"depth-safety-alerts/internal/geo"
)

var bridgePoint = geo.Point{Lat: 37.8199, Lon: -122.4783}

func shallowCondition(sev Severity) Condition {
	return Condition{
		Severity: sev,
		Domain:   DomainDepth,
		Cause:    "shallow_water",
		Title:    "Shallow water",
		Message:  "corrected depth below warning margin",
		Location: bridgePoint,
	}
}

func newTestHierarchy(opts Options) (*Hierarchy, *time.Time) {
	now := time.Date(2026, 4, 1, 6, 0, 0, 0, time.UTC)
	h := NewHierarchy(opts, zerolog.Nop()).WithClock(func() time.Time { return now })
	return h, &now
}

func TestRaiseDeduplicatesWithinProximity(t *testing.T) {
	h, _ := newTestHierarchy(Options{})

	first, outcome := h.Raise(shallowCondition(SeverityWarning))
	if outcome != OutcomeCreated {
		t.Fatalf("first raise outcome = %v, want created", outcome)
	}

	// Same cause ~50m away is the same condition.
	nearby := shallowCondition(SeverityWarning)
	nearby.Location = geo.Point{Lat: bridgePoint.Lat + 0.0004, Lon: bridgePoint.Lon}
	second, outcome := h.Raise(nearby)
	if outcome != OutcomeRefreshed {
		t.Fatalf("nearby raise outcome = %v, want refreshed", outcome)
	}
	if second.ID != first.ID {
		t.Fatalf("refresh produced a new alert id")
	}
	if got := len(h.Active()); got != 1 {
		t.Fatalf("active alerts = %d, want 1", got)
	}
}

func TestRaiseCreatesBeyondProximity(t *testing.T) {
	h, _ := newTestHierarchy(Options{ProximityMeters: 200})

	h.Raise(shallowCondition(SeverityWarning))

	far := shallowCondition(SeverityWarning)
	far.Location = geo.Point{Lat: bridgePoint.Lat + 0.01, Lon: bridgePoint.Lon}
	_, outcome := h.Raise(far)
	if outcome != OutcomeCreated {
		t.Fatalf("distant raise outcome = %v, want created", outcome)
	}
	if got := len(h.Active()); got != 2 {
		t.Fatalf("active alerts = %d, want 2", got)
	}
}

func TestRaiseEscalatesInPlaceNeverDeescalates(t *testing.T) {
	h, _ := newTestHierarchy(Options{})

	first, _ := h.Raise(shallowCondition(SeverityCaution))

	escalated, outcome := h.Raise(shallowCondition(SeverityCritical))
	if outcome != OutcomeEscalated {
		t.Fatalf("outcome = %v, want escalated", outcome)
	}
	if escalated.ID != first.ID {
		t.Fatalf("escalation created a new alert")
	}
	if escalated.Severity != SeverityCritical || !escalated.BroadcastRequired {
		t.Fatalf("escalated alert = %+v", escalated)
	}

	// A lower-severity repeat refreshes without dropping severity.
	repeat, outcome := h.Raise(shallowCondition(SeverityCaution))
	if outcome != OutcomeRefreshed {
		t.Fatalf("lower repeat outcome = %v, want refreshed", outcome)
	}
	if repeat.Severity != SeverityCritical {
		t.Fatalf("severity de-escalated to %v", repeat.Severity)
	}
}

func TestClearResolvesMatchingAlerts(t *testing.T) {
	h, _ := newTestHierarchy(Options{})

	h.Raise(shallowCondition(SeverityWarning))
	if cleared := h.Clear(DomainDepth, "shallow_water", bridgePoint); cleared != 1 {
		t.Fatalf("cleared = %d, want 1", cleared)
	}
	if got := len(h.Active()); got != 0 {
		t.Fatalf("active after clear = %d, want 0", got)
	}

	// Raising again after a clear starts a fresh alert.
	if _, outcome := h.Raise(shallowCondition(SeverityWarning)); outcome != OutcomeCreated {
		t.Fatalf("post-clear outcome = %v, want created", outcome)
	}
}

func TestAlertsExpireAfterTTL(t *testing.T) {
	h, now := newTestHierarchy(Options{TTL: 15 * time.Minute})

	h.Raise(shallowCondition(SeverityWarning))

	*now = now.Add(14 * time.Minute)
	if got := len(h.Active()); got != 1 {
		t.Fatalf("active before ttl = %d, want 1", got)
	}

	*now = now.Add(2 * time.Minute)
	if got := len(h.Active()); got != 0 {
		t.Fatalf("active after ttl = %d, want 0", got)
	}
}

func TestRefreshExtendsTTL(t *testing.T) {
	h, now := newTestHierarchy(Options{TTL: 15 * time.Minute})

	h.Raise(shallowCondition(SeverityWarning))
	*now = now.Add(10 * time.Minute)
	h.Raise(shallowCondition(SeverityWarning))
	*now = now.Add(10 * time.Minute)

	if got := len(h.Active()); got != 1 {
		t.Fatalf("refreshed alert expired early, active = %d", got)
	}
}

func TestActiveSortsMostSevereFirst(t *testing.T) {
	h, _ := newTestHierarchy(Options{})

	low := shallowCondition(SeverityCaution)
	low.Cause = "reduced_clearance"
	h.Raise(low)
	h.Raise(shallowCondition(SeverityCritical))

	wind := shallowCondition(SeverityWarning)
	wind.Domain = DomainWeather
	wind.Cause = "dangerous_wind"
	h.Raise(wind)

	active := h.Active()
	if len(active) != 3 {
		t.Fatalf("active = %d, want 3", len(active))
	}
	for i := 1; i < len(active); i++ {
		if active[i].Severity > active[i-1].Severity {
			t.Fatalf("alerts out of order at %d: %v after %v", i, active[i].Severity, active[i-1].Severity)
		}
	}
	if h.MaxSeverity() != SeverityCritical {
		t.Fatalf("max severity = %v, want critical", h.MaxSeverity())
	}
}

func TestSubscribeFiltersByDomain(t *testing.T) {
	h, _ := newTestHierarchy(Options{SubscriberBuffer: 8})

	depthOnly := h.Subscribe(DomainDepth)
	all := h.Subscribe()
	defer h.Unsubscribe(depthOnly)
	defer h.Unsubscribe(all)

	h.Raise(shallowCondition(SeverityWarning))

	wind := shallowCondition(SeverityWarning)
	wind.Domain = DomainWeather
	wind.Cause = "dangerous_wind"
	h.Raise(wind)

	select {
	case a := <-depthOnly.C:
		if a.Domain != DomainDepth {
			t.Fatalf("depth subscriber got %s alert", a.Domain)
		}
	case <-time.After(time.Second):
		t.Fatal("depth subscriber got nothing")
	}
	select {
	case a := <-depthOnly.C:
		t.Fatalf("depth subscriber got extra %s alert", a.Domain)
	default:
	}

	for i := 0; i < 2; i++ {
		select {
		case <-all.C:
		case <-time.After(time.Second):
			t.Fatalf("catch-all subscriber missing delivery %d", i)
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	h, _ := newTestHierarchy(Options{})

	sub := h.Subscribe()
	h.Unsubscribe(sub)
	if _, ok := <-sub.C; ok {
		t.Fatal("channel still open after unsubscribe")
	}

	// Raising after unsubscribe must not panic on the closed channel.
	h.Raise(shallowCondition(SeverityWarning))
}

func TestBroadcastHookFiresForCriticalAndAbove(t *testing.T) {
	h, _ := newTestHierarchy(Options{})

	var broadcasts []Alert
	h.OnBroadcast(func(a Alert) { broadcasts = append(broadcasts, a) })

	h.Raise(shallowCondition(SeverityWarning))
	if len(broadcasts) != 0 {
		t.Fatalf("warning reached broadcast hook")
	}

	h.Raise(shallowCondition(SeverityCritical))
	if len(broadcasts) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(broadcasts))
	}
	if broadcasts[0].Severity != SeverityCritical {
		t.Fatalf("broadcast severity = %v", broadcasts[0].Severity)
	}
}

func TestAcknowledgeKeepsAlertLive(t *testing.T) {
	h, _ := newTestHierarchy(Options{})

	alert, _ := h.Raise(shallowCondition(SeverityWarning))
	if !h.Acknowledge(alert.ID) {
		t.Fatal("acknowledge failed for active alert")
	}
	if h.Acknowledge("no-such-id") {
		t.Fatal("acknowledge succeeded for unknown id")
	}

	active := h.Active()
	if len(active) != 1 || active[0].Status != StatusAcknowledged {
		t.Fatalf("active after ack = %+v", active)
	}
}
