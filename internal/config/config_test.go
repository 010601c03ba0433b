package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.App.Name != "depthwatcher" {
		t.Errorf("app name = %q", cfg.App.Name)
	}
	if cfg.Scheduler.Interval != 30*time.Second {
		t.Errorf("scheduler interval = %v", cfg.Scheduler.Interval)
	}
	if !cfg.Scheduler.AlignToBucket {
		t.Error("align_to_bucket default false")
	}
	if cfg.Safety.MarginMeters != 0.5 || cfg.Safety.MinConfidence != 0.2 {
		t.Errorf("safety defaults = %+v", cfg.Safety)
	}
	if cfg.Safety.GroundingTimeToImpact != 2*time.Minute {
		t.Errorf("grounding time to impact = %v", cfg.Safety.GroundingTimeToImpact)
	}
	if len(cfg.Grid.Resolutions) != 3 || cfg.Grid.Resolutions[2] != 0.001 {
		t.Errorf("grid resolutions = %v", cfg.Grid.Resolutions)
	}
	if cfg.Queue.MaxAttempts != 5 || cfg.Queue.BatchSize != 25 {
		t.Errorf("queue defaults = %+v", cfg.Queue)
	}
	if cfg.Queue.Lease != 5*time.Minute {
		t.Errorf("queue lease = %v, want 5m", cfg.Queue.Lease)
	}
	if cfg.Emergency.AckWindow != 2*time.Minute || cfg.Emergency.MaxAttempts != 3 {
		t.Errorf("emergency defaults = %+v", cfg.Emergency)
	}
	if len(cfg.Emergency.Channels) != 3 {
		t.Errorf("emergency channels = %v", cfg.Emergency.Channels)
	}
	if cfg.Vessel.DraftMeters != 1.8 {
		t.Errorf("vessel draft = %v", cfg.Vessel.DraftMeters)
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
scheduler:
  interval: 1m
safety:
  margin_meters: 1.2
  critical_margin_meters: 0.5
vessel:
  name: Sea Otter
  draft_meters: 2.4
grid:
  resolutions: [0.01]
route:
  waypoints:
    - name: harbor
      lat: 37.81
      lon: -122.41
    - name: gate
      lat: 37.8199
      lon: -122.4783
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Scheduler.Interval != time.Minute {
		t.Errorf("interval = %v", cfg.Scheduler.Interval)
	}
	if cfg.Safety.MarginMeters != 1.2 || cfg.Safety.CriticalMarginMeters != 0.5 {
		t.Errorf("safety = %+v", cfg.Safety)
	}
	if cfg.Vessel.Name != "Sea Otter" || cfg.Vessel.DraftMeters != 2.4 {
		t.Errorf("vessel = %+v", cfg.Vessel)
	}
	if len(cfg.Grid.Resolutions) != 1 || cfg.Grid.Resolutions[0] != 0.01 {
		t.Errorf("resolutions = %v", cfg.Grid.Resolutions)
	}
	if len(cfg.Route.Waypoints) != 2 || cfg.Route.Waypoints[1].Name != "gate" {
		t.Errorf("route waypoints = %+v", cfg.Route.Waypoints)
	}
	// Untouched sections keep their defaults.
	if cfg.Queue.BatchSize != 25 {
		t.Errorf("queue batch size = %d", cfg.Queue.BatchSize)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("DEPTHWATCHER_LOGGING_LEVEL", "debug")
	t.Setenv("DEPTHWATCHER_SAFETY_MIN_CONFIDENCE", "0.4")

	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging level = %q", cfg.Logging.Level)
	}
	if cfg.Safety.MinConfidence != 0.4 {
		t.Errorf("min confidence = %v", cfg.Safety.MinConfidence)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"zero interval", "scheduler:\n  interval: 0s\n"},
		{"negative margin", "safety:\n  margin_meters: -1\n"},
		{"confidence above one", "safety:\n  min_confidence: 1.5\n"},
		{"zero draft", "vessel:\n  draft_meters: 0\n"},
		{"empty resolutions", "grid:\n  resolutions: []\n"},
		{"negative resolution", "grid:\n  resolutions: [-0.01]\n"},
		{"zero batch size", "queue:\n  batch_size: 0\n"},
		{"zero emergency attempts", "emergency:\n  max_attempts: 0\n"},
		{"bad waypoint", "route:\n  waypoints:\n    - name: wp1\n      lat: 95\n      lon: 0\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.yaml)); err == nil {
				t.Fatalf("config accepted: %s", tc.yaml)
			}
		})
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.ResolveMaxPoints(0); got != cfg.Export.MaxDataPoints {
		t.Fatalf("default max points = %d", got)
	}
	if got := cfg.ResolveMaxPoints(42); got != 42 {
		t.Fatalf("override max points = %d", got)
	}
}
