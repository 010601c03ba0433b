package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"depth-safety-alerts/internal/geo"
)

func newWeatherClient(t *testing.T, handler http.Handler) *WeatherClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewWeatherClient(WeatherClientOptions{
		BaseURL:    srv.URL,
		APIKey:     "test-key",
		Timeout:    2 * time.Second,
		RetryCount: 1,
		RetryWait:  time.Millisecond,
	}, zerolog.Nop())
}

func TestSnapshotFullPayload(t *testing.T) {
	client := newWeatherClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/marine" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("key"); got != "test-key" {
			t.Errorf("api key = %q", got)
		}
		if got := r.URL.Query().Get("lat"); got != "37.819900" {
			t.Errorf("lat = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"water_temp_c": 12.4,
			"wind_speed_kts": 18.0,
			"wind_dir_deg": 275,
			"wave_height_m": 1.6,
			"visibility_nm": 8.5,
			"sea_state": 4,
			"pressure_hpa": 1012.3,
			"observed_at": "2026-05-02T10:30:00Z"
		}`))
	}))

	snap, err := client.Snapshot(context.Background(), geo.Point{Lat: 37.8199, Lon: -122.4783})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !snap.HasWind || snap.WindSpeedKnots != 18 || snap.WindDirDeg != 275 {
		t.Fatalf("wind = %+v", snap)
	}
	if !snap.HasWaveHeight || snap.WaveHeightM != 1.6 {
		t.Fatalf("waves = %+v", snap)
	}
	if !snap.HasPressure || snap.PressureHPa != 1012.3 {
		t.Fatalf("pressure = %+v", snap)
	}
	if !snap.HasWaterTemp || !snap.HasVisibility || !snap.HasSeaState {
		t.Fatalf("flags = %+v", snap)
	}
	want := time.Date(2026, 5, 2, 10, 30, 0, 0, time.UTC)
	if !snap.Time.Equal(want) {
		t.Fatalf("time = %v, want %v", snap.Time, want)
	}
}

func TestSnapshotPartialPayloadLeavesFlagsUnset(t *testing.T) {
	client := newWeatherClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"wind_speed_kts": 28.0}`))
	}))

	snap, err := client.Snapshot(context.Background(), geo.Point{Lat: 37.8, Lon: -122.4})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !snap.HasWind || snap.WindSpeedKnots != 28 {
		t.Fatalf("wind = %+v", snap)
	}
	if snap.HasWaveHeight || snap.HasPressure || snap.HasWaterTemp || snap.HasVisibility || snap.HasSeaState {
		t.Fatalf("absent fields set flags: %+v", snap)
	}
	if snap.Time.IsZero() {
		t.Fatal("snapshot time not defaulted")
	}
}

func TestSnapshotServerError(t *testing.T) {
	client := newWeatherClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	if _, err := client.Snapshot(context.Background(), geo.Point{Lat: 37.8, Lon: -122.4}); err == nil {
		t.Fatal("expected error on 503")
	}
}
