package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"depth-safety-alerts/internal/geo"
	"depth-safety-alerts/internal/model"
)

// WeatherClientOptions parameterise the marine weather client.
type WeatherClientOptions struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	RetryCount   int
	RetryWait    time.Duration
	RetryMaxWait time.Duration
}

// WeatherClient fetches marine conditions from an HTTP weather service.
// Providers routinely omit fields, so every value is decoded through a
// pointer and absent fields simply leave the Has* flag unset.
type WeatherClient struct {
	http   *resty.Client
	logger zerolog.Logger
}

// NewWeatherClient constructs the client with bounded retry.
func NewWeatherClient(opts WeatherClientOptions, logger zerolog.Logger) *WeatherClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RetryCount <= 0 {
		opts.RetryCount = 3
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = 1 * time.Second
	}
	if opts.RetryMaxWait <= 0 {
		opts.RetryMaxWait = 5 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(opts.RetryWait).
		SetRetryMaxWaitTime(opts.RetryMaxWait).
		SetHeader("Accept", "application/json")
	if opts.APIKey != "" {
		client.SetQueryParam("key", opts.APIKey)
	}

	return &WeatherClient{
		http:   client,
		logger: logger.With().Str("component", "weather_client").Logger(),
	}
}

type weatherResponse struct {
	WaterTempC     *float64 `json:"water_temp_c"`
	WindSpeedKnots *float64 `json:"wind_speed_kts"`
	WindDirDeg     *float64 `json:"wind_dir_deg"`
	WaveHeightM    *float64 `json:"wave_height_m"`
	VisibilityNM   *float64 `json:"visibility_nm"`
	SeaState       *int     `json:"sea_state"`
	PressureHPa    *float64 `json:"pressure_hpa"`
	ObservedAt     string   `json:"observed_at"`
}

// Snapshot fetches conditions for a location. Partial payloads are valid.
func (c *WeatherClient) Snapshot(ctx context.Context, p geo.Point) (model.EnvironmentalSnapshot, error) {
	var payload weatherResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"lat": fmt.Sprintf("%.6f", p.Lat),
			"lon": fmt.Sprintf("%.6f", p.Lon),
		}).
		SetResult(&payload).
		Get("/marine")
	if err != nil {
		return model.EnvironmentalSnapshot{}, fmt.Errorf("fetch weather snapshot: %w", err)
	}
	if resp.IsError() {
		return model.EnvironmentalSnapshot{}, fmt.Errorf("fetch weather snapshot: status %d", resp.StatusCode())
	}

	snapshot := model.EnvironmentalSnapshot{Location: p, Time: time.Now().UTC()}
	if payload.ObservedAt != "" {
		if t, err := time.Parse(time.RFC3339, payload.ObservedAt); err == nil {
			snapshot.Time = t.UTC()
		}
	}
	if payload.WaterTempC != nil {
		snapshot.WaterTempC = *payload.WaterTempC
		snapshot.HasWaterTemp = true
	}
	if payload.WindSpeedKnots != nil {
		snapshot.WindSpeedKnots = *payload.WindSpeedKnots
		snapshot.HasWind = true
		if payload.WindDirDeg != nil {
			snapshot.WindDirDeg = *payload.WindDirDeg
		}
	}
	if payload.WaveHeightM != nil {
		snapshot.WaveHeightM = *payload.WaveHeightM
		snapshot.HasWaveHeight = true
	}
	if payload.VisibilityNM != nil {
		snapshot.VisibilityNM = *payload.VisibilityNM
		snapshot.HasVisibility = true
	}
	if payload.SeaState != nil {
		snapshot.SeaState = *payload.SeaState
		snapshot.HasSeaState = true
	}
	if payload.PressureHPa != nil {
		snapshot.PressureHPa = *payload.PressureHPa
		snapshot.HasPressure = true
	}

	return snapshot, nil
}

var _ WeatherSource = (*WeatherClient)(nil)
