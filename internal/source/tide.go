package source

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"depth-safety-alerts/internal/geo"
	"depth-safety-alerts/internal/model"
)

const coopsTimeLayout = "2006-01-02 15:04"

// TideClientOptions parameterise the CO-OPS style tide client.
type TideClientOptions struct {
	BaseURL       string
	Timeout       time.Duration
	RetryCount    int
	RetryWait     time.Duration
	RetryMaxWait  time.Duration
	StationTTL    time.Duration
	PredictionTTL time.Duration
	UserAgent     string
}

// DefaultTideClientOptions bound retries and cache lifetimes.
func DefaultTideClientOptions() TideClientOptions {
	return TideClientOptions{
		Timeout:       10 * time.Second,
		RetryCount:    3,
		RetryWait:     1 * time.Second,
		RetryMaxWait:  5 * time.Second,
		StationTTL:    6 * time.Hour,
		PredictionTTL: 30 * time.Minute,
	}
}

// TideClient talks to a CO-OPS compatible tide API. Transient failures are
// retried with backoff by the underlying client; exhausted retries surface
// as errors the caller treats as data-unavailability.
type TideClient struct {
	http     *resty.Client
	logger   zerolog.Logger
	stations *ttlCache[[]model.TideStation]
	preds    *ttlCache[[]model.TidePrediction]
}

// NewTideClient constructs the client with bounded retry and caching.
func NewTideClient(opts TideClientOptions, logger zerolog.Logger) *TideClient {
	def := DefaultTideClientOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.RetryCount <= 0 {
		opts.RetryCount = def.RetryCount
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = def.RetryWait
	}
	if opts.RetryMaxWait <= 0 {
		opts.RetryMaxWait = def.RetryMaxWait
	}
	if opts.StationTTL <= 0 {
		opts.StationTTL = def.StationTTL
	}
	if opts.PredictionTTL <= 0 {
		opts.PredictionTTL = def.PredictionTTL
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(opts.RetryWait).
		SetRetryMaxWaitTime(opts.RetryMaxWait).
		SetHeader("Accept", "application/json")
	if opts.UserAgent != "" {
		client.SetHeader("User-Agent", opts.UserAgent)
	}

	return &TideClient{
		http:     client,
		logger:   logger.With().Str("component", "tide_client").Logger(),
		stations: newTTLCache[[]model.TideStation](opts.StationTTL),
		preds:    newTTLCache[[]model.TidePrediction](opts.PredictionTTL),
	}
}

type stationsResponse struct {
	Stations []struct {
		ID    string  `json:"id"`
		Name  string  `json:"name"`
		Lat   float64 `json:"lat"`
		Lng   float64 `json:"lng"`
		Type  string  `json:"type"`
		State string  `json:"state"`
		Tz    string  `json:"timezone"`
	} `json:"stations"`
}

// NearestStation lists stations (cached) and picks the closest by
// great-circle distance.
func (c *TideClient) NearestStation(ctx context.Context, p geo.Point) (*model.TideStation, error) {
	stations, ok := c.stations.get("all")
	if !ok {
		var payload stationsResponse
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParam("type", "tidepredictions").
			SetResult(&payload).
			Get("/stations.json")
		if err != nil {
			return nil, fmt.Errorf("list tide stations: %w", err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("list tide stations: status %d", resp.StatusCode())
		}

		stations = make([]model.TideStation, 0, len(payload.Stations))
		for _, s := range payload.Stations {
			m := model.TideModelHarmonic
			if strings.EqualFold(s.Type, "subordinate") {
				m = model.TideModelSubordinate
			}
			stations = append(stations, model.TideStation{
				ID:       s.ID,
				Name:     s.Name,
				Location: geo.Point{Lat: s.Lat, Lon: s.Lng},
				Model:    m,
				Region:   s.State,
				Timezone: s.Tz,
			})
		}
		c.stations.put("all", stations)
	}

	var nearest *model.TideStation
	best := 0.0
	for i := range stations {
		d := geo.Distance(p, stations[i].Location)
		if nearest == nil || d < best {
			nearest = &stations[i]
			best = d
		}
	}
	if nearest == nil {
		return nil, nil
	}
	out := *nearest
	return &out, nil
}

type predictionsResponse struct {
	Predictions []struct {
		Time   string `json:"t"`
		Height string `json:"v"`
		Type   string `json:"type"`
	} `json:"predictions"`
}

// Predictions fetches the predicted tide curve for the window, ordered by
// time. Results are cached per station+window.
func (c *TideClient) Predictions(ctx context.Context, stationID string, from, to time.Time) ([]model.TidePrediction, error) {
	cacheKey := fmt.Sprintf("%s|%d|%d", stationID, from.Unix(), to.Unix())
	if cached, ok := c.preds.get(cacheKey); ok {
		return cached, nil
	}

	var payload predictionsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"station":    stationID,
			"product":    "predictions",
			"datum":      "MLLW",
			"units":      "metric",
			"time_zone":  "gmt",
			"interval":   "hilo",
			"format":     "json",
			"begin_date": from.UTC().Format("20060102 15:04"),
			"end_date":   to.UTC().Format("20060102 15:04"),
		}).
		SetResult(&payload).
		Get("/datagetter")
	if err != nil {
		return nil, fmt.Errorf("fetch tide predictions: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch tide predictions: status %d", resp.StatusCode())
	}

	predictions := make([]model.TidePrediction, 0, len(payload.Predictions))
	for _, p := range payload.Predictions {
		t, err := time.Parse(coopsTimeLayout, p.Time)
		if err != nil {
			c.logger.Debug().Str("value", p.Time).Msg("skipping prediction with unparseable time")
			continue
		}
		height, err := strconv.ParseFloat(p.Height, 64)
		if err != nil {
			c.logger.Debug().Str("value", p.Height).Msg("skipping prediction with unparseable height")
			continue
		}
		extremum := model.ExtremumLow
		if strings.EqualFold(p.Type, "H") {
			extremum = model.ExtremumHigh
		}
		predictions = append(predictions, model.TidePrediction{
			StationID:    stationID,
			Time:         t.UTC(),
			HeightMeters: height,
			Type:         extremum,
		})
	}

	c.preds.put(cacheKey, predictions)
	return predictions, nil
}

type waterLevelResponse struct {
	Data []struct {
		Time    string `json:"t"`
		Value   string `json:"v"`
		Quality string `json:"q"`
	} `json:"data"`
}

// LatestObservation returns the observed water level closest to the given
// time within the preceding hour, or nil when the station has no data.
func (c *TideClient) LatestObservation(ctx context.Context, stationID string, at time.Time) (*model.WaterLevelObservation, error) {
	var payload waterLevelResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"station":    stationID,
			"product":    "water_level",
			"datum":      "MLLW",
			"units":      "metric",
			"time_zone":  "gmt",
			"format":     "json",
			"begin_date": at.UTC().Add(-time.Hour).Format("20060102 15:04"),
			"end_date":   at.UTC().Format("20060102 15:04"),
		}).
		SetResult(&payload).
		Get("/datagetter")
	if err != nil {
		return nil, fmt.Errorf("fetch water level: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch water level: status %d", resp.StatusCode())
	}
	if len(payload.Data) == 0 {
		return nil, nil
	}

	var best *model.WaterLevelObservation
	for _, d := range payload.Data {
		t, err := time.Parse(coopsTimeLayout, d.Time)
		if err != nil {
			continue
		}
		height, err := strconv.ParseFloat(d.Value, 64)
		if err != nil {
			continue
		}
		quality := model.ObservationPreliminary
		if strings.EqualFold(d.Quality, "v") {
			quality = model.ObservationVerified
		}
		obs := model.WaterLevelObservation{
			StationID:    stationID,
			Time:         t.UTC(),
			HeightMeters: height,
			Quality:      quality,
		}
		if best == nil || obs.Time.After(best.Time) {
			best = &obs
		}
	}
	return best, nil
}

var _ TideSource = (*TideClient)(nil)
