package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"depth-safety-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Tide      TideConfig      `mapstructure:"tide"`
	Weather   WeatherConfig   `mapstructure:"weather"`
	Safety    SafetyConfig    `mapstructure:"safety"`
	Grid      GridConfig      `mapstructure:"grid"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Emergency EmergencyConfig `mapstructure:"emergency"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Vessel    VesselConfig    `mapstructure:"vessel"`
	Route     RouteConfig     `mapstructure:"route"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs monitoring cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// TideConfig covers the tide data source and correction tunables.
type TideConfig struct {
	BaseURL             string        `mapstructure:"base_url"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	RetryCount          int           `mapstructure:"retry_count"`
	RetryWait           time.Duration `mapstructure:"retry_wait"`
	RetryMaxWait        time.Duration `mapstructure:"retry_max_wait"`
	StationCacheTTL     time.Duration `mapstructure:"station_cache_ttl"`
	PredictionCacheTTL  time.Duration `mapstructure:"prediction_cache_ttl"`
	UserAgent           string        `mapstructure:"user_agent"`
	ObservationWindow   time.Duration `mapstructure:"observation_window"`
	DistanceDecayMeters float64       `mapstructure:"distance_decay_meters"`
	DistanceFloor       float64       `mapstructure:"distance_floor"`
	MaxBracketGap       time.Duration `mapstructure:"max_bracket_gap"`
	PredictionWindow    time.Duration `mapstructure:"prediction_window"`
}

// WeatherConfig covers the marine weather source.
type WeatherConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RetryCount     int           `mapstructure:"retry_count"`
	RetryWait      time.Duration `mapstructure:"retry_wait"`
	RetryMaxWait   time.Duration `mapstructure:"retry_max_wait"`
}

// SafetyConfig carries margin thresholds and the automatic-emergency triggers.
type SafetyConfig struct {
	MarginMeters          float64       `mapstructure:"margin_meters"`
	MinConfidence         float64       `mapstructure:"min_confidence"`
	CautionMarginMeters   float64       `mapstructure:"caution_margin_meters"`
	WarningMarginMeters   float64       `mapstructure:"warning_margin_meters"`
	CriticalMarginMeters  float64       `mapstructure:"critical_margin_meters"`
	GroundingTimeToImpact time.Duration `mapstructure:"grounding_time_to_impact"`
	DeepAnomalyFactor     float64       `mapstructure:"deep_anomaly_factor"`
	DangerWindKnots       float64       `mapstructure:"danger_wind_knots"`
	DangerWaveMeters      float64       `mapstructure:"danger_wave_meters"`
	DeviationLimitMeters  float64       `mapstructure:"deviation_limit_meters"`
	RecommendationTTL     time.Duration `mapstructure:"recommendation_ttl"`
}

// GridConfig lists the aggregate resolutions in degrees per cell side.
type GridConfig struct {
	Resolutions []float64 `mapstructure:"resolutions"`
}

// AlertingConfig tunes the alert hierarchy.
type AlertingConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	ProximityMeters  float64       `mapstructure:"proximity_meters"`
	TTL              time.Duration `mapstructure:"ttl"`
	SubscriberBuffer int           `mapstructure:"subscriber_buffer"`
	RetentionWindow  time.Duration `mapstructure:"retention_window"`
}

// EmergencyConfig tunes the broadcast protocol and position reporting.
type EmergencyConfig struct {
	AckWindow          time.Duration `mapstructure:"ack_window"`
	MaxAttempts        int           `mapstructure:"max_attempts"`
	RequireAck         bool          `mapstructure:"require_ack"`
	PositionInterval   time.Duration `mapstructure:"position_interval"`
	Channels           []string      `mapstructure:"channels"`
	CellularGatewayURL string        `mapstructure:"cellular_gateway_url"`
	CellularAPIKey     string        `mapstructure:"cellular_api_key"`
	GatewayTimeout     time.Duration `mapstructure:"gateway_timeout"`
}

// QueueConfig governs offline submission syncing.
type QueueConfig struct {
	BatchSize   int           `mapstructure:"batch_size"`
	Interval    time.Duration `mapstructure:"interval"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	Retention   time.Duration `mapstructure:"retention"`
	Lease       time.Duration `mapstructure:"lease"`
}

// VesselConfig describes the monitored vessel.
type VesselConfig struct {
	Name              string  `mapstructure:"name"`
	CallSign          string  `mapstructure:"call_sign"`
	MMSI              string  `mapstructure:"mmsi"`
	LengthMeters      float64 `mapstructure:"length_meters"`
	DraftMeters       float64 `mapstructure:"draft_meters"`
	PlannedSpeedKnots float64 `mapstructure:"planned_speed_knots"`
	PersonsOnBoard    int     `mapstructure:"persons_on_board"`
}

// WaypointConfig is one ordered stop on the planned route.
type WaypointConfig struct {
	Name string  `mapstructure:"name"`
	Lat  float64 `mapstructure:"lat"`
	Lon  float64 `mapstructure:"lon"`
}

// RouteConfig lists the planned passage. Without waypoints the monitor
// runs without navigation deviation checks.
type RouteConfig struct {
	Waypoints []WaypointConfig `mapstructure:"waypoints"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DEPTHWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "depthwatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "30s")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x64707468))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("tide.base_url", "https://api.tidesandcurrents.noaa.gov/api/prod")
	v.SetDefault("tide.request_timeout", "10s")
	v.SetDefault("tide.retry_count", 3)
	v.SetDefault("tide.retry_wait", "1s")
	v.SetDefault("tide.retry_max_wait", "5s")
	v.SetDefault("tide.station_cache_ttl", "6h")
	v.SetDefault("tide.prediction_cache_ttl", "30m")
	v.SetDefault("tide.user_agent", "depthwatcher/1.0")
	v.SetDefault("tide.observation_window", "30m")
	v.SetDefault("tide.distance_decay_meters", 30000.0)
	v.SetDefault("tide.distance_floor", 0.5)
	v.SetDefault("tide.max_bracket_gap", "8h")
	v.SetDefault("tide.prediction_window", "24h")

	v.SetDefault("weather.request_timeout", "10s")
	v.SetDefault("weather.retry_count", 3)
	v.SetDefault("weather.retry_wait", "1s")
	v.SetDefault("weather.retry_max_wait", "5s")

	v.SetDefault("safety.margin_meters", 0.5)
	v.SetDefault("safety.min_confidence", 0.2)
	v.SetDefault("safety.caution_margin_meters", 2.0)
	v.SetDefault("safety.warning_margin_meters", 1.0)
	v.SetDefault("safety.critical_margin_meters", 0.3)
	v.SetDefault("safety.grounding_time_to_impact", "2m")
	v.SetDefault("safety.deep_anomaly_factor", 3.0)
	v.SetDefault("safety.danger_wind_knots", 34.0)
	v.SetDefault("safety.danger_wave_meters", 4.0)
	v.SetDefault("safety.deviation_limit_meters", 500.0)
	v.SetDefault("safety.recommendation_ttl", "10m")

	v.SetDefault("grid.resolutions", []float64{0.05, 0.01, 0.001})

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.proximity_meters", 200.0)
	v.SetDefault("alerting.ttl", "15m")
	v.SetDefault("alerting.subscriber_buffer", 64)
	v.SetDefault("alerting.retention_window", "720h")

	v.SetDefault("emergency.ack_window", "2m")
	v.SetDefault("emergency.max_attempts", 3)
	v.SetDefault("emergency.require_ack", true)
	v.SetDefault("emergency.position_interval", "5m")
	v.SetDefault("emergency.channels", []string{"VHF_16", "VHF_70", "CELLULAR"})
	v.SetDefault("emergency.gateway_timeout", "10s")

	v.SetDefault("queue.batch_size", 25)
	v.SetDefault("queue.interval", "15s")
	v.SetDefault("queue.max_attempts", 5)
	v.SetDefault("queue.base_delay", "30s")
	v.SetDefault("queue.retention", "168h")
	v.SetDefault("queue.lease", "5m")

	v.SetDefault("vessel.draft_meters", 1.8)
	v.SetDefault("vessel.planned_speed_knots", 6.0)
	v.SetDefault("vessel.persons_on_board", 2)

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Safety.MarginMeters < 0 {
		return fmt.Errorf("safety.margin_meters cannot be negative")
	}
	if c.Safety.MinConfidence < 0 || c.Safety.MinConfidence > 1 {
		return fmt.Errorf("safety.min_confidence must be within [0, 1]")
	}
	if c.Vessel.DraftMeters <= 0 {
		return fmt.Errorf("vessel.draft_meters must be greater than zero")
	}
	if len(c.Grid.Resolutions) == 0 {
		return fmt.Errorf("grid.resolutions must list at least one resolution")
	}
	for _, res := range c.Grid.Resolutions {
		if res <= 0 {
			return fmt.Errorf("grid resolution %v must be greater than zero", res)
		}
	}
	if c.Queue.BatchSize <= 0 {
		return fmt.Errorf("queue.batch_size must be greater than zero")
	}
	if c.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("queue.max_attempts must be greater than zero")
	}
	if c.Emergency.MaxAttempts <= 0 {
		return fmt.Errorf("emergency.max_attempts must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	for _, wp := range c.Route.Waypoints {
		if wp.Lat < -90 || wp.Lat > 90 || wp.Lon < -180 || wp.Lon > 180 {
			return fmt.Errorf("route waypoint %q has invalid coordinates (%v, %v)", wp.Name, wp.Lat, wp.Lon)
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
