package app

import (
	"context"
	"errors"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"depth-safety-alerts/internal/alerting"
	"depth-safety-alerts/internal/config"
	"depth-safety-alerts/internal/emergency"
	"depth-safety-alerts/internal/geo"
	"depth-safety-alerts/internal/grid"
	"depth-safety-alerts/internal/ingest"
	"depth-safety-alerts/internal/model"
	"depth-safety-alerts/internal/navigation"
	"depth-safety-alerts/internal/pipeline"
	"depth-safety-alerts/internal/queue"
	"depth-safety-alerts/internal/scheduler"
	"depth-safety-alerts/internal/service"
	"depth-safety-alerts/internal/source"
	"depth-safety-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newSources() (source.TideSource, source.WeatherSource) {
	tides := source.NewTideClient(source.TideClientOptions{
		BaseURL:       a.Config.Tide.BaseURL,
		Timeout:       a.Config.Tide.RequestTimeout,
		RetryCount:    a.Config.Tide.RetryCount,
		RetryWait:     a.Config.Tide.RetryWait,
		RetryMaxWait:  a.Config.Tide.RetryMaxWait,
		StationTTL:    a.Config.Tide.StationCacheTTL,
		PredictionTTL: a.Config.Tide.PredictionCacheTTL,
		UserAgent:     a.Config.Tide.UserAgent,
	}, a.Logger)

	var weather source.WeatherSource
	if a.Config.Weather.BaseURL != "" {
		weather = source.NewWeatherClient(source.WeatherClientOptions{
			BaseURL:      a.Config.Weather.BaseURL,
			APIKey:       a.Config.Weather.APIKey,
			Timeout:      a.Config.Weather.RequestTimeout,
			RetryCount:   a.Config.Weather.RetryCount,
			RetryWait:    a.Config.Weather.RetryWait,
			RetryMaxWait: a.Config.Weather.RetryMaxWait,
		}, a.Logger)
	}

	return tides, weather
}

func (a *App) newEngine() *pipeline.Engine {
	tide := pipeline.NewTideEngine(pipeline.TideOptions{
		ObservationWindow:   a.Config.Tide.ObservationWindow,
		DistanceDecayMeters: a.Config.Tide.DistanceDecayMeters,
		DistanceFloor:       a.Config.Tide.DistanceFloor,
		MaxBracketGap:       a.Config.Tide.MaxBracketGap,
	})
	env := pipeline.NewEnvCalculator()
	scorer := pipeline.NewQualityScorer()

	return pipeline.NewEngine(tide, env, scorer, pipeline.ValidationOptions{
		SafetyMarginMeters: a.Config.Safety.MarginMeters,
		MinConfidence:      a.Config.Safety.MinConfidence,
	}, a.Logger)
}

func (a *App) newEmergencyChannels() []emergency.Channel {
	tx := emergency.NewLogTransmitter(a.Logger)

	var channels []emergency.Channel
	for _, name := range a.Config.Emergency.Channels {
		switch {
		case strings.HasPrefix(name, "VHF"):
			channels = append(channels, emergency.NewRadioChannel(name, tx, a.Logger))
		default:
			if a.Config.Emergency.CellularGatewayURL == "" {
				a.Logger.Warn().Str("channel", name).Msg("gateway channel configured without cellular_gateway_url, skipping")
				continue
			}
			channels = append(channels, emergency.NewHTTPChannel(
				name,
				a.Config.Emergency.CellularGatewayURL,
				a.Config.Emergency.CellularAPIKey,
				a.Config.Emergency.GatewayTimeout,
				a.Logger,
			))
		}
	}
	return channels
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running safety monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn not configured; the monitoring service requires persistence")
	}
	if closeStore != nil {
		defer closeStore()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	tides, weather := a.newSources()
	engine := a.newEngine()

	hierarchy := alerting.NewHierarchy(alerting.Options{
		ProximityMeters:  a.Config.Alerting.ProximityMeters,
		TTL:              a.Config.Alerting.TTL,
		SubscriberBuffer: a.Config.Alerting.SubscriberBuffer,
	}, a.Logger)

	channels := a.newEmergencyChannels()
	manager := emergency.NewManager(emergency.Options{
		AckWindow:   a.Config.Emergency.AckWindow,
		MaxAttempts: a.Config.Emergency.MaxAttempts,
		RequireAck:  a.Config.Emergency.RequireAck,
	}, channels, a.Logger)

	position := a.positionSource()

	monitor := service.New(a.Config, service.Deps{
		Scheduler:     sched,
		Engine:        engine,
		Tides:         tides,
		Weather:       weather,
		Readings:      store,
		Processed:     store,
		AlertStore:    store,
		IncidentStore: store,
		Alerts:        hierarchy,
		Emergencies:   manager,
		Position:      position,
		Route:         a.plannedRoute(),
	}, a.Logger)

	syncer := queue.NewSyncer(store, queue.SubmitterFunc(func(ctx context.Context, reading model.DepthReading) error {
		return store.InsertReading(ctx, reading)
	}), queue.Options{
		BatchSize:   a.Config.Queue.BatchSize,
		Interval:    a.Config.Queue.Interval,
		MaxAttempts: a.Config.Queue.MaxAttempts,
		BaseDelay:   a.Config.Queue.BaseDelay,
		Retention:   a.Config.Queue.Retention,
		Lease:       a.Config.Queue.Lease,
	}, a.Logger)

	go func() {
		if err := syncer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.Logger.Error().Err(err).Msg("queue syncer stopped")
		}
	}()

	if interval := a.Config.Emergency.PositionInterval; interval > 0 {
		go func() {
			err := manager.RunPositionReports(ctx, interval, channels, a.vesselStateFunc(ctx, position))
			if err != nil && !errors.Is(err, context.Canceled) {
				a.Logger.Error().Err(err).Msg("position reporting stopped")
			}
		}()
	}

	a.Logger.Info().Msg("starting safety monitoring service")
	err = monitor.Run(ctx)
	manager.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("safety monitoring service stopped")
	return nil
}

// positionSource returns the vessel fix provider. Without an attached
// GPS feed the configured route origin stands in.
func (a *App) positionSource() service.PositionSource {
	route := a.plannedRoute()
	return service.PositionFunc(func(ctx context.Context) (navigation.VesselState, error) {
		state := navigation.VesselState{
			SpeedKnots: a.Config.Vessel.PlannedSpeedKnots,
			FixTime:    time.Now().UTC(),
		}
		if len(route.Waypoints) > 0 {
			state.Position = route.Waypoints[0].Location
		}
		return state, nil
	})
}

// vesselStateFunc adapts a position source into the snapshot the periodic
// position reporter polls. A failed fix reports the vessel offline, which
// suppresses the report for that tick.
func (a *App) vesselStateFunc(ctx context.Context, position service.PositionSource) func() (geo.Point, emergency.VesselProfile, emergency.VesselStatus) {
	profile := emergency.VesselProfile{
		Name:        a.Config.Vessel.Name,
		CallSign:    a.Config.Vessel.CallSign,
		MMSI:        a.Config.Vessel.MMSI,
		LengthM:     a.Config.Vessel.LengthMeters,
		DraftMeters: a.Config.Vessel.DraftMeters,
	}
	return func() (geo.Point, emergency.VesselProfile, emergency.VesselStatus) {
		state, err := position.Fix(ctx)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("no position fix for routine report")
			return geo.Point{}, profile, emergency.VesselOffline
		}
		return state.Position, profile, emergency.VesselUnderway
	}
}

func (a *App) plannedRoute() navigation.Route {
	route := navigation.Route{PlannedSpeedKnots: a.Config.Vessel.PlannedSpeedKnots}
	for _, wp := range a.Config.Route.Waypoints {
		route.Waypoints = append(route.Waypoints, navigation.Waypoint{
			Name:     wp.Name,
			Location: geo.Point{Lat: wp.Lat, Lon: wp.Lon},
		})
	}
	return route
}

func (a *App) newGrid() *grid.Aggregator {
	return grid.NewAggregator(a.Config.Grid.Resolutions)
}

func (a *App) newIngest(store *storage.Store, enq ingest.Enqueuer) *ingest.Service {
	var readings storage.ReadingStore
	var cells storage.CellStore
	if store != nil {
		readings = store
		cells = store
	}
	return ingest.NewService(readings, cells, a.newGrid(), enq, ingest.Options{
		SafetyMarginMeters: a.Config.Safety.MarginMeters,
	}, a.Logger)
}

// ExportOptions hold parameters for exporting processed depth history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// AreaOptions configure the area command.
type AreaOptions struct {
	Bounds        geo.BoundingBox
	VesselDraft   float64
	MinConfidence float64
	Limit         int
}

// AlertsOptions configure the alerts command.
type AlertsOptions struct {
	Limit int
}

// SubmitOptions carry one crowdsourced reading from the CLI.
type SubmitOptions struct {
	Lat         float64
	Lon         float64
	DepthMeters float64
	DraftMeters float64
	Confidence  float64
	Source      string
	Method      string
	Notes       string
}
