package container

import (
	"fmt"

	"github.com/astrokit/sequencer/cmd/sequencerd/service"
	"github.com/astrokit/sequencer/common/bootstrap"
	"github.com/astrokit/sequencer/common/cache"
	"github.com/astrokit/sequencer/common/devices"
	"github.com/astrokit/sequencer/common/devices/sim"
	"github.com/astrokit/sequencer/common/engine"
	"github.com/astrokit/sequencer/common/ratelimit"
	"github.com/astrokit/sequencer/common/repository"
)

// Container holds all initialized services and repositories (singleton pattern)
type Container struct {
	Components *bootstrap.Components

	// Device backend
	Hub       devices.Hub
	Simulator *sim.Simulator // non-nil only in simulate mode

	// Repositories
	SequenceRepo *repository.SequenceRepository
	RunRepo      *repository.RunRepository

	// Services
	Leases          *service.LeaseTable
	SequenceService *service.SequenceService
	RunService      *service.RunService

	// Rate limiting
	Limiter      *ratelimit.Limiter
	RateLimitCfg ratelimit.Config
}

// NewContainer initializes all services and repositories once
func NewContainer(components *bootstrap.Components) (*Container, error) {
	cfg := components.Config
	log := components.Logger

	// Device backend: built-in simulator, or an Alpaca management API for
	// connectivity checks (capabilities stay nil; preflight surfaces the gap).
	var hub devices.Hub
	var simulator *sim.Simulator
	if cfg.Devices.Simulate {
		simulator = sim.New()
		hub = simulator.Hub()
		log.Info("device backend: simulator")
	} else {
		hub = devices.Hub{
			Registry: devices.NewAlpacaClient(cfg.Devices.BaseURL, cfg.Devices.Timeout, log),
		}
		log.Info("device backend: alpaca", "base_url", cfg.Devices.BaseURL)
	}

	telemetry := &engine.SiteTelemetry{
		LatitudeDeg:  cfg.Site.LatitudeDeg,
		LongitudeDeg: cfg.Site.LongitudeDeg,
	}

	eng, err := engine.New(&engine.Opts{
		Hub:       hub,
		Telemetry: telemetry,
		Config: engine.Config{
			CancelPollInterval:  cfg.Engine.CancelPollInterval,
			ProgressInterval:    cfg.Engine.ProgressInterval,
			TriggerPollInterval: cfg.Engine.TriggerPollInterval,
			RetryBackoffBase:    cfg.Engine.RetryBackoffBase,
			RetryBackoffCap:     cfg.Engine.RetryBackoffCap,
			SettleTimeout:       cfg.Engine.SettleTimeout,
			AutofocusTimeout:    cfg.Engine.AutofocusTimeout,
		},
		Logger: log,
	})
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}

	sequenceRepo := repository.NewSequenceRepository(components.DB)
	runRepo := repository.NewRunRepository(components.DB)

	leases := service.NewLeaseTable()
	snapshotCache := cache.NewMemoryCache(log)

	sequenceService := service.NewSequenceService(sequenceRepo, hub.Registry, snapshotCache, leases, log)
	runService := service.NewRunService(
		runRepo,
		sequenceService,
		eng,
		engine.NewRedisPublisher(components.Redis, log),
		components.Redis,
		leases,
		log,
	)

	limiter := ratelimit.NewLimiter(components.Redis.GetUnderlying(), log)

	return &Container{
		Components:      components,
		Hub:             hub,
		Simulator:       simulator,
		SequenceRepo:    sequenceRepo,
		RunRepo:         runRepo,
		Leases:          leases,
		SequenceService: sequenceService,
		RunService:      runService,
		Limiter:         limiter,
		RateLimitCfg: ratelimit.Config{
			GlobalLimit:   cfg.RateLimit.GlobalLimit,
			ClientLimit:   cfg.RateLimit.ClientLimit,
			RunStartLimit: cfg.RateLimit.RunStartLimit,
			WindowSeconds: cfg.RateLimit.WindowSeconds,
		},
	}, nil
}
