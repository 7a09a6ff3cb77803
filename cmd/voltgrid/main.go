// VoltGrid Core - Energy Device Monitoring Platform
//
// This is the main entry point for the VoltGrid Core runtime. It wires
// together the four long-running services:
//   - MQTT gateway (device traffic in and out)
//   - WebSocket hub (live dashboards)
//   - Telemetry relay (gateway -> time-series store + hub)
//   - HTTP API (provisioning and fleet management)
//
// Services are registered with the lifecycle registry, which starts them
// in dependency order and stops them in reverse on shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/voltgrid/voltgrid-core/migrations"

	"github.com/voltgrid/voltgrid-core/internal/api"
	"github.com/voltgrid/voltgrid-core/internal/gateway"
	"github.com/voltgrid/voltgrid-core/internal/hub"
	"github.com/voltgrid/voltgrid-core/internal/infrastructure/config"
	"github.com/voltgrid/voltgrid-core/internal/infrastructure/database"
	"github.com/voltgrid/voltgrid-core/internal/infrastructure/influxdb"
	"github.com/voltgrid/voltgrid-core/internal/infrastructure/logging"
	"github.com/voltgrid/voltgrid-core/internal/lifecycle"
	"github.com/voltgrid/voltgrid-core/internal/provisioning"
	"github.com/voltgrid/voltgrid-core/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// shutdownTimeout bounds how long StopAll may take before the process exits.
const shutdownTimeout = 15 * time.Second

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting VoltGrid Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Derive a cancellable context so fatal service errors can trigger
	// the same shutdown path as an interrupt signal.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Provisioning service over the device registry tables
	repo := provisioning.NewSQLiteRepository(db.DB)
	prov := provisioning.NewService(repo, cfg.Provisioning, cfg.Security, log)

	// MQTT gateway
	broker := gateway.NewBroker(cfg.MQTT, log)
	gw := gateway.New(broker, cfg.MQTT, log)
	gw.SetOnFatal(func(err error) {
		log.Error("gateway gave up reconnecting, shutting down", "error", err)
		cancel()
	})

	// WebSocket hub
	wsHub := hub.New(cfg.WebSocket, log)
	prov.SetAnnouncer(wsHub)

	// InfluxDB (optional)
	var recorder telemetry.Recorder
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		recorder = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled, telemetry will not be persisted")
	}

	// Telemetry relay fans gateway traffic out to the store and the hub
	relay := telemetry.New(gw, prov, recorder, wsHub, log)

	// HTTP API
	apiServer, err := api.New(api.Deps{
		Config:       cfg.API,
		WS:           cfg.WebSocket,
		Logger:       log,
		Provisioning: prov,
		Hub:          wsHub,
		Version:      version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	// Register services and their dependencies
	registry := lifecycle.NewRegistry()
	registry.SetLogger(log)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()

	registry.Register("gateway", service{
		start: func(context.Context) error { return gw.Connect() },
		stop:  func(context.Context) error { return gw.Close() },
	}, lifecycle.Config{})

	registry.Register("hub", service{
		start: func(context.Context) error {
			go wsHub.Run(hubCtx)
			return nil
		},
		stop: func(context.Context) error {
			hubCancel()
			return nil
		},
	}, lifecycle.Config{})

	registry.Register("telemetry", service{
		start: relay.Start,
		stop:  func(context.Context) error { return relay.Close() },
	}, lifecycle.Config{Dependencies: []string{"gateway", "hub"}})

	registry.Register("api", service{
		start: apiServer.Start,
		stop:  func(context.Context) error { return apiServer.Close() },
	}, lifecycle.Config{Dependencies: []string{"hub"}})

	if err := registry.StartAll(ctx); err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stopCancel()
		if stopErr := registry.StopAll(stopCtx); stopErr != nil {
			log.Error("error stopping services after failed start", "error", stopErr)
		}
		return fmt.Errorf("starting services: %w", err)
	}

	if err := healthCheck(ctx, db, recorder); err != nil {
		log.Warn("health check reported a problem", "error", err)
	} else {
		log.Info("all health checks passed")
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal (or a fatal service error via cancel)
	<-ctx.Done()

	log.Info("shutdown signal received, stopping services")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()
	if err := registry.StopAll(stopCtx); err != nil {
		log.Error("error during shutdown", "error", err)
	}

	log.Info("VoltGrid Core stopped")
	return nil
}

// service adapts start/stop closures to the lifecycle interfaces.
type service struct {
	start func(ctx context.Context) error
	stop  func(ctx context.Context) error
}

func (s service) Start(ctx context.Context) error {
	if s.start == nil {
		return nil
	}
	return s.start(ctx)
}

func (s service) Stop(ctx context.Context) error {
	if s.stop == nil {
		return nil
	}
	return s.stop(ctx)
}

// getConfigPath returns the configuration file path.
// Uses VOLTGRID_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("VOLTGRID_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - recorder: Telemetry recorder (nil when InfluxDB is disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, recorder telemetry.Recorder) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if influxClient, ok := recorder.(*influxdb.Client); ok {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
