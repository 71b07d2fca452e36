// PowerLogic Core - scheduled power control for networked devices
//
// This is the main entry point for the PowerLogic Core application.
// It switches registered devices on and off from weekly and one-time
// schedules, holds dependent devices back until the devices they need have
// been on long enough, and skips devices the liveness monitor reports offline.
//
// Configuration is read from POWERLOGIC_CONFIG (default configs/config.yaml).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/powerlogic-core/migrations"

	"github.com/nerrad567/powerlogic-core/internal/api"
	"github.com/nerrad567/powerlogic-core/internal/audit"
	"github.com/nerrad567/powerlogic-core/internal/device"
	"github.com/nerrad567/powerlogic-core/internal/dispatch"
	"github.com/nerrad567/powerlogic-core/internal/infrastructure/config"
	"github.com/nerrad567/powerlogic-core/internal/infrastructure/database"
	"github.com/nerrad567/powerlogic-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/powerlogic-core/internal/infrastructure/logging"
	"github.com/nerrad567/powerlogic-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/powerlogic-core/internal/liveness"
	"github.com/nerrad567/powerlogic-core/internal/process"
	"github.com/nerrad567/powerlogic-core/internal/scheduler"
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

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until ctx is cancelled.
// Shutdown runs through the defer chain in reverse start order.
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting PowerLogic Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Database
	db, err := database.Open(ctx, database.Config{
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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	schema, err := db.SchemaStatus(ctx)
	if err != nil {
		return fmt.Errorf("reading schema status: %w", err)
	}
	log.Info("database migrations complete", "schema_version", schema.Current(), "applied", len(schema.Applied))

	// Device registry
	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	registry.SetLogger(log.With("component", "registry"))
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", registry.GetDeviceCount())

	checks := map[string]api.HealthChecker{"database": db}

	// MQTT (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.With("component", "mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		checks["mqtt"] = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
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
		checks["influxdb"] = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Diagnostics
	auditRepo := audit.NewSQLiteRepository(db.DB)
	sinks, closeSinks, err := buildDiagnostics(cfg.Diagnostics, auditRepo, mqttClient)
	if err != nil {
		return fmt.Errorf("opening diagnostics: %w", err)
	}
	defer closeSinks()
	log.Info("diagnostics configured",
		"file", cfg.Diagnostics.File,
		"database", cfg.Diagnostics.Database,
		"sinks", len(sinks),
	)

	// Dispatch
	var publisher dispatch.Publisher
	var subscriber liveness.Subscriber
	if mqttClient != nil {
		publisher = mqttClient
		subscriber = mqttClient
	}

	runner := process.NewRunner()
	runner.SetLogger(log.With("component", "process"))

	sender, err := dispatch.NewSender(cfg.Dispatch, publisher, runner)
	if err != nil {
		return fmt.Errorf("creating command sender: %w", err)
	}
	dispatcher := dispatch.NewDispatcher(sender, registry, sinks, log.With("component", "dispatch"))
	dispatcher.SetRetryBackoff(cfg.Dispatch.RetryBackoff)
	if influxClient != nil {
		dispatcher.SetMetrics(influxClient)
	}
	log.Info("dispatcher ready", "transport", cfg.Dispatch.Transport)

	// Liveness monitor
	if cfg.Liveness.Enabled {
		monitor, monErr := startLiveness(ctx, cfg.Liveness, registry, subscriber, &stateReporter{influx: influxClient, mqtt: mqttClient}, log)
		if monErr != nil {
			return fmt.Errorf("starting liveness monitor: %w", monErr)
		}
		defer func() {
			log.Info("stopping liveness monitor")
			monitor.Stop()
		}()
	} else {
		log.Info("liveness monitor disabled")
	}

	// Scheduler
	sched := scheduler.NewScheduler(registry, sinks, log.With("component", "scheduler"))
	schedRunner, err := scheduler.NewRunner(sched, registry, dispatcher.ExecuteAuto, cfg.Scheduler.Spec, log.With("component", "scheduler"))
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}
	if influxClient != nil {
		schedRunner.SetMetrics(influxClient)
	}
	if cfg.Scheduler.Enabled {
		if startErr := schedRunner.Start(ctx); startErr != nil {
			return fmt.Errorf("starting scheduler: %w", startErr)
		}
		defer schedRunner.Stop()
	} else {
		log.Info("scheduler cadence disabled; passes run only on request")
	}

	// HTTP API
	server, err := api.New(api.Deps{
		Config:     cfg.API,
		Logger:     log.With("component", "api"),
		Registry:   registry,
		Dispatcher: dispatcher,
		Scheduler:  schedRunner,
		AuditRepo:  auditRepo,
		Checks:     checks,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses POWERLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("POWERLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// Components are checked in name order so the first failure is stable.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for _, name := range []string{"database", "mqtt", "influxdb"} {
		check, ok := checks[name]
		if !ok {
			continue
		}
		if err := check.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// buildDiagnostics assembles the configured diagnostic sinks. The returned
// close function releases the file sink.
func buildDiagnostics(cfg config.DiagnosticsConfig, repo audit.Repository, mqttClient *mqtt.Client) (audit.MultiSink, func(), error) {
	var sinks audit.MultiSink
	closeFn := func() {}

	if cfg.File != "" {
		fileSink, err := audit.NewFileSink(cfg.File)
		if err != nil {
			return nil, closeFn, err
		}
		sinks = append(sinks, fileSink)
		closeFn = func() {
			if err := fileSink.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "closing diagnostic file: %v\n", err)
			}
		}
	}
	if cfg.Database {
		sinks = append(sinks, audit.NewSQLiteSink(repo))
	}
	if mqttClient != nil {
		sinks = append(sinks, audit.NewMQTTSink(mqttClient))
	}

	return sinks, closeFn, nil
}

// startLiveness builds the configured prober and starts the monitor.
func startLiveness(ctx context.Context, cfg config.LivenessConfig, registry *device.Registry, sub liveness.Subscriber, metrics liveness.Metrics, log *logging.Logger) (*liveness.Monitor, error) {
	prober, err := liveness.NewProber(cfg, sub)
	if err != nil {
		return nil, err
	}

	monitor := liveness.NewMonitor(registry, prober, liveness.MonitorConfig{
		FailureThreshold: cfg.FailureThreshold,
		ProbeTimeout:     cfg.ProbeTimeout,
		Concurrency:      cfg.Concurrency,
	}, log.With("component", "liveness"))
	monitor.SetMetrics(metrics)

	if err := monitor.Start(ctx, cfg.Interval); err != nil {
		return nil, err
	}

	log.Info("liveness monitor started",
		"probe", cfg.Probe,
		"interval", cfg.Interval,
		"failure_threshold", monitor.Threshold(),
	)
	return monitor, nil
}

// stateReporter forwards liveness results to InfluxDB and publishes online
// transitions as retained device state. Either side may be nil.
type stateReporter struct {
	influx *influxdb.Client
	mqtt   *mqtt.Client
}

// WriteProbeMetric implements liveness.Metrics.
func (r *stateReporter) WriteProbeMetric(name string, alive bool, failures int) {
	if r.influx != nil {
		r.influx.WriteProbeMetric(name, alive, failures)
	}
}

// WriteLivenessTransition implements liveness.Metrics.
func (r *stateReporter) WriteLivenessTransition(name string, online bool) {
	if r.influx != nil {
		r.influx.WriteLivenessTransition(name, online)
	}
	if r.mqtt != nil {
		//nolint:errcheck // best-effort; the broker keeps the last delivered state
		r.mqtt.PublishDeviceState(name, mqtt.DeviceState{Online: online, Source: "liveness"})
	}
}
