// vcpd - Volume Control Profile orchestrator.
//
// vcpd owns the per-device connection state machines, the group volume
// cache and the external output offsets for hearing devices and earbuds
// speaking the Volume Control profile. It drives a native Bluetooth stack
// over MQTT, learns bond and connection changes from MQTT or BlueZ, and
// exposes an HTTP/WebSocket API for operators.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/gray-logic-vcp/migrations"

	"github.com/nerrad567/gray-logic-vcp/internal/api"
	"github.com/nerrad567/gray-logic-vcp/internal/bluez"
	"github.com/nerrad567/gray-logic-vcp/internal/bridges/stack"
	"github.com/nerrad567/gray-logic-vcp/internal/groups"
	"github.com/nerrad567/gray-logic-vcp/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-vcp/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-vcp/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-vcp/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-vcp/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-vcp/internal/vcp"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// Host event sources selectable with vcp.host_events.
const (
	hostEventsMQTT  = "mqtt"
	hostEventsBlueZ = "bluez"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Components are stopped in reverse start order by the deferred calls.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting vcpd",
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
	defer log.Close() //nolint:errcheck // nothing to report to
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"output", cfg.Logging.Output,
	)

	// Database
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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Group store
	registry := groups.NewRegistry(groups.NewSQLiteRepository(db.DB))
	registry.SetLogger(log.With("component", "groups"))
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading group registry: %w", refreshErr)
	}
	log.Info("group registry initialised", "groups", len(registry.ListGroups()))

	// MQTT
	mqttClient, err := mqtt.Connect(cfg.MQTT)
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
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Native stack bridge and host audio
	bridgeClient := mqtt.BridgeClient{Client: mqttClient}
	bridge, err := stack.NewBridge(stack.BridgeOptions{
		MQTTClient: bridgeClient,
		Logger:     log.With("component", "stack"),
	})
	if err != nil {
		return fmt.Errorf("creating stack bridge: %w", err)
	}
	host := stack.NewHostAudio(bridgeClient, cfg.VCP.HostMaxVolume)
	host.SetLogger(log.With("component", "host"))
	publisher := stack.NewStatePublisher(bridgeClient, log.With("component", "state"))

	observers := []vcp.Observer{publisher}
	if influxClient != nil {
		observers = append(observers, influxClient)
	}

	// Volume control service
	svc, err := vcp.NewService(vcp.Options{
		Bridge:    bridge,
		Groups:    registry,
		Host:      host,
		Store:     registry,
		Policy:    registry,
		Observers: observers,
		Logger:    log.With("component", "vcp"),
		InboxSize: cfg.VCP.InboxSize,
	})
	if err != nil {
		return fmt.Errorf("creating volume control service: %w", err)
	}
	if cfg.VCP.HostEvents == hostEventsMQTT {
		bridge.SetHostEvents(svc)
	}

	if startErr := bridge.Start(ctx); startErr != nil {
		return fmt.Errorf("starting stack bridge: %w", startErr)
	}
	defer func() {
		log.Info("stopping stack bridge")
		bridge.Stop()
	}()

	host.Start(ctx)
	defer host.Stop()

	publisher.Start(ctx)
	defer publisher.Stop()

	if startErr := svc.Start(ctx); startErr != nil {
		return fmt.Errorf("starting volume control service: %w", startErr)
	}
	defer func() {
		log.Info("stopping volume control service")
		svc.Stop()
	}()

	if influxClient != nil {
		handle := svc.RegisterCallback(influxClient)
		defer svc.UnregisterCallback(handle)
	}

	// BlueZ host events (optional)
	if cfg.VCP.HostEvents == hostEventsBlueZ {
		watcher, watchErr := startBlueZ(ctx, cfg.VCP.BlueZ, svc, log)
		if watchErr != nil {
			return watchErr
		}
		defer func() {
			log.Info("stopping bluez watcher")
			watcher.Stop()
		}()
	}

	reporter := stack.NewHealthReporter(stack.HealthReporterConfig{
		BridgeID:  cfg.Site.ID,
		Version:   version,
		Interval:  cfg.GetHealthInterval(),
		Publisher: bridgeClient,
		Service:   svc,
		Metrics:   bridge,
	})
	reporter.SetLogger(log.With("component", "health"))
	reporter.Start(ctx)
	defer reporter.Stop()

	// HTTP API
	if cfg.API.Enabled {
		checks := []api.HealthCheck{
			{Name: "database", Check: db.HealthCheck},
			{Name: "mqtt", Check: mqttClient.HealthCheck},
		}
		if influxClient != nil {
			checks = append(checks, api.HealthCheck{Name: "influxdb", Check: influxClient.HealthCheck})
		}

		server, apiErr := api.New(api.Deps{
			Config:  cfg.API,
			WS:      cfg.WebSocket,
			Logger:  log.With("component", "api"),
			Service: svc,
			Groups:  registry,
			Checks:  checks,
			Version: version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// startBlueZ connects the D-Bus watcher feeding bond and connection changes
// into the service.
func startBlueZ(ctx context.Context, cfg config.BlueZConfig, sink bluez.Sink, log *logging.Logger) (*bluez.Watcher, error) {
	watcher, err := bluez.NewWatcher(bluez.Config{
		Adapter: cfg.Adapter,
		Sink:    sink,
		Logger:  log.With("component", "bluez"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating bluez watcher: %w", err)
	}
	if err := watcher.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting bluez watcher: %w", err)
	}
	log.Info("bluez watcher started", "adapter", cfg.Adapter)
	return watcher, nil
}

// healthCheck verifies all infrastructure connections are healthy.
// influxClient may be nil when InfluxDB is disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
