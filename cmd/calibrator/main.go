// Valve Calibrator keeps Zigbee thermostatic radiator valves honest.
//
// Each valve measures temperature next to the radiator, which reads warmer
// than the room. The calibrator pairs every valve with a room temperature
// sensor over MQTT and publishes a local_temperature_calibration offset
// whenever the two disagree by half a degree or more.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/nerrad567/valve-calibrator/internal/api"
	"github.com/nerrad567/valve-calibrator/internal/calibration"
	"github.com/nerrad567/valve-calibrator/internal/device"
	"github.com/nerrad567/valve-calibrator/internal/infrastructure/config"
	"github.com/nerrad567/valve-calibrator/internal/infrastructure/influxdb"
	"github.com/nerrad567/valve-calibrator/internal/infrastructure/logging"
	"github.com/nerrad567/valve-calibrator/internal/infrastructure/mqtt"
	"github.com/nerrad567/valve-calibrator/internal/pipeline"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	configEnvVar      = "CALIBRATOR_CONFIG"

	// startupHealthTimeout bounds the health check run once everything is up.
	startupHealthTimeout = 5 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options are the command-line settings.
type options struct {
	configPath  string
	showVersion bool
}

// parseFlags reads the command line. The config path falls back to
// $CALIBRATOR_CONFIG and then configs/config.yaml.
func parseFlags(args []string) (options, error) {
	var opts options

	flagSet := pflag.NewFlagSet("valve-calibrator", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "path to the YAML config file (default $"+configEnvVar+" or "+defaultConfigPath+")")
	flagSet.BoolVar(&opts.showVersion, "version", false, "print version information and exit")

	if err := flagSet.Parse(args); err != nil {
		return opts, err
	}
	if flagSet.NArg() > 0 {
		return opts, fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}

	if opts.configPath == "" {
		opts.configPath = getConfigPath()
	}
	return opts, nil
}

// getConfigPath returns the configuration file path.
// Uses CALIBRATOR_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}

// run is the actual application logic, separated from main for testability.
// It blocks until ctx is cancelled and then shuts down in order.
func run(ctx context.Context, args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Printf("valve-calibrator %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting valve calibrator",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", opts.configPath,
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	registry, err := device.NewRegistry(cfg.MQTT.BaseTopic, deviceConfigs(cfg))
	if err != nil {
		return fmt.Errorf("building device registry: %w", err)
	}
	store := device.NewMemoryStore(registry.IDs())
	log.Info("device registry initialised", "devices", registry.Len(), "base_topic", cfg.MQTT.BaseTopic)

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	mqttClient.SetLogger(log)
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", mqttClient.ClientID(),
	)

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected", "subscriptions", mqttClient.SubscriptionCount())
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	influxClient, err := connectInfluxDB(ctx, cfg.InfluxDB, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("flushing InfluxDB")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	qos := byte(cfg.MQTT.QoS)

	publisher := calibration.NewPublisher(mqttClient, registry, qos)
	publisher.SetLogger(log)
	if influxClient != nil {
		publisher.SetMetrics(influxClient)
	}

	handler := pipeline.NewHandler(registry, store, publisher)
	handler.SetLogger(log)

	dispatcher := pipeline.NewDispatcher(registry, handler, pipeline.Options{
		Workers:   cfg.Dispatch.Workers,
		QueueSize: cfg.Dispatch.QueueSize,
		Logger:    log,
	})

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer, err = api.New(api.Deps{
			Config:     cfg.API,
			WS:         cfg.WebSocket,
			Logger:     log,
			Store:      store,
			MQTT:       mqttClient,
			Dispatcher: dispatcher,
			Publisher:  publisher,
			Version:    version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		handler.SetObserver(apiServer.Hub())
	}

	dispatcher.Start(ctx)
	defer func() {
		if stopErr := dispatcher.Stop(cfg.GetDrainTimeout()); stopErr != nil {
			log.Warn("dispatcher did not drain cleanly", "error", stopErr)
		}
		stats := dispatcher.Stats()
		log.Info("dispatcher stopped",
			"processed", stats.Processed,
			"failed", stats.Failed,
			"dropped", stats.Dropped,
		)
	}()

	if apiServer != nil {
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	topics := registry.Topics()
	if subErr := mqttClient.SubscribeAll(topics, qos, dispatcher.Receive); subErr != nil {
		return fmt.Errorf("subscribing to device topics: %w", subErr)
	}
	defer func() {
		log.Info("unsubscribing from device topics")
		if unsubErr := mqttClient.UnsubscribeAll(topics); unsubErr != nil {
			log.Warn("error unsubscribing", "error", unsubErr)
		}
	}()
	log.Info("subscribed to device topics", "topics", len(topics))

	healthCtx, cancel := context.WithTimeout(ctx, startupHealthTimeout)
	if hcErr := healthCheck(healthCtx, mqttClient, influxClient); hcErr != nil {
		log.Warn("startup health check failed", "error", hcErr)
	}
	cancel()

	log.Info("valve calibrator running")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. Unsubscribe from device topics
	// 2. API server
	// 3. Dispatcher drain
	// 4. InfluxDB flush (if enabled)
	// 5. MQTT (publishes offline status)

	return nil
}

// deviceConfigs converts the configured devices, sorted by ID.
func deviceConfigs(cfg *config.Config) []device.Config {
	named := cfg.DeviceList()
	out := make([]device.Config, 0, len(named))
	for _, d := range named {
		out = append(out, device.Config{
			ID:                d.ID,
			TemperatureSensor: d.TemperatureSensor,
			ValveActuator:     d.ValveActuator,
		})
	}
	return out
}

// connectInfluxDB connects when enabled and returns nil otherwise.
func connectInfluxDB(ctx context.Context, cfg config.InfluxDBConfig, log *logging.Logger) (*influxdb.Client, error) {
	if !cfg.Enabled {
		log.Info("InfluxDB disabled")
		return nil, nil
	}

	client, err := influxdb.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.URL,
		"org", cfg.Org,
		"bucket", cfg.Bucket,
	)
	return client, nil
}

// healthCheck verifies the external connections.
func healthCheck(ctx context.Context, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
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
