// Gray Logic Nuki Bridge
//
// nukibridge connects the locks paired with a Nuki bridge to Gray Logic
// Core over MQTT, and serves a REST/WebSocket API for the same locks.
//
//	nukibridge [-c config.yaml] [serve]
//	nukibridge [-c config.yaml] token -s panel-hallway -r operator
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	_ "github.com/nerrad567/gray-logic-nuki/migrations"

	"github.com/nerrad567/gray-logic-nuki/internal/api"
	"github.com/nerrad567/gray-logic-nuki/internal/audit"
	"github.com/nerrad567/gray-logic-nuki/internal/auth"
	"github.com/nerrad567/gray-logic-nuki/internal/bridges/nuki"
	"github.com/nerrad567/gray-logic-nuki/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-nuki/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-nuki/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-nuki/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-nuki/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-nuki/internal/lock"
)

// Version information, set at build time via ldflags:
// go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type options struct {
	Config string `short:"c" long:"config" description:"Configuration file (default: $NUKIBRIDGE_CONFIG or configs/config.yaml)"`

	Serve serveCommand `command:"serve" description:"Run the bridge (default)"`
	Token tokenCommand `command:"token" description:"Sign an API bearer token with the configured JWT secret"`
}

type serveCommand struct{}

type tokenCommand struct {
	Subject string        `short:"s" long:"subject" required:"true" description:"Token subject, e.g. the panel or user name"`
	Role    string        `short:"r" long:"role" default:"viewer" choice:"viewer" choice:"operator" choice:"admin" description:"Role granted by the token"`
	TTL     time.Duration `long:"ttl" default:"24h" description:"Token lifetime"`
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	parser.SubcommandsOptional = true

	if _, err := parser.Parse(); err != nil {
		var fe *flags.Error
		if errors.As(err, &fe) && fe.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	configPath := opts.Config
	if configPath == "" {
		configPath = config.Path()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	if parser.Active != nil && parser.Active.Name == "token" {
		err = runToken(configPath, opts.Token, os.Stdout)
	} else {
		err = run(ctx, configPath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runToken prints a signed bearer token for the API.
func runToken(configPath string, cmd tokenCommand, w io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if !cfg.AuthEnabled() {
		return fmt.Errorf("security.jwt.secret is not set; the API accepts unauthenticated requests")
	}

	token, err := auth.GenerateToken(cmd.Subject, auth.Role(cmd.Role), cfg.Security.JWT.Secret, cfg.Security.JWT.Issuer, cmd.TTL)
	if err != nil {
		return fmt.Errorf("signing token: %w", err)
	}
	_, err = fmt.Fprintln(w, token)
	return err
}

// run starts every component and blocks until ctx is cancelled.
// Deferred cleanups run in reverse start order.
func run(ctx context.Context, configPath string) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting Gray Logic Nuki Bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "auth_enabled", cfg.AuthEnabled())

	// Lock event log
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
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	events := audit.NewSQLiteRepository(db.DB)
	if retention := cfg.GetEventRetention(); retention > 0 {
		pruner, err := audit.NewRetention(events, retention, cfg.Database.EventPruneSchedule, log.Component("retention"))
		if err != nil {
			return fmt.Errorf("configuring event retention: %w", err)
		}
		if n, err := pruner.RunOnce(ctx); err != nil {
			log.Warn("initial lock event pruning failed", "error", err)
		} else {
			log.Info("lock events pruned", "removed", n, "retention_days", cfg.Database.EventRetentionDays)
		}
		pruner.Start()
		defer pruner.Stop()
	}

	// Nuki bridge HTTP client
	client, err := nuki.NewClient(nuki.ClientConfig{
		Host:        cfg.Nuki.Host,
		Port:        cfg.Nuki.Port,
		Token:       cfg.Nuki.Token,
		Timeout:     cfg.GetNukiTimeout(),
		StrictQueue: cfg.Nuki.StrictQueue,
	})
	if err != nil {
		return fmt.Errorf("creating Nuki client: %w", err)
	}
	client.SetLogger(log.Component("nuki-client"))
	defer client.Close() //nolint:errcheck // Close only stops the request worker

	// MQTT, with the bridge's offline health message as Last Will
	will, err := healthWill(cfg.Nuki.BridgeID)
	if err != nil {
		return err
	}
	mqttClient, err := mqtt.Connect(cfg.MQTT, will)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
	mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	lockMetrics := lock.NewMetrics(registry)

	// Telemetry (optional)
	var influxClient *influxdb.Client
	var telemetry nuki.TelemetryWriter
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
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
		telemetry = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	bridge, err := nuki.NewBridge(nuki.BridgeOptions{
		Client:         client,
		MQTTClient:     &mqttBridgeAdapter{client: mqttClient},
		Recorder:       &eventRecorder{repo: events},
		Telemetry:      telemetry,
		Metrics:        lockMetrics,
		Logger:         log.Component("nuki"),
		Policy:         policyFromConfig(cfg.Reconciler),
		PollInterval:   cfg.Reconciler.PollInterval,
		HealthInterval: cfg.GetHealthInterval(),
		BridgeID:       cfg.Nuki.BridgeID,
		Version:        version,
	})
	if err != nil {
		return fmt.Errorf("creating Nuki bridge: %w", err)
	}

	checks := map[string]api.HealthChecker{
		"database": db,
		"mqtt":     mqttClient,
	}
	if influxClient != nil {
		checks["influxdb"] = influxClient
	}

	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log,
		Locks:    bridge,
		Events:   events,
		Gatherer: registry,
		Checks:   checks,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	bridge.SetStateListener(server.Hub().BroadcastLockState)

	if err := bridge.Start(ctx); err != nil {
		bridge.Stop()
		return fmt.Errorf("starting Nuki bridge: %w", err)
	}
	defer func() {
		log.Info("stopping Nuki bridge")
		bridge.Stop()
	}()

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if influxClient != nil {
		go writeBridgeStats(ctx, influxClient, bridge, cfg.Nuki.BridgeID, cfg.GetHealthInterval())
	}

	if err := healthCheck(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// healthWill returns the Last Will carrying the bridge's offline health message.
func healthWill(bridgeID string) (*mqtt.Will, error) {
	payload, err := json.Marshal(nuki.NewLWTMessage(bridgeID))
	if err != nil {
		return nil, fmt.Errorf("encoding LWT message: %w", err)
	}
	return &mqtt.Will{Topic: nuki.HealthTopic(), Payload: payload}, nil
}

func policyFromConfig(rc config.ReconcilerConfig) lock.Policy {
	return lock.Policy{
		StaleAfter:      rc.StaleAfter,
		RefreshAttempts: rc.RefreshAttempts,
		CommandAttempts: rc.CommandAttempts,
		ErrorStates:     rc.ErrorStates,
		CommandDeadline: rc.CommandDeadline,
	}
}

// healthCheck runs every check and returns the first failure.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for name, c := range checks {
		if err := c.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// statsSource is the part of the bridge writeBridgeStats reads.
type statsSource interface {
	GetMetrics() nuki.BridgeMetrics
}

type statsWriter interface {
	WriteBridgeStats(bridgeID string, reachable bool, requests, errors uint64)
}

// writeBridgeStats writes bridge link statistics every interval until ctx ends.
func writeBridgeStats(ctx context.Context, w statsWriter, src statsSource, bridgeID string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m := src.GetMetrics()
			w.WriteBridgeStats(bridgeID, m.Reachable, m.Requests, m.Errors)
		}
	}
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to nuki.MQTTClient.
// The two Subscribe signatures differ only by the named handler type.
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error {
	return a.client.Subscribe(topic, qos, handler)
}

func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// eventCreator is the write side of the lock event log.
type eventCreator interface {
	Create(ctx context.Context, ev *audit.Event) error
}

// eventRecorder stores bridge lock events in the audit log.
type eventRecorder struct {
	repo eventCreator
}

func (r *eventRecorder) RecordLockEvent(ctx context.Context, ev nuki.LockEvent) error {
	return r.repo.Create(ctx, &audit.Event{
		ID:        ev.ID,
		CreatedAt: ev.Timestamp,
		EntityID:  ev.EntityID,
		NukiID:    ev.NukiID,
		Kind:      ev.Kind,
		Command:   ev.Command,
		Source:    ev.Source,
		Success:   ev.Success,
		Available: ev.Available,
		Locked:    ev.Locked,
		Detail:    ev.Detail,
	})
}
