// MeshCore Bridge
//
// meshbridge is spawned by a parent process and speaks line-delimited JSON
// on its standard streams: one request per stdin line, exactly one response
// per stdout line. It drives a MeshCore companion node over USB serial or
// TCP. Logs go to stderr.
//
// Optional side channels, all off by default: MQTT state and health
// publishing, InfluxDB telemetry, a SQLite command audit trail and a
// read-only monitor HTTP API.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/nerrad567/meshcore-bridge/internal/api"
	"github.com/nerrad567/meshcore-bridge/internal/audit"
	"github.com/nerrad567/meshcore-bridge/internal/dispatch"
	"github.com/nerrad567/meshcore-bridge/internal/health"
	"github.com/nerrad567/meshcore-bridge/internal/infrastructure/config"
	"github.com/nerrad567/meshcore-bridge/internal/infrastructure/database"
	"github.com/nerrad567/meshcore-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/meshcore-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/meshcore-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/meshcore-bridge/internal/lifecycle"
	"github.com/nerrad567/meshcore-bridge/internal/lineproto"
	"github.com/nerrad567/meshcore-bridge/internal/meshcore"
	"github.com/nerrad567/meshcore-bridge/internal/session"
	"github.com/nerrad567/meshcore-bridge/internal/telemetry"
	"github.com/nerrad567/meshcore-bridge/internal/wire"
	"github.com/nerrad567/meshcore-bridge/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	eventBuffer = 256
	auditBuffer = 256
)

func main() {
	// SIGINT and SIGTERM are handled by the lifecycle controller, which lets
	// the command in flight finish before stopping.
	if err := run(context.Background(), os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the bridge and serves stdin until it is told to stop.
//
// Parameters:
//   - ctx: Cancelling it stops the bridge like a signal
//   - stdin: Request lines
//   - stdout: Ready and response lines; nothing else is written here
//
// Returns:
//   - error: Only when configuration fails or the ready line cannot be
//     written. Every normal stop path returns nil.
func run(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	log := logging.Default()

	configPath := os.Getenv("MESHBRIDGE_CONFIG")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("starting meshbridge",
		"version", version,
		"commit", commit,
		"build_date", date,
		"config", configPath,
	)

	events := session.NewBroadcaster(eventBuffer, log)
	tracker := health.NewTracker()
	events.Subscribe(tracker)

	// Side channels. Each one that fails to start is logged and skipped;
	// the request loop never depends on them.
	mqttClient := startMQTT(cfg, events, log)
	influxClient := startInflux(cfg, events, log)
	auditDB, auditRepo, trail := startAudit(ctx, cfg, log)

	flag := lifecycle.NewRunFlag()

	sess := session.New(session.Options{
		Opener: session.MeshCoreOpener(cfg.MeshCore.AppName, log),
		Capabilities: session.Capabilities{
			Serial: cfg.MeshCore.SerialEnabled,
			TCP:    cfg.MeshCore.TCPEnabled,
		},
		Config: session.Config{
			ConnectTimeout:  cfg.Bridge.ConnectTimeout,
			CommandTimeout:  cfg.Bridge.CommandTimeout,
			ContactsTimeout: cfg.Bridge.ContactsTimeout,
			StatusTimeout:   cfg.Bridge.StatusTimeout,
		},
		Logger: log,
		Events: events,
	})

	dispOpts := dispatch.Options{
		Defaults: dispatch.Defaults{
			SerialPort:    cfg.MeshCore.SerialPort,
			Baud:          cfg.MeshCore.Baud,
			TCPHost:       cfg.MeshCore.TCPHost,
			TCPPort:       cfg.MeshCore.TCPPort,
			StatusTimeout: cfg.Bridge.StatusTimeout,
		},
		Stopper:   flag,
		Logger:    log,
		ListPorts: meshcore.ListSerialPorts,
	}
	if trail != nil {
		dispOpts.Recorder = trail
	}
	dispatcher := dispatch.New(sess, dispOpts)

	writer := wire.NewWriter(stdout)
	loop := lineproto.New(stdin, writer, dispatcher, flag, lineproto.Options{
		ReadTimeout:  cfg.Bridge.ReadTimeout,
		MaxLineBytes: cfg.Bridge.MaxLineBytes,
		Logger:       log,
	})

	reporterCfg := health.ReporterConfig{
		Version:  version,
		Interval: cfg.MQTT.HealthInterval,
		Tracker:  tracker,
		Commands: dispatcher,
		Lines:    loop,
		Events:   events,
		Logger:   log,
	}
	if mqttClient != nil {
		reporterCfg.Publisher = mqttClient
		reporterCfg.Topic = mqttClient.Topics().Health()
	}
	reporter := health.NewReporter(reporterCfg)
	reporter.Start(ctx)

	apiServer := startAPI(ctx, cfg, log, tracker, reporter, events, auditRepo, auditDB)

	controller := lifecycle.New(lifecycle.Options{
		Session: sess,
		Loop:    loop,
		Writer:  writer,
		Ready:   wire.NewReady(cfg.MeshCore.SerialEnabled, cfg.MeshCore.TCPEnabled),
		Flag:    flag,
		Logger:  log,
	})
	runErr := controller.Run(ctx)

	// Teardown runs in dependency order: producers first, then the sinks
	// they feed, then the connections those sinks use.
	reporter.Stop()
	if apiServer != nil {
		if err := apiServer.Close(); err != nil {
			log.Warn("error closing monitor API", "error", err)
		}
	}
	events.Close()
	if trail != nil {
		trail.Close()
		log.Info("audit trail closed",
			"written", trail.Written(),
			"dropped", trail.Dropped(),
			"failed", trail.Failed(),
		)
	}
	if auditDB != nil {
		if err := auditDB.Close(); err != nil {
			log.Warn("error closing audit database", "error", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.Close(); err != nil {
			log.Warn("error closing InfluxDB", "error", err)
		}
	}
	if mqttClient != nil {
		if err := mqttClient.Close(); err != nil {
			log.Warn("error closing MQTT", "error", err)
		}
	}

	st := dispatcher.Stats()
	log.Info("meshbridge stopped",
		"commands", st.Commands,
		"failures", st.Failures,
		"events_dropped", events.Dropped(),
	)
	return runErr
}

// startMQTT connects to the broker and subscribes the state publisher.
// Returns nil when MQTT is disabled or unreachable.
func startMQTT(cfg *config.Config, events *session.Broadcaster, log *logging.Logger) *mqtt.Client {
	if !cfg.MQTT.Enabled {
		log.Debug("MQTT disabled")
		return nil
	}

	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		log.Warn("MQTT unavailable, continuing without it", "error", err)
		return nil
	}
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	events.Subscribe(telemetry.NewMQTTPublisher(client, client.Topics(), log))
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"prefix", cfg.MQTT.TopicPrefix,
	)
	return client
}

// startInflux connects to InfluxDB and subscribes the telemetry recorder.
func startInflux(cfg *config.Config, events *session.Broadcaster, log *logging.Logger) *influxdb.Client {
	if !cfg.InfluxDB.Enabled {
		log.Debug("InfluxDB disabled")
		return nil
	}

	client, err := influxdb.Connect(cfg.InfluxDB)
	if err != nil {
		log.Warn("InfluxDB unavailable, continuing without it", "error", err)
		return nil
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})

	events.Subscribe(telemetry.NewInfluxRecorder(client))
	log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	return client
}

// startAudit opens and migrates the audit database and starts the trail.
func startAudit(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, audit.Repository, *audit.Trail) {
	if !cfg.Audit.Enabled {
		log.Debug("command audit disabled")
		return nil, nil, nil
	}

	db, err := database.Open(database.Config{
		Path:        cfg.Audit.Path,
		WALMode:     cfg.Audit.WALMode,
		BusyTimeout: cfg.Audit.BusyTimeout,
	})
	if err != nil {
		log.Warn("audit database unavailable, continuing without it", "error", err)
		return nil, nil, nil
	}
	if err := db.Migrate(ctx, migrations.FS, "."); err != nil {
		log.Warn("audit migrations failed, continuing without audit", "error", err)
		if closeErr := db.Close(); closeErr != nil {
			log.Warn("error closing audit database", "error", closeErr)
		}
		return nil, nil, nil
	}

	repo := audit.NewSQLiteRepository(db.DB)
	log.Info("command audit enabled", "path", db.Path())
	return db, repo, audit.NewTrail(repo, auditBuffer, log)
}

// startAPI starts the monitor API and streams session events to it.
func startAPI(
	ctx context.Context,
	cfg *config.Config,
	log *logging.Logger,
	tracker *health.Tracker,
	reporter *health.Reporter,
	events *session.Broadcaster,
	repo audit.Repository,
	db *database.DB,
) *api.Server {
	if !cfg.API.Enabled {
		return nil
	}

	deps := api.Deps{
		Config:  cfg.API,
		Logger:  log,
		Tracker: tracker,
		Health:  reporter,
		Version: version,
	}
	if repo != nil && db != nil {
		deps.Audit = repo
		deps.AuditDB = db.DB
	}

	srv, err := api.New(deps)
	if err != nil {
		log.Warn("monitor API not started", "error", err)
		return nil
	}
	if err := srv.Start(ctx); err != nil {
		log.Warn("monitor API not started", "error", err)
		return nil
	}
	events.Subscribe(srv.Hub())
	return srv
}
