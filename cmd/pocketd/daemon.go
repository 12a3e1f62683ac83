package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/fentz26/pocketd/internal/agent"
	"github.com/fentz26/pocketd/internal/audit"
	"github.com/fentz26/pocketd/internal/config"
	"github.com/fentz26/pocketd/internal/connectors/localexec"
	"github.com/fentz26/pocketd/internal/controlplane"
	"github.com/fentz26/pocketd/internal/device"
	"github.com/fentz26/pocketd/internal/devicelock"
	"github.com/fentz26/pocketd/internal/indicator"
	"github.com/fentz26/pocketd/internal/logging"
	"github.com/fentz26/pocketd/internal/metrics"
	"github.com/fentz26/pocketd/internal/notifications"
	"github.com/fentz26/pocketd/internal/scheduler"
	"github.com/fentz26/pocketd/internal/store"
)

var (
	configPath string
	listenAddr string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the pocketd daemon",
	Long: `Starts the pocketd daemon which owns the device lock, runs scheduled tasks,
triages notifications and serves the HTTP control plane.`,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&configPath, "config", config.DefaultPath(), "Path to config file (.yaml or .toml)")
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server (overrides config)")
}

// daemon is the wired set of long-lived components.
type daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *store.Store
	lock      *devicelock.Lock
	scheduler *scheduler.Scheduler
	queue     *notifications.Queue
	indicator *indicator.Indicator
	server    *controlplane.Server

	cancel context.CancelFunc
}

func newDaemon(cfg *config.Config, logger *slog.Logger) (*daemon, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := store.New(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}

	var (
		docs      store.Documents = db
		fileStore *store.FileStore
	)
	if cfg.Storage.Backend == config.BackendFile {
		fileStore, err = store.NewFileStore(cfg.DocumentsDir())
		if err != nil {
			db.Close()
			return nil, err
		}
		docs = fileStore
	}

	reg := prometheus.NewRegistry()
	m := metrics.MustNew(reg)
	pdr := audit.NewPDRWriter(db)

	lock := devicelock.New(
		devicelock.WithDefaultTimeout(cfg.Lock.Timeout),
		devicelock.WithObserver(m),
		devicelock.WithLogger(logging.Component(logger, "lock")),
	)

	shell := localexec.New(localexec.Options{
		Allowed:   cfg.Shell.Allowed,
		SuPath:    cfg.Shell.SuPath,
		Timeout:   cfg.Shell.Timeout,
		MaxOutput: cfg.Shell.MaxOutput,
	})

	dev := device.New(shell, cfg.Device.PIN, device.Delays{
		AfterWake:    cfg.Device.AfterWake,
		AfterSwipe:   cfg.Device.AfterSwipe,
		PollInterval: cfg.Device.PollInterval,
		PollAttempts: cfg.Device.PollAttempts,
	}, logging.Component(logger, "device"))

	agentClient := agent.NewClient(cfg.Agent.URL, cfg.Agent.Timeout)

	sched := scheduler.New(scheduler.Deps{
		Docs:    docs,
		Lock:    lock,
		Waker:   dev,
		Runner:  agentClient,
		PDR:     pdr,
		Metrics: m,
		Logger:  logging.Component(logger, "scheduler"),
	}, &scheduler.Config{
		TickInterval: cfg.Scheduler.TickInterval,
		LockTimeout:  cfg.Lock.Timeout,
		ResultMaxLen: cfg.Scheduler.ResultMaxLen,
		LogCapacity:  cfg.Scheduler.LogCapacity,
	})

	ctx, cancel := context.WithCancel(context.Background())

	filter := notifications.NewFilter(docs, logging.Component(logger, "filter"))
	if fileStore != nil && cfg.Notifications.WatchWhitelist {
		if err := filter.Watch(ctx, fileStore.PathFor(store.DocNotificationFilter)); err != nil {
			logger.Warn("whitelist file watch disabled", "error", err)
		}
	}

	source := notifications.NewDumpsysSource(shell)
	watcher := notifications.NewWatcher(source, cfg.Notifications.PollInterval, m, logging.Component(logger, "watcher"))
	queue := notifications.NewQueue(notifications.QueueDeps{
		Watcher: watcher,
		Filter:  filter,
		Lock:    lock,
		Triager: agentClient,
		PDR:     pdr,
		Metrics: m,
		Logger:  logging.Component(logger, "triage"),
	}, notifications.QueueConfig{
		MaxAge:      cfg.Notifications.MaxAge,
		LockTimeout: cfg.Lock.Timeout,
		LogCapacity: cfg.Notifications.LogCapacity,
	})

	var ind *indicator.Indicator
	if cfg.Indicator.Enabled {
		ind = indicator.New(shell, "http://"+cfg.Listen+"/lock/release", logging.Component(logger, "indicator"))
	}

	service := controlplane.NewService(controlplane.Deps{
		Lock:        lock,
		Scheduler:   sched,
		Queue:       queue,
		Filter:      filter,
		Source:      source,
		Device:      dev,
		Runner:      agentClient,
		PDR:         pdr,
		DB:          db,
		Logger:      logging.Component(logger, "service"),
		LockTimeout: cfg.Lock.Timeout,
	})
	server := controlplane.NewServer(service, cfg.Listen, reg, logging.Component(logger, "http"))

	return &daemon{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		lock:      lock,
		scheduler: sched,
		queue:     queue,
		indicator: ind,
		server:    server,
		cancel:    cancel,
	}, nil
}

// startBackground restores persisted run state and starts the optional
// notification watcher and presence indicator.
func (d *daemon) startBackground() {
	d.scheduler.RestoreRunningState()
	if d.cfg.Notifications.AutoStart {
		d.queue.Start()
	}
	if d.indicator != nil {
		d.indicator.Start(d.lock)
	}
}

// close stops background work and releases storage. The HTTP server must
// already be shut down.
func (d *daemon) close() {
	d.cancel()
	d.queue.Close()
	d.scheduler.Close()
	if d.indicator != nil {
		d.indicator.Stop()
	}
	if err := d.db.Close(); err != nil {
		d.logger.Error("database close error", "error", err)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: logging.Format(cfg.Logging.Format),
		Output: os.Stderr,
	})
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	logger.Info("starting pocketd daemon",
		"version", controlplane.Version,
		"listen", cfg.Listen,
		"data_dir", cfg.DataDir,
		"storage", cfg.Storage.Backend,
	)

	d, err := newDaemon(cfg, logger)
	if err != nil {
		return err
	}
	d.startBackground()

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Channel to receive server errors
	serverErr := make(chan error, 1)

	go func() {
		err := d.server.Start()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received signal, initiating graceful shutdown", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			logger.Error("server error", "error", err)
			d.close()
			return err
		}
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down HTTP server")
	if err := d.server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	d.close()
	logger.Info("shutdown complete")
	return nil
}
