package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eliteGoblin/focusd/tab_mon/internal/client"
	"github.com/eliteGoblin/focusd/tab_mon/internal/config"
	"github.com/eliteGoblin/focusd/tab_mon/internal/daemon"
	"github.com/eliteGoblin/focusd/tab_mon/internal/domain"
	"github.com/eliteGoblin/focusd/tab_mon/internal/infra"
	"github.com/eliteGoblin/focusd/tab_mon/internal/messaging"
	"github.com/eliteGoblin/focusd/tab_mon/internal/timeutil"
	"github.com/eliteGoblin/focusd/tab_mon/internal/usecase"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the tracking daemon in the foreground",
	Long: `Runs the tabmon daemon in the foreground. The daemon owns the session
database and listens on the configured loopback address for browser
events and UI requests. Live sessions are saved on SIGINT/SIGTERM.`,
	RunE: runServe,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the tracking daemon in the background",
	RunE:  runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the tracking daemon, saving live sessions",
	RunE:  runStop,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE:  runStatus,
}

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Forward browser events from stdin to the daemon",
	Long: `Reads one JSON browser event per line from stdin and forwards each to
the daemon. Intended to sit behind the browser's native messaging host.`,
	RunE: runRelay,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(relayCmd)
}

// openStore opens the session database, encrypted unless disabled in config.
func openStore(ctx context.Context, cfg *config.Config) (*infra.SQLSessionStore, error) {
	dataDir, err := cfg.DataDir()
	if err != nil {
		return nil, err
	}
	clock := timeutil.SystemClock{}

	if !cfg.Storage.Encrypt {
		dbPath, err := cfg.DBPath()
		if err != nil {
			return nil, err
		}
		return infra.NewPlainSessionStore(ctx, dbPath, clock)
	}

	key, err := infra.EnsureKey(infra.ResolveKeyProvider(dataDir))
	if err != nil {
		return nil, fmt.Errorf("failed to load database key: %w", err)
	}
	return infra.NewEncryptedSessionStore(ctx, dataDir, cfg.Storage.File, key, clock)
}

func newRegistry(cfg *config.Config, pm domain.ProcessManager) (*infra.FileRegistry, error) {
	dataDir, err := cfg.DataDir()
	if err != nil {
		return nil, err
	}
	return infra.NewFileRegistry(dataDir, pm), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := createLogger(cfg)
	defer func() { _ = logger.Sync() }()

	pm := infra.NewProcessManager()
	registry, err := newRegistry(cfg, pm)
	if err != nil {
		return err
	}
	if alive, _ := registry.IsAlive(); alive {
		entry, _ := registry.Get()
		if entry != nil && entry.PID != pm.GetCurrentPID() {
			return fmt.Errorf("tabmon is already running (pid %d)", entry.PID)
		}
	}

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	store, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to open session store", zap.Error(err))
		return err
	}
	defer store.Close()

	metrics, err := infra.NewMetricsRecorder(ctx, infra.OTelConfig{
		Enabled:  cfg.Metrics.Enabled,
		Endpoint: cfg.Metrics.Endpoint,
		Insecure: cfg.Metrics.Insecure,
	}, Version)
	if err != nil {
		logger.Warn("metrics export disabled", zap.Error(err))
		metrics = infra.NoopRecorder{}
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		if err := metrics.Close(closeCtx); err != nil {
			logger.Warn("failed to flush metrics", zap.Error(err))
		}
	}()

	clock := timeutil.SystemClock{}
	tabs := infra.NewTabTable()
	tracker := usecase.NewTracker(store, tabs, clock, metrics, logger)
	facade := messaging.NewFacade(tracker, store, clock, logger)

	ln, err := daemon.Listen(cfg.Daemon.Listen)
	if err != nil {
		return err
	}

	var monitor *daemon.BrowserMonitor
	if cfg.BrowserCheckInterval() > 0 {
		monitor = daemon.NewBrowserMonitor(pm, cfg.Daemon.BrowserProcesses, logger)
	}

	svcConfig := daemon.DefaultServiceConfig()
	svcConfig.HeartbeatInterval = cfg.HeartbeatInterval()
	svcConfig.BrowserCheckInterval = cfg.BrowserCheckInterval()

	svc := daemon.NewService(svcConfig, tracker, tabs, facade, registry, monitor,
		domain.Daemon{
			PID:        pm.GetCurrentPID(),
			Addr:       ln.Addr().String(),
			StartedAt:  time.Now(),
			AppVersion: Version,
		}, logger)
	server := daemon.NewServer(svc, Version, logger)

	logger.Info("starting tabmon daemon",
		zap.String("version", Version),
		zap.String("db", store.Path()),
		zap.String("addr", ln.Addr().String()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(gctx) })
	g.Go(func() error { return server.Serve(gctx, ln) })
	return g.Wait()
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	registry, err := newRegistry(cfg, infra.NewProcessManager())
	if err != nil {
		return err
	}

	if alive, _ := registry.IsAlive(); alive {
		if entry, _ := registry.Get(); entry != nil {
			fmt.Printf("tabmon is already running (pid %d, %s)\n", entry.PID, entry.Addr)
			return nil
		}
	}

	path, err := config.ExpandPath(configPath)
	if err != nil {
		return err
	}
	if _, err := daemon.StartDetached(path); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	entry, err := daemon.WaitUntilAlive(ctx, registry)
	if err != nil {
		logPath, _ := cfg.LogPath()
		return fmt.Errorf("%w (see %s)", err, logPath)
	}

	fmt.Printf("tabmon started (pid %d, listening on %s)\n", entry.PID, entry.Addr)
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	pm := infra.NewProcessManager()
	registry, err := newRegistry(cfg, pm)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := daemon.StopDaemon(ctx, registry, pm); err != nil {
		if errors.Is(err, daemon.ErrNotRunning) {
			fmt.Println("tabmon is not running")
			return nil
		}
		return err
	}
	fmt.Println("tabmon stopped")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	pm := infra.NewProcessManager()
	registry, err := newRegistry(cfg, pm)
	if err != nil {
		return err
	}

	fmt.Println("\n=== tabmon Status ===")

	entry, err := registry.Get()
	alive, _ := registry.IsAlive()
	if err != nil || entry == nil || !alive {
		fmt.Println("Status: NOT RUNNING")
		fmt.Println("\nRun 'tabmon start' to begin tracking.")
		return nil
	}

	fmt.Println("Status: RUNNING")
	fmt.Printf("PID: %d\n", entry.PID)
	fmt.Printf("Listening: %s\n", entry.Addr)
	fmt.Printf("Started: %s\n", humanize.Time(time.Unix(entry.StartedAt, 0)))
	if entry.LastHeartbeat > 0 {
		fmt.Printf("Last heartbeat: %s\n", humanize.Time(time.Unix(entry.LastHeartbeat, 0)))
	}

	logger := cliLogger()
	defer func() { _ = logger.Sync() }()
	c, err := connect(cfg, logger)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ClientTimeout())
	defer cancel()

	health, err := c.Ping(ctx)
	if err != nil {
		fmt.Printf("Bridge: unreachable (%v)\n", err)
		fmt.Println("=====================")
		return nil
	}
	fmt.Printf("Version: %s\n", health.Version)
	fmt.Printf("Open tabs: %d\n", health.OpenTabs)
	fmt.Printf("Tracked tabs: %d\n", health.LiveTabs)

	var settings domain.Settings
	if err := c.Call(ctx, messaging.Request{Type: messaging.TypeGetSettings}, &settings); err == nil {
		if settings.TrackingEnabled {
			fmt.Println("Tracking: enabled")
		} else {
			fmt.Println("Tracking: paused")
		}
	}

	fmt.Println("=====================")
	return nil
}

func runRelay(cmd *cobra.Command, args []string) error {
	return withStreamingClient(func(c *client.Client, logger *zap.Logger) error {
		scanner := bufio.NewScanner(cmd.InOrStdin())
		scanner.Buffer(make([]byte, 64*1024), 1<<20)

		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var ev domain.BrowserEvent
			if err := json.Unmarshal(line, &ev); err != nil {
				logger.Warn("skipping malformed event", zap.Error(err))
				continue
			}
			if err := c.SendEvent(cmd.Context(), ev); err != nil {
				logger.Warn("failed to forward event",
					zap.String("type", string(ev.Type)),
					zap.Error(err))
			}
		}
		return scanner.Err()
	})
}

// withStreamingClient is withClient without an overall deadline.
func withStreamingClient(fn func(c *client.Client, logger *zap.Logger) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := cliLogger()
	defer func() { _ = logger.Sync() }()

	c, err := connect(cfg, logger)
	if err != nil {
		return err
	}
	return fn(c, logger)
}
