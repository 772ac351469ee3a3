// Package main is the CLI entry point for tabmon.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/tab_mon/internal/client"
	"github.com/eliteGoblin/focusd/tab_mon/internal/config"
	"github.com/eliteGoblin/focusd/tab_mon/internal/daemon"
	"github.com/eliteGoblin/focusd/tab_mon/internal/infra"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tabmon",
	Short: "Browser tab activity tracker",
	Long: `tabmon records how long each browser tab is open, in the foreground,
in the background and actively used. A browser extension forwards tab
events to the tabmon daemon, which keeps one session per page visit in
a local database.`,
	Version:      Version,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	configPath string
	jsonOutput bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath, "Path to the config file")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(versionCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrCreateAt(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// createLogger builds the daemon logger. It writes JSON lines to the
// configured log file, falling back to stderr when the file is unusable.
func createLogger(cfg *config.Config) *zap.Logger {
	zc := zap.NewProductionConfig()
	zc.EncoderConfig.TimeKey = "time"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if level, err := zapcore.ParseLevel(cfg.Logging.Level); err == nil {
		zc.Level = zap.NewAtomicLevelAt(level)
	}

	if logPath, err := cfg.LogPath(); err == nil && logPath != "" {
		if err := os.MkdirAll(filepath.Dir(logPath), 0700); err == nil {
			zc.OutputPaths = []string{logPath}
			zc.ErrorOutputPaths = []string{logPath}
		}
	}

	logger, err := zc.Build()
	if err != nil {
		// Fallback to stderr if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}

// cliLogger is used by short-lived commands; only warnings reach the terminal.
func cliLogger() *zap.Logger {
	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	logger, err := zc.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// connect returns a client for the registered daemon.
func connect(cfg *config.Config, logger *zap.Logger) (*client.Client, error) {
	dataDir, err := cfg.DataDir()
	if err != nil {
		return nil, err
	}
	registry := infra.NewFileRegistry(dataDir, infra.NewProcessManager())

	alive, err := registry.IsAlive()
	if err != nil {
		return nil, err
	}
	if !alive {
		return nil, fmt.Errorf("%w; run 'tabmon start'", daemon.ErrNotRunning)
	}
	entry, err := registry.Get()
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, daemon.ErrNotRunning
	}

	opts := client.Options{
		Retries:    uint64(cfg.Client.Retries),
		RetryDelay: cfg.RetryDelay(),
		Timeout:    cfg.ClientTimeout(),
	}
	return client.New(entry.Addr, opts, logger), nil
}

// withClient loads config, connects and runs fn with a bounded context.
func withClient(fn func(ctx context.Context, c *client.Client) error) error {
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

	timeout := cfg.ClientTimeout() * time.Duration(cfg.Client.Retries+2)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err = fn(ctx, c)
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("daemon did not answer within %s", timeout)
	}
	return err
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("tabmon %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
