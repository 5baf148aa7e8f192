package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"notionfast-go/internal/backend/local"
	"notionfast-go/internal/backend/remote"
	"notionfast-go/internal/config"
	"notionfast-go/internal/httpapi"
	"notionfast-go/internal/index"
	"notionfast-go/internal/logs"
	"notionfast-go/internal/observability"
	"notionfast-go/internal/router"
	"notionfast-go/internal/server"
	"notionfast-go/internal/storage"
	"notionfast-go/internal/tokencache"
	"notionfast-go/internal/truncate"
)

var (
	configFile string
	dataDir    string
	debugAddr  string
	logLevel   string
	logToFile  bool
	logDir     string

	version = "v0.1.0" // Injected by -ldflags during build
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "notionfast",
		Short:   "MCP request router and tiered read cache for the Notion tool surface",
		Version: version,
		RunE:    runServer,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "Data directory path (default: ~/.notionfast)")
	rootCmd.PersistentFlags().StringVar(&debugAddr, "debug-addr", "", "Debug HTTP listen address (default: disabled)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logToFile, "log-to-file", true, "Enable logging to a rotating file under the data directory")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Custom log directory path")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if cfg.Logging == nil {
		cfg.Logging = logs.DefaultLogConfig()
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	cfg.Logging.EnableFile = logToFile
	if logDir != "" {
		cfg.Logging.LogDir = logDir
	}

	logger, err := logs.SetupLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("Starting notionfast",
		zap.String("version", version),
		zap.String("data_dir", cfg.DataDir),
		zap.Bool("cache_enabled", cfg.Cache.Enabled),
		zap.Bool("local_db_enabled", cfg.LocalDB.Enabled && cfg.LocalDB.TrustEnabled),
		zap.Bool("journal_enabled", cfg.Journal != nil && cfg.Journal.Enabled),
		zap.String("debug_addr", cfg.DebugAddr))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observability.NewManager(logger.Sugar(), observabilityConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := obs.Close(closeCtx); err != nil {
			logger.Warn("Observability shutdown error", zap.Error(err))
		}
	}()

	journal, err := openJournal(cfg, logger)
	if err != nil {
		return err
	}
	if journal != nil {
		defer func() {
			if err := journal.Close(); err != nil {
				logger.Warn("Journal close error", zap.Error(err))
			}
		}()
	}

	toolIndex, err := index.New(logger)
	if err != nil {
		return fmt.Errorf("failed to create tool index: %w", err)
	}
	defer func() {
		if err := toolIndex.Close(); err != nil {
			logger.Warn("Tool index close error", zap.Error(err))
		}
	}()

	fast, err := local.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create fast backend: %w", err)
	}
	official, err := remote.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create official backend: %w", err)
	}

	opts := []router.Option{
		router.WithObservability(obs),
		router.WithToolIndex(toolIndex),
		router.WithTokenStatus(tokenStatus(cfg)),
	}
	if journal != nil {
		opts = append(opts, router.WithJournal(journal))
	}
	rt := router.New(fast, official, logger, opts...)

	if err := rt.Start(ctx); err != nil {
		return fmt.Errorf("failed to start router: %w", err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Error("Router shutdown error", zap.Error(err))
		}
	}()

	registerHealthCheckers(obs, rt, journal, toolIndex)

	if cfg.DebugAddr != "" {
		debugServer := httpapi.NewServer(rt, journal, logger, obs)
		if err := debugServer.Start(cfg.DebugAddr); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := debugServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Debug server shutdown error", zap.Error(err))
			}
		}()
	}

	srv := server.New(rt, logger, version)
	if err := srv.Serve(ctx); err != nil {
		return err
	}

	logger.Info("Shutting down")
	return nil
}

// loadConfig loads configuration from the environment, or from a config file
// when one is given, then applies command line overrides.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if dataDir != "" {
		cfg.DataDir = dataDir
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create data directory %s: %w", cfg.DataDir, err)
		}
	}
	if debugAddr != "" {
		cfg.DebugAddr = debugAddr
	}

	return cfg, nil
}

// observabilityConfig maps the tracing section onto the observability
// defaults. Health and metrics are always on; the debug listener decides
// whether they are reachable.
func observabilityConfig(cfg *config.Config) observability.Config {
	obsConfig := observability.DefaultConfig("notionfast", version)
	if cfg.Tracing != nil {
		obsConfig.Tracing.Enabled = cfg.Tracing.Enabled
		obsConfig.Tracing.OTLPEndpoint = cfg.Tracing.Endpoint
		obsConfig.Tracing.SampleRate = cfg.Tracing.SampleRate
	}
	return obsConfig
}

// openJournal opens the call journal when enabled. A missing token counter
// downgrades to byte-only truncation accounting.
func openJournal(cfg *config.Config, logger *zap.Logger) (*storage.Journal, error) {
	if cfg.Journal == nil || !cfg.Journal.Enabled {
		return nil, nil
	}

	counter, err := truncate.NewCounter()
	if err != nil {
		logger.Warn("Token counter unavailable, journal records will not carry token counts", zap.Error(err))
	}

	journal, err := storage.Open(cfg.DataDir, truncate.New(0, counter), storage.Options{
		MaxRecords: cfg.Journal.MaxRecords,
		MaxAge:     time.Duration(cfg.Journal.MaxAgeHours) * time.Hour,
	}, logger.Sugar())
	if err != nil {
		return nil, fmt.Errorf("failed to open call journal: %w", err)
	}
	return journal, nil
}

// tokenStatus builds the token cache inspection used by proxy_status.
func tokenStatus(cfg *config.Config) func() []tokencache.FileStatus {
	return func() []tokencache.FileStatus {
		hash := tokencache.URLHash(cfg.Remote.URL)
		paths := tokencache.Discover(cfg.TokenCacheDir(), hash)
		statuses := make([]tokencache.FileStatus, 0, len(paths))
		for _, path := range paths {
			statuses = append(statuses, tokencache.Inspect(path))
		}
		return statuses
	}
}

// registerHealthCheckers wires the readiness and health probes served on the
// debug listener. The router state gates readiness only: a degraded router
// still serves reads and must not be restarted for it.
func registerHealthCheckers(obs *observability.Manager, rt *router.Router, journal *storage.Journal, toolIndex *index.Index) {
	health := obs.Health()
	if health == nil {
		return
	}

	health.AddReadinessChecker(observability.NewConditionChecker(
		"router", "router is not ready to serve", func() bool {
			state := rt.State()
			return state == router.StateReady || state == router.StateDegradedReadOnly
		}))

	if journal != nil {
		journalProbe := observability.NewProbeChecker("journal", func(_ context.Context) error {
			_, err := journal.Count()
			return err
		})
		health.AddHealthChecker(journalProbe)
		health.AddReadinessChecker(journalProbe)
	}

	indexProbe := observability.NewProbeChecker("index", func(_ context.Context) error {
		_, err := toolIndex.DocCount()
		return err
	})
	health.AddHealthChecker(indexProbe)
	health.AddReadinessChecker(indexProbe)
}
