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
	"go.uber.org/zap/zapcore"

	"github.com/anyvol/archiveDB/internal/auth"
	"github.com/anyvol/archiveDB/internal/config"
	"github.com/anyvol/archiveDB/internal/filestore"
	"github.com/anyvol/archiveDB/internal/logging"
	"github.com/anyvol/archiveDB/internal/server"
	"github.com/anyvol/archiveDB/internal/store"
)

var (
	// Global flags
	cfgPath string
	verbose bool

	// Config overrides
	host      string
	port      int
	dbPath    string
	uploadDir string

	// Serve flags
	watchCfg bool

	// create-user flags
	userLogin    string
	userPassword string
	userFullName string
	userRole     string

	cfg      *config.Config
	logger   *zap.Logger
	logLevel zap.AtomicLevel
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "archivedb",
	Short: "ArchiveDB - engineering document registry",
	Long: `ArchiveDB keeps a registry of design and technological documentation.

Documents receive GOST style designations composed from the organization
code, the classification code and a registration number allocated within
that pair. The registry stores the document files and serves a web
interface and a JSON API on one port.

Run without arguments to start the server.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		applyFlagOverrides()
		if err := cfg.Validate(); err != nil {
			return err
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger, logLevel, err = logging.Build(level, cfg.Logging.Format, cfg.Logging.File)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runServe,
}

// serveCmd starts the HTTP server
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the registry server",
	RunE:  runServe,
}

// migrateCmd upgrades the database schema in place
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Upgrade the database schema to the current version",
	Long: `Runs all pending schema migrations against the configured database.

A backup copy of the database file is written next to it before anything
is changed and restored automatically if a migration fails.`,
	RunE: runMigrate,
}

// statusCmd reports schema version and table sizes
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database schema version and row counts",
	RunE:  runStatus,
}

// createUserCmd bootstraps accounts without the HTTP API
var createUserCmd = &cobra.Command{
	Use:   "create-user",
	Short: "Create an account from the command line",
	Long: `Creates a user directly in the database, bypassing the HTTP API.
Useful for bootstrapping the first administrator account.

Example:
  archivedb create-user --login admin --password changeme --role admin`,
	RunE: runCreateUser,
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "Path to the YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&host, "host", "", "Listen host (overrides config)")
	rootCmd.PersistentFlags().IntVar(&port, "port", 0, "Listen port (overrides config)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&uploadDir, "uploads", "", "Upload directory (overrides config)")

	serveCmd.Flags().BoolVar(&watchCfg, "watch-config", true, "Reload logging settings when the config file changes")

	// create-user flags
	createUserCmd.Flags().StringVar(&userLogin, "login", "", "Account login (required)")
	createUserCmd.Flags().StringVar(&userPassword, "password", "", "Account password (required)")
	createUserCmd.Flags().StringVar(&userFullName, "full-name", "", "Full name")
	createUserCmd.Flags().StringVar(&userRole, "role", "user", "Account role (user or admin)")
	createUserCmd.MarkFlagRequired("login")
	createUserCmd.MarkFlagRequired("password")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(createUserCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// applyFlagOverrides maps command line flags over the loaded config.
func applyFlagOverrides() {
	if host != "" {
		cfg.Server.Host = host
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if uploadDir != "" {
		cfg.Storage.UploadDir = uploadDir
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal")
		cancel()
	}()

	if cfg.UsingDefaultSecret() {
		logger.Warn("Using the built-in signing key, set SECRET_KEY before exposing this server")
	}

	st, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer st.Close()

	files, err := filestore.New(cfg.Storage.UploadDir)
	if err != nil {
		return fmt.Errorf("failed to prepare upload directory: %w", err)
	}

	if watchCfg {
		watcher, err := config.NewWatcher(cfgPath, func(next *config.Config) {
			level := next.Logging.Level
			if verbose {
				level = "debug"
			}
			lvl, err := zapcore.ParseLevel(level)
			if err != nil {
				logger.Warn("Ignoring reloaded log level", zap.String("level", level), zap.Error(err))
				return
			}
			logLevel.SetLevel(lvl)
			logger.Info("Config reloaded", zap.String("log_level", level))
		})
		if err != nil {
			logger.Warn("Config watcher unavailable", zap.Error(err))
		} else if err := watcher.Start(ctx); err != nil {
			logger.Warn("Config watcher failed to start", zap.Error(err))
		} else {
			defer watcher.Stop()
		}
	}

	srv := server.New(cfg, st, files, logger)
	return srv.Run(ctx)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(cfg.Database.Path); os.IsNotExist(err) {
		fmt.Printf("No database at %s, it will be created on first start\n", cfg.Database.Path)
		return nil
	}

	needed, current, err := store.CheckMigrationNeeded(cfg.Database.Path)
	if err != nil {
		return err
	}
	if !needed {
		fmt.Printf("Database schema is current (v%d)\n", current)
		return nil
	}

	res, err := store.MigrateDatabase(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	fmt.Printf("✓ Migrated v%d -> v%d (%d steps, %s)\n",
		res.FromVersion, res.ToVersion, res.MigrationsRun, res.Duration.Round(time.Millisecond))
	if res.BackupPath != "" {
		fmt.Printf("  Backup: %s\n", res.BackupPath)
	}
	if res.RowsBackfilled > 0 {
		fmt.Printf("  Backfilled last_update on %d documents\n", res.RowsBackfilled)
	}
	for _, warning := range res.Warnings {
		fmt.Printf("  Warning: %s\n", warning)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	st, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer st.Close()

	stats, err := st.Stats()
	if err != nil {
		return err
	}

	fmt.Printf("Database: %s (schema v%d)\n", cfg.Database.Path, store.GetSchemaVersion(st.DB()))
	for _, table := range []string{
		"users", "organizations", "class_codes_kd", "class_codes_td",
		"documents", "design_documents", "tech_documents",
	} {
		fmt.Printf("  %-18s %d\n", table, stats[table])
	}
	return nil
}

func runCreateUser(cmd *cobra.Command, args []string) error {
	st, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer st.Close()

	hash, err := auth.HashPassword(userPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	id, err := st.CreateUser(store.User{
		Login:        userLogin,
		PasswordHash: hash,
		FullName:     userFullName,
		Role:         userRole,
	})
	if err != nil {
		return err
	}

	fmt.Printf("✓ User %s created (id %d, role %s)\n", userLogin, id, userRole)
	return nil
}
