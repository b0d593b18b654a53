package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gridxfer/internal/core"
	"gridxfer/internal/server/api"
	"gridxfer/internal/server/config"
	"gridxfer/internal/server/database"
	"gridxfer/internal/server/service"
	"gridxfer/internal/server/storage"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

var envFile string

func main() {
	root := &cobra.Command{
		Use:           "server",
		Short:         "GridFTP transfer log ingestion and statistics service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	sites := &cobra.Command{Use: "sites", Short: "Manage the site address table"}
	sites.AddCommand(
		&cobra.Command{
			Use:   "import <sites.yaml>",
			Short: "Replace the site address table with the contents of a YAML file",
			Args:  cobra.ExactArgs(1),
			RunE:  runSitesImport,
		},
		&cobra.Command{
			Use:   "list",
			Short: "Print the site address table",
			Args:  cobra.NoArgs,
			RunE:  runSitesList,
		},
	)

	archive := &cobra.Command{Use: "archive", Short: "Inspect the raw transfer log archive"}
	archive.AddCommand(&cobra.Command{
		Use:   "path <sha1hash>",
		Short: "Print the archived file of an ingested log",
		Args:  cobra.ExactArgs(1),
		RunE:  runArchivePath,
	})

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP service (default)",
			Args:  cobra.NoArgs,
			RunE:  runServe,
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply pending database migrations",
			Args:  cobra.NoArgs,
			RunE:  runMigrate,
		},
		sites,
		archive,
		&cobra.Command{
			Use:   "hash-password [password]",
			Short: "Print a bcrypt hash for an UPLOAD_USERS entry",
			Args:  cobra.MaximumNArgs(1),
			RunE:  runHashPassword,
		},
	)

	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// setup loads configuration and installs the JSON logger.
func setup() (*config.Config, error) {
	if err := config.LoadEnvFile(envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)
	return cfg, nil
}

func connect(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	slog.Info("configuration loaded",
		"port", cfg.Port,
		"max_upload_size", cfg.MaxUploadSize,
		"ingest_batch_size", cfg.IngestBatchSize,
		"upload_auth", len(cfg.UploadUsers) > 0,
		"archive_path", cfg.ArchivePath,
	)

	ctx := context.Background()
	db, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.AutoMigrate {
		n, err := db.RunMigrations(ctx)
		if err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		slog.Info("database migrations complete", "applied", n)
	}

	repo := database.NewRepository(db, cfg.IngestBatchSize)

	// Optional raw log archive
	var archive storage.Store
	var cleanup *storage.CleanupService
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	if cfg.ArchivePath != "" {
		store := storage.NewFileSystemStore(cfg.ArchivePath)
		if err := store.EnsureDir(); err != nil {
			return fmt.Errorf("failed to initialize archive: %w", err)
		}
		archive = store
		slog.Info("log archive initialized", "path", cfg.ArchivePath, "retention", cfg.ArchiveRetention)

		if cfg.ArchiveRetention > 0 {
			cleanup = storage.NewCleanupService(store, cfg.ArchiveRetention, cfg.CleanupInterval)
			cleanup.Start(cleanupCtx)
		}
	}

	ingest := service.NewIngestService(repo, archive)
	stats := service.NewStatsService(repo)

	handler := api.NewHandler(ingest, stats, db, cfg.MaxUploadSize)
	e, limiter := api.SetupRouter(handler, cfg)
	defer limiter.Stop()

	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		slog.Info("starting server", "addr", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server stopped", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutting down", "signal", sig)

	// Let in-flight uploads finish, up to 30s
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	if cleanup != nil {
		cleanupCancel()
		cleanup.Wait()
	}

	slog.Info("server exited cleanly")
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	db, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := db.RunMigrations(ctx)
	if err != nil {
		return err
	}
	slog.Info("database migrations complete", "applied", n)
	return nil
}

func runSitesImport(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}

	sites, err := config.LoadSiteFile(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	db, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	rows := make([]database.Site, 0, len(sites))
	hosts := 0
	for _, s := range sites {
		rows = append(rows, database.Site{Name: s.Name, Hosts: s.Hosts})
		hosts += len(s.Hosts)
	}

	if err := database.NewRepository(db, cfg.IngestBatchSize).ReplaceSites(ctx, rows); err != nil {
		return err
	}
	slog.Info("site addresses imported", "file", args[0], "sites", len(rows), "hosts", hosts)
	return nil
}

func runSitesList(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	db, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	sites, err := database.NewRepository(db, cfg.IngestBatchSize).ListSites(ctx)
	if err != nil {
		return err
	}
	for _, s := range sites {
		fmt.Printf("%s\t%s\n", s.Name, strings.Join(s.Hosts, ","))
	}
	return nil
}

func runArchivePath(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	if cfg.ArchivePath == "" {
		return errors.New("ARCHIVE_PATH is not set")
	}

	digest, err := core.NormalizeDigest(args[0])
	if err != nil {
		return err
	}

	path, err := storage.NewFileSystemStore(cfg.ArchivePath).GetPath(digest)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

func runHashPassword(cmd *cobra.Command, args []string) error {
	var password string
	if len(args) == 1 {
		password = args[0]
	} else {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("failed to read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if password == "" {
		return errors.New("empty password")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(hash))
	return nil
}
