package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/drg/internal/config"
	"github.com/ehr/drg/internal/domain/drg"
	"github.com/ehr/drg/internal/platform/auth"
	"github.com/ehr/drg/internal/platform/broadcast"
	"github.com/ehr/drg/internal/platform/db"
	"github.com/ehr/drg/internal/platform/middleware"
	"github.com/ehr/drg/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "drg-server",
		Short:        "DRG catalog and matching server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(matchCmd())
	rootCmd.AddCommand(catalogCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the DRG API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the catalog database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg, os.Stderr)

			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrations.FS, logger).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS, zerolog.Nop()).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	})

	return cmd
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func matchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Match one patient record against the catalog and print the result as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			patientPath, _ := cmd.Flags().GetString("patient")
			explain, _ := cmd.Flags().GetBool("explain")

			patient, err := readPatient(patientPath, cmd.InOrStdin())
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg, os.Stderr)

			svc, cleanup, err := buildService(cmd.Context(), cfg, logger, broadcast.Nop{})
			if err != nil {
				return err
			}
			defer cleanup()

			if explain {
				exp, err := svc.Explain(cmd.Context(), patient)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), exp)
			}
			result, version, err := svc.Match(cmd.Context(), patient)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), drg.MatchResponse{CatalogVersion: version, Result: result})
		},
	}
	cmd.Flags().String("patient", "-", "Path to a patient JSON file, or - for stdin")
	cmd.Flags().Bool("explain", false, "Print every record that matched and how")
	return cmd
}

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect and export the DRG catalog",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Load the catalog and print its statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			svc, cleanup, err := buildService(cmd.Context(), cfg, newLogger(cfg, os.Stderr), broadcast.Nop{})
			if err != nil {
				return err
			}
			defer cleanup()
			return writeJSON(cmd.OutOrStdout(), svc.Info())
		},
	})

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write the parsed catalog to a Parquet file",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")
			if out == "" {
				return fmt.Errorf("--out is required")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			svc, cleanup, err := buildService(cmd.Context(), cfg, newLogger(cfg, os.Stderr), broadcast.Nop{})
			if err != nil {
				return err
			}
			defer cleanup()

			n, err := drg.ExportParquet(svc.CurrentCatalog(), out)
			if err != nil {
				return fmt.Errorf("export catalog: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d entries to %s\n", n, out)
			return nil
		},
	}
	exportCmd.Flags().String("out", "", "Destination .parquet file")
	cmd.AddCommand(exportCmd)

	return cmd
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Peer reload broadcast
	var notifier drg.ReloadNotifier = broadcast.Nop{}
	var bc *broadcast.RedisBroadcaster
	if cfg.RedisURL != "" {
		bc, err = broadcast.NewRedis(ctx, broadcast.Config{URL: cfg.RedisURL, Channel: cfg.ReloadChannel}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer bc.Close()
		notifier = bc
		logger.Info().Str("channel", bc.Channel()).Str("instance_id", bc.InstanceID()).Msg("reload broadcast enabled")
	}

	store, pool, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open catalog store")
	}
	if pool != nil {
		defer pool.Close()
		logger.Info().Msg("connected to database")
	}

	svc, err := newService(ctx, cfg, store, logger, notifier)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load drg catalog")
	}
	info := svc.Info()
	logger.Info().Str("version", info.Version).Int("records", info.RecordCount).Msg("drg catalog loaded")

	if bc != nil {
		go func() {
			err := bc.Listen(ctx, func(ctx context.Context, msg broadcast.Message) {
				if err := svc.ReloadFromPeer(ctx, msg.Version); err != nil {
					logger.Warn().Err(err).Str("peer", msg.InstanceID).Msg("peer-triggered reload failed")
				}
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("reload listener stopped")
			}
		}()
	}
	svc.StartAutoReload(ctx, cfg.CatalogReloadInterval)

	e := newServer(cfg, svc, pool, logger)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer builds the echo instance with the global middleware, health checks and the
// authenticated /api/v1 routes. pool is nil when the catalog comes from a file.
func newServer(cfg *config.Config, svc *drg.Service, pool *pgxpool.Pool, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.BatchBodyLimit))

	e.GET("/health", func(c echo.Context) error {
		info := svc.Info()
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":          "ok",
			"catalog_version": info.Version,
			"records":         info.RecordCount,
		})
	})
	if pool != nil {
		e.GET("/health/db", db.PoolHealthHandler(pool))
	}

	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() {
		logger.Warn().Msg("development auth enabled, every request runs as admin")
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}
	drg.NewHandler(svc).RegisterRoutes(apiV1)

	return e
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	level, err := cfg.ZerologLevel()
	if err != nil {
		level = zerolog.InfoLevel
	}
	if cfg.IsDev() {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("service", "drg").Logger()
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
}

// openStore prefers CATALOG_FILE over the database. The returned pool is nil for the
// file store.
func openStore(ctx context.Context, cfg *config.Config) (drg.RecordStore, *pgxpool.Pool, error) {
	if cfg.CatalogFile != "" {
		return drg.NewFileRecordStore(cfg.CatalogFile), nil, nil
	}
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return drg.NewRecordStorePG(pool), pool, nil
}

func newService(ctx context.Context, cfg *config.Config, store drg.RecordStore, logger zerolog.Logger, notifier drg.ReloadNotifier) (*drg.Service, error) {
	mode, err := cfg.CodeMatchMode()
	if err != nil {
		return nil, err
	}
	loader, err := drg.NewLoader(ctx, store, logger)
	if err != nil {
		return nil, err
	}
	matcher := drg.NewMatcher(
		drg.WithTopK(cfg.MatchTopK),
		drg.WithCodeMatchMode(mode),
		drg.WithLogger(logger),
	)
	return drg.NewService(loader, matcher, notifier, cfg.MatchBatchLimit, logger), nil
}

// buildService opens the configured store and loads the catalog for one-shot commands.
func buildService(ctx context.Context, cfg *config.Config, logger zerolog.Logger, notifier drg.ReloadNotifier) (*drg.Service, func(), error) {
	store, pool, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if pool != nil {
			pool.Close()
		}
	}
	svc, err := newService(ctx, cfg, store, logger, notifier)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return svc, cleanup, nil
}

// readPatient decodes a patient record from path, or from stdin when path is "-".
func readPatient(path string, stdin io.Reader) (*drg.PatientData, error) {
	var r io.Reader = stdin
	if path != "-" && path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open patient file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var patient drg.PatientData
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patient); err != nil {
		return nil, fmt.Errorf("decode patient: %w", err)
	}
	return &patient, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
