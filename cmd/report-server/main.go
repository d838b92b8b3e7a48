package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/reports/internal/analytics"
	"github.com/ehr/reports/internal/analytics/catalog"
	"github.com/ehr/reports/internal/config"
	stats "github.com/ehr/reports/internal/platform/analytics"
	"github.com/ehr/reports/internal/platform/auth"
	"github.com/ehr/reports/internal/platform/db"
	"github.com/ehr/reports/internal/platform/middleware"
	"github.com/ehr/reports/internal/platform/reporting"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "report-server",
		Short:        "Facility reporting analytics server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(typesCmd())
	rootCmd.AddCommand(catalogCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the report API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func generateCmd() *cobra.Command {
	var (
		reportType string
		params     []string
		asOf       string
		roles      []string
		facility   string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate one report and write it to stdout as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parseParams(params)
			if err != nil {
				return err
			}
			req := analytics.Request{
				Type:     reportType,
				Params:   p,
				Identity: analytics.Identity{UserID: "cli", Roles: roles, Facility: facility},
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			loc, _ := cfg.Location()
			if asOf != "" {
				if req.AsOf, err = time.ParseInLocation("2006-01-02", asOf, loc); err != nil {
					return fmt.Errorf("--as-of: %w", err)
				}
			}

			logger := newLogger(cfg.Env, os.Stderr)
			ctx, cancel := context.WithTimeout(logger.WithContext(cmd.Context()), cfg.QueryTimeout)
			defer cancel()

			engine, src, err := buildEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer src.Close()

			doc, err := engine.Generate(ctx, req)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(doc)
		},
	}
	cmd.Flags().StringVar(&reportType, "type", "", "report type")
	cmd.Flags().StringArrayVar(&params, "param", nil, "filter parameter as key=value (repeatable)")
	cmd.Flags().StringVar(&asOf, "as-of", "", "reference date for default ranges (YYYY-MM-DD)")
	cmd.Flags().StringSliceVar(&roles, "role", []string{analytics.RoleAdmin}, "roles of the requesting identity")
	cmd.Flags().StringVar(&facility, "facility", "", "restrict the report to one facility")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func typesCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "types",
		Short: "List the report types in the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := loadCatalog(file)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TYPE\tTITLE\tROLES")
			for _, r := range cat.Types() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", r.Type, r.Title, strings.Join(r.Roles, ","))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&file, "file", os.Getenv("REPORT_CATALOG"), "catalog YAML file (default: embedded catalog)")
	return cmd
}

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Report catalog commands",
	}

	var file string
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a report catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := loadCatalog(file)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "catalog ok: %d report types\n", len(cat.Types()))
			return nil
		},
	}
	validateCmd.Flags().StringVar(&file, "file", os.Getenv("REPORT_CATALOG"), "catalog YAML file (default: embedded catalog)")
	cmd.AddCommand(validateCmd)
	return cmd
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Logger
	logger := newLogger(cfg.Env, os.Stdout)

	// Database and engine
	ctx := context.Background()
	engine, src, err := buildEngine(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize report engine")
	}
	defer src.Close()
	logger.Info().Str("driver", cfg.DBDriver).Msg("connected to database")

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}

	// Health
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(src))

	// Reports
	apiV1 := e.Group("/api/v1", middleware.RequestTimeout(cfg.QueryTimeout+5*time.Second))
	reporting.NewHandler(engine, stats.NewTracker(0), cfg.QueryTimeout).RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newLogger(env string, out io.Writer) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	return catalog.LoadFile(path)
}

func buildEngine(ctx context.Context, cfg *config.Config) (*analytics.Engine, db.Source, error) {
	cat, err := loadCatalog(cfg.ReportCatalog)
	if err != nil {
		return nil, nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, nil, err
	}
	src, err := db.Open(ctx, cfg.DBDriver, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	engine := analytics.NewEngine(cat, src,
		analytics.WithLocation(loc),
		analytics.WithListingLimit(cfg.ListingLimit),
	)
	return engine, src, nil
}

// parseParams turns repeated key=value flags into a parameter map. A key
// given twice accumulates comma-separated values.
func parseParams(raw []string) (map[string]string, error) {
	params := make(map[string]string, len(raw))
	for _, kv := range raw {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --param %q: want key=value", kv)
		}
		if prev, dup := params[k]; dup {
			v = prev + "," + v
		}
		params[k] = v
	}
	return params, nil
}
