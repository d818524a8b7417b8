package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fu-foo/fhir-sazare/internal/config"
	"github.com/fu-foo/fhir-sazare/internal/index"
	"github.com/fu-foo/fhir-sazare/internal/platform/middleware"
	"github.com/fu-foo/fhir-sazare/internal/registry"
	"github.com/fu-foo/fhir-sazare/internal/rest"
	"github.com/fu-foo/fhir-sazare/internal/storage"
)

const serverVersion = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "fhir-server",
		Short: "FHIR R4 resource server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the FHIR API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fhir-server %s (FHIR 4.0.1)\n", serverVersion)
		},
	}
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Storage
	ctx := context.Background()
	store, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open resource store")
	}
	defer store.Close()

	ix, err := index.Open(cfg.IndexPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open search index")
	}
	defer ix.Close()
	logger.Info().Str("backend", cfg.StorageBackend).Msg("storage ready")

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M", "32M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "If-Match", "If-None-Exist"},
	}))
	e.Use(middleware.Metrics())
	e.Use(middleware.Auth(cfg.AuthConfig()))
	e.Use(middleware.Audit(logger, registry.New()))

	e.GET("/metrics", middleware.MetricsHandler())

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://" + cfg.Addr()
	}

	server := rest.NewServer(store, ix, logger, rest.Options{
		Version:     serverVersion,
		BaseURL:     baseURL,
		AuthEnabled: cfg.AuthEnabled,
		AuthIssuer:  cfg.JWTIssuer,
	})
	server.RegisterRoutes(e)

	// Graceful shutdown
	go func() {
		addr := cfg.Addr()
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
	return nil
}

// openStore picks the versioned resource store for the configured
// backend. The search index is always a local SQLite database.
func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.StorageBackend {
	case config.BackendPostgres:
		return storage.OpenPostgres(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	default:
		return storage.OpenSQLite(cfg.StorePath)
	}
}
