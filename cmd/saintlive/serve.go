package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/saint-community/realtime/internal/config"
	"github.com/saint-community/realtime/pkg/server"
	"github.com/saint-community/realtime/pkg/store"
	"github.com/saint-community/realtime/pkg/upload"
)

func serveCmd() *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the realtime feed server",
		Long: `Start the WebSocket feed server.

Configuration comes from SAINTLIVE_-prefixed environment variables,
with a .env file honored in development. Without SAINTLIVE_DATABASE_URL
the server runs on an in-memory store, for development only.

Examples:
  saintlive serve
  saintlive serve --address=:9000
  SAINTLIVE_DATABASE_URL=postgres://... saintlive serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(address)
		},
	}

	cmd.Flags().StringVarP(&address, "address", "a", "", "Listen address (overrides SAINTLIVE_ADDRESS)")

	return cmd
}

func runServe(address string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if address != "" {
		cfg.Address = address
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	gw, err := openGateway(cfg, logger)
	if err != nil {
		return err
	}
	defer gw.Close()

	srv := server.New(&server.Config{
		Address:           cfg.Address,
		ReconcileInterval: cfg.ReconcileInterval,
	}, gw)

	uploads, err := openUploads(cfg)
	if err != nil {
		return err
	}
	srv.SetUploads(uploads)

	return srv.Run()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func openGateway(cfg *config.Config, logger *slog.Logger) (store.Gateway, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("no database configured, using in-memory store")
		return store.NewMemory(), nil
	}
	return store.OpenPostgres(cfg.DatabaseURL, logger,
		store.WithSessionTTL(cfg.SessionTTL),
		store.WithSweepInterval(cfg.SessionSweepInterval),
	)
}

func openUploads(cfg *config.Config) (upload.Store, error) {
	switch cfg.UploadBackend {
	case "s3":
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			return nil, fmt.Errorf("aws config: %w", err)
		}
		client := s3.NewFromConfig(awsCfg)
		return upload.NewS3Store(client, cfg.S3Bucket, cfg.S3Prefix, cfg.UploadMaxSize), nil
	default:
		return upload.NewDiskStore(cfg.UploadDir, cfg.UploadBaseURL, cfg.UploadMaxSize)
	}
}
