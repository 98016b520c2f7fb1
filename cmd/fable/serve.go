package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fablepress/fable/internal/config"
	"github.com/fablepress/fable/internal/home"
	"github.com/fablepress/fable/internal/server"
	"github.com/fablepress/fable/internal/server/endpoints"
)

var (
	serveHost string
	servePort string
	logLevel  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the fable API server",
	Long: `Start the fable API server. The server manages an embedded DefraDB
instance for durable manifest storage and drives the storybook pipeline
one step at a time as clients poll.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "host address to bind to")
	serveCmd.Flags().StringVar(&servePort, "port", "", "port to listen on (default from config)")
	serveCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger(logLevel)
	slog.SetDefault(logger)

	h, err := home.New(homeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve home directory: %w", err)
	}
	if err := h.EnsureExists(); err != nil {
		return fmt.Errorf("failed to create home directory: %w", err)
	}

	cfgPath := cfgFile
	if cfgPath == "" && h.ConfigExists() {
		cfgPath = h.ConfigPath()
	}
	cfgMgr, err := config.NewManager(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfgMgr.WatchConfig()

	defraDataPath := filepath.Join(h.Path(), "defradb")
	if err := os.MkdirAll(defraDataPath, 0o755); err != nil {
		return fmt.Errorf("failed to create defradb data directory: %w", err)
	}

	srv, err := server.New(server.Config{
		Host:            serveHost,
		Port:            servePort,
		Home:            h,
		DefraDataPath:   defraDataPath,
		ConfigManager:   cfgMgr,
		SwaggerSpecPath: endpoints.GetSwaggerSpecPath(),
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	return srv.Start(cmd.Context())
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
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
