// Package server runs the Fable HTTP server and owns the lifecycle of its
// dependencies: the DefraDB container, the manifest store, the provider
// gateway and the step executor.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/fablepress/fable/internal/api"
	"github.com/fablepress/fable/internal/assembler"
	"github.com/fablepress/fable/internal/config"
	"github.com/fablepress/fable/internal/defra"
	"github.com/fablepress/fable/internal/home"
	"github.com/fablepress/fable/internal/manifest"
	"github.com/fablepress/fable/internal/pipeline"
	"github.com/fablepress/fable/internal/providers"
	"github.com/fablepress/fable/internal/server/endpoints"
	"github.com/fablepress/fable/internal/storage"
	"github.com/fablepress/fable/internal/svcctx"
)

// Server is the main Fable HTTP server.
// It manages the DefraDB container lifecycle - starting it on server start
// and stopping it on server shutdown.
type Server struct {
	httpServer   *http.Server
	defraManager *defra.DockerManager
	defraClient  *defra.Client
	manifests    *manifest.Store
	executor     *pipeline.Executor
	gateway      *providers.Gateway
	configMgr    *config.Manager
	homeDir      *home.Dir
	logger       *slog.Logger

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8580)
	Port string
	// Home is the fable home directory
	Home *home.Dir
	// DefraDataPath is the path to persist DefraDB data
	DefraDataPath string
	// ConfigManager provides configuration with hot-reload support
	ConfigManager *config.Manager
	// SwaggerSpecPath points at the generated OpenAPI spec
	SwaggerSpecPath string
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ConfigManager == nil {
		return nil, fmt.Errorf("server requires a config manager")
	}
	if cfg.Home == nil {
		return nil, fmt.Errorf("server requires a home directory")
	}

	fableCfg := cfg.ConfigManager.Get()
	if cfg.Port == "" {
		cfg.Port = fableCfg.Server.Port
	}

	defraManager, err := defra.NewDockerManager(defra.DockerConfig{
		ContainerName: fableCfg.Defra.ContainerName,
		Image:         fableCfg.Defra.Image,
		HostPort:      fableCfg.Defra.Port,
		DataPath:      cfg.DefraDataPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create defra manager: %w", err)
	}

	s := &Server{
		defraManager: defraManager,
		configMgr:    cfg.ConfigManager,
		homeDir:      cfg.Home,
		logger:       cfg.Logger,
		gateway:      buildGateway(fableCfg, cfg.Logger),
	}

	// Rebuild the gateway when the config file changes. The executor resolves
	// its gateway per step, so re-pointing it here is enough for the next
	// advance to use the new credentials and models.
	cfg.ConfigManager.OnChange(func(c *config.Config) {
		gw := buildGateway(c, s.logger)
		s.mu.Lock()
		s.gateway = gw
		if s.services != nil {
			s.services.Gateway = gw
		}
		exec := s.executor
		s.mu.Unlock()
		if exec != nil {
			exec.SetGateway(gw)
		}
		s.logger.Info("provider gateway reloaded from config")
	})

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All(endpoints.Config{
		DefraManager:    defraManager,
		SwaggerSpecPath: cfg.SwaggerSpecPath,
	}) {
		s.endpointRegistry.Register(ep)
	}

	// Set up HTTP server
	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:    net.JoinHostPort(cfg.Host, cfg.Port),
		Handler: s.withServices(mux),
		// Write timeout has to cover the synchronous fallback image backend,
		// which blocks for a whole generation.
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// buildGateway constructs the provider gateway from config, resolving
// ${ENV_VAR} references in credentials at construction time.
func buildGateway(c *config.Config, logger *slog.Logger) *providers.Gateway {
	gw := &providers.Gateway{
		Story: providers.NewOpenAIStoryClient(providers.OpenAIStoryConfig{
			APIKey: config.ResolveEnvVars(c.Story.APIKey),
			Models: c.Story.Models,
		}),
		Fallback: providers.NewOpenAIImageClient(providers.OpenAIImageConfig{
			APIKey: config.ResolveEnvVars(c.Images.Fallback.APIKey),
			Model:  c.Images.Fallback.Model,
			Size:   c.Images.Fallback.Size,
		}),
	}

	if token := config.ResolveEnvVars(c.Images.Primary.APIToken); token != "" {
		gw.Primary = providers.NewReplicateClient(providers.ReplicateConfig{
			APIToken:     token,
			Model:        c.Images.Primary.Model,
			PollInterval: time.Duration(c.Images.Primary.PollIntervalSeconds) * time.Second,
		})
	} else {
		logger.Info("no primary image backend token configured, using synchronous fallback")
	}

	return gw
}

// Start starts the server and DefraDB.
// It blocks until the context is cancelled or an error occurs.
// If an existing DefraDB container exists, it validates the configuration matches.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	// Validate any existing container matches our config
	if err := s.defraManager.ValidateExisting(ctx); err != nil {
		s.setNotRunning()
		return fmt.Errorf("existing DefraDB container incompatible: %w", err)
	}

	// Start DefraDB
	s.logger.Info("starting DefraDB")
	if err := s.defraManager.Start(ctx); err != nil {
		s.setNotRunning()
		return fmt.Errorf("failed to start DefraDB: %w", err)
	}

	// Create client after DefraDB is up
	s.defraClient = defra.NewClient(s.defraManager.URL())

	// Verify DefraDB is healthy
	if err := s.defraClient.HealthCheck(ctx); err != nil {
		_ = s.shutdown() // Clean up DefraDB on failure
		return fmt.Errorf("DefraDB health check failed: %w", err)
	}
	s.logger.Info("DefraDB is ready", "url", s.defraManager.URL())

	// Initialize the manifest schema
	remote := manifest.NewRemote(s.defraClient)
	if err := remote.EnsureSchema(ctx); err != nil {
		_ = s.shutdown()
		return fmt.Errorf("schema initialization failed: %w", err)
	}

	fableCfg := s.configMgr.Get()

	cache, err := manifest.NewCache(s.homeDir.ManifestCacheDir())
	if err != nil {
		_ = s.shutdown()
		return fmt.Errorf("failed to create manifest cache: %w", err)
	}

	manifests, err := manifest.NewStore(manifest.StoreConfig{
		Cache:         cache,
		Remote:        remote,
		RequireRemote: fableCfg.Persistence.RequireRemote,
		Logger:        s.logger,
	})
	if err != nil {
		_ = s.shutdown()
		return fmt.Errorf("failed to create manifest store: %w", err)
	}
	s.manifests = manifests

	artifactStore := storage.NewClient(storage.Config{
		BaseURL:    fableCfg.Storage.BaseURL,
		Bucket:     fableCfg.Storage.Bucket,
		ServiceKey: config.ResolveEnvVars(fableCfg.Storage.ServiceKey),
		Logger:     s.logger,
	})

	s.mu.RLock()
	gateway := s.gateway
	s.mu.RUnlock()

	executor, err := pipeline.New(pipeline.Config{
		Store:   manifests,
		Gateway: gateway,
		Home:    s.homeDir,
		Storage: artifactStore,
		Document: assembler.New(assembler.Config{
			Form:   fableCfg.Pipeline.DocumentForm,
			Logger: s.logger,
		}),
		WatchdogMaxAge:    time.Duration(fableCfg.Pipeline.WatchdogMinutes) * time.Minute,
		MaxSubmitAttempts: fableCfg.Pipeline.MaxSubmitAttempts,
		Logger:            s.logger,
	})
	if err != nil {
		_ = s.shutdown()
		return fmt.Errorf("failed to create step executor: %w", err)
	}

	// Publish the executor and services under the lock so the config-change
	// callback sees a consistent pair.
	s.mu.Lock()
	s.executor = executor
	s.services = &svcctx.Services{
		Config:      s.configMgr,
		DefraClient: s.defraClient,
		Manifests:   manifests,
		Gateway:     s.gateway,
		Executor:    executor,
		Storage:     artifactStore,
		Logger:      s.logger,
		Home:        s.homeDir,
	}
	s.mu.Unlock()

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown() // Clean up DefraDB on HTTP error
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// shutdown performs graceful shutdown of both HTTP server and DefraDB.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	// Shutdown HTTP server with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	// Stop DefraDB
	s.logger.Info("stopping DefraDB")
	if err := s.defraManager.Stop(shutdownCtx); err != nil {
		s.logger.Error("DefraDB stop error", "error", err)
	}

	// Close Docker client
	if err := s.defraManager.Close(); err != nil {
		s.logger.Error("DefraDB manager close error", "error", err)
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// DefraClient returns the DefraDB client.
// Returns nil if the server hasn't started yet.
func (s *Server) DefraClient() *defra.Client {
	return s.defraClient
}

// Manifests returns the manifest store.
// Returns nil if the server hasn't started yet.
func (s *Server) Manifests() *manifest.Store {
	return s.manifests
}

// Executor returns the step executor.
// Returns nil if the server hasn't started yet.
func (s *Server) Executor() *pipeline.Executor {
	return s.executor
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// withServices wraps a handler to enrich the request context with services
// and the requesting principal's identity. Remote manifest reads issued from
// this request then act as that principal, with the store falling back to the
// server's privileged identity when the principal cannot see the document.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		s.mu.RLock()
		services := s.services
		s.mu.RUnlock()
		if services != nil {
			ctx = svcctx.WithServices(ctx, services)
		}
		if owner := r.Header.Get(api.OwnerHeader); owner != "" {
			ctx = defra.WithIdentity(ctx, owner)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the server is fully initialized.
// Returns 503 Service Unavailable if DefraDB or the executor aren't ready.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.defraClient == nil || s.executor == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
