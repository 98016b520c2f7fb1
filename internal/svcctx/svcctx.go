// Package svcctx provides service context for dependency injection via context.
// This package is separate from server to avoid import cycles with endpoints.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/fablepress/fable/internal/config"
	"github.com/fablepress/fable/internal/defra"
	"github.com/fablepress/fable/internal/home"
	"github.com/fablepress/fable/internal/manifest"
	"github.com/fablepress/fable/internal/pipeline"
	"github.com/fablepress/fable/internal/providers"
	"github.com/fablepress/fable/internal/storage"
)

// Services holds all core services that flow through context.
// Components extract what they need via the individual extractors.
type Services struct {
	Config      *config.Manager
	DefraClient *defra.Client
	Manifests   *manifest.Store
	Gateway     *providers.Gateway
	Executor    *pipeline.Executor
	Storage     *storage.Client
	Logger      *slog.Logger
	Home        *home.Dir
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// ConfigFrom extracts the config manager from context.
func ConfigFrom(ctx context.Context) *config.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.Config
	}
	return nil
}

// DefraClientFrom extracts the DefraDB client from context.
func DefraClientFrom(ctx context.Context) *defra.Client {
	if s := ServicesFrom(ctx); s != nil {
		return s.DefraClient
	}
	return nil
}

// ManifestsFrom extracts the manifest store from context.
func ManifestsFrom(ctx context.Context) *manifest.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.Manifests
	}
	return nil
}

// GatewayFrom extracts the provider gateway from context.
func GatewayFrom(ctx context.Context) *providers.Gateway {
	if s := ServicesFrom(ctx); s != nil {
		return s.Gateway
	}
	return nil
}

// ExecutorFrom extracts the step executor from context.
func ExecutorFrom(ctx context.Context) *pipeline.Executor {
	if s := ServicesFrom(ctx); s != nil {
		return s.Executor
	}
	return nil
}

// StorageFrom extracts the object storage client from context.
func StorageFrom(ctx context.Context) *storage.Client {
	if s := ServicesFrom(ctx); s != nil {
		return s.Storage
	}
	return nil
}

// LoggerFrom extracts the logger from context.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil {
		return s.Logger
	}
	return nil
}

// HomeFrom extracts the home directory from context.
func HomeFrom(ctx context.Context) *home.Dir {
	if s := ServicesFrom(ctx); s != nil {
		return s.Home
	}
	return nil
}
