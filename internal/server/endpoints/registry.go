package endpoints

import (
	"github.com/fablepress/fable/internal/api"
	"github.com/fablepress/fable/internal/defra"
)

// Config holds dependencies needed by some endpoints.
type Config struct {
	DefraManager    *defra.DockerManager
	SwaggerSpecPath string
}

// All returns all endpoint instances.
func All(cfg Config) []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},
		&StatusEndpoint{DefraManager: cfg.DefraManager},

		// Book endpoints
		&CreateBookEndpoint{},
		&UploadInputsEndpoint{},
		&AdvanceEndpoint{},
		&GetBookEndpoint{},
		&ListBooksEndpoint{},
		&GetDocumentEndpoint{},

		// Swagger/OpenAPI endpoints
		&SwaggerEndpoint{SpecPath: cfg.SwaggerSpecPath},
		&SwaggerUIEndpoint{},
	}
}
