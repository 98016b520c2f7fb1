package main

import (
	"github.com/spf13/cobra"

	"github.com/fablepress/fable/internal/server/endpoints"
)

var serverURL string

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Commands that call the running server",
	Long: `API commands call the running Fable server via HTTP.

These commands require a running server (fable serve).
Use --server to specify a custom server URL.

Examples:
  fable api health                  # Check server health
  fable api books create --theme ocean --style watercolor --child-name Mia --child-age 6
  fable api books advance <id>      # Run the next generation step`,
}

var booksCmd = &cobra.Command{
	Use:   "books",
	Short: "Storybook management commands",
}

// getServerURL returns the server URL at runtime (after flag parsing).
func getServerURL() string {
	return serverURL
}

func init() {
	// Add --server flag to api command (persistent so all subcommands inherit it)
	apiCmd.PersistentFlags().StringVar(
		&serverURL, "server", "http://localhost:8580", "Server URL",
	)

	// Health endpoints at top level of api
	apiCmd.AddCommand((&endpoints.HealthEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.ReadyEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.StatusEndpoint{}).Command(getServerURL))

	// Books as subcommand group
	booksCmd.AddCommand((&endpoints.CreateBookEndpoint{}).Command(getServerURL))
	booksCmd.AddCommand((&endpoints.UploadInputsEndpoint{}).Command(getServerURL))
	booksCmd.AddCommand((&endpoints.AdvanceEndpoint{}).Command(getServerURL))
	booksCmd.AddCommand((&endpoints.GetBookEndpoint{}).Command(getServerURL))
	booksCmd.AddCommand((&endpoints.ListBooksEndpoint{}).Command(getServerURL))
	booksCmd.AddCommand((&endpoints.GetDocumentEndpoint{}).Command(getServerURL))

	// Swagger spec fetch at top level
	apiCmd.AddCommand((&endpoints.SwaggerEndpoint{}).Command(getServerURL))

	apiCmd.AddCommand(booksCmd)
	rootCmd.AddCommand(apiCmd)
}
