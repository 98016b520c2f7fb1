package api

import (
	"net/http"

	"github.com/spf13/cobra"
)

// Endpoint is one API operation with both of its faces: the HTTP route the
// fable server mounts, and the cobra subcommand that calls that route from
// the CLI. Implementing the pair on a single type keeps the two surfaces
// from drifting apart.
type Endpoint interface {
	// Route returns the HTTP method, path pattern and handler to mount.
	Route() (method, path string, handler http.HandlerFunc)

	// RequiresInit reports whether the handler needs the fully started
	// server behind it (DefraDB reachable, executor built).
	RequiresInit() bool

	// Command builds the CLI counterpart. The server URL comes through
	// getServerURL at run time, after flags have been parsed.
	Command(getServerURL func() string) *cobra.Command
}
