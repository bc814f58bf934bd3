package core

import "context"

// Backend is implemented by each guest engine. The root Runner facade
// delegates to the backend selected by build tags.
type Backend interface {
	// Run executes one script in a fresh guest and tears the guest down.
	// The error return is reserved for failures to build the guest; script
	// failures are reported in RunResult.Error.
	Run(ctx context.Context, req *RunRequest) (*RunResult, error)

	// Shutdown releases any pre-warmed guests.
	Shutdown()

	// Name identifies the engine ("quickjs" or "v8").
	Name() string
}
