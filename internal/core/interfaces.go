package core

import "context"

// NetworkHook performs the real network I/O for guest fetch() calls. It is
// called on its own goroutine; ctx is cancelled when the guest aborts the
// request or the run ends.
type NetworkHook interface {
	Fetch(ctx context.Context, input FetchInput, init FetchInit) (*Reply, error)
}

// NetworkHookFunc adapts a plain function to NetworkHook.
type NetworkHookFunc func(ctx context.Context, input FetchInput, init FetchInit) (*Reply, error)

// Fetch calls f.
func (f NetworkHookFunc) Fetch(ctx context.Context, input FetchInput, init FetchInit) (*Reply, error) {
	return f(ctx, input, init)
}

// ConsoleSink receives every guest console call, on the guest goroutine.
type ConsoleSink interface {
	OnConsoleEntry(entry ConsoleEntry)
}

// ConsoleSinkFunc adapts a plain function to ConsoleSink.
type ConsoleSinkFunc func(entry ConsoleEntry)

// OnConsoleEntry calls f.
func (f ConsoleSinkFunc) OnConsoleEntry(entry ConsoleEntry) { f(entry) }
