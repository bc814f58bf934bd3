// Package scriptcage runs untrusted API-client scripts (pre-request and
// test hooks) in an embedded JavaScript guest. Scripts get a Web-shaped
// API: fetch, Request, Response, Headers, AbortController, console,
// crypto, URL, Blob, timers and text encoding. Network I/O is delegated to
// a NetworkHook on the host.
//
// QuickJS is the default engine; build with -tags v8 to run on V8.
package scriptcage

import (
	"context"
	"fmt"
	"maps"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cryguy/scriptcage/internal/core"
)

// Runner executes scripts. It is safe for concurrent use; every run gets
// its own guest.
type Runner struct {
	cfg     Config
	backend core.Backend
	hook    NetworkHook
	sink    ConsoleSink
	log     *zap.Logger
	modules map[string]string
	metrics *Metrics
}

// Option configures a Runner.
type Option func(*Runner)

// WithNetworkHook replaces the default HTTPHook.
func WithNetworkHook(h NetworkHook) Option {
	return func(r *Runner) { r.hook = h }
}

// WithConsoleSink receives every console entry of every run.
func WithConsoleSink(s ConsoleSink) Option {
	return func(r *Runner) { r.sink = s }
}

// WithLogger sets the host logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) { r.log = l }
}

// WithModules makes module sources (JavaScript or TypeScript) available to
// scripts through import and require, keyed by module name.
func WithModules(modules map[string]string) Option {
	return func(r *Runner) { r.modules = maps.Clone(modules) }
}

// WithMetrics reports every run to m.
func WithMetrics(m *Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// New creates a Runner and warms its guest pool.
func New(cfg Config, opts ...Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Runner{cfg: cfg, log: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	if r.hook == nil {
		hc := cfg.hookConfig()
		hc.Logger = r.log.Named("http")
		r.hook = NewHTTPHook(hc)
	}
	backend, err := newBackend(cfg.core(), r.log, nil)
	if err != nil {
		return nil, fmt.Errorf("creating backend: %w", err)
	}
	r.backend = backend
	return r, nil
}

// Engine names the guest engine in use: "quickjs" or "v8".
func (r *Runner) Engine() string { return r.backend.Name() }

// Shutdown releases pre-warmed guests. The Runner must not be used after.
func (r *Runner) Shutdown() { r.backend.Shutdown() }

// RunOption adjusts a single run.
type RunOption func(*core.RunRequest)

// WithRunID sets the run identifier used in logs and the result. A random
// UUID is used otherwise.
func WithRunID(id string) RunOption {
	return func(req *core.RunRequest) { req.RunID = id }
}

// WithRunConsoleSink sends this run's console entries to s instead of the
// Runner's sink.
func WithRunConsoleSink(s ConsoleSink) RunOption {
	return func(req *core.RunRequest) { req.Sink = s }
}

// WithRunNetworkHook uses h for this run's fetch calls.
func WithRunNetworkHook(h NetworkHook) RunOption {
	return func(req *core.RunRequest) { req.Hook = h }
}

// Run executes script and waits until it and every fetch it started have
// settled, or the execution timeout passes. Script failures, including
// timeouts, are reported in RunResult.Error; the error return is for
// failures to set up the guest.
func (r *Runner) Run(ctx context.Context, script string, opts ...RunOption) (*RunResult, error) {
	req := &core.RunRequest{
		RunID:   uuid.NewString(),
		Script:  script,
		Config:  r.cfg.core(),
		Hook:    r.hook,
		Sink:    r.sink,
		Logger:  r.log,
		Modules: r.modules,
	}
	for _, opt := range opts {
		opt(req)
	}
	res, err := r.backend.Run(ctx, req)
	if err != nil {
		r.log.Error("run setup failed", zap.String("run", req.RunID), zap.Error(err))
		return nil, err
	}
	r.metrics.Observe(res)
	if res.Error != nil {
		r.log.Debug("script failed", zap.String("run", req.RunID), zap.Error(res.Error))
	}
	return res, nil
}
