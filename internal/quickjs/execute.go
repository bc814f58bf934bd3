//go:build !v8

// Package quickjs runs scripts on the QuickJS engine (modernc.org/quickjs).
// It is the default backend; build with -tags v8 for the V8 backend.
package quickjs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/cryguy/scriptcage/internal/core"
	"github.com/cryguy/scriptcage/internal/runner"
	"github.com/cryguy/scriptcage/internal/webapi"
)

// Backend runs each script in its own QuickJS guest.
type Backend struct {
	config core.Config
	log    *zap.Logger
	pool   *warmPool
	extra  []webapi.Module
}

var _ core.Backend = (*Backend)(nil)

// New creates a Backend and pre-warms cfg.WarmPool guests.
func New(cfg core.Config, log *zap.Logger, extra ...webapi.Module) (*Backend, error) {
	cfg = cfg.WithDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	pool, err := newWarmPool(cfg.WarmPool, cfg.MemoryLimitMB)
	if err != nil {
		return nil, fmt.Errorf("creating warm pool: %w", err)
	}
	return &Backend{config: cfg, log: log, pool: pool, extra: extra}, nil
}

// Name returns "quickjs".
func (b *Backend) Name() string { return "quickjs" }

// Shutdown closes the pre-warmed guests.
func (b *Backend) Shutdown() { b.pool.dispose() }

// Run executes req in a fresh guest. A watchdog interrupts the guest once
// the execution timeout passes; a timed out or panicking guest is closed
// and the failure reported in RunResult.Error.
func (b *Backend) Run(ctx context.Context, req *core.RunRequest) (result *core.RunResult, err error) {
	start := time.Now()
	if req.Config == (core.Config{}) {
		req.Config = b.config
	}
	cfg := req.Config.WithDefaults()
	if req.Logger == nil {
		req.Logger = b.log
	}

	rt, err := b.pool.get()
	if err != nil {
		return nil, fmt.Errorf("acquiring guest: %w", err)
	}
	defer rt.Close()

	var timedOut atomic.Bool
	watchdog := time.AfterFunc(cfg.ExecutionTimeout, func() {
		timedOut.Store(true)
		rt.Interrupt()
	})

	defer func() {
		watchdog.Stop()
		if r := recover(); r != nil {
			result = &core.RunResult{RunID: req.RunID, Duration: time.Since(start)}
			if timedOut.Load() {
				result.Error = fmt.Errorf("%w (limit: %v)", core.ErrTimeout, cfg.ExecutionTimeout)
			} else {
				result.Error = fmt.Errorf("guest panic: %v", r)
			}
			err = nil
			b.log.Warn("discarding guest", zap.String("run", req.RunID), zap.Error(result.Error))
		}
	}()

	result, err = runner.Execute(ctx, rt, req, runner.Options{Extra: b.extra})
	if err != nil {
		return nil, err
	}
	if timedOut.Load() && !errors.Is(result.Error, core.ErrTimeout) {
		// The interrupt surfaces as an ordinary guest exception.
		result.Error = fmt.Errorf("%w (limit: %v)", core.ErrTimeout, cfg.ExecutionTimeout)
	}
	return result, nil
}
