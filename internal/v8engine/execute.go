//go:build v8

// Package v8engine runs scripts on V8 through tommie/v8go. It is selected
// with the v8 build tag.
package v8engine

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

// Backend runs each script in its own isolate.
type Backend struct {
	config core.Config
	log    *zap.Logger
	pool   *isolatePool
	extra  []webapi.Module
}

var _ core.Backend = (*Backend)(nil)

// New creates a Backend with cfg.WarmPool isolates ready.
func New(cfg core.Config, log *zap.Logger, extra ...webapi.Module) (*Backend, error) {
	cfg = cfg.WithDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Backend{
		config: cfg,
		log:    log,
		pool:   newIsolatePool(cfg.WarmPool, cfg.MemoryLimitMB),
		extra:  extra,
	}, nil
}

// Name returns "v8".
func (b *Backend) Name() string { return "v8" }

// Shutdown disposes the pooled isolates.
func (b *Backend) Shutdown() { b.pool.dispose() }

// Run executes req in a fresh isolate under a watchdog.
func (b *Backend) Run(ctx context.Context, req *core.RunRequest) (result *core.RunResult, err error) {
	start := time.Now()
	if req.Config == (core.Config{}) {
		req.Config = b.config
	}
	cfg := req.Config.WithDefaults()
	if req.Logger == nil {
		req.Logger = b.log
	}

	rt := b.pool.get()
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
				result.Error = fmt.Errorf("isolate panic: %v", r)
			}
			err = nil
			b.log.Warn("discarding isolate", zap.String("run", req.RunID), zap.Error(result.Error))
		}
	}()

	result, err = runner.Execute(ctx, rt, req, runner.Options{Extra: b.extra})
	if err != nil {
		return nil, err
	}
	if timedOut.Load() && !errors.Is(result.Error, core.ErrTimeout) {
		result.Error = fmt.Errorf("%w (limit: %v)", core.ErrTimeout, cfg.ExecutionTimeout)
	}
	return result, nil
}
