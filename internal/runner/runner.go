// Package runner drives one script through a guest: bundle, install the
// capability modules, evaluate, run the after-evaluation hooks, wait for the
// keep-alives and collect the result.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cryguy/scriptcage/internal/arena"
	"github.com/cryguy/scriptcage/internal/core"
	"github.com/cryguy/scriptcage/internal/eventloop"
	"github.com/cryguy/scriptcage/internal/webapi"
)

// settleJS records how the script promise settled.
const settleJS = `
(function() {
	var p = globalThis.` + webapi.ScriptPromiseGlobal + `;
	globalThis.__script_state = { state: 'pending' };
	if (!p || typeof p.then !== 'function') {
		globalThis.__script_state = { state: 'fulfilled' };
		return;
	}
	p.then(function() {
		globalThis.__script_state = { state: 'fulfilled' };
	}, function(e) {
		var out = { state: 'rejected', name: '', message: '', stack: '' };
		if (e && typeof e === 'object') {
			out.name = e.name ? String(e.name) : '';
			out.message = 'message' in e ? String(e.message) : String(e);
			out.stack = e.stack ? String(e.stack) : '';
		} else {
			out.message = String(e);
		}
		globalThis.__script_state = out;
	});
})();
`

type scriptState struct {
	State   string `json:"state"`
	Name    string `json:"name"`
	Message string `json:"message"`
	Stack   string `json:"stack"`
}

// Options lets callers add modules after the default set.
type Options struct {
	Extra []webapi.Module
}

// Execute runs req in rt, which must be a fresh guest owned by the calling
// goroutine. The error return is for failures to prepare the guest; script
// failures and timeouts land in RunResult.Error.
func Execute(ctx context.Context, rt core.JSRuntime, req *core.RunRequest, opts Options) (*core.RunResult, error) {
	start := time.Now()
	cfg := req.Config.WithDefaults()
	log := req.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("run", req.RunID))

	runCtx, cancel := context.WithTimeout(ctx, cfg.ExecutionTimeout)
	defer cancel()

	ar := arena.New(rt)
	state := core.NewRunState(cfg)
	defer state.Close()
	lc := core.NewLifecycle()
	loop := eventloop.New()

	result := &core.RunResult{RunID: req.RunID}
	finish := func() *core.RunResult {
		result.Console = state.ConsoleEntries()
		result.FetchCount = state.Fetches()
		result.LeakedHandles = ar.Live()
		result.Duration = time.Since(start)
		if result.LeakedHandles > 0 {
			log.Warn("guest handles leaked", zap.Int("count", result.LeakedHandles))
		}
		return result
	}

	code, err := webapi.BundleScript(req.Script, req.Modules)
	if err != nil {
		result.Error = err
		return finish(), nil
	}

	if err := ar.Install(); err != nil {
		return nil, err
	}
	mc := &webapi.ModuleCtx{
		Ctx:       runCtx,
		RT:        rt,
		Loop:      loop,
		Arena:     ar,
		Lifecycle: lc,
		State:     state,
		Config:    cfg,
		Log:       log,
		Modules:   req.Modules,
	}
	modules := append(webapi.DefaultModules(req.Sink, req.Hook), opts.Extra...)
	if err := webapi.Install(mc, modules); err != nil {
		return nil, err
	}

	if err := rt.Eval(code); err != nil {
		result.Error = evalError(runCtx, err)
		return finish(), nil
	}
	if err := rt.Eval(settleJS); err != nil {
		return nil, fmt.Errorf("observing script promise: %w", err)
	}
	rt.RunMicrotasks()

	if err := lc.RunAfterEval(runCtx); err != nil {
		result.Error = evalError(runCtx, err)
		return finish(), nil
	}

	for lc.Unresolved() > 0 {
		if runCtx.Err() != nil {
			result.Error = timeoutError(cfg.ExecutionTimeout)
			return finish(), nil
		}
		loop.RunFor(rt, cfg.GraceTick)
	}

	st, err := readState(rt)
	if err != nil {
		return nil, err
	}
	deadline, _ := runCtx.Deadline()
	if st.State == "pending" && loop.HasPending() {
		loop.Drain(rt, deadline)
		if st, err = readState(rt); err != nil {
			return nil, err
		}
	}

	switch st.State {
	case "rejected":
		result.Error = &core.ScriptError{Name: st.Name, Message: st.Message, Stack: st.Stack}
	case "pending":
		if runCtx.Err() != nil || !time.Now().Before(deadline) {
			result.Error = timeoutError(cfg.ExecutionTimeout)
		} else {
			log.Warn("script finished with its top-level promise still pending")
		}
	}
	return finish(), nil
}

func readState(rt core.JSRuntime) (scriptState, error) {
	var st scriptState
	raw, err := rt.EvalString("JSON.stringify(globalThis.__script_state)")
	if err != nil {
		return st, fmt.Errorf("reading script state: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return st, fmt.Errorf("decoding script state: %w", err)
	}
	return st, nil
}

func timeoutError(limit time.Duration) error {
	return fmt.Errorf("%w (limit: %v)", core.ErrTimeout, limit)
}

// evalError classifies an error returned while the guest was running.
func evalError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", core.ErrTimeout, err)
	}
	return err
}
