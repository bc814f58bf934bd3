package webapi

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cryguy/scriptcage/internal/arena"
	"github.com/cryguy/scriptcage/internal/core"
	"github.com/cryguy/scriptcage/internal/eventloop"
)

// ErrUnknownModule is returned by the module loader for names that were not
// supplied with the run.
var ErrUnknownModule = errors.New("unknown module")

// ModuleCtx is the scope an installer works in. Installers only touch the
// guest and the host objects reachable from here, never package state.
type ModuleCtx struct {
	Ctx       context.Context
	RT        core.JSRuntime
	Loop      *eventloop.EventLoop
	Arena     *arena.Arena
	Lifecycle *core.Lifecycle
	State     *core.RunState
	Config    core.Config
	Log       *zap.Logger
	Modules   map[string]string
}

// Module is one capability installer.
type Module struct {
	Name    string
	Install func(mc *ModuleCtx) error
}

// DefaultModules returns the installers every run gets, in install order:
// URL, Blob, console, crypto, module loader, fetch, encoding, timers.
func DefaultModules(onConsoleEntry core.ConsoleSink, networkHook core.NetworkHook) []Module {
	return []Module{
		{Name: "url", Install: SetupURL},
		{Name: "blob", Install: SetupBlob},
		{Name: "console", Install: func(mc *ModuleCtx) error {
			return SetupConsole(mc, onConsoleEntry)
		}},
		{Name: "crypto", Install: SetupCrypto},
		{Name: "modules", Install: SetupModuleLoader},
		{Name: "fetch", Install: func(mc *ModuleCtx) error {
			return SetupFetch(mc, networkHook)
		}},
		{Name: "encoding", Install: SetupEncoding},
		{Name: "timers", Install: SetupTimers},
	}
}

// Install runs each module against mc in order and stops at the first
// failure.
func Install(mc *ModuleCtx, modules []Module) error {
	if mc.Log == nil {
		mc.Log = zap.NewNop()
	}
	if mc.Ctx == nil {
		mc.Ctx = context.Background()
	}
	for _, m := range modules {
		if err := m.Install(mc); err != nil {
			return fmt.Errorf("installing %s module: %w", m.Name, err)
		}
	}
	return nil
}
