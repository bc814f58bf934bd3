package scriptcage

import "github.com/cryguy/scriptcage/internal/core"

// Type aliases re-exporting internal/core types so callers never import
// the internal package.

type FetchInput = core.FetchInput
type FetchInit = core.FetchInit
type SignalState = core.SignalState
type HeaderPair = core.HeaderPair
type Reply = core.Reply
type NativeRequest = core.NativeRequest
type NetworkHook = core.NetworkHook
type NetworkHookFunc = core.NetworkHookFunc
type ConsoleEntry = core.ConsoleEntry
type ConsoleSink = core.ConsoleSink
type ConsoleSinkFunc = core.ConsoleSinkFunc
type RunResult = core.RunResult
type ScriptError = core.ScriptError

// Quiescence modes.
const (
	QuiescencePolling = core.QuiescencePolling
	QuiescenceLatch   = core.QuiescenceLatch
)

// ErrTimeout is wrapped by RunResult.Error when a run exceeds its
// ExecutionTimeout.
var ErrTimeout = core.ErrTimeout
