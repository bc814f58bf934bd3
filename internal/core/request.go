package core

import "go.uber.org/zap"

// RunRequest carries one script and the host collaborators it may use.
// Nil collaborators are allowed: without a hook every fetch rejects, and
// without a sink console output is only kept in the RunResult.
type RunRequest struct {
	RunID   string
	Script  string
	Config  Config
	Hook    NetworkHook
	Sink    ConsoleSink
	Logger  *zap.Logger
	Modules map[string]string // module name -> source, for import and require
}
