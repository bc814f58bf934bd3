package core

import "errors"

// ErrTimeout is reported when a run exceeds its ExecutionTimeout.
var ErrTimeout = errors.New("execution timed out")

// ScriptError is a script failure: an uncaught exception or a rejection of
// the script's top-level promise.
type ScriptError struct {
	Name    string
	Message string
	Stack   string
}

func (e *ScriptError) Error() string {
	if e.Name == "" {
		return e.Message
	}
	return e.Name + ": " + e.Message
}
