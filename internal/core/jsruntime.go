package core

// JSRuntime is the narrow surface the guest engines (QuickJS, V8) offer to
// the installers in internal/webapi, the handle arena and the event loop.
// Everything above this interface is engine agnostic.
type JSRuntime interface {
	// Eval evaluates guest source and discards the completion value.
	Eval(js string) error

	// EvalString evaluates guest source and stringifies the completion value.
	EvalString(js string) (string, error)

	// EvalBool evaluates guest source that must complete with a boolean.
	EvalBool(js string) (bool, error)

	// EvalInt evaluates guest source that must complete with a number.
	EvalInt(js string) (int, error)

	// RegisterFunc exposes a Go function as a guest global. Arguments and
	// results are limited to string, int, float64 and bool. A (T, error)
	// function throws in the guest when the error is non-nil, with a
	// message of the form "calling <name>: <err>".
	RegisterFunc(name string, fn any) error

	// SetGlobal assigns a basic Go value to a guest global.
	SetGlobal(name string, value any) error

	// RunMicrotasks drains the guest job queue (promise reactions).
	RunMicrotasks()
}

// BinaryTransferer is implemented by runtimes that can move raw bytes across
// the boundary without a base64 round trip. QuickJS copies straight into an
// ArrayBuffer through the C API; V8 goes through a SharedArrayBuffer.
type BinaryTransferer interface {
	// ReadBinaryFromJS copies the ArrayBuffer held by a guest global and
	// deletes the global.
	ReadBinaryFromJS(globalName string) ([]byte, error)

	// WriteBinaryToJS stores a fresh ArrayBuffer holding data in a guest
	// global.
	WriteBinaryToJS(globalName string, data []byte) error

	// BinaryMode reports the buffer flavour used: "ab" or "sab".
	BinaryMode() string
}
