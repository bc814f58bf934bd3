//go:build v8

package v8engine

import (
	"fmt"

	v8 "github.com/tommie/v8go"

	"github.com/cryguy/scriptcage/internal/core"
)

// Runtime is one V8 isolate with a single context. It implements
// core.JSRuntime and core.BinaryTransferer.
type Runtime struct {
	iso *v8.Isolate
	ctx *v8.Context
}

var (
	_ core.JSRuntime        = (*Runtime)(nil)
	_ core.BinaryTransferer = (*Runtime)(nil)
)

// NewRuntime creates an isolate whose heap is capped at memoryLimitMB
// (0 for the V8 default).
func NewRuntime(memoryLimitMB int) *Runtime {
	var opts []v8.IsolateOption
	if memoryLimitMB > 0 {
		limit := uint64(memoryLimitMB) << 20
		opts = append(opts, v8.WithResourceConstraints(limit/2, limit))
	}
	iso := v8.NewIsolate(opts...)
	return &Runtime{iso: iso, ctx: v8.NewContext(iso)}
}

func (r *Runtime) Close() {
	r.ctx.Close()
	r.iso.Dispose()
}

// Interrupt terminates the running script. TerminateExecution is the one
// isolate call that is safe from another goroutine.
func (r *Runtime) Interrupt() { r.iso.TerminateExecution() }

func (r *Runtime) run(js string) (*v8.Value, error) {
	return r.ctx.RunScript(js, "scriptcage.js")
}

func (r *Runtime) Eval(js string) error {
	_, err := r.run(js)
	return err
}

func (r *Runtime) EvalString(js string) (string, error) {
	v, err := r.run(js)
	if err != nil || v == nil {
		return "", err
	}
	return v.String(), nil
}

func (r *Runtime) EvalBool(js string) (bool, error) {
	v, err := r.run(js)
	if err != nil {
		return false, err
	}
	if v == nil || !v.IsBoolean() {
		return false, fmt.Errorf("expected bool result")
	}
	return v.Boolean(), nil
}

func (r *Runtime) EvalInt(js string) (int, error) {
	v, err := r.run(js)
	if err != nil {
		return 0, err
	}
	if v == nil || !v.IsNumber() {
		return 0, fmt.Errorf("expected number result")
	}
	return int(v.Integer()), nil
}

func (r *Runtime) RegisterFunc(name string, fn any) error {
	b, err := newBinding(name, fn)
	if err != nil {
		return err
	}
	tmpl := v8.NewFunctionTemplate(r.iso, func(info *v8.FunctionCallbackInfo) *v8.Value {
		out, err := b.call(r.ctx, info.Args())
		if err != nil {
			msg, _ := v8.NewValue(r.iso, err.Error())
			r.iso.ThrowException(msg)
			return nil
		}
		return out
	})
	return r.ctx.Global().Set(name, tmpl.GetFunction(r.ctx))
}

func (r *Runtime) SetGlobal(name string, value any) error {
	v, err := toValue(r.ctx, value)
	if err != nil {
		return fmt.Errorf("converting value for %q: %w", name, err)
	}
	return r.ctx.Global().Set(name, v)
}

func (r *Runtime) RunMicrotasks() { r.ctx.PerformMicrotaskCheckpoint() }

// BinaryMode is "sab": bytes cross through a SharedArrayBuffer, the only
// buffer v8go exposes as Go memory.
func (r *Runtime) BinaryMode() string { return "sab" }

const sabScratch = "__sabScratch"

// sharedBytes runs fn over the Go view of the SharedArrayBuffer held in
// the scratch global.
func (r *Runtime) sharedBytes(fn func([]byte)) error {
	v, err := r.ctx.Global().Get(sabScratch)
	if err != nil {
		return err
	}
	data, release, err := v.SharedArrayBufferGetContents()
	if err != nil {
		return err
	}
	defer release()
	fn(data)
	return nil
}

func (r *Runtime) WriteBinaryToJS(globalName string, data []byte) error {
	defer r.Eval("delete globalThis." + sabScratch + ";")
	if err := r.Eval(fmt.Sprintf("globalThis.%s = new SharedArrayBuffer(%d);", sabScratch, len(data))); err != nil {
		return fmt.Errorf("allocating SharedArrayBuffer: %w", err)
	}
	if len(data) > 0 {
		if err := r.sharedBytes(func(dst []byte) { copy(dst, data) }); err != nil {
			return fmt.Errorf("filling SharedArrayBuffer: %w", err)
		}
	}
	return r.Eval(fmt.Sprintf(`(function(sab) {
		var buf = new ArrayBuffer(sab.byteLength);
		new Uint8Array(buf).set(new Uint8Array(sab));
		globalThis[%q] = buf;
	})(globalThis.%s)`, globalName, sabScratch))
}

// ReadBinaryFromJS accepts an ArrayBuffer or a SharedArrayBuffer.
func (r *Runtime) ReadBinaryFromJS(globalName string) ([]byte, error) {
	defer r.Eval(fmt.Sprintf("delete globalThis[%q]; delete globalThis.%s;", globalName, sabScratch))
	n, err := r.EvalInt(fmt.Sprintf(`(function(src) {
		if (!src || typeof src.byteLength !== 'number') return 0;
		var sab = new SharedArrayBuffer(src.byteLength);
		new Uint8Array(sab).set(new Uint8Array(src));
		globalThis.%s = sab;
		return src.byteLength;
	})(globalThis[%q])`, sabScratch, globalName))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", globalName, err)
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]byte, n)
	if err := r.sharedBytes(func(src []byte) { copy(out, src) }); err != nil {
		return nil, fmt.Errorf("reading %s: %w", globalName, err)
	}
	return out, nil
}
