//go:build !v8

package quickjs

import (
	"fmt"

	"modernc.org/quickjs"

	"github.com/cryguy/scriptcage/internal/core"
)

// Runtime is one QuickJS guest. It implements core.JSRuntime and
// core.BinaryTransferer and must only be used from one goroutine, apart
// from Interrupt.
type Runtime struct {
	vm *quickjs.VM
	c  capi
}

var (
	_ core.JSRuntime        = (*Runtime)(nil)
	_ core.BinaryTransferer = (*Runtime)(nil)
)

// NewRuntime creates a guest with the given heap limit (0 for none).
func NewRuntime(memoryLimitMB int) (*Runtime, error) {
	vm, err := quickjs.NewVM()
	if err != nil {
		return nil, fmt.Errorf("creating QuickJS VM: %w", err)
	}
	c, err := probeCAPI(vm)
	if err != nil {
		vm.Close()
		return nil, err
	}
	if memoryLimitMB > 0 {
		vm.SetMemoryLimit(uintptr(memoryLimitMB) << 20)
	}
	return &Runtime{vm: vm, c: c}, nil
}

func (r *Runtime) Close() { r.vm.Close() }

// Interrupt stops the evaluation in progress. It may be called from any
// goroutine; the guest is unusable afterwards.
func (r *Runtime) Interrupt() { r.vm.Interrupt() }

func (r *Runtime) Eval(js string) error {
	v, err := r.vm.EvalValue(js, quickjs.EvalGlobal)
	if err != nil {
		return err
	}
	v.Free()
	return nil
}

func (r *Runtime) EvalString(js string) (string, error) {
	v, err := r.vm.Eval(js, quickjs.EvalGlobal)
	if err != nil || v == nil {
		return "", err
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return fmt.Sprint(v), nil
}

func (r *Runtime) EvalBool(js string) (bool, error) {
	v, err := r.vm.Eval(js, quickjs.EvalGlobal)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expected bool, got %T", v)
	}
	return b, nil
}

func (r *Runtime) EvalInt(js string) (int, error) {
	v, err := r.vm.Eval(js, quickjs.EvalGlobal)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	}
	return 0, fmt.Errorf("expected number, got %T", v)
}

// registerShim replaces the raw binding with a function that unpacks the
// [value, error] array the wrapper produces for (T, error) results.
const registerShim = `(function(raw, name) {
	var fn = globalThis[raw];
	delete globalThis[raw];
	globalThis[name] = function() {
		var out = fn.apply(this, arguments);
		if (!Array.isArray(out)) return out;
		if (out[1] !== null && out[1] !== undefined) throw new TypeError('calling ' + name + ': ' + out[1]);
		return out[0];
	};
})(%q, %q)`

func (r *Runtime) RegisterFunc(name string, fn any) error {
	raw := "__go_" + name
	if err := r.vm.RegisterFunc(raw, fn, false); err != nil {
		return fmt.Errorf("registering %s: %w", name, err)
	}
	return r.Eval(fmt.Sprintf(registerShim, raw, name))
}

func (r *Runtime) SetGlobal(name string, value any) error {
	atom, err := r.vm.NewAtom(name)
	if err != nil {
		return fmt.Errorf("creating atom %q: %w", name, err)
	}
	glob := r.vm.GlobalObject()
	defer glob.Free()
	return glob.SetProperty(atom, value)
}

// RunMicrotasks drains the job queue. The wrapper never does this on its
// own, so promise reactions only run from here.
func (r *Runtime) RunMicrotasks() { r.c.drainJobs() }

// BinaryMode is "ab": bytes are copied straight into a plain ArrayBuffer.
func (r *Runtime) BinaryMode() string { return "ab" }

func (r *Runtime) WriteBinaryToJS(globalName string, data []byte) error {
	if len(data) == 0 {
		return r.Eval(fmt.Sprintf("globalThis[%q] = new ArrayBuffer(0);", globalName))
	}
	return r.c.setArrayBuffer(globalName, data)
}

// ReadBinaryFromJS returns nil when the global is not an ArrayBuffer.
func (r *Runtime) ReadBinaryFromJS(globalName string) ([]byte, error) {
	defer r.Eval(fmt.Sprintf("delete globalThis[%q];", globalName))
	isBuf, err := r.EvalBool(fmt.Sprintf("globalThis[%q] instanceof ArrayBuffer", globalName))
	if err != nil || !isBuf {
		return nil, err
	}
	return r.c.copyArrayBuffer(globalName)
}
