//go:build !v8

package quickjs

import (
	"errors"
	"fmt"
	"reflect"
	"unsafe"

	"modernc.org/libc"
	lib "modernc.org/libquickjs"
	"modernc.org/quickjs"
)

// capi holds the C-level handles of a VM. The modernc.org/quickjs wrapper
// keeps them unexported, yet they are needed for two things it does not
// offer: draining the job queue and copying bytes into an ArrayBuffer.
//
// Layout as of modernc.org/quickjs v0.17:
//
//	type VM struct {
//	    cContext uintptr
//	    ...
//	    runtime  *runtime
//	}
//
//	type runtime struct {
//	    cRuntime uintptr
//	    tls      *libc.TLS
//	}
type capi struct {
	tls *libc.TLS
	ctx uintptr
	rt  uintptr
}

var errLayout = errors.New("unsupported modernc.org/quickjs VM layout")

func probeCAPI(vm *quickjs.VM) (c capi, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", errLayout, p)
		}
	}()
	v := reflect.ValueOf(vm).Elem()

	ctxField := v.FieldByName("cContext")
	rtField := v.FieldByName("runtime")
	if !ctxField.IsValid() || !rtField.IsValid() || rtField.IsNil() {
		return capi{}, errLayout
	}
	inner := reflect.NewAt(rtField.Type().Elem(), unsafe.Pointer(rtField.Pointer())).Elem()
	cRuntime := inner.FieldByName("cRuntime")
	tls := inner.FieldByName("tls")
	if !cRuntime.IsValid() || !tls.IsValid() || tls.IsNil() {
		return capi{}, errLayout
	}

	c = capi{
		tls: (*libc.TLS)(unsafe.Pointer(tls.Pointer())),
		ctx: uintptr(ctxField.Uint()),
		rt:  uintptr(cRuntime.Uint()),
	}
	if c.ctx == 0 || c.rt == 0 {
		return capi{}, errLayout
	}
	return c, nil
}

// drainJobs runs pending promise jobs until the queue is empty or a job
// throws, and returns how many ran.
func (c capi) drainJobs() int {
	n := 0
	for lib.XJS_ExecutePendingJob(c.tls, c.rt, 0) > 0 {
		n++
	}
	return n
}

// withGlobalName calls fn with name as a C string and the global object,
// and releases both afterwards.
func (c capi) withGlobalName(name string, fn func(glob lib.TJSValue, cName uintptr) error) error {
	cName, err := libc.CString(name)
	if err != nil {
		return fmt.Errorf("allocating property name: %w", err)
	}
	defer libc.Xfree(c.tls, cName)
	glob := lib.XJS_GetGlobalObject(c.tls, c.ctx)
	defer lib.XFreeValue(c.tls, c.ctx, glob)
	return fn(glob, cName)
}

// setArrayBuffer stores a copy of data as globalThis[name].
func (c capi) setArrayBuffer(name string, data []byte) error {
	return c.withGlobalName(name, func(glob lib.TJSValue, cName uintptr) error {
		val := lib.XJS_NewArrayBufferCopy(c.tls, c.ctx, uintptr(unsafe.Pointer(&data[0])), lib.Tsize_t(len(data)))
		// JS_SetPropertyStr takes ownership of val.
		if lib.XJS_SetPropertyStr(c.tls, c.ctx, glob, cName, val) < 0 {
			return fmt.Errorf("setting global %q", name)
		}
		return nil
	})
}

// copyArrayBuffer returns a copy of the bytes in globalThis[name]. A
// missing or empty buffer yields nil.
func (c capi) copyArrayBuffer(name string) (out []byte, err error) {
	err = c.withGlobalName(name, func(glob lib.TJSValue, cName uintptr) error {
		val := lib.XJS_GetPropertyStr(c.tls, c.ctx, glob, cName)
		defer lib.XFreeValue(c.tls, c.ctx, val)
		var size lib.Tsize_t
		ptr := lib.XJS_GetArrayBuffer(c.tls, c.ctx, uintptr(unsafe.Pointer(&size)), val)
		if ptr == 0 || size == 0 {
			return nil
		}
		out = make([]byte, size)
		copy(out, unsafe.Slice((*byte)(unsafe.Pointer(ptr)), size))
		return nil
	})
	return out, err
}
