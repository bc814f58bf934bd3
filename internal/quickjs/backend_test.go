//go:build !v8

package quickjs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryguy/scriptcage/internal/core"
)

func newTestBackend(t *testing.T, cfg core.Config) *Backend {
	t.Helper()
	b, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(b.Shutdown)
	return b
}

func TestBackend_Name(t *testing.T) {
	b := newTestBackend(t, core.Config{WarmPool: 1})
	assert.Equal(t, "quickjs", b.Name())
}

func TestBackend_RunsScript(t *testing.T) {
	b := newTestBackend(t, core.Config{WarmPool: 2})
	res, err := b.Run(context.Background(), &core.RunRequest{RunID: "x", Script: `console.log("hello")`})
	require.NoError(t, err)
	require.NoError(t, res.Error)
	require.Len(t, res.Console, 1)
	assert.Equal(t, "hello", res.Console[0].Args[0])
}

func TestBackend_EachRunGetsFreshGuest(t *testing.T) {
	b := newTestBackend(t, core.Config{WarmPool: 1})
	_, err := b.Run(context.Background(), &core.RunRequest{Script: `globalThis.leftover = 1;`})
	require.NoError(t, err)
	res, err := b.Run(context.Background(), &core.RunRequest{Script: `console.log(typeof globalThis.leftover)`})
	require.NoError(t, err)
	require.NoError(t, res.Error)
	require.Len(t, res.Console, 1)
	assert.Equal(t, "undefined", res.Console[0].Args[0])
}

func TestBackend_WatchdogInterruptsBusyLoop(t *testing.T) {
	b := newTestBackend(t, core.Config{ExecutionTimeout: 100 * time.Millisecond})
	res, err := b.Run(context.Background(), &core.RunRequest{Script: `while (true) {}`})
	require.NoError(t, err)
	require.Error(t, res.Error)
	assert.True(t, errors.Is(res.Error, core.ErrTimeout))
}

func TestRuntime_EvalHelpers(t *testing.T) {
	rt, err := NewRuntime(16)
	require.NoError(t, err)
	defer rt.Close()

	s, err := rt.EvalString(`"a" + "b"`)
	require.NoError(t, err)
	assert.Equal(t, "ab", s)

	n, err := rt.EvalInt(`6 * 7`)
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	ok, err := rt.EvalBool(`1 < 2`)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRuntime_BinaryRoundTrip(t *testing.T) {
	rt, err := NewRuntime(0)
	require.NoError(t, err)
	defer rt.Close()

	data := []byte{0, 1, 2, 250, 255}
	require.NoError(t, rt.WriteBinaryToJS("__bin", data))
	got, err := rt.ReadBinaryFromJS("__bin")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestRuntime_MicrotasksRun(t *testing.T) {
	rt, err := NewRuntime(0)
	require.NoError(t, err)
	defer rt.Close()

	require.NoError(t, rt.Eval(`globalThis.done = false; Promise.resolve().then(function() { globalThis.done = true; });`))
	rt.RunMicrotasks()
	ok, err := rt.EvalBool(`globalThis.done`)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRuntime_RegisterFuncErrorShape(t *testing.T) {
	rt, err := NewRuntime(0)
	require.NoError(t, err)
	defer rt.Close()

	require.NoError(t, rt.RegisterFunc("__half", func(n int) (int, error) {
		if n%2 != 0 {
			return 0, errors.New("odd input")
		}
		return n / 2, nil
	}))

	n, err := rt.EvalInt(`__half(10)`)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	msg, err := rt.EvalString(`(function() { try { __half(3); return "no error"; } catch (e) { return e.name + ": " + e.message; } })()`)
	require.NoError(t, err)
	assert.Equal(t, "TypeError: calling __half: odd input", msg)

	gone, err := rt.EvalString(`typeof globalThis.__go___half`)
	require.NoError(t, err)
	assert.Equal(t, "undefined", gone)
}

func TestRuntime_ReadMissingBinary(t *testing.T) {
	rt, err := NewRuntime(0)
	require.NoError(t, err)
	defer rt.Close()

	got, err := rt.ReadBinaryFromJS("__absent")
	require.NoError(t, err)
	assert.Nil(t, got)
}
