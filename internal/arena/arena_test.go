package arena

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingRuntime is a JSRuntime that records evaluated source instead of
// running it.
type recordingRuntime struct {
	mu    sync.Mutex
	evals []string
	fail  string
}

func (r *recordingRuntime) Eval(js string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != "" && strings.Contains(js, r.fail) {
		return errors.New("boom")
	}
	r.evals = append(r.evals, js)
	return nil
}
func (r *recordingRuntime) EvalString(js string) (string, error) { return "", r.Eval(js) }
func (r *recordingRuntime) EvalBool(js string) (bool, error)     { return false, r.Eval(js) }
func (r *recordingRuntime) EvalInt(js string) (int, error)       { return 0, r.Eval(js) }
func (r *recordingRuntime) RegisterFunc(string, any) error       { return nil }
func (r *recordingRuntime) SetGlobal(string, any) error          { return nil }
func (r *recordingRuntime) RunMicrotasks()                       {}

func (r *recordingRuntime) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.evals) == 0 {
		return ""
	}
	return r.evals[len(r.evals)-1]
}

// binaryRuntime also implements core.BinaryTransferer.
type binaryRuntime struct {
	recordingRuntime
	written map[string][]byte
}

func (r *binaryRuntime) WriteBinaryToJS(name string, data []byte) error {
	if r.written == nil {
		r.written = map[string][]byte{}
	}
	r.written[name] = append([]byte(nil), data...)
	return nil
}
func (r *binaryRuntime) ReadBinaryFromJS(name string) ([]byte, error) { return r.written[name], nil }
func (r *binaryRuntime) BinaryMode() string                           { return "ab" }

func TestInstallEvaluatesPrelude(t *testing.T) {
	rt := &recordingRuntime{}
	require.NoError(t, New(rt).Install())
	assert.Contains(t, rt.last(), "globalThis.__h = { s: Object.create(null) }")
}

func TestScopeAllocAndClose(t *testing.T) {
	rt := &recordingRuntime{}
	a := New(rt)
	s := a.NewScope()

	h1, err := s.Alloc("{}")
	require.NoError(t, err)
	h2, err := s.Alloc("[]")
	require.NoError(t, err)

	assert.Equal(t, "__h.s[1]", h1.Ref())
	assert.Equal(t, "__h.s[2]", h2.Ref())
	assert.Equal(t, 2, a.Live())
	assert.Equal(t, 2, s.Len())

	require.NoError(t, s.Close())
	assert.Equal(t, 0, a.Live())
	assert.False(t, h1.Alive())
	assert.False(t, h2.Alive())
	// Newest first.
	assert.Equal(t, "delete __h.s[1];", rt.last())

	require.NoError(t, s.Close(), "second close is a no-op")
	_, err = s.Alloc("1")
	assert.ErrorIs(t, err, ErrDisposed)
}

func TestDoubleDispose(t *testing.T) {
	a := New(&recordingRuntime{})
	s := a.NewScope()
	h, err := s.Alloc("{}")
	require.NoError(t, err)

	require.NoError(t, h.Dispose())
	assert.Equal(t, 0, s.Len(), "disposed handle leaves its scope")
	assert.ErrorIs(t, h.Dispose(), ErrDoubleDispose)
	require.NoError(t, s.Close(), "closing does not dispose it again")
}

func TestReleaseTransfersOwnership(t *testing.T) {
	a := New(&recordingRuntime{})
	inner := a.NewScope()
	h, err := inner.Alloc("{}")
	require.NoError(t, err)

	out := inner.Release(h)
	require.NoError(t, inner.Close())
	assert.True(t, out.Alive(), "released handle survives its old scope")
	assert.Equal(t, 1, a.Live(), "and counts as live until someone owns it")

	outer := a.NewScope()
	_, err = outer.Manage(out)
	require.NoError(t, err)
	require.NoError(t, outer.Close())
	assert.Equal(t, 0, a.Live())

	_, err = outer.Manage(out)
	assert.ErrorIs(t, err, ErrDisposed)
}

func TestAllocFailureLeavesNoHandle(t *testing.T) {
	rt := &recordingRuntime{fail: "explode"}
	a := New(rt)
	s := a.NewScope()
	_, err := s.Alloc("explode()")
	require.Error(t, err)
	assert.Equal(t, 0, a.Live())
	assert.Equal(t, 0, s.Len())
}
