package core

import (
	"context"
	"errors"
	"sync"
)

// KeepAlive is a "keep the guest alive until" promise. The runner does not
// tear a guest down while any registered KeepAlive is unresolved, unless the
// run deadline passes first.
type KeepAlive struct {
	once sync.Once
	done chan struct{}
}

// Resolve marks the keep-alive as satisfied. Extra calls are no-ops.
func (k *KeepAlive) Resolve() {
	k.once.Do(func() { close(k.done) })
}

// Done is closed once Resolve has been called.
func (k *KeepAlive) Done() <-chan struct{} { return k.done }

// Resolved reports whether Resolve has been called.
func (k *KeepAlive) Resolved() bool {
	select {
	case <-k.done:
		return true
	default:
		return false
	}
}

// AfterEvalHook runs once on the guest goroutine after the script's
// top-level evaluation returns. ctx carries the run deadline.
type AfterEvalHook func(ctx context.Context) error

// Lifecycle collects the two runner extension points installers may use.
type Lifecycle struct {
	mu        sync.Mutex
	keepAlive []*KeepAlive
	afterEval []AfterEvalHook
	ran       bool
}

// NewLifecycle returns an empty Lifecycle.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{}
}

// KeepAlive registers and returns a new unresolved keep-alive.
func (l *Lifecycle) KeepAlive() *KeepAlive {
	k := &KeepAlive{done: make(chan struct{})}
	l.mu.Lock()
	l.keepAlive = append(l.keepAlive, k)
	l.mu.Unlock()
	return k
}

// AfterEval registers a hook for RunAfterEval.
func (l *Lifecycle) AfterEval(h AfterEvalHook) {
	l.mu.Lock()
	l.afterEval = append(l.afterEval, h)
	l.mu.Unlock()
}

// RunAfterEval invokes every registered hook once, in registration order.
// Later calls do nothing. All hook errors are returned joined.
func (l *Lifecycle) RunAfterEval(ctx context.Context) error {
	l.mu.Lock()
	if l.ran {
		l.mu.Unlock()
		return nil
	}
	l.ran = true
	hooks := append([]AfterEvalHook(nil), l.afterEval...)
	l.mu.Unlock()

	var errs []error
	for _, h := range hooks {
		if err := h(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Unresolved returns the number of keep-alives not yet resolved.
func (l *Lifecycle) Unresolved() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, k := range l.keepAlive {
		if !k.Resolved() {
			n++
		}
	}
	return n
}
