// Package arena gives the host explicit ownership of guest heap values.
//
// The guest and the host share no heap and no collector, so every guest
// value the host creates lives in a slot of a guest-side handle table and is
// referenced from Go by a Handle. Handles are grouped in a Scope and are
// released exactly once: by Dispose, by Release (transfer to the caller) or
// when the owning Scope closes. Slots still live when a run ends are leaks.
package arena

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cryguy/scriptcage/internal/core"
)

var (
	// ErrDoubleDispose is returned when a handle is disposed a second time.
	ErrDoubleDispose = errors.New("arena: handle disposed twice")

	// ErrDisposed is returned when a disposed handle or closed scope is used.
	ErrDisposed = errors.New("arena: use after dispose")
)

// Arena is the host view of the guest handle table. One Arena serves one
// guest; it is not safe to share across guests.
type Arena struct {
	rt   core.JSRuntime
	mu   sync.Mutex
	next uint64
	live map[uint64]*Handle
}

// New returns an Arena bound to rt. Install must run before the first
// allocation.
func New(rt core.JSRuntime) *Arena {
	return &Arena{rt: rt, live: make(map[uint64]*Handle)}
}

// Runtime returns the guest the arena allocates into.
func (a *Arena) Runtime() core.JSRuntime { return a.rt }

// Install evaluates the guest prelude: the handle table plus the byte and
// text helpers every installer relies on.
func (a *Arena) Install() error {
	if err := a.rt.Eval(preludeJS); err != nil {
		return fmt.Errorf("installing arena prelude: %w", err)
	}
	return nil
}

// Live reports how many handles are allocated and not yet released.
func (a *Arena) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}

// NewScope opens a scope that owns the handles allocated through it.
func (a *Arena) NewScope() *Scope {
	return &Scope{a: a}
}

func (a *Arena) alloc(expr string) (*Handle, error) {
	a.mu.Lock()
	a.next++
	id := a.next
	a.mu.Unlock()

	if err := a.rt.Eval(fmt.Sprintf("__h.s[%d] = (%s);", id, expr)); err != nil {
		return nil, fmt.Errorf("allocating handle %d: %w", id, err)
	}
	h := &Handle{a: a, id: id}
	a.mu.Lock()
	a.live[id] = h
	a.mu.Unlock()
	return h, nil
}

// Handle is an opaque reference to one guest heap value.
type Handle struct {
	a        *Arena
	id       uint64
	scope    *Scope
	disposed bool
}

// ID returns the slot number of the handle.
func (h *Handle) ID() uint64 { return h.id }

// Ref returns a guest expression that evaluates to the referenced value.
func (h *Handle) Ref() string { return fmt.Sprintf("__h.s[%d]", h.id) }

// Alive reports whether the handle has not been released yet.
func (h *Handle) Alive() bool {
	h.a.mu.Lock()
	defer h.a.mu.Unlock()
	return !h.disposed
}

// Dispose frees the guest slot. The guest value itself stays reachable from
// anything else that references it.
func (h *Handle) Dispose() error {
	h.a.mu.Lock()
	if h.disposed {
		h.a.mu.Unlock()
		return fmt.Errorf("handle %d: %w", h.id, ErrDoubleDispose)
	}
	h.disposed = true
	delete(h.a.live, h.id)
	scope := h.scope
	h.scope = nil
	h.a.mu.Unlock()

	if scope != nil {
		scope.forget(h)
	}
	if err := h.a.rt.Eval(fmt.Sprintf("delete __h.s[%d];", h.id)); err != nil {
		return fmt.Errorf("disposing handle %d: %w", h.id, err)
	}
	return nil
}

// Scope owns a group of handles and releases whatever is left on Close.
// Callers close scopes with defer so every exit path releases them.
type Scope struct {
	a       *Arena
	mu      sync.Mutex
	handles []*Handle
	closed  bool
}

// Arena returns the arena the scope allocates from.
func (s *Scope) Arena() *Arena { return s.a }

// Alloc evaluates expr in the guest and stores the result in a new handle
// owned by the scope.
func (s *Scope) Alloc(expr string) (*Handle, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("alloc on closed scope: %w", ErrDisposed)
	}
	h, err := s.a.alloc(expr)
	if err != nil {
		return nil, err
	}
	s.adopt(h)
	return h, nil
}

// Manage takes ownership of a handle released from another scope.
func (s *Scope) Manage(h *Handle) (*Handle, error) {
	if !h.Alive() {
		return nil, fmt.Errorf("manage handle %d: %w", h.id, ErrDisposed)
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("manage on closed scope: %w", ErrDisposed)
	}
	if prev := h.owner(); prev != nil && prev != s {
		prev.forget(h)
	}
	s.adopt(h)
	return h, nil
}

// Release transfers h out of the scope. The caller becomes responsible for
// disposing it.
func (s *Scope) Release(h *Handle) *Handle {
	s.forget(h)
	h.a.mu.Lock()
	if h.scope == s {
		h.scope = nil
	}
	h.a.mu.Unlock()
	return h
}

// Close disposes every handle the scope still owns, newest first. Closing
// twice is a no-op.
func (s *Scope) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	handles := s.handles
	s.handles = nil
	s.mu.Unlock()

	var errs []error
	for i := len(handles) - 1; i >= 0; i-- {
		h := handles[i]
		h.a.mu.Lock()
		h.scope = nil
		h.a.mu.Unlock()
		if err := h.Dispose(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len reports how many handles the scope owns.
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

func (s *Scope) adopt(h *Handle) {
	h.a.mu.Lock()
	h.scope = s
	h.a.mu.Unlock()
	s.mu.Lock()
	s.handles = append(s.handles, h)
	s.mu.Unlock()
}

func (s *Scope) forget(h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, owned := range s.handles {
		if owned == h {
			s.handles = append(s.handles[:i], s.handles[i+1:]...)
			return
		}
	}
}

func (h *Handle) owner() *Scope {
	h.a.mu.Lock()
	defer h.a.mu.Unlock()
	return h.scope
}
