package eventloop

import (
	"fmt"
	"sync"
	"time"

	"github.com/cryguy/scriptcage/internal/core"
)

// OpResult is the outcome of host work started by a guest call. Value is
// whatever the starting installer put there; Deliver knows how to read it.
type OpResult struct {
	Value any
	Err   error
}

// PendingOp is host work whose result must be handed to the guest on the
// guest goroutine. The host goroutine sends exactly one OpResult on
// ResultCh; Deliver runs when the loop picks it up.
type PendingOp struct {
	ID       string
	ResultCh <-chan OpResult
	Deliver  func(rt core.JSRuntime, res OpResult)
}

// timerEntry is a pending setTimeout or setInterval. The callback itself
// lives in globalThis.__timerCallbacks[id]; Go only tracks scheduling.
type timerEntry struct {
	deadline time.Time
	interval time.Duration // 0 for setTimeout
	id       int
	cleared  bool
}

// minInterval is the floor applied to setInterval periods.
const minInterval = 10 * time.Millisecond

// EventLoop owns the Go-backed timers and the pending host operations of
// one guest. Every method that takes a JSRuntime must be called on the
// guest goroutine; the rest are safe from any goroutine.
type EventLoop struct {
	mu      sync.Mutex
	timers  map[int]*timerEntry
	nextID  int
	pending []*PendingOp
}

// New creates an empty EventLoop.
func New() *EventLoop {
	return &EventLoop{
		timers: make(map[int]*timerEntry),
	}
}

// RegisterTimer schedules a timer and returns its id.
func (el *EventLoop) RegisterTimer(delay time.Duration, isInterval bool) int {
	el.mu.Lock()
	defer el.mu.Unlock()
	if delay < 0 {
		delay = 0
	}
	el.nextID++
	entry := &timerEntry{
		deadline: time.Now().Add(delay),
		id:       el.nextID,
	}
	if isInterval {
		if delay < minInterval {
			delay = minInterval
		}
		entry.interval = delay
	}
	el.timers[entry.id] = entry
	return entry.id
}

// ClearTimer cancels a timer by id.
func (el *EventLoop) ClearTimer(id int) {
	el.mu.Lock()
	defer el.mu.Unlock()
	if t, ok := el.timers[id]; ok {
		t.cleared = true
		delete(el.timers, id)
	}
}

// AddPending queues a host operation for delivery.
func (el *EventLoop) AddPending(op *PendingOp) {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.pending = append(el.pending, op)
}

// DrainPending does non-blocking reads on every pending operation and
// delivers the completed ones, running a microtask checkpoint after each.
// It reports whether anything was delivered.
func (el *EventLoop) DrainPending(rt core.JSRuntime) bool {
	el.mu.Lock()
	if len(el.pending) == 0 {
		el.mu.Unlock()
		return false
	}
	pending := el.pending
	el.pending = nil
	el.mu.Unlock()

	var remaining []*PendingOp
	didWork := false
	for _, op := range pending {
		select {
		case res := <-op.ResultCh:
			if op.Deliver != nil {
				op.Deliver(rt, res)
			}
			rt.RunMicrotasks()
			didWork = true
		default:
			remaining = append(remaining, op)
		}
	}

	el.mu.Lock()
	// Deliveries may have queued new operations; keep them after the
	// survivors.
	el.pending = append(remaining, el.pending...)
	el.mu.Unlock()
	return didWork
}

// fireTimer invokes the guest callback registered for id.
func (el *EventLoop) fireTimer(rt core.JSRuntime, id int) {
	js := fmt.Sprintf(`(function() {
		var entry = globalThis.__timerCallbacks && globalThis.__timerCallbacks[%d];
		if (!entry) return;
		if (!entry.interval) delete globalThis.__timerCallbacks[%d];
		entry.fn.apply(null, entry.args || []);
	})()`, id, id)
	_ = rt.Eval(js)
}

// fireDueTimers fires every timer whose deadline has passed.
func (el *EventLoop) fireDueTimers(rt core.JSRuntime) bool {
	now := time.Now()
	el.mu.Lock()
	var due []*timerEntry
	for _, t := range el.timers {
		if !t.cleared && !t.deadline.After(now) {
			due = append(due, t)
		}
	}
	el.mu.Unlock()
	if len(due) == 0 {
		return false
	}
	// Fire in deadline order so equal-delay timers keep registration order.
	for i := 1; i < len(due); i++ {
		for j := i; j > 0 && earlier(due[j], due[j-1]); j-- {
			due[j], due[j-1] = due[j-1], due[j]
		}
	}

	fired := false
	for _, t := range due {
		el.mu.Lock()
		if t.cleared {
			el.mu.Unlock()
			continue
		}
		if t.interval > 0 {
			t.deadline = time.Now().Add(t.interval)
		} else {
			delete(el.timers, t.id)
		}
		el.mu.Unlock()

		el.fireTimer(rt, t.id)
		rt.RunMicrotasks()
		fired = true
	}
	return fired
}

func earlier(a, b *timerEntry) bool {
	if a.deadline.Equal(b.deadline) {
		return a.id < b.id
	}
	return a.deadline.Before(b.deadline)
}

// Step delivers completed operations and fires due timers once. It reports
// whether any guest code ran.
func (el *EventLoop) Step(rt core.JSRuntime) bool {
	delivered := el.DrainPending(rt)
	fired := el.fireDueTimers(rt)
	return delivered || fired
}

// RunFor pumps the loop for d, sleeping in short slices when idle. It is the
// "grace tick" used by the tracker: it always takes the full duration.
func (el *EventLoop) RunFor(rt core.JSRuntime, d time.Duration) {
	end := time.Now().Add(d)
	for {
		rt.RunMicrotasks()
		if el.Step(rt) {
			continue
		}
		left := time.Until(end)
		if left <= 0 {
			return
		}
		if left > time.Millisecond {
			left = time.Millisecond
		}
		time.Sleep(left)
	}
}

// Drain fires timers and delivers operations until nothing is pending or
// the deadline is reached.
func (el *EventLoop) Drain(rt core.JSRuntime, deadline time.Time) {
	for {
		if el.Step(rt) {
			continue
		}
		if !el.HasPending() || !time.Now().Before(deadline) {
			return
		}
		wait := time.Millisecond
		if next, ok := el.nextTimer(); ok && len(el.pendingSnapshot()) == 0 {
			wait = time.Until(next)
		}
		if until := time.Until(deadline); wait > until {
			wait = until
		}
		if wait > 0 {
			time.Sleep(wait)
		}
	}
}

func (el *EventLoop) nextTimer() (time.Time, bool) {
	el.mu.Lock()
	defer el.mu.Unlock()
	var next time.Time
	found := false
	for _, t := range el.timers {
		if t.cleared {
			continue
		}
		if !found || t.deadline.Before(next) {
			next = t.deadline
			found = true
		}
	}
	return next, found
}

func (el *EventLoop) pendingSnapshot() []*PendingOp {
	el.mu.Lock()
	defer el.mu.Unlock()
	return append([]*PendingOp(nil), el.pending...)
}

// HasPending reports whether any timer or host operation is outstanding.
func (el *EventLoop) HasPending() bool {
	el.mu.Lock()
	defer el.mu.Unlock()
	return len(el.timers) > 0 || len(el.pending) > 0
}

// HasTimers reports whether any timer is armed.
func (el *EventLoop) HasTimers() bool {
	el.mu.Lock()
	defer el.mu.Unlock()
	return len(el.timers) > 0
}

// Reset drops every timer and pending operation.
func (el *EventLoop) Reset() {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.timers = make(map[int]*timerEntry)
	el.nextID = 0
	el.pending = nil
}
