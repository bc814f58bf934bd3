package eventloop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cryguy/scriptcage/internal/core"
)

// TrackerConfig tunes how the tracker decides a script is finished.
type TrackerConfig struct {
	// Mode is core.QuiescencePolling or core.QuiescenceLatch.
	Mode string
	// GraceTick is how long each polling round pumps the loop.
	GraceTick time.Duration
	// IdleRounds is the number of consecutive empty rounds that end a
	// polling drain.
	IdleRounds int
}

func (c TrackerConfig) withDefaults() TrackerConfig {
	if c.Mode == "" {
		c.Mode = core.QuiescencePolling
	}
	if c.GraceTick <= 0 {
		c.GraceTick = 10 * time.Millisecond
	}
	if c.IdleRounds <= 0 {
		c.IdleRounds = 5
	}
	return c
}

// Tracker keeps the set of host operations a guest has started and not yet
// seen settle. Its size is what the drain uses to detect quiescence.
type Tracker struct {
	loop *EventLoop
	cfg  TrackerConfig

	mu       sync.Mutex
	inflight map[*PendingOp]struct{}
}

// NewTracker returns a tracker feeding loop.
func NewTracker(loop *EventLoop, cfg TrackerConfig) *Tracker {
	return &Tracker{
		loop:     loop,
		cfg:      cfg.withDefaults(),
		inflight: make(map[*PendingOp]struct{}),
	}
}

// Track adds op to the in-flight set and wraps its Deliver so the op drops
// out of the set once delivered, whatever the outcome. The op is returned
// for chaining into EventLoop.AddPending.
func (t *Tracker) Track(op *PendingOp) *PendingOp {
	t.mu.Lock()
	t.inflight[op] = struct{}{}
	t.mu.Unlock()

	deliver := op.Deliver
	op.Deliver = func(rt core.JSRuntime, res OpResult) {
		defer t.settle(op)
		if deliver != nil {
			deliver(rt, res)
		}
	}
	return op
}

func (t *Tracker) settle(op *PendingOp) {
	t.mu.Lock()
	delete(t.inflight, op)
	t.mu.Unlock()
}

// InFlight reports the number of tracked operations not yet delivered.
func (t *Tracker) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight)
}

func (t *Tracker) snapshot() []*PendingOp {
	t.mu.Lock()
	defer t.mu.Unlock()
	ops := make([]*PendingOp, 0, len(t.inflight))
	for op := range t.inflight {
		ops = append(ops, op)
	}
	return ops
}

func (t *Tracker) tracked(op *PendingOp) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.inflight[op]
	return ok
}

// Drain pumps the guest until the tracked work is quiescent, then returns.
// It must run on the guest goroutine. It gives up with an error wrapping
// ctx.Err() when ctx ends first.
func (t *Tracker) Drain(ctx context.Context, rt core.JSRuntime) error {
	if t.cfg.Mode == core.QuiescenceLatch {
		return t.drainLatch(ctx, rt)
	}
	return t.drainPolling(ctx, rt)
}

// drainPolling waits for every currently known operation, then one grace
// tick, and repeats; it stops after IdleRounds consecutive rounds with
// nothing in flight.
func (t *Tracker) drainPolling(ctx context.Context, rt core.JSRuntime) error {
	idle := 0
	for idle < t.cfg.IdleRounds {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("draining %d pending operations: %w", t.InFlight(), err)
		}
		if known := t.snapshot(); len(known) > 0 {
			idle = 0
			if err := t.awaitAll(ctx, rt, known); err != nil {
				return err
			}
		} else {
			idle++
		}
		t.loop.RunFor(rt, t.tick(ctx))
	}
	return nil
}

// awaitAll pumps the loop until none of known is still in flight.
func (t *Tracker) awaitAll(ctx context.Context, rt core.JSRuntime, known []*PendingOp) error {
	for _, op := range known {
		for t.tracked(op) {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("awaiting operation %s: %w", op.ID, err)
			}
			if !t.loop.Step(rt) {
				time.Sleep(time.Millisecond)
			}
		}
	}
	return nil
}

// drainLatch returns as soon as nothing is in flight and no timer is armed.
func (t *Tracker) drainLatch(ctx context.Context, rt core.JSRuntime) error {
	for {
		rt.RunMicrotasks()
		if t.InFlight() == 0 && !t.loop.HasTimers() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("draining %d pending operations: %w", t.InFlight(), err)
		}
		if !t.loop.Step(rt) {
			time.Sleep(time.Millisecond)
		}
	}
}

// tick is the grace tick clipped to the time left before ctx's deadline.
func (t *Tracker) tick(ctx context.Context) time.Duration {
	d := t.cfg.GraceTick
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < d {
			d = left
		}
	}
	if d < 0 {
		d = 0
	}
	return d
}
