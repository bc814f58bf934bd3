//go:build !v8

package quickjs

import (
	"fmt"
	"sync"
)

// warmPool keeps a few fresh guests ready so a run does not pay for VM
// creation. Guests are single use: a run takes one and closes it, and the
// pool refills in the background.
type warmPool struct {
	guests        chan *Runtime
	memoryLimitMB int

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func newWarmPool(size, memoryLimitMB int) (*warmPool, error) {
	p := &warmPool{
		guests:        make(chan *Runtime, size),
		memoryLimitMB: memoryLimitMB,
	}
	for i := 0; i < size; i++ {
		rt, err := NewRuntime(memoryLimitMB)
		if err != nil {
			p.dispose()
			return nil, fmt.Errorf("creating pool guest %d: %w", i, err)
		}
		p.guests <- rt
	}
	return p, nil
}

// get returns a ready guest, or creates one when the pool is empty.
func (p *warmPool) get() (*Runtime, error) {
	select {
	case rt := <-p.guests:
		p.refill()
		return rt, nil
	default:
		return NewRuntime(p.memoryLimitMB)
	}
}

func (p *warmPool) refill() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		rt, err := NewRuntime(p.memoryLimitMB)
		if err != nil {
			return
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.closed {
			rt.Close()
			return
		}
		select {
		case p.guests <- rt:
		default:
			rt.Close()
		}
	}()
}

// dispose closes every pooled guest and stops refilling.
func (p *warmPool) dispose() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
	for {
		select {
		case rt := <-p.guests:
			rt.Close()
		default:
			return
		}
	}
}
