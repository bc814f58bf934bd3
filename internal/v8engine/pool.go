//go:build v8

package v8engine

import "sync"

// isolatePool holds fresh isolates so a run skips isolate creation. An
// isolate serves one run and is disposed afterwards.
type isolatePool struct {
	isolates      chan *Runtime
	memoryLimitMB int

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func newIsolatePool(size, memoryLimitMB int) *isolatePool {
	p := &isolatePool{
		isolates:      make(chan *Runtime, size),
		memoryLimitMB: memoryLimitMB,
	}
	for i := 0; i < size; i++ {
		p.isolates <- NewRuntime(memoryLimitMB)
	}
	return p
}

func (p *isolatePool) get() *Runtime {
	select {
	case rt := <-p.isolates:
		p.refill()
		return rt
	default:
		return NewRuntime(p.memoryLimitMB)
	}
}

func (p *isolatePool) refill() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		rt := NewRuntime(p.memoryLimitMB)
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.closed {
			rt.Close()
			return
		}
		select {
		case p.isolates <- rt:
		default:
			rt.Close()
		}
	}()
}

func (p *isolatePool) dispose() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
	for {
		select {
		case rt := <-p.isolates:
			rt.Close()
		default:
			return
		}
	}
}
