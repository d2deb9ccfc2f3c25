package engine

import (
	"sync"
	"time"
)

// Pump is the shared signal queue used by Engine implementations.
// Producers enqueue from any goroutine; Drain dispatches queued signals
// to the connected handlers on the draining goroutine. A dedicated drain
// lock serializes concurrent drainers so each signal is delivered once.
type Pump struct {
	mu       sync.Mutex
	queue    []Signal
	handlers map[int]SignalHandler
	nextID   int
	closed   bool

	drainMu sync.Mutex
}

// NewPump returns an empty pump.
func NewPump() *Pump {
	return &Pump{handlers: make(map[int]SignalHandler)}
}

// Enqueue queues sig for the next drain. Signals enqueued after Close are
// dropped.
func (p *Pump) Enqueue(sig Signal) {
	if sig.Timestamp.IsZero() {
		sig.Timestamp = time.Now()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.queue = append(p.queue, sig)
}

// Connect registers handler and returns its removal function.
func (p *Pump) Connect(handler SignalHandler) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.handlers[id] = handler
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.handlers, id)
		p.mu.Unlock()
	}
}

// Drain dispatches all queued signals and returns how many were
// delivered. Handlers run on the calling goroutine, outside the queue
// lock, so they may evaluate script or enqueue further signals.
func (p *Pump) Drain() int {
	p.drainMu.Lock()
	defer p.drainMu.Unlock()

	p.mu.Lock()
	batch := p.queue
	p.queue = nil
	handlers := make([]SignalHandler, 0, len(p.handlers))
	for _, h := range p.handlers {
		handlers = append(handlers, h)
	}
	p.mu.Unlock()

	for _, sig := range batch {
		for _, h := range handlers {
			h(sig)
		}
	}
	return len(batch)
}

// Close drops queued signals and rejects future enqueues.
func (p *Pump) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.queue = nil
}
