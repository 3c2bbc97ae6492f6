package trace

import (
	"sync"
	"sync/atomic"
)

// AsyncEmitter decouples trace writes from the turn. Events are handed
// to the inner emitter on a background goroutine; when the buffer is
// full the event is dropped and counted rather than stalling the call.
type AsyncEmitter struct {
	inner   Emitter
	mu      sync.RWMutex
	ch      chan Event
	dropped int64
	closed  bool
	once    sync.Once
	done    chan struct{}
}

func NewAsyncEmitter(inner Emitter, buffer int) *AsyncEmitter {
	if buffer <= 0 {
		buffer = 256
	}
	a := &AsyncEmitter{
		inner: inner,
		ch:    make(chan Event, buffer),
		done:  make(chan struct{}),
	}
	go a.loop()
	return a
}

// RecordEvent buffers the event for the background loop. The read lock
// pins the channel open so a concurrent Close cannot close it between
// the closed check and the send.
func (a *AsyncEmitter) RecordEvent(ev Event) {
	if a == nil {
		return
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.ch <- ev:
	default:
		atomic.AddInt64(&a.dropped, 1)
	}
}

// RecordEventSync bypasses the buffer and writes the event before
// returning. Used for the per-turn outcome event, which must be durable
// before the reply leaves the process. Safe alongside the drain loop
// because the sinks serialize their own writes.
func (a *AsyncEmitter) RecordEventSync(ev Event) {
	if a == nil {
		return
	}
	a.mu.RLock()
	closed := a.closed
	a.mu.RUnlock()
	if closed {
		return
	}
	a.inner.RecordEvent(ev)
}

func (a *AsyncEmitter) Dropped() int64 {
	return atomic.LoadInt64(&a.dropped)
}

// Close stops the loop after draining buffered events. Recording after
// Close is a no-op.
func (a *AsyncEmitter) Close() {
	if a == nil {
		return
	}
	a.once.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.ch)
		a.mu.Unlock()
		<-a.done
	})
}

func (a *AsyncEmitter) loop() {
	defer close(a.done)
	for ev := range a.ch {
		a.inner.RecordEvent(ev)
	}
}
