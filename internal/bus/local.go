package bus

import (
	"context"
	"sync/atomic"
)

type subscription struct {
	id uint64
	h  Handler
}

// Local is an in-process bus for instances sharing one process.
//
// Concurrency model: a single internal loop owns the subscriber set; public
// methods talk to it through channels, so no mutexes are required.
type Local struct {
	subscribeCh   chan subscription
	unsubscribeCh chan uint64
	publishCh     chan Event

	nextID  atomic.Uint64
	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

var _ Bus = (*Local)(nil)

// NewLocal starts an in-process bus.
func NewLocal() *Local {
	b := &Local{
		subscribeCh:   make(chan subscription),
		unsubscribeCh: make(chan uint64),
		publishCh:     make(chan Event, 256),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Local) run() {
	defer close(b.stopped)

	handlers := make(map[uint64]Handler)
	for {
		select {
		case <-b.stopCh:
			return

		case s := <-b.subscribeCh:
			handlers[s.id] = s.h

		case id := <-b.unsubscribeCh:
			delete(handlers, id)

		case ev := <-b.publishCh:
			for _, h := range handlers {
				h(ev)
			}
		}
	}
}

// Close stops the delivery loop. Events still queued are dropped.
func (b *Local) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Publish queues ev for delivery.
func (b *Local) Publish(ctx context.Context, ev Event) error {
	if b.closed.Load() {
		return ErrClosed
	}
	select {
	case b.publishCh <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.stopped:
		return ErrClosed
	}
}

// Subscribe registers h; it is active when Subscribe returns.
func (b *Local) Subscribe(h Handler) func() {
	id := b.nextID.Add(1)
	if b.closed.Load() {
		return func() {}
	}
	select {
	case b.subscribeCh <- subscription{id: id, h: h}:
	case <-b.stopped:
		return func() {}
	}

	return func() {
		if b.closed.Load() {
			return
		}
		select {
		case b.unsubscribeCh <- id:
		case <-b.stopped:
		}
	}
}
