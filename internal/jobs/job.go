// Package jobs implements asynchronous file operations: primitive jobs used to
// replay compensating steps and composite jobs that report per-item progress.
package jobs

import (
	"context"
	"sync"
)

// Job is a handle on one asynchronous file operation.
type Job interface {
	// Done is closed once the job has finished, successfully or not.
	Done() <-chan struct{}
	// Err returns the job error. It is nil until Done is closed.
	Err() error
	// Kill aborts the job. A killed job still closes Done.
	Kill()
}

// CopyJob is a composite job (copy, move, link, trash, rename, mkdir) that
// reports each completed item on Events. The events channel is closed before
// Done; callers must drain it or the job stalls.
type CopyJob interface {
	Job
	Events() <-chan Event
	MetaData(key string) (string, bool)
}

// EventKind tells which per-item notification an Event carries.
type EventKind int

const (
	// CopyingDone reports a copied, moved or renamed file or directory.
	CopyingDone EventKind = iota + 1
	// CopyingLinkDone reports a symbolic link created at Dst pointing to Target.
	CopyingLinkDone
)

// Event is a per-item completion notification of a composite job.
type Event struct {
	Kind      EventKind
	Src       string
	Dst       string
	Target    string
	Directory bool
	Renamed   bool
}

type task struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	err    error
	events chan Event

	mu   sync.Mutex
	meta map[string]string
}

var _ CopyJob = (*task)(nil)

// start runs fn on its own goroutine. The events channel only exists for
// composite jobs.
func start(ctx context.Context, composite bool, fn func(t *task) error) *task {
	ctx, cancel := context.WithCancel(ctx)
	t := &task{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		meta:   make(map[string]string),
	}
	if composite {
		t.events = make(chan Event, 16)
	}

	go func() {
		err := fn(t)
		t.err = err
		if t.events != nil {
			close(t.events)
		}
		cancel()
		close(t.done)
	}()
	return t
}

func (t *task) Done() <-chan struct{} { return t.done }

func (t *task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

func (t *task) Kill() { t.cancel() }

func (t *task) Events() <-chan Event { return t.events }

func (t *task) MetaData(key string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.meta[key]
	return v, ok
}

func (t *task) setMetaData(key, value string) {
	t.mu.Lock()
	t.meta[key] = value
	t.mu.Unlock()
}

func (t *task) emit(ev Event) error {
	select {
	case t.events <- ev:
		return nil
	case <-t.ctx.Done():
		return t.ctx.Err()
	}
}
