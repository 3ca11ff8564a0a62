package undo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/starford/rewind/internal/apperr"
	"github.com/starford/rewind/internal/bus"
	"github.com/starford/rewind/internal/jobs"
)

// Engine issues the compensating jobs of an undo session.
type Engine interface {
	Mkdir(ctx context.Context, loc string) jobs.Job
	Rename(ctx context.Context, src, dst string, overwrite bool) jobs.Job
	Move(ctx context.Context, src, dst string, overwrite bool) jobs.Job
	Delete(ctx context.Context, loc string) jobs.Job
	Rmdir(ctx context.Context, loc string) jobs.Job
	Symlink(ctx context.Context, target, dst string, overwrite bool) jobs.Job
}

var _ Engine = (*jobs.Local)(nil)

// HistoryStore persists the history between runs.
type HistoryStore interface {
	Load() ([]Command, error)
	Save(cmds []Command) error
}

// ErrStopped is the Result error of an undo session cancelled by StopUndo.
var ErrStopped = errors.New("undo: stopped")

type jobResult struct {
	job jobs.Job
	err error
}

// Manager owns the undo history and runs undo sessions.
//
// Concurrency model: one loop goroutine owns the history, the lock flag and
// the session. Public methods, job completions and bus deliveries are handed
// to the loop, so at most one compensating job is ever in flight.
//
// Lifetime: New returns a Manager holding one owner reference. Recorders and
// undo sessions take their own reference through Acquire; the loop stops when
// the last reference is released.
type Manager struct {
	engine   Engine
	bus      bus.Bus
	store    HistoryStore
	logger   *slog.Logger
	onSignal func(Signal)
	origin   string

	ctx    context.Context
	cancel context.CancelFunc

	reqCh       chan func()
	resultCh    chan jobResult
	wake        chan struct{}
	inboxMu     sync.Mutex
	inbox       []bus.Event
	unsubscribe func()

	refs      atomic.Int64
	closeOnce sync.Once
	stopCh    chan struct{}
	stopped   chan struct{}

	// Owned by the loop.
	commands []Command
	locked   bool
	pending  []Command
	session  *session
}

// New starts a Manager issuing compensating jobs through engine.
func New(engine Engine, opts ...Option) (*Manager, error) {
	m := &Manager{
		engine:   engine,
		origin:   uuid.NewString(),
		reqCh:    make(chan func()),
		resultCh: make(chan jobResult),
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.engine == nil {
		return nil, fmt.Errorf("undo: engine is required")
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With(slog.String("instance", m.origin))

	if m.store != nil {
		cmds, err := m.store.Load()
		if err != nil {
			return nil, fmt.Errorf("undo: load history: %w", err)
		}
		m.commands = cmds
		m.logger.Info("undo: history loaded", slog.Int("commands", len(cmds)))
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.refs.Store(1)
	if m.bus != nil {
		m.unsubscribe = m.bus.Subscribe(m.deliver)
	}

	go m.run()
	return m, nil
}

// Acquire takes a reference that keeps the manager running until the returned
// func is called. Acquiring a stopped manager returns a no-op.
func (m *Manager) Acquire() (release func()) {
	for {
		n := m.refs.Load()
		if n == 0 {
			return func() {}
		}
		if m.refs.CompareAndSwap(n, n+1) {
			break
		}
	}
	var once sync.Once
	return func() { once.Do(m.release) }
}

func (m *Manager) release() {
	if m.refs.Add(-1) == 0 {
		close(m.stopCh)
	}
}

// Close drops the owner reference. The manager keeps running while recorders
// or an undo session still hold a reference; see Stopped.
func (m *Manager) Close() {
	m.closeOnce.Do(m.release)
}

// Stopped is closed once the manager loop has exited.
func (m *Manager) Stopped() <-chan struct{} {
	return m.stopped
}

func (m *Manager) run() {
	defer close(m.stopped)

	for {
		select {
		case <-m.stopCh:
			m.shutdown()
			return

		case fn := <-m.reqCh:
			fn()

		case res := <-m.resultCh:
			m.slotResult(res)

		case <-m.wake:
			m.drainInbox()
		}
	}
}

func (m *Manager) shutdown() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	if s := m.session; s != nil && s.current != nil {
		s.current.Kill()
	}
	m.cancel()
	m.logger.Debug("undo: manager stopped")
}

// call runs fn on the loop and waits for it.
func (m *Manager) call(fn func()) error {
	done := make(chan struct{})
	select {
	case m.reqCh <- func() { defer close(done); fn() }:
	case <-m.stopped:
		return apperr.ErrClosed
	}
	<-done
	return nil
}

// deliver queues a bus event for the loop without blocking the bus.
func (m *Manager) deliver(ev bus.Event) {
	m.inboxMu.Lock()
	m.inbox = append(m.inbox, ev)
	m.inboxMu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) drainInbox() {
	m.inboxMu.Lock()
	evs := m.inbox
	m.inbox = nil
	m.inboxMu.Unlock()

	for _, ev := range evs {
		m.apply(ev)
	}
}

func (m *Manager) apply(ev bus.Event) {
	switch ev.Topic {
	case bus.TopicPush:
		var cmd Command
		if err := cmd.UnmarshalBinary(ev.Payload); err != nil {
			m.logger.Error("undo: drop push", slog.String("origin", ev.Origin), slog.String("error", err.Error()))
			return
		}
		if err := cmd.Validate(); err != nil {
			m.logger.Warn("undo: drop invalid command",
				slog.String("origin", ev.Origin),
				slog.String("type", cmd.Type.String()),
				slog.String("error", err.Error()))
			return
		}
		m.pushCommand(cmd)
	case bus.TopicPop:
		m.popCommand()
	case bus.TopicLock:
		m.setLocked(true)
	case bus.TopicUnlock:
		m.setLocked(false)
	default:
		m.logger.Warn("undo: unknown topic", slog.String("topic", string(ev.Topic)))
	}
}

func (m *Manager) emit(sig Signal) {
	if m.onSignal != nil {
		m.onSignal(sig)
	}
}

func (m *Manager) emitState() {
	m.emit(Signal{Kind: SignalUndoAvailable, Available: m.undoAvailable()})
	m.emit(Signal{Kind: SignalUndoTextChanged, Text: m.undoText()})
}

func (m *Manager) persist() {
	if m.store == nil {
		return
	}
	if err := m.store.Save(slices.Clone(m.commands)); err != nil {
		m.logger.Error("undo: save history", slog.String("error", err.Error()))
	}
}

func (m *Manager) pushCommand(cmd Command) {
	m.commands = append(m.commands, cmd)
	m.logger.Debug("undo: pushed", slog.String("type", cmd.Type.String()), slog.Int("depth", len(m.commands)))
	m.persist()
	m.emitState()
}

func (m *Manager) popCommand() {
	if len(m.commands) == 0 {
		m.logger.Warn("undo: pop on empty history")
		return
	}
	m.commands = m.commands[:len(m.commands)-1]
	m.persist()
	m.emitState()
}

func (m *Manager) setLocked(locked bool) {
	m.locked = locked
	m.emit(Signal{Kind: SignalUndoAvailable, Available: m.undoAvailable()})
	if !locked {
		m.flushPending()
	}
}

// flushPending publishes the commands added while the history was locked.
func (m *Manager) flushPending() {
	if m.locked || m.session != nil || len(m.pending) == 0 {
		return
	}
	pending := m.pending
	m.pending = nil
	for _, cmd := range pending {
		m.broadcastPush(cmd)
	}
}

func (m *Manager) publish(topic bus.Topic, payload []byte) {
	ev := bus.Event{Topic: topic, Payload: payload, Origin: m.origin}
	if err := m.bus.Publish(m.ctx, ev); err != nil {
		m.logger.Error("undo: broadcast failed", slog.String("topic", string(topic)), slog.String("error", err.Error()))
	}
}

func (m *Manager) broadcastPush(cmd Command) {
	if m.bus == nil {
		m.pushCommand(cmd)
		return
	}
	payload, err := cmd.MarshalBinary()
	if err != nil {
		m.logger.Error("undo: encode command", slog.String("error", err.Error()))
		return
	}
	m.publish(bus.TopicPush, payload)
}

func (m *Manager) broadcastPop() {
	if m.bus == nil {
		m.popCommand()
		return
	}
	m.publish(bus.TopicPop, nil)
}

func (m *Manager) broadcastLock() {
	if m.bus == nil {
		m.setLocked(true)
		return
	}
	m.publish(bus.TopicLock, nil)
}

func (m *Manager) broadcastUnlock() {
	if m.bus == nil {
		m.setLocked(false)
		return
	}
	m.publish(bus.TopicUnlock, nil)
}

func (m *Manager) undoAvailable() bool {
	return len(m.commands) > 0 && !m.locked
}

func (m *Manager) undoText() string {
	if len(m.commands) == 0 {
		return DefaultLabel
	}
	return Label(m.commands[len(m.commands)-1].Type)
}

// AddCommand pushes a complete command onto the history (broadcast in
// synchronized mode). While the history is locked the push is deferred until
// it is unlocked.
func (m *Manager) AddCommand(cmd Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	cmd = cmd.Clone()
	return m.call(func() {
		if m.locked || m.session != nil {
			m.logger.Debug("undo: push deferred while locked", slog.String("type", cmd.Type.String()))
			m.pending = append(m.pending, cmd)
			return
		}
		m.broadcastPush(cmd)
	})
}

// UndoAvailable reports whether Undo can start: the history is not empty and
// no instance is undoing.
func (m *Manager) UndoAvailable() bool {
	var ok bool
	_ = m.call(func() { ok = m.undoAvailable() })
	return ok
}

// UndoText returns the label for the next undo.
func (m *Manager) UndoText() string {
	text := DefaultLabel
	_ = m.call(func() { text = m.undoText() })
	return text
}

// History returns a copy of the history, oldest command first.
func (m *Manager) History() []Command {
	var out []Command
	_ = m.call(func() {
		out = make([]Command, len(m.commands))
		for i, c := range m.commands {
			out[i] = c.Clone()
		}
	})
	return out
}

// Locked reports whether an undo is running in this or a peer instance.
func (m *Manager) Locked() bool {
	var locked bool
	_ = m.call(func() { locked = m.locked || m.session != nil })
	return locked
}

// Undo starts undoing the newest command and returns once the first
// compensating job is issued. Completion is reported by a
// SignalUndoJobFinished signal. It returns apperr.ErrUnavailable when
// UndoAvailable is false or a session is already running.
func (m *Manager) Undo() error {
	var err error
	if callErr := m.call(func() { err = m.startUndo() }); callErr != nil {
		return callErr
	}
	return err
}

// StopUndo aborts the running undo session: queued work is dropped, the
// in-flight job is killed and, when step is set, the session runs to its
// terminal step.
func (m *Manager) StopUndo(step bool) error {
	return m.call(func() {
		s := m.session
		if s == nil {
			return
		}
		if s.err == nil {
			s.err = ErrStopped
		}
		m.logger.Info("undo: stopping", slog.String("state", s.state.String()))
		m.stopUndo(step)
	})
}

func (m *Manager) startUndo() error {
	if m.session != nil || !m.undoAvailable() {
		return apperr.ErrUnavailable
	}
	cmd := m.commands[len(m.commands)-1].Clone()
	m.broadcastPop()
	m.broadcastLock()

	s := newSession(cmd)
	s.release = m.Acquire()
	m.session = s

	m.logger.Info("undo: started",
		slog.String("type", cmd.Type.String()),
		slog.String("destination", cmd.Destination),
		slog.Int("operations", len(cmd.Operations)))
	m.undoStep()
	return nil
}

func (m *Manager) stopUndo(step bool) {
	s := m.session
	s.cmd.Operations = nil
	s.dirStack = nil
	s.dirCleanup = nil
	s.fileCleanup = nil
	s.state = stateRemovingDirs

	if s.current != nil {
		s.current.Kill()
		if !step {
			// The killed job's completion takes the session to its end.
			return
		}
		s.current = nil
	}
	if step {
		m.undoStep()
	}
}

func (m *Manager) watch(j jobs.Job) {
	go func() {
		<-j.Done()
		select {
		case m.resultCh <- jobResult{job: j, err: j.Err()}:
		case <-m.stopped:
		}
	}()
}

func (m *Manager) slotResult(res jobResult) {
	s := m.session
	if s == nil || s.current == nil || res.job != s.current {
		// Completion of a job killed by StopUndo(true).
		return
	}
	s.current = nil

	if res.err != nil && s.state == stateRemovingDirs && s.err != nil {
		// Killed by StopUndo(false); queues are already cleared.
		m.logger.Debug("undo: killed job finished", slog.String("error", res.err.Error()))
	} else if res.err != nil {
		m.logger.Error("undo: step failed",
			slog.String("state", s.state.String()),
			slog.Int("completed_steps", s.steps),
			slog.String("error", res.err.Error()))
		s.err = res.err
		m.stopUndo(false)
	} else {
		s.steps++
	}
	m.undoStep()
}

// undoStep runs the handler of the current state. A handler either issues one
// job, and the step ends until that job completes, or reports that its queue
// is empty, and the next state's handler runs right away.
func (m *Manager) undoStep() {
	s := m.session
	for s.state != stateDone {
		next, job := stepHandlers[s.state](m, s)
		if job != nil {
			s.current = job
			m.watch(job)
			return
		}
		s.state = next
	}
	m.finishUndo()
}

func (m *Manager) finishUndo() {
	s := m.session
	m.session = nil
	s.cmd.Valid = false

	for _, dir := range s.dirsToUpdate {
		m.emit(Signal{Kind: SignalFilesAdded, Dir: dir})
	}

	res := Result{Command: s.original, Steps: s.steps, Err: s.err}
	if s.err != nil {
		m.logger.Warn("undo: aborted", slog.Int("completed_steps", s.steps), slog.String("error", s.err.Error()))
	} else {
		m.logger.Info("undo: finished", slog.Int("steps", s.steps))
	}
	m.emit(Signal{Kind: SignalUndoJobFinished, Result: res})

	m.broadcastUnlock()
	s.release()
}

// parentDir returns the directory containing loc; loc may be a path or URL.
func parentDir(loc string) string {
	if strings.Contains(loc, "://") {
		if u, err := url.Parse(loc); err == nil {
			u.Path = path.Dir(u.Path)
			return u.String()
		}
	}
	return path.Dir(loc)
}

// urlPath returns the path component of loc.
func urlPath(loc string) string {
	if strings.Contains(loc, "://") {
		if u, err := url.Parse(loc); err == nil {
			return u.Path
		}
	}
	return loc
}
