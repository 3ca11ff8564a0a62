package undo

import (
	"log/slog"

	"github.com/starford/rewind/internal/bus"
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger; slog.Default is used otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithBus enables synchronized mode: history changes are published on b and
// applied when they are delivered back. Without a bus they apply directly.
func WithBus(b bus.Bus) Option {
	return func(m *Manager) {
		m.bus = b
	}
}

// WithHistory loads the history from s at start and saves it after every
// change.
func WithHistory(s HistoryStore) Option {
	return func(m *Manager) {
		m.store = s
	}
}

// WithSignalHandler registers fn for manager signals. fn runs on the manager
// loop: it must return quickly and must not call back into the Manager.
func WithSignalHandler(fn func(Signal)) Option {
	return func(m *Manager) {
		m.onSignal = fn
	}
}
