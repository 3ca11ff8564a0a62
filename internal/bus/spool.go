package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

const spoolExt = ".evt"

type envelope struct {
	Event
	SentAt time.Time `json:"sent_at"`
}

// Spool is a bus shared by separate processes through a directory. Each
// event is one zstd-compressed JSON file, written atomically and named so that
// lexical order is publish order. Every process watches the directory and
// delivers new files to its subscribers.
type Spool struct {
	dir       string
	retention time.Duration
	logger    *slog.Logger

	watcher *fsnotify.Watcher
	encoder *zstd.Encoder
	decoder *zstd.Decoder

	mu       sync.Mutex
	handlers map[uint64]Handler
	nextID   uint64
	seen     map[string]struct{}
}

var _ Bus = (*Spool)(nil)

// NewSpool opens the spool directory, creating it if needed, and starts
// watching it. Events are delivered once Run is called; files older than
// retention are pruned while running.
func NewSpool(dir string, retention time.Duration, logger *slog.Logger) (*Spool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if retention <= 0 {
		retention = 10 * time.Minute
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("bus: resolve spool dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("bus: create spool dir: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("bus: watcher: %w", err)
	}
	if err := w.Add(abs); err != nil {
		w.Close()
		return nil, fmt.Errorf("bus: watch %s: %w", abs, err)
	}

	encoder, _ := zstd.NewWriter(nil)
	decoder, _ := zstd.NewReader(nil)

	s := &Spool{
		dir:       abs,
		retention: retention,
		logger:    logger,
		watcher:   w,
		encoder:   encoder,
		decoder:   decoder,
		handlers:  make(map[uint64]Handler),
		seen:      make(map[string]struct{}),
	}

	// Files already present were delivered before this process started.
	entries, _ := os.ReadDir(abs)
	for _, e := range entries {
		s.seen[e.Name()] = struct{}{}
	}
	return s, nil
}

// Publish writes ev as a new spool file: tmp file → rename.
func (s *Spool) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := time.Now()
	data, err := json.Marshal(envelope{Event: ev, SentAt: now})
	if err != nil {
		return fmt.Errorf("bus: encode event: %w", err)
	}
	compressed := s.encoder.EncodeAll(data, nil)

	tmp, err := os.CreateTemp(s.dir, ".spool-tmp-*")
	if err != nil {
		return fmt.Errorf("bus: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(compressed); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("bus: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("bus: close temp: %w", err)
	}

	name := fmt.Sprintf("%020d-%s%s", now.UnixNano(), uuid.NewString(), spoolExt)
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("bus: publish: %w", err)
	}
	s.logger.Debug("bus: published", slog.String("topic", string(ev.Topic)), slog.String("file", name))
	return nil
}

// Subscribe registers h for events delivered by Run.
func (s *Spool) Subscribe(h Handler) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.handlers[id] = h
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.handlers, id)
		s.mu.Unlock()
	}
}

// Run delivers spool files until ctx is cancelled, then closes the watcher.
func (s *Spool) Run(ctx context.Context) error {
	defer s.watcher.Close()

	prune := time.NewTicker(s.retention / 2)
	defer prune.Stop()

	s.logger.Info("bus: spool started", slog.String("dir", s.dir))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("bus: spool stopped")
			return nil

		case <-prune.C:
			s.prune()

		case ev, ok := <-s.watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create == 0 {
				continue
			}
			// A burst of renames may be reported out of order; deliver
			// everything new in name order.
			s.deliverPending()

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("bus: watcher error", slog.String("error", err.Error()))
			s.deliverPending()
		}
	}
}

func (s *Spool) deliverPending() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn("bus: read spool", slog.String("error", err.Error()))
		return
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, spoolExt) {
			continue
		}
		if _, ok := s.seen[name]; ok {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		s.seen[name] = struct{}{}
		ev, err := s.read(name)
		if err != nil {
			s.logger.Warn("bus: skip spool file", slog.String("file", name), slog.String("error", err.Error()))
			continue
		}
		s.dispatch(ev)
	}
}

func (s *Spool) read(name string) (Event, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return Event{}, err
	}
	data, err := s.decoder.DecodeAll(raw, nil)
	if err != nil {
		return Event{}, fmt.Errorf("decompress: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("decode: %w", err)
	}
	return env.Event, nil
}

func (s *Spool) dispatch(ev Event) {
	s.mu.Lock()
	hs := make([]Handler, 0, len(s.handlers))
	for _, h := range s.handlers {
		hs = append(hs, h)
	}
	s.mu.Unlock()

	for _, h := range hs {
		h(ev)
	}
}

// prune removes delivered files older than the retention window.
func (s *Spool) prune() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-s.retention)
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if _, ok := s.seen[e.Name()]; !ok {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err == nil {
			delete(s.seen, e.Name())
			s.logger.Debug("bus: pruned", slog.String("file", e.Name()))
		}
	}
}
