package bus

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startSpool(t *testing.T, dir string) *Spool {
	t.Helper()
	s, err := NewSpool(dir, time.Minute, quietLogger())
	if err != nil {
		t.Fatalf("NewSpool: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s
}

func TestSpool_DeliversAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	a := startSpool(t, dir)
	b := startSpool(t, dir)

	var gotA, gotB collector
	a.Subscribe(gotA.handle)
	b.Subscribe(gotB.handle)

	ctx := context.Background()
	if err := a.Publish(ctx, Event{Topic: TopicPush, Payload: []byte{1, 2, 3}, Origin: "a"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := a.Publish(ctx, Event{Topic: TopicPop, Origin: "a"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for _, c := range []*collector{&gotA, &gotB} {
		topics := waitLen(t, c, 2)
		if topics[0] != TopicPush || topics[1] != TopicPop {
			t.Errorf("order = %v", topics)
		}
	}

	gotB.mu.Lock()
	ev := gotB.evs[0]
	gotB.mu.Unlock()
	if ev.Origin != "a" || len(ev.Payload) != 3 || ev.Payload[2] != 3 {
		t.Errorf("event = %+v", ev)
	}
}

func TestSpool_IgnoresFilesPresentAtStart(t *testing.T) {
	dir := t.TempDir()
	old, err := NewSpool(dir, time.Minute, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := old.Publish(context.Background(), Event{Topic: TopicLock, Origin: "old"}); err != nil {
		t.Fatal(err)
	}
	old.watcher.Close()

	s := startSpool(t, dir)
	var got collector
	s.Subscribe(got.handle)

	if err := s.Publish(context.Background(), Event{Topic: TopicUnlock, Origin: "new"}); err != nil {
		t.Fatal(err)
	}
	topics := waitLen(t, &got, 1)
	time.Sleep(50 * time.Millisecond)
	if topics = got.topics(); len(topics) != 1 || topics[0] != TopicUnlock {
		t.Errorf("delivered %v, want only unlock", topics)
	}
}

func TestSpool_SkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	s := startSpool(t, dir)
	var got collector
	s.Subscribe(got.handle)

	if err := os.WriteFile(filepath.Join(dir, "00000000000000000001-junk.evt"), []byte("not zstd"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.Publish(context.Background(), Event{Topic: TopicPop, Origin: "x"}); err != nil {
		t.Fatal(err)
	}
	topics := waitLen(t, &got, 1)
	if topics[0] != TopicPop {
		t.Errorf("delivered %v", topics)
	}
}

func TestSpool_Prune(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSpool(dir, time.Minute, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer s.watcher.Close()

	if err := s.Publish(context.Background(), Event{Topic: TopicPop}); err != nil {
		t.Fatal(err)
	}
	s.deliverPending()

	entries, _ := os.ReadDir(dir)
	var name string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), spoolExt) {
			name = e.Name()
		}
	}
	if name == "" {
		t.Fatal("no spool file written")
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(filepath.Join(dir, name), past, past); err != nil {
		t.Fatal(err)
	}

	s.prune()
	if _, err := os.Stat(filepath.Join(dir, name)); !os.IsNotExist(err) {
		t.Errorf("expired file not pruned: %v", err)
	}
}
