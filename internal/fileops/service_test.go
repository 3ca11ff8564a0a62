package fileops

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/starford/rewind/internal/apperr"
	"github.com/starford/rewind/internal/testutil"
	"github.com/starford/rewind/internal/undo"
)

func testService(t *testing.T) (string, *Service, *undo.Manager) {
	t.Helper()
	root, engine := testutil.Engine(t)
	m, err := undo.New(engine, undo.WithLogger(testutil.Logger()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(m.Close)
	return root, NewService(engine, m, testutil.Logger()), m
}

func TestRun_RecordsCommand(t *testing.T) {
	root, svc, m := testService(t)
	testutil.WriteFiles(t, root, map[string]string{"a/f": "f", "b/.keep": ""})

	cmd, err := svc.Run(context.Background(), Request{
		Type:        undo.Copy,
		Sources:     []string{filepath.Join(root, "a/f")},
		Destination: filepath.Join(root, "b"),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if cmd.Type != undo.Copy || len(cmd.Operations) != 1 {
		t.Errorf("command = %+v", cmd)
	}
	if got := testutil.ReadFile(t, root, "b/f"); got != "f" {
		t.Errorf("copy content = %q", got)
	}
	if !m.UndoAvailable() || m.UndoText() != "Undo: Copy" {
		t.Error("command not recorded")
	}
}

func TestRun_TrashRecordsTrashDestination(t *testing.T) {
	root, svc, m := testService(t)
	testutil.WriteFiles(t, root, map[string]string{"a/f": "f"})

	cmd, err := svc.Run(context.Background(), Request{
		Type:    undo.Trash,
		Sources: []string{filepath.Join(root, "a/f")},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if cmd.Destination != TrashDestination {
		t.Errorf("destination = %q", cmd.Destination)
	}
	if m.History()[0].Operations[0].Dst != filepath.Join(root, ".trash", "f") {
		t.Errorf("recorded trash location = %q", m.History()[0].Operations[0].Dst)
	}
}

func TestRun_Validation(t *testing.T) {
	_, svc, _ := testService(t)
	cases := map[string]Request{
		"copy without destination": {Type: undo.Copy, Sources: []string{"/a"}},
		"move without sources":     {Type: undo.Move, Destination: "/b"},
		"rename two sources":       {Type: undo.Rename, Sources: []string{"/a", "/b"}, Destination: "/c"},
		"mkdir with sources":       {Type: undo.Mkdir, Sources: []string{"/a"}, Destination: "/c"},
		"trash empty source":       {Type: undo.Trash, Sources: []string{""}},
		"unknown type":             {Type: undo.CommandType(9), Destination: "/c"},
	}
	for name, req := range cases {
		_, err := svc.Run(context.Background(), req)
		if !errors.Is(err, apperr.ErrInvalidArgument) {
			t.Errorf("%s: err = %v, want ErrInvalidArgument", name, err)
		}
	}
}

func TestRun_ErrorClassification(t *testing.T) {
	root, svc, m := testService(t)
	testutil.WriteFiles(t, root, map[string]string{"a/f": "f", "b/f": "exists"})

	_, err := svc.Run(context.Background(), Request{
		Type:        undo.Move,
		Sources:     []string{filepath.Join(root, "a/missing")},
		Destination: filepath.Join(root, "b"),
	})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing source: %v", err)
	}

	_, err = svc.Run(context.Background(), Request{
		Type:        undo.Copy,
		Sources:     []string{filepath.Join(root, "a/f")},
		Destination: filepath.Join(root, "b"),
	})
	if !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("existing destination: %v", err)
	}

	_, err = svc.Run(context.Background(), Request{Type: undo.Mkdir, Destination: "/etc/rewind-outside"})
	if !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("outside root: %v", err)
	}

	if m.UndoAvailable() {
		t.Error("failed operations were recorded")
	}
}
