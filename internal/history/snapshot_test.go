package history

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/starford/rewind/internal/apperr"
	"github.com/starford/rewind/internal/undo"
)

func TestExportImport(t *testing.T) {
	src := testStore(t)
	if err := src.Save(sampleCommands()); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	n, err := src.Export(&buf)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if n != 2 {
		t.Errorf("exported %d commands, want 2", n)
	}

	dst := testStore(t)
	n, err = dst.Import(&buf)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if n != 2 {
		t.Errorf("imported %d commands, want 2", n)
	}
	got, err := dst.Load()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, sampleCommands()) {
		t.Errorf("got %+v\nwant %+v", got, sampleCommands())
	}
}

func TestExport_Empty(t *testing.T) {
	s := testStore(t)
	var buf bytes.Buffer
	if _, err := s.Export(&buf); err != nil {
		t.Fatal(err)
	}
	cmds, err := undo.UnmarshalHistory(buf.Bytes())
	if err != nil || len(cmds) != 0 {
		t.Errorf("cmds = %+v, err = %v", cmds, err)
	}
}

func TestImport_Malformed(t *testing.T) {
	s := testStore(t)
	if err := s.Save(sampleCommands()); err != nil {
		t.Fatal(err)
	}
	_, err := s.Import(bytes.NewReader([]byte{0, 0, 0, 9}))
	if !errors.Is(err, undo.ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
	if got, _ := s.Load(); len(got) != 2 {
		t.Errorf("history changed after failed import: %+v", got)
	}
}

func TestImport_RejectsCommandThatCannotBeUndone(t *testing.T) {
	s := testStore(t)
	if err := s.Save(sampleCommands()); err != nil {
		t.Fatal(err)
	}
	snapshot := undo.MarshalHistory([]undo.Command{
		sampleCommands()[1],
		{Valid: true, Type: undo.Move, Operations: []undo.BasicOperation{{Src: "/a/f", Dst: "/b/f"}}},
	})
	_, err := s.Import(bytes.NewReader(snapshot))
	if !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
	if got, _ := s.Load(); len(got) != 2 {
		t.Errorf("history changed after rejected import: %+v", got)
	}
}
