package history

import (
	"testing"
	"time"

	"github.com/starford/rewind/internal/testutil"
	"github.com/starford/rewind/internal/undo"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(testutil.DBPath(t), testutil.Logger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleCommands() []undo.Command {
	return []undo.Command{
		{
			Valid:       true,
			Type:        undo.Copy,
			Sources:     []string{"/a/f1"},
			Destination: "/b",
			Operations:  []undo.BasicOperation{{Valid: true, Src: "/a/f1", Dst: "/b/f1"}},
		},
		{
			Valid:       true,
			Type:        undo.Mkdir,
			Destination: "/newdir",
		},
	}
}

func TestSchemaCreation(t *testing.T) {
	s := testStore(t)
	var count int
	if err := s.conn.QueryRow(`SELECT count(*) FROM commands`).Scan(&count); err != nil {
		t.Fatalf("commands table missing: %v", err)
	}
}

func TestSaveLoad(t *testing.T) {
	s := testStore(t)
	want := sampleCommands()
	if err := s.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("loaded %d commands, want 2", len(got))
	}
	if got[0].Type != undo.Copy || got[1].Type != undo.Mkdir {
		t.Errorf("order = %v, %v", got[0].Type, got[1].Type)
	}
	if got[0].Operations[0].Dst != "/b/f1" {
		t.Errorf("operation dst = %q", got[0].Operations[0].Dst)
	}
	if got[1].Destination != "/newdir" {
		t.Errorf("destination = %q", got[1].Destination)
	}
}

func TestSaveReplaces(t *testing.T) {
	s := testStore(t)
	if err := s.Save(sampleCommands()); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(sampleCommands()[:1]); err != nil {
		t.Fatal(err)
	}
	got, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("loaded %d commands, want 1", len(got))
	}

	if err := s.Save(nil); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Load()
	if len(got) != 0 {
		t.Errorf("loaded %d commands after empty save", len(got))
	}
}

func TestLoadSkipsCorruptRows(t *testing.T) {
	s := testStore(t)
	if err := s.Save(sampleCommands()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.conn.Exec(`UPDATE commands SET checksum = 'bad' WHERE position = 0`); err != nil {
		t.Fatal(err)
	}
	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 1 || got[0].Type != undo.Mkdir {
		t.Errorf("got %+v, want only the mkdir command", got)
	}
}

func TestLoadSkipsCommandsThatCannotBeUndone(t *testing.T) {
	s := testStore(t)
	cmds := sampleCommands()
	broken := undo.Command{
		Valid:       true,
		Type:        undo.Move,
		Destination: "/b",
		Operations:  []undo.BasicOperation{{Src: "/a/f", Dst: "/b/f"}},
	}
	mixed := undo.Command{
		Valid:      true,
		Type:       undo.Copy,
		Operations: []undo.BasicOperation{{Valid: true, Directory: true, Link: true, Src: "/a/l", Dst: "/b/l"}},
	}
	if err := s.Save(append(cmds, broken, mixed)); err != nil {
		t.Fatal(err)
	}
	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 2 || got[0].Type != undo.Copy || got[1].Type != undo.Mkdir {
		t.Errorf("got %+v, want only the two sample commands", got)
	}
}

func TestList(t *testing.T) {
	s := testStore(t)
	if err := s.Save(sampleCommands()); err != nil {
		t.Fatal(err)
	}
	rows, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0].Position != 1 || rows[0].Type != "mkdir" {
		t.Errorf("newest row = %+v", rows[0])
	}
	if rows[1].Checksum == "" {
		t.Error("checksum not stored")
	}

	if err := s.Clear(); err != nil {
		t.Fatal(err)
	}
	rows, _ = s.List()
	if len(rows) != 0 {
		t.Errorf("rows after clear = %d", len(rows))
	}
}

func TestManagerHistorySurvivesRestart(t *testing.T) {
	_, engine := testutil.Engine(t)
	path := testutil.DBPath(t)

	s, err := Open(path, testutil.Logger())
	if err != nil {
		t.Fatal(err)
	}
	m, err := undo.New(engine, undo.WithHistory(s), undo.WithLogger(testutil.Logger()))
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range sampleCommands() {
		if err := m.AddCommand(c); err != nil {
			t.Fatalf("AddCommand: %v", err)
		}
	}
	m.Close()
	testutil.Wait(t, m.Stopped(), time.Second, "manager did not stop")
	s.Close()

	s2, err := Open(path, testutil.Logger())
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	m2, err := undo.New(engine, undo.WithHistory(s2), undo.WithLogger(testutil.Logger()))
	if err != nil {
		t.Fatal(err)
	}
	defer m2.Close()

	if !m2.UndoAvailable() {
		t.Fatal("restored manager has nothing to undo")
	}
	if got := m2.UndoText(); got != "Undo: Create Folder" {
		t.Errorf("UndoText = %q", got)
	}
	if n := len(m2.History()); n != 2 {
		t.Errorf("history depth = %d, want 2", n)
	}
}
