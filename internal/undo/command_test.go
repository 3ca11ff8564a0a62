package undo

import (
	"errors"
	"testing"

	"github.com/starford/rewind/internal/apperr"
)

func TestIsMoveCommand(t *testing.T) {
	cases := map[CommandType]bool{
		Copy: false, Move: true, Rename: true, Link: false, Mkdir: false, Trash: true,
	}
	for typ, want := range cases {
		if got := (Command{Type: typ}).IsMoveCommand(); got != want {
			t.Errorf("%s: IsMoveCommand = %t, want %t", typ, got, want)
		}
	}
}

func TestLabel(t *testing.T) {
	cases := map[CommandType]string{
		Copy:   "Undo: Copy",
		Link:   "Undo: Link",
		Move:   "Undo: Move",
		Rename: "Undo: Rename",
		Trash:  "Undo: Trash",
		Mkdir:  "Undo: Create Folder",
	}
	for typ, want := range cases {
		if got := Label(typ); got != want {
			t.Errorf("Label(%s) = %q, want %q", typ, got, want)
		}
	}
}

func TestLabel_UnknownTypePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Label did not panic on an unknown type")
		}
	}()
	Label(CommandType(42))
}

func TestParseCommandType(t *testing.T) {
	for _, typ := range []CommandType{Copy, Move, Rename, Link, Mkdir, Trash} {
		got, err := ParseCommandType(typ.String())
		if err != nil || got != typ {
			t.Errorf("ParseCommandType(%q) = %v, %v", typ.String(), got, err)
		}
	}
	if got, err := ParseCommandType("TRASH"); err != nil || got != Trash {
		t.Errorf("case-insensitive parse = %v, %v", got, err)
	}
	if _, err := ParseCommandType("format"); err == nil {
		t.Error("unknown name accepted")
	}
}

func TestClone(t *testing.T) {
	c := Command{
		Valid:      true,
		Sources:    []string{"/a"},
		Operations: []BasicOperation{{Src: "/a", Dst: "/b"}},
	}
	d := c.Clone()
	d.Sources[0] = "/x"
	d.Operations[0].Dst = "/y"
	if c.Sources[0] != "/a" || c.Operations[0].Dst != "/b" {
		t.Errorf("clone shares memory: %+v", c)
	}
}

func TestNewSession_Partition(t *testing.T) {
	cmd := Command{
		Valid: true,
		Type:  Move,
		Operations: []BasicOperation{
			linkOp("/a/l", "/b/l", "t"),
			fileOp("/a/d/f", "/b/d/f"),
			dirOp("/a/d", "/b/d", false),
			dirOp("/a/r", "/b/r", true),
		},
	}
	s := newSession(cmd)

	if len(s.cmd.Operations) != 3 {
		t.Errorf("remaining operations = %+v", s.cmd.Operations)
	}
	if len(s.dirStack) != 1 || s.dirStack[0] != "/a/d" {
		t.Errorf("dirStack = %q", s.dirStack)
	}
	if len(s.dirCleanup) != 1 || s.dirCleanup[0] != "/b/d" {
		t.Errorf("dirCleanup = %q", s.dirCleanup)
	}
	if len(s.fileCleanup) != 1 || s.fileCleanup[0] != "/b/l" {
		t.Errorf("fileCleanup = %q", s.fileCleanup)
	}
	if len(s.original.Operations) != 4 {
		t.Error("original command was modified")
	}
	if s.state != stateMakingDirs {
		t.Errorf("initial state = %s", s.state)
	}
}

func TestNewSession_CopyDropsDirStack(t *testing.T) {
	s := newSession(Command{
		Valid:      true,
		Type:       Copy,
		Operations: []BasicOperation{dirOp("/a/d", "/b/d", false), linkOp("/a/l", "/b/l", "t"), linkOp("/a/l", "/b/l", "t")},
	})
	if len(s.dirStack) != 0 {
		t.Errorf("dirStack = %q", s.dirStack)
	}
	if len(s.cmd.Operations) != 0 {
		t.Errorf("operations = %+v", s.cmd.Operations)
	}
	if len(s.fileCleanup) != 1 {
		t.Errorf("fileCleanup not deduplicated: %q", s.fileCleanup)
	}
}

func TestMovingFiles_UnrenamedDirectoryPanics(t *testing.T) {
	m, _ := newTestManager(t, &fakeEngine{})
	s := &session{cmd: Command{Type: Move, Operations: []BasicOperation{dirOp("/a", "/b", false)}}}
	defer func() {
		if recover() == nil {
			t.Error("no panic for a mkdir-created directory in the move phase")
		}
	}()
	m.undoMovingFiles(s)
}

func TestMovingFiles_PlainFileInLinkCommandSkipped(t *testing.T) {
	e := &fakeEngine{}
	m, _ := newTestManager(t, e)
	s := &session{cmd: Command{Type: Link, Operations: []BasicOperation{fileOp("/a", "/b")}}}

	next, job := m.undoMovingFiles(s)
	if job != nil || next != stateMovingFiles {
		t.Errorf("got (%s, %v), want skip", next, job)
	}
	if len(e.Calls()) != 0 {
		t.Errorf("calls = %q", e.Calls())
	}
}

func TestStateString(t *testing.T) {
	if stateRemovingDirs.String() != "removing_dirs" || state(9).String() != "state(9)" {
		t.Error("unexpected state names")
	}
}

func TestCommandValidate(t *testing.T) {
	cases := map[string]struct {
		cmd Command
		ok  bool
	}{
		"valid move":    {Command{Valid: true, Type: Move, Operations: []BasicOperation{fileOp("/a/f", "/b/f")}}, true},
		"no operations": {Command{Valid: true, Type: Mkdir, Destination: "/d"}, true},
		"not valid":     {Command{Type: Move}, false},
		"unknown type":  {Command{Valid: true, Type: CommandType(42)}, false},
		"invalid operation": {
			Command{Valid: true, Type: Move, Operations: []BasicOperation{fileOp("/a/g", "/b/g"), {Src: "/a/f", Dst: "/b/f"}}},
			false,
		},
		"directory link": {
			Command{Valid: true, Type: Copy, Operations: []BasicOperation{{Valid: true, Directory: true, Link: true, Src: "/a/d", Dst: "/b/d"}}},
			false,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := tc.cmd.Validate()
			if tc.ok {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if !errors.Is(err, apperr.ErrInvalidArgument) {
				t.Fatalf("Validate = %v, want ErrInvalidArgument", err)
			}
		})
	}
}
