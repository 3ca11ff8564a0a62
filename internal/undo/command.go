// Package undo records file operations as commands and replays their inverse.
//
// A Command is built by a Recorder while a composite job runs and is pushed
// onto the Manager's history when the job succeeds. Undo pops the newest
// command and issues its compensating jobs one at a time through an Engine,
// in four phases: recreate directories, move files back, remove produced
// files, remove produced directories.
package undo

import (
	"fmt"
	"slices"
	"strings"

	"github.com/starford/rewind/internal/apperr"
)

// CommandType identifies the user action a Command records. The numeric
// values are part of the wire format.
type CommandType int8

const (
	Copy CommandType = iota
	Move
	Rename
	Link
	Mkdir
	Trash
)

var commandTypeNames = map[CommandType]string{
	Copy:   "copy",
	Move:   "move",
	Rename: "rename",
	Link:   "link",
	Mkdir:  "mkdir",
	Trash:  "trash",
}

func (t CommandType) String() string {
	if name, ok := commandTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("CommandType(%d)", int8(t))
}

// Known reports whether t is one of the defined command types.
func (t CommandType) Known() bool {
	_, ok := commandTypeNames[t]
	return ok
}

// ParseCommandType parses the lowercase name returned by String.
func ParseCommandType(s string) (CommandType, error) {
	for t, name := range commandTypeNames {
		if name == strings.ToLower(s) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("undo: unknown command type %q", s)
}

// BasicOperation is one elementary, reversible file system effect.
type BasicOperation struct {
	Valid     bool
	Directory bool
	// Renamed marks a directory that was moved by rename rather than
	// recreated by mkdir and filled by copy.
	Renamed bool
	Link    bool
	Src     string
	Dst     string
	// Target is the symlink target; only set when Link is true.
	Target string
}

// Command is one undoable user action.
type Command struct {
	Valid       bool
	Type        CommandType
	Sources     []string
	Destination string
	// Operations is a stack: the newest operation is at index 0 and undo
	// pops from the end.
	Operations []BasicOperation
}

// IsMoveCommand reports whether undoing c must repopulate its sources.
func (c Command) IsMoveCommand() bool {
	return c.Type == Move || c.Type == Rename || c.Type == Trash
}

// Validate checks what undo relies on: c is valid, of a known type, and each
// operation is valid and either a directory, a link or a plain file.
func (c Command) Validate() error {
	if !c.Valid {
		return fmt.Errorf("undo: command not valid: %w", apperr.ErrInvalidArgument)
	}
	if !c.Type.Known() {
		return fmt.Errorf("undo: unknown command type %d: %w", int8(c.Type), apperr.ErrInvalidArgument)
	}
	for i, op := range c.Operations {
		switch {
		case !op.Valid:
			return fmt.Errorf("undo: operation %d (%s) not valid: %w", i, op.Dst, apperr.ErrInvalidArgument)
		case op.Directory && op.Link:
			return fmt.Errorf("undo: operation %d (%s) is both directory and link: %w", i, op.Dst, apperr.ErrInvalidArgument)
		}
	}
	return nil
}

// Clone returns a deep copy of c.
func (c Command) Clone() Command {
	c.Sources = slices.Clone(c.Sources)
	c.Operations = slices.Clone(c.Operations)
	return c
}

// DefaultLabel is the undo action text when the history is empty.
const DefaultLabel = "Undo"

// Label returns the undo action text for a command type. It panics on a type
// it does not know: such a command can only come from a programming error.
func Label(t CommandType) string {
	switch t {
	case Copy:
		return "Undo: Copy"
	case Link:
		return "Undo: Link"
	case Move:
		return "Undo: Move"
	case Rename:
		return "Undo: Rename"
	case Trash:
		return "Undo: Trash"
	case Mkdir:
		return "Undo: Create Folder"
	}
	panic(fmt.Sprintf("undo: no label for command type %d", int8(t)))
}
