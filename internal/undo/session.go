package undo

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/starford/rewind/internal/jobs"
)

type state int

const (
	stateMakingDirs state = iota
	stateMovingFiles
	stateRemovingFiles
	stateRemovingDirs
	stateDone
)

func (s state) String() string {
	switch s {
	case stateMakingDirs:
		return "making_dirs"
	case stateMovingFiles:
		return "moving_files"
	case stateRemovingFiles:
		return "removing_files"
	case stateRemovingDirs:
		return "removing_dirs"
	case stateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// session is the scratch state of one undo. Slices used as stacks pop from
// the end.
type session struct {
	original Command
	cmd      Command
	state    state

	dirStack     []string
	dirCleanup   []string
	fileCleanup  []string
	dirsToUpdate []string

	current jobs.Job
	steps   int
	err     error
	release func()
}

// newSession partitions cmd's operations into the work queues.
//
// Directories created by mkdir (not renamed) leave the operation stack: their
// source must be recreated before anything moves back into it, and their
// destination removed once emptied. Links leave the operation stack unless
// the command is a move, and their destination is always cleaned up.
func newSession(cmd Command) *session {
	s := &session{
		original: cmd.Clone(),
		cmd:      cmd,
		state:    stateMakingDirs,
	}

	var ops []BasicOperation
	for _, op := range cmd.Operations {
		switch {
		case op.Directory && !op.Renamed:
			s.dirStack = append(s.dirStack, op.Src)
			s.dirCleanup = slices.Insert(s.dirCleanup, 0, op.Dst)
			continue
		case op.Link:
			if !slices.Contains(s.fileCleanup, op.Dst) {
				s.fileCleanup = slices.Insert(s.fileCleanup, 0, op.Dst)
			}
			if !cmd.IsMoveCommand() {
				continue
			}
		}
		ops = append(ops, op)
	}
	s.cmd.Operations = ops

	// Copies, links and mkdir never removed a source directory.
	if !cmd.IsMoveCommand() {
		s.dirStack = nil
	}
	return s
}

func (s *session) addDirToUpdate(dir string) {
	if !slices.Contains(s.dirsToUpdate, dir) {
		s.dirsToUpdate = slices.Insert(s.dirsToUpdate, 0, dir)
	}
}

func pop[T any](stack *[]T) T {
	st := *stack
	v := st[len(st)-1]
	*stack = st[:len(st)-1]
	return v
}

// stepHandlers holds one handler per state. A handler returns its own state
// and the job it issued, or the next state and no job when its queue is empty.
var stepHandlers = [...]func(*Manager, *session) (state, jobs.Job){
	stateMakingDirs:    (*Manager).undoMakingDirs,
	stateMovingFiles:   (*Manager).undoMovingFiles,
	stateRemovingFiles: (*Manager).undoRemovingFiles,
	stateRemovingDirs:  (*Manager).undoRemovingDirs,
}

func (m *Manager) undoMakingDirs(s *session) (state, jobs.Job) {
	if len(s.dirStack) == 0 {
		return stateMovingFiles, nil
	}
	dir := pop(&s.dirStack)
	m.logger.Debug("undo: creating dir", slog.String("url", dir))
	return stateMakingDirs, m.engine.Mkdir(m.ctx, dir)
}

func (m *Manager) undoMovingFiles(s *session) (state, jobs.Job) {
	if len(s.cmd.Operations) == 0 {
		return stateRemovingFiles, nil
	}
	op := pop(&s.cmd.Operations)
	if !op.Valid {
		panic(fmt.Sprintf("undo: invalid operation %s -> %s in %s command", op.Src, op.Dst, s.cmd.Type))
	}

	var job jobs.Job
	switch {
	case op.Directory:
		if !op.Renamed {
			panic(fmt.Sprintf("undo: directory %s created by mkdir reached the move phase", op.Dst))
		}
		m.logger.Debug("undo: rename", slog.String("from", op.Dst), slog.String("to", op.Src))
		job = m.engine.Rename(m.ctx, op.Dst, op.Src, false)
	case op.Link:
		m.logger.Debug("undo: symlink", slog.String("target", op.Target), slog.String("url", op.Src))
		job = m.engine.Symlink(m.ctx, op.Target, op.Src, true)
	case s.cmd.Type == Copy:
		m.logger.Debug("undo: delete copy", slog.String("url", op.Dst))
		job = m.engine.Delete(m.ctx, op.Dst)
	case s.cmd.IsMoveCommand():
		m.logger.Debug("undo: move", slog.String("from", op.Dst), slog.String("to", op.Src))
		job = m.engine.Move(m.ctx, op.Dst, op.Src, true)
	default:
		m.logger.Error("undo: no inverse for file operation",
			slog.String("type", s.cmd.Type.String()),
			slog.String("url", op.Dst))
		return stateMovingFiles, nil
	}

	// Primitive jobs emit no change notifications; views are refreshed once
	// the session ends.
	s.addDirToUpdate(parentDir(op.Dst))
	s.addDirToUpdate(parentDir(op.Src))
	return stateMovingFiles, job
}

func (m *Manager) undoRemovingFiles(s *session) (state, jobs.Job) {
	if len(s.fileCleanup) == 0 {
		if len(s.dirCleanup) == 0 && s.cmd.Type == Mkdir {
			s.dirCleanup = append(s.dirCleanup, s.cmd.Destination)
		}
		return stateRemovingDirs, nil
	}
	file := pop(&s.fileCleanup)
	m.logger.Debug("undo: delete", slog.String("url", file))
	s.addDirToUpdate(parentDir(file))
	return stateRemovingFiles, m.engine.Delete(m.ctx, file)
}

func (m *Manager) undoRemovingDirs(s *session) (state, jobs.Job) {
	if len(s.dirCleanup) == 0 {
		return stateDone, nil
	}
	dir := pop(&s.dirCleanup)
	m.logger.Debug("undo: rmdir", slog.String("url", dir))
	s.addDirToUpdate(dir)
	return stateRemovingDirs, m.engine.Rmdir(m.ctx, dir)
}
