package undo

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/starford/rewind/internal/jobs"
)

// Recorder builds a Command from the events of one composite job and adds it
// to the manager when the job succeeds. It keeps the manager alive until the
// job has finished.
type Recorder struct {
	m   *Manager
	job jobs.CopyJob
	cmd Command

	done chan struct{}
	err  error
}

// RecordJob starts recording job as a command of type t.
func (m *Manager) RecordJob(t CommandType, sources []string, dst string, job jobs.CopyJob) *Recorder {
	r := &Recorder{
		m:   m,
		job: job,
		cmd: Command{
			Valid:       true,
			Type:        t,
			Sources:     slices.Clone(sources),
			Destination: dst,
		},
		done: make(chan struct{}),
	}
	release := m.Acquire()
	go r.run(release)
	return r
}

func (r *Recorder) run(release func()) {
	defer close(r.done)
	defer release()

	if events := r.job.Events(); events != nil {
		for ev := range events {
			// A mkdir command is fully described by its destination.
			if r.cmd.Type == Mkdir {
				continue
			}
			switch ev.Kind {
			case jobs.CopyingDone:
				r.copyingDone(ev)
			case jobs.CopyingLinkDone:
				r.copyingLinkDone(ev)
			}
		}
	}
	<-r.job.Done()

	if err := r.job.Err(); err != nil {
		r.m.logger.Warn("undo: job failed, command discarded",
			slog.String("type", r.cmd.Type.String()),
			slog.String("error", err.Error()))
		r.err = fmt.Errorf("undo: record %s: %w", r.cmd.Type, err)
		return
	}
	if err := r.m.AddCommand(r.cmd); err != nil {
		r.err = err
	}
}

func (r *Recorder) copyingDone(ev jobs.Event) {
	op := BasicOperation{
		Valid:     true,
		Directory: ev.Directory,
		Renamed:   ev.Renamed,
		Src:       ev.Src,
		Dst:       ev.Dst,
	}
	if r.cmd.Type == Trash {
		if p, ok := r.job.MetaData(jobs.TrashMetaPrefix + urlPath(ev.Src)); ok {
			op.Dst = p
		} else {
			r.m.logger.Warn("undo: no trash location recorded", slog.String("url", ev.Src))
		}
	}
	r.cmd.Operations = slices.Insert(r.cmd.Operations, 0, op)
}

func (r *Recorder) copyingLinkDone(ev jobs.Event) {
	op := BasicOperation{
		Valid:  true,
		Link:   true,
		Src:    ev.Src,
		Dst:    ev.Dst,
		Target: ev.Target,
	}
	r.cmd.Operations = slices.Insert(r.cmd.Operations, 0, op)
}

// Done is closed once the job has finished and the command was added or
// discarded.
func (r *Recorder) Done() <-chan struct{} { return r.done }

// Err returns why the command was not added. It is nil until Done is closed.
func (r *Recorder) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// Command waits for the job to finish and returns the recorded command.
func (r *Recorder) Command() Command {
	<-r.done
	return r.cmd.Clone()
}
