// Package fileops runs recorded file operations: each request starts a
// composite job and hands it to the undo manager for recording.
package fileops

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/starford/rewind/internal/apperr"
	"github.com/starford/rewind/internal/jobs"
	"github.com/starford/rewind/internal/undo"
)

// Engine starts composite jobs.
type Engine interface {
	CopyItems(ctx context.Context, srcs []string, dst string) jobs.CopyJob
	MoveItems(ctx context.Context, srcs []string, dst string) jobs.CopyJob
	LinkItems(ctx context.Context, srcs []string, dst string) jobs.CopyJob
	RenameItem(ctx context.Context, src, dst string) jobs.CopyJob
	TrashItems(ctx context.Context, srcs []string) jobs.CopyJob
	MakeDir(ctx context.Context, dst string) jobs.CopyJob
}

var _ Engine = (*jobs.Local)(nil)

// TrashDestination is the destination recorded for trash commands.
const TrashDestination = "trash:/"

// Request describes one file operation.
type Request struct {
	Type        undo.CommandType
	Sources     []string
	Destination string
}

// Validate checks that the request carries what its type needs.
func (r Request) Validate() error {
	switch r.Type {
	case undo.Copy, undo.Move, undo.Link:
		if len(r.Sources) == 0 || r.Destination == "" {
			return fmt.Errorf("fileops: %s needs sources and a destination: %w", r.Type, apperr.ErrInvalidArgument)
		}
	case undo.Rename:
		if len(r.Sources) != 1 || r.Destination == "" {
			return fmt.Errorf("fileops: rename needs one source and a destination: %w", apperr.ErrInvalidArgument)
		}
	case undo.Trash:
		if len(r.Sources) == 0 {
			return fmt.Errorf("fileops: trash needs sources: %w", apperr.ErrInvalidArgument)
		}
	case undo.Mkdir:
		if r.Destination == "" || len(r.Sources) != 0 {
			return fmt.Errorf("fileops: mkdir needs only a destination: %w", apperr.ErrInvalidArgument)
		}
	default:
		return fmt.Errorf("fileops: unknown operation %s: %w", r.Type, apperr.ErrInvalidArgument)
	}
	for _, s := range r.Sources {
		if s == "" {
			return fmt.Errorf("fileops: empty source: %w", apperr.ErrInvalidArgument)
		}
	}
	return nil
}

// Service coordinates the job engine and the undo manager.
type Service struct {
	engine  Engine
	manager *undo.Manager
	logger  *slog.Logger
}

// NewService creates a new file operation service.
func NewService(engine Engine, manager *undo.Manager, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{engine: engine, manager: manager, logger: logger}
}

// Run performs req and waits until its command has been recorded. The job is
// not tied to ctx: once started it runs to completion even if the caller
// gives up waiting.
func (s *Service) Run(ctx context.Context, req Request) (undo.Command, error) {
	if err := req.Validate(); err != nil {
		return undo.Command{}, err
	}

	jobCtx := context.WithoutCancel(ctx)
	dst := req.Destination
	var job jobs.CopyJob
	switch req.Type {
	case undo.Copy:
		job = s.engine.CopyItems(jobCtx, req.Sources, dst)
	case undo.Move:
		job = s.engine.MoveItems(jobCtx, req.Sources, dst)
	case undo.Link:
		job = s.engine.LinkItems(jobCtx, req.Sources, dst)
	case undo.Rename:
		job = s.engine.RenameItem(jobCtx, req.Sources[0], dst)
	case undo.Trash:
		dst = TrashDestination
		job = s.engine.TrashItems(jobCtx, req.Sources)
	case undo.Mkdir:
		job = s.engine.MakeDir(jobCtx, dst)
	}

	s.logger.Info("fileops: started",
		slog.String("type", req.Type.String()),
		slog.Int("sources", len(req.Sources)),
		slog.String("destination", dst))

	rec := s.manager.RecordJob(req.Type, req.Sources, dst, job)
	select {
	case <-rec.Done():
	case <-ctx.Done():
		return undo.Command{}, ctx.Err()
	}

	if err := rec.Err(); err != nil {
		return undo.Command{}, classify(err)
	}
	return rec.Command(), nil
}

// classify maps file system errors to the shared sentinels.
func classify(err error) error {
	switch {
	case errors.Is(err, jobs.ErrBadLocation):
		return fmt.Errorf("%w: %w", apperr.ErrInvalidArgument, err)
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %w", apperr.ErrNotFound, err)
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%w: %w", apperr.ErrAlreadyExists, err)
	}
	return err
}
