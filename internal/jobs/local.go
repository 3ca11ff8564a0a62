package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
)

// TrashMetaPrefix prefixes the metadata key under which a trash job stores the
// real location of each trashed item, keyed by the item's source path.
const TrashMetaPrefix = "trashURL-"

// ErrBadLocation is returned for locations that are not absolute, use another
// scheme, or escape the root.
var ErrBadLocation = errors.New("jobs: bad location")

// Local runs jobs against the local file system. Locations are absolute paths
// or file:// URLs. When root is set every location must stay under it (or
// under the trash directory).
type Local struct {
	root     string
	trashDir string
	logger   *slog.Logger
}

// NewLocal creates a Local engine. root may be empty to allow any absolute
// path; trashDir is created if missing.
func NewLocal(root, trashDir string, logger *slog.Logger) (*Local, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Local{logger: logger}

	if root != "" {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("jobs: resolve root: %w", err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("jobs: stat root: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("jobs: root is not a directory: %s", abs)
		}
		l.root = abs
	}

	abs, err := filepath.Abs(trashDir)
	if err != nil {
		return nil, fmt.Errorf("jobs: resolve trash dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("jobs: create trash dir: %w", err)
	}
	l.trashDir = abs
	return l, nil
}

// TrashDir returns the absolute trash directory.
func (l *Local) TrashDir() string { return l.trashDir }

// resolve turns a location into a cleaned absolute path and rejects anything
// outside the root.
func (l *Local) resolve(loc string) (string, error) {
	p := loc
	if strings.Contains(loc, "://") {
		u, err := url.Parse(loc)
		if err != nil {
			return "", fmt.Errorf("%w: parse %s: %w", ErrBadLocation, loc, err)
		}
		if u.Scheme != "file" {
			return "", fmt.Errorf("%w: unsupported scheme %q", ErrBadLocation, u.Scheme)
		}
		p = u.Path
	}
	if !filepath.IsAbs(p) {
		return "", fmt.Errorf("%w: relative path %s", ErrBadLocation, loc)
	}
	p = filepath.Clean(p)
	if l.root != "" && !within(l.root, p) && !within(l.trashDir, p) {
		return "", fmt.Errorf("%w: %s escapes root", ErrBadLocation, loc)
	}
	return p, nil
}

// rename is swapped in tests to simulate a cross-device move.
var rename = os.Rename

func within(dir, p string) bool {
	return p == dir || strings.HasPrefix(p, dir+string(os.PathSeparator))
}

func exists(p string) bool {
	_, err := os.Lstat(p)
	return err == nil
}

// Mkdir creates one directory.
func (l *Local) Mkdir(ctx context.Context, loc string) Job {
	return start(ctx, false, func(t *task) error {
		p, err := l.resolve(loc)
		if err != nil {
			return err
		}
		l.logger.Debug("jobs: mkdir", slog.String("path", p))
		if err := os.Mkdir(p, 0o755); err != nil {
			return fmt.Errorf("jobs: mkdir %s: %w", p, err)
		}
		return nil
	})
}

// Rename renames src to dst on the same file system.
func (l *Local) Rename(ctx context.Context, src, dst string, overwrite bool) Job {
	return start(ctx, false, func(t *task) error {
		from, to, err := l.resolvePair(src, dst)
		if err != nil {
			return err
		}
		if !overwrite && exists(to) {
			return fmt.Errorf("jobs: rename %s: %w", to, fs.ErrExist)
		}
		l.logger.Debug("jobs: rename", slog.String("from", from), slog.String("to", to))
		if err := os.Rename(from, to); err != nil {
			return fmt.Errorf("jobs: rename: %w", err)
		}
		return nil
	})
}

// Move moves one file, falling back to copy and remove across devices.
func (l *Local) Move(ctx context.Context, src, dst string, overwrite bool) Job {
	return start(ctx, false, func(t *task) error {
		from, to, err := l.resolvePair(src, dst)
		if err != nil {
			return err
		}
		if exists(to) {
			if !overwrite {
				return fmt.Errorf("jobs: move %s: %w", to, fs.ErrExist)
			}
			if err := os.Remove(to); err != nil {
				return fmt.Errorf("jobs: move: remove existing %s: %w", to, err)
			}
		}
		l.logger.Debug("jobs: move", slog.String("from", from), slog.String("to", to))
		err = rename(from, to)
		if errors.Is(err, syscall.EXDEV) {
			if err := copyTree(t, from, to, false); err != nil {
				return err
			}
			err = os.RemoveAll(from)
		}
		if err != nil {
			return fmt.Errorf("jobs: move: %w", err)
		}
		return nil
	})
}

// Delete removes a file or symbolic link.
func (l *Local) Delete(ctx context.Context, loc string) Job {
	return start(ctx, false, func(t *task) error {
		p, err := l.resolve(loc)
		if err != nil {
			return err
		}
		info, err := os.Lstat(p)
		if err != nil {
			return fmt.Errorf("jobs: delete %s: %w", p, err)
		}
		if info.IsDir() {
			return fmt.Errorf("jobs: delete %s: is a directory", p)
		}
		l.logger.Debug("jobs: delete", slog.String("path", p))
		if err := os.Remove(p); err != nil {
			return fmt.Errorf("jobs: delete %s: %w", p, err)
		}
		return nil
	})
}

// Rmdir removes an empty directory.
func (l *Local) Rmdir(ctx context.Context, loc string) Job {
	return start(ctx, false, func(t *task) error {
		p, err := l.resolve(loc)
		if err != nil {
			return err
		}
		info, err := os.Lstat(p)
		if err != nil {
			return fmt.Errorf("jobs: rmdir %s: %w", p, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("jobs: rmdir %s: not a directory", p)
		}
		l.logger.Debug("jobs: rmdir", slog.String("path", p))
		if err := os.Remove(p); err != nil {
			return fmt.Errorf("jobs: rmdir %s: %w", p, err)
		}
		return nil
	})
}

// Symlink creates a symbolic link at dst pointing to target.
func (l *Local) Symlink(ctx context.Context, target, dst string, overwrite bool) Job {
	return start(ctx, false, func(t *task) error {
		p, err := l.resolve(dst)
		if err != nil {
			return err
		}
		if info, statErr := os.Lstat(p); statErr == nil {
			if !overwrite || info.IsDir() {
				return fmt.Errorf("jobs: symlink %s: %w", p, fs.ErrExist)
			}
			if err := os.Remove(p); err != nil {
				return fmt.Errorf("jobs: symlink: remove existing %s: %w", p, err)
			}
		}
		l.logger.Debug("jobs: symlink", slog.String("target", target), slog.String("path", p))
		if err := os.Symlink(target, p); err != nil {
			return fmt.Errorf("jobs: symlink: %w", err)
		}
		return nil
	})
}

// CopyItems copies every source into the destination directory.
func (l *Local) CopyItems(ctx context.Context, srcs []string, dst string) CopyJob {
	return start(ctx, true, func(t *task) error {
		return l.eachItem(t, srcs, dst, func(from, to string) error {
			return copyTree(t, from, to, true)
		})
	})
}

// MoveItems moves every source into the destination directory.
func (l *Local) MoveItems(ctx context.Context, srcs []string, dst string) CopyJob {
	return start(ctx, true, func(t *task) error {
		return l.eachItem(t, srcs, dst, func(from, to string) error {
			return moveItem(t, from, to)
		})
	})
}

// LinkItems creates, in the destination directory, a symbolic link to every
// source.
func (l *Local) LinkItems(ctx context.Context, srcs []string, dst string) CopyJob {
	return start(ctx, true, func(t *task) error {
		return l.eachItem(t, srcs, dst, func(from, to string) error {
			if err := os.Symlink(from, to); err != nil {
				return fmt.Errorf("jobs: link: %w", err)
			}
			return t.emit(Event{Kind: CopyingLinkDone, Src: from, Target: from, Dst: to})
		})
	})
}

// RenameItem renames one file or directory to the full path dst.
func (l *Local) RenameItem(ctx context.Context, src, dst string) CopyJob {
	return start(ctx, true, func(t *task) error {
		from, to, err := l.resolvePair(src, dst)
		if err != nil {
			return err
		}
		if exists(to) {
			return fmt.Errorf("jobs: rename %s: %w", to, fs.ErrExist)
		}
		return moveItem(t, from, to)
	})
}

// TrashItems moves every source into the trash directory. The reported
// destination is a synthetic trash:/ location; the real path is stored in the
// job metadata under TrashMetaPrefix + source path.
func (l *Local) TrashItems(ctx context.Context, srcs []string) CopyJob {
	return start(ctx, true, func(t *task) error {
		for _, src := range srcs {
			if err := t.ctx.Err(); err != nil {
				return err
			}
			from, err := l.resolve(src)
			if err != nil {
				return err
			}
			info, err := os.Lstat(from)
			if err != nil {
				return fmt.Errorf("jobs: trash %s: %w", from, err)
			}
			name := l.trashName(filepath.Base(from))
			trashPath := filepath.Join(l.trashDir, name)
			if err := os.Rename(from, trashPath); err != nil {
				return fmt.Errorf("jobs: trash %s: %w", from, err)
			}
			l.logger.Debug("jobs: trashed", slog.String("path", from), slog.String("trash_path", trashPath))
			t.setMetaData(TrashMetaPrefix+from, trashPath)
			ev := Event{Kind: CopyingDone, Src: from, Dst: "trash:/" + name, Directory: info.IsDir(), Renamed: true}
			if err := t.emit(ev); err != nil {
				return err
			}
		}
		return nil
	})
}

// MakeDir creates one directory as a composite job without per-item events.
func (l *Local) MakeDir(ctx context.Context, dst string) CopyJob {
	return start(ctx, true, func(t *task) error {
		p, err := l.resolve(dst)
		if err != nil {
			return err
		}
		if err := os.Mkdir(p, 0o755); err != nil {
			return fmt.Errorf("jobs: mkdir %s: %w", p, err)
		}
		return nil
	})
}

func (l *Local) resolvePair(src, dst string) (string, string, error) {
	from, err := l.resolve(src)
	if err != nil {
		return "", "", err
	}
	to, err := l.resolve(dst)
	if err != nil {
		return "", "", err
	}
	return from, to, nil
}

func (l *Local) eachItem(t *task, srcs []string, dst string, fn func(from, to string) error) error {
	dir, err := l.resolve(dst)
	if err != nil {
		return err
	}
	for _, src := range srcs {
		if err := t.ctx.Err(); err != nil {
			return err
		}
		from, err := l.resolve(src)
		if err != nil {
			return err
		}
		to := filepath.Join(dir, filepath.Base(from))
		if exists(to) {
			return fmt.Errorf("jobs: %s: %w", to, fs.ErrExist)
		}
		if err := fn(from, to); err != nil {
			return err
		}
	}
	return nil
}

func (l *Local) trashName(base string) string {
	if !exists(filepath.Join(l.trashDir, base)) {
		return base
	}
	return base + "." + uuid.NewString()[:8]
}

// moveItem renames from to to, copying across devices. A rename reports the
// item as renamed; the copy fallback reports every copied entry instead.
func moveItem(t *task, from, to string) error {
	info, err := os.Lstat(from)
	if err != nil {
		return fmt.Errorf("jobs: move %s: %w", from, err)
	}
	err = rename(from, to)
	if err == nil {
		return t.emit(Event{Kind: CopyingDone, Src: from, Dst: to, Directory: info.IsDir(), Renamed: true})
	}
	if !errors.Is(err, syscall.EXDEV) {
		return fmt.Errorf("jobs: move: %w", err)
	}
	if err := copyTree(t, from, to, true); err != nil {
		return err
	}
	if err := os.RemoveAll(from); err != nil {
		return fmt.Errorf("jobs: move: remove source: %w", err)
	}
	return nil
}

// copyTree copies from to to recursively. With report set every created entry
// is emitted as it completes (directories before their contents).
func copyTree(t *task, from, to string, report bool) error {
	if err := t.ctx.Err(); err != nil {
		return err
	}
	info, err := os.Lstat(from)
	if err != nil {
		return fmt.Errorf("jobs: copy %s: %w", from, err)
	}

	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		target, err := os.Readlink(from)
		if err != nil {
			return fmt.Errorf("jobs: readlink %s: %w", from, err)
		}
		if err := os.Symlink(target, to); err != nil {
			return fmt.Errorf("jobs: copy link: %w", err)
		}
		if report {
			return t.emit(Event{Kind: CopyingLinkDone, Src: from, Target: target, Dst: to})
		}
		return nil

	case info.IsDir():
		if err := os.Mkdir(to, info.Mode().Perm()); err != nil {
			return fmt.Errorf("jobs: copy dir: %w", err)
		}
		if report {
			if err := t.emit(Event{Kind: CopyingDone, Src: from, Dst: to, Directory: true}); err != nil {
				return err
			}
		}
		entries, err := os.ReadDir(from)
		if err != nil {
			return fmt.Errorf("jobs: read dir %s: %w", from, err)
		}
		for _, e := range entries {
			if err := copyTree(t, filepath.Join(from, e.Name()), filepath.Join(to, e.Name()), report); err != nil {
				return err
			}
		}
		return nil

	default:
		if err := copyFile(from, to, info.Mode().Perm()); err != nil {
			return err
		}
		if report {
			return t.emit(Event{Kind: CopyingDone, Src: from, Dst: to})
		}
		return nil
	}
}

// copyFile writes a copy atomically: tmp file → fsync → rename.
func copyFile(from, to string, perm fs.FileMode) error {
	in, err := os.Open(from)
	if err != nil {
		return fmt.Errorf("jobs: open %s: %w", from, err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(to), ".rewind-tmp-*")
	if err != nil {
		return fmt.Errorf("jobs: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, in); err != nil {
		return fmt.Errorf("jobs: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("jobs: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("jobs: close temp: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("jobs: chmod: %w", err)
	}
	if err := os.Rename(tmpName, to); err != nil {
		return fmt.Errorf("jobs: rename temp: %w", err)
	}
	success = true
	return nil
}
