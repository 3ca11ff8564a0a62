package history

import (
	"fmt"
	"io"

	"github.com/starford/rewind/internal/undo"
)

// Export writes the stored history to w as an undo.MarshalHistory snapshot.
func (s *Store) Export(w io.Writer) (int, error) {
	cmds, err := s.Load()
	if err != nil {
		return 0, err
	}
	if _, err := w.Write(undo.MarshalHistory(cmds)); err != nil {
		return 0, fmt.Errorf("history: write snapshot: %w", err)
	}
	return len(cmds), nil
}

// Import replaces the stored history with the snapshot read from r. Nothing
// is written unless every command in the snapshot can be undone.
func (s *Store) Import(r io.Reader) (int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("history: read snapshot: %w", err)
	}
	cmds, err := undo.UnmarshalHistory(data)
	if err != nil {
		return 0, fmt.Errorf("history: decode snapshot: %w", err)
	}
	for i, c := range cmds {
		if err := c.Validate(); err != nil {
			return 0, fmt.Errorf("history: snapshot command %d: %w", i, err)
		}
	}
	if err := s.Save(cmds); err != nil {
		return 0, err
	}
	return len(cmds), nil
}
