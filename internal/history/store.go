// Package history persists the undo history in SQLite so it survives restarts
// and can be shared by instances started later.
package history

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/rewind/internal/checksum"
	"github.com/starford/rewind/internal/undo"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS commands (
	position   INTEGER PRIMARY KEY,
	type       TEXT NOT NULL,
	payload    BLOB NOT NULL,
	checksum   TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// Row describes one stored command without decoding its operations.
type Row struct {
	Position  int
	Type      string
	Checksum  string
	CreatedAt time.Time
}

// Store is a SQLite-backed undo.HistoryStore.
type Store struct {
	conn   *sql.DB
	logger *slog.Logger
}

var _ undo.HistoryStore = (*Store)(nil)

// Open opens (or creates) the history database.
func Open(dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("history: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("history: apply schema: %w", err)
	}
	return &Store{conn: conn, logger: logger}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Save replaces the stored history with cmds, bottom of the stack first.
func (s *Store) Save(cmds []undo.Command) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("history: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.Exec(`DELETE FROM commands`); err != nil {
		return fmt.Errorf("history: clear: %w", err)
	}
	if len(cmds) > 0 {
		stmt, err := tx.Prepare(`INSERT INTO commands (position, type, payload, checksum, created_at) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("history: prepare insert: %w", err)
		}
		defer stmt.Close()

		now := time.Now().UTC()
		for i, c := range cmds {
			payload, err := c.MarshalBinary()
			if err != nil {
				return fmt.Errorf("history: encode command %d: %w", i, err)
			}
			if _, err := stmt.Exec(i, c.Type.String(), payload, checksum.Sum(payload), now); err != nil {
				return fmt.Errorf("history: insert command %d: %w", i, err)
			}
		}
	}
	return tx.Commit()
}

// Load returns the stored history. Rows that fail their checksum, do not
// decode or hold a command that cannot be undone are skipped.
func (s *Store) Load() ([]undo.Command, error) {
	rows, err := s.conn.Query(`SELECT position, payload, checksum FROM commands ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("history: load: %w", err)
	}
	defer rows.Close()

	var out []undo.Command
	for rows.Next() {
		var (
			pos     int
			payload []byte
			sum     string
		)
		if err := rows.Scan(&pos, &payload, &sum); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		if !checksum.Verify(payload, sum) {
			s.logger.Warn("history: checksum mismatch, skipping", slog.Int("position", pos))
			continue
		}
		var c undo.Command
		err := c.UnmarshalBinary(payload)
		if err == nil {
			err = c.Validate()
		}
		if err != nil {
			s.logger.Warn("history: unusable command, skipping",
				slog.Int("position", pos),
				slog.String("error", err.Error()))
			continue
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// List returns the stored rows, newest first, without decoding payloads.
func (s *Store) List() ([]Row, error) {
	rows, err := s.conn.Query(`SELECT position, type, checksum, created_at FROM commands ORDER BY position DESC`)
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.Position, &r.Type, &r.Checksum, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Clear removes every stored command.
func (s *Store) Clear() error {
	if _, err := s.conn.Exec(`DELETE FROM commands`); err != nil {
		return fmt.Errorf("history: clear: %w", err)
	}
	return nil
}
