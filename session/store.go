// Package session persists named VM global tables in SQLite so a REPL or a
// server session can be resumed later.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/bytelox/vm"
)

var log = commonlog.GetLogger("bytelox.session")

// ErrSessionNotFound indicates the requested session was never saved.
var ErrSessionNotFound = errors.New("session not found")

// Info describes a saved session.
type Info struct {
	ID      string
	Name    string
	Globals int
	Updated time.Time
}

// Store handles SQLite storage for sessions.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	name       TEXT PRIMARY KEY,
	id         TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS globals (
	session TEXT NOT NULL REFERENCES sessions(name) ON DELETE CASCADE,
	name    TEXT NOT NULL,
	kind    INTEGER NOT NULL,
	num     REAL NOT NULL DEFAULT 0,
	str     TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (session, name)
);`

// Open opens (creating if needed) the session database at path. Use
// ":memory:" for a throwaway store.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating session dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA foreign_keys = ON"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	log.Debugf("opened session store %s", path)
	return &Store{db: db, path: path}, nil
}

// Path returns the database path the store was opened with.
func (s *Store) Path() string { return s.path }

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save replaces the stored globals of the named session. The session keeps
// its ID across saves. Values that are not numbers, booleans, nil or strings
// are rejected.
func (s *Store) Save(ctx context.Context, name string, globals map[string]vm.Value) (string, error) {
	if name == "" {
		return "", errors.New("session name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx, "SELECT id FROM sessions WHERE name = ?", name).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		id = uuid.NewString()
	case err != nil:
		return "", fmt.Errorf("querying session: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (name, id, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET updated_at = excluded.updated_at`,
		name, id, time.Now().UnixMilli(),
	); err != nil {
		return "", fmt.Errorf("saving session: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM globals WHERE session = ?", name); err != nil {
		return "", fmt.Errorf("clearing globals: %w", err)
	}

	names := make([]string, 0, len(globals))
	for k := range globals {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, g := range names {
		v := globals[g]
		row, err := encodeValue(v)
		if err != nil {
			return "", fmt.Errorf("global %s: %w", g, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO globals (session, name, kind, num, str) VALUES (?, ?, ?, ?, ?)",
			name, g, row.kind, row.num, row.str,
		); err != nil {
			return "", fmt.Errorf("saving global %s: %w", g, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing session: %w", err)
	}
	log.Infof("saved session %s (%d globals)", name, len(globals))
	return id, nil
}

// Load returns the globals stored for the named session.
func (s *Store) Load(ctx context.Context, name string) (map[string]vm.Value, error) {
	var id string
	err := s.db.QueryRowContext(ctx, "SELECT id FROM sessions WHERE name = ?", name).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("querying session: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT name, kind, num, str FROM globals WHERE session = ?", name)
	if err != nil {
		return nil, fmt.Errorf("querying globals: %w", err)
	}
	defer rows.Close()

	globals := make(map[string]vm.Value)
	for rows.Next() {
		var g string
		var row valueRow
		if err := rows.Scan(&g, &row.kind, &row.num, &row.str); err != nil {
			return nil, fmt.Errorf("scanning global: %w", err)
		}
		v, err := decodeValue(row)
		if err != nil {
			return nil, fmt.Errorf("global %s: %w", g, err)
		}
		globals[g] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading globals: %w", err)
	}
	return globals, nil
}

// List returns every saved session ordered by name.
func (s *Store) List(ctx context.Context) ([]Info, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.name, s.id, s.updated_at, COUNT(g.name)
		FROM sessions s LEFT JOIN globals g ON g.session = s.name
		GROUP BY s.name, s.id, s.updated_at
		ORDER BY s.name`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []Info
	for rows.Next() {
		var info Info
		var updated int64
		if err := rows.Scan(&info.Name, &info.ID, &updated, &info.Globals); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		info.Updated = time.UnixMilli(updated)
		out = append(out, info)
	}
	return out, rows.Err()
}

// Delete removes the named session. Deleting an unknown session returns
// ErrSessionNotFound.
func (s *Store) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Value encoding
// ---------------------------------------------------------------------------

type valueRow struct {
	kind int
	num  float64
	str  string
}

func encodeValue(v vm.Value) (valueRow, error) {
	switch v.Kind() {
	case vm.KindNil:
		return valueRow{kind: int(vm.KindNil)}, nil
	case vm.KindBool:
		row := valueRow{kind: int(vm.KindBool)}
		if v.AsBool() {
			row.num = 1
		}
		return row, nil
	case vm.KindNumber:
		n := v.AsNumber()
		switch {
		case math.IsNaN(n):
			return valueRow{kind: int(vm.KindNumber), str: "NaN"}, nil
		case math.IsInf(n, 1):
			return valueRow{kind: int(vm.KindNumber), str: "+Inf"}, nil
		case math.IsInf(n, -1):
			return valueRow{kind: int(vm.KindNumber), str: "-Inf"}, nil
		}
		return valueRow{kind: int(vm.KindNumber), num: n}, nil
	case vm.KindObject:
		if s, ok := v.AsString(); ok {
			return valueRow{kind: int(vm.KindObject), str: s}, nil
		}
	}
	return valueRow{}, fmt.Errorf("cannot store %s value", v.Kind())
}

func decodeValue(row valueRow) (vm.Value, error) {
	switch vm.ValueKind(row.kind) {
	case vm.KindNil:
		return vm.Nil, nil
	case vm.KindBool:
		return vm.Bool(row.num != 0), nil
	case vm.KindNumber:
		// SQLite stores NaN as NULL, so non-finite numbers live in str.
		switch row.str {
		case "":
			return vm.Number(row.num), nil
		case "NaN":
			return vm.Number(math.NaN()), nil
		case "+Inf":
			return vm.Number(math.Inf(1)), nil
		case "-Inf":
			return vm.Number(math.Inf(-1)), nil
		}
		return vm.Nil, fmt.Errorf("bad number %q", row.str)
	case vm.KindObject:
		return vm.String(row.str), nil
	}
	return vm.Nil, fmt.Errorf("unknown value kind %d", row.kind)
}
