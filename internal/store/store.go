// Package store is the SQLite calendar store: accounts, calendars, events
// and privacy sync rules.
package store

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	appErr "calmirror/internal/errors"
	appLog "calmirror/internal/log"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// goose keeps its dialect, base FS and logger in package globals.
var migrateMu sync.Mutex

// Store is the calendar store. It is safe for concurrent use; SQLite
// serializes writers through the single open connection.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens a SQLite database at the given path and applies
// pending migrations.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, appErr.NewStoreError("open", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, appErr.NewStoreError("connect", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, appErr.NewStoreError("configure", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, appErr.NewStoreError("migrate", err)
	}

	appLog.Debug("store opened", "path", path)
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func migrate(db *sql.DB) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetLogger(gooseLogger{})
	goose.SetBaseFS(embedMigrations)

	if err := goose.SetDialect(string(goose.DialectSQLite3)); err != nil {
		return err
	}
	return goose.Up(db, "migrations")
}

// gooseLogger routes migration output through the application logger.
type gooseLogger struct{}

func (gooseLogger) Printf(format string, v ...any) {
	appLog.Debug(fmt.Sprintf(format, v...))
}

func (gooseLogger) Fatalf(format string, v ...any) {
	appLog.Error("migration failed", fmt.Errorf(format, v...))
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64, loc *time.Location) time.Time {
	return time.UnixMilli(ms).In(loc)
}

// loadLocation resolves an IANA zone name, falling back to UTC.
func loadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// encodeJSON stores nil values as SQL NULL.
func encodeJSON(what string, v any, isNil bool) (sql.NullString, error) {
	if isNil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, appErr.NewSerializationError(what, err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeJSON(what string, src sql.NullString, dst any) error {
	if !src.Valid || src.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(src.String), dst); err != nil {
		return appErr.NewSerializationError(what, err)
	}
	return nil
}
