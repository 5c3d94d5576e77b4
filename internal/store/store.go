// Package store persists sessions and health readings behind database/sql.
//
// Two drivers are supported: "sqlite" (modernc.org/sqlite, the default,
// file-backed or in-memory) for single-host deployments, and "postgres"
// (lib/pq) when the collector and the retrieval API run on different hosts
// and share a database. Queries are written once with ? placeholders and
// rebound for postgres.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/pulselink/pulselink/internal/oximeter"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrSessionNotFound is returned when a session key has no matching row.
// Distinct from transport errors: a fresh key that fails to resolve is a
// logic error, not a retryable one.
var ErrSessionNotFound = errors.New("session not found")

// Store wraps the database connection and schema lifecycle.
type Store struct {
	db     *sql.DB
	driver string
}

// Open initializes the database connection. For sqlite the DSN is a file
// path (parent directories are created) or ":memory:"; for postgres it is a
// lib/pq connection string.
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite:
		if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, fmt.Errorf("create db directory: %w", err)
			}
			dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)", dsn)
		}
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(5 * time.Minute)
		return &Store{db: db, driver: driver}, nil

	case DriverPostgres:
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		return &Store{db: db, driver: driver}, nil

	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InitSchema ensures the sessions and health_data tables exist.
func (s *Store) InitSchema(ctx context.Context) error {
	var stmts []string
	if s.driver == DriverPostgres {
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS sessions (
				id BIGSERIAL PRIMARY KEY,
				session_key TEXT NOT NULL UNIQUE,
				start_time TEXT NOT NULL
			);`,
			`CREATE TABLE IF NOT EXISTS health_data (
				id BIGSERIAL PRIMARY KEY,
				session_id BIGINT NOT NULL REFERENCES sessions(id),
				timestamp BIGINT NOT NULL,
				spo2 INTEGER NOT NULL,
				pulse INTEGER NOT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_health_data_session_time ON health_data(session_id, timestamp);`,
		}
	} else {
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS sessions (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_key TEXT NOT NULL UNIQUE,
				start_time TEXT NOT NULL
			);`,
			`CREATE TABLE IF NOT EXISTS health_data (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id INTEGER NOT NULL REFERENCES sessions(id),
				timestamp INTEGER NOT NULL,
				spo2 INTEGER NOT NULL,
				pulse INTEGER NOT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_health_data_session_time ON health_data(session_id, timestamp);`,
		}
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// CreateSession inserts a session row and returns its id.
func (s *Store) CreateSession(ctx context.Context, sessionKey string, startTime time.Time) (int64, error) {
	start := startTime.UTC().Format(time.RFC3339)

	if s.driver == DriverPostgres {
		var id int64
		err := s.db.QueryRowContext(ctx,
			`INSERT INTO sessions (session_key, start_time) VALUES ($1, $2) RETURNING id;`,
			sessionKey, start,
		).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("insert session: %w", err)
		}
		return id, nil
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_key, start_time) VALUES (?, ?);`,
		sessionKey, start,
	)
	if err != nil {
		return 0, fmt.Errorf("insert session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("session id: %w", err)
	}
	return id, nil
}

// SessionIDByKey resolves a session key to its internal id. Returns
// ErrSessionNotFound when the key has no row.
func (s *Store) SessionIDByKey(ctx context.Context, sessionKey string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT id FROM sessions WHERE session_key = ?;`),
		sessionKey,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %q", ErrSessionNotFound, sessionKey)
	}
	if err != nil {
		return 0, fmt.Errorf("select session: %w", err)
	}
	return id, nil
}

// InsertReadings persists a batch of readings in one statement. An empty
// batch is a no-op.
func (s *Store) InsertReadings(ctx context.Context, readings []oximeter.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO health_data (session_id, timestamp, spo2, pulse) VALUES `)
	args := make([]any, 0, len(readings)*4)
	for i, r := range readings {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?)")
		args = append(args, r.SessionID, r.Timestamp, r.SpO2, r.Pulse)
	}
	sb.WriteString(";")

	if _, err := s.db.ExecContext(ctx, s.rebind(sb.String()), args...); err != nil {
		return fmt.Errorf("insert readings: %w", err)
	}
	return nil
}

// RecentReadings returns up to limit readings for a session, newest first.
func (s *Store) RecentReadings(ctx context.Context, sessionID int64, limit int) ([]oximeter.Reading, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT session_id, timestamp, spo2, pulse FROM health_data
			WHERE session_id = ? ORDER BY timestamp DESC LIMIT ?;`),
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select readings: %w", err)
	}
	defer rows.Close()

	readings := make([]oximeter.Reading, 0, limit)
	for rows.Next() {
		var r oximeter.Reading
		if err := rows.Scan(&r.SessionID, &r.Timestamp, &r.SpO2, &r.Pulse); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// rebind converts ? placeholders to $1..$n for the postgres driver. Queries
// here never contain literal question marks, so a plain scan is enough.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(ch)
	}
	return sb.String()
}
