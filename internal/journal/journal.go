// Package journal keeps a SQLite record of endpoint lifecycle events:
// every state transition, every failed health probe and every endpoint
// abandoned after exhausting its reconnect attempts.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/wagiedev/stdiomux/internal/endpoint"
)

// Entry kinds.
const (
	KindTransition   = "transition"
	KindProbeFailure = "probe_failure"
	KindExhaustion   = "exhaustion"
)

const schema = `
	CREATE TABLE IF NOT EXISTS lifecycle_events (
		id         TEXT PRIMARY KEY,
		endpoint   TEXT NOT NULL,
		kind       TEXT NOT NULL,
		from_state TEXT,
		to_state   TEXT,
		event      TEXT,
		attempts   INTEGER NOT NULL DEFAULT 0,
		cause      TEXT,
		created_at TEXT NOT NULL,

		CHECK (kind IN ('transition', 'probe_failure', 'exhaustion'))
	);

	CREATE INDEX IF NOT EXISTS idx_lifecycle_endpoint_created
		ON lifecycle_events(endpoint, created_at);

	CREATE INDEX IF NOT EXISTS idx_lifecycle_kind
		ON lifecycle_events(kind);
`

// Entry is one journal row.
type Entry struct {
	ID        string    `json:"id"`
	Endpoint  string    `json:"endpoint"`
	Kind      string    `json:"kind"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Event     string    `json:"event,omitempty"`
	Attempts  int       `json:"attempts,omitempty"`
	Cause     string    `json:"cause,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is a SQLite-backed endpoint.Recorder.
type Store struct {
	db  *sql.DB
	log *slog.Logger
	now func() time.Time
}

// Compile-time verification that Store implements endpoint.Recorder.
var _ endpoint.Recorder = (*Store)(nil)

// Open opens or creates the journal at path. Parent directories are
// created as needed.
func Open(path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	log = log.With("component", "journal")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	// Writes come from many endpoint goroutines; serialise them on one
	// connection instead of fighting over SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()

		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()

		return nil, fmt.Errorf("creating schema: %w", err)
	}

	log.Info("Journal opened", "path", path)

	return &Store{db: db, log: log, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordTransition implements endpoint.Recorder.
func (s *Store) RecordTransition(name string, from, to endpoint.State, event endpoint.Event, cause error) {
	s.insert(Entry{
		Endpoint: name,
		Kind:     KindTransition,
		From:     from.String(),
		To:       to.String(),
		Event:    event.String(),
		Cause:    errString(cause),
	})
}

// RecordProbeFailure implements endpoint.Recorder.
func (s *Store) RecordProbeFailure(name string, cause error) {
	s.insert(Entry{
		Endpoint: name,
		Kind:     KindProbeFailure,
		Cause:    errString(cause),
	})
}

// RecordExhaustion implements endpoint.Recorder.
func (s *Store) RecordExhaustion(name string, attempts int, cause error) {
	s.insert(Entry{
		Endpoint: name,
		Kind:     KindExhaustion,
		Attempts: attempts,
		Cause:    errString(cause),
	})
}

// insert never fails the caller: the journal is a side record and the
// lifecycle must keep moving when the disk is full.
func (s *Store) insert(e Entry) {
	_, err := s.db.Exec(`
		INSERT INTO lifecycle_events (id, endpoint, kind, from_state, to_state, event, attempts, cause, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ulid.Make().String(), e.Endpoint, e.Kind,
		nullable(e.From), nullable(e.To), nullable(e.Event),
		e.Attempts, nullable(e.Cause), s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		s.log.Warn("Failed to write journal entry", "endpoint", e.Endpoint, "kind", e.Kind, "error", err)
	}
}

// Entries returns the journal for one endpoint, or all endpoints when name
// is empty, oldest first. limit <= 0 means no limit.
func (s *Store) Entries(ctx context.Context, name string, limit int) ([]Entry, error) {
	query := `SELECT id, endpoint, kind, from_state, to_state, event, attempts, cause, created_at
		FROM lifecycle_events`

	var args []any

	if name != "" {
		query += ` WHERE endpoint = ?`
		args = append(args, name)
	}

	// ULIDs sort by creation time, and break ties inside one millisecond.
	query += ` ORDER BY id`

	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	return s.query(ctx, query, args...)
}

// Exhaustions lists every recorded abandonment, oldest first.
func (s *Store) Exhaustions(ctx context.Context) ([]Entry, error) {
	return s.query(ctx, `SELECT id, endpoint, kind, from_state, to_state, event, attempts, cause, created_at
		FROM lifecycle_events WHERE kind = ? ORDER BY id`, KindExhaustion)
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry

	for rows.Next() {
		var (
			e                      Entry
			from, to, event, cause sql.NullString
			createdAt              string
		)

		if err := rows.Scan(&e.ID, &e.Endpoint, &e.Kind, &from, &to, &event, &e.Attempts, &cause, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning journal entry: %w", err)
		}

		e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at of %s: %w", e.ID, err)
		}

		e.From, e.To, e.Event, e.Cause = from.String, to.String, event.String, cause.String
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal: %w", err)
	}

	return entries, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func errString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
