package collector

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // CGO-free SQLite
)

// DefaultQueryLimit bounds Recent when no limit is given.
const DefaultQueryLimit = 100

// Store persists beacons in SQLite.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

// Query selects stored beacons, newest first.
type Query struct {
	Limit     int
	Initiator string
	PageID    string
	Since     time.Time
}

// OpenStore opens or creates the database at path. ":memory:" opens a
// private in-memory database.
func OpenStore(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		// WAL + busy timeout to avoid "database is locked"
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// every connection would see its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS beacons(
	  id          INTEGER PRIMARY KEY,
	  received_ms INTEGER NOT NULL,
	  client      TEXT    NOT NULL,
	  transport   TEXT    NOT NULL,
	  page_id     TEXT,
	  url         TEXT,
	  initiator   TEXT,
	  data_json   TEXT    NOT NULL CHECK (json_valid(data_json))
	);
	CREATE INDEX IF NOT EXISTS idx_beacons_received  ON beacons(received_ms);
	CREATE INDEX IF NOT EXISTS idx_beacons_page      ON beacons(page_id);
	CREATE INDEX IF NOT EXISTS idx_beacons_initiator ON beacons(initiator);
	`)
	if err != nil {
		return fmt.Errorf("failed to create database tables: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Insert stores records in one transaction and assigns their IDs.
func (s *Store) Insert(ctx context.Context, records []Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO beacons(received_ms, client, transport, page_id, url, initiator, data_json) VALUES(?,?,?,?,?,?,json(?))`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i := range records {
		r := &records[i]
		res, err := stmt.ExecContext(ctx, r.Received.UnixMilli(), r.Client, r.Transport, r.PageID, r.URL, r.Initiator, string(r.Data))
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to execute statement: %w", err)
		}
		if r.ID, err = res.LastInsertId(); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to read row id: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Recent returns the beacons matching q, newest first.
func (s *Store) Recent(ctx context.Context, q Query) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var (
		where []string
		args  []any
	)
	if q.Initiator != "" {
		where = append(where, "initiator = ?")
		args = append(args, q.Initiator)
	}
	if q.PageID != "" {
		where = append(where, "page_id = ?")
		args = append(args, q.PageID)
	}
	if !q.Since.IsZero() {
		where = append(where, "received_ms >= ?")
		args = append(args, q.Since.UnixMilli())
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	query := `SELECT id, received_ms, client, transport, page_id, url, initiator, data_json FROM beacons`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query beacons: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r                      Record
			ms                     int64
			pageID, url, initiator sql.NullString
			data                   string
		)
		if err := rows.Scan(&r.ID, &ms, &r.Client, &r.Transport, &pageID, &url, &initiator, &data); err != nil {
			return nil, fmt.Errorf("failed to scan beacon: %w", err)
		}
		r.Received = time.UnixMilli(ms).UTC()
		r.PageID = pageID.String
		r.URL = url.String
		r.Initiator = initiator.String
		r.Data = []byte(data)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read beacons: %w", err)
	}
	return out, nil
}

// Count returns the number of stored beacons.
func (s *Store) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrStoreClosed
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM beacons`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count beacons: %w", err)
	}
	return n, nil
}
