package host

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a Store backed by an embedded, pure-Go SQLite database.
// Intended for single-node deployments that want durability without an
// external database server.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) the database at path and
// ensures the backing table exists. path may be ":memory:" for tests.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("host: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid lock contention

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("host: set wal mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS hosts (
	hostname TEXT PRIMARY KEY,
	current_ip TEXT NOT NULL,
	first_seen TEXT NOT NULL,
	last_seen TEXT NOT NULL,
	status TEXT NOT NULL,
	dns_zone TEXT NOT NULL,
	dns_sync_state TEXT NOT NULL,
	dns_last_error TEXT NOT NULL DEFAULT ''
)`)
	if err != nil {
		return fmt.Errorf("host: migrate: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_hosts_last_seen ON hosts (status, last_seen)`)
	if err != nil {
		return fmt.Errorf("host: migrate index: %w", err)
	}
	return nil
}

const sqliteTimeLayout = time.RFC3339Nano

func (s *SQLiteStore) Get(ctx context.Context, hostname string) (*Host, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT hostname, current_ip, first_seen, last_seen, status, dns_zone, dns_sync_state, dns_last_error
FROM hosts WHERE hostname = ?`, hostname)

	h, err := scanHost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("host: get: %w", err)
	}
	return h, nil
}

func (s *SQLiteStore) Create(ctx context.Context, hostname, ip, zone string) (*Host, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO hosts (hostname, current_ip, first_seen, last_seen, status, dns_zone, dns_sync_state, dns_last_error)
VALUES (?, ?, ?, ?, ?, ?, ?, '')`,
		hostname, ip, now.Format(sqliteTimeLayout), now.Format(sqliteTimeLayout), StatusOnline, zone, DNSPending)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("host: create: %w", err)
	}

	return &Host{
		Hostname:     hostname,
		CurrentIP:    ip,
		FirstSeen:    now,
		LastSeen:     now,
		Status:       StatusOnline,
		DNSZone:      zone,
		DNSSyncState: DNSPending,
	}, nil
}

func (s *SQLiteStore) UpdateIP(ctx context.Context, hostname, newIP string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE hosts SET current_ip = ?, last_seen = ?, status = ? WHERE hostname = ?`,
		newIP, time.Now().UTC().Format(sqliteTimeLayout), StatusOnline, hostname)
	if err != nil {
		return false, fmt.Errorf("host: update_ip: %w", err)
	}
	return rowsAffected(res)
}

func (s *SQLiteStore) Touch(ctx context.Context, hostname string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE hosts SET last_seen = ?, status = ? WHERE hostname = ?`,
		time.Now().UTC().Format(sqliteTimeLayout), StatusOnline, hostname)
	if err != nil {
		return false, fmt.Errorf("host: touch: %w", err)
	}
	return rowsAffected(res)
}

func (s *SQLiteStore) MarkOffline(ctx context.Context, hostname string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE hosts SET status = ? WHERE hostname = ?`, StatusOffline, hostname)
	if err != nil {
		return false, fmt.Errorf("host: mark_offline: %w", err)
	}
	return rowsAffected(res)
}

func (s *SQLiteStore) ListStale(ctx context.Context, cutoff time.Time) ([]*Host, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT hostname, current_ip, first_seen, last_seen, status, dns_zone, dns_sync_state, dns_last_error
FROM hosts WHERE status = ? AND last_seen < ?`, StatusOnline, cutoff.Format(sqliteTimeLayout))
	if err != nil {
		return nil, fmt.Errorf("host: list_stale: %w", err)
	}
	defer rows.Close()

	var out []*Host
	for rows.Next() {
		h, err := scanHost(rows)
		if err != nil {
			return nil, fmt.Errorf("host: list_stale scan: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SetDNSState(ctx context.Context, hostname string, state DNSSyncState, dnsErr string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE hosts SET dns_sync_state = ?, dns_last_error = ? WHERE hostname = ?`, state, dnsErr, hostname)
	if err != nil {
		return fmt.Errorf("host: set_dns_state: %w", err)
	}
	ok, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Close(_ context.Context) error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanHost(row rowScanner) (*Host, error) {
	var h Host
	var status, syncState, firstSeen, lastSeen string
	if err := row.Scan(&h.Hostname, &h.CurrentIP, &firstSeen, &lastSeen, &status, &h.DNSZone, &syncState, &h.DNSLastError); err != nil {
		return nil, err
	}
	var err error
	if h.FirstSeen, err = time.Parse(sqliteTimeLayout, firstSeen); err != nil {
		return nil, fmt.Errorf("parse first_seen: %w", err)
	}
	if h.LastSeen, err = time.Parse(sqliteTimeLayout, lastSeen); err != nil {
		return nil, fmt.Errorf("parse last_seen: %w", err)
	}
	h.Status = Status(status)
	h.DNSSyncState = DNSSyncState(syncState)
	return &h, nil
}

func rowsAffected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("host: rows affected: %w", err)
	}
	return n > 0, nil
}
