package host

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is a Store backed by Postgres via a pgx connection pool.
type PGStore struct {
	pool *pgxpool.Pool
}

// PGConfig configures the pool behind a PGStore.
type PGConfig struct {
	DSN               string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// DefaultPGConfig returns sane pool sizing for a single prismd instance.
func DefaultPGConfig(dsn string) PGConfig {
	return PGConfig{
		DSN:               dsn,
		MaxConns:          10,
		MinConns:          1,
		MaxConnLifetime:   55 * time.Minute,
		MaxConnIdleTime:   10 * time.Minute,
		HealthCheckPeriod: 30 * time.Second,
	}
}

// NewPGStore connects to Postgres, verifies connectivity, and ensures the
// backing table exists.
func NewPGStore(ctx context.Context, cfg PGConfig) (*PGStore, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("host: parse dsn: %w", err)
	}
	pcfg.MaxConns = cfg.MaxConns
	pcfg.MinConns = cfg.MinConns
	pcfg.MaxConnLifetime = cfg.MaxConnLifetime
	pcfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	pcfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("host: connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("host: ping: %w", err)
	}

	s := &PGStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PGStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS hosts (
	hostname TEXT PRIMARY KEY,
	current_ip TEXT NOT NULL,
	first_seen TIMESTAMPTZ NOT NULL,
	last_seen TIMESTAMPTZ NOT NULL,
	status TEXT NOT NULL,
	dns_zone TEXT NOT NULL,
	dns_sync_state TEXT NOT NULL,
	dns_last_error TEXT NOT NULL DEFAULT ''
)`)
	if err != nil {
		return fmt.Errorf("host: migrate: %w", err)
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_hosts_last_seen ON hosts (status, last_seen)`)
	if err != nil {
		return fmt.Errorf("host: migrate index: %w", err)
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, hostname string) (*Host, error) {
	row := s.pool.QueryRow(ctx, `
SELECT hostname, current_ip, first_seen, last_seen, status, dns_zone, dns_sync_state, dns_last_error
FROM hosts WHERE hostname = $1`, hostname)

	var h Host
	var status, syncState string
	err := row.Scan(&h.Hostname, &h.CurrentIP, &h.FirstSeen, &h.LastSeen, &status, &h.DNSZone, &syncState, &h.DNSLastError)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("host: get: %w", err)
	}
	h.Status = Status(status)
	h.DNSSyncState = DNSSyncState(syncState)
	return &h, nil
}

func (s *PGStore) Create(ctx context.Context, hostname, ip, zone string) (*Host, error) {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
INSERT INTO hosts (hostname, current_ip, first_seen, last_seen, status, dns_zone, dns_sync_state, dns_last_error)
VALUES ($1, $2, $3, $3, $4, $5, $6, '')`,
		hostname, ip, now, StatusOnline, zone, DNSPending)
	if err != nil {
		if isUniqueViolation(err) {
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

func (s *PGStore) UpdateIP(ctx context.Context, hostname, newIP string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE hosts SET current_ip = $2, last_seen = $3, status = $4 WHERE hostname = $1`,
		hostname, newIP, time.Now().UTC(), StatusOnline)
	if err != nil {
		return false, fmt.Errorf("host: update_ip: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PGStore) Touch(ctx context.Context, hostname string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE hosts SET last_seen = $2, status = $3 WHERE hostname = $1`,
		hostname, time.Now().UTC(), StatusOnline)
	if err != nil {
		return false, fmt.Errorf("host: touch: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PGStore) MarkOffline(ctx context.Context, hostname string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE hosts SET status = $2 WHERE hostname = $1`, hostname, StatusOffline)
	if err != nil {
		return false, fmt.Errorf("host: mark_offline: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PGStore) ListStale(ctx context.Context, cutoff time.Time) ([]*Host, error) {
	rows, err := s.pool.Query(ctx, `
SELECT hostname, current_ip, first_seen, last_seen, status, dns_zone, dns_sync_state, dns_last_error
FROM hosts WHERE status = $1 AND last_seen < $2`, StatusOnline, cutoff)
	if err != nil {
		return nil, fmt.Errorf("host: list_stale: %w", err)
	}
	defer rows.Close()

	var out []*Host
	for rows.Next() {
		var h Host
		var status, syncState string
		if err := rows.Scan(&h.Hostname, &h.CurrentIP, &h.FirstSeen, &h.LastSeen, &status, &h.DNSZone, &syncState, &h.DNSLastError); err != nil {
			return nil, fmt.Errorf("host: list_stale scan: %w", err)
		}
		h.Status = Status(status)
		h.DNSSyncState = DNSSyncState(syncState)
		out = append(out, &h)
	}
	return out, rows.Err()
}

func (s *PGStore) SetDNSState(ctx context.Context, hostname string, state DNSSyncState, dnsErr string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE hosts SET dns_sync_state = $2, dns_last_error = $3 WHERE hostname = $1`, hostname, state, dnsErr)
	if err != nil {
		return fmt.Errorf("host: set_dns_state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) Close(_ context.Context) error {
	s.pool.Close()
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
