// Package host defines the authoritative hostname->IP record and the Store
// port through which the registration processor and liveness monitor
// persist it. Concrete backends live alongside this file: memstore.go
// (in-process), pgstore.go (Postgres via pgx), sqlitestore.go (embedded).
package host

import (
	"context"
	"errors"
	"time"
)

// Status is a Host's liveness state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// DNSSyncState tracks whether the authoritative DNS zone reflects a Host's
// current IP.
type DNSSyncState string

const (
	DNSPending DNSSyncState = "pending"
	DNSSynced  DNSSyncState = "synced"
	DNSFailed  DNSSyncState = "failed"
)

// Host is the authoritative record for one registered hostname.
type Host struct {
	Hostname     string
	CurrentIP    string
	FirstSeen    time.Time
	LastSeen     time.Time
	Status       Status
	DNSZone      string
	DNSSyncState DNSSyncState
	DNSLastError string
}

// ErrAlreadyExists is returned by Create when the hostname is already
// present in the store.
var ErrAlreadyExists = errors.New("host: hostname already exists")

// ErrNotFound is returned by mutating operations when the hostname is
// absent. Get itself returns (nil, nil) for "not found" per the port
// contract (Host?).
var ErrNotFound = errors.New("host: hostname not found")

// Store is the persistence port the registration processor and liveness
// monitor depend on. Every method may block on I/O; a single call is the
// unit of transactional scope.
type Store interface {
	// Get returns the current record for hostname, or (nil, nil) if absent.
	Get(ctx context.Context, hostname string) (*Host, error)

	// Create inserts a new online record. Returns ErrAlreadyExists if the
	// hostname is already present.
	Create(ctx context.Context, hostname, ip, zone string) (*Host, error)

	// UpdateIP sets current_ip and bumps last_seen. Returns false if the
	// hostname does not exist.
	UpdateIP(ctx context.Context, hostname, newIP string) (bool, error)

	// Touch bumps last_seen only. Returns false if the hostname does not
	// exist.
	Touch(ctx context.Context, hostname string) (bool, error)

	// MarkOffline sets status = offline. Returns false if the hostname does
	// not exist.
	MarkOffline(ctx context.Context, hostname string) (bool, error)

	// ListStale returns every online host whose last_seen predates cutoff.
	ListStale(ctx context.Context, cutoff time.Time) ([]*Host, error)

	// SetDNSState records the outcome of a DNS synchronization attempt.
	SetDNSState(ctx context.Context, hostname string, state DNSSyncState, dnsErr string) error

	// Close releases any resources held by the store (connections, files).
	Close(ctx context.Context) error
}
