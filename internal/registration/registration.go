// Package registration implements the authoritative logic that reconciles
// an accepted REGISTER message against the host store and schedules DNS
// propagation.
package registration

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"prismd/internal/dnsprovider"
	"prismd/internal/host"
	"prismd/internal/logging"
	"prismd/internal/retry"
	"prismd/internal/workerpool"
)

// Outcome classifies what a registration attempt did to the store.
type Outcome string

const (
	NewRegistration Outcome = "new_registration"
	IPUpdated       Outcome = "ip_updated"
	Refreshed       Outcome = "refreshed"
)

// ErrAuthTokenRequired is returned when the processor is configured to
// require tokens and the message did not carry a matching one.
var ErrAuthTokenRequired = errors.New("registration: auth token required or invalid")

// Result is returned to the connection handler for response-frame
// construction and statistics.
type Result struct {
	Outcome  Outcome
	Hostname string
	IP       string
}

// StatsSink receives registration events; the connection handler and
// tcpserver package provide the concrete implementation (internal/stats).
type StatsSink interface {
	RecordRegistration(outcome Outcome, hostname, ip string)
}

// Config controls auth enforcement, DNS defaults, and retry cadence.
type Config struct {
	RequireAuthToken bool
	AuthTokens       []string
	DefaultZone      string
	DefaultTTL       int
	DNSEnabled       bool
	DNSRetryPolicy   retry.BackoffConfig

	// DNSWorkers, when set, runs ensure_record/delete_record calls on a
	// bounded worker pool instead of inline, so a slow DNS backend cannot
	// stall the connection-handling goroutine that called Process. Nil
	// falls back to running them inline (used by tests that assert DNS
	// state immediately after Process returns).
	DNSWorkers *workerpool.Pool
}

// Processor is the registration state machine described by the
// new/ip-change/refresh branch logic.
type Processor struct {
	cfg    Config
	store  host.Store
	dns    dnsprovider.Provider
	stats  StatsSink
	logger logging.Logger
}

// New builds a Processor.
func New(cfg Config, store host.Store, dns dnsprovider.Provider, stats StatsSink, logger logging.Logger) *Processor {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Processor{cfg: cfg, store: store, dns: dns, stats: stats, logger: logger}
}

// Authorize checks authToken against the configured token set in constant
// time. Any match authorizes; no per-host scoping is performed.
func (p *Processor) Authorize(authToken string) bool {
	if !p.cfg.RequireAuthToken {
		return true
	}
	for _, want := range p.cfg.AuthTokens {
		if subtle.ConstantTimeCompare([]byte(authToken), []byte(want)) == 1 {
			return true
		}
	}
	return false
}

// Process reconciles a validated registration for hostname arriving from
// sourceIP. It mutates the store synchronously and schedules DNS
// propagation, which runs off this goroutine when Config.DNSWorkers is set.
func (p *Processor) Process(ctx context.Context, hostname, sourceIP, authToken string) (Result, error) {
	if !p.Authorize(authToken) {
		return Result{}, ErrAuthTokenRequired
	}

	existing, err := p.store.Get(ctx, hostname)
	if err != nil {
		return Result{}, fmt.Errorf("registration: store get: %w", err)
	}

	var outcome Outcome
	var zone string

	switch {
	case existing == nil:
		h, err := p.store.Create(ctx, hostname, sourceIP, p.cfg.DefaultZone)
		if err != nil {
			return Result{}, fmt.Errorf("registration: store create: %w", err)
		}
		outcome = NewRegistration
		zone = h.DNSZone

	case existing.CurrentIP != sourceIP:
		if _, err := p.store.UpdateIP(ctx, hostname, sourceIP); err != nil {
			return Result{}, fmt.Errorf("registration: store update_ip: %w", err)
		}
		outcome = IPUpdated
		zone = existing.DNSZone

	default:
		if _, err := p.store.Touch(ctx, hostname); err != nil {
			return Result{}, fmt.Errorf("registration: store touch: %w", err)
		}
		outcome = Refreshed
		zone = existing.DNSZone
	}

	if p.stats != nil {
		p.stats.RecordRegistration(outcome, hostname, sourceIP)
	}

	if p.cfg.DNSEnabled && (outcome == NewRegistration || outcome == IPUpdated) {
		p.scheduleDNSSync(hostname, zone, sourceIP)
	}

	return Result{Outcome: outcome, Hostname: hostname, IP: sourceIP}, nil
}

// scheduleDNSSync runs syncDNS on the worker pool when one is configured,
// detaching it from the request context so the connection closing (or its
// context being cancelled) does not abort DNS propagation already in
// flight. Without a pool it runs inline, on the caller's goroutine.
func (p *Processor) scheduleDNSSync(hostname, zone, ip string) {
	if p.cfg.DNSWorkers == nil {
		p.syncDNS(context.Background(), hostname, zone, ip)
		return
	}

	err := p.cfg.DNSWorkers.Submit(func(ctx context.Context) {
		p.syncDNS(ctx, hostname, zone, ip)
	})
	if err != nil {
		p.logger.Warn("dns sync task dropped", logging.F("hostname", hostname), logging.F("error", err.Error()))
		if setErr := p.store.SetDNSState(context.Background(), hostname, host.DNSFailed, err.Error()); setErr != nil {
			p.logger.Error("failed to record dns failure state", logging.F("hostname", hostname), logging.F("error", setErr))
		}
	}
}

// syncDNS attempts ensure_record, retrying Transient failures on the
// configured seconds-scale cadence. Non-transient failures mark the host
// dns_sync_state = failed; transient failures exhausted after the bounded
// retry count are likewise recorded as failed (not left pending forever).
func (p *Processor) syncDNS(ctx context.Context, hostname, zone, ip string) {
	var lastErr error
	err := retry.Do(ctx, p.cfg.DNSRetryPolicy, dnsprovider.Retryable, func() error {
		_, err := p.dns.EnsureRecord(ctx, hostname, zone, ip, p.cfg.DefaultTTL)
		lastErr = err
		return err
	})

	if err == nil {
		if setErr := p.store.SetDNSState(ctx, hostname, host.DNSSynced, ""); setErr != nil {
			p.logger.Error("failed to record dns sync state", logging.F("hostname", hostname), logging.F("error", setErr))
		}
		return
	}

	msg := ""
	if lastErr != nil {
		msg = lastErr.Error()
	}
	if setErr := p.store.SetDNSState(ctx, hostname, host.DNSFailed, msg); setErr != nil {
		p.logger.Error("failed to record dns failure state", logging.F("hostname", hostname), logging.F("error", setErr))
	}
}

// LivenessTimeout returns 2.5 × heartbeatInterval with a 90s floor. The
// liveness package applies the same rule in its own DefaultConfig and does
// not call this function.
func LivenessTimeout(heartbeatInterval time.Duration) time.Duration {
	computed := time.Duration(float64(heartbeatInterval) * 2.5)
	const floor = 90 * time.Second
	if computed < floor {
		return floor
	}
	return computed
}
