// Package liveness implements the periodic sweep that transitions hosts
// whose heartbeat has lapsed to offline and applies the DNS retraction
// policy.
package liveness

import (
	"context"
	"time"

	"prismd/internal/dnsprovider"
	"prismd/internal/host"
	"prismd/internal/logging"
)

// RetractionPolicy controls what happens to a host's DNS record when it
// goes offline.
type RetractionPolicy string

const (
	// RetractionKeep leaves the DNS record in place when a host goes offline.
	RetractionKeep RetractionPolicy = "keep"
	// RetractionRemove deletes the DNS record when a host goes offline.
	RetractionRemove RetractionPolicy = "remove"
)

// StatsSink receives host_offline events.
type StatsSink interface {
	HostOffline(hostname string)
}

// Config controls sweep cadence and the timeout used to classify hosts as
// stale.
type Config struct {
	SweepInterval    time.Duration
	LivenessTimeout  time.Duration
	RetractionPolicy RetractionPolicy
}

// DefaultConfig derives the sweep interval and liveness timeout from a
// heartbeat interval, matching the heartbeat_interval/2 and
// max(heartbeat_interval*2.5, 90s) defaults.
func DefaultConfig(heartbeatInterval time.Duration) Config {
	livenessTimeout := time.Duration(float64(heartbeatInterval) * 2.5)
	if livenessTimeout < 90*time.Second {
		livenessTimeout = 90 * time.Second
	}
	return Config{
		SweepInterval:    heartbeatInterval / 2,
		LivenessTimeout:  livenessTimeout,
		RetractionPolicy: RetractionKeep,
	}
}

// Monitor periodically walks the host store and retires stale records.
type Monitor struct {
	cfg    Config
	store  host.Store
	dns    dnsprovider.Provider
	stats  StatsSink
	logger logging.Logger
}

// New builds a Monitor.
func New(cfg Config, store host.Store, dns dnsprovider.Provider, stats StatsSink, logger logging.Logger) *Monitor {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Monitor{cfg: cfg, store: store, dns: dns, stats: stats, logger: logger}
}

// Run blocks, sweeping on cfg.SweepInterval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// Sweep runs a single pass immediately; exported for tests and for a
// startup sweep before the first tick.
func (m *Monitor) Sweep(ctx context.Context) {
	m.sweep(ctx)
}

func (m *Monitor) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-m.cfg.LivenessTimeout)
	stale, err := m.store.ListStale(ctx, cutoff)
	if err != nil {
		m.logger.Error("liveness sweep: list_stale failed", err)
		return
	}

	for _, h := range stale {
		m.retire(ctx, h)
	}
}

func (m *Monitor) retire(ctx context.Context, h *host.Host) {
	if _, err := m.store.MarkOffline(ctx, h.Hostname); err != nil {
		m.logger.Error("liveness sweep: mark_offline failed", err, logging.F("hostname", h.Hostname))
		return
	}

	if m.cfg.RetractionPolicy == RetractionRemove {
		if _, err := m.dns.DeleteRecord(ctx, h.Hostname, h.DNSZone); err != nil {
			m.logger.Warn("liveness sweep: dns delete_record failed",
				logging.F("hostname", h.Hostname), logging.F("error", err.Error()))
		}
	}

	if m.stats != nil {
		m.stats.HostOffline(h.Hostname)
	}
	m.logger.Info("host marked offline", logging.F("hostname", h.Hostname))
}
