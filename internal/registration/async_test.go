package registration

import (
	"context"
	"testing"
	"time"

	"prismd/internal/dnsprovider"
	"prismd/internal/host"
	"prismd/internal/retry"
	"prismd/internal/workerpool"
)

// slowDNS sleeps past a connection-handling deadline before delegating to a
// Static provider, simulating a DNS backend too slow to call inline.
type slowDNS struct {
	delay time.Duration
	inner *dnsprovider.Static
}

func (s *slowDNS) EnsureRecord(ctx context.Context, hostname, zone, ip string, ttl int) (dnsprovider.RecordOutcome, error) {
	time.Sleep(s.delay)
	return s.inner.EnsureRecord(ctx, hostname, zone, ip, ttl)
}

func (s *slowDNS) DeleteRecord(ctx context.Context, hostname, zone string) (dnsprovider.DeleteOutcome, error) {
	time.Sleep(s.delay)
	return s.inner.DeleteRecord(ctx, hostname, zone)
}

func TestProcessReturnsBeforeSlowDNSWhenWorkerPoolConfigured(t *testing.T) {
	store := host.NewMemStore()
	dns := &slowDNS{delay: 200 * time.Millisecond, inner: dnsprovider.NewStatic("example.com")}
	stats := &fakeStats{}
	pool := workerpool.New("test-dns", 2, 4, time.Second, nil)
	defer pool.Close(time.Second)

	cfg := Config{
		DefaultZone:    "example.com",
		DefaultTTL:     300,
		DNSEnabled:     true,
		DNSRetryPolicy: retry.BackoffConfig{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, ExponentialBase: 1},
		DNSWorkers:     pool,
	}
	p := New(cfg, store, dns, stats, nil)

	start := time.Now()
	res, err := p.Process(context.Background(), "host-a", "127.0.0.1", "")
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if res.Outcome != NewRegistration {
		t.Fatalf("expected new_registration, got %v", res.Outcome)
	}
	if elapsed >= dns.delay {
		t.Fatalf("expected Process to return before the slow DNS call finished, took %v", elapsed)
	}

	h, _ := store.Get(context.Background(), "host-a")
	if h.DNSSyncState != host.DNSPending && h.DNSSyncState != host.DNSSynced {
		t.Fatalf("unexpected dns sync state immediately after Process: %v", h.DNSSyncState)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		h, _ = store.Get(context.Background(), "host-a")
		if h.DNSSyncState == host.DNSSynced {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if h.DNSSyncState != host.DNSSynced {
		t.Fatalf("expected dns sync state to eventually become synced, got %v", h.DNSSyncState)
	}
}

func TestScheduleDNSSyncRunsInlineWithoutWorkerPool(t *testing.T) {
	store := host.NewMemStore()
	dns := dnsprovider.NewStatic("example.com")
	stats := &fakeStats{}

	cfg := Config{
		DefaultZone:    "example.com",
		DefaultTTL:     300,
		DNSEnabled:     true,
		DNSRetryPolicy: retry.BackoffConfig{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, ExponentialBase: 1},
	}
	p := New(cfg, store, dns, stats, nil)

	if _, err := p.Process(context.Background(), "host-a", "127.0.0.1", ""); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	h, _ := store.Get(context.Background(), "host-a")
	if h.DNSSyncState != host.DNSSynced {
		t.Fatalf("expected dns sync state synced immediately without a worker pool, got %v", h.DNSSyncState)
	}
}
