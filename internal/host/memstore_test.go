package host

import (
	"context"
	"testing"
	"time"
)

func TestMemStoreCreateGet(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	h, err := s.Create(ctx, "host-a", "127.0.0.1", "example.com")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if h.FirstSeen != h.LastSeen {
		t.Errorf("expected first_seen == last_seen on creation")
	}
	if h.Status != StatusOnline {
		t.Errorf("expected new host to be online")
	}

	got, err := s.Get(ctx, "host-a")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil || got.CurrentIP != "127.0.0.1" {
		t.Fatalf("unexpected get result: %+v", got)
	}
}

func TestMemStoreCreateDuplicateFails(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	if _, err := s.Create(ctx, "host-a", "127.0.0.1", "example.com"); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if _, err := s.Create(ctx, "host-a", "10.0.0.1", "example.com"); err != ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestMemStoreGetMissingReturnsNilNil(t *testing.T) {
	s := NewMemStore()
	got, err := s.Get(context.Background(), "nope")
	if err != nil || got != nil {
		t.Fatalf("expected (nil, nil) for missing host, got (%v, %v)", got, err)
	}
}

func TestMemStoreUpdateIPBumpsLastSeen(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	created, _ := s.Create(ctx, "host-a", "127.0.0.1", "example.com")

	time.Sleep(time.Millisecond)
	ok, err := s.UpdateIP(ctx, "host-a", "10.0.0.5")
	if err != nil || !ok {
		t.Fatalf("update_ip failed: ok=%v err=%v", ok, err)
	}

	got, _ := s.Get(ctx, "host-a")
	if got.CurrentIP != "10.0.0.5" {
		t.Errorf("expected updated IP, got %s", got.CurrentIP)
	}
	if !got.LastSeen.After(created.FirstSeen) {
		t.Errorf("expected last_seen to advance past first_seen")
	}
}

func TestMemStoreTouchDoesNotChangeIP(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	s.Create(ctx, "host-a", "127.0.0.1", "example.com")

	ok, err := s.Touch(ctx, "host-a")
	if err != nil || !ok {
		t.Fatalf("touch failed: ok=%v err=%v", ok, err)
	}
	got, _ := s.Get(ctx, "host-a")
	if got.CurrentIP != "127.0.0.1" {
		t.Errorf("expected IP unchanged by touch, got %s", got.CurrentIP)
	}
}

func TestMemStoreMarkOffline(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	s.Create(ctx, "host-a", "127.0.0.1", "example.com")

	ok, err := s.MarkOffline(ctx, "host-a")
	if err != nil || !ok {
		t.Fatalf("mark_offline failed: ok=%v err=%v", ok, err)
	}
	got, _ := s.Get(ctx, "host-a")
	if got.Status != StatusOffline {
		t.Errorf("expected offline status, got %s", got.Status)
	}
}

func TestMemStoreOperationsOnMissingHostReturnFalse(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	if ok, err := s.UpdateIP(ctx, "nope", "1.2.3.4"); err != nil || ok {
		t.Errorf("expected false for update_ip on missing host")
	}
	if ok, err := s.Touch(ctx, "nope"); err != nil || ok {
		t.Errorf("expected false for touch on missing host")
	}
	if ok, err := s.MarkOffline(ctx, "nope"); err != nil || ok {
		t.Errorf("expected false for mark_offline on missing host")
	}
}

func TestMemStoreListStale(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	s.Create(ctx, "fresh", "127.0.0.1", "example.com")
	s.Create(ctx, "stale", "127.0.0.2", "example.com")

	// Force "stale" to look old by mutating its last_seen directly.
	s.mu.Lock()
	s.data["stale"].LastSeen = time.Now().Add(-time.Hour)
	s.mu.Unlock()

	cutoff := time.Now().Add(-time.Minute)
	stale, err := s.ListStale(ctx, cutoff)
	if err != nil {
		t.Fatalf("list_stale failed: %v", err)
	}
	if len(stale) != 1 || stale[0].Hostname != "stale" {
		t.Fatalf("expected exactly [stale], got %+v", stale)
	}
}

func TestMemStoreListStaleExcludesOffline(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	s.Create(ctx, "host-a", "127.0.0.1", "example.com")
	s.mu.Lock()
	s.data["host-a"].LastSeen = time.Now().Add(-time.Hour)
	s.mu.Unlock()
	s.MarkOffline(ctx, "host-a")

	stale, err := s.ListStale(ctx, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("list_stale failed: %v", err)
	}
	if len(stale) != 0 {
		t.Errorf("expected offline hosts excluded from stale list, got %+v", stale)
	}
}

func TestMemStoreSetDNSState(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	s.Create(ctx, "host-a", "127.0.0.1", "example.com")

	if err := s.SetDNSState(ctx, "host-a", DNSSynced, ""); err != nil {
		t.Fatalf("set_dns_state failed: %v", err)
	}
	got, _ := s.Get(ctx, "host-a")
	if got.DNSSyncState != DNSSynced {
		t.Errorf("expected synced state, got %s", got.DNSSyncState)
	}

	if err := s.SetDNSState(ctx, "missing", DNSFailed, "boom"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
