package host

import (
	"context"
	"sync"
	"time"
)

// MemStore is an in-process Store backed by a mutex-guarded map. Suitable
// for tests and single-process deployments without a durable backend.
type MemStore struct {
	mu   sync.RWMutex
	data map[string]*Host
}

// NewMemStore builds an empty in-memory Store.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string]*Host)}
}

func (s *MemStore) Get(_ context.Context, hostname string) (*Host, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.data[hostname]
	if !ok {
		return nil, nil
	}
	cp := *h
	return &cp, nil
}

func (s *MemStore) Create(_ context.Context, hostname, ip, zone string) (*Host, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[hostname]; exists {
		return nil, ErrAlreadyExists
	}

	now := time.Now().UTC()
	h := &Host{
		Hostname:     hostname,
		CurrentIP:    ip,
		FirstSeen:    now,
		LastSeen:     now,
		Status:       StatusOnline,
		DNSZone:      zone,
		DNSSyncState: DNSPending,
	}
	s.data[hostname] = h

	cp := *h
	return &cp, nil
}

func (s *MemStore) UpdateIP(_ context.Context, hostname, newIP string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.data[hostname]
	if !ok {
		return false, nil
	}
	h.CurrentIP = newIP
	h.LastSeen = time.Now().UTC()
	h.Status = StatusOnline
	return true, nil
}

func (s *MemStore) Touch(_ context.Context, hostname string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.data[hostname]
	if !ok {
		return false, nil
	}
	h.LastSeen = time.Now().UTC()
	h.Status = StatusOnline
	return true, nil
}

func (s *MemStore) MarkOffline(_ context.Context, hostname string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.data[hostname]
	if !ok {
		return false, nil
	}
	h.Status = StatusOffline
	return true, nil
}

func (s *MemStore) ListStale(_ context.Context, cutoff time.Time) ([]*Host, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Host
	for _, h := range s.data {
		if h.Status == StatusOnline && h.LastSeen.Before(cutoff) {
			cp := *h
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemStore) SetDNSState(_ context.Context, hostname string, state DNSSyncState, dnsErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.data[hostname]
	if !ok {
		return ErrNotFound
	}
	h.DNSSyncState = state
	h.DNSLastError = dnsErr
	return nil
}

func (s *MemStore) Close(_ context.Context) error { return nil }
