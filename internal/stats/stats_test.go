package stats

import (
	"testing"
	"time"

	"prismd/internal/registration"
)

func TestConnectionLifecycleCounters(t *testing.T) {
	s := New()
	s.ConnectionOpened("10.0.0.1")
	s.ConnectionOpened("10.0.0.2")
	s.ConnectionClosed("10.0.0.1")

	snap := s.Snapshot()
	if snap.TotalConnections != 2 {
		t.Fatalf("expected 2 total connections, got %d", snap.TotalConnections)
	}
	if snap.ActiveConnections != 1 {
		t.Fatalf("expected 1 active connection, got %d", snap.ActiveConnections)
	}
}

func TestConnectionClosedNeverGoesNegative(t *testing.T) {
	s := New()
	s.ConnectionClosed("10.0.0.1")
	if snap := s.Snapshot(); snap.ActiveConnections != 0 {
		t.Fatalf("expected active connections to stay at 0, got %d", snap.ActiveConnections)
	}
}

func TestMessageCounters(t *testing.T) {
	s := New()
	s.MessageReceived()
	s.MessageReceived()
	s.MessageSent()

	snap := s.Snapshot()
	if snap.MessagesReceived != 2 || snap.MessagesSent != 1 {
		t.Fatalf("unexpected message counts: %+v", snap)
	}
}

func TestErrorOccurredTracksRecentErrors(t *testing.T) {
	s := New()
	s.ErrorOccurred("decode_error", "bad frame")
	s.ErrorOccurred("validation_error", "bad hostname")

	snap := s.Snapshot()
	if snap.TotalErrors != 2 {
		t.Fatalf("expected 2 total errors, got %d", snap.TotalErrors)
	}
	if len(snap.RecentErrors) != 2 {
		t.Fatalf("expected 2 recent errors, got %d", len(snap.RecentErrors))
	}
	if snap.RecentErrors[0].Kind != "decode_error" || snap.RecentErrors[1].Kind != "validation_error" {
		t.Fatalf("unexpected recent error order: %+v", snap.RecentErrors)
	}
}

func TestRecentErrorsBoundedAtCapacity(t *testing.T) {
	s := New()
	for i := 0; i < maxRecentErrors+10; i++ {
		s.ErrorOccurred("kind", "message")
	}
	snap := s.Snapshot()
	if snap.TotalErrors != int64(maxRecentErrors+10) {
		t.Fatalf("expected total errors to keep counting past window size, got %d", snap.TotalErrors)
	}
	if len(snap.RecentErrors) != maxRecentErrors {
		t.Fatalf("expected recent errors bounded at %d, got %d", maxRecentErrors, len(snap.RecentErrors))
	}
}

func TestMessageProcessedComputesAverage(t *testing.T) {
	s := New()
	s.MessageProcessed(10 * time.Millisecond)
	s.MessageProcessed(20 * time.Millisecond)
	s.MessageProcessed(30 * time.Millisecond)

	snap := s.Snapshot()
	if snap.AvgProcessingTime != 20*time.Millisecond {
		t.Fatalf("expected average of 20ms, got %v", snap.AvgProcessingTime)
	}
}

func TestAvgProcessingTimeZeroWithNoSamples(t *testing.T) {
	s := New()
	if snap := s.Snapshot(); snap.AvgProcessingTime != 0 {
		t.Fatalf("expected zero average with no samples, got %v", snap.AvgProcessingTime)
	}
}

func TestRecordRegistrationImplementsStatsSink(t *testing.T) {
	s := New()
	var sink registration.StatsSink = s
	sink.RecordRegistration(registration.NewRegistration, "host-a", "127.0.0.1")
	sink.RecordRegistration(registration.NewRegistration, "host-b", "127.0.0.2")
	sink.RecordRegistration(registration.IPUpdated, "host-a", "127.0.0.3")

	snap := s.Snapshot()
	if snap.RegistrationsByOutcome["new_registration"] != 2 {
		t.Fatalf("expected 2 new_registration events, got %d", snap.RegistrationsByOutcome["new_registration"])
	}
	if snap.RegistrationsByOutcome["ip_updated"] != 1 {
		t.Fatalf("expected 1 ip_updated event, got %d", snap.RegistrationsByOutcome["ip_updated"])
	}
}

func TestHostOfflineRecordsEvent(t *testing.T) {
	s := New()
	s.HostOffline("host-a")
	s.HostOffline("host-b")

	snap := s.Snapshot()
	if snap.RegistrationsByOutcome["host_offline"] != 2 {
		t.Fatalf("expected 2 host_offline events, got %d", snap.RegistrationsByOutcome["host_offline"])
	}
}

func TestTopSourceIPsRanksByConnectionCount(t *testing.T) {
	s := New()
	for i := 0; i < 5; i++ {
		s.ConnectionOpened("10.0.0.1")
	}
	for i := 0; i < 2; i++ {
		s.ConnectionOpened("10.0.0.2")
	}
	s.ConnectionOpened("10.0.0.3")

	snap := s.Snapshot()
	if snap.TopSourceIPs["10.0.0.1"] != 5 {
		t.Fatalf("expected 10.0.0.1 to have 5 connections, got %d", snap.TopSourceIPs["10.0.0.1"])
	}
	if snap.TopSourceIPs["10.0.0.2"] != 2 {
		t.Fatalf("expected 10.0.0.2 to have 2 connections, got %d", snap.TopSourceIPs["10.0.0.2"])
	}
}

func TestTopSourceIPsBoundedAtTopN(t *testing.T) {
	s := New()
	for i := 0; i < topIPCount+5; i++ {
		ip := string(rune('a' + i))
		s.ConnectionOpened(ip)
	}
	snap := s.Snapshot()
	if len(snap.TopSourceIPs) != topIPCount {
		t.Fatalf("expected top IPs bounded at %d, got %d", topIPCount, len(snap.TopSourceIPs))
	}
}

func TestHealthRollupHealthyByDefault(t *testing.T) {
	s := New()
	if h := s.HealthRollup(true); h != HealthHealthy {
		t.Fatalf("expected healthy, got %v", h)
	}
}

func TestHealthRollupDegradedOnHighErrorRate(t *testing.T) {
	s := New()
	for i := 0; i < 10; i++ {
		s.MessageReceived()
	}
	for i := 0; i < 2; i++ {
		s.ErrorOccurred("validation_error", "bad")
	}
	if h := s.HealthRollup(true); h != HealthDegraded {
		t.Fatalf("expected degraded at >10%% error rate, got %v", h)
	}
}

func TestHealthRollupDegradedOnSlowProcessing(t *testing.T) {
	s := New()
	s.MessageReceived()
	s.MessageProcessed(150 * time.Millisecond)
	if h := s.HealthRollup(true); h != HealthDegraded {
		t.Fatalf("expected degraded on slow mean processing time, got %v", h)
	}
}

func TestHealthRollupDegradedOnDNSUnhealthy(t *testing.T) {
	s := New()
	if h := s.HealthRollup(false); h != HealthDegraded {
		t.Fatalf("expected degraded when DNS provider unhealthy, got %v", h)
	}
}

func TestHealthRollupWarningOnHighActiveConnections(t *testing.T) {
	s := New()
	for i := 0; i < 501; i++ {
		s.ConnectionOpened("10.0.0.1")
	}
	if h := s.HealthRollup(true); h != HealthWarning {
		t.Fatalf("expected warning at >500 active connections, got %v", h)
	}
}

func TestUptimeAdvances(t *testing.T) {
	s := New()
	time.Sleep(2 * time.Millisecond)
	if snap := s.Snapshot(); snap.Uptime <= 0 {
		t.Fatalf("expected positive uptime, got %v", snap.Uptime)
	}
}
