// Package stats provides thread-safe counters and bounded rolling windows
// for connection, message, and error statistics, plus a health rollup.
package stats

import (
	"container/ring"
	"sync"
	"time"

	"prismd/internal/registration"
)

const (
	maxRecentErrors  = 100
	maxTimingSamples = 1000
	topIPCount       = 10
)

// ErrorRecord is one entry in the bounded recent-errors ring.
type ErrorRecord struct {
	Timestamp time.Time
	Kind      string
	Message   string
}

// Snapshot is an immutable rollup of current statistics, safe to hand to a
// read API or log line.
type Snapshot struct {
	TotalConnections  int64
	ActiveConnections int64
	MessagesReceived  int64
	MessagesSent      int64
	TotalErrors       int64
	RecentErrors      []ErrorRecord
	TopSourceIPs      map[string]int64
	RegistrationsByOutcome map[string]int64
	AvgProcessingTime time.Duration
	Uptime            time.Duration
}

// Stats is the thread-safe statistics core shared by the connection
// handler, tcpserver, and liveness monitor.
type Stats struct {
	mu sync.Mutex

	totalConnections  int64
	activeConnections int64
	connectionsByIP   map[string]int64

	messagesReceived int64
	messagesSent     int64

	totalErrors  int64
	errorsByType map[string]int64
	recentErrors *ring.Ring

	processingTimes      *ring.Ring
	processingTimesCount int
	totalProcessingTime  time.Duration

	registrationsByOutcome map[string]int64

	startTime time.Time
}

// New builds an empty Stats core.
func New() *Stats {
	return &Stats{
		connectionsByIP:        make(map[string]int64),
		errorsByType:           make(map[string]int64),
		recentErrors:           ring.New(maxRecentErrors),
		processingTimes:        ring.New(maxTimingSamples),
		registrationsByOutcome: make(map[string]int64),
		startTime:              time.Now(),
	}
}

func (s *Stats) ConnectionOpened(clientIP string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalConnections++
	s.activeConnections++
	s.connectionsByIP[clientIP]++
}

func (s *Stats) ConnectionClosed(clientIP string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeConnections > 0 {
		s.activeConnections--
	}
}

func (s *Stats) MessageReceived() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messagesReceived++
}

func (s *Stats) MessageSent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messagesSent++
}

func (s *Stats) ErrorOccurred(kind, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalErrors++
	s.errorsByType[kind]++
	s.recentErrors.Value = ErrorRecord{Timestamp: time.Now(), Kind: kind, Message: message}
	s.recentErrors = s.recentErrors.Next()
}

func (s *Stats) MessageProcessed(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.processingTimes.Value.(time.Duration); ok {
		s.totalProcessingTime -= old
	}
	s.processingTimes.Value = d
	s.processingTimes = s.processingTimes.Next()
	if s.processingTimesCount < maxTimingSamples {
		s.processingTimesCount++
	}
	s.totalProcessingTime += d
}

// RecordRegistration implements registration.StatsSink.
func (s *Stats) RecordRegistration(outcome registration.Outcome, hostname, ip string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registrationsByOutcome[string(outcome)]++
}

// HostOffline records a liveness-monitor transition event.
func (s *Stats) HostOffline(hostname string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registrationsByOutcome["host_offline"]++
}

// Snapshot returns a point-in-time copy of all tracked statistics.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	var recent []ErrorRecord
	s.recentErrors.Do(func(v interface{}) {
		if v == nil {
			return
		}
		recent = append(recent, v.(ErrorRecord))
	})

	var avg time.Duration
	if s.processingTimesCount > 0 {
		avg = s.totalProcessingTime / time.Duration(s.processingTimesCount)
	}

	top := topN(s.connectionsByIP, topIPCount)

	outcomes := make(map[string]int64, len(s.registrationsByOutcome))
	for k, v := range s.registrationsByOutcome {
		outcomes[k] = v
	}

	return Snapshot{
		TotalConnections:       s.totalConnections,
		ActiveConnections:      s.activeConnections,
		MessagesReceived:       s.messagesReceived,
		MessagesSent:           s.messagesSent,
		TotalErrors:            s.totalErrors,
		RecentErrors:           recent,
		TopSourceIPs:           top,
		RegistrationsByOutcome: outcomes,
		AvgProcessingTime:      avg,
		Uptime:                 time.Since(s.startTime),
	}
}

// Health is the coarse health rollup returned by HealthRollup.
type Health string

const (
	HealthHealthy  Health = "healthy"
	HealthWarning  Health = "warning"
	HealthDegraded Health = "degraded"
)

const (
	degradedErrorRate  = 0.10
	degradedAvgLatency = 100 * time.Millisecond
	warningActiveConns = 500
)

// HealthRollup combines error rate, mean processing time, active-connection
// pressure, and DNS provider liveness into one coarse status.
func (s *Stats) HealthRollup(dnsHealthy bool) Health {
	snap := s.Snapshot()

	var errorRate float64
	if snap.MessagesReceived > 0 {
		errorRate = float64(snap.TotalErrors) / float64(snap.MessagesReceived)
	}

	if errorRate > degradedErrorRate || snap.AvgProcessingTime > degradedAvgLatency || !dnsHealthy {
		return HealthDegraded
	}
	if snap.ActiveConnections > warningActiveConns {
		return HealthWarning
	}
	return HealthHealthy
}

func topN(counts map[string]int64, n int) map[string]int64 {
	type kv struct {
		k string
		v int64
	}
	all := make([]kv, 0, len(counts))
	for k, v := range counts {
		all = append(all, kv{k, v})
	}
	for i := 1; i < len(all); i++ {
		j := i
		for j > 0 && all[j-1].v < all[j].v {
			all[j-1], all[j] = all[j], all[j-1]
			j--
		}
	}
	if len(all) > n {
		all = all[:n]
	}
	out := make(map[string]int64, len(all))
	for _, e := range all {
		out[e.k] = e.v
	}
	return out
}
