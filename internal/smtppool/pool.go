// Package smtppool implements a bounded pool of reusable SMTP client
// connections: acquire an idle healthy connection or open a fresh one up to
// a configured maximum, evict idle/unhealthy connections, and fail with a
// typed error when the pool is both full and busy.
package smtppool

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// ErrPoolExhausted is returned by Acquire when no connection becomes
// available before acquire_timeout elapses.
var ErrPoolExhausted = errors.New("smtppool: pool exhausted")

// ErrPoolClosed is returned by Acquire once the pool has been closed.
var ErrPoolClosed = errors.New("smtppool: pool is closed")

// Config describes the upstream SMTP server and pool sizing.
type Config struct {
	Host           string
	Port           int
	Username       string
	Password       string
	UseTLS         bool // STARTTLS after connect
	UseSSL         bool // implicit TLS from the first byte
	ValidateCerts  bool
	LocalHostname  string
	DialTimeout    time.Duration
	MaxSize        int
	MaxIdleTime    time.Duration
	AcquireTimeout time.Duration
}

// DefaultConfig returns the pool defaults named in the configuration
// reference table (max_size=5, acquire_timeout=30s).
func DefaultConfig() Config {
	return Config{
		Port:           587,
		UseTLS:         true,
		ValidateCerts:  true,
		DialTimeout:    30 * time.Second,
		MaxSize:        5,
		MaxIdleTime:    5 * time.Minute,
		AcquireTimeout: 30 * time.Second,
	}
}

// PooledConn wraps an *smtp.Client with pool bookkeeping.
type PooledConn struct {
	Client    *smtp.Client
	createdAt time.Time
	lastUsed  time.Time
	inUse     bool
}

// Pool manages a bounded set of SMTP connections to one upstream server.
type Pool struct {
	cfg Config

	mu     sync.Mutex
	conns  []*PooledConn
	closed bool
}

// New builds a Pool. No connections are dialed until the first Acquire.
func New(cfg Config) *Pool {
	return &Pool{cfg: cfg}
}

// Acquire returns a healthy connection, reusing an idle one if possible,
// dialing a fresh one if the pool has headroom, or polling briefly for a
// release before failing with ErrPoolExhausted.
func (p *Pool) Acquire(ctx context.Context) (*PooledConn, error) {
	deadline := time.Now().Add(p.cfg.AcquireTimeout)
	for {
		conn, reservation, err := p.tryAcquire()
		if err != nil {
			return nil, err
		}
		if conn != nil {
			return conn, nil
		}
		if reservation != nil {
			c, err := p.dial(ctx, reservation)
			if err != nil {
				return nil, fmt.Errorf("smtppool: dial: %w", err)
			}
			return c, nil
		}

		if time.Now().After(deadline) {
			return nil, ErrPoolExhausted
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// tryAcquire looks for an idle healthy connection, prunes unhealthy ones,
// and either returns one to use or, if the pool has headroom, reserves a
// slot for a new connection by appending a placeholder to p.conns under the
// same lock that checked MaxSize — this closes the TOCTOU window where two
// concurrent callers could both observe headroom and each dial, pushing the
// pool past MaxSize.
func (p *Pool) tryAcquire() (conn *PooledConn, reservation *PooledConn, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, nil, ErrPoolClosed
	}

	for _, c := range p.conns {
		if !c.inUse && p.isHealthy(c) {
			c.inUse = true
			c.lastUsed = time.Now()
			return c, nil, nil
		}
	}

	kept := p.conns[:0]
	for _, c := range p.conns {
		if c.inUse || p.isHealthy(c) {
			kept = append(kept, c)
		} else {
			c.Client.Close()
		}
	}
	p.conns = kept

	if len(p.conns) < p.cfg.MaxSize {
		reservation = &PooledConn{createdAt: time.Now(), lastUsed: time.Now(), inUse: true}
		p.conns = append(p.conns, reservation)
		return nil, reservation, nil
	}
	return nil, nil, nil
}

// releaseReservation removes a placeholder reservation that failed to dial,
// freeing its slot for the next Acquire attempt.
func (p *Pool) releaseReservation(reservation *PooledConn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, c := range p.conns {
		if c == reservation {
			p.conns = append(p.conns[:i], p.conns[i+1:]...)
			return
		}
	}
}

func (p *Pool) isHealthy(c *PooledConn) bool {
	if p.cfg.MaxIdleTime > 0 && time.Since(c.lastUsed) > p.cfg.MaxIdleTime {
		return false
	}
	return c.Client.Noop() == nil
}

// dial connects a new upstream session and fills the slot reserved for it
// by tryAcquire. On any failure it releases the reservation so the slot
// does not leak.
func (p *Pool) dial(ctx context.Context, reservation *PooledConn) (*PooledConn, error) {
	addr := net.JoinHostPort(p.cfg.Host, fmt.Sprintf("%d", p.cfg.Port))

	dialer := &net.Dialer{Timeout: p.cfg.DialTimeout}
	var rawConn net.Conn
	var err error
	if p.cfg.UseSSL {
		rawConn, err = tls.DialWithDialer(dialer, "tcp", addr, p.tlsConfig())
	} else {
		rawConn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		p.releaseReservation(reservation)
		return nil, err
	}

	client, err := smtp.NewClient(rawConn)
	if err != nil {
		rawConn.Close()
		p.releaseReservation(reservation)
		return nil, err
	}

	local := p.cfg.LocalHostname
	if local == "" {
		local = "localhost"
	}
	if err := client.Hello(local); err != nil {
		client.Close()
		p.releaseReservation(reservation)
		return nil, err
	}

	if p.cfg.UseTLS && !p.cfg.UseSSL {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(p.tlsConfig()); err != nil {
				client.Close()
				p.releaseReservation(reservation)
				return nil, fmt.Errorf("starttls: %w", err)
			}
		}
	}

	if p.cfg.Username != "" {
		auth := sasl.NewPlainClient("", p.cfg.Username, p.cfg.Password)
		if err := client.Auth(auth); err != nil {
			client.Close()
			p.releaseReservation(reservation)
			return nil, fmt.Errorf("auth: %w", err)
		}
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		client.Close()
		return nil, ErrPoolClosed
	}
	reservation.Client = client
	reservation.lastUsed = time.Now()
	p.mu.Unlock()

	return reservation, nil
}

func (p *Pool) tlsConfig() *tls.Config {
	return &tls.Config{
		ServerName:         p.cfg.Host,
		InsecureSkipVerify: !p.cfg.ValidateCerts,
	}
}

// Release returns a connection to the pool for reuse.
func (p *Pool) Release(c *PooledConn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c.inUse = false
	c.lastUsed = time.Now()
}

// Close shuts down every pooled connection. Subsequent Acquire calls fail
// with ErrPoolClosed.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	var firstErr error
	for _, c := range p.conns {
		if c.Client == nil {
			continue // reservation still being dialed; dial's own error path releases it
		}
		if err := c.Client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.conns = nil
	return firstErr
}

// Size reports the current number of pooled connections (in use or idle).
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}
