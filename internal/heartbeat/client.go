// Package heartbeat implements the client-side agent: on a fixed interval
// it opens a fresh connection to the server, sends one REGISTER frame,
// reads the response best-effort, and closes. The hostname it registers is
// resolved once, when the Client is built, and is not re-detected on later
// ticks.
package heartbeat

import (
	"context"
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"prismd/internal/logging"
	"prismd/internal/retry"
	"prismd/internal/wire"
)

// Config controls emission cadence and connection behavior.
type Config struct {
	ServerAddress  string
	Interval       time.Duration
	Hostname       string // overrides OS hostname detection when non-empty
	AuthToken      string
	DialTimeout    time.Duration
	MaxMessageSize int
	Backoff        retry.BackoffConfig
}

// DefaultConfig mirrors the heartbeat_interval default and a 60s dial
// backoff cap.
func DefaultConfig(serverAddress string) Config {
	return Config{
		ServerAddress:  serverAddress,
		Interval:       60 * time.Second,
		DialTimeout:    5 * time.Second,
		MaxMessageSize: 65536,
		Backoff: retry.BackoffConfig{
			MaxAttempts:     5,
			InitialDelay:    time.Second,
			MaxDelay:        60 * time.Second,
			ExponentialBase: 2.0,
			Jitter:          true,
		},
	}
}

// Client is the heartbeat agent. Safe for concurrent Start/Stop; a single
// Client runs at most one emission loop at a time.
type Client struct {
	cfg      Config
	logger   logging.Logger
	hostname string

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New builds a Client, resolving the effective hostname once up front.
func New(cfg Config, logger logging.Logger) *Client {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Client{cfg: cfg, logger: logger, hostname: resolveHostname(cfg.Hostname)}
}

// Start launches the emission loop in a goroutine. Calling Start while
// already running is a no-op.
func (c *Client) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true

	go c.loop(ctx, c.done)
}

// Stop cancels the pending next tick and blocks until the loop has exited.
// Calling Stop while not running is a no-op.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	cancel := c.cancel
	done := c.done
	c.running = false
	c.mu.Unlock()

	cancel()
	<-done
}

func (c *Client) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	c.tick(ctx)
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *Client) tick(ctx context.Context) {
	if err := c.sendOnce(ctx); err != nil {
		c.logger.Warn("heartbeat send failed", logging.F("error", err.Error()))
	}
}

func (c *Client) sendOnce(ctx context.Context) error {
	return retry.Do(ctx, c.cfg.Backoff, func(error) bool { return true }, func() error {
		return c.dialAndSend(ctx)
	})
}

func (c *Client) dialAndSend(ctx context.Context) error {
	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.ServerAddress)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	msg := wire.RegisterMessage{
		Version:   wire.ProtocolVersion,
		Type:      wire.TypeRegistration,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Hostname:  c.hostname,
		AuthToken: c.cfg.AuthToken,
	}

	frame, err := wire.Encode(msg, c.cfg.MaxMessageSize)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	// Best-effort response read: a short deadline, failures are swallowed.
	conn.SetReadDeadline(time.Now().Add(c.cfg.DialTimeout))
	buf := make([]byte, 4096)
	conn.Read(buf)

	return nil
}

var hostnameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9-]+`)

// resolveHostname uses override if set, otherwise the OS hostname, falling
// back to a generated RFC-1123-safe name if neither is available.
func resolveHostname(override string) string {
	if override != "" {
		return sanitizeHostname(override)
	}
	if h, err := os.Hostname(); err == nil && h != "" {
		return sanitizeHostname(h)
	}
	return generateFallbackHostname()
}

func sanitizeHostname(h string) string {
	h = strings.ToLower(h)
	h = hostnameSanitizer.ReplaceAllString(h, "-")
	return strings.Trim(h, "-")
}

func generateFallbackHostname() string {
	id := uuid.New().String()
	return fmt.Sprintf("prism-client-%d-%s", time.Now().Unix(), id[:8])
}
