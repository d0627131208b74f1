// Package config loads and defaults prismd's configuration from a YAML file
// and environment variables via koanf, mirroring the
// server.Config/EnsureDefaults shape.
package config

import (
	"fmt"
	"time"
)

// ServerConfig binds server.* keys.
type ServerConfig struct {
	Host                    string        `mapstructure:"host"`
	TCPPort                 int           `mapstructure:"tcp_port"`
	MaxConnections          int           `mapstructure:"max_connections"`
	ConnectionTimeout       time.Duration `mapstructure:"connection_timeout"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout"`
}

// ProtocolConfig binds protocol.* keys.
type ProtocolConfig struct {
	MaxMessageSize int `mapstructure:"max_message_size"`
	MaxBufferSize  int `mapstructure:"max_buffer_size"`
}

// HeartbeatConfig binds heartbeat.* keys.
type HeartbeatConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	LivenessTimeout time.Duration `mapstructure:"liveness_timeout"`
}

// DNSConfig binds dns.* keys.
type DNSConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	DefaultZone      string        `mapstructure:"default_zone"`
	DefaultTTL       time.Duration `mapstructure:"default_ttl"`
	RetractionPolicy string        `mapstructure:"retraction_policy"`
}

// EmailConfig binds email.* keys.
type EmailConfig struct {
	Provider  string `mapstructure:"provider"` // console | smtp | ses
	FromEmail string `mapstructure:"from_email"`
	FromName  string `mapstructure:"from_name"`
}

// SMTPPoolConfig binds smtp.pool.* keys.
type SMTPPoolConfig struct {
	MaxSize     int           `mapstructure:"max_size"`
	MaxIdleTime time.Duration `mapstructure:"max_idle_time"`
}

// SMTPDKIMConfig binds smtp.dkim.* keys. Signing is skipped unless domain
// and private_key are both set.
type SMTPDKIMConfig struct {
	Domain     string `mapstructure:"domain"`
	Selector   string `mapstructure:"selector"`
	PrivateKey string `mapstructure:"private_key"`
}

// SMTPConfig binds smtp.* keys.
type SMTPConfig struct {
	Host     string         `mapstructure:"host"`
	Port     int            `mapstructure:"port"`
	Username string         `mapstructure:"username"`
	Password string         `mapstructure:"password"`
	UseTLS   bool           `mapstructure:"use_tls"`
	UseSSL   bool           `mapstructure:"use_ssl"`
	Pool     SMTPPoolConfig `mapstructure:"pool"`
	DKIM     SMTPDKIMConfig `mapstructure:"dkim"`
}

// StoreConfig binds store.* keys, selecting the host store backend.
// PGDSN and SQLitePath only apply to their respective backend.
type StoreConfig struct {
	Backend    string `mapstructure:"backend"` // memory | postgres | sqlite
	PGDSN      string `mapstructure:"pg_dsn"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// RetryConfig binds retry.* keys.
type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Jitter       bool          `mapstructure:"jitter"`
}

// BreakerConfig binds breaker.* keys.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	RecoveryTimeout  time.Duration `mapstructure:"recovery_timeout"`
}

// Config is the full, already-parsed configuration object handed to the
// core, matching the external configuration schema.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Protocol  ProtocolConfig  `mapstructure:"protocol"`
	Heartbeat HeartbeatConfig `mapstructure:"heartbeat"`
	DNS       DNSConfig       `mapstructure:"dns"`
	Email     EmailConfig     `mapstructure:"email"`
	SMTP      SMTPConfig      `mapstructure:"smtp"`
	Store     StoreConfig     `mapstructure:"store"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
}

// EnsureDefaults fills every zero-valued field with the defaults named by
// the external configuration schema.
func (c *Config) EnsureDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.TCPPort == 0 {
		c.Server.TCPPort = 8080
	}
	if c.Server.MaxConnections == 0 {
		c.Server.MaxConnections = 1000
	}
	if c.Server.ConnectionTimeout == 0 {
		c.Server.ConnectionTimeout = 30 * time.Second
	}
	if c.Server.GracefulShutdownTimeout == 0 {
		c.Server.GracefulShutdownTimeout = 10 * time.Second
	}

	if c.Protocol.MaxMessageSize == 0 {
		c.Protocol.MaxMessageSize = 65536
	}
	if c.Protocol.MaxBufferSize == 0 {
		c.Protocol.MaxBufferSize = 1048576
	}

	if c.Heartbeat.Interval == 0 {
		c.Heartbeat.Interval = 60 * time.Second
	}
	if c.Heartbeat.LivenessTimeout == 0 {
		c.Heartbeat.LivenessTimeout = 150 * time.Second
	}

	if c.DNS.DefaultTTL == 0 {
		c.DNS.DefaultTTL = 60 * time.Second
	}
	if c.DNS.RetractionPolicy == "" {
		c.DNS.RetractionPolicy = "keep"
	}

	if c.Email.Provider == "" {
		c.Email.Provider = "console"
	}
	if c.Email.FromName == "" {
		c.Email.FromName = "Prism DNS"
	}

	if c.SMTP.Pool.MaxSize == 0 {
		c.SMTP.Pool.MaxSize = 5
	}
	if c.SMTP.Pool.MaxIdleTime == 0 {
		c.SMTP.Pool.MaxIdleTime = 300 * time.Second
	}
	if c.SMTP.DKIM.Domain != "" && c.SMTP.DKIM.Selector == "" {
		c.SMTP.DKIM.Selector = "default"
	}

	if c.Store.Backend == "" {
		c.Store.Backend = "memory"
	}
	if c.Store.SQLitePath == "" {
		c.Store.SQLitePath = "prismd.db"
	}

	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.InitialDelay == 0 {
		c.Retry.InitialDelay = time.Second
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = 60 * time.Second
	}

	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = 5
	}
	if c.Breaker.RecoveryTimeout == 0 {
		c.Breaker.RecoveryTimeout = 60 * time.Second
	}
}

// Validate checks the cross-field requirements the schema calls out as
// required-if-enabled.
func (c *Config) Validate() error {
	if c.DNS.Enabled && c.DNS.DefaultZone == "" {
		return fmt.Errorf("config: dns.default_zone is required when dns.enabled is true")
	}
	if c.Email.FromEmail == "" {
		return fmt.Errorf("config: email.from_email is required")
	}
	switch c.Email.Provider {
	case "console", "smtp", "ses":
	default:
		return fmt.Errorf("config: unknown email.provider %q", c.Email.Provider)
	}
	switch c.DNS.RetractionPolicy {
	case "keep", "remove":
	default:
		return fmt.Errorf("config: unknown dns.retraction_policy %q", c.DNS.RetractionPolicy)
	}
	switch c.Store.Backend {
	case "memory", "sqlite":
	case "postgres":
		if c.Store.PGDSN == "" {
			return fmt.Errorf("config: store.pg_dsn is required when store.backend is postgres")
		}
	default:
		return fmt.Errorf("config: unknown store.backend %q", c.Store.Backend)
	}
	return nil
}
