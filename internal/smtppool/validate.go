package smtppool

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// ValidationResult is one pass/fail step from ValidateConfig, in the order
// the checks ran.
type ValidationResult struct {
	Step    string
	Ok      bool
	Message string
}

// ValidateConfig runs DNS resolution, port reachability, SMTP handshake,
// TLS negotiation, and (if credentials are set) authentication checks
// against cfg, stopping at the first failure. It never sends mail.
func ValidateConfig(ctx context.Context, cfg Config) (bool, []ValidationResult) {
	var results []ValidationResult
	report := func(step string, ok bool, format string, args ...interface{}) bool {
		results = append(results, ValidationResult{Step: step, Ok: ok, Message: fmt.Sprintf(format, args...)})
		return ok
	}

	addrs, err := net.DefaultResolver.LookupHost(ctx, cfg.Host)
	if err != nil || len(addrs) == 0 {
		report("dns", false, "failed to resolve %s: %v", cfg.Host, err)
		return false, results
	}
	report("dns", true, "resolved %s to %s", cfg.Host, addrs[0])

	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
	dialer := net.Dialer{Timeout: 5 * time.Second}
	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		report("port", false, "cannot connect to %s: %v", addr, err)
		return false, results
	}
	report("port", true, "%s is reachable", addr)

	client, err := smtp.NewClient(rawConn)
	if err != nil {
		rawConn.Close()
		report("connect", false, "SMTP handshake failed: %v", err)
		return false, results
	}
	defer client.Close()

	local := cfg.LocalHostname
	if local == "" {
		local = "localhost"
	}
	if err := client.Hello(local); err != nil {
		report("connect", false, "SMTP EHLO failed: %v", err)
		return false, results
	}
	report("connect", true, "SMTP connection established")

	tlsCfg := &tls.Config{ServerName: cfg.Host, InsecureSkipVerify: !cfg.ValidateCerts}

	if cfg.UseTLS && !cfg.UseSSL {
		ok, _ := client.Extension("STARTTLS")
		if !ok {
			report("tls", false, "server does not advertise STARTTLS")
			return false, results
		}
		if err := client.StartTLS(tlsCfg); err != nil {
			report("tls", false, "STARTTLS negotiation failed: %v", err)
			return false, results
		}
		report("tls", true, "TLS negotiation successful")
	}

	if cfg.Username != "" {
		auth := sasl.NewPlainClient("", cfg.Username, cfg.Password)
		if err := client.Auth(auth); err != nil {
			report("auth", false, "authentication failed: %v", err)
			return false, results
		}
		report("auth", true, "authentication successful")
	}

	client.Quit()
	report("summary", true, "all SMTP configuration checks passed")
	return true, results
}
