package email

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	smtpcore "github.com/emersion/go-smtp"

	"prismd/internal/smtppool"
)

func generateTestDKIMKeyPEM(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der := x509.MarshalPKCS1PrivateKey(key)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}
	return string(pem.EncodeToMemory(block))
}

func TestBuildMIMEIncludesHeadersAndBothBodies(t *testing.T) {
	msg := &Message{
		To:        []string{"user@example.com"},
		Subject:   "Hello",
		TextBody:  "plain text",
		HTMLBody:  "<b>html</b>",
		FromEmail: "noreply@example.com",
		FromName:  "Prism",
	}
	raw, err := buildMIME(msg)
	if err != nil {
		t.Fatalf("buildMIME: %v", err)
	}
	s := string(raw)
	if !strings.Contains(s, "To: user@example.com") {
		t.Fatalf("expected To header, got:\n%s", s)
	}
	if !strings.Contains(s, "multipart/alternative") {
		t.Fatalf("expected multipart/alternative content type, got:\n%s", s)
	}
	if !strings.Contains(s, "plain text") || !strings.Contains(s, "<b>html</b>") {
		t.Fatalf("expected both bodies present, got:\n%s", s)
	}
}

type recordingSession struct{}

func (recordingSession) Mail(from string, opts *smtpcore.MailOptions) error { return nil }
func (recordingSession) Rcpt(to string, opts *smtpcore.RcptOptions) error   { return nil }
func (recordingSession) Data(r io.Reader) error                             { _, err := io.Copy(io.Discard, r); return err }
func (recordingSession) Reset()                                             {}
func (recordingSession) Logout() error                                     { return nil }

type recordingBackend struct{}

func (recordingBackend) NewSession(c *smtpcore.Conn) (smtpcore.Session, error) {
	return recordingSession{}, nil
}

func startRecordingServer(t *testing.T) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := smtpcore.NewServer(recordingBackend{})
	srv.Domain = "localhost"
	srv.AllowInsecureAuth = true
	srv.ReadTimeout = 5 * time.Second
	srv.WriteTimeout = 5 * time.Second

	go srv.Serve(ln)
	return ln.Addr().String(), func() { srv.Close() }
}

func TestSMTPProviderSendDeliversThroughPool(t *testing.T) {
	addr, stop := startRecordingServer(t)
	defer stop()

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	port, _ := strconv.Atoi(portStr)

	cfg := DefaultSMTPProviderConfig()
	cfg.Pool.Host = host
	cfg.Pool.Port = port
	cfg.Pool.UseTLS = false
	cfg.Pool.DialTimeout = 2 * time.Second
	cfg.Pool.AcquireTimeout = 2 * time.Second
	cfg.Backoff.MaxAttempts = 1

	p := NewSMTPProvider(cfg, nil)

	msg := &Message{
		To:        []string{"user@example.com"},
		Subject:   "hi",
		TextBody:  "body",
		FromEmail: "noreply@example.com",
	}
	res, err := p.Send(context.Background(), msg)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
}

func TestSMTPProviderSignsDKIMWhenConfigured(t *testing.T) {
	addr, stop := startRecordingServer(t)
	defer stop()

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	port, _ := strconv.Atoi(portStr)

	cfg := DefaultSMTPProviderConfig()
	cfg.Pool.Host = host
	cfg.Pool.Port = port
	cfg.Pool.UseTLS = false
	cfg.Pool.DialTimeout = 2 * time.Second
	cfg.Pool.AcquireTimeout = 2 * time.Second
	cfg.Backoff.MaxAttempts = 1
	cfg.DKIM = DKIMConfig{Domain: "example.com", Selector: "prism", PrivateKeyPEM: generateTestDKIMKeyPEM(t)}

	p := NewSMTPProvider(cfg, nil)
	if p.dkimSigner == nil {
		t.Fatalf("expected dkim signer to be configured")
	}

	raw, err := buildMIME(&Message{
		To:        []string{"user@example.com"},
		Subject:   "hi",
		TextBody:  "body",
		FromEmail: "noreply@example.com",
	})
	if err != nil {
		t.Fatalf("buildMIME: %v", err)
	}

	signed, err := p.signDKIM(raw)
	if err != nil {
		t.Fatalf("signDKIM: %v", err)
	}
	if !strings.Contains(string(signed), "DKIM-Signature") {
		t.Fatalf("expected DKIM-Signature header in signed message, got:\n%s", signed)
	}
}

func TestNewSMTPProviderDisablesSigningOnMalformedKey(t *testing.T) {
	cfg := DefaultSMTPProviderConfig()
	cfg.DKIM = DKIMConfig{Domain: "example.com", Selector: "prism", PrivateKeyPEM: "not a pem key"}

	p := NewSMTPProvider(cfg, nil)
	if p.dkimSigner != nil {
		t.Fatalf("expected signer to stay nil when the key cannot be parsed")
	}
}

func TestSMTPProviderVerifyConfigurationFailsWhenUnreachable(t *testing.T) {
	cfg := DefaultSMTPProviderConfig()
	cfg.Pool = smtppool.Config{Host: "127.0.0.1", Port: 1, DialTimeout: 200 * time.Millisecond, MaxSize: 1, AcquireTimeout: 200 * time.Millisecond}

	p := NewSMTPProvider(cfg, nil)
	if p.VerifyConfiguration(context.Background()) {
		t.Fatalf("expected verification to fail against an unreachable host")
	}
}
