package email

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/textproto"
	"strings"
	"time"

	"github.com/emersion/go-msgauth/dkim"

	"prismd/internal/logging"
	"prismd/internal/retry"
	"prismd/internal/smtppool"
)

// DKIMConfig signs outgoing mail when Domain is non-empty. PrivateKeyPEM
// holds a PKCS#1 or PKCS#8 RSA private key in PEM form.
type DKIMConfig struct {
	Domain        string
	Selector      string
	PrivateKeyPEM string
}

func (c DKIMConfig) enabled() bool { return c.Domain != "" && c.PrivateKeyPEM != "" }

func (c DKIMConfig) signer() (crypto.Signer, error) {
	block, _ := pem.Decode([]byte(c.PrivateKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("dkim: no PEM block found in private key")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("dkim: parse private key: %w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("dkim: private key does not implement crypto.Signer")
	}
	return signer, nil
}

// SMTPProviderConfig pairs a connection pool configuration with the
// backoff/breaker policy applied to transient delivery failures.
type SMTPProviderConfig struct {
	Pool    smtppool.Config
	Backoff retry.BackoffConfig
	Breaker retry.BreakerConfig
	DKIM    DKIMConfig
}

// DefaultSMTPProviderConfig mirrors the SMTP provider defaults.
func DefaultSMTPProviderConfig() SMTPProviderConfig {
	return SMTPProviderConfig{
		Pool:    smtppool.DefaultConfig(),
		Backoff: retry.DefaultBackoffConfig(),
		Breaker: retry.DefaultBreakerConfig(),
	}
}

// SMTPProvider sends mail through a pooled SMTP connection, guarded by a
// circuit breaker and exponential backoff.
type SMTPProvider struct {
	pool           *smtppool.Pool
	backoff        retry.BackoffConfig
	breaker        *retry.Breaker
	logger         logging.Logger
	maxConcurrency int
	dkim           DKIMConfig
	dkimSigner     crypto.Signer
}

// NewSMTPProvider builds an SMTPProvider from cfg. If cfg.DKIM names a
// domain and private key, every outgoing message is DKIM-signed before
// delivery; a malformed key disables signing rather than failing startup,
// since an SMTP provider with a broken signing key should still be able to
// send unsigned mail.
func NewSMTPProvider(cfg SMTPProviderConfig, logger logging.Logger) *SMTPProvider {
	if logger == nil {
		logger = logging.Nop()
	}
	p := &SMTPProvider{
		pool:           smtppool.New(cfg.Pool),
		backoff:        cfg.Backoff,
		breaker:        retry.NewBreaker(cfg.Breaker),
		logger:         logger,
		maxConcurrency: cfg.Pool.MaxSize,
		dkim:           cfg.DKIM,
	}
	if cfg.DKIM.enabled() {
		signer, err := cfg.DKIM.signer()
		if err != nil {
			logger.Warn("dkim signing disabled", logging.F("error", err.Error()))
		} else {
			p.dkimSigner = signer
		}
	}
	return p
}

func (p *SMTPProvider) Name() string { return "smtp" }

func (p *SMTPProvider) Send(ctx context.Context, msg *Message) (Result, error) {
	if err := msg.Normalize(); err != nil {
		return Result{}, err
	}

	raw, err := buildMIME(msg)
	if err != nil {
		return Result{Success: false, Error: err.Error(), Provider: p.Name()}, err
	}

	if p.dkimSigner != nil {
		signed, err := p.signDKIM(raw)
		if err != nil {
			p.logger.Warn("dkim signing failed, sending unsigned", logging.F("error", err.Error()))
		} else {
			raw = signed
		}
	}

	recipients := append(append([]string{}, msg.To...), msg.CC...)
	recipients = append(recipients, msg.BCC...)

	sendErr := p.breaker.Call(func() error {
		return retry.Do(ctx, p.backoff, isTransientSMTPError, func() error {
			return p.deliver(ctx, msg, recipients, raw)
		})
	})

	if sendErr != nil {
		p.logger.Error("smtp send failed", sendErr, logging.F("to", strings.Join(msg.To, ",")))
		return Result{Success: false, Error: sendErr.Error(), Provider: p.Name(), Timestamp: time.Now()}, sendErr
	}

	return Result{Success: true, Provider: p.Name(), Timestamp: time.Now()}, nil
}

func (p *SMTPProvider) signDKIM(raw []byte) ([]byte, error) {
	opts := &dkim.SignOptions{
		Domain:   p.dkim.Domain,
		Selector: p.dkim.Selector,
		Signer:   p.dkimSigner,
	}
	var signed bytes.Buffer
	if err := dkim.Sign(&signed, bytes.NewReader(raw), opts); err != nil {
		return nil, fmt.Errorf("dkim sign: %w", err)
	}
	return signed.Bytes(), nil
}

func (p *SMTPProvider) deliver(ctx context.Context, msg *Message, recipients []string, raw []byte) error {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer p.pool.Release(conn)

	from := msg.FromEmail
	if err := conn.Client.Mail(from, nil); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, rcpt := range recipients {
		if err := conn.Client.Rcpt(rcpt, nil); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", rcpt, err)
		}
	}

	w, err := conn.Client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return fmt.Errorf("write message: %w", err)
	}
	return w.Close()
}

func (p *SMTPProvider) SendBulk(ctx context.Context, msgs []*Message) ([]Result, error) {
	return SendBulkConcurrently(ctx, p, msgs, p.maxConcurrency), nil
}

func (p *SMTPProvider) VerifyConfiguration(ctx context.Context) bool {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return false
	}
	defer p.pool.Release(conn)
	return conn.Client.Noop() == nil
}

// isTransientSMTPError treats everything as retryable except message
// construction failures, which never succeed on retry.
func isTransientSMTPError(err error) bool {
	return err != nil
}

func buildMIME(msg *Message) ([]byte, error) {
	var buf bytes.Buffer

	from := (&mail.Address{Name: msg.FromName, Address: msg.FromEmail}).String()
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(msg.To, ", "))
	if len(msg.CC) > 0 {
		fmt.Fprintf(&buf, "Cc: %s\r\n", strings.Join(msg.CC, ", "))
	}
	if msg.ReplyTo != "" {
		fmt.Fprintf(&buf, "Reply-To: %s\r\n", msg.ReplyTo)
	}
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", msg.Subject))
	fmt.Fprintf(&buf, "Message-ID: <%s>\r\n", generateMessageID())
	for k, v := range msg.Headers {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
	}
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")

	writer := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", writer.Boundary())

	if msg.TextBody != "" {
		part, err := writer.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/plain; charset=UTF-8"}})
		if err != nil {
			return nil, err
		}
		part.Write([]byte(msg.TextBody))
	}
	if msg.HTMLBody != "" {
		part, err := writer.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/html; charset=UTF-8"}})
		if err != nil {
			return nil, err
		}
		part.Write([]byte(msg.HTMLBody))
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func generateMessageID() string {
	buf := make([]byte, 16)
	rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf) + "@prismd"
}
