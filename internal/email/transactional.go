package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"prismd/internal/logging"
	"prismd/internal/suppression"
)

// TransactionalConfig describes a hosted transactional email API (SES-style
// send endpoint) reached over HTTPS rather than an SDK.
type TransactionalConfig struct {
	Endpoint         string
	APIKey           string
	Region           string
	ConfigurationSet string
	Timeout          time.Duration
}

// DefaultTransactionalConfig fills in a request timeout.
func DefaultTransactionalConfig() TransactionalConfig {
	return TransactionalConfig{Timeout: 10 * time.Second}
}

// TransactionalProvider sends mail through a hosted transactional email API
// over plain HTTPS, checking a local suppression list before every send.
type TransactionalProvider struct {
	cfg         TransactionalConfig
	httpClient  *http.Client
	suppression *suppression.Store
	logger      logging.Logger
}

// NewTransactionalProvider builds a TransactionalProvider. suppressionStore
// may be nil, disabling the suppression gate.
func NewTransactionalProvider(cfg TransactionalConfig, suppressionStore *suppression.Store, logger logging.Logger) *TransactionalProvider {
	if logger == nil {
		logger = logging.Nop()
	}
	return &TransactionalProvider{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		suppression: suppressionStore,
		logger:      logger,
	}
}

func (p *TransactionalProvider) Name() string { return "transactional" }

type transactionalSendRequest struct {
	Source           string            `json:"source"`
	To               []string          `json:"to_addresses"`
	CC               []string          `json:"cc_addresses,omitempty"`
	Subject          string            `json:"subject"`
	HTMLBody         string            `json:"html_body,omitempty"`
	TextBody         string            `json:"text_body,omitempty"`
	ReplyTo          []string          `json:"reply_to_addresses,omitempty"`
	ConfigurationSet string            `json:"configuration_set,omitempty"`
	Tags             map[string]string `json:"tags,omitempty"`
}

type transactionalSendResponse struct {
	MessageID string `json:"message_id"`
	RequestID string `json:"request_id"`
}

type transactionalErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (p *TransactionalProvider) Send(ctx context.Context, msg *Message) (Result, error) {
	if err := msg.Normalize(); err != nil {
		return Result{}, err
	}

	if p.suppression != nil {
		allowed, suppressed := p.suppression.FilterSuppressed(msg.To)
		if len(suppressed) > 0 {
			result := Result{
				Success:  false,
				Error:    "recipients are suppressed: " + strings.Join(suppressed, ", "),
				Provider: p.Name(),
				Metadata: map[string]interface{}{"suppressed_emails": suppressed},
			}
			p.logger.Warn("transactional send suppressed", logging.F("emails", strings.Join(suppressed, ",")))
			if len(allowed) == 0 {
				return result, nil
			}
			msg.To = allowed
		}
	}

	from := msg.FromEmail
	if msg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", msg.FromName, msg.FromEmail)
	}

	req := transactionalSendRequest{
		Source:           from,
		To:               msg.To,
		CC:               msg.CC,
		Subject:          msg.Subject,
		HTMLBody:         msg.HTMLBody,
		TextBody:         msg.TextBody,
		ConfigurationSet: p.cfg.ConfigurationSet,
	}
	if msg.ReplyTo != "" {
		req.ReplyTo = []string{msg.ReplyTo}
	}
	if len(msg.Headers) > 0 {
		req.Tags = msg.Headers
	}

	resp, err := p.doSend(ctx, req)
	if err != nil {
		return resp, err
	}
	return resp, nil
}

func (p *TransactionalProvider) doSend(ctx context.Context, req transactionalSendRequest) (Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint+"/v1/email/send", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return Result{Success: false, Error: err.Error(), Provider: p.Name()}, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 200 && httpResp.StatusCode < 300 {
		var ok transactionalSendResponse
		if err := json.NewDecoder(httpResp.Body).Decode(&ok); err != nil {
			return Result{}, err
		}
		return Result{
			Success:   true,
			MessageID: ok.MessageID,
			Provider:  p.Name(),
			Timestamp: time.Now(),
			Metadata:  map[string]interface{}{"request_id": ok.RequestID},
		}, nil
	}

	var apiErr transactionalErrorResponse
	json.NewDecoder(httpResp.Body).Decode(&apiErr)
	p.logger.Error("transactional send failed", fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message))

	return Result{
		Success:   false,
		Error:     userFriendlyError(apiErr.Code, apiErr.Message),
		ErrorCode: apiErr.Code,
		Provider:  p.Name(),
		Timestamp: time.Now(),
	}, fmt.Errorf("transactional send failed: %s", apiErr.Code)
}

// transactionalBulkConcurrency bounds parallel HTTP sends against the
// transactional API so a large batch cannot open an unbounded number of
// connections to it.
const transactionalBulkConcurrency = 8

func (p *TransactionalProvider) SendBulk(ctx context.Context, msgs []*Message) ([]Result, error) {
	return SendBulkConcurrently(ctx, p, msgs, transactionalBulkConcurrency), nil
}

func (p *TransactionalProvider) VerifyConfiguration(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.Endpoint+"/v1/email/quota", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// userFriendlyError mirrors the SES error-code translation table.
func userFriendlyError(code, message string) string {
	messages := map[string]string{
		"MessageRejected":             "email was rejected, check the content",
		"MailFromDomainNotVerified":   "sender domain is not verified",
		"ConfigurationSetDoesNotExist": "configuration set not found",
		"AccountSendingPausedException": "email sending is paused for this account",
		"SendingQuotaExceeded":        "daily email sending limit reached",
		"MaxSendingRateExceeded":      "sending emails too quickly, slow down",
	}
	if m, ok := messages[code]; ok {
		return m
	}
	return fmt.Sprintf("transactional provider error: %s", message)
}
