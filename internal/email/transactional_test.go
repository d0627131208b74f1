package email

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"prismd/internal/suppression"
)

func TestTransactionalProviderSendSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/email/send" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(transactionalSendResponse{MessageID: "msg-1", RequestID: "req-1"})
	}))
	defer srv.Close()

	cfg := TransactionalConfig{Endpoint: srv.URL, APIKey: "key", Timeout: 2 * time.Second}
	p := NewTransactionalProvider(cfg, nil, nil)

	msg := &Message{To: []string{"user@example.com"}, Subject: "hi", TextBody: "body", FromEmail: "noreply@example.com"}
	res, err := p.Send(context.Background(), msg)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !res.Success || res.MessageID != "msg-1" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestTransactionalProviderMapsKnownErrorCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(transactionalErrorResponse{Code: "SendingQuotaExceeded", Message: "quota"})
	}))
	defer srv.Close()

	cfg := TransactionalConfig{Endpoint: srv.URL, APIKey: "key", Timeout: 2 * time.Second}
	p := NewTransactionalProvider(cfg, nil, nil)

	msg := &Message{To: []string{"user@example.com"}, Subject: "hi", TextBody: "body", FromEmail: "noreply@example.com"}
	res, err := p.Send(context.Background(), msg)
	if err == nil {
		t.Fatalf("expected error")
	}
	if res.Error != "daily email sending limit reached" {
		t.Fatalf("expected mapped user-friendly error, got %q", res.Error)
	}
}

func TestTransactionalProviderSkipsSuppressedRecipients(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		json.NewEncoder(w).Encode(transactionalSendResponse{MessageID: "msg-1"})
	}))
	defer srv.Close()

	store := suppression.New()
	defer store.Close()
	store.Set("blocked@example.com", "bounced", 0)

	cfg := TransactionalConfig{Endpoint: srv.URL, APIKey: "key", Timeout: 2 * time.Second}
	p := NewTransactionalProvider(cfg, store, nil)

	msg := &Message{To: []string{"blocked@example.com"}, Subject: "hi", TextBody: "body", FromEmail: "noreply@example.com"}
	res, err := p.Send(context.Background(), msg)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Success {
		t.Fatalf("expected suppressed send to fail")
	}
	if called {
		t.Fatalf("expected no HTTP call when every recipient is suppressed")
	}
}

func TestTransactionalProviderVerifyConfiguration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := TransactionalConfig{Endpoint: srv.URL, APIKey: "key", Timeout: 2 * time.Second}
	p := NewTransactionalProvider(cfg, nil, nil)
	if !p.VerifyConfiguration(context.Background()) {
		t.Fatalf("expected verification to succeed")
	}
}
