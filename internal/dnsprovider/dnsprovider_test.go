package dnsprovider

import (
	"context"
	"testing"
)

func TestDisabledAlwaysUnchanged(t *testing.T) {
	d := Disabled{}
	ctx := context.Background()

	out, err := d.EnsureRecord(ctx, "host-a", "example.com", "127.0.0.1", 300)
	if err != nil || out != RecordUnchanged {
		t.Fatalf("expected (unchanged, nil), got (%v, %v)", out, err)
	}

	del, err := d.DeleteRecord(ctx, "host-a", "example.com")
	if err != nil || del != RecordAbsent {
		t.Fatalf("expected (absent, nil), got (%v, %v)", del, err)
	}

	exists, err := d.ZoneExists(ctx, "example.com")
	if err != nil || !exists {
		t.Fatalf("expected zone to always exist for Disabled provider")
	}
}

func TestStaticEnsureRecordCreatedThenUpdatedThenUnchanged(t *testing.T) {
	s := NewStatic("example.com")
	ctx := context.Background()

	out, err := s.EnsureRecord(ctx, "host-a", "example.com", "127.0.0.1", 300)
	if err != nil || out != RecordCreated {
		t.Fatalf("expected created, got (%v, %v)", out, err)
	}

	out, err = s.EnsureRecord(ctx, "host-a", "example.com", "127.0.0.1", 300)
	if err != nil || out != RecordUnchanged {
		t.Fatalf("expected unchanged, got (%v, %v)", out, err)
	}

	out, err = s.EnsureRecord(ctx, "host-a", "example.com", "10.0.0.5", 300)
	if err != nil || out != RecordUpdated {
		t.Fatalf("expected updated, got (%v, %v)", out, err)
	}

	ip, ok := s.Lookup("example.com", "host-a")
	if !ok || ip != "10.0.0.5" {
		t.Fatalf("expected lookup to reflect latest IP, got %q, %v", ip, ok)
	}
}

func TestStaticEnsureRecordMissingZone(t *testing.T) {
	s := NewStatic("example.com")
	_, err := s.EnsureRecord(context.Background(), "host-a", "other.com", "127.0.0.1", 300)
	if !errIsKind(err, ZoneMissing) {
		t.Fatalf("expected ZoneMissing, got %v", err)
	}
}

func TestStaticEnsureRecordRejectsBadIP(t *testing.T) {
	s := NewStatic("example.com")
	_, err := s.EnsureRecord(context.Background(), "host-a", "example.com", "not-an-ip", 300)
	if !errIsKind(err, Rejected) {
		t.Fatalf("expected Rejected, got %v", err)
	}
}

func TestStaticDeleteRecord(t *testing.T) {
	s := NewStatic("example.com")
	ctx := context.Background()
	s.EnsureRecord(ctx, "host-a", "example.com", "127.0.0.1", 300)

	out, err := s.DeleteRecord(ctx, "host-a", "example.com")
	if err != nil || out != RecordDeleted {
		t.Fatalf("expected deleted, got (%v, %v)", out, err)
	}

	out, err = s.DeleteRecord(ctx, "host-a", "example.com")
	if err != nil || out != RecordAbsent {
		t.Fatalf("expected absent on second delete, got (%v, %v)", out, err)
	}
}

func TestRetryableClassification(t *testing.T) {
	if !Retryable(&Error{Kind: Transient, Msg: "timeout"}) {
		t.Errorf("expected Transient to be retryable")
	}
	if Retryable(&Error{Kind: Rejected, Msg: "bad request"}) {
		t.Errorf("expected Rejected to not be retryable")
	}
}

func errIsKind(err error, kind Failure) bool {
	de, ok := err.(*Error)
	return ok && de.Kind == kind
}
