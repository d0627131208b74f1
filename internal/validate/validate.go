// Package validate performs structural and semantic validation of incoming
// registration messages: required fields, supported version/type, hostname
// shape, timestamp format, and a security scan for suspicious content.
package validate

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"prismd/internal/wire"
)

const (
	maxHostnameLength = 253
	maxLabelLength    = 63
)

var (
	// hostnamePattern mirrors RFC 1123: labels of letters/digits/hyphens,
	// not starting or ending with a hyphen.
	hostnamePattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?)*$`)

	suspiciousPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)<script`),
		regexp.MustCompile(`(?i)javascript:`),
		regexp.MustCompile(`(?i)on\w+\s*=`),
		regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`),
		regexp.MustCompile(`\.\./`),
	}

	reservedHostnames = map[string]bool{
		"localhost":     true,
		"broadcasthost": true,
	}
)

// Error is returned for any validation failure. Field names the offending
// wire field, empty when the failure is structural.
type Error struct {
	Field string
	Msg   string
}

func (e *Error) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

func fail(field, format string, args ...interface{}) *Error {
	return &Error{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// registrationStruct is the structural shape checked by validator/v10 before
// any semantic rule runs. json tags are reused so the library's field
// resolution matches the wire names in error messages.
type registrationStruct struct {
	Version   string `validate:"required" json:"version"`
	Type      string `validate:"required" json:"type"`
	Timestamp string `validate:"required" json:"timestamp"`
	Hostname  string `validate:"required" json:"hostname"`
	AuthToken string `validate:"omitempty" json:"auth_token"`
}

// Validator performs two-stage validation of registration frames.
type Validator struct {
	structural *validator.Validate
}

// New builds a Validator.
func New() *Validator {
	return &Validator{structural: validator.New()}
}

// Reserved reports whether hostname is one of the accepted-but-logged
// reserved names (localhost, broadcasthost).
func Reserved(hostname string) bool {
	return reservedHostnames[strings.ToLower(hostname)]
}

// ParseRaw unmarshals raw JSON into a wire.RegisterMessage and checks for
// unknown top-level fields, which the protocol rejects outright.
func ParseRaw(raw json.RawMessage) (wire.RegisterMessage, error) {
	var msg wire.RegisterMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return wire.RegisterMessage{}, fail("", "malformed JSON: %v", err)
	}

	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return wire.RegisterMessage{}, fail("", "malformed JSON: %v", err)
	}
	allowed := map[string]bool{"version": true, "type": true, "timestamp": true, "hostname": true, "auth_token": true}
	for key := range generic {
		if !allowed[key] {
			return wire.RegisterMessage{}, fail(key, "unknown field")
		}
	}

	return msg, nil
}

// ValidateRegistration runs the full structural + semantic pipeline against
// a decoded registration message. On success it returns the sanitized,
// canonical hostname that should be used for all downstream processing.
func (v *Validator) ValidateRegistration(msg wire.RegisterMessage) (sanitizedHostname string, err error) {
	if err := v.validateStructure(msg); err != nil {
		return "", err
	}

	if err := validateHostnameShape(msg.Hostname); err != nil {
		return "", err
	}

	if err := validateTimestamp(msg.Timestamp); err != nil {
		return "", err
	}

	if err := scanForSuspiciousContent(msg); err != nil {
		return "", err
	}

	return SanitizeHostname(msg.Hostname), nil
}

func (v *Validator) validateStructure(msg wire.RegisterMessage) error {
	s := registrationStruct{
		Version:   msg.Version,
		Type:      msg.Type,
		Timestamp: msg.Timestamp,
		Hostname:  msg.Hostname,
		AuthToken: msg.AuthToken,
	}
	if err := v.structural.Struct(s); err != nil {
		return fail("", "missing or malformed required field: %v", err)
	}

	if msg.Version != wire.ProtocolVersion {
		return fail("version", "unsupported version %q", msg.Version)
	}
	if msg.Type != wire.TypeRegistration {
		return fail("type", "unsupported message type %q", msg.Type)
	}
	return nil
}

func validateHostnameShape(hostname string) error {
	if hostname == "" {
		return fail("hostname", "cannot be empty")
	}
	if len(hostname) > maxHostnameLength {
		return fail("hostname", "too long: %d > %d", len(hostname), maxHostnameLength)
	}
	if strings.HasPrefix(hostname, "-") || strings.HasSuffix(hostname, "-") {
		return fail("hostname", "cannot start or end with hyphen")
	}
	if strings.HasPrefix(hostname, ".") || strings.HasSuffix(hostname, ".") {
		return fail("hostname", "cannot start or end with dot")
	}
	if strings.Contains(hostname, "..") {
		return fail("hostname", "cannot contain consecutive dots")
	}
	if !hostnamePattern.MatchString(hostname) {
		return fail("hostname", "contains invalid characters or format")
	}
	for _, label := range strings.Split(hostname, ".") {
		if len(label) == 0 {
			return fail("hostname", "cannot have empty labels")
		}
		if len(label) > maxLabelLength {
			return fail("hostname", "label too long: %d > %d", len(label), maxLabelLength)
		}
	}
	return nil
}

func validateTimestamp(ts string) error {
	if ts == "" {
		return fail("timestamp", "cannot be empty")
	}
	if !strings.Contains(ts, "T") {
		return fail("timestamp", "must include time component (ISO 8601)")
	}
	if _, err := time.Parse(time.RFC3339, ts); err != nil {
		if _, err2 := time.Parse("2006-01-02T15:04:05", ts); err2 != nil {
			return fail("timestamp", "invalid ISO 8601 timestamp: %v", err)
		}
	}
	return nil
}

func scanForSuspiciousContent(msg wire.RegisterMessage) error {
	fields := map[string]string{
		"version":    msg.Version,
		"type":       msg.Type,
		"timestamp":  msg.Timestamp,
		"hostname":   msg.Hostname,
		"auth_token": msg.AuthToken,
	}
	for field, value := range fields {
		for _, pattern := range suspiciousPatterns {
			if pattern.MatchString(value) {
				return fail(field, "contains suspicious content")
			}
		}
	}
	return nil
}

// SanitizeHostname applies the canonical, informational-only transform:
// lowercase, trim, collapse repeated dots, strip leading/trailing dots and
// hyphens. The sanitized form is what the store keys on.
func SanitizeHostname(hostname string) string {
	s := strings.ToLower(strings.TrimSpace(hostname))
	for strings.Contains(s, "..") {
		s = strings.ReplaceAll(s, "..", ".")
	}
	return strings.Trim(s, ".-")
}
