// Package audit contains domain types for security audit logging.
package audit

import (
	"strings"
	"time"
)

// Severity grades a security event.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Action names recorded in the audit log.
const (
	ActionLoginSuccess        = "LOGIN_SUCCESS"
	ActionLoginFailed         = "LOGIN_FAILED"
	ActionLoginLocked         = "SECURITY_ALERT_LOGIN_LOCKED"
	ActionLogout              = "LOGOUT"
	ActionTokenRefreshed      = "TOKEN_REFRESHED"
	ActionTokenReplay         = "SECURITY_ALERT_TOKEN_REPLAY"
	ActionFingerprintMismatch = "SECURITY_ALERT_UA_MISMATCH"
	ActionIPShift             = "SECURITY_INFO_IP_SHIFT"
	ActionArmStateChanged     = "HUB_ARM_STATE_CHANGED"
	ActionOperatorKeyFailed   = "SECURITY_ALERT_OPERATOR_KEY_FAILED"
)

// Record is a single audit log entry.
type Record struct {
	// Timestamp is when the event occurred (UTC).
	Timestamp time.Time `json:"timestamp"`
	// Subject is the tenant the event concerns, empty when unknown.
	Subject string `json:"subject,omitempty"`
	// Action names the event (see the Action constants).
	Action string `json:"action"`
	// Severity grades the event.
	Severity Severity `json:"severity"`
	// Endpoint and Method describe the inbound request.
	Endpoint string `json:"endpoint,omitempty"`
	Method   string `json:"method,omitempty"`
	// StatusCode is the HTTP status returned to the client.
	StatusCode int `json:"status_code,omitempty"`
	// ClientIP and UserAgent identify the caller.
	ClientIP  string `json:"client_ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	// ResourceID is the hub or device the event refers to.
	ResourceID string `json:"resource_id,omitempty"`
	// RequestID correlates with request logs.
	RequestID string `json:"request_id,omitempty"`
	// Payload carries event details. Sensitive keys are redacted on Record.
	Payload map[string]any `json:"payload,omitempty"`
}

// Recorder accepts audit records. Implementations must not block the caller
// for long; see service.AuditService.
type Recorder interface {
	Record(rec Record)
}

// sensitiveKeywords lists substrings that mark a payload key as sensitive.
// Comparison is case-insensitive.
var sensitiveKeywords = []string{
	"password", "secret", "token", "api_key", "apikey", "credential",
}

// RedactPayload returns a copy of payload with sensitive values masked.
func RedactPayload(payload map[string]any) map[string]any {
	if len(payload) == 0 {
		return payload
	}
	redacted := make(map[string]any, len(payload))
	for k, v := range payload {
		if isSensitiveKey(k) {
			redacted[k] = "***REDACTED***"
		} else {
			redacted[k] = v
		}
	}
	return redacted
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
