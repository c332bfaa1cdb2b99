// SPDX-License-Identifier: MIT

// Package audit provides structured audit logging for security-sensitive operations.
// It follows the WHO/WHAT/WHEN pattern for compliance and forensics.
package audit

import (
	"context"
	"time"

	"github.com/accessctl/core/internal/log"
	"github.com/rs/zerolog"
)

// EventType represents the type of audit event.
type EventType string

const (
	// Configuration events
	EventConfigReload      EventType = "config.reload"
	EventConfigReloadError EventType = "config.reload.error"

	// Scan/decision events (spec.md §4.7 Audit Logger)
	EventScanReceived     EventType = "scan.received"
	EventScanDebounced    EventType = "scan.debounced"
	EventDecisionGranted  EventType = "decision.granted"
	EventDecisionDenied   EventType = "decision.denied"
	EventOverrideGranted  EventType = "override.granted"
	EventHardwareCommand  EventType = "hardware.command.sent"
	EventHardwareFailure  EventType = "hardware.command.failed"
	EventBreakerTripped   EventType = "hardware.breaker.open"

	// Authentication events
	EventAuthSuccess EventType = "auth.success"
	EventAuthFailure EventType = "auth.failure"
	EventAuthMissing EventType = "auth.missing"

	// API access events
	EventAPIAccess    EventType = "api.access"
	EventAPIForbidden EventType = "api.forbidden"
	EventAPIRateLimit EventType = "api.ratelimit"
)

// Event represents a structured audit event.
type Event struct {
	Timestamp  time.Time         `json:"timestamp"`
	Type       EventType         `json:"type"`
	Actor      string            `json:"actor"`             // WHO: username, IP, or "system"
	Action     string            `json:"action"`            // WHAT: human-readable action description
	Resource   string            `json:"resource"`          // Resource affected (e.g., endpoint, config file)
	Result     string            `json:"result"`            // success, failure, denied
	RemoteAddr string            `json:"remote_addr"`       // Client IP address
	UserAgent  string            `json:"user_agent"`        // Client user agent
	RequestID  string            `json:"request_id"`        // Correlation ID
	Details    map[string]string `json:"details,omitempty"` // Additional context
}

// Logger provides audit logging functionality.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new audit logger with a dedicated "audit" component.
func NewLogger() *Logger {
	// Create a dedicated audit logger with clear identification
	auditLogger := log.WithComponent("audit").With().
		Str("log_type", "audit").
		Logger()

	return &Logger{
		logger: auditLogger,
	}
}

// Log writes an audit event to the audit log.
func (l *Logger) Log(event Event) {
	// Set timestamp if not provided
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Build log event
	logEvent := l.logger.Info().
		Time("timestamp", event.Timestamp).
		Str("event_type", string(event.Type)).
		Str("actor", event.Actor).
		Str("action", event.Action).
		Str("resource", event.Resource).
		Str("result", event.Result)

	// Add optional fields
	if event.RemoteAddr != "" {
		logEvent.Str("remote_addr", event.RemoteAddr)
	}
	if event.UserAgent != "" {
		logEvent.Str("user_agent", event.UserAgent)
	}
	if event.RequestID != "" {
		logEvent.Str("request_id", event.RequestID)
	}

	// Add details as flattened fields
	for key, value := range event.Details {
		logEvent.Str(key, value)
	}

	logEvent.Msg("audit event")
}

// LogFromContext logs an audit event with context information.
// It automatically extracts request ID, remote addr, and user agent from the context.
func (l *Logger) LogFromContext(ctx context.Context, event Event) {
	// Extract request metadata from context if available
	// (These would be set by middleware in a real app)
	if event.RequestID == "" {
		if reqID := ctx.Value("request_id"); reqID != nil {
			if id, ok := reqID.(string); ok {
				event.RequestID = id
			}
		}
	}

	if event.RemoteAddr == "" {
		if addr := ctx.Value("remote_addr"); addr != nil {
			if ip, ok := addr.(string); ok {
				event.RemoteAddr = ip
			}
		}
	}

	if event.UserAgent == "" {
		if ua := ctx.Value("user_agent"); ua != nil {
			if agent, ok := ua.(string); ok {
				event.UserAgent = agent
			}
		}
	}

	l.Log(event)
}

// ConfigReload logs a configuration reload event.
func (l *Logger) ConfigReload(actor, result string, details map[string]string) {
	l.Log(Event{
		Type:     EventConfigReload,
		Actor:    actor,
		Action:   "reloaded configuration",
		Resource: "config",
		Result:   result,
		Details:  details,
	})
}

// ScanReceived logs a raw scan frame arriving at the ingress dispatcher,
// before debounce filtering or rule evaluation.
func (l *Logger) ScanReceived(gateID, credential string) {
	l.Log(Event{
		Type:     EventScanReceived,
		Actor:    credential,
		Action:   "scan received",
		Resource: gateID,
		Result:   "received",
	})
}

// ScanDebounced logs a scan suppressed by the debounce cache as a duplicate
// read within the debounce window.
func (l *Logger) ScanDebounced(gateID, credential string) {
	l.Log(Event{
		Type:     EventScanDebounced,
		Actor:    credential,
		Action:   "scan debounced",
		Resource: gateID,
		Result:   "suppressed",
	})
}

// Decision logs the outcome of the rule evaluator for a single scan:
// granted or denied, with the deciding reason code.
func (l *Logger) Decision(gateID, credential, path, reasonCode string, granted bool) {
	evType := EventDecisionDenied
	result := "denied"
	if granted {
		evType = EventDecisionGranted
		result = "granted"
	}
	l.Log(Event{
		Type:     evType,
		Actor:    credential,
		Action:   "access decision",
		Resource: gateID,
		Result:   result,
		Details: map[string]string{
			"path":        path,
			"reason_code": reasonCode,
		},
	})
}

// OverrideGranted logs a manual override bypassing the rule evaluator for a
// given gate.
func (l *Logger) OverrideGranted(actor, gateID, reason string) {
	l.Log(Event{
		Type:     EventOverrideGranted,
		Actor:    actor,
		Action:   "manual override",
		Resource: gateID,
		Result:   "granted",
		Details: map[string]string{
			"reason": reason,
		},
	})
}

// HardwareCommand logs an outbound open-command delivery attempt to a
// device, success or failure, independent of the authorization decision.
func (l *Logger) HardwareCommand(deviceID string, success bool, errMsg string) {
	evType := EventHardwareCommand
	result := "sent"
	details := map[string]string{}
	if !success {
		evType = EventHardwareFailure
		result = "failed"
		details["error"] = errMsg
	}
	l.Log(Event{
		Type:     evType,
		Actor:    "system",
		Action:   "hardware open command",
		Resource: deviceID,
		Result:   result,
		Details:  details,
	})
}

// BreakerTripped logs a circuit breaker transitioning to the open state for
// a device's outbound command channel.
func (l *Logger) BreakerTripped(deviceID string) {
	l.Log(Event{
		Type:     EventBreakerTripped,
		Actor:    "system",
		Action:   "circuit breaker opened",
		Resource: deviceID,
		Result:   "open",
	})
}

// AuthSuccess logs a successful authentication.
func (l *Logger) AuthSuccess(remoteAddr, endpoint string) {
	l.Log(Event{
		Type:       EventAuthSuccess,
		Actor:      remoteAddr,
		Action:     "authenticated successfully",
		Resource:   endpoint,
		Result:     "success",
		RemoteAddr: remoteAddr,
	})
}

// AuthFailure logs a failed authentication attempt.
func (l *Logger) AuthFailure(remoteAddr, endpoint, reason string) {
	l.Log(Event{
		Type:       EventAuthFailure,
		Actor:      remoteAddr,
		Action:     "authentication failed",
		Resource:   endpoint,
		Result:     "failure",
		RemoteAddr: remoteAddr,
		Details: map[string]string{
			"reason": reason,
		},
	})
}

// AuthMissing logs a request without authentication.
func (l *Logger) AuthMissing(remoteAddr, endpoint string) {
	l.Log(Event{
		Type:       EventAuthMissing,
		Actor:      remoteAddr,
		Action:     "accessed endpoint without authentication",
		Resource:   endpoint,
		Result:     "denied",
		RemoteAddr: remoteAddr,
	})
}

// APIAccess logs API endpoint access.
func (l *Logger) APIAccess(remoteAddr, method, endpoint string, statusCode int) {
	result := "success"
	if statusCode >= 400 {
		result = "failure"
	}

	l.Log(Event{
		Type:       EventAPIAccess,
		Actor:      remoteAddr,
		Action:     method + " " + endpoint,
		Resource:   endpoint,
		Result:     result,
		RemoteAddr: remoteAddr,
		Details: map[string]string{
			"method":      method,
			"status_code": formatInt(statusCode),
		},
	})
}

// RateLimitExceeded logs rate limit violations.
func (l *Logger) RateLimitExceeded(remoteAddr, endpoint string) {
	l.Log(Event{
		Type:       EventAPIRateLimit,
		Actor:      remoteAddr,
		Action:     "rate limit exceeded",
		Resource:   endpoint,
		Result:     "denied",
		RemoteAddr: remoteAddr,
	})
}

// Helper functions

func formatInt(i int) string {
	return formatInt64(int64(i))
}

// join concatenates parts with commas and no surrounding spaces.
func join(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}

func formatInt64(i int64) string {
	// Simple int64 to string conversion
	if i == 0 {
		return "0"
	}

	neg := i < 0
	if neg {
		i = -i
	}

	var buf [20]byte
	pos := len(buf)

	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}

	if neg {
		pos--
		buf[pos] = '-'
	}

	return string(buf[pos:])
}
