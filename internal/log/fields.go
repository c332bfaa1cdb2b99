// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID       = "session_id"
	FieldCorrelationID   = "correlation_id"
	FieldRequestID       = "request_id"
	FieldClientRequestID = "client_request_id"
	FieldJobID           = "job_id"
	FieldServiceRef      = "service_ref"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Access-control domain fields
	FieldTenantID     = "tenant_id"
	FieldZoneID       = "zone_id"
	FieldGateID       = "gate_id"
	FieldDeviceID     = "device_id"
	FieldDeviceIP     = "device_ip"
	FieldCredential   = "credential"
	FieldCredentialID = "credential_id"
	FieldUserID       = "user_id"
	FieldSessionRef   = "parking_session_id"
	FieldRuleID       = "rule_id"
	FieldRuleKind     = "rule_kind"
	FieldReasonCode   = "reason_code"
	FieldDecisionPath = "decision_path"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Network fields
	FieldRemoteAddr = "remote_addr"
)
