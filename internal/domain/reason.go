// SPDX-License-Identifier: MIT

package domain

// ReasonCode is a typed decision outcome code, mirroring the teacher's
// typed Reason constants for its codec decision engine (grounded in
// ManuGH-xg2g's internal/decision pattern) applied to access outcomes
// instead of stream profile choices.
type ReasonCode string

const (
	ReasonAccessGranted      ReasonCode = "ACCESS_GRANTED"
	ReasonDuplicateScan      ReasonCode = "DUPLICATE_SCAN_IGNORED"
	ReasonUnknownGate        ReasonCode = "UNKNOWN_GATE"
	ReasonUnknownCredential  ReasonCode = "UNKNOWN_CREDENTIAL"
	ReasonUserInactive       ReasonCode = "USER_INACTIVE"
	ReasonZoneFull           ReasonCode = "ZONE_FULL"
	ReasonTenantQuotaExceeded ReasonCode = "TENANT_QUOTA_EXCEEDED"
	ReasonAlreadyInside      ReasonCode = "ALREADY_INSIDE"
	ReasonNoEntryRecord      ReasonCode = "NO_ENTRY_RECORD"
	ReasonAPBWrongZone       ReasonCode = "APB_VIOLATION_WRONG_ZONE"
	ReasonManualOverride     ReasonCode = "MANUAL_OPEN_DASHBOARD"
	ReasonSystemError        ReasonCode = "SYSTEM_ERROR"
)

// Path identifies which code path produced a Decision, mirroring the
// teacher's typed Path constants alongside its Reason constants.
type Path string

const (
	PathDebounced    Path = "DEBOUNCED"
	PathUnknownGate  Path = "UNKNOWN_GATE"
	PathUnknownCred  Path = "UNKNOWN_CREDENTIAL"
	PathRuleDenied   Path = "RULE_DENIED"
	PathGranted      Path = "GRANTED"
	PathManualOverride Path = "MANUAL_OVERRIDE"
	PathSystemError  Path = "SYSTEM_ERROR"
)
