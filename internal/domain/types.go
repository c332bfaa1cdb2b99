// SPDX-License-Identifier: MIT

// Package domain defines the entity types of the access control data
// model: Role, Tenant, User, Credential, Zone, Gate, Device,
// ValidationRule, ParkingSession, and ScanLog.
package domain

import "time"

// CredentialType identifies the physical or digital access method used at
// a scan.
type CredentialType string

const (
	CredentialRFID CredentialType = "RFID"
	CredentialLPR  CredentialType = "LPR"
	CredentialQR   CredentialType = "QR"
	CredentialPIN  CredentialType = "PIN"
)

// Valid reports whether s is a recognized credential type.
func (c CredentialType) Valid() bool {
	switch c {
	case CredentialRFID, CredentialLPR, CredentialQR, CredentialPIN:
		return true
	}
	return false
}

// RuleScope identifies the level at which a ValidationRule is applied.
type RuleScope string

const (
	ScopeGlobal RuleScope = "GLOBAL"
	ScopeZone   RuleScope = "ZONE"
	ScopeGate   RuleScope = "GATE"
	ScopeRole   RuleScope = "ROLE"
)

// RuleKind identifies the logic type a ValidationRule enforces.
//
// Evaluation priority (spec.md §4.4, §9): CAPACITY is checked before
// ANTIPASSBACK, then SCHEDULE, then PAYMENT, then BLACKLIST.
type RuleKind string

const (
	RuleCapacity     RuleKind = "CHECK_CAPACITY"
	RuleSchedule     RuleKind = "CHECK_SCHEDULE"
	RulePayment      RuleKind = "CHECK_PAYMENT"
	RuleAntipassback RuleKind = "CHECK_ANTIPASSBACK"
	RuleBlacklist    RuleKind = "CHECK_BLACKLIST"
)

// rulePriority ranks rule kinds for deterministic evaluation order. Lower
// values evaluate first.
var rulePriority = map[RuleKind]int{
	RuleCapacity:     0,
	RuleAntipassback: 1,
	RuleSchedule:     2,
	RulePayment:      3,
	RuleBlacklist:    4,
}

// Priority returns the evaluation order rank of the rule kind. Unknown
// kinds sort last.
func (k RuleKind) Priority() int {
	if p, ok := rulePriority[k]; ok {
		return p
	}
	return len(rulePriority)
}

// Role groups permission flags and billing status shared by a set of users.
type Role struct {
	ID                    int64
	Name                  string
	Description           string
	CanIgnoreCapacity     bool
	CanIgnoreAntipassback bool
	CanIgnoreSchedule     bool
	IsBillable            bool
}

// Tenant tracks an aggregate quota shared across its users' sessions.
type Tenant struct {
	ID           int64
	Name         string
	QuotaLimit   int
	CurrentUsage int
	IsActive     bool
}

// User is the human or system entity a Credential authenticates.
type User struct {
	ID          int64
	FirstName   string
	LastName    string
	Email       string
	PhoneNumber string
	RoleID      int64
	TenantID    *int64
	CreatedAt   time.Time
	IsActive    bool
}

// FullName returns the user's display name.
func (u User) FullName() string {
	return u.FirstName + " " + u.LastName
}

// Credential is a physical or digital access method (RFID card, license
// plate, QR code, PIN) bound to exactly one User.
type Credential struct {
	ID         int64
	UserID     int64
	Type       CredentialType
	Value      string
	IsActive   bool
	LastUsedAt *time.Time
}

// Zone is a physical area with an occupancy counter bounded by Capacity.
// Zones may nest via ParentZoneID.
type Zone struct {
	ID           int64
	Name         string
	Capacity     int
	Occupancy    int
	ParentZoneID *int64
}

// Gate is a directional transition point between two zones. A nil
// ZoneFromID models an entry gate from the outside world; a nil ZoneToID
// models an exit gate to the outside world; both set models an internal
// transit gate between two zones.
type Gate struct {
	ID         int64
	Name       string
	ZoneFromID *int64
	ZoneToID   *int64
	IsActive   bool
}

// IsEntry reports whether this gate admits into a zone from outside.
func (g Gate) IsEntry() bool {
	return g.ZoneFromID == nil && g.ZoneToID != nil
}

// IsExit reports whether this gate releases from a zone to outside.
func (g Gate) IsExit() bool {
	return g.ZoneFromID != nil && g.ZoneToID == nil
}

// IsTransit reports whether this gate moves between two zones.
func (g Gate) IsTransit() bool {
	return g.ZoneFromID != nil && g.ZoneToID != nil
}

// Device is the physical hardware controller (reader + relay) mounted at a
// Gate, addressable by IP for the outbound open command.
type Device struct {
	ID         int64
	Name       string
	IPAddress  string
	Port       int
	DeviceType string
	Config     string // opaque JSON hardware config
	GateID     int64
}

// ValidationRule is a configuration-driven condition evaluated against a
// scan. For a ZONE, GATE or ROLE scope, the matching one of
// TargetZoneID/TargetGateID/TargetRoleID is set; a GLOBAL rule sets none.
type ValidationRule struct {
	ID            int64
	Scope         RuleScope
	Kind          RuleKind
	TargetZoneID  *int64
	TargetGateID  *int64
	TargetRoleID  *int64
	IsEnabled     bool
	CustomParams  string // opaque JSON, e.g. {"start":"08:00","end":"18:00"}

	// ParsedSchedule is populated by rules.Repository.Applicable for
	// RuleSchedule rules from CustomParams; it is never persisted and is
	// nil for every other rule kind.
	ParsedSchedule *ScheduleWindow
}

// ScheduleWindow is the parsed shape of a SCHEDULE rule's CustomParams.
// Parsing it does not cross the evaluation Non-goal boundary (spec.md §9,
// SPEC_FULL.md §4.11): RuleSchedule rules still always pass evaluation.
type ScheduleWindow struct {
	Start string // "HH:MM"
	End   string // "HH:MM"
	Days  []string
}

// ParkingSession tracks one user's occupancy of the facility from an entry
// gate to an exit gate. CurrentZone is maintained across transit gates so
// antipassback checks can verify the user is physically where they claim
// to be (spec.md §9).
type ParkingSession struct {
	ID            int64
	UserID        int64
	CredentialID  int64
	EntryGateID   int64
	EntryTime     time.Time
	ExitGateID    *int64
	ExitTime      *time.Time
	CurrentZone   *int64
	TotalCostCent int
}

// IsOpen reports whether the session has not yet exited.
func (s ParkingSession) IsOpen() bool {
	return s.ExitTime == nil
}

// ScanLog is the immutable audit record of every scan event, granted or
// denied, even for unknown credentials or gates.
type ScanLog struct {
	ID                int64
	CreatedAt         time.Time
	GateID            *int64
	GateNameSnapshot  string
	ScanType          CredentialType
	RawPayload        string
	IsAccessGranted   bool
	DenialReason      string
	ResolvedUserID    *int64
	ResolvedTenantID  *int64
}
