// SPDX-License-Identifier: MIT

// Package persistence defines the Store interface the Access Decision
// Engine uses for all relational reads and the single transactional
// mutation of spec.md §4.5, behind two interchangeable implementations:
// sqlite (internal/persistence/sqlite) for embedded single-file
// deployments and postgres (internal/persistence/postgres) for networked
// production deployments (spec.md §6, SPEC_FULL.md §4.8).
package persistence

import (
	"context"
	"errors"

	"github.com/accessctl/core/internal/domain"
)

// ErrNotFound is returned by lookup methods when no matching row exists.
var ErrNotFound = errors.New("persistence: not found")

// CredentialLookup bundles a credential with its owning user, the user's
// role, and (if any) tenant — the joined read the original decision logic
// performs before rule evaluation can proceed.
type CredentialLookup struct {
	Credential domain.Credential
	User       domain.User
	Role       domain.Role
	Tenant     *domain.Tenant
}

// TransitionInput captures everything the State Transition Executor
// (spec.md §4.5) needs to apply a granted decision atomically.
type TransitionInput struct {
	User         domain.User
	Credential   domain.Credential
	Gate         domain.Gate
	ActiveSession *domain.ParkingSession
}

// TransitionResult reports the zone occupancy levels touched by a
// transition, so the Event Emitter can publish occupancy updates without
// a second read (spec.md §4.7).
type TransitionResult struct {
	Session         domain.ParkingSession
	TouchedZoneIDs  []int64
	ZoneOccupancies map[int64]int
}

// Store is the persistence adapter contract. All methods that read state
// consulted by the Rule Evaluator (zone occupancy, tenant usage, active
// session) must reflect a consistent snapshot when called from within
// ExecuteTransition, which is responsible for acquiring whatever row locks
// its backing driver supports before re-validating capacity.
type Store interface {
	// DeviceByIP resolves the hardware device (and its gate) that sent a
	// scan frame, keyed by source IP (spec.md §6 ingress framing).
	DeviceByIP(ctx context.Context, ip string) (domain.Device, error)

	// DeviceByGateID resolves the primary hardware controller for a gate,
	// used by the Manual Override path (spec.md §4.6) and the hardware
	// command sender.
	DeviceByGateID(ctx context.Context, gateID int64) (domain.Device, error)

	// Gate fetches a gate by ID.
	Gate(ctx context.Context, gateID int64) (domain.Gate, error)

	// Zone fetches a zone by ID.
	Zone(ctx context.Context, zoneID int64) (domain.Zone, error)

	// CredentialByValue resolves an active credential and its owning
	// user/role/tenant by (type, raw value).
	CredentialByValue(ctx context.Context, credType domain.CredentialType, value string) (CredentialLookup, error)

	// ApplicableRules returns enabled rules in scope for a scan at the
	// given gate/zone/role (spec.md §4.3: GLOBAL, this ZONE, this GATE,
	// this ROLE).
	ApplicableRules(ctx context.Context, gateID int64, zoneID *int64, roleID int64) ([]domain.ValidationRule, error)

	// ActiveSession returns the user's open parking session, if any.
	ActiveSession(ctx context.Context, userID int64) (*domain.ParkingSession, error)

	// ExecuteTransition performs the granted-decision mutation (spec.md
	// §4.5) inside a single transaction: re-check capacity after
	// acquiring locks, update zone occupancy and tenant usage, open or
	// update or close the parking session, and touch the credential's
	// last-used timestamp.
	ExecuteTransition(ctx context.Context, in TransitionInput) (TransitionResult, error)

	// RecordScan appends an immutable ScanLog row, regardless of outcome.
	RecordScan(ctx context.Context, entry domain.ScanLog) error

	// ToggleRule flips a ValidationRule's enabled flag, backing the admin
	// HTTP surface's rule toggle route (SPEC_FULL.md §6).
	ToggleRule(ctx context.Context, ruleID int64, enabled bool) error

	// Close releases the underlying connection pool.
	Close() error
}
