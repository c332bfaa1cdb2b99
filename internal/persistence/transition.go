// SPDX-License-Identifier: MIT

package persistence

import (
	"time"

	"github.com/accessctl/core/internal/domain"
)

// TransitionPlan is the pure computation of a granted decision's effect on
// zone occupancy, tenant usage, and the parking session, mirroring the
// teacher's pure Decide(Input) Output pattern (ManuGH-xg2g's
// internal/decision/engine.go) applied to session state instead of codec
// selection. The Store implementations own locking and persistence; this
// function only computes the new values so the arithmetic itself is
// identical, and independently testable, across the sqlite and postgres
// backends.
type TransitionPlan struct {
	TargetZone    *domain.Zone
	SourceZone    *domain.Zone
	Tenant        *domain.Tenant
	Session       domain.ParkingSession
	IsNewSession  bool
	ClosesSession bool
}

// PlanTransition computes the post-state for a granted scan, given the
// already-locked target/source zones and tenant (nil when not applicable).
// now is injected so callers control the timestamp (and tests stay
// deterministic). Exported so the sqlite and postgres Store
// implementations share the identical arithmetic instead of each
// reimplementing it.
func PlanTransition(in TransitionInput, targetZone, sourceZone *domain.Zone, tenant *domain.Tenant, now time.Time) TransitionPlan {
	plan := TransitionPlan{
		TargetZone: targetZone,
		SourceZone: sourceZone,
		Tenant:     tenant,
	}

	session := domain.ParkingSession{
		ID:           0,
		UserID:       in.User.ID,
		CredentialID: in.Credential.ID,
		EntryGateID:  in.Gate.ID,
		EntryTime:    now,
	}
	if in.ActiveSession != nil {
		session = *in.ActiveSession
	}

	// A. entering a zone
	if targetZone != nil {
		targetZone.Occupancy++
		if tenant != nil {
			tenant.CurrentUsage++
		}

		if in.ActiveSession == nil && in.Gate.ZoneFromID == nil {
			// fresh entry into the facility: open a new session
			zid := targetZone.ID
			session.CurrentZone = &zid
			session.EntryTime = now
			plan.IsNewSession = true
		} else if in.ActiveSession != nil {
			// transit: move the existing session into the new zone
			zid := targetZone.ID
			session.CurrentZone = &zid
		}
	}

	// B. leaving a zone
	if sourceZone != nil {
		if sourceZone.Occupancy > 0 {
			sourceZone.Occupancy--
		}
		if tenant != nil && tenant.CurrentUsage > 0 {
			tenant.CurrentUsage--
		}

		if in.Gate.ZoneToID == nil && in.ActiveSession != nil {
			exitGate := in.Gate.ID
			session.ExitGateID = &exitGate
			exitTime := now
			session.ExitTime = &exitTime
			plan.ClosesSession = true
		}
	}

	plan.Session = session
	return plan
}
