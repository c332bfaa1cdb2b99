// SPDX-License-Identifier: MIT

package persistence

import (
	"testing"
	"time"

	"github.com/accessctl/core/internal/domain"
)

func TestPlanTransition_Entry(t *testing.T) {
	now := time.Now()
	zone := &domain.Zone{ID: 1, Capacity: 10, Occupancy: 2}
	tenant := &domain.Tenant{ID: 1, QuotaLimit: 10, CurrentUsage: 3}

	in := TransitionInput{
		User:       domain.User{ID: 5},
		Credential: domain.Credential{ID: 9},
		Gate:       domain.Gate{ID: 1, ZoneFromID: nil, ZoneToID: int64Ptr(1)},
	}

	plan := PlanTransition(in, zone, nil, tenant, now)

	if zone.Occupancy != 3 {
		t.Errorf("expected zone occupancy 3, got %d", zone.Occupancy)
	}
	if tenant.CurrentUsage != 4 {
		t.Errorf("expected tenant usage 4, got %d", tenant.CurrentUsage)
	}
	if !plan.IsNewSession {
		t.Error("expected a new session to be opened on entry")
	}
	if plan.Session.CurrentZone == nil || *plan.Session.CurrentZone != 1 {
		t.Error("expected session current_zone to be set to the entered zone")
	}
}

func TestPlanTransition_Exit(t *testing.T) {
	now := time.Now()
	zone := &domain.Zone{ID: 1, Capacity: 10, Occupancy: 3}
	tenant := &domain.Tenant{ID: 1, QuotaLimit: 10, CurrentUsage: 4}
	curZone := int64(1)
	active := &domain.ParkingSession{ID: 42, UserID: 5, CurrentZone: &curZone}

	in := TransitionInput{
		User:          domain.User{ID: 5},
		Credential:    domain.Credential{ID: 9},
		Gate:          domain.Gate{ID: 2, ZoneFromID: &curZone, ZoneToID: nil},
		ActiveSession: active,
	}

	plan := PlanTransition(in, nil, zone, tenant, now)

	if zone.Occupancy != 2 {
		t.Errorf("expected zone occupancy 2, got %d", zone.Occupancy)
	}
	if tenant.CurrentUsage != 3 {
		t.Errorf("expected tenant usage 3, got %d", tenant.CurrentUsage)
	}
	if !plan.ClosesSession {
		t.Error("expected the session to close on exit")
	}
	if plan.Session.ExitTime == nil {
		t.Error("expected ExitTime to be set")
	}
}

func TestPlanTransition_Transit(t *testing.T) {
	now := time.Now()
	zoneA := int64(1)
	target := &domain.Zone{ID: 2, Capacity: 10, Occupancy: 1}
	source := &domain.Zone{ID: 1, Capacity: 10, Occupancy: 2}
	active := &domain.ParkingSession{ID: 7, UserID: 5, CurrentZone: &zoneA}

	in := TransitionInput{
		User:          domain.User{ID: 5},
		Credential:    domain.Credential{ID: 9},
		Gate:          domain.Gate{ID: 3, ZoneFromID: &zoneA, ZoneToID: int64Ptr(2)},
		ActiveSession: active,
	}

	plan := PlanTransition(in, target, source, nil, now)

	if target.Occupancy != 2 || source.Occupancy != 1 {
		t.Errorf("expected target occupancy 2 and source occupancy 1, got target=%d source=%d", target.Occupancy, source.Occupancy)
	}
	if plan.IsNewSession || plan.ClosesSession {
		t.Error("transit must neither open nor close a session")
	}
	if plan.Session.CurrentZone == nil || *plan.Session.CurrentZone != 2 {
		t.Error("expected session current_zone to move to the target zone")
	}
}

func TestPlanTransition_ZoneOccupancyNeverGoesNegative(t *testing.T) {
	now := time.Now()
	source := &domain.Zone{ID: 1, Capacity: 10, Occupancy: 0}
	in := TransitionInput{
		Gate: domain.Gate{ID: 1, ZoneFromID: int64Ptr(1), ZoneToID: nil},
	}

	PlanTransition(in, nil, source, nil, now)

	if source.Occupancy != 0 {
		t.Errorf("expected occupancy to stay clamped at 0, got %d", source.Occupancy)
	}
}

func int64Ptr(v int64) *int64 { return &v }
