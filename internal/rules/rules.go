// SPDX-License-Identifier: MIT

// Package rules implements the Rule Repository and Rule Evaluator of
// spec.md §4.3–§4.4: fetching the set of ValidationRule rows in scope for a
// scan and deciding, in deterministic priority order, whether the scan is
// granted.
package rules

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/accessctl/core/internal/domain"
	"github.com/accessctl/core/internal/persistence"
)

// Repository loads the rules applicable to a scan from the Store, grounded
// in original_source/backend/services/parking_service.py's
// _fetch_applicable_rules (GLOBAL ∪ this ZONE ∪ this GATE ∪ this ROLE).
type Repository struct {
	store persistence.Store
}

func NewRepository(store persistence.Store) *Repository {
	return &Repository{store: store}
}

// Applicable returns the enabled rules in scope for a scan at gateID,
// entering zoneID (nil for an exit gate), for a user holding roleID, sorted
// into evaluation priority order.
func (r *Repository) Applicable(ctx context.Context, gateID int64, zoneID *int64, roleID int64) ([]domain.ValidationRule, error) {
	rs, err := r.store.ApplicableRules(ctx, gateID, zoneID, roleID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].Kind.Priority() < rs[j].Kind.Priority() })

	for i := range rs {
		if rs[i].Kind != domain.RuleSchedule {
			continue
		}
		if w, err := ParseScheduleWindow(rs[i].CustomParams); err == nil {
			rs[i].ParsedSchedule = w
		}
	}
	return rs, nil
}

// NextScheduleWindowStart exposes a RuleSchedule rule's next window open
// time to the admin surface, computed from its ParsedSchedule via
// robfig/cron/v3. Returns an error if the rule carries no parsed
// schedule. The decision path never calls this: RuleSchedule rules always
// pass evaluation regardless (see Evaluate's doc comment).
func NextScheduleWindowStart(rule domain.ValidationRule, from time.Time) (time.Time, error) {
	if rule.ParsedSchedule == nil {
		return time.Time{}, fmt.Errorf("rules: rule %d has no parsed schedule", rule.ID)
	}
	return nextWindowStart(*rule.ParsedSchedule, from)
}

// Input bundles everything the Evaluator needs to judge a scan, mirroring
// the positional arguments to _validate_rules in the original service.
type Input struct {
	User         domain.User
	Role         domain.Role
	Tenant       *domain.Tenant
	Gate         domain.Gate
	TargetZone   *domain.Zone
	SourceZone   *domain.Zone
	ActiveSession *domain.ParkingSession
}

// Evaluate walks rules (already sorted by Repository.Applicable) in
// priority order and returns the first violation found, or
// (true, ReasonAccessGranted) if every applicable rule passes.
//
// CHECK_SCHEDULE and CHECK_BLACKLIST are evaluated as always-passing: the
// original service left CHECK_SCHEDULE as a TODO stub and spec.md §9 keeps
// that behavior rather than inventing time-window semantics (SPEC_FULL.md
// §4.11 Non-goal), and no current rule data produces a CHECK_BLACKLIST
// candidate (Open Question resolution #3 in DESIGN.md) — both kinds are
// still sorted into priority order for forward compatibility.
func Evaluate(rs []domain.ValidationRule, in Input) (bool, domain.ReasonCode) {
	if !in.User.IsActive {
		return false, domain.ReasonUserInactive
	}

	for _, rule := range rs {
		switch rule.Kind {
		case domain.RuleCapacity:
			if ok, reason := checkCapacity(rule, in); !ok {
				return false, reason
			}
		case domain.RuleAntipassback:
			if ok, reason := checkAntipassback(in); !ok {
				return false, reason
			}
		case domain.RuleSchedule, domain.RulePayment, domain.RuleBlacklist:
			// always passes; see doc comment above
		}
	}
	return true, domain.ReasonAccessGranted
}

func checkCapacity(rule domain.ValidationRule, in Input) (bool, domain.ReasonCode) {
	if in.Role.CanIgnoreCapacity {
		return true, ""
	}
	if in.TargetZone != nil && in.TargetZone.Occupancy >= in.TargetZone.Capacity {
		return false, domain.ReasonZoneFull
	}
	if in.Tenant != nil && rule.Scope != domain.ScopeZone && in.Tenant.QuotaLimit > 0 && in.Tenant.CurrentUsage >= in.Tenant.QuotaLimit {
		return false, domain.ReasonTenantQuotaExceeded
	}
	return true, ""
}

func checkAntipassback(in Input) (bool, domain.ReasonCode) {
	if in.Role.CanIgnoreAntipassback {
		return true, ""
	}

	switch {
	case in.Gate.IsEntry():
		if in.ActiveSession != nil {
			return false, domain.ReasonAlreadyInside
		}
	case in.Gate.IsExit():
		if in.ActiveSession == nil {
			return false, domain.ReasonNoEntryRecord
		}
	default: // transit
		if in.ActiveSession == nil || in.ActiveSession.CurrentZone == nil || in.Gate.ZoneFromID == nil ||
			*in.ActiveSession.CurrentZone != *in.Gate.ZoneFromID {
			return false, domain.ReasonAPBWrongZone
		}
	}
	return true, ""
}
