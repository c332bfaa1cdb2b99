// SPDX-License-Identifier: MIT

package domain

import "testing"

func TestGateDirectionality(t *testing.T) {
	zoneA := int64(1)
	zoneB := int64(2)

	entry := Gate{ZoneFromID: nil, ZoneToID: &zoneA}
	if !entry.IsEntry() || entry.IsExit() || entry.IsTransit() {
		t.Fatalf("expected entry gate classification, got %+v", entry)
	}

	exit := Gate{ZoneFromID: &zoneA, ZoneToID: nil}
	if !exit.IsExit() || exit.IsEntry() || exit.IsTransit() {
		t.Fatalf("expected exit gate classification, got %+v", exit)
	}

	transit := Gate{ZoneFromID: &zoneA, ZoneToID: &zoneB}
	if !transit.IsTransit() || transit.IsEntry() || transit.IsExit() {
		t.Fatalf("expected transit gate classification, got %+v", transit)
	}
}

func TestRuleKindPriority(t *testing.T) {
	order := []RuleKind{RuleCapacity, RuleAntipassback, RuleSchedule, RulePayment, RuleBlacklist}
	for i := 1; i < len(order); i++ {
		if order[i-1].Priority() >= order[i].Priority() {
			t.Fatalf("expected %s to sort before %s", order[i-1], order[i])
		}
	}
}

func TestCredentialTypeValid(t *testing.T) {
	for _, c := range []CredentialType{CredentialRFID, CredentialLPR, CredentialQR, CredentialPIN} {
		if !c.Valid() {
			t.Errorf("expected %s to be valid", c)
		}
	}
	if CredentialType("BADGE").Valid() {
		t.Error("expected unknown credential type to be invalid")
	}
}

func TestParkingSessionIsOpen(t *testing.T) {
	open := ParkingSession{}
	if !open.IsOpen() {
		t.Error("expected session without ExitTime to be open")
	}
}
