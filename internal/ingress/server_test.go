// SPDX-License-Identifier: MIT

package ingress

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/accessctl/core/internal/cache"
	"github.com/accessctl/core/internal/domain"
	"github.com/accessctl/core/internal/events"
	"github.com/accessctl/core/internal/persistence"
	"github.com/accessctl/core/internal/rules"
)

type fakeStore struct {
	device         domain.Device
	gate           domain.Gate
	zone           domain.Zone
	lookup         persistence.CredentialLookup
	applicableRule []domain.ValidationRule
	scans          []domain.ScanLog
	transitioned   bool
}

func (f *fakeStore) DeviceByIP(ctx context.Context, ip string) (domain.Device, error) { return f.device, nil }
func (f *fakeStore) DeviceByGateID(ctx context.Context, gateID int64) (domain.Device, error) {
	return f.device, nil
}
func (f *fakeStore) Gate(ctx context.Context, gateID int64) (domain.Gate, error) { return f.gate, nil }
func (f *fakeStore) Zone(ctx context.Context, zoneID int64) (domain.Zone, error) { return f.zone, nil }
func (f *fakeStore) CredentialByValue(ctx context.Context, credType domain.CredentialType, value string) (persistence.CredentialLookup, error) {
	return f.lookup, nil
}
func (f *fakeStore) ApplicableRules(ctx context.Context, gateID int64, zoneID *int64, roleID int64) ([]domain.ValidationRule, error) {
	return f.applicableRule, nil
}
func (f *fakeStore) ActiveSession(ctx context.Context, userID int64) (*domain.ParkingSession, error) {
	return nil, nil
}
func (f *fakeStore) ExecuteTransition(ctx context.Context, in persistence.TransitionInput) (persistence.TransitionResult, error) {
	f.transitioned = true
	return persistence.TransitionResult{Session: domain.ParkingSession{ID: 1}, TouchedZoneIDs: []int64{f.zone.ID}, ZoneOccupancies: map[int64]int{f.zone.ID: f.zone.Occupancy + 1}}, nil
}
func (f *fakeStore) RecordScan(ctx context.Context, entry domain.ScanLog) error {
	f.scans = append(f.scans, entry)
	return nil
}
func (f *fakeStore) ToggleRule(ctx context.Context, ruleID int64, enabled bool) error { return nil }
func (f *fakeStore) Close() error                                                     { return nil }

func newTestServer(t *testing.T, store *fakeStore) *Server {
	t.Helper()
	s, err := New(Config{
		ListenAddr: "127.0.0.1:0",
		Logger:     zerolog.Nop(),
		Store:      store,
		Rules:      rules.NewRepository(store),
		Events:     events.NewHub(zerolog.Nop(), 10),
		Debounce:   cache.NewMemoryCache(time.Minute),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func baseStore() *fakeStore {
	zoneID := int64(1)
	return &fakeStore{
		device: domain.Device{ID: 1, IPAddress: "10.0.0.5", Port: 5005, GateID: 1},
		gate:   domain.Gate{ID: 1, ZoneToID: &zoneID},
		zone:   domain.Zone{ID: 1, Name: "Lobby", Capacity: 10, Occupancy: 0},
		lookup: persistence.CredentialLookup{
			Credential: domain.Credential{ID: 9, Type: domain.CredentialRFID, Value: "CARD-1"},
			User:       domain.User{ID: 5, FirstName: "Jane", LastName: "Doe", IsActive: true},
			Role:       domain.Role{ID: 1, Name: "Employee"},
		},
	}
}

func TestDecide_GrantsAndTransitions(t *testing.T) {
	store := baseStore()
	srv := newTestServer(t, store)

	d := srv.decide(context.Background(), 1, domain.CredentialRFID, "CARD-1")
	if !d.Granted {
		t.Fatalf("expected grant, got reason %q", d.Reason)
	}
	if !store.transitioned {
		t.Fatal("expected ExecuteTransition to be called")
	}
	if len(store.scans) != 1 || !store.scans[0].IsAccessGranted {
		t.Fatalf("expected one granted scan log entry, got %+v", store.scans)
	}
}

func TestDecide_DebouncesDuplicateScan(t *testing.T) {
	store := baseStore()
	srv := newTestServer(t, store)

	first := srv.decide(context.Background(), 1, domain.CredentialRFID, "CARD-1")
	if !first.Granted {
		t.Fatalf("expected first scan granted, got %q", first.Reason)
	}
	second := srv.decide(context.Background(), 1, domain.CredentialRFID, "CARD-1")
	if second.Granted || second.Reason != domain.ReasonDuplicateScan {
		t.Fatalf("expected second scan debounced, got granted=%v reason=%q", second.Granted, second.Reason)
	}
}

func TestDecide_DeniesZoneFull(t *testing.T) {
	store := baseStore()
	store.zone.Occupancy = store.zone.Capacity
	store.applicableRule = []domain.ValidationRule{{ID: 1, Scope: domain.ScopeGlobal, Kind: domain.RuleCapacity, IsEnabled: true}}
	srv := newTestServer(t, store)

	d := srv.decide(context.Background(), 1, domain.CredentialRFID, "CARD-1")
	if d.Granted || d.Reason != domain.ReasonZoneFull {
		t.Fatalf("expected ZONE_FULL denial, got granted=%v reason=%q", d.Granted, d.Reason)
	}
	if store.transitioned {
		t.Fatal("transition must not run on a denied scan")
	}
}

func TestParseScanFrame(t *testing.T) {
	cases := []struct {
		raw      string
		wantType domain.CredentialType
		wantVal  string
		wantOK   bool
	}{
		{"RFID:E2801160600002046654C463", domain.CredentialRFID, "E2801160600002046654C463", true},
		{"QR:abc123", domain.CredentialQR, "abc123", true},
		{"E2801160600002046654C463", domain.CredentialRFID, "E2801160600002046654C463", true},
		{"BOGUS:xyz", "", "", false},
	}
	for _, c := range cases {
		gotType, gotVal, ok := parseScanFrame(c.raw)
		if ok != c.wantOK || gotType != c.wantType || gotVal != c.wantVal {
			t.Errorf("parseScanFrame(%q) = (%q, %q, %v), want (%q, %q, %v)", c.raw, gotType, gotVal, ok, c.wantType, c.wantVal, c.wantOK)
		}
	}
}
