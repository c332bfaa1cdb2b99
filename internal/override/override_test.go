// SPDX-License-Identifier: MIT

package override

import (
	"context"
	"testing"

	"github.com/accessctl/core/internal/domain"
	"github.com/accessctl/core/internal/hardware"
	"github.com/accessctl/core/internal/persistence"
)

type fakeStore struct {
	device domain.Device
	gate   domain.Gate
	scans  []domain.ScanLog
}

func (f *fakeStore) DeviceByIP(ctx context.Context, ip string) (domain.Device, error) {
	return f.device, nil
}
func (f *fakeStore) DeviceByGateID(ctx context.Context, gateID int64) (domain.Device, error) {
	return f.device, nil
}
func (f *fakeStore) Gate(ctx context.Context, gateID int64) (domain.Gate, error) { return f.gate, nil }
func (f *fakeStore) Zone(ctx context.Context, zoneID int64) (domain.Zone, error) {
	return domain.Zone{}, nil
}
func (f *fakeStore) CredentialByValue(ctx context.Context, credType domain.CredentialType, value string) (persistence.CredentialLookup, error) {
	return persistence.CredentialLookup{}, nil
}
func (f *fakeStore) ApplicableRules(ctx context.Context, gateID int64, zoneID *int64, roleID int64) ([]domain.ValidationRule, error) {
	return nil, nil
}
func (f *fakeStore) ActiveSession(ctx context.Context, userID int64) (*domain.ParkingSession, error) {
	return nil, nil
}
func (f *fakeStore) ExecuteTransition(ctx context.Context, in persistence.TransitionInput) (persistence.TransitionResult, error) {
	return persistence.TransitionResult{}, nil
}
func (f *fakeStore) RecordScan(ctx context.Context, entry domain.ScanLog) error {
	f.scans = append(f.scans, entry)
	return nil
}
func (f *fakeStore) ToggleRule(ctx context.Context, ruleID int64, enabled bool) error { return nil }
func (f *fakeStore) Close() error                                                     { return nil }

func TestService_Open_HardwareFailureErrors(t *testing.T) {
	// DeviceByGateID succeeding with a device at 127.0.0.1 port 1 (no
	// listener there) exercises the "hardware open failed" error path
	// without a live socket.
	store := &fakeStore{device: domain.Device{ID: 1, IPAddress: "127.0.0.1", Port: 1}, gate: domain.Gate{ID: 1, Name: "Main Gate"}}
	svc := NewService(store, hardware.NewSender(nil), nil, nil)

	if err := svc.Open(context.Background(), 1, "operator@example.com"); err == nil {
		t.Fatal("expected an error from an unreachable hardware controller")
	}
	if len(store.scans) != 0 {
		t.Fatal("no scan log should be recorded when the hardware command fails")
	}
}
