// SPDX-License-Identifier: MIT

// Package override implements the Manual Override path of spec.md §4.6: an
// operator-triggered gate open that bypasses rule evaluation entirely,
// grounded in original_source/backend/services/forwarder_tcp.py's
// open_gate_manual.
package override

import (
	"context"
	"fmt"

	"github.com/accessctl/core/internal/audit"
	"github.com/accessctl/core/internal/domain"
	"github.com/accessctl/core/internal/events"
	"github.com/accessctl/core/internal/hardware"
	"github.com/accessctl/core/internal/persistence"
)

// Service opens a gate on operator request without consulting the Rule
// Evaluator, and still writes an audit-visible ScanLog row so the
// dashboard shows the override the same way it shows a normal grant.
type Service struct {
	store    persistence.Store
	hardware *hardware.Sender
	events   *events.Hub
	audit    *audit.Logger
}

func NewService(store persistence.Store, hw *hardware.Sender, hub *events.Hub, auditLog *audit.Logger) *Service {
	return &Service{store: store, hardware: hw, events: hub, audit: auditLog}
}

// Open finds the controller for gateID, sends the open command, and
// records an audit-visible ScanLog row with ReasonManualOverride —
// matching open_gate_manual's behavior of logging
// "MANUAL_OPEN_DASHBOARD" as a granted ScanLog with no resolved user.
func (s *Service) Open(ctx context.Context, gateID int64, actor string) error {
	device, err := s.store.DeviceByGateID(ctx, gateID)
	if err != nil {
		return fmt.Errorf("override: no hardware controller for gate %d: %w", gateID, err)
	}
	gate, err := s.store.Gate(ctx, gateID)
	if err != nil {
		return fmt.Errorf("override: gate %d: %w", gateID, err)
	}

	if _, err := s.hardware.Open(ctx, fmt.Sprintf("%d", device.ID), device.IPAddress, device.Port); err != nil {
		return fmt.Errorf("override: hardware open failed: %w", err)
	}

	if err := s.store.RecordScan(ctx, domain.ScanLog{
		GateID:           &gateID,
		GateNameSnapshot: gate.Name,
		ScanType:         domain.CredentialPIN,
		RawPayload:       "MANUAL_OVERRIDE",
		IsAccessGranted:  true,
		DenialReason:     string(domain.ReasonManualOverride),
	}); err != nil {
		return fmt.Errorf("override: record scan: %w", err)
	}

	if s.audit != nil {
		s.audit.OverrideGranted(actor, fmt.Sprintf("%d", gateID), string(domain.ReasonManualOverride))
	}
	if s.events != nil {
		s.events.EmitAccessLog(gateID, gate.Name, actor, "OPERATOR", "MANUAL_OVERRIDE", true, gate.ZoneToID != nil, string(domain.ReasonManualOverride))
	}
	return nil
}
