// SPDX-License-Identifier: MIT

// Package ingress implements the TCP Dispatcher and Access Decision Engine
// of spec.md §4: a line-framed TCP listener that accepts scan frames from
// gate controllers, debounces duplicates, resolves the scan against the
// Persistence Adapter and Rule Evaluator, and drives the Hardware Command
// Sender and Event Emitter off the result. Grounded in
// original_source/backend/services/forwarder_tcp.py's
// ForwarderIngressServer.
package ingress

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/accessctl/core/internal/audit"
	"github.com/accessctl/core/internal/cache"
	"github.com/accessctl/core/internal/domain"
	"github.com/accessctl/core/internal/events"
	"github.com/accessctl/core/internal/hardware"
	"github.com/accessctl/core/internal/metrics"
	"github.com/accessctl/core/internal/persistence"
	"github.com/accessctl/core/internal/rules"
)

const defaultDebounceTTL = 20 * time.Second

// Config configures a Server.
type Config struct {
	ListenAddr  string
	Logger      zerolog.Logger
	Store       persistence.Store
	Rules       *rules.Repository
	Hardware    *hardware.Sender
	Events      *events.Hub
	Audit       *audit.Logger
	Debounce    cache.Cache // may be nil: defaults to an in-memory cache
	DebounceTTL time.Duration
}

// Server is the TCP ingress listener and decision dispatcher.
type Server struct {
	cfg      Config
	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// New validates cfg and constructs a Server. It does not start listening;
// call Start for that.
func New(cfg Config) (*Server, error) {
	if cfg.ListenAddr == "" {
		return nil, errors.New("ingress: listen address is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("ingress: store is required")
	}
	if cfg.Rules == nil {
		return nil, errors.New("ingress: rule repository is required")
	}
	if cfg.Debounce == nil {
		cfg.Debounce = cache.NewMemoryCache(time.Minute)
	}
	if cfg.DebounceTTL <= 0 {
		cfg.DebounceTTL = defaultDebounceTTL
	}
	return &Server{cfg: cfg}, nil
}

// Start binds the listener and serves connections until ctx is canceled.
// It blocks until the accept loop exits.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("ingress: listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.cfg.Logger.Info().Str("addr", s.cfg.ListenAddr).Msg("ingress: TCP listener started")

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("ingress: accept: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()

	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		host = conn.RemoteAddr().String()
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		s.processMessage(ctx, host, line)
	}
}

// processMessage implements ForwarderIngressServer.process_message: a
// HEARTBEAT/KeepAlive frame only updates device-status; anything else is
// parsed as "TYPE:VALUE" (or a bare value, defaulting to RFID) and run
// through the decision pipeline.
func (s *Server) processMessage(ctx context.Context, deviceIP, raw string) {
	if strings.Contains(raw, "HEARTBEAT") || strings.Contains(raw, "KeepAlive") {
		if s.cfg.Events != nil {
			s.cfg.Events.EmitDeviceStatus(deviceIP, true)
		}
		return
	}

	credType, credValue, ok := parseScanFrame(raw)
	if !ok {
		s.cfg.Logger.Warn().Str("device_ip", deviceIP).Str("raw", raw).Msg("ingress: unrecognized scan type")
		return
	}

	device, err := s.cfg.Store.DeviceByIP(ctx, deviceIP)
	if err != nil {
		s.cfg.Logger.Warn().Str("device_ip", deviceIP).Err(err).Msg("ingress: message from unknown device")
		return
	}

	decision := s.decide(ctx, device.GateID, credType, credValue)

	if decision.Granted {
		s.cfg.Logger.Info().Int64("gate_id", device.GateID).Str("credential", credValue).Msg("ingress: opening gate")
		if s.cfg.Hardware != nil {
			if _, err := s.cfg.Hardware.Open(ctx, fmt.Sprintf("%d", device.ID), device.IPAddress, device.Port); err != nil {
				s.cfg.Logger.Error().Err(err).Int64("device_id", device.ID).Msg("ingress: hardware open command failed")
			}
		}
	} else {
		s.cfg.Logger.Info().Int64("gate_id", device.GateID).Str("reason", string(decision.Reason)).Msg("ingress: access denied")
	}
}

// Decision is the outcome of the Access Decision Engine for one scan.
type Decision struct {
	Granted bool
	Reason  domain.ReasonCode
	UserID  *int64
}

// decide runs the full pipeline from spec.md §4: debounce, credential
// resolution, rule evaluation, and — if granted — the state transition,
// audit log, and event emission.
func (s *Server) decide(ctx context.Context, gateID int64, credType domain.CredentialType, credValue string) Decision {
	start := time.Now()
	debounceKey := fmt.Sprintf("%d:%s", gateID, credValue)
	if _, hit := s.cfg.Debounce.Get(debounceKey); hit {
		if s.cfg.Audit != nil {
			s.cfg.Audit.ScanDebounced(fmt.Sprintf("%d", gateID), credValue)
		}
		metrics.DebounceDropsTotal.Inc()
		metrics.ObserveDecision("debounced", string(domain.ReasonDuplicateScan), false, start)
		return Decision{Granted: false, Reason: domain.ReasonDuplicateScan}
	}
	s.cfg.Debounce.Set(debounceKey, time.Now(), s.cfg.DebounceTTL)

	if s.cfg.Audit != nil {
		s.cfg.Audit.ScanReceived(fmt.Sprintf("%d", gateID), credValue)
	}

	gate, err := s.cfg.Store.Gate(ctx, gateID)
	if err != nil {
		s.recordScan(ctx, &gateID, "", credType, credValue, false, domain.ReasonUnknownGate, nil, nil)
		if s.cfg.Events != nil {
			s.cfg.Events.EmitAccessLog(gateID, "", "", "", credValue, false, false, string(domain.ReasonUnknownGate))
		}
		metrics.ObserveDecision("denied", string(domain.ReasonUnknownGate), false, start)
		return Decision{Granted: false, Reason: domain.ReasonUnknownGate}
	}
	isEntry := gate.ZoneToID != nil

	lookup, err := s.cfg.Store.CredentialByValue(ctx, credType, credValue)
	if err != nil {
		s.recordScan(ctx, &gateID, gate.Name, credType, credValue, false, domain.ReasonUnknownCredential, nil, nil)
		if s.cfg.Events != nil {
			s.cfg.Events.EmitAccessLog(gateID, gate.Name, "", "", credValue, false, isEntry, string(domain.ReasonUnknownCredential))
		}
		metrics.ObserveDecision("denied", string(domain.ReasonUnknownCredential), false, start)
		return Decision{Granted: false, Reason: domain.ReasonUnknownCredential}
	}

	var targetZone, sourceZone *domain.Zone
	if gate.ZoneToID != nil {
		z, err := s.cfg.Store.Zone(ctx, *gate.ZoneToID)
		if err == nil {
			targetZone = &z
		}
	}
	if gate.ZoneFromID != nil {
		z, err := s.cfg.Store.Zone(ctx, *gate.ZoneFromID)
		if err == nil {
			sourceZone = &z
		}
	}

	activeSession, _ := s.cfg.Store.ActiveSession(ctx, lookup.User.ID)

	applicable, err := s.cfg.Rules.Applicable(ctx, gateID, gate.ZoneToID, lookup.User.RoleID)
	if err != nil {
		s.recordScan(ctx, &gateID, gate.Name, credType, credValue, false, domain.ReasonSystemError, &lookup.User.ID, lookup.User.TenantID)
		if s.cfg.Events != nil {
			s.cfg.Events.EmitAccessLog(gateID, gate.Name, lookup.User.FullName(), lookup.Role.Name, credValue, false, isEntry, string(domain.ReasonSystemError))
		}
		metrics.ObserveDecision("denied", string(domain.ReasonSystemError), false, start)
		return Decision{Granted: false, Reason: domain.ReasonSystemError}
	}

	allowed, reason := rules.Evaluate(applicable, rules.Input{
		User:          lookup.User,
		Role:          lookup.Role,
		Tenant:        lookup.Tenant,
		Gate:          gate,
		TargetZone:    targetZone,
		SourceZone:    sourceZone,
		ActiveSession: activeSession,
	})

	if s.cfg.Audit != nil {
		s.cfg.Audit.Decision(fmt.Sprintf("%d", gateID), credValue, string(pathFor(allowed)), string(reason), allowed)
	}

	if !allowed {
		s.recordScan(ctx, &gateID, gate.Name, credType, credValue, false, reason, &lookup.User.ID, lookup.User.TenantID)
		if s.cfg.Events != nil {
			s.cfg.Events.EmitAccessLog(gateID, gate.Name, lookup.User.FullName(), lookup.Role.Name, credValue, false, isEntry, string(reason))
		}
		metrics.ObserveDecision("denied", string(reason), false, start)
		return Decision{Granted: false, Reason: reason, UserID: &lookup.User.ID}
	}

	result, err := s.cfg.Store.ExecuteTransition(ctx, persistence.TransitionInput{
		User:          lookup.User,
		Credential:    lookup.Credential,
		Gate:          gate,
		ActiveSession: activeSession,
	})
	if err != nil {
		s.cfg.Logger.Error().Err(err).Msg("ingress: transition execution failed")
		s.recordScan(ctx, &gateID, gate.Name, credType, credValue, false, domain.ReasonSystemError, &lookup.User.ID, lookup.User.TenantID)
		if s.cfg.Events != nil {
			s.cfg.Events.EmitAccessLog(gateID, gate.Name, lookup.User.FullName(), lookup.Role.Name, credValue, false, isEntry, string(domain.ReasonSystemError))
		}
		metrics.ObserveDecision("denied", string(domain.ReasonSystemError), false, start)
		return Decision{Granted: false, Reason: domain.ReasonSystemError, UserID: &lookup.User.ID}
	}

	s.recordScan(ctx, &gateID, gate.Name, credType, credValue, true, domain.ReasonAccessGranted, &lookup.User.ID, lookup.User.TenantID)
	metrics.ObserveDecision("granted", "", true, start)

	if s.cfg.Events != nil {
		s.cfg.Events.EmitAccessLog(gateID, gate.Name, lookup.User.FullName(), lookup.Role.Name, credValue, true, isEntry, string(domain.ReasonAccessGranted))
		for _, zid := range result.TouchedZoneIDs {
			if z, err := s.cfg.Store.Zone(ctx, zid); err == nil {
				occupancy := result.ZoneOccupancies[zid]
				s.cfg.Events.EmitOccupancyUpdate(z.ID, z.Name, occupancy, z.Capacity)
				metrics.SetZoneOccupancy(z.Name, occupancy)
			}
		}
	}

	return Decision{Granted: true, Reason: domain.ReasonAccessGranted, UserID: &lookup.User.ID}
}

func pathFor(allowed bool) domain.Path {
	if allowed {
		return domain.PathGranted
	}
	return domain.PathRuleDenied
}

func (s *Server) recordScan(ctx context.Context, gateID *int64, gateName string, credType domain.CredentialType, raw string, granted bool, reason domain.ReasonCode, userID, tenantID *int64) {
	err := s.cfg.Store.RecordScan(ctx, domain.ScanLog{
		GateID:           gateID,
		GateNameSnapshot: gateName,
		ScanType:         credType,
		RawPayload:       raw,
		IsAccessGranted:  granted,
		DenialReason:     string(reason),
		ResolvedUserID:   userID,
		ResolvedTenantID: tenantID,
	})
	if err != nil {
		s.cfg.Logger.Error().Err(err).Msg("ingress: failed to record scan log")
	}
}

// parseScanFrame splits a "TYPE:VALUE" frame, falling back to RFID for a
// bare value, matching the original forwarder's fallback behavior.
func parseScanFrame(raw string) (domain.CredentialType, string, bool) {
	typ, value, found := strings.Cut(raw, ":")
	if !found {
		typ, value = "RFID", raw
	}
	ct := domain.CredentialType(strings.ToUpper(strings.TrimSpace(typ)))
	if !ct.Valid() {
		return "", "", false
	}
	return ct, strings.TrimSpace(value), true
}

// Stop closes the listener, unblocking Start.
func (s *Server) Stop() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	return ln.Close()
}

// Listening reports whether the TCP listener is currently bound, for use
// as a health.Checker liveness signal.
func (s *Server) Listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener != nil
}
