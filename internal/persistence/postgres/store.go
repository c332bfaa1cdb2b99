// SPDX-License-Identifier: MIT

// Package postgres is the networked production persistence adapter
// (spec.md §6, SPEC_FULL.md §4.8): the same persistence.Store contract as
// internal/persistence/sqlite, backed by jackc/pgx/v5 instead of
// database/sql, so transitions can take true per-row SELECT ... FOR UPDATE
// locks instead of relying on SQLite's single-writer serialization.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/accessctl/core/internal/domain"
	"github.com/accessctl/core/internal/persistence"
)

// Store is the pgx-backed implementation of persistence.Store.
type Store struct {
	pool *pgxpool.Pool
}

// Open parses dsn and establishes a connection pool, verifying
// connectivity with a ping before returning.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// New wraps an already-configured pool as a Store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) DeviceByIP(ctx context.Context, ip string) (domain.Device, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, ip_address, port, device_type, config, gate_id
		FROM devices WHERE ip_address = $1 LIMIT 1`, ip)
	return scanDevice(row)
}

func (s *Store) DeviceByGateID(ctx context.Context, gateID int64) (domain.Device, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, ip_address, port, device_type, config, gate_id
		FROM devices WHERE gate_id = $1 LIMIT 1`, gateID)
	return scanDevice(row)
}

func scanDevice(row pgx.Row) (domain.Device, error) {
	var d domain.Device
	var name, deviceType, config *string
	if err := row.Scan(&d.ID, &name, &d.IPAddress, &d.Port, &deviceType, &config, &d.GateID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Device{}, persistence.ErrNotFound
		}
		return domain.Device{}, fmt.Errorf("postgres: device lookup: %w", err)
	}
	if name != nil {
		d.Name = *name
	}
	if deviceType != nil {
		d.DeviceType = *deviceType
	}
	if config != nil {
		d.Config = *config
	}
	return d, nil
}

func (s *Store) Gate(ctx context.Context, gateID int64) (domain.Gate, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, zone_from_id, zone_to_id, is_active FROM gates WHERE id = $1`, gateID)
	return scanGate(row)
}

func scanGate(row pgx.Row) (domain.Gate, error) {
	var g domain.Gate
	if err := row.Scan(&g.ID, &g.Name, &g.ZoneFromID, &g.ZoneToID, &g.IsActive); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Gate{}, persistence.ErrNotFound
		}
		return domain.Gate{}, fmt.Errorf("postgres: gate lookup: %w", err)
	}
	return g, nil
}

func (s *Store) Zone(ctx context.Context, zoneID int64) (domain.Zone, error) {
	return zoneFor(ctx, s.pool, zoneID)
}

// rowQuerier is satisfied by both *pgxpool.Pool and pgx.Tx, letting reads
// share scan code whether issued outside or inside a transaction.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func zoneFor(ctx context.Context, q rowQuerier, zoneID int64) (domain.Zone, error) {
	row := q.QueryRow(ctx, `
		SELECT id, name, capacity, occupancy, parent_zone_id FROM zones WHERE id = $1`, zoneID)
	var z domain.Zone
	if err := row.Scan(&z.ID, &z.Name, &z.Capacity, &z.Occupancy, &z.ParentZoneID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Zone{}, persistence.ErrNotFound
		}
		return domain.Zone{}, fmt.Errorf("postgres: zone lookup: %w", err)
	}
	return z, nil
}

// zoneForUpdate is zoneFor with a row-level lock, used inside
// ExecuteTransition so concurrent scans touching the same zone serialize on
// that row instead of SQLite-style whole-database serialization.
func zoneForUpdate(ctx context.Context, tx pgx.Tx, zoneID int64) (domain.Zone, error) {
	row := tx.QueryRow(ctx, `
		SELECT id, name, capacity, occupancy, parent_zone_id FROM zones WHERE id = $1 FOR UPDATE`, zoneID)
	var z domain.Zone
	if err := row.Scan(&z.ID, &z.Name, &z.Capacity, &z.Occupancy, &z.ParentZoneID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Zone{}, persistence.ErrNotFound
		}
		return domain.Zone{}, fmt.Errorf("postgres: zone lock: %w", err)
	}
	return z, nil
}

func (s *Store) CredentialByValue(ctx context.Context, credType domain.CredentialType, value string) (persistence.CredentialLookup, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT c.id, c.user_id, c.cred_type, c.cred_value, c.is_active, c.last_used_at,
		       u.id, u.first_name, u.last_name, u.email, u.phone_number, u.role_id, u.tenant_id, u.created_at, u.is_active,
		       r.id, r.name, r.description, r.can_ignore_capacity, r.can_ignore_antipassback, r.can_ignore_schedule, r.is_billable,
		       t.id, t.name, t.quota_limit, t.current_usage, t.is_active
		FROM credentials c
		JOIN users u ON u.id = c.user_id
		JOIN roles r ON r.id = u.role_id
		LEFT JOIN tenants t ON t.id = u.tenant_id
		WHERE c.cred_type = $1 AND c.cred_value = $2 AND c.is_active = true
		LIMIT 1`, string(credType), value)

	var out persistence.CredentialLookup
	var tID, tUsage, tQuota *int64
	var tName *string
	var tActive *bool

	if err := row.Scan(
		&out.Credential.ID, &out.Credential.UserID, &out.Credential.Type, &out.Credential.Value, &out.Credential.IsActive, &out.Credential.LastUsedAt,
		&out.User.ID, &out.User.FirstName, &out.User.LastName, &out.User.Email, &out.User.PhoneNumber, &out.User.RoleID, &out.User.TenantID, &out.User.CreatedAt, &out.User.IsActive,
		&out.Role.ID, &out.Role.Name, &out.Role.Description, &out.Role.CanIgnoreCapacity, &out.Role.CanIgnoreAntipassback, &out.Role.CanIgnoreSchedule, &out.Role.IsBillable,
		&tID, &tName, &tQuota, &tUsage, &tActive,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return persistence.CredentialLookup{}, persistence.ErrNotFound
		}
		return persistence.CredentialLookup{}, fmt.Errorf("postgres: credential lookup: %w", err)
	}

	if tID != nil {
		out.Tenant = &domain.Tenant{
			ID:           *tID,
			CurrentUsage: int(derefInt64(tUsage)),
			QuotaLimit:   int(derefInt64(tQuota)),
			IsActive:     tActive != nil && *tActive,
		}
		if tName != nil {
			out.Tenant.Name = *tName
		}
	}
	return out, nil
}

func derefInt64(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func (s *Store) ApplicableRules(ctx context.Context, gateID int64, zoneID *int64, roleID int64) ([]domain.ValidationRule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, scope, rule_type, target_zone_id, target_gate_id, target_role_id, is_enabled, custom_params
		FROM validation_rules
		WHERE is_enabled = true AND (
			scope = 'GLOBAL'
			OR (scope = 'ZONE' AND target_zone_id = $1 AND $2)
			OR (scope = 'GATE' AND target_gate_id = $3)
			OR (scope = 'ROLE' AND target_role_id = $4)
		)`, zoneID, zoneID != nil, gateID, roleID)
	if err != nil {
		return nil, fmt.Errorf("postgres: applicable rules: %w", err)
	}
	defer rows.Close()

	var out []domain.ValidationRule
	for rows.Next() {
		var r domain.ValidationRule
		var params *string
		if err := rows.Scan(&r.ID, &r.Scope, &r.Kind, &r.TargetZoneID, &r.TargetGateID, &r.TargetRoleID, &r.IsEnabled, &params); err != nil {
			return nil, fmt.Errorf("postgres: scan rule: %w", err)
		}
		if params != nil {
			r.CustomParams = *params
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ActiveSession(ctx context.Context, userID int64) (*domain.ParkingSession, error) {
	return activeSessionFor(ctx, s.pool, userID)
}

func activeSessionFor(ctx context.Context, q rowQuerier, userID int64) (*domain.ParkingSession, error) {
	row := q.QueryRow(ctx, `
		SELECT id, user_id, credential_id, entry_gate_id, entry_time, exit_gate_id, exit_time, current_zone, total_cost
		FROM parking_sessions WHERE user_id = $1 AND exit_time IS NULL LIMIT 1`, userID)
	var sess domain.ParkingSession
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.CredentialID, &sess.EntryGateID, &sess.EntryTime, &sess.ExitGateID, &sess.ExitTime, &sess.CurrentZone, &sess.TotalCostCent); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: active session: %w", err)
	}
	return &sess, nil
}

// activeSessionForUpdate is activeSessionFor with a row lock, used inside
// ExecuteTransition.
func activeSessionForUpdate(ctx context.Context, tx pgx.Tx, userID int64) (*domain.ParkingSession, error) {
	row := tx.QueryRow(ctx, `
		SELECT id, user_id, credential_id, entry_gate_id, entry_time, exit_gate_id, exit_time, current_zone, total_cost
		FROM parking_sessions WHERE user_id = $1 AND exit_time IS NULL LIMIT 1 FOR UPDATE`, userID)
	var sess domain.ParkingSession
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.CredentialID, &sess.EntryGateID, &sess.EntryTime, &sess.ExitGateID, &sess.ExitTime, &sess.CurrentZone, &sess.TotalCostCent); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: active session lock: %w", err)
	}
	return &sess, nil
}

func (s *Store) ToggleRule(ctx context.Context, ruleID int64, enabled bool) error {
	_, err := s.pool.Exec(ctx, `UPDATE validation_rules SET is_enabled = $1 WHERE id = $2`, enabled, ruleID)
	if err != nil {
		return fmt.Errorf("postgres: toggle rule: %w", err)
	}
	return nil
}

func (s *Store) RecordScan(ctx context.Context, entry domain.ScanLog) error {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scan_logs (created_at, gate_id, gate_name_snapshot, scan_type, raw_payload, is_access_granted, denial_reason, resolved_user_id, resolved_tenant_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		createdAt, entry.GateID, entry.GateNameSnapshot, string(entry.ScanType), entry.RawPayload,
		entry.IsAccessGranted, entry.DenialReason, entry.ResolvedUserID, entry.ResolvedTenantID)
	if err != nil {
		return fmt.Errorf("postgres: record scan: %w", err)
	}
	return nil
}

// ExecuteTransition mirrors sqlite.Store.ExecuteTransition's structure
// (same lock order, same re-validation, same call into
// persistence.PlanTransition) but acquires true row-level locks via
// SELECT ... FOR UPDATE inside a Serializable transaction, rather than
// relying on SQLite's single-writer lock.
func (s *Store) ExecuteTransition(ctx context.Context, in persistence.TransitionInput) (persistence.TransitionResult, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return persistence.TransitionResult{}, fmt.Errorf("postgres: begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now()

	var zoneIDs []int64
	if in.Gate.ZoneToID != nil {
		zoneIDs = append(zoneIDs, *in.Gate.ZoneToID)
	}
	if in.Gate.ZoneFromID != nil {
		zoneIDs = append(zoneIDs, *in.Gate.ZoneFromID)
	}
	sort.Slice(zoneIDs, func(i, j int) bool { return zoneIDs[i] < zoneIDs[j] })

	zones := make(map[int64]*domain.Zone, len(zoneIDs))
	for _, id := range zoneIDs {
		z, err := zoneForUpdate(ctx, tx, id)
		if err != nil {
			return persistence.TransitionResult{}, err
		}
		zones[id] = &z
	}

	var targetZone, sourceZone *domain.Zone
	if in.Gate.ZoneToID != nil {
		targetZone = zones[*in.Gate.ZoneToID]
		if targetZone.Occupancy >= targetZone.Capacity {
			return persistence.TransitionResult{}, fmt.Errorf("postgres: transition: %w: zone %d at capacity", persistence.ErrNotFound, targetZone.ID)
		}
	}
	if in.Gate.ZoneFromID != nil {
		sourceZone = zones[*in.Gate.ZoneFromID]
	}

	var tenant *domain.Tenant
	if in.User.TenantID != nil {
		row := tx.QueryRow(ctx, `SELECT id, name, quota_limit, current_usage, is_active FROM tenants WHERE id = $1 FOR UPDATE`, *in.User.TenantID)
		var t domain.Tenant
		if err := row.Scan(&t.ID, &t.Name, &t.QuotaLimit, &t.CurrentUsage, &t.IsActive); err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return persistence.TransitionResult{}, fmt.Errorf("postgres: tenant lock: %w", err)
		} else if err == nil {
			tenant = &t
		}
	}

	liveSession, err := activeSessionForUpdate(ctx, tx, in.User.ID)
	if err != nil {
		return persistence.TransitionResult{}, err
	}
	in.ActiveSession = liveSession

	plan := persistence.PlanTransition(in, targetZone, sourceZone, tenant, now)

	if targetZone != nil {
		if _, err := tx.Exec(ctx, `UPDATE zones SET occupancy = $1 WHERE id = $2`, targetZone.Occupancy, targetZone.ID); err != nil {
			return persistence.TransitionResult{}, fmt.Errorf("postgres: update target zone: %w", err)
		}
	}
	if sourceZone != nil {
		if _, err := tx.Exec(ctx, `UPDATE zones SET occupancy = $1 WHERE id = $2`, sourceZone.Occupancy, sourceZone.ID); err != nil {
			return persistence.TransitionResult{}, fmt.Errorf("postgres: update source zone: %w", err)
		}
	}
	if tenant != nil {
		if _, err := tx.Exec(ctx, `UPDATE tenants SET current_usage = $1 WHERE id = $2`, tenant.CurrentUsage, tenant.ID); err != nil {
			return persistence.TransitionResult{}, fmt.Errorf("postgres: update tenant: %w", err)
		}
	}

	if plan.IsNewSession {
		var id int64
		err := tx.QueryRow(ctx, `
			INSERT INTO parking_sessions (user_id, credential_id, entry_gate_id, entry_time, current_zone)
			VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			plan.Session.UserID, plan.Session.CredentialID, plan.Session.EntryGateID, plan.Session.EntryTime, plan.Session.CurrentZone).Scan(&id)
		if err != nil {
			return persistence.TransitionResult{}, fmt.Errorf("postgres: insert session: %w", err)
		}
		plan.Session.ID = id
	} else if in.ActiveSession != nil {
		if _, err := tx.Exec(ctx, `
			UPDATE parking_sessions SET current_zone = $1, exit_gate_id = $2, exit_time = $3 WHERE id = $4`,
			plan.Session.CurrentZone, plan.Session.ExitGateID, plan.Session.ExitTime, plan.Session.ID); err != nil {
			return persistence.TransitionResult{}, fmt.Errorf("postgres: update session: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE credentials SET last_used_at = $1 WHERE id = $2`, now, in.Credential.ID); err != nil {
		return persistence.TransitionResult{}, fmt.Errorf("postgres: touch credential: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return persistence.TransitionResult{}, fmt.Errorf("postgres: commit transition: %w", err)
	}

	result := persistence.TransitionResult{
		Session:         plan.Session,
		ZoneOccupancies: map[int64]int{},
	}
	for id, z := range zones {
		result.TouchedZoneIDs = append(result.TouchedZoneIDs, id)
		result.ZoneOccupancies[id] = z.Occupancy
	}
	sort.Slice(result.TouchedZoneIDs, func(i, j int) bool { return result.TouchedZoneIDs[i] < result.TouchedZoneIDs[j] })
	return result, nil
}
