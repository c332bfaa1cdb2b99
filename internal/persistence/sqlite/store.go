// SPDX-License-Identifier: MIT

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/accessctl/core/internal/domain"
	"github.com/accessctl/core/internal/persistence"
)

// Store is the embedded single-file persistence adapter (spec.md §6,
// SPEC_FULL.md §4.8). It is the development-mode implementation of
// persistence.Store.
//
// SQLite has no row-level SELECT ... FOR UPDATE: a write transaction holds
// the engine's single write lock for its whole duration once it issues its
// first write statement, and any concurrent writer blocks (retrying until
// Config.BusyTimeout) rather than acquiring a stale read. Using
// sql.LevelSerializable here asks the driver to start the transaction in
// the immediate-write mode that acquires that lock up front, giving the
// same "nobody else can slip in a write between my read and my write"
// guarantee spec.md §4.5 requires, at transaction granularity rather than
// per-row. The postgres.Store implementation uses true per-row locks.
type Store struct {
	db *sql.DB
}

// New wraps an already-opened *sql.DB (see Open/Config) as a Store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying connection pool, for health checks.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DeviceByIP(ctx context.Context, ip string) (domain.Device, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, ip_address, port, device_type, config, gate_id
		FROM devices WHERE ip_address = ? LIMIT 1`, ip)
	return scanDevice(row)
}

func (s *Store) DeviceByGateID(ctx context.Context, gateID int64) (domain.Device, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, ip_address, port, device_type, config, gate_id
		FROM devices WHERE gate_id = ? LIMIT 1`, gateID)
	return scanDevice(row)
}

func scanDevice(row *sql.Row) (domain.Device, error) {
	var d domain.Device
	var name, deviceType, config sql.NullString
	if err := row.Scan(&d.ID, &name, &d.IPAddress, &d.Port, &deviceType, &config, &d.GateID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Device{}, persistence.ErrNotFound
		}
		return domain.Device{}, fmt.Errorf("sqlite: device lookup: %w", err)
	}
	d.Name = name.String
	d.DeviceType = deviceType.String
	d.Config = config.String
	return d, nil
}

func (s *Store) Gate(ctx context.Context, gateID int64) (domain.Gate, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, zone_from_id, zone_to_id, is_active FROM gates WHERE id = ?`, gateID)
	return scanGate(row)
}

func scanGate(row *sql.Row) (domain.Gate, error) {
	var g domain.Gate
	var zoneFrom, zoneTo sql.NullInt64
	if err := row.Scan(&g.ID, &g.Name, &zoneFrom, &zoneTo, &g.IsActive); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Gate{}, persistence.ErrNotFound
		}
		return domain.Gate{}, fmt.Errorf("sqlite: gate lookup: %w", err)
	}
	if zoneFrom.Valid {
		v := zoneFrom.Int64
		g.ZoneFromID = &v
	}
	if zoneTo.Valid {
		v := zoneTo.Int64
		g.ZoneToID = &v
	}
	return g, nil
}

func (s *Store) Zone(ctx context.Context, zoneID int64) (domain.Zone, error) {
	return s.zoneTx(ctx, s.db, zoneID)
}

func (s *Store) zoneTx(ctx context.Context, q querier, zoneID int64) (domain.Zone, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, name, capacity, occupancy, parent_zone_id FROM zones WHERE id = ?`, zoneID)
	var z domain.Zone
	var parent sql.NullInt64
	if err := row.Scan(&z.ID, &z.Name, &z.Capacity, &z.Occupancy, &parent); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Zone{}, persistence.ErrNotFound
		}
		return domain.Zone{}, fmt.Errorf("sqlite: zone lookup: %w", err)
	}
	if parent.Valid {
		v := parent.Int64
		z.ParentZoneID = &v
	}
	return z, nil
}

func (s *Store) CredentialByValue(ctx context.Context, credType domain.CredentialType, value string) (persistence.CredentialLookup, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.user_id, c.cred_type, c.cred_value, c.is_active, c.last_used_at,
		       u.id, u.first_name, u.last_name, u.email, u.phone_number, u.role_id, u.tenant_id, u.created_at, u.is_active,
		       r.id, r.name, r.description, r.can_ignore_capacity, r.can_ignore_antipassback, r.can_ignore_schedule, r.is_billable,
		       t.id, t.name, t.quota_limit, t.current_usage, t.is_active
		FROM credentials c
		JOIN users u ON u.id = c.user_id
		JOIN roles r ON r.id = u.role_id
		LEFT JOIN tenants t ON t.id = u.tenant_id
		WHERE c.cred_type = ? AND c.cred_value = ? AND c.is_active = 1
		LIMIT 1`, string(credType), value)

	var out persistence.CredentialLookup
	var lastUsed sql.NullTime
	var tenantID sql.NullInt64
	var tID, tUsage, tQuota sql.NullInt64
	var tName sql.NullString
	var tActive sql.NullBool

	if err := row.Scan(
		&out.Credential.ID, &out.Credential.UserID, &out.Credential.Type, &out.Credential.Value, &out.Credential.IsActive, &lastUsed,
		&out.User.ID, &out.User.FirstName, &out.User.LastName, &out.User.Email, &out.User.PhoneNumber, &out.User.RoleID, &tenantID, &out.User.CreatedAt, &out.User.IsActive,
		&out.Role.ID, &out.Role.Name, &out.Role.Description, &out.Role.CanIgnoreCapacity, &out.Role.CanIgnoreAntipassback, &out.Role.CanIgnoreSchedule, &out.Role.IsBillable,
		&tID, &tName, &tQuota, &tUsage, &tActive,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.CredentialLookup{}, persistence.ErrNotFound
		}
		return persistence.CredentialLookup{}, fmt.Errorf("sqlite: credential lookup: %w", err)
	}

	if lastUsed.Valid {
		out.Credential.LastUsedAt = &lastUsed.Time
	}
	if tenantID.Valid {
		v := tenantID.Int64
		out.User.TenantID = &v
	}
	if tID.Valid {
		out.Tenant = &domain.Tenant{
			ID:           tID.Int64,
			Name:         tName.String,
			QuotaLimit:   int(tQuota.Int64),
			CurrentUsage: int(tUsage.Int64),
			IsActive:     tActive.Bool,
		}
	}
	return out, nil
}

func (s *Store) ApplicableRules(ctx context.Context, gateID int64, zoneID *int64, roleID int64) ([]domain.ValidationRule, error) {
	var zid int64
	if zoneID != nil {
		zid = *zoneID
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scope, rule_type, target_zone_id, target_gate_id, target_role_id, is_enabled, custom_params
		FROM validation_rules
		WHERE is_enabled = 1 AND (
			scope = 'GLOBAL'
			OR (scope = 'ZONE' AND target_zone_id = ? AND ? = 1)
			OR (scope = 'GATE' AND target_gate_id = ?)
			OR (scope = 'ROLE' AND target_role_id = ?)
		)`, zid, boolToInt(zoneID != nil), gateID, roleID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: applicable rules: %w", err)
	}
	defer rows.Close()

	var out []domain.ValidationRule
	for rows.Next() {
		var r domain.ValidationRule
		var tz, tg, tr sql.NullInt64
		var params sql.NullString
		if err := rows.Scan(&r.ID, &r.Scope, &r.Kind, &tz, &tg, &tr, &r.IsEnabled, &params); err != nil {
			return nil, fmt.Errorf("sqlite: scan rule: %w", err)
		}
		if tz.Valid {
			v := tz.Int64
			r.TargetZoneID = &v
		}
		if tg.Valid {
			v := tg.Int64
			r.TargetGateID = &v
		}
		if tr.Valid {
			v := tr.Int64
			r.TargetRoleID = &v
		}
		r.CustomParams = params.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ActiveSession(ctx context.Context, userID int64) (*domain.ParkingSession, error) {
	return activeSessionTx(ctx, s.db, userID)
}

func activeSessionTx(ctx context.Context, q querier, userID int64) (*domain.ParkingSession, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, user_id, credential_id, entry_gate_id, entry_time, exit_gate_id, exit_time, current_zone, total_cost
		FROM parking_sessions WHERE user_id = ? AND exit_time IS NULL LIMIT 1`, userID)

	var sess domain.ParkingSession
	var exitGate, currentZone sql.NullInt64
	var exitTime sql.NullTime
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.CredentialID, &sess.EntryGateID, &sess.EntryTime, &exitGate, &exitTime, &currentZone, &sess.TotalCostCent); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: active session: %w", err)
	}
	if exitGate.Valid {
		v := exitGate.Int64
		sess.ExitGateID = &v
	}
	if exitTime.Valid {
		sess.ExitTime = &exitTime.Time
	}
	if currentZone.Valid {
		v := currentZone.Int64
		sess.CurrentZone = &v
	}
	return &sess, nil
}

func (s *Store) ToggleRule(ctx context.Context, ruleID int64, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE validation_rules SET is_enabled = ? WHERE id = ?`, boolToInt(enabled), ruleID)
	if err != nil {
		return fmt.Errorf("sqlite: toggle rule: %w", err)
	}
	return nil
}

func (s *Store) RecordScan(ctx context.Context, entry domain.ScanLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_logs (created_at, gate_id, gate_name_snapshot, scan_type, raw_payload, is_access_granted, denial_reason, resolved_user_id, resolved_tenant_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		timeOrNow(entry.CreatedAt), entry.GateID, entry.GateNameSnapshot, string(entry.ScanType), entry.RawPayload,
		boolToInt(entry.IsAccessGranted), entry.DenialReason, entry.ResolvedUserID, entry.ResolvedTenantID)
	if err != nil {
		return fmt.Errorf("sqlite: record scan: %w", err)
	}
	return nil
}

// ExecuteTransition applies a granted decision atomically: locks the
// touched zones in ascending ID order (then the tenant, then the session)
// to keep lock acquisition order consistent across concurrent scans and
// avoid deadlocking two gates that reference the same pair of zones in
// opposite order, re-validates capacity under that lock, and persists the
// resulting zone/tenant/session state in one transaction.
func (s *Store) ExecuteTransition(ctx context.Context, in persistence.TransitionInput) (persistence.TransitionResult, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return persistence.TransitionResult{}, fmt.Errorf("sqlite: begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

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
		z, err := s.zoneTx(ctx, tx, id)
		if err != nil {
			return persistence.TransitionResult{}, err
		}
		zones[id] = &z
	}

	var targetZone, sourceZone *domain.Zone
	if in.Gate.ZoneToID != nil {
		targetZone = zones[*in.Gate.ZoneToID]
		// re-check capacity now that we hold the write lock
		if targetZone.Occupancy >= targetZone.Capacity {
			return persistence.TransitionResult{}, fmt.Errorf("sqlite: transition: %w: zone %d at capacity", persistence.ErrNotFound, targetZone.ID)
		}
	}
	if in.Gate.ZoneFromID != nil {
		sourceZone = zones[*in.Gate.ZoneFromID]
	}

	var tenant *domain.Tenant
	if in.User.TenantID != nil {
		row := tx.QueryRowContext(ctx, `SELECT id, name, quota_limit, current_usage, is_active FROM tenants WHERE id = ?`, *in.User.TenantID)
		var t domain.Tenant
		if err := row.Scan(&t.ID, &t.Name, &t.QuotaLimit, &t.CurrentUsage, &t.IsActive); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return persistence.TransitionResult{}, fmt.Errorf("sqlite: tenant lookup: %w", err)
		} else if err == nil {
			tenant = &t
		}
	}

	// re-fetch the active session inside the lock to avoid acting on a
	// stale read taken before this transaction acquired its write lock
	liveSession, err := activeSessionTx(ctx, tx, in.User.ID)
	if err != nil {
		return persistence.TransitionResult{}, err
	}
	in.ActiveSession = liveSession

	plan := persistence.PlanTransition(in, targetZone, sourceZone, tenant, now)

	if targetZone != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE zones SET occupancy = ? WHERE id = ?`, targetZone.Occupancy, targetZone.ID); err != nil {
			return persistence.TransitionResult{}, fmt.Errorf("sqlite: update target zone: %w", err)
		}
	}
	if sourceZone != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE zones SET occupancy = ? WHERE id = ?`, sourceZone.Occupancy, sourceZone.ID); err != nil {
			return persistence.TransitionResult{}, fmt.Errorf("sqlite: update source zone: %w", err)
		}
	}
	if tenant != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE tenants SET current_usage = ? WHERE id = ?`, tenant.CurrentUsage, tenant.ID); err != nil {
			return persistence.TransitionResult{}, fmt.Errorf("sqlite: update tenant: %w", err)
		}
	}

	if plan.IsNewSession {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO parking_sessions (user_id, credential_id, entry_gate_id, entry_time, current_zone)
			VALUES (?, ?, ?, ?, ?)`,
			plan.Session.UserID, plan.Session.CredentialID, plan.Session.EntryGateID, plan.Session.EntryTime, plan.Session.CurrentZone)
		if err != nil {
			return persistence.TransitionResult{}, fmt.Errorf("sqlite: insert session: %w", err)
		}
		id, _ := res.LastInsertId()
		plan.Session.ID = id
	} else if in.ActiveSession != nil {
		if _, err := tx.ExecContext(ctx, `
			UPDATE parking_sessions SET current_zone = ?, exit_gate_id = ?, exit_time = ? WHERE id = ?`,
			plan.Session.CurrentZone, plan.Session.ExitGateID, plan.Session.ExitTime, plan.Session.ID); err != nil {
			return persistence.TransitionResult{}, fmt.Errorf("sqlite: update session: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE credentials SET last_used_at = ? WHERE id = ?`, now, in.Credential.ID); err != nil {
		return persistence.TransitionResult{}, fmt.Errorf("sqlite: touch credential: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return persistence.TransitionResult{}, fmt.Errorf("sqlite: commit transition: %w", err)
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

// querier is satisfied by both *sql.DB and *sql.Tx, letting lookups reuse
// the same scan code whether called outside or inside a transaction.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
