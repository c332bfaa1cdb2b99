// SPDX-License-Identifier: MIT

package postgres

import (
	"context"
	"fmt"
)

// schemaStatements is the postgres dialect of the relational data model in
// spec.md §3 (grounded in original_source/backend/models.py), matching
// sqlite.schemaStatements table-for-table so either backend can serve an
// identical persistence.Store contract.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS roles (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT,
		can_ignore_capacity BOOLEAN NOT NULL DEFAULT false,
		can_ignore_antipassback BOOLEAN NOT NULL DEFAULT false,
		can_ignore_schedule BOOLEAN NOT NULL DEFAULT false,
		is_billable BOOLEAN NOT NULL DEFAULT true
	)`,
	`CREATE TABLE IF NOT EXISTS tenants (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		quota_limit INTEGER NOT NULL DEFAULT 0,
		current_usage INTEGER NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT true
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		email TEXT UNIQUE,
		phone_number TEXT,
		role_id BIGINT NOT NULL REFERENCES roles(id),
		tenant_id BIGINT REFERENCES tenants(id) ON DELETE SET NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		is_active BOOLEAN NOT NULL DEFAULT true
	)`,
	`CREATE TABLE IF NOT EXISTS credentials (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		cred_type TEXT NOT NULL,
		cred_value TEXT NOT NULL UNIQUE,
		is_active BOOLEAN NOT NULL DEFAULT true,
		last_used_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_credentials_value ON credentials(cred_value)`,
	`CREATE TABLE IF NOT EXISTS zones (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		capacity INTEGER NOT NULL DEFAULT 0,
		occupancy INTEGER NOT NULL DEFAULT 0,
		parent_zone_id BIGINT REFERENCES zones(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS gates (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		zone_from_id BIGINT REFERENCES zones(id),
		zone_to_id BIGINT REFERENCES zones(id),
		is_active BOOLEAN NOT NULL DEFAULT true
	)`,
	`CREATE TABLE IF NOT EXISTS devices (
		id BIGSERIAL PRIMARY KEY,
		name TEXT,
		ip_address TEXT NOT NULL,
		port INTEGER NOT NULL DEFAULT 5005,
		device_type TEXT,
		config TEXT,
		gate_id BIGINT NOT NULL REFERENCES gates(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_devices_ip ON devices(ip_address)`,
	`CREATE TABLE IF NOT EXISTS validation_rules (
		id BIGSERIAL PRIMARY KEY,
		scope TEXT NOT NULL,
		rule_type TEXT NOT NULL,
		target_zone_id BIGINT REFERENCES zones(id) ON DELETE CASCADE,
		target_gate_id BIGINT REFERENCES gates(id) ON DELETE CASCADE,
		target_role_id BIGINT REFERENCES roles(id) ON DELETE CASCADE,
		is_enabled BOOLEAN NOT NULL DEFAULT true,
		custom_params TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS parking_sessions (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id),
		credential_id BIGINT NOT NULL REFERENCES credentials(id),
		entry_gate_id BIGINT NOT NULL REFERENCES gates(id),
		entry_time TIMESTAMPTZ NOT NULL DEFAULT now(),
		exit_gate_id BIGINT REFERENCES gates(id),
		exit_time TIMESTAMPTZ,
		current_zone BIGINT REFERENCES zones(id),
		total_cost INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_open ON parking_sessions(user_id) WHERE exit_time IS NULL`,
	`CREATE TABLE IF NOT EXISTS scan_logs (
		id BIGSERIAL PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		gate_id BIGINT REFERENCES gates(id) ON DELETE SET NULL,
		gate_name_snapshot TEXT,
		scan_type TEXT NOT NULL,
		raw_payload TEXT NOT NULL,
		is_access_granted BOOLEAN NOT NULL,
		denial_reason TEXT,
		resolved_user_id BIGINT REFERENCES users(id) ON DELETE SET NULL,
		resolved_tenant_id BIGINT REFERENCES tenants(id) ON DELETE SET NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scan_logs_created_at ON scan_logs(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_scan_logs_payload ON scan_logs(raw_payload)`,
}

// EnsureSchema creates the relational schema if it does not already exist.
func EnsureSchema(ctx context.Context, s *Store) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: ensure schema: %w", err)
		}
	}
	return nil
}
