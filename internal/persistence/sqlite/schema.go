// SPDX-License-Identifier: MIT

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaStatements mirrors the relational data model in spec.md §3
// (grounded in original_source/backend/models.py), with an explicit
// current_zone column on parking_sessions per the Open Question
// resolution recorded in DESIGN.md.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS roles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		description TEXT,
		can_ignore_capacity INTEGER NOT NULL DEFAULT 0,
		can_ignore_antipassback INTEGER NOT NULL DEFAULT 0,
		can_ignore_schedule INTEGER NOT NULL DEFAULT 0,
		is_billable INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS tenants (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		quota_limit INTEGER NOT NULL DEFAULT 0,
		current_usage INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		email TEXT UNIQUE,
		phone_number TEXT,
		role_id INTEGER NOT NULL REFERENCES roles(id),
		tenant_id INTEGER REFERENCES tenants(id) ON DELETE SET NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		is_active INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS credentials (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		cred_type TEXT NOT NULL,
		cred_value TEXT NOT NULL UNIQUE,
		is_active INTEGER NOT NULL DEFAULT 1,
		last_used_at DATETIME
	)`,
	`CREATE INDEX IF NOT EXISTS idx_credentials_value ON credentials(cred_value)`,
	`CREATE TABLE IF NOT EXISTS zones (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		capacity INTEGER NOT NULL DEFAULT 0,
		occupancy INTEGER NOT NULL DEFAULT 0,
		parent_zone_id INTEGER REFERENCES zones(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS gates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		zone_from_id INTEGER REFERENCES zones(id),
		zone_to_id INTEGER REFERENCES zones(id),
		is_active INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS devices (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT,
		ip_address TEXT NOT NULL,
		port INTEGER NOT NULL DEFAULT 5005,
		device_type TEXT,
		config TEXT,
		gate_id INTEGER NOT NULL REFERENCES gates(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_devices_ip ON devices(ip_address)`,
	`CREATE TABLE IF NOT EXISTS validation_rules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		scope TEXT NOT NULL,
		rule_type TEXT NOT NULL,
		target_zone_id INTEGER REFERENCES zones(id) ON DELETE CASCADE,
		target_gate_id INTEGER REFERENCES gates(id) ON DELETE CASCADE,
		target_role_id INTEGER REFERENCES roles(id) ON DELETE CASCADE,
		is_enabled INTEGER NOT NULL DEFAULT 1,
		custom_params TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS parking_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id),
		credential_id INTEGER NOT NULL REFERENCES credentials(id),
		entry_gate_id INTEGER NOT NULL REFERENCES gates(id),
		entry_time DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		exit_gate_id INTEGER REFERENCES gates(id),
		exit_time DATETIME,
		current_zone INTEGER REFERENCES zones(id),
		total_cost INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_open ON parking_sessions(user_id) WHERE exit_time IS NULL`,
	`CREATE TABLE IF NOT EXISTS scan_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		gate_id INTEGER REFERENCES gates(id) ON DELETE SET NULL,
		gate_name_snapshot TEXT,
		scan_type TEXT NOT NULL,
		raw_payload TEXT NOT NULL,
		is_access_granted INTEGER NOT NULL,
		denial_reason TEXT,
		resolved_user_id INTEGER REFERENCES users(id) ON DELETE SET NULL,
		resolved_tenant_id INTEGER REFERENCES tenants(id) ON DELETE SET NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scan_logs_created_at ON scan_logs(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_scan_logs_payload ON scan_logs(raw_payload)`,
}

// EnsureSchema creates the relational schema if it does not already exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: ensure schema: %w", err)
		}
	}
	return nil
}
