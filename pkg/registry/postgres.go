// Copyright 2023 The emqx-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package registry

import (
	"context"
	_ "embed"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

//go:embed schema.sql
var schemaSQL string

const (
	pqUniqueViolation   = "23505"
	pqUndefinedTable    = "42P01"
)

// PostgresStore is the production Store backed by PostgreSQL via
// database/sql and lib/pq. All atomic status transitions take the device
// row's lock with SELECT ... FOR UPDATE inside a transaction, so two
// concurrent status transitions on the same device are serialized.
type PostgresStore struct {
	db  *sql.DB
	log *logrus.Entry
}

// Open connects to dsn and returns a ready PostgresStore. It does not run
// Bootstrap; callers decide when schema creation happens.
func Open(dsn string, log *logrus.Entry) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("registry: open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &PostgresStore{db: db, log: log.WithField("component", "registry")}, nil
}

// Bootstrap creates the schema if it does not already exist. It matches
// pq error codes rather than substrings, per the error-kind redesign:
// unique violations (23505) and undefined tables (42P01) are logged and
// skipped, every other error is returned.
func (s *PostgresStore) Bootstrap(ctx context.Context) error {
	for _, stmt := range splitStatements(schemaSQL) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			if isPQCode(err, pqUniqueViolation) {
				s.log.WithError(err).Warn("schema object already present, continuing")
				continue
			}
			if isPQCode(err, pqUndefinedTable) {
				s.log.WithError(err).Warn("schema statement found no table, continuing")
				continue
			}
			return fmt.Errorf("registry: bootstrap: %w", err)
		}
	}
	return nil
}

func splitStatements(script string) []string {
	raw := strings.Split(script, ";")
	out := make([]string, 0, len(raw))
	for _, stmt := range raw {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		out = append(out, stmt)
	}
	return out
}

// isPQCode reports whether err is a *pq.Error with the given SQLSTATE code.
func isPQCode(err error, code string) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == code
	}
	return false
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) CreateDevice(ctx context.Context, d *Device) (*Device, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO devices (serial_hash, mac_hash, composite_hash, client_id, device_type, status, critical)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`,
		d.SerialHash, d.MACHash, d.CompositeHash, d.ClientID, d.DeviceType, orDefault(d.Status, "PENDING"), d.Critical)

	out := *d
	if out.Status == "" {
		out.Status = "PENDING"
	}
	if err := row.Scan(&out.ID, &out.CreatedAt, &out.UpdatedAt); err != nil {
		if isPQCode(err, pqUniqueViolation) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("registry: create device: %w", err)
	}
	return &out, nil
}

// UpsertIfNotExists inserts d if no row shares its composite hash, and
// otherwise returns the existing row unchanged. The second return value
// reports whether a new row was inserted.
func (s *PostgresStore) UpsertIfNotExists(ctx context.Context, d *Device) (*Device, bool, error) {
	created, err := s.CreateDevice(ctx, d)
	if err == nil {
		return created, true, nil
	}
	if errors.Is(err, ErrAlreadyExists) {
		existing, ferr := s.FindByCompositeHash(ctx, d.CompositeHash)
		if ferr != nil {
			return nil, false, ferr
		}
		return existing, false, nil
	}
	return nil, false, err
}

func (s *PostgresStore) FindByCompositeHash(ctx context.Context, hash string) (*Device, error) {
	return s.scanOneDevice(ctx, `SELECT id, serial_hash, mac_hash, composite_hash, client_id, device_type, status, critical, last_ip, last_health_check, created_at, updated_at FROM devices WHERE composite_hash = $1`, hash)
}

func (s *PostgresStore) FindBySerialHash(ctx context.Context, hash string) (*Device, error) {
	return s.scanOneDevice(ctx, `SELECT id, serial_hash, mac_hash, composite_hash, client_id, device_type, status, critical, last_ip, last_health_check, created_at, updated_at FROM devices WHERE serial_hash = $1`, hash)
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (*Device, error) {
	return s.scanOneDevice(ctx, `SELECT id, serial_hash, mac_hash, composite_hash, client_id, device_type, status, critical, last_ip, last_health_check, created_at, updated_at FROM devices WHERE id = $1`, id)
}

func (s *PostgresStore) scanOneDevice(ctx context.Context, query string, arg string) (*Device, error) {
	row := s.db.QueryRowContext(ctx, query, arg)
	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("registry: find device: %w", err)
	}
	return d, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*Device, error) {
	var d Device
	var lastIP sql.NullString
	var lastHC sql.NullTime
	if err := row.Scan(&d.ID, &d.SerialHash, &d.MACHash, &d.CompositeHash, &d.ClientID, &d.DeviceType,
		&d.Status, &d.Critical, &lastIP, &lastHC, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.LastIP = lastIP.String
	if lastHC.Valid {
		d.LastHealthCheck = lastHC.Time
	}
	return &d, nil
}

func (s *PostgresStore) FindByStatus(ctx context.Context, status string) ([]*Device, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, serial_hash, mac_hash, composite_hash, client_id, device_type, status, critical, last_ip, last_health_check, created_at, updated_at FROM devices WHERE status = $1`, status)
	if err != nil {
		return nil, fmt.Errorf("registry: find by status: %w", err)
	}
	return collectDevices(rows)
}

func (s *PostgresStore) FindAll(ctx context.Context) ([]*Device, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, serial_hash, mac_hash, composite_hash, client_id, device_type, status, critical, last_ip, last_health_check, created_at, updated_at FROM devices`)
	if err != nil {
		return nil, fmt.Errorf("registry: find all: %w", err)
	}
	return collectDevices(rows)
}

func collectDevices(rows *sql.Rows) ([]*Device, error) {
	defer rows.Close()
	var out []*Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("registry: scan device: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpdateStatus atomically transitions deviceID to the `to` status, but only
// if its current status is one of fromAnyOf (an empty fromAnyOf means "any
// current status is acceptable"). The row is locked with SELECT ... FOR
// UPDATE for the duration of the transaction so a concurrent transition
// request cannot race this one.
func (s *PostgresStore) UpdateStatus(ctx context.Context, deviceID string, fromAnyOf []string, to string) (*Device, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("registry: update status: begin: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT id, serial_hash, mac_hash, composite_hash, client_id, device_type, status, critical, last_ip, last_health_check, created_at, updated_at FROM devices WHERE id = $1 FOR UPDATE`, deviceID)
	current, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("registry: update status: lock: %w", err)
	}

	if len(fromAnyOf) > 0 && !contains(fromAnyOf, current.Status) {
		return nil, ErrInvalidTransition
	}

	if _, err := tx.ExecContext(ctx, `UPDATE devices SET status = $1, updated_at = now() WHERE id = $2`, to, deviceID); err != nil {
		return nil, fmt.Errorf("registry: update status: exec: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("registry: update status: commit: %w", err)
	}

	current.Status = to
	return current, nil
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func (s *PostgresStore) MarkCritical(ctx context.Context, deviceID string, critical bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE devices SET critical = $1, updated_at = now() WHERE id = $2`, critical, deviceID)
	if err != nil {
		return fmt.Errorf("registry: mark critical: %w", err)
	}
	return noRowsAsNotFound(res)
}

func (s *PostgresStore) UpdateLastHealthCheck(ctx context.Context, deviceID, ip string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE devices SET last_health_check = now(), last_ip = $1, updated_at = now() WHERE id = $2`, ip, deviceID)
	if err != nil {
		return fmt.Errorf("registry: update last health check: %w", err)
	}
	return noRowsAsNotFound(res)
}

func noRowsAsNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("registry: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) OpenConnection(ctx context.Context, deviceID, clientID, ip string) (*Connection, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO connections (device_id, client_id, ip_address)
		VALUES ($1, $2, $3)
		ON CONFLICT (device_id) DO UPDATE SET client_id = $2, ip_address = $3, connected_at = now(), last_seen_at = now()`,
		deviceID, clientID, ip)
	if err != nil {
		return nil, fmt.Errorf("registry: open connection: %w", err)
	}
	return s.GetConnection(ctx, deviceID)
}

func (s *PostgresStore) GetConnection(ctx context.Context, deviceID string) (*Connection, error) {
	row := s.db.QueryRowContext(ctx, `SELECT device_id, client_id, ip_address, connected_at, last_seen_at FROM connections WHERE device_id = $1`, deviceID)
	var c Connection
	if err := row.Scan(&c.DeviceID, &c.ClientID, &c.IPAddress, &c.ConnectedAt, &c.LastSeenAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoActiveConnection
		}
		return nil, fmt.Errorf("registry: get connection: %w", err)
	}
	return &c, nil
}

// ReassignConnection moves the active connection row from one device id to
// another, used when a CONNECT's assumed identity is later corrected by the
// registration message's MAC (see the CONNECTION_REASSIGNED redesign).
func (s *PostgresStore) ReassignConnection(ctx context.Context, fromDeviceID, toDeviceID, clientID, ip string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("registry: reassign connection: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM connections WHERE device_id = $1`, fromDeviceID); err != nil {
		return fmt.Errorf("registry: reassign connection: delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO connections (device_id, client_id, ip_address)
		VALUES ($1, $2, $3)
		ON CONFLICT (device_id) DO UPDATE SET client_id = $2, ip_address = $3, connected_at = now(), last_seen_at = now()`,
		toDeviceID, clientID, ip); err != nil {
		return fmt.Errorf("registry: reassign connection: insert: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresStore) CloseConnection(ctx context.Context, deviceID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE device_id = $1`, deviceID); err != nil {
		return fmt.Errorf("registry: close connection: %w", err)
	}
	return nil
}

func (s *PostgresStore) TouchConnection(ctx context.Context, deviceID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE connections SET last_seen_at = now() WHERE device_id = $1`, deviceID)
	if err != nil {
		return fmt.Errorf("registry: touch connection: %w", err)
	}
	return noRowsAsNotFound(res)
}

func (s *PostgresStore) AppendAlert(ctx context.Context, a *Alert) error {
	detail, err := json.Marshal(a.Detail)
	if err != nil {
		return fmt.Errorf("registry: append alert: marshal detail: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO alerts (device_id, type, detail) VALUES ($1, $2, $3)`, nullableID(a.DeviceID), a.Type, detail)
	if err != nil {
		return fmt.Errorf("registry: append alert: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendAudit(ctx context.Context, a *AuditLog) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO audit_logs (actor_id, device_id, action) VALUES ($1, $2, $3)`, a.ActorID, nullableID(a.DeviceID), a.Action)
	if err != nil {
		return fmt.Errorf("registry: append audit: %w", err)
	}
	return nil
}

func nullableID(id string) any {
	if id == "" {
		return nil
	}
	return id
}

func (s *PostgresStore) FindBindingByFingerprint(ctx context.Context, fingerprint string) (*ClientBinding, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, client_id, fingerprint, role, created_at FROM client_bindings WHERE fingerprint = $1`, fingerprint)
	var b ClientBinding
	if err := row.Scan(&b.ID, &b.ClientID, &b.Fingerprint, &b.Role, &b.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("registry: find binding: %w", err)
	}
	return &b, nil
}

func (s *PostgresStore) UpsertBinding(ctx context.Context, b *ClientBinding) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO client_bindings (client_id, fingerprint, role) VALUES ($1, $2, $3)
		ON CONFLICT (fingerprint) DO UPDATE SET client_id = $1, role = $3`,
		b.ClientID, b.Fingerprint, b.Role)
	if err != nil {
		return fmt.Errorf("registry: upsert binding: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertTelemetry(ctx context.Context, row *TelemetryRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO telemetry (device_id, topic, raw_payload, ts, measurement, value)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		nullableID(row.DeviceID), row.Topic, row.RawPayload, nullableTime(row.Timestamp), nullableString(row.Measurement), row.Value)
	if err != nil {
		return fmt.Errorf("registry: insert telemetry: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
