// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoneGate Contributors

// Package postgres implements the player record repository on PostgreSQL.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/stonegate-mc/stonegate/internal/record"
)

// poolIface abstracts the pgx pool operations the repository needs, so
// pgxmock can stand in during tests.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// Repository implements record.Repository using PostgreSQL. Every operation
// checks the live-connection precondition first and reports
// record.ErrStoreUnavailable when the store is unreachable.
type Repository struct {
	pool poolIface
}

// NewRepository creates a new Repository.
func NewRepository(pool poolIface) *Repository {
	return &Repository{pool: pool}
}

const recordColumns = `nickname, lowercase_key, credential_hash, remote_identity_id,
	       conflict_mode, conflict_at, original_nickname,
	       login_ip, last_login_at, registered_at`

// FindByKey retrieves a record by lowercase key.
func (r *Repository) FindByKey(ctx context.Context, key string) (*record.PlayerRecord, error) {
	if err := r.precondition(ctx); err != nil {
		return nil, err
	}

	row := r.pool.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM player_records
		WHERE lowercase_key = $1
	`, key)

	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("RECORD_NOT_FOUND").
			With("key", key).
			Wrap(record.ErrNotFound)
	}
	if err != nil {
		return nil, r.storeErr(err, "find record by key")
	}
	return rec, nil
}

// Upsert inserts or replaces a record keyed by lowercase_key.
func (r *Repository) Upsert(ctx context.Context, rec *record.PlayerRecord) error {
	if err := r.precondition(ctx); err != nil {
		return err
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO player_records (
			nickname, lowercase_key, credential_hash, remote_identity_id,
			conflict_mode, conflict_at, original_nickname,
			login_ip, last_login_at, registered_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (lowercase_key) DO UPDATE SET
			nickname = EXCLUDED.nickname,
			credential_hash = EXCLUDED.credential_hash,
			remote_identity_id = EXCLUDED.remote_identity_id,
			conflict_mode = EXCLUDED.conflict_mode,
			conflict_at = EXCLUDED.conflict_at,
			original_nickname = EXCLUDED.original_nickname,
			login_ip = EXCLUDED.login_ip,
			last_login_at = EXCLUDED.last_login_at
	`,
		rec.Nickname,
		rec.LowercaseKey,
		rec.CredentialHash,
		rec.RemoteIdentityID,
		rec.ConflictMode,
		rec.ConflictAt,
		rec.OriginalNickname,
		rec.LoginIP,
		rec.LastLoginAt,
		rec.RegisteredAt,
	)
	if err != nil {
		return r.storeErr(err, "upsert record")
	}
	return nil
}

// Delete removes a record by lowercase key.
func (r *Repository) Delete(ctx context.Context, key string) error {
	if err := r.precondition(ctx); err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx, `DELETE FROM player_records WHERE lowercase_key = $1`, key)
	if err != nil {
		return r.storeErr(err, "delete record")
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("RECORD_NOT_FOUND").
			With("key", key).
			Wrap(record.ErrNotFound)
	}
	return nil
}

// Count returns the number of stored records.
func (r *Repository) Count(ctx context.Context) (int64, error) {
	if err := r.precondition(ctx); err != nil {
		return 0, err
	}

	var count int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM player_records`).Scan(&count); err != nil {
		return 0, r.storeErr(err, "count records")
	}
	return count, nil
}

// List returns records ordered by registration time.
func (r *Repository) List(ctx context.Context, limit, offset int) ([]*record.PlayerRecord, error) {
	if err := r.precondition(ctx); err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM player_records
		ORDER BY registered_at
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, r.storeErr(err, "list records")
	}
	defer rows.Close()

	var records []*record.PlayerRecord
	for rows.Next() {
		rec, scanErr := scanRecord(rows)
		if scanErr != nil {
			return nil, r.storeErr(scanErr, "scan record row")
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, r.storeErr(err, "iterate records")
	}
	return records, nil
}

// precondition verifies the store is reachable before attempting the
// operation. Failing here yields an explicit store-unavailable error, never a
// silent "not found".
func (r *Repository) precondition(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return oops.Code("RECORD_STORE_UNAVAILABLE").
			With("operation", "ping").
			Wrap(record.ErrStoreUnavailable)
	}
	return nil
}

// storeErr classifies an operation error: connection-class failures map to
// the explicit store-unavailable error, everything else is wrapped as-is.
func (r *Repository) storeErr(err error, operation string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgerrcode.IsConnectionException(pgErr.Code) {
		return oops.Code("RECORD_STORE_UNAVAILABLE").
			With("operation", operation).
			With("pg_code", pgErr.Code).
			Wrap(record.ErrStoreUnavailable)
	}
	return oops.Code("RECORD_STORE_FAILED").
		With("operation", operation).
		Wrap(err)
}

func scanRecord(row pgx.Row) (*record.PlayerRecord, error) {
	var rec record.PlayerRecord
	err := row.Scan(
		&rec.Nickname,
		&rec.LowercaseKey,
		&rec.CredentialHash,
		&rec.RemoteIdentityID,
		&rec.ConflictMode,
		&rec.ConflictAt,
		&rec.OriginalNickname,
		&rec.LoginIP,
		&rec.LastLoginAt,
		&rec.RegisteredAt,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers classify and wrap
	}
	return &rec, nil
}
