// Package postgres provides PostgreSQL database connectivity and repositories.
// This file implements the idempotency storage for safe POST request retries.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/relaycore/orchestrator/internal/transport/http/middleware"
)

// pgUniqueViolationCode is the PostgreSQL error code for unique constraint violations.
const pgUniqueViolationCode = "23505"

// ErrKeyAlreadyExists is returned when trying to store a key that already exists.
var ErrKeyAlreadyExists = errors.New("idempotency key already exists")

// IdempotencyRepo implements middleware.IdempotencyStore for PostgreSQL.
// It stores idempotency records for replay of duplicate POST requests.
type IdempotencyRepo struct {
	pool Pooler
}

// NewIdempotencyRepo creates a new IdempotencyRepo instance.
func NewIdempotencyRepo(pool Pooler) *IdempotencyRepo {
	return &IdempotencyRepo{pool: pool}
}

// Get retrieves an existing record by key.
// Returns nil, nil if the key doesn't exist or is expired.
func (r *IdempotencyRepo) Get(ctx context.Context, key string) (*middleware.IdempotencyRecord, error) {
	const op = "idempotencyRepo.Get"

	pool := r.pool.Pool()
	if pool == nil {
		return nil, fmt.Errorf("%s: database not connected", op)
	}

	var rec middleware.IdempotencyRecord
	var headersJSON []byte
	err := pool.QueryRow(ctx, `
		SELECT key, request_hash, status_code, response_headers, response_body, created_at, expires_at
		FROM idempotency_keys
		WHERE key = $1 AND expires_at > now()
	`, key).Scan(&rec.Key, &rec.RequestHash, &rec.StatusCode, &headersJSON, &rec.ResponseBody, &rec.CreatedAt, &rec.ExpiresAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var headers http.Header
	if err := json.Unmarshal(headersJSON, &headers); err != nil {
		return nil, fmt.Errorf("%s: unmarshal headers: %w", op, err)
	}
	rec.ResponseHeaders = headers

	return &rec, nil
}

// Store saves a new idempotency record.
// Returns ErrKeyAlreadyExists if the key already exists (race condition handling).
func (r *IdempotencyRepo) Store(ctx context.Context, record *middleware.IdempotencyRecord) error {
	const op = "idempotencyRepo.Store"

	pool := r.pool.Pool()
	if pool == nil {
		return fmt.Errorf("%s: database not connected", op)
	}

	headersJSON, err := json.Marshal(record.ResponseHeaders)
	if err != nil {
		return fmt.Errorf("%s: marshal headers: %w", op, err)
	}

	_, err = pool.Exec(ctx, `
		INSERT INTO idempotency_keys (key, request_hash, status_code, response_headers, response_body, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, record.Key, record.RequestHash, record.StatusCode, headersJSON, record.ResponseBody, record.CreatedAt, record.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolationCode {
			return ErrKeyAlreadyExists
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// DeleteExpired removes all expired idempotency records.
// Returns the number of deleted records.
func (r *IdempotencyRepo) DeleteExpired(ctx context.Context) (int64, error) {
	const op = "idempotencyRepo.DeleteExpired"

	pool := r.pool.Pool()
	if pool == nil {
		return 0, fmt.Errorf("%s: database not connected", op)
	}

	tag, err := pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected(), nil
}

// Ensure IdempotencyRepo implements middleware.IdempotencyStore at compile time.
var _ middleware.IdempotencyStore = (*IdempotencyRepo)(nil)
