package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/relaycore/orchestrator/internal/domain"
)

// ApiKeyRepo implements domain.ApiKeyRepository, backing
// middleware.ApiKeyAuth's Bearer-token lookup.
type ApiKeyRepo struct{}

// NewApiKeyRepo creates a new ApiKeyRepo.
func NewApiKeyRepo() *ApiKeyRepo {
	return &ApiKeyRepo{}
}

func (r *ApiKeyRepo) GetByHash(ctx context.Context, q domain.Querier, keyHash string) (*domain.ApiKey, error) {
	const op = "ApiKeyRepo.GetByHash"
	row, err := asScanner(q.QueryRow(ctx, `
		SELECT id, key_hash, name, role, expires_at, is_active, last_used_at
		FROM api_keys WHERE key_hash = $1
	`, keyHash))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var k domain.ApiKey
	if err := row.Scan(&k.ID, &k.KeyHash, &k.Name, &k.Role, &k.ExpiresAt, &k.IsActive, &k.LastUsedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &k, nil
}

func (r *ApiKeyRepo) TouchLastUsed(ctx context.Context, q domain.Querier, id domain.ID, at time.Time) error {
	const op = "ApiKeyRepo.TouchLastUsed"
	_, err := q.Exec(ctx, `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

var _ domain.ApiKeyRepository = (*ApiKeyRepo)(nil)
