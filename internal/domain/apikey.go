package domain

import (
	"context"
	"time"
)

// ApiKeyRole scopes what an authenticated caller may do.
type ApiKeyRole string

const (
	RoleAdmin    ApiKeyRole = "admin"
	RoleService  ApiKeyRole = "service"
	RoleReadonly ApiKeyRole = "readonly"
)

// ApiKey authenticates HTTP callers. The raw key is never stored, only a
// salted SHA-256 hash; expired or inactive keys must reject at the gate.
type ApiKey struct {
	ID         ID
	KeyHash    string
	Name       string
	Role       ApiKeyRole
	ExpiresAt  *time.Time
	IsActive   bool
	LastUsedAt *time.Time
}

// Expired reports whether the key is past its expiry as of now.
func (k *ApiKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// Valid reports whether the key may currently authenticate a request.
func (k *ApiKey) Valid(now time.Time) bool {
	return k.IsActive && !k.Expired(now)
}

// ApiKeyRepository resolves and maintains ApiKey rows.
type ApiKeyRepository interface {
	GetByHash(ctx context.Context, q Querier, keyHash string) (*ApiKey, error)
	TouchLastUsed(ctx context.Context, q Querier, id ID, at time.Time) error
}
