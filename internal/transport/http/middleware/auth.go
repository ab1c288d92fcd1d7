// Package middleware provides HTTP middleware for the transport layer.
// This file implements Bearer API-key authentication: raw keys are never
// stored, only a salted SHA-256 hash looked up against the api_keys table.
package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/relaycore/orchestrator/internal/domain"
	domainerrors "github.com/relaycore/orchestrator/internal/domain/errors"
	"github.com/relaycore/orchestrator/internal/transport/http/contract"
	"github.com/relaycore/orchestrator/internal/transport/http/ctxutil"
)

// HashAPIKey computes the salted SHA-256 hash stored in api_keys.key_hash.
// The same function must be used when seeding keys and when authenticating.
func HashAPIKey(salt, rawKey string) string {
	sum := sha256.Sum256([]byte(salt + rawKey))
	return hex.EncodeToString(sum[:])
}

// ApiKeyAuthConfig holds configuration for the ApiKeyAuth middleware.
type ApiKeyAuthConfig struct {
	// Repo resolves a key hash to an ApiKey row.
	Repo domain.ApiKeyRepository
	// Querier runs the lookup and last-used touch.
	Querier domain.Querier
	// Salt is mixed into the key hash before lookup.
	Salt string
	// Logger for authentication events.
	Logger *slog.Logger
	// Now provides the current time for expiry checks and TouchLastUsed.
	Now func() time.Time
}

// ApiKeyAuth returns middleware that resolves the Authorization: Bearer
// header against the api_keys table and stores a ctxutil.AuthContext on
// success. No detail about why authentication failed is ever returned to
// the client (prevents key enumeration).
func ApiKeyAuth(cfg ApiKeyAuthConfig) func(http.Handler) http.Handler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey, ok := extractBearerToken(r)
			if !ok {
				cfg.Logger.WarnContext(r.Context(), "auth failed: missing or malformed bearer token")
				writeUnauthorized(w, r)
				return
			}

			keyHash := HashAPIKey(cfg.Salt, rawKey)
			key, err := cfg.Repo.GetByHash(r.Context(), cfg.Querier, keyHash)
			if err != nil || key == nil {
				if err != nil && !errors.Is(err, domain.ErrNotFound) {
					cfg.Logger.ErrorContext(r.Context(), "auth lookup failed", "error", err)
				}
				writeUnauthorized(w, r)
				return
			}

			at := now()
			if !key.Valid(at) {
				cfg.Logger.WarnContext(r.Context(), "auth failed: key inactive or expired", "key_id", key.ID)
				writeUnauthorized(w, r)
				return
			}

			ctx := ctxutil.SetAuth(r.Context(), &ctxutil.AuthContext{
				KeyID: key.ID,
				Name:  key.Name,
				Role:  key.Role,
			})

			if err := cfg.Repo.TouchLastUsed(ctx, cfg.Querier, key.ID, at); err != nil {
				cfg.Logger.WarnContext(ctx, "failed to record api key last use", "key_id", key.ID, "error", err)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole returns middleware that rejects requests whose authenticated
// caller does not hold one of the allowed roles. Must run after ApiKeyAuth.
func RequireRole(allowed ...domain.ApiKeyRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := ctxutil.GetAuth(r.Context())
			if auth == nil {
				writeUnauthorized(w, r)
				return
			}
			for _, role := range allowed {
				if auth.HasRole(role) {
					next.ServeHTTP(w, r)
					return
				}
			}
			contract.WriteProblemJSON(w, r, domainerrors.NewDomain(domainerrors.CodeForbidden, "caller role does not permit this operation"))
		})
	}
}

func extractBearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}

// writeUnauthorized writes an RFC 7807 error response for authentication failures.
func writeUnauthorized(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	contract.WriteProblemJSON(w, r, domainerrors.NewDomain(domainerrors.CodeUnauthorized, "unauthorized"))
}
