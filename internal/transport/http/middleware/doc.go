// Package middleware provides HTTP middleware for the transport layer.
//
// This package contains reusable middleware components for the Chi router
// that implement cross-cutting concerns like authentication, rate limiting,
// idempotency, logging, and graceful shutdown.
//
// # Middleware Ordering
//
// The router (internal/transport/http/router.go) applies middleware in this
// order (outermost to innermost execution):
//
//  1. chi RequestID  - Assigns unique request ID for tracing
//  2. chi RealIP     - Normalizes RemoteAddr from proxy headers
//  3. chi Recoverer  - Catches panics and returns 500 response
//  4. RequestLogger  - Logs request completion with timing
//  5. ApiKeyAuth     - Resolves the caller's API key (authenticated routes)
//  6. RateLimiter    - Enforces rate limits per API key, or per IP without one
//  7. Idempotency    - Handles duplicate task submissions (POST only)
//
// # Chi Router Integration
//
// Apply middleware using Chi's Use method:
//
//	r := chi.NewRouter()
//	r.Use(chiMiddleware.RequestID)
//	r.Use(middleware.RequestLogger(logger))
//
//	r.Group(func(r chi.Router) {
//	    r.Use(middleware.ApiKeyAuth(authConfig))
//	    r.Use(middleware.RateLimiter(middleware.RateLimitConfig{RequestsPerSecond: 100}))
//	    r.With(middleware.Idempotency(idempotencyConfig)).Post("/", handler)
//	})
//
// # Available Middleware
//
// Authentication:
//   - ApiKeyAuth: Resolves the API key from the Authorization: Bearer header
//   - RequireRole: Rejects callers whose key has none of the allowed roles
//
// Rate Limiting:
//   - RateLimiter: go-chi/httprate limiting with RFC 7807 responses
//   - Includes X-RateLimit-* headers and Retry-After on 429
//
// Idempotency:
//   - Idempotency: Caches POST responses by Idempotency-Key header
//   - Prevents duplicate side effects on retry
//
// Observability:
//   - RequestLogger: Structured logging with request/response timing
//   - Metrics: Prometheus metrics for HTTP requests
//   - Tracing: OpenTelemetry distributed tracing spans
//
// Resilience:
//   - Shutdown: Graceful shutdown with request draining
//   - Recoverer: Panic recovery with RFC 7807 error response
//
// Security:
//   - SecureHeaders: OWASP-recommended security headers
//   - BodyLimiter: Request body size limits
//
// # Error Responses
//
// All middleware use RFC 7807 Problem Details format for error responses
// via the contract package. Example 401 response:
//
//	{
//	    "type": "https://errors.relaycore.dev/problems/unauthorized",
//	    "title": "Unauthorized",
//	    "status": 401,
//	    "code": "UNAUTHORIZED",
//	    "request_id": "req_abc123"
//	}
//
// # Configuration
//
// Most middleware accept configuration structs. Example:
//
//	r.Use(middleware.RateLimiter(middleware.RateLimitConfig{
//	    RequestsPerSecond: 50,
//	    Window:            time.Second,
//	}))
//
// # See Also
//
//   - Chi router documentation: https://github.com/go-chi/chi
//   - ADR-002: Layer Boundary Enforcement
//   - contract package: RFC 7807 error responses
package middleware
