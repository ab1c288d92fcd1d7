// Package contract provides HTTP transport layer contracts including
// RFC 7807 Problem Details for machine-readable error responses.
package contract

import (
	"net/http"

	domainerrors "github.com/relaycore/orchestrator/internal/domain/errors"
)

// Problem type slugs used to build the RFC 7807 "type" URI.
const (
	ProblemTypeValidationErrorSlug    = "validation-error"
	ProblemTypeNotFoundSlug           = "not-found"
	ProblemTypeConflictSlug           = "conflict"
	ProblemTypeInternalErrorSlug      = "internal-error"
	ProblemTypeUnauthorizedSlug       = "unauthorized"
	ProblemTypeForbiddenSlug          = "forbidden"
	ProblemTypeRateLimitSlug          = "rate-limit-exceeded"
	ProblemTypeServiceUnavailableSlug = "service-unavailable"
	ProblemTypeTimeoutSlug            = "timeout"

	ContentTypeProblemJSON = "application/problem+json"
)

// errorCodeInfo carries the HTTP mapping for one domain error code.
type errorCodeInfo struct {
	HTTPStatus      int
	Title           string
	ProblemTypeSlug string
}

var defaultCodeInfo = errorCodeInfo{
	HTTPStatus:      http.StatusInternalServerError,
	Title:           "Internal Server Error",
	ProblemTypeSlug: ProblemTypeInternalErrorSlug,
}

// codeRegistry maps every code in internal/domain/errors to its HTTP
// status, title, and RFC 7807 type slug. Keep in sync with codes.go there.
var codeRegistry = map[string]errorCodeInfo{
	domainerrors.CodeNotFound:             {http.StatusNotFound, "Not Found", ProblemTypeNotFoundSlug},
	domainerrors.CodeValidationError:      {http.StatusBadRequest, "Validation Error", ProblemTypeValidationErrorSlug},
	domainerrors.CodeUnauthorized:         {http.StatusUnauthorized, "Unauthorized", ProblemTypeUnauthorizedSlug},
	domainerrors.CodeForbidden:            {http.StatusForbidden, "Forbidden", ProblemTypeForbiddenSlug},
	domainerrors.CodeConflict:             {http.StatusConflict, "Conflict", ProblemTypeConflictSlug},
	domainerrors.CodeInternalError:        {http.StatusInternalServerError, "Internal Server Error", ProblemTypeInternalErrorSlug},
	domainerrors.CodeTimeout:              {http.StatusGatewayTimeout, "Timeout", ProblemTypeTimeoutSlug},
	domainerrors.CodeRateLimitExceeded:    {http.StatusTooManyRequests, "Rate Limit Exceeded", ProblemTypeRateLimitSlug},
	domainerrors.CodeBadRequest:           {http.StatusBadRequest, "Bad Request", ProblemTypeValidationErrorSlug},
	domainerrors.CodeInvalidSignature:     {http.StatusUnauthorized, "Invalid Signature", ProblemTypeUnauthorizedSlug},
	domainerrors.CodeReplayBlocked:        {http.StatusConflict, "Replay Blocked", ProblemTypeConflictSlug},
	domainerrors.CodeReplayWindowExceeded: {http.StatusBadRequest, "Replay Window Exceeded", ProblemTypeValidationErrorSlug},
	domainerrors.CodeQueueFull:            {http.StatusServiceUnavailable, "Queue Full", ProblemTypeServiceUnavailableSlug},
	domainerrors.CodeBudgetExceeded:       {http.StatusTooManyRequests, "Budget Exceeded", ProblemTypeRateLimitSlug},
	domainerrors.CodeCircuitOpen:          {http.StatusServiceUnavailable, "Circuit Open", ProblemTypeServiceUnavailableSlug},
	domainerrors.CodeLeaseLost:            {http.StatusConflict, "Lease Lost", ProblemTypeConflictSlug},
	domainerrors.CodeServiceUnavailable:   {http.StatusServiceUnavailable, "Service Unavailable", ProblemTypeServiceUnavailableSlug},
}

// infoForCode returns the registered metadata for code, or the generic
// internal-error fallback if code is unregistered.
func infoForCode(code string) errorCodeInfo {
	if info, ok := codeRegistry[code]; ok {
		return info
	}
	return defaultCodeInfo
}

// HTTPStatusForCode returns the HTTP status for a domain error code.
func HTTPStatusForCode(code string) int {
	return infoForCode(code).HTTPStatus
}

// TitleForCode returns the RFC 7807 title for a domain error code.
func TitleForCode(code string) string {
	return infoForCode(code).Title
}

// ProblemTypeForCode returns the RFC 7807 type slug for a domain error code.
func ProblemTypeForCode(code string) string {
	return infoForCode(code).ProblemTypeSlug
}
