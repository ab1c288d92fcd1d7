package contract

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/moogar0880/problems"

	"github.com/relaycore/orchestrator/internal/domain"
	domainerrors "github.com/relaycore/orchestrator/internal/domain/errors"
	"github.com/relaycore/orchestrator/internal/transport/http/ctxutil"
)

// problemBaseURL prefixes the "type" field of every Problem response.
// Set once at startup via SetProblemBaseURL.
var problemBaseURL = "https://errors.relaycore.dev/problems"

// SetProblemBaseURL overrides the base URL used to build RFC 7807 type URIs.
func SetProblemBaseURL(base string) {
	if base != "" {
		problemBaseURL = base
	}
}

func problemTypeURL(slug string) string {
	return problemBaseURL + "/" + slug
}

// ValidationError represents a single field validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Problem represents an RFC 7807 Problem Details response with
// project-specific extensions (code, hint, request/trace correlation).
type Problem struct {
	*problems.DefaultProblem

	Code      string `json:"code,omitempty"`
	Hint      string `json:"hint,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`

	Errors []ValidationError `json:"errors,omitempty"`
}

// NewProblem creates a bare Problem from a status code and detail.
func NewProblem(status int, title, detail string) *Problem {
	base := problems.NewStatusProblem(status)
	base.Title = title
	base.Detail = detail
	return &Problem{DefaultProblem: base}
}

// FromDomainError builds a Problem from a *domainerrors.DomainError.
func FromDomainError(r *http.Request, derr *domainerrors.DomainError) *Problem {
	info := infoForCode(derr.Code)

	base := problems.NewDetailedProblem(info.HTTPStatus, derr.Message)
	base.Type = problemTypeURL(info.ProblemTypeSlug)
	base.Title = info.Title

	p := &Problem{
		DefaultProblem: base,
		Code:           derr.Code,
		Hint:           derr.Hint,
	}
	populateProblemContext(r, p)
	return p
}

// FromValidationErrors builds a 400 Problem carrying per-field validation detail.
func FromValidationErrors(r *http.Request, fieldErrors []ValidationError) *Problem {
	base := problems.NewDetailedProblem(http.StatusBadRequest, "one or more fields failed validation")
	base.Type = problemTypeURL(ProblemTypeValidationErrorSlug)
	base.Title = "Validation Error"

	p := &Problem{
		DefaultProblem: base,
		Code:           domainerrors.CodeValidationError,
		Errors:         fieldErrors,
	}
	populateProblemContext(r, p)
	return p
}

// FromError builds a Problem from any error, unwrapping DomainError or the
// sentinel domain errors when present and falling back to a generic 500.
func FromError(r *http.Request, err error) *Problem {
	if err == nil {
		return NewProblem(http.StatusInternalServerError, "Internal Server Error", "an internal error occurred")
	}

	if derr := domainerrors.IsDomainError(err); derr != nil {
		return FromDomainError(r, derr)
	}

	code := sentinelToCode(err)
	info := infoForCode(code)
	detail := err.Error()
	if info.HTTPStatus >= 500 {
		detail = "an internal error occurred"
	}

	base := problems.NewDetailedProblem(info.HTTPStatus, detail)
	base.Type = problemTypeURL(info.ProblemTypeSlug)
	base.Title = info.Title

	p := &Problem{DefaultProblem: base, Code: code}
	populateProblemContext(r, p)
	return p
}

// sentinelToCode maps the domain package's sentinel errors to a public code
// when the error isn't already a *domainerrors.DomainError.
func sentinelToCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return domainerrors.CodeNotFound
	case errors.Is(err, domain.ErrValidation):
		return domainerrors.CodeValidationError
	case errors.Is(err, domain.ErrUnauthorized):
		return domainerrors.CodeUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return domainerrors.CodeForbidden
	case errors.Is(err, domain.ErrConflict):
		return domainerrors.CodeConflict
	case errors.Is(err, domain.ErrQueueFull):
		return domainerrors.CodeQueueFull
	case errors.Is(err, domain.ErrBudgetExceeded):
		return domainerrors.CodeBudgetExceeded
	case errors.Is(err, domain.ErrCircuitOpen):
		return domainerrors.CodeCircuitOpen
	case errors.Is(err, domain.ErrLeaseLost):
		return domainerrors.CodeLeaseLost
	case errors.Is(err, domain.ErrInvalidSignature):
		return domainerrors.CodeInvalidSignature
	case errors.Is(err, domain.ErrReplayBlocked):
		return domainerrors.CodeReplayBlocked
	case errors.Is(err, domain.ErrReplayWindowExceeded):
		return domainerrors.CodeReplayWindowExceeded
	default:
		return domainerrors.CodeInternalError
	}
}

func populateProblemContext(r *http.Request, p *Problem) {
	if r == nil || p == nil {
		return
	}
	p.Instance = r.URL.Path
	p.RequestID = ctxutil.GetRequestID(r.Context())
	if traceID := ctxutil.GetTraceID(r.Context()); traceID != "" && traceID != ctxutil.EmptyTraceID {
		p.TraceID = traceID
	}
}

// WriteProblemJSON maps err to a Problem and writes it as
// application/problem+json with the matching status code.
func WriteProblemJSON(w http.ResponseWriter, r *http.Request, err error) {
	WriteProblem(w, FromError(r, err))
}

// WriteValidationError writes a 400 Problem carrying per-field errors.
func WriteValidationError(w http.ResponseWriter, r *http.Request, fieldErrors []ValidationError) {
	WriteProblem(w, FromValidationErrors(r, fieldErrors))
}

// WriteProblem writes the Problem as an RFC 7807 JSON response.
func WriteProblem(w http.ResponseWriter, problem *Problem) {
	if problem == nil {
		problem = NewProblem(http.StatusInternalServerError, "Internal Server Error", "an internal error occurred")
	}
	if problem.Status == 0 {
		problem.Status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", ContentTypeProblemJSON)
	w.WriteHeader(problem.Status)
	_ = json.NewEncoder(w).Encode(problem)
}
