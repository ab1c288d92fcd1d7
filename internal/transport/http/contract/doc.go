// Package contract provides HTTP transport layer contracts including
// RFC 7807 Problem Details for machine-readable error responses.
//
// This package implements the transport layer's error handling contracts,
// providing a standardized way to communicate errors to API clients following
// RFC 7807 (Problem Details for HTTP APIs).
//
// # RFC 7807 Problem Details
//
// All error responses from this API use the RFC 7807 format with the following structure:
//
//	{
//	    "type": "https://errors.relaycore.dev/problems/validation-error",
//	    "title": "Validation Error",
//	    "status": 400,
//	    "detail": "Email format is invalid",
//	    "code": "VALIDATION_ERROR",
//	    "request_id": "req_abc123",
//	    "trace_id": "4bf92f3577b34da6a3ce929d0e0e4736"
//	}
//
// # Error Codes
//
// The "code" field carries one of the UPPER_SNAKE_CASE constants of
// internal/domain/errors (NOT_FOUND, VALIDATION_ERROR, QUEUE_FULL,
// CIRCUIT_OPEN, ...). codeRegistry in codes.go maps each code to its HTTP
// status, title and type slug; an unregistered code maps to 500 Internal
// Server Error.
//
// # Content-Type
//
// All error responses use Content-Type: application/problem+json as required
// by RFC 7807.
//
// # Usage
//
// Creating a problem response from an application error:
//
//	func handler(w http.ResponseWriter, r *http.Request) {
//	    user, err := service.GetUser(ctx, id)
//	    if err != nil {
//	        contract.WriteProblemJSON(w, r, err)
//	        return
//	    }
//	    // success response...
//	}
//
// Creating a validation error response:
//
//	errors := []contract.ValidationError{
//	    {Field: "email", Message: "must be a valid email address"},
//	}
//	contract.WriteValidationError(w, r, errors)
//
// Creating a problem with custom fields:
//
//	problem := contract.NewProblem(http.StatusBadRequest, "Invalid Input", "The request body is malformed")
//	problem.Code = domainerrors.CodeBadRequest
//	contract.WriteProblem(w, problem)
//
// # Thread Safety
//
// Problem instances are not safe for concurrent modification.
// Create a new Problem for each error response.
//
// # Errors Without a Code
//
// An error that is not a *domainerrors.DomainError is matched against the
// domain package's sentinel errors; anything else becomes INTERNAL_ERROR.
// ERR_-prefixed codes are not translated.
//
// # See Also
//
//   - RFC 7807: https://tools.ietf.org/html/rfc7807
//   - ADR-004: RFC 7807 Error Handling
package contract
