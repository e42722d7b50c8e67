// Package errors provides structured error handling for the ledger.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Protocol errors
	CodeUnauthorized    Code = "UNAUTHORIZED"
	CodeInvalidState    Code = "INVALID_STATE"
	CodeDeadlinePassed  Code = "DEADLINE_PASSED"
	CodeInvalidDeadline Code = "INVALID_DEADLINE"

	// Token validation errors
	CodeTokenEmptySender    Code = "TOKEN_EMPTY_SENDER"
	CodeTokenEmptyRecipient Code = "TOKEN_EMPTY_RECIPIENT"
	CodeTokenInvalidDigest  Code = "TOKEN_INVALID_DIGEST"
	CodeTokenEmptySealedKey Code = "TOKEN_EMPTY_SEALED_KEY"
	CodeKeyEmptyMaterial    Code = "KEY_EMPTY_MATERIAL"

	// Grant errors
	CodeGrantInvalid Code = "GRANT_INVALID"
	CodeGrantExpired Code = "GRANT_EXPIRED"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// Forbidden - caller role does not allow the requested transition
	case CodeUnauthorized:
		return http.StatusForbidden

	// Unauthorized - the caller could not be identified at all
	case CodeGrantInvalid,
		CodeGrantExpired:
		return http.StatusUnauthorized

	// Conflict - operation not valid from the current effective state,
	// or its time window has closed
	case CodeInvalidState,
		CodeDeadlinePassed:
		return http.StatusConflict

	// NotFound - missing records
	case CodeNotFound:
		return http.StatusNotFound

	// BadRequest - validation failures, bad input
	case CodeInvalidDeadline,
		CodeTokenEmptySender,
		CodeTokenEmptyRecipient,
		CodeTokenInvalidDigest,
		CodeTokenEmptySealedKey,
		CodeKeyEmptyMaterial:
		return http.StatusBadRequest

	default:
		return http.StatusInternalServerError
	}
}
