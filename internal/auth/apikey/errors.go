package apikey

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for key parsing and storage.
var (
	// ErrMalformedKey indicates that the raw key string does not match
	// the expected format.
	ErrMalformedKey = errors.New("malformed API key")

	// ErrKeyNotFound indicates that no record exists for the credential.
	ErrKeyNotFound = errors.New("API key not found")

	// ErrStoreUnavailable indicates that the key store could not be
	// reached.
	ErrStoreUnavailable = errors.New("key store unavailable")
)

// Code is a machine-readable rejection code. Client SDKs branch on the
// code, never on the message.
type Code string

// Rejection codes.
const (
	CodeMissingCredential       Code = "MISSING_CREDENTIAL"
	CodeInvalidFormat           Code = "INVALID_FORMAT"
	CodeInvalidCredential       Code = "INVALID_CREDENTIAL"
	CodeCredentialExpired       Code = "CREDENTIAL_EXPIRED"
	CodeCredentialRevoked       Code = "CREDENTIAL_REVOKED"
	CodeOriginNotAllowed        Code = "ORIGIN_NOT_ALLOWED"
	CodeTenantMismatch          Code = "TENANT_MISMATCH"
	CodeTenantNotFound          Code = "TENANT_NOT_FOUND"
	CodeInsufficientPermissions Code = "INSUFFICIENT_PERMISSIONS"
	CodeInternalError           Code = "INTERNAL_ERROR"
)

// Rejection is a deterministic validation failure. It carries the
// machine-readable code plus a human-readable message for logs and
// developer consumption. Messages must never leak another tenant's
// existence, key material, or internal store errors verbatim.
type Rejection struct {
	Code    Code
	Message string
	Details interface{}
}

// Error implements the error interface.
func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Code, r.Message)
}

// HTTPStatus returns the HTTP status for the rejection. Origin and
// permission failures are authorization failures (403); internal
// errors are 500; everything else is an authentication failure (401).
func (r *Rejection) HTTPStatus() int {
	switch r.Code {
	case CodeOriginNotAllowed, CodeInsufficientPermissions:
		return http.StatusForbidden
	case CodeInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusUnauthorized
	}
}

// NewRejection creates a new Rejection.
func NewRejection(code Code, message string) *Rejection {
	return &Rejection{
		Code:    code,
		Message: message,
	}
}

// AsRejection returns the Rejection wrapped in err, if any.
func AsRejection(err error) (*Rejection, bool) {
	var rejection *Rejection
	ok := errors.As(err, &rejection)
	return rejection, ok
}
