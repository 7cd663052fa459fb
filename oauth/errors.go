package oauth

import (
	"net/http"

	"github.com/dpup/authorizer/errors"
	oautherrors "github.com/go-oauth2/oauth2/v4/errors"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
)

// Storage errors. Storage implementations return ErrNotFound for missing
// records and wrap every other failure with ErrStorage.
var (
	ErrNotFound = errors.NewC("not found", codes.NotFound)
	ErrStorage  = errors.NewC("storage failure", codes.Unavailable).
		WithPublicMessage("the server is temporarily unable to handle the request")
)

// Client resolution errors. They are returned to the caller as request
// rejections since no redirect target is known yet.
var (
	ErrMissingClientID = errors.NewC("missing client_id", codes.InvalidArgument).
		WithPublicMessage("client_id is required").
		WithDetails(clientIDViolation("client_id is required"))

	ErrUnknownClient = errors.NewC("unknown client", codes.InvalidArgument).
		WithPublicMessage("client_id does not identify a registered client").
		WithDetails(clientIDViolation("unknown client"))

	ErrInvalidClientRegistration = errors.NewC("invalid client registration", codes.InvalidArgument)
)

// ErrInvalidCredentials is returned by a CredentialVerifier when the resource
// owner's username or password is wrong.
var ErrInvalidCredentials = errors.NewC("invalid resource owner credentials", codes.Unauthenticated)

func clientIDViolation(desc string) *errdetails.BadRequest {
	return &errdetails.BadRequest{
		FieldViolations: []*errdetails.BadRequest_FieldViolation{
			{Field: "client_id", Description: desc},
		},
	}
}

// IsClientResolutionError reports whether err means the request could not be
// tied to a registered client.
func IsClientResolutionError(err error) bool {
	return errors.Is(err, ErrMissingClientID) || errors.Is(err, ErrUnknownClient)
}

// GrantError is an expected rejection of a grant request, reported to the
// client using an RFC 6749 error code.
type GrantError struct {
	Code        string
	Description string
}

func (e *GrantError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

// StatusCode returns the token endpoint status for the error, RFC 6749 §5.2.
func (e *GrantError) StatusCode() int {
	switch e.Code {
	case oautherrors.ErrInvalidClient.Error():
		return http.StatusUnauthorized
	case oautherrors.ErrServerError.Error():
		return http.StatusInternalServerError
	case oautherrors.ErrTemporarilyUnavailable.Error():
		return http.StatusServiceUnavailable
	}
	return http.StatusBadRequest
}

// newGrantError builds a GrantError from one of the go-oauth2 error values,
// using the standard description when desc is empty.
func newGrantError(code error, desc string) *GrantError {
	if desc == "" {
		desc = oautherrors.Descriptions[code]
	}
	return &GrantError{Code: code.Error(), Description: desc}
}

// AccessDenied returns the error used when the resource owner or policy denies
// the request.
func AccessDenied(desc string) *GrantError {
	return newGrantError(oautherrors.ErrAccessDenied, desc)
}

// serverError is the only error reported for unexpected failures. Its
// description never carries internal details.
func serverError() *GrantError {
	return newGrantError(oautherrors.ErrServerError, "")
}

// AsGrantError returns err as a GrantError. Anything that is not already a
// GrantError becomes server_error.
func AsGrantError(err error) (*GrantError, bool) {
	var ge *GrantError
	if errors.As(err, &ge) {
		return ge, true
	}
	return serverError(), false
}
