// Package apperr defines the error kinds shared by the booking, payment and
// report domains, and their mapping onto HTTP status codes. Services wrap
// these sentinels with fmt.Errorf("...: %w", ...) so handlers can classify an
// error without knowing which domain produced it.
package apperr

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

var (
	// ErrNotFound indicates a referenced entity is absent.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition indicates a status precondition was violated.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrForbidden indicates the actor lacks ownership of the entity or the
	// role required for the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrAmountMismatch indicates a client-supplied price disagrees with the
	// authoritative booking price.
	ErrAmountMismatch = errors.New("amount mismatch")

	// ErrSignatureInvalid indicates a payment verification HMAC mismatch.
	ErrSignatureInvalid = errors.New("signature invalid")

	// ErrUpstreamFailure indicates the payment gateway or SMS transport
	// returned an error.
	ErrUpstreamFailure = errors.New("upstream failure")

	// ErrInvalidState indicates an operation precondition other than a status
	// transition was unmet, e.g. refunding a payment that is not completed.
	ErrInvalidState = errors.New("invalid state")
)

// HTTPStatus returns the HTTP status code for a classified error. Unclassified
// errors map to 500.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrAmountMismatch), errors.Is(err, ErrSignatureInvalid):
		return http.StatusBadRequest
	case errors.Is(err, ErrUpstreamFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ToHTTP converts a service error into an echo.HTTPError carrying the mapped
// status code and the error message.
func ToHTTP(err error) *echo.HTTPError {
	return echo.NewHTTPError(HTTPStatus(err), err.Error())
}
