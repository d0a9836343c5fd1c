package errors

import (
	"context"
	"errors"
	"net/http"

	"licensekit/internal/license"
	"licensekit/internal/updater"
	"licensekit/pkg/contracts/domain"
)

// ErrTooManyFailures is returned to a client blocked by the key-guessing guard
var ErrTooManyFailures = errors.New("too many failed license lookups")

// Problem types
const (
	TypeValidation       = "/errors/validation"
	TypeNotFound         = "/errors/not-found"
	TypeMethodNotAllowed = "/errors/method-not-allowed"
	TypeRateLimit        = "/errors/rate-limit"
	TypeInternal         = "/errors/internal"
	TypeTimeout          = "/errors/timeout"
	TypePayloadTooLarge  = "/errors/payload-too-large"

	TypeLicenseNotFound = "/errors/license/not-found"
	TypeLicenseDisabled = "/errors/license/disabled"
	TypeLicenseExpired  = "/errors/license/expired"
	TypeActivationLimit = "/errors/license/max-activations-reached"
	TypeLicenseInvalid  = "/errors/license/invalid"
	TypeUnknownRelease  = "/errors/update/unknown-release"
	TypeUnknownProduct  = "/errors/update/unknown-product"
)

// Messages of failures that do not come from the license engine
const (
	MsgInternal        = "Internal server error"
	MsgTooManyFailures = "Too many failed attempts, try again later"
	MsgRateLimited     = "Rate limit exceeded"
	MsgTimeout         = "Request timed out"
)

// MapLicenseError maps an error returned by the license engine or the update
// resolver to problem details. Every problem also carries the wire fields
// success, license_status and message.
func MapLicenseError(err error, instance, traceID string) *ProblemDetails {
	var problem *ProblemDetails

	var se *license.StatusError
	var apiErr *APIError
	switch {
	case errors.As(err, &se):
		problem = statusProblem(se, instance)

	case errors.As(err, &apiErr):
		problem = NewProblemDetails(apiErr.StatusCode, apiProblemType(apiErr.StatusCode), http.StatusText(apiErr.StatusCode), apiErr.Message, instance).
			WithExtension("error_code", apiErr.ErrorCode)
		if apiErr.Details != nil {
			problem.WithExtension("details", apiErr.Details)
		}
		withWireFields(problem, domain.LicenseStatusInvalid, apiErr.Message)

	case errors.Is(err, ErrTooManyFailures):
		problem = NewProblemDetails(http.StatusTooManyRequests, TypeRateLimit, "Too Many Requests", MsgTooManyFailures, instance)
		withWireFields(problem, domain.LicenseStatusInvalid, MsgTooManyFailures)

	case errors.Is(err, context.DeadlineExceeded):
		problem = NewProblemDetails(http.StatusGatewayTimeout, TypeTimeout, "Request Timeout", MsgTimeout, instance)
		withWireFields(problem, domain.LicenseStatusInvalid, MsgTimeout)

	default:
		problem = NewProblemDetails(
			http.StatusInternalServerError,
			TypeInternal,
			"Internal Server Error",
			"An unexpected error occurred while processing your request.",
			instance,
		)
		withWireFields(problem, domain.LicenseStatusInvalid, MsgInternal)
	}

	if traceID != "" {
		problem.WithExtension("trace_id", traceID)
	}
	return problem
}

// statusProblem maps a terminal license outcome. Entitlement refusals are
// 403, malformed input is 400 and references to releases or products that do
// not exist are 404.
func statusProblem(se *license.StatusError, instance string) *ProblemDetails {
	code, problemType, title := http.StatusBadRequest, TypeValidation, "Invalid Request"

	switch se.Status {
	case domain.LicenseStatusNotFound:
		code, problemType, title = http.StatusForbidden, TypeLicenseNotFound, "License Not Found"
	case domain.LicenseStatusDisabled:
		code, problemType, title = http.StatusForbidden, TypeLicenseDisabled, "License Disabled"
	case domain.LicenseStatusExpired:
		code, problemType, title = http.StatusForbidden, TypeLicenseExpired, "License Expired"
	case domain.LicenseStatusMaxActivationsReached:
		code, problemType, title = http.StatusForbidden, TypeActivationLimit, "Activation Limit Reached"
	case domain.LicenseStatusValid:
		code, problemType, title = http.StatusInternalServerError, TypeInternal, "Internal Server Error"
	default:
		switch {
		case errors.Is(se, updater.ErrUnknownRelease):
			code, problemType, title = http.StatusNotFound, TypeUnknownRelease, "Unknown Release"
		case errors.Is(se, updater.ErrUnknownProduct):
			code, problemType, title = http.StatusNotFound, TypeUnknownProduct, "Unknown Product"
		case errors.Is(se, license.ErrInvalidInput), errors.Is(se, license.ErrInvalidSite), errors.Is(se, updater.ErrInvalidVersion):
		default:
			problemType = TypeLicenseInvalid
		}
	}

	message := se.Message
	if message == "" {
		message = title
	}
	problem := NewProblemDetails(code, problemType, title, message, instance)
	withWireFields(problem, se.Status, message)
	return problem
}

func apiProblemType(code int) string {
	switch code {
	case http.StatusBadRequest:
		return TypeValidation
	case http.StatusNotFound:
		return TypeNotFound
	case http.StatusMethodNotAllowed:
		return TypeMethodNotAllowed
	case http.StatusRequestEntityTooLarge:
		return TypePayloadTooLarge
	case http.StatusTooManyRequests:
		return TypeRateLimit
	default:
		return TypeInternal
	}
}

func withWireFields(problem *ProblemDetails, status domain.LicenseStatus, message string) {
	problem.WithExtension("success", false).
		WithExtension("license_status", status).
		WithExtension("message", message)
}
