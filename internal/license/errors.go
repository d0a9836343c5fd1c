package license

import (
	"errors"
	"fmt"

	"licensekit/pkg/contracts/domain"
)

// Sentinel errors. StatusError wraps one of these so callers can use errors.Is.
var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidSite     = errors.New("invalid site url")
	ErrNotFound        = errors.New("license not found")
	ErrDisabled        = errors.New("license disabled")
	ErrExpired         = errors.New("license expired")
	ErrCapacityReached = errors.New("activation limit reached")
	ErrSlotExists      = errors.New("activation slot already exists")
)

// Wire messages
const (
	MsgMissingFields  = "Missing required fields"
	MsgInvalidSite    = "Invalid site URL"
	MsgNotFound       = "License not found"
	MsgDisabled       = "License disabled"
	MsgExpired        = "License expired"
	MsgLimitReached   = "Activation limit reached"
	MsgActivated      = "License activated"
	MsgDeactivated    = "License deactivated"
	MsgNoActivation   = "No activation found"
	MsgLicenseIsValid = "License is valid"
)

// StatusError is a terminal, non-mutating outcome of a license operation.
// Status is the value reported to the caller as license_status.
type StatusError struct {
	Status  domain.LicenseStatus
	Message string
	Err     error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Status, e.Err)
	}
	return string(e.Status)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// AsStatusError extracts a StatusError from an error chain
func AsStatusError(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

func invalidInput(message string, cause error) *StatusError {
	return &StatusError{Status: domain.LicenseStatusInvalid, Message: message, Err: cause}
}

// entitlementError maps an effective status other than valid to its terminal error
func entitlementError(s domain.EffectiveStatus) *StatusError {
	switch s {
	case domain.EffectiveNotFound:
		return &StatusError{Status: domain.LicenseStatusNotFound, Message: MsgNotFound, Err: ErrNotFound}
	case domain.EffectiveDisabled:
		return &StatusError{Status: domain.LicenseStatusDisabled, Message: MsgDisabled, Err: ErrDisabled}
	case domain.EffectiveExpired:
		return &StatusError{Status: domain.LicenseStatusExpired, Message: MsgExpired, Err: ErrExpired}
	default:
		return nil
	}
}

func capacityError() *StatusError {
	return &StatusError{Status: domain.LicenseStatusMaxActivationsReached, Message: MsgLimitReached, Err: ErrCapacityReached}
}
