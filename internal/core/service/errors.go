package service

import (
	"errors"
	"fmt"
)

var (
	// ErrVehicleNotFound is returned for unknown vehicle ids.
	ErrVehicleNotFound = errors.New("vehicle not found")

	// ErrVehicleUnavailable is returned when the vehicle is not Available.
	ErrVehicleUnavailable = errors.New("vehicle not available")

	// ErrUserNotFound is returned for unknown user ids.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserNotActive is returned when the account is suspended or blocked.
	ErrUserNotActive = errors.New("user not active")

	// ErrInsufficientCredit is returned when the credit does not cover the minimum fare.
	ErrInsufficientCredit = errors.New("insufficient credit")

	// ErrActiveRideExists is returned when the user already rides.
	ErrActiveRideExists = errors.New("user already has a ride in progress")

	// ErrRideNotFound is returned for unknown ride ids.
	ErrRideNotFound = errors.New("ride not found")

	// ErrRideNotInProgress is returned when ending or cancelling a finished ride.
	ErrRideNotInProgress = errors.New("ride not in progress")

	// ErrLotNotFound is returned for unknown parking lots.
	ErrLotNotFound = errors.New("parking lot not found")

	// ErrInvalidTarget is returned for ids that cannot address a device.
	ErrInvalidTarget = errors.New("invalid target")

	// ErrBusy is returned when another operation holds the user or the vehicle.
	ErrBusy = errors.New("operation already in progress")
)

// ValidationError is a rejected request. No side effect was applied.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(err error, format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf("%s: %s", err, fmt.Sprintf(format, args...)), Err: err}
}

// IsValidation reports whether err is a rejected request.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
