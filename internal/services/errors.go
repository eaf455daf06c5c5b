package services

import "errors"

// Machine-distinguishable heartbeat rejection reasons. Transports map these
// onto their own error vocabulary (HTTP status codes, log fields).
var (
	// ErrMissingDeviceID rejects a heartbeat without a device identifier.
	ErrMissingDeviceID = errors.New("device id is required")

	// ErrUnauthorized rejects a heartbeat whose token does not match the
	// configured shared device secret.
	ErrUnauthorized = errors.New("invalid device token")
)
