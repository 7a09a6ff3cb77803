package provisioning

import "errors"

// Sentinel errors for provisioning operations. Callers match with
// errors.Is; storage-level failures are wrapped, never returned raw.
var (
	// ErrDeviceNotFound indicates the requested device does not exist.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrDeviceExists indicates a device with the same UID is already registered.
	ErrDeviceExists = errors.New("device already registered")

	// ErrTemplateNotFound indicates the requested template does not exist.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrCredentialsNotFound indicates no credentials exist for the device.
	ErrCredentialsNotFound = errors.New("credentials not found")

	// ErrCodeNotFound indicates the registration code does not exist.
	ErrCodeNotFound = errors.New("registration code not found")

	// ErrCodeInactive indicates the registration code has been deactivated.
	ErrCodeInactive = errors.New("registration code inactive")

	// ErrCodeExpired indicates the registration code has passed its expiry.
	ErrCodeExpired = errors.New("registration code expired")

	// ErrCodeExhausted indicates the registration code has no uses left.
	ErrCodeExhausted = errors.New("registration code max uses reached")

	// ErrTypeMismatch indicates a device type does not match the type bound
	// to a code or template.
	ErrTypeMismatch = errors.New("device type mismatch")

	// ErrInvalidDeviceType indicates an unrecognised device type.
	ErrInvalidDeviceType = errors.New("invalid device type")

	// ErrInvalidAuthMethod indicates an unrecognised auth method.
	ErrInvalidAuthMethod = errors.New("invalid auth method")

	// ErrInvalidTransition indicates a disallowed status change.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrValidation indicates malformed registration input.
	ErrValidation = errors.New("validation failed")
)
