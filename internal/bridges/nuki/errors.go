package nuki

import "errors"

// Domain errors for the Nuki bridge package.
var (
	// ErrUnauthorized is returned when the bridge rejects the API token.
	ErrUnauthorized = errors.New("nuki: unauthorized (check token)")

	// ErrBridgeError is returned when the bridge answers with a non-2xx status.
	ErrBridgeError = errors.New("nuki: bridge returned an error")

	// ErrTimeout is returned when a bridge request exceeds its timeout.
	ErrTimeout = errors.New("nuki: request timed out")

	// ErrQueueClosed is returned when a request is made after Close.
	ErrQueueClosed = errors.New("nuki: request queue closed")

	// ErrLockNotFound is returned when a lock is missing from the bridge's list.
	ErrLockNotFound = errors.New("nuki: lock not found on bridge")

	// ErrDecodeFailed is returned when a bridge response cannot be decoded.
	ErrDecodeFailed = errors.New("nuki: decoding response failed")

	// ErrActionFailed is returned when the bridge accepted a lock action but
	// reported it unsuccessful.
	ErrActionFailed = errors.New("nuki: lock action failed")

	// ErrInvalidServiceData is returned when service call data fails its schema.
	ErrInvalidServiceData = errors.New("nuki: invalid service data")

	// ErrUnknownService is returned for a service that is not registered.
	ErrUnknownService = errors.New("nuki: unknown service")

	// ErrEntityNotFound is returned when an entity id matches no lock.
	ErrEntityNotFound = errors.New("nuki: entity not found")

	// ErrUnknownCommand is returned for an unsupported lock command.
	ErrUnknownCommand = errors.New("nuki: unknown command")

	// ErrCommandFailed is returned when lock or unlock ended unavailable.
	ErrCommandFailed = errors.New("nuki: command did not complete")
)
