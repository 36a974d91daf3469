package mqtt

import "errors"

// Sentinel errors; match with errors.Is.
var (
	// ErrNotConnected means the broker link is down. The bridge treats it
	// as transient and keeps publishing state once paho reconnects.
	ErrNotConnected = errors.New("mqtt: client not connected")

	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed wraps a failed or timed out publish token.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidQoS rejects levels outside 0-2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level")

	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")
)
