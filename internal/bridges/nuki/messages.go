package nuki

import (
	"time"

	"github.com/nerrad567/gray-logic-nuki/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-nuki/internal/lock"
)

// Protocol is the protocol segment of every Nuki bridge topic.
const Protocol = "nuki"

// CommandMessage is sent from Core to the bridge to operate a lock.
// Topic: graylogic/command/nuki/{entity_id}
type CommandMessage struct {
	// ID correlates the command with its acknowledgements.
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp"`

	// EntityID is taken from the topic when empty.
	EntityID string `json:"entity_id,omitempty"`

	// Command is one of lock, unlock, open, lock_n_go.
	Command string `json:"command"`

	// Parameters holds command options, e.g. {"unlatch": true} for lock_n_go.
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated ("api", "automation", ...).
	Source string `json:"source"`

	UserID string `json:"user_id,omitempty"`
}

// ServiceCallMessage is sent from Core to invoke a bridge service.
// Topic: graylogic/service/nuki/{service}
type ServiceCallMessage struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
	Source    string         `json:"source"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was received and is being executed.
	AckAccepted AckStatus = "accepted"

	// AckCompleted indicates the lock confirmed the command.
	AckCompleted AckStatus = "completed"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"

	// AckTimeout indicates the command ran out of time.
	AckTimeout AckStatus = "timeout"
)

// AckMessage is sent from the bridge to Core to acknowledge a command.
// Topic: graylogic/ack/nuki/{entity_id}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	EntityID  string    `json:"entity_id"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeTimeout           = "TIMEOUT"
)

// StateMessage is sent from the bridge to Core when a lock's state changes.
// Topic: graylogic/state/nuki/{entity_id}
// QoS: 1, Retained: Yes
type StateMessage struct {
	EntityID  string         `json:"entity_id"`
	Timestamp time.Time      `json:"timestamp"`
	State     map[string]any `json:"state"`
	Protocol  string         `json:"protocol"`

	// LastRefresh is when the bridge last confirmed the state.
	LastRefresh *time.Time `json:"last_refresh,omitempty"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"

	// HealthOffline is only ever sent by the broker as the Last Will.
	HealthOffline HealthStatus = "offline"

	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports the bridge's operational status.
// Topic: graylogic/health/nuki
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge         string            `json:"bridge"`
	Timestamp      time.Time         `json:"timestamp"`
	Status         HealthStatus      `json:"status"`
	Version        string            `json:"version,omitempty"`
	UptimeSeconds  int64             `json:"uptime_seconds"`
	Connection     *ConnectionStatus `json:"connection,omitempty"`
	Statistics     *BridgeStatistics `json:"statistics,omitempty"`
	LocksManaged   int               `json:"locks_managed"`
	LocksAvailable int               `json:"locks_available"`
	Reason         string            `json:"reason,omitempty"`
}

// ConnectionStatus describes the link to the Nuki bridge.
type ConnectionStatus struct {
	// Status is "connected" or "disconnected".
	Status      string     `json:"status"`
	Address     string     `json:"address"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
}

// BridgeStatistics contains request counters.
type BridgeStatistics struct {
	Requests uint64 `json:"requests"`
	Errors   uint64 `json:"errors"`
}

// NewAckMessage creates an acknowledgment message for a command.
func NewAckMessage(cmd CommandMessage, status AckStatus) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		EntityID:  cmd.EntityID,
		Status:    status,
		Protocol:  Protocol,
	}
}

// NewAckError creates an acknowledgment with error details.
func NewAckError(cmd CommandMessage, code, message string) AckMessage {
	status := AckFailed
	if code == ErrCodeTimeout {
		status = AckTimeout
	}
	ack := NewAckMessage(cmd, status)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewStateMessage creates a state message from a lock snapshot.
func NewStateMessage(entityID string, s lock.Snapshot) StateMessage {
	msg := StateMessage{
		EntityID:  entityID,
		Timestamp: time.Now().UTC(),
		State:     snapshotAttributes(s),
		Protocol:  Protocol,
	}
	if !s.LastRefresh.IsZero() {
		t := s.LastRefresh.UTC()
		msg.LastRefresh = &t
	}
	return msg
}

// NewHealthMessage creates a health status message.
func NewHealthMessage(bridgeID, version string, status HealthStatus, stats ClientStats, address string, total, available int, startTime time.Time) HealthMessage {
	msg := HealthMessage{
		Bridge:         bridgeID,
		Timestamp:      time.Now().UTC(),
		Status:         status,
		Version:        version,
		UptimeSeconds:  int64(time.Since(startTime).Seconds()),
		LocksManaged:   total,
		LocksAvailable: available,
		Connection: &ConnectionStatus{
			Status:  "disconnected",
			Address: address,
		},
		Statistics: &BridgeStatistics{
			Requests: stats.Requests,
			Errors:   stats.Errors,
		},
	}

	if stats.Reachable {
		msg.Connection.Status = "connected"
	}
	if !stats.LastSuccess.IsZero() {
		t := stats.LastSuccess
		msg.Connection.LastSuccess = &t
	}

	return msg
}

// NewLWTMessage creates the Last Will and Testament message for MQTT.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// Topic helpers

// CommandTopic returns the command topic for an entity.
// Example: graylogic/command/nuki/lock.front_door
func CommandTopic(entityID string) string {
	return mqtt.Topics{}.BridgeCommand(Protocol, entityID)
}

// AckTopic returns the acknowledgement topic for an entity or service.
func AckTopic(address string) string {
	return mqtt.Topics{}.BridgeAck(Protocol, address)
}

// StateTopic returns the retained state topic for an entity.
func StateTopic(entityID string) string {
	return mqtt.Topics{}.BridgeState(Protocol, entityID)
}

// ServiceTopic returns the topic for a service call.
// Example: graylogic/service/nuki/lock_n_go
func ServiceTopic(service string) string {
	return mqtt.Topics{}.BridgeService(Protocol, service)
}

// HealthTopic returns the bridge health topic.
func HealthTopic() string {
	return mqtt.Topics{}.BridgeHealth(Protocol)
}

// CommandSubscribeTopic matches commands for every entity.
func CommandSubscribeTopic() string {
	return mqtt.Topics{}.BridgeCommandSubscribe(Protocol)
}

// ServiceSubscribeTopic matches every service call.
func ServiceSubscribeTopic() string {
	return mqtt.Topics{}.BridgeServiceSubscribe(Protocol)
}
