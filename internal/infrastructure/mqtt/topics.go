package mqtt

import "fmt"

// Topic prefixes. Bridge topics use the flat scheme
// graylogic/{category}/{protocol}/{address}.
const (
	// TopicPrefixBridge is the base for all bridge topics.
	TopicPrefixBridge = "graylogic"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "graylogic/system"
)

// Topics provides builders for Gray Logic MQTT topics.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.BridgeState("nuki", "lock.front_door")
//	// Returns: "graylogic/state/nuki/lock.front_door"
type Topics struct{}

// BridgeState returns the topic for entity state updates from a bridge.
func (Topics) BridgeState(protocol, address string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefixBridge, protocol, address)
}

// BridgeCommand returns the topic for commands to a bridge entity.
func (Topics) BridgeCommand(protocol, address string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefixBridge, protocol, address)
}

// BridgeAck returns the topic for command acknowledgements from a bridge.
func (Topics) BridgeAck(protocol, address string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefixBridge, protocol, address)
}

// BridgeService returns the topic for a named service call on a bridge.
//
// Example: graylogic/service/nuki/lock_n_go
func (Topics) BridgeService(protocol, service string) string {
	return fmt.Sprintf("%s/service/%s/%s", TopicPrefixBridge, protocol, service)
}

// BridgeHealth returns the topic for bridge health status.
func (Topics) BridgeHealth(protocol string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefixBridge, protocol)
}

// BridgeCommandSubscribe returns a pattern matching every command for one protocol.
//
// Pattern: graylogic/command/nuki/+
func (Topics) BridgeCommandSubscribe(protocol string) string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefixBridge, protocol)
}

// BridgeServiceSubscribe returns a pattern matching every service call for one protocol.
//
// Pattern: graylogic/service/nuki/+
func (Topics) BridgeServiceSubscribe(protocol string) string {
	return fmt.Sprintf("%s/service/%s/+", TopicPrefixBridge, protocol)
}

// SystemStatus returns the system status topic.
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}
