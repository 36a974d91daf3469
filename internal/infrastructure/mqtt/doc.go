// Package mqtt provides MQTT client connectivity for the Nuki bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored on reconnect
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
// MQTT is the bus between Gray Logic Core and its protocol bridges. This
// service is one such bridge: it receives lock commands and service calls,
// and publishes retained lock state, acks and health.
//
//	Gray Logic Core ↔ MQTT Broker ↔ Nuki bridge service ↔ Nuki bridge (HTTP)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, &mqtt.Will{Topic: topic, Payload: lwt})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
package mqtt
