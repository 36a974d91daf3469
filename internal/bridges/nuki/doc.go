// Package nuki implements the Nuki smart lock bridge for Gray Logic.
//
// It talks to a Nuki bridge over its local HTTP API and exposes every paired
// lock to Core over MQTT. Each lock is owned by a lock.Reconciler, which
// decides when the bridge has to be asked again and retries refreshes and
// lock commands.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐   HTTP    ┌─────────────┐
//	│   Gray Logic    │   MQTT   │   Nuki Bridge   │◄─────────►│ Nuki bridge │◄──► locks
//	│      Core       │◄────────►│   (this pkg)    │  strict   │  (device)   │
//	└─────────────────┘          └─────────────────┘  queue    └─────────────┘
//
// # Topics
//
//	graylogic/command/nuki/{entity_id}   lock | unlock | open | lock_n_go
//	graylogic/service/nuki/{service}     lock_n_go {"entity_id": ..., "unlatch": bool}
//	graylogic/state/nuki/{entity_id}     retained lock state
//	graylogic/ack/nuki/{entity_id}       command acknowledgements
//	graylogic/health/nuki                retained health, LWT "offline"
//
// Entity ids are lock.<slug of the lock name>, e.g. "Front Door" becomes
// lock.front_door.
//
// # Strict queuing
//
// The bridge firmware handles concurrent requests poorly. With
// ClientConfig.StrictQueue set, every request goes through a single worker
// and runs to completion before the next one starts.
//
// # Thread Safety
//
// All exported types are safe for concurrent use. Polls and commands on the
// same lock are serialised.
package nuki
