// Package api implements the HTTP REST API and WebSocket server for the
// Nuki lock bridge.
//
// Routes under /api/v1:
//
//	GET  /health                      liveness, unauthenticated
//	GET  /ready                       component checks, unauthenticated
//	GET  /ws                          WebSocket, ticket auth
//	POST /auth/ws-ticket              single-use WebSocket ticket
//	GET  /system/metrics              runtime and bridge statistics
//	GET  /locks                       cached state of every lock
//	GET  /locks/{id}                  cached state of one lock
//	POST /locks/{id}/lock|unlock      lock commands
//	POST /locks/{id}/lock_n_go        lock'n'go, body {"unlatch": bool}
//	POST /locks/{id}/open             unlatch the door
//	GET  /services                    registered nuki services
//	POST /services/{domain}/{service} service call, JSON body is the data
//	GET  /events                      lock event log
//
// Prometheus collectors are served on /metrics outside the API prefix.
//
// # Security
//
// Requests carry an HS256 bearer token whose role claim is checked against
// the permission each route requires (see package auth). With no JWT secret
// configured, authentication is disabled and every request is allowed.
// Browsers cannot set headers on a WebSocket upgrade, so /ws takes a ticket
// from POST /auth/ws-ticket instead.
//
// State changes reported by the bridge are pushed to WebSocket clients
// subscribed to the "lock.state_changed" channel.
package api
