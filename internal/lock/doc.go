// Package lock reconciles the state of one physical smart lock with a locally
// cached snapshot.
//
// The bridge hardware is slow and occasionally unreachable, so the Reconciler
// keeps the last trusted view of a lock and only goes back to the bridge when
// that view is stale or known to be unavailable.
//
// # Availability model
//
// A lock is available while the last status code reported by the device is
// outside the configured error set (by default 0, 254 and 255). Once a lock
// becomes unavailable its Name, Locked and BatteryCritical fields are kept
// as they were at the last successful refresh and must not be trusted.
//
// # Retry budget
//
// A refresh performs up to Policy.RefreshAttempts rounds of two sub-requests:
// the bridge's cached lock list first, then a direct lock state query. Lock and
// Unlock retry the blocking command up to Policy.CommandAttempts times and
// force a full refresh if the command never reports success.
//
// # Thread Safety
//
// A Reconciler is not safe for concurrent use. The caller serialises calls per
// lock; the bridge client serialises requests across locks.
package lock
