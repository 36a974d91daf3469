// Package auth validates the bearer tokens that guard the bridge's HTTP API.
//
// Tokens are HS256 JWTs signed with security.jwt.secret and carry a role:
//
//	viewer    read lock state and health
//	operator  viewer plus lock, unlock and lock'n'go
//	admin     operator plus unlatching doors and reading the event log
//
// Unlatching physically opens a door, so it is kept out of the operator
// role. Permissions are a static role mapping with no database lookup.
package auth
