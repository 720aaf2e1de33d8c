// Package server implements the HTTP surface of the relay: configuration,
// the chi router with its WebSocket, health, and presence endpoints, origin
// checks, and server lifecycle.
//
// Channel fan-out and presence live in package relay; this package only
// upgrades connections and hands them over.
package server
