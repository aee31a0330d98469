// Package server implements the core chat service for RelayChat: the TLS
// listener, the WebSocket gateway, per-connection protocol handlers, the room
// registry with plain and AI-augmented rooms, and the credential/session
// store.
//
// The implementation is organized into specialized files for configuration,
// rooms, authentication, connection handling, and transports to keep the
// codebase maintainable and testable as the project grows.
package server
