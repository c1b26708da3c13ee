// Package state provides the finite state machine for a WhatsApp account
// session lifecycle.
package state

// State represents a point in the per-account session lifecycle.
type State string

const (
	// StateInitializing is the starting state: the driver is being built
	// and has not yet produced a QR code or restored a session.
	StateInitializing State = "initializing"

	// StateAwaitingScan means a QR code was issued and the operator has
	// not scanned it yet.
	StateAwaitingScan State = "awaiting_scan"

	// StateAuthenticated means credentials were accepted; the driver is
	// still loading before it can serve traffic.
	StateAuthenticated State = "authenticated"

	// StateReady is the sole terminal-success state of an initialization.
	StateReady State = "ready"

	// StateDisconnected is reached on authentication failure or after the
	// driver loses its connection.
	StateDisconnected State = "disconnected"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsOperational returns true if the session can serve traffic.
func (s State) IsOperational() bool {
	return s == StateReady
}
