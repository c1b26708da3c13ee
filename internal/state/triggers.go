package state

// Trigger represents a driver event that causes a state transition.
type Trigger string

const (
	TriggerQRReceived     Trigger = "qr_received"
	TriggerAuthenticated  Trigger = "authenticated"
	TriggerAuthFailure    Trigger = "auth_failure"
	TriggerReady          Trigger = "ready"
	TriggerConnectionLost Trigger = "connection_lost"
	TriggerReconnect      Trigger = "reconnect"
)

// String returns the string representation of the trigger.
func (t Trigger) String() string {
	return string(t)
}
