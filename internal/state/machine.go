package state

import (
	"context"
	"sync"

	"github.com/qmuntal/stateless"
)

// TransitionCallback is called when a state transition occurs.
type TransitionCallback func(ctx context.Context, from, to State, trigger Trigger)

// Machine wraps the stateless state machine with session-lifecycle behavior.
// A fresh machine is created for every Initialize call, starting in
// Initializing.
type Machine struct {
	sm          *stateless.StateMachine
	callbacks   []TransitionCallback
	callbacksMu sync.RWMutex
}

// NewMachine creates a new state machine starting in Initializing state.
func NewMachine() *Machine {
	m := &Machine{
		callbacks: make([]TransitionCallback, 0),
	}

	sm := stateless.NewStateMachine(StateInitializing)

	// Restored sessions can report ready with no separate authenticated
	// event first.
	sm.Configure(StateInitializing).
		Permit(TriggerQRReceived, StateAwaitingScan).
		Permit(TriggerAuthenticated, StateAuthenticated).
		Permit(TriggerReady, StateReady).
		Permit(TriggerAuthFailure, StateDisconnected)

	// QR rotation fires repeated qr_received events while waiting for
	// the scan; they must not be transition errors. A scan can also jump
	// straight to ready when the provider skips the authenticated event.
	sm.Configure(StateAwaitingScan).
		PermitReentry(TriggerQRReceived).
		Permit(TriggerAuthenticated, StateAuthenticated).
		Permit(TriggerReady, StateReady).
		Permit(TriggerAuthFailure, StateDisconnected)

	sm.Configure(StateAuthenticated).
		Permit(TriggerReady, StateReady).
		Permit(TriggerAuthFailure, StateDisconnected)

	// Ready permits no auth_failure transition: once ready, the losing
	// side of an auth_failure/ready race is rejected by the machine.
	sm.Configure(StateReady).
		Permit(TriggerConnectionLost, StateDisconnected)

	sm.Configure(StateDisconnected).
		Permit(TriggerReconnect, StateInitializing)

	sm.OnTransitioned(func(ctx context.Context, t stateless.Transition) {
		m.callbacksMu.RLock()
		callbacks := make([]TransitionCallback, len(m.callbacks))
		copy(callbacks, m.callbacks)
		m.callbacksMu.RUnlock()

		from := t.Source.(State)
		to := t.Destination.(State)
		trigger := t.Trigger.(Trigger)

		for _, cb := range callbacks {
			cb(ctx, from, to, trigger)
		}
	})

	m.sm = sm
	return m
}

// State returns the current state.
func (m *Machine) State(ctx context.Context) (State, error) {
	state, err := m.sm.State(ctx)
	if err != nil {
		return "", err
	}
	return state.(State), nil
}

// Fire triggers a state transition.
func (m *Machine) Fire(ctx context.Context, trigger Trigger, args ...any) error {
	return m.sm.FireCtx(ctx, trigger, args...)
}

// CanFire returns true if the trigger can be fired from the current state.
func (m *Machine) CanFire(ctx context.Context, trigger Trigger, args ...any) (bool, error) {
	return m.sm.CanFireCtx(ctx, trigger, args...)
}

// OnTransition registers a callback to be called on state transitions.
func (m *Machine) OnTransition(cb TransitionCallback) {
	m.callbacksMu.Lock()
	defer m.callbacksMu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// MustState returns the current state, panicking on error.
func (m *Machine) MustState() State {
	state, err := m.State(context.Background())
	if err != nil {
		panic(err)
	}
	return state
}

// IsReady returns true if the session reached Ready.
func (m *Machine) IsReady() bool {
	return m.MustState() == StateReady
}
