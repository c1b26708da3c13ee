package state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMachine(t *testing.T) {
	m := NewMachine()
	require.NotNil(t, m)

	state, err := m.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateInitializing, state)
}

func TestMachine_QRScanFlow(t *testing.T) {
	ctx := context.Background()
	m := NewMachine()

	// First QR -> AwaitingScan
	err := m.Fire(ctx, TriggerQRReceived)
	require.NoError(t, err)
	state, _ := m.State(ctx)
	assert.Equal(t, StateAwaitingScan, state)

	// Rotated QR codes re-enter AwaitingScan
	err = m.Fire(ctx, TriggerQRReceived)
	require.NoError(t, err)
	state, _ = m.State(ctx)
	assert.Equal(t, StateAwaitingScan, state)

	// Scan accepted -> Authenticated
	err = m.Fire(ctx, TriggerAuthenticated)
	require.NoError(t, err)
	state, _ = m.State(ctx)
	assert.Equal(t, StateAuthenticated, state)

	// Driver loaded -> Ready
	err = m.Fire(ctx, TriggerReady)
	require.NoError(t, err)
	assert.True(t, m.IsReady())
}

func TestMachine_RestoredSessionFlow(t *testing.T) {
	ctx := context.Background()
	m := NewMachine()

	// A stored session reconnects with no QR step and no separate
	// authenticated event.
	require.NoError(t, m.Fire(ctx, TriggerReady))
	assert.Equal(t, StateReady, m.MustState())
}

func TestMachine_ReadyStraightFromScan(t *testing.T) {
	ctx := context.Background()
	m := NewMachine()

	require.NoError(t, m.Fire(ctx, TriggerQRReceived))
	require.NoError(t, m.Fire(ctx, TriggerReady))
	assert.True(t, m.IsReady())
}

func TestMachine_AuthFailureFromAwaitingScan(t *testing.T) {
	ctx := context.Background()
	m := NewMachine()

	require.NoError(t, m.Fire(ctx, TriggerQRReceived))
	require.NoError(t, m.Fire(ctx, TriggerAuthFailure))
	assert.Equal(t, StateDisconnected, m.MustState())
}

func TestMachine_AuthFailureRejectedAfterReady(t *testing.T) {
	ctx := context.Background()
	m := NewMachine()

	require.NoError(t, m.Fire(ctx, TriggerAuthenticated))
	require.NoError(t, m.Fire(ctx, TriggerReady))

	// auth_failure racing ready loses: the machine refuses the transition.
	err := m.Fire(ctx, TriggerAuthFailure)
	require.Error(t, err)
	assert.Equal(t, StateReady, m.MustState())
}

func TestMachine_ReconnectFromDisconnected(t *testing.T) {
	ctx := context.Background()
	m := NewMachine()

	require.NoError(t, m.Fire(ctx, TriggerAuthenticated))
	require.NoError(t, m.Fire(ctx, TriggerReady))
	require.NoError(t, m.Fire(ctx, TriggerConnectionLost))
	assert.Equal(t, StateDisconnected, m.MustState())

	require.NoError(t, m.Fire(ctx, TriggerReconnect))
	assert.Equal(t, StateInitializing, m.MustState())
}

func TestMachine_OnTransition(t *testing.T) {
	ctx := context.Background()
	m := NewMachine()

	var got []Trigger
	m.OnTransition(func(_ context.Context, from, to State, trigger Trigger) {
		got = append(got, trigger)
	})

	require.NoError(t, m.Fire(ctx, TriggerQRReceived))
	require.NoError(t, m.Fire(ctx, TriggerAuthenticated))
	require.NoError(t, m.Fire(ctx, TriggerReady))

	assert.Equal(t, []Trigger{TriggerQRReceived, TriggerAuthenticated, TriggerReady}, got)
}

func TestMachine_CanFire(t *testing.T) {
	ctx := context.Background()
	m := NewMachine()

	ok, err := m.CanFire(ctx, TriggerConnectionLost)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = m.CanFire(ctx, TriggerReady)
	require.NoError(t, err)
	assert.True(t, ok)
}
