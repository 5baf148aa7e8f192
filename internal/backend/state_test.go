package backend

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// TestConnectionState_String tests the string representation of connection states
func TestConnectionState_String(t *testing.T) {
	tests := []struct {
		state    ConnectionState
		expected string
	}{
		{StateDisconnected, "Disconnected"},
		{StateConnecting, "Connecting"},
		{StateDiscovering, "Discovering"},
		{StateReady, "Ready"},
		{StateError, "Error"},
		{ConnectionState(999), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			got := tt.state.String()
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestStateManager_TransitionSequence(t *testing.T) {
	sm := NewStateManager(zap.NewNop())

	assert.Equal(t, StateDisconnected, sm.GetState())

	sm.TransitionTo(StateConnecting)
	assert.Equal(t, StateConnecting, sm.GetState())
	assert.True(t, sm.IsConnecting())

	sm.TransitionTo(StateDiscovering)
	assert.True(t, sm.IsConnecting())

	sm.TransitionTo(StateReady)
	assert.True(t, sm.IsReady())
	assert.False(t, sm.IsConnecting())
}

func TestStateManager_Callback(t *testing.T) {
	sm := NewStateManager(zap.NewNop())

	var callbackInvoked bool
	var oldState, newState ConnectionState

	sm.SetStateChangeCallback(func(old, new ConnectionState, info *ConnectionInfo) {
		callbackInvoked = true
		oldState = old
		newState = new
		assert.Equal(t, StateConnecting, info.State)
	})

	sm.TransitionTo(StateConnecting)

	assert.True(t, callbackInvoked, "Callback should be invoked")
	assert.Equal(t, StateDisconnected, oldState)
	assert.Equal(t, StateConnecting, newState)
}

func TestStateManager_ReadyClearsError(t *testing.T) {
	sm := NewStateManager(zap.NewNop())

	sm.TransitionTo(StateConnecting)
	sm.SetError(errors.New("spawn failed"))

	info := sm.GetConnectionInfo()
	assert.Equal(t, StateError, info.State)
	assert.EqualError(t, info.LastError, "spawn failed")
	assert.Equal(t, 1, info.RetryCount)
	assert.False(t, info.LastRetryTime.IsZero())

	sm.TransitionTo(StateConnecting)
	sm.TransitionTo(StateReady)

	info = sm.GetConnectionInfo()
	assert.Equal(t, StateReady, info.State)
	assert.NoError(t, info.LastError)
	assert.Equal(t, 0, info.RetryCount)
}

func TestStateManager_ReconnectCounter(t *testing.T) {
	sm := NewStateManager(zap.NewNop())

	assert.Equal(t, 0, sm.Reconnects())
	sm.RecordReconnect()
	sm.RecordReconnect()
	assert.Equal(t, 2, sm.Reconnects())

	// Reconnect count survives state churn, including Reset.
	sm.TransitionTo(StateConnecting)
	sm.Reset()
	assert.Equal(t, 2, sm.Reconnects())
}

func TestStateManager_ServerInfo(t *testing.T) {
	sm := NewStateManager(zap.NewNop())
	sm.SetServerInfo("Notion MCP", "1.8.2")
	sm.SetToolCount(21)

	info := sm.GetConnectionInfo()
	assert.Equal(t, "Notion MCP", info.ServerName)
	assert.Equal(t, "1.8.2", info.ServerVersion)
	assert.Equal(t, 21, info.ToolCount)
}

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    ConnectionState
		to      ConnectionState
		allowed bool
	}{
		{"disconnected to connecting", StateDisconnected, StateConnecting, true},
		{"connecting to ready", StateConnecting, StateReady, true},
		{"connecting to discovering", StateConnecting, StateDiscovering, true},
		{"discovering to ready", StateDiscovering, StateReady, true},
		{"ready to error", StateReady, StateError, true},
		{"error to connecting", StateError, StateConnecting, true},
		{"disconnected to ready", StateDisconnected, StateReady, false},
		{"ready to connecting", StateReady, StateConnecting, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
