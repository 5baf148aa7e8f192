package backend

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ConnectionState represents the state of a backend connection
type ConnectionState int

const (
	// StateDisconnected indicates the backend is not connected
	StateDisconnected ConnectionState = iota
	// StateConnecting indicates the backend is establishing its transport
	StateConnecting
	// StateDiscovering indicates the backend is listing available tools
	StateDiscovering
	// StateReady indicates the backend is connected and ready for requests
	StateReady
	// StateError indicates the backend encountered an error
	StateError
)

// String returns the string representation of the connection state
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateDiscovering:
		return "Discovering"
	case StateReady:
		return "Ready"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// ConnectionInfo holds information about the current connection state
type ConnectionInfo struct {
	State         ConnectionState `json:"state"`
	LastError     error           `json:"last_error,omitempty"`
	RetryCount    int             `json:"retry_count"`
	LastRetryTime time.Time       `json:"last_retry_time,omitempty"`
	ServerName    string          `json:"server_name,omitempty"`
	ServerVersion string          `json:"server_version,omitempty"`
	Reconnects    int             `json:"reconnects"`
	ToolCount     int             `json:"tool_count"`
}

// StateManager manages the state transitions for a backend connection.
// Callbacks are always invoked outside the lock.
type StateManager struct {
	mu            sync.RWMutex
	currentState  ConnectionState
	lastError     error
	retryCount    int
	lastRetryTime time.Time
	serverName    string
	serverVersion string
	reconnects    int
	toolCount     int

	logger *zap.Logger

	onStateChange func(oldState, newState ConnectionState, info *ConnectionInfo)
}

// NewStateManager creates a new state manager. Invalid transitions are logged
// to the given logger; stdout is never written to because it carries the
// JSON-RPC stream.
func NewStateManager(logger *zap.Logger) *StateManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateManager{
		currentState: StateDisconnected,
		logger:       logger,
	}
}

// SetStateChangeCallback sets a callback function that will be called on state changes
func (sm *StateManager) SetStateChangeCallback(callback func(oldState, newState ConnectionState, info *ConnectionInfo)) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.onStateChange = callback
}

// GetState returns the current connection state
func (sm *StateManager) GetState() ConnectionState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.currentState
}

// GetConnectionInfo returns detailed connection information
func (sm *StateManager) GetConnectionInfo() ConnectionInfo {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.infoLocked()
}

func (sm *StateManager) infoLocked() ConnectionInfo {
	return ConnectionInfo{
		State:         sm.currentState,
		LastError:     sm.lastError,
		RetryCount:    sm.retryCount,
		LastRetryTime: sm.lastRetryTime,
		ServerName:    sm.serverName,
		ServerVersion: sm.serverVersion,
		Reconnects:    sm.reconnects,
		ToolCount:     sm.toolCount,
	}
}

// TransitionTo transitions to a new state
func (sm *StateManager) TransitionTo(newState ConnectionState) {
	sm.mu.Lock()
	oldState := sm.currentState

	if err := ValidateTransition(oldState, newState); err != nil {
		// Permissive: record the anomaly but perform the transition.
		sm.logger.Warn("Invalid state transition",
			zap.String("from", oldState.String()),
			zap.String("to", newState.String()),
			zap.Error(err))
	}

	sm.currentState = newState

	// Clear error bookkeeping on successful transitions
	if newState == StateReady {
		sm.lastError = nil
		sm.retryCount = 0
	}

	info := sm.infoLocked()
	callback := sm.onStateChange
	sm.mu.Unlock()

	if callback != nil {
		callback(oldState, newState, &info)
	}
}

// SetError sets an error and transitions to the error state
func (sm *StateManager) SetError(err error) {
	sm.mu.Lock()

	oldState := sm.currentState
	sm.currentState = StateError
	sm.lastError = err
	sm.retryCount++
	sm.lastRetryTime = time.Now()

	info := sm.infoLocked()
	callback := sm.onStateChange
	sm.mu.Unlock()

	if callback != nil {
		callback(oldState, StateError, &info)
	}
}

// SetServerInfo sets the server name and version reported by the backend
func (sm *StateManager) SetServerInfo(name, version string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.serverName = name
	sm.serverVersion = version
}

// SetToolCount records how many tools the backend discovered
func (sm *StateManager) SetToolCount(n int) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.toolCount = n
}

// RecordReconnect increments the reconnect counter
func (sm *StateManager) RecordReconnect() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.reconnects++
}

// Reconnects returns how many transport rebuilds have happened
func (sm *StateManager) Reconnects() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.reconnects
}

// IsState checks if the current state matches the given state
func (sm *StateManager) IsState(state ConnectionState) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.currentState == state
}

// IsReady returns true if the connection is ready for requests
func (sm *StateManager) IsReady() bool {
	return sm.IsState(StateReady)
}

// IsConnecting returns true if the connection is in progress
func (sm *StateManager) IsConnecting() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.currentState == StateConnecting || sm.currentState == StateDiscovering
}

// Reset resets the state manager to the disconnected state
func (sm *StateManager) Reset() {
	sm.mu.Lock()

	oldState := sm.currentState
	sm.currentState = StateDisconnected
	sm.lastError = nil
	sm.retryCount = 0
	sm.lastRetryTime = time.Time{}
	sm.serverName = ""
	sm.serverVersion = ""
	sm.toolCount = 0

	info := sm.infoLocked()
	callback := sm.onStateChange
	sm.mu.Unlock()

	if callback != nil {
		callback(oldState, StateDisconnected, &info)
	}
}

// ValidateTransition validates if a state transition is allowed
func ValidateTransition(from, to ConnectionState) error {
	validTransitions := map[ConnectionState][]ConnectionState{
		StateDisconnected: {StateConnecting},
		StateConnecting:   {StateDiscovering, StateReady, StateError, StateDisconnected},
		StateDiscovering:  {StateReady, StateError, StateDisconnected},
		StateReady:        {StateError, StateDisconnected},
		StateError:        {StateConnecting, StateDisconnected},
	}

	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("invalid source state: %s", from)
	}

	for _, validTo := range allowed {
		if validTo == to {
			return nil
		}
	}

	return fmt.Errorf("invalid transition from %s to %s", from, to)
}
