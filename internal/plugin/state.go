package plugin

// State is the lifecycle state of a plugin.
type State int

// Plugin states.
const (
	// StateLoading - Plugin is registering its functions.
	StateLoading State = iota

	// StateActive - Plugin is invoked and its results are trusted.
	StateActive

	// StateDegraded - Plugin is invoked but its results are flagged low confidence.
	StateDegraded

	// StateDisabled - Plugin is skipped until re-enabled or its cool-down elapses.
	StateDisabled
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateActive:
		return "active"
	case StateDegraded:
		return "degraded"
	case StateDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Invocable reports whether dispatch calls plugins in this state.
func (s State) Invocable() bool {
	return s == StateActive || s == StateDegraded
}
