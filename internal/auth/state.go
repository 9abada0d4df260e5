package auth

// State is the manager's lifecycle phase. Transitions are driven by Init, Login,
// Logout, and the outcome of refresh episodes; see Manager for the rules.
type State int

const (
	// StateUninitialized: Init has not run yet.
	StateUninitialized State = iota
	// StateRestoring: Init is loading persisted credentials.
	StateRestoring
	// StateAnonymous: no usable credentials; only NoAuth calls make sense.
	StateAnonymous
	// StateAuthenticated: a token pair and user snapshot are loaded.
	StateAuthenticated
	// StateRefreshing: a refresh episode is in flight.
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateRestoring:
		return "restoring"
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	default:
		return "uninitialized"
	}
}
