package domain

import (
	"errors"
	"fmt"
)

// SessionState is the tagged state of the visitor's session.
type SessionState string

const (
	StateGuest          SessionState = "guest"
	StateAuthenticating SessionState = "authenticating"
	StateAuthenticated  SessionState = "authenticated"
	// StateRefreshFailed behaves as Guest downstream but remembers that a
	// stored refresh capability was rejected.
	StateRefreshFailed SessionState = "refresh_failed"
)

// ErrInvalidTransition is returned for a state change outside the lifecycle.
var ErrInvalidTransition = errors.New("invalid session state transition")

var transitions = map[SessionState][]SessionState{
	StateGuest:          {StateAuthenticating, StateAuthenticated},
	StateAuthenticating: {StateAuthenticated, StateRefreshFailed},
	StateAuthenticated:  {StateGuest, StateRefreshFailed},
	StateRefreshFailed:  {StateAuthenticating, StateAuthenticated},
}

// CanTransition reports whether from -> to is an allowed lifecycle step.
func CanTransition(from, to SessionState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsGuestLike reports whether the state reads and writes wishlist data locally.
func (s SessionState) IsGuestLike() bool {
	return s == StateGuest || s == StateRefreshFailed
}

// Session is a point-in-time view of the visitor's session. Credential is
// non-nil exactly when State is StateAuthenticated.
type Session struct {
	State      SessionState `json:"state"`
	Credential *Credential  `json:"-"`
}

// NewGuestSession returns the initial session.
func NewGuestSession() Session {
	return Session{State: StateGuest}
}

// Transition returns the session moved to state to. cred must be non-nil
// when moving to StateAuthenticated and is dropped otherwise.
func (s Session) Transition(to SessionState, cred *Credential) (Session, error) {
	if !CanTransition(s.State, to) {
		return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, to)
	}
	if to != StateAuthenticated {
		return Session{State: to}, nil
	}
	if cred == nil {
		return s, fmt.Errorf("%w: %s without credential", ErrInvalidTransition, to)
	}
	return Session{State: to, Credential: cred}, nil
}

// Authenticated reports whether the session carries a credential.
func (s Session) Authenticated() bool {
	return s.State == StateAuthenticated && s.Credential != nil
}
