package service

import "errors"

// Lifecycle command failure kinds. Handlers match these with errors.Is to
// pick status codes; detail text is carried by wrapping.
var (
	// ErrValidation covers missing or malformed command input, rejected
	// before any state is touched.
	ErrValidation = errors.New("invalid input")

	// ErrSessionNotFound means no session exists for the given keys.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionTerminal means the command targeted a stopped or expired
	// session. Terminal states are absorbing.
	ErrSessionTerminal = errors.New("session already stopped or expired")

	// ErrSessionExpired is reported when lazy expiry fires: the session
	// crossed its expiry horizon and was transitioned to expired instead of
	// performing the requested command.
	ErrSessionExpired = errors.New("session expired")

	// ErrNotActive means pause was attempted against a session that is not
	// currently active or charging.
	ErrNotActive = errors.New("session is not active")

	// ErrAlreadyActive means resume was attempted against an active session;
	// no resume is needed.
	ErrAlreadyActive = errors.New("session already active")

	// ErrInvalidToken means the supplied resume secret is invalid, revoked,
	// or expired. Which check failed is deliberately not revealed.
	ErrInvalidToken = errors.New("resume token invalid or revoked")

	// ErrConflict means a concurrent command won the race: the conditional
	// store update matched zero rows. The losing command is rejected, never
	// retried blindly.
	ErrConflict = errors.New("session was modified concurrently")
)
