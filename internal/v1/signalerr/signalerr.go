// Package signalerr defines the typed error taxonomy described in spec §7.
// Aggregates and services return these sentinels (wrapped with context via
// fmt.Errorf("%w", ...) where useful); the gateway is the only layer that
// translates them into wire-level codes or messages. No stack traces ever
// cross that boundary.
package signalerr

import "errors"

// Validation errors: the caller supplied bad data.
var (
	ErrInvalidRoomRules     = errors.New("invalid room rules")
	ErrMissingHandshakeFields = errors.New("missing handshake fields")
	ErrUnknownRoom          = errors.New("unknown room")
	ErrUnknownPeer          = errors.New("unknown peer")
	ErrNotRoomOwner         = errors.New("not room owner")
)

// State errors: the aggregate refused the transition.
var (
	ErrRoomInactive  = errors.New("room inactive")
	ErrRoomFull      = errors.New("room full")
	ErrAlreadyJoined = errors.New("already joined")
	ErrNotAMember    = errors.New("not a member")
	ErrAlreadyClosed = errors.New("already closed")
)

// Admission errors: surfaced to the triggering socket.
var (
	ErrMaxConnections     = errors.New("max connections reached for room")
	ErrPeerNotFound       = errors.New("peer not found")
	ErrFallbackNotEnabled = errors.New("fallback relay not enabled")
)

// Code returns the stable wire code for errors that have one (spec §6.1's
// `error {code, message}` frame), or "" for errors that only carry a
// free-form message.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrMaxConnections):
		return "ERR_MAX_CONNECTIONS"
	case errors.Is(err, ErrPeerNotFound):
		return "ERR_PEER_NOT_FOUND"
	case errors.Is(err, ErrFallbackNotEnabled):
		return "ERR_FALLBACK_NOT_ENABLED"
	default:
		return ""
	}
}
