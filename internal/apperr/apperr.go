// Package apperr defines the expected, recoverable error conditions of the
// service. Callers branch on these with errors.Is; anything not listed here
// is an internal fault and is logged rather than surfaced in detail.
package apperr

import "errors"

var (
	// ErrNotAuthorized means the phone is neither a known user nor on any
	// room whitelist, so it may not request a verification code.
	ErrNotAuthorized = errors.New("phone not authorized")

	// ErrRateLimited means too many code requests inside the sliding window.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrLockedOut means the phone or origin address is inside an active
	// lockout window after repeated failed verifications.
	ErrLockedOut = errors.New("subject locked out")

	// ErrNoChallenge means no code was ever issued for the phone.
	ErrNoChallenge = errors.New("no pending challenge")

	// ErrExpired means the newest challenge's TTL has elapsed.
	ErrExpired = errors.New("challenge expired")

	// ErrInvalidCode means the supplied code does not match the challenge.
	ErrInvalidCode = errors.New("invalid code")

	ErrRoomNotFound   = errors.New("room not found")
	ErrRoomFull       = errors.New("room full")
	ErrNotWhitelisted = errors.New("phone not whitelisted for room")

	// ErrAlreadyJoined means the phone already holds a live connection in
	// the room; one connection per phone per room.
	ErrAlreadyJoined = errors.New("phone already joined to room")

	// ErrInvalidArgument covers bad administrative input, e.g. a capacity
	// below the two-participant minimum.
	ErrInvalidArgument = errors.New("invalid argument")
)
