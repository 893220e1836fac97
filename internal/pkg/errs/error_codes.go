/*
Package errs provides the application error type and its numeric business codes.

Codes travel to clients unchanged, both in HTTP JSON responses and in WebSocket error
envelopes, so existing values must never be renumbered.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body JSON format is incorrect.
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrRequestEntityTooLarge indicates that the request body size exceeded the server limit.
	ErrRequestEntityTooLarge = 1006

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007
)

// 2xxx: Room Errors
const (
	// ErrVariantInvalid indicates an unknown room variant in the route.
	ErrVariantInvalid = 2101

	// ErrRoomKeyInvalid indicates a malformed room key.
	ErrRoomKeyInvalid = 2102

	// ErrRoomIsFull indicates the room reached its connection cap.
	ErrRoomIsFull = 2104

	// ErrRoomClosed indicates the room actor stopped while the request was in flight.
	ErrRoomClosed = 2105
)

// 3xxx: Identity and Session Errors
const (
	// ErrUserNotFound indicates a heartbeat or action for a user that is not in the room.
	// Clients react by joining again.
	ErrUserNotFound = 3001

	// ErrNotBound indicates a state message on a connection that has not sent a heartbeat yet.
	ErrNotBound = 3002

	// ErrSessionReplaced indicates the user was replaced by a newer tab of the same session.
	ErrSessionReplaced = 3004

	// ErrUnauthorized indicates an invalid room token.
	ErrUnauthorized = 3005
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrJournalUnavailable indicates the presence journal is not configured or not reachable.
	ErrJournalUnavailable = 5003
)
