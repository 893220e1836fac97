package errs

import "net/http"

// errorMap holds the template for every application error code.
// A zero Status means the error is reported with HTTP 200 and a non-zero business code.
var errorMap = map[int]CustomError{
	// 1xxx
	ErrInvalidParams:         {Code: ErrInvalidParams, Message: "Invalid request parameters.", Status: http.StatusBadRequest},
	ErrUnsupportedMediaType:  {Code: ErrUnsupportedMediaType, Message: "Unsupported request format.", Status: http.StatusUnsupportedMediaType},
	ErrInvalidJSONFormat:     {Code: ErrInvalidJSONFormat, Message: "Unsupported request format.", Status: http.StatusBadRequest},
	ErrExtraContentInBody:    {Code: ErrExtraContentInBody, Message: "Request contains unexpected data.", Status: http.StatusBadRequest},
	ErrRequestEntityTooLarge: {Code: ErrRequestEntityTooLarge, Message: "Request size is too large.", Status: http.StatusRequestEntityTooLarge},
	ErrRateLimitExceeded:     {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},

	// 2xxx
	ErrVariantInvalid: {Code: ErrVariantInvalid, Message: "Unknown room type.", Status: http.StatusNotFound},
	ErrRoomKeyInvalid: {Code: ErrRoomKeyInvalid, Message: "Invalid room key.", Status: http.StatusBadRequest},
	ErrRoomIsFull:     {Code: ErrRoomIsFull, Message: "This room is full (%d connections)."},
	ErrRoomClosed:     {Code: ErrRoomClosed, Message: "Room is restarting. Please try again.", Status: http.StatusServiceUnavailable},

	// 3xxx
	ErrUserNotFound:    {Code: ErrUserNotFound, Message: "You are not in this room. Please join again."},
	ErrNotBound:        {Code: ErrNotBound, Message: "Send a heartbeat before updating state."},
	ErrSessionReplaced: {Code: ErrSessionReplaced, Message: "This session was opened in another tab."},
	ErrUnauthorized:    {Code: ErrUnauthorized, Message: "Room token is invalid or expired.", Status: http.StatusUnauthorized},

	// 5xxx
	ErrUnknown:            {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
	ErrJournalUnavailable: {Code: ErrJournalUnavailable, Message: "Room history is not available.", Status: http.StatusServiceUnavailable},
}
