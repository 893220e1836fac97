/*
Package req binds and validates HTTP request bodies.

Bodies are decoded strictly (unknown fields and trailing data are rejected) and then checked
against their `validate` struct tags with go-playground/validator.
*/
package req

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"roomsync/internal/pkg/errs"
)

// MaxBodyBytes caps JSON request bodies. Join and leave payloads are tiny.
const MaxBodyBytes int64 = 16 << 10

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validator exposes the shared validator instance so WebSocket payloads are checked
// against the same rules as HTTP bodies.
func Validator() *validator.Validate {
	return validate
}

// BindJSON decodes the JSON request body into dst and validates it.
// An empty body is accepted when every field of dst is optional.
func BindJSON(w http.ResponseWriter, r *http.Request, dst any) *errs.CustomError {
	contentType := r.Header.Get("Content-Type")
	if r.ContentLength != 0 && !strings.HasPrefix(contentType, "application/json") {
		return errs.NewError(errs.ErrUnsupportedMediaType)
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return errs.NewError(errs.ErrRequestEntityTooLarge)
		case errors.Is(err, io.EOF):
			// empty body
		default:
			return errs.NewError(errs.ErrInvalidJSONFormat)
		}
	}

	if decoder.More() {
		return errs.NewError(errs.ErrExtraContentInBody)
	}

	if err := validate.Struct(dst); err != nil {
		return errs.NewError(errs.ErrInvalidParams)
	}

	return nil
}
