package jwt

import "github.com/golang-jwt/jwt"

// Payload is the claim set of a room token. A token pins a user id to one room of one
// variant; presenting it on a later join keeps the same identity across page reloads.
type Payload struct {
	jwt.StandardClaims

	// ID is the user id the token was issued for.
	ID string `json:"id"`

	// Room is the room key the token is valid for.
	Room string `json:"room"`

	// Variant is "presence" or "game".
	Variant string `json:"variant"`
}
