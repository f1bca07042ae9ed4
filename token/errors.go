package token

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformed is returned when a token cannot be parsed or carries the wrong type.
	ErrMalformed = errors.New("token malformed")
	// ErrInvalidSignature is returned when the signature, algorithm or key id does not verify.
	ErrInvalidSignature = errors.New("token signature invalid")
	// ErrExpired is returned when the token is past its expiry.
	ErrExpired = errors.New("token expired")
)

// classify maps parser failures onto the three codec outcomes.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrInvalidSignature
	default:
		return ErrMalformed
	}
}
