package token

import "github.com/golang-jwt/jwt/v5"

// RefreshClaims is the payload of a refresh token: the session handle and the
// generation it was minted for.
type RefreshClaims struct {
	SID string `json:"sid"`
	Gen uint64 `json:"gen"`
	jwt.RegisteredClaims
}

// AccessClaims is the payload of an access token.
type AccessClaims struct {
	SID  string `json:"sid"`
	UID  string `json:"uid"`
	Gen  uint64 `json:"gen"`
	CSRF string `json:"csrf,omitempty"`
	jwt.RegisteredClaims
}

// IDRefreshClaims is the payload of an id-refresh token. Clients use it to learn
// that a session exists without exposing the refresh token to scripts.
type IDRefreshClaims struct {
	SID string `json:"sid"`
	UID string `json:"uid"`
	Gen uint64 `json:"gen"`
	jwt.RegisteredClaims
}

type sessionClaims interface {
	jwt.Claims
	sessionID() string
}

func (c RefreshClaims) sessionID() string   { return c.SID }
func (c AccessClaims) sessionID() string    { return c.SID }
func (c IDRefreshClaims) sessionID() string { return c.SID }
