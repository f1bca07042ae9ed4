package api

import (
	"errors"
	"strings"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/session"
)

// Version is a response shape selected by the cdi-version header.
type Version string

const (
	Version1 Version = "1.0"
	Version2 Version = "2.0"

	// VersionHeader carries the requested Version.
	VersionHeader = "cdi-version"
)

var errUnsupportedVersion = errors.New("unsupported cdi-version")

// parseVersion maps a header value to a Version. An absent header selects the
// latest version.
func parseVersion(header string) (Version, error) {
	switch v := Version(strings.TrimSpace(header)); v {
	case "":
		return Version2, nil
	case Version1, Version2:
		return v, nil
	default:
		return "", errUnsupportedVersion
	}
}

const (
	statusOK           = "OK"
	statusUnauthorised = "UNAUTHORISED"
	statusTheft        = "TOKEN_THEFT_DETECTED"
	statusBadRequest   = "BAD_REQUEST"
	statusRateLimited  = "RATE_LIMITED"
	statusInternal     = "INTERNAL_ERROR"
)

// ---------------------------------------------------------------------------
// Shared shapes
// ---------------------------------------------------------------------------

type sessionRef struct {
	Handle string `json:"handle"`
	UserID string `json:"userId"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type theftResponse struct {
	Status  string     `json:"status"`
	Session sessionRef `json:"session"`
}

type removeResponse struct {
	Status                  string   `json:"status"`
	SessionHandlesRevoked   []string `json:"sessionHandlesRevoked,omitempty"`
	NumberOfSessionsRevoked *int     `json:"numberOfSessionsRevoked,omitempty"`
}

type sessionRecordResponse struct {
	Status            string `json:"status"`
	Handle            string `json:"sessionHandle"`
	UserID            string `json:"userId"`
	Generation        uint64 `json:"generation"`
	SessionStatus     string `json:"sessionStatus"`
	CreatedTime       int64  `json:"createdTime"`
	LastRefreshedTime int64  `json:"lastRefreshedTime"`
	Expiry            int64  `json:"expiry"`
}

func recordResponse(s *session.Session) sessionRecordResponse {
	return sessionRecordResponse{
		Status:            statusOK,
		Handle:            s.Handle,
		UserID:            s.UserID,
		Generation:        s.Generation,
		SessionStatus:     s.Status.String(),
		CreatedTime:       s.CreatedAt * 1000,
		LastRefreshedTime: s.LastRefreshedAt * 1000,
		Expiry:            s.ExpiresAt * 1000,
	}
}

// ---------------------------------------------------------------------------
// Version 2.0
// ---------------------------------------------------------------------------

type tokenV2 struct {
	Token        string `json:"token"`
	Expiry       int64  `json:"expiry"`
	CreatedTime  int64  `json:"createdTime"`
	CookiePath   string `json:"cookiePath"`
	CookieSecure bool   `json:"cookieSecure"`
	Domain       string `json:"domain"`
	SameSite     string `json:"sameSite"`
}

type sessionResponseV2 struct {
	Status         string     `json:"status"`
	Session        sessionRef `json:"session"`
	AccessToken    tokenV2    `json:"accessToken"`
	RefreshToken   tokenV2    `json:"refreshToken"`
	IDRefreshToken tokenV2    `json:"idRefreshToken"`
	AntiCSRFToken  string     `json:"antiCsrfToken,omitempty"`
}

func (p CookiePolicy) tokenV2(t goSession.TokenInfo, path string) tokenV2 {
	return tokenV2{
		Token:        t.Token,
		Expiry:       millis(t.ExpiresAt),
		CreatedTime:  millis(t.IssuedAt),
		CookiePath:   path,
		CookieSecure: p.Secure,
		Domain:       p.Domain,
		SameSite:     strings.ToLower(p.SameSite),
	}
}

// ---------------------------------------------------------------------------
// Version 1.0
// ---------------------------------------------------------------------------

type tokenV1 struct {
	Token        string `json:"token"`
	Expiry       int64  `json:"expiry"`
	CreatedTime  int64  `json:"createdTime"`
	CookiePath   string `json:"cookiePath"`
	CookieSecure bool   `json:"cookieSecure"`
	Domain       string `json:"domain"`
}

type idRefreshTokenV1 struct {
	Token       string `json:"token"`
	Expiry      int64  `json:"expiry"`
	CreatedTime int64  `json:"createdTime"`
}

type sessionResponseV1 struct {
	Status         string           `json:"status"`
	Session        sessionRef       `json:"session"`
	AccessToken    tokenV1          `json:"accessToken"`
	RefreshToken   tokenV1          `json:"refreshToken"`
	IDRefreshToken idRefreshTokenV1 `json:"idRefreshToken"`
	AntiCSRFToken  string           `json:"antiCsrfToken,omitempty"`
}

func (p CookiePolicy) tokenV1(t goSession.TokenInfo, path string) tokenV1 {
	return tokenV1{
		Token:        t.Token,
		Expiry:       millis(t.ExpiresAt),
		CreatedTime:  millis(t.IssuedAt),
		CookiePath:   path,
		CookieSecure: p.Secure,
		Domain:       p.Domain,
	}
}

// projectSession renders info in the shape of version v.
func (p CookiePolicy) projectSession(v Version, info *goSession.SessionInfo) any {
	ref := sessionRef{Handle: info.Handle, UserID: info.UserID}

	if v == Version1 {
		return sessionResponseV1{
			Status:       statusOK,
			Session:      ref,
			AccessToken:  p.tokenV1(info.AccessToken, p.AccessPath),
			RefreshToken: p.tokenV1(info.RefreshToken, p.RefreshPath),
			IDRefreshToken: idRefreshTokenV1{
				Token:       info.IDRefreshToken.Token,
				Expiry:      millis(info.IDRefreshToken.ExpiresAt),
				CreatedTime: millis(info.IDRefreshToken.IssuedAt),
			},
			AntiCSRFToken: info.AntiCSRFToken,
		}
	}

	return sessionResponseV2{
		Status:         statusOK,
		Session:        ref,
		AccessToken:    p.tokenV2(info.AccessToken, p.AccessPath),
		RefreshToken:   p.tokenV2(info.RefreshToken, p.RefreshPath),
		IDRefreshToken: p.tokenV2(info.IDRefreshToken, p.IDRefreshPath),
		AntiCSRFToken:  info.AntiCSRFToken,
	}
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
