package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	goSession "github.com/MrEthical07/goSession"
)

// Cookie names used by CookiePolicy.SetCookies.
const (
	AccessTokenCookie    = "sAccessToken"
	RefreshTokenCookie   = "sRefreshToken"
	IDRefreshTokenCookie = "sIdRefreshToken"
	AntiCSRFHeader       = "anti-csrf"
)

// CookiePolicy holds the cookie attributes reported alongside every token and
// applied by SetCookies.
type CookiePolicy struct {
	Domain string
	Secure bool
	// SameSite is one of "lax", "strict" or "none".
	SameSite      string
	AccessPath    string
	RefreshPath   string
	IDRefreshPath string
}

// DefaultCookiePolicy scopes the refresh token to the refresh route and
// everything else to the site root.
func DefaultCookiePolicy() CookiePolicy {
	return CookiePolicy{
		Secure:        true,
		SameSite:      "lax",
		AccessPath:    "/",
		RefreshPath:   "/session/refresh",
		IDRefreshPath: "/",
	}
}

var errInvalidSameSite = errors.New("api: cookie SameSite must be lax, strict or none")

// Validate checks the policy before it is served.
func (p CookiePolicy) Validate() error {
	switch strings.ToLower(p.SameSite) {
	case "lax", "strict":
	case "none":
		if !p.Secure {
			return errors.New("api: SameSite=none requires Secure cookies")
		}
	default:
		return errInvalidSameSite
	}
	for _, path := range []string{p.AccessPath, p.RefreshPath, p.IDRefreshPath} {
		if !strings.HasPrefix(path, "/") {
			return errors.New("api: cookie paths must start with /")
		}
	}
	return nil
}

func (p CookiePolicy) sameSiteMode() http.SameSite {
	switch strings.ToLower(p.SameSite) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// SetCookies writes the token triple of info as HttpOnly cookies and the
// anti-CSRF token, when present, as a response header.
func (p CookiePolicy) SetCookies(w http.ResponseWriter, info *goSession.SessionInfo) {
	if info == nil {
		return
	}
	http.SetCookie(w, p.cookie(AccessTokenCookie, p.AccessPath, info.AccessToken))
	http.SetCookie(w, p.cookie(RefreshTokenCookie, p.RefreshPath, info.RefreshToken))
	http.SetCookie(w, p.cookie(IDRefreshTokenCookie, p.IDRefreshPath, info.IDRefreshToken))
	if info.AntiCSRFToken != "" {
		w.Header().Set(AntiCSRFHeader, info.AntiCSRFToken)
	}
}

// ClearCookies expires every session cookie.
func (p CookiePolicy) ClearCookies(w http.ResponseWriter) {
	expired := goSession.TokenInfo{ExpiresAt: time.Unix(0, 0)}
	for _, c := range []struct{ name, path string }{
		{AccessTokenCookie, p.AccessPath},
		{RefreshTokenCookie, p.RefreshPath},
		{IDRefreshTokenCookie, p.IDRefreshPath},
	} {
		cookie := p.cookie(c.name, c.path, expired)
		cookie.MaxAge = -1
		http.SetCookie(w, cookie)
	}
}

func (p CookiePolicy) cookie(name, path string, tok goSession.TokenInfo) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    tok.Token,
		Path:     path,
		Domain:   p.Domain,
		Expires:  tok.ExpiresAt,
		HttpOnly: true,
		Secure:   p.Secure,
		SameSite: p.sameSiteMode(),
	}
}
