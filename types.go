package goSession

import "time"

// Outcome classifies a completed refresh.
type Outcome uint8

const (
	// OutcomeOK means a token triple was issued. RefreshResult.Session is set.
	OutcomeOK Outcome = iota + 1
	// OutcomeUnauthorised means the token was rejected without touching session
	// state. RefreshResult.Message says why.
	OutcomeUnauthorised
	// OutcomeTheftDetected means a superseded token was replayed and the session
	// has been revoked. RefreshResult.Theft names the session.
	OutcomeTheftDetected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "OK"
	case OutcomeUnauthorised:
		return "UNAUTHORISED"
	case OutcomeTheftDetected:
		return "TOKEN_THEFT_DETECTED"
	default:
		return "UNKNOWN"
	}
}

// TokenInfo is one minted token with its validity window.
type TokenInfo struct {
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// SessionInfo is returned by CreateSession and successful refreshes.
type SessionInfo struct {
	Handle         string
	UserID         string
	Generation     uint64
	AccessToken    TokenInfo
	RefreshToken   TokenInfo
	IDRefreshToken TokenInfo
	// AntiCSRFToken is empty unless Token.EnableAntiCSRF is set.
	AntiCSRFToken string
	// Reissued reports that this triple was already issued to an earlier,
	// concurrent refresh of the same token.
	Reissued bool
}

// TheftInfo names the session revoked by a theft verdict.
type TheftInfo struct {
	Handle string
	UserID string
}

// RefreshResult is the tagged result of [Engine.Refresh]. Exactly one of
// Session, Message or Theft is meaningful, selected by Outcome.
type RefreshResult struct {
	Outcome Outcome
	Session *SessionInfo
	Message string
	Theft   *TheftInfo
}
