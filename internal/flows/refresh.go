package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goSession/session"
	"github.com/MrEthical07/goSession/token"
)

// maxRefreshAttempts bounds the read-decide cycles of one refresh call: the first
// pass plus one re-read after losing a CompareAndAdvance race.
const maxRefreshAttempts = 2

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	// Decode means the codec rejected the token.
	RefreshFailureDecode
	RefreshFailureRateLimited
	RefreshFailureSessionNotFound
	RefreshFailureRevoked
	// ForwardGeneration means the token claims a generation the session has not
	// reached yet.
	RefreshFailureForwardGeneration
	// ReissueMismatch means a grace-window replay could not reproduce the
	// current token, for example after a signing key change.
	RefreshFailureReissueMismatch
	// Theft means a superseded token was replayed and the session was revoked.
	RefreshFailureTheft
	// Contention means the advance lost the race twice.
	RefreshFailureContention
	RefreshFailureMint
	RefreshFailureStore
)

var (
	// ErrRefreshContention is returned when a refresh keeps losing the advance race.
	ErrRefreshContention = errors.New("refresh lost repeated advance races")
	// ErrSessionRevoked is the failure cause for refreshes of a revoked session.
	ErrSessionRevoked = errors.New("session revoked")
)

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	Codec           Codec
	Store           session.Store
	RateLimiter     RefreshRateLimiter
	ClientIPFromCtx func(context.Context) string
	Now             func() time.Time
	GraceWindow     time.Duration
	Warn            func(string, ...any)
}

// RefreshResult carries either the issued token triple or failure metadata.
type RefreshResult struct {
	Failure   RefreshFailureKind
	Err       error
	SessionID string
	UserID    string
	Session   *session.Session
	Tokens    token.Triple
	// Reissued is set when the current triple was returned to a grace-window
	// replay instead of minting a new generation.
	Reissued bool
	// Retried is set when the first advance lost a race.
	Retried bool
}

// RunRefresh decodes refreshToken and decides between advancing the session,
// re-issuing its current triple, rejecting the call, or revoking the session as
// stolen.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	claims, err := deps.Codec.DecodeRefresh(refreshToken)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureDecode, Err: err}
	}
	handle := claims.SID

	if deps.RateLimiter != nil {
		ip := ""
		if deps.ClientIPFromCtx != nil {
			ip = deps.ClientIPFromCtx(ctx)
		}
		if err := deps.RateLimiter.CheckRefresh(ctx, handle, ip); err != nil {
			return RefreshResult{Failure: RefreshFailureRateLimited, Err: err, SessionID: handle}
		}
	}

	presented := token.Fingerprint(refreshToken)
	retried := false
	for attempt := 0; attempt < maxRefreshAttempts; attempt++ {
		sess, err := deps.Store.Get(ctx, handle)
		if err != nil {
			return storeFailure(err, handle, "")
		}
		if sess.Revoked() {
			return RefreshResult{Failure: RefreshFailureRevoked, Err: ErrSessionRevoked, SessionID: handle, UserID: sess.UserID, Session: sess}
		}

		switch {
		case claims.Gen == sess.Generation && presented == sess.CurrentHash:
			res, conflict := advance(ctx, sess, deps)
			if !conflict {
				res.Retried = retried
				return res
			}
			retried = true
			continue

		case claims.Gen+1 == sess.Generation && sess.HasPrevious() && presented == sess.PreviousHash:
			if deps.Now().Sub(sess.LastRotated()) <= deps.GraceWindow {
				res := reissue(sess, deps)
				res.Retried = retried
				return res
			}
			return revokeAsTheft(ctx, sess, deps)

		case claims.Gen > sess.Generation:
			return RefreshResult{Failure: RefreshFailureForwardGeneration, Err: errors.New("refresh token generation ahead of session"), SessionID: handle, UserID: sess.UserID, Session: sess}

		default:
			return revokeAsTheft(ctx, sess, deps)
		}
	}

	return RefreshResult{Failure: RefreshFailureContention, Err: ErrRefreshContention, SessionID: handle, Retried: retried}
}

// advance mints the next generation and commits it. conflict reports a lost
// CompareAndAdvance race; the caller re-reads and decides again.
func advance(ctx context.Context, sess *session.Session, deps RefreshDeps) (RefreshResult, bool) {
	now := deps.Now()
	tokens, err := deps.Codec.Mint(sess.Handle, sess.UserID, sess.Generation+1, now)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureMint, Err: err, SessionID: sess.Handle, UserID: sess.UserID, Session: sess}, false
	}

	next, err := deps.Store.CompareAndAdvance(ctx, sess.Handle, session.Advance{
		ExpectedGeneration: sess.Generation,
		ExpectedHash:       sess.CurrentHash,
		NewHash:            token.Fingerprint(tokens.Refresh.Token),
		RefreshedAt:        tokens.Refresh.IssuedAt.Unix(),
		RefreshedAtMillis:  now.UnixMilli(),
		ExpiresAt:          tokens.Refresh.ExpiresAt.Unix(),
		UserID:             sess.UserID,
	})
	if err != nil {
		if errors.Is(err, session.ErrConflict) {
			return RefreshResult{}, true
		}
		return storeFailure(err, sess.Handle, sess.UserID), false
	}

	return RefreshResult{
		Failure:   RefreshFailureNone,
		SessionID: next.Handle,
		UserID:    next.UserID,
		Session:   next,
		Tokens:    tokens,
	}, false
}

// reissue re-derives the triple of the session's current generation. Minting is
// deterministic, so this reproduces exactly what the winning refresh returned.
func reissue(sess *session.Session, deps RefreshDeps) RefreshResult {
	tokens, err := deps.Codec.Mint(sess.Handle, sess.UserID, sess.Generation, sess.LastRefreshed())
	if err != nil {
		return RefreshResult{Failure: RefreshFailureMint, Err: err, SessionID: sess.Handle, UserID: sess.UserID, Session: sess}
	}
	if token.Fingerprint(tokens.Refresh.Token) != sess.CurrentHash {
		if deps.Warn != nil {
			deps.Warn("goSession: grace reissue could not reproduce current token", "session_id", sess.Handle)
		}
		return RefreshResult{Failure: RefreshFailureReissueMismatch, Err: errors.New("current token not reproducible"), SessionID: sess.Handle, UserID: sess.UserID, Session: sess}
	}
	return RefreshResult{
		Failure:   RefreshFailureNone,
		SessionID: sess.Handle,
		UserID:    sess.UserID,
		Session:   sess,
		Tokens:    tokens,
		Reissued:  true,
	}
}

func revokeAsTheft(ctx context.Context, sess *session.Session, deps RefreshDeps) RefreshResult {
	if err := deps.Store.Revoke(ctx, sess.Handle); err != nil && !errors.Is(err, session.ErrNotFound) {
		// Theft is not reported until the revoke sticks; a retried call will
		// reach the same decision.
		return storeFailure(err, sess.Handle, sess.UserID)
	}
	revoked := sess.Clone()
	revoked.Status = session.StatusRevoked
	return RefreshResult{
		Failure:   RefreshFailureTheft,
		Err:       errors.New("superseded refresh token replayed"),
		SessionID: sess.Handle,
		UserID:    sess.UserID,
		Session:   revoked,
	}
}

func storeFailure(err error, handle, userID string) RefreshResult {
	if errors.Is(err, session.ErrNotFound) {
		return RefreshResult{Failure: RefreshFailureSessionNotFound, Err: err, SessionID: handle, UserID: userID}
	}
	return RefreshResult{Failure: RefreshFailureStore, Err: err, SessionID: handle, UserID: userID}
}
