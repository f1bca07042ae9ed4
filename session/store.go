package session

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no record exists for a handle.
	ErrNotFound = errors.New("session not found")
	// ErrConflict is returned by CompareAndAdvance when the stored record no longer
	// matches the expected generation, fingerprint or status. State is unchanged.
	ErrConflict = errors.New("session advance conflict")
	// ErrHandleExists is returned by Create when the handle is taken.
	ErrHandleExists = errors.New("session handle already exists")
	// ErrUnavailable wraps backend failures. Callers may retry.
	ErrUnavailable = errors.New("session store unavailable")
	// ErrCorrupt is returned when a stored record cannot be decoded.
	ErrCorrupt = errors.New("session record corrupt")
)

// Store persists session records.
//
// All methods are safe for concurrent use on the same handle.
type Store interface {
	// Get returns the record for handle or ErrNotFound.
	Get(ctx context.Context, handle string) (*Session, error)
	// Create inserts a new record. The handle must be unused.
	Create(ctx context.Context, sess *Session) error
	// CompareAndAdvance atomically moves an active record from
	// adv.ExpectedGeneration to the next generation when both the generation and
	// the current fingerprint still match. On success PreviousHash takes the old
	// CurrentHash and the updated record is returned. Any mismatch, including a
	// revoked record, yields ErrConflict and leaves the record untouched.
	CompareAndAdvance(ctx context.Context, handle string, adv Advance) (*Session, error)
	// Revoke marks the record revoked. Revoking twice is not an error.
	Revoke(ctx context.Context, handle string) error
	// RevokeAllForUser revokes every active session of userID and returns how
	// many changed state.
	RevokeAllForUser(ctx context.Context, userID string) (int, error)
}

// advanced applies adv to a copy of sess. It assumes the caller already matched
// the expectation.
func advanced(sess *Session, adv Advance) *Session {
	out := sess.Clone()
	out.PreviousHash = out.CurrentHash
	out.CurrentHash = adv.NewHash
	out.Generation++
	out.LastRefreshedAt = adv.RefreshedAt
	out.LastRefreshedMillis = adv.RefreshedAtMillis
	out.ExpiresAt = adv.ExpiresAt
	return out
}

func matches(sess *Session, adv Advance) bool {
	return sess.Status == StatusActive &&
		sess.Generation == adv.ExpectedGeneration &&
		sess.CurrentHash == adv.ExpectedHash
}
