package goSession

import "errors"

var (
	// ErrUnauthorised is returned when an explicit session operation names a
	// session that does not exist.
	ErrUnauthorised = errors.New("unauthorised")
	// ErrStoreUnavailable marks transient persistence failures. Callers may retry.
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrRefreshContention is returned when a refresh keeps losing the advance
	// race against concurrent refreshes of the same session. Callers may retry.
	ErrRefreshContention = errors.New("refresh contention")
	// ErrRefreshRateLimited is returned when the refresh throttle rejects a call.
	ErrRefreshRateLimited = errors.New("refresh rate limited")
	// ErrEngineNotReady is returned by methods on a nil or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrInvalidUserID is returned by CreateSession for an empty user id.
	ErrInvalidUserID = errors.New("invalid user id")
	// ErrInvalidHandle is returned for an empty session handle.
	ErrInvalidHandle = errors.New("invalid session handle")
	// ErrSessionCreationFailed is returned when a session could not be persisted
	// for a reason other than store unavailability.
	ErrSessionCreationFailed = errors.New("session creation failed")
)
