package session

import "time"

// Status is the lifecycle state of a session record.
type Status uint8

const (
	// StatusActive sessions may be refreshed.
	StatusActive Status = 1
	// StatusRevoked is terminal. No refresh ever succeeds again.
	StatusRevoked Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// Session is one refresh lineage. Timestamps are unix seconds unless the field
// name says otherwise.
type Session struct {
	Handle       string
	UserID       string
	Generation   uint64
	CurrentHash  [32]byte
	PreviousHash [32]byte
	Status       Status

	CreatedAt       int64
	LastRefreshedAt int64
	ExpiresAt       int64

	// LastRefreshedMillis is the wall time of the last rotation in unix
	// milliseconds. Grace decisions use it; LastRefreshedAt stays the token iat.
	LastRefreshedMillis int64
}

// HasPrevious reports whether the record remembers a superseded token.
func (s *Session) HasPrevious() bool {
	return s.PreviousHash != [32]byte{}
}

// Revoked reports whether the session is terminal.
func (s *Session) Revoked() bool {
	return s.Status == StatusRevoked
}

// LastRefreshed returns LastRefreshedAt as a time.
func (s *Session) LastRefreshed() time.Time {
	return time.Unix(s.LastRefreshedAt, 0)
}

// LastRotated returns the millisecond rotation time, falling back to
// LastRefreshedAt for records written without it.
func (s *Session) LastRotated() time.Time {
	if s.LastRefreshedMillis == 0 {
		return s.LastRefreshed()
	}
	return time.UnixMilli(s.LastRefreshedMillis)
}

// Clone returns a copy that shares no state with s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	return &out
}

// Advance describes one compare-and-swap step from generation
// ExpectedGeneration to ExpectedGeneration+1.
//
// UserID names the owner so backends with a per-user index can keep it alive
// as long as the advanced record.
type Advance struct {
	ExpectedGeneration uint64
	ExpectedHash       [32]byte
	NewHash            [32]byte
	RefreshedAt        int64
	RefreshedAtMillis  int64
	ExpiresAt          int64
	UserID             string
}
