package sqlstore

import (
	"fmt"

	"github.com/MrEthical07/goSession/session"
)

var columns = []string{
	"handle",
	"user_id",
	"generation",
	"current_hash",
	"previous_hash",
	"status",
	"created_at",
	"last_refreshed_at",
	"expires_at",
	"last_refreshed_ms",
}

type sqlxSession struct {
	Handle          string `db:"handle"`
	UserID          string `db:"user_id"`
	Generation      int64  `db:"generation"`
	CurrentHash     []byte `db:"current_hash"`
	PreviousHash    []byte `db:"previous_hash"`
	Status          int16  `db:"status"`
	CreatedAt       int64  `db:"created_at"`
	LastRefreshedAt int64  `db:"last_refreshed_at"`
	ExpiresAt       int64  `db:"expires_at"`
	RefreshedMillis int64  `db:"last_refreshed_ms"`
}

func fromDomain(s *session.Session) sqlxSession {
	row := sqlxSession{
		Handle:          s.Handle,
		UserID:          s.UserID,
		Generation:      int64(s.Generation),
		CurrentHash:     append([]byte(nil), s.CurrentHash[:]...),
		Status:          int16(s.Status),
		CreatedAt:       s.CreatedAt,
		LastRefreshedAt: s.LastRefreshedAt,
		ExpiresAt:       s.ExpiresAt,
		RefreshedMillis: s.LastRefreshedMillis,
	}
	if s.HasPrevious() {
		row.PreviousHash = append([]byte(nil), s.PreviousHash[:]...)
	}
	return row
}

func (r sqlxSession) toDomain() (*session.Session, error) {
	if r.Generation < 0 {
		return nil, fmt.Errorf("%w: negative generation", session.ErrCorrupt)
	}
	out := &session.Session{
		Handle:              r.Handle,
		UserID:              r.UserID,
		Generation:          uint64(r.Generation),
		Status:              session.Status(r.Status),
		CreatedAt:           r.CreatedAt,
		LastRefreshedAt:     r.LastRefreshedAt,
		ExpiresAt:           r.ExpiresAt,
		LastRefreshedMillis: r.RefreshedMillis,
	}
	if len(r.CurrentHash) != len(out.CurrentHash) {
		return nil, fmt.Errorf("%w: current fingerprint length %d", session.ErrCorrupt, len(r.CurrentHash))
	}
	copy(out.CurrentHash[:], r.CurrentHash)
	switch len(r.PreviousHash) {
	case 0:
	case len(out.PreviousHash):
		copy(out.PreviousHash[:], r.PreviousHash)
	default:
		return nil, fmt.Errorf("%w: previous fingerprint length %d", session.ErrCorrupt, len(r.PreviousHash))
	}
	return out, nil
}
