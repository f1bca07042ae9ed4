package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goSession/session"
	"github.com/MrEthical07/goSession/token"
)

const maxHandleAttempts = 3

// ErrHandleSpaceExhausted is returned when freshly generated handles keep colliding.
var ErrHandleSpaceExhausted = errors.New("could not allocate unique session handle")

// CreateDeps captures session creation dependencies.
type CreateDeps struct {
	Codec     Codec
	Store     session.Store
	Now       func() time.Time
	NewHandle func() string
}

// CreateResult carries the generation-0 record and its tokens.
type CreateResult struct {
	Session *session.Session
	Tokens  token.Triple
}

// RunCreate mints the generation-0 token triple for userID and persists the
// session that owns it.
func RunCreate(ctx context.Context, userID string, deps CreateDeps) (*CreateResult, error) {
	now := deps.Now()
	for attempt := 0; attempt < maxHandleAttempts; attempt++ {
		handle := deps.NewHandle()
		tokens, err := deps.Codec.Mint(handle, userID, 0, now)
		if err != nil {
			return nil, err
		}

		sess := &session.Session{
			Handle:              handle,
			UserID:              userID,
			Generation:          0,
			CurrentHash:         token.Fingerprint(tokens.Refresh.Token),
			Status:              session.StatusActive,
			CreatedAt:           tokens.Refresh.IssuedAt.Unix(),
			LastRefreshedAt:     tokens.Refresh.IssuedAt.Unix(),
			ExpiresAt:           tokens.Refresh.ExpiresAt.Unix(),
			LastRefreshedMillis: now.UnixMilli(),
		}
		err = deps.Store.Create(ctx, sess)
		switch {
		case err == nil:
			return &CreateResult{Session: sess, Tokens: tokens}, nil
		case errors.Is(err, session.ErrHandleExists):
			continue
		default:
			return nil, err
		}
	}
	return nil, ErrHandleSpaceExhausted
}
