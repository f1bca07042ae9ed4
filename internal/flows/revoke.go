package flows

import (
	"context"

	"github.com/MrEthical07/goSession/session"
)

// RevokeDeps captures explicit revocation dependencies.
type RevokeDeps struct {
	Store session.Store
}

// RunRevoke marks one session revoked.
func RunRevoke(ctx context.Context, handle string, deps RevokeDeps) error {
	return deps.Store.Revoke(ctx, handle)
}

// RunRevokeAllForUser revokes every active session of userID.
func RunRevokeAllForUser(ctx context.Context, userID string, deps RevokeDeps) (int, error) {
	return deps.Store.RevokeAllForUser(ctx, userID)
}
