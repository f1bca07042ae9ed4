package flows

import "context"

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Refresh.Codec != nil && s.deps.Refresh.Store != nil
}

func (s Service) Create(ctx context.Context, userID string) (*CreateResult, error) {
	return RunCreate(ctx, userID, s.deps.Create)
}

func (s Service) Refresh(ctx context.Context, refreshToken string) RefreshResult {
	return RunRefresh(ctx, refreshToken, s.deps.Refresh)
}

func (s Service) Revoke(ctx context.Context, handle string) error {
	return RunRevoke(ctx, handle, s.deps.Revoke)
}

func (s Service) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	return RunRevokeAllForUser(ctx, userID, s.deps.Revoke)
}
