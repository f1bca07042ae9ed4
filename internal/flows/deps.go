package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/goSession/token"
)

// Codec is the subset of *token.Codec the flows need.
type Codec interface {
	DecodeRefresh(tokenStr string) (*token.RefreshClaims, error)
	Mint(sid, uid string, gen uint64, issuedAt time.Time) (token.Triple, error)
}

// RefreshRateLimiter throttles refresh attempts before the session is read.
type RefreshRateLimiter interface {
	CheckRefresh(ctx context.Context, handle, ip string) error
}

// Deps groups flow dependency sets. Root engine builds this once and delegates
// request methods to the matching flow implementation.
type Deps struct {
	Create  CreateDeps
	Refresh RefreshDeps
	Revoke  RevokeDeps
}
