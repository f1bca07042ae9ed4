package flows

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"

	"github.com/MrEthical07/goSession/session"
	"github.com/MrEthical07/goSession/token"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	clock *testClock
	codec *token.Codec
	store *session.MemoryStore
	deps  Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessAt(t, time.Unix(1_700_000_000, 0))
}

func newHarnessAt(t *testing.T, start time.Time) *harness {
	t.Helper()
	clock := &testClock{now: start}
	codec, err := token.NewCodec(token.Config{
		AccessTTL:      5 * time.Minute,
		RefreshTTL:     24 * time.Hour,
		SigningMethod:  token.MethodHS256,
		PrivateKey:     []byte("0123456789abcdef0123456789abcdef"),
		EnableAntiCSRF: true,
		Now:            clock.Now,
	})
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	store := session.NewMemoryStore()
	seq := 0
	h := &harness{clock: clock, codec: codec, store: store}
	h.deps = Deps{
		Create: CreateDeps{
			Codec: codec,
			Store: store,
			Now:   clock.Now,
			NewHandle: func() string {
				seq++
				return fmt.Sprintf("h%d", seq)
			},
		},
		Refresh: RefreshDeps{
			Codec:       codec,
			Store:       store,
			Now:         clock.Now,
			GraceWindow: 5 * time.Second,
		},
		Revoke: RevokeDeps{Store: store},
	}
	return h
}

func (h *harness) create(t *testing.T, userID string) *CreateResult {
	t.Helper()
	res, err := RunCreate(context.Background(), userID, h.deps.Create)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return res
}

func (h *harness) get(t *testing.T, handle string) *session.Session {
	t.Helper()
	sess, err := h.store.Get(context.Background(), handle)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return sess
}

func TestRefreshAdvancesGeneration(t *testing.T) {
	h := newHarness(t)
	created := h.create(t, "u1")
	h.clock.Advance(time.Minute)

	res := RunRefresh(context.Background(), created.Tokens.Refresh.Token, h.deps.Refresh)
	if res.Failure != RefreshFailureNone {
		t.Fatalf("expected success, got %v: %v", res.Failure, res.Err)
	}
	if res.Reissued || res.Retried {
		t.Fatalf("unexpected flags: %+v", res)
	}
	if res.Session.Generation != 1 {
		t.Fatalf("expected generation 1, got %d", res.Session.Generation)
	}
	if res.Tokens.Refresh.Token == created.Tokens.Refresh.Token {
		t.Fatal("expected a new refresh token")
	}

	stored := h.get(t, created.Session.Handle)
	if stored.CurrentHash != token.Fingerprint(res.Tokens.Refresh.Token) {
		t.Fatal("stored fingerprint must match the issued token")
	}
	if stored.PreviousHash != token.Fingerprint(created.Tokens.Refresh.Token) {
		t.Fatal("previous fingerprint must be the superseded token")
	}
	if stored.LastRefreshedAt != h.clock.Now().Unix() {
		t.Fatalf("expected refresh time %d, got %d", h.clock.Now().Unix(), stored.LastRefreshedAt)
	}
}

func TestRefreshDecodeFailureTouchesNothing(t *testing.T) {
	h := newHarness(t)
	created := h.create(t, "u1")
	before := h.get(t, created.Session.Handle)

	res := RunRefresh(context.Background(), created.Tokens.Refresh.Token+"x", h.deps.Refresh)
	if res.Failure != RefreshFailureDecode {
		t.Fatalf("expected decode failure, got %v", res.Failure)
	}
	if after := h.get(t, created.Session.Handle); *after != *before {
		t.Fatal("decode failure must not mutate the session")
	}
}

func TestRefreshUnknownSession(t *testing.T) {
	h := newHarness(t)
	tok, err := h.codec.EncodeRefresh(token.RefreshClaims{
		SID: "ghost",
		RegisteredClaims: gjwt.RegisteredClaims{
			IssuedAt:  gjwt.NewNumericDate(h.clock.Now()),
			ExpiresAt: gjwt.NewNumericDate(h.clock.Now().Add(time.Hour)),
		},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	res := RunRefresh(context.Background(), tok, h.deps.Refresh)
	if res.Failure != RefreshFailureSessionNotFound {
		t.Fatalf("expected session not found, got %v", res.Failure)
	}
}

func TestRefreshGraceWindowReissuesCurrentTriple(t *testing.T) {
	h := newHarness(t)
	created := h.create(t, "u1")
	h.clock.Advance(time.Minute)

	first := RunRefresh(context.Background(), created.Tokens.Refresh.Token, h.deps.Refresh)
	if first.Failure != RefreshFailureNone {
		t.Fatalf("first refresh: %v", first.Err)
	}

	h.clock.Advance(3 * time.Second)
	replay := RunRefresh(context.Background(), created.Tokens.Refresh.Token, h.deps.Refresh)
	if replay.Failure != RefreshFailureNone {
		t.Fatalf("expected grace reissue, got %v: %v", replay.Failure, replay.Err)
	}
	if !replay.Reissued {
		t.Fatal("expected Reissued flag")
	}
	if replay.Tokens != first.Tokens {
		t.Fatal("grace replay must return the identical current triple")
	}
	if got := h.get(t, created.Session.Handle); got.Generation != 1 {
		t.Fatalf("grace replay must not advance, generation %d", got.Generation)
	}
}

func TestRefreshGraceWindowMeasuredFromSubSecondRotation(t *testing.T) {
	tests := []struct {
		name  string
		grace time.Duration
		wait  time.Duration
		want  RefreshFailureKind
	}{
		{name: "inside window", grace: 5 * time.Second, wait: 4500 * time.Millisecond, want: RefreshFailureNone},
		{name: "same instant short window", grace: 500 * time.Millisecond, wait: 0, want: RefreshFailureNone},
		{name: "past window", grace: 5 * time.Second, wait: 5100 * time.Millisecond, want: RefreshFailureTheft},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarnessAt(t, time.Unix(1_700_000_000, 900_000_000))
			h.deps.Refresh.GraceWindow = tt.grace
			created := h.create(t, "u1")
			h.clock.Advance(time.Minute)

			first := RunRefresh(context.Background(), created.Tokens.Refresh.Token, h.deps.Refresh)
			if first.Failure != RefreshFailureNone {
				t.Fatalf("first refresh: %v", first.Err)
			}
			if got := h.get(t, created.Session.Handle); got.LastRefreshedMillis != h.clock.Now().UnixMilli() {
				t.Fatalf("expected rotation millis %d, got %d", h.clock.Now().UnixMilli(), got.LastRefreshedMillis)
			}

			h.clock.Advance(tt.wait)
			replay := RunRefresh(context.Background(), created.Tokens.Refresh.Token, h.deps.Refresh)
			if replay.Failure != tt.want {
				t.Fatalf("expected %v, got %v: %v", tt.want, replay.Failure, replay.Err)
			}
			if tt.want == RefreshFailureNone && (!replay.Reissued || replay.Tokens != first.Tokens) {
				t.Fatal("replay inside the window must reissue the winner's triple")
			}
		})
	}
}

func TestRefreshPreviousTokenAfterGraceIsTheft(t *testing.T) {
	h := newHarness(t)
	created := h.create(t, "u1")
	first := RunRefresh(context.Background(), created.Tokens.Refresh.Token, h.deps.Refresh)
	if first.Failure != RefreshFailureNone {
		t.Fatalf("first refresh: %v", first.Err)
	}

	h.clock.Advance(time.Minute)
	res := RunRefresh(context.Background(), created.Tokens.Refresh.Token, h.deps.Refresh)
	if res.Failure != RefreshFailureTheft {
		t.Fatalf("expected theft, got %v", res.Failure)
	}
	if res.SessionID != created.Session.Handle || res.UserID != "u1" {
		t.Fatalf("theft must identify the session: %+v", res)
	}
	if !h.get(t, created.Session.Handle).Revoked() {
		t.Fatal("theft must revoke the session")
	}

	after := RunRefresh(context.Background(), first.Tokens.Refresh.Token, h.deps.Refresh)
	if after.Failure != RefreshFailureRevoked {
		t.Fatalf("expected revoked after theft, got %v", after.Failure)
	}
}

func TestRefreshOlderThanPreviousIsTheft(t *testing.T) {
	h := newHarness(t)
	created := h.create(t, "u1")
	g1 := RunRefresh(context.Background(), created.Tokens.Refresh.Token, h.deps.Refresh)
	h.clock.Advance(time.Second)
	g2 := RunRefresh(context.Background(), g1.Tokens.Refresh.Token, h.deps.Refresh)
	if g2.Failure != RefreshFailureNone || g2.Session.Generation != 2 {
		t.Fatalf("second refresh: %v %v", g2.Failure, g2.Err)
	}

	// Generation 0 is two behind; the grace window never covers it.
	res := RunRefresh(context.Background(), created.Tokens.Refresh.Token, h.deps.Refresh)
	if res.Failure != RefreshFailureTheft {
		t.Fatalf("expected theft, got %v", res.Failure)
	}
}

func TestRefreshForwardGenerationIsRejected(t *testing.T) {
	h := newHarness(t)
	created := h.create(t, "u1")
	forged, err := h.codec.EncodeRefresh(token.RefreshClaims{
		SID: created.Session.Handle,
		Gen: 9,
		RegisteredClaims: gjwt.RegisteredClaims{
			IssuedAt:  gjwt.NewNumericDate(h.clock.Now()),
			ExpiresAt: gjwt.NewNumericDate(h.clock.Now().Add(time.Hour)),
		},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	res := RunRefresh(context.Background(), forged, h.deps.Refresh)
	if res.Failure != RefreshFailureForwardGeneration {
		t.Fatalf("expected forward generation rejection, got %v", res.Failure)
	}
	if h.get(t, created.Session.Handle).Revoked() {
		t.Fatal("forward generation must not revoke")
	}
}

// racingStore lets a competing refresh win just before the flow's own advance.
type racingStore struct {
	*session.MemoryStore
	once    sync.Once
	compete func()
}

func (s *racingStore) CompareAndAdvance(ctx context.Context, handle string, adv session.Advance) (*session.Session, error) {
	s.once.Do(s.compete)
	return s.MemoryStore.CompareAndAdvance(ctx, handle, adv)
}

func TestRefreshConflictResolvesToWinnerTriple(t *testing.T) {
	h := newHarness(t)
	created := h.create(t, "u1")
	h.clock.Advance(time.Minute)

	var winner RefreshResult
	racing := &racingStore{MemoryStore: h.store}
	racing.compete = func() {
		winner = RunRefresh(context.Background(), created.Tokens.Refresh.Token, h.deps.Refresh)
	}
	deps := h.deps.Refresh
	deps.Store = racing

	loser := RunRefresh(context.Background(), created.Tokens.Refresh.Token, deps)
	if winner.Failure != RefreshFailureNone {
		t.Fatalf("winner failed: %v", winner.Err)
	}
	if loser.Failure != RefreshFailureNone {
		t.Fatalf("loser failed: %v %v", loser.Failure, loser.Err)
	}
	if !loser.Retried || !loser.Reissued {
		t.Fatalf("expected retried reissue, got %+v", loser)
	}
	if loser.Tokens != winner.Tokens {
		t.Fatal("both racers must receive the same generation-1 triple")
	}
	if got := h.get(t, created.Session.Handle); got.Generation != 1 {
		t.Fatalf("expected one logical advance, generation %d", got.Generation)
	}
}

// stuckStore always loses the advance race without changing state.
type stuckStore struct {
	*session.MemoryStore
	advances int
}

func (s *stuckStore) CompareAndAdvance(context.Context, string, session.Advance) (*session.Session, error) {
	s.advances++
	return nil, session.ErrConflict
}

func TestRefreshRepeatedConflictIsContention(t *testing.T) {
	h := newHarness(t)
	created := h.create(t, "u1")
	stuck := &stuckStore{MemoryStore: h.store}
	deps := h.deps.Refresh
	deps.Store = stuck

	res := RunRefresh(context.Background(), created.Tokens.Refresh.Token, deps)
	if res.Failure != RefreshFailureContention || !errors.Is(res.Err, ErrRefreshContention) {
		t.Fatalf("expected contention, got %v: %v", res.Failure, res.Err)
	}
	if stuck.advances != maxRefreshAttempts {
		t.Fatalf("expected %d advance attempts, got %d", maxRefreshAttempts, stuck.advances)
	}
	if h.get(t, created.Session.Handle).Revoked() {
		t.Fatal("contention must not revoke")
	}
}

var errBackendDown = errors.New("backend down")

type failingStore struct {
	*session.MemoryStore
	failGet    bool
	failRevoke bool
}

func (s *failingStore) Get(ctx context.Context, handle string) (*session.Session, error) {
	if s.failGet {
		return nil, fmt.Errorf("%w: %v", session.ErrUnavailable, errBackendDown)
	}
	return s.MemoryStore.Get(ctx, handle)
}

func (s *failingStore) Revoke(ctx context.Context, handle string) error {
	if s.failRevoke {
		return fmt.Errorf("%w: %v", session.ErrUnavailable, errBackendDown)
	}
	return s.MemoryStore.Revoke(ctx, handle)
}

func TestRefreshStoreUnavailable(t *testing.T) {
	h := newHarness(t)
	created := h.create(t, "u1")
	deps := h.deps.Refresh
	deps.Store = &failingStore{MemoryStore: h.store, failGet: true}

	res := RunRefresh(context.Background(), created.Tokens.Refresh.Token, deps)
	if res.Failure != RefreshFailureStore || !errors.Is(res.Err, session.ErrUnavailable) {
		t.Fatalf("expected store failure, got %v: %v", res.Failure, res.Err)
	}
}

func TestRefreshTheftWithFailedRevokeIsTransient(t *testing.T) {
	h := newHarness(t)
	created := h.create(t, "u1")
	if r := RunRefresh(context.Background(), created.Tokens.Refresh.Token, h.deps.Refresh); r.Failure != RefreshFailureNone {
		t.Fatalf("refresh: %v", r.Err)
	}
	h.clock.Advance(time.Minute)

	deps := h.deps.Refresh
	deps.Store = &failingStore{MemoryStore: h.store, failRevoke: true}
	res := RunRefresh(context.Background(), created.Tokens.Refresh.Token, deps)
	if res.Failure != RefreshFailureStore {
		t.Fatalf("expected store failure while revoke is down, got %v", res.Failure)
	}

	res = RunRefresh(context.Background(), created.Tokens.Refresh.Token, h.deps.Refresh)
	if res.Failure != RefreshFailureTheft {
		t.Fatalf("expected theft once the store recovers, got %v", res.Failure)
	}
}

type denyLimiter struct{ gotIP string }

func (l *denyLimiter) CheckRefresh(_ context.Context, _ string, ip string) error {
	l.gotIP = ip
	return errors.New("rate limited")
}

func TestRefreshRateLimited(t *testing.T) {
	h := newHarness(t)
	created := h.create(t, "u1")
	limiter := &denyLimiter{}
	deps := h.deps.Refresh
	deps.RateLimiter = limiter
	deps.ClientIPFromCtx = func(context.Context) string { return "10.1.1.1" }

	res := RunRefresh(context.Background(), created.Tokens.Refresh.Token, deps)
	if res.Failure != RefreshFailureRateLimited {
		t.Fatalf("expected rate limited, got %v", res.Failure)
	}
	if limiter.gotIP != "10.1.1.1" {
		t.Fatalf("expected client IP passed to limiter, got %q", limiter.gotIP)
	}
	if h.get(t, created.Session.Handle).Generation != 0 {
		t.Fatal("throttled refresh must not advance")
	}
}

func TestRefreshReissueMismatchAfterKeyChange(t *testing.T) {
	h := newHarness(t)
	created := h.create(t, "u1")
	first := RunRefresh(context.Background(), created.Tokens.Refresh.Token, h.deps.Refresh)
	if first.Failure != RefreshFailureNone {
		t.Fatalf("refresh: %v", first.Err)
	}

	// Same secret, different TTL: the old token still verifies but the current
	// one can no longer be re-derived.
	rotated, err := token.NewCodec(token.Config{
		AccessTTL:     5 * time.Minute,
		RefreshTTL:    48 * time.Hour,
		SigningMethod: token.MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
		Now:           h.clock.Now,
	})
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	deps := h.deps.Refresh
	deps.Codec = rotated
	var warned bool
	deps.Warn = func(string, ...any) { warned = true }

	res := RunRefresh(context.Background(), created.Tokens.Refresh.Token, deps)
	if res.Failure != RefreshFailureReissueMismatch {
		t.Fatalf("expected reissue mismatch, got %v", res.Failure)
	}
	if !warned {
		t.Fatal("expected warning")
	}
	if h.get(t, created.Session.Handle).Revoked() {
		t.Fatal("reissue mismatch must not revoke")
	}
}

func TestRefreshConcurrentSameTokenNoFork(t *testing.T) {
	h := newHarness(t)
	created := h.create(t, "u1")

	const callers = 8
	results := make([]RefreshResult, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = RunRefresh(context.Background(), created.Tokens.Refresh.Token, h.deps.Refresh)
		}(i)
	}
	wg.Wait()

	var issued string
	for i, r := range results {
		if r.Failure != RefreshFailureNone {
			t.Fatalf("caller %d failed: %v %v", i, r.Failure, r.Err)
		}
		if issued == "" {
			issued = r.Tokens.Refresh.Token
		}
		if r.Tokens.Refresh.Token != issued {
			t.Fatal("concurrent refreshes forked the lineage")
		}
	}
	if got := h.get(t, created.Session.Handle); got.Generation != 1 {
		t.Fatalf("expected generation 1, got %d", got.Generation)
	}
}
