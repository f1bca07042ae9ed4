package goSession

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goSession/session"
)

func TestRefreshScenarios(t *testing.T) {
	for _, be := range testBackends() {
		be := be
		t.Run(be.name, func(t *testing.T) {
			t.Run("RotateThenReplayIsTheft", func(t *testing.T) {
				testRotateThenReplayIsTheft(t, be.open(t))
			})
			t.Run("ConcurrentRefreshSameToken", func(t *testing.T) {
				testConcurrentRefreshSameToken(t, be.open(t))
			})
			t.Run("CorruptedToken", func(t *testing.T) {
				testCorruptedToken(t, be.open(t))
			})
			t.Run("MonotonicLineage", func(t *testing.T) {
				testMonotonicLineage(t, be.open(t))
			})
			t.Run("GraceWindowIdempotence", func(t *testing.T) {
				testGraceWindowIdempotence(t, be.open(t))
			})
			t.Run("ExpiredToken", func(t *testing.T) {
				testExpiredToken(t, be.open(t))
			})
			t.Run("GraceWindowFromSubSecondRotation", func(t *testing.T) {
				testGraceWindowFromSubSecondRotation(t, be.open(t))
			})
		})
	}
}

// Create, rotate once, replay the initial token after the grace window, then
// present the newest token of the now revoked session.
func testRotateThenReplayIsTheft(t *testing.T, store session.Store) {
	engine, clock := newTestEngine(t, store, testConfig())
	ctx := context.Background()

	s := mustCreate(t, engine, "U1")

	first := mustRefresh(t, engine, s.RefreshToken.Token)
	if first.Outcome != OutcomeOK {
		t.Fatalf("refresh T0: expected OK, got %v (%s)", first.Outcome, first.Message)
	}
	if first.Session.Generation != 1 || first.Session.Handle != s.Handle {
		t.Fatalf("refresh T0: unexpected session %+v", first.Session)
	}
	if first.Session.RefreshToken.Token == s.RefreshToken.Token {
		t.Fatal("refresh T0: refresh token not rotated")
	}

	clock.Advance(10 * time.Second)
	replay := mustRefresh(t, engine, s.RefreshToken.Token)
	if replay.Outcome != OutcomeTheftDetected {
		t.Fatalf("replay T0: expected theft, got %v", replay.Outcome)
	}
	if replay.Theft == nil || replay.Theft.Handle != s.Handle || replay.Theft.UserID != "U1" {
		t.Fatalf("replay T0: unexpected theft info %+v", replay.Theft)
	}

	rec, err := engine.GetSession(ctx, s.Handle)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if rec.Status != session.StatusRevoked {
		t.Fatalf("session must be revoked after theft, got %v", rec.Status)
	}

	after := mustRefresh(t, engine, first.Session.RefreshToken.Token)
	if after.Outcome != OutcomeUnauthorised {
		t.Fatalf("refresh T1 after theft: expected Unauthorised, got %v", after.Outcome)
	}
	again := mustRefresh(t, engine, s.RefreshToken.Token)
	if again.Outcome != OutcomeUnauthorised {
		t.Fatalf("second replay of T0: expected Unauthorised, got %v", again.Outcome)
	}
}

func testConcurrentRefreshSameToken(t *testing.T, store session.Store) {
	engine, _ := newTestEngine(t, store, testConfig())
	s := mustCreate(t, engine, "U2")

	const callers = 8
	results := make([]RefreshResult, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = engine.Refresh(context.Background(), s.RefreshToken.Token)
		}(i)
	}
	close(start)
	wg.Wait()

	var winner *SessionInfo
	fresh := 0
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			if errors.Is(errs[i], ErrRefreshContention) {
				continue
			}
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		res := results[i]
		if res.Outcome != OutcomeOK {
			t.Fatalf("caller %d: expected OK, got %v (%s)", i, res.Outcome, res.Message)
		}
		if res.Session.Generation != 1 {
			t.Fatalf("caller %d: expected generation 1, got %d", i, res.Session.Generation)
		}
		if !res.Session.Reissued {
			fresh++
		}
		if winner == nil {
			winner = res.Session
			continue
		}
		if res.Session.RefreshToken.Token != winner.RefreshToken.Token ||
			res.Session.AccessToken.Token != winner.AccessToken.Token ||
			res.Session.IDRefreshToken.Token != winner.IDRefreshToken.Token ||
			res.Session.AntiCSRFToken != winner.AntiCSRFToken {
			t.Fatalf("caller %d received a different generation-1 triple", i)
		}
	}
	if winner == nil {
		t.Fatal("no caller succeeded")
	}
	if fresh != 1 {
		t.Fatalf("expected exactly one advancing refresh, got %d", fresh)
	}

	rec, err := engine.GetSession(context.Background(), s.Handle)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if rec.Generation != 1 || rec.Status != session.StatusActive {
		t.Fatalf("expected active generation 1, got gen=%d status=%v", rec.Generation, rec.Status)
	}
}

func testCorruptedToken(t *testing.T, store session.Store) {
	engine, _ := newTestEngine(t, store, testConfig(), withMetrics())
	s := mustCreate(t, engine, "U3")

	before, err := engine.GetSession(context.Background(), s.Handle)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}

	tok := []byte(s.RefreshToken.Token)
	tok[len(tok)/2] ^= 0x01
	for _, corrupted := range []string{string(tok), "not.a.jwt", "", s.RefreshToken.Token + "x"} {
		res := mustRefresh(t, engine, corrupted)
		if res.Outcome != OutcomeUnauthorised {
			t.Fatalf("corrupted %q: expected Unauthorised, got %v", corrupted, res.Outcome)
		}
	}

	after, err := engine.GetSession(context.Background(), s.Handle)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if *after != *before {
		t.Fatalf("session state touched by corrupted tokens:\nbefore %+v\nafter  %+v", before, after)
	}
	if got := engine.MetricsSnapshot().Counters[MetricRefreshTheftDetected]; got != 0 {
		t.Fatalf("corrupted token reported as theft %d times", got)
	}

	if res := mustRefresh(t, engine, s.RefreshToken.Token); res.Outcome != OutcomeOK {
		t.Fatalf("original token must still work, got %v", res.Outcome)
	}
}

func testMonotonicLineage(t *testing.T, store session.Store) {
	engine, clock := newTestEngine(t, store, testConfig())
	s := mustCreate(t, engine, "U4")

	seen := map[string]bool{s.RefreshToken.Token: true}
	current := s.RefreshToken.Token
	for want := uint64(1); want <= 10; want++ {
		clock.Advance(time.Second)
		res := mustRefresh(t, engine, current)
		if res.Outcome != OutcomeOK {
			t.Fatalf("refresh %d: %v (%s)", want, res.Outcome, res.Message)
		}
		if res.Session.Generation != want {
			t.Fatalf("refresh %d: generation %d", want, res.Session.Generation)
		}
		if seen[res.Session.RefreshToken.Token] {
			t.Fatalf("refresh %d: refresh token repeated", want)
		}
		seen[res.Session.RefreshToken.Token] = true
		current = res.Session.RefreshToken.Token
	}
}

func testGraceWindowIdempotence(t *testing.T, store session.Store) {
	engine, clock := newTestEngine(t, store, testConfig())
	s := mustCreate(t, engine, "U5")

	first := mustRefresh(t, engine, s.RefreshToken.Token)
	if first.Outcome != OutcomeOK {
		t.Fatalf("first refresh: %v", first.Outcome)
	}

	clock.Advance(4 * time.Second)
	replay := mustRefresh(t, engine, s.RefreshToken.Token)
	if replay.Outcome != OutcomeOK {
		t.Fatalf("grace replay: expected OK, got %v", replay.Outcome)
	}
	if !replay.Session.Reissued {
		t.Fatal("grace replay must be flagged reissued")
	}
	if replay.Session.Generation != 1 {
		t.Fatalf("grace replay advanced generation to %d", replay.Session.Generation)
	}
	if replay.Session.RefreshToken.Token != first.Session.RefreshToken.Token ||
		replay.Session.AccessToken.Token != first.Session.AccessToken.Token ||
		replay.Session.IDRefreshToken.Token != first.Session.IDRefreshToken.Token {
		t.Fatal("grace replay returned a different triple")
	}
	if !replay.Session.RefreshToken.ExpiresAt.Equal(first.Session.RefreshToken.ExpiresAt) {
		t.Fatal("grace replay changed the refresh expiry")
	}

	next := mustRefresh(t, engine, replay.Session.RefreshToken.Token)
	if next.Outcome != OutcomeOK || next.Session.Generation != 2 {
		t.Fatalf("reissued token must advance normally, got %v gen=%d", next.Outcome, next.Session.Generation)
	}
}

func testExpiredToken(t *testing.T, store session.Store) {
	cfg := testConfig()
	cfg.Token.AccessTTL = time.Minute
	cfg.Token.RefreshTTL = time.Hour
	engine, clock := newTestEngine(t, store, cfg)
	s := mustCreate(t, engine, "U6")

	first := mustRefresh(t, engine, s.RefreshToken.Token)
	if first.Outcome != OutcomeOK {
		t.Fatalf("refresh: %v", first.Outcome)
	}

	clock.Advance(2 * time.Hour)
	for name, tok := range map[string]string{
		"current":  first.Session.RefreshToken.Token,
		"previous": s.RefreshToken.Token,
	} {
		res := mustRefresh(t, engine, tok)
		if res.Outcome != OutcomeUnauthorised {
			t.Fatalf("%s expired token: expected Unauthorised, got %v", name, res.Outcome)
		}
		if res.Message != "refresh token expired" {
			t.Fatalf("%s expired token: message %q", name, res.Message)
		}
	}
}

// A rotation late in a second must not shorten the grace window that follows it.
func testGraceWindowFromSubSecondRotation(t *testing.T, store session.Store) {
	engine, clock := newTestEngine(t, store, testConfig())
	clock.Advance(900 * time.Millisecond)

	s := mustCreate(t, engine, "U1")
	first := mustRefresh(t, engine, s.RefreshToken.Token)
	if first.Outcome != OutcomeOK {
		t.Fatalf("refresh T0: expected OK, got %v (%s)", first.Outcome, first.Message)
	}

	clock.Advance(4500 * time.Millisecond)
	replay := mustRefresh(t, engine, s.RefreshToken.Token)
	if replay.Outcome != OutcomeOK || !replay.Session.Reissued {
		t.Fatalf("replay 4.5s after rotation: expected reissue, got %v (%s)", replay.Outcome, replay.Message)
	}
	if replay.Session.RefreshToken.Token != first.Session.RefreshToken.Token {
		t.Fatal("reissue must return the winner's refresh token")
	}

	rec, err := engine.GetSession(context.Background(), s.Handle)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if rec.Status != session.StatusActive || rec.Generation != 1 {
		t.Fatalf("session must stay active at generation 1, got %+v", rec)
	}
}
