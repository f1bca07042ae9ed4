// Package storetest checks that a session.Store honours the store contract. Each
// backend's tests call [Run] with a factory that returns an empty store.
package storetest

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goSession/session"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) session.Store

// Run executes the contract suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("CreateDuplicate", func(t *testing.T) { testCreateDuplicate(t, newStore(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("AdvanceSuccess", func(t *testing.T) { testAdvanceSuccess(t, newStore(t)) })
	t.Run("AdvanceConflict", func(t *testing.T) { testAdvanceConflict(t, newStore(t)) })
	t.Run("AdvanceRevoked", func(t *testing.T) { testAdvanceRevoked(t, newStore(t)) })
	t.Run("AdvanceMissing", func(t *testing.T) { testAdvanceMissing(t, newStore(t)) })
	t.Run("RevokeIdempotent", func(t *testing.T) { testRevokeIdempotent(t, newStore(t)) })
	t.Run("RevokeAllForUser", func(t *testing.T) { testRevokeAllForUser(t, newStore(t)) })
	t.Run("ConcurrentAdvance", func(t *testing.T) { testConcurrentAdvance(t, newStore(t)) })
}

// Hash returns a deterministic fingerprint for tests.
func Hash(s string) [32]byte {
	return sha256.Sum256([]byte(s))
}

// NewSession returns an active generation-0 record.
func NewSession(handle, userID string) *session.Session {
	wall := time.Now()
	now := wall.Unix()
	return &session.Session{
		Handle:              handle,
		UserID:              userID,
		CurrentHash:         Hash(handle + "/0"),
		Status:              session.StatusActive,
		CreatedAt:           now,
		LastRefreshedAt:     now,
		ExpiresAt:           now + 3600,
		LastRefreshedMillis: wall.UnixMilli(),
	}
}

func nextAdvance(sess *session.Session) session.Advance {
	wall := time.Now()
	now := wall.Unix()
	return session.Advance{
		ExpectedGeneration: sess.Generation,
		ExpectedHash:       sess.CurrentHash,
		NewHash:            Hash(fmt.Sprintf("%s/%d", sess.Handle, sess.Generation+1)),
		RefreshedAt:        now,
		RefreshedAtMillis:  wall.UnixMilli() + 1,
		ExpiresAt:          now + 3600,
		UserID:             sess.UserID,
	}
}

func mustCreate(t *testing.T, store session.Store, sess *session.Session) {
	t.Helper()
	if err := store.Create(context.Background(), sess); err != nil {
		t.Fatalf("create %s: %v", sess.Handle, err)
	}
}

func testCreateAndGet(t *testing.T, store session.Store) {
	want := NewSession("h1", "u1")
	mustCreate(t, store, want)

	got, err := store.Get(context.Background(), "h1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if *got != *want {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
	if got.HasPrevious() {
		t.Fatal("new session must not carry a previous fingerprint")
	}
}

func testCreateDuplicate(t *testing.T, store session.Store) {
	mustCreate(t, store, NewSession("h1", "u1"))
	err := store.Create(context.Background(), NewSession("h1", "u2"))
	if !errors.Is(err, session.ErrHandleExists) {
		t.Fatalf("expected ErrHandleExists, got %v", err)
	}
}

func testGetMissing(t *testing.T, store session.Store) {
	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testAdvanceSuccess(t *testing.T, store session.Store) {
	ctx := context.Background()
	sess := NewSession("h1", "u1")
	mustCreate(t, store, sess)

	adv := nextAdvance(sess)
	got, err := store.CompareAndAdvance(ctx, "h1", adv)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if got.Generation != 1 || got.CurrentHash != adv.NewHash || got.PreviousHash != sess.CurrentHash {
		t.Fatalf("unexpected advanced record: %+v", got)
	}
	if got.LastRefreshedAt != adv.RefreshedAt || got.ExpiresAt != adv.ExpiresAt || got.LastRefreshedMillis != adv.RefreshedAtMillis {
		t.Fatalf("timestamps not updated: %+v", got)
	}

	stored, err := store.Get(ctx, "h1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if *stored != *got {
		t.Fatalf("stored record differs from returned record:\n%+v\n%+v", stored, got)
	}
}

func testAdvanceConflict(t *testing.T, store session.Store) {
	ctx := context.Background()
	sess := NewSession("h1", "u1")
	mustCreate(t, store, sess)

	wrongGen := nextAdvance(sess)
	wrongGen.ExpectedGeneration = 5
	if _, err := store.CompareAndAdvance(ctx, "h1", wrongGen); !errors.Is(err, session.ErrConflict) {
		t.Fatalf("expected conflict on generation mismatch, got %v", err)
	}

	wrongHash := nextAdvance(sess)
	wrongHash.ExpectedHash = Hash("other")
	if _, err := store.CompareAndAdvance(ctx, "h1", wrongHash); !errors.Is(err, session.ErrConflict) {
		t.Fatalf("expected conflict on fingerprint mismatch, got %v", err)
	}

	stored, err := store.Get(ctx, "h1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Generation != 0 || stored.CurrentHash != sess.CurrentHash {
		t.Fatalf("conflict must not mutate state: %+v", stored)
	}
}

func testAdvanceRevoked(t *testing.T, store session.Store) {
	ctx := context.Background()
	sess := NewSession("h1", "u1")
	mustCreate(t, store, sess)
	if err := store.Revoke(ctx, "h1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := store.CompareAndAdvance(ctx, "h1", nextAdvance(sess)); !errors.Is(err, session.ErrConflict) {
		t.Fatalf("expected conflict on revoked record, got %v", err)
	}
}

func testAdvanceMissing(t *testing.T, store session.Store) {
	_, err := store.CompareAndAdvance(context.Background(), "nope", nextAdvance(NewSession("nope", "u1")))
	if !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testRevokeIdempotent(t *testing.T, store session.Store) {
	ctx := context.Background()
	mustCreate(t, store, NewSession("h1", "u1"))

	for i := 0; i < 2; i++ {
		if err := store.Revoke(ctx, "h1"); err != nil {
			t.Fatalf("revoke #%d: %v", i+1, err)
		}
	}
	got, err := store.Get(ctx, "h1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Revoked() {
		t.Fatalf("expected revoked status, got %v", got.Status)
	}
	if err := store.Revoke(ctx, "missing"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing handle, got %v", err)
	}
}

func testRevokeAllForUser(t *testing.T, store session.Store) {
	ctx := context.Background()
	mustCreate(t, store, NewSession("a1", "alice"))
	mustCreate(t, store, NewSession("a2", "alice"))
	mustCreate(t, store, NewSession("b1", "bob"))
	if err := store.Revoke(ctx, "a2"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	n, err := store.RevokeAllForUser(ctx, "alice")
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 newly revoked session, got %d", n)
	}
	for _, h := range []string{"a1", "a2"} {
		got, err := store.Get(ctx, h)
		if err != nil {
			t.Fatalf("get %s: %v", h, err)
		}
		if !got.Revoked() {
			t.Fatalf("expected %s revoked", h)
		}
	}
	bob, err := store.Get(ctx, "b1")
	if err != nil {
		t.Fatalf("get b1: %v", err)
	}
	if bob.Revoked() {
		t.Fatal("other users must be untouched")
	}
	if n, err := store.RevokeAllForUser(ctx, "nobody"); err != nil || n != 0 {
		t.Fatalf("expected no-op for unknown user, got %d, %v", n, err)
	}
}

func testConcurrentAdvance(t *testing.T, store session.Store) {
	ctx := context.Background()
	sess := NewSession("h1", "u1")
	mustCreate(t, store, sess)

	const workers = 16
	adv := nextAdvance(sess)
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := store.CompareAndAdvance(ctx, "h1", adv)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, session.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if successes != 1 || conflicts != workers-1 {
		t.Fatalf("expected exactly one winner, got %d successes and %d conflicts", successes, conflicts)
	}
	got, err := store.Get(ctx, "h1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Generation != 1 {
		t.Fatalf("expected generation 1, got %d", got.Generation)
	}
}
