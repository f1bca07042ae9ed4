package flows

import (
	"context"
	"errors"
	"testing"

	"github.com/MrEthical07/goSession/session"
	"github.com/MrEthical07/goSession/token"
)

func TestCreateMintsGenerationZero(t *testing.T) {
	h := newHarness(t)
	res := h.create(t, "u1")

	if res.Session.Generation != 0 || res.Session.Status != session.StatusActive {
		t.Fatalf("unexpected record: %+v", res.Session)
	}
	if res.Session.CurrentHash != token.Fingerprint(res.Tokens.Refresh.Token) {
		t.Fatal("record must store the fingerprint of the issued refresh token")
	}
	claims, err := h.codec.DecodeRefresh(res.Tokens.Refresh.Token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if claims.SID != res.Session.Handle || claims.Gen != 0 {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestCreateRetriesHandleCollision(t *testing.T) {
	h := newHarness(t)
	if err := h.store.Create(context.Background(), &session.Session{Handle: "taken", UserID: "x", Status: session.StatusActive}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	handles := []string{"taken", "fresh"}
	deps := h.deps.Create
	deps.NewHandle = func() string {
		next := handles[0]
		handles = handles[1:]
		return next
	}

	res, err := RunCreate(context.Background(), "u1", deps)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Session.Handle != "fresh" {
		t.Fatalf("expected fallback handle, got %q", res.Session.Handle)
	}
}

func TestCreateGivesUpOnPersistentCollision(t *testing.T) {
	h := newHarness(t)
	if err := h.store.Create(context.Background(), &session.Session{Handle: "taken", UserID: "x", Status: session.StatusActive}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	deps := h.deps.Create
	deps.NewHandle = func() string { return "taken" }

	if _, err := RunCreate(context.Background(), "u1", deps); !errors.Is(err, ErrHandleSpaceExhausted) {
		t.Fatalf("expected ErrHandleSpaceExhausted, got %v", err)
	}
}

func TestRevokeFlows(t *testing.T) {
	h := newHarness(t)
	a := h.create(t, "u1")
	h.create(t, "u1")

	if err := RunRevoke(context.Background(), a.Session.Handle, h.deps.Revoke); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	n, err := RunRevokeAllForUser(context.Background(), "u1", h.deps.Revoke)
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 remaining active session revoked, got %d", n)
	}
	if err := RunRevoke(context.Background(), "missing", h.deps.Revoke); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
