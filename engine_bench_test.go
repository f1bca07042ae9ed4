package goSession

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goSession/session"
)

func BenchmarkCreateSession(b *testing.B) {
	engine, cleanup := newBenchmarkEngine(b, false)
	defer cleanup()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.CreateSession(context.Background(), "alice"); err != nil {
			b.Fatalf("create failed: %v", err)
		}
	}
}

func BenchmarkRefreshMemory(b *testing.B) {
	engine, cleanup := newBenchmarkEngine(b, false)
	defer cleanup()
	benchmarkRefresh(b, engine)
}

func BenchmarkRefreshRedis(b *testing.B) {
	engine, cleanup := newBenchmarkEngine(b, true)
	defer cleanup()
	benchmarkRefresh(b, engine)
}

func benchmarkRefresh(b *testing.B, engine *Engine) {
	info, err := engine.CreateSession(context.Background(), "alice")
	if err != nil {
		b.Fatalf("create failed: %v", err)
	}
	refresh := info.RefreshToken.Token

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		res, err := engine.Refresh(context.Background(), refresh)
		if err != nil {
			b.Fatalf("refresh failed: %v", err)
		}
		if res.Outcome != OutcomeOK {
			b.Fatalf("refresh outcome %v: %s", res.Outcome, res.Message)
		}
		refresh = res.Session.RefreshToken.Token
	}
}

func newBenchmarkEngine(b *testing.B, useRedis bool) (*Engine, func()) {
	b.Helper()

	builder := New().WithConfig(testConfig())
	cleanup := func() {}
	if useRedis {
		mr, err := miniredis.Run()
		if err != nil {
			b.Fatalf("miniredis: %v", err)
		}
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		builder.WithRedis(rdb)
		cleanup = func() {
			_ = rdb.Close()
			mr.Close()
		}
	} else {
		builder.WithStore(session.NewMemoryStore())
	}

	engine, err := builder.Build()
	if err != nil {
		cleanup()
		b.Fatalf("build failed: %v", err)
	}
	return engine, func() {
		engine.Close()
		cleanup()
	}
}
