package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"flag"
	"fmt"
	mrand "math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	goSession "github.com/MrEthical07/goSession"
)

type sessionState struct {
	handle    string
	refresh   string
	rotations uint64
	mu        sync.Mutex
}

func main() {
	var (
		sessions    = flag.Int("sessions", 10000, "number of sessions to seed")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 50000, "operations per phase (get + refresh)")
		races       = flag.Int("races", 1000, "sessions refreshed by several callers at once")
		fanout      = flag.Int("fanout", 8, "callers per raced session")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "gs-load", "session key prefix")
	)
	flag.Parse()

	if *sessions <= 0 || *concurrency <= 0 || *ops <= 0 || *races < 0 || *fanout <= 1 {
		fmt.Fprintln(os.Stderr, "sessions, concurrency and ops must be > 0, races >= 0, fanout > 1")
		os.Exit(2)
	}
	if *races > *sessions {
		*races = *sessions
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	engine, err := buildEngine(client, *prefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build failed: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	states := make([]sessionState, *sessions)
	fmt.Printf("seeding %d sessions...\n", *sessions)
	startSeed := time.Now()
	for i := 0; i < *sessions; i++ {
		info, err := engine.CreateSession(ctx, fmt.Sprintf("user-%d", i%1000))
		if err != nil {
			fmt.Fprintf(os.Stderr, "create failed: %v\n", err)
			os.Exit(1)
		}
		states[i] = sessionState{handle: info.Handle, refresh: info.RefreshToken.Token}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	getStats := runGetPhase(ctx, engine, states, *ops, *concurrency)
	refreshStats := runRefreshPhase(ctx, engine, states, *ops, *concurrency)
	raceStats, forks := runRacePhase(ctx, engine, states[:*races], *fanout)
	lineageErrors := verifyLineage(ctx, engine, states)

	fmt.Println("---- results ----")
	printStats("get", getStats)
	printStats("refresh", refreshStats)
	printStats("race", raceStats)

	snap := engine.MetricsSnapshot()
	fmt.Printf("metrics: success=%d reissued=%d conflict_retry=%d unauthorised=%d theft=%d failure=%d\n",
		snap.Counters[goSession.MetricRefreshSuccess],
		snap.Counters[goSession.MetricRefreshReissued],
		snap.Counters[goSession.MetricRefreshConflictRetry],
		snap.Counters[goSession.MetricRefreshUnauthorised],
		snap.Counters[goSession.MetricRefreshTheftDetected],
		snap.Counters[goSession.MetricRefreshFailure],
	)
	fmt.Printf("forks=%d lineage_errors=%d\n", forks, lineageErrors)

	if forks > 0 || lineageErrors > 0 || refreshStats.failures > 0 || raceStats.failures > 0 {
		os.Exit(1)
	}
}

func buildEngine(client redis.UniversalClient, prefix string) (*goSession.Engine, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	cfg := goSession.DefaultConfig()
	cfg.Token.PrivateKey = priv
	cfg.Session.RedisPrefix = prefix
	cfg.Session.GraceWindow = 30 * time.Second

	return goSession.New().
		WithConfig(cfg).
		WithRedis(client).
		WithMetricsEnabled(true).
		WithLatencyHistograms(true).
		Build()
}

func runGetPhase(ctx context.Context, engine *goSession.Engine, states []sessionState, ops, concurrency int) phaseStats {
	rec := newRecorder(ops)

	start := time.Now()
	var wg sync.WaitGroup
	var cursor int64
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := mrand.New(mrand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				idx := r.Intn(len(states))
				t0 := time.Now()
				_, err := engine.GetSession(ctx, states[idx].handle)
				rec.add(time.Since(t0), err != nil)
			}
		}(w)
	}
	wg.Wait()
	return rec.stats(time.Since(start))
}

// runRefreshPhase rotates random sessions, one caller per session at a time.
func runRefreshPhase(ctx context.Context, engine *goSession.Engine, states []sessionState, ops, concurrency int) phaseStats {
	rec := newRecorder(ops)

	start := time.Now()
	var wg sync.WaitGroup
	var cursor int64
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := mrand.New(mrand.NewSource(time.Now().UnixNano() + int64(worker)*6151))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				state := &states[r.Intn(len(states))]

				state.mu.Lock()
				t0 := time.Now()
				res, err := engine.Refresh(ctx, state.refresh)
				d := time.Since(t0)
				ok := err == nil && res.Outcome == goSession.OutcomeOK
				if ok {
					state.refresh = res.Session.RefreshToken.Token
					if !res.Session.Reissued {
						state.rotations++
					}
				}
				state.mu.Unlock()

				rec.add(d, !ok)
			}
		}(w)
	}
	wg.Wait()
	return rec.stats(time.Since(start))
}

// runRacePhase presents each session's current refresh token from fanout
// callers at once. Exactly one caller may rotate and every caller must end up
// holding the same triple; anything else is a fork.
func runRacePhase(ctx context.Context, engine *goSession.Engine, states []sessionState, fanout int) (phaseStats, int64) {
	rec := newRecorder(len(states) * fanout)
	var forks int64

	start := time.Now()
	for i := range states {
		state := &states[i]

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			tokens  = make(map[string]struct{}, 1)
			winners int
		)
		for c := 0; c < fanout; c++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				t0 := time.Now()
				res, err := engine.Refresh(ctx, state.refresh)
				d := time.Since(t0)
				ok := err == nil && res.Outcome == goSession.OutcomeOK
				rec.add(d, !ok)
				if !ok {
					return
				}
				mu.Lock()
				tokens[res.Session.RefreshToken.Token] = struct{}{}
				if !res.Session.Reissued {
					winners++
				}
				mu.Unlock()
			}()
		}
		wg.Wait()

		if winners != 1 || len(tokens) != 1 {
			forks++
			continue
		}
		for tok := range tokens {
			state.refresh = tok
		}
		state.rotations++
	}
	return rec.stats(time.Since(start)), forks
}

// verifyLineage checks that every stored generation equals the number of
// rotations observed by callers.
func verifyLineage(ctx context.Context, engine *goSession.Engine, states []sessionState) int {
	errs := 0
	for i := range states {
		sess, err := engine.GetSession(ctx, states[i].handle)
		if err != nil || sess.Generation != states[i].rotations {
			errs++
		}
	}
	return errs
}

type recorder struct {
	mu        sync.Mutex
	latencies []time.Duration
	failures  int64
}

func newRecorder(capacity int) *recorder {
	return &recorder{latencies: make([]time.Duration, 0, capacity)}
}

func (r *recorder) add(d time.Duration, failed bool) {
	r.mu.Lock()
	r.latencies = append(r.latencies, d)
	if failed {
		r.failures++
	}
	r.mu.Unlock()
}

func (r *recorder) stats(total time.Duration) phaseStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return computeStats(total, r.latencies, r.failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
