// Command authguard-loadtest measures session create, validate and revoke
// throughput against Redis (or an embedded miniredis when none is given).
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authguard/session"
)

func main() {
	var (
		sessions    = flag.Int("sessions", 20000, "sessions to create in the seed phase")
		users       = flag.Int("users", 2000, "distinct users the sessions are spread over")
		concurrency = flag.Int("concurrency", 128, "concurrent workers")
		ops         = flag.Int("ops", 100000, "validations in the validate phase")
		lifetime    = flag.Duration("lifetime", 24*time.Hour, "session lifetime")
		redisAddr   = flag.String("redis-addr", "", "redis address; REDIS_ADDR or an embedded miniredis when empty")
		prefix      = flag.String("prefix", "agload", "session key prefix")
	)
	flag.Parse()

	if *sessions <= 0 || *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, users, concurrency and ops must be > 0")
		os.Exit(2)
	}

	client, cleanup, err := connect(*redisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	ctx := context.Background()
	mgr := session.NewManager(session.NewStore(client, *prefix, time.Hour), nil, session.DefaultConfig(), nil, nil)

	tokens := make([]string, *sessions)
	create := runPhase(*sessions, *concurrency, func(i int, _ *rand.Rand) error {
		issued, err := mgr.Create(ctx, fmt.Sprintf("user-%d", i%*users), *lifetime, "198.51.100.1", "authguard-loadtest")
		if err == nil {
			tokens[i] = issued.Token
		}
		return err
	})

	validate := runPhase(*ops, *concurrency, func(_ int, r *rand.Rand) error {
		_, err := mgr.Validate(ctx, tokens[r.Intn(len(tokens))])
		return err
	})

	revoke := runPhase(len(tokens)/2, *concurrency, func(i int, _ *rand.Rand) error {
		return mgr.Revoke(ctx, tokens[i])
	})

	fmt.Println("---- results ----")
	printStats("create", create)
	printStats("validate", validate)
	printStats("revoke", revoke)
}

func connect(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

// runPhase calls op n times across workers and records each latency.
func runPhase(n, workers int, op func(i int, r *rand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, n)
	)

	start := time.Now()
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			local := make([]time.Duration, 0, n/workers+1)
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= n {
					break
				}
				t0 := time.Now()
				if err := op(i, r); err != nil {
					atomic.AddInt64(&failures, 1)
				}
				local = append(local, time.Since(t0))
			}
			mu.Lock()
			latencies = append(latencies, local...)
			mu.Unlock()
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
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
		return phaseStats{total: total, failures: failures}
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

// percentile expects sorted samples.
func percentile(samples []time.Duration, p int) time.Duration {
	switch {
	case len(samples) == 0:
		return 0
	case p <= 0:
		return samples[0]
	case p >= 100:
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%-8s ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name, s.ops, s.failures,
		s.total.Round(time.Millisecond), s.opsPerS,
		s.p50.Round(time.Microsecond), s.p95.Round(time.Microsecond), s.p99.Round(time.Microsecond),
	)
}
