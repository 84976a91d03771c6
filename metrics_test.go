package authguard

import (
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricLoginSuccess)

	if got := m.Value(MetricLoginSuccess); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 16
	const perG = 2000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricSessionCreated)
			}
		}()
	}
	wg.Wait()

	if got, want := m.Value(MetricSessionCreated), uint64(goroutines*perG); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsHistogramBuckets(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})

	for _, d := range []time.Duration{
		time.Millisecond,
		10 * time.Millisecond,
		20 * time.Millisecond,
		50 * time.Millisecond,
		99 * time.Millisecond,
		250 * time.Millisecond,
		400 * time.Millisecond,
		2 * time.Second,
	} {
		m.Observe(MetricValidateLatency, d)
	}

	buckets := m.Snapshot().Histograms[MetricValidateLatency]
	if len(buckets) != 8 {
		t.Fatalf("expected 8 buckets, got %d", len(buckets))
	}
	for i, v := range buckets {
		if v != 1 {
			t.Fatalf("bucket %d expected 1, got %d", i, v)
		}
	}
}

func TestMetricsHistogramOffByDefault(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Observe(MetricValidateLatency, time.Millisecond)
	if _, ok := m.Snapshot().Histograms[MetricValidateLatency]; ok {
		t.Fatal("histogram must be absent when latency histograms are disabled")
	}
}

func TestEngineCountsLoginOutcomes(t *testing.T) {
	te := newTestEngine(t, nil)
	te.register(t, "alice@example.com")

	te.login(t, "alice@example.com")
	wantKind(t, te.Login(reqCtx(), LoginRequest{Email: "alice@example.com", Password: "wrong password"}), KindInvalidCredentials)
	wantKind(t, te.Login(reqCtx(), LoginRequest{Email: "nobody@example.com", Password: "wrong password"}), KindInvalidCredentials)

	snap := te.MetricsSnapshot()
	if snap.Counters[MetricLoginSuccess] != 1 || snap.Counters[MetricLoginFailure] != 2 {
		t.Fatalf("unexpected login counters: success=%d failure=%d",
			snap.Counters[MetricLoginSuccess], snap.Counters[MetricLoginFailure])
	}
	if snap.Counters[MetricRegisterSuccess] != 1 || snap.Counters[MetricSessionCreated] != 1 {
		t.Fatalf("unexpected counters: %+v", snap.Counters)
	}
}

func TestNilEngineSnapshot(t *testing.T) {
	var e *Engine
	snap := e.MetricsSnapshot()
	if snap.Counters == nil || snap.Histograms == nil {
		t.Fatal("nil engine must return empty, non-nil maps")
	}
	if e.AuditDropped() != 0 {
		t.Fatal("nil engine must report zero drops")
	}
}
