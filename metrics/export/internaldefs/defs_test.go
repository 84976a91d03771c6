package internaldefs

import (
	"strings"
	"testing"

	"github.com/MrEthical07/authguard"
)

func TestCounterDefsCoverEveryCounter(t *testing.T) {
	seen := make(map[authguard.MetricID]bool, len(CounterDefs))
	names := make(map[string]bool, len(CounterDefs))
	for _, def := range CounterDefs {
		if seen[def.ID] {
			t.Fatalf("metric %d defined twice", def.ID)
		}
		if names[def.Name] {
			t.Fatalf("name %s used twice", def.Name)
		}
		if !strings.HasPrefix(def.Name, "authguard_") || !strings.HasSuffix(def.Name, "_total") {
			t.Fatalf("bad counter name %s", def.Name)
		}
		seen[def.ID] = true
		names[def.Name] = true
	}
	for id := authguard.MetricLoginSuccess; id < authguard.MetricValidateLatency; id++ {
		if !seen[id] {
			t.Fatalf("metric %d has no exported name", id)
		}
	}
}

func TestCumulativeBuckets(t *testing.T) {
	got := CumulativeBuckets(NormalizeBuckets([]uint64{1, 2, 3}))
	want := [8]uint64{1, 3, 6, 6, 6, 6, 6, 6}
	if got != want {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if len(HistogramBounds) != len(got) || len(HistogramBoundSuffix) != len(got) {
		t.Fatal("bucket bounds out of step with the histogram")
	}
}
