package internaldefs

import (
	"strings"
	"testing"

	goSession "github.com/MrEthical07/goSession"
)

func TestCounterDefsCoverEveryCounter(t *testing.T) {
	seen := map[goSession.MetricID]bool{}
	names := map[string]bool{}
	for _, def := range CounterDefs {
		if seen[def.ID] {
			t.Fatalf("duplicate counter id %d", def.ID)
		}
		if names[def.Name] {
			t.Fatalf("duplicate counter name %s", def.Name)
		}
		if !strings.HasPrefix(def.Name, "gosession_") || !strings.HasSuffix(def.Name, "_total") {
			t.Fatalf("counter name %s does not follow gosession_*_total", def.Name)
		}
		seen[def.ID] = true
		names[def.Name] = true
	}

	snap := goSession.NewMetrics(goSession.MetricsConfig{Enabled: true}).Snapshot()
	for id := range snap.Counters {
		if !seen[id] {
			t.Fatalf("counter %d has no exporter definition", id)
		}
	}
}

func TestBucketHelpers(t *testing.T) {
	if len(HistogramBounds) != len(HistogramBoundSuffix) {
		t.Fatal("bounds and suffixes differ in length")
	}

	norm := NormalizeBuckets([]uint64{1, 2, 3})
	if norm != [8]uint64{1, 2, 3, 0, 0, 0, 0, 0} {
		t.Fatalf("NormalizeBuckets = %v", norm)
	}
	cum := CumulativeBuckets([8]uint64{1, 1, 1, 1, 1, 1, 1, 1})
	if cum[7] != 8 || cum[0] != 1 || cum[3] != 4 {
		t.Fatalf("CumulativeBuckets = %v", cum)
	}
}
