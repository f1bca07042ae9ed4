package internaldefs

import (
	"sort"

	goSession "github.com/MrEthical07/goSession"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   goSession.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for exporters.
type HistogramDef struct {
	ID   goSession.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter exported for [goSession.Engine.AuditDropped].
const AuditDroppedName = "gosession_audit_dropped_total"

// AuditDroppedByTypeName is the per event type breakdown of AuditDroppedName,
// labelled with AuditEventTypeLabel.
const AuditDroppedByTypeName = "gosession_audit_dropped_events_total"

// AuditEventTypeLabel labels AuditDroppedByTypeName series.
const AuditEventTypeLabel = "event_type"

// SortedEventTypes returns the keys of counts in ascending order so exporters
// render series deterministically.
func SortedEventTypes(counts map[string]uint64) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: goSession.MetricSessionCreated, Name: "gosession_session_created_total", Help: "Created sessions."},
	{ID: goSession.MetricSessionRevoked, Name: "gosession_session_revoked_total", Help: "Sessions revoked explicitly or in bulk."},
	{ID: goSession.MetricRefreshSuccess, Name: "gosession_refresh_success_total", Help: "Refreshes that advanced a session generation."},
	{ID: goSession.MetricRefreshReissued, Name: "gosession_refresh_reissued_total", Help: "Grace-window replays answered with the current token triple."},
	{ID: goSession.MetricRefreshUnauthorised, Name: "gosession_refresh_unauthorised_total", Help: "Refreshes rejected without a theft verdict."},
	{ID: goSession.MetricRefreshTheftDetected, Name: "gosession_refresh_theft_detected_total", Help: "Sessions revoked after replay of a superseded refresh token."},
	{ID: goSession.MetricRefreshConflictRetry, Name: "gosession_refresh_conflict_retry_total", Help: "Refreshes that lost the first compare-and-swap race."},
	{ID: goSession.MetricRefreshFailure, Name: "gosession_refresh_failure_total", Help: "Refreshes that ended in a transient error."},
	{ID: goSession.MetricRefreshRateLimited, Name: "gosession_refresh_rate_limited_total", Help: "Refreshes rejected by the refresh throttle."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goSession.MetricRefreshLatency, Name: "gosession_refresh_latency_seconds", Help: "Refresh latency histogram."},
}

// HistogramBounds are the Prometheus le labels of the engine's eight buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix are instrument name suffixes matching HistogramBounds,
// for backends that cannot carry labels.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed eight-bucket array, zero-filling
// missing buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into cumulative counts.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
