package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTelemetryRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	tele, err := New(reg, true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tele.RecordRun("single_shot", "ok", 2*time.Second)
	tele.RecordBackendCall("deepseek", "error")
	tele.RecordBackendCall("deepseek", "error")
	tele.RecordRetry("groq")
	tele.RecordCacheLookup("hit")
	tele.RecordSearch("tavily", "error")
	tele.RecordPromptReload("ok")

	if got := testutil.ToFloat64(tele.runs.WithLabelValues("single_shot", "ok")); got != 1 {
		t.Fatalf("runs = %v", got)
	}
	if got := testutil.ToFloat64(tele.backendCalls.WithLabelValues("deepseek", "error")); got != 2 {
		t.Fatalf("backend calls = %v", got)
	}
	if got := testutil.ToFloat64(tele.retries.WithLabelValues("groq")); got != 1 {
		t.Fatalf("retries = %v", got)
	}
	if got := testutil.ToFloat64(tele.cacheLookups.WithLabelValues("hit")); got != 1 {
		t.Fatalf("cache lookups = %v", got)
	}
	if n := testutil.CollectAndCount(tele.runDuration); n != 1 {
		t.Fatalf("expected one histogram series, got %d", n)
	}

	if _, err := New(reg, true); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}

func TestNilTelemetryIsSafe(t *testing.T) {
	tele, err := New(prometheus.NewRegistry(), false)
	if err != nil || tele != nil {
		t.Fatalf("disabled telemetry should be nil, got %v %v", tele, err)
	}
	tele.RecordRun("auto", "ok", time.Millisecond)
	tele.RecordBackendCall("x", "ok")
	tele.RecordRetry("x")
	tele.RecordCacheLookup("miss")
	tele.RecordSearch("x", "ok")
	tele.RecordPromptReload("error")
}
