package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveHTTPRequest(t *testing.T) {
	c := New()
	c.ObserveHTTPRequest("compile", "POST", 200, 10*time.Millisecond)
	c.ObserveHTTPRequest("compile", "POST", 502, 20*time.Millisecond)

	if got := testutil.ToFloat64(c.httpRequests.WithLabelValues("compile", "POST", "200")); got != 1 {
		t.Fatalf("expected 1 ok request, got %v", got)
	}
	if got := testutil.ToFloat64(c.httpErrors.WithLabelValues("compile", "POST")); got != 1 {
		t.Fatalf("expected 1 error, got %v", got)
	}
	if n := testutil.CollectAndCount(c.httpLatency); n != 1 {
		t.Fatalf("expected one latency series, got %d", n)
	}
}

func TestPipelineCounters(t *testing.T) {
	c := New()
	c.ObserveDiscovery("network")
	c.ObserveDiscovery("memory")
	c.ObserveDiscovery("memory")
	c.ObserveOutcome("protocol", "executed")
	c.ObserveDispatch("write", false)
	c.ObserveTask("failed")
	c.ObserveStage("extract", time.Millisecond)

	if got := testutil.ToFloat64(c.discovery.WithLabelValues("memory")); got != 2 {
		t.Fatalf("expected 2 memory hits, got %v", got)
	}
	if got := testutil.ToFloat64(c.dispatches.WithLabelValues("write", "error")); got != 1 {
		t.Fatalf("expected 1 failed dispatch, got %v", got)
	}
	if got := testutil.ToFloat64(c.outcomes.WithLabelValues("protocol", "executed")); got != 1 {
		t.Fatalf("expected 1 outcome, got %v", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.ObserveHTTPRequest("x", "GET", 200, time.Millisecond)
	c.ObserveDiscovery("network")
	c.ObserveTask("completed")
	if c.Registry() != nil {
		t.Fatal("expected nil registry")
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := New()
	c.ObserveOutcome("legacy", "failed")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `processmcp_pipeline_outcomes_total{approach="legacy",status="failed"} 1`) {
		t.Fatalf("metric missing from exposition:\n%s", body)
	}
}
