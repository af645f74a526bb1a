// ABOUTME: Tests for the metrics instruments and nil-safety of the hooks.
// ABOUTME: Scrapes the handler to verify series are actually registered.

package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNilMetricsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveDispatch("browser", time.Second, true)
	m.SetActiveSessions("browser", 3)
	m.ObserveAuth(true)
	m.ObserveProgress("browser", 5)
	if m.Handler() == nil {
		t.Fatal("nil metrics handler should still serve")
	}
}

func TestScrapeContainsSeries(t *testing.T) {
	m := New()
	m.ObserveDispatch("browser", 250*time.Millisecond, true)
	m.ObserveDispatch("websearch", 50*time.Millisecond, false)
	m.SetActiveSessions("browser", 2)
	m.ObserveAuth(false)
	m.ObserveProgress("browser", 3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	if err != nil {
		t.Fatalf("reading scrape body: %v", err)
	}
	text := string(body)

	for _, want := range []string{
		`openmcp_dispatch_total{outcome="success",service="browser"} 1`,
		`openmcp_dispatch_total{outcome="error",service="websearch"} 1`,
		`openmcp_active_sessions{service="browser"} 2`,
		`openmcp_auth_decisions_total{outcome="denied"} 1`,
		`openmcp_progress_events_total{service="browser"} 3`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}
