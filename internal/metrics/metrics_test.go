package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.AssertionIssued("ok")
	m.ObserveHTTP("GET", "/", "200", 0.1)
	m.GateStarted()
	m.GateFinished("developer", "granted")
	m.RateLimited("/api/generate-jwt")
	if m.Registry() != nil {
		t.Fatalf("expected nil registry")
	}
}

func TestCountersAndHandler(t *testing.T) {
	m := New("test")
	m.AssertionIssued("ok")
	m.AssertionIssued("ok")
	m.AssertionIssued("config_error")
	m.CORSRejected("/api/generate-jwt")

	if got := testutil.ToFloat64(m.assertions.WithLabelValues("ok")); got != 2 {
		t.Fatalf("expected 2 ok assertions, got %v", got)
	}

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "test_cors_rejects_total") {
		t.Fatalf("expected cors metric in output")
	}
}

func TestSeparateRegistries(t *testing.T) {
	a := New("x")
	b := New("x")
	a.Login("ok")
	if got := testutil.ToFloat64(b.logins.WithLabelValues("ok")); got != 0 {
		t.Fatalf("expected isolated registries, got %v", got)
	}
}
