package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_HandlerExposesCollectors(t *testing.T) {
	m := New()
	m.Heartbeats.WithLabelValues(ResultOK).Inc()
	m.Expired.Add(2)

	if got := testutil.ToFloat64(m.Expired); got != 2 {
		t.Fatalf("expired = %v, want 2", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		`presence_heartbeats_total{result="ok"} 1`,
		`presence_expired_participants_total 2`,
		`go_goroutines`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	// Two instances must not collide on registration.
	a, b := New(), New()
	a.Expired.Inc()
	if got := testutil.ToFloat64(b.Expired); got != 0 {
		t.Fatalf("registries share state: %v", got)
	}
}
