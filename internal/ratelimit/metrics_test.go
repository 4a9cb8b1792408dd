package ratelimit

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestRecorderRingEviction(t *testing.T) {
	r := NewRecorder(nil)
	for i := 0; i < ringSize+10; i++ {
		r.RecordExceeded(Event{Category: CategorySensitive, Endpoint: fmt.Sprintf("ep-%d", i), IP: "203.0.*.*"})
	}
	evs := r.RecentEvents(ringSize + 100)
	if len(evs) != ringSize {
		t.Fatalf("ring holds %d events, want %d", len(evs), ringSize)
	}
	if evs[0].Endpoint != "ep-10" {
		t.Errorf("oldest retained event = %q, want ep-10 (first 10 evicted)", evs[0].Endpoint)
	}
	if evs[len(evs)-1].Endpoint != fmt.Sprintf("ep-%d", ringSize+9) {
		t.Errorf("newest event = %q", evs[len(evs)-1].Endpoint)
	}
}

func TestRecorderRecentEventsLimit(t *testing.T) {
	r := NewRecorder(nil)
	for i := 0; i < 30; i++ {
		r.RecordBypass("ep", "10.0.*.*", BypassReasonAPIKey, "")
	}
	if got := len(r.RecentEvents(20)); got != 20 {
		t.Errorf("RecentEvents(20) returned %d", got)
	}
}

func TestRecorderHealthThresholds(t *testing.T) {
	tests := []struct {
		exceeded int
		want     string
	}{
		{0, "healthy"},
		{100, "healthy"},
		{101, "warning"},
		{500, "warning"},
		{501, "critical"},
	}
	for _, tt := range tests {
		r := NewRecorder(nil)
		for i := 0; i < tt.exceeded; i++ {
			r.RecordExceeded(Event{Category: CategoryToken, Endpoint: "auth.refresh", IP: "10.0.*.*"})
		}
		h := r.Health()
		if h.Status != tt.want {
			t.Errorf("%d exceeded: status = %q, want %q", tt.exceeded, h.Status, tt.want)
		}
		if h.ExceededLastHour != tt.exceeded {
			t.Errorf("%d exceeded: counted %d", tt.exceeded, h.ExceededLastHour)
		}
	}
}

func TestRecorderHealthIgnoresOldEvents(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	r := NewRecorder(nil)
	r.nowF = func() time.Time { return now }

	r.RecordExceeded(Event{Time: now.Add(-2 * time.Hour), Category: CategorySensitive, Endpoint: "auth.login", IP: "a"})
	r.RecordExceeded(Event{Time: now.Add(-10 * time.Minute), Category: CategorySensitive, Endpoint: "auth.login", IP: "b"})

	h := r.Health()
	if h.ExceededLastHour != 1 {
		t.Errorf("exceededLastHour = %d, want 1 (stale event ignored)", h.ExceededLastHour)
	}
}

func TestRecorderTopOffenders(t *testing.T) {
	r := NewRecorder(nil)
	counts := map[string]int{"ip-a": 7, "ip-b": 3, "ip-c": 5, "ip-d": 1, "ip-e": 2, "ip-f": 2}
	for ip, n := range counts {
		for i := 0; i < n; i++ {
			r.RecordExceeded(Event{Category: CategoryStandard, Endpoint: "user.profile", IP: ip})
		}
	}
	h := r.Health()
	if len(h.TopOffenders) != 5 {
		t.Fatalf("top offenders = %d entries, want 5", len(h.TopOffenders))
	}
	if h.TopOffenders[0].IP != "ip-a" || h.TopOffenders[0].Count != 7 {
		t.Errorf("top offender = %+v", h.TopOffenders[0])
	}
	// Ties break on IP so the ordering is stable.
	if h.TopOffenders[3].IP != "ip-e" || h.TopOffenders[4].IP != "ip-f" {
		t.Errorf("tie ordering = %+v", h.TopOffenders[3:])
	}
}

func TestRecorderSnapshot(t *testing.T) {
	r := NewRecorder(nil)
	r.RecordExceeded(Event{Category: CategorySensitive, Endpoint: "auth.login", IP: "a"})
	r.RecordExceeded(Event{Category: CategorySensitive, Endpoint: "auth.login", IP: "a"})
	r.RecordBypass("auth.refresh", "b", BypassReasonAPIKey, "")
	r.RecordSuccess(CategoryStandard, "user.profile", 42)

	snap := r.JSON()
	if snap.ExceededByCategory[CategorySensitive] != 2 {
		t.Errorf("exceededByCategory = %v", snap.ExceededByCategory)
	}
	if snap.ExceededByEndpoint["auth.login"] != 2 {
		t.Errorf("exceededByEndpoint = %v", snap.ExceededByEndpoint)
	}
	if snap.BypassTotal != 1 || snap.BypassByReason[BypassReasonAPIKey] != 1 {
		t.Errorf("bypass counters = %d / %v", snap.BypassTotal, snap.BypassByReason)
	}
	if snap.SuccessTotal != 1 {
		t.Errorf("successTotal = %d", snap.SuccessTotal)
	}
	if snap.RemainingByCategory[CategoryStandard] != 42 {
		t.Errorf("remainingByCategory = %v", snap.RemainingByCategory)
	}
	if len(snap.RecentEvents) != 3 {
		t.Errorf("recentEvents = %d entries", len(snap.RecentEvents))
	}
}

func TestRecorderPrometheusText(t *testing.T) {
	r := NewRecorder(nil)
	r.RecordExceeded(Event{Category: CategoryToken, Endpoint: "auth.refresh", IP: "a"})
	r.RecordBypass("auth.login", "b", BypassReasonAudience, "")
	r.RecordSuccess(CategorySensitive, "auth.login", 3)

	text := r.PrometheusText()
	for _, want := range []string{
		`fanz_rate_limit_exceeded_total{category="token"} 1`,
		`fanz_rate_limit_exceeded_total{category="sensitive"} 0`,
		`fanz_rate_limit_endpoint_exceeded_total{endpoint="auth.refresh"} 1`,
		`fanz_rate_limit_success_total 1`,
		`fanz_rate_limit_bypass_total 1`,
		`fanz_rate_limit_bypass_reason_total{reason="jwt-aud"} 1`,
		`fanz_rate_limit_remaining{category="sensitive"} 3`,
		"# TYPE fanz_rate_limit_exceeded_total counter",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("exposition missing %q:\n%s", want, text)
		}
	}
}
