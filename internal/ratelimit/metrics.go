package ratelimit

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// ringSize bounds the recent-event buffer; oldest events are evicted first.
const ringSize = 1000

// Health thresholds over the trailing hour of exceeded events.
const (
	healthWarningThreshold  = 100
	healthCriticalThreshold = 500
)

// EventKind distinguishes ring-buffer entries.
type EventKind string

const (
	EventExceeded EventKind = "exceeded"
	EventBypass   EventKind = "bypass"
)

// Event is an immutable record of one limiter decision. IP and UserID are
// stored pre-masked; raw identifiers never enter the recorder.
type Event struct {
	Time         time.Time `json:"time"`
	Kind         EventKind `json:"kind"`
	Category     Category  `json:"category,omitempty"`
	Endpoint     string    `json:"endpoint"`
	IP           string    `json:"ip"`
	UserID       string    `json:"userId,omitempty"`
	Limit        int       `json:"limit,omitempty"`
	Remaining    int       `json:"remaining,omitempty"`
	ResetAt      time.Time `json:"resetAt,omitempty"`
	BypassReason string    `json:"bypassReason,omitempty"`
}

// HealthStatus is derived from the trailing hour of exceeded events.
type HealthStatus struct {
	Status           string           `json:"status"` // healthy | warning | critical
	ExceededLastHour int              `json:"exceededLastHour"`
	ByCategory       map[Category]int `json:"byCategory"`
	TopOffenders     []Offender       `json:"topOffenders"`
}

// Offender is a masked IP and its exceeded-event count in the health window.
type Offender struct {
	IP    string `json:"ip"`
	Count int    `json:"count"`
}

// Recorder is the process-local observability sink for limiter decisions.
// It never blocks or fails the request path; multi-instance deployments get
// per-instance numbers only.
type Recorder struct {
	mu sync.Mutex

	exceededByCategory map[Category]int64
	exceededByEndpoint map[string]int64
	successTotal       int64
	bypassTotal        int64
	bypassByReason     map[string]int64
	remainingGauge     map[Category]int // last observed, not historical

	ring  []Event
	start int
	count int

	logger *slog.Logger
	nowF   func() time.Time
}

// NewRecorder returns an empty Recorder logging through logger. A nil logger
// disables event logging.
func NewRecorder(logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Recorder{
		exceededByCategory: make(map[Category]int64),
		exceededByEndpoint: make(map[string]int64),
		bypassByReason:     make(map[string]int64),
		remainingGauge:     make(map[Category]int),
		ring:               make([]Event, ringSize),
		logger:             logger,
		nowF:               time.Now,
	}
}

// RecordExceeded records one denied decision. ip and userID must already be
// masked by the caller.
func (r *Recorder) RecordExceeded(ev Event) {
	ev.Kind = EventExceeded
	if ev.Time.IsZero() {
		ev.Time = r.nowF()
	}
	r.mu.Lock()
	r.exceededByCategory[ev.Category]++
	r.exceededByEndpoint[ev.Endpoint]++
	r.push(ev)
	r.mu.Unlock()

	r.logger.Warn("rate limit exceeded",
		slog.String("endpoint", ev.Endpoint),
		slog.String("category", string(ev.Category)),
		slog.String("ip", ev.IP),
		slog.String("userId", ev.UserID),
		slog.Int("limit", ev.Limit),
	)
}

// RecordBypass records one auditable bypass decision.
func (r *Recorder) RecordBypass(endpoint, maskedIP, reason, maskedUserID string) {
	ev := Event{
		Time:         r.nowF(),
		Kind:         EventBypass,
		Endpoint:     endpoint,
		IP:           maskedIP,
		UserID:       maskedUserID,
		BypassReason: reason,
	}
	r.mu.Lock()
	r.bypassTotal++
	r.bypassByReason[reason]++
	r.push(ev)
	r.mu.Unlock()

	r.logger.Info("rate limit bypassed",
		slog.String("endpoint", endpoint),
		slog.String("ip", maskedIP),
		slog.String("reason", reason),
		slog.String("userId", maskedUserID),
	)
}

// RecordSuccess records one allowed decision and updates the per-category
// remaining-quota gauge.
func (r *Recorder) RecordSuccess(category Category, endpoint string, remaining int) {
	r.mu.Lock()
	r.successTotal++
	r.remainingGauge[category] = remaining
	r.mu.Unlock()
}

// push appends to the ring buffer, evicting the oldest entry when full.
// Caller holds r.mu.
func (r *Recorder) push(ev Event) {
	if r.count < ringSize {
		r.ring[(r.start+r.count)%ringSize] = ev
		r.count++
		return
	}
	r.ring[r.start] = ev
	r.start = (r.start + 1) % ringSize
}

// events returns ring entries oldest-first. Caller holds r.mu.
func (r *Recorder) events() []Event {
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.ring[(r.start+i)%ringSize])
	}
	return out
}

// RecentEvents returns up to n most recent events, newest last.
func (r *Recorder) RecentEvents(n int) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	evs := r.events()
	if len(evs) > n {
		evs = evs[len(evs)-n:]
	}
	return evs
}

// Health derives the limiter health from exceeded events in the trailing
// hour, with the top-5 offending masked IPs and a per-category breakdown.
func (r *Recorder) Health() HealthStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.nowF().Add(-time.Hour)
	byCategory := make(map[Category]int)
	byIP := make(map[string]int)
	total := 0
	for _, ev := range r.events() {
		if ev.Kind != EventExceeded || ev.Time.Before(cutoff) {
			continue
		}
		total++
		byCategory[ev.Category]++
		byIP[ev.IP]++
	}

	offenders := make([]Offender, 0, len(byIP))
	for ip, n := range byIP {
		offenders = append(offenders, Offender{IP: ip, Count: n})
	}
	sort.Slice(offenders, func(i, j int) bool {
		if offenders[i].Count != offenders[j].Count {
			return offenders[i].Count > offenders[j].Count
		}
		return offenders[i].IP < offenders[j].IP
	})
	if len(offenders) > 5 {
		offenders = offenders[:5]
	}

	status := "healthy"
	switch {
	case total > healthCriticalThreshold:
		status = "critical"
	case total > healthWarningThreshold:
		status = "warning"
	}
	return HealthStatus{
		Status:           status,
		ExceededLastHour: total,
		ByCategory:       byCategory,
		TopOffenders:     offenders,
	}
}

// Snapshot is the JSON view of the recorder: counters, derived health, and
// the most recent events.
type Snapshot struct {
	ExceededByCategory  map[Category]int64 `json:"exceededByCategory"`
	ExceededByEndpoint  map[string]int64   `json:"exceededByEndpoint"`
	SuccessTotal        int64              `json:"successTotal"`
	BypassTotal         int64              `json:"bypassTotal"`
	BypassByReason      map[string]int64   `json:"bypassByReason"`
	RemainingByCategory map[Category]int   `json:"remainingByCategory"`
	Health              HealthStatus       `json:"health"`
	RecentEvents        []Event            `json:"recentEvents"`
}

// JSON returns the counters, health, and the last 20 events.
func (r *Recorder) JSON() Snapshot {
	health := r.Health()
	recent := r.RecentEvents(20)

	r.mu.Lock()
	defer r.mu.Unlock()
	snap := Snapshot{
		ExceededByCategory:  make(map[Category]int64, len(r.exceededByCategory)),
		ExceededByEndpoint:  make(map[string]int64, len(r.exceededByEndpoint)),
		SuccessTotal:        r.successTotal,
		BypassTotal:         r.bypassTotal,
		BypassByReason:      make(map[string]int64, len(r.bypassByReason)),
		RemainingByCategory: make(map[Category]int, len(r.remainingGauge)),
		Health:              health,
		RecentEvents:        recent,
	}
	for k, v := range r.exceededByCategory {
		snap.ExceededByCategory[k] = v
	}
	for k, v := range r.exceededByEndpoint {
		snap.ExceededByEndpoint[k] = v
	}
	for k, v := range r.bypassByReason {
		snap.BypassByReason[k] = v
	}
	for k, v := range r.remainingGauge {
		snap.RemainingByCategory[k] = v
	}
	return snap
}

// PrometheusText renders the counters and gauges in Prometheus text
// exposition format.
func (r *Recorder) PrometheusText() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	b.WriteString("# HELP fanz_rate_limit_exceeded_total Requests denied by the rate limiter.\n")
	b.WriteString("# TYPE fanz_rate_limit_exceeded_total counter\n")
	for _, cat := range []Category{CategorySensitive, CategoryToken, CategoryStandard} {
		fmt.Fprintf(&b, "fanz_rate_limit_exceeded_total{category=%q} %d\n", cat, r.exceededByCategory[cat])
	}

	b.WriteString("# HELP fanz_rate_limit_endpoint_exceeded_total Denials per endpoint.\n")
	b.WriteString("# TYPE fanz_rate_limit_endpoint_exceeded_total counter\n")
	for _, ep := range sortedKeys(r.exceededByEndpoint) {
		fmt.Fprintf(&b, "fanz_rate_limit_endpoint_exceeded_total{endpoint=%q} %d\n", ep, r.exceededByEndpoint[ep])
	}

	b.WriteString("# HELP fanz_rate_limit_success_total Requests allowed by the rate limiter.\n")
	b.WriteString("# TYPE fanz_rate_limit_success_total counter\n")
	fmt.Fprintf(&b, "fanz_rate_limit_success_total %d\n", r.successTotal)

	b.WriteString("# HELP fanz_rate_limit_bypass_total Requests exempted by bypass rules.\n")
	b.WriteString("# TYPE fanz_rate_limit_bypass_total counter\n")
	fmt.Fprintf(&b, "fanz_rate_limit_bypass_total %d\n", r.bypassTotal)

	b.WriteString("# HELP fanz_rate_limit_bypass_reason_total Bypasses per trust rule.\n")
	b.WriteString("# TYPE fanz_rate_limit_bypass_reason_total counter\n")
	for _, reason := range sortedKeys(r.bypassByReason) {
		fmt.Fprintf(&b, "fanz_rate_limit_bypass_reason_total{reason=%q} %d\n", reason, r.bypassByReason[reason])
	}

	b.WriteString("# HELP fanz_rate_limit_remaining Last observed remaining quota per category.\n")
	b.WriteString("# TYPE fanz_rate_limit_remaining gauge\n")
	for _, cat := range []Category{CategorySensitive, CategoryToken, CategoryStandard} {
		fmt.Fprintf(&b, "fanz_rate_limit_remaining{category=%q} %d\n", cat, r.remainingGauge[cat])
	}
	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
