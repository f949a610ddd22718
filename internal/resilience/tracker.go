package resilience

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	ringCapacity      = 1000
	alertWindow       = 5 * time.Minute
	alertRateCountMax = 10
	alertPerMinuteMax = 5
	alertCooldown     = 5 * time.Minute
)

// Severity classifies a recorded error for the error monitor.
type Severity string

const (
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// Record is one entry in the Tracker's ring buffer.
type Record struct {
	ID        string
	Timestamp time.Time
	Kind      Kind
	Message   string
	Context   string
	Severity  Severity
}

// AlertSink receives alerts when a kind crosses the alert policy thresholds.
// Implementations must not block; Tracker invokes the sink inline under its
// own lock-free alert path, so a slow sink should enqueue internally.
type AlertSink interface {
	Alert(kind Kind, count int, ratePerMinute float64)
}

// LogAlertSink is the default sink: it writes one log line per alert.
type LogAlertSink struct{}

func (LogAlertSink) Alert(kind Kind, count int, ratePerMinute float64) {
	log.Printf("[TRACKER] alert kind=%s count_5m=%d rate_per_min=%.2f", kind, count, ratePerMinute)
}

// Tracker is an explicitly-constructed, injected dependency (not a hidden
// process-wide singleton accessed by name) maintaining total and per-kind
// counters, a bounded ring of recent records, and an alert cooldown per
// kind. A single instance is created at startup and passed to every
// component that can fail.
type Tracker struct {
	mu sync.Mutex

	total     int64
	byKind    map[Kind]int64
	ring      []Record
	ringStart int // index of the oldest record in ring
	ringLen   int

	lastAlert map[Kind]time.Time
	sink      AlertSink
}

// NewTracker constructs a Tracker. A nil sink defaults to LogAlertSink.
func NewTracker(sink AlertSink) *Tracker {
	if sink == nil {
		sink = LogAlertSink{}
	}
	return &Tracker{
		byKind:    make(map[Kind]int64),
		ring:      make([]Record, ringCapacity),
		lastAlert: make(map[Kind]time.Time),
		sink:      sink,
	}
}

// Record appends a new error occurrence, evicting the oldest ring entry if
// full, and evaluates the alert policy for kind.
func (t *Tracker) Record(kind Kind, err error, context string, severity Severity) {
	rec := Record{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Kind:      kind,
		Context:   context,
		Severity:  severity,
	}
	if err != nil {
		rec.Message = err.Error()
	}

	t.mu.Lock()
	t.total++
	t.byKind[kind]++
	idx := (t.ringStart + t.ringLen) % ringCapacity
	if t.ringLen < ringCapacity {
		t.ringLen++
	} else {
		t.ringStart = (t.ringStart + 1) % ringCapacity
	}
	t.ring[idx] = rec

	count5m, ratePerMin := t.rateLocked(kind, rec.Timestamp)
	fire := false
	if count5m > alertRateCountMax || ratePerMin > alertPerMinuteMax {
		last, seen := t.lastAlert[kind]
		if !seen || rec.Timestamp.Sub(last) >= alertCooldown {
			t.lastAlert[kind] = rec.Timestamp
			fire = true
		}
	}
	t.mu.Unlock()

	if fire {
		t.sink.Alert(kind, count5m, ratePerMin)
	}
}

// rateLocked must be called with mu held. It returns the count of records of
// kind within the last 5 minutes and the equivalent per-minute rate.
func (t *Tracker) rateLocked(kind Kind, now time.Time) (int, float64) {
	cutoff := now.Add(-alertWindow)
	count := 0
	for i := 0; i < t.ringLen; i++ {
		idx := (t.ringStart + i) % ringCapacity
		r := t.ring[idx]
		if r.Kind == kind && !r.Timestamp.Before(cutoff) {
			count++
		}
	}
	return count, float64(count) / alertWindow.Minutes()
}

// Summary is the snapshot returned by Summary().
type Summary struct {
	Total   int64
	ByKind  map[Kind]int64
	Rates   map[Kind]float64 // errors/minute over the last 5 minutes
	Recent  []Record         // most recent first
}

// Summary returns totals, per-kind rate over the last 5 minutes, and the
// most recent entries (newest first), as a consistent point-in-time
// snapshot.
func (t *Tracker) Summary(recentN int) Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	byKind := make(map[Kind]int64, len(t.byKind))
	for k, v := range t.byKind {
		byKind[k] = v
	}
	rates := make(map[Kind]float64, len(t.byKind))
	for k := range t.byKind {
		_, rate := t.rateLocked(k, now)
		rates[k] = rate
	}

	if recentN > t.ringLen {
		recentN = t.ringLen
	}
	recent := make([]Record, 0, recentN)
	for i := 0; i < recentN; i++ {
		idx := (t.ringStart + t.ringLen - 1 - i + ringCapacity) % ringCapacity
		recent = append(recent, t.ring[idx])
	}

	return Summary{Total: t.total, ByKind: byKind, Rates: rates, Recent: recent}
}

// Clear resets all counters, the ring and alert cooldowns.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total = 0
	t.byKind = make(map[Kind]int64)
	t.ring = make([]Record, ringCapacity)
	t.ringStart = 0
	t.ringLen = 0
	t.lastAlert = make(map[Kind]time.Time)
}
