package resilience

import (
	"errors"
	"sync"
	"testing"
)

type capturingSink struct {
	mu     sync.Mutex
	alerts int
}

func (c *capturingSink) Alert(kind Kind, count int, ratePerMinute float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts++
}

func TestTrackerSummaryCounts(t *testing.T) {
	tr := NewTracker(&capturingSink{})
	for i := 0; i < 3; i++ {
		tr.Record(KindNetwork, errors.New("conn refused"), "ohlcv", SeverityWarning)
	}
	tr.Record(KindStorage, errors.New("write failed"), "embedded", SeverityError)

	s := tr.Summary(10)
	if s.Total != 4 {
		t.Errorf("expected total 4, got %d", s.Total)
	}
	if s.ByKind[KindNetwork] != 3 {
		t.Errorf("expected 3 network errors, got %d", s.ByKind[KindNetwork])
	}
	if len(s.Recent) != 4 {
		t.Errorf("expected 4 recent records, got %d", len(s.Recent))
	}
	if s.Recent[0].Kind != KindStorage {
		t.Errorf("expected most recent record first, got %s", s.Recent[0].Kind)
	}
}

func TestTrackerRingEvictsOldest(t *testing.T) {
	tr := NewTracker(&capturingSink{})
	for i := 0; i < ringCapacity+5; i++ {
		tr.Record(KindTimeout, errors.New("slow"), "depth", SeverityWarning)
	}
	s := tr.Summary(ringCapacity + 10)
	if len(s.Recent) != ringCapacity {
		t.Errorf("expected ring capped at %d, got %d", ringCapacity, len(s.Recent))
	}
	if s.Total != int64(ringCapacity+5) {
		t.Errorf("expected total counter uncapped at %d, got %d", ringCapacity+5, s.Total)
	}
}

func TestTrackerAlertFiresOnceWithinCooldown(t *testing.T) {
	sink := &capturingSink{}
	tr := NewTracker(sink)
	for i := 0; i < alertRateCountMax+2; i++ {
		tr.Record(KindRateLimit, errors.New("429"), "ohlcv", SeverityError)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.alerts == 0 {
		t.Fatalf("expected at least one alert after exceeding the 5-minute threshold")
	}
	if sink.alerts > 1 {
		t.Errorf("expected the cooldown to suppress repeat alerts, got %d", sink.alerts)
	}
}
