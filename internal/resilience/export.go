package resilience

import (
	"encoding/json"
	"fmt"
	"os"
)

// exportSnapshot is the on-disk shape written by Tracker.Export, mirroring
// Summary but with JSON-friendly field names.
type exportSnapshot struct {
	Total  int64            `json:"total"`
	ByKind map[Kind]int64   `json:"by_kind"`
	Rates  map[Kind]float64 `json:"rates_per_minute"`
	Recent []Record         `json:"recent"`
}

// Export writes a snapshot of the current summary (most recent 1000 records)
// to path as JSON.
func (t *Tracker) Export(path string) error {
	s := t.Summary(ringCapacity)
	snap := exportSnapshot{Total: s.Total, ByKind: s.ByKind, Rates: s.Rates, Recent: s.Recent}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tracker snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write tracker snapshot to %s: %w", path, err)
	}
	return nil
}
