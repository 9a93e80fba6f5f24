package position

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot captures positions at a point in time.
type Snapshot struct {
	Timestamp int64   `json:"timestamp"`
	Positions []Entry `json:"positions"`
}

// Entry is a single instrument position entry.
type Entry struct {
	Instrument   string          `json:"instrument"`
	LongQty      int64           `json:"longQty"`
	ShortQty     int64           `json:"shortQty"`
	LongAvgCost  decimal.Decimal `json:"longAvgCost"`
	ShortAvgCost decimal.Decimal `json:"shortAvgCost"`
}

// Snapshot builds a sorted snapshot of current positions.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	entries := make([]Entry, 0, len(t.positions))
	for _, p := range t.positions {
		entries = append(entries, Entry{
			Instrument:   p.Instrument,
			LongQty:      p.LongQty,
			ShortQty:     p.ShortQty,
			LongAvgCost:  p.LongAvgCost,
			ShortAvgCost: p.ShortAvgCost,
		})
	}
	t.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Instrument < entries[j].Instrument
	})
	return Snapshot{
		Timestamp: time.Now().UTC().UnixNano(),
		Positions: entries,
	}
}

// ApplySnapshot replaces tracker state with the snapshot contents.
func (t *Tracker) ApplySnapshot(snap Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.positions = make(map[string]*Position, len(snap.Positions))
	for _, e := range snap.Positions {
		t.positions[e.Instrument] = &Position{
			Instrument:   e.Instrument,
			LongQty:      e.LongQty,
			ShortQty:     e.ShortQty,
			LongAvgCost:  e.LongAvgCost,
			ShortAvgCost: e.ShortAvgCost,
		}
	}
}

// WriteSnapshot writes a snapshot to disk as JSON.
func WriteSnapshot(path string, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadSnapshot loads a snapshot from disk.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// CompareSnapshots checks whether two snapshots hold the same
// quantities.
func CompareSnapshots(expected, actual Snapshot) error {
	if len(expected.Positions) != len(actual.Positions) {
		return fmt.Errorf("snapshot length mismatch: expected=%d actual=%d", len(expected.Positions), len(actual.Positions))
	}
	want := make(map[string]Entry, len(expected.Positions))
	for _, e := range expected.Positions {
		want[e.Instrument] = e
	}
	for _, e := range actual.Positions {
		w, ok := want[e.Instrument]
		if !ok {
			return fmt.Errorf("snapshot missing instrument: %s", e.Instrument)
		}
		if w.LongQty != e.LongQty || w.ShortQty != e.ShortQty {
			return fmt.Errorf("snapshot qty mismatch: instrument=%s expected=%d/%d actual=%d/%d",
				e.Instrument, w.LongQty, w.ShortQty, e.LongQty, e.ShortQty)
		}
	}
	return nil
}
