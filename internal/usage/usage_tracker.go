// Package usage records token consumption per model, stage, operation, and
// session, persisted as JSON next to the database. The contribution rows
// remain the source of truth for per-session totals; this file is the cheap
// cross-session aggregate the CLI shows without scanning the store.
package usage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event is one recorded model transaction.
type Event struct {
	Model     string
	Stage     string
	SessionID string
	Operation string // generation, continuation, embedding
	Input     int
	Output    int
}

// Tracker accumulates usage and persists it with a debounced save.
type Tracker struct {
	mu       sync.Mutex
	data     UsageData
	filePath string
	dirty    bool
}

// NewTracker creates a tracker persisting to dir/usage.json.
func NewTracker(dir string) (*Tracker, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create usage dir: %w", err)
	}

	t := &Tracker{
		filePath: filepath.Join(dir, "usage.json"),
		data: UsageData{
			Version:   "1",
			Aggregate: emptyStats(),
		},
	}
	if err := t.load(); err != nil {
		// A corrupt or missing file starts fresh; usage data is advisory.
		t.data = UsageData{Version: "1", Aggregate: emptyStats()}
	}
	return t, nil
}

func emptyStats() AggregatedStats {
	return AggregatedStats{
		ByModel:     make(map[string]TokenCounts),
		ByStage:     make(map[string]TokenCounts),
		ByOperation: make(map[string]TokenCounts),
		BySession:   make(map[string]TokenCounts),
	}
}

func (t *Tracker) load() error {
	data, err := os.ReadFile(t.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, &t.data); err != nil {
		return err
	}
	if t.data.Aggregate.ByModel == nil {
		t.data.Aggregate.ByModel = make(map[string]TokenCounts)
	}
	if t.data.Aggregate.ByStage == nil {
		t.data.Aggregate.ByStage = make(map[string]TokenCounts)
	}
	if t.data.Aggregate.ByOperation == nil {
		t.data.Aggregate.ByOperation = make(map[string]TokenCounts)
	}
	if t.data.Aggregate.BySession == nil {
		t.data.Aggregate.BySession = make(map[string]TokenCounts)
	}
	return nil
}

// Save writes the usage data to disk.
func (t *Tracker) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.saveLocked()
}

func (t *Tracker) saveLocked() error {
	data, err := json.MarshalIndent(t.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(t.filePath, data, 0644)
}

// Track records one usage event.
func (t *Tracker) Track(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.data.Aggregate.Total.Add(ev.Input, ev.Output)
	addToMap(t.data.Aggregate.ByModel, ev.Model, ev.Input, ev.Output)
	addToMap(t.data.Aggregate.ByStage, ev.Stage, ev.Input, ev.Output)
	addToMap(t.data.Aggregate.ByOperation, ev.Operation, ev.Input, ev.Output)
	addToMap(t.data.Aggregate.BySession, ev.SessionID, ev.Input, ev.Output)

	if !t.dirty {
		t.dirty = true
		time.AfterFunc(5*time.Second, func() {
			t.Save()
			t.mu.Lock()
			t.dirty = false
			t.mu.Unlock()
		})
	}
}

// Stats returns a copy of the aggregated stats.
func (t *Tracker) Stats() AggregatedStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	stats := t.data.Aggregate
	stats.ByModel = copyMap(stats.ByModel)
	stats.ByStage = copyMap(stats.ByStage)
	stats.ByOperation = copyMap(stats.ByOperation)
	stats.BySession = copyMap(stats.BySession)
	return stats
}

func copyMap(src map[string]TokenCounts) map[string]TokenCounts {
	dst := make(map[string]TokenCounts, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func addToMap(m map[string]TokenCounts, key string, input, output int) {
	if key == "" {
		return
	}
	entry := m[key]
	entry.Add(input, output)
	m[key] = entry
}
