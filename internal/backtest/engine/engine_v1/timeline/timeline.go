// Package timeline stores the per-cycle results of a simulation.
package timeline

import (
	"sync"

	"github.com/rxtech-lab/argo-backtest/internal/types"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
)

// Timeline is an append-only, time-ordered list of results entries.
// It is written by a single simulation and may be read concurrently.
type Timeline struct {
	mu          sync.RWMutex
	entries     []types.ResultsEntry
	subscribers map[int]chan types.ResultsEntry
	nextID      int
	closed      bool
}

func New(capacity int) *Timeline {
	if capacity < 0 {
		capacity = 0
	}

	return &Timeline{
		entries:     make([]types.ResultsEntry, 0, capacity),
		subscribers: make(map[int]chan types.ResultsEntry),
	}
}

// Append adds an entry. Entries must be strictly after the last one.
func (t *Timeline) Append(entry types.ResultsEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return errors.New(errors.ErrCodeSimulationNotReady, "timeline is closed")
	}

	if n := len(t.entries); n > 0 && !entry.Time.After(t.entries[n-1].Time) {
		return errors.Newf(errors.ErrCodeUnorderedSeries,
			"entry at %s is not after %s", entry.Time, t.entries[n-1].Time)
	}

	entry = entry.Clone()
	t.entries = append(t.entries, entry)

	for _, ch := range t.subscribers {
		// slow subscribers miss entries; they can always re-read Entries
		select {
		case ch <- entry.Clone():
		default:
		}
	}

	return nil
}

// Entries returns a copy of all entries.
func (t *Timeline) Entries() []types.ResultsEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]types.ResultsEntry, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.Clone()
	}

	return out
}

// Since returns copies of entries with a cycle index of at least from.
func (t *Timeline) Since(from int) []types.ResultsEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if from < 0 {
		from = 0
	}

	if from >= len(t.entries) {
		return []types.ResultsEntry{}
	}

	out := make([]types.ResultsEntry, 0, len(t.entries)-from)
	for _, e := range t.entries[from:] {
		out = append(out, e.Clone())
	}

	return out
}

func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.entries)
}

// Last returns the most recent entry.
func (t *Timeline) Last() (types.ResultsEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.entries) == 0 {
		return types.ResultsEntry{}, false
	}

	return t.entries[len(t.entries)-1].Clone(), true
}

// Subscribe returns a channel receiving entries appended from now on and a
// function to stop receiving. The channel is closed by Close or cancel.
func (t *Timeline) Subscribe(buffer int) (<-chan types.ResultsEntry, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan types.ResultsEntry, buffer)
	if t.closed {
		close(ch)

		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subscribers[id] = ch

	var once sync.Once

	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()

			if sub, ok := t.subscribers[id]; ok {
				delete(t.subscribers, id)
				close(sub)
			}
		})
	}
}

// Close marks the timeline complete and closes all subscriptions.
func (t *Timeline) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}

	t.closed = true

	for id, ch := range t.subscribers {
		delete(t.subscribers, id)
		close(ch)
	}
}

// Closed reports whether the simulation finished writing.
func (t *Timeline) Closed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.closed
}

// Values returns the total account value per entry.
func (t *Timeline) Values() []float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]float64, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.TotalValue
	}

	return out
}
