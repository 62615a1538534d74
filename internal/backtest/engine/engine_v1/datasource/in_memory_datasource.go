package datasource

import (
	"sort"
	"sync"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-backtest/internal/types"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
)

// InMemoryDataSource serves quotes held in memory. It is used for generated
// data and by tests.
type InMemoryDataSource struct {
	mu     sync.RWMutex
	quotes []types.Quote
}

// NewInMemoryDataSource copies quotes and sorts them by time, then symbol.
func NewInMemoryDataSource(quotes []types.Quote) *InMemoryDataSource {
	ds := &InMemoryDataSource{}
	ds.Load(quotes)

	return ds
}

// Load replaces the held quotes.
func (ds *InMemoryDataSource) Load(quotes []types.Quote) {
	sorted := append([]types.Quote(nil), quotes...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Time.Equal(sorted[j].Time) {
			return sorted[i].Time.Before(sorted[j].Time)
		}

		return sorted[i].Symbol < sorted[j].Symbol
	})

	ds.mu.Lock()
	defer ds.mu.Unlock()

	ds.quotes = sorted
}

// Initialize implements DataSource. Quotes are supplied at construction, so
// only an empty path is accepted.
func (ds *InMemoryDataSource) Initialize(path string) error {
	if path != "" {
		return errors.Newf(errors.ErrCodeInvalidParameter, "in-memory data source cannot load %s", path)
	}

	return nil
}

// ReadAll implements DataSource.
func (ds *InMemoryDataSource) ReadAll(start optional.Option[time.Time], end optional.Option[time.Time]) func(yield func(types.Quote, error) bool) {
	return func(yield func(types.Quote, error) bool) {
		ds.mu.RLock()
		quotes := ds.quotes
		ds.mu.RUnlock()

		for _, q := range quotes {
			if !inWindow(q.Time, start, end) {
				continue
			}

			if !yield(q, nil) {
				return
			}
		}
	}
}

// Count implements DataSource.
func (ds *InMemoryDataSource) Count(start optional.Option[time.Time], end optional.Option[time.Time]) (int, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	count := 0

	for _, q := range ds.quotes {
		if inWindow(q.Time, start, end) {
			count++
		}
	}

	return count, nil
}

// Symbols implements DataSource.
func (ds *InMemoryDataSource) Symbols() ([]string, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	seen := make(map[string]bool)

	var symbols []string

	for _, q := range ds.quotes {
		if !seen[q.Symbol] {
			seen[q.Symbol] = true
			symbols = append(symbols, q.Symbol)
		}
	}

	sort.Strings(symbols)

	return symbols, nil
}

// Close implements DataSource.
func (ds *InMemoryDataSource) Close() error {
	return nil
}

func inWindow(t time.Time, start optional.Option[time.Time], end optional.Option[time.Time]) bool {
	if start.IsSome() && t.Before(start.Unwrap()) {
		return false
	}

	if end.IsSome() && t.After(end.Unwrap()) {
		return false
	}

	return true
}
