// Package store persists historical bars and corporate actions and serves
// them to the engine. The canonical backing store is DuckDB; CachedStore
// layers repeat-query caching on top with explicit invalidation only.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meridian-lab/meridian-trading/internal/adjust"
	"github.com/meridian-lab/meridian-trading/internal/types"
)

// Store is the bar and corporate-action repository consumed by the engine
// and the strategy runtime.
type Store interface {
	// Write persists bars, replacing any rows with the same symbol,
	// frequency and timestamp.
	Write(bars []types.Bar) error
	// WriteCorporateActions persists corporate actions, replacing any rows
	// with the same symbol and ex-date.
	WriteCorporateActions(actions []types.CorporateAction) error
	// GetRange returns raw bars in [start, end] ordered ascending by time.
	GetRange(symbol string, start time.Time, end time.Time, freq types.Frequency) ([]types.Bar, error)
	// GetAdjustedRange returns bars in [start, end] with the symbol's
	// corporate actions applied under the given convention.
	GetAdjustedRange(symbol string, start time.Time, end time.Time, freq types.Frequency, convention types.AdjustmentConvention) ([]types.AdjustedBar, error)
	// History returns up to count bars at or before end, ordered ascending.
	History(symbol string, end time.Time, count int, freq types.Frequency) ([]types.Bar, error)
	// ReadLast returns the most recent bar for the symbol.
	ReadLast(symbol string, freq types.Frequency) (types.Bar, error)
	// CorporateActions returns all actions for the symbol ordered by ex-date.
	CorporateActions(symbol string) ([]types.CorporateAction, error)
	// Count returns the number of bars stored for the symbol and frequency.
	Count(symbol string, freq types.Frequency) (int, error)
	// Symbols returns all symbols with at least one bar.
	Symbols() ([]string, error)
	// Close releases the backing storage.
	Close() error
}

// Loader pulls data from a provider into a store.
type Loader interface {
	Load(ctx context.Context, symbols []string, start time.Time, end time.Time, freq types.Frequency) error
}

// CachedStore wraps a Store and caches repeated range and history queries.
// Adjusted series are expensive to recompute every bar, so the engine reads
// through this layer. Entries never expire on their own; call Evict after a
// write or Reset between runs.
type CachedStore struct {
	underlying Store

	mu           sync.RWMutex
	rangeCache   map[string][]types.Bar
	adjCache     map[string][]types.AdjustedBar
	historyCache map[string][]types.Bar
}

var _ Store = (*CachedStore)(nil)

func NewCachedStore(underlying Store) *CachedStore {
	return &CachedStore{
		underlying:   underlying,
		rangeCache:   make(map[string][]types.Bar),
		adjCache:     make(map[string][]types.AdjustedBar),
		historyCache: make(map[string][]types.Bar),
	}
}

// Evict drops every cached query. Call after writing new bars or actions.
func (c *CachedStore) Evict() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rangeCache = make(map[string][]types.Bar)
	c.adjCache = make(map[string][]types.AdjustedBar)
	c.historyCache = make(map[string][]types.Bar)
}

// Write implements Store. Writes invalidate the whole cache.
func (c *CachedStore) Write(bars []types.Bar) error {
	if err := c.underlying.Write(bars); err != nil {
		return err
	}

	c.Evict()

	return nil
}

// WriteCorporateActions implements Store. Writes invalidate the whole cache.
func (c *CachedStore) WriteCorporateActions(actions []types.CorporateAction) error {
	if err := c.underlying.WriteCorporateActions(actions); err != nil {
		return err
	}

	c.Evict()

	return nil
}

// GetRange implements Store with caching.
func (c *CachedStore) GetRange(symbol string, start time.Time, end time.Time, freq types.Frequency) ([]types.Bar, error) {
	key := rangeKey(symbol, start, end, freq)

	c.mu.RLock()
	if bars, ok := c.rangeCache[key]; ok {
		c.mu.RUnlock()

		return bars, nil
	}
	c.mu.RUnlock()

	bars, err := c.underlying.GetRange(symbol, start, end, freq)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.rangeCache[key] = bars
	c.mu.Unlock()

	return bars, nil
}

// GetAdjustedRange implements Store with caching.
func (c *CachedStore) GetAdjustedRange(symbol string, start time.Time, end time.Time, freq types.Frequency, convention types.AdjustmentConvention) ([]types.AdjustedBar, error) {
	key := rangeKey(symbol, start, end, freq) + "|" + string(convention)

	c.mu.RLock()
	if bars, ok := c.adjCache[key]; ok {
		c.mu.RUnlock()

		return bars, nil
	}
	c.mu.RUnlock()

	bars, err := c.underlying.GetAdjustedRange(symbol, start, end, freq, convention)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.adjCache[key] = bars
	c.mu.Unlock()

	return bars, nil
}

// History implements Store with caching.
func (c *CachedStore) History(symbol string, end time.Time, count int, freq types.Frequency) ([]types.Bar, error) {
	key := fmt.Sprintf("%s|%d|%d|%s", symbol, end.UnixNano(), count, freq)

	c.mu.RLock()
	if bars, ok := c.historyCache[key]; ok {
		c.mu.RUnlock()

		return bars, nil
	}
	c.mu.RUnlock()

	bars, err := c.underlying.History(symbol, end, count, freq)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.historyCache[key] = bars
	c.mu.Unlock()

	return bars, nil
}

// ReadLast implements Store.
func (c *CachedStore) ReadLast(symbol string, freq types.Frequency) (types.Bar, error) {
	return c.underlying.ReadLast(symbol, freq)
}

// CorporateActions implements Store.
func (c *CachedStore) CorporateActions(symbol string) ([]types.CorporateAction, error) {
	return c.underlying.CorporateActions(symbol)
}

// Count implements Store.
func (c *CachedStore) Count(symbol string, freq types.Frequency) (int, error) {
	return c.underlying.Count(symbol, freq)
}

// Symbols implements Store.
func (c *CachedStore) Symbols() ([]string, error) {
	return c.underlying.Symbols()
}

// Close implements Store.
func (c *CachedStore) Close() error {
	return c.underlying.Close()
}

func rangeKey(symbol string, start time.Time, end time.Time, freq types.Frequency) string {
	return fmt.Sprintf("%s|%d|%d|%s", symbol, start.UnixNano(), end.UnixNano(), freq)
}

// adjustRange is shared by store implementations: it applies the symbol's
// actions to an already-fetched raw range. Pending actions (ex-date after the
// last bar) are ignored for serving purposes.
func adjustRange(bars []types.Bar, actions []types.CorporateAction, convention types.AdjustmentConvention) ([]types.AdjustedBar, error) {
	result, err := adjust.Adjust(bars, actions, convention)
	if err != nil {
		return nil, err
	}

	return result.Bars, nil
}
