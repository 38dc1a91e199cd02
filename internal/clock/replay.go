package clock

import (
	"container/heap"
	"sort"

	"github.com/moznion/go-optional"

	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// ReplayClock merges per-symbol bar series into one globally ordered tick
// sequence. Ties at the same timestamp are emitted in lexical symbol order
// so re-runs are bit-identical.
type ReplayClock struct {
	merge   *mergeHeap
	stopped bool
}

var _ Clock = (*ReplayClock)(nil)

type mergeCursor struct {
	symbol string
	bars   []types.Bar
	index  int
}

type mergeHeap []*mergeCursor

func (h mergeHeap) Len() int { return len(h) }

func (h mergeHeap) Less(i, j int) bool {
	ti := h[i].bars[h[i].index].Time
	tj := h[j].bars[h[j].index].Time

	if ti.Equal(tj) {
		return h[i].symbol < h[j].symbol
	}

	return ti.Before(tj)
}

func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *mergeHeap) Push(x any) { *h = append(*h, x.(*mergeCursor)) }

func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	cursor := old[n-1]
	*h = old[:n-1]

	return cursor
}

// NewReplayClock validates each symbol's series and builds the merge. A
// series that is out of order or repeats a timestamp is rejected up front
// so the run never starts on inconsistent data.
func NewReplayClock(series map[string][]types.Bar) (*ReplayClock, error) {
	merge := &mergeHeap{}

	symbols := make([]string, 0, len(series))
	for symbol := range series {
		symbols = append(symbols, symbol)
	}

	sort.Strings(symbols)

	for _, symbol := range symbols {
		bars := series[symbol]
		if len(bars) == 0 {
			continue
		}

		for i := 1; i < len(bars); i++ {
			if !bars[i].Time.After(bars[i-1].Time) {
				return nil, errors.Newf(errors.ErrCodeDataInconsistent,
					"bars for %s are out of order or duplicated at %s", symbol, bars[i].Time)
			}
		}

		*merge = append(*merge, &mergeCursor{symbol: symbol, bars: bars, index: 0})
	}

	heap.Init(merge)

	return &ReplayClock{merge: merge, stopped: false}, nil
}

// Next implements Clock.
func (c *ReplayClock) Next() (Tick, bool) {
	if c.stopped || c.merge.Len() == 0 {
		return Tick{}, false
	}

	cursor := (*c.merge)[0]
	bar := cursor.bars[cursor.index]
	cursor.index++

	if cursor.index < len(cursor.bars) {
		heap.Fix(c.merge, 0)
	} else {
		heap.Pop(c.merge)
	}

	return Tick{Time: bar.Time, Bar: optional.Some(bar)}, true
}

// Stop implements Clock.
func (c *ReplayClock) Stop() {
	c.stopped = true
}
