package clock

import (
	"sync"
	"time"

	"github.com/moznion/go-optional"

	"github.com/meridian-lab/meridian-trading/internal/types"
)

// LiveClock ticks on whichever comes first: a pushed market-data bar or the
// next wall-clock bar boundary for the configured frequency. Boundary ticks
// carry no bar; they exist so the strategy gets a chance to act even when
// the feed is quiet.
type LiveClock struct {
	freq   types.Frequency
	pushes chan types.Bar
	stop   chan struct{}

	stopOnce sync.Once

	// now is replaceable in tests.
	now func() time.Time
}

var _ Clock = (*LiveClock)(nil)

func NewLiveClock(freq types.Frequency) *LiveClock {
	return &LiveClock{
		freq:     freq,
		pushes:   make(chan types.Bar, 256),
		stop:     make(chan struct{}),
		stopOnce: sync.Once{},
		now:      time.Now,
	}
}

// Push hands a finalized bar from the data feed to the clock. Blocks only
// when the buffer is full, which back-pressures the feed rather than
// dropping bars.
func (c *LiveClock) Push(bar types.Bar) {
	select {
	case c.pushes <- bar:
	case <-c.stop:
	}
}

// Next implements Clock.
func (c *LiveClock) Next() (Tick, bool) {
	// Drain any already-queued bar before arming the boundary timer.
	select {
	case bar := <-c.pushes:
		return Tick{Time: bar.Time, Bar: optional.Some(bar)}, true
	case <-c.stop:
		return Tick{}, false
	default:
	}

	now := c.now()
	boundary := now.Truncate(c.freq.Duration()).Add(c.freq.Duration())
	timer := time.NewTimer(boundary.Sub(now))

	defer timer.Stop()

	select {
	case <-c.stop:
		return Tick{}, false
	case bar := <-c.pushes:
		return Tick{Time: bar.Time, Bar: optional.Some(bar)}, true
	case <-timer.C:
		return Tick{Time: boundary, Bar: optional.None[types.Bar]()}, true
	}
}

// Stop implements Clock.
func (c *LiveClock) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}
