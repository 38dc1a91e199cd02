// Package clock produces the ordered sequence of ticks that drives the
// strategy runtime and the execution path. The replay variant replays
// stored history deterministically; the live variant follows wall-clock
// bar boundaries and market-data pushes.
package clock

import (
	"time"

	"github.com/moznion/go-optional"

	"github.com/meridian-lab/meridian-trading/internal/types"
)

// Tick is a single scheduling event. Bar is present when the tick was
// produced by market data; a live bar-boundary tick carries no bar.
type Tick struct {
	Time time.Time
	Bar  optional.Option[types.Bar]
}

// Clock is forward-only: once Next reports false the clock is exhausted and
// a new instance must be constructed to run again. Mid-stream seeking is
// not supported.
type Clock interface {
	// Next blocks until the next tick is available. The second return is
	// false at end-of-stream or after Stop.
	Next() (Tick, bool)
	// Stop causes pending and future Next calls to return promptly with
	// false. Safe to call more than once.
	Stop()
}
