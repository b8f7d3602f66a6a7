// Package clock provides an injectable notion of "now" so that allocator
// and lease tests can drive time deterministically instead of sleeping.
package clock

import (
	"time"

	"github.com/AdguardTeam/golibs/timeutil"
)

// Clock is the capability the allocator and lease model need from time: a
// single Now call. It is an alias of [timeutil.Clock] so that callers can
// pass in [timeutil.SystemClock] directly, or any other implementation the
// golibs ecosystem provides.
type Clock = timeutil.Clock

// System is the production clock backed by the real wall clock.
var System Clock = timeutil.SystemClock{}

// Fixed is a test double that always returns the same instant until
// advanced with Advance.
type Fixed struct {
	now time.Time
}

// NewFixed returns a Fixed clock stopped at t.
func NewFixed(t time.Time) *Fixed {
	return &Fixed{now: t}
}

// Now implements [Clock].
func (f *Fixed) Now() time.Time {
	return f.now
}

// Advance moves the clock forward by d and returns the new time.
func (f *Fixed) Advance(d time.Duration) time.Time {
	f.now = f.now.Add(d)
	return f.now
}
