package timing

import (
	"fmt"
	"log"
	"strings"

	"github.com/shopspring/decimal"
)

// Freq defines a frequency in Hz.
type Freq uint64

// Defines the unit of frequency
const (
	Hz  Freq = 1
	KHz Freq = 1e3
	MHz Freq = 1e6
	GHz Freq = 1e9
)

// Period returns the time between two consecutive ticks.
func (f Freq) Period() VTime {
	if f == 0 {
		log.Panic("frequency cannot be 0")
	}

	return FromRatio(1, uint64(f))
}

// Clock returns a clock that ticks at the frequency.
func (f Freq) Clock() Clock {
	return NewClock(f.Period())
}

// String renders the frequency with the largest unit that divides it.
func (f Freq) String() string {
	switch {
	case f != 0 && f%GHz == 0:
		return fmt.Sprintf("%dGHz", f/GHz)
	case f != 0 && f%MHz == 0:
		return fmt.Sprintf("%dMHz", f/MHz)
	case f != 0 && f%KHz == 0:
		return fmt.Sprintf("%dKHz", f/KHz)
	}

	return fmt.Sprintf("%dHz", uint64(f))
}

var freqUnits = []struct {
	suffix string
	unit   Freq
}{
	{"ghz", GHz},
	{"mhz", MHz},
	{"khz", KHz},
	{"hz", Hz},
}

// ParseFreq parses a frequency such as "4MHz", "32768Hz" or "1.5KHz". The
// frequency must be a whole number of Hz.
func ParseFreq(s string) (Freq, error) {
	lower := strings.ToLower(strings.TrimSpace(s))
	unit := Hz

	for _, u := range freqUnits {
		if strings.HasSuffix(lower, u.suffix) {
			lower = strings.TrimSpace(strings.TrimSuffix(lower, u.suffix))
			unit = u.unit

			break
		}
	}

	d, err := decimal.NewFromString(lower)
	if err != nil {
		return 0, fmt.Errorf("timing: invalid frequency %q: %w", s, err)
	}

	hz := d.Mul(decimal.NewFromInt(int64(unit)))
	if !hz.IsInteger() || hz.Sign() <= 0 {
		return 0, fmt.Errorf(
			"timing: frequency %q is not a positive whole number of Hz", s)
	}

	return Freq(hz.BigInt().Uint64()), nil
}

// A Clock is a clock domain, described by the exact period of its ticks.
// Derived clocks keep their period exact relative to the parent clock, so a
// divided clock never drifts away from its source.
type Clock struct {
	period VTime
}

// NewClock creates a clock that ticks once every period.
func NewClock(period VTime) Clock {
	if period.IsNegative() || period.IsZero() || period.IsNever() {
		log.Panicf("clock period must be positive and finite, got %s", period)
	}

	return Clock{period: period}
}

// Period returns the time between two consecutive ticks.
func (c Clock) Period() VTime {
	return c.period
}

// IsZero tells if the clock has not been set.
func (c Clock) IsZero() bool {
	return c.period.IsZero()
}

// Scale derives a clock whose frequency is the frequency of c multiplied by
// mul/div.
func (c Clock) Scale(mul, div uint64) Clock {
	if mul == 0 || div == 0 {
		log.Panic("clock scale factors must not be 0")
	}

	return NewClock(c.period.Scale(div, mul))
}

// Divide derives a clock that ticks once every n ticks of c.
func (c Clock) Divide(n uint64) Clock {
	return c.Scale(1, n)
}

// Cycles returns the number of whole ticks in t.
func (c Clock) Cycles(t VTime) uint64 {
	return t.Div(c.period)
}

// CyclesToTime returns the length of n ticks.
func (c Clock) CyclesToTime(n uint64) VTime {
	return c.period.Mul(n)
}

// ThisTick returns the earliest tick time that is not earlier than now.
//
//	               Input
//	               (          ]
//	    |----------|----------|----------|----->
//	                          |
//	                          Output
func (c Clock) ThisTick(now VTime) VTime {
	tick := c.period.Mul(now.Div(c.period))
	if tick.Before(now) {
		tick = tick.Add(c.period)
	}

	return tick
}

// NextTick returns the earliest tick time that is later than now.
//
//	               Input
//	               [          )
//	    |----------|----------|----------|----->
//	                          |
//	                          Output
func (c Clock) NextTick(now VTime) VTime {
	if now.IsNegative() {
		return Zero
	}

	return c.period.Mul(now.Div(c.period) + 1)
}

// NCyclesLater returns the tick time n ticks after the current tick.
func (c Clock) NCyclesLater(n uint64, now VTime) VTime {
	return c.ThisTick(now).Add(c.period.Mul(n))
}

// Hz returns the frequency of the clock for reporting purposes.
func (c Clock) Hz() float64 {
	if c.IsZero() {
		return 0
	}

	return 1 / c.period.Seconds()
}

// String renders the clock frequency.
func (c Clock) String() string {
	return fmt.Sprintf("%.6gHz", c.Hz())
}

// Scale derives the clock of a frequency multiplied by mul/div.
func (f Freq) Scale(mul, div uint64) Clock {
	return f.Clock().Scale(mul, div)
}

// Cycles returns the number of whole ticks in t.
func (f Freq) Cycles(t VTime) uint64 {
	return f.Clock().Cycles(t)
}

// CyclesToTime returns the length of n ticks.
func (f Freq) CyclesToTime(n uint64) VTime {
	return f.Clock().CyclesToTime(n)
}
