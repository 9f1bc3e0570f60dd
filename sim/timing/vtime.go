package timing

import (
	"fmt"
	"math"
	"math/big"
	"math/bits"
	"strings"

	"github.com/shopspring/decimal"
)

// VTime is a point or a span of simulated time. It is stored as a signed
// number of whole seconds plus an unsigned binary fraction of a second with a
// resolution of 2^-64 s.
//
// VTime never goes through floating point internally, so adding the same
// increment n times gives exactly the same value as multiplying it by n. The
// zero value is time zero.
type VTime struct {
	sec  int64
	frac uint64
}

var (
	// Zero is the origin of simulated time.
	Zero = VTime{}

	// Never is a time that is later than any other time. It is used to
	// express that nothing is pending. Arithmetic saturates at Never.
	Never = VTime{sec: math.MaxInt64, frac: math.MaxUint64}

	minVTime = VTime{sec: math.MinInt64}

	two64     = new(big.Int).Lsh(big.NewInt(1), 64)
	fracMask  = new(big.Int).SetUint64(math.MaxUint64)
	pow5to64  = new(big.Int).Exp(big.NewInt(5), big.NewInt(64), nil)
	decTwo64  = decimal.NewFromBigInt(two64, 0)
	secondDec = decimal.NewFromInt(1)
)

// NewVTime creates a time from whole seconds and a fraction of a second in
// units of 2^-64 s.
func NewVTime(sec int64, frac uint64) VTime {
	return VTime{sec: sec, frac: frac}
}

// FromSec creates a time of a whole number of seconds.
func FromSec(sec int64) VTime {
	return VTime{sec: sec}
}

// FromRatio returns num/den seconds, rounded down to the resolution of
// VTime. It is the boundary conversion from "den ticks per num seconds" into
// a time per tick.
func FromRatio(num, den uint64) VTime {
	if den == 0 {
		panic("timing: ratio with a zero denominator")
	}

	sec := num / den
	if sec > math.MaxInt64 {
		return Never
	}

	frac, _ := bits.Div64(num%den, 0, den)

	return VTime{sec: int64(sec), frac: frac}
}

// FromSeconds converts seconds given as a float. It is meant for user input
// only; simulation code must not round trip through floats.
func FromSeconds(sec float64) VTime {
	if math.IsNaN(sec) {
		panic("timing: NaN is not a time")
	}

	if sec >= math.MaxInt64 {
		return Never
	}

	if sec < math.MinInt64 {
		return minVTime
	}

	whole := math.Floor(sec)
	fr := math.Ldexp(sec-whole, 64)

	frac := uint64(math.MaxUint64)
	if fr < math.Ldexp(1, 64) {
		frac = uint64(fr)
	}

	return VTime{sec: int64(whole), frac: frac}
}

// FromDecimal converts an exact decimal number of seconds, rounding down to
// the resolution of VTime.
func FromDecimal(d decimal.Decimal) VTime {
	scaled := d.Mul(decTwo64).Floor()
	return fromBigInt(scaled.BigInt())
}

// Sec returns the whole seconds part. For negative times it is rounded
// toward negative infinity, so the fraction is always added to it.
func (t VTime) Sec() int64 {
	return t.sec
}

// Frac returns the fraction of a second in units of 2^-64 s.
func (t VTime) Frac() uint64 {
	return t.frac
}

// IsNever tells if the time is the Never sentinel.
func (t VTime) IsNever() bool {
	return t == Never
}

// IsZero tells if the time is zero.
func (t VTime) IsZero() bool {
	return t == Zero
}

// IsNegative tells if the time is earlier than zero.
func (t VTime) IsNegative() bool {
	return t.sec < 0
}

// Add returns t+o.
func (t VTime) Add(o VTime) VTime {
	if t.IsNever() || o.IsNever() {
		return Never
	}

	frac, carry := bits.Add64(t.frac, o.frac, 0)

	sec, ok := addSec(t.sec, o.sec, carry)
	if !ok {
		if o.sec >= 0 {
			return Never
		}

		return minVTime
	}

	return VTime{sec: sec, frac: frac}
}

// Sub returns t-o.
func (t VTime) Sub(o VTime) VTime {
	if t.IsNever() {
		return Never
	}

	if o.IsNever() {
		return minVTime
	}

	frac, borrow := bits.Sub64(t.frac, o.frac, 0)

	sec, ok := subSec(t.sec, o.sec, borrow)
	if !ok {
		if o.sec < 0 {
			return Never
		}

		return minVTime
	}

	return VTime{sec: sec, frac: frac}
}

// Neg returns -t.
func (t VTime) Neg() VTime {
	return Zero.Sub(t)
}

func addSec(a, b int64, carry uint64) (int64, bool) {
	s := a + b
	if (b > 0 && s < a) || (b < 0 && s > a) {
		return 0, false
	}

	if carry != 0 {
		if s == math.MaxInt64 {
			return 0, false
		}

		s++
	}

	return s, true
}

func subSec(a, b int64, borrow uint64) (int64, bool) {
	s := a - b
	if (b < 0 && s < a) || (b > 0 && s > a) {
		return 0, false
	}

	if borrow != 0 {
		if s == math.MinInt64 {
			return 0, false
		}

		s--
	}

	return s, true
}

// Compare returns -1, 0 or 1 if t is earlier than, equal to, or later than o.
func (t VTime) Compare(o VTime) int {
	switch {
	case t.sec < o.sec:
		return -1
	case t.sec > o.sec:
		return 1
	case t.frac < o.frac:
		return -1
	case t.frac > o.frac:
		return 1
	}

	return 0
}

// Before tells if t is earlier than o.
func (t VTime) Before(o VTime) bool {
	return t.Compare(o) < 0
}

// After tells if t is later than o.
func (t VTime) After(o VTime) bool {
	return t.Compare(o) > 0
}

// Equal tells if t and o are the same time.
func (t VTime) Equal(o VTime) bool {
	return t == o
}

// Min returns the earlier of the two times.
func Min(a, b VTime) VTime {
	if a.Before(b) {
		return a
	}

	return b
}

// Max returns the later of the two times.
func Max(a, b VTime) VTime {
	if a.After(b) {
		return a
	}

	return b
}

// Mul returns t×n, the length of n ticks of period t.
func (t VTime) Mul(n uint64) VTime {
	if n == 0 || t.IsZero() {
		return Zero
	}

	if t.IsNever() {
		return Never
	}

	if t.sec < 0 {
		return t.Scale(n, 1)
	}

	fracHi, fracLo := bits.Mul64(t.frac, n)

	secHi, secLo := bits.Mul64(uint64(t.sec), n)
	if secHi != 0 {
		return Never
	}

	sec, carry := bits.Add64(secLo, fracHi, 0)
	if carry != 0 || sec > math.MaxInt64 {
		return Never
	}

	return VTime{sec: int64(sec), frac: fracLo}
}

// Scale returns t×num/den rounded toward negative infinity. It converts
// between clock domains, for example a period scaled by a clock divider.
func (t VTime) Scale(num, den uint64) VTime {
	if den == 0 {
		panic("timing: scaling by a zero denominator")
	}

	if t.IsNever() {
		if num == 0 {
			return Zero
		}

		return Never
	}

	v := t.bigInt()
	v.Mul(v, new(big.Int).SetUint64(num))
	v.Div(v, new(big.Int).SetUint64(den))

	return fromBigInt(v)
}

// Div returns how many whole periods fit in t. Negative times contain no
// period. The period must be positive.
func (t VTime) Div(period VTime) uint64 {
	if period.sec < 0 || period.IsZero() {
		panic("timing: dividing by a non-positive period")
	}

	if t.IsNever() {
		return math.MaxUint64
	}

	if t.sec < 0 {
		return 0
	}

	if period.sec == 0 && uint64(t.sec) < period.frac {
		q, _ := bits.Div64(uint64(t.sec), t.frac, period.frac)
		return q
	}

	q := new(big.Int).Quo(t.bigInt(), period.bigInt())
	if !q.IsUint64() {
		return math.MaxUint64
	}

	return q.Uint64()
}

// Mod returns the part of t that is left after removing all the whole
// periods.
func (t VTime) Mod(period VTime) VTime {
	return t.Sub(period.Mul(t.Div(period)))
}

func (t VTime) bigInt() *big.Int {
	v := big.NewInt(t.sec)
	v.Lsh(v, 64)

	return v.Add(v, new(big.Int).SetUint64(t.frac))
}

func fromBigInt(v *big.Int) VTime {
	sec := new(big.Int).Rsh(v, 64)
	if !sec.IsInt64() {
		if v.Sign() > 0 {
			return Never
		}

		return minVTime
	}

	frac := new(big.Int).And(v, fracMask)

	return VTime{sec: sec.Int64(), frac: frac.Uint64()}
}

// Seconds converts the time into seconds as a float. The result is for
// display and reporting only.
func (t VTime) Seconds() float64 {
	if t.IsNever() {
		return math.Inf(1)
	}

	return float64(t.sec) + math.Ldexp(float64(t.frac), -64)
}

// Decimal returns the exact decimal value of the time in seconds.
func (t VTime) Decimal() decimal.Decimal {
	v := t.bigInt()
	v.Mul(v, pow5to64)

	return decimal.NewFromBigInt(v, -64)
}

// String renders the time in seconds, rounded to attoseconds.
func (t VTime) String() string {
	if t.IsNever() {
		return "never"
	}

	return t.Decimal().Round(18).String() + "s"
}

var timeUnits = []struct {
	suffix string
	scale  decimal.Decimal
}{
	{"ps", decimal.New(1, -12)},
	{"ns", decimal.New(1, -9)},
	{"us", decimal.New(1, -6)},
	{"µs", decimal.New(1, -6)},
	{"ms", decimal.New(1, -3)},
	{"s", secondDec},
}

// ParseVTime parses a decimal time with an optional unit, for example "1.5s",
// "250ns", "10ms" or "never". A number without a unit is in seconds.
func ParseVTime(s string) (VTime, error) {
	s = strings.TrimSpace(s)
	if s == "never" {
		return Never, nil
	}

	scale := secondDec
	for _, u := range timeUnits {
		if strings.HasSuffix(s, u.suffix) {
			s = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			scale = u.scale

			break
		}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("timing: invalid time %q: %w", s, err)
	}

	return FromDecimal(d.Mul(scale)), nil
}

// MarshalText renders the time with String.
func (t VTime) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText parses the time with ParseVTime.
func (t *VTime) UnmarshalText(text []byte) error {
	v, err := ParseVTime(string(text))
	if err != nil {
		return err
	}

	*t = v

	return nil
}
