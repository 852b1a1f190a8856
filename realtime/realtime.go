// Package realtime provides the wall-clock time value used throughout the
// sequencer: a (seconds, nanoseconds) pair with the nanosecond part always
// normalised to [0, 1e9).
package realtime

import (
	"fmt"
	"math"
	"time"
)

const nanosPerSecond = 1_000_000_000

// RealTime is a point or span of wall-clock time.
type RealTime struct {
	Sec  int64
	Nsec int32
}

// Zero is the origin of playback time.
var Zero = RealTime{}

// New returns a normalised RealTime. nsec may be out of range or negative.
func New(sec int64, nsec int64) RealTime {
	sec += nsec / nanosPerSecond
	nsec %= nanosPerSecond
	if nsec < 0 {
		nsec += nanosPerSecond
		sec--
	}
	return RealTime{Sec: sec, Nsec: int32(nsec)}
}

// FromNanoseconds converts a nanosecond count.
func FromNanoseconds(ns int64) RealTime {
	return New(0, ns)
}

// FromSeconds converts floating seconds, rounding to the nearest nanosecond.
func FromSeconds(s float64) RealTime {
	sec := math.Floor(s)
	nsec := math.Round((s - sec) * nanosPerSecond)
	return New(int64(sec), int64(nsec))
}

// FromMilliseconds converts a millisecond count.
func FromMilliseconds(ms int64) RealTime {
	return New(ms/1000, (ms%1000)*1_000_000)
}

// FromDuration converts a time.Duration.
func FromDuration(d time.Duration) RealTime {
	return FromNanoseconds(int64(d))
}

func (r RealTime) Add(o RealTime) RealTime {
	return New(r.Sec+o.Sec, int64(r.Nsec)+int64(o.Nsec))
}

func (r RealTime) Sub(o RealTime) RealTime {
	return New(r.Sec-o.Sec, int64(r.Nsec)-int64(o.Nsec))
}

func (r RealTime) Neg() RealTime {
	return New(-r.Sec, -int64(r.Nsec))
}

// Compare returns -1, 0 or +1.
func (r RealTime) Compare(o RealTime) int {
	switch {
	case r.Sec < o.Sec:
		return -1
	case r.Sec > o.Sec:
		return 1
	case r.Nsec < o.Nsec:
		return -1
	case r.Nsec > o.Nsec:
		return 1
	}
	return 0
}

func (r RealTime) Before(o RealTime) bool { return r.Compare(o) < 0 }
func (r RealTime) After(o RealTime) bool  { return r.Compare(o) > 0 }
func (r RealTime) Equal(o RealTime) bool  { return r == o }
func (r RealTime) IsZero() bool           { return r == Zero }

// Mul scales by an integer factor.
func (r RealTime) Mul(n int64) RealTime {
	return New(r.Sec*n, int64(r.Nsec)*n)
}

// Div divides by an integer, truncating towards negative infinity at
// nanosecond resolution. Division by zero yields Zero.
func (r RealTime) Div(n int64) RealTime {
	return r.Scale(1, n)
}

// Scale multiplies by num/den in fixed point. The seconds and nanoseconds
// parts are scaled separately so that large spans do not overflow.
func (r RealTime) Scale(num, den int64) RealTime {
	if den == 0 {
		return Zero
	}
	if den < 0 {
		num, den = -num, -den
	}
	secNum := r.Sec * num
	q := floorDiv(secNum, den)
	rem := secNum - q*den // in seconds/den units, 0 <= rem < den
	nsec := (rem*nanosPerSecond + int64(r.Nsec)*num)
	return New(q, floorDiv(nsec, den))
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Seconds returns the value as floating seconds.
func (r RealTime) Seconds() float64 {
	return float64(r.Sec) + float64(r.Nsec)/nanosPerSecond
}

// Nanoseconds returns the total nanosecond count.
func (r RealTime) Nanoseconds() int64 {
	return r.Sec*nanosPerSecond + int64(r.Nsec)
}

// Milliseconds returns the total millisecond count, truncated.
func (r RealTime) Milliseconds() int64 {
	return r.Nanoseconds() / 1_000_000
}

func (r RealTime) Duration() time.Duration {
	return time.Duration(r.Nanoseconds())
}

func (r RealTime) String() string {
	if r.Sec < 0 {
		n := r.Neg()
		return fmt.Sprintf("-%d.%09ds", n.Sec, n.Nsec)
	}
	return fmt.Sprintf("%d.%09ds", r.Sec, r.Nsec)
}

// Min returns the earlier of a and b.
func Min(a, b RealTime) RealTime {
	if a.Before(b) {
		return a
	}
	return b
}

// Max returns the later of a and b.
func Max(a, b RealTime) RealTime {
	if a.After(b) {
		return a
	}
	return b
}
