package timeline

import (
	"fmt"
	"sort"
)

// TimeSignature is a meter such as 4/4 or 6/8.
type TimeSignature struct {
	Numerator   int
	Denominator int
}

// CommonTime is 4/4, the meter in effect before any signature.
var CommonTime = TimeSignature{Numerator: 4, Denominator: 4}

// Valid reports whether the signature has a positive numerator and a
// denominator that divides a whole note into whole ticks.
func (s TimeSignature) Valid() bool {
	return s.Numerator > 0 && s.Denominator > 0 && TicksPerWhole%Tick(s.Denominator) == 0
}

// UnitDuration is the length of one 1/Denominator note.
func (s TimeSignature) UnitDuration() Tick {
	return TicksPerWhole / Tick(s.Denominator)
}

func (s TimeSignature) BarDuration() Tick {
	return Tick(s.Numerator) * s.UnitDuration()
}

// Compound reports meters counted in dotted beats (6/8, 9/8, 12/16 ...).
func (s TimeSignature) Compound() bool {
	return s.Numerator%3 == 0 && s.Numerator > 3 && s.Denominator >= 8
}

// BeatDuration is the dotted unit in compound meters and the unit otherwise.
func (s TimeSignature) BeatDuration() Tick {
	if s.Compound() {
		return 3 * s.UnitDuration()
	}
	return s.UnitDuration()
}

func (s TimeSignature) BeatsPerBar() int {
	return int(s.BarDuration() / s.BeatDuration())
}

func (s TimeSignature) String() string {
	return fmt.Sprintf("%d/%d", s.Numerator, s.Denominator)
}

// MusicalTime is a position expressed as bar, beat, 64th-note fraction and
// leftover ticks. Bars count from 0 and beats from 1.
type MusicalTime struct {
	Bar       int
	Beat      int
	Fraction  int
	Remainder Tick
}

func (m MusicalTime) String() string {
	return fmt.Sprintf("%d:%d:%02d:%02d", m.Bar, m.Beat, m.Fraction, m.Remainder)
}

// AddTimeSignature inserts sig at t, replacing any signature already there,
// and returns its index. Invalid signatures are ignored and -1 returned.
func (tl *Timeline) AddTimeSignature(t Tick, sig TimeSignature) int {
	if !sig.Valid() {
		return -1
	}
	tl.mu.Lock()
	defer tl.mu.Unlock()

	c := sigChange{time: t, sig: sig}
	i := sort.Search(len(tl.sigs), func(i int) bool { return tl.sigs[i].time >= t })
	if i < len(tl.sigs) && tl.sigs[i].time == t {
		tl.sigs[i] = c
	} else {
		tl.sigs = append(tl.sigs, sigChange{})
		copy(tl.sigs[i+1:], tl.sigs[i:])
		tl.sigs[i] = c
	}
	tl.barsDirty = true
	return i
}

func (tl *Timeline) RemoveTimeSignature(n int) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if n < 0 || n >= len(tl.sigs) {
		return
	}
	tl.sigs = append(tl.sigs[:n], tl.sigs[n+1:]...)
	tl.barsDirty = true
}

func (tl *Timeline) TimeSignatureCount() int {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return len(tl.sigs)
}

// TimeSignatureChange returns the time and meter of signature n.
func (tl *Timeline) TimeSignatureChange(n int) (Tick, TimeSignature) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if n < 0 || n >= len(tl.sigs) {
		return 0, CommonTime
	}
	return tl.sigs[n].time, tl.sigs[n].sig
}

// TimeSignatureNumberAt returns the index of the signature in effect at t,
// or -1 before the first one.
func (tl *Timeline) TimeSignatureNumberAt(t Tick) int {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return tl.sigIndexAt(t)
}

// TimeSignatureAt returns the signature in effect at t and the tick where it
// started. Before the first signature that is CommonTime from tick 0.
func (tl *Timeline) TimeSignatureAt(t Tick) (Tick, TimeSignature) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	i := tl.sigIndexAt(t)
	if i < 0 {
		return 0, CommonTime
	}
	return tl.sigs[i].time, tl.sigs[i].sig
}

// TimeSignatureInBar returns the meter of bar n and whether a signature
// change starts exactly at that bar.
func (tl *Timeline) TimeSignatureInBar(n int) (TimeSignature, bool) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.updateBars()
	i := tl.sigIndexForBar(n)
	if i < 0 {
		return CommonTime, false
	}
	return tl.sigs[i].sig, tl.sigs[i].bar == n
}

// BarNumber returns the bar containing t. Bars are numbered from 0 at tick 0
// and may be negative.
func (tl *Timeline) BarNumber(t Tick) int {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.updateBars()
	return tl.barNumber(t)
}

func (tl *Timeline) barNumber(t Tick) int {
	i := tl.sigIndexAt(t)
	if i < 0 {
		return int(floorDiv(t, CommonTime.BarDuration()))
	}
	c := tl.sigs[i]
	return c.bar + int(floorDiv(t-c.time, c.sig.BarDuration()))
}

// BarRange returns the start and end ticks of bar n. A bar cut short by the
// next signature ends where that signature starts.
func (tl *Timeline) BarRange(n int) (Tick, Tick) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.updateBars()
	return tl.barRange(n)
}

func (tl *Timeline) barRange(n int) (Tick, Tick) {
	i := tl.sigIndexForBar(n)
	var start, dur Tick
	if i < 0 {
		dur = CommonTime.BarDuration()
		start = Tick(n) * dur
	} else {
		c := tl.sigs[i]
		dur = c.sig.BarDuration()
		start = c.time + Tick(n-c.bar)*dur
	}
	finish := start + dur
	if i+1 < len(tl.sigs) && finish > tl.sigs[i+1].time {
		finish = tl.sigs[i+1].time
	}
	return start, finish
}

func (tl *Timeline) BarStart(n int) Tick {
	s, _ := tl.BarRange(n)
	return s
}

func (tl *Timeline) BarEnd(n int) Tick {
	_, e := tl.BarRange(n)
	return e
}

// BarRangeForTime returns the range of the bar containing t.
func (tl *Timeline) BarRangeForTime(t Tick) (Tick, Tick) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.updateBars()
	return tl.barRange(tl.barNumber(t))
}

// MusicalTime splits t into bar, beat, fraction and remainder.
func (tl *Timeline) MusicalTime(t Tick) MusicalTime {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.updateBars()

	bar := tl.barNumber(t)
	start, _ := tl.barRange(bar)
	sig := CommonTime
	if i := tl.sigIndexAt(t); i >= 0 {
		sig = tl.sigs[i].sig
	}
	off := t - start
	beat := sig.BeatDuration()
	rem := off % beat
	return MusicalTime{
		Bar:       bar,
		Beat:      int(off/beat) + 1,
		Fraction:  int(rem / FractionTicks),
		Remainder: rem % FractionTicks,
	}
}

// TickForMusicalTime is the inverse of MusicalTime.
func (tl *Timeline) TickForMusicalTime(m MusicalTime) Tick {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.updateBars()

	start, _ := tl.barRange(m.Bar)
	sig := CommonTime
	if i := tl.sigIndexForBar(m.Bar); i >= 0 {
		sig = tl.sigs[i].sig
	}
	return start + Tick(m.Beat-1)*sig.BeatDuration() + Tick(m.Fraction)*FractionTicks + m.Remainder
}

// sigIndexForBar returns the last signature starting at or before bar n.
func (tl *Timeline) sigIndexForBar(n int) int {
	return sort.Search(len(tl.sigs), func(i int) bool { return tl.sigs[i].bar > n }) - 1
}

// updateBars numbers the bar each signature starts. A signature that does
// not land on a bar line of the previous meter opens a new bar.
func (tl *Timeline) updateBars() {
	if !tl.barsDirty {
		return
	}
	lastBar := 0
	lastTime := Tick(0)
	dur := CommonTime.BarDuration()
	for i := range tl.sigs {
		c := &tl.sigs[i]
		n := floorDiv(c.time-lastTime, dur)
		if lastTime+n*dur == c.time {
			c.bar = lastBar + int(n)
		} else {
			c.bar = lastBar + int(n) + 1
		}
		lastBar, lastTime, dur = c.bar, c.time, c.sig.BarDuration()
	}
	tl.barsDirty = false
}
