package timeline

import (
	"math"
	"math/bits"
	"sort"

	"go-sequencer/realtime"
)

// nanosPerTickAtUnitTempo is the length of one tick in nanoseconds
// multiplied by the tempo: 60s * 1e9 * 1e5 / TicksPerQuarter.
const nanosPerTickAtUnitTempo = 6_250_000_000_000

// AddTempoAtTime inserts a tempo change, replacing any change already at t,
// and returns its index. target is NoRamp for a constant tempo, RampToNext
// to ramp to the following change, or a positive tempo reached at the
// following change. A non-positive tempo is ignored and -1 returned.
func (tl *Timeline) AddTempoAtTime(t Tick, tempo, target Tempo) int {
	if tempo <= 0 {
		return -1
	}
	if target < NoRamp {
		target = NoRamp
	}
	tl.mu.Lock()
	defer tl.mu.Unlock()

	c := tempoChange{time: t, tempo: tempo, target: target}
	i := sort.Search(len(tl.tempos), func(i int) bool { return tl.tempos[i].time >= t })
	if i < len(tl.tempos) && tl.tempos[i].time == t {
		tl.tempos[i] = c
	} else {
		tl.tempos = append(tl.tempos, tempoChange{})
		copy(tl.tempos[i+1:], tl.tempos[i:])
		tl.tempos[i] = c
	}
	tl.stampsDirty = true
	tl.updateExtremeTempos()
	return i
}

// RemoveTempoChange removes change number n. Out-of-range n is ignored.
func (tl *Timeline) RemoveTempoChange(n int) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if n < 0 || n >= len(tl.tempos) {
		return
	}
	tl.tempos = append(tl.tempos[:n], tl.tempos[n+1:]...)
	tl.stampsDirty = true
	tl.updateExtremeTempos()
}

func (tl *Timeline) TempoChangeCount() int {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return len(tl.tempos)
}

// TempoChangeNumberAt returns the index of the last tempo change at or before
// t, or -1 if the default tempo is in effect there.
func (tl *Timeline) TempoChangeNumberAt(t Tick) int {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return tl.tempoIndexAt(t)
}

// TempoChange returns the time and starting tempo of change n.
func (tl *Timeline) TempoChange(n int) (Tick, Tempo) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if n < 0 || n >= len(tl.tempos) {
		return 0, tl.defaultTempo
	}
	return tl.tempos[n].time, tl.tempos[n].tempo
}

// TempoRamping reports whether change n ramps and towards what. With
// calculate false a ramp to the following tempo reports a target of 0
// (RampToNext), as stored; with calculate true the following change's tempo
// is reported instead. A flat change reports its own tempo.
func (tl *Timeline) TempoRamping(n int, calculate bool) (bool, Tempo) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if n < 0 || n >= len(tl.tempos) {
		return false, tl.defaultTempo
	}
	c := tl.tempos[n]
	if c.target == NoRamp {
		return false, c.tempo
	}
	if c.target == RampToNext && calculate {
		if n+1 < len(tl.tempos) {
			return true, tl.tempos[n+1].tempo
		}
		return true, c.tempo
	}
	return true, c.target
}

// resolveRamp returns the effective ramp of change i: the tempo reached and
// the tick where it is reached. ok is false when the change is flat, which
// includes a ramp with no following change to end at.
func (tl *Timeline) resolveRamp(i int) (target Tempo, end Tick, ok bool) {
	c := tl.tempos[i]
	if c.target == NoRamp || i+1 >= len(tl.tempos) {
		return 0, 0, false
	}
	next := tl.tempos[i+1]
	target = c.target
	if target == RampToNext {
		target = next.tempo
	}
	return target, next.time, true
}

// TempoAt returns the tempo in effect at t. Within a ramp the tempo is
// interpolated linearly by the proportion of ticks elapsed.
func (tl *Timeline) TempoAt(t Tick) Tempo {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	i := tl.tempoIndexAt(t)
	if i < 0 {
		return tl.defaultTempo
	}
	c := tl.tempos[i]
	target, end, ok := tl.resolveRamp(i)
	if !ok {
		return c.tempo
	}
	span := end - c.time
	if span <= 0 {
		return target
	}
	return c.tempo + Tempo(int64(target-c.tempo)*int64(t-c.time)/int64(span))
}

// MinTempo returns the slowest tempo set anywhere, or the default.
func (tl *Timeline) MinTempo() Tempo {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if tl.minTempo != 0 {
		return tl.minTempo
	}
	return tl.defaultTempo
}

// MaxTempo returns the fastest tempo set anywhere, or the default.
func (tl *Timeline) MaxTempo() Tempo {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if tl.maxTempo != 0 {
		return tl.maxTempo
	}
	return tl.defaultTempo
}

func (tl *Timeline) updateExtremeTempos() {
	tl.minTempo, tl.maxTempo = 0, 0
	note := func(t Tempo) {
		if t <= 0 {
			return
		}
		if tl.minTempo == 0 || t < tl.minTempo {
			tl.minTempo = t
		}
		if t > tl.maxTempo {
			tl.maxTempo = t
		}
	}
	for _, c := range tl.tempos {
		note(c.tempo)
		note(c.target)
	}
}

// ElapsedRealTime returns the real time from tick 0 to t.
func (tl *Timeline) ElapsedRealTime(t Tick) realtime.RealTime {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.updateStamps()
	return tl.elapsed(t)
}

func (tl *Timeline) elapsed(t Tick) realtime.RealTime {
	i := tl.tempoIndexAt(t)
	if i < 0 {
		return flatRealTime(t, tl.defaultTempo)
	}
	return tl.tempos[i].stamp.Add(tl.segmentRealTime(i, t-tl.tempos[i].time))
}

// segmentRealTime is the real time taken by the first dt ticks following
// tempo change i.
func (tl *Timeline) segmentRealTime(i int, dt Tick) realtime.RealTime {
	c := tl.tempos[i]
	if target, end, ok := tl.resolveRamp(i); ok {
		return rampRealTime(dt, c.tempo, target, end-c.time)
	}
	return flatRealTime(dt, c.tempo)
}

// TickForRealTime is the inverse of ElapsedRealTime, rounding down to the
// last tick whose elapsed real time does not exceed rt.
func (tl *Timeline) TickForRealTime(rt realtime.RealTime) Tick {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.updateStamps()

	i := sort.Search(len(tl.tempos), func(i int) bool { return tl.tempos[i].stamp.After(rt) }) - 1
	if i < 0 {
		guess := flatTicks(rt, tl.defaultTempo)
		return correct(guess, rt, func(t Tick) realtime.RealTime { return flatRealTime(t, tl.defaultTempo) })
	}
	c := tl.tempos[i]
	local := rt.Sub(c.stamp)
	var guess Tick
	if target, end, ok := tl.resolveRamp(i); ok {
		guess = rampTicks(local, c.tempo, target, end-c.time)
	} else {
		guess = flatTicks(local, c.tempo)
	}
	dt := correct(guess, local, func(dt Tick) realtime.RealTime { return tl.segmentRealTime(i, dt) })
	return c.time + dt
}

// correct nudges a rounded inverse so that f(t) <= rt < f(t+1).
func correct(t Tick, rt realtime.RealTime, f func(Tick) realtime.RealTime) Tick {
	for n := 0; n < 4 && !f(t+1).After(rt); n++ {
		t++
	}
	for n := 0; n < 4 && f(t).After(rt); n++ {
		t--
	}
	return t
}

// RealTimeDifference returns the absolute real time between two ticks.
func (tl *Timeline) RealTimeDifference(t0, t1 Tick) realtime.RealTime {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.updateStamps()
	if t1 > t0 {
		return tl.elapsed(t1).Sub(tl.elapsed(t0))
	}
	return tl.elapsed(t0).Sub(tl.elapsed(t1))
}

// updateStamps walks the tempo changes once, caching the elapsed real time
// at each of them.
func (tl *Timeline) updateStamps() {
	if !tl.stampsDirty {
		return
	}
	var last realtime.RealTime
	lastTime := Tick(0)
	tempo := tl.defaultTempo
	for i := range tl.tempos {
		dt := tl.tempos[i].time - lastTime
		if i == 0 {
			last = flatRealTime(dt, tempo)
		} else {
			last = last.Add(tl.segmentRealTime(i-1, dt))
		}
		tl.tempos[i].stamp = last
		lastTime = tl.tempos[i].time
	}
	tl.stampsDirty = false
}

// flatRealTime converts dt ticks at a constant tempo exactly, using 128-bit
// intermediates.
func flatRealTime(dt Tick, tempo Tempo) realtime.RealTime {
	if tempo <= 0 {
		return realtime.Zero
	}
	neg := dt < 0
	if neg {
		dt = -dt
	}
	hi, lo := bits.Mul64(uint64(dt), nanosPerTickAtUnitTempo)
	if hi >= uint64(tempo) {
		hi = uint64(tempo) - 1 // saturate rather than panic
	}
	q, _ := bits.Div64(hi, lo, uint64(tempo))
	if q > math.MaxInt64 {
		q = math.MaxInt64
	}
	ns := int64(q)
	if neg {
		ns = -ns
	}
	return realtime.FromNanoseconds(ns)
}

func flatTicks(rt realtime.RealTime, tempo Tempo) Tick {
	if tempo <= 0 {
		return 0
	}
	ns := rt.Nanoseconds()
	neg := ns < 0
	if neg {
		ns = -ns
	}
	hi, lo := bits.Mul64(uint64(ns), uint64(tempo))
	q, _ := bits.Div64(hi, lo, nanosPerTickAtUnitTempo)
	t := Tick(q)
	if neg {
		t = -t
	}
	return t
}

func secondsPerTick(tempo Tempo) float64 {
	return float64(nanosPerTickAtUnitTempo) / 1e9 / float64(tempo)
}

// rampRealTime is the real time taken by the first dt ticks of a ramp from
// tempo to target over span ticks. The time per tick moves linearly from its
// start value a to its end value b, so the elapsed time is the trapezoid
// a*t + t^2*(b-a)/(2n).
func rampRealTime(dt Tick, tempo, target Tempo, span Tick) realtime.RealTime {
	if span == 0 || target == tempo {
		return flatRealTime(dt, tempo)
	}
	a := secondsPerTick(tempo)
	b := secondsPerTick(target)
	t := float64(dt)
	n := float64(span)
	return realtime.FromSeconds(a*t + t*t*(b-a)/(2*n))
}

// rampTicks inverts rampRealTime with the cancellation-free form of the
// quadratic root: t = 2r / (a + sqrt(a^2 + 2r(b-a)/n)).
func rampTicks(rt realtime.RealTime, tempo, target Tempo, span Tick) Tick {
	if span == 0 || target == tempo {
		return flatTicks(rt, tempo)
	}
	a := secondsPerTick(tempo)
	b := secondsPerTick(target)
	r := rt.Seconds()
	disc := a*a + 2*r*(b-a)/float64(span)
	if disc < 0 {
		disc = 0
	}
	den := a + math.Sqrt(disc)
	if den <= 0 {
		return span
	}
	return Tick(math.Floor(2 * r / den))
}
