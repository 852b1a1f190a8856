// Package timeline maps abstract musical time (ticks) to wall-clock time and
// to bars and beats. It holds the tempo changes and time signature changes of
// a composition, keeps them sorted and unique per tick, and lazily rebuilds
// its cached checkpoints (real-time stamps per tempo change, bar numbers per
// time signature) the first time a query follows a mutation.
package timeline

import (
	"sort"
	"sync"

	"go-sequencer/realtime"
)

// Tick is a resolution-independent musical position.
type Tick int64

// Tempo is quarter notes per minute scaled by 10^5. Zero means "unset" and is
// never a playable tempo.
type Tempo int64

const (
	// TicksPerQuarter is the duration of a crotchet.
	TicksPerQuarter Tick = 960
	// TicksPerWhole is the duration of a semibreve; bar lengths derive from it.
	TicksPerWhole Tick = 4 * TicksPerQuarter
	// FractionTicks is the duration of the shortest note (a 64th) and the
	// unit of the fraction field of a musical time.
	FractionTicks Tick = TicksPerWhole / 64
)

const (
	// NoRamp marks a tempo change as flat until the next change.
	NoRamp Tempo = -1
	// RampToNext marks a tempo change as ramping smoothly to whatever tempo
	// the following change introduces.
	RampToNext Tempo = 0
)

// DefaultTempo is 120 quarter notes per minute.
const DefaultTempo Tempo = 120 * 100000

// TempoQPM converts a tempo to quarter notes per minute.
func TempoQPM(t Tempo) float64 { return float64(t) / 100000.0 }

// TempoForQPM converts quarter notes per minute to a tempo.
func TempoForQPM(qpm float64) Tempo { return Tempo(qpm*100000 + 0.01) }

type tempoChange struct {
	time   Tick
	tempo  Tempo
	target Tempo
	stamp  realtime.RealTime // elapsed real time at time, valid when !stampsDirty
}

type sigChange struct {
	time Tick
	sig  TimeSignature
	bar  int // bar number starting at time, valid when !barsDirty
}

// Timeline is safe for concurrent use.
type Timeline struct {
	mu sync.Mutex

	defaultTempo Tempo
	tempos       []tempoChange
	sigs         []sigChange

	stampsDirty bool
	barsDirty   bool

	minTempo Tempo
	maxTempo Tempo
}

// New creates an empty timeline. A non-positive default falls back to
// DefaultTempo.
func New(defaultTempo Tempo) *Timeline {
	if defaultTempo <= 0 {
		defaultTempo = DefaultTempo
	}
	return &Timeline{defaultTempo: defaultTempo}
}

// SetDefaultTempo sets the tempo used before (or without) any tempo change.
// Non-positive tempos are ignored.
func (tl *Timeline) SetDefaultTempo(t Tempo) {
	if t <= 0 {
		return
	}
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.defaultTempo = t
	tl.stampsDirty = true
}

func (tl *Timeline) DefaultTempo() Tempo {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return tl.defaultTempo
}

// Clear removes all tempo and time signature changes.
func (tl *Timeline) Clear() {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.tempos = nil
	tl.sigs = nil
	tl.minTempo, tl.maxTempo = 0, 0
	tl.stampsDirty = true
	tl.barsDirty = true
}

// tempoIndexAt returns the index of the last tempo change at or before t, or
// -1 if t precedes all of them.
func (tl *Timeline) tempoIndexAt(t Tick) int {
	return sort.Search(len(tl.tempos), func(i int) bool { return tl.tempos[i].time > t }) - 1
}

// sigIndexAt returns the index of the last time signature at or before t, or
// -1 if t precedes all of them.
func (tl *Timeline) sigIndexAt(t Tick) int {
	return sort.Search(len(tl.sigs), func(i int) bool { return tl.sigs[i].time > t }) - 1
}

func floorDiv(a, b Tick) Tick {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
