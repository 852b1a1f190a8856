package sequencer

import (
	"go-sequencer/realtime"
)

// TransportStatus is the engine's position in the transport state machine.
type TransportStatus int

const (
	Stopped TransportStatus = iota
	StartingToPlay
	Playing
	StartingToRecord
	Recording
	Stopping
	Quit
)

func (s TransportStatus) String() string {
	switch s {
	case Stopped:
		return "Stopped"
	case StartingToPlay:
		return "StartingToPlay"
	case Playing:
		return "Playing"
	case StartingToRecord:
		return "StartingToRecord"
	case Recording:
		return "Recording"
	case Stopping:
		return "Stopping"
	case Quit:
		return "Quit"
	}
	return "Unknown"
}

// Running reports whether the clocks are (or are about to be) moving.
func (s TransportStatus) Running() bool {
	return s == Playing || s == Recording
}

// Snapshot is a copy of the engine state that other goroutines may read.
type Snapshot struct {
	Status TransportStatus
	// Position is the display position: the song position pulled back by
	// the maximum play latency.
	Position     realtime.RealTime
	SongPosition realtime.RealTime
	LoopStart    realtime.RealTime
	LoopEnd      realtime.RealTime
	Token        Token
	Streams      int
}

func (s Snapshot) Looping() bool {
	return s.LoopEnd.After(s.LoopStart)
}

// publish stores a fresh snapshot. Only the owning goroutine calls it.
func (e *Engine) publish() {
	snap := &Snapshot{
		Status:       e.status,
		Position:     e.displayPosition,
		SongPosition: e.songPosition,
		LoopStart:    e.loopStart,
		LoopEnd:      e.loopEnd,
		Token:        e.CurrentToken(),
		Streams:      len(e.segments),
	}
	e.snapshot.Store(snap)
}

// Snapshot returns the most recently published engine state. It is safe to
// call from any goroutine.
func (e *Engine) Snapshot() Snapshot {
	if s := e.snapshot.Load(); s != nil {
		return *s
	}
	return Snapshot{}
}
