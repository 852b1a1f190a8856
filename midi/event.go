package midi

import (
	"fmt"
	"sort"

	"go-sequencer/realtime"
)

// InstrumentID identifies a playback destination. The range an ID falls in
// decides what kind of device serves it.
type InstrumentID uint32

const (
	AudioInstrumentBase     InstrumentID = 1000
	MidiInstrumentBase      InstrumentID = 2000
	SoftSynthInstrumentBase InstrumentID = 10000
)

// DeviceKind is the closed set of device families an instrument can
// belong to.
type DeviceKind int

const (
	KindUnknown DeviceKind = iota
	KindAudio
	KindMidi
	KindSoftSynth
)

func (k DeviceKind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindMidi:
		return "midi"
	case KindSoftSynth:
		return "softsynth"
	}
	return "unknown"
}

// KindOf maps an instrument ID onto its device family.
func KindOf(id InstrumentID) DeviceKind {
	switch {
	case id >= SoftSynthInstrumentBase:
		return KindSoftSynth
	case id >= MidiInstrumentBase:
		return KindMidi
	case id >= AudioInstrumentBase:
		return KindAudio
	}
	return KindUnknown
}

// EventType is a bit flag so that filters can be expressed as masks.
type EventType uint32

const (
	MidiNote EventType = 1 << iota
	MidiNoteOneShot
	MidiProgramChange
	MidiKeyPressure
	MidiChannelPressure
	MidiPitchBend
	MidiController
	MidiSystemMessage
	Audio
	AudioCancel
	Tempo
	TimeSignature
	Metronome

	AllMidi = MidiNote | MidiNoteOneShot | MidiProgramChange | MidiKeyPressure |
		MidiChannelPressure | MidiPitchBend | MidiController | MidiSystemMessage
)

var typeNames = map[EventType]string{
	MidiNote:            "note",
	MidiNoteOneShot:     "note-oneshot",
	MidiProgramChange:   "program",
	MidiKeyPressure:     "key-pressure",
	MidiChannelPressure: "channel-pressure",
	MidiPitchBend:       "pitchbend",
	MidiController:      "controller",
	MidiSystemMessage:   "system",
	Audio:               "audio",
	AudioCancel:         "audio-cancel",
	Tempo:               "tempo",
	TimeSignature:       "timesig",
	Metronome:           "metronome",
}

func (t EventType) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("type(%#x)", uint32(t))
}

// IsAudio reports event types that belong on the audio queue rather than
// the MIDI out path.
func (t EventType) IsAudio() bool {
	return t&(Audio|AudioCancel) != 0
}

// Event is one scheduled item. Times are real time from the start of the
// composition.
type Event struct {
	Instrument InstrumentID
	Type       EventType
	Data1      uint8 // pitch, controller number, program
	Data2      uint8 // velocity, controller value
	Time       realtime.RealTime
	Duration   realtime.RealTime

	AudioMarker    realtime.RealTime // start offset into an audio file
	HasAudioMarker bool
}

func (e Event) String() string {
	return fmt.Sprintf("%v %s i=%d d1=%d d2=%d dur=%v", e.Time, e.Type, e.Instrument, e.Data1, e.Data2, e.Duration)
}

// Batch is a time-ordered slice of events handed between the engine and
// the sound backend.
type Batch []Event

// Sort orders the batch by time, keeping the relative order of equal times.
func (b Batch) Sort() {
	sort.SliceStable(b, func(i, j int) bool { return b[i].Time.Before(b[j].Time) })
}

// Filter returns the events whose type is not in mask.
func (b Batch) Filter(mask EventType) Batch {
	var out Batch
	for _, e := range b {
		if e.Type&mask == 0 {
			out = append(out, e)
		}
	}
	return out
}

// Split separates audio events from everything else.
func (b Batch) Split() (other, audio Batch) {
	for _, e := range b {
		if e.Type.IsAudio() {
			audio = append(audio, e)
		} else {
			other = append(other, e)
		}
	}
	return other, audio
}
