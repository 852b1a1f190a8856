package sequencer

import (
	"go-sequencer/midi"
	"go-sequencer/realtime"
)

// Driver is the sound backend the engine plays through. midi.Backend is the
// real implementation.
type Driver interface {
	// Clocks
	StartClocks()
	StopClocks()
	SequencerTime() realtime.RealTime
	StartPosition() realtime.RealTime
	IsPlaying() bool

	// Playback
	InitialisePlayback(pos realtime.RealTime)
	ResetPlayback(oldPos, newPos realtime.RealTime)
	StopPlayback()
	ProcessEventsOut(events midi.Batch, start, end realtime.RealTime)
	ProcessEventsNow(events midi.Batch)
	InitialiseAudioQueue(events midi.Batch)

	// Recording
	Record(on bool, armed []midi.InstrumentID, files []string) bool
	PunchOut()
	RecordedEvents() midi.Batch

	// Settings
	SetLoop(start, end realtime.RealTime)
	SetAudioBufferSizes(mix, read, write realtime.RealTime, smallFileSize int)
	SetMIDIClockInterval(interval realtime.RealTime)
	InstrumentLatency(id midi.InstrumentID) realtime.RealTime
	MaximumLatency() realtime.RealTime

	CheckForNewClients() bool
}

var _ Driver = (*midi.Backend)(nil)

// Authoring is the side that owns the composition: it knows which
// instruments are armed, where recorded audio goes, and receives what was
// recorded.
type Authoring interface {
	ArmedInstruments() []midi.InstrumentID
	// CreateRecordAudioFiles returns one file per audio instrument, or fewer
	// on failure.
	CreateRecordAudioFiles(instruments []midi.InstrumentID) []string
	AddRecordedEvents(events midi.Batch)
}

// NoAuthoring has nothing armed and discards recordings.
type NoAuthoring struct{}

func (NoAuthoring) ArmedInstruments() []midi.InstrumentID { return nil }

func (NoAuthoring) CreateRecordAudioFiles([]midi.InstrumentID) []string { return nil }

func (NoAuthoring) AddRecordedEvents(midi.Batch) {}

// PlayParams are the arguments of Play and Record.
type PlayParams struct {
	Position  realtime.RealTime
	ReadAhead realtime.RealTime
	AudioMix  realtime.RealTime
	AudioRead realtime.RealTime
	// AudioWrite and SmallFileSize only matter to audio drivers.
	AudioWrite    realtime.RealTime
	SmallFileSize int
}

// DefaultPlayParams matches the values a session starts with.
func DefaultPlayParams() PlayParams {
	return PlayParams{
		ReadAhead:     realtime.FromMilliseconds(80),
		AudioMix:      realtime.FromMilliseconds(60),
		AudioRead:     realtime.FromMilliseconds(100),
		AudioWrite:    realtime.FromMilliseconds(200),
		SmallFileSize: 128,
	}
}
