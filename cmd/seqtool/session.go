package main

import (
	"github.com/pkg/errors"
	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"go-sequencer/midi"
	"go-sequencer/realtime"
	"go-sequencer/stream"
	"go-sequencer/timeline"
)

const (
	clickPitch    = 37 // side stick
	downbeatPitch = 36 // kick
	clickChannel  = 9
)

var clickLength = realtime.FromMilliseconds(20)

// writeSegment writes events, sorted, to segment id in dir.
func writeSegment(dir string, id int, events midi.Batch) error {
	return writeStream(stream.SegmentPath(dir, id), events)
}

func writeStream(path string, events midi.Batch) error {
	events.Sort()
	w, err := stream.Create(path, len(events))
	if err != nil {
		return err
	}
	if _, err := w.Append(events...); err != nil {
		w.Close()
		return errors.Wrapf(err, "append to %s", path)
	}
	return w.Close()
}

// metronome clicks every beat of the first bars bars, accenting downbeats.
func metronome(tl *timeline.Timeline, bars int) midi.Batch {
	var out midi.Batch
	for bar := 0; bar < bars; bar++ {
		start, end := tl.BarRange(bar)
		sig, _ := tl.TimeSignatureInBar(bar)
		for t := start; t < end; t += sig.BeatDuration() {
			ev := midi.Event{
				Instrument: midi.MidiInstrumentBase + clickChannel,
				Type:       midi.Metronome,
				Data1:      clickPitch,
				Data2:      90,
				Time:       tl.ElapsedRealTime(t),
				Duration:   clickLength,
			}
			if t == start {
				ev.Data1, ev.Data2 = downbeatPitch, 120
			}
			out = append(out, ev)
		}
	}
	return out
}

// demoSession writes a rising scale as segment 0, a bass line as segment 1
// and a metronome over the same bars.
func demoSession(dir string, tl *timeline.Timeline, bars int) error {
	scale := []uint8{60, 62, 64, 65, 67, 69, 71, 72}
	eighth := timeline.TicksPerQuarter / 2

	var lead, bass midi.Batch
	end := tl.BarEnd(bars - 1)
	for i, t := 0, timeline.Tick(0); t < end; i, t = i+1, t+eighth {
		at := tl.ElapsedRealTime(t)
		lead = append(lead, midi.Event{
			Instrument: midi.MidiInstrumentBase,
			Type:       midi.MidiNote,
			Data1:      scale[i%len(scale)],
			Data2:      100,
			Time:       at,
			Duration:   tl.RealTimeDifference(t, t+eighth-eighth/4),
		})
	}
	for bar := 0; bar < bars; bar++ {
		start, stop := tl.BarRange(bar)
		bass = append(bass, midi.Event{
			Instrument: midi.MidiInstrumentBase + 1,
			Type:       midi.MidiNote,
			Data1:      36 + uint8(bar%4)*5,
			Data2:      110,
			Time:       tl.ElapsedRealTime(start),
			Duration:   tl.RealTimeDifference(start, stop),
		})
	}

	if err := writeSegment(dir, 0, lead); err != nil {
		return err
	}
	if err := writeSegment(dir, 1, bass); err != nil {
		return err
	}
	return writeStream(stream.SystemPaths(dir)[0], metronome(tl, bars))
}

type heldNote struct {
	start timeline.Tick
	vel   uint8
}

// importSMF converts a standard MIDI file into a session: one segment per
// track that has channel events, instruments by MIDI channel, plus a
// metronome over the length of the song. Tempo and meter changes from any
// track place the events in real time.
func importSMF(path, dir string) (int, *timeline.Timeline, error) {
	sm, err := smf.ReadFile(path)
	if err != nil {
		return 0, nil, errors.Wrapf(err, "read %s", path)
	}
	mt, ok := sm.TimeFormat.(smf.MetricTicks)
	if !ok {
		return 0, nil, errors.Errorf("%s: SMPTE time format is not supported", path)
	}
	res := int64(mt.Resolution())
	scale := func(t int64) timeline.Tick {
		return timeline.Tick(t * int64(timeline.TicksPerQuarter) / res)
	}

	tl := timeline.New(timeline.DefaultTempo)
	var songEnd timeline.Tick
	for _, track := range sm.Tracks {
		var abs int64
		for _, ev := range track {
			abs += int64(ev.Delta)
			var bpm float64
			var num, denom, cpt, dsqpq uint8
			switch {
			case ev.Message.GetMetaTempo(&bpm):
				tl.AddTempoAtTime(scale(abs), timeline.TempoForQPM(bpm), timeline.NoRamp)
			case ev.Message.GetMetaTimeSig(&num, &denom, &cpt, &dsqpq):
				tl.AddTimeSignature(scale(abs), timeline.TimeSignature{Numerator: int(num), Denominator: int(denom)})
			}
		}
		if t := scale(abs); t > songEnd {
			songEnd = t
		}
	}

	written := 0
	for _, track := range sm.Tracks {
		events := trackEvents(tl, track, scale)
		if len(events) == 0 {
			continue
		}
		if err := writeSegment(dir, written, events); err != nil {
			return written, tl, err
		}
		written++
	}

	bars := tl.BarNumber(songEnd) + 1
	if err := writeStream(stream.SystemPaths(dir)[0], metronome(tl, bars)); err != nil {
		return written, tl, err
	}
	return written, tl, nil
}

func trackEvents(tl *timeline.Timeline, track smf.Track, scale func(int64) timeline.Tick) midi.Batch {
	var out midi.Batch
	held := make(map[[2]uint8][]heldNote)
	var abs int64

	closeNote := func(ch, key uint8, h heldNote, end timeline.Tick) {
		out = append(out, midi.Event{
			Instrument: midi.MidiInstrumentBase + midi.InstrumentID(ch),
			Type:       midi.MidiNote,
			Data1:      key,
			Data2:      h.vel,
			Time:       tl.ElapsedRealTime(h.start),
			Duration:   tl.RealTimeDifference(h.start, end),
		})
	}

	for _, ev := range track {
		abs += int64(ev.Delta)
		t := scale(abs)
		e, ch, ok := midi.EventFromMessage(gomidi.Message(ev.Message))
		if !ok {
			continue
		}
		if e.Type != midi.MidiNote {
			e.Instrument = midi.MidiInstrumentBase + midi.InstrumentID(ch)
			e.Time = tl.ElapsedRealTime(t)
			out = append(out, e)
			continue
		}
		k := [2]uint8{ch, e.Data1}
		if e.Data2 > 0 {
			held[k] = append(held[k], heldNote{start: t, vel: e.Data2})
			continue
		}
		if q := held[k]; len(q) > 0 {
			closeNote(ch, e.Data1, q[0], t)
			held[k] = q[1:]
		}
	}

	// notes never released last until the end of the track
	end := scale(abs)
	for k, q := range held {
		for _, h := range q {
			closeNote(k[0], k[1], h, end)
		}
	}
	return out
}
