package midi

import (
	gomidi "gitlab.com/gomidi/midi/v2"
)

// Messages renders e as wire messages on channel ch. A note with a duration
// yields only its note-on; the note-off is scheduled separately. One-shot
// notes yield both.
func Messages(e Event, ch uint8) []gomidi.Message {
	switch e.Type {
	case MidiNote, Metronome:
		if e.Data2 == 0 {
			return []gomidi.Message{gomidi.NoteOff(ch, e.Data1)}
		}
		return []gomidi.Message{gomidi.NoteOn(ch, e.Data1, e.Data2)}
	case MidiNoteOneShot:
		return []gomidi.Message{gomidi.NoteOn(ch, e.Data1, e.Data2), gomidi.NoteOff(ch, e.Data1)}
	case MidiProgramChange:
		return []gomidi.Message{gomidi.ProgramChange(ch, e.Data1)}
	case MidiController:
		return []gomidi.Message{gomidi.ControlChange(ch, e.Data1, e.Data2)}
	case MidiPitchBend:
		v := int16(e.Data2&0x7f)<<7 | int16(e.Data1&0x7f)
		return []gomidi.Message{gomidi.Pitchbend(ch, v-8192)}
	case MidiKeyPressure:
		return []gomidi.Message{gomidi.PolyAfterTouch(ch, e.Data1, e.Data2)}
	case MidiChannelPressure:
		return []gomidi.Message{gomidi.AfterTouch(ch, e.Data1)}
	case MidiSystemMessage:
		if m := systemMessage(e.Data1, e.Data2); m != nil {
			return []gomidi.Message{m}
		}
	}
	return nil
}

// systemMessage renders a system common or real-time message from its
// status byte. Exclusive and song position messages do not fit an event
// and give nil.
func systemMessage(status, data uint8) gomidi.Message {
	switch status {
	case 0xF3:
		return gomidi.SongSelect(data & 0x7f)
	case 0xF6:
		return gomidi.Tune()
	case 0xF8:
		return gomidi.TimingClock()
	case 0xFA:
		return gomidi.Start()
	case 0xFB:
		return gomidi.Continue()
	case 0xFC:
		return gomidi.Stop()
	case 0xFE:
		return gomidi.Activesense()
	case 0xFF:
		return gomidi.Reset()
	}
	return nil
}

// EventFromMessage converts an incoming wire message. Channel is returned
// separately since events carry an instrument instead. Note-offs come back
// as MidiNote with zero velocity.
func EventFromMessage(msg gomidi.Message) (Event, uint8, bool) {
	var ch, a, b uint8
	var rel int16
	var abs uint16
	switch {
	case msg.GetNoteOn(&ch, &a, &b):
		return Event{Type: MidiNote, Data1: a, Data2: b}, ch, true
	case msg.GetNoteOff(&ch, &a, &b):
		return Event{Type: MidiNote, Data1: a}, ch, true
	case msg.GetControlChange(&ch, &a, &b):
		return Event{Type: MidiController, Data1: a, Data2: b}, ch, true
	case msg.GetProgramChange(&ch, &a):
		return Event{Type: MidiProgramChange, Data1: a}, ch, true
	case msg.GetPitchBend(&ch, &rel, &abs):
		return Event{Type: MidiPitchBend, Data1: uint8(abs & 0x7f), Data2: uint8(abs >> 7)}, ch, true
	case msg.GetPolyAfterTouch(&ch, &a, &b):
		return Event{Type: MidiKeyPressure, Data1: a, Data2: b}, ch, true
	case msg.GetAfterTouch(&ch, &a):
		return Event{Type: MidiChannelPressure, Data1: a}, ch, true
	}
	return Event{}, 0, false
}
