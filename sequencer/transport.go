package sequencer

import (
	"time"

	"go-sequencer/debug"
	"go-sequencer/midi"
	"go-sequencer/realtime"
)

// Play prepares playback from p.Position. The clock is not started here:
// StartPlaying does that once the first slice is buffered. Playing while
// recording punches out instead.
func (e *Engine) Play(p PlayParams) bool {
	switch e.status {
	case Quit:
		return false
	case Playing, StartingToPlay:
		return true
	case Recording:
		return e.PunchOut()
	}

	e.songPosition = p.Position
	e.displayPosition = p.Position
	if e.status != StartingToRecord {
		e.setStatus(StartingToPlay)
	}
	e.driver.StopClocks()

	if p.ReadAhead.IsZero() {
		p.ReadAhead = realtime.New(1, 0)
	}
	e.params = p
	e.driver.SetAudioBufferSizes(p.AudioMix, p.AudioRead, p.AudioWrite, p.SmallFileSize)

	e.cleanupMappedStreams()
	e.mapStreams()
	e.initMerger()

	debug.Log("transport", "play from %v, read ahead %v, %d streams", p.Position, p.ReadAhead, len(e.order))
	e.publish()
	return true
}

// StartPlaying buffers the first read-ahead window, hands the audio events
// to the driver and only then starts the clock.
func (e *Engine) StartPlaying() bool {
	if e.merger == nil {
		return false
	}
	ra := e.params.ReadAhead
	end := e.songPosition.Add(ra)
	e.lastFetch = end

	e.driver.InitialisePlayback(e.songPosition)
	c := e.fetchEvents(e.songPosition, end, true)
	e.driver.ProcessEventsOut(c, e.songPosition, end)
	e.driver.InitialiseAudioQueue(e.merger.AudioEvents())
	e.driver.StartClocks()

	if e.status == StartingToRecord {
		e.setStatus(Recording)
	} else {
		e.setStatus(Playing)
	}
	e.incrementTransportToken()
	return true
}

// Record starts recording. mode is StartingToRecord; while playing that
// becomes a punch in and playback carries on untouched. Any failure to
// prepare the driver stops the transport.
func (e *Engine) Record(p PlayParams, mode TransportStatus) bool {
	if e.status == Quit {
		return false
	}
	if e.status == Playing && mode == StartingToRecord {
		debug.Log("transport", "punching in")
		mode = Recording
	}
	if mode != StartingToRecord && !(mode == Recording && e.status == Playing) {
		debug.Warn("transport", "record: unusable mode %s while %s", mode, e.status)
		return false
	}

	armed := e.authoring.ArmedInstruments()
	var audio []midi.InstrumentID
	for _, id := range armed {
		if midi.KindOf(id) == midi.KindAudio {
			audio = append(audio, id)
		}
	}

	var files []string
	if len(audio) > 0 {
		files = e.authoring.CreateRecordAudioFiles(audio)
		if len(files) != len(audio) {
			debug.Warn("transport", "record: wanted %d audio files, got %d", len(audio), len(files))
			e.metrics.IncRecordFailures()
			e.Stop()
			return false
		}
	}

	if !e.driver.Record(true, armed, files) {
		debug.Warn("transport", "record: driver refused %v", armed)
		e.metrics.IncRecordFailures()
		e.Stop()
		return false
	}

	e.setStatus(mode)
	if mode == Recording {
		e.incrementTransportToken()
		return true
	}
	e.driver.InitialisePlayback(e.songPosition)
	return e.Play(p)
}

// Stop flushes what is sounding, forgets the song position and releases
// every mapped stream.
func (e *Engine) Stop() {
	if e.status == Quit {
		return
	}
	e.setStatus(Stopping)
	e.driver.StopPlayback()

	e.songPosition = realtime.Zero
	e.lastFetch = realtime.Zero
	e.lastStartTime = realtime.Zero
	e.displayPosition = realtime.Zero
	e.cleanupMappedStreams()

	e.setStatus(Stopped)
	e.incrementTransportToken()
	debug.Log("transport", "stopped")
}

// PunchOut ends recording and keeps playing.
func (e *Engine) PunchOut() bool {
	if e.status != Recording {
		return false
	}
	e.driver.PunchOut()
	e.setStatus(Playing)
	e.incrementTransportToken()
	return true
}

// JumpTo moves the song position. While the driver is playing the new
// window is buffered before the clock restarts. Negative positions are
// ignored.
func (e *Engine) JumpTo(pos realtime.RealTime) bool {
	if e.status == Quit || pos.Before(realtime.Zero) {
		return false
	}
	debug.Log("transport", "jump to %v", pos)
	e.driver.StopClocks()

	old := e.songPosition
	e.songPosition = pos
	e.lastFetch = pos
	e.displayPosition = pos
	e.driver.ResetPlayback(old, pos)

	playing := e.driver.IsPlaying()
	if playing {
		end := pos.Add(e.params.ReadAhead)
		c := e.fetchEvents(pos, end, true)
		e.driver.ProcessEventsOut(c, pos, end)
	}
	e.incrementTransportToken()
	if playing {
		e.driver.StartClocks()
	}
	e.publish()
	return true
}

// SetLoop sets the loop bounds. Equal bounds switch looping off.
func (e *Engine) SetLoop(start, end realtime.RealTime) {
	e.loopStart = start
	e.loopEnd = end
	e.driver.SetLoop(start, end)
	e.publish()
}

// UpdateClocks reads the driver clock once. Past the loop end it rewinds to
// the loop start and re-buffers; otherwise it advances the song position
// and tops up the read-ahead window.
func (e *Engine) UpdateClocks() {
	if !e.status.Running() {
		return
	}
	newPos := e.driver.SequencerTime()

	if e.Looping() && !newPos.Before(e.loopEnd) {
		old := e.songPosition
		e.songPosition = e.loopStart
		e.lastFetch = e.loopStart
		newPos = e.loopStart

		e.driver.StopClocks()
		e.driver.ResetPlayback(old, e.songPosition)
		end := e.songPosition.Add(e.params.ReadAhead)
		c := e.fetchEvents(e.songPosition, end, true)
		e.driver.ProcessEventsOut(c, e.songPosition, end)
		e.driver.StartClocks()
		e.metrics.IncLoopWraps()
		debug.Log("transport", "loop %v -> %v", old, e.loopStart)
	} else {
		e.songPosition = newPos
		if start := e.driver.StartPosition(); !e.songPosition.After(start) {
			newPos = start
		}
		e.KeepPlaying()
	}

	if latency := e.driver.MaximumLatency(); !latency.IsZero() {
		newPos = newPos.Sub(latency)
	}
	e.displayPosition = newPos
}

// KeepPlaying fetches whatever lies between the last fetch and one
// read-ahead past the song position, stopping short of the loop end.
func (e *Engine) KeepPlaying() bool {
	fetchEnd := e.songPosition.Add(e.params.ReadAhead)
	if e.Looping() && !fetchEnd.Before(e.loopEnd) {
		fetchEnd = e.loopEnd.Sub(realtime.New(0, 1))
	}
	if !fetchEnd.After(e.lastFetch) {
		return true
	}
	c := e.fetchEvents(e.lastFetch, fetchEnd, false)
	e.driver.ProcessEventsOut(c, e.lastFetch, fetchEnd)
	e.lastFetch = fetchEnd
	return true
}

// fetchEvents returns the latency compensated slice [start, end). A stopped
// engine has nothing to fetch.
func (e *Engine) fetchEvents(start, end realtime.RealTime, firstFetch bool) midi.Batch {
	if e.status == Stopped || e.status == Stopping || e.merger == nil {
		return nil
	}
	began := time.Now()
	e.refreshStale()
	c := e.getSlice(start, end, firstFetch)
	e.applyLatencyCompensation(c)
	e.metrics.ObserveFetch(len(c), time.Since(began))
	debug.LogEvery(100, "fetch", "[%v, %v) first=%v: %d events", start, end, firstFetch, len(c))
	return c
}

func (e *Engine) getSlice(start, end realtime.RealTime, firstFetch bool) midi.Batch {
	var c midi.Batch
	if firstFetch || start.Before(e.lastStartTime) {
		e.merger.JumpToTime(start)
	}
	e.merger.FillUntil(firstFetch, &c, start, end)
	e.lastStartTime = start
	return c
}

// applyLatencyCompensation delays each event by the difference between the
// slowest instrument and its own, so that everything arrives together.
func (e *Engine) applyLatencyCompensation(c midi.Batch) {
	maxLatency := e.driver.MaximumLatency()
	if maxLatency.IsZero() {
		return
	}
	for i := range c {
		shift := maxLatency.Sub(e.driver.InstrumentLatency(c[i].Instrument))
		c[i].Time = c[i].Time.Add(shift)
	}
}

// ProcessSequencerSlice sends events out immediately, outside the
// read-ahead schedule.
func (e *Engine) ProcessSequencerSlice(c midi.Batch) {
	if e.status == Quit {
		return
	}
	e.driver.ProcessEventsNow(c)
}

// ProcessMappedEvent sends a single event out immediately.
func (e *Engine) ProcessMappedEvent(ev midi.Event) {
	e.ProcessSequencerSlice(midi.Batch{ev})
}

// SetQuarterNoteLength sets the MIDI clock rate: 24 pulses per quarter.
func (e *Engine) SetQuarterNoteLength(rt realtime.RealTime) {
	debug.Log("transport", "quarter note %v", rt)
	e.driver.SetMIDIClockInterval(rt.Div(24))
}

// ProcessAsynchronousEvents collects input that arrived outside recording
// so that PullAsynchronousMidiQueue can hand it on.
func (e *Engine) ProcessAsynchronousEvents() {
	if e.status == Quit {
		return
	}
	c := e.driver.RecordedEvents()
	if len(c) == 0 {
		return
	}
	e.asyncMu.Lock()
	e.asyncQueue = append(e.asyncQueue, c...)
	e.asyncMu.Unlock()
	e.routeThru(c)
}

// PullAsynchronousMidiQueue drains the input collected while not
// recording. It is safe to call from any goroutine.
func (e *Engine) PullAsynchronousMidiQueue() midi.Batch {
	e.asyncMu.Lock()
	defer e.asyncMu.Unlock()
	q := e.asyncQueue
	e.asyncQueue = nil
	return q
}

// processRecordedMidi passes recorded input through the record filter to
// the authoring side.
func (e *Engine) processRecordedMidi() {
	c := e.driver.RecordedEvents()
	if len(c) == 0 {
		return
	}
	if e.recordFilter != 0 {
		c = c.Filter(e.recordFilter)
	}
	if len(c) > 0 {
		e.authoring.AddRecordedEvents(c)
	}
	e.routeThru(c)
}

func (e *Engine) routeThru(c midi.Batch) {
	if !e.thru {
		return
	}
	if out := c.Filter(e.thruFilter); len(out) > 0 {
		e.driver.ProcessEventsNow(out)
	}
}

// CheckForNewClients asks the driver to rescan its ports. It is skipped
// while the clocks are running.
func (e *Engine) CheckForNewClients() bool {
	if e.status == Quit || e.status.Running() {
		return false
	}
	if e.driver.CheckForNewClients() {
		debug.Log("transport", "client list changed")
		return true
	}
	return false
}
