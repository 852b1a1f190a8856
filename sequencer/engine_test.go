package sequencer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go-sequencer/midi"
	"go-sequencer/realtime"
	"go-sequencer/stream"
)

type window struct {
	events     midi.Batch
	start, end realtime.RealTime
}

type fakeDriver struct {
	mu sync.Mutex

	now      realtime.RealTime
	startPos realtime.RealTime
	running  bool
	playing  bool

	latency    map[midi.InstrumentID]realtime.RealTime
	maxLatency realtime.RealTime

	refuseRecord bool
	recordArmed  []midi.InstrumentID
	recordFiles  []string
	punchOuts    int

	windows       []window
	immediate     midi.Batch
	audio         midi.Batch
	clockStarts   int
	stopPlaybacks int
	loop          [2]realtime.RealTime
	clockInterval realtime.RealTime
	recorded      midi.Batch
	newClients    bool
	clientChecks  int
}

func (d *fakeDriver) StartClocks() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = true
	d.clockStarts++
}

func (d *fakeDriver) StopClocks() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = false
}

func (d *fakeDriver) SequencerTime() realtime.RealTime {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.now
}

func (d *fakeDriver) StartPosition() realtime.RealTime {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.startPos
}

func (d *fakeDriver) IsPlaying() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.playing
}

func (d *fakeDriver) InitialisePlayback(pos realtime.RealTime) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now, d.startPos, d.playing = pos, pos, true
}

func (d *fakeDriver) ResetPlayback(oldPos, newPos realtime.RealTime) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now, d.startPos = newPos, newPos
}

func (d *fakeDriver) StopPlayback() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.playing, d.running = false, false
	d.stopPlaybacks++
}

func (d *fakeDriver) ProcessEventsOut(events midi.Batch, start, end realtime.RealTime) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.windows = append(d.windows, window{append(midi.Batch(nil), events...), start, end})
}

func (d *fakeDriver) ProcessEventsNow(events midi.Batch) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.immediate = append(d.immediate, events...)
}

func (d *fakeDriver) InitialiseAudioQueue(events midi.Batch) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.audio = events
}

func (d *fakeDriver) Record(on bool, armed []midi.InstrumentID, files []string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.refuseRecord {
		return false
	}
	d.recordArmed, d.recordFiles = armed, files
	return true
}

func (d *fakeDriver) PunchOut() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.punchOuts++
}

func (d *fakeDriver) RecordedEvents() midi.Batch {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.recorded
	d.recorded = nil
	return out
}

func (d *fakeDriver) SetLoop(start, end realtime.RealTime) {
	d.loop = [2]realtime.RealTime{start, end}
}

func (d *fakeDriver) SetAudioBufferSizes(mix, read, write realtime.RealTime, smallFileSize int) {}

func (d *fakeDriver) SetMIDIClockInterval(interval realtime.RealTime) {
	d.clockInterval = interval
}

func (d *fakeDriver) InstrumentLatency(id midi.InstrumentID) realtime.RealTime {
	return d.latency[id]
}

func (d *fakeDriver) MaximumLatency() realtime.RealTime { return d.maxLatency }

func (d *fakeDriver) CheckForNewClients() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clientChecks++
	return d.newClients
}

func (d *fakeDriver) set(ms int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = realtime.FromMilliseconds(ms)
}

func (d *fakeDriver) takeWindows() []window {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.windows
	d.windows = nil
	return out
}

type fakeAuthoring struct {
	armed    []midi.InstrumentID
	files    []string
	recorded midi.Batch
}

func (a *fakeAuthoring) ArmedInstruments() []midi.InstrumentID { return a.armed }

func (a *fakeAuthoring) CreateRecordAudioFiles(ids []midi.InstrumentID) []string { return a.files }

func (a *fakeAuthoring) AddRecordedEvents(events midi.Batch) {
	a.recorded = append(a.recorded, events...)
}

func note(ms int64, instrument midi.InstrumentID, pitch uint8) midi.Event {
	return midi.Event{
		Instrument: instrument,
		Type:       midi.MidiNote,
		Data1:      pitch,
		Data2:      100,
		Time:       realtime.FromMilliseconds(ms),
		Duration:   realtime.FromMilliseconds(10),
	}
}

func notesAt(ms ...int64) []midi.Event {
	out := make([]midi.Event, len(ms))
	for i, t := range ms {
		out[i] = note(t, midi.MidiInstrumentBase, uint8(i))
	}
	return out
}

func writeSegment(t *testing.T, dir string, id int, events ...midi.Event) *stream.Writer {
	t.Helper()
	w, err := stream.Create(stream.SegmentPath(dir, id), 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Append(events...); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func newEngine(t *testing.T, dir string, opts ...Option) (*Engine, *fakeDriver) {
	t.Helper()
	d := &fakeDriver{latency: map[midi.InstrumentID]realtime.RealTime{}}
	e := New(d, nil, append([]Option{WithStreamDir(dir), WithClientCheckInterval(0)}, opts...)...)
	t.Cleanup(e.CloseAllSegments)
	return e, d
}

func params(posMs, readAheadMs int64) PlayParams {
	p := DefaultPlayParams()
	p.Position = realtime.FromMilliseconds(posMs)
	p.ReadAhead = realtime.FromMilliseconds(readAheadMs)
	return p
}

func windowTimes(ws []window) []int64 {
	var out []int64
	for _, w := range ws {
		for _, e := range w.events {
			out = append(out, e.Time.Milliseconds())
		}
	}
	return out
}

func equalInts(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestPlayStartStop(t *testing.T) {
	dir := t.TempDir()
	writeSegment(t, dir, 1, notesAt(0, 500, 1500, 2500)...)
	e, d := newEngine(t, dir)
	start := e.CurrentToken()

	if !e.Play(params(0, 1000)) {
		t.Fatal("Play refused")
	}
	if e.Status() != StartingToPlay || d.running {
		t.Fatalf("after Play: status %s, clock running %v", e.Status(), d.running)
	}
	if len(e.MappedStreams()) != 1 {
		t.Fatalf("mapped %v", e.MappedStreams())
	}

	if !e.StartPlaying() {
		t.Fatal("StartPlaying refused")
	}
	ws := d.takeWindows()
	if len(ws) != 1 || ws[0].start != realtime.Zero || ws[0].end != realtime.New(1, 0) {
		t.Fatalf("first fetch windows %+v", ws)
	}
	if got := windowTimes(ws); !equalInts(got, []int64{0, 500}) {
		t.Errorf("first fetch %v", got)
	}
	if e.Status() != Playing || !d.running || e.CurrentToken() != start+1 {
		t.Errorf("status %s running %v token %d", e.Status(), d.running, e.CurrentToken())
	}

	var fetched []int64
	last := realtime.Zero
	for ms := int64(100); ms <= 2000; ms += 100 {
		d.set(ms)
		e.UpdateClocks()
		if e.SongPosition().Before(last) {
			t.Fatalf("position went back from %v to %v", last, e.SongPosition())
		}
		last = e.SongPosition()
		fetched = append(fetched, windowTimes(d.takeWindows())...)
	}
	if !equalInts(fetched, []int64{1500, 2500}) {
		t.Errorf("top-up fetched %v", fetched)
	}
	if e.SongPosition() != realtime.New(2, 0) || e.LastFetchPosition() != realtime.New(3, 0) {
		t.Errorf("position %v last fetch %v", e.SongPosition(), e.LastFetchPosition())
	}

	e.Stop()
	if e.Status() != Stopped || e.SongPosition() != realtime.Zero || len(e.MappedStreams()) != 0 {
		t.Errorf("after stop: %s %v %v", e.Status(), e.SongPosition(), e.MappedStreams())
	}
	if d.stopPlaybacks != 1 || e.CurrentToken() != start+2 {
		t.Errorf("stopPlayback calls %d, token %d", d.stopPlaybacks, e.CurrentToken())
	}
	if snap := e.Snapshot(); snap.Status != Stopped || snap.Token != e.CurrentToken() {
		t.Errorf("snapshot %+v", snap)
	}
}

func TestPlayIgnoresRepeatsAndZeroReadAhead(t *testing.T) {
	e, _ := newEngine(t, t.TempDir())
	if !e.Play(params(0, 0)) {
		t.Fatal("Play refused")
	}
	if e.ReadAhead() != realtime.New(1, 0) {
		t.Errorf("read ahead %v, want 1s", e.ReadAhead())
	}
	if !e.Play(params(5000, 10)) || e.SongPosition() != realtime.Zero {
		t.Errorf("second Play moved the position to %v", e.SongPosition())
	}
}

func TestLoopWrapsOnce(t *testing.T) {
	dir := t.TempDir()
	writeSegment(t, dir, 1, notesAt(1100, 1500, 1900, 2100)...)
	e, d := newEngine(t, dir)
	e.SetLoop(realtime.New(1, 0), realtime.New(2, 0))
	if d.loop[1] != realtime.New(2, 0) || !e.Looping() {
		t.Fatal("loop not passed on")
	}

	e.Play(params(1000, 300))
	e.StartPlaying()
	fetched := windowTimes(d.takeWindows())

	wraps := 0
	for ms := int64(1100); ms <= 2000; ms += 100 {
		d.set(ms)
		e.UpdateClocks()
		if e.SongPosition() == realtime.New(1, 0) {
			wraps++
		}
		fetched = append(fetched, windowTimes(d.takeWindows())...)
	}
	if wraps != 1 {
		t.Errorf("position returned to loop start %d times", wraps)
	}
	if want := []int64{1100, 1500, 1900, 1100}; !equalInts(fetched, want) {
		t.Errorf("fetched %v, want %v", fetched, want)
	}
	if d.now != realtime.New(1, 0) || !d.running {
		t.Errorf("driver clock %v running %v", d.now, d.running)
	}
}

func TestLatencyCompensation(t *testing.T) {
	dir := t.TempDir()
	writeSegment(t, dir, 1, note(100, 2000, 60), note(100, 2001, 61))
	e, d := newEngine(t, dir)
	d.latency[2000] = realtime.FromMilliseconds(10)
	d.latency[2001] = realtime.FromMilliseconds(30)
	d.maxLatency = realtime.FromMilliseconds(30)

	e.Play(params(0, 1000))
	e.StartPlaying()
	ws := d.takeWindows()
	if len(ws) != 1 || len(ws[0].events) != 2 {
		t.Fatalf("windows %+v", ws)
	}
	for _, ev := range ws[0].events {
		want := int64(100)
		if ev.Instrument == 2000 {
			want = 120
		}
		if ev.Time.Milliseconds() != want {
			t.Errorf("instrument %d at %v, want %dms", ev.Instrument, ev.Time, want)
		}
	}

	d.set(500)
	e.UpdateClocks()
	if e.DisplayPosition() != realtime.FromMilliseconds(470) {
		t.Errorf("display position %v", e.DisplayPosition())
	}
}

func TestDisplayPositionClampedToStart(t *testing.T) {
	e, d := newEngine(t, t.TempDir())
	e.Play(params(2000, 100))
	e.StartPlaying()
	d.set(1500) // clock behind the start position
	e.UpdateClocks()
	if e.DisplayPosition() != realtime.New(2, 0) {
		t.Errorf("display position %v", e.DisplayPosition())
	}
}

func TestRecordFailuresStop(t *testing.T) {
	tests := []struct {
		name   string
		armed  []midi.InstrumentID
		files  []string
		refuse bool
	}{
		{"missing audio files", []midi.InstrumentID{1000, 1001}, []string{"a.wav"}, false},
		{"driver refuses", []midi.InstrumentID{2000}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDriver{refuseRecord: tt.refuse}
			a := &fakeAuthoring{armed: tt.armed, files: tt.files}
			e := New(d, a, WithStreamDir(t.TempDir()))
			token := e.CurrentToken()

			if e.Record(params(0, 100), StartingToRecord) {
				t.Fatal("Record succeeded")
			}
			if e.Status() != Stopped || d.stopPlaybacks != 1 || e.CurrentToken() != token+1 {
				t.Errorf("status %s, stopPlayback %d, token %d", e.Status(), d.stopPlaybacks, e.CurrentToken())
			}
		})
	}
}

func TestRecordAndPunch(t *testing.T) {
	dir := t.TempDir()
	d := &fakeDriver{}
	a := &fakeAuthoring{armed: []midi.InstrumentID{1000, 2000}, files: []string{"take1.wav"}}
	e := New(d, a, WithStreamDir(dir))
	t.Cleanup(e.CloseAllSegments)

	if !e.Record(params(0, 100), StartingToRecord) {
		t.Fatal("Record failed")
	}
	if e.Status() != StartingToRecord {
		t.Fatalf("status %s", e.Status())
	}
	if len(d.recordArmed) != 2 || len(d.recordFiles) != 1 {
		t.Errorf("driver got armed %v files %v", d.recordArmed, d.recordFiles)
	}
	e.StartPlaying()
	if e.Status() != Recording {
		t.Fatalf("status %s", e.Status())
	}

	if !e.PunchOut() || e.Status() != Playing || d.punchOuts != 1 {
		t.Fatalf("punch out: %s, %d", e.Status(), d.punchOuts)
	}
	if e.PunchOut() {
		t.Error("punch out while playing succeeded")
	}

	starts := d.clockStarts
	if !e.Record(params(0, 100), StartingToRecord) || e.Status() != Recording {
		t.Fatalf("punch in: %s", e.Status())
	}
	if d.clockStarts != starts || len(d.takeWindows()) != 1 {
		t.Error("punch in restarted playback")
	}

	// Play while recording is a punch out too.
	if !e.Play(params(0, 100)) || e.Status() != Playing || d.punchOuts != 2 {
		t.Errorf("play while recording: %s, %d", e.Status(), d.punchOuts)
	}
}

func TestRecordRejectsOtherModes(t *testing.T) {
	e, d := newEngine(t, t.TempDir())
	if e.Record(params(0, 100), Recording) || e.Record(params(0, 100), Playing) {
		t.Error("unusable mode accepted")
	}
	if e.Status() != Stopped || d.stopPlaybacks != 0 {
		t.Errorf("caller error changed state: %s", e.Status())
	}
}

func TestJumpTo(t *testing.T) {
	dir := t.TempDir()
	writeSegment(t, dir, 1, notesAt(100, 3100, 3200)...)
	e, d := newEngine(t, dir)
	token := e.CurrentToken()

	if e.JumpTo(realtime.FromMilliseconds(-1)) || e.CurrentToken() != token {
		t.Fatal("negative jump was applied")
	}

	// stopped: the position moves, nothing is fetched
	if !e.JumpTo(realtime.New(1, 0)) || e.SongPosition() != realtime.New(1, 0) {
		t.Fatalf("position %v", e.SongPosition())
	}
	if len(d.takeWindows()) != 0 || d.running {
		t.Error("stopped jump fetched or started the clock")
	}

	e.Play(params(0, 500))
	e.StartPlaying()
	d.takeWindows()
	d.set(200)
	e.UpdateClocks()
	d.takeWindows()

	token = e.CurrentToken()
	if !e.JumpTo(realtime.New(3, 0)) {
		t.Fatal("jump refused")
	}
	ws := d.takeWindows()
	if got := windowTimes(ws); !equalInts(got, []int64{3100, 3200}) {
		t.Errorf("jump fetched %v", got)
	}
	if d.now != realtime.New(3, 0) || !d.running || e.CurrentToken() != token+1 {
		t.Errorf("driver at %v running %v token %d", d.now, d.running, e.CurrentToken())
	}

	// jumping back re-reads what was already played
	e.JumpTo(realtime.Zero)
	if got := windowTimes(d.takeWindows()); !equalInts(got, []int64{100}) {
		t.Errorf("jump back fetched %v", got)
	}
}

func TestTransportRequests(t *testing.T) {
	dir := t.TempDir()
	writeSegment(t, dir, 1, notesAt(0)...)
	e, _ := newEngine(t, dir)

	token := e.TransportChange(TransportStart)
	if e.IsTransportSyncComplete(token) {
		t.Fatal("complete before the request ran")
	}
	if e.PendingRequests() != 1 {
		t.Fatalf("pending %d", e.PendingRequests())
	}
	e.Tick()
	if !e.IsTransportSyncComplete(token) || e.Status() != Playing {
		t.Fatalf("after tick: %s, token %d want %d", e.Status(), e.CurrentToken(), token)
	}

	token = e.TransportJump(TransportStopAtTime, realtime.New(2, 0))
	e.Tick()
	if !e.IsTransportSyncComplete(token) || e.Status() != Stopped || e.SongPosition() != realtime.New(2, 0) {
		t.Errorf("stop at time: %s %v", e.Status(), e.SongPosition())
	}

	token = e.TransportJump(TransportJumpToTime, realtime.FromMilliseconds(-5))
	e.Tick()
	if !e.IsTransportSyncComplete(token) {
		t.Error("refused jump never completes")
	}

	if tok := e.TransportChange(TransportNoChange); !e.IsTransportSyncComplete(tok) {
		t.Error("no change is not complete at once")
	}
}

func TestQueuedRequestTokensAccumulate(t *testing.T) {
	dir := t.TempDir()
	writeSegment(t, dir, 1, notesAt(0)...)
	e, _ := newEngine(t, dir)
	base := e.CurrentToken()

	start := e.TransportChange(TransportStart)
	stopAt := e.TransportJump(TransportStopAtTime, realtime.New(2, 0))
	marker := e.TransportChange(TransportNoChange)
	if start != base+1 || stopAt != base+3 || marker != stopAt {
		t.Fatalf("tokens %d %d %d from %d", start, stopAt, marker, base)
	}

	// run only the first request
	e.reqMu.Lock()
	held := append([]transportPair(nil), e.requests[1:]...)
	e.requests = e.requests[:1]
	e.reqMu.Unlock()
	e.Tick()
	if !e.IsTransportSyncComplete(start) {
		t.Errorf("start incomplete at token %d", e.CurrentToken())
	}
	if e.IsTransportSyncComplete(stopAt) {
		t.Errorf("stop at time complete before it ran, token %d", e.CurrentToken())
	}

	e.reqMu.Lock()
	e.requests = append(e.requests, held...)
	e.reqMu.Unlock()
	e.Tick()
	if !e.IsTransportSyncComplete(marker) || e.Status() != Stopped {
		t.Errorf("after all requests: %s, token %d want %d", e.Status(), e.CurrentToken(), marker)
	}

	// a transition made on the engine goroutine moves later promises on
	e.Stop()
	if tok := e.TransportChange(TransportStop); tok != e.CurrentToken()+1 {
		t.Errorf("token %d after direct stop at %d", tok, e.CurrentToken())
	}
}

func TestGetNextTransportRequestOrder(t *testing.T) {
	e, _ := newEngine(t, t.TempDir())
	e.TransportChange(TransportPlay)
	e.TransportJump(TransportJumpToTime, realtime.New(4, 0))
	e.TransportChange(TransportStop)

	want := []TransportRequest{TransportPlay, TransportJumpToTime, TransportStop}
	for i, w := range want {
		req, at, ok := e.GetNextTransportRequest()
		if !ok || req != w {
			t.Fatalf("request %d = %s, want %s", i, req, w)
		}
		if req == TransportJumpToTime && at != realtime.New(4, 0) {
			t.Errorf("jump time %v", at)
		}
	}
	if _, _, ok := e.GetNextTransportRequest(); ok {
		t.Error("queue not empty")
	}
}

func TestNilDriverQuits(t *testing.T) {
	e := New(nil, nil)
	if e.Status() != Quit {
		t.Fatalf("status %s", e.Status())
	}
	if e.Play(params(0, 100)) || e.Record(params(0, 100), StartingToRecord) || e.JumpTo(realtime.Zero) {
		t.Error("quit engine accepted a transport change")
	}
	if err := e.Run(context.Background()); err != ErrQuit {
		t.Errorf("Run = %v", err)
	}
	if err := e.Exec(context.Background(), func(*Engine) {}); err != ErrQuit {
		t.Errorf("Exec = %v", err)
	}
}

func TestSegmentsDuringPlayback(t *testing.T) {
	dir := t.TempDir()
	w := writeSegment(t, dir, 1, notesAt(100)...)
	e, d := newEngine(t, dir)

	path2 := stream.SegmentPath(dir, 2)
	if e.AddSegment(path2) || e.RemapSegment(stream.SegmentPath(dir, 1), 0) {
		t.Fatal("segment changes accepted while stopped")
	}

	e.Play(params(0, 200))
	e.StartPlaying()
	d.takeWindows()

	writeSegment(t, dir, 2, note(400, 2000, 70))
	if !e.AddSegment(path2) || len(e.MappedStreams()) != 2 {
		t.Fatalf("add failed: %v", e.MappedStreams())
	}

	// grow segment 1 past its capacity and tell the engine
	more := make([]midi.Event, 20)
	for i := range more {
		more[i] = note(int64(300+i*1000), 2000, 80)
	}
	grown, err := w.Append(more...)
	if err != nil || !grown {
		t.Fatalf("append grown=%v err=%v", grown, err)
	}
	if !e.RemapSegment(w.Path(), w.Size()) {
		t.Fatal("remap refused")
	}

	d.set(300)
	e.UpdateClocks()
	if got := windowTimes(d.takeWindows()); !equalInts(got, []int64{300, 400}) {
		t.Errorf("fetched %v", got)
	}

	if !e.DeleteSegment(path2) || e.DeleteSegment(path2) {
		t.Error("delete result wrong")
	}
	if len(e.MappedStreams()) != 1 {
		t.Errorf("mapped %v", e.MappedStreams())
	}
}

func TestUnreadableSegmentSkipped(t *testing.T) {
	dir := t.TempDir()
	writeSegment(t, dir, 1, notesAt(10)...)
	if err := os.WriteFile(stream.SegmentPath(dir, 2), []byte("garbage"), 0644); err != nil {
		t.Fatal(err)
	}
	writeSegment(t, dir, 3, notesAt(20)...)
	metro, err := stream.Create(filepath.Join(dir, stream.MetronomeName), 0)
	if err != nil {
		t.Fatal(err)
	}
	metro.Append(midi.Event{Instrument: midi.MidiInstrumentBase, Type: midi.Metronome, Time: realtime.FromMilliseconds(15)})
	defer metro.Close()

	e, d := newEngine(t, dir)
	if !e.Play(params(0, 100)) {
		t.Fatal("Play refused")
	}
	if got := len(e.MappedStreams()); got != 3 {
		t.Fatalf("mapped %d streams: %v", got, e.MappedStreams())
	}
	e.StartPlaying()
	if got := windowTimes(d.takeWindows()); !equalInts(got, []int64{10, 15, 20}) {
		t.Errorf("fetched %v", got)
	}
}

func TestAudioQueue(t *testing.T) {
	dir := t.TempDir()
	audio := midi.Event{Instrument: 1000, Type: midi.Audio, Time: realtime.FromMilliseconds(50), Duration: realtime.New(2, 0)}
	writeSegment(t, dir, 1, note(10, 2000, 60), audio)
	e, d := newEngine(t, dir)

	e.Play(params(0, 100))
	e.StartPlaying()
	if len(d.audio) != 1 || d.audio[0].Type != midi.Audio {
		t.Fatalf("audio queue %v", d.audio)
	}
	if got := windowTimes(d.takeWindows()); !equalInts(got, []int64{10}) {
		t.Errorf("audio event leaked into the batch: %v", got)
	}
	d.audio = nil
	e.Resync()
	if len(d.audio) != 1 {
		t.Error("resync did not rebuild the audio queue")
	}
}

func TestImmediateOutputAndClock(t *testing.T) {
	e, d := newEngine(t, t.TempDir())
	e.ProcessMappedEvent(note(0, 2000, 60))
	e.ProcessSequencerSlice(midi.Batch{note(0, 2000, 61), note(0, 2000, 62)})
	if len(d.immediate) != 3 {
		t.Errorf("immediate events %v", d.immediate)
	}

	e.SetQuarterNoteLength(realtime.FromMilliseconds(480))
	if d.clockInterval != realtime.FromMilliseconds(20) {
		t.Errorf("clock interval %v", d.clockInterval)
	}
}

func TestInputHandling(t *testing.T) {
	cc := midi.Event{Instrument: 2000, Type: midi.MidiController, Data1: 7, Data2: 90}
	n := note(0, 2000, 64)

	d := &fakeDriver{}
	a := &fakeAuthoring{armed: []midi.InstrumentID{2000}}
	e := New(d, a, WithStreamDir(t.TempDir()), WithRecordFilter(midi.MidiController), WithMidiThru(0), WithClientCheckInterval(0))
	t.Cleanup(e.CloseAllSegments)

	d.recorded = midi.Batch{n, cc}
	e.Tick()
	if q := e.PullAsynchronousMidiQueue(); len(q) != 2 {
		t.Errorf("async queue %v", q)
	}
	if q := e.PullAsynchronousMidiQueue(); len(q) != 0 {
		t.Errorf("queue not drained: %v", q)
	}
	if len(d.immediate) != 2 {
		t.Errorf("thru sent %v", d.immediate)
	}

	e.Record(params(0, 100), StartingToRecord)
	e.StartPlaying()
	d.recorded = midi.Batch{cc, n}
	e.Tick()
	if len(a.recorded) != 1 || a.recorded[0].Type != midi.MidiNote {
		t.Errorf("recorded %v", a.recorded)
	}
}

func TestCheckForNewClients(t *testing.T) {
	e, d := newEngine(t, t.TempDir())
	d.newClients = true
	if !e.CheckForNewClients() {
		t.Error("change not reported")
	}
	e.Play(params(0, 100))
	e.StartPlaying()
	if e.CheckForNewClients() || d.clientChecks != 1 {
		t.Errorf("checked %d times while playing", d.clientChecks)
	}
}

func TestRunAndExec(t *testing.T) {
	dir := t.TempDir()
	writeSegment(t, dir, 1, notesAt(0, 50)...)
	e, _ := newEngine(t, dir, WithTickInterval(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- e.Run(ctx) }()

	token := e.TransportChange(TransportStart)
	deadline := time.Now().Add(2 * time.Second)
	for e.Snapshot().Token < token {
		if time.Now().After(deadline) {
			t.Fatal("transport start never completed")
		}
		time.Sleep(time.Millisecond)
	}
	if s := e.Snapshot(); s.Status != Playing || s.Streams != 1 {
		t.Errorf("snapshot %+v", s)
	}

	var status TransportStatus
	if err := e.Exec(ctx, func(e *Engine) {
		e.Stop()
		status = e.Status()
	}); err != nil {
		t.Fatal(err)
	}
	if status != Stopped {
		t.Errorf("status in Exec %s", status)
	}

	cancel()
	if err := <-errc; err != context.Canceled {
		t.Errorf("Run = %v", err)
	}
	if e.Snapshot().Status != Quit {
		t.Errorf("status after Run %s", e.Snapshot().Status)
	}
}

func TestQuitEndsRun(t *testing.T) {
	e, _ := newEngine(t, t.TempDir(), WithTickInterval(time.Millisecond))
	errc := make(chan error, 1)
	go func() { errc <- e.Run(context.Background()) }()
	if err := e.Exec(context.Background(), func(e *Engine) { e.Quit() }); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-errc:
		if err != ErrQuit {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Quit")
	}
}

func TestStatusStrings(t *testing.T) {
	for s, want := range map[TransportStatus]string{
		Stopped: "Stopped", StartingToRecord: "StartingToRecord", Quit: "Quit", TransportStatus(42): "Unknown",
	} {
		if s.String() != want {
			t.Errorf("%d.String() = %s", s, s.String())
		}
	}
	if TransportStartAtTime.String() != "StartAtTime" {
		t.Error(TransportStartAtTime.String())
	}
}

func TestWithPlayParams(t *testing.T) {
	p := DefaultPlayParams()
	p.ReadAhead = realtime.FromMilliseconds(300)
	e, _ := newEngine(t, t.TempDir(), WithPlayParams(p))
	if e.ReadAhead() != p.ReadAhead {
		t.Errorf("read ahead %v", e.ReadAhead())
	}

	p.ReadAhead = realtime.Zero
	e, _ = newEngine(t, t.TempDir(), WithPlayParams(p))
	if e.ReadAhead() != DefaultPlayParams().ReadAhead {
		t.Errorf("zero read ahead replaced the default: %v", e.ReadAhead())
	}
}
