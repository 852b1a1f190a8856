package midi

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"go-sequencer/debug"
	"go-sequencer/realtime"

	"github.com/pkg/errors"
	gomidi "gitlab.com/gomidi/midi/v2"
)

// Sender writes one message to an output port. gomidi.SendTo returns one.
type Sender func(gomidi.Message) error

// Route says where an instrument's events go.
type Route struct {
	Port    string // empty uses the backend's default port
	Channel uint8  // 0-15
	Latency realtime.RealTime
}

type scheduled struct {
	at      realtime.RealTime
	port    string
	msg     gomidi.Message
	noteOff bool
}

// Backend is the MIDI sound backend. It owns the transport clock, queues
// events handed to it by the engine and sends them through gomidi when
// their time comes.
type Backend struct {
	mu sync.Mutex

	now        func() time.Time
	openSender func(port string) (Sender, error)
	listen     func(port string, recv func(gomidi.Message, int32)) (func(), error)
	watcher    *PortWatcher
	portGen    uint64 // watcher generation the senders were opened under

	defaultPort string
	routes      map[InstrumentID]Route
	senders     map[string]Sender

	// transport clock
	running   bool
	wallStart time.Time
	posStart  realtime.RealTime
	startPos  realtime.RealTime
	playing   bool

	queue []scheduled // sorted by at

	loopStart, loopEnd realtime.RealTime

	clockInterval realtime.RealTime
	nextClock     realtime.RealTime

	audioMix, audioRead, audioWrite realtime.RealTime
	smallFileSize                   int
	audioQueue                      Batch

	// input capture
	inputPort string
	stopInput func()
	recording bool
	armed     []InstrumentID
	captured  Batch

	wake chan struct{}
}

type Option func(*Backend)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// WithSenderOpener replaces how output ports are opened.
func WithSenderOpener(open func(port string) (Sender, error)) Option {
	return func(b *Backend) { b.openSender = open }
}

// WithListener replaces how input ports are opened.
func WithListener(listen func(port string, recv func(gomidi.Message, int32)) (func(), error)) Option {
	return func(b *Backend) { b.listen = listen }
}

func WithDefaultPort(port string) Option {
	return func(b *Backend) { b.defaultPort = port }
}

func WithInputPort(port string) Option {
	return func(b *Backend) { b.inputPort = port }
}

// WithPortWatcher lets CheckForNewClients rescan ports.
func WithPortWatcher(w *PortWatcher) Option {
	return func(b *Backend) { b.watcher = w }
}

// NewBackend creates a backend that talks to real gomidi ports unless the
// options say otherwise.
func NewBackend(opts ...Option) *Backend {
	b := &Backend{
		now:        time.Now,
		openSender: openGomidiSender,
		listen:     listenGomidi,
		routes:     make(map[InstrumentID]Route),
		senders:    make(map[string]Sender),
		wake:       make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func openGomidiSender(port string) (Sender, error) {
	out, err := gomidi.FindOutPort(port)
	if err != nil {
		return nil, errors.Wrapf(err, "find out port %q", port)
	}
	send, err := gomidi.SendTo(out)
	if err != nil {
		return nil, errors.Wrapf(err, "open out port %q", port)
	}
	return send, nil
}

func listenGomidi(port string, recv func(gomidi.Message, int32)) (func(), error) {
	in, err := gomidi.FindInPort(port)
	if err != nil {
		return nil, errors.Wrapf(err, "find in port %q", port)
	}
	stop, err := gomidi.ListenTo(in, recv)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %q", port)
	}
	return stop, nil
}

// SetRoute assigns an instrument to a port and channel.
func (b *Backend) SetRoute(id InstrumentID, r Route) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.routes[id] = r
}

func (b *Backend) routeFor(id InstrumentID) Route {
	r, ok := b.routes[id]
	if !ok {
		r.Channel = uint8((id - MidiInstrumentBase) % 16)
	}
	if r.Port == "" {
		r.Port = b.defaultPort
	}
	return r
}

// getSender returns a sender for the given port name, lazily opening it
func (b *Backend) getSender(port string) Sender {
	if port == "" {
		return nil
	}
	b.mu.Lock()
	s, ok := b.senders[port]
	b.mu.Unlock()
	if ok {
		return s
	}

	s, err := b.openSender(port)
	if err != nil {
		debug.Warn("midi", "open %s: %v", port, err)
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.senders[port]; ok {
		return existing
	}
	b.senders[port] = s
	return s
}

// Clock

func (b *Backend) position() realtime.RealTime {
	if !b.running {
		return b.posStart
	}
	return b.posStart.Add(realtime.FromDuration(b.now().Sub(b.wallStart)))
}

func (b *Backend) SequencerTime() realtime.RealTime {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.position()
}

func (b *Backend) StartClocks() {
	b.mu.Lock()
	if !b.running {
		b.wallStart = b.now()
		b.running = true
		b.nextClock = b.posStart
	}
	b.mu.Unlock()
	b.poke()
}

func (b *Backend) StopClocks() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		b.posStart = b.position()
		b.running = false
	}
}

func (b *Backend) StartPosition() realtime.RealTime {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.startPos
}

func (b *Backend) IsPlaying() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.playing
}

// Playback

func (b *Backend) InitialisePlayback(pos realtime.RealTime) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = b.queue[:0]
	b.posStart = pos
	b.startPos = pos
	b.playing = true
	debug.Log("midi", "initialise playback at %v", pos)
}

// ResetPlayback moves the clock to newPos, silencing anything sounding and
// dropping events queued for the old position.
func (b *Backend) ResetPlayback(oldPos, newPos realtime.RealTime) {
	offs := b.takeQueue()
	b.send(offs)

	b.mu.Lock()
	b.posStart = newPos
	b.startPos = newPos
	if b.running {
		b.wallStart = b.now()
	}
	b.nextClock = newPos
	b.mu.Unlock()
	debug.Log("midi", "reset playback %v -> %v", oldPos, newPos)
}

// StopPlayback sends every pending note-off and forgets the rest of the
// queue.
func (b *Backend) StopPlayback() {
	offs := b.takeQueue()
	b.mu.Lock()
	b.playing = false
	b.running = false
	b.recording = false
	b.audioQueue = nil
	b.mu.Unlock()
	b.send(offs)
	debug.Log("midi", "stop playback, flushed %d note-offs", len(offs))
}

// takeQueue empties the queue and returns its note-offs.
func (b *Backend) takeQueue() []scheduled {
	b.mu.Lock()
	defer b.mu.Unlock()
	var offs []scheduled
	for _, s := range b.queue {
		if s.noteOff {
			offs = append(offs, s)
		}
	}
	b.queue = b.queue[:0]
	return offs
}

// ProcessEventsOut queues a batch fetched for [start, end).
func (b *Backend) ProcessEventsOut(events Batch, start, end realtime.RealTime) {
	b.mu.Lock()
	for _, e := range events {
		b.scheduleLocked(e)
	}
	n := len(b.queue)
	b.mu.Unlock()
	debug.LogEvery(50, "midi", "queued %d events for %v-%v (queue %d)", len(events), start, end, n)
	b.poke()
}

// ProcessEventsNow sends events straight out, ignoring their times.
func (b *Backend) ProcessEventsNow(events Batch) {
	var out []scheduled
	b.mu.Lock()
	for _, e := range events {
		if KindOf(e.Instrument) != KindMidi {
			continue
		}
		r := b.routeFor(e.Instrument)
		for _, m := range Messages(e, r.Channel) {
			out = append(out, scheduled{port: r.Port, msg: m})
		}
	}
	b.mu.Unlock()
	b.send(out)
}

func (b *Backend) scheduleLocked(e Event) {
	switch KindOf(e.Instrument) {
	case KindMidi:
	case KindAudio:
		debug.Log("midi", "audio event on MIDI path dropped: %v", e)
		return
	case KindSoftSynth:
		debug.LogEvery(100, "midi", "no soft synth host, dropped %v", e)
		return
	default:
		debug.Log("midi", "unknown instrument %d", e.Instrument)
		return
	}
	r := b.routeFor(e.Instrument)
	msgs := Messages(e, r.Channel)
	if len(msgs) == 0 {
		debug.LogEvery(100, "midi", "no wire form for %v, dropped", e)
		return
	}
	for _, m := range msgs {
		b.insertLocked(scheduled{at: e.Time, port: r.Port, msg: m})
	}
	// A played note without a duration is sent as a one-shot.
	if (e.Type == MidiNote || e.Type == Metronome) && e.Data2 > 0 {
		b.insertLocked(scheduled{
			at:      e.Time.Add(e.Duration),
			port:    r.Port,
			msg:     gomidi.NoteOff(r.Channel, e.Data1),
			noteOff: true,
		})
	}
}

func (b *Backend) insertLocked(s scheduled) {
	i := sort.Search(len(b.queue), func(i int) bool { return b.queue[i].at.After(s.at) })
	b.queue = append(b.queue, scheduled{})
	copy(b.queue[i+1:], b.queue[i:])
	b.queue[i] = s
}

// QueueLen returns how many messages are waiting to be sent.
func (b *Backend) QueueLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

func (b *Backend) InitialiseAudioQueue(events Batch) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.audioQueue = append(b.audioQueue[:0], events...)
	if len(events) > 0 {
		debug.Log("midi", "audio queue holds %d events, no audio output attached", len(events))
	}
}

func (b *Backend) AudioQueueLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.audioQueue)
}

func (b *Backend) SetLoop(start, end realtime.RealTime) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loopStart, b.loopEnd = start, end
}

func (b *Backend) SetAudioBufferSizes(mix, read, write realtime.RealTime, smallFileSize int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.audioMix, b.audioRead, b.audioWrite = mix, read, write
	b.smallFileSize = smallFileSize
}

// SetMIDIClockInterval enables timing clock output on the default port at
// the given interval. Zero disables it.
func (b *Backend) SetMIDIClockInterval(interval realtime.RealTime) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clockInterval = interval
	b.nextClock = b.position()
}

func (b *Backend) InstrumentLatency(id InstrumentID) realtime.RealTime {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.routes[id].Latency
}

func (b *Backend) MaximumLatency() realtime.RealTime {
	b.mu.Lock()
	defer b.mu.Unlock()
	var longest realtime.RealTime
	for _, r := range b.routes {
		longest = realtime.Max(longest, r.Latency)
	}
	return longest
}

// Dispatch

const maxDispatchWait = 5 * time.Millisecond

// Run sends queued messages as they fall due until ctx is cancelled.
func (b *Backend) Run(ctx context.Context) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		wait := b.dispatchDue()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			b.StopPlayback()
			b.CloseInput()
			return
		case <-b.wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

func (b *Backend) poke() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// dispatchDue sends everything due at the current position and returns how
// long to sleep before the next message.
func (b *Backend) dispatchDue() time.Duration {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return maxDispatchWait
	}
	pos := b.position()
	n := sort.Search(len(b.queue), func(i int) bool { return b.queue[i].at.After(pos) })
	due := append([]scheduled(nil), b.queue[:n]...)
	b.queue = append(b.queue[:0], b.queue[n:]...)

	if !b.clockInterval.IsZero() && b.defaultPort != "" {
		for !b.nextClock.After(pos) {
			due = append(due, scheduled{at: b.nextClock, port: b.defaultPort, msg: gomidi.TimingClock()})
			b.nextClock = b.nextClock.Add(b.clockInterval)
		}
	}

	wait := maxDispatchWait
	if len(b.queue) > 0 {
		if d := b.queue[0].at.Sub(pos).Duration(); d < wait {
			wait = d
		}
	}
	b.mu.Unlock()

	b.send(due)
	if wait <= 0 {
		wait = time.Microsecond
	}
	return wait
}

func (b *Backend) send(msgs []scheduled) {
	for _, s := range msgs {
		sender := b.getSender(s.port)
		if sender == nil {
			continue
		}
		if err := sender(s.msg); err != nil {
			debug.Warn("midi", "send to %s: %v", s.port, err)
		}
	}
}

// Recording

// Record arms MIDI recording. Only MIDI instruments can be armed; audio and
// soft synth targets are refused.
func (b *Backend) Record(on bool, armed []InstrumentID, files []string) bool {
	if !on {
		b.mu.Lock()
		b.recording = false
		b.armed = nil
		b.mu.Unlock()
		return true
	}
	for _, id := range armed {
		if KindOf(id) != KindMidi {
			debug.Warn("midi", "cannot record instrument %d (%s)", id, KindOf(id))
			return false
		}
	}
	if err := b.OpenInput(); err != nil {
		debug.Warn("midi", "record: %v", err)
		return false
	}
	b.mu.Lock()
	b.recording = true
	b.armed = append([]InstrumentID(nil), armed...)
	b.mu.Unlock()
	return true
}

func (b *Backend) PunchOut() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recording = false
}

func (b *Backend) Recording() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.recording
}

// OpenInput starts capturing the configured input port. Opening twice, or
// with no input port configured, is a no-op.
func (b *Backend) OpenInput() error {
	b.mu.Lock()
	port := b.inputPort
	open := b.stopInput != nil
	b.mu.Unlock()
	if port == "" || open {
		return nil
	}
	stop, err := b.listen(port, b.receive)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.stopInput = stop
	b.mu.Unlock()
	debug.Log("midi", "listening on %s", port)
	return nil
}

func (b *Backend) CloseInput() {
	b.mu.Lock()
	stop := b.stopInput
	b.stopInput = nil
	b.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// receive runs on the driver's callback goroutine.
func (b *Backend) receive(msg gomidi.Message, timestampms int32) {
	e, ch, ok := EventFromMessage(msg)
	if !ok {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	e.Time = b.position()
	e.Instrument = MidiInstrumentBase + InstrumentID(ch)
	if b.recording && len(b.armed) > 0 {
		e.Instrument = b.armed[0]
	}
	b.captured = append(b.captured, e)
}

// RecordedEvents drains everything captured from the input since the last
// call.
func (b *Backend) RecordedEvents() Batch {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.captured
	b.captured = nil
	return out
}

// CheckForNewClients rescans ports. Cached senders are dropped when the port
// set changed since the last check, whoever did the scan that saw it, so
// that reconnected devices are reopened.
func (b *Backend) CheckForNewClients() bool {
	if b.watcher == nil {
		return false
	}
	b.watcher.Scan()
	gen := b.watcher.Generation()

	b.mu.Lock()
	defer b.mu.Unlock()
	if gen == b.portGen {
		return false
	}
	b.portGen = gen
	b.senders = make(map[string]Sender)
	return true
}
