// Package sequencer is the transport engine. It maps the segment streams of
// a session, merges them into read-ahead slices and feeds those to a sound
// driver while the driver's clock runs.
//
// An Engine is owned by one goroutine. Before Run starts, the owner may call
// its methods directly; afterwards other goroutines go through Exec or the
// transport request queue, and read state through Snapshot.
package sequencer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go-sequencer/debug"
	"go-sequencer/metrics"
	"go-sequencer/midi"
	"go-sequencer/realtime"
	"go-sequencer/stream"

	"github.com/pkg/errors"
)

// ErrQuit is returned by Run and Exec once the engine has quit.
var ErrQuit = errors.New("sequencer quit")

const (
	defaultTick        = 10 * time.Millisecond
	defaultClientCheck = 2 * time.Second
)

// Engine is the transport engine.
type Engine struct {
	driver    Driver
	authoring Authoring
	metrics   *metrics.Metrics
	streamDir string
	open      func(path string) (*stream.Stream, error)

	status          TransportStatus
	songPosition    realtime.RealTime
	lastFetch       realtime.RealTime
	lastStartTime   realtime.RealTime
	displayPosition realtime.RealTime
	params          PlayParams
	loopStart       realtime.RealTime
	loopEnd         realtime.RealTime

	segments map[string]*stream.Stream
	order    []string // mapping order, which is the merger's tie order
	merger   *stream.Merger

	recordFilter midi.EventType
	thru         bool
	thruFilter   midi.EventType

	asyncMu    sync.Mutex
	asyncQueue midi.Batch

	reqMu    sync.Mutex
	requests []transportPair
	promised Token // highest token handed out, guarded by reqMu

	token    atomic.Uint64
	snapshot atomic.Pointer[Snapshot]

	tick        time.Duration
	clientCheck time.Duration
	lastCheck   time.Time

	exec   chan func()
	wakeCh chan struct{}
	done   chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithStreamDir sets the directory holding the segment and system streams.
func WithStreamDir(dir string) Option {
	return func(e *Engine) { e.streamDir = dir }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithStreamOpener replaces stream.Open.
func WithStreamOpener(open func(path string) (*stream.Stream, error)) Option {
	return func(e *Engine) { e.open = open }
}

// WithPlayParams sets the buffer sizes used by requests that carry no
// parameters of their own. A zero read ahead is left at the default.
func WithPlayParams(p PlayParams) Option {
	return func(e *Engine) {
		if p.ReadAhead.IsZero() {
			p.ReadAhead = e.params.ReadAhead
		}
		e.params = p
	}
}

// WithTickInterval sets how often Run advances the transport.
func WithTickInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.tick = d
		}
	}
}

// WithClientCheckInterval sets how often a stopped engine asks the driver
// to rescan its ports.
func WithClientCheckInterval(d time.Duration) Option {
	return func(e *Engine) { e.clientCheck = d }
}

// WithRecordFilter drops the event types in mask from recorded input.
func WithRecordFilter(mask midi.EventType) Option {
	return func(e *Engine) { e.recordFilter = mask }
}

// WithMidiThru echoes input straight back out, minus the types in mask.
func WithMidiThru(mask midi.EventType) Option {
	return func(e *Engine) {
		e.thru = true
		e.thruFilter = mask
	}
}

// New builds an engine around driver. A nil driver leaves the engine in
// Quit: nothing can be played without one.
func New(driver Driver, authoring Authoring, opts ...Option) *Engine {
	if authoring == nil {
		authoring = NoAuthoring{}
	}
	e := &Engine{
		driver:      driver,
		authoring:   authoring,
		streamDir:   filepath.Join(os.TempDir(), "go-sequencer"),
		open:        stream.Open,
		params:      DefaultPlayParams(),
		segments:    make(map[string]*stream.Stream),
		tick:        defaultTick,
		clientCheck: defaultClientCheck,
		exec:        make(chan func()),
		wakeCh:      make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	e.token.Store(1)
	for _, opt := range opts {
		opt(e)
	}

	if driver == nil {
		debug.Warn("transport", "no sound driver, engine cannot play")
		e.status = Quit
		e.publish()
		return e
	}
	p := e.params
	driver.SetAudioBufferSizes(p.AudioMix, p.AudioRead, p.AudioWrite, p.SmallFileSize)
	e.publish()
	return e
}

func (e *Engine) Status() TransportStatus { return e.status }

func (e *Engine) SongPosition() realtime.RealTime { return e.songPosition }

// DisplayPosition is where the listener hears playback: the song position
// less the maximum play latency.
func (e *Engine) DisplayPosition() realtime.RealTime { return e.displayPosition }

// LastFetchPosition is the end of the last slice handed to the driver.
func (e *Engine) LastFetchPosition() realtime.RealTime { return e.lastFetch }

func (e *Engine) ReadAhead() realtime.RealTime { return e.params.ReadAhead }

func (e *Engine) StreamDir() string { return e.streamDir }

func (e *Engine) Loop() (start, end realtime.RealTime) { return e.loopStart, e.loopEnd }

func (e *Engine) Looping() bool { return e.loopEnd.After(e.loopStart) }

// MappedStreams lists the paths of the mapped streams in mapping order.
func (e *Engine) MappedStreams() []string {
	return append([]string(nil), e.order...)
}

// Quit makes Run return after the current iteration.
func (e *Engine) Quit() {
	debug.Log("transport", "quit")
	e.setStatus(Quit)
}

func (e *Engine) setStatus(s TransportStatus) {
	if e.status == s {
		return
	}
	e.status = s
	e.metrics.Transition(s.String())
}

// wake nudges Run to look at the request queue before the next tick.
func (e *Engine) wake() {
	select {
	case e.wakeCh <- struct{}{}:
	default:
	}
}

// Run owns the engine until ctx is cancelled or the engine quits. Every
// tick it applies queued transport requests, starts pending playback,
// advances the clocks and collects input.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)
	if e.status == Quit {
		return ErrQuit
	}
	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()
	debug.Log("transport", "engine running, tick %v", e.tick)

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return ctx.Err()
		case fn := <-e.exec:
			fn()
		case <-e.wakeCh:
			e.processTransportRequests()
			e.publish()
		case <-ticker.C:
			e.Tick()
		}
		if e.status == Quit {
			e.shutdown()
			return ErrQuit
		}
	}
}

// Exec runs fn on the owning goroutine and waits for it to finish.
func (e *Engine) Exec(ctx context.Context, fn func(*Engine)) error {
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn(e)
		e.publish()
	}
	select {
	case e.exec <- task:
	case <-e.done:
		return ErrQuit
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick is one iteration of the scheduling loop.
func (e *Engine) Tick() {
	e.processTransportRequests()

	switch e.status {
	case StartingToPlay, StartingToRecord:
		e.StartPlaying()
	}
	e.UpdateClocks()

	if e.status == Recording {
		e.processRecordedMidi()
	} else {
		e.ProcessAsynchronousEvents()
	}

	if !e.status.Running() && e.clientCheck > 0 && time.Since(e.lastCheck) >= e.clientCheck {
		e.lastCheck = time.Now()
		e.CheckForNewClients()
	}
	e.publish()
}

func (e *Engine) shutdown() {
	if e.driver != nil && e.status != Stopped {
		e.driver.StopPlayback()
	}
	e.cleanupMappedStreams()
	e.setStatus(Quit)
	e.publish()
	debug.Log("transport", "engine stopped")
}
