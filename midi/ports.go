package midi

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go-sequencer/debug"

	gomidi "gitlab.com/gomidi/midi/v2"
)

// PortEvent is emitted when a port appears or disappears
type PortEvent struct {
	Type   PortEventType
	Output bool
	Name   string
}

type PortEventType int

const (
	PortConnected PortEventType = iota
	PortDisconnected
)

func (t PortEventType) String() string {
	if t == PortConnected {
		return "connected"
	}
	return "disconnected"
}

// PortLister returns the current input and output port names.
type PortLister func() (in, out []string)

// PortWatcher handles hot-plug detection of MIDI ports
type PortWatcher struct {
	list     PortLister
	mu       sync.RWMutex
	in, out  map[string]bool
	events   chan PortEvent
	pollRate time.Duration
	gen      atomic.Uint64 // bumped by every scan that saw a change
}

// NewPortWatcher creates a watcher. A nil lister asks gomidi.
func NewPortWatcher(list PortLister) *PortWatcher {
	if list == nil {
		list = ListPorts
	}
	return &PortWatcher{
		list:     list,
		in:       make(map[string]bool),
		out:      make(map[string]bool),
		events:   make(chan PortEvent, 16),
		pollRate: time.Second,
	}
}

// ListPorts asks the registered gomidi driver for its ports. CoreMIDI can
// hang, so a scan that takes longer than three seconds returns nothing.
func ListPorts() (in, out []string) {
	type portsResult struct{ in, out []string }

	ch := make(chan portsResult, 1)
	go func() {
		var r portsResult
		for _, p := range gomidi.GetInPorts() {
			r.in = append(r.in, p.String())
		}
		for _, p := range gomidi.GetOutPorts() {
			r.out = append(r.out, p.String())
		}
		ch <- r
	}()

	select {
	case r := <-ch:
		return r.in, r.out
	case <-time.After(3 * time.Second):
		debug.Warn("ports", "port scan timed out")
		return nil, nil
	}
}

// Events returns a channel of port connect/disconnect events
func (w *PortWatcher) Events() <-chan PortEvent {
	return w.events
}

// Inputs returns the known input ports, sorted.
func (w *PortWatcher) Inputs() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return sortedKeys(w.in)
}

// Outputs returns the known output ports, sorted.
func (w *PortWatcher) Outputs() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return sortedKeys(w.out)
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Run starts the polling loop (blocking - run in goroutine)
func (w *PortWatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.pollRate)
	defer ticker.Stop()

	w.Scan()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Scan()
		}
	}
}

// Scan compares the current ports with the last scan and reports whether
// anything changed. Events are dropped if nobody drains the channel.
func (w *PortWatcher) Scan() bool {
	in, out := w.list()

	w.mu.Lock()
	var evs []PortEvent
	evs = diffPorts(w.in, in, false, evs)
	evs = diffPorts(w.out, out, true, evs)
	if len(evs) > 0 {
		w.gen.Add(1)
	}
	w.mu.Unlock()

	for _, e := range evs {
		debug.Log("ports", "%s port %q %s", direction(e.Output), e.Name, e.Type)
		select {
		case w.events <- e:
		default:
		}
	}
	return len(evs) > 0
}

// Generation counts the scans that found a change. Callers that need to
// notice changes compare it with the value they last saw, so a scan made by
// Run does not hide the change from them.
func (w *PortWatcher) Generation() uint64 {
	return w.gen.Load()
}

// diffPorts updates known to match seen and appends the differences.
func diffPorts(known map[string]bool, seen []string, output bool, evs []PortEvent) []PortEvent {
	now := make(map[string]bool, len(seen))
	for _, name := range seen {
		now[name] = true
		if !known[name] {
			known[name] = true
			evs = append(evs, PortEvent{Type: PortConnected, Output: output, Name: name})
		}
	}
	for name := range known {
		if !now[name] {
			delete(known, name)
			evs = append(evs, PortEvent{Type: PortDisconnected, Output: output, Name: name})
		}
	}
	return evs
}

func direction(output bool) string {
	if output {
		return "out"
	}
	return "in"
}
