package stream

import (
	"container/heap"
	"sort"

	"go-sequencer/midi"
	"go-sequencer/realtime"
)

type cursor struct {
	s     *Stream
	order int // registration order, breaks time ties
	pos   int
}

func (c *cursor) valid() bool { return c.pos < c.s.Count() }

type cursorHeap []*cursor

func (h cursorHeap) Len() int { return len(h) }

func (h cursorHeap) Less(i, j int) bool {
	ti, tj := h[i].s.Event(h[i].pos).Time, h[j].s.Event(h[j].pos).Time
	if c := ti.Compare(tj); c != 0 {
		return c < 0
	}
	return h[i].order < h[j].order
}

func (h cursorHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *cursorHeap) Push(x any) { *h = append(*h, x.(*cursor)) }

func (h *cursorHeap) Pop() any {
	old := *h
	c := old[len(old)-1]
	*h = old[:len(old)-1]
	return c
}

// Merger presents a set of streams as one time-ordered sequence. It keeps a
// cursor per stream and only ever moves them forward, except on JumpToTime.
type Merger struct {
	cursors   []*cursor
	nextOrder int
	current   realtime.RealTime
}

// NewMerger registers streams in the given order.
func NewMerger(streams ...*Stream) *Merger {
	m := &Merger{}
	for _, s := range streams {
		m.AddSegment(s)
	}
	return m
}

// Len is the number of registered streams.
func (m *Merger) Len() int { return len(m.cursors) }

// Streams returns the registered streams in registration order.
func (m *Merger) Streams() []*Stream {
	out := make([]*Stream, len(m.cursors))
	for i, c := range m.cursors {
		out[i] = c.s
	}
	return out
}

// JumpToTime re-seeks every stream to its first event at or after t.
func (m *Merger) JumpToTime(t realtime.RealTime) {
	m.current = t
	for _, c := range m.cursors {
		c.pos = c.s.Seek(t)
	}
}

// AddSegment registers s after all existing streams, positioned at the
// merger's current time.
func (m *Merger) AddSegment(s *Stream) {
	m.cursors = append(m.cursors, &cursor{s: s, order: m.nextOrder, pos: s.Seek(m.current)})
	m.nextOrder++
}

// DeleteSegment unregisters s. It reports whether s was registered.
func (m *Merger) DeleteSegment(s *Stream) bool {
	for i, c := range m.cursors {
		if c.s == s {
			m.cursors = append(m.cursors[:i], m.cursors[i+1:]...)
			return true
		}
	}
	return false
}

// ResetIteratorForSegment re-seeks s to the current time, typically after
// the stream was remapped or rewritten.
func (m *Merger) ResetIteratorForSegment(s *Stream) bool {
	for _, c := range m.cursors {
		if c.s == s {
			c.pos = s.Seek(m.current)
			return true
		}
	}
	return false
}

// FillUntil appends to out every non-audio event with a time in
// [start, end), ordered by time and then by registration order, and
// returns whether any stream has events left. On a first fetch, notes that
// began before start and are still sounding at start are included,
// shortened to begin at start.
func (m *Merger) FillUntil(firstFetch bool, out *midi.Batch, start, end realtime.RealTime) bool {
	var held []heldNote
	if firstFetch {
		held = m.sounding(start)
	}

	h := make(cursorHeap, 0, len(m.cursors))
	for _, c := range m.cursors {
		for c.valid() && c.s.Event(c.pos).Time.Before(start) {
			c.pos++
		}
		if c.valid() && c.s.Event(c.pos).Time.Before(end) {
			h = append(h, c)
		}
	}
	heap.Init(&h)

	for h.Len() > 0 {
		c := h[0]
		e := c.s.Event(c.pos)
		for len(held) > 0 && (e.Time.After(start) || held[0].order < c.order) {
			*out = append(*out, held[0].e)
			held = held[1:]
		}
		c.pos++
		if !e.Type.IsAudio() {
			*out = append(*out, e)
		}
		if c.valid() && c.s.Event(c.pos).Time.Before(end) {
			heap.Fix(&h, 0)
		} else {
			heap.Pop(&h)
		}
	}
	for _, n := range held {
		*out = append(*out, n.e)
	}

	if end.After(m.current) {
		m.current = end
	}
	for _, c := range m.cursors {
		if c.valid() {
			return true
		}
	}
	return false
}

type heldNote struct {
	order int
	e     midi.Event
}

// sounding returns the notes from before start that are still sounding,
// shortened to begin at start, in registration order. Only events within
// the stream's longest note of start are looked at.
func (m *Merger) sounding(start realtime.RealTime) []heldNote {
	var held []heldNote
	for _, c := range m.cursors {
		longest := c.s.LongestNote()
		if longest.IsZero() {
			continue
		}
		from, to := c.s.Seek(start.Sub(longest)), c.s.Seek(start)
		for i := from; i < to; i++ {
			e := c.s.Event(i)
			if e.Type != midi.MidiNote {
				continue
			}
			endAt := e.Time.Add(e.Duration)
			if !endAt.After(start) {
				continue
			}
			e.Duration = endAt.Sub(start)
			e.Time = start
			held = append(held, heldNote{order: c.order, e: e})
		}
	}
	return held
}

// AudioEvents returns every audio event in every stream, ordered by time.
func (m *Merger) AudioEvents() midi.Batch {
	var out midi.Batch
	for _, c := range m.cursors {
		n := c.s.Count()
		for i := 0; i < n; i++ {
			if e := c.s.Event(i); e.Type.IsAudio() {
				out = append(out, e)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}
