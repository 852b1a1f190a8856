// Package stream implements the memory-mapped event files shared between
// the authoring side and the playback engine, and the merger that turns a
// set of them into one time-ordered batch.
package stream

import (
	"os"
	"path/filepath"
	"sort"

	"go-sequencer/midi"
	"go-sequencer/realtime"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

var (
	// ErrNotFound means the stream file does not exist.
	ErrNotFound = errors.New("stream not found")
	// ErrUnreadable means the file exists but cannot be mapped or is not a
	// stream.
	ErrUnreadable = errors.New("stream unreadable")
)

// Stream is the read side of a stream file: a shared, read-only mapping.
type Stream struct {
	name       string
	path       string
	f          *os.File
	data       []byte
	generation uint32

	longest realtime.RealTime // longest note among the first scanned events
	scanned int
}

// Open maps the stream at path.
func Open(path string) (*Stream, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(ErrNotFound, path)
		}
		return nil, errors.Wrapf(ErrUnreadable, "%s: %v", path, err)
	}
	s := &Stream{name: filepath.Base(path), path: path, f: f}
	if err := s.mapFile(0); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// mapFile maps size bytes, or the whole file when size is zero.
func (s *Stream) mapFile(size int64) error {
	if size <= 0 {
		fi, err := s.f.Stat()
		if err != nil {
			return errors.Wrapf(ErrUnreadable, "%s: %v", s.path, err)
		}
		size = fi.Size()
	}
	if size < HeaderSize {
		return errors.Wrapf(ErrUnreadable, "%s: short file (%d bytes)", s.path, size)
	}
	data, err := unix.Mmap(int(s.f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return errors.Wrapf(ErrUnreadable, "%s: mmap: %v", s.path, err)
	}
	if !checkHeader(data) {
		unix.Munmap(data)
		return errors.Wrapf(ErrUnreadable, "%s: bad header", s.path)
	}
	s.data = data
	s.generation = loadGeneration(data)
	return nil
}

func (s *Stream) Name() string { return s.name }

func (s *Stream) Path() string { return s.path }

// Size is the number of bytes currently mapped.
func (s *Stream) Size() int64 { return int64(len(s.data)) }

// Generation is the generation the mapping was made at.
func (s *Stream) Generation() uint32 { return s.generation }

// Stale reports whether the writer has grown the file since it was mapped.
func (s *Stream) Stale() bool {
	return s.data != nil && loadGeneration(s.data) != s.generation
}

// Remap maps the file again at newSize bytes (or its current size when
// newSize is zero). It returns false when the size is unchanged or the
// remap failed, in which case the old mapping stays valid. Indices held by
// callers must be re-found by time after a successful remap.
func (s *Stream) Remap(newSize int64) bool {
	if s.data == nil {
		return false
	}
	if newSize <= 0 {
		fi, err := s.f.Stat()
		if err != nil {
			return false
		}
		newSize = fi.Size()
	}
	if newSize == int64(len(s.data)) && !s.Stale() {
		return false
	}
	old := s.data
	if err := s.mapFile(newSize); err != nil {
		s.data = old
		return false
	}
	unix.Munmap(old)
	return true
}

// Count is the number of published events that lie inside the mapping.
func (s *Stream) Count() int {
	if s.data == nil {
		return 0
	}
	n := int(loadCount(s.data))
	if fit := (len(s.data) - HeaderSize) / EventSize; n > fit {
		n = fit
	}
	return n
}

// Event decodes event i. i must be below Count.
func (s *Stream) Event(i int) midi.Event {
	off := HeaderSize + i*EventSize
	return decodeEvent(s.data[off : off+EventSize])
}

// Events decodes every published event.
func (s *Stream) Events() midi.Batch {
	n := s.Count()
	out := make(midi.Batch, n)
	for i := range out {
		out[i] = s.Event(i)
	}
	return out
}

// Seek returns the index of the first event at or after t. Events are
// written in time order.
func (s *Stream) Seek(t realtime.RealTime) int {
	return sort.Search(s.Count(), func(i int) bool { return !s.Event(i).Time.Before(t) })
}

// LongestNote is the longest note duration in the stream. Events are only
// ever appended, so each call looks at the events published since the last.
func (s *Stream) LongestNote() realtime.RealTime {
	n := s.Count()
	if n < s.scanned {
		s.longest, s.scanned = realtime.Zero, 0
	}
	for ; s.scanned < n; s.scanned++ {
		e := s.Event(s.scanned)
		if e.Type == midi.MidiNote && e.Duration.After(s.longest) {
			s.longest = e.Duration
		}
	}
	return s.longest
}

// Iterator walks a stream's events in order.
type Iterator struct {
	s   *Stream
	pos int
}

// Iterator returns an iterator positioned at the first event.
func (s *Stream) Iterator() *Iterator { return &Iterator{s: s} }

func (it *Iterator) Valid() bool { return it.pos < it.s.Count() }

func (it *Iterator) Peek() midi.Event { return it.s.Event(it.pos) }

// Next returns the current event and advances.
func (it *Iterator) Next() (midi.Event, bool) {
	if !it.Valid() {
		return midi.Event{}, false
	}
	e := it.s.Event(it.pos)
	it.pos++
	return e, true
}

// Seek positions the iterator at the first event at or after t.
func (it *Iterator) Seek(t realtime.RealTime) { it.pos = it.s.Seek(t) }

func (it *Iterator) Index() int { return it.pos }

// Close unmaps the stream. The file itself belongs to the writer and is
// left alone.
func (s *Stream) Close() error {
	if s.data == nil {
		return nil
	}
	err := unix.Munmap(s.data)
	s.data = nil
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	return errors.Wrapf(err, "close %s", s.path)
}
