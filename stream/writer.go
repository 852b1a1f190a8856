package stream

import (
	"os"

	"go-sequencer/midi"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const minCapacity = 16

// Writer is the authoring side of a stream. It alone may grow or delete the
// file.
type Writer struct {
	path       string
	f          *os.File
	data       []byte
	capacity   int
	count      int
	generation uint32
}

// Create makes a new stream file with room for capacity events, replacing
// any existing file at path.
func Create(path string, capacity int) (*Writer, error) {
	if capacity < minCapacity {
		capacity = minCapacity
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "create stream %s", path)
	}
	w := &Writer{path: path, f: f, generation: 1}
	if err := w.mapCapacity(capacity); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	writeHeader(w.data, uint32(capacity), w.generation)
	storeCount(w.data, 0)
	return w, nil
}

func (w *Writer) mapCapacity(capacity int) error {
	size := fileSize(capacity)
	if err := unix.Ftruncate(int(w.f.Fd()), int64(size)); err != nil {
		return errors.Wrapf(err, "truncate %s", w.path)
	}
	data, err := unix.Mmap(int(w.f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return errors.Wrapf(err, "map %s", w.path)
	}
	w.data = data
	w.capacity = capacity
	return nil
}

// grow doubles the capacity until n events fit, remaps and bumps the
// generation so readers know to remap.
func (w *Writer) grow(n int) (bool, error) {
	if n <= w.capacity {
		return false, nil
	}
	capacity := w.capacity
	for capacity < n {
		capacity *= 2
	}
	if err := unix.Munmap(w.data); err != nil {
		return false, errors.Wrapf(err, "unmap %s", w.path)
	}
	w.data = nil
	if err := w.mapCapacity(capacity); err != nil {
		return false, err
	}
	w.generation++
	writeHeader(w.data, uint32(capacity), w.generation)
	return true, nil
}

// Append writes events after the existing ones. The count is published
// after the records so a reader never sees a half-written event. grown
// reports whether the file had to be enlarged, in which case readers need
// a Remap.
func (w *Writer) Append(events ...midi.Event) (bool, error) {
	if w.data == nil {
		return false, errors.New("stream closed")
	}
	grown, err := w.grow(w.count + len(events))
	if err != nil {
		return false, err
	}
	for i, e := range events {
		off := HeaderSize + (w.count+i)*EventSize
		encodeEvent(w.data[off:off+EventSize], e)
	}
	w.count += len(events)
	storeCount(w.data, uint32(w.count))
	return grown, nil
}

// Replace discards the current contents and writes events instead.
func (w *Writer) Replace(events []midi.Event) (bool, error) {
	if w.data == nil {
		return false, errors.New("stream closed")
	}
	storeCount(w.data, 0)
	w.count = 0
	return w.Append(events...)
}

func (w *Writer) Path() string { return w.path }

func (w *Writer) Count() int { return w.count }

func (w *Writer) Generation() uint32 { return w.generation }

// Size is the current file size in bytes.
func (w *Writer) Size() int64 { return int64(fileSize(w.capacity)) }

// Close unmaps and closes the file, leaving it in place for readers.
func (w *Writer) Close() error {
	if w.data == nil {
		return nil
	}
	err := unix.Munmap(w.data)
	w.data = nil
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	return errors.Wrapf(err, "close %s", w.path)
}

// Destroy closes the stream and removes its file.
func (w *Writer) Destroy() error {
	err := w.Close()
	if rerr := os.Remove(w.path); rerr != nil && !os.IsNotExist(rerr) && err == nil {
		err = errors.Wrapf(rerr, "remove %s", w.path)
	}
	return err
}
