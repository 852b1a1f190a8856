package sequencer

import (
	"path/filepath"

	"go-sequencer/debug"
	"go-sequencer/stream"
)

// mapStreams maps every segment stream in the stream directory followed by
// whichever system streams exist. Streams that cannot be mapped are logged
// and skipped.
func (e *Engine) mapStreams() {
	infos, err := stream.List(e.streamDir)
	if err != nil {
		debug.Warn("transport", "list streams: %v", err)
		return
	}
	found := make(map[string]bool)
	for _, info := range infos {
		found[info.Path] = true
		e.mapStream(info.Path)
	}
	for _, p := range stream.SystemPaths(e.streamDir) {
		if !found[p] {
			debug.Log("transport", "no %s stream", filepath.Base(p))
		}
	}
	e.metrics.SetMappedStreams(len(e.order))
}

func (e *Engine) mapStream(path string) *stream.Stream {
	s, err := e.open(path)
	if err != nil {
		debug.Warn("transport", "skipping stream: %v", err)
		e.metrics.IncSkippedStreams()
		return nil
	}
	e.segments[path] = s
	e.order = append(e.order, path)
	return s
}

func (e *Engine) initMerger() {
	streams := make([]*stream.Stream, 0, len(e.order))
	for _, p := range e.order {
		streams = append(streams, e.segments[p])
	}
	e.merger = stream.NewMerger(streams...)
	e.merger.JumpToTime(e.songPosition)
}

// cleanupMappedStreams unmaps everything and drops the merger.
func (e *Engine) cleanupMappedStreams() {
	e.CloseAllSegments()
	e.merger = nil
}

// refreshStale remaps streams whose writer grew them since they were
// mapped. Explicit RemapSegment calls normally get there first.
func (e *Engine) refreshStale() {
	for _, p := range e.order {
		s := e.segments[p]
		if s.Stale() && s.Remap(0) {
			debug.Log("transport", "%s grew, remapped to %d bytes", s.Name(), s.Size())
			e.merger.ResetIteratorForSegment(s)
		}
	}
}

// RemapSegment tells the engine the writer resized path to newSize bytes.
// It only applies while playing or recording.
func (e *Engine) RemapSegment(path string, newSize int64) bool {
	if !e.status.Running() {
		return false
	}
	s, ok := e.segments[path]
	if !ok {
		debug.Log("transport", "remap of unmapped stream %s", path)
		return false
	}
	debug.Log("transport", "remap %s to %d bytes", s.Name(), newSize)
	if s.Remap(newSize) && e.merger != nil {
		e.merger.ResetIteratorForSegment(s)
	}
	return true
}

// AddSegment maps a stream created during playback and merges it from the
// current position on.
func (e *Engine) AddSegment(path string) bool {
	if !e.status.Running() {
		return false
	}
	if _, ok := e.segments[path]; ok {
		e.DeleteSegment(path)
	}
	s := e.mapStream(path)
	if s == nil {
		return false
	}
	if e.merger != nil {
		e.merger.AddSegment(s)
	}
	e.metrics.SetMappedStreams(len(e.order))
	debug.Log("transport", "added %s", s.Name())
	return true
}

// DeleteSegment stops merging path and unmaps it.
func (e *Engine) DeleteSegment(path string) bool {
	if !e.status.Running() {
		return false
	}
	if !e.unmap(path) {
		return false
	}
	e.metrics.SetMappedStreams(len(e.order))
	debug.Log("transport", "deleted %s", filepath.Base(path))
	return true
}

func (e *Engine) unmap(path string) bool {
	s, ok := e.segments[path]
	if !ok {
		return false
	}
	if e.merger != nil {
		e.merger.DeleteSegment(s)
	}
	if err := s.Close(); err != nil {
		debug.Warn("transport", "%v", err)
	}
	delete(e.segments, path)
	for i, p := range e.order {
		if p == path {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	return true
}

// CloseAllSegments unmaps every stream.
func (e *Engine) CloseAllSegments() {
	for len(e.order) > 0 {
		e.unmap(e.order[0])
	}
	e.metrics.SetMappedStreams(0)
}

// Resync is called after instrument routing changed.
func (e *Engine) Resync() {
	debug.Log("transport", "resync")
	e.RationalisePlayingAudio()
}

// RationalisePlayingAudio hands the driver the current audio events again.
func (e *Engine) RationalisePlayingAudio() {
	if e.merger == nil {
		return
	}
	e.driver.InitialiseAudioQueue(e.merger.AudioEvents())
}
