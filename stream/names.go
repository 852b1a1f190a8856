package stream

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const segmentPrefix = "segment_"

// The three system streams that accompany the segments of a session.
const (
	MetronomeName = "sequencer_metronome"
	TempoName     = "sequencer_tempo"
	TimeSigName   = "sequencer_timesig"
)

// Info describes a stream file found in a session directory.
type Info struct {
	Name      string
	Path      string
	SegmentID int // -1 for system streams
}

func (i Info) System() bool { return i.SegmentID < 0 }

// SegmentPath returns the file name of segment id inside dir.
func SegmentPath(dir string, id int) string {
	return filepath.Join(dir, segmentPrefix+strconv.Itoa(id))
}

// SystemPaths returns the metronome, tempo and time signature paths, in
// that order.
func SystemPaths(dir string) []string {
	return []string{
		filepath.Join(dir, MetronomeName),
		filepath.Join(dir, TempoName),
		filepath.Join(dir, TimeSigName),
	}
}

// ParseSegmentID extracts the id from a segment file name.
func ParseSegmentID(name string) (int, bool) {
	rest, ok := strings.CutPrefix(filepath.Base(name), segmentPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.Atoi(rest)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}

// List returns the segment streams in dir ordered by id, followed by
// whichever system streams exist. A missing directory is an empty session.
func List(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Info{}, nil
		}
		return nil, errors.Wrapf(err, "list %s", dir)
	}

	var segs []Info
	present := make(map[string]bool)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		present[name] = true
		if id, ok := ParseSegmentID(name); ok {
			segs = append(segs, Info{Name: name, Path: filepath.Join(dir, name), SegmentID: id})
		}
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].SegmentID < segs[j].SegmentID })

	for _, p := range SystemPaths(dir) {
		name := filepath.Base(p)
		if present[name] {
			segs = append(segs, Info{Name: name, Path: p, SegmentID: -1})
		}
	}
	return segs, nil
}
