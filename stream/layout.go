package stream

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"

	"go-sequencer/midi"
	"go-sequencer/realtime"
)

// A stream file is a 32-byte header followed by fixed-size event records.
// All fields are in host byte order since both sides share the machine.
//
//	0  magic "SQSS"
//	4  version
//	8  event record size
//	12 count       (published last by the writer)
//	16 generation  (bumped whenever the file grows)
//	20 capacity    (records the file has room for)
const (
	HeaderSize = 32
	EventSize  = 56
	Version    = 1

	offMagic      = 0
	offVersion    = 4
	offEventSize  = 8
	offCount      = 12
	offGeneration = 16
	offCapacity   = 20
)

var magic = [4]byte{'S', 'Q', 'S', 'S'}

var native = binary.NativeEndian

// Event record layout.
const (
	evInstrument  = 0
	evType        = 4
	evData1       = 8
	evData2       = 9
	evFlags       = 10
	evTimeSec     = 16
	evTimeNsec    = 24
	evDurNsec     = 28
	evDurSec      = 32
	evMarkerSec   = 40
	evMarkerNsec  = 48
	flagHasMarker = 1
)

func u32At(b []byte, off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&b[off]))
}

func loadCount(b []byte) uint32 { return atomic.LoadUint32(u32At(b, offCount)) }

func storeCount(b []byte, n uint32) { atomic.StoreUint32(u32At(b, offCount), n) }

func loadGeneration(b []byte) uint32 { return atomic.LoadUint32(u32At(b, offGeneration)) }

func storeGeneration(b []byte, g uint32) { atomic.StoreUint32(u32At(b, offGeneration), g) }

func writeHeader(b []byte, capacity, generation uint32) {
	copy(b[offMagic:], magic[:])
	native.PutUint32(b[offVersion:], Version)
	native.PutUint32(b[offEventSize:], EventSize)
	native.PutUint32(b[offCapacity:], capacity)
	storeGeneration(b, generation)
}

// checkHeader reports whether b starts with a header this package can read.
func checkHeader(b []byte) bool {
	if len(b) < HeaderSize {
		return false
	}
	return [4]byte(b[offMagic:offMagic+4]) == magic &&
		native.Uint32(b[offVersion:]) == Version &&
		native.Uint32(b[offEventSize:]) == EventSize
}

func encodeEvent(b []byte, e midi.Event) {
	clear(b[:EventSize])
	native.PutUint32(b[evInstrument:], uint32(e.Instrument))
	native.PutUint32(b[evType:], uint32(e.Type))
	b[evData1] = e.Data1
	b[evData2] = e.Data2
	var flags uint16
	if e.HasAudioMarker {
		flags |= flagHasMarker
	}
	native.PutUint16(b[evFlags:], flags)
	native.PutUint64(b[evTimeSec:], uint64(e.Time.Sec))
	native.PutUint32(b[evTimeNsec:], uint32(e.Time.Nsec))
	native.PutUint32(b[evDurNsec:], uint32(e.Duration.Nsec))
	native.PutUint64(b[evDurSec:], uint64(e.Duration.Sec))
	native.PutUint64(b[evMarkerSec:], uint64(e.AudioMarker.Sec))
	native.PutUint32(b[evMarkerNsec:], uint32(e.AudioMarker.Nsec))
}

func decodeEvent(b []byte) midi.Event {
	return midi.Event{
		Instrument: midi.InstrumentID(native.Uint32(b[evInstrument:])),
		Type:       midi.EventType(native.Uint32(b[evType:])),
		Data1:      b[evData1],
		Data2:      b[evData2],
		Time: realtime.RealTime{
			Sec:  int64(native.Uint64(b[evTimeSec:])),
			Nsec: int32(native.Uint32(b[evTimeNsec:])),
		},
		Duration: realtime.RealTime{
			Sec:  int64(native.Uint64(b[evDurSec:])),
			Nsec: int32(native.Uint32(b[evDurNsec:])),
		},
		AudioMarker: realtime.RealTime{
			Sec:  int64(native.Uint64(b[evMarkerSec:])),
			Nsec: int32(native.Uint32(b[evMarkerNsec:])),
		},
		HasAudioMarker: native.Uint16(b[evFlags:])&flagHasMarker != 0,
	}
}

func fileSize(capacity int) int {
	return HeaderSize + capacity*EventSize
}
