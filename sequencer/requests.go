package sequencer

import (
	"go-sequencer/debug"
	"go-sequencer/realtime"
)

// Token counts committed transport transitions. A caller that queued a
// request compares the token it was given against the current one.
type Token uint64

// TransportRequest is a transport change asked for from another goroutine.
type TransportRequest int

const (
	TransportNoChange TransportRequest = iota
	TransportStop
	TransportStart
	TransportPlay
	TransportRecord
	TransportJumpToTime
	TransportStartAtTime
	TransportStopAtTime
)

func (r TransportRequest) String() string {
	switch r {
	case TransportNoChange:
		return "NoChange"
	case TransportStop:
		return "Stop"
	case TransportStart:
		return "Start"
	case TransportPlay:
		return "Play"
	case TransportRecord:
		return "Record"
	case TransportJumpToTime:
		return "JumpToTime"
	case TransportStartAtTime:
		return "StartAtTime"
	case TransportStopAtTime:
		return "StopAtTime"
	}
	return "Unknown"
}

type transportPair struct {
	req  TransportRequest
	at   realtime.RealTime
	jump bool
}

// TransportChange queues req and returns the token that marks its
// completion.
func (e *Engine) TransportChange(req TransportRequest) Token {
	e.reqMu.Lock()
	defer e.reqMu.Unlock()
	e.requests = append(e.requests, transportPair{req: req})
	e.metrics.IncTransportRequests()
	e.wake()
	if req == TransportNoChange {
		return e.promiseLocked(0)
	}
	return e.promiseLocked(1)
}

// TransportJump queues a request that also moves the song position to at.
func (e *Engine) TransportJump(req TransportRequest, at realtime.RealTime) Token {
	e.reqMu.Lock()
	defer e.reqMu.Unlock()
	e.requests = append(e.requests, transportPair{req: req, at: at, jump: true})
	e.metrics.IncTransportRequests()
	e.wake()
	if req == TransportNoChange {
		return e.promiseLocked(1)
	}
	return e.promiseLocked(2)
}

// promiseLocked hands out the token a request completes at: n transitions
// past every request already queued. Transitions made directly on the
// engine goroutine can only bring completion earlier.
func (e *Engine) promiseLocked(n Token) Token {
	if cur := e.CurrentToken(); cur > e.promised {
		e.promised = cur
	}
	e.promised += n
	return e.promised
}

// GetNextTransportRequest pops the oldest queued request.
func (e *Engine) GetNextTransportRequest() (TransportRequest, realtime.RealTime, bool) {
	p, ok := e.nextRequest()
	return p.req, p.at, ok
}

func (e *Engine) nextRequest() (transportPair, bool) {
	e.reqMu.Lock()
	defer e.reqMu.Unlock()
	if len(e.requests) == 0 {
		return transportPair{}, false
	}
	p := e.requests[0]
	e.requests = e.requests[1:]
	return p, true
}

// PendingRequests is the number of queued transport requests.
func (e *Engine) PendingRequests() int {
	e.reqMu.Lock()
	defer e.reqMu.Unlock()
	return len(e.requests)
}

// IsTransportSyncComplete reports whether every transition up to token has
// happened.
func (e *Engine) IsTransportSyncComplete(token Token) bool {
	return e.CurrentToken() >= token
}

func (e *Engine) CurrentToken() Token {
	return Token(e.token.Load())
}

// incrementTransportToken commits a transition. The snapshot is published
// with the new token so that a completed token implies a visible state.
func (e *Engine) incrementTransportToken() {
	t := e.token.Add(1)
	e.publish()
	debug.Log("transport", "token now %d", t)
}

// processTransportRequests applies every queued request on the owning
// goroutine. Each request moves the token by exactly the amount promised by
// TransportChange or TransportJump, even when the transition is refused.
func (e *Engine) processTransportRequests() {
	for {
		p, ok := e.nextRequest()
		if !ok {
			return
		}
		debug.Log("transport", "request %s at %s", p.req, p.at)
		switch p.req {
		case TransportStop:
			e.Stop()
		case TransportStart, TransportPlay:
			e.startRequested(e.withPosition(e.songPosition), false)
		case TransportRecord:
			e.startRequested(e.withPosition(e.songPosition), true)
		case TransportJumpToTime:
			e.jumpRequested(p.at)
			e.incrementTransportToken()
		case TransportStartAtTime:
			e.Stop()
			e.startRequested(e.withPosition(p.at), false)
		case TransportStopAtTime:
			e.Stop()
			e.jumpRequested(p.at)
		case TransportNoChange:
			if p.jump {
				e.jumpRequested(p.at)
			}
		}
	}
}

func (e *Engine) startRequested(p PlayParams, record bool) {
	var ok bool
	switch {
	case record:
		ok = e.Record(p, StartingToRecord)
		if ok && e.status == Recording {
			return // punch in
		}
	case e.status == Stopped:
		ok = e.Play(p)
	}
	if ok {
		e.StartPlaying()
	} else if !record {
		// nothing to start; the requester still gets its token
		e.incrementTransportToken()
	}
}

func (e *Engine) jumpRequested(at realtime.RealTime) {
	if !e.JumpTo(at) {
		e.incrementTransportToken()
	}
}

func (e *Engine) withPosition(pos realtime.RealTime) PlayParams {
	p := e.params
	p.Position = pos
	return p
}
