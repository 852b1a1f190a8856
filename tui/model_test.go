package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	gomidi "gitlab.com/gomidi/midi/v2"

	"go-sequencer/midi"
	"go-sequencer/realtime"
	"go-sequencer/sequencer"
	"go-sequencer/theme"
	"go-sequencer/timeline"
)

func newModel(t *testing.T) Model {
	t.Helper()
	backend := midi.NewBackend(
		midi.WithSenderOpener(func(string) (midi.Sender, error) {
			return func(gomidi.Message) error { return nil }, nil
		}),
		midi.WithDefaultPort("test"),
	)
	engine := sequencer.New(backend, nil, sequencer.WithStreamDir(t.TempDir()))
	tl := timeline.New(timeline.DefaultTempo)
	return NewModel(engine, tl, nil, theme.New(theme.Plasma()))
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestKeysQueueRequests(t *testing.T) {
	m := newModel(t)

	next, _ := m.Update(key(" "))
	m = next.(Model)
	if m.Engine.PendingRequests() != 1 || m.pending == 0 {
		t.Fatalf("start not queued: pending=%d token=%d", m.Engine.PendingRequests(), m.pending)
	}
	req, _, ok := m.Engine.GetNextTransportRequest()
	if !ok || req != sequencer.TransportStart {
		t.Errorf("queued %v", req)
	}

	next, _ = m.Update(key("r"))
	m = next.(Model)
	if req, _, _ := m.Engine.GetNextTransportRequest(); req != sequencer.TransportRecord {
		t.Errorf("queued %v, want Record", req)
	}
}

func TestJumpByBar(t *testing.T) {
	m := newModel(t)
	// 120bpm in 4/4: one bar is two seconds
	m.snap.Position = realtime.New(3, 0)

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRight})
	m = next.(Model)
	req, at, ok := m.Engine.GetNextTransportRequest()
	if !ok || req != sequencer.TransportJumpToTime || at != realtime.New(4, 0) {
		t.Errorf("right: %v at %v", req, at)
	}

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyLeft})
	m = next.(Model)
	if _, at, _ := m.Engine.GetNextTransportRequest(); at != realtime.Zero {
		t.Errorf("left: at %v", at)
	}
}

func TestQuitStopsTransport(t *testing.T) {
	m := newModel(t)
	next, cmd := m.Update(key("q"))
	if cmd == nil || !next.(Model).quitting {
		t.Fatal("q did not quit")
	}
	if req, _, _ := m.Engine.GetNextTransportRequest(); req != sequencer.TransportStop {
		t.Errorf("queued %v, want Stop", req)
	}
}

func TestView(t *testing.T) {
	m := newModel(t)
	next, _ := m.Update(SnapshotMsg(sequencer.Snapshot{
		Status:    sequencer.Playing,
		Position:  realtime.New(2, 500_000_000),
		LoopStart: realtime.New(2, 0),
		LoopEnd:   realtime.New(4, 0),
		Token:     7,
		Streams:   3,
	}))
	m = next.(Model)
	next, _ = m.Update(PortEventMsg{Type: midi.PortConnected, Output: true, Name: "Synth"})
	m = next.(Model)

	v := m.View()
	for _, want := range []string{"Playing", "1:2:00:00", "00:02.500", "00:04.000", "token 7", "streams 3", "out Synth connected", "120.0bpm"} {
		if !strings.Contains(v, want) {
			t.Errorf("view missing %q:\n%s", want, v)
		}
	}
}

func TestQuitSnapshotEndsProgram(t *testing.T) {
	m := newModel(t)
	next, cmd := m.Update(SnapshotMsg(sequencer.Snapshot{Status: sequencer.Quit}))
	if cmd == nil || next.(Model).View() != "" {
		t.Error("quit snapshot did not end the program")
	}
}
