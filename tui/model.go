package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"go-sequencer/midi"
	"go-sequencer/realtime"
	"go-sequencer/sequencer"
	"go-sequencer/theme"
	"go-sequencer/timeline"
)

const (
	refreshRate = 50 * time.Millisecond
	maxPortLog  = 5
)

type Model struct {
	Engine   *sequencer.Engine
	Timeline *timeline.Timeline
	Watcher  *midi.PortWatcher // may be nil
	Theme    *theme.Theme

	snap     sequencer.Snapshot
	pending  sequencer.Token // last token handed out for a queued request
	ports    []string
	message  string
	quitting bool
}

// SnapshotMsg carries the engine state read on each refresh.
type SnapshotMsg sequencer.Snapshot

type PortEventMsg midi.PortEvent

type execDoneMsg struct {
	what string
	err  error
}

func NewModel(engine *sequencer.Engine, tl *timeline.Timeline, watcher *midi.PortWatcher, th *theme.Theme) Model {
	return Model{
		Engine:   engine,
		Timeline: tl,
		Watcher:  watcher,
		Theme:    th,
		snap:     engine.Snapshot(),
	}
}

func Refresh(engine *sequencer.Engine) tea.Cmd {
	return tea.Tick(refreshRate, func(time.Time) tea.Msg {
		return SnapshotMsg(engine.Snapshot())
	})
}

func ListenForPorts(w *midi.PortWatcher) tea.Cmd {
	if w == nil {
		return nil
	}
	return func() tea.Msg {
		return PortEventMsg(<-w.Events())
	}
}

// execCmd runs fn on the engine goroutine without blocking the UI.
func execCmd(engine *sequencer.Engine, what string, fn func(*sequencer.Engine)) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return execDoneMsg{what: what, err: engine.Exec(ctx, fn)}
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		Refresh(m.Engine),
		ListenForPorts(m.Watcher),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case SnapshotMsg:
		m.snap = sequencer.Snapshot(msg)
		if m.snap.Status == sequencer.Quit {
			m.quitting = true
			return m, tea.Quit
		}
		return m, Refresh(m.Engine)

	case PortEventMsg:
		ev := midi.PortEvent(msg)
		dir := "in"
		if ev.Output {
			dir = "out"
		}
		m.ports = append(m.ports, fmt.Sprintf("%s %s %s", dir, ev.Name, ev.Type))
		if len(m.ports) > maxPortLog {
			m.ports = m.ports[len(m.ports)-maxPortLog:]
		}
		return m, ListenForPorts(m.Watcher)

	case execDoneMsg:
		if msg.err != nil {
			m.message = fmt.Sprintf("%s: %v", msg.what, msg.err)
		} else {
			m.message = msg.what
		}
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		m.Engine.TransportChange(sequencer.TransportStop)
		return m, tea.Quit

	case " ", "space":
		if m.snap.Status == sequencer.Stopped {
			m.pending = m.Engine.TransportChange(sequencer.TransportStart)
		} else {
			m.pending = m.Engine.TransportChange(sequencer.TransportStop)
		}

	case "r":
		m.pending = m.Engine.TransportChange(sequencer.TransportRecord)

	case "p":
		return m, execCmd(m.Engine, "punch out", func(e *sequencer.Engine) { e.PunchOut() })

	case "l":
		return m, m.toggleLoop()

	case "left", "h":
		m.pending = m.jumpBars(-1)

	case "right":
		m.pending = m.jumpBars(1)

	case "home", "0":
		m.pending = m.Engine.TransportJump(sequencer.TransportJumpToTime, realtime.Zero)
	}
	return m, nil
}

// jumpBars moves the transport by n bars from the start of the current one.
func (m Model) jumpBars(n int) sequencer.Token {
	bar := m.Timeline.BarNumber(m.Timeline.TickForRealTime(m.snap.Position)) + n
	if bar < 0 {
		bar = 0
	}
	at := m.Timeline.ElapsedRealTime(m.Timeline.BarStart(bar))
	return m.Engine.TransportJump(sequencer.TransportJumpToTime, at)
}

// toggleLoop clears the loop, or loops the bar under the play position.
func (m Model) toggleLoop() tea.Cmd {
	if m.snap.Looping() {
		return execCmd(m.Engine, "loop off", func(e *sequencer.Engine) {
			e.SetLoop(realtime.Zero, realtime.Zero)
		})
	}
	start, end := m.Timeline.BarRangeForTime(m.Timeline.TickForRealTime(m.snap.Position))
	from := m.Timeline.ElapsedRealTime(start)
	to := m.Timeline.ElapsedRealTime(end)
	return execCmd(m.Engine, "loop on", func(e *sequencer.Engine) { e.SetLoop(from, to) })
}

// beats draws one glyph per beat of the bar at t.
func (m Model) beats(t timeline.Tick) string {
	_, sig := m.Timeline.TimeSignatureAt(t)
	current := m.Timeline.MusicalTime(t).Beat
	sym := m.Theme.Symbols
	var b strings.Builder
	for i := 1; i <= sig.BeatsPerBar(); i++ {
		switch {
		case i == current:
			b.WriteRune(sym.BeatOn)
		case i == 1:
			b.WriteRune(sym.Downbeat)
		default:
			b.WriteRune(sym.BeatOff)
		}
	}
	return b.String()
}

func clock(rt realtime.RealTime) string {
	ms := rt.Milliseconds()
	sign := ""
	if ms < 0 {
		sign, ms = "-", -ms
	}
	return fmt.Sprintf("%s%02d:%02d.%03d", sign, ms/60000, ms/1000%60, ms%1000)
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	s := m.snap
	th := m.Theme

	headerStyle := lipgloss.NewStyle().Foreground(th.Accent())
	statusStyle := lipgloss.NewStyle().Foreground(th.StatusColor(s.Status)).Bold(true)
	dimStyle := lipgloss.NewStyle().Foreground(th.Muted())
	fgStyle := lipgloss.NewStyle().Foreground(th.FG())

	t := m.Timeline.TickForRealTime(s.Position)
	tempo := timeline.TempoQPM(m.Timeline.TempoAt(t))

	header := headerStyle.Render(fmt.Sprintf("go-sequencer  %.1fbpm", tempo))
	status := statusStyle.Render(fmt.Sprintf("%c %s", th.StatusSymbol(s.Status), s.Status))
	position := fgStyle.Render(fmt.Sprintf("%s  %s  %s", m.Timeline.MusicalTime(t), clock(s.Position), m.beats(t)))

	loop := dimStyle.Render("loop off")
	if s.Looping() {
		loop = fgStyle.Render(fmt.Sprintf("%c %s - %s", th.Symbols.Loop, clock(s.LoopStart), clock(s.LoopEnd)))
	}

	sync := "synced"
	if m.pending != 0 && !m.Engine.IsTransportSyncComplete(m.pending) {
		sync = "pending"
	}
	info := dimStyle.Render(fmt.Sprintf("token %d (%s)  streams %d", s.Token, sync, s.Streams))

	var out strings.Builder
	out.WriteString("\n")
	out.WriteString(header)
	out.WriteString("\n\n")
	out.WriteString(status)
	out.WriteString("   ")
	out.WriteString(position)
	out.WriteString("\n")
	out.WriteString(loop)
	out.WriteString("\n")
	out.WriteString(info)
	out.WriteString("\n")

	if len(m.ports) > 0 {
		out.WriteString("\n")
		for _, p := range m.ports {
			out.WriteString(dimStyle.Render(p))
			out.WriteString("\n")
		}
	}
	if m.message != "" {
		out.WriteString("\n")
		out.WriteString(fgStyle.Render(m.message))
		out.WriteString("\n")
	}

	out.WriteString("\n")
	out.WriteString(dimStyle.Render("space:start/stop  r:record  p:punch out  l:loop bar  h/left,right:bar  0:home  q:quit"))
	return out.String()
}
