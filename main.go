package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"go-sequencer/config"
	"go-sequencer/control"
	"go-sequencer/debug"
	"go-sequencer/metrics"
	"go-sequencer/midi"
	"go-sequencer/realtime"
	"go-sequencer/sequencer"
	"go-sequencer/theme"
	"go-sequencer/timeline"
	"go-sequencer/tui"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	logDir := cfg.StreamDir
	if dir, err := config.ConfigDir(); err == nil {
		logDir = dir
	}
	if err := debug.Enable(logDir); err != nil {
		fmt.Printf("Debug log disabled: %v\n", err)
	}
	defer debug.Disable()
	debug.SetLevel(cfg.LogLevel)

	palette, err := theme.LoadOrDefault(cfg.UI.Palette)
	if err != nil {
		debug.Warn("main", "palette: %v", err)
	}
	th := theme.New(palette)

	tl := timeline.New(timeline.TempoForQPM(float64(cfg.UI.LastTempo)))

	// Ports come and go; the watcher reports them and the backend rescans
	// through it while stopped.
	watcher := midi.NewPortWatcher(nil)
	backend := midi.NewBackend(
		midi.WithDefaultPort(cfg.OutputPort),
		midi.WithInputPort(cfg.InputPort),
		midi.WithPortWatcher(watcher),
	)
	for _, r := range cfg.Routes {
		backend.SetRoute(midi.InstrumentID(r.Instrument), midi.Route{
			Port:    r.PortName,
			Channel: channel(r.Channel),
			Latency: realtime.FromMilliseconds(int64(r.LatencyMs)),
		})
	}
	if !haveMIDIDriver {
		fmt.Println("Built without cgo: no MIDI driver, events go nowhere")
	}

	m := metrics.New()
	engine := sequencer.New(backend, nil,
		sequencer.WithStreamDir(cfg.StreamDir),
		sequencer.WithMetrics(m),
		sequencer.WithPlayParams(playParams(cfg.Playback)),
		sequencer.WithTickInterval(time.Duration(cfg.Playback.TickMs)*time.Millisecond),
	)
	engine.SetQuarterNoteLength(tl.ElapsedRealTime(timeline.TicksPerQuarter))

	if err := os.MkdirAll(cfg.StreamDir, 0755); err != nil {
		debug.Warn("main", "stream dir: %v", err)
	}
	if cfg.InputPort != "" {
		if err := backend.OpenInput(); err != nil {
			debug.Warn("main", "input %s: %v", cfg.InputPort, err)
		}
		defer backend.CloseInput()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go backend.Run(ctx)
	go watcher.Run(ctx)
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		if err := engine.Run(ctx); err != nil && err != context.Canceled {
			debug.Log("main", "engine: %v", err)
		}
	}()

	if cfg.ControlAddr != "" {
		router := control.NewRouter(control.NewHandler(engine, debug.Logger(), m))
		go func() {
			if err := control.Serve(ctx, cfg.ControlAddr, router); err != nil {
				debug.Warn("main", "%v", err)
			}
		}()
	}

	fmt.Println("go-sequencer")
	fmt.Printf("Streams in %s\n", filepath.Clean(cfg.StreamDir))

	model := tui.NewModel(engine, tl, watcher, th)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err = p.Run()

	cancel()
	<-engineDone
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

// channel converts a 1-16 config channel to the wire's 0-15.
func channel(c int) uint8 {
	if c < 1 || c > 16 {
		return 0
	}
	return uint8(c - 1)
}

func playParams(c config.PlaybackConfig) sequencer.PlayParams {
	p := sequencer.DefaultPlayParams()
	ms := func(v int, fallback realtime.RealTime) realtime.RealTime {
		if v <= 0 {
			return fallback
		}
		return realtime.FromMilliseconds(int64(v))
	}
	p.ReadAhead = ms(c.ReadAheadMs, p.ReadAhead)
	p.AudioMix = ms(c.AudioMixMs, p.AudioMix)
	p.AudioRead = ms(c.AudioReadMs, p.AudioRead)
	p.AudioWrite = ms(c.AudioWriteMs, p.AudioWrite)
	if c.SmallFileSize > 0 {
		p.SmallFileSize = c.SmallFileSize
	}
	return p
}
