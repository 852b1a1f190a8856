package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"go-sequencer/config"
	"go-sequencer/debug"
	"go-sequencer/midi"
	"go-sequencer/sequencer"
	"go-sequencer/stream"
	"go-sequencer/timeline"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if os.Getenv("SEQ_VERBOSE") != "" {
		debug.EnableWriter(os.Stderr)
		debug.SetLevel(cfg.LogLevel)
	}

	args := os.Args[2:]
	switch os.Args[1] {
	case "list":
		listPorts()
	case "poll":
		pollPorts()
	case "dump":
		err = dump(arg(args, 0, cfg.StreamDir))
	case "demo":
		err = demo(arg(args, 0, cfg.StreamDir), intArg(args, 1, 4), intArg(args, 2, cfg.UI.LastTempo))
	case "import":
		if len(args) < 1 {
			usage()
			return
		}
		err = importFile(args[0], arg(args, 1, cfg.StreamDir))
	case "play":
		err = play(cfg, arg(args, 0, cfg.StreamDir), intArg(args, 1, 10))
	default:
		usage()
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("go-sequencer tools")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  list                  - List all MIDI ports")
	fmt.Println("  poll                  - Poll for port changes")
	fmt.Println("  dump [dir|file]       - Print the events of a session or one stream")
	fmt.Println("  demo [dir] [bars] [bpm] - Write a demo session")
	fmt.Println("  import file.mid [dir] - Convert a standard MIDI file into a session")
	fmt.Println("  play [dir] [seconds]  - Play a session on the configured output port")
	if !haveMIDIDriver {
		fmt.Println("")
		fmt.Println("Built without cgo: no MIDI driver, port commands see nothing")
	}
}

func arg(args []string, i int, fallback string) string {
	if i < len(args) {
		return args[i]
	}
	return fallback
}

func intArg(args []string, i int, fallback int) int {
	if i < len(args) {
		if n, err := strconv.Atoi(args[i]); err == nil {
			return n
		}
	}
	return fallback
}

func listPorts() {
	fmt.Println("=== MIDI Input Ports ===")
	fmt.Println("(waiting up to 3 seconds...)")
	in, out := midi.ListPorts()
	for i, p := range in {
		fmt.Printf("  %d: %s\n", i, p)
	}
	fmt.Println("\n=== MIDI Output Ports ===")
	for i, p := range out {
		fmt.Printf("  %d: %s\n", i, p)
	}
}

func pollPorts() {
	fmt.Println("Polling for port changes every second. Ctrl+C to exit.")
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	w := midi.NewPortWatcher(nil)
	go w.Run(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-w.Events():
			dir := "input"
			if ev.Output {
				dir = "output"
			}
			fmt.Printf("[%s] %s %s %s\n", time.Now().Format("15:04:05"), dir, ev.Name, ev.Type)
		}
	}
}

func dump(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return dumpStream(path)
	}
	infos, err := stream.List(path)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Printf("No streams in %s\n", path)
	}
	for _, in := range infos {
		if err := dumpStream(in.Path); err != nil {
			fmt.Printf("%s: %v\n", in.Name, err)
		}
	}
	return nil
}

func dumpStream(path string) error {
	s, err := stream.Open(path)
	if err != nil {
		return err
	}
	defer s.Close()
	fmt.Printf("=== %s (%d events, generation %d) ===\n", s.Name(), s.Count(), s.Generation())
	for _, e := range s.Events() {
		fmt.Printf("  %s\n", e)
	}
	return nil
}

func demo(dir string, bars, bpm int) error {
	if bars < 1 {
		bars = 1
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tl := timeline.New(timeline.TempoForQPM(float64(bpm)))
	if err := demoSession(dir, tl, bars); err != nil {
		return err
	}
	fmt.Printf("Wrote %d bars at %dbpm to %s (%v)\n", bars, bpm, dir, tl.ElapsedRealTime(tl.BarEnd(bars-1)))
	return nil
}

func importFile(path, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	n, tl, err := importSMF(path, dir)
	if err != nil {
		return err
	}
	fmt.Printf("Imported %d segments from %s into %s\n", n, path, dir)
	fmt.Printf("  %d tempo changes, %d time signatures\n", tl.TempoChangeCount(), tl.TimeSignatureCount())
	return nil
}

// play runs the engine headless for the given number of seconds.
func play(cfg *config.Config, dir string, seconds int) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	backend := midi.NewBackend(midi.WithDefaultPort(cfg.OutputPort))
	engine := sequencer.New(backend, nil,
		sequencer.WithStreamDir(dir),
		sequencer.WithTickInterval(time.Duration(cfg.Playback.TickMs)*time.Millisecond),
	)
	go backend.Run(ctx)
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()

	token := engine.TransportChange(sequencer.TransportStart)
	deadline := time.After(time.Duration(seconds) * time.Second)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-done:
			return err
		case <-ticker.C:
			s := engine.Snapshot()
			fmt.Printf("%-10s %v  streams %d  synced %v\n", s.Status, s.Position, s.Streams, engine.IsTransportSyncComplete(token))
		case <-deadline:
			stop := engine.TransportChange(sequencer.TransportStop)
			for i := 0; i < 200 && !engine.IsTransportSyncComplete(stop); i++ {
				time.Sleep(10 * time.Millisecond)
			}
			cancel()
			<-done
			return nil
		}
	}
}
