package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatal(err)
	}
	def := DefaultConfig()
	if cfg.Playback != def.Playback || cfg.ControlAddr != def.ControlAddr {
		t.Errorf("got %+v, want defaults", cfg)
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.json")
	cfg := DefaultConfig()
	cfg.OutputPort = "IAC Driver Bus 1"
	cfg.SetRoute(RouteConfig{Instrument: 2000, Channel: 1})
	cfg.SetRoute(RouteConfig{Instrument: 2001, Channel: 10, LatencyMs: 30})
	cfg.SetRoute(RouteConfig{Instrument: 2000, Channel: 2})
	if err := cfg.SaveTo(path); err != nil {
		t.Fatal(err)
	}

	got, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.OutputPort != "IAC Driver Bus 1" || len(got.Routes) != 2 {
		t.Fatalf("loaded %+v", got)
	}
	if r := got.FindRoute(2000); r == nil || r.Channel != 2 {
		t.Errorf("route 2000 = %+v", r)
	}
	if r := got.FindRoute(2001); r == nil || r.LatencyMs != 30 {
		t.Errorf("route 2001 = %+v", r)
	}
	if got.FindRoute(7) != nil {
		t.Error("unexpected route 7")
	}
}

func TestLoadBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SEQ_READ_AHEAD_MS", "250")
	t.Setenv("SEQ_TICK_MS", "not-a-number")
	t.Setenv("SEQ_OUTPUT_PORT", "Synth")

	cfg := DefaultConfig()
	cfg.ApplyEnv()
	if cfg.Playback.ReadAheadMs != 250 {
		t.Errorf("read-ahead = %d", cfg.Playback.ReadAheadMs)
	}
	if cfg.Playback.TickMs != DefaultConfig().Playback.TickMs {
		t.Errorf("bad int should keep fallback, got %d", cfg.Playback.TickMs)
	}
	if cfg.OutputPort != "Synth" {
		t.Errorf("output port = %q", cfg.OutputPort)
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("SEQ_TEST_ONLY_KEY=from-file\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("SEQ_TEST_ONLY_KEY") })
	if err := LoadEnv(path); err != nil {
		t.Fatal(err)
	}
	if got := GetEnv("SEQ_TEST_ONLY_KEY", "fallback"); got != "from-file" {
		t.Errorf("GetEnv = %q", got)
	}
	if got := GetEnvInt("SEQ_TEST_ONLY_MISSING", 7); got != 7 {
		t.Errorf("GetEnvInt fallback = %d", got)
	}
}
