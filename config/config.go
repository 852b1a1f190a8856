package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
)

// RouteConfig sends one instrument to a MIDI output port and channel.
type RouteConfig struct {
	Instrument uint32 `json:"instrument"`
	PortName   string `json:"portName,omitempty"` // empty uses OutputPort
	Channel    int    `json:"channel"`            // 1-16
	LatencyMs  int    `json:"latencyMs,omitempty"`
}

// PlaybackConfig holds the buffer sizes handed to the engine on play.
type PlaybackConfig struct {
	ReadAheadMs   int `json:"readAheadMs"`
	AudioMixMs    int `json:"audioMixMs,omitempty"`
	AudioReadMs   int `json:"audioReadMs,omitempty"`
	AudioWriteMs  int `json:"audioWriteMs,omitempty"`
	SmallFileSize int `json:"smallFileSize,omitempty"`
	TickMs        int `json:"tickMs"` // engine clock update interval
}

// UIConfig stores UI preferences
type UIConfig struct {
	LastTempo int    `json:"lastTempo,omitempty"`
	Palette   string `json:"palette,omitempty"` // GIMP .gpl file; empty uses the built-in one
}

// Config is the main configuration structure
type Config struct {
	StreamDir   string         `json:"streamDir,omitempty"`
	OutputPort  string         `json:"outputPort,omitempty"`
	InputPort   string         `json:"inputPort,omitempty"`
	Routes      []RouteConfig  `json:"routes,omitempty"`
	Playback    PlaybackConfig `json:"playback"`
	ControlAddr string         `json:"controlAddr,omitempty"`
	LogLevel    string         `json:"logLevel,omitempty"`
	UI          UIConfig       `json:"ui,omitempty"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		StreamDir: filepath.Join(os.TempDir(), "go-sequencer"),
		Playback: PlaybackConfig{
			ReadAheadMs: 80,
			AudioMixMs:  60,
			AudioReadMs: 100,
			TickMs:      10,
		},
		ControlAddr: "127.0.0.1:7830",
		LogLevel:    "debug",
		UI: UIConfig{
			LastTempo: 120,
		},
	}
}

// ConfigDir returns the config directory path
func ConfigDir() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", errors.Wrap(err, "home directory")
	}
	return filepath.Join(home, ".config", "go-sequencer"), nil
}

// ConfigPath returns the full path to config.json
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads the config from disk, or returns defaults if not found. Values
// from the environment (and a .env file in the working directory) override
// what the file says.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		cfg := DefaultConfig()
		cfg.ApplyEnv()
		return cfg, nil
	}
	return LoadFrom(path)
}

// LoadFrom is Load for an explicit path.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, errors.Wrapf(err, "read %s", path)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse %s", path)
		}
	}

	_ = LoadEnv() // a missing .env is fine
	cfg.ApplyEnv()
	return cfg, nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "create config dir")
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return errors.Wrapf(os.WriteFile(path, data, 0644), "write %s", path)
}

// FindRoute returns the route for an instrument, or nil.
func (c *Config) FindRoute(instrument uint32) *RouteConfig {
	for i := range c.Routes {
		if c.Routes[i].Instrument == instrument {
			return &c.Routes[i]
		}
	}
	return nil
}

// SetRoute adds or updates a route
func (c *Config) SetRoute(r RouteConfig) {
	for i := range c.Routes {
		if c.Routes[i].Instrument == r.Instrument {
			c.Routes[i] = r
			return
		}
	}
	c.Routes = append(c.Routes, r)
}

// LoadEnv reads .env style files into the process environment. With no
// paths, ".env" is used.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// ApplyEnv overrides fields from SEQ_* environment variables.
func (c *Config) ApplyEnv() {
	c.StreamDir = GetEnv("SEQ_STREAM_DIR", c.StreamDir)
	c.OutputPort = GetEnv("SEQ_OUTPUT_PORT", c.OutputPort)
	c.InputPort = GetEnv("SEQ_INPUT_PORT", c.InputPort)
	c.ControlAddr = GetEnv("SEQ_CONTROL_ADDR", c.ControlAddr)
	c.LogLevel = GetEnv("SEQ_LOG_LEVEL", c.LogLevel)
	c.Playback.ReadAheadMs = GetEnvInt("SEQ_READ_AHEAD_MS", c.Playback.ReadAheadMs)
	c.Playback.TickMs = GetEnvInt("SEQ_TICK_MS", c.Playback.TickMs)
}

// GetEnv returns the value of the environment variable named by key, or
// fallback if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of key, or fallback if it is unset or
// not a valid integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}
