// Package stationcfg persists the operator's saved settings: team number,
// practice timing, joystick slot locks and window geometry. It favors
// returning sane defaults over surfacing load errors, since a missing or
// corrupt config file should never stop the engine from starting.
package stationcfg

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/openstation/engine/internal/logging"
	"github.com/openstation/engine/internal/metrics"
	"github.com/openstation/engine/internal/practice"
	"gopkg.in/yaml.v3"
)

// PracticeTiming mirrors practice.Timing in a persistence-friendly shape.
type PracticeTiming struct {
	CountdownSecs uint32 `yaml:"countdown_secs"`
	AutoSecs      uint32 `yaml:"auto_secs"`
	DelaySecs     uint32 `yaml:"delay_secs"`
	TeleopSecs    uint32 `yaml:"teleop_secs"`
}

func defaultPracticeTiming() PracticeTiming {
	d := practice.DefaultTiming()
	return PracticeTiming{
		CountdownSecs: d.CountdownSecs,
		AutoSecs:      d.AutoSecs,
		DelaySecs:     d.DelaySecs,
		TeleopSecs:    d.TeleopSecs,
	}
}

// ToPracticeTiming converts to the practice package's working type.
func (t PracticeTiming) ToPracticeTiming() practice.Timing {
	return practice.Timing{
		CountdownSecs: t.CountdownSecs,
		AutoSecs:      t.AutoSecs,
		DelaySecs:     t.DelaySecs,
		TeleopSecs:    t.TeleopSecs,
	}
}

// WindowConfig remembers the operator console's last geometry.
type WindowConfig struct {
	X      *int32 `yaml:"x,omitempty"`
	Y      *int32 `yaml:"y,omitempty"`
	Width  int32  `yaml:"width"`
	Height int32  `yaml:"height"`
}

func defaultWindowConfig() WindowConfig {
	return WindowConfig{Width: 1000, Height: 400}
}

// Config is the full document saved under the config directory.
type Config struct {
	TeamNumber      uint32         `yaml:"team_number"`
	UseUSB          bool           `yaml:"use_usb"`
	DashboardCmd    string         `yaml:"dashboard_command,omitempty"`
	GameData        string         `yaml:"game_data,omitempty"`
	PracticeTiming  PracticeTiming `yaml:"practice_timing"`
	PracticeAudio   bool           `yaml:"practice_audio"`
	JoystickLocks   map[string]int `yaml:"joystick_locks,omitempty"`
	Window          WindowConfig   `yaml:"window"`
}

// Default returns the document written for a brand-new install.
func Default() Config {
	return Config{
		PracticeTiming: defaultPracticeTiming(),
		PracticeAudio:  true,
		JoystickLocks:  map[string]int{},
		Window:         defaultWindowConfig(),
	}
}

const configDirName = "open-station"
const configFileName = "config.yaml"

// Path returns the file the engine reads and writes, honoring
// os.UserConfigDir() the way the cmd flags honor OPEN_STATION_*
// environment overrides: a predictable, inspectable location.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("stationcfg: resolve config dir: %w", err)
	}
	return filepath.Join(dir, configDirName, configFileName), nil
}

// Load reads the config file at Path(). A missing file yields Default() and
// no error; a file that fails to parse, or an I/O error other than "not
// exist", yields Default() together with the error. LoadOrDefault logs and
// swallows those errors for callers that just want a usable Config.
func Load() (Config, error) {
	path, err := Path()
	if err != nil {
		return Default(), err
	}
	return LoadFrom(path)
}

// LoadFrom reads and parses a specific file path.
func LoadFrom(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			metrics.ObserveConfigLoad("not_found")
			return Default(), nil
		}
		metrics.ObserveConfigLoad("io_error")
		return Default(), err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		metrics.ObserveConfigLoad("parse_error")
		return Default(), err
	}
	if cfg.JoystickLocks == nil {
		cfg.JoystickLocks = map[string]int{}
	}
	metrics.ObserveConfigLoad("ok")
	return cfg, nil
}

// LoadOrDefault is the call site callers reach for: it never returns an
// error, logging and falling back to Default() on any failure.
func LoadOrDefault() Config {
	cfg, err := Load()
	if err != nil {
		logging.L().Warn("stationcfg_load_fallback", "error", err)
		return Default()
	}
	return cfg
}

// Save atomically writes cfg to Path(), creating the containing directory if
// needed. The write goes to a temp file in the same directory first, then is
// renamed into place, so a crash mid-write never leaves a half-written
// config behind.
func Save(cfg Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	return SaveTo(path, cfg)
}

// SaveTo writes cfg to a specific file path using the same atomic
// temp-then-rename sequence as Save.
func SaveTo(path string, cfg Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		metrics.ObserveConfigSave("io_error")
		return fmt.Errorf("stationcfg: mkdir %s: %w", dir, err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		metrics.ObserveConfigSave("marshal_error")
		return fmt.Errorf("stationcfg: marshal: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*.yaml.tmp")
	if err != nil {
		metrics.ObserveConfigSave("io_error")
		return fmt.Errorf("stationcfg: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		metrics.ObserveConfigSave("io_error")
		return fmt.Errorf("stationcfg: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		metrics.ObserveConfigSave("io_error")
		return fmt.Errorf("stationcfg: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		metrics.ObserveConfigSave("io_error")
		return fmt.Errorf("stationcfg: rename into place: %w", err)
	}
	metrics.ObserveConfigSave("ok")
	return nil
}
