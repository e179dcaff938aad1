package stationcfg

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromMissingFileReturnsDefault(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load missing file: %v", err)
	}
	want := Default()
	if cfg.Window != want.Window || cfg.PracticeTiming != want.PracticeTiming {
		t.Fatalf("cfg = %+v, want default %+v", cfg, want)
	}
}

func TestLoadFromInvalidYAMLReturnsDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("team_number: [this is not valid\n"), 0o644); err != nil {
		t.Fatalf("seed invalid file: %v", err)
	}
	cfg, err := LoadFrom(path)
	if err == nil {
		t.Fatalf("expected a parse error")
	}
	if cfg.PracticeTiming != Default().PracticeTiming {
		t.Fatalf("cfg on parse error = %+v, want default timing", cfg)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.TeamNumber = 1234
	cfg.UseUSB = true
	cfg.GameData = "LRL"
	cfg.JoystickLocks = map[string]int{"uuid-a": 2}

	if err := SaveTo(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.TeamNumber != 1234 || !got.UseUSB || got.GameData != "LRL" {
		t.Fatalf("round-tripped cfg = %+v", got)
	}
	if got.JoystickLocks["uuid-a"] != 2 {
		t.Fatalf("joystick locks = %v", got.JoystickLocks)
	}
}

func TestDefaultPracticeTimingMatchesPracticePackage(t *testing.T) {
	d := Default().PracticeTiming
	if d.CountdownSecs != 3 || d.AutoSecs != 15 || d.DelaySecs != 1 || d.TeleopSecs != 135 {
		t.Fatalf("default timing = %+v", d)
	}
}
