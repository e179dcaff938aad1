package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type appConfig struct {
	team            uint32
	useUSB          bool
	metricsAddr     string
	logFormat       string
	logLevel        string
	logMetricsEvery time.Duration
	disableInput    bool
	disableHotkeys  bool
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	team := flag.Uint("team", 0, "FRC team number (0 = use saved config)")
	useUSB := flag.Bool("usb", false, "Prefer the USB gadget NIC over mDNS resolution")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	disableInput := flag.Bool("no-input", false, "Disable the SDL joystick backend (headless/dev mode)")
	disableHotkeys := flag.Bool("no-hotkeys", false, "Disable the global hotkey backend (headless/dev mode)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	cfg.team = uint32(*team)
	cfg.useUSB = *useUSB
	cfg.metricsAddr = *metricsAddr
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.disableInput = *disableInput
	cfg.disableHotkeys = *disableHotkeys

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs basic semantic validation of the parsed configuration.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if c.logMetricsEvery < 0 {
		return fmt.Errorf("log-metrics-interval must be >= 0")
	}
	return nil
}

// applyEnvOverrides maps OPEN_STATION_* environment variables to config
// fields unless a corresponding flag was explicitly set. Flag wins over env.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }

	if _, ok := set["team"]; !ok {
		if v, ok := get("OPEN_STATION_TEAM"); ok && v != "" {
			if n, err := strconv.ParseUint(v, 10, 32); err == nil {
				c.team = uint32(n)
			} else if firstErr == nil {
				firstErr = fmt.Errorf("invalid OPEN_STATION_TEAM: %w", err)
			}
		}
	}
	if _, ok := set["usb"]; !ok {
		if v, ok := get("OPEN_STATION_USB"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.useUSB = true
			case "0", "false", "no", "off":
				c.useUSB = false
			}
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("OPEN_STATION_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("OPEN_STATION_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("OPEN_STATION_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("OPEN_STATION_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid OPEN_STATION_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	if _, ok := set["no-input"]; !ok {
		if v, ok := get("OPEN_STATION_NO_INPUT"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.disableInput = true
			case "0", "false", "no", "off":
				c.disableInput = false
			}
		}
	}
	if _, ok := set["no-hotkeys"]; !ok {
		if v, ok := get("OPEN_STATION_NO_HOTKEYS"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.disableHotkeys = true
			case "0", "false", "no", "off":
				c.disableHotkeys = false
			}
		}
	}
	return firstErr
}
