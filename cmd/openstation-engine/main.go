package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/openstation/engine/internal/hotkey"
	"github.com/openstation/engine/internal/input"
	"github.com/openstation/engine/internal/link"
	"github.com/openstation/engine/internal/metrics"
	"github.com/openstation/engine/internal/station"
	"github.com/openstation/engine/internal/stationcfg"
)

// Set via -ldflags at build time; left at these defaults for local builds.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	appCfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("openstation-engine %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if appCfg == nil {
		os.Exit(2)
	}
	l := setupLogger(appCfg.logFormat, appCfg.logLevel)

	savedCfg := stationcfg.LoadOrDefault()
	if appCfg.team != 0 {
		savedCfg.TeamNumber = appCfg.team
	}
	if appCfg.useUSB {
		savedCfg.UseUSB = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, appCfg.logMetricsEvery, l, &wg)

	linkMgr := link.NewManager(savedCfg.TeamNumber)

	var inputBackend input.Backend
	if !appCfg.disableInput {
		be, err := input.NewSDLBackend()
		if err != nil {
			l.Warn("input_backend_init_failed", "error", err)
			metrics.IncError(metrics.ErrInputPoll)
		} else {
			inputBackend = be
		}
	}

	var hotkeyDispatcher *hotkey.Dispatcher
	var hotkeyBackend hotkey.Backend
	if !appCfg.disableHotkeys {
		be, err := hotkey.NewOSBackend()
		if err != nil {
			l.Warn("hotkey_backend_init_failed", "error", err)
			metrics.IncError(metrics.ErrHotkeyBackend)
		} else {
			hotkeyBackend = be
			hotkeyDispatcher = hotkey.NewDispatcher(be)
		}
	}

	coord := station.New(savedCfg, linkMgr, inputBackend, hotkeyDispatcher)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := linkMgr.Run(ctx); err != nil {
			l.Error("link_manager_error", "error", err)
			cancel()
		}
	}()

	if hotkeyDispatcher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hotkeyDispatcher.Run(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		coord.Run(ctx)
	}()

	metrics.SetReadinessFunc(func() bool { return ctx.Err() == nil })
	if appCfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(appCfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()

	savedCfg.JoystickLocks = coord.JoystickLocks()
	if err := stationcfg.Save(savedCfg); err != nil {
		l.Warn("stationcfg_save_failed", "error", err)
	}

	if inputBackend != nil {
		inputBackend.Close()
	}
	if hotkeyBackend != nil {
		hotkeyBackend.Close()
	}
	wg.Wait()
}
