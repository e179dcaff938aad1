package station

import (
	"sync"
	"testing"
	"time"

	"github.com/openstation/engine/internal/input"
	"github.com/openstation/engine/internal/practice"
	"github.com/openstation/engine/internal/stationcfg"
)

var epoch = time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

func newTestCoordinator(t *testing.T, clock func() time.Time) *Coordinator {
	t.Helper()
	cfg := stationcfg.Default()
	return New(cfg, nil, nil, nil, WithClock(clock))
}

func TestEnableDisableBasics(t *testing.T) {
	c := newTestCoordinator(t, func() time.Time { return epoch })
	c.Enable()
	c.tick()
	if !c.control.Enabled {
		t.Fatalf("enabled after Enable(): %+v", c.control)
	}
	c.Disable()
	c.tick()
	if c.control.Enabled {
		t.Fatalf("still enabled after Disable(): %+v", c.control)
	}
}

func TestEStopLatchPersistsUntilReset(t *testing.T) {
	c := newTestCoordinator(t, func() time.Time { return epoch })
	c.Enable()
	c.tick()
	if !c.control.Enabled {
		t.Fatalf("expected enabled before e-stop")
	}

	c.EStop()
	c.tick()
	if c.control.Enabled || !c.control.EStop {
		t.Fatalf("e-stop did not force disabled: %+v", c.control)
	}

	// Enable() alone must not clear a latched e-stop.
	c.Enable()
	c.tick()
	if c.control.Enabled || !c.control.EStop {
		t.Fatalf("Enable() cleared a latched e-stop: %+v", c.control)
	}

	c.ResetEStop()
	c.Enable()
	c.tick()
	if !c.control.Enabled || c.control.EStop {
		t.Fatalf("reset+enable did not restore enabled: %+v", c.control)
	}
}

func TestDisableDuringPracticeOverridesSequencerEnable(t *testing.T) {
	now := epoch
	c := newTestCoordinator(t, func() time.Time { return now })
	c.practiceSeq = practice.NewSequencer(practice.Timing{CountdownSecs: 1, AutoSecs: 1, DelaySecs: 1, TeleopSecs: 1})

	c.StartPractice()
	c.tick() // countdown: disabled
	if c.control.Enabled {
		t.Fatalf("enabled during countdown: %+v", c.control)
	}

	now = epoch.Add(1 * time.Second) // enters autonomous: sequencer wants enabled
	c.tick()
	if !c.control.Enabled {
		t.Fatalf("not enabled entering autonomous: %+v", c.control)
	}

	// Operator disable during an active run wins over the sequencer.
	c.Disable()
	now = epoch.Add(1500 * time.Millisecond)
	c.tick()
	if c.control.Enabled {
		t.Fatalf("operator disable did not override practice enable: %+v", c.control)
	}

	// Still overridden at the next phase transition.
	now = epoch.Add(2 * time.Second) // enters delay, which itself disables anyway
	c.tick()
	now = epoch.Add(3 * time.Second) // enters teleop: sequencer wants enabled again
	c.tick()
	if c.control.Enabled {
		t.Fatalf("stale operator override did not persist into teleop: %+v", c.control)
	}

	// A fresh Enable() call resumes following the sequencer.
	c.Enable()
	now = epoch.Add(3100 * time.Millisecond)
	c.tick()
	if !c.control.Enabled {
		t.Fatalf("re-enable inside teleop did not take effect: %+v", c.control)
	}
}

func TestAStopDuringAutonomousForcesDisable(t *testing.T) {
	now := epoch
	c := newTestCoordinator(t, func() time.Time { return now })
	c.practiceSeq = practice.NewSequencer(practice.Timing{CountdownSecs: 1, AutoSecs: 5, DelaySecs: 1, TeleopSecs: 5})

	c.StartPractice()
	c.tick()
	now = epoch.Add(1 * time.Second) // autonomous begins, enabled
	c.tick()
	if !c.control.Enabled {
		t.Fatalf("not enabled at autonomous entry: %+v", c.control)
	}

	c.AStop()
	now = epoch.Add(3 * time.Second)
	c.tick()
	if c.control.Enabled {
		t.Fatalf("a-stop did not force disable during autonomous: %+v", c.control)
	}
	if c.practiceSeq.Phase() != practice.PhaseAutonomous {
		t.Fatalf("a-stop changed phase: %v", c.practiceSeq.Phase())
	}

	now = epoch.Add(6 * time.Second) // autonomous ends, enters delay
	c.tick()
	if c.practiceSeq.Phase() != practice.PhaseDelay {
		t.Fatalf("phase at t=6s = %v, want delay", c.practiceSeq.Phase())
	}

	now = epoch.Add(7 * time.Second) // delay ends, enters teleop: re-enables normally
	c.tick()
	if c.practiceSeq.Phase() != practice.PhaseTeleop || !c.control.Enabled {
		t.Fatalf("did not re-enable in teleop after a-stop: phase=%v control=%+v", c.practiceSeq.Phase(), c.control)
	}
}

func TestPracticeRunDisablesOnNaturalCompletion(t *testing.T) {
	now := epoch
	c := newTestCoordinator(t, func() time.Time { return now })
	c.practiceSeq = practice.NewSequencer(practice.Timing{CountdownSecs: 1, AutoSecs: 1, DelaySecs: 1, TeleopSecs: 1})

	c.StartPractice()
	c.tick() // countdown: disabled
	if c.control.Enabled {
		t.Fatalf("enabled during countdown: %+v", c.control)
	}

	now = epoch.Add(1 * time.Second) // autonomous: enabled
	c.tick()
	if !c.control.Enabled {
		t.Fatalf("not enabled entering autonomous: %+v", c.control)
	}

	now = epoch.Add(2 * time.Second) // delay: disabled
	c.tick()
	if c.control.Enabled {
		t.Fatalf("enabled during delay: %+v", c.control)
	}

	now = epoch.Add(3 * time.Second) // teleop: enabled
	c.tick()
	if !c.control.Enabled {
		t.Fatalf("not enabled entering teleop: %+v", c.control)
	}

	now = epoch.Add(4*time.Second + time.Millisecond) // teleop ends: run completes, Done
	c.tick()
	if c.practiceSeq.Phase() != practice.PhaseDone {
		t.Fatalf("phase after teleop = %v, want done", c.practiceSeq.Phase())
	}
	if c.control.Enabled {
		t.Fatalf("still enabled after practice run reached done: %+v", c.control)
	}

	// The disable must stick on subsequent ticks too, not just the
	// transition tick.
	now = epoch.Add(5 * time.Second)
	c.tick()
	if c.control.Enabled {
		t.Fatalf("re-enabled after done: %+v", c.control)
	}
}

func TestJoystickDisconnectSafetyForcesDisable(t *testing.T) {
	backend := &fakeBackend{}
	cfg := stationcfg.Default()
	c := New(cfg, nil, backend, nil, WithClock(func() time.Time { return epoch }))

	backend.set([]input.Device{{
		UUID:    "pad-1",
		Name:    "Test Pad",
		Reading: input.RawReading{Axes: []float64{0.5}, Buttons: make([]bool, 1)},
	}})
	c.pollInput() // connects pad-1 into a slot

	c.Enable()
	c.tick()
	if !c.control.Enabled {
		t.Fatalf("expected enabled before disconnect")
	}

	backend.set(nil) // pad-1 vanishes while it had nonzero input
	c.pollInput()

	if c.manualEnabled {
		t.Fatalf("disconnect safety did not clear manualEnabled")
	}
	c.tick()
	if c.control.Enabled {
		t.Fatalf("still enabled after an in-use joystick disconnected: %+v", c.control)
	}
}

func TestJoystickDisconnectSafetyIgnoresIdleDevices(t *testing.T) {
	backend := &fakeBackend{}
	cfg := stationcfg.Default()
	c := New(cfg, nil, backend, nil, WithClock(func() time.Time { return epoch }))

	backend.set([]input.Device{{
		UUID:    "pad-1",
		Name:    "Test Pad",
		Reading: input.RawReading{Axes: []float64{0}, Buttons: make([]bool, 1)},
	}})
	c.pollInput()

	c.Enable()
	c.tick()

	backend.set(nil) // disconnects, but it was reading all-zero
	c.pollInput()

	if !c.manualEnabled {
		t.Fatalf("idle device disconnect incorrectly triggered a safety disable")
	}
}

func TestRequestDateHandshakeIsOneShotPerConnection(t *testing.T) {
	c := newTestCoordinator(t, func() time.Time { return epoch })

	c.mu.Lock()
	c.sendDateNext = true
	c.mu.Unlock()

	c.tick()
	c.mu.Lock()
	sentOnce := c.dateSent
	nextAfterFirstTick := c.sendDateNext
	c.mu.Unlock()
	if !sentOnce || nextAfterFirstTick {
		t.Fatalf("date section not sent exactly once: dateSent=%v sendDateNext=%v", sentOnce, nextAfterFirstTick)
	}

	// A later telemetry RequestDate must not re-fire until a reconnect
	// resets dateSent (simulated directly here; telemetryLoop owns the
	// real reset on a fresh connected transition).
	c.mu.Lock()
	c.dateSent = false
	c.sendDateNext = true
	c.mu.Unlock()
	c.tick()
	c.mu.Lock()
	sentTwice := c.dateSent
	c.mu.Unlock()
	if !sentTwice {
		t.Fatalf("date section did not re-fire after simulated reconnect reset")
	}
}

func TestSnapshotSequenceCoalescesForSlowSubscribers(t *testing.T) {
	c := newTestCoordinator(t, func() time.Time { return epoch })
	ch, cancel := c.Snapshots()
	defer cancel()

	c.tick()
	c.tick()
	c.tick()

	select {
	case snap := <-ch:
		if snap.Sequence != 3 {
			t.Fatalf("coalesced snapshot sequence = %d, want 3 (latest only)", snap.Sequence)
		}
	default:
		t.Fatalf("expected a coalesced snapshot to be available")
	}

	select {
	case extra := <-ch:
		t.Fatalf("expected only one coalesced value, got a second: %+v", extra)
	default:
	}
}

func TestLockJoystickBeforeDeviceConnects(t *testing.T) {
	c := newTestCoordinator(t, func() time.Time { return epoch })
	if !c.LockJoystick("pad-9", 2) {
		t.Fatalf("LockJoystick on an unconnected uuid should preset-reserve the slot")
	}
	if slot := c.slots.Slot(2); slot.UUID != "pad-9" || !slot.Locked || slot.Connected {
		t.Fatalf("slot 2 not preset-locked: %+v", slot)
	}
}

func TestGameDataTruncatesToThreeBytes(t *testing.T) {
	c := newTestCoordinator(t, func() time.Time { return epoch })
	c.SetGameData("redL")
	c.mu.Lock()
	got := c.gameData
	c.mu.Unlock()
	if got != "red" {
		t.Fatalf("game data = %q, want truncated to %q", got, "red")
	}
}

type fakeBackend struct {
	mu      sync.Mutex
	devices []input.Device
}

func (f *fakeBackend) set(devices []input.Device) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices = devices
}

func (f *fakeBackend) Poll() ([]input.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]input.Device, len(f.devices))
	copy(out, f.devices)
	return out, nil
}

func (f *fakeBackend) Close() {}
