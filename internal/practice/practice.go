// Package practice implements the clock-driven drill sequencer: a timed
// run through countdown, autonomous, delay and teleoperated phases that
// synthesizes the same mode/enable intents an operator would otherwise
// issue by hand.
package practice

import (
	"time"

	"github.com/openstation/engine/internal/wire"
)

// Phase is one stage of a practice run.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCountdown
	PhaseAutonomous
	PhaseDelay
	PhaseTeleop
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCountdown:
		return "countdown"
	case PhaseAutonomous:
		return "autonomous"
	case PhaseDelay:
		return "delay"
	case PhaseTeleop:
		return "teleop"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// Timing holds the per-phase durations, in seconds.
type Timing struct {
	CountdownSecs uint32
	AutoSecs      uint32
	DelaySecs     uint32
	TeleopSecs    uint32
}

// DefaultTiming matches the stock drill schedule.
func DefaultTiming() Timing {
	return Timing{CountdownSecs: 3, AutoSecs: 15, DelaySecs: 1, TeleopSecs: 135}
}

// Tick is what the sequencer wants the coordinator to do this quantum.
type Tick struct {
	Phase         Phase
	Elapsed       time.Duration
	Remaining     time.Duration
	ShouldEnable  bool
	ShouldDisable bool
	Mode          *wire.Mode // non-nil only on a phase transition that sets mode
}

// Sequencer drives the Idle -> Countdown -> Autonomous -> Delay -> Teleop ->
// Done state machine. It takes an explicit clock on every call so tests can
// drive exact phase boundaries without sleeping.
type Sequencer struct {
	phase      Phase
	timing     Timing
	phaseStart time.Time
	started    bool
	aStopped   bool
	prevPhase  Phase
}

// NewSequencer creates an idle sequencer with the given phase durations.
func NewSequencer(timing Timing) *Sequencer {
	return &Sequencer{timing: timing}
}

// Start begins a run from Idle, entering Countdown as of now.
func (s *Sequencer) Start(now time.Time) {
	s.phase = PhaseCountdown
	s.phaseStart = now
	s.started = true
	s.aStopped = false
	s.prevPhase = PhaseIdle
}

// Stop returns to Idle immediately and reports the disable intent that
// accompanies it.
func (s *Sequencer) Stop() Tick {
	s.phase = PhaseIdle
	s.started = false
	s.aStopped = false
	s.prevPhase = PhaseIdle
	return Tick{Phase: PhaseIdle, ShouldDisable: true}
}

// AStop asserts an assistive stop. It only takes effect while the sequencer
// is in Autonomous and does not persist past that phase.
func (s *Sequencer) AStop() {
	if s.phase == PhaseAutonomous {
		s.aStopped = true
	}
}

// SetTiming updates the phase durations used for subsequent runs.
func (s *Sequencer) SetTiming(t Timing) { s.timing = t }

// Phase reports the current phase.
func (s *Sequencer) Phase() Phase { return s.phase }

// IsRunning reports whether a drill is in progress (not Idle, not Done).
func (s *Sequencer) IsRunning() bool {
	return s.phase != PhaseIdle && s.phase != PhaseDone
}

// Tick advances the sequencer's notion of time to now and returns the
// intent for this quantum. Call it roughly every 20ms while a run is active.
func (s *Sequencer) Tick(now time.Time) Tick {
	if !s.started {
		return Tick{Phase: s.phase}
	}

	elapsed := now.Sub(s.phaseStart)
	if dur, ok := s.phaseDuration(); ok && elapsed >= dur {
		s.advancePhase(now)
		elapsed = now.Sub(s.phaseStart)
	}

	var remaining time.Duration
	if dur, ok := s.phaseDuration(); ok {
		remaining = dur - elapsed
		if remaining < 0 {
			remaining = 0
		}
	}

	transitioning := s.phase != s.prevPhase
	var mode *wire.Mode
	var shouldEnable, shouldDisable bool
	if transitioning {
		mode, shouldEnable, shouldDisable = enterEffect(s.phase)
	}

	// A-Stop forces a disable for the remainder of Autonomous, independent
	// of whether this tick is a transition.
	if s.aStopped && s.phase == PhaseAutonomous {
		shouldEnable = false
		shouldDisable = true
	}

	s.prevPhase = s.phase
	return Tick{
		Phase:         s.phase,
		Elapsed:       elapsed,
		Remaining:     remaining,
		ShouldEnable:  shouldEnable,
		ShouldDisable: shouldDisable,
		Mode:          mode,
	}
}

// enterEffect returns the mode/enable intent for entering the given phase.
func enterEffect(p Phase) (mode *wire.Mode, shouldEnable, shouldDisable bool) {
	auto, teleop := wire.ModeAutonomous, wire.ModeTeleop
	switch p {
	case PhaseCountdown:
		return &auto, false, true
	case PhaseAutonomous:
		return nil, true, false
	case PhaseDelay:
		return nil, false, true
	case PhaseTeleop:
		return &teleop, true, false
	case PhaseDone:
		return nil, false, true
	default:
		return nil, false, false
	}
}

func (s *Sequencer) phaseDuration() (time.Duration, bool) {
	switch s.phase {
	case PhaseCountdown:
		return time.Duration(s.timing.CountdownSecs) * time.Second, true
	case PhaseAutonomous:
		return time.Duration(s.timing.AutoSecs) * time.Second, true
	case PhaseDelay:
		return time.Duration(s.timing.DelaySecs) * time.Second, true
	case PhaseTeleop:
		return time.Duration(s.timing.TeleopSecs) * time.Second, true
	default:
		return 0, false
	}
}

func (s *Sequencer) advancePhase(now time.Time) {
	old := s.phase
	switch s.phase {
	case PhaseCountdown:
		s.phase = PhaseAutonomous
	case PhaseAutonomous:
		s.phase = PhaseDelay
	case PhaseDelay:
		s.phase = PhaseTeleop
	case PhaseTeleop:
		s.phase = PhaseDone
	}
	if old == PhaseAutonomous {
		s.aStopped = false
	}
	s.phaseStart = now
}
