// Package hotkey turns raw keyboard events into the small set of safety
// actions an operator can trigger without touching the mouse: emergency
// stop, disable, the enable chord, assistive stop and a device rescan.
package hotkey

import (
	"context"
	"sync"
	"time"

	"github.com/openstation/engine/internal/logging"
)

// Key identifies one of the physical keys this package cares about. The
// backend is responsible for translating platform scan codes into these.
type Key int

const (
	KeySpace Key = iota
	KeyEnter
	KeyBackspace
	KeyF1
	KeyBracketLeft
	KeyBracketRight
	KeyBackslash
)

// Action is the safety action a key combination produces.
type Action int

const (
	ActionEStop Action = iota
	ActionDisable
	ActionEnable
	ActionAStop
	ActionRescanDevices
)

func (a Action) String() string {
	switch a {
	case ActionEStop:
		return "estop"
	case ActionDisable:
		return "disable"
	case ActionEnable:
		return "enable"
	case ActionAStop:
		return "a-stop"
	case ActionRescanDevices:
		return "rescan-devices"
	default:
		return "unknown"
	}
}

// KeyEvent is one raw key transition reported by a Backend.
type KeyEvent struct {
	Key  Key
	Down bool
	At   time.Time
}

// Backend delivers raw keyboard events regardless of the window that has
// focus. The platform-specific implementation wraps golang.design/x/hotkey's
// global hook; tests substitute a channel-backed fake.
type Backend interface {
	Events() <-chan KeyEvent
	Close()
}

const debounce = 50 * time.Millisecond

// Dispatcher consumes raw key events from a Backend and emits debounced
// Actions. Enable fires when [, ] and \ have each gone down within
// chordWindow of one another; key-up events are ignored, so the keys need not
// still be held. Every other action fires on its key's down edge.
type Dispatcher struct {
	backend Backend

	mu       sync.Mutex
	out      []Action
	notEmpty chan struct{}

	lastPress map[Key]time.Time // chord keys only: most recent down edge
	lastFire  map[Key]time.Time
}

// chordWindow is how close together [, ] and \ must each have gone down for
// the combination to count as simultaneous.
const chordWindow = 200 * time.Millisecond

var chordKeys = []Key{KeyBracketLeft, KeyBracketRight, KeyBackslash}

// NewDispatcher wraps backend with debouncing and chord detection.
func NewDispatcher(backend Backend) *Dispatcher {
	return &Dispatcher{
		backend:   backend,
		notEmpty:  make(chan struct{}, 1),
		lastPress: make(map[Key]time.Time),
		lastFire:  make(map[Key]time.Time),
	}
}

// Run consumes backend events until ctx is done or the backend closes its
// event channel. Call it in its own goroutine.
func (d *Dispatcher) Run(ctx context.Context) {
	events := d.backend.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			d.handle(ev)
		}
	}
}

func (d *Dispatcher) handle(ev KeyEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !ev.Down {
		return
	}
	if last, ok := d.lastFire[ev.Key]; ok && ev.At.Sub(last) < debounce {
		return
	}

	var action Action
	switch ev.Key {
	case KeySpace:
		action = ActionEStop
	case KeyEnter:
		action = ActionDisable
	case KeyBackspace:
		action = ActionAStop
	case KeyF1:
		action = ActionRescanDevices
	case KeyBracketLeft, KeyBracketRight, KeyBackslash:
		d.lastPress[ev.Key] = ev.At
		if !d.chordComplete(ev.At) {
			return
		}
		action = ActionEnable
	default:
		return
	}

	d.lastFire[ev.Key] = ev.At
	d.enqueue(action)
}

func (d *Dispatcher) chordComplete(now time.Time) bool {
	for _, k := range chordKeys {
		t, ok := d.lastPress[k]
		if !ok || now.Sub(t) > chordWindow {
			return false
		}
	}
	return true
}

// queueCap bounds the pending-action queue; EStop always displaces the
// oldest entry rather than being dropped, since missing an e-stop is worse
// than losing a stale rescan request.
const queueCap = 64

// enqueue appends action to the pending queue, except EStop, which jumps to
// the front so it is delivered ahead of anything already queued — it
// bypasses the queue, not just the drop policy.
func (d *Dispatcher) enqueue(action Action) {
	if len(d.out) >= queueCap {
		if action == ActionEStop {
			d.out = d.out[1:]
		} else {
			logging.L().Warn("hotkey_action_dropped", "action", action.String())
			return
		}
	}
	if action == ActionEStop {
		d.out = append([]Action{action}, d.out...)
	} else {
		d.out = append(d.out, action)
	}
	select {
	case d.notEmpty <- struct{}{}:
	default:
	}
}

// Next blocks until an action is available or ctx is done.
func (d *Dispatcher) Next(ctx context.Context) (Action, bool) {
	for {
		d.mu.Lock()
		if len(d.out) > 0 {
			a := d.out[0]
			d.out = d.out[1:]
			d.mu.Unlock()
			return a, true
		}
		d.mu.Unlock()

		select {
		case <-ctx.Done():
			return 0, false
		case <-d.notEmpty:
		}
	}
}
