package hotkey

import (
	"time"

	hk "golang.design/x/hotkey"
)

// watchedKeys are the physical keys wired up as global hotkeys.
var watchedKeys = map[Key]hk.Key{
	KeySpace:       hk.KeySpace,
	KeyEnter:       hk.KeyReturn,
	KeyBackspace:   hk.KeyDelete, // x/hotkey names backspace "Delete" on most platforms
	KeyF1:          hk.KeyF1,
	KeyBracketLeft: hk.Key('['),
	KeyBracketRight: hk.Key(']'),
	KeyBackslash:   hk.Key('\\'),
}

// osBackend registers one global hotkey per watched key and fans their
// keydown events into a single channel. golang.design/x/hotkey only reports
// the down edge, so the dispatcher's chord detection treats presses of [, ]
// and \ that land within a short window of each other as simultaneous rather
// than tracking literal key-up state.
type osBackend struct {
	hotkeys []*hk.Hotkey
	events  chan KeyEvent
	done    chan struct{}
}

// NewOSBackend registers global hotkeys for every key this package watches.
func NewOSBackend() (Backend, error) {
	b := &osBackend{
		events: make(chan KeyEvent, 32),
		done:   make(chan struct{}),
	}
	for key, native := range watchedKeys {
		h := hk.New([]hk.Modifier{}, native)
		if err := h.Register(); err != nil {
			b.Close()
			return nil, err
		}
		b.hotkeys = append(b.hotkeys, h)
		go b.watch(key, h)
	}
	return b, nil
}

func (b *osBackend) watch(key Key, h *hk.Hotkey) {
	for {
		select {
		case <-h.Keydown():
			select {
			case b.events <- KeyEvent{Key: key, Down: true, At: time.Now()}:
			case <-b.done:
				return
			}
		case <-b.done:
			return
		}
	}
}

func (b *osBackend) Events() <-chan KeyEvent { return b.events }

func (b *osBackend) Close() {
	select {
	case <-b.done:
		return
	default:
		close(b.done)
	}
	for _, h := range b.hotkeys {
		h.Unregister()
	}
}
