package hotkey

// FakeBackend is an injectable Backend for tests: Fire publishes a key event
// directly onto the channel Run consumes.
type FakeBackend struct {
	events chan KeyEvent
}

// NewFakeBackend creates a FakeBackend with a generously buffered channel so
// tests can queue several events before the dispatcher drains them.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{events: make(chan KeyEvent, 256)}
}

func (f *FakeBackend) Events() <-chan KeyEvent { return f.events }

func (f *FakeBackend) Close() { close(f.events) }

// Fire injects a key event as if the OS had reported it.
func (f *FakeBackend) Fire(ev KeyEvent) { f.events <- ev }
