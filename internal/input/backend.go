package input

// Device is one connected gamepad's identity and its latest reading.
type Device struct {
	UUID    string
	Name    string
	Reading RawReading
}

// Backend enumerates and polls connected gamepads. The SDL-backed
// implementation wraps github.com/veandco/go-sdl2's game controller API;
// tests substitute a fakeBackend so the slot table's bookkeeping can be
// exercised without real hardware.
type Backend interface {
	// Poll returns the current snapshot of connected devices. Order is not
	// significant; devices are matched across polls by UUID.
	Poll() ([]Device, error)
	// Close releases any backend resources.
	Close()
}
