package station

import (
	"time"

	"github.com/openstation/engine/internal/input"
	"github.com/openstation/engine/internal/practice"
	"github.com/openstation/engine/internal/wire"
)

// PracticeState is the practice sequencer's contribution to a snapshot.
type PracticeState struct {
	Running   bool
	Phase     practice.Phase
	Elapsed   time.Duration
	Remaining time.Duration
}

// RobotState is the flattened, serializable snapshot published to UI
// collaborators: connection liveness, control/status, telemetry, the
// joystick slot table, practice progress, link health, and identity.
type RobotState struct {
	Sequence uint64

	Connected   bool
	CodeRunning bool

	Control wire.ControlFlags
	Status  wire.StatusFlags
	Voltage float64
	Data    wire.TelemetryData

	Slots [input.NumSlots]input.Slot

	// JoystickOutputs carries the most recent rumble command the robot asked
	// the driver station to forward to a controller. HasJoystickOutputs is
	// false until the first one arrives for the current connection.
	JoystickOutputs    wire.RumbleOutput
	HasJoystickOutputs bool

	Practice PracticeState

	TripTimeMillis float64
	LostPackets    uint32

	Team     uint32
	Alliance wire.Alliance
}
