package input

import "github.com/openstation/engine/internal/wire"

// Axis indices in the order the controller side expects them.
const (
	AxisLeftStickX = iota
	AxisLeftStickY
	AxisLeftTrigger
	AxisRightTrigger
	AxisRightStickX
	AxisRightStickY
	axisCount
)

// Button indices, in controller order. A physical pad's South/East/North/West
// face buttons and its two triggers, two thumbsticks, select and start all
// land in fixed slots. The D-pad is reported as the hat (see DPad); other
// buttons the pad has beyond this table are not read or appended.
const (
	ButtonSouth = iota
	ButtonEast
	ButtonNorth
	ButtonWest
	ButtonLeftTrigger
	ButtonRightTrigger
	ButtonSelect
	ButtonStart
	ButtonLeftThumb
	ButtonRightThumb
	buttonCount
)

// Hat (POV/D-pad) angles, in the same units the wire joystick section uses.
const (
	HatNone     int16 = -1
	HatUp       int16 = 0
	HatUpRight  int16 = 45
	HatRight    int16 = 90
	HatDownRight int16 = 135
	HatDown     int16 = 180
	HatDownLeft int16 = 225
	HatLeft     int16 = 270
	HatUpLeft   int16 = 315
)

// DPad collapses the 4 independent direction booleans a gamepad reports into
// the single hat value the wire format carries.
func DPad(up, down, left, right bool) int16 {
	switch {
	case up && right:
		return HatUpRight
	case down && right:
		return HatDownRight
	case down && left:
		return HatDownLeft
	case up && left:
		return HatUpLeft
	case up:
		return HatUp
	case down:
		return HatDown
	case left:
		return HatLeft
	case right:
		return HatRight
	default:
		return HatNone
	}
}

// NormalizeAxis maps a gamepad's [-1.0, 1.0] axis reading onto the signed
// byte range the wire format carries: the positive and negative halves
// scale by different factors (127 and 128) so that the full -128..127
// range is reachable and -1.0 lands exactly on -128.
func NormalizeAxis(value float64) int8 {
	var scaled float64
	if value < 0 {
		scaled = value * 128.0
	} else {
		scaled = value * 127.0
	}
	if scaled > 127 {
		scaled = 127
	}
	if scaled < -128 {
		scaled = -128
	}
	return int8(scaled)
}

// ToJoystickData assembles a wire.JoystickData from raw axis/button readings
// already in controller order (see RawReading).
func ToJoystickData(r RawReading) wire.JoystickData {
	axes := make([]int8, len(r.Axes))
	for i, v := range r.Axes {
		axes[i] = NormalizeAxis(v)
	}
	buttons := make([]bool, len(r.Buttons))
	copy(buttons, r.Buttons)
	var hats []int16
	if r.HasHat {
		hats = []int16{r.Hat}
	}
	return wire.JoystickData{Axes: axes, Buttons: buttons, Hats: hats}
}

// RawReading is one poll's worth of readings from a single device, already
// reordered into the controller's fixed axis/button layout.
type RawReading struct {
	Axes    []float64
	Buttons []bool
	HasHat  bool
	Hat     int16
}
