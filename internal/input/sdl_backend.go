package input

import (
	"fmt"

	"github.com/veandco/go-sdl2/sdl"
)

// sdlBackend polls SDL's game controller subsystem for connected gamepads,
// remapping each one's axes and buttons into controller order as it goes.
type sdlBackend struct {
	controllers map[sdl.JoystickID]*sdl.GameController
}

// NewSDLBackend initializes the SDL joystick/game-controller subsystem.
func NewSDLBackend() (Backend, error) {
	if err := sdl.InitSubSystem(sdl.INIT_GAMECONTROLLER | sdl.INIT_JOYSTICK); err != nil {
		return nil, fmt.Errorf("input: sdl init: %w", err)
	}
	return &sdlBackend{controllers: make(map[sdl.JoystickID]*sdl.GameController)}, nil
}

func (b *sdlBackend) Close() {
	for id, c := range b.controllers {
		c.Close()
		delete(b.controllers, id)
	}
	sdl.QuitSubSystem(sdl.INIT_GAMECONTROLLER | sdl.INIT_JOYSTICK)
}

func (b *sdlBackend) Poll() ([]Device, error) {
	sdl.GameControllerUpdate()

	seen := make(map[sdl.JoystickID]struct{})
	devices := make([]Device, 0, len(b.controllers))

	n := sdl.NumJoysticks()
	for i := 0; i < n; i++ {
		if !sdl.IsGameController(i) {
			continue
		}
		id := sdl.JoystickGetDeviceInstanceID(i)
		ctrl, ok := b.controllers[id]
		if !ok {
			ctrl = sdl.GameControllerOpen(i)
			if ctrl == nil {
				continue
			}
			b.controllers[id] = ctrl
		}
		seen[id] = struct{}{}

		joy := ctrl.Joystick()
		uuidBytes := joy.GUID()
		devices = append(devices, Device{
			UUID:    fmt.Sprintf("%x", uuidBytes),
			Name:    ctrl.Name(),
			Reading: readController(ctrl),
		})
	}

	for id, ctrl := range b.controllers {
		if _, ok := seen[id]; !ok {
			ctrl.Close()
			delete(b.controllers, id)
		}
	}
	return devices, nil
}

func readController(ctrl *sdl.GameController) RawReading {
	axis := func(a sdl.GameControllerAxis) float64 {
		v := ctrl.Axis(a)
		if v < 0 {
			return float64(v) / 32768.0
		}
		return float64(v) / 32767.0
	}
	btn := func(b sdl.GameControllerButton) bool {
		return ctrl.Button(b) != 0
	}

	axes := make([]float64, axisCount)
	axes[AxisLeftStickX] = axis(sdl.CONTROLLER_AXIS_LEFTX)
	axes[AxisLeftStickY] = axis(sdl.CONTROLLER_AXIS_LEFTY)
	axes[AxisLeftTrigger] = axis(sdl.CONTROLLER_AXIS_TRIGGERLEFT)
	axes[AxisRightTrigger] = axis(sdl.CONTROLLER_AXIS_TRIGGERRIGHT)
	axes[AxisRightStickX] = axis(sdl.CONTROLLER_AXIS_RIGHTX)
	axes[AxisRightStickY] = axis(sdl.CONTROLLER_AXIS_RIGHTY)

	buttons := make([]bool, buttonCount)
	buttons[ButtonSouth] = btn(sdl.CONTROLLER_BUTTON_A)
	buttons[ButtonEast] = btn(sdl.CONTROLLER_BUTTON_B)
	buttons[ButtonNorth] = btn(sdl.CONTROLLER_BUTTON_Y)
	buttons[ButtonWest] = btn(sdl.CONTROLLER_BUTTON_X)
	buttons[ButtonLeftTrigger] = btn(sdl.CONTROLLER_BUTTON_LEFTSHOULDER)
	buttons[ButtonRightTrigger] = btn(sdl.CONTROLLER_BUTTON_RIGHTSHOULDER)
	buttons[ButtonSelect] = btn(sdl.CONTROLLER_BUTTON_BACK)
	buttons[ButtonStart] = btn(sdl.CONTROLLER_BUTTON_START)
	buttons[ButtonLeftThumb] = btn(sdl.CONTROLLER_BUTTON_LEFTSTICK)
	buttons[ButtonRightThumb] = btn(sdl.CONTROLLER_BUTTON_RIGHTSTICK)

	hat := DPad(
		btn(sdl.CONTROLLER_BUTTON_DPAD_UP),
		btn(sdl.CONTROLLER_BUTTON_DPAD_DOWN),
		btn(sdl.CONTROLLER_BUTTON_DPAD_LEFT),
		btn(sdl.CONTROLLER_BUTTON_DPAD_RIGHT),
	)

	return RawReading{Axes: axes, Buttons: buttons, HasHat: true, Hat: hat}
}
