// Package wire implements the byte-exact encode/decode for the three
// channels the engine speaks to a robot controller: the DS->controller
// control datagram, the controller->DS telemetry datagram, and the
// bidirectional TCP message stream.
package wire

import "fmt"

// Mode is the operating mode advertised on the control channel and
// reported back on the telemetry channel. It occupies the low two bits
// of both ControlFlags and StatusFlags.
type Mode uint8

const (
	ModeTeleop     Mode = 0b00
	ModeTest       Mode = 0b01
	ModeAutonomous Mode = 0b10
)

func (m Mode) String() string {
	switch m {
	case ModeTeleop:
		return "Teleoperated"
	case ModeTest:
		return "Test"
	case ModeAutonomous:
		return "Autonomous"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

func modeFromBits(b byte) Mode {
	switch b & 0x3 {
	case 0b01:
		return ModeTest
	case 0b10:
		return ModeAutonomous
	default:
		return ModeTeleop
	}
}

// AllianceColor is one side of the field.
type AllianceColor uint8

const (
	AllianceRed  AllianceColor = 0
	AllianceBlue AllianceColor = 1
)

// Alliance is a (color, station) pair, station numbered 1..3.
type Alliance struct {
	Color   AllianceColor
	Station uint8
}

// ErrInvalidAlliance is returned when decoding an alliance byte outside 0..5.
var ErrInvalidAlliance = fmt.Errorf("wire: alliance byte out of range")

// Encode packs the alliance into the single wire byte: red stations are
// 0..2, blue stations are 3..5.
func (a Alliance) Encode() byte {
	base := byte(0)
	if a.Color == AllianceBlue {
		base = 3
	}
	return base + (a.Station - 1)
}

// DecodeAlliance parses an alliance byte; 6..255 is invalid.
func DecodeAlliance(b byte) (Alliance, error) {
	if b > 5 {
		return Alliance{}, fmt.Errorf("%w: %d", ErrInvalidAlliance, b)
	}
	if b < 3 {
		return Alliance{Color: AllianceRed, Station: b + 1}, nil
	}
	return Alliance{Color: AllianceBlue, Station: b - 3 + 1}, nil
}

// ControlFlags is the DS->controller status/intent byte. EStop latches:
// once set, Enabled is forced false regardless of what the caller asked for.
type ControlFlags struct {
	EStop        bool
	FMSConnected bool
	Enabled      bool
	Mode         Mode
}

func (c ControlFlags) Encode() byte {
	var b byte
	if c.EStop {
		b |= 1 << 7
	}
	if c.FMSConnected {
		b |= 1 << 3
	}
	if c.Enabled && !c.EStop {
		b |= 1 << 2
	}
	b |= byte(c.Mode) & 0x3
	return b
}

func DecodeControlFlags(b byte) ControlFlags {
	return ControlFlags{
		EStop:        b&(1<<7) != 0,
		FMSConnected: b&(1<<3) != 0,
		Enabled:      b&(1<<2) != 0,
		Mode:         modeFromBits(b),
	}
}

// RequestFlags are one-shot controller-directed requests, latched by the
// caller for exactly one emission.
type RequestFlags struct {
	RebootController bool
	RestartUserCode  bool
}

func (r RequestFlags) Encode() byte {
	var b byte
	if r.RebootController {
		b |= 1 << 3
	}
	if r.RestartUserCode {
		b |= 1 << 2
	}
	return b
}

// StatusFlags is the controller->DS reported state.
type StatusFlags struct {
	EStop            bool
	CodeInitializing bool
	Brownout         bool
	Enabled          bool
	Mode             Mode
}

func DecodeStatusFlags(b byte) StatusFlags {
	return StatusFlags{
		EStop:            b&(1<<7) != 0,
		CodeInitializing: b&(1<<4) != 0,
		Brownout:         b&(1<<3) != 0,
		Enabled:          b&(1<<2) != 0,
		Mode:             modeFromBits(b),
	}
}

// EncodeVoltage packs a battery voltage into (integer_part, fractional/256ths).
// Negative input clamps to zero; values >= 256 clamp to 255.
func EncodeVoltage(v float64) [2]byte {
	if v < 0 {
		v = 0
	}
	if v > 255 {
		v = 255
	}
	ip := byte(v)
	fracF := (v-float64(ip))*256 + 0.5
	frac := byte(fracF)
	if fracF >= 256 {
		frac = 0
		if ip < 255 {
			ip++
		}
	}
	return [2]byte{ip, frac}
}

// DecodeVoltage reverses EncodeVoltage.
func DecodeVoltage(b [2]byte) float64 {
	return float64(b[0]) + float64(b[1])/256.0
}

// JoystickData is one controller's axis/button/hat snapshot as placed on
// the wire: at most 12 axes, 32 buttons, 2 hats.
type JoystickData struct {
	Axes    []int8
	Buttons []bool
	Hats    []int16
}

// RumbleOutput is the controller-requested rumble intensity, decoded from
// the inbound joystick-output telemetry tag.
type RumbleOutput struct {
	Outputs     uint32
	LeftRumble  uint16
	RightRumble uint16
}

// CANMetrics is the decoded CAN-bus health tag.
type CANMetrics struct {
	UtilizationPct float32
	BusOffCount    uint32
	TxFullCount    uint32
	RxErrorCount   uint8
	TxErrorCount   uint8
}

// TelemetryData aggregates every recognized inbound telemetry tag.
type TelemetryData struct {
	CAN            CANMetrics
	PDPCurrentsAmp [16]float64
	CPUUtilization []float32
	RAMBytesUsed   uint32
	DiskBytesFree  uint32
}

// TcpMessageKind discriminates the TcpMessage tagged union.
type TcpMessageKind uint8

const (
	TcpMessageKindMessage TcpMessageKind = iota
	TcpMessageKindStdout
	TcpMessageKindError
	TcpMessageKindVersion
)

// ErrorReport is the decoded payload of an inbound stream Error message.
type ErrorReport struct {
	Timestamp float64
	Sequence  uint16
	Code      int32
	IsError   bool
	Details   string
	Location  string
	CallStack string
}

// VersionInfo is the decoded payload of an inbound stream VersionInfo message.
type VersionInfo struct {
	DeviceType byte
	DeviceID   byte
	Name       string
	Version    string
}

// TcpMessage is a decoded stream-channel message.
type TcpMessage struct {
	Kind    TcpMessageKind
	Text    string // valid for Message and Stdout
	Error   ErrorReport
	Version VersionInfo
}
