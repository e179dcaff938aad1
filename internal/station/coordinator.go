// Package station owns the Coordinator: the single authority for outbound
// control intent, the joystick slot table, and the merged RobotState
// snapshot that ties the link, input, practice and hotkey components
// together into one operator-facing surface.
package station

import (
	"context"
	"sync"
	"time"

	"github.com/openstation/engine/internal/hotkey"
	"github.com/openstation/engine/internal/input"
	"github.com/openstation/engine/internal/link"
	"github.com/openstation/engine/internal/logging"
	"github.com/openstation/engine/internal/metrics"
	"github.com/openstation/engine/internal/practice"
	"github.com/openstation/engine/internal/stationcfg"
	"github.com/openstation/engine/internal/wire"
)

// quantum is the Coordinator's own tick period: it matches the send loop's
// 20ms cadence so every snapshot reflects a control decision no more than
// one quantum stale.
const quantum = 20 * time.Millisecond

// inputPollPeriod is how often the input backend is polled for device state.
const inputPollPeriod = 5 * time.Millisecond

// Coordinator is the engine's single source of truth for outbound intent. It
// is safe for concurrent use; every command method takes the same mutex the
// quantum tick uses to assemble an outbound snapshot, so no command is ever
// torn across a send.
type Coordinator struct {
	mu sync.Mutex

	team     uint32
	useUSB   bool
	control  wire.ControlFlags
	request  wire.RequestFlags
	alliance wire.Alliance
	gameData string

	estopLatched             bool
	manualEnabled            bool
	practiceOverrideDisabled bool

	slots       *input.SlotTable
	practiceSeq *practice.Sequencer

	connected   bool
	codeRunning bool
	status      wire.StatusFlags
	voltage     float64
	data        wire.TelemetryData
	rumble      wire.RumbleOutput
	hasRumble   bool
	tripMillis  float64
	lostPackets uint32

	sendDateNext bool
	dateSent     bool

	seq uint64

	snapshots *Broadcaster[RobotState]
	stdout    *Broadcaster[string]
	tcpMsgs   *Broadcaster[wire.TcpMessage]

	linkMgr      *link.Manager
	inputBackend input.Backend
	hotkeys      *hotkey.Dispatcher

	cfg  stationcfg.Config
	now  func() time.Time
}

// Option configures a Coordinator at construction time.
type Option func(*Coordinator)

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

// New creates a Coordinator seeded from cfg, wired to the given link
// manager, input backend and hotkey dispatcher.
func New(cfg stationcfg.Config, linkMgr *link.Manager, inputBackend input.Backend, hotkeys *hotkey.Dispatcher, opts ...Option) *Coordinator {
	c := &Coordinator{
		team:         cfg.TeamNumber,
		useUSB:       cfg.UseUSB,
		alliance:     wire.Alliance{Color: wire.AllianceRed, Station: 1},
		gameData:     cfg.GameData,
		slots:        input.NewSlotTable(),
		practiceSeq:  practice.NewSequencer(cfg.PracticeTiming.ToPracticeTiming()),
		snapshots:    NewBroadcaster[RobotState](),
		stdout:       NewBroadcaster[string](),
		tcpMsgs:      NewBroadcaster[wire.TcpMessage](),
		linkMgr:      linkMgr,
		inputBackend: inputBackend,
		hotkeys:      hotkeys,
		cfg:          cfg,
		now:          time.Now,
	}
	for uuid, slot := range cfg.JoystickLocks {
		c.slots.PresetLock(uuid, slot)
	}
	for _, opt := range opts {
		opt(c)
	}
	if linkMgr != nil {
		linkMgr.SetTeam(c.team)
		linkMgr.SetUSBMode(c.useUSB)
	}
	return c
}

// === Command surface ===

// Enable clears any operator-disable override and commands the robot
// enabled; during a practice run the sequencer's next phase entry (or an
// A-Stop in Autonomous) can disable it again. It has no effect on a latched
// e-stop.
func (c *Coordinator) Enable() {
	c.mu.Lock()
	c.manualEnabled = true
	c.practiceOverrideDisabled = false
	c.mu.Unlock()
}

// Disable commands the robot disabled. While a practice run is active this
// overrides the sequencer's enable intent until Enable is called again.
func (c *Coordinator) Disable() {
	c.mu.Lock()
	c.manualEnabled = false
	c.practiceOverrideDisabled = true
	c.mu.Unlock()
}

// EStop latches an emergency stop: every subsequent outbound datagram
// carries estop=true and enabled=false until ResetEStop is called.
func (c *Coordinator) EStop() {
	c.mu.Lock()
	c.estopLatched = true
	c.manualEnabled = false
	c.mu.Unlock()
}

// ResetEStop clears a latched e-stop. The command surface does not expose
// this to hotkeys or the default UI flow; it exists for the same reason the
// underlying protocol carries a clear operation, and for tests.
func (c *Coordinator) ResetEStop() {
	c.mu.Lock()
	c.estopLatched = false
	c.mu.Unlock()
}

// SetMode changes the operating mode advertised on the control channel.
func (c *Coordinator) SetMode(mode wire.Mode) {
	c.mu.Lock()
	c.control.Mode = mode
	c.mu.Unlock()
}

// SetTeam updates the cached team number and, if a link manager is wired,
// its resolved address target.
func (c *Coordinator) SetTeam(team uint32) {
	c.mu.Lock()
	c.team = team
	c.mu.Unlock()
	if c.linkMgr != nil {
		c.linkMgr.SetTeam(team)
	}
}

// SetAlliance updates the alliance color/station advertised on the control
// channel.
func (c *Coordinator) SetAlliance(a wire.Alliance) {
	c.mu.Lock()
	c.alliance = a
	c.mu.Unlock()
}

// SetGameData sets the short game-specific data string sent over the stream
// channel. Values longer than 3 bytes are truncated.
func (c *Coordinator) SetGameData(data string) {
	if len(data) > 3 {
		data = data[:3]
	}
	c.mu.Lock()
	c.gameData = data
	c.mu.Unlock()
	if c.linkMgr != nil {
		if frame, err := wire.EncodeGameDataFrame(data); err == nil {
			c.linkMgr.SendTcp(frame)
		}
	}
}

// SetUSBMode toggles whether address resolution prefers the USB gadget NIC.
func (c *Coordinator) SetUSBMode(usb bool) {
	c.mu.Lock()
	c.useUSB = usb
	c.mu.Unlock()
	if c.linkMgr != nil {
		c.linkMgr.SetUSBMode(usb)
	}
}

// RebootController latches a one-shot reboot request, emitted on the very
// next outbound datagram and cleared immediately after.
func (c *Coordinator) RebootController() {
	c.mu.Lock()
	c.request.RebootController = true
	c.mu.Unlock()
}

// RestartUserCode latches a one-shot restart-code request.
func (c *Coordinator) RestartUserCode() {
	c.mu.Lock()
	c.request.RestartUserCode = true
	c.mu.Unlock()
}

// StartPractice begins a drill run from Idle.
func (c *Coordinator) StartPractice() {
	c.mu.Lock()
	c.practiceSeq.Start(c.now())
	c.practiceOverrideDisabled = false
	c.mu.Unlock()
}

// StopPractice ends any in-progress drill and disables the robot.
func (c *Coordinator) StopPractice() {
	c.mu.Lock()
	c.practiceSeq.Stop()
	c.manualEnabled = false
	c.mu.Unlock()
}

// SetPracticeTiming updates the phase durations used by subsequent runs.
func (c *Coordinator) SetPracticeTiming(t practice.Timing) {
	c.mu.Lock()
	c.practiceSeq.SetTiming(t)
	c.mu.Unlock()
}

// AStop asserts an assistive stop, forwarded to the practice sequencer; it
// only takes effect during Autonomous.
func (c *Coordinator) AStop() {
	c.mu.Lock()
	c.practiceSeq.AStop()
	c.mu.Unlock()
}

// ReorderJoysticks replaces the slot table according to the given UUID
// ordering.
func (c *Coordinator) ReorderJoysticks(order []string) {
	c.mu.Lock()
	c.slots.Reorder(order)
	c.mu.Unlock()
}

// LockJoystick pins uuid to the given slot, moving it there if connected
// elsewhere or reserving the slot in advance if it hasn't appeared yet.
func (c *Coordinator) LockJoystick(uuid string, slot int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slots.LockAt(uuid, slot)
}

// UnlockJoystick releases uuid's slot reservation.
func (c *Coordinator) UnlockJoystick(uuid string) {
	c.mu.Lock()
	c.slots.Unlock(uuid)
	c.mu.Unlock()
}

// JoystickLocks returns the current uuid-to-slot lock reservations, for a
// caller to persist back into the saved config document.
func (c *Coordinator) JoystickLocks() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slots.Locks()
}

// RescanJoysticks is a no-op against the slot table itself (the next input
// poll naturally re-syncs); it exists as a distinct command so the UI and
// the F1 hotkey have something explicit to invoke, and so a future backend
// that needs an explicit re-enumeration trigger has a hook to extend.
func (c *Coordinator) RescanJoysticks() {
	logging.L().Info("joysticks_rescan_requested")
}

// === Event surface ===

// Snapshots subscribes to the coalescing RobotState broadcast.
func (c *Coordinator) Snapshots() (<-chan RobotState, func()) { return c.snapshots.Subscribe() }

// Stdout subscribes to forwarded robot stdout text.
func (c *Coordinator) Stdout() (<-chan string, func()) { return c.stdout.Subscribe() }

// TcpMessages subscribes to the remaining (non-stdout) stream message kinds.
func (c *Coordinator) TcpMessages() (<-chan wire.TcpMessage, func()) { return c.tcpMsgs.Subscribe() }

// === Run loop ===

// Run drives the Coordinator's quantum tick, input poll, telemetry
// consumption and hotkey dispatch until ctx is canceled. It does not own
// the link manager's or hotkey dispatcher's own Run loops; callers start those
// separately and pass ctx through so everything unwinds together.
func (c *Coordinator) Run(ctx context.Context) {
	var wg sync.WaitGroup

	if c.inputBackend != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.inputPollLoop(ctx)
		}()
	}

	if c.linkMgr != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.telemetryLoop(ctx)
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.tcpMessageLoop(ctx)
		}()
	}

	if c.hotkeys != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.hotkeyLoop(ctx)
		}()
	}

	c.quantumLoop(ctx)
	wg.Wait()
}

func (c *Coordinator) quantumLoop(ctx context.Context) {
	ticker := time.NewTicker(quantum)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.publishFinal()
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

func (c *Coordinator) tick() {
	now := c.now()

	c.mu.Lock()
	phaseBefore := c.practiceSeq.Phase()
	tickResult := c.practiceSeq.Tick(now)
	phaseChanged := tickResult.Phase != phaseBefore
	if phaseChanged {
		metrics.ObservePracticePhase(tickResult.Phase.String())
	}
	// Apply the sequencer's intent on every tick it's running, and also on
	// the tick a phase transition lands on Done/Idle: Tick() reports
	// ShouldDisable on that same call, but IsRunning() is already false by
	// then, so gating on IsRunning() alone would silently drop the disable.
	if c.practiceSeq.IsRunning() || phaseChanged {
		if tickResult.Mode != nil {
			c.control.Mode = *tickResult.Mode
		}
		switch {
		case c.practiceOverrideDisabled || tickResult.ShouldDisable:
			c.manualEnabled = false
		case tickResult.ShouldEnable:
			c.manualEnabled = true
		}
	}

	enabled := c.manualEnabled && !c.estopLatched
	c.control.Enabled = enabled
	c.control.EStop = c.estopLatched

	var extra [][]byte
	if c.sendDateNext {
		extra = append(extra, wire.EncodeDateTimeSection(now), wire.EncodeTimezoneSection(now.Location().String()))
		c.sendDateNext = false
		c.dateSent = true
	}
	if c.practiceSeq.IsRunning() {
		extra = append(extra, wire.EncodeCountdownSection(float32(tickResult.Remaining.Seconds())))
	}

	cs := link.ControlState{
		Control:       c.control,
		Request:       c.request,
		Alliance:      c.alliance,
		Joysticks:     c.slots.JoystickData(),
		ExtraSections: extra,
	}
	c.request = wire.RequestFlags{} // one-shot: cleared immediately after being read

	snap := c.buildSnapshotLocked(tickResult)
	c.mu.Unlock()

	if c.linkMgr != nil {
		c.linkMgr.SetControl(cs)
	}
	c.snapshots.Publish(snap)
}

func (c *Coordinator) publishFinal() {
	c.mu.Lock()
	c.manualEnabled = false
	c.control.Enabled = false
	if c.linkMgr != nil {
		cs := link.ControlState{Control: c.control, Alliance: c.alliance, Joysticks: c.slots.JoystickData()}
		c.mu.Unlock()
		c.linkMgr.SetControl(cs)
		return
	}
	c.mu.Unlock()
}

func (c *Coordinator) buildSnapshotLocked(tick practice.Tick) RobotState {
	c.seq++
	return RobotState{
		Sequence:           c.seq,
		Connected:          c.connected,
		CodeRunning:        c.codeRunning,
		Control:            c.control,
		Status:             c.status,
		Voltage:            c.voltage,
		Data:               c.data,
		Slots:              c.slots.Slots(),
		JoystickOutputs:    c.rumble,
		HasJoystickOutputs: c.hasRumble,
		Practice: PracticeState{
			Running:   c.practiceSeq.IsRunning(),
			Phase:     c.practiceSeq.Phase(),
			Elapsed:   tick.Elapsed,
			Remaining: tick.Remaining,
		},
		TripTimeMillis: c.tripMillis,
		LostPackets:    c.lostPackets,
		Team:           c.team,
		Alliance:       c.alliance,
	}
}

func (c *Coordinator) inputPollLoop(ctx context.Context) {
	ticker := time.NewTicker(inputPollPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pollInput()
		}
	}
}

func (c *Coordinator) pollInput() {
	devices, err := c.inputBackend.Poll()
	if err != nil {
		logging.L().Warn("input_poll_error", "error", err)
		metrics.IncError(metrics.ErrInputPoll)
		return
	}

	c.mu.Lock()
	before := c.slots.Slots()
	c.slots.Sync(devices)
	after := c.slots.Slots()

	disconnectedNonZero := false
	for i := range before {
		b, a := before[i], after[i]
		if b.UUID == "" || !b.Connected {
			continue
		}
		stillThere := a.UUID == b.UUID && a.Connected
		if !stillThere && hasNonZeroInput(b.Reading) {
			disconnectedNonZero = true
			break
		}
	}
	if disconnectedNonZero && c.manualEnabled {
		c.manualEnabled = false
		c.practiceOverrideDisabled = true
		logging.L().Warn("joystick_disconnect_safety_disable")
		metrics.IncJoystickDisconnectSafetyTrip()
	}
	c.mu.Unlock()
}

func hasNonZeroInput(r input.RawReading) bool {
	const epsilon = 1.0 / 128.0
	for _, ax := range r.Axes {
		if ax > epsilon || ax < -epsilon {
			return true
		}
	}
	for _, b := range r.Buttons {
		if b {
			return true
		}
	}
	if r.HasHat && r.Hat != input.HatNone {
		return true
	}
	return false
}

func (c *Coordinator) telemetryLoop(ctx context.Context) {
	telemetry := c.linkMgr.Telemetry()
	states := c.linkMgr.States()
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-states:
			if !ok {
				return
			}
			c.mu.Lock()
			wasConnected := c.connected
			c.connected = s == link.StateConnected || s == link.StateCodeRunning
			c.codeRunning = s == link.StateCodeRunning
			if c.connected && !wasConnected {
				c.dateSent = false
				c.hasRumble = false
			}
			c.mu.Unlock()
		case tel, ok := <-telemetry:
			if !ok {
				return
			}
			c.mu.Lock()
			c.status = tel.Status
			c.voltage = tel.Voltage
			c.data = tel.Data
			if tel.HasRumble {
				c.rumble = tel.Rumble
				c.hasRumble = true
			}
			c.tripMillis = c.linkMgr.TripTimeMillis()
			c.lostPackets = c.linkMgr.LostPackets()
			if tel.RequestDate && !c.dateSent {
				c.sendDateNext = true
			}
			c.mu.Unlock()
		}
	}
}

func (c *Coordinator) tcpMessageLoop(ctx context.Context) {
	messages := c.linkMgr.TcpMessages()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if msg.Kind == wire.TcpMessageKindStdout {
				c.stdout.Publish(msg.Text)
				continue
			}
			c.tcpMsgs.Publish(msg)
		}
	}
}

func (c *Coordinator) hotkeyLoop(ctx context.Context) {
	for {
		action, ok := c.hotkeys.Next(ctx)
		if !ok {
			return
		}
		metrics.ObserveHotkeyAction(action.String())
		switch action {
		case hotkey.ActionEStop:
			c.EStop()
		case hotkey.ActionDisable:
			c.Disable()
		case hotkey.ActionEnable:
			c.mu.Lock()
			rejected := !c.connected || !c.codeRunning || c.estopLatched
			c.mu.Unlock()
			if rejected {
				logging.L().Warn("hotkey_enable_rejected")
				continue
			}
			c.Enable()
		case hotkey.ActionAStop:
			c.AStop()
		case hotkey.ActionRescanDevices:
			c.RescanJoysticks()
		}
	}
}
