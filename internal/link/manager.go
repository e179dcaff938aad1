// Package link owns the wire-level conversation with the robot: address
// resolution, the 50Hz control datagram send loop with drift correction, the
// 1000ms-timeout telemetry receive loop, and the best-effort TCP stream
// channel, all behind reconnect/backoff so a dropped link heals itself.
package link

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openstation/engine/internal/logging"
	"github.com/openstation/engine/internal/metrics"
	"github.com/openstation/engine/internal/transport"
	"github.com/openstation/engine/internal/wire"
)

// State is the connection's coarse lifecycle stage.
type State int

const (
	StateDisconnected State = iota
	StateResolving
	StateConnected
	StateCodeRunning
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateResolving:
		return "resolving"
	case StateConnected:
		return "connected"
	case StateCodeRunning:
		return "code_running"
	default:
		return "unknown"
	}
}

// sendPeriod is the control datagram cadence.
const sendPeriod = 20 * time.Millisecond

// inboundTimeout is how long the link waits for a telemetry datagram before
// declaring the connection dead and cycling back through reconnect/backoff.
const inboundTimeout = 1 * time.Second

// tcpDialTimeout bounds a single stream-channel connect attempt.
const tcpDialTimeout = 3 * time.Second

// ControlState is the latest outbound intent: what the coordinator wants
// sent on the next control datagram.
type ControlState struct {
	Control   wire.ControlFlags
	Request   wire.RequestFlags
	Alliance  wire.Alliance
	Joysticks []wire.JoystickData
	// ExtraSections carries pre-encoded tagged sections beyond the per-slot
	// joystick data: the one-shot date/timezone reply and the practice
	// countdown, built by the coordinator since only it knows when they
	// apply.
	ExtraSections [][]byte
}

// Manager runs the UDP control/telemetry exchange and the TCP stream channel
// for one roboRIO target, reconnecting whenever either drops: the UDP session
// with backoff, the stream channel after a fixed retry delay.
type Manager struct {
	team        uint32
	useUSB      bool
	resolver    Resolver
	now         func() time.Time
	receivePort int
	sendPort    int
	streamPort  int

	mu        sync.Mutex
	state     State
	control   ControlState
	trip      TripTimeEstimator
	lost      LostPacketTracker
	sendTimes SendTimestamps

	telemetryCh chan wire.Telemetry
	tcpInCh     chan wire.TcpMessage
	tcpTx       atomic.Pointer[transport.AsyncTx[[]byte]]
	stateCh     chan State
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithResolver overrides the mDNS resolver (tests inject a fake).
func WithResolver(r Resolver) Option { return func(m *Manager) { m.resolver = r } }

// WithClock overrides the time source used for trip-time bookkeeping.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// WithPorts overrides the receive/send/stream ports, which otherwise default
// to the roboRIO protocol's fixed 1150/1110/1740. Tests bind ephemeral ports
// instead of the real, often-unavailable-in-CI, fixed ones.
func WithPorts(receive, send, stream int) Option {
	return func(m *Manager) {
		m.receivePort = receive
		m.sendPort = send
		m.streamPort = stream
	}
}

// NewManager creates a Manager for the given team number.
func NewManager(team uint32, opts ...Option) *Manager {
	m := &Manager{
		team:        team,
		resolver:    ZeroconfResolver{},
		now:         time.Now,
		receivePort: 1150,
		sendPort:    DatagramPort,
		streamPort:  StreamPort,
		control:     ControlState{Alliance: wire.Alliance{Color: wire.AllianceRed, Station: 1}},
		telemetryCh: make(chan wire.Telemetry, 8),
		tcpInCh:     make(chan wire.TcpMessage, 32),
		stateCh:     make(chan State, 4),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetTeam updates the team number. It takes effect at the next session's
// address resolution; an active session is not dropped and keeps talking to
// its current target until it ends.
func (m *Manager) SetTeam(team uint32) {
	m.mu.Lock()
	m.team = team
	m.mu.Unlock()
}

// SetUSBMode toggles whether resolution prefers the USB gadget address.
func (m *Manager) SetUSBMode(usb bool) {
	m.mu.Lock()
	m.useUSB = usb
	m.mu.Unlock()
}

// SetControl replaces the outbound intent sent on the next control
// datagram.
func (m *Manager) SetControl(cs ControlState) {
	m.mu.Lock()
	m.control = cs
	m.mu.Unlock()
}

func (m *Manager) snapshotControl() ControlState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.control
}

func (m *Manager) targetTeam() (uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.team, m.useUSB
}

// State reports the current lifecycle stage.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	changed := m.state != s
	m.state = s
	m.mu.Unlock()
	if changed {
		metrics.ObserveStateTransition(s.String())
		select {
		case m.stateCh <- s:
		default:
		}
	}
}

// TripTimeMillis reports the current EWMA round-trip estimate.
func (m *Manager) TripTimeMillis() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trip.Milliseconds()
}

// LostPackets reports the cumulative inbound sequence-gap count.
func (m *Manager) LostPackets() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lost.Total()
}

// Telemetry streams decoded inbound datagrams.
func (m *Manager) Telemetry() <-chan wire.Telemetry { return m.telemetryCh }

// TcpMessages streams decoded inbound stream-channel frames.
func (m *Manager) TcpMessages() <-chan wire.TcpMessage { return m.tcpInCh }

// States streams connection lifecycle transitions.
func (m *Manager) States() <-chan State { return m.stateCh }

// SendTcp enqueues a pre-encoded outbound stream frame on the current stream
// connection, dropping it (and reporting false) if there is no connection or
// its write queue is saturated rather than blocking the caller.
func (m *Manager) SendTcp(frame []byte) bool {
	tx := m.tcpTx.Load()
	if tx == nil {
		logging.L().Warn("link_tcp_send_dropped_no_connection")
		return false
	}
	if err := tx.SendFrame(frame); err != nil {
		logging.L().Warn("link_tcp_send_dropped", "error", err)
		return false
	}
	return true
}

// Run drives reconnect/backoff forever until ctx is canceled.
func (m *Manager) Run(ctx context.Context) error {
	var attempt uint32
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := m.runSession(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.setState(StateDisconnected)
		if err != nil {
			logging.L().Warn("link_session_ended", "error", err, "attempt", attempt)
		}
		delay := backoffDelay(attempt)
		attempt++
		metrics.IncReconnectAttempt()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (m *Manager) runSession(ctx context.Context) error {
	m.setState(StateResolving)
	team, useUSB := m.targetTeam()
	ip := ResolveAddress(ctx, team, useUSB, m.resolver)

	recvConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: m.receivePort})
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrBind, err)
		metrics.IncError(mapErrToMetric(wrap))
		return fmt.Errorf("link: bind receive socket: %w", err)
	}
	defer recvConn.Close()

	logging.L().Info("link_session_starting", "target", hostPort(ip, m.sendPort))
	sendConn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: ip, Port: m.sendPort})
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrSend, err)
		metrics.IncError(mapErrToMetric(wrap))
		return fmt.Errorf("link: dial send socket: %w", err)
	}
	defer sendConn.Close()

	// Stay in StateResolving until recvLoop parses the first inbound
	// datagram: Connected/CodeRunning is a liveness claim, not a dial
	// result, so a robot that never answers must never be reported
	// connected.
	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.sendLoop(sessCtx, sendConn)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		m.tcpLoop(sessCtx, ip)
	}()

	err = m.recvLoop(sessCtx, recvConn)
	cancel()
	wg.Wait()
	return err
}

func (m *Manager) sendLoop(ctx context.Context, conn *net.UDPConn) {
	var sequence uint16
	ideal := m.now()
	timer := time.NewTimer(sendPeriod)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// One final datagram with enabled forced off, so the robot is
			// left disabled when the session or the engine shuts down.
			cs := m.snapshotControl()
			cs.Control.Enabled = false
			packet := wire.DatagramCodec{}.EncodeControl(sequence, cs.Control, wire.RequestFlags{}, cs.Alliance)
			_, _ = conn.Write(packet)
			return
		case <-timer.C:
			now := m.now()
			if isLate(ideal, now) {
				logging.L().Debug("link_send_tick_late", "by", now.Sub(ideal))
			}
			cs := m.snapshotControl()
			sections := append(buildJoystickSections(cs.Joysticks), cs.ExtraSections...)
			packet := wire.DatagramCodec{}.EncodeControl(sequence, cs.Control, cs.Request, cs.Alliance, sections...)
			if _, err := conn.Write(packet); err != nil {
				logging.L().Warn("link_send_error", "error", err)
				wrap := fmt.Errorf("%w: %v", ErrSend, err)
				metrics.IncError(mapErrToMetric(wrap))
			} else {
				metrics.IncDatagramTx()
				m.mu.Lock()
				m.sendTimes.Record(sequence, now)
				m.mu.Unlock()
			}
			sequence++
			ideal = nextTick(ideal, sendPeriod)
			timer.Reset(max(0, ideal.Sub(m.now())))
		}
	}
}

func buildJoystickSections(joysticks []wire.JoystickData) [][]byte {
	sections := make([][]byte, len(joysticks))
	for i, j := range joysticks {
		sections[i] = wire.EncodeJoystickSection(j)
	}
	return sections
}

func max(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

// tcpLoop owns the best-effort stream channel for one UDP session's
// lifetime: it connects, retries on failure with a fixed delay (the stream
// channel is a convenience, not load-bearing, so it does not share the
// control loop's backoff schedule), and shuttles frames in both directions
// until the session ends.
func (m *Manager) tcpLoop(ctx context.Context, ip net.IP) {
	for ctx.Err() == nil {
		conn, err := net.DialTimeout("tcp4", hostPort(ip, m.streamPort), tcpDialTimeout)
		if err != nil {
			wrap := fmt.Errorf("%w: %v", ErrTCPConnect, err)
			metrics.IncError(mapErrToMetric(wrap))
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
			continue
		}
		m.runTcpConn(ctx, conn)
		conn.Close()
	}
}

// runTcpConn services one accepted stream connection: outbound frames fan in
// through an AsyncTx worker (so SendTcp never blocks its caller), while reads
// run synchronously until the connection dies in either direction.
func (m *Manager) runTcpConn(ctx context.Context, conn net.Conn) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	tx := transport.NewAsyncTx[[]byte](connCtx, 32, func(frame []byte) error {
		_, err := conn.Write(frame)
		return err
	}, transport.Hooks[[]byte]{
		OnError: func(err error) {
			logging.L().Warn("link_tcp_write_error", "error", err)
			wrap := fmt.Errorf("%w: %v", ErrTCPWrite, err)
			metrics.IncError(mapErrToMetric(wrap))
			cancel()
		},
		OnDrop: func() error {
			metrics.IncTcpDropped()
			return errors.New("link: stream write queue full")
		},
	})
	m.tcpTx.Store(tx)
	defer func() {
		m.tcpTx.CompareAndSwap(tx, nil)
		tx.Close()
	}()

	_ = m.tcpReadLoop(connCtx, conn)
}

func (m *Manager) tcpReadLoop(ctx context.Context, conn net.Conn) error {
	var reader wire.FrameReader
	buf := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := conn.SetReadDeadline(m.now().Add(5 * time.Second)); err != nil {
			return err
		}
		n, err := conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			wrap := fmt.Errorf("%w: %v", ErrTCPRead, err)
			metrics.IncError(mapErrToMetric(wrap))
			return err
		}
		reader.Feed(buf[:n])
		for {
			tag, payload, ok := reader.Next()
			if !ok {
				break
			}
			msg, ok := wire.ParseStreamMessage(tag, payload)
			if !ok {
				metrics.IncDecodeError()
				continue
			}
			select {
			case m.tcpInCh <- msg:
			default:
				logging.L().Warn("link_tcp_message_dropped")
				metrics.IncTcpDropped()
			}
		}
	}
}

func (m *Manager) recvLoop(ctx context.Context, conn *net.UDPConn) error {
	buf := make([]byte, 2048)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := conn.SetReadDeadline(m.now().Add(inboundTimeout)); err != nil {
			return fmt.Errorf("link: set read deadline: %w", err)
		}
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return errors.New("link: no telemetry received within timeout")
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			wrap := fmt.Errorf("%w: %v", ErrReceive, err)
			metrics.IncError(mapErrToMetric(wrap))
			return fmt.Errorf("link: receive: %w", err)
		}
		tel, err := wire.DatagramCodec{}.DecodeTelemetry(buf[:n])
		if err != nil {
			logging.L().Warn("link_decode_error", "error", err)
			metrics.IncDecodeError()
			continue
		}
		metrics.IncDatagramRx()
		recvAt := m.now()
		m.mu.Lock()
		m.lost.Observe(tel.Sequence)
		if sentAt, ok := m.sendTimes.Lookup(tel.Sequence); ok {
			m.trip.Observe(recvAt.Sub(sentAt))
		}
		lost, trip := m.lost.Total(), m.trip.Milliseconds()
		m.mu.Unlock()
		metrics.SetLostPackets(lost)
		metrics.SetTripTimeMillis(trip)
		if tel.Status.CodeInitializing {
			m.setState(StateConnected)
		} else {
			m.setState(StateCodeRunning)
		}
		select {
		case m.telemetryCh <- tel:
		default:
			logging.L().Warn("link_telemetry_dropped")
			metrics.IncTelemetryDropped()
		}
	}
}
