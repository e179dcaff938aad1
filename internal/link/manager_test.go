package link

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/openstation/engine/internal/wire"
)

func mustListenUDP(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	return conn
}

// encodeTelemetry hand-builds the 8-byte telemetry header the codec expects,
// with no trailing tagged sections.
func encodeTelemetry(seq uint16, status byte) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint16(b[0:2], seq)
	b[2] = wire.CommVersion
	b[3] = status
	b[4] = 0 // trace
	b[5] = 12
	b[6] = 0
	b[7] = 0
	return b
}

func waitFor(t *testing.T, deadline time.Time, check func() bool) {
	t.Helper()
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestManagerSendsControlAndReceivesTelemetry(t *testing.T) {
	robotRecv := mustListenUDP(t) // stands in for the roboRIO's 1110 listener
	defer robotRecv.Close()
	dsRecvAddr := mustListenUDP(t)
	dsPort := dsRecvAddr.LocalAddr().(*net.UDPAddr).Port
	dsRecvAddr.Close() // free the port; the manager rebinds it itself

	robotPort := robotRecv.LocalAddr().(*net.UDPAddr).Port

	m := NewManager(9999,
		WithResolver(fakeResolver{ip: net.IPv4(127, 0, 0, 1), ok: true}),
		WithPorts(dsPort, robotPort, 0))
	m.SetControl(ControlState{Control: wire.ControlFlags{Enabled: true, Mode: wire.ModeTeleop}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- m.Run(ctx) }()

	buf := make([]byte, 2048)
	if err := robotRecv.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	n, from, err := robotRecv.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("robot never received a control datagram: %v", err)
	}
	if n < 6 {
		t.Fatalf("control datagram too short: %d bytes", n)
	}
	cf := wire.DecodeControlFlags(buf[3])
	if !cf.Enabled || cf.Mode != wire.ModeTeleop {
		t.Fatalf("decoded control flags = %+v, want enabled teleop", cf)
	}

	telemetry := encodeTelemetry(1, 0) // CodeInitializing clear -> running
	if _, err := robotRecv.WriteToUDP(telemetry, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: dsPort}); err != nil {
		t.Fatalf("reply telemetry: %v", err)
	}
	_ = from

	select {
	case tel := <-m.Telemetry():
		if tel.Sequence != 1 {
			t.Fatalf("telemetry sequence = %d, want 1", tel.Sequence)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("manager never delivered telemetry")
	}

	waitFor(t, time.Now().Add(time.Second), func() bool { return m.State() == StateCodeRunning })

	cancel()
	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestManagerReconnectsAfterInboundTimeout(t *testing.T) {
	robotRecv := mustListenUDP(t)
	defer robotRecv.Close()
	dsRecvAddr := mustListenUDP(t)
	dsPort := dsRecvAddr.LocalAddr().(*net.UDPAddr).Port
	dsRecvAddr.Close()
	robotPort := robotRecv.LocalAddr().(*net.UDPAddr).Port

	m := NewManager(1234,
		WithResolver(fakeResolver{ip: net.IPv4(127, 0, 0, 1), ok: true}),
		WithPorts(dsPort, robotPort, 0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- m.Run(ctx) }()

	// Reply exactly once so the session crosses into StateConnected, then go
	// silent so the 1000ms inbound timeout fires and the manager reconnects.
	buf := make([]byte, 2048)
	if err := robotRecv.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	if _, _, err := robotRecv.ReadFromUDP(buf); err == nil {
		telemetry := encodeTelemetry(1, 0x10) // CodeInitializing set -> Connected, not CodeRunning
		_, _ = robotRecv.WriteToUDP(telemetry, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: dsPort})
	}

	states := m.States()
	seen := map[State]bool{}
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && !seen[StateDisconnected] {
		select {
		case s := <-states:
			seen[s] = true
		case <-time.After(100 * time.Millisecond):
		}
	}
	if !seen[StateConnected] {
		t.Fatalf("never observed StateConnected, saw %v", seen)
	}
	if !seen[StateDisconnected] {
		t.Fatalf("never reconnected after inbound silence, saw %v", seen)
	}

	cancel()
	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestManagerStreamChannelRoundTrips(t *testing.T) {
	robotRecv := mustListenUDP(t)
	defer robotRecv.Close()
	dsRecvAddr := mustListenUDP(t)
	dsPort := dsRecvAddr.LocalAddr().(*net.UDPAddr).Port
	dsRecvAddr.Close()
	robotPort := robotRecv.LocalAddr().(*net.UDPAddr).Port

	listener, err := net.ListenTCP("tcp4", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("listen tcp: %v", err)
	}
	defer listener.Close()
	streamPort := listener.Addr().(*net.TCPAddr).Port

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := listener.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	m := NewManager(4321,
		WithResolver(fakeResolver{ip: net.IPv4(127, 0, 0, 1), ok: true}),
		WithPorts(dsPort, robotPort, streamPort))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()

	var conn net.Conn
	select {
	case conn = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("stream channel never connected")
	}
	defer conn.Close()

	frame, err := wire.EncodeFrame(wire.StreamTagStdout, []byte("hello"))
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	if _, err := conn.Write(frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	select {
	case msg := <-m.TcpMessages():
		if msg.Kind != wire.TcpMessageKindStdout || msg.Text != "hello" {
			t.Fatalf("got %+v, want stdout \"hello\"", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("manager never delivered the stream message")
	}

	out, err := wire.EncodeGameDataFrame("abc")
	if err != nil {
		t.Fatalf("encode game data: %v", err)
	}
	if !m.SendTcp(out) {
		t.Fatal("SendTcp reported dropped with room in the queue")
	}

	readBuf := make([]byte, len(out))
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	if _, err := conn.Read(readBuf); err != nil {
		t.Fatalf("never observed the outbound frame: %v", err)
	}
}
