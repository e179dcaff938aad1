package wire

import "testing"

func TestFrameReaderCompleteFrame(t *testing.T) {
	var r FrameReader
	frame, err := EncodeFrame(StreamTagStdout, []byte("test"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	r.Feed(frame)
	tag, payload, ok := r.Next()
	if !ok {
		t.Fatalf("expected a complete frame")
	}
	if tag != StreamTagStdout || string(payload) != "test" {
		t.Fatalf("got tag=0x%02x payload=%q", tag, payload)
	}
	if _, _, ok := r.Next(); ok {
		t.Fatalf("expected no more frames")
	}
}

func TestFrameReaderPartialByteAtATime(t *testing.T) {
	var r FrameReader
	frame, err := EncodeFrame(StreamTagStdout, []byte("hi!\n"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	frame = append(frame, 'x') // trailing byte belonging to the next frame
	for _, b := range frame {
		r.Feed([]byte{b})
	}
	tag, payload, ok := r.Next()
	if !ok {
		t.Fatalf("expected a complete frame")
	}
	if tag != StreamTagStdout || string(payload) != "hi!\n" {
		t.Fatalf("got tag=0x%02x payload=%q", tag, payload)
	}
	// The trailing 'x' must not have leaked into the decoded payload, and
	// must still be sitting in the reader's buffer for the next frame.
	if len(r.buf) != 1 || r.buf[0] != 'x' {
		t.Fatalf("leftover buffer = %v, want [x]", r.buf)
	}
}

func TestFrameReaderMultipleFrames(t *testing.T) {
	var r FrameReader
	f1, _ := EncodeFrame(StreamTagStdout, []byte("first"))
	f2, _ := EncodeFrame(StreamTagMessage, []byte("second"))
	r.Feed(append(append([]byte{}, f1...), f2...))

	tag1, p1, ok := r.Next()
	if !ok || tag1 != StreamTagStdout || string(p1) != "first" {
		t.Fatalf("frame 1 mismatch: tag=0x%02x payload=%q ok=%v", tag1, p1, ok)
	}
	tag2, p2, ok := r.Next()
	if !ok || tag2 != StreamTagMessage || string(p2) != "second" {
		t.Fatalf("frame 2 mismatch: tag=0x%02x payload=%q ok=%v", tag2, p2, ok)
	}
}

func TestParseStdoutAndMessage(t *testing.T) {
	msg, ok := ParseStreamMessage(StreamTagStdout, []byte("Robot output"))
	if !ok || msg.Kind != TcpMessageKindStdout || msg.Text != "Robot output" {
		t.Fatalf("unexpected stdout parse: %+v ok=%v", msg, ok)
	}
	msg, ok = ParseStreamMessage(StreamTagMessage, []byte("DS message"))
	if !ok || msg.Kind != TcpMessageKindMessage || msg.Text != "DS message" {
		t.Fatalf("unexpected message parse: %+v ok=%v", msg, ok)
	}
}

func TestParseVersionInfo(t *testing.T) {
	payload := []byte{0x01, 0x02, 4, 'n', 'a', 'm', 'e', 3, '1', '.', '2'}
	msg, ok := ParseStreamMessage(StreamTagVersion, payload)
	if !ok {
		t.Fatalf("expected parse ok")
	}
	if msg.Version.DeviceType != 1 || msg.Version.DeviceID != 2 {
		t.Fatalf("unexpected device ids: %+v", msg.Version)
	}
	if msg.Version.Name != "name" || msg.Version.Version != "1.2" {
		t.Fatalf("unexpected name/version: %+v", msg.Version)
	}
}

func TestGameDataFrame(t *testing.T) {
	frame, err := EncodeGameDataFrame("LRL")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if frame[2] != StreamTagGameData {
		t.Fatalf("tag = 0x%02x, want 0x%02x", frame[2], StreamTagGameData)
	}
	if string(frame[3:]) != "LRL" {
		t.Fatalf("payload = %q, want LRL", frame[3:])
	}
}

func TestJoystickDescriptorFrame(t *testing.T) {
	frame, err := EncodeJoystickDescriptorFrame(0, "Gamepad", 6, 12, 1)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if frame[2] != StreamTagJoystickDescriptor {
		t.Fatalf("tag = 0x%02x", frame[2])
	}
	if frame[3] != 0 {
		t.Fatalf("slot = %d, want 0", frame[3])
	}
}
