package gdbserver

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"testing"
	"time"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

type fakeContinue struct {
	cancelled chan struct{}
	info      StopInfo
}

func newFakeContinue() *fakeContinue {
	return &fakeContinue{cancelled: make(chan struct{})}
}

func (f *fakeContinue) Cancel() error {
	close(f.cancelled)
	return nil
}

func (f *fakeContinue) Await(ctx context.Context) (StopInfo, error) {
	<-f.cancelled
	return f.info, nil
}

type fakeTarget struct {
	desc        TargetDescription
	regs        []byte
	mem         map[uint64]byte
	lastBp      []string
	monitorFunc func(args []string) (string, error)
	continueFn  func() (ContinueHandle, error)
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{
		desc: ARMv4T,
		regs: make([]byte, 4*len(ARMv4T.Regs)),
		mem:  make(map[uint64]byte),
	}
}

func (f *fakeTarget) Description() TargetDescription { return f.desc }

func (f *fakeTarget) ReadRegisters(ctx context.Context) ([]byte, error) {
	out := make([]byte, len(f.regs))
	copy(out, f.regs)
	return out, nil
}

func (f *fakeTarget) WriteRegisters(ctx context.Context, raw []byte) error {
	copy(f.regs, raw)
	return nil
}

func (f *fakeTarget) ReadMemory(ctx context.Context, addr uint64, length int) ([]byte, error) {
	out := make([]byte, length)
	for i := 0; i < length; i++ {
		out[i] = f.mem[addr+uint64(i)]
	}
	return out, nil
}

func (f *fakeTarget) WriteMemory(ctx context.Context, addr uint64, data []byte) error {
	for i, b := range data {
		f.mem[addr+uint64(i)] = b
	}
	return nil
}

func (f *fakeTarget) SetBreakpoint(ctx context.Context, kind BreakpointKind, addr uint64, length int) error {
	f.lastBp = []string{"set"}
	return nil
}

func (f *fakeTarget) ClearBreakpoint(ctx context.Context, kind BreakpointKind, addr uint64, length int) error {
	f.lastBp = []string{"clear"}
	return nil
}

func (f *fakeTarget) Continue(ctx context.Context) (ContinueHandle, error) {
	if f.continueFn != nil {
		return f.continueFn()
	}
	return newFakeContinue(), nil
}

func (f *fakeTarget) Step(ctx context.Context) (StopInfo, error) {
	return StopInfo{Signal: 5, Reason: "step"}, nil
}

func (f *fakeTarget) Monitor(ctx context.Context, args []string) (string, error) {
	if f.monitorFunc != nil {
		return f.monitorFunc(args)
	}
	return "", nil
}

func TestChecksumFrameRoundTrip(t *testing.T) {
	payload := []byte("g")
	framed := framePacket(payload)
	r := bufio.NewReader(bytes.NewReader(framed))
	got, ok, err := readPacketChecked(r)
	assert(t, err == nil, "read failed: %v", err)
	assert(t, ok, "checksum did not validate")
	assert(t, string(got) == "g", "got %q", got)
}

func TestHexRoundTrip(t *testing.T) {
	data := []byte{0x00, 0x01, 0xff, 0xab}
	enc := encodeHex(data)
	dec, err := decodeHex(enc)
	assert(t, err == nil, "decode failed: %v", err)
	assert(t, bytes.Equal(dec, data), "got %x want %x", dec, data)
}

func TestDispatchReadWriteRegisters(t *testing.T) {
	ft := newFakeTarget()
	for i := range ft.regs {
		ft.regs[i] = byte(i)
	}
	s := NewServer(ft, false)
	sess := &session{}
	reply, detach := s.dispatch(context.Background(), sess, []byte("g"), nil)
	assert(t, !detach, "unexpected detach")
	dec, err := decodeHex(reply)
	assert(t, err == nil, "decode failed: %v", err)
	assert(t, bytes.Equal(dec, ft.regs), "register mismatch")

	newVals := make([]byte, len(ft.regs))
	for i := range newVals {
		newVals[i] = 0xff
	}
	gpkt := append([]byte("G"), encodeHex(newVals)...)
	reply, _ = s.dispatch(context.Background(), sess, gpkt, nil)
	assert(t, string(reply) == "OK", "got %q", reply)
	assert(t, bytes.Equal(ft.regs, newVals), "registers not written")
}

func TestDispatchMemory(t *testing.T) {
	ft := newFakeTarget()
	s := NewServer(ft, false)
	sess := &session{}

	reply, _ := s.dispatch(context.Background(), sess, []byte("M1000,4:deadbeef"), nil)
	assert(t, string(reply) == "OK", "got %q", reply)

	reply, _ = s.dispatch(context.Background(), sess, []byte("m1000,4"), nil)
	assert(t, string(reply) == "deadbeef", "got %q", reply)
}

func TestDispatchBreakpoint(t *testing.T) {
	ft := newFakeTarget()
	s := NewServer(ft, false)
	sess := &session{}

	reply, _ := s.dispatch(context.Background(), sess, []byte("Z1,8000,4"), nil)
	assert(t, string(reply) == "OK", "got %q", reply)
	assert(t, ft.lastBp[0] == "set", "breakpoint not set")

	reply, _ = s.dispatch(context.Background(), sess, []byte("z1,8000,4"), nil)
	assert(t, string(reply) == "OK", "got %q", reply)
	assert(t, ft.lastBp[0] == "clear", "breakpoint not cleared")
}

func TestQSupportedAndNoAck(t *testing.T) {
	ft := newFakeTarget()
	s := NewServer(ft, false)
	sess := &session{}

	reply, _ := s.dispatch(context.Background(), sess, []byte("qSupported:multiprocess+"), nil)
	assert(t, bytes.Contains(reply, []byte("QStartNoAckMode+")), "got %q", reply)

	reply, _ = s.dispatch(context.Background(), sess, []byte("QStartNoAckMode"), nil)
	assert(t, string(reply) == "OK", "got %q", reply)
	assert(t, sess.noAck, "noAck not set")
}

func TestQXferFeaturesChunking(t *testing.T) {
	ft := newFakeTarget()
	s := NewServer(ft, false)
	xml := buildTargetXML(ft.Description())
	reply := s.handleQXferFeatures("qXfer:features:read:target.xml:0,a")
	assert(t, reply[0] == 'm', "expected more-data marker, got %q", reply)
	assert(t, string(reply[1:]) == xml[:10], "got %q want %q", reply[1:], xml[:10])

	reply = s.handleQXferFeatures("qXfer:features:read:target.xml:0,ffff")
	assert(t, reply[0] == 'l', "expected last-chunk marker, got %q", reply)
	assert(t, string(reply[1:]) == xml, "full chunk mismatch")
}

func TestQRcmdGuard(t *testing.T) {
	ft := newFakeTarget()
	ft.monitorFunc = func(args []string) (string, error) { return "ok: " + args[0], nil }
	s := NewServer(ft, false)
	cmd := "qRcmd," + string(encodeHex([]byte("reset")))
	reply := s.handleQRcmd(context.Background(), cmd)
	assert(t, len(reply) == 0, "expected empty reply with monitor disabled, got %q", reply)

	s.allowMonitor = true
	reply = s.handleQRcmd(context.Background(), cmd)
	dec, err := decodeHex(reply)
	assert(t, err == nil, "decode failed: %v", err)
	assert(t, string(dec) == "ok: reset", "got %q", dec)
}

// TestServeInterruptCancelsContinue exercises the full connection loop:
// a "c" packet starts an async continue, and a subsequent out-of-band
// \x03 byte must cancel it and deliver a T05 stop reply, matching
// spec.md §4.5's interrupt behavior end-to-end over a real net.Conn pair.
func TestServeInterruptCancelsContinue(t *testing.T) {
	ft := newFakeTarget()
	fc := newFakeContinue()
	ft.continueFn = func() (ContinueHandle, error) { return fc, nil }
	s := NewServer(ft, false)

	client, serverConn := net.Pipe()
	defer client.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.handleConn(ctx, serverConn)

	client.SetDeadline(time.Now().Add(5 * time.Second))
	_, err := client.Write(framePacket([]byte("c")))
	assert(t, err == nil, "write c failed: %v", err)

	// Give the server a moment to register the pending continue before
	// sending the interrupt byte.
	time.Sleep(20 * time.Millisecond)
	_, err = client.Write([]byte{0x03})
	assert(t, err == nil, "write interrupt failed: %v", err)

	var got bytes.Buffer
	buf := make([]byte, 64)
	for i := 0; i < 10 && !bytes.Contains(got.Bytes(), []byte("T05")); i++ {
		n, err := client.Read(buf)
		assert(t, err == nil, "read reply failed: %v", err)
		got.Write(buf[:n])
	}
	assert(t, bytes.Contains(got.Bytes(), []byte("$T05thread:0;")), "got %q", got.Bytes())
}
