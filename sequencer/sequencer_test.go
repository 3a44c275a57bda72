package sequencer

import (
	"context"
	"testing"

	"github.com/fpgaprobe/hostrt/pipe"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

func TestSyncRoundTrip(t *testing.T) {
	p := pipe.NewMemPipe()
	c := New(p)
	p.Feed([]byte{0x42})
	err := c.Sync(context.Background())
	assert(t, err == nil, "unexpected error: %v", err)
	sent := p.SentBytes()
	assert(t, len(sent) == 1, "expected 1-byte Sync frame (header only, no payload), got % x", sent)
}

func TestShiftTDIOChunking(t *testing.T) {
	p := pipe.NewMemPipe()
	c := New(p)
	tdi := make([]byte, 3)
	tdo := []byte{0xaa, 0xbb, 0xcc}
	p.Feed(tdo)
	got, err := c.ShiftTDIO(context.Background(), tdi, 24)
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, len(got) == 3 && got[0] == 0xaa && got[2] == 0xcc, "got % x", got)
}

func TestSetAuxGetAux(t *testing.T) {
	p := pipe.NewMemPipe()
	c := New(p)
	assert(t, c.SetAux(context.Background(), AuxCS0, false) == nil, "SetAux failed")
	sent := p.SentBytes()
	// header + len(1) + payload(1) = 4 bytes
	assert(t, len(sent) == 4, "unexpected SetAux frame length: % x", sent)
	assert(t, sent[3] == byte(AuxCS0)<<1, "expected CS0 low payload, got %x", sent[3])

	p.Feed([]byte{1})
	level, err := c.GetAux(context.Background(), AuxCS0)
	assert(t, err == nil, "GetAux failed: %v", err)
	assert(t, level, "expected level true")
}

func TestShiftSPIPhase(t *testing.T) {
	p := pipe.NewMemPipe()
	c := New(p)
	tx := []byte{0x9f, 0x00, 0x00, 0x00}
	p.Feed([]byte{0, 0, 0, 0})
	rx, err := c.ShiftSPI(context.Background(), tx, SPIPhase1)
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, len(rx) == len(tx), "expected %d rx bytes, got %d", len(tx), len(rx))
}

func TestCancellablePollCompletes(t *testing.T) {
	p := pipe.NewMemPipe()
	c := New(p)
	pp, err := c.BeginCancellablePoll(OpGetAux)
	assert(t, err == nil, "BeginCancellablePoll failed: %v", err)
	p.Feed([]byte{0x01})
	b, err := pp.Await(context.Background())
	assert(t, err == nil, "Await failed: %v", err)
	assert(t, b == 0x01, "got %x", b)
}

func TestCancellablePollCancelled(t *testing.T) {
	p := pipe.NewMemPipe()
	c := New(p)
	pp, err := c.BeginCancellablePoll(OpGetAux)
	assert(t, err == nil, "BeginCancellablePoll failed: %v", err)
	assert(t, pp.Cancel() == nil, "Cancel failed")
	// exactly one response byte is guaranteed regardless of path.
	p.Feed([]byte{0x00})
	_, err = pp.Await(context.Background())
	assert(t, err == nil, "Await after cancel failed: %v", err)
}
