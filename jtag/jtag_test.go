package jtag

import (
	"testing"

	"github.com/fpgaprobe/hostrt/bits"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

func TestInterrogateDRSingleIDCODE(t *testing.T) {
	captured := bits.MustFromString("00111011101000000000010001110111")
	out, err := InterrogateDR(captured)
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, len(out) == 1, "expected 1 entry, got %d", len(out))
	assert(t, out[0] != nil && *out[0] == 0x3ba00477, "got %v", out)
}

func TestInterrogateDRBypassAndIDCODE(t *testing.T) {
	captured := bits.MustFromString("001110111010000000000100011101110")
	out, err := InterrogateDR(captured)
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, len(out) == 2, "expected 2 entries, got %d", len(out))
	assert(t, out[0] == nil, "expected first TAP to be BYPASS, got %v", out[0])
	assert(t, out[1] != nil && *out[1] == 0x3ba00477, "got %v", out[1])
}

func TestInterrogateIRTwoTAPs(t *testing.T) {
	captured := bits.MustFromString("01001")
	out, err := InterrogateIR(captured, 2, nil)
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, len(out) == 2 && out[0] == 3 && out[1] == 2, "got %v", out)
}

func TestInterrogateIRExplicitLengths(t *testing.T) {
	captured := bits.MustFromString("01001")
	out, err := InterrogateIR(captured, 2, []int{3, 2})
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, len(out) == 2 && out[0] == 3 && out[1] == 2, "got %v", out)
}

func TestInterrogateDRReservedPatternRejected(t *testing.T) {
	// bit 0 set (starts an IDCODE), bits [1:12) all forced to the
	// reserved 0b00001111111 pattern.
	v := bits.New(32).SetBit(0, true)
	for i := 1; i < 12; i++ {
		// reserved = 0b00001111111: bits 1..7 set, bits 8..11 clear.
		v = v.SetBit(i, i <= 7)
	}
	_, err := InterrogateDR(v)
	assert(t, err != nil, "expected reserved-pattern error")
}

func TestStateAdjacencyFiveOnesReachesReset(t *testing.T) {
	for s := TestLogicReset; s <= UpdateIR; s++ {
		cur := s
		for i := 0; i < 5; i++ {
			cur = cur.Next(1)
		}
		assert(t, cur == TestLogicReset, "from %s, five TMS=1 should reach Test-Logic-Reset, got %s", s, cur)
	}
}

func TestShortestPathNoopWhenSameState(t *testing.T) {
	path := shortestPath(RunTestIdle, RunTestIdle)
	assert(t, path == nil, "expected nil path, got %v", path)
}

func TestShortestPathRunTestIdleToShiftDR(t *testing.T) {
	path := shortestPath(RunTestIdle, ShiftDR)
	assert(t, len(path) == 3, "got %v", path)
	assert(t, path[0] == 1 && path[1] == 0 && path[2] == 0, "got %v", path)
}
