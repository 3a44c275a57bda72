package bitstruct

import "testing"

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

// opcodeHeaderSchema mirrors sequencer's packed opcode header:
// [cmd:4 | last:1 | flags:3].
var opcodeHeaderSchema = NewSchema(
	Field{"cmd", 4},
	Field{"last", 1},
	Field{"flags", 3},
)

func TestPackUnpackRoundTrip(t *testing.T) {
	v, err := opcodeHeaderSchema.FromFields(map[string]uint64{
		"cmd": 5, "last": 1, "flags": 3,
	})
	assert(t, err == nil, "unexpected error: %v", err)
	raw := v.Uint()
	back := opcodeHeaderSchema.FromUint(raw)
	assert(t, back.Get("cmd") == 5, "cmd=%d", back.Get("cmd"))
	assert(t, back.Get("last") == 1, "last=%d", back.Get("last"))
	assert(t, back.Get("flags") == 3, "flags=%d", back.Get("flags"))
}

func TestSetOutOfRangeRejected(t *testing.T) {
	v := opcodeHeaderSchema.New()
	err := v.Set("cmd", 16) // width 4 => max 15
	assert(t, err != nil, "expected error for out-of-range value")
}

func TestFromBytes(t *testing.T) {
	v := opcodeHeaderSchema.New()
	_ = v.Set("cmd", 0xF)
	_ = v.Set("last", 1)
	_ = v.Set("flags", 0x7)
	data := v.Bytes()
	back, err := opcodeHeaderSchema.FromBytes(data)
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, back.Get("cmd") == 0xF, "cmd=%d", back.Get("cmd"))
}
