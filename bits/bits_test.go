package bits

import "testing"

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

func TestFromUintRoundTrip(t *testing.T) {
	v := FromUint(0x3ba00477, 32)
	assert(t, v.Uint() == 0x3ba00477, "got %x", v.Uint())
}

func TestFromStringOrder(t *testing.T) {
	// "1000" is a standard binary literal: leftmost char is the MSB, so
	// this is the value 8, with bit 0 (the LSB, last character) clear.
	v := MustFromString("1000")
	assert(t, !v.Bit(0), "bit 0 should be 0")
	assert(t, v.Bit(3), "bit 3 should be 1")
	assert(t, v.Uint() == 8, "got %d", v.Uint())
}

func TestSliceConcat(t *testing.T) {
	v := FromUint(0xABCD, 16)
	lo := v.Slice(0, 8)
	hi := v.Slice(8, 16)
	assert(t, lo.Uint() == 0xCD, "lo = %x", lo.Uint())
	assert(t, hi.Uint() == 0xAB, "hi = %x", hi.Uint())
	joined := lo.Concat(hi)
	assert(t, joined.Equal(v), "round trip mismatch: %s vs %s", joined, v)
}

func TestReverse(t *testing.T) {
	v := MustFromString("1000")
	r := v.Reverse()
	assert(t, r.Equal(MustFromString("0001")), "got %s", r)
}

func TestIndexOf(t *testing.T) {
	// <10> marker search used by interrogate_ir.
	captured := MustFromString("01001")
	marker := MustFromString("01")
	idxs := captured.AllIndexesOf(marker)
	assert(t, len(idxs) >= 1 && idxs[0] == 0, "expected marker at 0, got %v", idxs)
}

func TestBytesRoundTrip(t *testing.T) {
	v := FromBytes([]byte{0xAB, 0xCD}, 16)
	assert(t, v.Uint() == 0xCDAB, "got %x", v.Uint())
	back := v.Bytes()
	assert(t, back[0] == 0xAB && back[1] == 0xCD, "round trip failed: % x", back)
}
