package ejtag

import (
	"context"
	"encoding/binary"
	"testing"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

func TestGDBTargetRegisterRoundTrip(t *testing.T) {
	var regs [38]uint32
	regs[regPC] = 0x8000
	regs[regSR] = 0x1234
	g := NewGDBTarget(nil, nil, regs)

	raw, err := g.ReadRegisters(context.Background())
	assert(t, err == nil, "read registers failed: %v", err)
	assert(t, len(raw) == 4*38, "expected 38 packed registers, got %d bytes", len(raw))
	assert(t, binary.LittleEndian.Uint32(raw[4*regPC:]) == 0x8000, "pc mismatch")

	newRaw := make([]byte, 4*38)
	copy(newRaw, raw)
	binary.LittleEndian.PutUint32(newRaw[4*regPC:], 0x9000)
	err = g.WriteRegisters(context.Background(), newRaw)
	assert(t, err == nil, "write registers failed: %v", err)
	assert(t, g.regs[regPC] == 0x9000, "pc not updated after WriteRegisters")
	assert(t, g.regs[regSR] == 0x1234, "sr should be preserved across WriteRegisters")
}

func TestGDBTargetWriteRegistersRejectsWrongLength(t *testing.T) {
	var regs [38]uint32
	g := NewGDBTarget(nil, nil, regs)
	err := g.WriteRegisters(context.Background(), []byte{0, 1, 2})
	assert(t, err != nil, "expected an error for a short register blob")
}

func TestMonitorUnknownCommand(t *testing.T) {
	var regs [38]uint32
	g := NewGDBTarget(nil, nil, regs)
	_, err := g.Monitor(context.Background(), []string{"bogus"})
	assert(t, err != nil, "expected an error for an unrecognized monitor command")

	reply, err := g.Monitor(context.Background(), []string{"reg", "dump"})
	assert(t, err == nil, "reg dump failed: %v", err)
	assert(t, len(reply) > 0, "expected a non-empty reg dump reply")
}
