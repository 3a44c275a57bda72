package arm7

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/fpgaprobe/hostrt/gdbserver"
)

func TestGDBTargetRegisterRoundTrip(t *testing.T) {
	c := &Context{CPSR: uint32(modeSVC)}
	c.SetR13(modeSVC, 0x2000)
	c.SetR14(modeSVC, 0x4000)
	c.PC = 0x8000
	g := NewGDBTarget(nil, c)

	raw, err := g.ReadRegisters(context.Background())
	assert(t, err == nil, "read registers failed: %v", err)
	assert(t, len(raw) == 4*17, "expected 17 packed registers, got %d bytes", len(raw))
	assert(t, binary.LittleEndian.Uint32(raw[4*13:]) == 0x2000, "sp mismatch")
	assert(t, binary.LittleEndian.Uint32(raw[4*14:]) == 0x4000, "lr mismatch")
	assert(t, binary.LittleEndian.Uint32(raw[4*15:]) == 0x8000, "pc mismatch")

	newRaw := make([]byte, 4*17)
	copy(newRaw, raw)
	binary.LittleEndian.PutUint32(newRaw[4*15:], 0x9000)
	err = g.WriteRegisters(context.Background(), newRaw)
	assert(t, err == nil, "write registers failed: %v", err)
	assert(t, c.PC == 0x9000, "pc not updated after WriteRegisters")
	assert(t, c.GetR13(modeSVC) == 0x2000, "sp should be preserved across WriteRegisters")
}

func TestGDBTargetArmKindSelectsISA(t *testing.T) {
	c := &Context{CPSR: uint32(modeSVC)} // ARM state (bit 5 clear)
	g := NewGDBTarget(nil, c)
	assert(t, g.armKind(gdbserver.BreakpointHardware) == HardARM, "expected HardARM in ARM state")
	assert(t, g.armKind(gdbserver.BreakpointSoftware) == SoftARM, "expected SoftARM in ARM state")

	c.CPSR |= 0x20 // Thumb state
	assert(t, g.armKind(gdbserver.BreakpointHardware) == HardThumb, "expected HardThumb in Thumb state")
	assert(t, g.armKind(gdbserver.BreakpointSoftware) == SoftThumb, "expected SoftThumb in Thumb state")
}

func TestGDBTargetWriteRegistersRejectsWrongLength(t *testing.T) {
	g := NewGDBTarget(nil, &Context{})
	err := g.WriteRegisters(context.Background(), []byte{0, 1, 2})
	assert(t, err != nil, "expected an error for a short register blob")
}
