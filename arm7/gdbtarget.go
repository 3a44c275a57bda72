package arm7

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/fpgaprobe/hostrt/flash"
	"github.com/fpgaprobe/hostrt/gdbserver"
	"github.com/fpgaprobe/hostrt/probeerr"
)

// GDBTarget adapts a Debugger to gdbserver.Target (spec.md §4.5): it owns
// the Context a GDB session reads/edits between halts, translating the
// flat little-endian register blob gdbserver.Target's contract specifies
// into the mode-banked Context fields Enter/Exit/Continue actually deal
// in. FlashDev is optional and only consulted by the "flash erase-all"
// monitor command.
type GDBTarget struct {
	dbg      *Debugger
	FlashDev *flash.Device

	mu  sync.Mutex
	ctx *Context
}

// NewGDBTarget wraps dbg, which must already have produced ctx via a
// prior Enter (the debugger is expected to already be Halted).
func NewGDBTarget(dbg *Debugger, ctx *Context) *GDBTarget {
	return &GDBTarget{dbg: dbg, ctx: ctx}
}

func (g *GDBTarget) Description() gdbserver.TargetDescription { return gdbserver.ARMv4T }

// ReadRegisters packs the current Context into gdbserver.ARMv4T's 17-slot
// layout: r0-r7, then r8-r12, sp and lr as banked for the context's own
// mode, pc, cpsr.
func (g *GDBTarget) ReadRegisters(ctx context.Context) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c := g.ctx
	out := make([]byte, 4*17)
	m := c.Mode()
	for i := 0; i < 8; i++ {
		binary.LittleEndian.PutUint32(out[4*i:], c.R[i])
	}
	r8_12 := c.GetR8_12(m)
	for i := 0; i < 5; i++ {
		binary.LittleEndian.PutUint32(out[4*(8+i):], r8_12[i])
	}
	binary.LittleEndian.PutUint32(out[4*13:], c.GetR13(m))
	binary.LittleEndian.PutUint32(out[4*14:], c.GetR14(m))
	binary.LittleEndian.PutUint32(out[4*15:], c.PC)
	binary.LittleEndian.PutUint32(out[4*16:], c.CPSR)
	return out, nil
}

// WriteRegisters unpacks raw (gdbserver's G packet payload) back into the
// stored Context in place, preserving every other mode's banked state.
func (g *GDBTarget) WriteRegisters(ctx context.Context, raw []byte) error {
	if len(raw) != 4*17 {
		return probeerr.Wrap(probeerr.KindProgrammerPolicy, "arm7", "write_registers", "register blob has the wrong length", nil)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	c := g.ctx
	for i := 0; i < 8; i++ {
		c.R[i] = binary.LittleEndian.Uint32(raw[4*i:])
	}
	m := cpsrMode(binary.LittleEndian.Uint32(raw[4*16:]) & 0x1f)
	var r8_12 [5]uint32
	for i := 0; i < 5; i++ {
		r8_12[i] = binary.LittleEndian.Uint32(raw[4*(8+i):])
	}
	c.SetR8_12(m, r8_12)
	c.SetR13(m, binary.LittleEndian.Uint32(raw[4*13:]))
	c.SetR14(m, binary.LittleEndian.Uint32(raw[4*14:]))
	c.PC = binary.LittleEndian.Uint32(raw[4*15:])
	c.CPSR = binary.LittleEndian.Uint32(raw[4*16:])
	return nil
}

func (g *GDBTarget) ReadMemory(ctx context.Context, addr uint64, length int) ([]byte, error) {
	return g.dbg.ReadMemory(ctx, uint32(addr), length)
}

func (g *GDBTarget) WriteMemory(ctx context.Context, addr uint64, data []byte) error {
	return g.dbg.WriteMemory(ctx, uint32(addr), data)
}

// armKind maps a gdbserver breakpoint request onto this Debugger's
// Kind taxonomy, choosing the ARM or Thumb variant from the stored
// Context's current ISA (CPSR bit 5).
func (g *GDBTarget) armKind(bk gdbserver.BreakpointKind) Kind {
	thumb := g.ctx.CPSR&0x20 != 0
	if bk == gdbserver.BreakpointHardware {
		if thumb {
			return HardThumb
		}
		return HardARM
	}
	if thumb {
		return SoftThumb
	}
	return SoftARM
}

func (g *GDBTarget) SetBreakpoint(ctx context.Context, kind gdbserver.BreakpointKind, addr uint64, length int) error {
	g.mu.Lock()
	k := g.armKind(kind)
	g.mu.Unlock()
	return g.dbg.SetBreakpoint(ctx, uint32(addr), k)
}

func (g *GDBTarget) ClearBreakpoint(ctx context.Context, kind gdbserver.BreakpointKind, addr uint64, length int) error {
	g.mu.Lock()
	k := g.armKind(kind)
	g.mu.Unlock()
	return g.dbg.ClearBreakpoint(ctx, uint32(addr), k)
}

// armContinueHandle adapts *PendingContinue to gdbserver.ContinueHandle,
// folding the freshly captured Context back into the owning GDBTarget
// once Await resolves.
type armContinueHandle struct {
	target *GDBTarget
	pc     *PendingContinue
}

func (h *armContinueHandle) Cancel() error { return h.pc.Cancel() }

func (h *armContinueHandle) Await(ctx context.Context) (gdbserver.StopInfo, error) {
	c, reason, err := h.pc.Await(ctx)
	if err != nil {
		return gdbserver.StopInfo{}, err
	}
	h.target.mu.Lock()
	h.target.ctx = c
	h.target.mu.Unlock()
	return armStopInfo(reason), nil
}

func armStopInfo(reason StopReason) gdbserver.StopInfo {
	switch reason {
	case StopStep:
		return gdbserver.StopInfo{Signal: 5, Reason: "step"}
	case StopVectorCatch:
		return gdbserver.StopInfo{Signal: 5, Reason: "vector-catch"}
	default:
		return gdbserver.StopInfo{Signal: 5, Reason: "breakpoint"}
	}
}

func (g *GDBTarget) Continue(ctx context.Context) (gdbserver.ContinueHandle, error) {
	g.mu.Lock()
	c := g.ctx
	g.mu.Unlock()
	pc, err := g.dbg.Continue(ctx, c)
	if err != nil {
		return nil, err
	}
	return &armContinueHandle{target: g, pc: pc}, nil
}

func (g *GDBTarget) Step(ctx context.Context) (gdbserver.StopInfo, error) {
	g.mu.Lock()
	c := g.ctx
	g.mu.Unlock()
	if err := g.dbg.SingleStep(ctx, c); err != nil {
		return gdbserver.StopInfo{}, err
	}
	return armStopInfo(g.dbg.LastStopReason()), nil
}

// Monitor implements SPEC_FULL.md §4.5.1's arm7-relevant qRcmd commands:
// "reset" calls SetVectorCatch(VectorCatchReset), which records the mask
// only (see SetVectorCatch), "reg dump" prints the current
// Context, and "flash erase-all" chip-erases the attached SPI flash (if
// any was wired in).
func (g *GDBTarget) Monitor(ctx context.Context, args []string) (string, error) {
	if len(args) == 0 {
		return "", probeerr.Wrap(probeerr.KindProgrammerPolicy, "arm7", "monitor", "empty monitor command", nil)
	}
	switch args[0] {
	case "reset":
		if err := g.dbg.SetVectorCatch(ctx, VectorCatchReset); err != nil {
			return "", err
		}
		return "reset vector catch armed\n", nil
	case "reg":
		if len(args) > 1 && args[1] == "dump" {
			return g.dumpRegs(), nil
		}
		return "", probeerr.Wrap(probeerr.KindProgrammerPolicy, "arm7", "monitor", "unknown reg subcommand", nil)
	case "flash":
		if len(args) > 1 && args[1] == "erase-all" {
			if g.FlashDev == nil {
				return "", probeerr.Wrap(probeerr.KindProgrammerPolicy, "arm7", "monitor", "no flash device attached", nil)
			}
			if err := g.FlashDev.WriteEnable(ctx); err != nil {
				return "", err
			}
			if err := g.FlashDev.ChipErase(ctx); err != nil {
				return "", err
			}
			return "flash erased\n", nil
		}
		return "", probeerr.Wrap(probeerr.KindProgrammerPolicy, "arm7", "monitor", "unknown flash subcommand", nil)
	default:
		return "", probeerr.Wrap(probeerr.KindProgrammerPolicy, "arm7", "monitor", "unknown monitor command", nil)
	}
}

func (g *GDBTarget) dumpRegs() string {
	g.mu.Lock()
	c := g.ctx
	g.mu.Unlock()
	m := c.Mode()
	return fmt.Sprintf("pc=%08x cpsr=%08x mode=%s sp=%08x lr=%08x\n",
		c.PC, c.CPSR, m, c.GetR13(m), c.GetR14(m))
}
