package ejtag

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/fpgaprobe/hostrt/flash"
	"github.com/fpgaprobe/hostrt/gdbserver"
	"github.com/fpgaprobe/hostrt/probeerr"
)

// GDBTarget adapts a Debugger to gdbserver.Target (spec.md §4.5): unlike
// arm7's banked Context, the MIPS register set is already the flat
// 38-word GDB-ordered array registers.go produces, so packing is a
// straight byte copy. FlashDev is optional and only consulted by the
// "flash erase-all" monitor command.
type GDBTarget struct {
	dbg      *Debugger
	bkpt     *Breakpoints
	FlashDev *flash.Device

	mu   sync.Mutex
	regs [38]uint32
}

// NewGDBTarget wraps dbg (already Halted, having produced regs via a
// prior Enter) together with its breakpoint unit tracker.
func NewGDBTarget(dbg *Debugger, bkpt *Breakpoints, regs [38]uint32) *GDBTarget {
	return &GDBTarget{dbg: dbg, bkpt: bkpt, regs: regs}
}

func (g *GDBTarget) Description() gdbserver.TargetDescription { return gdbserver.MIPS32 }

func (g *GDBTarget) ReadRegisters(ctx context.Context) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]byte, 4*NumRegisters)
	for i, r := range g.regs {
		binary.LittleEndian.PutUint32(out[4*i:], r)
	}
	return out, nil
}

func (g *GDBTarget) WriteRegisters(ctx context.Context, raw []byte) error {
	if len(raw) != 4*NumRegisters {
		return probeerr.Wrap(probeerr.KindProgrammerPolicy, "ejtag", "write_registers", "register blob has the wrong length", nil)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.regs {
		g.regs[i] = binary.LittleEndian.Uint32(raw[4*i:])
	}
	return nil
}

// ReadMemory reads length bytes starting at addr, expanding to whole
// words at the PrAcc layer (memory.go has no sub-word accessor) and
// trimming the result to the requested byte range.
func (g *GDBTarget) ReadMemory(ctx context.Context, addr uint64, length int) ([]byte, error) {
	start := uint32(addr)
	alignedStart := start &^ 3
	end := start + uint32(length)
	alignedEnd := (end + 3) &^ 3
	words, err := g.dbg.p.ReadMemory(ctx, alignedStart, int((alignedEnd-alignedStart)/4))
	if err != nil {
		return nil, err
	}
	buf := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[4*i:], w)
	}
	off := start - alignedStart
	return buf[off : off+uint32(length)], nil
}

// WriteMemory writes data at addr, read-modify-writing the boundary
// words when addr or addr+len(data) isn't word-aligned.
func (g *GDBTarget) WriteMemory(ctx context.Context, addr uint64, data []byte) error {
	start := uint32(addr)
	alignedStart := start &^ 3
	end := start + uint32(len(data))
	alignedEnd := (end + 3) &^ 3
	n := int((alignedEnd - alignedStart) / 4)

	buf := make([]byte, n*4)
	if start != alignedStart || end != alignedEnd {
		existing, err := g.dbg.p.ReadMemory(ctx, alignedStart, n)
		if err != nil {
			return err
		}
		for i, w := range existing {
			binary.LittleEndian.PutUint32(buf[4*i:], w)
		}
	}
	copy(buf[start-alignedStart:], data)

	words := make([]uint32, n)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(buf[4*i:])
	}
	if err := g.dbg.p.WriteMemory(ctx, alignedStart, words); err != nil {
		return err
	}
	return g.dbg.p.SyncICache(ctx, alignedStart, uint32(n*4))
}

func (g *GDBTarget) SetBreakpoint(ctx context.Context, kind gdbserver.BreakpointKind, addr uint64, length int) error {
	if kind == gdbserver.BreakpointHardware {
		return g.bkpt.SetHardware(ctx, uint32(addr))
	}
	return g.bkpt.SetSoftware(ctx, uint32(addr))
}

func (g *GDBTarget) ClearBreakpoint(ctx context.Context, kind gdbserver.BreakpointKind, addr uint64, length int) error {
	if kind == gdbserver.BreakpointHardware {
		return g.bkpt.ClearHardware(ctx, uint32(addr))
	}
	return g.bkpt.ClearSoftware(ctx, uint32(addr))
}

// mipsContinueHandle adapts *PendingContinue to gdbserver.ContinueHandle,
// folding the freshly captured register array back into the owning
// GDBTarget once Await resolves.
type mipsContinueHandle struct {
	target *GDBTarget
	pc     *PendingContinue
}

func (h *mipsContinueHandle) Cancel() error { return h.pc.Cancel() }

func (h *mipsContinueHandle) Await(ctx context.Context) (gdbserver.StopInfo, error) {
	regs, reason, err := h.pc.Await(ctx)
	if err != nil {
		return gdbserver.StopInfo{}, err
	}
	h.target.mu.Lock()
	h.target.regs = regs
	h.target.mu.Unlock()
	return mipsStopInfo(reason), nil
}

func mipsStopInfo(reason StopReason) gdbserver.StopInfo {
	if reason == StopStep {
		return gdbserver.StopInfo{Signal: 5, Reason: "step"}
	}
	return gdbserver.StopInfo{Signal: 5, Reason: "breakpoint"}
}

func (g *GDBTarget) Continue(ctx context.Context) (gdbserver.ContinueHandle, error) {
	g.mu.Lock()
	regs := g.regs
	g.mu.Unlock()
	pc, err := g.dbg.Continue(ctx, regs)
	if err != nil {
		return nil, err
	}
	return &mipsContinueHandle{target: g, pc: pc}, nil
}

func (g *GDBTarget) Step(ctx context.Context) (gdbserver.StopInfo, error) {
	g.mu.Lock()
	regs := g.regs
	g.mu.Unlock()
	out, err := g.dbg.SingleStep(ctx, regs)
	if err != nil {
		return gdbserver.StopInfo{}, err
	}
	g.mu.Lock()
	g.regs = out
	g.mu.Unlock()
	return mipsStopInfo(g.dbg.LastStopReason()), nil
}

// Monitor implements SPEC_FULL.md §4.5.1's MIPS-relevant qRcmd commands:
// "reg dump" prints the live register array, "flash erase-all"
// chip-erases the attached SPI flash (if any was wired in). MIPS has no
// vector-catch equivalent wired up, so "reset" only reports a no-op.
func (g *GDBTarget) Monitor(ctx context.Context, args []string) (string, error) {
	if len(args) == 0 {
		return "", probeerr.Wrap(probeerr.KindProgrammerPolicy, "ejtag", "monitor", "empty monitor command", nil)
	}
	switch args[0] {
	case "reset":
		return "reset is not wired for this target\n", nil
	case "reg":
		if len(args) > 1 && args[1] == "dump" {
			return g.dumpRegs(), nil
		}
		return "", probeerr.Wrap(probeerr.KindProgrammerPolicy, "ejtag", "monitor", "unknown reg subcommand", nil)
	case "flash":
		if len(args) > 1 && args[1] == "erase-all" {
			if g.FlashDev == nil {
				return "", probeerr.Wrap(probeerr.KindProgrammerPolicy, "ejtag", "monitor", "no flash device attached", nil)
			}
			if err := g.FlashDev.WriteEnable(ctx); err != nil {
				return "", err
			}
			if err := g.FlashDev.ChipErase(ctx); err != nil {
				return "", err
			}
			return "flash erased\n", nil
		}
		return "", probeerr.Wrap(probeerr.KindProgrammerPolicy, "ejtag", "monitor", "unknown flash subcommand", nil)
	default:
		return "", probeerr.Wrap(probeerr.KindProgrammerPolicy, "ejtag", "monitor", "unknown monitor command", nil)
	}
}

func (g *GDBTarget) dumpRegs() string {
	g.mu.Lock()
	regs := g.regs
	g.mu.Unlock()
	return fmt.Sprintf("pc=%08x sr=%08x cause=%08x\n", regs[regPC], regs[regSR], regs[regCause])
}
