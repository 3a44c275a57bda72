// Package gdbserver implements the L6 GDB Remote Serial Protocol server:
// packet framing with checksums, no-ack mode, the dispatch table spec.md
// §4.5 names, the LLDB endianness workaround, cancellable continue via an
// out-of-band interrupt byte, and the qRcmd monitor command set from
// SPEC_FULL.md §4.5.1. The server is target-agnostic: arm7 and ejtag each
// adapt their Debugger to the Target interface below, so this package has
// no import-time dependency on either debug engine.
package gdbserver

import "context"

// RegField describes one register in a TargetDescription's GDB register
// list, in the exact order target_get_registers/target_set_registers
// pack and unpack them.
type RegField struct {
	Name string
	Bits int
	Type string // GDB target.xml type: "int32", "code_ptr", "data_ptr", ...
}

// TargetDescription backs qXfer:features:read:target.xml (SPEC_FULL.md
// §3.1): the GDB architecture name plus the ordered register list.
type TargetDescription struct {
	Arch     string
	Regs     []RegField
	WordSize int // bytes per register slot in the packed register blob
}

// ARMv4T is the 17-register ARM7TDMI descriptor: r0-r12, sp, lr, pc, cpsr.
var ARMv4T = TargetDescription{
	Arch:     "armv4t",
	WordSize: 4,
	Regs: []RegField{
		{Name: "r0", Bits: 32, Type: "int32"}, {Name: "r1", Bits: 32, Type: "int32"},
		{Name: "r2", Bits: 32, Type: "int32"}, {Name: "r3", Bits: 32, Type: "int32"},
		{Name: "r4", Bits: 32, Type: "int32"}, {Name: "r5", Bits: 32, Type: "int32"},
		{Name: "r6", Bits: 32, Type: "int32"}, {Name: "r7", Bits: 32, Type: "int32"},
		{Name: "r8", Bits: 32, Type: "int32"}, {Name: "r9", Bits: 32, Type: "int32"},
		{Name: "r10", Bits: 32, Type: "int32"}, {Name: "r11", Bits: 32, Type: "int32"},
		{Name: "r12", Bits: 32, Type: "int32"},
		{Name: "sp", Bits: 32, Type: "data_ptr"},
		{Name: "lr", Bits: 32, Type: "code_ptr"},
		{Name: "pc", Bits: 32, Type: "code_ptr"},
		{Name: "cpsr", Bits: 32, Type: "int32"},
	},
}

// MIPS32 is the 38-register MIPS32/EJTAG descriptor matching
// ejtag.NumRegisters's GDB ordering: r0-r31, sr, lo, hi, bad, cause, pc.
var MIPS32 = TargetDescription{
	Arch:     "mips",
	WordSize: 4,
	Regs: func() []RegField {
		names := [38]string{
			"r0", "r1", "r2", "r3", "r4", "r5", "r6", "r7",
			"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
			"r16", "r17", "r18", "r19", "r20", "r21", "r22", "r23",
			"r24", "r25", "r26", "r27", "r28", "r29", "r30", "r31",
			"sr", "lo", "hi", "bad", "cause", "pc",
		}
		regs := make([]RegField, 38)
		for i, n := range names {
			typ := "int32"
			switch n {
			case "pc", "bad":
				typ = "code_ptr"
			case "r29":
				typ = "data_ptr"
			}
			regs[i] = RegField{Name: n, Bits: 32, Type: typ}
		}
		return regs
	}(),
}

// BreakpointKind distinguishes GDB's Z0 (software) from Z1 (hardware)
// breakpoint insert/remove packets.
type BreakpointKind int

const (
	BreakpointSoftware BreakpointKind = iota
	BreakpointHardware
)

// StopInfo is what a completed Continue/Step reports back to the server,
// which renders it as a GDB `T` stop-reply.
type StopInfo struct {
	Signal byte // Unix-style signal number: 5 = SIGTRAP
	Reason string
}

// ContinueHandle is a cancellable in-flight target_continue, mirroring
// arm7.PendingContinue/ejtag.PendingContinue: Cancel requests early
// termination (the `\x03` interrupt path); Await always blocks until the
// underlying poll resolves, cancelled or not, so the probe pipe never
// desyncs (spec.md §5).
type ContinueHandle interface {
	Cancel() error
	Await(ctx context.Context) (StopInfo, error)
}

// Target is the debug-engine-agnostic interface the server dispatches
// GDB RSP commands onto. arm7.Debugger and ejtag.Debugger each implement
// this via a small adapter type (arm7.GDBTarget, ejtag.GDBTarget) so
// gdbserver never imports either debug engine package.
type Target interface {
	Description() TargetDescription

	// ReadRegisters/WriteRegisters pack/unpack the full register set as
	// WordSize-byte little-endian slots in TargetDescription.Regs order.
	ReadRegisters(ctx context.Context) ([]byte, error)
	WriteRegisters(ctx context.Context, raw []byte) error

	ReadMemory(ctx context.Context, addr uint64, length int) ([]byte, error)
	WriteMemory(ctx context.Context, addr uint64, data []byte) error

	SetBreakpoint(ctx context.Context, kind BreakpointKind, addr uint64, length int) error
	ClearBreakpoint(ctx context.Context, kind BreakpointKind, addr uint64, length int) error

	Continue(ctx context.Context) (ContinueHandle, error)
	Step(ctx context.Context) (StopInfo, error)

	// Monitor dispatches one qRcmd command, already hex-decoded and
	// whitespace-split, returning the text reply body (not yet hex-encoded).
	Monitor(ctx context.Context, args []string) (string, error)
}
