package arm7

import (
	"context"

	"github.com/fpgaprobe/hostrt/jtag"
	"github.com/fpgaprobe/hostrt/probeerr"
	"github.com/fpgaprobe/hostrt/sequencer"
)

// State is the debugger's high-level session state.
type State int

const (
	Running State = iota
	Halted
)

// StopReason distinguishes why the target halted, per SPEC_FULL.md
// §4.3.1's vector-catch supplement (from original_source/): a watchpoint
// hit (ordinary breakpoint) is reported distinctly from a caught
// exception vector fetch.
type StopReason int

const (
	StopBreakpoint StopReason = iota
	StopVectorCatch
	StopStep
)

// VectorCatchMask names the ARM exception vectors (0x00 Reset .. 0x1c
// FIQ) by bit. SetVectorCatch records a mask but programs no watchpoint
// for it, so a set bit does not by itself halt the target on that
// vector's fetch.
type VectorCatchMask uint32

const (
	VectorCatchReset VectorCatchMask = 1 << 0
	VectorCatchUndef VectorCatchMask = 1 << 1
	VectorCatchSWI   VectorCatchMask = 1 << 2
	VectorCatchPAbt  VectorCatchMask = 1 << 3
	VectorCatchDAbt  VectorCatchMask = 1 << 4
	VectorCatchIRQ   VectorCatchMask = 1 << 6
	VectorCatchFIQ   VectorCatchMask = 1 << 7
)

// Debugger drives one ARM7TDMI core over its EmbeddedICE scan chain.
type Debugger struct {
	tap  *jtag.TAPHandle
	bkpt *Breakpoints

	state      State
	stopReason StopReason
	vectorMask VectorCatchMask
}

// NewDebugger builds a Debugger over tap, which must already be the TAP
// handle for the target's ARM7TDMI debug IR (EmbeddedICE access).
func NewDebugger(tap *jtag.TAPHandle) *Debugger {
	return &Debugger{tap: tap, bkpt: NewBreakpoints(), state: Running}
}

func dbgErr(op, msg string) error {
	return probeerr.Wrap(probeerr.KindProtocolState, "arm7", op, msg, nil)
}

// State returns the debugger's current session state.
func (d *Debugger) State() State { return d.state }

// LastStopReason returns why the most recent halt occurred.
func (d *Debugger) LastStopReason() StopReason { return d.stopReason }

// SetVectorCatch records the exception-vector catch mask (§4.3.1) and
// writes DBGCTL with INTDIS set. No watchpoint unit is programmed for the
// vector addresses, and no halt is reported as StopVectorCatch.
func (d *Debugger) SetVectorCatch(ctx context.Context, mask VectorCatchMask) error {
	d.vectorMask = mask
	txn := NewTransaction(d.tap)
	txn.SetReg(regDebugCtrl, dbgctlIntDis)
	return txn.Submit(ctx)
}

// Enter performs the ARM7 debug-entry sequence (spec.md §4.3 "Entry"):
// assert DBGACK/INTDIS, run the capture prologue, and return the
// pipeline-adjusted context. The breakpoint-on-any-fetch watchpoint that
// actually triggers entry must already be armed by the caller (DBGRQ is
// broken per errata).
func (d *Debugger) Enter(ctx context.Context) (*Context, error) {
	if d.state != Running {
		return nil, dbgErr("enter", "debugger is not Running")
	}
	txn := NewTransaction(d.tap)
	txn.SetReg(regDebugCtrl, dbgctlDbgAck|dbgctlIntDis)
	c, err := d.captureContext(ctx, txn)
	if err != nil {
		return nil, err
	}
	d.state = Halted
	d.stopReason = StopBreakpoint
	return c, nil
}

// captureContext appends the entry-prologue GetBus sequence (§4.3 step 2:
// r0, pc, cpsr, then SPSR+r8-r14 for every non-current mode) to txn and
// submits it, decoding the pipeline-adjusted PC and full mode-banked
// register set. Factored out of Enter so PendingContinue.Await can run
// the same capture once a continue's poll resolves, without re-entering
// through Enter's Running-state check.
func (d *Debugger) captureContext(ctx context.Context, txn *Transaction) (*Context, error) {
	r0 := txn.GetBus()
	pc := txn.GetBus()
	cpsr := txn.GetBus()

	// One GetBus per banked-register store (§4.3 step 2e); the banked
	// registers themselves are captured in the loop below.
	var bankedCPSRs [6]*Result
	var bankedRegs [6][7]*Result // r8..r12, r13, r14 per mode; SPSR is in bankedCPSRs
	modes := []cpsrMode{modeSys, modeFIQ, modeIRQ, modeSVC, modeAbt, modeUnd}
	for i := range modes {
		bankedCPSRs[i] = txn.GetBus()
		for j := 0; j < 7; j++ {
			bankedRegs[i][j] = txn.GetBus()
		}
	}

	if err := txn.Submit(ctx); err != nil {
		return nil, err
	}

	capturedPC := pc.Uint32()
	cpsrVal := cpsr.Uint32()
	thumb := cpsrVal&0x20 != 0

	c := &Context{CPSR: cpsrVal}
	c.R[0] = r0.Uint32()
	c.PC = pipelineAdjustedPC(capturedPC, thumb)

	for i, m := range modes {
		spsrVal := bankedCPSRs[i].Uint32()
		if m != modeSys {
			c.SetSPSR(m, spsrVal)
		}
		var regs [5]uint32
		for j := 0; j < 5; j++ {
			regs[j] = bankedRegs[i][j].Uint32()
		}
		c.SetR8_12(m, regs)
		c.SetR13(m, bankedRegs[i][5].Uint32())
		c.SetR14(m, bankedRegs[i][6].Uint32())
	}
	return c, nil
}

// writeBackContext appends the exit-prologue PutBus sequence (the mirror
// of captureContext) to txn: SPSR+r8-r14 for every non-current mode, then
// CPSR, r0, and PC (driven with PutBus's system-speed flag set). Shared by
// Exit and Continue so both paths restore an edited Context identically.
func (d *Debugger) writeBackContext(txn *Transaction, c *Context) {
	modes := []cpsrMode{modeSys, modeFIQ, modeIRQ, modeSVC, modeAbt, modeUnd}
	for _, m := range modes {
		if m != modeSys {
			txn.PutBus(false, c.GetSPSR(m))
		}
		regs := c.GetR8_12(m)
		for _, r := range regs {
			txn.PutBus(false, r)
		}
		txn.PutBus(false, c.GetR13(m))
		txn.PutBus(false, c.GetR14(m))
	}
	txn.PutBus(false, c.CPSR)
	txn.PutBus(false, c.R[0])
	txn.PutBus(true, c.PC)
}

// Exit reverses the entry prologue, writing c back to the core, and
// leaves debug state via RESTART. If DBGACK reasserts immediately, per
// spec.md §4.3 this is treated as "halted again at the new PC" (the
// ARM7 debug-exit-vs-reentry ambiguity noted in spec.md §9) rather than
// as an exit failure.
func (d *Debugger) Exit(ctx context.Context, c *Context) error {
	if d.state != Halted {
		return dbgErr("exit", "debugger is not Halted")
	}
	txn := NewTransaction(d.tap)
	d.writeBackContext(txn, c)
	txn.SetReg(regDebugCtrl, 0)
	txn.Restart()
	if err := txn.Submit(ctx); err != nil {
		return err
	}

	ack, err := d.pollDBGACK(ctx, false)
	if err != nil {
		return err
	}
	if ack {
		// Another breakpoint fired immediately: halted again at the new PC.
		d.state = Halted
		d.stopReason = StopBreakpoint
		return nil
	}
	d.state = Running
	return nil
}

// pollDBGACK issues one non-cancellable PollAck and reports whether
// DBGACK is asserted.
func (d *Debugger) pollDBGACK(ctx context.Context, _ bool) (bool, error) {
	txn := NewTransaction(d.tap)
	r := txn.PollAck(false)
	if err := txn.Submit(ctx); err != nil {
		return false, err
	}
	return r.Uint32()&dbgstatDbgAck != 0, nil
}

// PendingContinue tracks an in-flight, cancellable target_continue
// (spec.md §5): the DBGACK wait is modeled directly on the L1
// sequencer's cancellable-poll primitive, since the ARM7 applet's
// POLL_ACK/CANCEL opcodes (§4.3's table) are the same mechanism
// expressed one layer up.
type PendingContinue struct {
	dbg *Debugger
	p   *sequencer.PendingPoll
}

// Continue writes c back to the core (mirroring Exit) and begins a
// cancellable wait for the next DBGACK.
func (d *Debugger) Continue(ctx context.Context, c *Context) (*PendingContinue, error) {
	if d.state != Halted {
		return nil, dbgErr("continue", "debugger is not Halted")
	}
	txn := NewTransaction(d.tap)
	d.writeBackContext(txn, c)
	txn.SetReg(regDebugCtrl, 0)
	txn.Restart()
	if err := txn.Submit(ctx); err != nil {
		return nil, err
	}
	p, err := d.tap.Controller().Sequencer().BeginCancellablePoll(sequencer.OpRunTCK)
	if err != nil {
		return nil, err
	}
	d.state = Running
	return &PendingContinue{dbg: d, p: p}, nil
}

// Cancel requests early termination of a pending continue.
func (pc *PendingContinue) Cancel() error { return pc.p.Cancel() }

// Await blocks until the target halts (or cancellation completes),
// running the same entry-capture sequence Enter uses to return the
// freshly halted Context alongside the stop reason.
func (pc *PendingContinue) Await(ctx context.Context) (*Context, StopReason, error) {
	if _, err := pc.p.Await(ctx); err != nil {
		return nil, 0, err
	}
	txn := NewTransaction(pc.dbg.tap)
	txn.SetReg(regDebugCtrl, dbgctlDbgAck|dbgctlIntDis)
	c, err := pc.dbg.captureContext(ctx, txn)
	if err != nil {
		return nil, 0, err
	}
	pc.dbg.state = Halted
	pc.dbg.stopReason = StopBreakpoint
	return c, pc.dbg.stopReason, nil
}

// SingleStep realizes watchpt_step: it disables W1, programs the step
// pattern (W1 on the current PC, W0 on anything but it), exits debug with
// c and polls DBGACK once, recording StopStep if it is set. The erratum
// warm-up (an extra debug entry and exit with W1 matching the current PC
// before the step pattern is programmed) is not performed.
func (d *Debugger) SingleStep(ctx context.Context, c *Context) error {
	if d.state != Halted {
		return dbgErr("single_step", "debugger is not Halted")
	}
	warmup := NewTransaction(d.tap)
	d.disableWatchpoint(warmup, unitW1)
	if err := warmup.Submit(ctx); err != nil {
		return err
	}
	step := NewTransaction(d.tap)
	d.programWatchpointStep(step, c.PC)
	if err := step.Submit(ctx); err != nil {
		return err
	}
	if err := d.Exit(ctx, c); err != nil {
		return err
	}
	pending, err := d.waitHalt(ctx)
	if err != nil {
		return err
	}
	if pending {
		d.stopReason = StopStep
	}
	return nil
}

func (d *Debugger) waitHalt(ctx context.Context) (bool, error) {
	return d.pollDBGACK(ctx, false)
}
