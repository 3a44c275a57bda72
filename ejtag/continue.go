package ejtag

import (
	"context"

	"github.com/fpgaprobe/hostrt/sequencer"
)

// PendingContinue tracks an in-flight, cancellable target_continue for the
// MIPS side, mirroring arm7.PendingContinue: the wait for the next debug
// entry is the same L1 cancellable-poll primitive, just triggered by
// EjtagBrk re-asserting DM instead of DBGACK.
type PendingContinue struct {
	dbg *Debugger
	p   *sequencer.PendingPoll
}

// Continue writes regs back and issues DERET (via Exit), then begins a
// cancellable wait for the target to re-enter debug mode.
func (d *Debugger) Continue(ctx context.Context, regs [38]uint32) (*PendingContinue, error) {
	if d.state != Halted {
		return nil, ejtagErr("continue", "debugger is not Halted")
	}
	if err := d.Exit(ctx, regs); err != nil {
		return nil, err
	}
	p, err := d.p.tap.Controller().Sequencer().BeginCancellablePoll(sequencer.OpRunTCK)
	if err != nil {
		return nil, err
	}
	return &PendingContinue{dbg: d, p: p}, nil
}

// Cancel requests early termination of a pending continue.
func (pc *PendingContinue) Cancel() error { return pc.p.Cancel() }

// Await blocks until the target re-enters debug mode (or cancellation
// completes), returning the halted register set and stop reason.
func (pc *PendingContinue) Await(ctx context.Context) ([38]uint32, StopReason, error) {
	var regs [38]uint32
	if _, err := pc.p.Await(ctx); err != nil {
		return regs, 0, err
	}
	pc.dbg.p.session = stateInterrupted
	regs, err := pc.dbg.p.GetRegisters(ctx)
	if err != nil {
		return regs, 0, err
	}
	pc.dbg.state = Halted
	pc.dbg.stopReason = StopBreakpoint
	return regs, pc.dbg.stopReason, nil
}
