package ejtag

import "context"

// State is the debugger's high-level session state, layered over the
// lower-level sessionState the PrAcc loop itself tracks.
type State int

const (
	Running State = iota
	Halted
)

// StopReason distinguishes why the target last halted.
type StopReason int

const (
	StopBreakpoint StopReason = iota
	StopStep
)

// Debugger drives register/memory access and run control for one MIPS
// EJTAG Probe, mirroring arm7.Debugger's Enter/Exit/Continue/SingleStep
// shape on top of this package's PrAcc primitives.
type Debugger struct {
	p *Probe

	state      State
	stopReason StopReason
}

// NewDebugger builds a Debugger over an already-Init'd Probe.
func NewDebugger(p *Probe) *Debugger {
	return &Debugger{p: p, state: Running}
}

// State returns the debugger's current session state.
func (d *Debugger) State() State { return d.state }

// LastStopReason returns why the most recent halt occurred.
func (d *Debugger) LastStopReason() StopReason { return d.stopReason }

// Enter asserts EjtagBrk (spec.md §4.4's debug interrupt) and returns
// the halted register set.
func (d *Debugger) Enter(ctx context.Context) ([38]uint32, error) {
	var regs [38]uint32
	if d.state != Running {
		return regs, ejtagErr("enter", "debugger is not Running")
	}
	if err := d.p.DebugInterrupt(ctx); err != nil {
		return regs, err
	}
	regs, err := d.p.GetRegisters(ctx)
	if err != nil {
		return regs, err
	}
	d.state = Halted
	d.stopReason = StopBreakpoint
	return regs, nil
}

// Exit writes regs back to the core and issues DERET via a PrAcc
// session (spec.md §4.4's exit prologue: "reloads r1 from DESAVE,
// issues DERET, and three NOPs").
func (d *Debugger) Exit(ctx context.Context, regs [38]uint32) error {
	if d.state != Halted {
		return ejtagErr("exit", "debugger is not Halted")
	}
	if err := d.p.SetRegisters(ctx, regs); err != nil {
		return err
	}
	code := []uint32{insnDERET(), insnNop(), insnNop(), insnNop()}
	if _, err := d.p.RunPrAcc(ctx, code, nil); err != nil {
		return err
	}
	d.p.session = stateRunning
	d.state = Running
	return nil
}

// SingleStep implements spec.md §4.4's "Set SSt in CP0.Debug, DERET; on
// immediate re-entry, clear SSt."
func (d *Debugger) SingleStep(ctx context.Context, regs [38]uint32) ([38]uint32, error) {
	if d.state != Halted {
		return regs, ejtagErr("single_step", "debugger is not Halted")
	}
	if err := d.setDebugSSt(ctx, true); err != nil {
		return regs, err
	}
	if err := d.Exit(ctx, regs); err != nil {
		return regs, err
	}
	out, err := d.Enter(ctx)
	if err != nil {
		return regs, err
	}
	if err := d.setDebugSSt(ctx, false); err != nil {
		return out, err
	}
	d.stopReason = StopStep
	return out, nil
}

// setDebugSSt reads CP0.Debug, sets SSt (enable) or clears it, and
// writes it back, entirely
// through PrAcc-issued MFC0/MTC0 instructions.
func (d *Debugger) setDebugSSt(ctx context.Context, enable bool) error {
	base := d.p.dataBase()
	code := []uint32{insnMTC0(1, cp0RegDESAVE)}
	code = append(code, loadImm32(1, base)...)
	code = append(code, insnSW(2, 1, 0)) // save r2
	code = append(code, insnSW(3, 1, 4)) // save r3
	code = append(code, insnMFC0(2, cp0RegDebug))
	if enable {
		code = append(code, loadImm32(3, debugSSt)...)
		code = append(code, encodeR(0, 2, 3, 2, 0, 0x25)) // or $2,$2,$3
	} else {
		code = append(code, loadImm32(3, ^uint32(debugSSt))...)
		code = append(code, encodeR(0, 2, 3, 2, 0, 0x24)) // and $2,$2,$3
	}
	code = append(code, insnMTC0(2, cp0RegDebug))
	code = append(code, insnLW(3, 1, 4)) // restore r3
	code = append(code, insnLW(2, 1, 0)) // restore r2
	code = append(code, insnMFC0(1, cp0RegDESAVE))
	code = append(code, insnJ(d.p.codeBase()), insnNop(), insnNop())
	_, err := d.p.RunPrAcc(ctx, code, nil)
	return err
}
