package arm7

import "context"

// unitOf returns the watchpoint unit a given breakpoint Kind occupies.
// Hardware breakpoints are assigned units in the order they were added
// (first hardware breakpoint -> W0, second -> W1); software breakpoints
// of a given ISA share whichever unit is not claimed by a hardware
// breakpoint, per spec.md §4.3's "feasible set ... bounded by {<=2 HARD}
// U {{SOFT_ARM?}, {SOFT_THUMB?}}". Unit assignment is recomputed from
// scratch on every SetBreakpoint/ClearBreakpoint call rather than cached,
// since the feasible set is always small (<=2 distinct kinds).
func (d *Debugger) unitFor(kind Kind) unit {
	hard := d.bkpt.hardKinds()
	if kind.isHard() {
		for i, bp := range hard {
			if bp.kind == kind {
				if i == 0 {
					return unitW0
				}
				return unitW1
			}
		}
		if len(hard) == 0 {
			return unitW0
		}
		return unitW1
	}
	// Software breakpoints take whichever unit no hardware breakpoint
	// occupies; with <=2 hardware breakpoints already budgeted, at most
	// one unit remains for the (at most two, one per ISA) software
	// kinds, and checkPolicy already rejected any set needing more.
	if len(hard) == 0 {
		if kind == SoftARM {
			return unitW0
		}
		return unitW1
	}
	return unitW1
}

// SetBreakpoint installs a breakpoint of the given kind at addr, per
// spec.md §4.3's breakpoint policy: hardware breakpoints program a
// watchpoint unit to match the fetch address; software breakpoints patch
// target code with the BKPT trap pattern and program the shared unit to
// match that pattern on any instruction fetch. The debugger need not be
// halted (the watchpoint itself is what triggers entry for a hardware
// breakpoint), but software breakpoints require memory access to patch
// code, so they are only installed while Halted.
func (d *Debugger) SetBreakpoint(ctx context.Context, addr uint32, kind Kind) error {
	width := 4
	if kind.isThumb() {
		width = 2
	}
	if kind.isHard() {
		if err := d.bkpt.Add(addr, kind, 0, false); err != nil {
			return err
		}
		txn := NewTransaction(d.tap)
		d.programWatchpointFetchAddr(txn, d.unitFor(kind), addr, width)
		return txn.Submit(ctx)
	}
	if d.state != Halted {
		return dbgErr("set_breakpoint", "software breakpoints require the target to be Halted to patch code")
	}
	orig, err := d.ReadMemory(ctx, addr, width)
	if err != nil {
		return err
	}
	var origWord uint32
	if width == 2 {
		origWord = uint32(orig[0]) | uint32(orig[1])<<8
	} else {
		origWord = uint32(orig[0]) | uint32(orig[1])<<8 | uint32(orig[2])<<16 | uint32(orig[3])<<24
	}
	if err := d.bkpt.Add(addr, kind, origWord, true); err != nil {
		return err
	}
	trap := softwareTrapPattern(kind)
	patched := make([]byte, width)
	for i := 0; i < width; i++ {
		patched[i] = byte(trap >> (8 * i))
	}
	if err := d.WriteMemory(ctx, addr, patched); err != nil {
		d.bkpt.Remove(addr, kind)
		return dbgErr("set_breakpoint", "failed to write trap instruction to target code")
	}
	txn := NewTransaction(d.tap)
	d.programWatchpointFetchData(txn, d.unitFor(kind), trap, width)
	return txn.Submit(ctx)
}

// ClearBreakpoint removes a previously installed breakpoint, restoring
// patched code and disabling its watchpoint unit. If another breakpoint
// of the same kind remains installed (software breakpoints of one ISA
// share a unit; the policy also admits two hardware breakpoints of one
// kind), the unit is reprogrammed for a remaining instance instead of
// disabled; with none remaining, the unit is disabled outright.
func (d *Debugger) ClearBreakpoint(ctx context.Context, addr uint32, kind Kind) error {
	u := d.unitFor(kind)
	savedCode, haveSaved, ok := d.bkpt.Remove(addr, kind)
	if !ok {
		return nil
	}
	if haveSaved {
		width := 4
		if kind.isThumb() {
			width = 2
		}
		restore := make([]byte, width)
		for i := 0; i < width; i++ {
			restore[i] = byte(savedCode >> (8 * i))
		}
		if err := d.WriteMemory(ctx, addr, restore); err != nil {
			return dbgErr("clear_breakpoint", "failed to restore original code word")
		}
	}
	if remaining := d.remainingOfKind(kind); remaining != nil {
		txn := NewTransaction(d.tap)
		width := 4
		if kind.isThumb() {
			width = 2
		}
		if kind.isHard() {
			d.programWatchpointFetchAddr(txn, u, remaining.addr, width)
		} else {
			d.programWatchpointFetchData(txn, u, softwareTrapPattern(kind), width)
		}
		return txn.Submit(ctx)
	}
	txn := NewTransaction(d.tap)
	d.disableWatchpoint(txn, u)
	return txn.Submit(ctx)
}

// remainingOfKind returns another installed breakpoint of the same kind,
// if one exists, so its shared unit can be reprogrammed rather than
// disabled.
func (d *Debugger) remainingOfKind(kind Kind) *breakpoint {
	for _, bp := range d.bkpt.set {
		if bp.kind == kind {
			return bp
		}
	}
	return nil
}
