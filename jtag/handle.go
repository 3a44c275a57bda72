package jtag

import (
	"context"

	"github.com/fpgaprobe/hostrt/bits"
	"github.com/fpgaprobe/hostrt/probeerr"
)

// TAPHandle wraps a shared Controller with one TAP's position in a
// multi-TAP chain: its IR length and the prefix/suffix BYPASS padding
// needed to reach it, per spec.md §4.2 ("Per-TAP handle. Wraps the
// controller with (ir_length, ir_prefix, ir_suffix, dr_prefix,
// dr_suffix); forwards all shift/IR/DR operations, automatically
// inserting padding.").
//
// A TAPHandle does not own the Controller; every TAP sharing a chain
// shares the same Controller and must serialize access to it (spec.md §5).
type TAPHandle struct {
	ctrl *Controller

	irLength int
	irPrefix int
	irSuffix int
	drPrefix int
	drSuffix int

	haveLastIR bool
	lastIR     bits.Vector
	lastGen    int
}

// NewTAPHandle builds a handle for a TAP with the given IR length and
// chain position, expressed as the number of other TAPs' IR/DR bits (for
// IR) or BYPASS bits (for DR) that precede and follow this TAP in the
// shared scan chain.
func NewTAPHandle(ctrl *Controller, irLength, irPrefix, irSuffix, drPrefix, drSuffix int) *TAPHandle {
	return &TAPHandle{
		ctrl:     ctrl,
		irLength: irLength,
		irPrefix: irPrefix,
		irSuffix: irSuffix,
		drPrefix: drPrefix,
		drSuffix: drSuffix,
	}
}

// IRLength returns this TAP's instruction register width.
func (h *TAPHandle) IRLength() int { return h.irLength }

// Controller returns the shared Controller this handle is bound to.
func (h *TAPHandle) Controller() *Controller { return h.ctrl }

func handleErr(op, msg string) error {
	return probeerr.Wrap(probeerr.KindProtocolState, "jtag", op, msg, nil)
}

// ShiftDR shifts value through this TAP's DR, padded with BYPASS cycles
// for the other TAPs in the chain, and returns the captured response.
func (h *TAPHandle) ShiftDR(ctx context.Context, value bits.Vector) (bits.Vector, error) {
	if err := h.ctrl.EnterState(ctx, ShiftDR); err != nil {
		return bits.Vector{}, err
	}
	resp, err := h.ctrl.ShiftTDIO(ctx, value, h.drPrefix, h.drSuffix, true)
	if err != nil {
		return bits.Vector{}, err
	}
	if err := h.ctrl.EnterState(ctx, UpdateDR); err != nil {
		return bits.Vector{}, err
	}
	return resp, nil
}

// ReadDR captures nbits from this TAP's DR without driving new data in
// (TDI held at the BYPASS padding value throughout).
func (h *TAPHandle) ReadDR(ctx context.Context, nbits int) (bits.Vector, error) {
	if err := h.ctrl.EnterState(ctx, ShiftDR); err != nil {
		return bits.Vector{}, err
	}
	v, err := h.ctrl.ShiftTDO(ctx, nbits, h.drPrefix, h.drSuffix, true)
	if err != nil {
		return bits.Vector{}, err
	}
	if err := h.ctrl.EnterState(ctx, UpdateDR); err != nil {
		return bits.Vector{}, err
	}
	return v, nil
}

// WriteIR loads ir into this TAP's instruction register, padded to reach
// it in the shared chain. Per spec.md §4.2, the write is elided if the
// last IR value this handle wrote is bit-identical and the Controller's
// generation has not changed since (Controller.TestReset bumps the
// generation and invalidates the cache).
func (h *TAPHandle) WriteIR(ctx context.Context, ir bits.Vector) error {
	if ir.Len() != h.irLength {
		return handleErr("write_ir", "ir value width does not match this TAP's ir_length")
	}
	gen := h.ctrl.Generation()
	if h.haveLastIR && h.lastGen == gen && h.lastIR.Equal(ir) {
		return nil
	}
	if err := h.ctrl.EnterState(ctx, ShiftIR); err != nil {
		return err
	}
	if err := h.ctrl.ShiftTDI(ctx, ir, h.irPrefix, h.irSuffix, true); err != nil {
		return err
	}
	if err := h.ctrl.EnterState(ctx, UpdateIR); err != nil {
		return err
	}
	h.haveLastIR = true
	h.lastIR = ir
	h.lastGen = gen
	return nil
}

// ReadIR captures this TAP's IR without changing it (Capture-IR loads the
// fixed IDCODE-style capture pattern, not the live instruction).
func (h *TAPHandle) ReadIR(ctx context.Context) (bits.Vector, error) {
	if err := h.ctrl.EnterState(ctx, ShiftIR); err != nil {
		return bits.Vector{}, err
	}
	v, err := h.ctrl.ShiftTDO(ctx, h.irLength, h.irPrefix, h.irSuffix, true)
	if err != nil {
		return bits.Vector{}, err
	}
	if err := h.ctrl.EnterState(ctx, UpdateIR); err != nil {
		return bits.Vector{}, err
	}
	return v, nil
}
