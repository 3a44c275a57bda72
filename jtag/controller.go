// Package jtag implements the L2 TAP controller: the 16-state machine,
// shift primitives, IR/DR register operations, chain scan/interrogation,
// and per-TAP handles with prefix/suffix BYPASS padding, per spec.md §4.2.
package jtag

import (
	"context"

	"github.com/fpgaprobe/hostrt/bits"
	"github.com/fpgaprobe/hostrt/internal/logging"
	"github.com/fpgaprobe/hostrt/probeerr"
	"github.com/fpgaprobe/hostrt/sequencer"
)

// Controller owns the TAP's current state and drives a sequencer.Client.
// Per-TAP handles (TAPHandle) are read-only with respect to the current
// state and must share the underlying Controller serially (spec.md §5).
type Controller struct {
	seq        *sequencer.Client
	state      State
	generation int // bumped by TestReset; invalidates IR elision caches
	log        logging.Logger
}

// NewController wraps a sequencer.Client. The TAP's actual state is
// unknown until the caller establishes it (normally via EnterTestLogicReset).
func NewController(seq *sequencer.Client) *Controller {
	return &Controller{seq: seq, state: TestLogicReset, log: logging.Discard()}
}

// WithLogger attaches l as the Controller's warning sink (e.g. TestReset's
// forced chain reset, spec.md §7) and returns c for chaining.
func (c *Controller) WithLogger(l logging.Logger) *Controller {
	c.log = l
	return c
}

// State returns the controller's current, known TAP state.
func (c *Controller) State() State { return c.state }

// Generation returns a counter bumped on every TestReset; TAPHandle uses
// it to invalidate its IR-elision cache.
func (c *Controller) Generation() int { return c.generation }

// Sequencer exposes the underlying L1 client, for callers (arm7, ejtag)
// that need the raw cancellable-poll primitive (spec.md §5) beneath the
// TAP abstraction.
func (c *Controller) Sequencer() *sequencer.Client { return c.seq }

func protoErr(op, msg string) error {
	return probeerr.Wrap(probeerr.KindProtocolState, "jtag", op, msg, nil)
}

// EnterState shifts the shortest TMS path from the current state to
// target, updating the tracked state as it goes.
func (c *Controller) EnterState(ctx context.Context, target State) error {
	path := shortestPath(c.state, target)
	if len(path) == 0 {
		return nil
	}
	return c.shiftTMSPath(ctx, path)
}

// TraverseStatePath follows a user-specified explicit path of states, one
// TMS edge at a time, without taking the shortest route. Each consecutive
// pair must be adjacent in the transition graph.
func (c *Controller) TraverseStatePath(ctx context.Context, path []State) error {
	cur := c.state
	var tmsPath []int
	for _, next := range path {
		if next == cur.Next(0) {
			tmsPath = append(tmsPath, 0)
		} else if next == cur.Next(1) {
			tmsPath = append(tmsPath, 1)
		} else {
			return protoErr("traverse_state_path", cur.String()+" -> "+next.String()+" is not an adjacent transition")
		}
		cur = next
	}
	return c.shiftTMSPath(ctx, tmsPath)
}

// EnterTestLogicReset always shifts five TMS=1 cycles when force is true,
// per spec.md §4.2 ("enter_test_logic_reset(force=True) always shifts five
// 1s"); otherwise it takes the (possibly shorter) BFS path.
func (c *Controller) EnterTestLogicReset(ctx context.Context, force bool) error {
	if !force {
		return c.EnterState(ctx, TestLogicReset)
	}
	if err := c.shiftTMSPath(ctx, []int{1, 1, 1, 1, 1}); err != nil {
		return err
	}
	c.state = TestLogicReset
	return nil
}

// TestReset drives the TAP to Test-Logic-Reset and invalidates every
// TAPHandle's IR-elision cache (spec.md §5's "shared resources").
func (c *Controller) TestReset(ctx context.Context) error {
	if c.state != TestLogicReset {
		c.log.Warn("JTAG chain required a forced reset", "from", c.state.String())
	}
	if err := c.EnterTestLogicReset(ctx, true); err != nil {
		return err
	}
	c.generation++
	return nil
}

func (c *Controller) shiftTMSPath(ctx context.Context, tmsBits []int) error {
	v := bits.New(len(tmsBits))
	for i, b := range tmsBits {
		v = v.SetBit(i, b != 0)
	}
	if err := c.seq.ShiftTMS(ctx, v.Bytes(), v.Len()); err != nil {
		return err
	}
	for _, b := range tmsBits {
		c.state = c.state.Next(b)
	}
	return nil
}

// ShiftTMS shifts an explicit TMS bit vector (bypassing the state-path
// helpers); used by callers that need raw TMS control.
func (c *Controller) ShiftTMS(ctx context.Context, tms bits.Vector) error {
	bitsList := make([]int, tms.Len())
	for i := 0; i < tms.Len(); i++ {
		if tms.Bit(i) {
			bitsList[i] = 1
		}
	}
	return c.shiftTMSPath(ctx, bitsList)
}

// assertState returns an error unless the current state is one of want.
func (c *Controller) assertState(op string, want ...State) error {
	for _, w := range want {
		if c.state == w {
			return nil
		}
	}
	return protoErr(op, "not in an expected state (currently "+c.state.String()+")")
}

// ShiftTDI shifts data into the TAP from Shift-DR or Shift-IR, with prefix
// and suffix dummy cycles (TDI=1) for BYPASS padding, per spec.md §4.2.
// When last is true, TMS is asserted on the final bit to exit the shift
// state.
func (c *Controller) ShiftTDI(ctx context.Context, data bits.Vector, prefix, suffix int, last bool) error {
	if err := c.assertState("shift_tdi", ShiftDR, ShiftIR); err != nil {
		return err
	}
	padded := padded(data, prefix, suffix)
	if err := c.seq.ShiftTDI(ctx, padded.Bytes(), padded.Len(), last); err != nil {
		return err
	}
	if last {
		c.state = c.state.Next(1)
	}
	return nil
}

// ShiftTDO shifts count bits out from Shift-DR or Shift-IR, discarding
// prefix/suffix padding bits from the result.
func (c *Controller) ShiftTDO(ctx context.Context, count, prefix, suffix int, last bool) (bits.Vector, error) {
	if err := c.assertState("shift_tdo", ShiftDR, ShiftIR); err != nil {
		return bits.Vector{}, err
	}
	total := prefix + count + suffix
	raw, err := c.seq.ShiftTDO(ctx, total)
	if err != nil {
		return bits.Vector{}, err
	}
	if last {
		c.state = c.state.Next(1)
	}
	v := bits.FromBytes(raw, total)
	return v.Slice(prefix, prefix+count), nil
}

// ShiftTDIO shifts data in while capturing TDO, per spec.md §4.2.
func (c *Controller) ShiftTDIO(ctx context.Context, data bits.Vector, prefix, suffix int, last bool) (bits.Vector, error) {
	if err := c.assertState("shift_tdio", ShiftDR, ShiftIR); err != nil {
		return bits.Vector{}, err
	}
	padded := padded(data, prefix, suffix)
	raw, err := c.seq.ShiftTDIO(ctx, padded.Bytes(), padded.Len())
	if err != nil {
		return bits.Vector{}, err
	}
	if last {
		c.state = c.state.Next(1)
	}
	v := bits.FromBytes(raw, padded.Len())
	return v.Slice(prefix, prefix+data.Len()), nil
}

// padded returns prefix ones, then data, then suffix ones (dummy BYPASS
// cycles drive TDI=1 per spec.md §4.2).
func padded(data bits.Vector, prefix, suffix int) bits.Vector {
	out := bits.Ones(prefix)
	out = out.Concat(data)
	out = out.Concat(bits.Ones(suffix))
	return out
}

// ReadIR performs Capture-IR -> Shift-IR -> (read) -> Update-IR, returning
// the captured chain contents of length nbits (no prefix/suffix; callers
// needing padding use TAPHandle).
func (c *Controller) ReadIR(ctx context.Context, nbits int) (bits.Vector, error) {
	return c.readRegister(ctx, CaptureIR, ShiftIR, UpdateIR, nbits)
}

// ReadDR performs Capture-DR -> Shift-DR -> (read) -> Update-DR.
func (c *Controller) ReadDR(ctx context.Context, nbits int) (bits.Vector, error) {
	return c.readRegister(ctx, CaptureDR, ShiftDR, UpdateDR, nbits)
}

func (c *Controller) readRegister(ctx context.Context, capture, shift, update State, nbits int) (bits.Vector, error) {
	if err := c.EnterState(ctx, shift); err != nil {
		return bits.Vector{}, err
	}
	v, err := c.ShiftTDO(ctx, nbits, 0, 0, true)
	if err != nil {
		return bits.Vector{}, err
	}
	if err := c.EnterState(ctx, update); err != nil {
		return bits.Vector{}, err
	}
	return v, nil
}

// WriteIR performs Capture-IR -> Shift-IR -> (write) -> Update-IR.
func (c *Controller) WriteIR(ctx context.Context, value bits.Vector) error {
	return c.writeRegister(ctx, ShiftIR, UpdateIR, value)
}

// WriteDR performs Capture-DR -> Shift-DR -> (write) -> Update-DR.
func (c *Controller) WriteDR(ctx context.Context, value bits.Vector) error {
	return c.writeRegister(ctx, ShiftDR, UpdateDR, value)
}

func (c *Controller) writeRegister(ctx context.Context, shift, update State, value bits.Vector) error {
	if err := c.EnterState(ctx, shift); err != nil {
		return err
	}
	if err := c.ShiftTDI(ctx, value, 0, 0, true); err != nil {
		return err
	}
	return c.EnterState(ctx, update)
}

// ExchangeIR performs Capture-IR -> Shift-IR -> (read+write) -> Update-IR.
func (c *Controller) ExchangeIR(ctx context.Context, value bits.Vector) (bits.Vector, error) {
	return c.exchangeRegister(ctx, ShiftIR, UpdateIR, value)
}

// ExchangeDR performs Capture-DR -> Shift-DR -> (read+write) -> Update-DR.
func (c *Controller) ExchangeDR(ctx context.Context, value bits.Vector) (bits.Vector, error) {
	return c.exchangeRegister(ctx, ShiftDR, UpdateDR, value)
}

func (c *Controller) exchangeRegister(ctx context.Context, shift, update State, value bits.Vector) (bits.Vector, error) {
	if err := c.EnterState(ctx, shift); err != nil {
		return bits.Vector{}, err
	}
	captured, err := c.ShiftTDIO(ctx, value, 0, 0, true)
	if err != nil {
		return bits.Vector{}, err
	}
	if err := c.EnterState(ctx, update); err != nil {
		return bits.Vector{}, err
	}
	return captured, nil
}
