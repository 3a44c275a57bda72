package jtag

import (
	"context"

	"github.com/fpgaprobe/hostrt/probeerr"
)

// Chain is a chain-wide session aggregating a Controller, the discovered
// IDCODEs, and a TAPHandle per TAP with the prefix/suffix BYPASS padding
// needed to reach each one, per SPEC_FULL.md §3.1.
type Chain struct {
	Controller *Controller

	IDCodes   []*uint32 // nil entry marks a BYPASS-only TAP
	IRLengths []int
	Handles   []*TAPHandle
}

// NewChain performs test_reset, scans and interrogates both the DR and IR
// chains, and builds a TAPHandle per TAP. irLengths may be nil to let
// InterrogateIR infer lengths from <10> markers; it must be supplied when
// the chain is ambiguous (spec.md §4.2).
func NewChain(ctx context.Context, ctrl *Controller, irLengths []int) (*Chain, error) {
	if err := ctrl.TestReset(ctx); err != nil {
		return nil, err
	}

	drCaptured, _, err := ctrl.ScanDR(ctx)
	if err != nil {
		return nil, err
	}
	idcodes, err := InterrogateDR(drCaptured)
	if err != nil {
		return nil, err
	}
	tapCount := len(idcodes)

	irCaptured, _, err := ctrl.ScanIR(ctx)
	if err != nil {
		return nil, err
	}
	lengths, err := InterrogateIR(irCaptured, tapCount, irLengths)
	if err != nil {
		return nil, err
	}

	c := &Chain{Controller: ctrl, IDCodes: idcodes, IRLengths: lengths}
	c.buildHandles()
	return c, nil
}

// buildHandles (re)computes, for every TAP index, the number of
// preceding/following bits contributed by the other TAPs in the chain:
// one BYPASS bit per other TAP for DR, and the sum of the other TAPs'
// ir_length for IR.
func (c *Chain) buildHandles() {
	n := len(c.IRLengths)
	c.Handles = make([]*TAPHandle, n)
	for i := 0; i < n; i++ {
		drPrefix, drSuffix := i, n-i-1
		irPrefix, irSuffix := 0, 0
		for j := 0; j < i; j++ {
			irPrefix += c.IRLengths[j]
		}
		for j := i + 1; j < n; j++ {
			irSuffix += c.IRLengths[j]
		}
		c.Handles[i] = NewTAPHandle(c.Controller, c.IRLengths[i], irPrefix, irSuffix, drPrefix, drSuffix)
	}
}

// Rescan re-runs test_reset, DR/IR scan, and interrogation, rebuilding
// the handle set. Used after a hotplug event or a suspected topology
// change; existing TAPHandle values held by callers become stale and
// must be re-fetched via Handle.
func (c *Chain) Rescan(ctx context.Context, irLengths []int) error {
	fresh, err := NewChain(ctx, c.Controller, irLengths)
	if err != nil {
		return err
	}
	*c = *fresh
	return nil
}

// Handle returns the TAPHandle at the given chain position (0 is closest
// to TDO, the first TAP whose bits are captured).
func (c *Chain) Handle(index int) (*TAPHandle, error) {
	if index < 0 || index >= len(c.Handles) {
		return nil, probeerr.Wrap(probeerr.KindChainInterrogation, "jtag", "handle", "TAP index out of range", nil)
	}
	return c.Handles[index], nil
}

// TAPCount returns the number of TAPs discovered on the chain.
func (c *Chain) TAPCount() int { return len(c.Handles) }
