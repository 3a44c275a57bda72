package spi

import (
	"context"

	"github.com/fpgaprobe/hostrt/sequencer"
)

// SequencerBus is the probe-native spi.Bus spec.md §4.1/§4.6 actually
// describes: chip-select framing via the sequencer's SetAux opcode and
// 1/2/4-bit phase control via ShiftSPI, as opposed to IoctlBus's Linux
// spidev passthrough (an alternate transport for when the controller
// lives behind a kernel spidev node rather than the probe itself).
type SequencerBus struct {
	seq   *sequencer.Client
	cs    sequencer.AuxLine
	phase sequencer.SPIPhase
}

var _ Bus = (*SequencerBus)(nil)

// NewSequencerBus builds a SequencerBus driving chip-select line cs at
// the given phase width (1/2/4-bit).
func NewSequencerBus(seq *sequencer.Client, cs sequencer.AuxLine, phase sequencer.SPIPhase) *SequencerBus {
	return &SequencerBus{seq: seq, cs: cs, phase: phase}
}

// SetPhase changes the data-phase width for subsequent TransferRaw calls,
// letting flash.Device switch between 1-1-1, 1-1-2, and 1-4-4 style
// command framing as SFDP's fast-read modes require.
func (b *SequencerBus) SetPhase(phase sequencer.SPIPhase) { b.phase = phase }

// Assert drives CS# low (spec.md §4.6's "CS#↓").
func (b *SequencerBus) Assert(ctx context.Context) error {
	return b.seq.SetAux(ctx, b.cs, false)
}

// Deassert drives CS# high (spec.md §4.6's "CS#↑").
func (b *SequencerBus) Deassert(ctx context.Context) error {
	return b.seq.SetAux(ctx, b.cs, true)
}

// TransferRaw shifts tx full-duplex over the sequencer at the bus's
// current phase width.
func (b *SequencerBus) TransferRaw(ctx context.Context, tx []byte) ([]byte, error) {
	return b.seq.ShiftSPI(ctx, tx, b.phase)
}
