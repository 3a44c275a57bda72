// Package arcjtag implements the L3c ARC JTAG transaction engine: IR/DR
// access to an ARC 700 core's memory, core-register, and auxiliary-
// register spaces, per spec.md §4.7. Grounded directly on
// original_source/arch/arc/jtag.py's IR/DR bitfield layout (no pack
// example carries an ARC JTAG driver), expressed with this module's
// jtag.TAPHandle/bitstruct idiom instead of the original's bit/
// bitstruct module pair.
package arcjtag

import (
	"context"

	"github.com/fpgaprobe/hostrt/bits"
	"github.com/fpgaprobe/hostrt/bitstruct"
	"github.com/fpgaprobe/hostrt/jtag"
	"github.com/fpgaprobe/hostrt/probeerr"
)

// IR values (4 bits), per original_source's arch/arc/jtag.py.
var (
	irResetTest = mustIR("0010") // DR[32]
	irStatus    = mustIR("1000") // DR[4]
	irTxnCmd    = mustIR("1001") // DR[4]
	irAddress   = mustIR("1010") // DR[32]
	irData      = mustIR("1011") // DR[32]
	irIDCode    = mustIR("1100") // DR[32]
	irBypass    = mustIR("1111") // DR[1]
)

func mustIR(s string) bits.Vector {
	v, err := bits.FromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// statusSchema decodes the 4-bit STATUS DR.
var statusSchema = bitstruct.NewSchema(
	bitstruct.Field{Name: "st", Width: 1},
	bitstruct.Field{Name: "fl", Width: 1},
	bitstruct.Field{Name: "rd", Width: 1},
	bitstruct.Field{Name: "pc_sel", Width: 1},
)

// Space selects which ARC address space a transaction targets.
type Space int

const (
	SpaceMemory Space = iota
	SpaceCore
	SpaceAux
)

// TXN_COMMAND DR values, per original_source's DR_TXN_COMMAND_* table.
const (
	cmdWriteMemory = 0b0000
	cmdWriteCore   = 0b0001
	cmdWriteAux    = 0b0010
	cmdReadMemory  = 0b0100
	cmdReadCore    = 0b0101
	cmdReadAux     = 0b0110
)

func writeCmd(s Space) uint64 {
	switch s {
	case SpaceCore:
		return cmdWriteCore
	case SpaceAux:
		return cmdWriteAux
	default:
		return cmdWriteMemory
	}
}

func readCmd(s Space) uint64 {
	switch s {
	case SpaceCore:
		return cmdReadCore
	case SpaceAux:
		return cmdReadAux
	default:
		return cmdReadMemory
	}
}

// Probe drives one ARC 700 core's JTAG transaction port over a single
// TAP handle.
type Probe struct {
	tap *jtag.TAPHandle
}

// NewProbe builds an arcjtag Probe over tap, which must already be the
// TAP handle for the ARC core's debug IR.
func NewProbe(tap *jtag.TAPHandle) *Probe { return &Probe{tap: tap} }

func arcErr(op, msg string) error {
	return probeerr.Wrap(probeerr.KindTargetFailure, "arcjtag", op, msg, nil)
}

// IDCode shifts the 32-bit IDCODE DR.
func (p *Probe) IDCode(ctx context.Context) (uint32, error) {
	if err := p.tap.WriteIR(ctx, irIDCode); err != nil {
		return 0, err
	}
	v, err := p.tap.ReadDR(ctx, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v.Uint()), nil
}

// ReadWord issues a read transaction against space at addr and returns
// the 32-bit result, per original_source's TXN_COMMAND/ADDRESS/DATA/
// STATUS handshake: write TXN_COMMAND, write ADDRESS, poll STATUS until
// RD, then shift DATA.
func (p *Probe) ReadWord(ctx context.Context, space Space, addr uint32) (uint32, error) {
	if err := p.writeCommand(ctx, readCmd(space)); err != nil {
		return 0, err
	}
	if err := p.writeAddress(ctx, addr); err != nil {
		return 0, err
	}
	if err := p.pollReady(ctx); err != nil {
		return 0, err
	}
	return p.readData(ctx)
}

// WriteWord issues a write transaction against space at addr.
func (p *Probe) WriteWord(ctx context.Context, space Space, addr uint32, value uint32) error {
	if err := p.writeCommand(ctx, writeCmd(space)); err != nil {
		return err
	}
	if err := p.writeAddress(ctx, addr); err != nil {
		return err
	}
	if err := p.writeData(ctx, value); err != nil {
		return err
	}
	return p.pollReady(ctx)
}

func (p *Probe) writeCommand(ctx context.Context, cmd uint64) error {
	if err := p.tap.WriteIR(ctx, irTxnCmd); err != nil {
		return err
	}
	return p.tap.WriteDR(ctx, bits.FromUint(cmd, 4))
}

func (p *Probe) writeAddress(ctx context.Context, addr uint32) error {
	if err := p.tap.WriteIR(ctx, irAddress); err != nil {
		return err
	}
	return p.tap.WriteDR(ctx, bits.FromUint(uint64(addr), 32))
}

func (p *Probe) writeData(ctx context.Context, v uint32) error {
	if err := p.tap.WriteIR(ctx, irData); err != nil {
		return err
	}
	return p.tap.WriteDR(ctx, bits.FromUint(uint64(v), 32))
}

func (p *Probe) readData(ctx context.Context) (uint32, error) {
	if err := p.tap.WriteIR(ctx, irData); err != nil {
		return 0, err
	}
	v, err := p.tap.ReadDR(ctx, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v.Uint()), nil
}

// pollReady shifts STATUS until RD (ready) is set, bounded by
// maxStatusRetries per spec.md §5's "bounded iteration" rule.
const maxStatusRetries = 64

func (p *Probe) pollReady(ctx context.Context) error {
	if err := p.tap.WriteIR(ctx, irStatus); err != nil {
		return err
	}
	for i := 0; i < maxStatusRetries; i++ {
		v, err := p.tap.ReadDR(ctx, 4)
		if err != nil {
			return err
		}
		st := statusSchema.FromUint(v.Uint())
		if st.Get("rd") == 1 {
			return nil
		}
	}
	return arcErr("poll_ready", "transaction did not complete within status retry budget")
}

// ResetTest shifts the 32-bit RESET_TEST DR, used both for a normal
// JTAG-level reset and (by mec16xx) for the undocumented mass-erase
// sequence.
func (p *Probe) ResetTest(ctx context.Context, word uint32) error {
	if err := p.tap.WriteIR(ctx, irResetTest); err != nil {
		return err
	}
	return p.tap.WriteDR(ctx, bits.FromUint(uint64(word), 32))
}
