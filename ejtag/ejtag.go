// Package ejtag implements the L3b MIPS EJTAG debug engine: the
// IMPCODE/CONTROL handshake, the PrAcc processor-access loop that streams
// fetched instructions and data through dmseg, CP0/GPR register access
// templates, single-step, hardware/software breakpoints, and I-cache
// sync, per spec.md §4.4. Register constant naming (cp0RegStatus,
// cp0RegCause, cp0RegDEPC, cp0RegBadVAddr, ...) follows the pack's
// SchawnnDev-awesomeVM/internal/mips cop0.go constant layout, adapted to
// the subset EJTAG's PrAcc templates actually touch. IR/DR field layouts
// (CONTROL's DM/EjtagBrk/ProbEn/ProbTrap/PrAcc/PRnW bits, IMPCODE's
// EJTAGver field) are grounded directly on original_source/'s
// arch/mips_ejtag.py bitfield layout.
package ejtag

import (
	"context"

	"github.com/fpgaprobe/hostrt/bits"
	"github.com/fpgaprobe/hostrt/bitstruct"
	"github.com/fpgaprobe/hostrt/jtag"
	"github.com/fpgaprobe/hostrt/probeerr"
)

// EJTAG IR values (5 bits), per original_source/arch/mips_ejtag.py.
var (
	irIMPCODE = mustIR("11000")
	irAddress = mustIR("00010")
	irData    = mustIR("10010")
	irControl = mustIR("01010")
	irAll     = mustIR("11010")
)

// impcodeSchema decodes the IMPCODE DR: word size, DMA support, EJTAG
// version, and the presence of MIPS16e.
var impcodeSchema = bitstruct.NewSchema(
	bitstruct.Field{Name: "mips32_64", Width: 1},
	bitstruct.Field{Name: "type_info", Width: 10},
	bitstruct.Field{Name: "type", Width: 2},
	bitstruct.Field{Name: "no_dma", Width: 1},
	bitstruct.Field{Name: "rsv0", Width: 1},
	bitstruct.Field{Name: "mips16", Width: 1},
	bitstruct.Field{Name: "rsv1", Width: 3},
	bitstruct.Field{Name: "asid_size", Width: 2},
	bitstruct.Field{Name: "rsv2", Width: 1},
	bitstruct.Field{Name: "dint_sup", Width: 1},
	bitstruct.Field{Name: "rsv3", Width: 3},
	bitstruct.Field{Name: "r4k_r3k", Width: 1},
	bitstruct.Field{Name: "ejtagver", Width: 3},
)

// controlSchema decodes/encodes the CONTROL DR per spec.md §4.4's
// "CONTROL/IMPCODE handshake".
var controlSchema = bitstruct.NewSchema(
	bitstruct.Field{Name: "rsv0", Width: 3},
	bitstruct.Field{Name: "dm", Width: 1},
	bitstruct.Field{Name: "rsv1", Width: 1},
	bitstruct.Field{Name: "dlock", Width: 1},
	bitstruct.Field{Name: "rsv2", Width: 1},
	bitstruct.Field{Name: "dsz", Width: 2},
	bitstruct.Field{Name: "drwn", Width: 1},
	bitstruct.Field{Name: "derr", Width: 1},
	bitstruct.Field{Name: "dstrt", Width: 1},
	bitstruct.Field{Name: "ejtagbrk", Width: 1},
	bitstruct.Field{Name: "isaondebug", Width: 1},
	bitstruct.Field{Name: "probtrap", Width: 1},
	bitstruct.Field{Name: "proben", Width: 1},
	bitstruct.Field{Name: "prrst", Width: 1},
	bitstruct.Field{Name: "dmaacc", Width: 1},
	bitstruct.Field{Name: "pracc", Width: 1},
	bitstruct.Field{Name: "prnw", Width: 1},
	bitstruct.Field{Name: "perrst", Width: 1},
	bitstruct.Field{Name: "halt", Width: 1},
	bitstruct.Field{Name: "doze", Width: 1},
	bitstruct.Field{Name: "vped", Width: 1},
	bitstruct.Field{Name: "rsv3", Width: 5},
	bitstruct.Field{Name: "psz", Width: 2},
	bitstruct.Field{Name: "rocc", Width: 1},
)

func mustIR(s string) uint64 {
	// 5-bit IR literal written LSB-first (original_source's bitarray("...",
	// endian="little") convention), reversed here to a plain numeric
	// constant: the leftmost character is bit 0.
	var v uint64
	for i, c := range s {
		if c == '1' {
			v |= 1 << uint(i)
		}
	}
	return v
}

func ejtagErr(op, msg string) error {
	return probeerr.Wrap(probeerr.KindProtocolState, "ejtag", op, msg, nil)
}

// Version identifies the negotiated EJTAG revision, which gates the
// DMAAcc-vs-PrAcc path for early debug setup and the R1-vs-R2 I-cache
// sync sequence.
type Version int

const (
	Version1x Version = iota
	Version2_0
	Version2_5
	Version2_6
	Version3_1
	Version4_0
	Version5_0
)

// Probe is the MIPS EJTAG session: IMPCODE-derived capabilities plus the
// CP0/GPR access state built on top of a single TAP.
type Probe struct {
	tap *jtag.TAPHandle

	wordSize   int // 32 or 64
	version    Version
	addrDRBits int

	session sessionState
}

// sessionState realizes spec.md §3's EJTAG session state machine:
// Probe -> Running (initial); Running<->Interrupted via EjtagBrk;
// Interrupted -> PrAcc -> Stopped on debug entry; Stopped -> PrAcc ->
// Running on debug return.
type sessionState int

const (
	stateProbe sessionState = iota
	stateRunning
	stateInterrupted
	statePrAcc
	stateStopped
)

func (s sessionState) String() string {
	switch s {
	case stateProbe:
		return "Probe"
	case stateRunning:
		return "Running"
	case stateInterrupted:
		return "Interrupted"
	case statePrAcc:
		return "PrAcc"
	case stateStopped:
		return "Stopped"
	default:
		return "unknown"
	}
}

// NewProbe builds an EJTAG Probe over tap, which must already have the
// MIPS EJTAG TAP's IR selected for shifting IMPCODE/ADDRESS/DATA/CONTROL.
func NewProbe(tap *jtag.TAPHandle) *Probe {
	return &Probe{tap: tap, session: stateProbe}
}

// State returns the probe's current session state.
func (p *Probe) State() sessionState { return p.session }

func ejtagVersionFromField(v uint64) Version {
	switch v {
	case 0:
		return Version1x
	case 1:
		return Version2_5
	case 2:
		return Version2_6
	case 3:
		return Version3_1
	case 4:
		return Version4_0
	case 5:
		return Version5_0
	default:
		return Version1x
	}
}

// Init reads IMPCODE, derives word size and EJTAG version, sizes the
// ADDRESS DR (see measureAddressDRLength), sets ProbEn/ProbTrap in
// CONTROL and verifies they latch, and, on EJTAG < 2.5, sets DmaAcc in
// CONTROL (see clearMPBitViaDMAAcc) (spec.md §4.4 "Probe").
func (p *Probe) Init(ctx context.Context) error {
	if err := p.tap.WriteIR(ctx, irBits(irIMPCODE)); err != nil {
		return err
	}
	raw, err := p.tap.ReadDR(ctx, 32)
	if err != nil {
		return err
	}
	impcode := impcodeSchema.FromUint(raw.Uint())
	if impcode.Get("mips32_64") != 0 {
		p.wordSize = 64
	} else {
		p.wordSize = 32
	}
	p.version = ejtagVersionFromField(impcode.Get("ejtagver"))

	if err := p.measureAddressDRLength(ctx); err != nil {
		return err
	}

	if err := p.tap.WriteIR(ctx, irBits(irControl)); err != nil {
		return err
	}
	ctl := controlSchema.New()
	_ = ctl.Set("proben", 1)
	_ = ctl.Set("probtrap", 1)
	got, err := p.tap.ExchangeDR(ctx, ctl.Bits())
	if err != nil {
		return err
	}
	readback := controlSchema.FromUint(got.Uint())
	if readback.Get("proben") != 1 || readback.Get("probtrap") != 1 {
		return ejtagErr("init", "ProbEn/ProbTrap did not latch in CONTROL")
	}

	if p.version == Version1x {
		if err := p.clearMPBitViaDMAAcc(ctx); err != nil {
			return err
		}
	}
	p.session = stateRunning
	return nil
}

// measureAddressDRLength selects the ADDRESS DR, reads 128 bits from it,
// and records the DR length as p.wordSize (capped at the number of bits
// read). The captured bits are not examined: no sign-bit search is made,
// so the length always follows the IMPCODE word size.
func (p *Probe) measureAddressDRLength(ctx context.Context) error {
	if err := p.tap.WriteIR(ctx, irBits(irAddress)); err != nil {
		return err
	}
	const probeBits = 128
	captured, err := p.tap.ReadDR(ctx, probeBits)
	if err != nil {
		return err
	}
	length := p.wordSize
	if length > captured.Len() {
		length = captured.Len()
	}
	p.addrDRBits = length
	return nil
}

// clearMPBitViaDMAAcc sets DmaAcc in CONTROL, the DMAAcc path being the
// only access method that works before first debug entry on EJTAG < 2.5
// implementations (spec.md §4.4). No DMA transfer to DCR follows, so the
// undocumented MP bit itself is left unchanged.
func (p *Probe) clearMPBitViaDMAAcc(ctx context.Context) error {
	if err := p.tap.WriteIR(ctx, irBits(irControl)); err != nil {
		return err
	}
	ctl := controlSchema.New()
	_ = ctl.Set("dmaacc", 1)
	_, err := p.tap.ExchangeDR(ctx, ctl.Bits())
	return err
}

// irBits packs a 5-bit EJTAG IR literal into a bits.Vector, LSB-first.
func irBits(v uint64) bits.Vector { return bits.FromUint(v, 5) }
