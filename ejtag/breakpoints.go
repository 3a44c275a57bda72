package ejtag

import "context"

// DRSEG register addresses for the hardware instruction-breakpoint
// unit array, per spec.md §4.4's "Hardware: write DRSEG IBAn/IBMn/IBCn".
// No pack example carries the EJTAG DRSEG memory map, so these follow
// the standard EJTAG IBS/IBAn/IBMn/IBCn layout directly (DRSEG base +
// 0x1000 for IBS, +0x1100 + n*0x100 per unit register triple).
const (
	drsegBase = 0xff300000
	ibsAddr   = drsegBase + 0x1000
	ibaBase   = drsegBase + 0x1100
	ibmBase   = drsegBase + 0x1108
	ibcBase   = drsegBase + 0x1110
	ibStride  = 0x100
)

// insnSDBBP is the MIPS32 software-breakpoint trap instruction
// (special2 opcode 0x1c, funct 0x3f), per spec.md §4.4.
const insnSDBBP uint32 = 0x1c<<26 | 0x3f

// ISA identifies the instruction encoding a software breakpoint patches.
type ISA int

const (
	ISAMIPS32 ISA = iota
	ISAMIPS16e
)

// softBreakpoint records the original code word so a software
// breakpoint can be lifted.
type softBreakpoint struct {
	addr     uint32
	original uint32
}

// Breakpoints tracks the hardware instruction-breakpoint units and
// software SDBBP patches active on a Probe, mirroring arm7's watchpoint
// budget bookkeeping for the MIPS side.
type Breakpoints struct {
	p *Probe

	hwCount int // IBS.BCN, read once during Init
	hwUsed  []uint32

	soft map[uint32]*softBreakpoint
}

// NewBreakpoints constructs the tracker, reading the unit count from
// DRSEG's IBS.BCN field.
func NewBreakpoints(ctx context.Context, p *Probe) (*Breakpoints, error) {
	ibs, err := p.ReadWord(ctx, ibsAddr)
	if err != nil {
		return nil, err
	}
	return &Breakpoints{
		p:       p,
		hwCount: int(ibs & 0xf), // BCN occupies IBS[3:0]
		soft:    make(map[uint32]*softBreakpoint),
	}, nil
}

// SetHardware programs a free instruction-breakpoint unit to match
// addr exactly (mask=0), per spec.md's "mask=0, ctl=enable".
func (b *Breakpoints) SetHardware(ctx context.Context, addr uint32) error {
	if len(b.hwUsed) >= b.hwCount {
		return praccErr("set_hardware_breakpoint", "no free instruction breakpoint unit")
	}
	unit := len(b.hwUsed)
	off := uint32(unit) * ibStride
	if err := b.p.WriteWord(ctx, ibaBase+off, addr); err != nil {
		return err
	}
	if err := b.p.WriteWord(ctx, ibmBase+off, 0); err != nil {
		return err
	}
	if err := b.p.WriteWord(ctx, ibcBase+off, 1); err != nil {
		return err
	}
	b.hwUsed = append(b.hwUsed, addr)
	return nil
}

// ClearHardware disables every unit matching addr.
func (b *Breakpoints) ClearHardware(ctx context.Context, addr uint32) error {
	kept := b.hwUsed[:0]
	for i, a := range b.hwUsed {
		if a != addr {
			kept = append(kept, a)
			continue
		}
		off := uint32(i) * ibStride
		if err := b.p.WriteWord(ctx, ibcBase+off, 0); err != nil {
			return err
		}
	}
	b.hwUsed = kept
	return nil
}

// SetSoftware patches the word at addr with SDBBP, saving the original
// word so it can be restored, and verifies the patch by reading it
// back (spec.md: "verifying the write (fails silently in ROM)").
func (b *Breakpoints) SetSoftware(ctx context.Context, addr uint32) error {
	if _, exists := b.soft[addr]; exists {
		return nil
	}
	orig, err := b.p.ReadWord(ctx, addr)
	if err != nil {
		return err
	}
	if err := b.p.WriteWord(ctx, addr, insnSDBBP); err != nil {
		return err
	}
	readback, err := b.p.ReadWord(ctx, addr)
	if err != nil {
		return err
	}
	if readback != insnSDBBP {
		return praccErr("set_software_breakpoint", "code write did not take (read-only memory?)")
	}
	b.soft[addr] = &softBreakpoint{addr: addr, original: orig}
	return b.p.SyncICache(ctx, addr, 4)
}

// ClearSoftware restores the original code word at addr.
func (b *Breakpoints) ClearSoftware(ctx context.Context, addr uint32) error {
	bp, ok := b.soft[addr]
	if !ok {
		return nil
	}
	if err := b.p.WriteWord(ctx, addr, bp.original); err != nil {
		return err
	}
	delete(b.soft, addr)
	return b.p.SyncICache(ctx, addr, 4)
}
