package ejtag

import "context"

// NumRegisters is the GDB register count spec.md §4.4 names: r0..r31,
// sr, lo, hi, bad, cause, pc.
const NumRegisters = 38

const (
	regSR = 32 + iota
	regLO
	regHI
	regBad
	regCause
	regPC
)

// dataBase/codeBase are the absolute dmseg addresses RunPrAcc's code
// array executes from and the register template reads/writes through.
func (p *Probe) dataBase() uint32 { return dmsegBase + dataOffset }
func (p *Probe) codeBase() uint32 { return dmsegBase + codeOffset }

// GetRegisters implements spec.md §4.4's "target_get_registers()": a
// single PrAcc session that SWs each GPR, reads MFC0 for each CP0 reg,
// and MFLO/MFHI, returning the 38 words in GDB order. $1 is used as the
// dmseg address pointer (saved/restored via DESAVE per the entry
// prologue) and $2 as a scratch register for CP0/LO/HI reads; both are
// written back to dmseg before being clobbered, so the target's GPR
// file is observably unchanged once the session completes.
func (p *Probe) GetRegisters(ctx context.Context) ([38]uint32, error) {
	var out [38]uint32
	base := p.dataBase()
	code := []uint32{insnMTC0(1, cp0RegDESAVE)}
	code = append(code, loadImm32(1, base)...)
	code = append(code, insnSW(2, 1, 4*2)) // save r2's original value first
	code = append(code, insnSW(0, 1, 0))
	for i := uint32(3); i <= 31; i++ {
		code = append(code, insnSW(i, 1, uint16(4*i)))
	}
	code = append(code,
		insnMFC0(2, cp0RegStatus), insnSW(2, 1, 4*regSR),
		insnMFLO(2), insnSW(2, 1, 4*regLO),
		insnMFHI(2), insnSW(2, 1, 4*regHI),
		insnMFC0(2, cp0RegBadVAddr), insnSW(2, 1, 4*regBad),
		insnMFC0(2, cp0RegCause), insnSW(2, 1, 4*regCause),
		insnMFC0(2, cp0RegDEPC), insnSW(2, 1, 4*regPC),
		insnMFC0(2, cp0RegDESAVE), insnSW(2, 1, 4*1), // recover/store original r1
		insnLW(2, 1, 4*2),         // restore original r2
		insnMFC0(1, cp0RegDESAVE), // restore original r1
	)
	code = append(code, insnJ(p.codeBase()), insnNop(), insnNop())

	words, err := p.RunPrAcc(ctx, code, nil)
	if err != nil {
		return out, err
	}
	for i := 0; i < 38 && i < len(words); i++ {
		out[i] = words[i]
	}
	return out, nil
}

// SetRegisters implements the write-back half of spec.md §4.4's register
// access: loads r3..r31 directly, restores sr/lo/hi/pc via CP0 writes
// using $2 as scratch, and loads r1 and r2's final values last (after
// every other use of $1/$2 as pointer/scratch has completed).
func (p *Probe) SetRegisters(ctx context.Context, values [38]uint32) error {
	base := p.dataBase()
	code := loadImm32(1, base)
	for i := uint32(3); i <= 31; i++ {
		code = append(code, insnLW(i, 1, uint16(4*i)))
	}
	code = append(code,
		insnLW(2, 1, 4*regSR), insnMTC0(2, cp0RegStatus),
		insnLW(2, 1, 4*regLO), encodeR(0, 2, 0, 0, 0, 0x13), // mtlo $2
		insnLW(2, 1, 4*regHI), encodeR(0, 2, 0, 0, 0, 0x11), // mthi $2
		insnLW(2, 1, 4*regPC), insnMTC0(2, cp0RegDEPC),
		insnLW(2, 1, 4*2), // r2's final value
		insnLW(1, 1, 4*1), // r1's final value (base still valid pre-write)
	)
	code = append(code, insnJ(p.codeBase()), insnNop(), insnNop())

	data := values[:]
	_, err := p.RunPrAcc(ctx, code, data)
	return err
}
