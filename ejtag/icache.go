package ejtag

import "context"

// cacheOp/funct encodings for the MIPS32 CACHE instruction (opcode
// 0x2f): op field packs (cache, operation) as cache<<2|operation.
const cacheOpcode = 0x2f

func insnCache(base uint32, op uint32, offset uint16) uint32 {
	return encodeI(cacheOpcode, base, op, offset)
}

// insnSYNC and insnSYNCI realize spec.md §4.4's I-cache sync sequences.
// SYNC is the special-opcode completion barrier (funct 0x0f); SYNCI is
// the regimm-class "sync instruction cache line" (rt field 0x1f).
func insnSYNC() uint32 { return encodeR(0, 0, 0, 0, 0, 0x0f) }
func insnSYNCI(base uint32, offset uint16) uint32 {
	return encodeI(0x01, base, 0x1f, offset)
}

// cacheable reports whether addr's region is cacheable, per spec.md
// §4.4's "determine the region's cacheability from CP0.Config.{KU, K0,
// K23}". addr is classified by MIPS segment (useg/kseg0/kseg23) and the
// matching Config field is checked against the uncached encoding.
func cacheable(config uint32, addr uint32) bool {
	var field uint32
	switch {
	case addr < 0x80000000: // useg
		field = (config >> configKUShift) & configKUMask
	case addr < 0xa0000000: // kseg0
		field = (config >> configK0Shift) & configK0Mask
	default: // kseg1/kseg2/kseg3
		field = (config >> configK23Shift) & configK23Mask
	}
	return field != cacheAttrUncached
}

// SyncICache implements spec.md §4.4's "After writing code memory...
// run either the R1 sequence (CACHE Hit_Invalidate_I; CACHE
// Fill; SYNC) or the R2 sequence (SYNCI; SYNC) at the written address",
// gated on the target region actually being cacheable.
func (p *Probe) SyncICache(ctx context.Context, addr uint32, length uint32) error {
	config, err := p.readConfigViaPrAcc(ctx)
	if err != nil {
		return err
	}
	if !cacheable(config, addr) {
		return nil
	}

	var code []uint32
	code = append(code, loadImm32(1, addr)...)
	if p.version >= Version2_0 {
		code = append(code, insnSYNCI(1, 0), insnSYNC())
	} else {
		const (
			opHitInvalidateI = 0b110_01
			opFillI          = 0b100_00
		)
		code = append(code, insnCache(1, opHitInvalidateI, 0), insnCache(1, opFillI, 0), insnSYNC())
	}
	code = append(code, insnJ(p.codeBase()), insnNop(), insnNop())
	_, err = p.RunPrAcc(ctx, code, nil)
	return err
}

// readConfigViaPrAcc reads CP0 Config (reg 16, sel 0) through the
// standard save/MFC0/restore PrAcc template used throughout this
// package.
func (p *Probe) readConfigViaPrAcc(ctx context.Context) (uint32, error) {
	base := p.dataBase()
	code := []uint32{insnMTC0(1, cp0RegDESAVE)}
	code = append(code, loadImm32(1, base)...)
	code = append(code, insnSW(2, 1, 0))
	code = append(code, insnMFC0(2, cp0RegConfig))
	code = append(code, insnSW(2, 1, 4))
	code = append(code, insnLW(2, 1, 0))
	code = append(code, insnMFC0(1, cp0RegDESAVE))
	code = append(code, insnJ(p.codeBase()), insnNop(), insnNop())

	words, err := p.RunPrAcc(ctx, code, make([]uint32, 2))
	if err != nil {
		return 0, err
	}
	if len(words) < 2 {
		return 0, praccErr("read_config", "short PrAcc data readback")
	}
	return words[1], nil
}
