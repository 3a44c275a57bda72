package ejtag

// CP0 register (reg, sel) addresses EJTAG's PrAcc templates touch,
// naming adapted from the pack's SchawnnDev-awesomeVM/internal/mips
// cop0.go constant layout (status/cause/epc/badVAddr) to the subset this
// engine actually accesses, per original_source/arch/mips_ejtag.py's
// CP0_*_addr table.
const (
	cp0RegBadVAddr = 8
	cp0RegStatus   = 12
	cp0RegCause    = 13
	cp0RegConfig   = 16
	cp0RegDebug    = 23
	cp0RegDebug2   = 23 // sel 6
	cp0RegDEPC     = 24
	cp0RegDESAVE   = 31
)

// Config register (CP0 16, sel 0) field shifts/widths, per the standard
// MIPS32 privileged resource architecture: K0 selects kseg0
// cacheability, KU/K23 select useg/kseg2-3 cacheability.
const (
	configK0Shift  = 0
	configK0Mask   = 0x7
	configKUShift  = 25
	configKUMask   = 0x7
	configK23Shift = 28
	configK23Mask  = 0x7
)

// cacheAttrUncached is the K0/KU/K23 encoding for "uncached"; every
// other 3-bit value names a cached write policy.
const cacheAttrUncached = 2

const (
	cp0SelDebug2 = 6
)

// Debug register bits (CP0 reg 23 sel 0), per original_source's CP0_Debug
// bitfield.
const (
	debugDSS = 1 << 0
	debugDBp = 1 << 1
	debugSSt = 1 << 8
	debugDM  = 1 << 30
)

// debugExcCodeShift/Mask extract the 5-bit DExcCode field.
const (
	debugExcCodeShift = 10
	debugExcCodeMask  = 0x1f
)

// DCR (DRSEG+0x0000) bits, per original_source's DRSEG_DCR bitfield; only
// ProbEn is named here, and no code in this module reads or writes DCR.
const (
	dcrProbEn = 1 << 0
)
