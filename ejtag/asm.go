package ejtag

// Minimal MIPS32 instruction encoders, just enough to build the PrAcc
// code arrays the register-access and I-cache-sync templates need
// (spec.md §4.4). Not a general assembler: each helper encodes exactly
// one instruction form.

func encodeR(opcode, rs, rt, rd, shamt, funct uint32) uint32 {
	return opcode<<26 | rs<<21 | rt<<16 | rd<<11 | shamt<<6 | funct
}

func encodeI(opcode, rs, rt uint32, imm uint16) uint32 {
	return opcode<<26 | rs<<21 | rt<<16 | uint32(imm)
}

func encodeJ(opcode, target uint32) uint32 {
	return opcode<<26 | (target>>2)&0x03ffffff
}

// insnNOP is MIPS32 SLL r0, r0, 0 (the conventional all-zero NOP encoding).
const insnNOP uint32 = 0x00000000

func insnNop() uint32 { return insnNOP }

func insnSW(rt, base uint32, offset uint16) uint32 { return encodeI(0x2b, base, rt, offset) }
func insnLW(rt, base uint32, offset uint16) uint32 { return encodeI(0x23, base, rt, offset) }
func insnLUI(rt uint32, imm uint16) uint32          { return encodeI(0x0f, 0, rt, imm) }
func insnORI(rt, rs uint32, imm uint16) uint32       { return encodeI(0x0d, rs, rt, imm) }
func insnMFC0(rt, rd uint32) uint32                 { return encodeR(0x10, 0, rt, rd, 0, 0) }
func insnMTC0(rt, rd uint32) uint32                 { return encodeR(0x10, 4, rt, rd, 0, 0) }
func insnMFLO(rd uint32) uint32                     { return encodeR(0, 0, 0, rd, 0, 0x12) }
func insnMFHI(rd uint32) uint32                     { return encodeR(0, 0, 0, rd, 0, 0x10) }
func insnJ(target uint32) uint32                    { return encodeJ(0x02, target) }
func insnDERET() uint32                             { return encodeR(0x10, 0x10, 0, 0, 0, 0x1f) }

// loadImm32 returns the two-instruction LUI/ORI sequence that loads an
// arbitrary 32-bit constant into reg, used to materialize dmseg
// addresses inside PrAcc code arrays.
func loadImm32(reg uint32, v uint32) []uint32 {
	return []uint32{insnLUI(reg, uint16(v>>16)), insnORI(reg, reg, uint16(v))}
}
