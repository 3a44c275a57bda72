package ejtag

import "context"

// ReadWord reads one 32-bit target-memory word through a PrAcc session:
// the target address is loaded into $1, the word fetched with LW into
// $2, and the result routed back through dmseg's data region. $1/$2 are
// saved/restored via DESAVE and a dmseg scratch slot respectively, the
// same discipline GetRegisters uses.
func (p *Probe) ReadWord(ctx context.Context, addr uint32) (uint32, error) {
	base := p.dataBase()
	code := []uint32{insnMTC0(1, cp0RegDESAVE)}
	code = append(code, loadImm32(1, base)...)
	code = append(code, insnSW(2, 1, 0)) // save r2 to dmseg[0]
	code = append(code, loadImm32(1, addr)...)
	code = append(code, insnLW(2, 1, 0)) // read target word
	code = append(code, loadImm32(1, base)...)
	code = append(code, insnSW(2, 1, 4)) // store result to dmseg[1]
	code = append(code, insnLW(2, 1, 0)) // restore r2
	code = append(code, insnMFC0(1, cp0RegDESAVE))
	code = append(code, insnJ(p.codeBase()), insnNop(), insnNop())

	words, err := p.RunPrAcc(ctx, code, make([]uint32, 2))
	if err != nil {
		return 0, err
	}
	if len(words) < 2 {
		return 0, praccErr("read_word", "short PrAcc data readback")
	}
	return words[1], nil
}

// WriteWord writes one 32-bit target-memory word through a PrAcc
// session, mirroring ReadWord: the value travels in via dmseg's data
// region (slot 1) and is SW'd to addr via $2, with $1/$2 saved and
// restored the same way.
func (p *Probe) WriteWord(ctx context.Context, addr uint32, value uint32) error {
	base := p.dataBase()
	code := []uint32{insnMTC0(1, cp0RegDESAVE)}
	code = append(code, loadImm32(1, base)...)
	code = append(code, insnSW(2, 1, 0)) // save r2 to dmseg[0]
	code = append(code, insnLW(2, 1, 4)) // load value from dmseg[1]
	code = append(code, loadImm32(1, addr)...)
	code = append(code, insnSW(2, 1, 0)) // write value to target
	code = append(code, loadImm32(1, base)...)
	code = append(code, insnLW(2, 1, 0)) // restore r2
	code = append(code, insnMFC0(1, cp0RegDESAVE))
	code = append(code, insnJ(p.codeBase()), insnNop(), insnNop())

	_, err := p.RunPrAcc(ctx, code, []uint32{0, value})
	return err
}

// ReadMemory reads n consecutive words starting at addr.
func (p *Probe) ReadMemory(ctx context.Context, addr uint32, n int) ([]uint32, error) {
	out := make([]uint32, n)
	for i := 0; i < n; i++ {
		w, err := p.ReadWord(ctx, addr+uint32(4*i))
		if err != nil {
			return nil, err
		}
		out[i] = w
	}
	return out, nil
}

// WriteMemory writes words to consecutive addresses starting at addr.
func (p *Probe) WriteMemory(ctx context.Context, addr uint32, words []uint32) error {
	for i, w := range words {
		if err := p.WriteWord(ctx, addr+uint32(4*i), w); err != nil {
			return err
		}
	}
	return nil
}
