package ejtag

import (
	"context"

	"github.com/fpgaprobe/hostrt/bits"
	"github.com/fpgaprobe/hostrt/bitstruct"
	"github.com/fpgaprobe/hostrt/probeerr"
)

// dmseg region offsets, per spec.md §3's "PrAcc memory map": code at
// dmsegBase+0x0200, scratch/temp at +0x1000, data at +0x1200.
const (
	dmsegBase   = 0xff200000
	codeOffset  = 0x0200
	tempOffset  = 0x1000
	dataOffset  = 0x1200
	regionBytes = 0x200 // generous budget per region; PrAcc code/data blocks are small
)

// maxPrAccSteps bounds the PrAcc polling loop per spec.md §5 ("≤1024
// PrAcc steps").
const maxPrAccSteps = 1024

// region classifies a dmseg-relative address.
type region int

const (
	regionCode region = iota
	regionTemp
	regionData
	regionInvalid
)

func classify(addr uint32) (region, uint32) {
	rel := addr - dmsegBase
	switch {
	case rel >= codeOffset && rel < codeOffset+regionBytes:
		return regionCode, rel - codeOffset
	case rel >= tempOffset && rel < tempOffset+regionBytes:
		return regionTemp, rel - tempOffset
	case rel >= dataOffset && rel < dataOffset+regionBytes:
		return regionData, rel - dataOffset
	default:
		return regionInvalid, 0
	}
}

func praccErr(op, msg string) error {
	return probeerr.Wrap(probeerr.KindTargetFailure, "ejtag", op, msg, nil)
}

// RunPrAcc is the PrAcc processor-access loop (spec.md §4.4): the caller
// supplies a code array of MIPS words (the branch-back/NOP padding is
// the caller's responsibility, matching spec.md's "caller provides a
// code array... padded with B back; NOP; NOP") and an optional data
// array. The engine places them in the synthetic dmseg memory map, polls
// CONTROL for PrAcc, and streams fetched instructions/data until the CPU
// re-fetches the code array's first word (loop completed) or the step
// budget is exceeded.
func (p *Probe) RunPrAcc(ctx context.Context, code []uint32, data []uint32) ([]uint32, error) {
	if p.session != stateInterrupted && p.session != stateStopped {
		return nil, ejtagErr("run_pracc", "PrAcc may only run while Interrupted or Stopped")
	}
	p.session = statePrAcc

	codeBuf := wordsToBytes(code)
	dataBuf := wordsToBytes(data)
	tempBuf := make([]byte, regionBytes)

	firstCodeFetch := false
	steps := 0
	for {
		steps++
		if steps > maxPrAccSteps {
			return nil, praccErr("run_pracc", "PrAcc step budget exceeded")
		}

		ctl, err := p.readControl(ctx)
		if err != nil {
			return nil, err
		}
		if ctl.Get("pracc") == 0 {
			continue
		}

		addr, err := p.readAddress(ctx)
		if err != nil {
			return nil, err
		}
		reg, off := classify(uint32(addr))

		if ctl.Get("prnw") != 0 {
			// CPU is writing: read the DATA DR and store into the
			// addressed region.
			v, err := p.readData(ctx)
			if err != nil {
				return nil, err
			}
			switch reg {
			case regionCode:
				return nil, praccErr("run_pracc", "write into the code region is disallowed")
			case regionTemp:
				putWord(tempBuf, off, uint32(v))
			case regionData:
				putWord(dataBuf, off, uint32(v))
			default:
				return nil, praccErr("run_pracc", "write to address outside dmseg")
			}
		} else {
			// CPU is reading: supply the word from the addressed region.
			var v uint32
			switch reg {
			case regionCode:
				v = getWord(codeBuf, off)
				if off == 0 {
					if firstCodeFetch {
						if err := p.ackPrAcc(ctx); err != nil {
							return nil, err
						}
						p.session = stateStopped
						return bytesToWords(dataBuf), nil
					}
					firstCodeFetch = true
				}
			case regionTemp:
				v = getWord(tempBuf, off)
			case regionData:
				v = getWord(dataBuf, off)
			default:
				return nil, praccErr("run_pracc", "fetch from address outside dmseg")
			}
			if err := p.writeData(ctx, uint64(v)); err != nil {
				return nil, err
			}
		}

		if err := p.ackPrAcc(ctx); err != nil {
			return nil, err
		}
	}
}

func wordsToBytes(words []uint32) []byte {
	out := make([]byte, regionBytes)
	for i, w := range words {
		putWord(out, uint32(i*4), w)
	}
	return out
}

func bytesToWords(buf []byte) []uint32 {
	out := make([]uint32, len(buf)/4)
	for i := range out {
		out[i] = getWord(buf, uint32(i*4))
	}
	return out
}

func putWord(buf []byte, off uint32, v uint32) {
	if int(off)+4 > len(buf) {
		return
	}
	buf[off] = byte(v)
	buf[off+1] = byte(v >> 8)
	buf[off+2] = byte(v >> 16)
	buf[off+3] = byte(v >> 24)
}

func getWord(buf []byte, off uint32) uint32 {
	if int(off)+4 > len(buf) {
		return 0
	}
	return uint32(buf[off]) | uint32(buf[off+1])<<8 | uint32(buf[off+2])<<16 | uint32(buf[off+3])<<24
}

// readControl shifts the CONTROL DR and decodes it.
func (p *Probe) readControl(ctx context.Context) (*bitstruct.Value, error) {
	if err := p.tap.WriteIR(ctx, irBits(irControl)); err != nil {
		return nil, err
	}
	v, err := p.tap.ReadDR(ctx, 32)
	if err != nil {
		return nil, err
	}
	return controlSchema.FromUint(v.Uint()), nil
}

// ackPrAcc re-writes CONTROL with PrAcc cleared, de-asserting the
// handshake for one more cycle.
func (p *Probe) ackPrAcc(ctx context.Context) error {
	if err := p.tap.WriteIR(ctx, irBits(irControl)); err != nil {
		return err
	}
	ctl := controlSchema.New()
	_ = ctl.Set("proben", 1)
	_ = ctl.Set("probtrap", 1)
	return p.tap.WriteDR(ctx, ctl.Bits())
}

func (p *Probe) readAddress(ctx context.Context) (uint64, error) {
	if err := p.tap.WriteIR(ctx, irBits(irAddress)); err != nil {
		return 0, err
	}
	v, err := p.tap.ReadDR(ctx, p.addrDRBits)
	if err != nil {
		return 0, err
	}
	return v.Uint(), nil
}

func (p *Probe) readData(ctx context.Context) (uint64, error) {
	if err := p.tap.WriteIR(ctx, irBits(irData)); err != nil {
		return 0, err
	}
	v, err := p.tap.ReadDR(ctx, 32)
	if err != nil {
		return 0, err
	}
	return v.Uint(), nil
}

func (p *Probe) writeData(ctx context.Context, v uint64) error {
	if err := p.tap.WriteIR(ctx, irBits(irData)); err != nil {
		return err
	}
	return p.tap.WriteDR(ctx, bits.FromUint(v, 32))
}

// DebugInterrupt sets EjtagBrk in CONTROL and verifies DM latches, then
// advances the session to Interrupted per spec.md §4.4's "Debug
// interrupt".
func (p *Probe) DebugInterrupt(ctx context.Context) error {
	if err := p.tap.WriteIR(ctx, irBits(irControl)); err != nil {
		return err
	}
	ctl := controlSchema.New()
	_ = ctl.Set("proben", 1)
	_ = ctl.Set("probtrap", 1)
	_ = ctl.Set("ejtagbrk", 1)
	got, err := p.tap.ExchangeDR(ctx, ctl.Bits())
	if err != nil {
		return err
	}
	readback := controlSchema.FromUint(got.Uint())
	if readback.Get("dm") != 1 {
		// DM may take one more poll cycle to latch; re-check once.
		ctl2, err := p.readControl(ctx)
		if err != nil {
			return err
		}
		if ctl2.Get("dm") != 1 {
			return praccErr("debug_interrupt", "DM did not latch after EjtagBrk")
		}
	}
	p.session = stateInterrupted
	return nil
}
