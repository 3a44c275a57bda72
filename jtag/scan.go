package jtag

import (
	"context"

	"github.com/fpgaprobe/hostrt/bits"
	"github.com/fpgaprobe/hostrt/probeerr"
)

// maxScanBits bounds the blind chain-length search (spec.md §4.2's "if no 1
// appears within budget, raise 'chain too long'").
const maxScanBits = 4096

func chainErr(op, msg string) error {
	return probeerr.Wrap(probeerr.KindChainInterrogation, "jtag", op, msg, nil)
}

// ScanDR measures the combined DR chain length and captured contents by
// shifting zeroes then ones, per spec.md §4.2. It is idempotent: the
// measured value is shifted back in and the TAP is returned to
// Run-Test/Idle.
func (c *Controller) ScanDR(ctx context.Context) (captured bits.Vector, length int, err error) {
	return c.scan(ctx, ShiftDR, UpdateDR)
}

// ScanIR is the IR analogue of ScanDR.
func (c *Controller) ScanIR(ctx context.Context) (captured bits.Vector, length int, err error) {
	return c.scan(ctx, ShiftIR, UpdateIR)
}

func (c *Controller) scan(ctx context.Context, shift, update State) (bits.Vector, int, error) {
	if err := c.EnterState(ctx, shift); err != nil {
		return bits.Vector{}, 0, err
	}
	n := maxScanBits + 1

	zeros := bits.Zeroes(n)
	captured, err := c.ShiftTDIO(ctx, zeros, 0, 0, false)
	if err != nil {
		return bits.Vector{}, 0, err
	}

	// No re-entry is needed for the second probe: the previous ShiftTDIO
	// left us in Shift-{DR,IR} since last=false.
	ones := bits.Ones(n)
	onesResponse, err := c.ShiftTDIO(ctx, ones, 0, 0, false)
	if err != nil {
		return bits.Vector{}, 0, err
	}

	length := -1
	for i := 0; i < n; i++ {
		if onesResponse.Bit(i) {
			length = i
			break
		}
	}
	if length < 0 {
		return bits.Vector{}, 0, chainErr("scan", "chain too long")
	}

	// Idempotence: shift the captured chain contents back in and return
	// to Run-Test/Idle.
	if err := c.ShiftTDI(ctx, captured.Slice(0, length), 0, 0, true); err != nil {
		return bits.Vector{}, 0, err
	}
	if err := c.EnterState(ctx, update); err != nil {
		return bits.Vector{}, 0, err
	}
	if err := c.EnterState(ctx, RunTestIdle); err != nil {
		return bits.Vector{}, 0, err
	}
	return captured.Slice(0, length), length, nil
}

// InterrogateDR walks a captured DR chain bit by bit per spec.md §4.2: a 0
// marks a BYPASS TAP (nil entry), a 1 starts a 32-bit IDCODE. The reserved
// invalid pattern (bits [1:12] == 0b00001111111) is rejected, and a
// trailing 1 with fewer than 32 bits remaining is a truncation error.
func InterrogateDR(captured bits.Vector) ([]*uint32, error) {
	var out []*uint32
	i := 0
	for i < captured.Len() {
		if !captured.Bit(i) {
			out = append(out, nil)
			i++
			continue
		}
		if captured.Len()-i < 32 {
			return nil, chainErr("interrogate_dr", "truncated IDCODE")
		}
		idcode := captured.Slice(i, i+32)
		reserved := idcode.Slice(1, 12)
		if reserved.Uint() == 0b00001111111 {
			return nil, chainErr("interrogate_dr", "reserved invalid IDCODE pattern")
		}
		v := uint32(idcode.Uint())
		out = append(out, &v)
		i += 32
	}
	return out, nil
}

// InterrogateIR partitions a captured IR chain into per-TAP IR lengths per
// spec.md §4.2's algorithm: each TAP's captured IR begins with <10>
// (binary, LSB-first within the 2-bit marker: bit0=1, bit1=0).
func InterrogateIR(captured bits.Vector, tapCount int, irLengths []int) ([]int, error) {
	marker := bits.MustFromString("01") // <10> per spec.md's bit-order convention
	positions := captured.AllIndexesOf(marker)
	if len(positions) == 0 || positions[0] != 0 {
		return nil, chainErr("interrogate_ir", "captured IR does not start with <10>")
	}

	if irLengths != nil {
		if len(irLengths) != tapCount {
			return nil, chainErr("interrogate_ir", "ir_lengths count does not match tap_count")
		}
		sum := 0
		for _, l := range irLengths {
			sum += l
		}
		if sum != captured.Len() {
			return nil, chainErr("interrogate_ir", "ir_lengths sum does not match captured length")
		}
		boundary := 0
		posSet := make(map[int]bool, len(positions))
		for _, p := range positions {
			posSet[p] = true
		}
		for idx, l := range irLengths {
			if idx > 0 {
				if !posSet[boundary] {
					return nil, chainErr("interrogate_ir", "ir_lengths boundary does not align with a <10> marker")
				}
			}
			boundary += l
		}
		if boundary != captured.Len() {
			return nil, chainErr("interrogate_ir", "ir_lengths does not cover captured length")
		}
		out := make([]int, len(irLengths))
		copy(out, irLengths)
		return out, nil
	}

	if tapCount == 1 {
		return []int{captured.Len()}, nil
	}

	if len(positions) == tapCount {
		out := make([]int, tapCount)
		for i := 0; i < tapCount; i++ {
			end := captured.Len()
			if i+1 < tapCount {
				end = positions[i+1]
			}
			out[i] = end - positions[i]
		}
		return out, nil
	}

	return nil, chainErr("interrogate_ir", "ambiguous IR partitioning; ir_lengths required")
}
