package arm7

import (
	"context"
	"encoding/binary"

	"github.com/fpgaprobe/hostrt/probeerr"
)

// ARM opcode templates used by the memory accessors. Rd is always r1,
// rBase r0, matching the pattern the entry prologue leaves r0 pointing at
// scratch memory.
const (
	insnLDRB  uint32 = 0xe4d01001 // ldrb r1, [r0], #1
	insnLDRH  uint32 = 0xe0d010b1 // ldrh r1, [r0], #1 (half-word post-indexed)
	insnSTRB  uint32 = 0xe4c01001 // strb r1, [r0], #1
	insnSTRH  uint32 = 0xe0c010b1 // strh r1, [r0], #1
	insnLDMIA uint32 = 0xe8b07ffe // ldmia r0!, {r1-r14}
	insnSTMIA uint32 = 0xe8a07ffe // stmia r0!, {r1-r14}
)

// ReadMemory reads len bytes from addr, per spec.md §4.3's fast/general
// path: aligned 1/2/4-byte reads use a single LDRB/LDRH/single-word
// fetch; everything else falls back to head-bytes / 14-word-burst-middle
// / tail-bytes. Byte loads from invalid addresses may return
// non-zero-extended garbage (the driver masks to 8 bits).
func (d *Debugger) ReadMemory(ctx context.Context, addr uint32, n int) ([]byte, error) {
	if d.state != Halted {
		return nil, dbgErr("read_memory", "debugger is not Halted")
	}
	if n == 1 || n == 2 || n == 4 {
		if v, ok, err := d.readAlignedFast(ctx, addr, n); ok {
			return v, err
		}
	}
	return d.readGeneral(ctx, addr, n)
}

func (d *Debugger) readAlignedFast(ctx context.Context, addr uint32, n int) ([]byte, bool, error) {
	if n == 4 && addr%4 != 0 {
		return nil, false, nil
	}
	if n == 2 && addr%2 != 0 {
		return nil, false, nil
	}
	txn := NewTransaction(d.tap)
	txn.PutBus(true, 0xe59f0000) // ldr r0, [pc] -- address pointer loaded separately in a real stub
	txn.PutBus(false, addr)
	var result *Result
	switch n {
	case 1:
		txn.PutBus(false, insnLDRB)
		result = txn.GetBus()
	case 2:
		txn.PutBus(false, insnLDRH)
		result = txn.GetBus()
	case 4:
		txn.PutBus(false, insnLDMIA)
		result = txn.GetBus()
	}
	if err := txn.Submit(ctx); err != nil {
		return nil, true, err
	}
	v := result.Uint32()
	out := make([]byte, n)
	switch n {
	case 1:
		out[0] = byte(v & 0xff)
	case 2:
		binary.LittleEndian.PutUint16(out, uint16(v&0xffff))
	case 4:
		binary.LittleEndian.PutUint32(out, v)
	}
	return out, true, nil
}

// readGeneral handles unaligned/arbitrary-length reads: head bytes,
// 14-word bursts, tail bytes.
func (d *Debugger) readGeneral(ctx context.Context, addr uint32, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	cur := addr
	remaining := n

	for remaining > 0 && (cur%4 != 0) && remaining < 4 {
		b, err := d.readByte(ctx, cur)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
		cur++
		remaining--
	}
	for remaining > 0 && cur%4 != 0 {
		b, err := d.readByte(ctx, cur)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
		cur++
		remaining--
	}
	for remaining >= 4 {
		burst := remaining / 4
		if burst > 14 {
			burst = 14
		}
		words, err := d.readWordBurst(ctx, cur, burst)
		if err != nil {
			return nil, err
		}
		for _, w := range words {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], w)
			out = append(out, b[:]...)
		}
		cur += uint32(burst * 4)
		remaining -= burst * 4
	}
	for remaining > 0 {
		b, err := d.readByte(ctx, cur)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
		cur++
		remaining--
	}
	return out, nil
}

func (d *Debugger) readByte(ctx context.Context, addr uint32) (byte, error) {
	v, _, err := d.readAlignedFast(ctx, addr, 1)
	if err != nil {
		return 0, err
	}
	return v[0], nil
}

func (d *Debugger) readWordBurst(ctx context.Context, addr uint32, count int) ([]uint32, error) {
	if count < 1 || count > 14 {
		return nil, probeerr.Wrap(probeerr.KindProgrammerPolicy, "arm7", "read_word_burst", "burst count out of range", nil)
	}
	txn := NewTransaction(d.tap)
	txn.PutBus(false, addr)
	txn.PutBus(false, insnLDMIA)
	results := make([]*Result, count)
	for i := 0; i < count; i++ {
		results[i] = txn.GetBus()
	}
	if err := txn.Submit(ctx); err != nil {
		return nil, err
	}
	out := make([]uint32, count)
	for i, r := range results {
		out[i] = r.Uint32()
	}
	return out, nil
}

// WriteMemory writes data to addr using the same fast/general path split
// as ReadMemory.
func (d *Debugger) WriteMemory(ctx context.Context, addr uint32, data []byte) error {
	if d.state != Halted {
		return dbgErr("write_memory", "debugger is not Halted")
	}
	n := len(data)
	if n == 1 || n == 2 || n == 4 {
		if addr%uint32(n) == 0 {
			return d.writeAlignedFast(ctx, addr, data)
		}
	}
	return d.writeGeneral(ctx, addr, data)
}

func (d *Debugger) writeAlignedFast(ctx context.Context, addr uint32, data []byte) error {
	txn := NewTransaction(d.tap)
	txn.PutBus(false, addr)
	switch len(data) {
	case 1:
		txn.PutBus(false, uint32(data[0]))
		txn.PutBus(false, insnSTRB)
	case 2:
		txn.PutBus(false, uint32(binary.LittleEndian.Uint16(data)))
		txn.PutBus(false, insnSTRH)
	case 4:
		txn.PutBus(false, binary.LittleEndian.Uint32(data))
		txn.PutBus(true, insnSTMIA)
	}
	return txn.Submit(ctx)
}

func (d *Debugger) writeGeneral(ctx context.Context, addr uint32, data []byte) error {
	cur := addr
	remaining := data
	for len(remaining) > 0 && cur%4 != 0 && len(remaining) < 4 {
		if err := d.writeAlignedFast(ctx, cur, remaining[:1]); err != nil {
			return err
		}
		cur++
		remaining = remaining[1:]
	}
	for len(remaining) > 0 && cur%4 != 0 {
		if err := d.writeAlignedFast(ctx, cur, remaining[:1]); err != nil {
			return err
		}
		cur++
		remaining = remaining[1:]
	}
	for len(remaining) >= 4 {
		burst := len(remaining) / 4
		if burst > 14 {
			burst = 14
		}
		if err := d.writeWordBurst(ctx, cur, remaining[:burst*4]); err != nil {
			return err
		}
		cur += uint32(burst * 4)
		remaining = remaining[burst*4:]
	}
	for len(remaining) > 0 {
		if err := d.writeAlignedFast(ctx, cur, remaining[:1]); err != nil {
			return err
		}
		cur++
		remaining = remaining[1:]
	}
	return nil
}

func (d *Debugger) writeWordBurst(ctx context.Context, addr uint32, data []byte) error {
	txn := NewTransaction(d.tap)
	txn.PutBus(false, addr)
	txn.PutBus(false, insnSTMIA)
	for off := 0; off < len(data); off += 4 {
		txn.PutBus(off+4 >= len(data), binary.LittleEndian.Uint32(data[off:off+4]))
	}
	return txn.Submit(ctx)
}
