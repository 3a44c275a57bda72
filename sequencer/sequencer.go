// Package sequencer implements the L1 JTAG sequencer client: it encodes the
// opcodes {RunTCK, ShiftTDI/TDO/TDIO, ShiftTMS, Delay[RunTCK], GetAux/SetAux,
// Sync} as length-prefixed byte frames over a pipe.Pipe and decodes the
// matching responses, per spec.md §4.1.
package sequencer

import (
	"bytes"
	"context"
	"encoding/binary"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/fpgaprobe/hostrt/bitstruct"
	"github.com/fpgaprobe/hostrt/pipe"
	"github.com/fpgaprobe/hostrt/probeerr"
)

// Opcode identifies a sequencer command. Values are illustrative — the
// concrete opcode-to-wire-command mapping lives with the gateware; this
// layer only needs a stable, bit-packable identifier space.
type Opcode byte

const (
	OpRunTCK Opcode = iota
	OpShiftTDI
	OpShiftTDO
	OpShiftTDIO
	OpShiftTMS
	OpDelay
	OpGetAux
	OpSetAux
	OpSync
	OpCancel
	OpShiftSPI
)

// SPIPhase selects the number of data lines driven per clock cycle for
// a ShiftSPI opcode (spec.md §4.1's "1/2/4-bit phase control"), packed
// into the opcode header's 3-bit flags field.
type SPIPhase byte

const (
	SPIPhase1 SPIPhase = iota
	SPIPhase2
	SPIPhase4
)

// headerSchema packs the 1-byte opcode header: [cmd:4 | last:1 | flags:3],
// per spec.md §4.1.
var headerSchema = bitstruct.NewSchema(
	bitstruct.Field{Name: "cmd", Width: 4},
	bitstruct.Field{Name: "last", Width: 1},
	bitstruct.Field{Name: "flags", Width: 3},
)

// FlagCancellable marks a poll opcode as cancellable (§4.1, §5): the poll
// guarantees exactly one response byte either on completion or on receipt
// of a following CANCEL opcode.
const FlagCancellable = 1

// maxChunk bounds each ShiftTDIO interleaved send/receive round per spec.md
// §4.1 ("in <=64 KiB chunks").
const maxChunk = 65536

// Client batches outgoing opcodes into a pipe.Pipe without forcing a flush
// between them, and supports a Sync barrier and cancellable polls. Exactly
// one owner of the pipe is enforced via a weight-1 semaphore rather than a
// plain mutex, because the cancellable continue path (arm7/ejtag) needs to
// abandon a blocked acquire when its context is cancelled.
type Client struct {
	pipe   pipe.Pipe
	sem    *semaphore.Weighted
	outbuf bytes.Buffer
}

// New wraps a pipe.Pipe with sequencer framing.
func New(p pipe.Pipe) *Client {
	return &Client{pipe: p, sem: semaphore.NewWeighted(1)}
}

func (c *Client) lock(ctx context.Context) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return probeerr.Wrap(probeerr.KindTransport, "sequencer", "lock", "cancelled waiting for pipe ownership", err)
	}
	return nil
}

func (c *Client) unlock() { c.sem.Release(1) }

// encodeHeader packs one opcode header byte.
func encodeHeader(cmd Opcode, last bool, flags byte) byte {
	v := headerSchema.New()
	_ = v.Set("cmd", uint64(cmd))
	if last {
		_ = v.Set("last", 1)
	}
	_ = v.Set("flags", uint64(flags))
	return byte(v.Uint())
}

// enqueue appends an opcode header, optional 16-bit little-endian length,
// and payload to the outgoing buffer without touching the pipe.
func (c *Client) enqueue(cmd Opcode, last bool, flags byte, payload []byte) {
	c.outbuf.WriteByte(encodeHeader(cmd, last, flags))
	if payload != nil {
		var lenBuf [2]byte
		binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(payload)))
		c.outbuf.Write(lenBuf[:])
		c.outbuf.Write(payload)
	}
}

// Flush transmits any opcodes batched so far. It is a no-op with respect to
// ordering (spec.md §5) — it exists only to bound latency.
func (c *Client) Flush(ctx context.Context) error {
	if err := c.lock(ctx); err != nil {
		return err
	}
	defer c.unlock()
	return c.flushLocked()
}

func (c *Client) flushLocked() error {
	if c.outbuf.Len() == 0 {
		return nil
	}
	data := c.outbuf.Bytes()
	if err := c.pipe.Send(data); err != nil {
		return err
	}
	c.outbuf.Reset()
	if err := c.pipe.Flush(); err != nil {
		return err
	}
	return nil
}

// ShiftTMS enqueues a ShiftTMS opcode for the given TMS bit pattern, driven
// by the caller's bits.Vector-derived byte payload.
func (c *Client) ShiftTMS(ctx context.Context, tms []byte, nbits int) error {
	if err := c.lock(ctx); err != nil {
		return err
	}
	defer c.unlock()
	c.enqueue(OpShiftTMS, true, 0, tms[:byteLen(nbits)])
	return c.flushLocked()
}

func byteLen(nbits int) int { return (nbits + 7) / 8 }

// ShiftTDIO interleaves payload send and response receive in <=64 KiB
// chunks per spec.md §4.1, returning exactly len(tdi) bytes of TDO.
func (c *Client) ShiftTDIO(ctx context.Context, tdi []byte, nbits int) ([]byte, error) {
	if err := c.lock(ctx); err != nil {
		return nil, err
	}
	defer c.unlock()

	total := byteLen(nbits)
	tdo := make([]byte, 0, total)
	for off := 0; off < total; off += maxChunk {
		end := off + maxChunk
		if end > total {
			end = total
		}
		chunk := tdi[off:end]
		c.enqueue(OpShiftTDIO, end == total, 0, chunk)
		if err := c.flushLocked(); err != nil {
			return nil, err
		}
		resp, err := c.pipe.Recv(ctx, len(chunk))
		if err != nil {
			return nil, err
		}
		tdo = append(tdo, resp...)
	}
	return tdo, nil
}

// ShiftTDI enqueues a TDI-only shift (no TDO capture requested from the
// wire, though the hardware will still clock TDO internally).
func (c *Client) ShiftTDI(ctx context.Context, tdi []byte, nbits int, last bool) error {
	if err := c.lock(ctx); err != nil {
		return err
	}
	defer c.unlock()
	c.enqueue(OpShiftTDI, last, 0, tdi[:byteLen(nbits)])
	return c.flushLocked()
}

// ShiftTDO enqueues a TDO-only shift (TDI held at a fixed level by the
// gateware) and returns the captured bytes.
func (c *Client) ShiftTDO(ctx context.Context, nbits int) ([]byte, error) {
	if err := c.lock(ctx); err != nil {
		return nil, err
	}
	defer c.unlock()
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(byteLen(nbits)))
	c.outbuf.WriteByte(encodeHeader(OpShiftTDO, true, 0))
	c.outbuf.Write(lenBuf[:])
	if err := c.flushLocked(); err != nil {
		return nil, err
	}
	return c.pipe.Recv(ctx, byteLen(nbits))
}

// ShiftSPI shifts tx full-duplex at the given phase width, chunking in
// <=64 KiB rounds exactly like ShiftTDIO (spec.md §4.1's chip-select
// framing is the caller's job via SetAux; this opcode only does the
// data-phase shift).
func (c *Client) ShiftSPI(ctx context.Context, tx []byte, phase SPIPhase) ([]byte, error) {
	if err := c.lock(ctx); err != nil {
		return nil, err
	}
	defer c.unlock()

	total := len(tx)
	rx := make([]byte, 0, total)
	for off := 0; off < total; off += maxChunk {
		end := off + maxChunk
		if end > total {
			end = total
		}
		chunk := tx[off:end]
		c.enqueue(OpShiftSPI, end == total, byte(phase), chunk)
		if err := c.flushLocked(); err != nil {
			return nil, err
		}
		resp, err := c.pipe.Recv(ctx, len(chunk))
		if err != nil {
			return nil, err
		}
		rx = append(rx, resp...)
	}
	return rx, nil
}

// RunTCK enqueues n free-running TCK cycles (used for delays and
// read-while-write polling backoff).
func (c *Client) RunTCK(ctx context.Context, cycles uint16) error {
	if err := c.lock(ctx); err != nil {
		return err
	}
	defer c.unlock()
	var payload [2]byte
	binary.LittleEndian.PutUint16(payload[:], cycles)
	c.enqueue(OpRunTCK, true, 0, payload[:])
	return c.flushLocked()
}

// Sync enqueues a Sync opcode and blocks for its one-byte barrier response.
func (c *Client) Sync(ctx context.Context) error {
	if err := c.lock(ctx); err != nil {
		return err
	}
	defer c.unlock()
	c.enqueue(OpSync, true, 0, nil)
	if err := c.flushLocked(); err != nil {
		return err
	}
	_, err := c.pipe.Recv(ctx, 1)
	return err
}

// PendingPoll represents an in-flight cancellable poll opcode (spec.md §5):
// a POLL_ACK-style opcode that is guaranteed to produce exactly one
// response byte, either because the target condition completed or because
// the caller sent CANCEL. arm7/ejtag build their continue-cancellation
// logic on top of this type.
type PendingPoll struct {
	client *Client
	g      *errgroup.Group
	done   chan error
	b      byte
}

// BeginCancellablePoll enqueues the given poll opcode (with
// FlagCancellable set) and starts a task awaiting its single response
// byte, shielded from ctx so a later cancellation can't desync the pipe
// (spec.md §5 step 3: "start a read task for that one response, shield it
// from cancellation"). The shielded read runs under an errgroup.Group
// rather than a bare goroutine so a future second shielded task (e.g. a
// companion status read) can be folded into the same wait with Go.
func (c *Client) BeginCancellablePoll(pollCmd Opcode) (*PendingPoll, error) {
	if err := c.lock(context.Background()); err != nil {
		return nil, err
	}
	c.enqueue(pollCmd, true, FlagCancellable, nil)
	if err := c.flushLocked(); err != nil {
		c.unlock()
		return nil, err
	}
	pp := &PendingPoll{client: c, g: new(errgroup.Group), done: make(chan error, 1)}
	pp.g.Go(func() error {
		// Use a background context deliberately: this read must not be
		// cancelled by the caller's ctx (spec.md §5 step 3's "shield").
		b, err := c.pipe.Recv(context.Background(), 1)
		if err != nil {
			return err
		}
		pp.b = b[0]
		return nil
	})
	go func() { pp.done <- pp.g.Wait() }()
	return pp, nil
}

// Cancel enqueues CANCEL for a pending poll. It must be called at most once
// (spec.md §5 step 5) and does not itself wait for the response —
// callers must still call Await. The pipe is already owned by this
// PendingPoll (acquired in BeginCancellablePoll and released by Await), so
// Cancel does not re-acquire it.
func (pp *PendingPoll) Cancel() error {
	pp.client.enqueue(OpCancel, true, 0, nil)
	return pp.client.flushLocked()
}

// Await blocks until the shielded read completes, releasing the pipe
// ownership acquired by BeginCancellablePoll. It must be called exactly
// once per PendingPoll, after any Cancel.
func (pp *PendingPoll) Await(ctx context.Context) (byte, error) {
	defer pp.client.unlock()
	select {
	case err := <-pp.done:
		return pp.b, err
	case <-ctx.Done():
		// The response is still sheltered — wait for it anyway so the
		// pipe stays in sync (spec.md §5 step 4), just don't block the
		// caller's context accounting on it.
		err := <-pp.done
		return pp.b, err
	}
}
