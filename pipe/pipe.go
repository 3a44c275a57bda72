// Package pipe implements the L0 byte pipe: a full-duplex, reliable byte
// stream to the probe hardware with send/recv/flush and cancellation, per
// spec.md §6's "Probe byte pipe" external interface. spec.md treats USB
// bulk-endpoint transport as an external collaborator; this package only
// needs *a* concrete transport to drive the layers above it, and ships two:
// SerialPipe (a real device, adapted from the teacher's termios/ioctl
// driver) and MemPipe (an in-memory double used by every other package's
// tests).
package pipe

import (
	"context"
	"fmt"
	"sync"

	"github.com/fpgaprobe/hostrt/probeerr"
)

// ErrClosed is returned by any operation on a Pipe that has already been
// closed.
var ErrClosed = probeerr.Wrap(probeerr.KindTransport, "pipe", "", "pipe already closed", nil)

// Pipe is the L0 transport: arbitrary bytes in, arbitrary bytes out, no
// framing imposed. Recv must return exactly n bytes or raise on EOF/closed
// pipe (spec.md §6). Flush forces transmission of anything buffered by Send
// but never reorders with respect to prior Sends (spec.md §5).
type Pipe interface {
	// Send queues data for transmission; it may be buffered until Flush.
	Send(data []byte) error
	// Recv blocks until n bytes have been received, ctx is done, or the
	// pipe is closed/EOF, whichever happens first.
	Recv(ctx context.Context, n int) ([]byte, error)
	// Flush forces transmission of any buffered Send data.
	Flush() error
	// Close releases the underlying transport. Subsequent operations
	// return ErrClosed.
	Close() error
}

// MemPipe is an in-memory Pipe backed by a pair of byte queues: Inbox holds
// bytes the test harness wants the "probe" to have already sent (consumed
// by Recv); Sent records every byte handed to Send, in order, for
// assertions. It is safe for the single-owner use spec.md §5 requires
// (serialized access via sequencer.Client's semaphore) but not for
// concurrent Send/Recv from multiple goroutines without external locking.
type MemPipe struct {
	mu     sync.Mutex
	cond   *sync.Cond
	inbox  []byte
	sent   []byte
	closed bool
}

// NewMemPipe returns an empty MemPipe.
func NewMemPipe() *MemPipe {
	p := &MemPipe{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Feed appends data to the pipe's inbox, waking any blocked Recv.
func (p *MemPipe) Feed(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inbox = append(p.inbox, data...)
	p.cond.Broadcast()
}

// SentBytes returns a copy of every byte ever passed to Send.
func (p *MemPipe) SentBytes() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]byte, len(p.sent))
	copy(out, p.sent)
	return out
}

func (p *MemPipe) Send(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.sent = append(p.sent, data...)
	return nil
}

func (p *MemPipe) Recv(ctx context.Context, n int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.inbox) < n {
		if p.closed {
			return nil, probeerr.Wrap(probeerr.KindTransport, "pipe", "recv", "pipe closed before n bytes available", nil)
		}
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				p.cond.Broadcast()
			case <-done:
			}
		}()
		p.cond.Wait()
		close(done)
		if err := ctx.Err(); err != nil {
			return nil, probeerr.Wrap(probeerr.KindTransport, "pipe", "recv", "cancelled", err)
		}
	}
	out := make([]byte, n)
	copy(out, p.inbox[:n])
	p.inbox = p.inbox[n:]
	return out, nil
}

func (p *MemPipe) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	return nil
}

func (p *MemPipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.closed = true
	p.cond.Broadcast()
	return nil
}

// String is convenient in test failure messages.
func (p *MemPipe) String() string {
	return fmt.Sprintf("MemPipe{inbox=%d sent=%d}", len(p.inbox), len(p.sent))
}
