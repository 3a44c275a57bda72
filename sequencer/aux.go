package sequencer

import "context"

// AuxLine identifies one of the sequencer's general-purpose auxiliary I/O
// lines, used by the SPI/QSPI controller client (spec.md §4.1/§4.6) to
// frame chip-select and drive WP#/HOLD# without a dedicated opcode per
// pin. The actual pin assignment is a gateware/pinmux concern (out of
// scope per spec.md §1); this layer only needs a stable small integer.
type AuxLine byte

const (
	AuxCS0 AuxLine = iota
	AuxCS1
	AuxWP
	AuxHold
)

// SetAux drives aux line `line` to `level` (true = high). Used by the SPI
// bus to assert/deassert CS# and to hold WP#/HOLD# at their idle levels.
func (c *Client) SetAux(ctx context.Context, line AuxLine, level bool) error {
	if err := c.lock(ctx); err != nil {
		return err
	}
	defer c.unlock()
	payload := byte(line) << 1
	if level {
		payload |= 1
	}
	c.enqueue(OpSetAux, true, 0, []byte{payload})
	return c.flushLocked()
}

// GetAux reads the current level of aux line `line`.
func (c *Client) GetAux(ctx context.Context, line AuxLine) (bool, error) {
	if err := c.lock(ctx); err != nil {
		return false, err
	}
	defer c.unlock()
	c.enqueue(OpGetAux, true, 0, []byte{byte(line)})
	if err := c.flushLocked(); err != nil {
		return false, err
	}
	resp, err := c.pipe.Recv(ctx, 1)
	if err != nil {
		return false, err
	}
	return resp[0]&1 != 0, nil
}
