package spi

import "context"

// Bus is the L4 SPI/QSPI controller client spec.md §4.1/§4.6 names:
// chip-select framing around a full-duplex byte transfer. Assert/
// Deassert bracket a logical "CS#↓ ... CS#↑" command (spec.md §4.6);
// Transfer performs one such bracketed transfer in a single call, the
// shape every `flash` command encoder actually needs.
type Bus interface {
	Assert(ctx context.Context) error
	Deassert(ctx context.Context) error
	TransferRaw(ctx context.Context, tx []byte) ([]byte, error)
}

// Transfer brackets one TransferRaw call with Assert/Deassert,
// realizing spec.md's "CS#↓ opcode [addr:24] [dummy] [data…] CS#↑"
// framing for a bus whose commands fit in a single contiguous buffer.
func Transfer(ctx context.Context, bus Bus, tx []byte) ([]byte, error) {
	if err := bus.Assert(ctx); err != nil {
		return nil, err
	}
	rx, err := bus.TransferRaw(ctx, tx)
	if derr := bus.Deassert(ctx); err == nil {
		err = derr
	}
	return rx, err
}
