package spi

import (
	"context"
	"testing"

	"github.com/fpgaprobe/hostrt/pipe"
	"github.com/fpgaprobe/hostrt/sequencer"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

func TestSequencerBusTransferFramesCS(t *testing.T) {
	p := pipe.NewMemPipe()
	seq := sequencer.New(p)
	bus := NewSequencerBus(seq, sequencer.AuxCS0, sequencer.SPIPhase1)

	p.Feed([]byte{0x00, 0x00})
	rx, err := Transfer(context.Background(), bus, []byte{0x03, 0x00})
	assert(t, err == nil, "Transfer failed: %v", err)
	assert(t, len(rx) == 2, "got %d rx bytes", len(rx))

	sent := p.SentBytes()
	// SetAux(low), ShiftSPI header+len+payload, SetAux(high).
	assert(t, len(sent) > 0, "expected bytes sent to frame CS")
	assert(t, sent[0]&0x0f == byte(sequencer.OpSetAux), "first opcode should be SetAux, got %x", sent[0])
}

func TestSequencerBusPhaseSwitch(t *testing.T) {
	p := pipe.NewMemPipe()
	seq := sequencer.New(p)
	bus := NewSequencerBus(seq, sequencer.AuxCS0, sequencer.SPIPhase1)
	bus.SetPhase(sequencer.SPIPhase4)
	assert(t, bus.phase == sequencer.SPIPhase4, "SetPhase did not take effect")
}
