package mec16xx

import (
	"context"

	"github.com/fpgaprobe/hostrt/arcjtag"
	"github.com/fpgaprobe/hostrt/probeerr"
)

// EEPROM register block, laid out the same way as the Flash block per
// spec.md §4.7's "EEPROM follows the same pattern with its own register
// block"; offsets are grounded on the Flash block's own layout since
// original_source's mec16xx.py does not enumerate the EEPROM addresses
// separately (a documented gap this driver carries forward, per
// spec.md's open question on Data_Full ordering).
const (
	eepromBase    = 0xff_3a00
	eepromData    = eepromBase + 0x100
	eepromAddress = eepromBase + 0x104
	eepromCommand = eepromBase + 0x108
	eepromStatus  = eepromBase + 0x10c
	eepromConfig  = eepromBase + 0x110
	eepromUnlock  = eepromBase + 0x118
)

// EEPROM drives the MEC16xx EEPROM controller, sharing arcjtag.Probe
// with the Flash Controller but owning its own register block and
// Data_Full backpressure handling.
type EEPROM struct {
	p *arcjtag.Probe
}

// NewEEPROM builds an EEPROM controller over an already-connected
// arcjtag Probe.
func NewEEPROM(p *arcjtag.Probe) *EEPROM { return &EEPROM{p: p} }

// Unlock writes the 31-bit password to the unlock register, required
// before any operation while EEPROM_Status.EEPROM_Block is set.
func (e *EEPROM) Unlock(ctx context.Context, password uint32) error {
	return e.p.WriteWord(ctx, arcjtag.SpaceMemory, eepromUnlock, password&0x7fffffff)
}

func (e *EEPROM) checkUnblocked(ctx context.Context) error {
	raw, err := e.p.ReadWord(ctx, arcjtag.SpaceMemory, eepromStatus)
	if err != nil {
		return err
	}
	st := statusSchema.FromUint(uint64(raw))
	if st.Get("eeprom_block") == 1 {
		return probeerr.Wrap(probeerr.KindProgrammerPolicy, "mec16xx", "eeprom",
			"EEPROM_Status.EEPROM_Block is set; call Unlock(password) first", nil)
	}
	return nil
}

func (e *EEPROM) setCommand(ctx context.Context, mode uint64, burst bool) error {
	cmd := commandSchema.New()
	_ = cmd.Set("flash_mode", mode)
	_ = cmd.Set("reg_ctl", 1)
	if burst {
		_ = cmd.Set("burst", 1)
	}
	if err := e.p.WriteWord(ctx, arcjtag.SpaceMemory, eepromCommand, uint32(cmd.Uint())); err != nil {
		return err
	}
	return e.waitReady(ctx, "eeprom_set_command")
}

func (e *EEPROM) waitReady(ctx context.Context, op string) error {
	for i := 0; i < maxStatusPolls; i++ {
		raw, err := e.p.ReadWord(ctx, arcjtag.SpaceMemory, eepromStatus)
		if err != nil {
			return err
		}
		st := statusSchema.FromUint(uint64(raw))
		if st.Get("busy_err") == 1 || st.Get("cmd_err") == 1 || st.Get("protect_err") == 1 {
			return flashErr(op, uint64(raw))
		}
		if st.Get("busy") == 0 {
			return nil
		}
	}
	return probeerr.Wrap(probeerr.KindTargetFailure, "mec16xx", op, "EEPROM status did not clear Busy within poll budget", nil)
}

// waitDataNotFull polls Data_Full before every word write, the
// conservative choice spec.md's open question settles on.
func (e *EEPROM) waitDataNotFull(ctx context.Context) error {
	for i := 0; i < maxStatusPolls; i++ {
		raw, err := e.p.ReadWord(ctx, arcjtag.SpaceMemory, eepromStatus)
		if err != nil {
			return err
		}
		st := statusSchema.FromUint(uint64(raw))
		if st.Get("data_full") == 0 {
			return nil
		}
	}
	return probeerr.Wrap(probeerr.KindTargetFailure, "mec16xx", "eeprom_write", "Data_Full did not clear within poll budget", nil)
}

// ReadWord reads one EEPROM word, applying the same glitch mitigation
// as the Flash block.
func (e *EEPROM) ReadWord(ctx context.Context, addr uint32) (uint32, error) {
	if err := e.checkUnblocked(ctx); err != nil {
		return 0, err
	}
	if err := e.setCommand(ctx, modeRead, false); err != nil {
		return 0, err
	}
	if err := e.p.WriteWord(ctx, arcjtag.SpaceMemory, eepromAddress, addr); err != nil {
		return 0, err
	}
	if err := e.waitReady(ctx, "eeprom_read"); err != nil {
		return 0, err
	}
	a, err := e.p.ReadWord(ctx, arcjtag.SpaceMemory, eepromData)
	if err != nil {
		return 0, err
	}
	b, err := e.p.ReadWord(ctx, arcjtag.SpaceMemory, eepromData)
	if err != nil {
		return 0, err
	}
	if a == b {
		return a, nil
	}
	third, err := e.p.ReadWord(ctx, arcjtag.SpaceMemory, eepromData)
	if err != nil {
		return 0, err
	}
	word, _, ok := voteRead(a, b, third)
	if !ok {
		return 0, probeerr.Wrap(probeerr.KindTargetFailure, "mec16xx", "eeprom_read",
			"glitched EEPROM read: no two of three samples agree", nil)
	}
	return word, nil
}

// WriteWords programs words starting at addr, polling Data_Full before
// every word per spec.md §9's resolved open question.
func (e *EEPROM) WriteWords(ctx context.Context, addr uint32, words []uint32) error {
	if err := e.checkUnblocked(ctx); err != nil {
		return err
	}
	if err := e.setCommand(ctx, modeProgram, true); err != nil {
		return err
	}
	if err := e.p.WriteWord(ctx, arcjtag.SpaceMemory, eepromAddress, addr); err != nil {
		return err
	}
	for _, w := range words {
		if err := e.waitDataNotFull(ctx); err != nil {
			return err
		}
		if err := e.p.WriteWord(ctx, arcjtag.SpaceMemory, eepromData, w); err != nil {
			return err
		}
		if err := e.waitReady(ctx, "eeprom_write"); err != nil {
			return err
		}
	}
	return nil
}
