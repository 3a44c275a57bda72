// Package mec16xx drives a Microchip MEC16xx embedded Flash/EEPROM
// controller over ARC JTAG, per spec.md §4.7. Register addresses and
// bitfield layouts are grounded directly on
// original_source/arch/arc/mec16xx.py (no pack example carries this
// controller); the register access path rides on package arcjtag.
package mec16xx

import (
	"context"
	"fmt"

	"github.com/fpgaprobe/hostrt/arcjtag"
	"github.com/fpgaprobe/hostrt/bitstruct"
	"github.com/fpgaprobe/hostrt/internal/logging"
	"github.com/fpgaprobe/hostrt/probeerr"
)

// Flash controller register block, per original_source's Flash_*_addr
// table.
const (
	flashBase        = 0xff_3800
	flashMbxIndex    = flashBase + 0x00
	flashMbxData     = flashBase + 0x04
	flashData        = flashBase + 0x100
	flashAddress     = flashBase + 0x104
	flashCommand     = flashBase + 0x108
	flashStatus      = flashBase + 0x10c
	flashConfig      = flashBase + 0x110
	flashInit        = flashBase + 0x114
)

// Flash_Mode values, per original_source.
const (
	modeStandby = 0
	modeRead    = 1
	modeProgram = 2
	modeErase   = 3
)

var commandSchema = bitstruct.NewSchema(
	bitstruct.Field{Name: "flash_mode", Width: 2},
	bitstruct.Field{Name: "burst", Width: 1},
	bitstruct.Field{Name: "ec_int", Width: 1},
	bitstruct.Field{Name: "rsv0", Width: 4},
	bitstruct.Field{Name: "reg_ctl", Width: 1},
	bitstruct.Field{Name: "rsv1", Width: 23},
)

var statusSchema = bitstruct.NewSchema(
	bitstruct.Field{Name: "busy", Width: 1},
	bitstruct.Field{Name: "data_full", Width: 1},
	bitstruct.Field{Name: "address_full", Width: 1},
	bitstruct.Field{Name: "boot_lock", Width: 1},
	bitstruct.Field{Name: "rsv0", Width: 1},
	bitstruct.Field{Name: "boot_block", Width: 1},
	bitstruct.Field{Name: "data_block", Width: 1},
	bitstruct.Field{Name: "eeprom_block", Width: 1},
	bitstruct.Field{Name: "busy_err", Width: 1},
	bitstruct.Field{Name: "cmd_err", Width: 1},
	bitstruct.Field{Name: "protect_err", Width: 1},
	bitstruct.Field{Name: "rsv1", Width: 21},
)

var configSchema = bitstruct.NewSchema(
	bitstruct.Field{Name: "reg_ctl_en", Width: 1},
	bitstruct.Field{Name: "host_ctl", Width: 1},
	bitstruct.Field{Name: "boot_lock", Width: 1},
	bitstruct.Field{Name: "boot_protect_en", Width: 1},
	bitstruct.Field{Name: "data_protect", Width: 1},
	bitstruct.Field{Name: "inhibit_jtag", Width: 1},
	bitstruct.Field{Name: "rsv0", Width: 2},
	bitstruct.Field{Name: "eeprom_access", Width: 1},
	bitstruct.Field{Name: "eeprom_protect", Width: 1},
	bitstruct.Field{Name: "eeprom_force_block", Width: 1},
	bitstruct.Field{Name: "rsv1", Width: 21},
)

// resetTestSchema decodes/encodes the undocumented RESET_TEST DR, per
// original_source's comment: "Probably ME... Cursed."
var resetTestSchema = bitstruct.NewSchema(
	bitstruct.Field{Name: "me", Width: 1},
	bitstruct.Field{Name: "vcc_por", Width: 1},
	bitstruct.Field{Name: "vtr_por", Width: 1},
	bitstruct.Field{Name: "por_en", Width: 1},
	bitstruct.Field{Name: "rsv0", Width: 27},
	bitstruct.Field{Name: "gang_en", Width: 1},
)

// maxStatusPolls bounds the Busy-wait loop per spec.md §5.
const maxStatusPolls = 4096

// Controller drives the MEC16xx Flash controller over an arcjtag.Probe.
type Controller struct {
	p   *arcjtag.Probe
	log logging.Logger
}

// NewController builds a Controller over an already-connected arcjtag
// Probe, logging to the discard sink; use WithLogger to observe warnings.
func NewController(p *arcjtag.Probe) *Controller {
	return &Controller{p: p, log: logging.Discard()}
}

// WithLogger attaches l as the Controller's warning sink (e.g. for the
// glitched-read self-correction spec.md §7 calls out by name) and returns
// c for chaining.
func (c *Controller) WithLogger(l logging.Logger) *Controller {
	c.log = l
	return c
}

// flashErr realizes spec.md §4.7's "MEC16xx: Flash command ... failed
// with status {Busy_Err=1}" message template.
func flashErr(op string, status uint64) error {
	st := statusSchema.FromUint(status)
	msg := fmt.Sprintf("Flash command failed with status {Busy_Err=%d, CMD_Err=%d, Protect_Err=%d}",
		st.Get("busy_err"), st.Get("cmd_err"), st.Get("protect_err"))
	return probeerr.Wrap(probeerr.KindTargetFailure, "mec16xx", op, msg, nil)
}

// Init enables Reg_Ctl_En in Config and places the controller in
// Standby, clearing any sticky errors (spec.md §4.7 steps 1-2).
func (c *Controller) Init(ctx context.Context) error {
	cfg := configSchema.New()
	_ = cfg.Set("reg_ctl_en", 1)
	if err := c.p.WriteWord(ctx, arcjtag.SpaceMemory, flashConfig, uint32(cfg.Uint())); err != nil {
		return err
	}
	return c.setCommand(ctx, modeStandby, false)
}

func (c *Controller) setCommand(ctx context.Context, mode uint64, burst bool) error {
	cmd := commandSchema.New()
	_ = cmd.Set("flash_mode", mode)
	_ = cmd.Set("reg_ctl", 1)
	if burst {
		_ = cmd.Set("burst", 1)
	}
	if err := c.p.WriteWord(ctx, arcjtag.SpaceMemory, flashCommand, uint32(cmd.Uint())); err != nil {
		return err
	}
	return c.waitReady(ctx, "set_command")
}

// waitReady polls Status until ¬Busy, raising on any sticky error bit
// (spec.md §4.7 step 3).
func (c *Controller) waitReady(ctx context.Context, op string) error {
	for i := 0; i < maxStatusPolls; i++ {
		raw, err := c.p.ReadWord(ctx, arcjtag.SpaceMemory, flashStatus)
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
	return probeerr.Wrap(probeerr.KindTargetFailure, "mec16xx", op, "status did not clear Busy within poll budget", nil)
}

// ReadWord performs one glitch-mitigated word read (spec.md §4.7 step
// 4): two reads are compared; on mismatch, a third read is taken and
// majority-voted; if no two of three agree, the read is rejected.
func (c *Controller) ReadWord(ctx context.Context, addr uint32) (uint32, error) {
	if err := c.setCommand(ctx, modeRead, false); err != nil {
		return 0, err
	}
	if err := c.p.WriteWord(ctx, arcjtag.SpaceMemory, flashAddress, addr); err != nil {
		return 0, err
	}
	if err := c.waitReady(ctx, "read_word"); err != nil {
		return 0, err
	}
	a, err := c.p.ReadWord(ctx, arcjtag.SpaceMemory, flashData)
	if err != nil {
		return 0, err
	}
	b, err := c.p.ReadWord(ctx, arcjtag.SpaceMemory, flashData)
	if err != nil {
		return 0, err
	}
	if a == b {
		return a, nil
	}
	thirdRead, err := c.p.ReadWord(ctx, arcjtag.SpaceMemory, flashData)
	if err != nil {
		return 0, err
	}
	word, glitched, ok := voteRead(a, b, thirdRead)
	if !ok {
		return 0, probeerr.Wrap(probeerr.KindTargetFailure, "mec16xx", "read_word",
			"glitched Flash read: no two of three samples agree", nil)
	}
	if glitched {
		c.log.Warn("glitched Flash read self-corrected", "addr", addr, "a", a, "b", b, "c", thirdRead)
	}
	return word, nil
}

// voteRead majority-votes three samples of the same word. If a and b
// agree, that value wins (glitched=false); otherwise, if either agrees
// with c, that value wins (glitched=true, since a and b couldn't both
// have been clean); ok is false only when all three samples differ
// pairwise.
func voteRead(a, b, c uint32) (word uint32, glitched bool, ok bool) {
	switch {
	case a == b:
		return a, false, true
	case a == c:
		return a, true, true
	case b == c:
		return b, true, true
	default:
		return 0, false, false
	}
}

// Program writes words starting at addr using a single program burst
// (spec.md §4.7 step 5): Burst=1, stream each word, finalize on ¬Busy.
func (c *Controller) Program(ctx context.Context, addr uint32, words []uint32) error {
	if err := c.setCommand(ctx, modeProgram, true); err != nil {
		return err
	}
	if err := c.p.WriteWord(ctx, arcjtag.SpaceMemory, flashAddress, addr); err != nil {
		return err
	}
	for _, w := range words {
		if err := c.p.WriteWord(ctx, arcjtag.SpaceMemory, flashData, w); err != nil {
			return err
		}
		if err := c.waitReady(ctx, "program"); err != nil {
			return err
		}
	}
	return nil
}

// Erase erases the block/sector at addr.
func (c *Controller) Erase(ctx context.Context, addr uint32) error {
	if err := c.setCommand(ctx, modeErase, false); err != nil {
		return err
	}
	if err := c.p.WriteWord(ctx, arcjtag.SpaceMemory, flashAddress, addr); err != nil {
		return err
	}
	return c.waitReady(ctx, "erase")
}

// MassErase drives the undocumented RESET_TEST{POR_EN, VTR_POR->ME->
// ¬VTR_POR} sequence (spec.md §4.7 "Emergency mass erase"). The caller
// must warn the operator that a power cycle may be required afterward.
func (c *Controller) MassErase(ctx context.Context) error {
	step := func(me, vccPOR, vtrPOR, porEn uint64) error {
		v := resetTestSchema.New()
		_ = v.Set("me", me)
		_ = v.Set("vcc_por", vccPOR)
		_ = v.Set("vtr_por", vtrPOR)
		_ = v.Set("por_en", porEn)
		return c.p.ResetTest(ctx, uint32(v.Uint()))
	}
	if err := step(0, 0, 1, 1); err != nil {
		return err
	}
	if err := step(1, 0, 1, 1); err != nil {
		return err
	}
	return step(1, 0, 0, 1)
}
