// Package flash implements the L5 25-series SPI/QSPI Flash driver:
// command encoding over a spi.Bus, SFDP decoding (sfdp.go), page
// program/erase orchestration with a read-modify-write erase-program
// path, and write_in_progress polling, per spec.md §4.6. No pack example
// parses SFDP or drives a 25-series command set; this package is
// grounded directly on spec.md's field and command-opcode list, using
// the jtag/arcjtag packages' bitstruct-schema idiom for the status
// register and spi.Bus (package spi, adapted from the teacher's spidev
// driver) for the command/data transport.
package flash

import (
	"context"
	"fmt"

	"github.com/fpgaprobe/hostrt/bitstruct"
	"github.com/fpgaprobe/hostrt/probeerr"
	"github.com/fpgaprobe/hostrt/spi"
)

// Command opcodes, per spec.md §4.6.
const (
	cmdWakeup            = 0xab
	cmdDeepSleep         = 0xb9
	cmdReadJEDECID       = 0x9f
	cmdReadManufDeviceID = 0x90
	cmdRead              = 0x03
	cmdFastRead          = 0x0b
	cmdReadSFDP          = 0x5a
	cmdWriteEnable       = 0x06
	cmdWriteDisable      = 0x04
	cmdReadStatus        = 0x05
	cmdSectorErase       = 0x20
	cmdBlockErase        = 0x52
	cmdChipErase         = 0x60
	cmdPageProgram       = 0x02
)

// statusSchema decodes the 8-bit status register (SR1): WIP/WEL plus the
// block-protect bits every 25-series part shares.
var statusSchema = bitstruct.NewSchema(
	bitstruct.Field{Name: "wip", Width: 1},
	bitstruct.Field{Name: "wel", Width: 1},
	bitstruct.Field{Name: "bp0", Width: 1},
	bitstruct.Field{Name: "bp1", Width: 1},
	bitstruct.Field{Name: "bp2", Width: 1},
	bitstruct.Field{Name: "tb", Width: 1},
	bitstruct.Field{Name: "sec", Width: 1},
	bitstruct.Field{Name: "srp0", Width: 1},
)

// maxWriteInProgressRetries bounds write_in_progress polling per
// spec.md §5's "bounded iteration" rule; spec.md §4.6 additionally calls
// for raising if WEL & !WIP persists across two consecutive reads
// (command failed without setting BUSY), checked independently of this
// budget.
const maxWriteInProgressRetries = 1 << 20

// Progress reports erase_program progress, per spec.md §4.6: done/total
// byte counts and a short status string ("erasing" or "programming").
// EraseProgram does no read-back verify pass, so no "verifying" status
// is reported.
type Progress func(done, total int, status string)

// Device drives one 25-series Flash part over a spi.Bus.
type Device struct {
	bus  spi.Bus
	Part *PartInfo // optional; set by Identify or the caller
}

// New wraps an already-configured spi.Bus.
func New(bus spi.Bus) *Device { return &Device{bus: bus} }

func flashErr(op, msg string) error {
	return probeerr.Wrap(probeerr.KindTargetFailure, "flash", op, msg, nil)
}

// frame issues opcode [addr:addrBytes] [dummy zero bytes] [tx...],
// reading back nread trailing bytes, per spec.md §4.6's "CS#down opcode
// [addr:24] [dummy] [data...] CS#up" framing.
func (d *Device) frame(ctx context.Context, opcode byte, addr uint32, addrBytes, dummy int, tx []byte, nread int) ([]byte, error) {
	buf := make([]byte, 0, 1+addrBytes+dummy+len(tx)+nread)
	buf = append(buf, opcode)
	for i := addrBytes - 1; i >= 0; i-- {
		buf = append(buf, byte(addr>>uint(8*i)))
	}
	for i := 0; i < dummy; i++ {
		buf = append(buf, 0)
	}
	buf = append(buf, tx...)
	buf = append(buf, make([]byte, nread)...)
	rx, err := spi.Transfer(ctx, d.bus, buf)
	if err != nil {
		return nil, probeerr.Wrap(probeerr.KindTransport, "flash", "frame", "spi transfer failed", err)
	}
	if nread == 0 {
		return nil, nil
	}
	return rx[len(rx)-nread:], nil
}

// Wakeup sends the AB release-from-deep-power-down opcode.
func (d *Device) Wakeup(ctx context.Context) error {
	_, err := d.frame(ctx, cmdWakeup, 0, 0, 0, nil, 0)
	return err
}

// DeepSleep sends the B9 deep-power-down opcode.
func (d *Device) DeepSleep(ctx context.Context) error {
	_, err := d.frame(ctx, cmdDeepSleep, 0, 0, 0, nil, 0)
	return err
}

// ReadJEDECID reads the 9Fh manufacturer/memory-type/capacity triple.
func (d *Device) ReadJEDECID(ctx context.Context) (manufacturer, memType, capacity byte, err error) {
	rx, err := d.frame(ctx, cmdReadJEDECID, 0, 0, 0, nil, 3)
	if err != nil {
		return 0, 0, 0, err
	}
	return rx[0], rx[1], rx[2], nil
}

// ReadManufacturerDeviceID reads the legacy 90h manufacturer/device pair
// at address 0.
func (d *Device) ReadManufacturerDeviceID(ctx context.Context) (manufacturer, device byte, err error) {
	rx, err := d.frame(ctx, cmdReadManufDeviceID, 0, 3, 0, nil, 2)
	if err != nil {
		return 0, 0, err
	}
	return rx[0], rx[1], nil
}

// ReadManufacturerLongDeviceID reads an extended manufacturer/device-ID
// string of n bytes via the same 90h opcode, for parts that return more
// than two ID bytes.
func (d *Device) ReadManufacturerLongDeviceID(ctx context.Context, n int) (manufacturer byte, deviceID []byte, err error) {
	rx, err := d.frame(ctx, cmdReadManufDeviceID, 0, 3, 0, nil, 1+n)
	if err != nil {
		return 0, nil, err
	}
	return rx[0], rx[1:], nil
}

// Read performs a 03h standard read of n bytes starting at addr.
func (d *Device) Read(ctx context.Context, addr uint32, n int) ([]byte, error) {
	return d.frame(ctx, cmdRead, addr, 3, 0, nil, n)
}

// FastRead performs a 0Bh fast read (one dummy byte) of n bytes.
func (d *Device) FastRead(ctx context.Context, addr uint32, n int) ([]byte, error) {
	return d.frame(ctx, cmdFastRead, addr, 3, 1, nil, n)
}

// ReadSFDP performs a 5Ah SFDP read (one dummy byte) of n bytes
// starting at addr within the SFDP address space.
func (d *Device) ReadSFDP(ctx context.Context, addr uint32, n int) ([]byte, error) {
	return d.frame(ctx, cmdReadSFDP, addr, 3, 1, nil, n)
}

// WriteEnable sends 06h.
func (d *Device) WriteEnable(ctx context.Context) error {
	_, err := d.frame(ctx, cmdWriteEnable, 0, 0, 0, nil, 0)
	return err
}

// WriteDisable sends 04h.
func (d *Device) WriteDisable(ctx context.Context) error {
	_, err := d.frame(ctx, cmdWriteDisable, 0, 0, 0, nil, 0)
	return err
}

// ReadStatus reads SR1 via 05h.
func (d *Device) ReadStatus(ctx context.Context) (byte, error) {
	rx, err := d.frame(ctx, cmdReadStatus, 0, 0, 0, nil, 1)
	if err != nil {
		return 0, err
	}
	return rx[0], nil
}

// SectorErase issues a 20h sector erase at addr (the containing
// sector's base address).
func (d *Device) SectorErase(ctx context.Context, addr uint32) error {
	if err := d.WriteEnable(ctx); err != nil {
		return err
	}
	if _, err := d.frame(ctx, cmdSectorErase, addr, 3, 0, nil, 0); err != nil {
		return err
	}
	return d.waitWriteInProgress(ctx, "sector_erase")
}

// BlockErase issues a 52h block erase at addr.
func (d *Device) BlockErase(ctx context.Context, addr uint32) error {
	if err := d.WriteEnable(ctx); err != nil {
		return err
	}
	if _, err := d.frame(ctx, cmdBlockErase, addr, 3, 0, nil, 0); err != nil {
		return err
	}
	return d.waitWriteInProgress(ctx, "block_erase")
}

// ChipErase issues a 60h whole-chip erase.
func (d *Device) ChipErase(ctx context.Context) error {
	if err := d.WriteEnable(ctx); err != nil {
		return err
	}
	if _, err := d.frame(ctx, cmdChipErase, 0, 0, 0, nil, 0); err != nil {
		return err
	}
	return d.waitWriteInProgress(ctx, "chip_erase")
}

// PageProgram issues one 02h page-program command. Callers must ensure
// addr/len does not cross a page boundary; Program orchestrates that.
func (d *Device) PageProgram(ctx context.Context, addr uint32, data []byte) error {
	if err := d.WriteEnable(ctx); err != nil {
		return err
	}
	if _, err := d.frame(ctx, cmdPageProgram, addr, 3, 0, data, 0); err != nil {
		return err
	}
	return d.waitWriteInProgress(ctx, "page_program")
}

// waitWriteInProgress polls SR until WIP clears, per spec.md §4.6's
// "write_in_progress polling reads SR and raises if WEL & !WIP persists
// across two reads (indicating the command failed without setting
// BUSY)".
func (d *Device) waitWriteInProgress(ctx context.Context, op string) error {
	var lastWELNoWIP bool
	for i := 0; i < maxWriteInProgressRetries; i++ {
		raw, err := d.ReadStatus(ctx)
		if err != nil {
			return err
		}
		st := statusSchema.FromUint(uint64(raw))
		if st.Get("wip") == 0 {
			if st.Get("wel") == 1 {
				if lastWELNoWIP {
					return flashErr(op, "WEL set and WIP clear across two consecutive reads: command did not take")
				}
				lastWELNoWIP = true
				continue
			}
			return nil
		}
		lastWELNoWIP = false
	}
	return probeerr.Wrap(probeerr.KindTargetFailure, "flash", op, "WIP did not clear within poll budget", nil)
}

// Program writes data starting at addr, respecting page boundaries: each
// page_program command is clipped to its containing pageSize-aligned
// page, per spec.md §8's invariant that the concatenation of
// page-bounded page_program calls equals the input bytes.
func (d *Device) Program(ctx context.Context, addr uint32, data []byte, pageSize int) error {
	if pageSize <= 0 {
		return flashErr("program", fmt.Sprintf("invalid page size %d", pageSize))
	}
	cur := addr
	remaining := data
	for len(remaining) > 0 {
		pageOff := int(cur) % pageSize
		chunk := pageSize - pageOff
		if chunk > len(remaining) {
			chunk = len(remaining)
		}
		if err := d.PageProgram(ctx, cur, remaining[:chunk]); err != nil {
			return err
		}
		cur += uint32(chunk)
		remaining = remaining[chunk:]
	}
	return nil
}

// EraseProgram implements spec.md §4.6's read-modify-write per sector:
// erase, merge new bytes into the sector image (skipping the program
// step entirely if the merged sector is all-0xFF, since an erased
// sector already reads as 0xFF), program, reporting progress via cb
// after each phase of each sector.
func (d *Device) EraseProgram(ctx context.Context, addr uint32, data []byte, sectorSize, pageSize int, cb Progress) error {
	if sectorSize <= 0 || pageSize <= 0 {
		return flashErr("erase_program", "sector_size and page_size must be positive")
	}
	total := len(data)
	done := 0
	report := func(status string) {
		if cb != nil {
			cb(done, total, status)
		}
	}

	sectorBase := addr - addr%uint32(sectorSize)
	end := addr + uint32(len(data))
	for base := sectorBase; base < end; base += uint32(sectorSize) {
		sectorAddr := base

		preimage, err := d.Read(ctx, sectorAddr, sectorSize)
		if err != nil {
			return err
		}

		merged := make([]byte, sectorSize)
		copy(merged, preimage)
		allFF := true
		for i := range merged {
			byteAddr := sectorAddr + uint32(i)
			if byteAddr >= addr && byteAddr < end {
				merged[i] = data[byteAddr-addr]
			}
			if merged[i] != 0xff {
				allFF = false
			}
		}

		if err := d.SectorErase(ctx, sectorAddr); err != nil {
			return err
		}
		report("erasing")

		if !allFF {
			if err := d.Program(ctx, sectorAddr, merged, pageSize); err != nil {
				return err
			}
		}
		done = bytesCoveredThrough(sectorAddr+uint32(sectorSize), addr, uint32(len(data)))
		report("programming")
	}
	return nil
}

// bytesCoveredThrough returns how many bytes of [addr, addr+n) lie at or
// before through, clamped to n; used to report a monotonic progress
// count as EraseProgram finishes each sector.
func bytesCoveredThrough(through, addr, n uint32) int {
	if through <= addr {
		return 0
	}
	d := through - addr
	if d > n {
		d = n
	}
	return int(d)
}
