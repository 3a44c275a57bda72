package arm7

// EmbeddedICE register addresses (5-bit, scan chain 2), per ARM7TDMI's
// fixed macrocell register map.
const (
	regDebugCtrl  = 0x00
	regDebugStat  = 0x01
	regW0Addr     = 0x04
	regW0AddrMask = 0x05
	regW0Data     = 0x06
	regW0DataMask = 0x07
	regW0Ctrl     = 0x08
	regW0CtrlMask = 0x09
	regW1Addr     = 0x0c
	regW1AddrMask = 0x0d
	regW1Data     = 0x0e
	regW1DataMask = 0x0f
	regW1Ctrl     = 0x10
	regW1CtrlMask = 0x11
)

// DBGCTL bits.
const (
	dbgctlDbgAck  = 1 << 0
	dbgctlDbgRq   = 1 << 1
	dbgctlIntDis  = 1 << 2
	dbgctlDbgExit = 1 << 3
)

// DBGSTAT bits.
const (
	dbgstatDbgAck  = 1 << 0
	dbgstatTrans1  = 1 << 1
	dbgstatSysSpee = 1 << 3
)

// watchCtrl bits: ENABLE, RANGE, CHAIN, EXTERN, ITBIT, DATA, nOPC.
const (
	watchEnable = 1 << 0
	watchRange  = 1 << 1
)

// unit identifies one of the two EmbeddedICE watchpoint units.
type unit int

const (
	unitW0 unit = iota
	unitW1
)

func (u unit) registers() (addr, addrMask, data, dataMask, ctrl, ctrlMask byte) {
	if u == unitW0 {
		return regW0Addr, regW0AddrMask, regW0Data, regW0DataMask, regW0Ctrl, regW0CtrlMask
	}
	return regW1Addr, regW1AddrMask, regW1Data, regW1DataMask, regW1Ctrl, regW1CtrlMask
}

// programWatchpointFetchAddr enqueues the register writes for
// watchpt_fetch_addr(unit, addr, width): break on instruction fetch of
// addr, matching the full address (mask all-zero) and the given transfer
// width via the CTRL register's size field (bit 4 clear = word/ARM, set =
// halfword/Thumb, per §4.3's width ∈ {2,4}).
//
// Masks are inverted on the wire (0 = must match); callers always supply
// the natural convention (1 = must match) and invertMask inverts it.
func (d *Debugger) programWatchpointFetchAddr(txn *Transaction, u unit, addr uint32, width int) {
	addrReg, addrMaskReg, dataReg, dataMaskReg, ctrlReg, ctrlMaskReg := u.registers()
	txn.SetReg(addrReg, addr)
	txn.SetReg(addrMaskReg, invertMask(^uint32(0))) // match every bit of addr
	txn.SetReg(dataReg, 0)
	txn.SetReg(dataMaskReg, invertMask(0)) // data is don't-care
	ctrl := uint32(watchEnable)
	if width == 2 {
		ctrl |= 1 << 4
	}
	txn.SetReg(ctrlReg, ctrl)
	txn.SetReg(ctrlMaskReg, invertMask(0x1f)) // match ENABLE+size bits, ignore the rest
}

// programWatchpointFetchData enqueues the register writes for
// watchpt_fetch_data(unit, pattern, width): break when pattern appears on
// an instruction fetch's data bus, used for software breakpoint traps
// (BKPT/SWI-style encodings).
func (d *Debugger) programWatchpointFetchData(txn *Transaction, u unit, pattern uint32, width int) {
	_, _, dataReg, dataMaskReg, ctrlReg, ctrlMaskReg := u.registers()
	txn.SetReg(dataReg, pattern)
	txn.SetReg(dataMaskReg, invertMask(^uint32(0)))
	ctrl := uint32(watchEnable)
	if width == 2 {
		ctrl |= 1 << 4
	}
	txn.SetReg(ctrlReg, ctrl)
	txn.SetReg(ctrlMaskReg, invertMask(0x1f))
}

// programWatchpointStep configures W1 to match the current PC and W0 to
// match anything but (via RANGE inversion), realizing watchpt_step per
// spec.md §4.3.
func (d *Debugger) programWatchpointStep(txn *Transaction, pc uint32) {
	d.programWatchpointFetchAddr(txn, unitW1, pc, 4)
	w0addr, w0addrMask, w0data, w0dataMask, w0ctrl, w0ctrlMask := unitW0.registers()
	txn.SetReg(w0addr, pc)
	txn.SetReg(w0addrMask, invertMask(^uint32(0)))
	txn.SetReg(w0data, 0)
	txn.SetReg(w0dataMask, invertMask(0))
	txn.SetReg(w0ctrl, watchEnable|watchRange)
	txn.SetReg(w0ctrlMask, invertMask(0x1f))
}

// disableWatchpoint clears a unit's CTRL enable bit.
func (d *Debugger) disableWatchpoint(txn *Transaction, u unit) {
	_, _, _, _, ctrlReg, _ := u.registers()
	txn.SetReg(ctrlReg, 0)
}

// invertMask inverts a natural "1 = must match" mask into the hardware's
// "0 = must match" wire convention (spec.md §4.3: "masks are stored
// inverted on the hardware... the driver inverts on write").
func invertMask(natural uint32) uint32 { return ^natural }
