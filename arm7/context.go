// Package arm7 implements the L3a ARM7TDMI EmbeddedICE debug engine:
// transaction batching over the EmbeddedICE scan-chain-2 register,
// watchpoint-based breakpoints, ARM/Thumb debug entry/exit prologues,
// and fast/general-path target memory access, per spec.md §4.3.
package arm7

// cpsrMode is the 5-bit mode field of CPSR (bits [4:0]).
type cpsrMode uint32

const (
	modeUsr cpsrMode = 0x10
	modeFIQ cpsrMode = 0x11
	modeIRQ cpsrMode = 0x12
	modeSVC cpsrMode = 0x13
	modeAbt cpsrMode = 0x17
	modeUnd cpsrMode = 0x1b
	modeSys cpsrMode = 0x1f
)

func (m cpsrMode) String() string {
	switch m {
	case modeUsr:
		return "usr"
	case modeFIQ:
		return "fiq"
	case modeIRQ:
		return "irq"
	case modeSVC:
		return "svc"
	case modeAbt:
		return "abt"
	case modeUnd:
		return "und"
	case modeSys:
		return "sys"
	default:
		return "unknown"
	}
}

// Context is the full 37-word ARM7 architectural state (spec.md §3's "ARM7
// context"): CPSR, R0-R7 (shared across all modes), the banked R8-R14 for
// usr/fiq/irq/svc/abt/und, R15 (PC), and SPSR for every mode but usr/sys.
// Lifecycle: populated on debug entry, mutated freely while halted,
// written back on debug exit.
type Context struct {
	CPSR uint32
	R    [8]uint32 // R0-R7, unbanked

	// R8-R12 are banked only for FIQ; every other mode shares r8_usr..r12_usr.
	R8_12usr [5]uint32
	R8_12fiq [5]uint32

	R13usr, R14usr uint32
	R13fiq, R14fiq uint32
	R13irq, R14irq uint32
	R13svc, R14svc uint32
	R13abt, R14abt uint32
	R13und, R14und uint32

	PC uint32

	SPSRfiq, SPSRirq, SPSRsvc, SPSRabt, SPSRund uint32
}

// Mode returns the processor mode encoded in CPSR.
func (c *Context) Mode() cpsrMode { return cpsrMode(c.CPSR & 0x1f) }

// GetR8_12 returns R8-R12 for the given mode (banked only for FIQ).
func (c *Context) GetR8_12(m cpsrMode) [5]uint32 {
	if m == modeFIQ {
		return c.R8_12fiq
	}
	return c.R8_12usr
}

// SetR8_12 writes R8-R12 for the given mode.
func (c *Context) SetR8_12(m cpsrMode, v [5]uint32) {
	if m == modeFIQ {
		c.R8_12fiq = v
	} else {
		c.R8_12usr = v
	}
}

// GetR13 returns the banked stack pointer for the given mode.
func (c *Context) GetR13(m cpsrMode) uint32 {
	switch m {
	case modeFIQ:
		return c.R13fiq
	case modeIRQ:
		return c.R13irq
	case modeSVC:
		return c.R13svc
	case modeAbt:
		return c.R13abt
	case modeUnd:
		return c.R13und
	default:
		return c.R13usr
	}
}

// SetR13 writes the banked stack pointer for the given mode.
func (c *Context) SetR13(m cpsrMode, v uint32) {
	switch m {
	case modeFIQ:
		c.R13fiq = v
	case modeIRQ:
		c.R13irq = v
	case modeSVC:
		c.R13svc = v
	case modeAbt:
		c.R13abt = v
	case modeUnd:
		c.R13und = v
	default:
		c.R13usr = v
	}
}

// GetR14 returns the banked link register for the given mode.
func (c *Context) GetR14(m cpsrMode) uint32 {
	switch m {
	case modeFIQ:
		return c.R14fiq
	case modeIRQ:
		return c.R14irq
	case modeSVC:
		return c.R14svc
	case modeAbt:
		return c.R14abt
	case modeUnd:
		return c.R14und
	default:
		return c.R14usr
	}
}

// SetR14 writes the banked link register for the given mode.
func (c *Context) SetR14(m cpsrMode, v uint32) {
	switch m {
	case modeFIQ:
		c.R14fiq = v
	case modeIRQ:
		c.R14irq = v
	case modeSVC:
		c.R14svc = v
	case modeAbt:
		c.R14abt = v
	case modeUnd:
		c.R14und = v
	default:
		c.R14usr = v
	}
}

// GetSPSR returns the saved CPSR for the given exception mode. Panics for
// usr/sys, which have no SPSR.
func (c *Context) GetSPSR(m cpsrMode) uint32 {
	switch m {
	case modeFIQ:
		return c.SPSRfiq
	case modeIRQ:
		return c.SPSRirq
	case modeSVC:
		return c.SPSRsvc
	case modeAbt:
		return c.SPSRabt
	case modeUnd:
		return c.SPSRund
	default:
		panic("arm7: no SPSR for usr/sys mode")
	}
}

// SetSPSR writes the saved CPSR for the given exception mode.
func (c *Context) SetSPSR(m cpsrMode, v uint32) {
	switch m {
	case modeFIQ:
		c.SPSRfiq = v
	case modeIRQ:
		c.SPSRirq = v
	case modeSVC:
		c.SPSRsvc = v
	case modeAbt:
		c.SPSRabt = v
	case modeUnd:
		c.SPSRund = v
	default:
		panic("arm7: no SPSR for usr/sys mode")
	}
}

// pipelineAdjustedPC computes the true instruction address from a
// captured PC per spec.md §4.3: captured_PC - 3*insn_size - isaReadOffset.
func pipelineAdjustedPC(capturedPC uint32, thumb bool) uint32 {
	insnSize := uint32(4)
	isaReadOffset := uint32(8)
	if thumb {
		insnSize = 2
		isaReadOffset = 4
	}
	return capturedPC - 3*insnSize - isaReadOffset
}
