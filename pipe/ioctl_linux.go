//go:build linux

package pipe

// ioctl request numbers for the termios calls SerialPipe actually needs.
// Kept from the teacher's ioctl_linux.go; trimmed to the subset a fixed-rate
// probe link uses (no RS485, no modem-line control, no pty peer lookup —
// see DESIGN.md for what was dropped and why).
var (
	tcgets = uintptr(0x5401)
	tcsets = uintptr(0x5402)
	tcsbrk = uintptr(0x5409)
)
