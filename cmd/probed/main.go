// Command probed wires the probe runtime's layers into a runnable daemon,
// per SPEC_FULL.md §2's "cmd/probed wires all of the above into a runnable
// daemon." It reads a single YAML profile path from argv[1] and otherwise
// takes no flags: CLI parsing is out of scope per spec.md §1, so this is
// deliberately the thinnest possible entrypoint, not a general-purpose CLI.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"

	"github.com/fpgaprobe/hostrt/arm7"
	"github.com/fpgaprobe/hostrt/config"
	"github.com/fpgaprobe/hostrt/gdbserver"
	"github.com/fpgaprobe/hostrt/internal/logging"
	"github.com/fpgaprobe/hostrt/jtag"
	"github.com/fpgaprobe/hostrt/pipe"
	"github.com/fpgaprobe/hostrt/sequencer"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: probed <profile.yaml>")
		os.Exit(2)
	}
	if err := run(os.Args[1]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(profilePath string) error {
	log := logging.New("probed", "info")

	cfg, err := config.Load(profilePath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	transport, err := openTransport(cfg)
	if err != nil {
		return fmt.Errorf("open transport: %w", err)
	}
	defer transport.Close()

	seq := sequencer.New(transport)
	ctrl := jtag.NewController(seq).WithLogger(log)

	chain, err := jtag.NewChain(ctx, ctrl, nil)
	if err != nil {
		return fmt.Errorf("interrogate chain: %w", err)
	}
	log.Info("JTAG chain interrogated", "taps", len(chain.Handles))
	if len(chain.Handles) == 0 {
		return fmt.Errorf("no TAPs found on chain")
	}

	target, allowMonitor, err := buildARM7Target(ctx, chain.Handles[0], cfg)
	if err != nil {
		return fmt.Errorf("build debug target: %w", err)
	}

	ln, err := net.Listen(cfg.GDB.Network, cfg.GDB.Address)
	if err != nil {
		return fmt.Errorf("listen %s/%s: %w", cfg.GDB.Network, cfg.GDB.Address, err)
	}
	defer ln.Close()
	log.Info("GDB RSP listening", "network", cfg.GDB.Network, "address", cfg.GDB.Address)

	server := gdbserver.NewServer(target, allowMonitor).WithLogger(log)
	return server.Serve(ctx, ln)
}

// openTransport opens the L0 byte pipe named by cfg.Pipe.Device: a real
// serial device, or the in-memory pipe.MemPipe under the literal name
// "mock" (used for local testing without attached hardware).
func openTransport(cfg *config.Config) (pipe.Pipe, error) {
	if cfg.Pipe.Device == "mock" {
		return pipe.NewMemPipe(), nil
	}
	return pipe.OpenSerial(cfg.Pipe.Device, pipe.CFlag(cfg.Pipe.IoctlSpeed))
}

// buildARM7Target halts the target on the first TAP and wraps it as a
// gdbserver.Target. Picking ARM7 vs. MIPS EJTAG per attached core is a
// pinmux/applet-dispatch concern spec.md §1 places outside this module's
// scope; this daemon always brings up the ARM7TDMI debugger, the
// supported core for the bench this profile shape targets.
func buildARM7Target(ctx context.Context, tap *jtag.TAPHandle, cfg *config.Config) (*arm7.GDBTarget, bool, error) {
	dbg := arm7.NewDebugger(tap)
	dbgCtx, err := dbg.Enter(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("arm7 debug entry: %w", err)
	}
	allowMonitor := cfg.GDB.AllowMonitor || os.Getenv("GLASGOW_GDB_MONITOR") == "unsafe"
	return arm7.NewGDBTarget(dbg, dbgCtx), allowMonitor, nil
}
