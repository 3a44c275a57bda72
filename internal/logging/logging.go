// Package logging sets up the module's single structured logger. Every
// user-visible warning spec.md §7 calls out by name (glitched Flash read
// self-corrected, forced chain reset, LLDB endianness workaround) and every
// operation-level debug trace in the JTAG/debug layers goes through this
// logger, never fmt.Println/log.Printf.
package logging

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// Logger is the shared structured-log handle; packages take one as a
// constructor argument rather than reaching for a process-global, so tests
// can pass a silent logger.
type Logger = *log.Logger

// New returns a Logger writing to stderr at the given level ("debug",
// "info", "warn", "error"); an unrecognized level falls back to info.
func New(name string, level string) Logger {
	l := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          name,
	})
	l.SetLevel(parseLevel(level))
	return l
}

// Discard returns a Logger that writes nowhere, for tests and packages that
// don't care to observe it.
func Discard() Logger {
	return log.New(io.Discard)
}

func parseLevel(s string) log.Level {
	switch s {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}
