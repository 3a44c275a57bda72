package gdbserver

import (
	"context"
	"strings"
)

// handleQRcmd implements spec.md §4.5's "qRcmd (guarded by env var
// GLASGOW_GDB_MONITOR=unsafe)": with the guard unset, reply with the
// empty packet (GDB RSP convention for "not supported"); with it set,
// hex-decode the command text, split into words, and delegate to the
// connected Target's Monitor method, which is where SPEC_FULL.md §4.5.1's
// reset/reg-dump/flash-erase-all commands are actually implemented
// (each adapter's Monitor dispatches to its matching arm7/ejtag/flash
// operation).
func (s *Server) handleQRcmd(ctx context.Context, cmd string) []byte {
	if !s.allowMonitor {
		return []byte{}
	}
	const prefix = "qRcmd,"
	raw, err := decodeHex([]byte(strings.TrimPrefix(cmd, prefix)))
	if err != nil {
		return []byte("E01")
	}
	args := strings.Fields(string(raw))
	if len(args) == 0 {
		return []byte("E01")
	}
	reply, err := s.target.Monitor(ctx, args)
	if err != nil {
		return []byte(hexEncodeString("error: " + err.Error() + "\n"))
	}
	return []byte(hexEncodeString(reply))
}
