package gdbserver

import (
	"fmt"
	"strconv"
	"strings"
)

// buildTargetXML renders the minimal target.xml qXfer:features:read needs
// (SPEC_FULL.md §3.1): architecture plus one flat register feature list.
// No other target XML feature (osdata, auxv) is served, per spec.md's
// Non-goals.
func buildTargetXML(desc TargetDescription) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?>`)
	b.WriteString(`<!DOCTYPE target SYSTEM "gdb-target.dtd">`)
	b.WriteString("<target><architecture>")
	b.WriteString(desc.Arch)
	b.WriteString("</architecture><feature name=\"org.gnu.gdb.")
	b.WriteString(desc.Arch)
	b.WriteString(".core\">")
	for _, r := range desc.Regs {
		fmt.Fprintf(&b, `<reg name="%s" bitsize="%d" type="%s"/>`, r.Name, r.Bits, r.Type)
	}
	b.WriteString("</feature></target>")
	return b.String()
}

// handleQXferFeatures serves one offset/length window of target.xml,
// prefixing the reply with 'm' (more remains) or 'l' (last chunk), per
// the qXfer read-object convention.
func (s *Server) handleQXferFeatures(cmd string) []byte {
	const prefix = "qXfer:features:read:target.xml:"
	rest := strings.TrimPrefix(cmd, prefix)
	offStr, lenStr, found := strings.Cut(rest, ",")
	if !found {
		return []byte("E01")
	}
	off, err1 := strconv.ParseUint(offStr, 16, 32)
	length, err2 := strconv.ParseUint(lenStr, 16, 32)
	if err1 != nil || err2 != nil {
		return []byte("E01")
	}
	xml := buildTargetXML(s.target.Description())
	if int(off) >= len(xml) {
		return []byte("l")
	}
	end := int(off) + int(length)
	last := true
	if end >= len(xml) {
		end = len(xml)
	} else {
		last = false
	}
	chunk := xml[off:end]
	marker := byte('m')
	if last {
		marker = 'l'
	}
	return append([]byte{marker}, []byte(chunk)...)
}
