package gdbserver

import (
	"bufio"
	"fmt"

	"github.com/fpgaprobe/hostrt/probeerr"
)

func gdbErr(op, msg string) error {
	return probeerr.Wrap(probeerr.KindProtocolState, "gdbserver", op, msg, nil)
}

// checksum is the mod-256 sum of payload bytes per the GDB RSP framing
// `$payload#cc`, cc being the two-hex-digit checksum.
func checksum(payload []byte) byte {
	var sum byte
	for _, b := range payload {
		sum += b
	}
	return sum
}

// readPacketChecked reads one `$...#xx` frame off r, skipping any leading
// ack/nak bytes between packets, and verifies its checksum, reporting
// in ok whether the two checksum hex digits matched so the caller can
// decide whether to NAK (only meaningful when ack mode is active).
func readPacketChecked(r *bufio.Reader) (payload []byte, ok bool, err error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, false, err
		}
		if b == 0x03 {
			return nil, false, errInterrupt
		}
		if b == '$' {
			break
		}
	}
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, false, err
		}
		if b == '#' {
			break
		}
		if b == '}' {
			esc, err := r.ReadByte()
			if err != nil {
				return nil, false, err
			}
			payload = append(payload, esc^0x20)
			continue
		}
		payload = append(payload, b)
	}
	hi, err := r.ReadByte()
	if err != nil {
		return nil, false, err
	}
	lo, err := r.ReadByte()
	if err != nil {
		return nil, false, err
	}
	want := fmt.Sprintf("%02x", checksum(payload))
	got := string([]byte{hi, lo})
	return payload, got == want, nil
}

// framePacket wraps payload as `$payload#cc`.
func framePacket(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+4)
	out = append(out, '$')
	out = append(out, payload...)
	out = append(out, '#')
	out = append(out, []byte(fmt.Sprintf("%02x", checksum(payload)))...)
	return out
}

func hexByte(b byte) []byte {
	return []byte(fmt.Sprintf("%02x", b))
}

func encodeHex(data []byte) []byte {
	out := make([]byte, 0, len(data)*2)
	for _, b := range data {
		out = append(out, hexByte(b)...)
	}
	return out
}

func decodeHex(s []byte) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, gdbErr("decode_hex", "odd-length hex string")
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		hi, ok1 := hexNibble(s[2*i])
		lo, ok2 := hexNibble(s[2*i+1])
		if !ok1 || !ok2 {
			return nil, gdbErr("decode_hex", "invalid hex digit")
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}
