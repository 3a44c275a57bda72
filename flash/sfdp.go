package flash

import (
	"encoding/binary"

	"github.com/fpgaprobe/hostrt/probeerr"
)

// sfdpSignature is the 4-byte "SFDP" magic at offset 0 of the SFDP
// address space, per spec.md §4.6.
const sfdpSignature = 0x50444653 // "SFDP" little-endian

// basicTableID is the JEDEC parameter-table ID this module decodes
// (spec.md §4.6: "the JEDEC parameter table (table id 0xFF)").
const basicTableID = 0xff

// FastReadMode names one of the six fast-read protocol shapes SFDP's
// basic table advertises, per spec.md §4.6.
type FastReadMode int

const (
	FastRead_1_1_2 FastReadMode = iota
	FastRead_1_1_4
	FastRead_1_2_2
	FastRead_1_4_4
	FastRead_2_2_2
	FastRead_4_4_4
)

// FastReadParams is one (opcode, wait_states, mode_bits) tuple for a
// FastReadMode.
type FastReadParams struct {
	Opcode     byte
	WaitStates int
	ModeBits   int
}

// SectorErase pairs a sector size with the opcode that erases it.
type SectorErase struct {
	SizeBytes int
	Opcode    byte
}

// SFDP is the decoded JEDEC basic flash parameter table.
type SFDP struct {
	DensityBits      uint64
	AddressSizes     []int // e.g. {24} or {24, 32}
	WriteGranularity int   // bytes per program operation the table advertises
	SectorErases     []SectorErase
	FastReads        map[FastReadMode]FastReadParams
}

func sfdpErr(op, msg string) error {
	return probeerr.Wrap(probeerr.KindChainInterrogation, "flash", op, msg, nil)
}

// ParseSFDP decodes a raw SFDP region (header + parameter headers +
// parameter tables, as read via Device.ReadSFDP) per spec.md §4.6: the
// SFDP header at offset 0, then each 8-byte parameter header, then the
// basic flash parameter table (table id 0xFF).
func ParseSFDP(raw []byte) (*SFDP, error) {
	if len(raw) < 8 {
		return nil, sfdpErr("parse_sfdp", "buffer too short for SFDP header")
	}
	if binary.LittleEndian.Uint32(raw[0:4]) != sfdpSignature {
		return nil, sfdpErr("parse_sfdp", "missing SFDP signature")
	}
	numHeaders := int(raw[6]) + 1 // NPH is zero-based

	var basicOff, basicLen int
	found := false
	for i := 0; i < numHeaders; i++ {
		hdrOff := 8 + i*8
		if hdrOff+8 > len(raw) {
			return nil, sfdpErr("parse_sfdp", "truncated parameter header table")
		}
		hdr := raw[hdrOff : hdrOff+8]
		tableID := hdr[0]
		lenDwords := int(hdr[3])
		ptp := int(hdr[4]) | int(hdr[5])<<8 | int(hdr[6])<<16
		if tableID == basicTableID {
			basicOff = ptp
			basicLen = lenDwords * 4
			found = true
		}
	}
	if !found {
		return nil, sfdpErr("parse_sfdp", "no basic flash parameter table (id 0xff) present")
	}
	if basicOff+basicLen > len(raw) || basicLen < 4*9 {
		return nil, sfdpErr("parse_sfdp", "basic parameter table out of range or too short")
	}
	table := raw[basicOff : basicOff+basicLen]
	return decodeBasicTable(table)
}

// decodeBasicTable decodes the subset of JEDEC JESD216 DWORDs spec.md
// §4.6 names: density (DWORD 2), address size set (DWORD 1), write
// granularity (DWORD 1), up to 4 sector sizes with erase opcodes
// (DWORD 8-9), and up to 6 fast-read mode tuples (DWORDs 3, 4, 7 and 8).
func decodeBasicTable(t []byte) (*SFDP, error) {
	dword := func(n int) uint32 {
		off := (n - 1) * 4
		if off+4 > len(t) {
			return 0
		}
		return binary.LittleEndian.Uint32(t[off : off+4])
	}

	d1 := dword(1)
	s := &SFDP{FastReads: make(map[FastReadMode]FastReadParams)}

	if d1&0x4 != 0 {
		s.WriteGranularity = 64
	} else {
		s.WriteGranularity = 1
	}
	addrBits := (d1 >> 17) & 0x3
	switch addrBits {
	case 0:
		s.AddressSizes = []int{24}
	case 1:
		s.AddressSizes = []int{24, 32}
	case 2:
		s.AddressSizes = []int{32}
	default:
		s.AddressSizes = []int{24}
	}

	d2 := dword(2)
	if d2&0x80000000 != 0 {
		// Bit 31 set: density expressed as a bit count in bits [30:0]
		// using the JESD216 "2^N" large-density encoding.
		s.DensityBits = uint64(1) << uint(d2&0x7fffffff)
	} else {
		s.DensityBits = uint64(d2) + 1
	}

	d3 := dword(3)
	if d3&0x1 != 0 { // 1-1-2 fast read supported
		s.FastReads[FastRead_1_1_2] = FastReadParams{
			Opcode:     byte((d3 >> 8) & 0xff),
			WaitStates: int((d3 >> 5) & 0x7),
			ModeBits:   int((d3 >> 3) & 0x3),
		}
	}
	if d3&0x20000000 != 0 { // 1-2-2
		s.FastReads[FastRead_1_2_2] = FastReadParams{
			Opcode:     byte((d3 >> 24) & 0xff),
			WaitStates: int((d3 >> 21) & 0x7),
			ModeBits:   int((d3 >> 19) & 0x3),
		}
	}

	d4 := dword(4)
	if d4&0x1 != 0 { // 1-4-4
		s.FastReads[FastRead_1_4_4] = FastReadParams{
			Opcode:     byte((d4 >> 8) & 0xff),
			WaitStates: int((d4 >> 5) & 0x7),
			ModeBits:   int((d4 >> 3) & 0x3),
		}
	}
	if d4&0x10000 != 0 { // 1-1-4
		s.FastReads[FastRead_1_1_4] = FastReadParams{
			Opcode:     byte((d4 >> 24) & 0xff),
			WaitStates: int((d4 >> 21) & 0x7),
			ModeBits:   int((d4 >> 19) & 0x3),
		}
	}

	d7 := dword(7)
	if d7&0x1 != 0 { // 2-2-2
		s.FastReads[FastRead_2_2_2] = FastReadParams{
			Opcode:     byte((d7 >> 16) & 0xff),
			WaitStates: int((d7 >> 13) & 0x7),
			ModeBits:   int((d7 >> 11) & 0x3),
		}
	}
	d8 := dword(8)
	if d8&0x10000 != 0 { // 4-4-4
		s.FastReads[FastRead_4_4_4] = FastReadParams{
			Opcode:     byte((d8 >> 24) & 0xff),
			WaitStates: int((d8 >> 21) & 0x7),
			ModeBits:   int((d8 >> 19) & 0x3),
		}
	}

	// Sector erase types, DWORDs 8-9: four (size-power, opcode) pairs
	// packed as two per DWORD, size 0 meaning "unused".
	erasePairs := []uint32{dword(8), dword(8), dword(9), dword(9)}
	shifts := []uint{0, 16, 0, 16}
	for i := range erasePairs {
		v := (erasePairs[i] >> shifts[i]) & 0xffff
		sizePower := v & 0xff
		opcode := byte((v >> 8) & 0xff)
		if sizePower == 0 {
			continue
		}
		s.SectorErases = append(s.SectorErases, SectorErase{
			SizeBytes: 1 << sizePower,
			Opcode:    opcode,
		})
		if len(s.SectorErases) >= 4 {
			break
		}
	}

	return s, nil
}
