package flash

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

// fakeBus is a spi.Bus test double modeling just enough 25-series
// command behavior (write-enable latch, sector erase, page program,
// plain read) to exercise Device against the literal scenario in
// spec.md §8: "sector_erase(0); page_program(0, b'Hello, world!');
// read(0, 13) returns b'Hello, world!'".
type fakeBus struct {
	image       []byte
	writeEnable bool
}

func newFakeBus(size int) *fakeBus {
	img := make([]byte, size)
	for i := range img {
		img[i] = 0xff
	}
	return &fakeBus{image: img}
}

func (b *fakeBus) Assert(ctx context.Context) error   { return nil }
func (b *fakeBus) Deassert(ctx context.Context) error { return nil }

func (b *fakeBus) TransferRaw(ctx context.Context, tx []byte) ([]byte, error) {
	rx := make([]byte, len(tx))
	if len(tx) == 0 {
		return rx, nil
	}
	switch tx[0] {
	case cmdWriteEnable:
		b.writeEnable = true
	case cmdWriteDisable:
		b.writeEnable = false
	case cmdReadStatus:
		var sr byte
		if b.writeEnable {
			sr |= 1 << 1
		}
		rx[len(rx)-1] = sr
	case cmdSectorErase:
		addr := int(tx[1])<<16 | int(tx[2])<<8 | int(tx[3])
		base := addr - addr%4096
		for i := 0; i < 4096 && base+i < len(b.image); i++ {
			b.image[base+i] = 0xff
		}
		b.writeEnable = false
	case cmdPageProgram:
		addr := int(tx[1])<<16 | int(tx[2])<<8 | int(tx[3])
		data := tx[4:]
		for i, v := range data {
			b.image[addr+i] &= v
		}
		b.writeEnable = false
	case cmdRead:
		addr := int(tx[1])<<16 | int(tx[2])<<8 | int(tx[3])
		n := len(tx) - 4
		copy(rx[4:], b.image[addr:addr+n])
	case cmdReadJEDECID:
		copy(rx[1:], []byte{0xef, 0x40, 0x16})
	case cmdReadManufDeviceID:
		copy(rx[4:], []byte{0xef, 0x16})
	}
	return rx, nil
}

func TestFlashRoundTrip(t *testing.T) {
	bus := newFakeBus(1 << 20)
	dev := New(bus)
	ctx := context.Background()

	assert(t, dev.SectorErase(ctx, 0) == nil, "sector erase failed")
	assert(t, dev.PageProgram(ctx, 0, []byte("Hello, world!")) == nil, "page program failed")

	got, err := dev.Read(ctx, 0, 13)
	assert(t, err == nil, "read failed: %v", err)
	assert(t, string(got) == "Hello, world!", "got %q", got)
}

func TestProgramRespectsPageBoundary(t *testing.T) {
	bus := newFakeBus(1 << 16)
	dev := New(bus)
	ctx := context.Background()

	assert(t, dev.SectorErase(ctx, 0) == nil, "sector erase failed")
	data := make([]byte, 300)
	for i := range data {
		data[i] = byte(i)
	}
	assert(t, dev.Program(ctx, 10, data, 256) == nil, "program failed")

	got, err := dev.Read(ctx, 10, 300)
	assert(t, err == nil, "read failed: %v", err)
	for i := range data {
		assert(t, got[i] == data[i], "mismatch at %d: got %x want %x", i, got[i], data[i])
	}
}

func TestEraseProgramPreservesOutsideRange(t *testing.T) {
	bus := newFakeBus(1 << 16)
	dev := New(bus)
	ctx := context.Background()

	// Pre-fill a full sector with a known pattern outside the
	// programmed range.
	assert(t, dev.SectorErase(ctx, 0) == nil, "initial erase failed")
	preimage := make([]byte, 4096)
	for i := range preimage {
		preimage[i] = 0xaa
	}
	assert(t, dev.Program(ctx, 0, preimage, 256) == nil, "preimage program failed")

	patch := []byte("PATCHED!")
	var reports []string
	err := dev.EraseProgram(ctx, 100, patch, 4096, 256, func(done, total int, status string) {
		reports = append(reports, status)
	})
	assert(t, err == nil, "erase_program failed: %v", err)
	assert(t, len(reports) == 2 && reports[0] == "erasing" && reports[1] == "programming", "got %v", reports)

	got, err := dev.Read(ctx, 0, 4096)
	assert(t, err == nil, "read failed: %v", err)
	for i := 0; i < 100; i++ {
		assert(t, got[i] == 0xaa, "byte %d outside range changed: %x", i, got[i])
	}
	assert(t, string(got[100:100+len(patch)]) == string(patch), "patched range mismatch: %q", got[100:100+len(patch)])
	for i := 100 + len(patch); i < 4096; i++ {
		assert(t, got[i] == 0xaa, "byte %d outside range changed: %x", i, got[i])
	}
}

func TestParseSFDPBasicTable(t *testing.T) {
	// A minimal synthetic SFDP image: header (8 bytes) + one parameter
	// header pointing at an 9-DWORD basic table at offset 16.
	raw := make([]byte, 16+9*4)
	copy(raw[0:4], []byte{'S', 'F', 'D', 'P'})
	raw[6] = 0 // NPH = 0 -> 1 header

	// Parameter header 0, at offset 8: table id 0xff, length 9 DWORDs,
	// pointer = 16.
	raw[8] = basicTableID
	raw[11] = 9
	raw[12] = 16
	raw[13] = 0
	raw[14] = 0

	table := raw[16:]
	// DWORD 1: write granularity bit(2)=1 (64B), address bytes = 24 (00).
	putU32(table, 0, 1<<2)
	// DWORD 2: density = 32 Mbit - 1, bit 31 clear.
	putU32(table, 4, 32*1024*1024-1)

	sf, err := ParseSFDP(raw)
	assert(t, err == nil, "parse failed: %v", err)
	assert(t, sf.DensityBits == 32*1024*1024, "got density %d", sf.DensityBits)
	assert(t, sf.WriteGranularity == 64, "got write granularity %d", sf.WriteGranularity)
	assert(t, len(sf.AddressSizes) == 1 && sf.AddressSizes[0] == 24, "got %v", sf.AddressSizes)
}

// TestParseSFDPFullStructure exercises density, granularity, address
// size, two sector-erase types, and one fast-read mode in the same
// table, comparing the whole decoded struct against an expected literal
// instead of asserting field-by-field (SFDP has enough fields that a
// missed one wouldn't show up in a narrower check).
func TestParseSFDPFullStructure(t *testing.T) {
	raw := make([]byte, 16+9*4)
	copy(raw[0:4], []byte{'S', 'F', 'D', 'P'})
	raw[6] = 0
	raw[8] = basicTableID
	raw[11] = 9
	raw[12] = 16

	table := raw[16:]
	putU32(table, 0, 0x4)                 // DWORD1: write granularity 64B, 3-byte addressing
	putU32(table, 4, 16*1024*1024-1)      // DWORD2: 16 Mbit density
	putU32(table, 8, 0x3b81)              // DWORD3: 1-1-2 fast read, opcode 0x3B, 4 wait states
	putU32(table, 28, 0xd810200c)         // DWORD8: two sector erase types, 4K@0x20 and 64K@0xD8
	putU32(table, 32, 0)                  // DWORD9: no further erase types

	got, err := ParseSFDP(raw)
	assert(t, err == nil, "parse failed: %v", err)

	want := &SFDP{
		DensityBits:      16 * 1024 * 1024,
		WriteGranularity: 64,
		AddressSizes:     []int{24},
		SectorErases: []SectorErase{
			{SizeBytes: 4096, Opcode: 0x20},
			{SizeBytes: 65536, Opcode: 0xd8},
		},
		FastReads: map[FastReadMode]FastReadParams{
			FastRead_1_1_2: {Opcode: 0x3b, WaitStates: 4, ModeBits: 0},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("SFDP mismatch (-want +got):\n%s", diff)
	}
}

func putU32(b []byte, off int, v uint32) {
	b[off] = byte(v)
	b[off+1] = byte(v >> 8)
	b[off+2] = byte(v >> 16)
	b[off+3] = byte(v >> 24)
}
